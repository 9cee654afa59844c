package hostapi

import (
	"net/http"

	"PicFlow/pkg/imagehost"

	"go.uber.org/zap"
)

// NewRuntimeContext builds the capability object handed to every host
// Upload/Remove call. One context is constructed per process and reused;
// it carries no per-call state.
func NewRuntimeContext(client *http.Client, logger *zap.Logger) *imagehost.RuntimeContext {
	if client == nil {
		client = &http.Client{}
	}
	return &imagehost.RuntimeContext{
		Uploader: NewUploader(client, logger),
		HTTP:     client,
		Log:      logger.Named("host").Sugar(),
	}
}
