package imagehost

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// UploadFormat selects how the proxied uploader encodes the file.
type UploadFormat string

const (
	FormatBinary UploadFormat = "binary" // raw request body
	FormatForm   UploadFormat = "form"   // multipart/form-data
	FormatBase64 UploadFormat = "base64" // base64 string wrapped in JSON
)

// ProxyUploadOptions configures one proxied file upload.
type ProxyUploadOptions struct {
	FilePath         string            `json:"filePath"`
	Format           UploadFormat      `json:"format"`
	URL              string            `json:"url"`
	Headers          map[string]string `json:"headers,omitempty"`
	FieldName        string            `json:"fieldName,omitempty"`        // form: file field, default "file"
	AdditionalFields map[string]string `json:"additionalFields,omitempty"` // form: extra text fields
	JSONKey          string            `json:"jsonKey,omitempty"`          // base64: image key, default "image"
	AdditionalJSON   map[string]any    `json:"additionalJson,omitempty"`   // base64: extra JSON fields
	FileName         string            `json:"fileName,omitempty"`
	ContentType      string            `json:"contentType,omitempty"`
	Timeout          time.Duration     `json:"-"`
}

// ProxyUploadResponse is the uploader's view of the HTTP response. Body is
// the parsed JSON payload when the response is JSON, nil otherwise.
type ProxyUploadResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
	RawText string            `json:"rawText"`
}

// ProxyUploader is the only sanctioned path for a host to push a file to a
// remote service. Hosts never receive raw filesystem or transport handles.
type ProxyUploader interface {
	Upload(ctx context.Context, opts ProxyUploadOptions) (*ProxyUploadResponse, error)
}

// HTTPDoer is a fetch-like capability for read-style calls (e.g. triggering
// a delete endpoint). Requests go through the application's shared client so
// proxy and TLS settings are inherited.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RuntimeContext is the capability object injected into every Upload/Remove
// call. It is stateless and shared across all host invocations.
type RuntimeContext struct {
	Uploader ProxyUploader
	HTTP     HTTPDoer
	Log      *zap.SugaredLogger
}
