package imagehost

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPlugin marks a loaded module that fails contract validation.
	// The offending id is excluded from the active set; other hosts load.
	ErrInvalidPlugin = errors.New("invalid image host plugin")

	// ErrDiscovery marks a failed plugin enumeration. Callers treat it as
	// "no plugins available" rather than a fatal condition.
	ErrDiscovery = errors.New("plugin discovery failed")
)

// UploadError is a per-file upload failure, recorded against that file only.
type UploadError struct {
	PluginID string
	FileName string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload via %s failed for %s: %v", e.PluginID, e.FileName, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// DeleteError is a per-item remote delete failure. Local deletion proceeds
// regardless.
type DeleteError struct {
	PluginID string
	DeleteID string
	Err      error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete via %s failed: %v", e.PluginID, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }
