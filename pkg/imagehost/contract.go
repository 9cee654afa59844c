package imagehost

import (
	"context"
	"fmt"
	"strings"
)

// ParameterType enumerates the input widget a host parameter maps to.
type ParameterType string

const (
	ParameterText     ParameterType = "text"
	ParameterPassword ParameterType = "password"
	ParameterNumber   ParameterType = "number"
	ParameterBoolean  ParameterType = "boolean"
	ParameterSelect   ParameterType = "select"
	ParameterTextarea ParameterType = "textarea"
)

// SelectOption is one choice of a select parameter.
type SelectOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Parameter describes one configurable setting a host declares.
type Parameter struct {
	Key         string         `json:"key"`
	Label       string         `json:"label"`
	Type        ParameterType  `json:"type"`
	Required    bool           `json:"required,omitempty"`
	Default     any            `json:"defaultValue,omitempty"`
	Options     []SelectOption `json:"options,omitempty"`
	Description string         `json:"description,omitempty"`
}

// FileTypeFilter narrows the file types a host accepts. An empty list on the
// descriptor means the host accepts anything.
type FileTypeFilter struct {
	MimeTypes   []string `json:"mimeTypes,omitempty"`
	Extensions  []string `json:"extensions,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Descriptor is the immutable metadata a host declares once at load time.
// ID doubles as the storage key for host settings and the gallery host field,
// so changing it orphans existing configuration.
type Descriptor struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	Author             string           `json:"author,omitempty"`
	Version            string           `json:"version,omitempty"`
	Description        string           `json:"description,omitempty"`
	SupportedFileTypes []FileTypeFilter `json:"supportedFileTypes,omitempty"`
	Parameters         []Parameter      `json:"parameters"`
}

// AcceptsWebP reports whether the host declares WebP among its supported
// file types. Hosts with no declared types accept everything.
func (d Descriptor) AcceptsWebP() bool {
	if len(d.SupportedFileTypes) == 0 {
		return true
	}
	for _, ft := range d.SupportedFileTypes {
		for _, mt := range ft.MimeTypes {
			if strings.EqualFold(mt, "image/webp") {
				return true
			}
		}
		for _, ext := range ft.Extensions {
			if strings.EqualFold(strings.TrimPrefix(ext, "."), "webp") {
				return true
			}
		}
	}
	return false
}

// UploadRequest carries one file into a host's Upload call.
type UploadRequest struct {
	FilePath string         // absolute path of the file to read
	FileName string         // suggested remote file name
	Params   map[string]any // hydrated host settings
}

// UploadResult is what a successful Upload returns.
type UploadResult struct {
	URL      string         `json:"url"`
	DeleteID string         `json:"deleteId"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RemoveRequest identifies a previously uploaded asset. Params carries the
// hydrated host settings because most services need credentials to delete.
type RemoveRequest struct {
	DeleteID string
	Params   map[string]any
}

// RemoveResult is what Remove returns.
type RemoveResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Host is the contract every image-host backend implements. Implementations
// must perform all network writes through the RuntimeContext they are handed,
// never through their own transport.
type Host interface {
	Descriptor() Descriptor
	Upload(ctx context.Context, req UploadRequest, rt *RuntimeContext) (*UploadResult, error)
	Remove(ctx context.Context, req RemoveRequest, rt *RuntimeContext) (*RemoveResult, error)
}

// ValidateDescriptor applies contract defaults and rejects descriptors that
// cannot be used. Name falls back to the id; a nil parameter list becomes
// empty.
func ValidateDescriptor(d *Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidPlugin)
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.Parameters == nil {
		d.Parameters = []Parameter{}
	}
	seen := make(map[string]struct{}, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Key == "" {
			return fmt.Errorf("%w: parameter without key in %s", ErrInvalidPlugin, d.ID)
		}
		if _, dup := seen[p.Key]; dup {
			return fmt.Errorf("%w: duplicate parameter key %q in %s", ErrInvalidPlugin, p.Key, d.ID)
		}
		seen[p.Key] = struct{}{}
	}
	return nil
}

// ZeroValue returns the type-appropriate zero for a parameter with no stored
// value and no declared default.
func (p Parameter) ZeroValue() any {
	switch p.Type {
	case ParameterNumber:
		return float64(0)
	case ParameterBoolean:
		return false
	default:
		return ""
	}
}
