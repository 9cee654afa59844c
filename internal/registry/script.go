package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"PicFlow/pkg/imagehost"

	"github.com/dop251/goja"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// scriptHost runs a JavaScript image-host plugin inside an embedded goja VM.
// The script must define a global `plugin` object:
//
//	plugin = {
//	    id: "example",
//	    name: "Example Host",
//	    parameters: [{key: "token", label: "Token", type: "password"}],
//	    upload: function (filePath, fileName, params, ctx) { ... },
//	    remove: function (deleteId, params, ctx) { ... },
//	}
//
// Scripts never receive filesystem or transport handles; all IO goes through
// the ctx capabilities bridged in per call. A goja VM is single-threaded, so
// calls into one script are serialized by mu. Cross-plugin concurrency is
// unaffected.
type scriptHost struct {
	desc   imagehost.Descriptor
	source string

	mu     sync.Mutex
	vm     *goja.Runtime
	upload goja.Callable
	remove goja.Callable
}

// LoadScriptHost compiles a plugin script and validates it against the host
// contract.
func LoadScriptHost(id, path string, logger *zap.Logger) (imagehost.Host, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin script %s: %w", path, err)
	}

	vm := goja.New()
	if _, err := vm.RunScript(path, string(src)); err != nil {
		return nil, fmt.Errorf("%w: script %s failed to evaluate: %v", imagehost.ErrInvalidPlugin, id, err)
	}

	pluginVal := vm.Get("plugin")
	if pluginVal == nil || goja.IsUndefined(pluginVal) || goja.IsNull(pluginVal) {
		return nil, fmt.Errorf("%w: script %s does not define a plugin object", imagehost.ErrInvalidPlugin, id)
	}
	obj := pluginVal.ToObject(vm)

	uploadFn, ok := goja.AssertFunction(obj.Get("upload"))
	if !ok {
		return nil, fmt.Errorf("%w: %s: upload is not a function", imagehost.ErrInvalidPlugin, id)
	}
	removeFn, ok := goja.AssertFunction(obj.Get("remove"))
	if !ok {
		return nil, fmt.Errorf("%w: %s: remove is not a function", imagehost.ErrInvalidPlugin, id)
	}

	desc, err := parseDescriptor(id, obj)
	if err != nil {
		return nil, err
	}

	logger.Debug("script plugin loaded",
		zap.String("plugin", desc.ID), zap.String("path", path))

	return &scriptHost{
		desc:   desc,
		source: path,
		vm:     vm,
		upload: uploadFn,
		remove: removeFn,
	}, nil
}

func (s *scriptHost) Descriptor() imagehost.Descriptor { return s.desc }

func (s *scriptHost) Upload(ctx context.Context, req imagehost.UploadRequest, rt *imagehost.RuntimeContext) (*imagehost.UploadResult, error) {
	res, err := s.call(ctx, s.upload, rt,
		s.vm.ToValue(req.FilePath), s.vm.ToValue(req.FileName), s.vm.ToValue(req.Params))
	if err != nil {
		return nil, err
	}

	m := cast.ToStringMap(res)
	url := cast.ToString(m["url"])
	if url == "" {
		return nil, fmt.Errorf("plugin %s returned no url", s.desc.ID)
	}
	return &imagehost.UploadResult{
		URL:      url,
		DeleteID: cast.ToString(m["deleteId"]),
		Metadata: cast.ToStringMap(m["metadata"]),
	}, nil
}

func (s *scriptHost) Remove(ctx context.Context, req imagehost.RemoveRequest, rt *imagehost.RuntimeContext) (*imagehost.RemoveResult, error) {
	res, err := s.call(ctx, s.remove, rt,
		s.vm.ToValue(req.DeleteID), s.vm.ToValue(req.Params))
	if err != nil {
		return nil, err
	}

	m := cast.ToStringMap(res)
	if len(m) == 0 {
		// A remove that returns nothing but did not throw counts as success.
		return &imagehost.RemoveResult{Success: true}, nil
	}
	return &imagehost.RemoveResult{
		Success: cast.ToBool(m["success"]),
		Message: cast.ToString(m["message"]),
	}, nil
}

// call invokes a plugin function with the runtime context appended as the
// final argument, interrupting the VM if ctx is cancelled mid-script.
func (s *scriptHost) call(ctx context.Context, fn goja.Callable, rt *imagehost.RuntimeContext, args ...goja.Value) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.vm.Interrupt("cancelled")
		case <-done:
		}
	}()
	defer s.vm.ClearInterrupt()

	args = append(args, s.contextValue(ctx, rt))
	res, err := fn(goja.Undefined(), args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("plugin %s: %w", s.desc.ID, normalizeScriptError(err))
	}
	if res == nil || goja.IsUndefined(res) {
		return nil, nil
	}
	return res.Export(), nil
}

// contextValue builds the capability object scripts see as `ctx`.
func (s *scriptHost) contextValue(ctx context.Context, rt *imagehost.RuntimeContext) goja.Value {
	log := rt.Log.With("plugin", s.desc.ID)
	return s.vm.ToValue(map[string]any{
		"upload": func(raw map[string]any) (map[string]any, error) {
			opts, err := parseProxyUploadOptions(raw)
			if err != nil {
				return nil, err
			}
			resp, err := rt.Uploader.Upload(ctx, opts)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"status":  resp.Status,
				"headers": resp.Headers,
				"body":    resp.Body,
				"rawText": resp.RawText,
			}, nil
		},
		"request": func(url string, init map[string]any) (map[string]any, error) {
			return s.doRequest(ctx, rt, url, init)
		},
		"log": map[string]any{
			"debug": func(args ...any) { log.Debug(args...) },
			"info":  func(args ...any) { log.Info(args...) },
			"warn":  func(args ...any) { log.Warn(args...) },
			"error": func(args ...any) { log.Error(args...) },
		},
	})
}

func (s *scriptHost) doRequest(ctx context.Context, rt *imagehost.RuntimeContext, url string, init map[string]any) (map[string]any, error) {
	method := strings.ToUpper(cast.ToString(init["method"]))
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if raw := cast.ToString(init["body"]); raw != "" {
		body = strings.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range cast.ToStringMapString(init["headers"]) {
		req.Header.Set(k, v)
	}

	resp, err := rt.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}
	return map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"rawText": string(raw),
		"ok":      resp.StatusCode >= 200 && resp.StatusCode < 300,
	}, nil
}

func parseProxyUploadOptions(raw map[string]any) (imagehost.ProxyUploadOptions, error) {
	opts := imagehost.ProxyUploadOptions{
		FilePath:         cast.ToString(raw["filePath"]),
		Format:           imagehost.UploadFormat(cast.ToString(raw["format"])),
		URL:              cast.ToString(raw["url"]),
		Headers:          cast.ToStringMapString(raw["headers"]),
		FieldName:        cast.ToString(raw["fieldName"]),
		AdditionalFields: cast.ToStringMapString(raw["additionalFields"]),
		JSONKey:          cast.ToString(raw["jsonKey"]),
		AdditionalJSON:   cast.ToStringMap(raw["additionalJson"]),
		FileName:         cast.ToString(raw["fileName"]),
		ContentType:      cast.ToString(raw["contentType"]),
	}
	if opts.URL == "" {
		return opts, fmt.Errorf("upload options missing url")
	}
	if opts.FilePath == "" {
		return opts, fmt.Errorf("upload options missing filePath")
	}
	if ms := cast.ToInt64(raw["timeoutMs"]); ms > 0 {
		opts.Timeout = time.Duration(ms) * time.Millisecond
	}
	return opts, nil
}

func parseDescriptor(id string, obj *goja.Object) (imagehost.Descriptor, error) {
	desc := imagehost.Descriptor{
		ID:          exportString(obj, "id"),
		Name:        exportString(obj, "name"),
		Author:      exportString(obj, "author"),
		Version:     exportString(obj, "version"),
		Description: exportString(obj, "description"),
	}
	if desc.ID == "" {
		desc.ID = id
	}

	if raw := obj.Get("supportedFileTypes"); raw != nil && !goja.IsUndefined(raw) {
		for _, item := range cast.ToSlice(raw.Export()) {
			m := cast.ToStringMap(item)
			desc.SupportedFileTypes = append(desc.SupportedFileTypes, imagehost.FileTypeFilter{
				MimeTypes:   cast.ToStringSlice(m["mimeTypes"]),
				Extensions:  cast.ToStringSlice(m["extensions"]),
				Description: cast.ToString(m["description"]),
			})
		}
	}

	if raw := obj.Get("parameters"); raw != nil && !goja.IsUndefined(raw) {
		for _, item := range cast.ToSlice(raw.Export()) {
			m := cast.ToStringMap(item)
			param := imagehost.Parameter{
				Key:         cast.ToString(m["key"]),
				Label:       cast.ToString(m["label"]),
				Type:        imagehost.ParameterType(cast.ToString(m["type"])),
				Required:    cast.ToBool(m["required"]),
				Default:     m["defaultValue"],
				Description: cast.ToString(m["description"]),
			}
			for _, opt := range cast.ToSlice(m["options"]) {
				om := cast.ToStringMap(opt)
				param.Options = append(param.Options, imagehost.SelectOption{
					Label: cast.ToString(om["label"]),
					Value: cast.ToString(om["value"]),
				})
			}
			desc.Parameters = append(desc.Parameters, param)
		}
	}

	if err := imagehost.ValidateDescriptor(&desc); err != nil {
		return desc, err
	}
	return desc, nil
}

func exportString(obj *goja.Object, key string) string {
	v := obj.Get(key)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return cast.ToString(v.Export())
}

// normalizeScriptError unwraps goja exceptions into their message so the
// surfaced per-file error stays readable.
func normalizeScriptError(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return fmt.Errorf("%s", ex.Value().String())
	}
	return err
}
