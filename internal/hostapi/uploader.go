package hostapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"PicFlow/pkg/imagehost"

	"go.uber.org/zap"
)

const defaultUploadTimeout = 30 * time.Second

// Uploader performs proxied file uploads on behalf of host plugins. It is
// the privileged side of the upload boundary: it reads the file, builds the
// request in the selected encoding and returns the decoded response.
type Uploader struct {
	client *http.Client
	logger *zap.Logger
}

func NewUploader(client *http.Client, logger *zap.Logger) *Uploader {
	if client == nil {
		client = &http.Client{}
	}
	return &Uploader{client: client, logger: logger}
}

func (u *Uploader) Upload(ctx context.Context, opts imagehost.ProxyUploadOptions) (*imagehost.ProxyUploadResponse, error) {
	if !filepath.IsAbs(opts.FilePath) {
		return nil, fmt.Errorf("file path must be an existing absolute path")
	}
	for _, part := range strings.Split(filepath.ToSlash(opts.FilePath), "/") {
		if part == ".." {
			return nil, fmt.Errorf("parent directory segments are not allowed in file path")
		}
	}
	fileBytes, err := os.ReadFile(opts.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	fileName := opts.FileName
	if fileName == "" {
		fileName = filepath.Base(opts.FilePath)
		if fileName == "." || fileName == string(filepath.Separator) {
			fileName = "upload.bin"
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var req *http.Request
	switch opts.Format {
	case imagehost.FormatBinary:
		req, err = u.binaryRequest(ctx, opts, fileBytes)
	case imagehost.FormatForm:
		req, err = u.formRequest(ctx, opts, fileBytes, fileName)
	case imagehost.FormatBase64:
		req, err = u.base64Request(ctx, opts, fileBytes)
	default:
		return nil, fmt.Errorf("unsupported upload format: %q", opts.Format)
	}
	if err != nil {
		return nil, err
	}
	for k, v := range opts.Headers {
		req.Header.Set(strings.TrimSpace(k), v)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s upload request: %w", opts.Format, err)
	}
	defer resp.Body.Close()

	return finalizeResponse(resp)
}

func (u *Uploader) binaryRequest(ctx context.Context, opts imagehost.ProxyUploadOptions, fileBytes []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.URL, bytes.NewReader(fileBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to build binary upload request: %w", err)
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	} else {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	return req, nil
}

func (u *Uploader) formRequest(ctx context.Context, opts imagehost.ProxyUploadOptions, fileBytes []byte, fileName string) (*http.Request, error) {
	fieldName := opts.FieldName
	if fieldName == "" {
		fieldName = "file"
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	var part io.Writer
	var err error
	if opts.ContentType != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, fileName))
		h.Set("Content-Type", opts.ContentType)
		part, err = form.CreatePart(h)
	} else {
		part, err = form.CreateFormFile(fieldName, fileName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(fileBytes); err != nil {
		return nil, fmt.Errorf("failed to write multipart body: %w", err)
	}
	for key, value := range opts.AdditionalFields {
		if err := form.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", key, err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.URL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build form upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return req, nil
}

func (u *Uploader) base64Request(ctx context.Context, opts imagehost.ProxyUploadOptions, fileBytes []byte) (*http.Request, error) {
	key := opts.JSONKey
	if key == "" {
		key = "image"
	}
	payload := map[string]any{key: base64.StdEncoding.EncodeToString(fileBytes)}
	for k, v := range opts.AdditionalJSON {
		payload[k] = v
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode base64 payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.URL, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to build base64 upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func finalizeResponse(resp *http.Response) (*imagehost.ProxyUploadResponse, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	rawText := string(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, rawText)
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		body = nil
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}

	return &imagehost.ProxyUploadResponse{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    body,
		RawText: rawText,
	}, nil
}
