// Package s3host is the bundled S3-compatible image host. It is registered
// under the __internal__/s3 locator: uploads and deletes run in privileged
// native code against the AWS SDK, so credentials never pass through the
// script engine.
package s3host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"PicFlow/pkg/imagehost"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// ID is the stable plugin id; it keys settings and the gallery host column.
const ID = "s3"

type Host struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Host {
	return &Host{logger: logger}
}

var _ imagehost.Host = (*Host)(nil)

// deleteMarker is serialized as the deleteId returned from Upload. The JSON
// field names are part of the stored gallery format.
type deleteMarker struct {
	Bucket         string `json:"bucket"`
	Region         string `json:"region"`
	Key            string `json:"key"`
	Endpoint       string `json:"endpoint,omitempty"`
	ForcePathStyle bool   `json:"forcePathStyle"`
}

type options struct {
	bucket          string
	region          string
	accessKeyID     string
	secretAccessKey string
	endpoint        string
	forcePathStyle  bool
	objectPrefix    string
	acl             string
	publicBaseURL   string
}

func (h *Host) Descriptor() imagehost.Descriptor {
	return imagehost.Descriptor{
		ID:          ID,
		Name:        "S3 / R2",
		Description: "Uploads to any S3-compatible object store",
		Parameters: []imagehost.Parameter{
			{Key: "accessKeyId", Label: "Access Key ID", Type: imagehost.ParameterPassword, Required: true},
			{Key: "secretAccessKey", Label: "Secret Access Key", Type: imagehost.ParameterPassword, Required: true},
			{Key: "bucket", Label: "Bucket", Type: imagehost.ParameterText, Required: true},
			{Key: "region", Label: "Region", Type: imagehost.ParameterText, Default: "us-east-1"},
			{Key: "endpoint", Label: "Custom Endpoint", Type: imagehost.ParameterText,
				Description: "For R2 or MinIO; leave empty for AWS"},
			{Key: "forcePathStyle", Label: "Force Path-Style URLs", Type: imagehost.ParameterBoolean},
			{Key: "objectPrefix", Label: "Object Key Prefix", Type: imagehost.ParameterText},
			{Key: "acl", Label: "Object ACL", Type: imagehost.ParameterSelect, Options: []imagehost.SelectOption{
				{Label: "(none)", Value: ""},
				{Label: "private", Value: "private"},
				{Label: "public-read", Value: "public-read"},
				{Label: "public-read-write", Value: "public-read-write"},
				{Label: "authenticated-read", Value: "authenticated-read"},
				{Label: "bucket-owner-read", Value: "bucket-owner-read"},
				{Label: "bucket-owner-full-control", Value: "bucket-owner-full-control"},
			}},
			{Key: "publicBaseUrl", Label: "Public Base URL", Type: imagehost.ParameterText,
				Description: "Overrides the generated object URL"},
		},
	}
}

func (h *Host) Upload(ctx context.Context, req imagehost.UploadRequest, rt *imagehost.RuntimeContext) (*imagehost.UploadResult, error) {
	opts, err := parseOptions(req.Params)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(req.FilePath) {
		return nil, fmt.Errorf("file path must be an existing absolute path")
	}
	fileBytes, err := os.ReadFile(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	client, err := buildClient(ctx, opts)
	if err != nil {
		return nil, err
	}

	key := generateObjectKey(opts.objectPrefix, req.FileName)
	input := &s3.PutObjectInput{
		Bucket: &opts.bucket,
		Key:    &key,
		Body:   bytes.NewReader(fileBytes),
	}
	if ct := resolveContentType(req.FileName); ct != "" {
		input.ContentType = &ct
	}
	acl, err := mapACL(opts.acl)
	if err != nil {
		return nil, err
	}
	if acl != "" {
		input.ACL = acl
	}

	resp, err := client.PutObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	marker := deleteMarker{
		Bucket:         opts.bucket,
		Region:         opts.region,
		Key:            key,
		Endpoint:       opts.endpoint,
		ForcePathStyle: opts.forcePathStyle,
	}
	deleteID, err := json.Marshal(marker)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize delete marker: %w", err)
	}

	metadata := map[string]any{}
	if resp.ETag != nil {
		metadata["etag"] = *resp.ETag
	}
	if resp.VersionId != nil {
		metadata["versionId"] = *resp.VersionId
	}
	if len(metadata) == 0 {
		metadata = nil
	}

	h.logger.Info("s3 upload completed",
		zap.String("bucket", opts.bucket), zap.String("key", key))

	return &imagehost.UploadResult{
		URL:      buildPublicURL(opts, key),
		DeleteID: string(deleteID),
		Metadata: metadata,
	}, nil
}

func (h *Host) Remove(ctx context.Context, req imagehost.RemoveRequest, rt *imagehost.RuntimeContext) (*imagehost.RemoveResult, error) {
	var marker deleteMarker
	if err := json.Unmarshal([]byte(req.DeleteID), &marker); err != nil {
		return nil, fmt.Errorf("invalid deleteId payload: %w", err)
	}

	opts, err := parseOptions(req.Params)
	if err != nil {
		return nil, err
	}
	opts.bucket = marker.Bucket
	opts.region = marker.Region
	opts.endpoint = marker.Endpoint
	opts.forcePathStyle = marker.ForcePathStyle

	client, err := buildClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &marker.Bucket,
		Key:    &marker.Key,
	}); err != nil {
		return nil, fmt.Errorf("failed to delete S3 object: %w", err)
	}

	h.logger.Info("s3 object deleted",
		zap.String("bucket", marker.Bucket), zap.String("key", marker.Key))
	return &imagehost.RemoveResult{Success: true, Message: "object removed from S3"}, nil
}

func parseOptions(params map[string]any) (options, error) {
	opts := options{
		bucket:          cast.ToString(params["bucket"]),
		region:          cast.ToString(params["region"]),
		accessKeyID:     cast.ToString(params["accessKeyId"]),
		secretAccessKey: cast.ToString(params["secretAccessKey"]),
		endpoint:        strings.TrimSpace(cast.ToString(params["endpoint"])),
		forcePathStyle:  cast.ToBool(params["forcePathStyle"]),
		objectPrefix:    cast.ToString(params["objectPrefix"]),
		acl:             cast.ToString(params["acl"]),
		publicBaseURL:   cast.ToString(params["publicBaseUrl"]),
	}
	if opts.accessKeyID == "" || opts.secretAccessKey == "" {
		return opts, fmt.Errorf("s3: access key id and secret access key are required")
	}
	if opts.region == "" {
		opts.region = "us-east-1"
	}
	// Custom endpoints (R2, MinIO) default to path-style addressing.
	if opts.endpoint != "" {
		opts.forcePathStyle = true
	}
	return opts, nil
}

func buildClient(ctx context.Context, opts options) (*s3.Client, error) {
	// R2 requires signing region "auto" when a custom endpoint is set.
	signingRegion := opts.region
	if opts.endpoint != "" {
		signingRegion = "auto"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(signingRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.accessKeyID, opts.secretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build s3 config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.endpoint != "" {
			o.BaseEndpoint = aws.String(trimEndpoint(opts.endpoint))
		}
		if opts.forcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// trimEndpoint keeps only scheme and host of a user-supplied endpoint.
func trimEndpoint(endpoint string) string {
	parts := strings.SplitN(endpoint, "/", 4)
	if len(parts) <= 3 {
		return endpoint
	}
	return strings.Join(parts[:3], "/")
}

func sanitizeFileName(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		trimmed = "upload.bin"
	}
	var b strings.Builder
	for _, ch := range trimmed {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9',
			ch == '-', ch == '_', ch == '.':
			b.WriteRune(ch)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func generateObjectKey(prefix, originalName string) string {
	var segments []string
	if trimmed := strings.Trim(prefix, "/"); trimmed != "" {
		segments = append(segments, trimmed)
	}
	segments = append(segments,
		time.Now().UTC().Format("2006/01/02"),
		fmt.Sprintf("%s-%s", uuid.New(), sanitizeFileName(originalName)),
	)
	return strings.Join(segments, "/")
}

func resolveContentType(fileName string) string {
	return strings.TrimSpace(mime.TypeByExtension(filepath.Ext(fileName)))
}

func buildPublicURL(opts options, key string) string {
	if opts.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s", strings.TrimRight(opts.publicBaseURL, "/"), key)
	}
	if opts.endpoint != "" {
		trimmed := strings.TrimRight(opts.endpoint, "/")
		if opts.forcePathStyle {
			return fmt.Sprintf("%s/%s/%s", trimmed, opts.bucket, key)
		}
		return fmt.Sprintf("%s/%s", trimmed, key)
	}
	if opts.forcePathStyle {
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", opts.region, opts.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", opts.bucket, opts.region, key)
}

func mapACL(value string) (s3types.ObjectCannedACL, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "", nil
	}
	for _, acl := range s3types.ObjectCannedACL("").Values() {
		if string(acl) == trimmed {
			return acl, nil
		}
	}
	return "", fmt.Errorf("unsupported ACL value: %s", value)
}
