// Package uploader drives a batch of local files through the
// compress → upload → save pipeline with bounded concurrency.
package uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"PicFlow/internal/compress"
	"PicFlow/internal/gallery"
	"PicFlow/internal/hostsettings"
	"PicFlow/pkg/imagehost"

	"go.uber.org/zap"
)

// Concurrency bounds for the upload worker pool.
const (
	MinConcurrency = 1
	MaxConcurrency = 10
)

type Orchestrator struct {
	settings *hostsettings.Store
	gallery  *gallery.Store
	codec    compress.Codec
	rt       *imagehost.RuntimeContext
	logger   *zap.Logger
}

func NewOrchestrator(settings *hostsettings.Store, gallery *gallery.Store, codec compress.Codec, rt *imagehost.RuntimeContext, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		settings: settings,
		gallery:  gallery,
		codec:    codec,
		rt:       rt,
		logger:   logger,
	}
}

// BatchOptions configures one upload run.
type BatchOptions struct {
	Concurrency        int
	CompressionEnabled bool
	Compression        compress.Options
	Format             CitationFormat
	Progress           ProgressFunc
}

// BatchResult accumulates the per-file outcomes of a batch. There is no
// single success/failure verdict: Lines holds one display line per uploaded
// file in input order, Errors one message per failed file.
type BatchResult struct {
	Lines  []string
	Errors []string
	Items  []gallery.Item
}

// job is one file's passage through the pipeline.
type job struct {
	index        int
	originalPath string
	uploadPath   string
	uploadName   string
}

// Run executes the full pipeline for a batch of local paths. Batch-level
// preconditions abort before any work starts; per-file failures are recorded
// and never cancel sibling jobs.
func (o *Orchestrator) Run(ctx context.Context, host imagehost.Host, paths []string, opts BatchOptions) (*BatchResult, error) {
	if host == nil {
		return nil, fmt.Errorf("no image host selected")
	}
	desc := host.Descriptor()
	if !o.settings.Ready(desc.ID) {
		return nil, fmt.Errorf("settings for %s are not ready", desc.ID)
	}

	paths = dedupe(paths)
	if len(paths) == 0 {
		return &BatchResult{}, nil
	}

	tr := newTracker(opts.Progress)
	defer tr.setStage(StageIdle)

	uploadPaths := o.compressStage(ctx, desc, paths, opts, tr)
	jobs := buildJobs(paths, uploadPaths)

	results, jobErrs := o.uploadStage(ctx, host, desc, jobs, opts, tr)

	return o.saveStage(ctx, desc, jobs, results, jobErrs, opts, tr), nil
}

// compressStage runs the external codec over the whole batch when enabled.
// Any codec failure, or an output list of the wrong length, downgrades the
// entire batch to the original files; compression problems are never fatal.
func (o *Orchestrator) compressStage(ctx context.Context, desc imagehost.Descriptor, paths []string, opts BatchOptions, tr *tracker) []string {
	if !opts.CompressionEnabled || o.codec == nil {
		return paths
	}

	tr.setStage(StageCompress)
	tr.addTotal(len(paths))
	defer func() {
		for range paths {
			tr.step()
		}
	}()

	copts := opts.Compression
	if copts.ConvertToWebP && !desc.AcceptsWebP() {
		o.logger.Debug("host does not accept webp, keeping original format",
			zap.String("plugin", desc.ID))
		copts.ConvertToWebP = false
	}

	processed, err := o.codec.Compress(ctx, paths, copts)
	if err != nil {
		o.logger.Warn("compression unavailable for batch, using originals", zap.Error(err))
		return paths
	}
	if len(processed) != len(paths) {
		o.logger.Warn("compression result length mismatch, using originals",
			zap.Int("expected", len(paths)), zap.Int("got", len(processed)))
		return paths
	}
	return processed
}

func buildJobs(originals, uploads []string) []job {
	jobs := make([]job, len(originals))
	for i := range originals {
		jobs[i] = job{
			index:        i,
			originalPath: originals[i],
			uploadPath:   uploads[i],
			uploadName:   uploadFileName(originals[i], uploads[i]),
		}
	}
	return jobs
}

// uploadFileName keeps the original base name, switching the extension when
// compression changed the file format.
func uploadFileName(originalPath, uploadPath string) string {
	name := filepath.Base(originalPath)
	origExt := filepath.Ext(originalPath)
	newExt := filepath.Ext(uploadPath)
	if !strings.EqualFold(origExt, newExt) {
		name = strings.TrimSuffix(name, origExt) + newExt
	}
	return name
}

// uploadStage pushes jobs through a bounded worker pool. Workers claim the
// next unclaimed index from a shared cursor; completion order is unordered
// but results land at their input index.
func (o *Orchestrator) uploadStage(ctx context.Context, host imagehost.Host, desc imagehost.Descriptor, jobs []job, opts BatchOptions, tr *tracker) ([]*imagehost.UploadResult, []error) {
	tr.setStage(StageUpload)
	tr.addTotal(len(jobs))

	params := o.settings.Values(desc.ID)
	results := make([]*imagehost.UploadResult, len(jobs))
	jobErrs := make([]error, len(jobs))

	workers := clampConcurrency(opts.Concurrency)
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var cursor atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1)) - 1
				if idx >= len(jobs) {
					return
				}
				j := jobs[idx]

				var res *imagehost.UploadResult
				err := Retry(ctx, o.logger,
					fmt.Sprintf("upload %s via %s", j.uploadName, desc.ID),
					RetryOptions{MaxRetries: 1},
					func() error {
						var uerr error
						res, uerr = host.Upload(ctx, imagehost.UploadRequest{
							FilePath: j.uploadPath,
							FileName: j.uploadName,
							Params:   params,
						}, o.rt)
						return uerr
					})
				if err != nil {
					jobErrs[idx] = &imagehost.UploadError{
						PluginID: desc.ID,
						FileName: j.uploadName,
						Err:      err,
					}
				} else {
					results[idx] = res
				}
				tr.step()
			}
		}()
	}
	wg.Wait()
	return results, jobErrs
}

// saveStage records successes in the gallery and renders output in original
// input order. A gallery write failure is logged and reported for that item,
// but the display line stays: the remote asset exists either way.
func (o *Orchestrator) saveStage(ctx context.Context, desc imagehost.Descriptor, jobs []job, results []*imagehost.UploadResult, jobErrs []error, opts BatchOptions, tr *tracker) *BatchResult {
	successes := 0
	for _, res := range results {
		if res != nil {
			successes++
		}
	}
	tr.setStage(StageSave)
	tr.addTotal(successes)

	out := &BatchResult{}
	for idx, j := range jobs {
		if err := jobErrs[idx]; err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", j.uploadName, err))
			continue
		}
		res := results[idx]
		if res == nil {
			continue
		}

		item, err := o.gallery.Insert(ctx, gallery.NewItem{
			FileName:     j.uploadName,
			URL:          res.URL,
			Host:         desc.ID,
			DeleteMarker: res.DeleteID,
			Filesize:     fileSize(j.uploadPath),
		})
		if err != nil {
			// The remote asset exists without a local index entry; accepted
			// inconsistency, reported but not rolled back.
			o.logger.Error("failed to record upload in gallery",
				zap.String("plugin", desc.ID),
				zap.String("file", j.uploadName),
				zap.Error(err))
			out.Errors = append(out.Errors,
				fmt.Sprintf("%s: uploaded but not recorded in gallery: %v", j.uploadName, err))
		} else {
			out.Items = append(out.Items, item)
		}
		out.Lines = append(out.Lines, FormatLink(opts.Format, res.URL, j.uploadName))
		tr.step()
	}
	return out
}

func clampConcurrency(n int) int {
	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// dedupe drops repeated paths, keeping first occurrences in order.
func dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := paths[:0:0]
	for _, p := range paths {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func fileSize(path string) *int64 {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	size := info.Size()
	return &size
}
