package uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"PicFlow/internal/compress"
	"PicFlow/internal/gallery"
	"PicFlow/internal/hostsettings"
	"PicFlow/pkg/imagehost"
)

type fakeHost struct {
	desc     imagehost.Descriptor
	uploadFn func(req imagehost.UploadRequest) (*imagehost.UploadResult, error)

	mu       sync.Mutex
	attempts map[string]int

	active    atomic.Int64
	maxActive atomic.Int64
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		desc:     imagehost.Descriptor{ID: "fakehost", Parameters: []imagehost.Parameter{}},
		attempts: make(map[string]int),
	}
}

func (h *fakeHost) Descriptor() imagehost.Descriptor { return h.desc }

func (h *fakeHost) Upload(_ context.Context, req imagehost.UploadRequest, _ *imagehost.RuntimeContext) (*imagehost.UploadResult, error) {
	cur := h.active.Add(1)
	for {
		max := h.maxActive.Load()
		if cur <= max || h.maxActive.CompareAndSwap(max, cur) {
			break
		}
	}
	defer h.active.Add(-1)

	h.mu.Lock()
	h.attempts[req.FileName]++
	h.mu.Unlock()

	if h.uploadFn != nil {
		return h.uploadFn(req)
	}
	return &imagehost.UploadResult{URL: "https://cdn.example.com/" + req.FileName}, nil
}

func (h *fakeHost) Remove(context.Context, imagehost.RemoveRequest, *imagehost.RuntimeContext) (*imagehost.RemoveResult, error) {
	return &imagehost.RemoveResult{Success: true}, nil
}

func (h *fakeHost) attemptCount(fileName string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts[fileName]
}

type fakeCodec struct {
	fn       func(ctx context.Context, paths []string, opts compress.Options) ([]string, error)
	gotOpts  compress.Options
	gotPaths []string
}

func (c *fakeCodec) Compress(ctx context.Context, paths []string, opts compress.Options) ([]string, error) {
	c.gotOpts = opts
	c.gotPaths = paths
	if c.fn != nil {
		return c.fn(ctx, paths, opts)
	}
	return paths, nil
}

type testEnv struct {
	orch  *Orchestrator
	host  *fakeHost
	store *gallery.Store
	codec *fakeCodec
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := gallery.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	settings := hostsettings.NewStore(
		hostsettings.NewFileBackend(filepath.Join(t.TempDir(), "image-hosts.json")),
		nil, zap.NewNop(), time.Minute)

	host := newFakeHost()
	settings.Hydrate(context.Background(), host.desc)

	codec := &fakeCodec{}
	return &testEnv{
		orch:  NewOrchestrator(settings, store, codec, nil, zap.NewNop()),
		host:  host,
		store: store,
		codec: codec,
	}
}

func writeBatchFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(paths[i], []byte("img-"+name), 0o600))
	}
	return paths
}

func TestRun_PreservesInputOrder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.host.uploadFn = func(req imagehost.UploadRequest) (*imagehost.UploadResult, error) {
		// Stagger completion so a.png finishes last.
		if req.FileName == "a.png" {
			time.Sleep(30 * time.Millisecond)
		}
		return &imagehost.UploadResult{URL: "https://cdn.example.com/" + req.FileName}, nil
	}

	paths := writeBatchFiles(t, "a.png", "b.png", "c.png")
	result, err := env.orch.Run(context.Background(), env.host, paths, BatchOptions{Concurrency: 3})
	require.NoError(t, err)

	require.Equal(t, []string{
		"https://cdn.example.com/a.png",
		"https://cdn.example.com/b.png",
		"https://cdn.example.com/c.png",
	}, result.Lines, "output order follows input order, not completion order")
	assert.Empty(t, result.Errors)
}

func TestRun_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.host.uploadFn = func(req imagehost.UploadRequest) (*imagehost.UploadResult, error) {
		time.Sleep(20 * time.Millisecond)
		return &imagehost.UploadResult{URL: "https://cdn.example.com/" + req.FileName}, nil
	}

	paths := writeBatchFiles(t, "1.png", "2.png", "3.png", "4.png", "5.png", "6.png", "7.png", "8.png")
	_, err := env.orch.Run(context.Background(), env.host, paths, BatchOptions{Concurrency: 3})
	require.NoError(t, err)

	assert.LessOrEqual(t, env.host.maxActive.Load(), int64(3))
}

func TestRun_PartialFailureIsolated(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.host.uploadFn = func(req imagehost.UploadRequest) (*imagehost.UploadResult, error) {
		if req.FileName == "bad.png" {
			return nil, fmt.Errorf("server rejected file")
		}
		return &imagehost.UploadResult{URL: "https://cdn.example.com/" + req.FileName}, nil
	}

	paths := writeBatchFiles(t, "good1.png", "bad.png", "good2.png")
	result, err := env.orch.Run(context.Background(), env.host, paths, BatchOptions{Concurrency: 2})
	require.NoError(t, err)

	assert.Len(t, result.Lines, 2, "healthy files still upload")
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "bad.png")

	assert.Equal(t, 2, env.host.attemptCount("bad.png"), "failed upload gets exactly one retry")
	assert.Equal(t, 1, env.host.attemptCount("good1.png"))

	items, err := env.store.Query(context.Background(), gallery.Filter{})
	require.NoError(t, err)
	assert.Len(t, items, 2, "only successes are recorded")
}

func TestRun_DeduplicatesPaths(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	paths := writeBatchFiles(t, "a.png", "b.png")
	batch := []string{paths[0], paths[1], paths[0]}

	result, err := env.orch.Run(context.Background(), env.host, batch, BatchOptions{Concurrency: 2})
	require.NoError(t, err)

	assert.Len(t, result.Lines, 2)
	assert.Equal(t, 1, env.host.attemptCount("a.png"), "duplicate path uploads once")
}

func TestRun_CompressionFailureFallsBackToOriginals(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.codec.fn = func(_ context.Context, paths []string, _ compress.Options) ([]string, error) {
		return nil, fmt.Errorf("codec crashed")
	}

	var uploaded []string
	var mu sync.Mutex
	env.host.uploadFn = func(req imagehost.UploadRequest) (*imagehost.UploadResult, error) {
		mu.Lock()
		uploaded = append(uploaded, req.FilePath)
		mu.Unlock()
		return &imagehost.UploadResult{URL: "https://cdn.example.com/" + req.FileName}, nil
	}

	paths := writeBatchFiles(t, "a.png", "b.png", "c.png")
	result, err := env.orch.Run(context.Background(), env.host, paths, BatchOptions{
		Concurrency:        1,
		CompressionEnabled: true,
		Compression:        compress.Options{Quality: 80},
	})
	require.NoError(t, err)

	assert.Len(t, result.Lines, 3, "compression failure never fails the batch")
	assert.ElementsMatch(t, paths, uploaded, "originals are uploaded when the codec fails")
}

func TestRun_CompressionLengthMismatchFallsBack(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.codec.fn = func(_ context.Context, paths []string, _ compress.Options) ([]string, error) {
		return paths[:2], nil
	}

	var uploaded []string
	var mu sync.Mutex
	env.host.uploadFn = func(req imagehost.UploadRequest) (*imagehost.UploadResult, error) {
		mu.Lock()
		uploaded = append(uploaded, req.FilePath)
		mu.Unlock()
		return &imagehost.UploadResult{URL: "https://cdn.example.com/" + req.FileName}, nil
	}

	paths := writeBatchFiles(t, "a.png", "b.png", "c.png")
	_, err := env.orch.Run(context.Background(), env.host, paths, BatchOptions{
		Concurrency:        1,
		CompressionEnabled: true,
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, paths, uploaded, "short codec output downgrades the whole batch")
}

func TestRun_WebPDisabledWhenHostRejectsIt(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.host.desc.SupportedFileTypes = []imagehost.FileTypeFilter{
		{MimeTypes: []string{"image/png", "image/jpeg"}},
	}

	paths := writeBatchFiles(t, "a.png")
	_, err := env.orch.Run(context.Background(), env.host, paths, BatchOptions{
		Concurrency:        1,
		CompressionEnabled: true,
		Compression:        compress.Options{Quality: 80, ConvertToWebP: true},
	})
	require.NoError(t, err)

	assert.False(t, env.codec.gotOpts.ConvertToWebP, "conversion downgraded for hosts without webp support")
	assert.Equal(t, 80, env.codec.gotOpts.Quality)
}

func TestRun_RequiresHydratedSettings(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	stranger := newFakeHost()
	stranger.desc.ID = "never-hydrated"

	paths := writeBatchFiles(t, "a.png")
	_, err := env.orch.Run(context.Background(), stranger, paths, BatchOptions{Concurrency: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}

func TestRun_RequiresHost(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.orch.Run(context.Background(), nil, []string{"/tmp/a.png"}, BatchOptions{})
	require.Error(t, err)
}

func TestRun_EmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	result, err := env.orch.Run(context.Background(), env.host, nil, BatchOptions{Concurrency: 1})
	require.NoError(t, err)
	assert.Empty(t, result.Lines)
	assert.Empty(t, result.Errors)
}

func TestRun_ReportsProgressStages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	var mu sync.Mutex
	var snapshots []Progress

	paths := writeBatchFiles(t, "a.png", "b.png")
	_, err := env.orch.Run(context.Background(), env.host, paths, BatchOptions{
		Concurrency:        2,
		CompressionEnabled: true,
		Progress: func(p Progress) {
			mu.Lock()
			snapshots = append(snapshots, p)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snapshots)

	stages := make(map[Stage]bool)
	for _, p := range snapshots {
		stages[p.Stage] = true
	}
	assert.True(t, stages[StageCompress])
	assert.True(t, stages[StageUpload])
	assert.True(t, stages[StageSave])
	assert.Equal(t, StageIdle, snapshots[len(snapshots)-1].Stage, "batch ends idle")

	final := snapshots[len(snapshots)-2]
	assert.Equal(t, 6, final.Total, "two files counted in each of the three stages")
	assert.Equal(t, 6, final.Completed)
}

func TestUploadFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "photo.png", uploadFileName("/in/photo.png", "/out/photo.png"))
	assert.Equal(t, "photo.webp", uploadFileName("/in/photo.png", "/out/photo.webp"),
		"extension follows the compressed format")
	assert.Equal(t, "photo.PNG", uploadFileName("/in/photo.PNG", "/out/photo.png"),
		"case-only extension differences keep the original name")
}

func TestClampConcurrency(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, clampConcurrency(0))
	assert.Equal(t, 1, clampConcurrency(-5))
	assert.Equal(t, 5, clampConcurrency(5))
	assert.Equal(t, 10, clampConcurrency(25))
}
