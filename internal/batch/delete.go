package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"PicFlow/internal/gallery"
	"PicFlow/internal/hostsettings"
	"PicFlow/internal/uploader"
	"PicFlow/pkg/imagehost"
)

// HostResolver maps a stored host id to a loaded plugin. A nil result means
// the plugin is unavailable and remote deletion is skipped.
type HostResolver func(ctx context.Context, hostID string) imagehost.Host

// DeleteResult summarizes a bulk delete run.
type DeleteResult struct {
	Deleted        int
	RemoteFailures int
	LocalFailures  int
}

// Deleter removes gallery items, attempting remote deletion first when an
// item carries a delete marker. Remote failures are logged and never block
// the local removal.
type Deleter struct {
	gallery  *gallery.Store
	settings *hostsettings.Store
	rt       *imagehost.RuntimeContext
	logger   *zap.Logger
}

func NewDeleter(g *gallery.Store, settings *hostsettings.Store, rt *imagehost.RuntimeContext, logger *zap.Logger) *Deleter {
	return &Deleter{
		gallery:  g,
		settings: settings,
		rt:       rt,
		logger:   logger,
	}
}

// DeleteOne removes a single gallery item.
func (d *Deleter) DeleteOne(ctx context.Context, item gallery.Item, resolve HostResolver) error {
	d.remoteDelete(ctx, item, resolve)
	if err := d.gallery.Delete(ctx, item.ID); err != nil {
		return fmt.Errorf("deleting gallery item %d: %w", item.ID, err)
	}
	return nil
}

// DeleteSelection deletes every selected item using a worker pool of the
// given size, then clears the selection and leaves batch mode. Missing ids
// (already removed from the gallery) are skipped.
func (d *Deleter) DeleteSelection(ctx context.Context, sel *Selection, items map[int64]gallery.Item, resolve HostResolver, concurrency int) DeleteResult {
	ids := sel.Selected()
	targets := make([]gallery.Item, 0, len(ids))
	for _, id := range ids {
		item, ok := items[id]
		if !ok {
			d.logger.Warn("skipping unknown gallery item", zap.Int64("id", id))
			continue
		}
		targets = append(targets, item)
	}

	result := d.deleteAll(ctx, targets, resolve, concurrency)

	sel.Clear()
	sel.SetBatchMode(false)
	return result
}

func (d *Deleter) deleteAll(ctx context.Context, items []gallery.Item, resolve HostResolver, concurrency int) DeleteResult {
	if len(items) == 0 {
		return DeleteResult{}
	}

	workers := concurrency
	if workers < uploader.MinConcurrency {
		workers = uploader.MinConcurrency
	}
	if workers > uploader.MaxConcurrency {
		workers = uploader.MaxConcurrency
	}
	if workers > len(items) {
		workers = len(items)
	}

	var (
		cursor         atomic.Int64
		deleted        atomic.Int64
		remoteFailures atomic.Int64
		localFailures  atomic.Int64
		wg             sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1)) - 1
				if idx >= len(items) {
					return
				}
				item := items[idx]
				if !d.remoteDelete(ctx, item, resolve) {
					remoteFailures.Add(1)
				}
				if err := d.gallery.Delete(ctx, item.ID); err != nil {
					d.logger.Error("failed to delete gallery item",
						zap.Int64("id", item.ID),
						zap.Error(err))
					localFailures.Add(1)
					continue
				}
				deleted.Add(1)
			}
		}()
	}
	wg.Wait()

	d.logger.Info("batch delete finished",
		zap.Int("requested", len(items)),
		zap.Int64("deleted", deleted.Load()),
		zap.Int64("remote_failures", remoteFailures.Load()))

	return DeleteResult{
		Deleted:        int(deleted.Load()),
		RemoteFailures: int(remoteFailures.Load()),
		LocalFailures:  int(localFailures.Load()),
	}
}

// remoteDelete attempts the plugin-side removal and reports whether it
// succeeded. Items without a delete marker or without a loadable plugin
// count as success since there is nothing to remove remotely.
func (d *Deleter) remoteDelete(ctx context.Context, item gallery.Item, resolve HostResolver) bool {
	if item.DeleteMarker == "" {
		return true
	}
	host := resolve(ctx, item.Host)
	if host == nil {
		d.logger.Warn("plugin unavailable, skipping remote delete",
			zap.String("host", item.Host),
			zap.Int64("id", item.ID))
		return true
	}

	req := imagehost.RemoveRequest{
		DeleteID: item.DeleteMarker,
		Params:   d.settings.Values(item.Host),
	}
	err := uploader.Retry(ctx, d.logger, fmt.Sprintf("remote delete %s", item.FileName),
		uploader.RetryOptions{MaxRetries: 1}, func() error {
			res, err := host.Remove(ctx, req, d.rt)
			if err != nil {
				return err
			}
			if res != nil && !res.Success {
				return fmt.Errorf("plugin reported failure: %s", res.Message)
			}
			return nil
		})
	if err != nil {
		derr := &imagehost.DeleteError{
			PluginID: item.Host,
			DeleteID: item.DeleteMarker,
			Err:      err,
		}
		d.logger.Warn("remote delete failed, removing local record anyway",
			zap.Int64("id", item.ID),
			zap.Error(derr))
		return false
	}
	return true
}
