package uploader

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryOptions bounds a retried operation. MaxRetries counts attempts after
// the first, so MaxRetries=1 means at most two invocations.
type RetryOptions struct {
	MaxRetries int
	Delay      time.Duration
}

// Retry runs fn, retrying on error until the attempt limit is reached, then
// returns the last error. Cancellation is checked between attempts; a retry
// never survives its context.
func Retry(ctx context.Context, logger *zap.Logger, operation string, opts RetryOptions, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			logger.Warn("Retry cancelled", zap.String("operation", operation), zap.Error(err))
			return err
		}
		if attempt > 0 && opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt < opts.MaxRetries {
			logger.Warn("Retry attempt failed",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
		}
	}
	logger.Error("Retry limit reached",
		zap.String("operation", operation),
		zap.Int("attempts", opts.MaxRetries+1),
		zap.Error(lastErr))
	return lastErr
}
