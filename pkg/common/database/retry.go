package database

import (
	"context"
	"time"

	"github.com/thalcare-ai/platform/pkg/common/logger"
)

const maxRetryDelay = 5 * time.Second

// Retry calls fn until it succeeds, attempts run out or ctx ends, doubling the
// delay between attempts up to maxRetryDelay.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts <= 1 {
		return fn()
	}

	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"attempt": i + 1,
			"delay":   delay.String(),
		}).Warn("Retrying connection")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
	return err
}
