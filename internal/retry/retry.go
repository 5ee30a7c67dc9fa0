// Package retry runs an operation with exponential backoff until it
// succeeds, fails with an error that is not worth retrying, or runs out of
// attempts.
//
// The backoff before attempt n (n >= 1) is InitialBackoff * 2^(n-1), capped
// at MaxBackoff, plus a jitter that grows linearly with n.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config defines the retry behaviour. MaxRetries and InitialBackoff must be
// positive.
type Config struct {
	// MaxRetries is the total number of attempts.
	MaxRetries int
	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps a single wait. Zero means no cap.
	MaxBackoff time.Duration
	// Jitter in [0,1] adds backoff*Jitter*attempt/MaxRetries to each wait.
	Jitter float64
}

// WriteConflict suits short embedded-database writes that lose optimistic
// concurrency races under load.
var WriteConflict = Config{
	MaxRetries:     10,
	InitialBackoff: 10 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
	Jitter:         0.1,
}

// ShouldRetryFunc decides whether err is transient. A nil ShouldRetryFunc
// retries every error.
type ShouldRetryFunc func(error) bool

// Do calls fn until it returns nil or a non-retryable error, or until
// cfg.MaxRetries attempts have failed. A cancelled ctx ends the wait
// between attempts with ctx.Err().
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(calculateBackoff(cfg, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

func calculateBackoff(cfg Config, attempt int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt-1)) * float64(cfg.InitialBackoff))
	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}
	if cfg.Jitter > 0 {
		backoff += time.Duration(float64(backoff) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries))
	}
	return backoff
}
