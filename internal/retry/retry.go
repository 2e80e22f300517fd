package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/yeoskin/backend/internal/models"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Clock drives the waits between attempts. Defaults to the real clock.
	Clock clockwork.Clock
}

// DefaultConfig returns the default retry configuration for provider calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  10 * time.Second,
	}
}

// ErrExhausted wraps the last error once all attempts are used.
var ErrExhausted = errors.New("retries exhausted")

// Do calls fn until it succeeds, returns a non-retryable error, or attempts run out.
// Returns the last error wrapped with ErrExhausted when attempts run out.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := calculateBackoff(cfg.BaseBackoff, cfg.MaxBackoff, attempt-1)
			if backoff > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-clock.After(backoff):
				}
			}
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, cfg.MaxAttempts, lastErr)
}

// IsRetryable reports whether err is a transient provider failure.
// Context cancellation is never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return models.IsTransient(err)
}

// calculateBackoff returns base * 2^attempt capped at max, with 0.5-1.0 jitter.
func calculateBackoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	backoff := base * time.Duration(1<<uint(attempt))
	if backoff > max || backoff <= 0 {
		backoff = max
	}
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(backoff) * jitter)
}
