// Package retry provides configurable retry logic with backoff for transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts int
	Delays      []time.Duration
}

// FromMillis builds a Config from an attempt count and delays in
// milliseconds, falling back to def for unset or invalid values.
func FromMillis(attempts int, delaysMS []int, def Config) Config {
	cfg := def
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}

	var delays []time.Duration
	for _, ms := range delaysMS {
		if ms > 0 {
			delays = append(delays, time.Duration(ms)*time.Millisecond)
		}
	}
	if len(delays) > 0 {
		cfg.Delays = delays
	}
	return cfg
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; WithRetry returns it at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// WithRetry executes fn with backoff retry logic.
// It will attempt the function up to MaxAttempts times, with delays between attempts.
// If MaxAttempts is exceeded, the last error is returned wrapped with context.
func WithRetry(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		// Apply delay before retry (not before first attempt)
		if attempt > 0 && len(cfg.Delays) > 0 {
			delayIndex := attempt - 1
			if delayIndex >= len(cfg.Delays) {
				delayIndex = len(cfg.Delays) - 1 // Use last delay if we run out
			}

			timer := time.NewTimer(cfg.Delays[delayIndex])
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			}
		} else if attempt > 0 && ctx.Err() != nil {
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		}

		err := fn()
		if err == nil {
			return nil
		}

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return permanent.err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
