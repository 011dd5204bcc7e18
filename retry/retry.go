// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"time"
)

// Config controls the number of attempts and the delay between them.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first (minimum 1).
	MaxAttempts int

	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts. Zero means no cap.
	MaxDelay time.Duration

	// Multiplier scales the delay after every attempt (values below 1 are treated as 1).
	Multiplier float64
}

// DefaultConfig retries twice with a 100ms initial delay.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     400 * time.Millisecond,
	Multiplier:   2.0,
}

// WithRetry calls fn until it succeeds, returns an error isRetryable rejects,
// the attempts are exhausted, or ctx is done. The last error is returned.
func WithRetry[T any](ctx context.Context, cfg Config, isRetryable func(error) bool, fn func() (T, error)) (T, error) {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := cfg.InitialDelay

	var (
		result T
		err    error
	)
	for attempt := 1; ; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if attempt >= attempts || isRetryable == nil || !isRetryable(err) {
			return result, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, err
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
