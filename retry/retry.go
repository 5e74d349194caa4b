// Package retry provides caller-side retry with exponential backoff for
// infrastructural facilitator failures. The guard itself never retries,
// since retrying settlement risks a double charge; backoff belongs to the
// caller, and only for failures classified as unreachable.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	paygate "github.com/paygate-labs/paygate-go"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (including initial attempt)
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultConfig provides sensible defaults for facilitator retries.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
}

// IsRetryable determines if an error should trigger a retry.
type IsRetryable func(error) bool

// Unreachable retries only errors that wrap ErrFacilitatorUnavailable.
// Payment-required conditions are never retryable without a new credential.
func Unreachable(err error) bool {
	return errors.Is(err, paygate.ErrFacilitatorUnavailable)
}

// Do executes fn with exponential backoff, retrying errors isRetryable
// accepts. Context cancellation is respected between attempts.
func Do[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func() (T, error),
) (T, error) {
	var zero T
	var lastErr error
	delay := config.InitialDelay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}

		// Don't sleep after last attempt
		if attempt < config.MaxAttempts-1 {
			select {
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * config.Multiplier)
				if delay > config.MaxDelay {
					delay = config.MaxDelay
				}
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// DoSimple uses the default configuration and the Unreachable classifier.
func DoSimple[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return Do(ctx, DefaultConfig, Unreachable, fn)
}
