package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
)

// RetryConfig configures Retry.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt
	MaxRetries int

	// InitialBackoff is the delay before the first retry
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay after every attempt
	BackoffMultiplier float64

	// Jitter adds up to +20% random delay to every backoff
	Jitter bool

	// RetryableErrors decides whether an error is worth another attempt
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns three retries starting at two seconds and doubling.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors retries everything except cancellation and an open circuit.
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrCircuitBreakerOpen),
		errors.Is(err, ErrCircuitBreakerTimeout):
		return false
	}
	return true
}

// Retry calls fn until it succeeds, returns a non-retryable error, the retries
// are exhausted or ctx is done. The last error from fn is returned.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	retryable := config.RetryableErrors
	if retryable == nil {
		retryable = DefaultRetryableErrors
	}
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= config.MaxRetries || !retryable(err) {
			return err
		}
		timer := time.NewTimer(calculateBackoff(attempt, config))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.WithSecondaryError(ctx.Err(), err)
		case <-timer.C:
		}
	}
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	multiplier := config.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	backoff := float64(config.InitialBackoff) * math.Pow(multiplier, float64(attempt))
	if config.MaxBackoff > 0 && backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	if config.Jitter {
		backoff += backoff * 0.2 * rand.Float64()
	}
	return time.Duration(backoff)
}
