package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    1 * time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		attempts++
		if attempts < 2 {
			return errors.New("rate limited")
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(2), func() error {
		attempts++
		return errors.New("model overloaded")
	})
	if err == nil || err.Error() != "model overloaded" {
		t.Errorf("Expected last error, got %v", err)
	}
	if attempts != 3 { // Initial attempt + 2 retries
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	config := fastRetryConfig(3)
	config.RetryableErrors = func(err error) bool {
		return err.Error() != "bad request"
	}
	attempts := 0
	err := Retry(context.Background(), config, func() error {
		attempts++
		return errors.New("bad request")
	})
	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	config := fastRetryConfig(5)
	config.InitialBackoff = 100 * time.Millisecond
	config.MaxBackoff = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	err := Retry(ctx, config, func() error {
		attempts++
		return errors.New("temporary error")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before the deadline, got %d", attempts)
	}
}

func TestDefaultRetryableErrors(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{nil, false},
		{errors.New("network error"), true},
		{ErrCircuitBreakerOpen, false},
		{ErrCircuitBreakerTimeout, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		if result := DefaultRetryableErrors(tt.err); result != tt.retryable {
			t.Errorf("Error %v: expected retryable=%v, got %v", tt.err, tt.retryable, result)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	config := RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
	}
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second},
		{5, 1 * time.Second},
	}
	for _, tt := range tests {
		if result := calculateBackoff(tt.attempt, config); result != tt.expected {
			t.Errorf("Attempt %d: expected %v, got %v", tt.attempt, tt.expected, result)
		}
	}
}

func TestCalculateBackoffWithJitter(t *testing.T) {
	config := RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	for range 10 {
		d := calculateBackoff(1, config)
		if d < 200*time.Millisecond || d > 240*time.Millisecond {
			t.Errorf("Jittered backoff %v outside expected range [200ms, 240ms]", d)
		}
	}
}
