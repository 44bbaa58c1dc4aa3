package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func newTestRetryStrategy(cfg RetryConfig) *RetryStrategy {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewRetryStrategy(cfg, logger)
}

func TestRetryStrategy_Execute_Success(t *testing.T) {
	strategy := newTestRetryStrategy(RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        100 * time.Millisecond,
		BackoffMultiplier: 2.0,
	})

	attempts := 0
	err := strategy.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return nil
	})
	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryStrategy_Execute_RetryAndSuccess(t *testing.T) {
	strategy := newTestRetryStrategy(RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        100 * time.Millisecond,
		BackoffMultiplier: 2.0,
	})

	attempts := 0
	start := time.Now()
	err := strategy.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection timeout")
		}
		return nil
	})
	duration := time.Since(start)

	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if minDuration := 30 * time.Millisecond; duration < minDuration {
		t.Errorf("duration = %v, want >= %v", duration, minDuration)
	}
}

func TestRetryStrategy_Execute_AllRetriesFailed(t *testing.T) {
	strategy := newTestRetryStrategy(RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        100 * time.Millisecond,
		BackoffMultiplier: 2.0,
	})

	attempts := 0
	expectedErr := errors.New("connection timeout")
	err := strategy.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return expectedErr
	})
	if err != expectedErr {
		t.Errorf("Execute() error = %v, want %v", err, expectedErr)
	}
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4 (initial + 3 retries)", attempts)
	}
}

func TestRetryStrategy_Execute_PermanentError(t *testing.T) {
	strategy := newTestRetryStrategy(RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        100 * time.Millisecond,
		BackoffMultiplier: 2.0,
	})

	attempts := 0
	expectedErr := errors.New("invalid request")
	err := strategy.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return expectedErr
	})
	if err != expectedErr {
		t.Errorf("Execute() error = %v, want %v", err, expectedErr)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retries for permanent errors)", attempts)
	}
}

func TestRetryStrategy_Execute_ContextCanceled(t *testing.T) {
	strategy := newTestRetryStrategy(RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := strategy.Execute(ctx, func(ctx context.Context, attempt int) error {
		attempts++
		if attempts == 1 {
			cancel()
		}
		return errors.New("connection timeout")
	})
	if err == nil {
		t.Error("Execute() error = nil, want error")
	}
	if attempts > 2 {
		t.Errorf("attempts = %d, want <= 2 (should stop after context cancel)", attempts)
	}
}

func TestRetryStrategy_ExecuteWithResult(t *testing.T) {
	strategy := newTestRetryStrategy(RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        100 * time.Millisecond,
		BackoffMultiplier: 2.0,
	})

	attempts := 0
	result, err := strategy.ExecuteWithResult(context.Background(), func(ctx context.Context, attempt int) (interface{}, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("connection timeout")
		}
		return "success", nil
	})
	if err != nil {
		t.Errorf("ExecuteWithResult() error = %v, want nil", err)
	}
	if result != "success" {
		t.Errorf("ExecuteWithResult() result = %v, want success", result)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetryStrategy_MaxRetries(t *testing.T) {
	strategy := newTestRetryStrategy(RetryConfig{MaxRetries: 7})
	if got := strategy.MaxRetries(); got != 7 {
		t.Errorf("MaxRetries() = %d, want 7", got)
	}
}

func TestRetryStrategy_CalculateBackoff(t *testing.T) {
	strategy := newTestRetryStrategy(RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second}, // capped at MaxBackoff
		{5, 1 * time.Second}, // capped at MaxBackoff
	}

	for _, tt := range tests {
		if got := strategy.calculateBackoff(tt.attempt); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryStrategy_CalculateBackoffWithJitter(t *testing.T) {
	strategy := newTestRetryStrategy(RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	})

	minBackoff := 150 * time.Millisecond
	maxBackoff := 250 * time.Millisecond
	for i := 0; i < 2; i++ {
		backoff := strategy.calculateBackoff(1)
		if backoff < minBackoff || backoff > maxBackoff {
			t.Errorf("calculateBackoff(1) = %v, want in range [%v, %v]", backoff, minBackoff, maxBackoff)
		}
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()
	if config.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", config.MaxRetries)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %f, want 2.0", config.BackoffMultiplier)
	}
	if !config.Jitter {
		t.Error("Jitter = false, want true")
	}
}

func TestDefaultNodeRetryConfig(t *testing.T) {
	config := DefaultNodeRetryConfig()
	if !config.Enabled {
		t.Error("Enabled = false, want true")
	}
	if config.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", config.MaxRetries)
	}

	expectedCodes := []int{408, 429, 500, 502, 503, 504}
	if len(config.RetryableStatusCodes) != len(expectedCodes) {
		t.Fatalf("len(RetryableStatusCodes) = %d, want %d", len(config.RetryableStatusCodes), len(expectedCodes))
	}
	for i, code := range expectedCodes {
		if config.RetryableStatusCodes[i] != code {
			t.Errorf("RetryableStatusCodes[%d] = %d, want %d", i, config.RetryableStatusCodes[i], code)
		}
	}
}
