package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var (
	errRefused      = errors.New("connection refused")
	errNonRetryable = errors.New("non-retryable error")
)

func fastConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	cfg := fastConfig()
	var retried []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errRefused
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected success, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("Expected OnRetry for attempts [1 2], got: %v", retried)
	}
}

func TestRetry_MaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		attempts++
		return errRefused
	})

	if !errors.Is(err, errRefused) {
		t.Errorf("Expected last error to be wrapped, got: %v", err)
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts (1 + 3 retries), got: %d", attempts)
	}
}

func TestRetry_Disabled(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), Config{Enabled: false}, func() error {
		attempts++
		return errRefused
	})

	if err != errRefused {
		t.Errorf("Expected the bare error when disabled, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cfg.OnRetry = func(int, error, time.Duration) { cancel() }

	start := time.Now()
	err := Retry(ctx, cfg, func() error { return errRefused })

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Cancellation did not interrupt the wait")
	}
}

func TestRetry_WrappedErrorLists(t *testing.T) {
	cfg := fastConfig()
	cfg.NonRetryableErrors = []error{errNonRetryable}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return fmt.Errorf("open: %w", errNonRetryable)
	})
	if !errors.Is(err, errNonRetryable) || attempts != 1 {
		t.Errorf("Expected one attempt with wrapped non-retryable error, got %d attempts, err %v", attempts, err)
	}

	cfg = fastConfig()
	cfg.RetryableErrors = []error{errRefused}
	attempts = 0
	err = Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts == 1 {
			return fmt.Errorf("dial: %w", errRefused)
		}
		return errors.New("permission denied")
	})
	if err == nil || attempts != 2 {
		t.Errorf("Expected retry on listed error then stop, got %d attempts, err %v", attempts, err)
	}
}

func TestRetryWithResult(t *testing.T) {
	attempts := 0
	got, err := RetryWithResult(context.Background(), fastConfig(), func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", errRefused
		}
		return "connected", nil
	})

	if err != nil || got != "connected" {
		t.Errorf("Expected connected, got %q, %v", got, err)
	}
}

func TestCalculateDelay_ExponentialBackoff(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}

	for attempt, want := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond} {
		if got := calculateDelay(cfg, attempt); got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
	if got := calculateDelay(cfg, 10); got != 5*time.Second {
		t.Errorf("Expected cap at 5s, got %v", got)
	}
}

func TestCalculateDelay_WithJitter(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}

	base := 200 * time.Millisecond
	distinct := make(map[time.Duration]bool)
	for i := 0; i < 50; i++ {
		d := calculateDelay(cfg, 1)
		if d < base-base/4 || d > base+base/4 {
			t.Errorf("Delay out of range: %v", d)
		}
		distinct[d] = true
	}
	if len(distinct) < 2 {
		t.Error("Expected jitter to vary the delay")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Enabled || cfg.MaxAttempts != 3 || cfg.Multiplier != 2.0 || !cfg.Jitter {
		t.Errorf("Unexpected default config: %+v", cfg)
	}
	if cfg.InitialDelay != 100*time.Millisecond || cfg.MaxDelay != 5*time.Second {
		t.Errorf("Unexpected default delays: %v, %v", cfg.InitialDelay, cfg.MaxDelay)
	}
}
