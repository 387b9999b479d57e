package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	errs "harvester/pkg/errors"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.0, // No jitter for predictable testing
	}

	tests := []struct {
		attempt      int
		expectedMin  time.Duration
		expectedMax  time.Duration
		description  string
	}{
		{1, 100 * time.Millisecond, 100 * time.Millisecond, "First attempt"},
		{2, 200 * time.Millisecond, 200 * time.Millisecond, "Second attempt"},
		{3, 400 * time.Millisecond, 400 * time.Millisecond, "Third attempt"},
		{4, 800 * time.Millisecond, 800 * time.Millisecond, "Fourth attempt"},
		{5, 1 * time.Second, 1 * time.Second, "Fifth attempt (capped at max)"},
		{6, 1 * time.Second, 1 * time.Second, "Sixth attempt (still capped)"},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			delay := backoff.NextDelay(test.attempt)
			if delay < test.expectedMin || delay > test.expectedMax {
				t.Errorf("Expected delay between %v and %v, got %v",
					test.expectedMin, test.expectedMax, delay)
			}
		})
	}
}

func TestExponentialBackoffWithJitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	// Test that jitter adds randomness
	delays := make(map[time.Duration]bool)
	for i := 0; i < 10; i++ {
		delay := backoff.NextDelay(2)
		delays[delay] = true
	}

	// With jitter, we should get different delays
	if len(delays) < 2 {
		t.Error("Expected multiple different delays with jitter, but got consistent delays")
	}
}

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ExponentialBackoff{BaseDelay: 10 * time.Millisecond, Multiplier: 1},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	err := Do(op, cfg)
	if err != nil {
		t.Errorf("Expected success after retries, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		return errors.New("persistent error")
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ExponentialBackoff{BaseDelay: 10 * time.Millisecond, Multiplier: 1},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	err := Do(op, cfg)
	if err == nil {
		t.Error("Expected error when max attempts exceeded")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithNonRetryableError(t *testing.T) {
	attempts := 0
	authError := errs.AuthFailure(401, "authentication required")

	op := func() error {
		attempts++
		return authError
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ExponentialBackoff{BaseDelay: 10 * time.Millisecond, Multiplier: 1},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
	}

	err := Do(op, cfg)
	if err != authError {
		t.Errorf("Expected auth error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry for auth error), got %d", attempts)
	}
}

func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	op := func() error {
		attempts++
		if attempts == 2 {
			cancel() // Cancel after second attempt
		}
		return errors.New("error")
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ExponentialBackoff{BaseDelay: 100 * time.Millisecond, Multiplier: 1},
		RetryIf:     func(err error) bool { return true },
		Context:     ctx,
	}

	err := Do(op, cfg)
	if err == nil {
		t.Error("Expected error when context cancelled")
	}
	if attempts > 3 {
		t.Errorf("Expected at most 3 attempts before cancellation, got %d", attempts)
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	op := func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("temporary error")
		}
		return "success", nil
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ExponentialBackoff{BaseDelay: 10 * time.Millisecond, Multiplier: 1},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	result, err := DoWithResult(op, cfg)
	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if result != "success" {
		t.Errorf("Expected 'success', got '%s'", result)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}
func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", errs.Transient(503, "unavailable"), true},
		{"wrapped transient", fmt.Errorf("page 3: %w", errs.Transient(0, "reset")), true},
		{"storage", errs.New(errs.ErrorTypeStorage, "busy"), true},
		{"rate limited", errs.RateLimited(429, "slow down"), false},
		{"auth", errs.AuthFailure(401, "expired"), false},
		{"invalid", errs.New(errs.ErrorTypeInvalid, "bad query"), false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"request timeout", errs.Wrap(errs.ErrorTypeTransient, context.DeadlineExceeded, "network error"), true},
		{"unclassified", errors.New("eof"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultRetryIf(tt.err); got != tt.want {
				t.Errorf("DefaultRetryIf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestExhaustedRetryKeepsKind(t *testing.T) {
	cfg := &Config{
		MaxAttempts: 2,
		Backoff:     &ExponentialBackoff{BaseDelay: time.Millisecond, Multiplier: 1},
		Context:     context.Background(),
	}

	err := Do(func() error { return errs.Transient(502, "bad gateway") }, cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := errs.KindOf(err); kind != errs.ErrorTypeTransient {
		t.Errorf("expected transient kind after exhaustion, got %q", kind)
	}
}

func TestNoSleepAfterFinalAttempt(t *testing.T) {
	calls := 0
	cfg := &Config{
		MaxAttempts: 1,
		Backoff:     &ExponentialBackoff{BaseDelay: time.Hour, Multiplier: 1},
		Context:     context.Background(),
		OnRetry:     func(int, error, time.Duration) { calls++ },
	}

	start := time.Now()
	_ = Do(func() error { return errors.New("nope") }, cfg)
	if time.Since(start) > time.Second {
		t.Error("Do slept after the last attempt")
	}
	if calls != 0 {
		t.Errorf("OnRetry called %d times, want 0", calls)
	}
}

func TestWaitReportsEndedContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Wait(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait on a cancelled context = %v, want context.Canceled", err)
	}
}

func TestNewExponentialBackoff(t *testing.T) {
	b := NewExponentialBackoff(2*time.Second, time.Second)
	if b.MaxDelay != 2*time.Second {
		t.Errorf("ceiling below base should be raised to base, got %v", b.MaxDelay)
	}

	b = NewExponentialBackoff(100*time.Millisecond, 30*time.Second)
	for attempt := 1; attempt <= 20; attempt++ {
		if d := b.NextDelay(attempt); d > 33*time.Second {
			t.Fatalf("attempt %d: delay %v exceeds ceiling plus jitter", attempt, d)
		}
	}
}
