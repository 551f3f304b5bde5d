package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream failed")

func failingBreaker(t *testing.T) *CircuitBreaker {
	t.Helper()
	cfg := DefaultCircuitBreakerConfig()
	cfg.Name = "test"
	cfg.FailureThreshold = 3
	cfg.Timeout = 20 * time.Millisecond
	return NewCircuitBreaker(cfg)
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb := failingBreaker(t)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
			t.Fatalf("attempt %d error = %v, want the upstream error", i, err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open after hitting the failure threshold", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen while open", err)
	}
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := failingBreaker(t)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errUpstream })
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	time.Sleep(30 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("State() = %v, want half-open after the timeout", cb.State())
	}

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed after a successful probe", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := failingBreaker(t)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errUpstream })
	}
	time.Sleep(30 * time.Millisecond)

	_ = cb.Execute(func() error { return errUpstream })
	if cb.State() != StateOpen {
		t.Errorf("State() = %v, want open again after a failed probe", cb.State())
	}
}

func TestCircuitBreaker_IsSuccessfulOverride(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, errUpstream)
	}
	cb := NewCircuitBreaker(cfg)

	_ = cb.Execute(func() error { return errUpstream })
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed when IsSuccessful accepts the error", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	cfg.OnStateChange = func(name string, from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}
	cb := NewCircuitBreaker(cfg)

	_ = cb.Execute(func() error { return errUpstream })
	if len(transitions) != 1 || transitions[0] != "closed>open" {
		t.Errorf("transitions = %v, want [closed>open]", transitions)
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := RetryWithOptions(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errUpstream
		}
		return nil
	}, WithMaxAttempts(5), WithInitialDelay(time.Millisecond), WithJitter(0))
	if err != nil {
		t.Fatalf("RetryWithOptions() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := RetryWithOptions(context.Background(), func(context.Context) error {
		attempts++
		return errUpstream
	}, WithMaxAttempts(3), WithInitialDelay(time.Millisecond), WithJitter(0))

	var retryErr *RetryError
	if !errors.As(err, &retryErr) {
		t.Fatalf("error = %v, want RetryError", err)
	}
	if retryErr.Attempts != 3 || attempts != 3 {
		t.Errorf("attempts = %d/%d, want 3", retryErr.Attempts, attempts)
	}
	if !errors.Is(err, errUpstream) {
		t.Error("RetryError should unwrap to the last upstream error")
	}
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := RetryWithOptions(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errUpstream
	}, WithMaxAttempts(5), WithInitialDelay(10*time.Millisecond))

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry after cancellation)", attempts)
	}
}
