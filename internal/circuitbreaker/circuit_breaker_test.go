package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func testConfig() Config {
	return Config{
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New("test", testConfig(), zaptest.NewLogger(t))
	ctx := context.Background()
	fail := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return fail }); err != fail {
			t.Fatalf("attempt %d: expected underlying error, got %v", i, err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	if err := cb.Execute(ctx, func() error { return nil }); err != ErrOpen {
		t.Errorf("expected ErrOpen while open, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	cb := New("test", testConfig(), zaptest.NewLogger(t))
	ctx := context.Background()
	fail := errors.New("boom")

	// Two failures, one success, two more failures: never reaches the
	// threshold of three consecutive.
	cb.Execute(ctx, func() error { return fail })
	cb.Execute(ctx, func() error { return fail })
	cb.Execute(ctx, func() error { return nil })
	cb.Execute(ctx, func() error { return fail })
	cb.Execute(ctx, func() error { return fail })

	if cb.State() != StateClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cb := New("test", testConfig(), zaptest.NewLogger(t))
	ctx := context.Background()
	fail := errors.New("boom")

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, func() error { return fail })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	// Wait out the open timeout, then close with two successes.
	time.Sleep(60 * time.Millisecond)

	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("first half-open probe failed: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}
	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("second half-open probe failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed after success threshold, got %s", cb.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := New("test", testConfig(), zaptest.NewLogger(t))
	ctx := context.Background()
	fail := errors.New("boom")

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, func() error { return fail })
	}
	time.Sleep(60 * time.Millisecond)

	cb.Execute(ctx, func() error { return fail })
	if cb.State() != StateOpen {
		t.Errorf("expected reopen on half-open failure, got %s", cb.State())
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	cfg := testConfig()
	cfg.OnStateChange = func(name string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}
	cb := New("test", cfg, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, func() error { return errors.New("boom") })
	}

	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("expected single closed->open transition, got %v", transitions)
	}
}
