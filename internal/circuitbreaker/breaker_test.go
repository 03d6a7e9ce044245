package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestBreaker(threshold int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := New("test-origin", Config{FailureThreshold: threshold, SuccessThreshold: 1, Cooldown: 10 * time.Second})
	cb.nowFunc = clock.Now
	return cb, clock
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after 2 failures, got %s", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(2)
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Errorf("non-consecutive failures should not open, got %s", cb.State())
	}
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	cb, clock := newTestBreaker(1)
	cb.RecordFailure()

	clock.now = clock.now.Add(11 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected probe to be allowed, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("second concurrent probe should be rejected, got %v", err)
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("closed breaker rejected request: %v", err)
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	cb, clock := newTestBreaker(1)
	cb.RecordFailure()
	clock.now = clock.now.Add(11 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected reopened, got %s", cb.State())
	}
	clock.now = clock.now.Add(5 * time.Second)
	if err := cb.Allow(); !errors.Is(err, ErrOpen) {
		t.Error("cooldown should restart after failed probe")
	}
}

func TestBreaker_Disabled(t *testing.T) {
	cb, _ := newTestBreaker(0)
	for i := 0; i < 100; i++ {
		cb.RecordFailure()
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("disabled breaker rejected request: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("disabled breaker changed state: %s", cb.State())
	}
}
