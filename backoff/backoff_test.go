package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/stepflow/backoff"
)

func TestConstant(t *testing.T) {
	t.Parallel()

	c := backoff.Constant(5 * time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestExponential(t *testing.T) {
	t.Parallel()

	e := backoff.Exponential(100*time.Millisecond, time.Second)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	t.Parallel()

	j := backoff.Jitter(backoff.Constant(time.Second))
	for range 200 {
		d := j.Delay(1)
		if d < 500*time.Millisecond || d > time.Second {
			t.Fatalf("jittered delay %v outside [500ms, 1s]", d)
		}
	}
	if got := backoff.Jitter(backoff.Constant(0)).Delay(1); got != 0 {
		t.Errorf("jitter of zero = %v", got)
	}
}

func TestIdleCapsAtPollInterval(t *testing.T) {
	t.Parallel()

	s := backoff.Idle(2 * time.Second)
	for attempt := 1; attempt <= 20; attempt++ {
		if d := s.Delay(attempt); d > 2*time.Second {
			t.Fatalf("Delay(%d) = %v exceeds poll interval", attempt, d)
		}
	}
}

func TestSleepCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := backoff.Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep = %v, want context.Canceled", err)
	}
	if err := backoff.Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep = %v", err)
	}
}
