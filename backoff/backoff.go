// Package backoff computes the delays between repeated attempts: idle
// scheduler passes that found nothing to claim, and lock acquisitions
// that lost to another holder. Strategies are stateless and safe for
// concurrent use.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Func adapts a function to Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// Constant always waits d.
func Constant(d time.Duration) Strategy {
	return Func(func(int) time.Duration { return d })
}

// Exponential doubles the delay each attempt, starting at initial and
// capped at maxDelay (0 disables the cap).
func Exponential(initial, maxDelay time.Duration) Strategy {
	return Func(func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := float64(initial) * math.Pow(2, float64(attempt-1))
		if maxDelay > 0 && d > float64(maxDelay) {
			return maxDelay
		}
		return time.Duration(d)
	})
}

// Jitter spreads s over [d/2, d] so that many servers backing off
// together do not retry in lockstep.
func Jitter(s Strategy) Strategy {
	return Func(func(attempt int) time.Duration {
		d := s.Delay(attempt)
		if d <= 0 {
			return d
		}
		half := d / 2
		return half + time.Duration(rand.Int64N(int64(d-half)+1)) //nolint:gosec // jitter does not need crypto rand
	})
}

// Idle is the scheduler's default back-off between empty passes: it
// grows from a tenth of the poll interval up to the interval itself.
func Idle(pollInterval time.Duration) Strategy {
	initial := pollInterval / 10
	if initial <= 0 {
		initial = pollInterval
	}
	return Jitter(Exponential(initial, pollInterval))
}

// Lock is the default back-off between contended lock attempts.
func Lock() Strategy {
	return Jitter(Exponential(10*time.Millisecond, 500*time.Millisecond))
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
