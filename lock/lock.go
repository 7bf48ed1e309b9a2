// Package lock provides named distributed locks over an atomic
// compare-and-set primitive in the backing store.
//
// Locks carry a holder identity for stuck-lock diagnosis and a TTL so
// that a crashed holder cannot block a name forever. The scheduler takes
// "task:<id>" before stepping a task; the cron scheduler takes
// "cron:<name>" before firing an entry.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/backoff"
)

// TaskLockName is the lock guarding a task's next step.
func TaskLockName(taskID string) string { return "task:" + taskID }

// TaskLockPrefix prefixes every task lock name.
const TaskLockPrefix = "task:"

// Locker acquires and releases named locks for one holder.
type Locker struct {
	store   Store
	holder  string
	ttl     time.Duration
	backoff backoff.Strategy
	logger  *slog.Logger
}

// Option configures a Locker.
type Option func(*Locker)

// WithTTL sets how long a lock outlives a holder that never releases it.
func WithTTL(d time.Duration) Option {
	return func(l *Locker) { l.ttl = d }
}

// WithBackoff sets the delay between attempts of a blocking Acquire.
func WithBackoff(s backoff.Strategy) Option {
	return func(l *Locker) { l.backoff = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) { l.logger = logger }
}

// New creates a Locker acting as holder.
func New(store Store, holder string, opts ...Option) *Locker {
	l := &Locker{
		store:   store,
		holder:  holder,
		ttl:     5 * time.Minute,
		backoff: backoff.Lock(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Holder returns the identity recorded on locks this Locker takes.
func (l *Locker) Holder() string { return l.holder }

// Acquire takes name, retrying until timeout elapses. A zero timeout makes
// a single non-blocking attempt. It reports true only if the lock was
// newly acquired by this call.
func (l *Locker) Acquire(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	ok, err := l.store.AcquireLock(ctx, name, l.holder, l.ttl)
	if err != nil || ok || timeout <= 0 {
		return ok, err
	}

	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		wait := min(l.backoff.Delay(attempt), remaining)
		if err := backoff.Sleep(ctx, wait); err != nil {
			return false, err
		}
		ok, err := l.store.AcquireLock(ctx, name, l.holder, l.ttl)
		if err != nil || ok {
			return ok, err
		}
	}
}

// Release frees name if this Locker holds it.
func (l *Locker) Release(ctx context.Context, name string) (bool, error) {
	ok, err := l.store.ReleaseLock(ctx, name, l.holder)
	if err != nil {
		return false, err
	}
	if !ok {
		l.logger.Debug("release of lock not held",
			slog.String("lock", name),
			slog.String("holder", l.holder),
		)
	}
	return ok, nil
}

// Renew extends this Locker's hold on name by the configured TTL.
func (l *Locker) Renew(ctx context.Context, name string) (bool, error) {
	return l.store.RenewLock(ctx, name, l.holder, l.ttl)
}

// IsFree reports whether name is currently unheld.
func (l *Locker) IsFree(ctx context.Context, name string) (bool, error) {
	_, err := l.store.GetLock(ctx, name)
	if errors.Is(err, stepflow.ErrLockNotHeld) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// Holding returns the record of name, or stepflow.ErrLockNotHeld.
func (l *Locker) Holding(ctx context.Context, name string) (*Record, error) {
	return l.store.GetLock(ctx, name)
}
