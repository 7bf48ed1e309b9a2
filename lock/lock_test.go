package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/backoff"
	"github.com/xraph/stepflow/lock"
	"github.com/xraph/stepflow/store/memory"
	"github.com/xraph/stepflow/store/storetest"
)

func TestLockerExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	a := lock.New(s, "server-a")
	b := lock.New(s, "server-b")
	name := lock.TaskLockName("task_01")

	if ok, err := a.Acquire(ctx, name, 0); err != nil || !ok {
		t.Fatalf("a.Acquire = %v, %v", ok, err)
	}
	if ok, err := b.Acquire(ctx, name, 0); err != nil || ok {
		t.Fatalf("b.Acquire on held lock = %v, %v", ok, err)
	}
	if free, err := b.IsFree(ctx, name); err != nil || free {
		t.Errorf("IsFree on held lock = %v, %v", free, err)
	}
	rec, err := b.Holding(ctx, name)
	if err != nil || rec.Holder != "server-a" {
		t.Errorf("Holding = %+v, %v", rec, err)
	}
	if ok, err := b.Release(ctx, name); err != nil || ok {
		t.Errorf("release by non-holder = %v, %v", ok, err)
	}
	if ok, err := a.Release(ctx, name); err != nil || !ok {
		t.Fatalf("a.Release = %v, %v", ok, err)
	}
	if free, err := b.IsFree(ctx, name); err != nil || !free {
		t.Errorf("IsFree after release = %v, %v", free, err)
	}
}

func TestLockerBlockingAcquire(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	fast := lock.WithBackoff(backoff.Constant(time.Millisecond))
	a := lock.New(s, "a", fast)
	b := lock.New(s, "b", fast)

	if ok, err := a.Acquire(ctx, "cron:nightly", 0); err != nil || !ok {
		t.Fatalf("a.Acquire = %v, %v", ok, err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = a.Release(ctx, "cron:nightly")
	}()

	ok, err := b.Acquire(ctx, "cron:nightly", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("blocking Acquire after release = %v, %v", ok, err)
	}
}

func TestLockerAcquireTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	fast := lock.WithBackoff(backoff.Constant(time.Millisecond))
	if ok, err := lock.New(s, "a").Acquire(ctx, "x", 0); err != nil || !ok {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}

	start := time.Now()
	ok, err := lock.New(s, "b", fast).Acquire(ctx, "x", 30*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("Acquire of held lock = %v, %v", ok, err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("gave up after %v, before the timeout", elapsed)
	}
}

func TestLockerAcquireCanceled(t *testing.T) {
	t.Parallel()

	s := memory.New()
	if ok, err := lock.New(s, "a").Acquire(context.Background(), "x", 0); err != nil || !ok {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := lock.New(s, "b", lock.WithBackoff(backoff.Constant(time.Second))).Acquire(ctx, "x", time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLockerTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := storetest.NewClock(storetest.Epoch)
	s := memory.New(memory.WithClock(clock.Now))
	a := lock.New(s, "crashed", lock.WithTTL(10*time.Second))
	b := lock.New(s, "survivor", lock.WithTTL(10*time.Second))

	if ok, err := a.Acquire(ctx, "task:t", 0); err != nil || !ok {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}
	clock.Advance(5 * time.Second)
	if ok, err := a.Renew(ctx, "task:t"); err != nil || !ok {
		t.Fatalf("Renew = %v, %v", ok, err)
	}
	clock.Advance(9 * time.Second)
	if ok, err := b.Acquire(ctx, "task:t", 0); err != nil || ok {
		t.Fatalf("renewed lock taken over: %v, %v", ok, err)
	}
	clock.Advance(time.Second)
	if ok, err := b.Acquire(ctx, "task:t", 0); err != nil || !ok {
		t.Fatalf("expired lock not taken over: %v, %v", ok, err)
	}
	if _, err := a.Holding(ctx, "task:x"); !errors.Is(err, stepflow.ErrLockNotHeld) {
		t.Errorf("Holding unknown lock: expected ErrLockNotHeld, got %v", err)
	}
}
