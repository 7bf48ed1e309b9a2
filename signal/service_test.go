package signal_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/signal"
	"github.com/xraph/stepflow/store/memory"
	"github.com/xraph/stepflow/store/storetest"
	"github.com/xraph/stepflow/task"
)

type recordingEmitter struct {
	mu       sync.Mutex
	resolved []string
}

func (r *recordingEmitter) EmitSignalResolved(_ context.Context, cb *signal.Callback) {
	r.mu.Lock()
	r.resolved = append(r.resolved, cb.Type)
	r.mu.Unlock()
}

func parkedTask(t *testing.T, s *memory.Store, clock *storetest.Clock) *task.Task {
	t.Helper()
	tk := storetest.NewTask("vm", clock.Now())
	tk.Phase = task.PhaseWaiting
	tk.ParkedAt = clock.Now()
	tk.WaitUntil = clock.Now().Add(time.Hour)
	if err := s.CreateTask(context.Background(), tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return tk
}

func TestResolveWakesTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := storetest.NewClock(storetest.Epoch)
	s := memory.New(memory.WithClock(clock.Now))
	em := &recordingEmitter{}
	svc := signal.NewService(s, s, slog.Default(), signal.WithEmitter(em), signal.WithClock(clock.Now))
	tk := parkedTask(t, s, clock)

	token, err := svc.Register(ctx, tk.ID, "vm-ready")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if pending, err := svc.Pending(ctx, token); err != nil || !pending {
		t.Fatalf("Pending = %v, %v", pending, err)
	}

	clock.Advance(time.Second)
	cb, err := svc.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cb.TaskID.String() != tk.ID.String() {
		t.Errorf("resolved callback belongs to %s", cb.TaskID)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !got.Runnable(clock.Now()) {
		t.Error("resolved signal did not wake the task")
	}
	if pending, _ := svc.Pending(ctx, token); pending {
		t.Error("callback still pending after resolve")
	}
	if _, err := svc.Resolve(ctx, token); !errors.Is(err, stepflow.ErrSignalNotFound) {
		t.Errorf("second Resolve: expected ErrSignalNotFound, got %v", err)
	}
	if len(em.resolved) != 1 || em.resolved[0] != "vm-ready" {
		t.Errorf("emitted %v", em.resolved)
	}
}

func TestResolveOnceUnderContention(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := storetest.NewClock(storetest.Epoch)
	s := memory.New(memory.WithClock(clock.Now))
	svc := signal.NewService(s, s, nil, signal.WithClock(clock.Now))
	tk := parkedTask(t, s, clock)

	token, err := svc.Register(ctx, tk.ID, "done")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Resolve(ctx, token); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("%d resolvers won, want 1", wins.Load())
	}
}

func TestSystemCallbacks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	svc := signal.NewService(s, s, nil)

	first, err := svc.Register(ctx, id.ID{}, "config-reload")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	second, err := svc.Register(ctx, id.ID{}, "config-reload")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if first != second {
		t.Errorf("system callback not reused: %s != %s", first, second)
	}

	for range 2 {
		if _, err := svc.Resolve(ctx, first); err != nil {
			t.Fatalf("Resolve system callback: %v", err)
		}
	}
	if pending, _ := svc.Pending(ctx, first); !pending {
		t.Error("resolving a system callback consumed it")
	}
}

func TestReleaseTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := storetest.NewClock(storetest.Epoch)
	s := memory.New(memory.WithClock(clock.Now))
	svc := signal.NewService(s, s, nil)
	tk := parkedTask(t, s, clock)

	var tokens []string
	for _, typ := range []string{"a", "b", "c"} {
		tok, err := svc.Register(ctx, tk.ID, typ)
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		tokens = append(tokens, tok)
	}
	if err := svc.Release(ctx, tokens[0]); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := svc.Release(ctx, tokens[0]); err != nil {
		t.Errorf("second Release: %v", err)
	}
	if err := svc.ReleaseTask(ctx, tk.ID); err != nil {
		t.Fatalf("ReleaseTask: %v", err)
	}
	for _, tok := range tokens {
		if pending, _ := svc.Pending(ctx, tok); pending {
			t.Errorf("token %s survived ReleaseTask", tok)
		}
	}
}

func TestRegisterRejectsEmptyType(t *testing.T) {
	t.Parallel()

	s := memory.New()
	if _, err := signal.NewService(s, s, nil).Register(context.Background(), id.NewTaskID(), ""); err == nil {
		t.Fatal("expected error for empty signal type")
	}
}

func TestResolveMalformedToken(t *testing.T) {
	t.Parallel()

	s := memory.New()
	svc := signal.NewService(s, s, nil)
	if _, err := svc.Resolve(context.Background(), "not-a-token"); !errors.Is(err, stepflow.ErrSignalNotFound) {
		t.Errorf("expected ErrSignalNotFound, got %v", err)
	}
}
