package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/xraph/stepflow/ext"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/signal"
	"github.com/xraph/stepflow/task"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnTaskSubmitted(_ context.Context, _ *task.Task) error {
	e.calls = append(e.calls, "OnTaskSubmitted")
	return nil
}

func (e *allHooksExt) OnStepCompleted(_ context.Context, _ *task.Task, _, _ string, _ time.Duration) error {
	e.calls = append(e.calls, "OnStepCompleted")
	return nil
}

func (e *allHooksExt) OnTaskWaiting(_ context.Context, _ *task.Task, _ time.Time) error {
	e.calls = append(e.calls, "OnTaskWaiting")
	return nil
}

func (e *allHooksExt) OnTaskFinished(_ context.Context, _ *task.Task) error {
	e.calls = append(e.calls, "OnTaskFinished")
	return nil
}

func (e *allHooksExt) OnTaskFailed(_ context.Context, _ *task.Task, _ error) error {
	e.calls = append(e.calls, "OnTaskFailed")
	return nil
}

func (e *allHooksExt) OnSignalResolved(_ context.Context, _ *signal.Callback) error {
	e.calls = append(e.calls, "OnSignalResolved")
	return nil
}

func (e *allHooksExt) OnCronFired(_ context.Context, _ string, _ id.TaskID) error {
	e.calls = append(e.calls, "OnCronFired")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// finishOnlyExt only implements end-of-life hooks.
type finishOnlyExt struct {
	calls []string
}

func (e *finishOnlyExt) Name() string { return "finish-only" }

func (e *finishOnlyExt) OnTaskFinished(_ context.Context, _ *task.Task) error {
	e.calls = append(e.calls, "OnTaskFinished")
	return nil
}

func (e *finishOnlyExt) OnTaskFailed(_ context.Context, _ *task.Task, _ error) error {
	e.calls = append(e.calls, "OnTaskFailed")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnTaskFinished(_ context.Context, _ *task.Task) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	fo := &finishOnlyExt{}
	r.Register(all)
	r.Register(fo)

	ctx := context.Background()
	tk := &task.Task{Type: "provision"}

	r.EmitTaskFinished(ctx, tk)
	if diff := cmp.Diff([]string{"OnTaskFinished"}, all.calls); diff != "" {
		t.Errorf("all calls (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"OnTaskFinished"}, fo.calls); diff != "" {
		t.Errorf("finish-only calls (-want +got):\n%s", diff)
	}

	r.EmitTaskSubmitted(ctx, tk)
	if len(all.calls) != 2 || all.calls[1] != "OnTaskSubmitted" {
		t.Fatalf("all: expected OnTaskSubmitted as 2nd, got %v", all.calls)
	}
	if len(fo.calls) != 1 {
		t.Fatalf("finish-only: should still have 1 call, got %v", fo.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	tk := &task.Task{Type: "provision"}

	r.EmitTaskSubmitted(ctx, tk)
	r.EmitStepCompleted(ctx, tk, "boot", "ok", time.Second)
	r.EmitTaskWaiting(ctx, tk, time.Now().Add(time.Minute))
	r.EmitTaskFinished(ctx, tk)
	r.EmitTaskFailed(ctx, tk, errors.New("fail"))
	r.EmitSignalResolved(ctx, &signal.Callback{Type: "done"})
	r.EmitCronFired(ctx, "nightly", id.NewTaskID())
	r.EmitShutdown(ctx)

	want := []string{
		"OnTaskSubmitted", "OnStepCompleted", "OnTaskWaiting",
		"OnTaskFinished", "OnTaskFailed", "OnSignalResolved",
		"OnCronFired", "OnShutdown",
	}
	if diff := cmp.Diff(want, all.calls); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(&failingExt{})
	r.Register(all)

	ctx := context.Background()
	r.EmitTaskFinished(ctx, &task.Task{})
	r.EmitShutdown(ctx)

	if diff := cmp.Diff([]string{"OnTaskFinished", "OnShutdown"}, all.calls); diff != "" {
		t.Errorf("calls despite failing ext (-want +got):\n%s", diff)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(nil)
	ctx := context.Background()

	// None of these should panic.
	r.EmitTaskSubmitted(ctx, &task.Task{})
	r.EmitStepCompleted(ctx, &task.Task{}, "a", "b", time.Second)
	r.EmitTaskWaiting(ctx, &task.Task{}, time.Now())
	r.EmitTaskFinished(ctx, &task.Task{})
	r.EmitTaskFailed(ctx, &task.Task{}, errors.New("x"))
	r.EmitSignalResolved(ctx, &signal.Callback{})
	r.EmitCronFired(ctx, "test", id.NewTaskID())
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	var order []string
	r.Register(&orderExt{name: "first", order: &order})
	r.Register(&orderExt{name: "second", order: &order})

	r.EmitTaskSubmitted(context.Background(), &task.Task{})

	if diff := cmp.Diff([]string{"first", "second"}, order); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

type orderExt struct {
	name  string
	order *[]string
}

func (e *orderExt) Name() string { return e.name }

func (e *orderExt) OnTaskSubmitted(_ context.Context, _ *task.Task) error {
	*e.order = append(*e.order, e.name)
	return nil
}
