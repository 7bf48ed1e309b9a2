package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/middleware"
	"github.com/xraph/stepflow/task"
)

func newTestTask() *task.Task {
	return &task.Task{
		ID:    id.NewTaskID(),
		Type:  "provision",
		State: "boot",
		Phase: task.PhaseStarted,
		Group: "infra",
		Steps: 3,
	}
}

func TestChainExecutionOrder(t *testing.T) {
	t.Parallel()

	var order []string
	record := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *task.Task, next middleware.Handler) error {
			order = append(order, name+"-before")
			err := next(ctx)
			order = append(order, name+"-after")
			return err
		}
	}

	chain := middleware.Chain(record("mw1"), record("mw2"))
	err := chain(context.Background(), newTestTask(), func(context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestChainEmpty(t *testing.T) {
	t.Parallel()

	called := false
	err := middleware.Chain()(context.Background(), newTestTask(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("empty chain: called=%v err=%v", called, err)
	}
}

func TestChainPropagatesError(t *testing.T) {
	t.Parallel()

	want := errors.New("step error")
	pass := func(ctx context.Context, _ *task.Task, next middleware.Handler) error { return next(ctx) }
	err := middleware.Chain(pass, pass)(context.Background(), newTestTask(), func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler middleware.Handler
		wantErr string
	}{
		{"panic", func(context.Context) error { panic("kaboom") }, "panic in task provision state boot: kaboom"},
		{"error passes through", func(context.Context) error { return errors.New("plain") }, "plain"},
		{"success", func(context.Context) error { return nil }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			err := middleware.Recover(logger)(context.Background(), newTestTask(), tt.handler)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Fatalf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLogging(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	m := middleware.Logging(logger)
	tk := newTestTask()

	_ = m(context.Background(), tk, func(context.Context) error { return nil })
	_ = m(context.Background(), tk, func(context.Context) error { return errors.New("ssh down") })

	out := buf.String()
	for _, want := range []string{"step started", "step completed", "step failed", "ssh down", tk.ID.String(), "state=boot"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		timeout      time.Duration
		wantDeadline bool
	}{
		{"with deadline", 50 * time.Millisecond, true},
		{"unlimited", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := middleware.Timeout(slog.Default(), func(*task.Task) time.Duration { return tt.timeout })
			_ = m(context.Background(), newTestTask(), func(ctx context.Context) error {
				_, ok := ctx.Deadline()
				if ok != tt.wantDeadline {
					t.Errorf("deadline set = %v, want %v", ok, tt.wantDeadline)
				}
				return nil
			})
		})
	}
}

func TestTimeoutCancelsSlowStep(t *testing.T) {
	t.Parallel()

	m := middleware.Timeout(slog.Default(), func(*task.Task) time.Duration { return 10 * time.Millisecond })
	err := m(context.Background(), newTestTask(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTypeTimeouts(t *testing.T) {
	t.Parallel()

	reg := task.NewRegistry()
	def := task.NewDefinition[struct{}]("provision", "boot { * finish }", task.WithTimeout(42*time.Second))
	if _, err := task.RegisterDefinition(reg, def); err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}
	timeoutOf := middleware.TypeTimeouts(reg)

	if got := timeoutOf(newTestTask()); got != 42*time.Second {
		t.Errorf("registered type timeout = %v, want 42s", got)
	}
	if got := timeoutOf(&task.Task{Type: "unknown"}); got != 0 {
		t.Errorf("unknown type timeout = %v, want 0", got)
	}
}
