package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/control"
	"github.com/xraph/stepflow/engine"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/store/memory"
	"github.com/xraph/stepflow/store/storetest"
	"github.com/xraph/stepflow/task"
	"github.com/xraph/stepflow/transition"
)

type host struct {
	Name  string `json:"name"`
	Token string `json:"token,omitempty"`
}

// hooks records lifecycle events delivered through the extension registry.
type hooks struct {
	mu        sync.Mutex
	submitted []string
	finished  []task.ExitStatus
}

func (h *hooks) Name() string { return "test-hooks" }

func (h *hooks) OnTaskSubmitted(_ context.Context, t *task.Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.submitted = append(h.submitted, t.Type)
	return nil
}

func (h *hooks) OnTaskFinished(_ context.Context, t *task.Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, t.ExitStatus)
	return nil
}

func newEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()

	srv, err := stepflow.New(
		stepflow.WithStore(memory.New()),
		stepflow.WithConcurrency(2),
		stepflow.WithPollInterval(10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("stepflow.New: %v", err)
	}
	eng, err := engine.Build(srv, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng
}

func start(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
}

// waitFor polls the task until cond holds or the deadline passes.
func waitFor(t *testing.T, eng *engine.Engine, taskID id.TaskID, what string, cond func(*task.Task) bool) *task.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		tk, err := eng.Task(context.Background(), taskID)
		if err != nil {
			t.Fatalf("Task: %v", err)
		}
		if cond(tk) {
			return tk
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: phase %s state %s", what, tk.Phase, tk.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func finished(tk *task.Task) bool { return tk.Phase == task.PhaseFinished }

func TestEndToEnd(t *testing.T) {
	t.Parallel()

	rec := &hooks{}
	eng := newEngine(t, engine.WithExtension(rec))

	var booted string
	_, err := engine.Register(eng, task.NewDefinition[host]("provision", "boot { * configure }\nconfigure { * finish }").
		Entry("boot", func(s *task.Step[host]) error {
			booted = s.Object.Name
			return nil
		}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	tk, err := engine.Submit(context.Background(), eng, "provision", host{Name: "web-1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if tk.Phase != task.PhaseBeforeStart || tk.State != "boot" {
		t.Fatalf("submitted task = %s/%s", tk.Phase, tk.State)
	}

	start(t, eng)
	got := waitFor(t, eng, tk.ID, "completion", finished)

	if got.ExitStatus != task.ExitComplete || got.Steps != 2 {
		t.Errorf("exit %s after %d steps, want complete after 2", got.ExitStatus, got.Steps)
	}
	if booted != "web-1" {
		t.Errorf("entry saw object %q", booted)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.submitted) != 1 || rec.submitted[0] != "provision" {
		t.Errorf("submitted hooks = %v", rec.submitted)
	}
	if len(rec.finished) != 1 || rec.finished[0] != task.ExitComplete {
		t.Errorf("finished hooks = %v", rec.finished)
	}
}

func registerWaiter(t *testing.T, eng *engine.Engine) {
	t.Helper()
	_, err := engine.Register(eng, task.NewDefinition[host]("await-boot", "boot:ready { pending boot wait=3600 exec=false; ok finish }").
		Entry("boot", func(s *task.Step[host]) error {
			token, err := s.RegisterSignal("vm-booted")
			s.Object.Token = token
			return err
		}).
		Decision("ready", func(s *task.Step[host]) transition.Result {
			pending, err := s.SignalPending(s.Object.Token)
			switch {
			case err != nil:
				return transition.Exception(err)
			case pending:
				return transition.Outcome("pending")
			default:
				return transition.Outcome("ok")
			}
		}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func TestSignalWakesWaitingTask(t *testing.T) {
	t.Parallel()

	eng := newEngine(t)
	registerWaiter(t, eng)
	tk, err := engine.Submit(context.Background(), eng, "await-boot", host{Name: "db-1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	start(t, eng)

	parked := waitFor(t, eng, tk.ID, "parking", func(tk *task.Task) bool { return tk.Phase == task.PhaseWaiting })
	typ, _ := eng.Registry().Get("await-boot")
	var obj host
	if err := typ.Codec().Decode(parked.Object, &obj); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	cb, err := eng.Signal(context.Background(), obj.Token)
	if err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if cb.TaskID.String() != tk.ID.String() || cb.Type != "vm-booted" {
		t.Errorf("callback = %+v", cb)
	}

	// The hour-long wait must not delay the task once signalled.
	got := waitFor(t, eng, tk.ID, "completion", finished)
	if got.ExitStatus != task.ExitComplete {
		t.Errorf("ExitStatus = %s", got.ExitStatus)
	}

	if _, err := eng.Signal(context.Background(), obj.Token); !errors.Is(err, stepflow.ErrSignalNotFound) {
		t.Errorf("second Signal = %v, want ErrSignalNotFound", err)
	}
}

func TestTerminate(t *testing.T) {
	t.Parallel()

	eng := newEngine(t)
	registerWaiter(t, eng)
	tk, err := engine.Submit(context.Background(), eng, "await-boot", host{Name: "db-2"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	start(t, eng)
	waitFor(t, eng, tk.ID, "parking", func(tk *task.Task) bool { return tk.Phase == task.PhaseWaiting })

	if err := eng.Terminate(context.Background(), tk.ID); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	got := waitFor(t, eng, tk.ID, "termination", finished)
	if got.ExitStatus != task.ExitTerminated {
		t.Errorf("ExitStatus = %s, want terminated", got.ExitStatus)
	}

	if err := eng.Terminate(context.Background(), tk.ID); !errors.Is(err, stepflow.ErrTaskFinished) {
		t.Errorf("Terminate on finished task = %v, want ErrTaskFinished", err)
	}
}

func TestMaintenanceHoldsClaims(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng := newEngine(t)
	if _, err := engine.Register(eng, task.NewDefinition[host]("noop", "only { * finish }")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := eng.Maintenance(ctx, true); err != nil {
		t.Fatalf("Maintenance: %v", err)
	}
	tk, err := engine.Submit(ctx, eng, "noop", host{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	start(t, eng)

	time.Sleep(100 * time.Millisecond)
	if got, _ := eng.Task(ctx, tk.ID); got.Phase != task.PhaseBeforeStart {
		t.Fatalf("task ran during maintenance: phase %s", got.Phase)
	}

	if err := eng.Maintenance(ctx, false); err != nil {
		t.Fatalf("Maintenance: %v", err)
	}
	waitFor(t, eng, tk.ID, "completion", finished)
}

func TestPauseFlags(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng := newEngine(t)
	if err := eng.Pause(ctx, control.PauseSoft); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := eng.PauseGroup(ctx, "infra", control.PauseHard); err != nil {
		t.Fatalf("PauseGroup: %v", err)
	}

	flags, err := eng.Flags(ctx)
	if err != nil {
		t.Fatalf("Flags: %v", err)
	}
	if flags.Global != control.PauseSoft || flags.Groups["infra"] != control.PauseHard || flags.Maintenance {
		t.Errorf("flags = %+v", flags)
	}
}

func TestSubmitUnknownType(t *testing.T) {
	t.Parallel()

	eng := newEngine(t)
	_, err := engine.Submit(context.Background(), eng, "missing", host{})
	if !errors.Is(err, stepflow.ErrTaskTypeNotFound) {
		t.Fatalf("Submit = %v, want ErrTaskTypeNotFound", err)
	}
}

func TestRegisterRejectsBadTable(t *testing.T) {
	t.Parallel()

	eng := newEngine(t)
	_, err := engine.Register(eng, task.NewDefinition[host]("broken", "a { * nowhere }"))
	var ce *task.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("Register = %v, want *ConfigurationError", err)
	}
}

func TestBuildWithoutStore(t *testing.T) {
	t.Parallel()

	srv, err := stepflow.New()
	if err != nil {
		t.Fatalf("stepflow.New: %v", err)
	}
	if _, err := engine.Build(srv); !errors.Is(err, stepflow.ErrNoStore) {
		t.Fatalf("Build = %v, want ErrNoStore", err)
	}
}

func TestRegisterCron(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := storetest.NewClock(storetest.Epoch)
	srv, err := stepflow.New(stepflow.WithStore(memory.New(memory.WithClock(clock.Now))))
	if err != nil {
		t.Fatalf("stepflow.New: %v", err)
	}
	eng, err := engine.Build(srv, engine.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := engine.Register(eng, task.NewDefinition[host]("rotate-keys", "rotate { * finish }")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := engine.RegisterCron(ctx, eng, "nightly-rotate", "@every 1h", "rotate-keys", host{Name: "vault"}, task.InGroup("security")); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	if err := engine.RegisterCron(ctx, eng, "nightly-rotate", "@every 1h", "rotate-keys", host{}); err != nil {
		t.Fatalf("re-registering a cron should be a no-op: %v", err)
	}
	if err := engine.RegisterCron(ctx, eng, "bad", "not a schedule", "rotate-keys", host{}); err == nil {
		t.Fatal("RegisterCron accepted an invalid schedule")
	}

	if !eng.Elector().Campaign(ctx) {
		t.Fatal("single server did not win leadership")
	}
	if n := eng.Cron().Tick(ctx); n != 0 {
		t.Fatalf("fired %d entries before they were due", n)
	}
	clock.Advance(time.Hour)
	if n := eng.Cron().Tick(ctx); n != 1 {
		t.Fatalf("Tick fired %d entries, want 1", n)
	}

	tasks, err := eng.Tasks(ctx, task.ListOpts{Type: "rotate-keys"})
	if err != nil || len(tasks) != 1 {
		t.Fatalf("Tasks = %v, %v", tasks, err)
	}
	if tasks[0].Group != "security" {
		t.Errorf("Group = %q, want security", tasks[0].Group)
	}
	typ, _ := eng.Registry().Get("rotate-keys")
	var obj host
	if err := typ.Codec().Decode(tasks[0].Object, &obj); err != nil || obj.Name != "vault" {
		t.Errorf("cron object = %+v, %v", obj, err)
	}
}

func TestClusterStoreOverride(t *testing.T) {
	t.Parallel()

	registry := memory.New()
	eng := newEngine(t, engine.WithClusterStore(registry))
	start(t, eng)

	ctx := context.Background()
	servers, err := registry.ListServers(ctx)
	if err != nil {
		t.Fatalf("ListServers: %v", err)
	}
	if len(servers) != 1 || servers[0].ID.String() != eng.ServerID().String() {
		t.Fatalf("registry servers = %v, want this server only", servers)
	}
	inMain, err := eng.Store().ListServers(ctx)
	if err != nil {
		t.Fatalf("ListServers main: %v", err)
	}
	if len(inMain) != 0 {
		t.Errorf("main store has %d servers, want 0", len(inMain))
	}
}
