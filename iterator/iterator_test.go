package iterator_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/iterator"
	"github.com/xraph/stepflow/middleware"
	"github.com/xraph/stepflow/signal"
	"github.com/xraph/stepflow/store/memory"
	"github.com/xraph/stepflow/store/storetest"
	"github.com/xraph/stepflow/task"
	"github.com/xraph/stepflow/transition"
)

// recorder captures lifecycle events.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) EmitTaskSubmitted(_ context.Context, t *task.Task) { r.add("submitted %s", t.Type) }
func (r *recorder) EmitStepCompleted(_ context.Context, t *task.Task, from, outcome string, _ time.Duration) {
	r.add("step %s %s/%s", t.Type, from, outcome)
}
func (r *recorder) EmitTaskWaiting(_ context.Context, t *task.Task, _ time.Time) { r.add("waiting %s", t.Type) }
func (r *recorder) EmitTaskFinished(_ context.Context, t *task.Task)             { r.add("finished %s %s", t.Type, t.ExitStatus) }
func (r *recorder) EmitTaskFailed(_ context.Context, t *task.Task, _ error)      { r.add("failed %s %s", t.Type, t.ExitStatus) }

type harness struct {
	t       *testing.T
	store   *memory.Store
	clock   *storetest.Clock
	reg     *task.Registry
	signals *signal.Service
	exec    *iterator.Executor
	events  *recorder
}

func newHarness(t *testing.T, mws ...middleware.Middleware) *harness {
	t.Helper()

	clock := storetest.NewClock(storetest.Epoch)
	s := memory.New(memory.WithClock(clock.Now))
	h := &harness{
		t:      t,
		store:  s,
		clock:  clock,
		reg:    task.NewRegistry(),
		events: &recorder{},
	}
	h.signals = signal.NewService(s, s, slog.Default(), signal.WithClock(clock.Now))
	h.exec = iterator.NewExecutor(s, h.reg,
		iterator.WithSignals(h.signals),
		iterator.WithEmitter(h.events),
		iterator.WithClock(clock.Now),
		iterator.WithMiddleware(mws...),
	)
	return h
}

func register[T any](h *harness, def *task.Definition[T]) *task.Type {
	h.t.Helper()
	typ, err := task.RegisterDefinition(h.reg, def)
	if err != nil {
		h.t.Fatalf("RegisterDefinition %s: %v", def.Name, err)
	}
	return typ
}

func (h *harness) submit(typ *task.Type, object any) id.TaskID {
	h.t.Helper()
	tk, err := typ.NewTask(object, h.clock.Now())
	if err != nil {
		h.t.Fatalf("NewTask: %v", err)
	}
	if err := h.store.CreateTask(context.Background(), tk); err != nil {
		h.t.Fatalf("CreateTask: %v", err)
	}
	return tk.ID
}

func (h *harness) step(taskID id.TaskID) iterator.Report {
	h.t.Helper()
	rep, err := h.exec.Step(context.Background(), taskID)
	if err != nil {
		h.t.Fatalf("Step: %v", err)
	}
	return rep
}

func (h *harness) get(taskID id.TaskID) *task.Task {
	h.t.Helper()
	tk, err := h.store.GetTask(context.Background(), taskID)
	if err != nil {
		h.t.Fatalf("GetTask: %v", err)
	}
	return tk
}

type empty struct{}

func TestTwoStepFinish(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	typ := register(h, task.NewDefinition[empty]("simple", "start{*:step1} step1{*:finish}").
		Entry("step1", func(*task.Step[empty]) error { return nil }))
	taskID := h.submit(typ, nil)

	first := h.step(taskID)
	if first.From != "start" || first.To != "step1" || first.Finished() {
		t.Fatalf("first step = %+v", first)
	}
	second := h.step(taskID)
	if !second.Finished() || second.To != "finish" || second.ExitStatus != task.ExitComplete {
		t.Fatalf("second step = %+v", second)
	}

	got := h.get(taskID)
	if got.Phase != task.PhaseFinished || got.ExitStatus != task.ExitComplete || got.Steps != 2 {
		t.Errorf("task = phase %s exit %s steps %d", got.Phase, got.ExitStatus, got.Steps)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Error("timestamps not recorded")
	}

	if rep := h.step(taskID); !rep.Noop {
		t.Errorf("finished task stepped again: %+v", rep)
	}

	want := []string{"step simple start/*", "step simple step1/*", "finished simple complete"}
	if diff := cmp.Diff(want, h.events.events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestUnhandledException(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry task.EntryFunc[empty]
		want  task.ExitStatus
	}{
		{"system error", func(*task.Step[empty]) error { return errors.New("ssh: connection refused") }, task.ExitErrorSystem},
		{"user error", func(*task.Step[empty]) error { return task.UserErrorf("host %q does not exist", "web-9") }, task.ExitErrorUser},
		{"panic", func(*task.Step[empty]) error { panic("nil map") }, task.ExitErrorSystem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			calls := 0
			typ := register(h, task.NewDefinition[empty]("fragile", "work { * finish }").
				Entry("work", func(s *task.Step[empty]) error {
					calls++
					return tt.entry(s)
				}))
			taskID := h.submit(typ, nil)
			h.step(taskID)

			got := h.get(taskID)
			if got.ExitStatus != tt.want || got.Phase != task.PhaseFinished {
				t.Fatalf("exit = %s phase = %s, want %s finished", got.ExitStatus, got.Phase, tt.want)
			}
			if got.ExitMessage == "" || got.ExitCode == 0 {
				t.Errorf("exit code/message not recorded: %d %q", got.ExitCode, got.ExitMessage)
			}

			h.clock.Advance(time.Hour)
			h.step(taskID)
			if calls != 1 {
				t.Errorf("entry ran %d times, want exactly 1", calls)
			}
		})
	}
}

func TestExceptionRoute(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	typ := register(h, task.NewDefinition[empty]("guarded", "work { * finish; ! cleanup }\ncleanup { * terminate }").
		Entry("work", func(*task.Step[empty]) error { panic("boom") }))
	taskID := h.submit(typ, nil)

	rep := h.step(taskID)
	if rep.Outcome != "!" || rep.To != "cleanup" {
		t.Fatalf("report = %+v, want ! to cleanup", rep)
	}
	rep = h.step(taskID)
	if rep.ExitStatus != task.ExitTerminated {
		t.Fatalf("exit = %s, want terminated", rep.ExitStatus)
	}
}

func TestRetryBudget(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	attempts := 0
	typ := register(h, task.NewDefinition[empty]("flaky", "check:up { ok finish; retry check wait=7 max=3; * giveup }\ngiveup { * terminate }").
		Entry("check", func(*task.Step[empty]) error { attempts++; return nil }).
		Decision("up", func(*task.Step[empty]) transition.Result { return transition.Retry(0) }))
	taskID := h.submit(typ, nil)

	for i := 1; i <= 3; i++ {
		rep := h.step(taskID)
		if rep.To != "check" || rep.Delay != 7*time.Second || rep.Phase != task.PhaseWaiting {
			t.Fatalf("retry %d: %+v", i, rep)
		}
		h.clock.Advance(6 * time.Second)
		if rep := h.step(taskID); !rep.Noop {
			t.Fatalf("retry %d: reclaimed before its wait elapsed", i)
		}
		h.clock.Advance(time.Second)
	}
	if attempts != 3 {
		t.Errorf("entry ran %d times, want 3", attempts)
	}
	if got := h.get(taskID).Counters[transition.CounterKey("check", "retry")]; got != 3 {
		t.Errorf("retry counter = %d, want 3", got)
	}

	rep := h.step(taskID)
	if rep.To != "giveup" || rep.Outcome != "*" {
		t.Fatalf("fourth retry = %+v, want wildcard to giveup", rep)
	}
}

func TestWaitResult(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	entries := 0
	typ := register(h, task.NewDefinition[empty]("patient", "work:ready { ok finish; retry work max=1 }").
		Entry("work", func(*task.Step[empty]) error { entries++; return nil }).
		Decision("ready", func(s *task.Step[empty]) transition.Result {
			if entries < 3 {
				return transition.Wait(30 * time.Second)
			}
			return transition.Outcome("ok")
		}))
	taskID := h.submit(typ, nil)

	for range 2 {
		rep := h.step(taskID)
		if rep.Delay != 30*time.Second || rep.To != "work" || rep.Outcome != "" {
			t.Fatalf("wait step = %+v", rep)
		}
		h.clock.Advance(30 * time.Second)
	}
	if rep := h.step(taskID); rep.ExitStatus != task.ExitComplete {
		t.Fatalf("final step = %+v", rep)
	}
	if got := h.get(taskID); len(got.Counters) != 1 {
		t.Errorf("wait touched counters: %v", got.Counters)
	}
	if entries != 3 {
		t.Errorf("entry ran %d times, want 3 (wait re-runs the entry)", entries)
	}
}

// vm is the domain object of the signal-driven type.
type vm struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

func signalType(h *harness, entries *int) *task.Type {
	return register(h, task.NewDefinition[vm]("boot-vm", "boot:ready { pending boot wait=10 exec=false; ok finish }").
		Entry("boot", func(s *task.Step[vm]) error {
			*entries++
			token, err := s.RegisterSignal("vm-ready")
			if err != nil {
				return err
			}
			s.Object.Token = token
			return nil
		}).
		Decision("ready", func(s *task.Step[vm]) transition.Result {
			pending, err := s.SignalPending(s.Object.Token)
			if err != nil {
				return transition.Exception(err)
			}
			if pending {
				return transition.Outcome("pending")
			}
			return transition.Outcome("ok")
		}))
}

func TestWaitTimerAndSignalWake(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	entries := 0
	taskID := h.submit(signalType(h, &entries), vm{Name: "web-1"})

	rep := h.step(taskID)
	if rep.Phase != task.PhaseWaiting || rep.Delay != 10*time.Second {
		t.Fatalf("first step = %+v", rep)
	}
	var obj vm
	if err := decodeVM(h, taskID, &obj); err != nil || obj.Token == "" {
		t.Fatalf("token not persisted: %q, %v", obj.Token, err)
	}

	// Timer path: not before 10 simulated seconds.
	h.clock.Advance(9 * time.Second)
	if rep := h.step(taskID); !rep.Noop {
		t.Fatal("reclaimed before wait elapsed")
	}
	h.clock.Advance(time.Second)
	if rep := h.step(taskID); rep.Noop || rep.Phase != task.PhaseWaiting {
		t.Fatalf("timer expiry step = %+v", rep)
	}
	if entries != 1 {
		t.Fatalf("exec=false re-ran the entry: %d runs", entries)
	}

	// Signal path: immediately once the token resolves.
	h.clock.Advance(2 * time.Second)
	if rep := h.step(taskID); !rep.Noop {
		t.Fatal("reclaimed mid-wait without a signal")
	}
	if _, err := h.signals.Resolve(context.Background(), obj.Token); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	rep = h.step(taskID)
	if rep.ExitStatus != task.ExitComplete {
		t.Fatalf("step after signal = %+v", rep)
	}
}

func TestConsumedWakeKeepsNextWait(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	typ := register(h, task.NewDefinition[empty]("relay", "a { * b wait=10 }\nb { * c wait=10 }\nc { * finish }"))
	taskID := h.submit(typ, nil)

	if rep := h.step(taskID); rep.To != "b" || rep.Phase != task.PhaseWaiting {
		t.Fatalf("first step = %+v", rep)
	}
	// Wake, resumed step and the park it ends with all share one tick.
	if err := h.store.WakeTask(context.Background(), taskID, h.clock.Now()); err != nil {
		t.Fatalf("WakeTask: %v", err)
	}
	if rep := h.step(taskID); rep.Noop || rep.To != "c" {
		t.Fatalf("woken step = %+v", rep)
	}
	if rep := h.step(taskID); !rep.Noop {
		t.Fatalf("step at the same tick = %+v, want the 10s wait honored", rep)
	}

	h.clock.Advance(9 * time.Second)
	if rep := h.step(taskID); !rep.Noop {
		t.Fatal("reclaimed before the wait elapsed")
	}
	h.clock.Advance(time.Second)
	if rep := h.step(taskID); rep.ExitStatus != task.ExitComplete {
		t.Fatalf("step after the wait = %+v", rep)
	}
}

func decodeVM(h *harness, taskID id.TaskID, obj *vm) error {
	typ, _ := h.reg.Get("boot-vm")
	return typ.Codec().Decode(h.get(taskID).Object, obj)
}

func TestFinishReleasesSignals(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	typ := register(h, task.NewDefinition[vm]("leaky", "go { * finish }").
		Entry("go", func(s *task.Step[vm]) error {
			token, err := s.RegisterSignal("never")
			s.Object.Token = token
			return err
		}))
	taskID := h.submit(typ, vm{})
	h.step(taskID)

	var obj vm
	if err := typ.Codec().Decode(h.get(taskID).Object, &obj); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pending, _ := h.signals.Pending(context.Background(), obj.Token); pending {
		t.Error("finished task left its callback registered")
	}
}

// batch is the parent object; unit is the child object.
type batch struct {
	FailChild int `json:"fail_child"`
}

type unit struct {
	Fail bool `json:"fail"`
}

func fanOut(h *harness) *task.Type {
	register(h, task.NewDefinition[unit]("unit", "work:check { ok finish; fail terminate }").
		Decision("check", func(s *task.Step[unit]) transition.Result {
			if s.Object.Fail {
				return transition.Fail("unit broke")
			}
			return transition.Outcome("ok")
		}))
	return register(h, task.NewDefinition[batch]("batch", "fanout { * collect }\ncollect:children { success finish; fail terminate }").
		Entry("fanout", func(s *task.Step[batch]) error {
			for i := 1; i <= 3; i++ {
				s.Spawn("unit", unit{Fail: i == s.Object.FailChild})
			}
			return nil
		}))
}

func TestChildrenAllSucceed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	parentID := h.submit(fanOut(h), batch{})

	if rep := h.step(parentID); rep.Spawned != 3 || rep.To != "collect" {
		t.Fatalf("fan-out step = %+v", rep)
	}
	children := h.get(parentID).Children
	if len(children) != 3 {
		t.Fatalf("parent links %d children, want 3", len(children))
	}

	h.clock.Advance(time.Second)
	if rep := h.step(parentID); rep.Phase != task.PhaseRunningChildren {
		t.Fatalf("collect step = %+v, want running-children", rep)
	}

	for i, childID := range children {
		h.clock.Advance(time.Second)
		if rep := h.step(childID); rep.ExitStatus != task.ExitComplete {
			t.Fatalf("child %d = %+v", i, rep)
		}
		if i == len(children)-1 {
			break
		}
		h.clock.Advance(time.Second)
		rep := h.step(parentID)
		if rep.Noop || rep.Phase != task.PhaseRunningChildren {
			t.Fatalf("after child %d parent = %+v, want woken and still waiting", i, rep)
		}
		if rep := h.step(parentID); !rep.Noop {
			t.Fatalf("after child %d parent ran again without a wake-up", i)
		}
	}

	h.clock.Advance(time.Second)
	rep := h.step(parentID)
	if rep.Outcome != "success" || rep.ExitStatus != task.ExitComplete {
		t.Fatalf("final parent step = %+v", rep)
	}
}

func TestChildFailureFailsParent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	parentID := h.submit(fanOut(h), batch{FailChild: 2})
	h.step(parentID)
	children := h.get(parentID).Children

	h.clock.Advance(time.Second)
	h.step(parentID)
	h.clock.Advance(time.Second)
	if rep := h.step(children[1]); rep.ExitStatus != task.ExitTerminated {
		t.Fatalf("failing child = %+v", rep)
	}

	h.clock.Advance(time.Second)
	rep := h.step(parentID)
	if rep.Outcome != "fail" || rep.ExitStatus != task.ExitTerminated {
		t.Fatalf("parent after child failure = %+v", rep)
	}
}

// flakyCreates fails the nth creation of a task of the given type.
type flakyCreates struct {
	*memory.Store
	typ string
	nth int

	mu    sync.Mutex
	calls int
}

func (f *flakyCreates) CreateTask(ctx context.Context, t *task.Task) error {
	if t.Type == f.typ {
		f.mu.Lock()
		f.calls++
		fail := f.calls == f.nth
		f.mu.Unlock()
		if fail {
			return errors.New("disk full")
		}
	}
	return f.Store.CreateTask(ctx, t)
}

func TestFailedFanOutLinksNothing(t *testing.T) {
	t.Parallel()

	const table = "fanout:check { ok collect; ! cleanup }\n" +
		"collect:children { success finish; fail terminate }\n" +
		"cleanup { * terminate }"

	tests := []struct {
		name      string
		failNth   int
		entry     func(*task.Step[batch]) error
		decide    func(*task.Step[batch]) transition.Result
		wantError error
	}{
		{
			name: "unknown child type",
			entry: func(s *task.Step[batch]) error {
				s.Spawn("unit", unit{})
				s.Spawn("no-such-type", unit{})
				return nil
			},
		},
		{
			name:    "child create fails",
			failNth: 2,
			entry: func(s *task.Step[batch]) error {
				for range 3 {
					s.Spawn("unit", unit{})
				}
				return nil
			},
		},
		{
			name: "spawn from a decision",
			decide: func(s *task.Step[batch]) transition.Result {
				if _, err := s.Spawn("unit", unit{}); err != nil {
					return transition.Exception(err)
				}
				return transition.Outcome("ok")
			},
			wantError: task.ErrSpawnAfterEntry,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			if tt.failNth > 0 {
				h.exec = iterator.NewExecutor(&flakyCreates{Store: h.store, typ: "unit", nth: tt.failNth}, h.reg,
					iterator.WithSignals(h.signals),
					iterator.WithEmitter(h.events),
					iterator.WithClock(h.clock.Now),
				)
			}
			register(h, task.NewDefinition[unit]("unit", "work { * finish }"))
			def := task.NewDefinition[batch]("batch", table)
			if tt.entry != nil {
				def.Entry("fanout", tt.entry)
			}
			var decideErr error
			def.Decision("check", func(s *task.Step[batch]) transition.Result {
				if tt.decide == nil {
					return transition.Outcome("ok")
				}
				res := tt.decide(s)
				decideErr = res.Err
				return res
			})
			parentID := h.submit(register(h, def), batch{})

			rep := h.step(parentID)
			if rep.Outcome != "!" || rep.To != "cleanup" || rep.Spawned != 0 {
				t.Fatalf("fan-out step = %+v, want ! to cleanup with nothing spawned", rep)
			}
			if tt.wantError != nil && !errors.Is(decideErr, tt.wantError) {
				t.Errorf("decision Spawn error = %v, want %v", decideErr, tt.wantError)
			}
			if got := h.get(parentID).Children; len(got) != 0 {
				t.Errorf("parent links %v after a failed fan-out", got)
			}
			units, err := h.store.ListTasks(context.Background(), task.ListOpts{Type: "unit"})
			if err != nil {
				t.Fatalf("ListTasks: %v", err)
			}
			if len(units) != 0 {
				t.Errorf("%d orphan children left in the store", len(units))
			}

			if rep := h.step(parentID); rep.ExitStatus != task.ExitTerminated {
				t.Errorf("cleanup step = %+v, want terminated", rep)
			}
		})
	}
}

func TestTerminateRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var finalized []task.ExitStatus
	register(h, task.NewDefinition[unit]("unit", "work { * finish }"))
	typ := register(h, task.NewDefinition[batch]("batch", "fanout { * collect }\ncollect:children { success finish; fail terminate }").
		Entry("fanout", func(s *task.Step[batch]) error {
			s.Spawn("unit", unit{})
			return nil
		}).
		OnFinish(func(_ *task.Step[batch], status task.ExitStatus) (int, string) {
			finalized = append(finalized, status)
			return 143, "stopped by operator"
		}))
	parentID := h.submit(typ, batch{})
	h.step(parentID)
	h.clock.Advance(time.Second)
	h.step(parentID)

	ctx := context.Background()
	h.clock.Advance(time.Second)
	if err := h.store.RequestTermination(ctx, parentID, h.clock.Now()); err != nil {
		t.Fatalf("RequestTermination: %v", err)
	}
	rep := h.step(parentID)
	if rep.ExitStatus != task.ExitTerminated || rep.To != "terminate" {
		t.Fatalf("terminate step = %+v", rep)
	}

	got := h.get(parentID)
	if got.ExitCode != 143 || got.ExitMessage != "stopped by operator" {
		t.Errorf("finalizer result not recorded: %d %q", got.ExitCode, got.ExitMessage)
	}
	if diff := cmp.Diff([]task.ExitStatus{task.ExitTerminated}, finalized); diff != "" {
		t.Errorf("finalizer calls (-want +got):\n%s", diff)
	}

	child := h.get(got.Children[0])
	if !child.TerminateRequested {
		t.Fatal("termination not propagated to the child")
	}
	if rep := h.step(child.ID); rep.ExitStatus != task.ExitTerminated {
		t.Errorf("child step = %+v", rep)
	}
}

func TestScratchSurvivesReload(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var seen string
	typ := register(h, task.NewDefinition[empty]("scratchy", "a { * b }\nb { * finish }").
		Entry("a", func(s *task.Step[empty]) error { return s.Set("ip", "10.0.0.7") }).
		Entry("b", func(s *task.Step[empty]) error {
			_, err := s.Get("ip", &seen)
			return err
		}))
	taskID := h.submit(typ, nil)
	h.step(taskID)
	h.step(taskID)

	if seen != "10.0.0.7" {
		t.Errorf("scratch value = %q after reload", seen)
	}
}

func TestObjectChangesPersist(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	typ := register(h, task.NewDefinition[vm]("rename", "a { * finish }").
		Entry("a", func(s *task.Step[vm]) error {
			s.Object.Name += "-renamed"
			return nil
		}))
	taskID := h.submit(typ, vm{Name: "web"})
	h.step(taskID)

	var obj vm
	if err := typ.Codec().Decode(h.get(taskID).Object, &obj); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if obj.Name != "web-renamed" {
		t.Errorf("Name = %q", obj.Name)
	}
}

func TestUnknownType(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tk := storetest.NewTask("ghost", h.clock.Now())
	if err := h.store.CreateTask(context.Background(), tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if rep := h.step(tk.ID); rep.ExitStatus != task.ExitErrorSystem {
		t.Fatalf("step = %+v, want error-system", rep)
	}
}

func TestMiddlewareWrapsStep(t *testing.T) {
	t.Parallel()

	var seen []string
	mw := func(ctx context.Context, tk *task.Task, next middleware.Handler) error {
		seen = append(seen, tk.State)
		return next(ctx)
	}
	h := newHarness(t, mw)
	typ := register(h, task.NewDefinition[empty]("simple", "start{*:step1} step1{*:finish}"))
	taskID := h.submit(typ, nil)
	h.step(taskID)
	h.step(taskID)

	if diff := cmp.Diff([]string{"start", "step1"}, seen); diff != "" {
		t.Errorf("middleware saw (-want +got):\n%s", diff)
	}
}

func TestStepMissingTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if _, err := h.exec.Step(context.Background(), id.NewTaskID()); err == nil {
		t.Fatal("expected error stepping a missing task")
	}
}
