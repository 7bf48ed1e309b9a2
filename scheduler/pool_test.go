package scheduler_test

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/control"
	"github.com/xraph/stepflow/group"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/iterator"
	"github.com/xraph/stepflow/lock"
	"github.com/xraph/stepflow/scheduler"
	"github.com/xraph/stepflow/store/memory"
	"github.com/xraph/stepflow/store/storetest"
	"github.com/xraph/stepflow/task"
	"github.com/xraph/stepflow/transition"
)

type job struct {
	Name string `json:"name"`
}

// journal records which tasks ran an entry action.
type journal struct {
	mu   sync.Mutex
	runs []string
}

func (j *journal) add(name string) {
	j.mu.Lock()
	j.runs = append(j.runs, name)
	j.mu.Unlock()
}

func (j *journal) reset() {
	j.mu.Lock()
	j.runs = nil
	j.mu.Unlock()
}

// names returns the distinct task names that ran, sorted.
func (j *journal) names() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := slices.Clone(j.runs)
	sort.Strings(out)
	return slices.Compact(out)
}

type fixture struct {
	t       *testing.T
	clock   *storetest.Clock
	store   *memory.Store
	reg     *task.Registry
	exec    *iterator.Executor
	journal *journal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := storetest.NewClock(storetest.Epoch)
	s := memory.New(memory.WithClock(clock.Now))
	f := &fixture{
		t:       t,
		clock:   clock,
		store:   s,
		reg:     task.NewRegistry(),
		journal: &journal{},
	}
	f.exec = iterator.NewExecutor(s, f.reg, iterator.WithClock(clock.Now))

	record := func(s *task.Step[job]) error {
		f.journal.add(s.Object.Name)
		return nil
	}
	f.define(task.NewDefinition[job]("two", "a { * b }\nb { * finish }").Entry("a", record).Entry("b", record))
	f.define(task.NewDefinition[job]("render", "draw [gpu] { * finish }").Entry("draw", record))
	return f
}

func (f *fixture) define(def *task.Definition[job]) {
	f.t.Helper()
	if _, err := task.RegisterDefinition(f.reg, def); err != nil {
		f.t.Fatalf("RegisterDefinition: %v", err)
	}
}

func (f *fixture) submit(typeName, name string, opts ...task.SubmitOption) id.TaskID {
	f.t.Helper()
	typ, ok := f.reg.Get(typeName)
	if !ok {
		f.t.Fatalf("type %q not registered", typeName)
	}
	tk, err := typ.NewTask(job{Name: name}, f.clock.Now(), opts...)
	if err != nil {
		f.t.Fatalf("NewTask: %v", err)
	}
	if err := f.store.CreateTask(context.Background(), tk); err != nil {
		f.t.Fatalf("CreateTask: %v", err)
	}
	return tk.ID
}

func (f *fixture) pool(opts ...scheduler.Option) *scheduler.Pool {
	serverID := id.NewServerID()
	locker := lock.New(f.store, serverID.String(), lock.WithTTL(time.Minute))
	opts = append([]scheduler.Option{scheduler.WithClock(f.clock.Now)}, opts...)
	return scheduler.NewPool(f.store, f.exec, locker, serverID, opts...)
}

// drain runs passes until one claims nothing.
func (f *fixture) drain(p *scheduler.Pool) int {
	f.t.Helper()
	steps := 0
	for range 100 {
		ran, err := p.RunOnce(context.Background())
		if err != nil {
			f.t.Fatalf("RunOnce: %v", err)
		}
		if !ran {
			return steps
		}
		steps++
	}
	f.t.Fatal("scheduler never went idle")
	return steps
}

func TestRunOnceOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.submit("two", "low", task.AtPriority(1))
	f.submit("two", "high", task.AtPriority(9))
	f.clock.Advance(time.Second)
	f.submit("two", "mid-young", task.AtPriority(5))
	f.clock.Advance(-2 * time.Second)
	f.submit("two", "mid-old", task.AtPriority(5))
	f.clock.Advance(time.Second)

	p := f.pool()
	for range 4 {
		if ran, err := p.RunOnce(context.Background()); err != nil || !ran {
			t.Fatalf("RunOnce = %v, %v", ran, err)
		}
	}
	// The first step of "high" leaves it claimable again, so it runs twice
	// before anything else.
	want := []string{"high", "high", "mid-old", "mid-old"}
	if diff := cmp.Diff(want, f.journal.runs); diff != "" {
		t.Errorf("claim order (-want +got):\n%s", diff)
	}

	if steps := f.drain(p); steps != 4 {
		t.Errorf("drain ran %d steps, want 4", steps)
	}
	n, err := f.store.CountTasks(context.Background(), task.ListOpts{ExitStatus: task.ExitComplete})
	if err != nil || n != 4 {
		t.Errorf("completed = %d, %v; want 4", n, err)
	}
}

func TestRunOnceFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		set  func(ctx context.Context, s control.Store) error
		want []string
	}{
		{"no flags", func(context.Context, control.Store) error { return nil }, []string{"new", "old", "other"}},
		{"maintenance", func(ctx context.Context, s control.Store) error { return s.SetMaintenance(ctx, true) }, nil},
		{"global hard", func(ctx context.Context, s control.Store) error { return s.SetGlobalPause(ctx, control.PauseHard) }, nil},
		{"global soft", func(ctx context.Context, s control.Store) error { return s.SetGlobalPause(ctx, control.PauseSoft) }, []string{"old"}},
		{"group soft", func(ctx context.Context, s control.Store) error { return s.SetGroupPause(ctx, "infra", control.PauseSoft) }, []string{"old", "other"}},
		{"group hard", func(ctx context.Context, s control.Store) error { return s.SetGroupPause(ctx, "infra", control.PauseHard) }, []string{"other"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			f := newFixture(t)
			old := f.submit("two", "old", task.InGroup("infra"))
			if _, err := f.exec.Step(ctx, old); err != nil {
				t.Fatalf("Step: %v", err)
			}
			f.submit("two", "new", task.InGroup("infra"))
			f.submit("two", "other", task.InGroup("batch"))
			f.journal.reset()

			if err := tt.set(ctx, f.store); err != nil {
				t.Fatalf("set flags: %v", err)
			}
			f.drain(f.pool())

			if diff := cmp.Diff(tt.want, f.journal.names()); diff != "" {
				t.Errorf("tasks run (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.submit("render", "frame")

	if steps := f.drain(f.pool(scheduler.WithCapabilities("ssh"))); steps != 0 {
		t.Fatalf("server without gpu ran %d steps", steps)
	}
	if steps := f.drain(f.pool(scheduler.WithCapabilities("ssh", "gpu"))); steps != 1 {
		t.Fatalf("gpu server ran %d steps, want 1", steps)
	}
}

func TestGlobalCeiling(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.submit("two", "a")

	for i := range 2 {
		if ok, err := f.store.AcquireLock(ctx, lock.TaskLockName(fmt.Sprintf("elsewhere-%d", i)), "other", time.Minute); err != nil || !ok {
			t.Fatalf("AcquireLock = %v, %v", ok, err)
		}
	}

	p := f.pool(scheduler.WithGlobalConcurrency(2))
	if ran, err := p.RunOnce(ctx); err != nil || ran {
		t.Fatalf("RunOnce at ceiling = %v, %v", ran, err)
	}

	if _, err := f.store.ReleaseLock(ctx, lock.TaskLockName("elsewhere-0"), "other"); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if ran, err := p.RunOnce(ctx); err != nil || !ran {
		t.Fatalf("RunOnce below ceiling = %v, %v", ran, err)
	}
	if n, _ := f.store.CountLocks(ctx, lock.TaskLockPrefix); n != 1 {
		t.Errorf("claim lock not released: %d task locks held", n)
	}
}

func TestLockedTaskSkipped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	taskID := f.submit("two", "busy")

	if ok, err := f.store.AcquireLock(ctx, lock.TaskLockName(taskID.String()), "crashed-server", time.Minute); err != nil || !ok {
		t.Fatalf("AcquireLock = %v, %v", ok, err)
	}
	p := f.pool()
	if ran, _ := p.RunOnce(ctx); ran {
		t.Fatal("claimed a task locked by another server")
	}

	f.clock.Advance(time.Minute)
	if ran, err := p.RunOnce(ctx); err != nil || !ran {
		t.Fatalf("expired claim not taken over: %v, %v", ran, err)
	}
}

func TestLimiter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.submit("two", "infra-task", task.InGroup("infra"), task.AtPriority(9))
	f.submit("two", "batch-task", task.InGroup("batch"))

	limits := group.NewManager(group.Config{Name: "infra", MaxConcurrency: 1})
	if !limits.Acquire("infra", "elsewhere") {
		t.Fatal("Acquire")
	}
	p := f.pool(scheduler.WithLimiter(limits))

	if ran, err := p.RunOnce(ctx); err != nil || !ran {
		t.Fatalf("RunOnce = %v, %v", ran, err)
	}
	if diff := cmp.Diff([]string{"batch-task"}, f.journal.runs); diff != "" {
		t.Errorf("saturated group ran (-want +got):\n%s", diff)
	}

	limits.Release("infra", "elsewhere")
	f.journal.reset()
	if ran, err := p.RunOnce(ctx); err != nil || !ran {
		t.Fatalf("RunOnce = %v, %v", ran, err)
	}
	if diff := cmp.Diff([]string{"infra-task"}, f.journal.runs); diff != "" {
		t.Errorf("released group (-want +got):\n%s", diff)
	}
	if limits.Active("infra") != 0 {
		t.Errorf("limiter slot leaked: %d active", limits.Active("infra"))
	}
}

func TestWaitingTaskNotClaimed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.define(task.NewDefinition[job]("sleepy", "nap:rested { later nap wait=30; * finish }").
		Entry("nap", func(s *task.Step[job]) error {
			f.journal.add(s.Object.Name)
			return nil
		}).
		Decision("rested", func(*task.Step[job]) transition.Result {
			if len(f.journal.runs) < 2 {
				return transition.Outcome("later")
			}
			return transition.Success()
		}))
	f.submit("sleepy", "cat")
	p := f.pool()

	if steps := f.drain(p); steps != 1 {
		t.Fatalf("first drain ran %d steps, want 1", steps)
	}
	f.clock.Advance(29 * time.Second)
	if steps := f.drain(p); steps != 0 {
		t.Fatalf("parked task claimed %d times before its wait elapsed", steps)
	}
	f.clock.Advance(time.Second)
	if steps := f.drain(p); steps != 1 {
		t.Fatalf("drain after wait ran %d steps, want 1", steps)
	}
	if n, _ := f.store.CountTasks(context.Background(), task.ListOpts{ExitStatus: task.ExitComplete}); n != 1 {
		t.Errorf("completed = %d, want 1", n)
	}
}

type leader bool

func (l leader) IsLeader() bool { return bool(l) }

func TestReap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	dead := &cluster.Server{ID: id.NewServerID(), Hostname: "gone", State: cluster.ServerActive, LastSeen: f.clock.Now()}
	if err := f.store.RegisterServer(ctx, dead); err != nil {
		t.Fatalf("RegisterServer: %v", err)
	}
	for _, name := range []string{"task:a", "task:b", "cron:nightly"} {
		if ok, err := f.store.AcquireLock(ctx, name, dead.ID.String(), 0); err != nil || !ok {
			t.Fatalf("AcquireLock %s = %v, %v", name, ok, err)
		}
	}
	f.clock.Advance(2 * time.Minute)

	follower := f.pool(scheduler.WithDeadServerThreshold(time.Minute), scheduler.WithLeader(leader(false)))
	if n := follower.Reap(ctx); n != 0 {
		t.Fatalf("follower reaped %d servers", n)
	}

	p := f.pool(scheduler.WithDeadServerThreshold(time.Minute), scheduler.WithLeader(leader(true)))
	if n := p.Reap(ctx); n != 1 {
		t.Fatalf("Reap = %d, want 1", n)
	}
	if n, _ := f.store.CountLocks(ctx, ""); n != 0 {
		t.Errorf("%d locks of the dead server survived", n)
	}
	if n := p.Reap(ctx); n != 0 {
		t.Errorf("dead server reaped twice")
	}
}

func TestHeartbeat(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	p := f.pool()
	if err := f.store.RegisterServer(ctx, &cluster.Server{ID: p.ServerID(), State: cluster.ServerActive, LastSeen: f.clock.Now()}); err != nil {
		t.Fatalf("RegisterServer: %v", err)
	}

	f.clock.Advance(30 * time.Second)
	p.Heartbeat(ctx)

	servers, err := f.store.ListServers(ctx)
	if err != nil || len(servers) != 1 {
		t.Fatalf("ListServers = %v, %v", servers, err)
	}
	if !servers[0].LastSeen.Equal(f.clock.Now()) {
		t.Errorf("LastSeen = %v, want %v", servers[0].LastSeen, f.clock.Now())
	}
}

// TestPoolsShareWork runs two pools against one store on the real clock and
// checks that every task completes with strictly sequential steps.
func TestPoolsShareWork(t *testing.T) {
	t.Parallel()

	const tasks = 30
	s := memory.New()
	reg := task.NewRegistry()

	var (
		inFlight sync.Map
		overlaps atomic.Int32
	)
	guard := func(st *task.Step[job]) error {
		key := st.ID().String()
		if _, busy := inFlight.LoadOrStore(key, true); busy {
			overlaps.Add(1)
		}
		time.Sleep(time.Millisecond)
		inFlight.Delete(key)
		return nil
	}
	typ, err := task.RegisterDefinition(reg, task.NewDefinition[job]("two", "a { * b }\nb { * finish }").
		Entry("a", guard).Entry("b", guard))
	if err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	ctx := context.Background()
	for i := range tasks {
		tk, err := typ.NewTask(job{Name: fmt.Sprint(i)}, time.Now())
		if err != nil {
			t.Fatalf("NewTask: %v", err)
		}
		if err := s.CreateTask(ctx, tk); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	exec := iterator.NewExecutor(s, reg)
	var pools []*scheduler.Pool
	for range 2 {
		serverID := id.NewServerID()
		p := scheduler.NewPool(s, exec, lock.New(s, serverID.String()), serverID,
			scheduler.WithConcurrency(4),
			scheduler.WithPollInterval(10*time.Millisecond),
			scheduler.WithHeartbeatInterval(50*time.Millisecond),
		)
		if err := p.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		pools = append(pools, p)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		n, err := s.CountTasks(ctx, task.ListOpts{Phase: task.PhaseFinished})
		if err != nil {
			t.Fatalf("CountTasks: %v", err)
		}
		if n == tasks {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d tasks finished", n, tasks)
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, p := range pools {
		if err := p.Stop(stopCtx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}

	if n := overlaps.Load(); n != 0 {
		t.Errorf("%d overlapping steps of the same task", n)
	}
	all, err := s.ListTasks(ctx, task.ListOpts{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	for _, tk := range all {
		if tk.Steps != 2 || tk.ExitStatus != task.ExitComplete {
			t.Errorf("task %s: steps %d exit %s", tk.ID, tk.Steps, tk.ExitStatus)
		}
	}
	if servers, _ := s.ListServers(ctx); len(servers) != 0 {
		t.Errorf("%d servers still registered after Stop", len(servers))
	}
	if n, _ := s.CountLocks(ctx, lock.TaskLockPrefix); n != 0 {
		t.Errorf("%d task locks leaked", n)
	}
}
