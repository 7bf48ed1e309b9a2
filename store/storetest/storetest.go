// Package storetest is a conformance suite for store.Store backends.
// Every backend's tests call Run with a factory that returns a fresh,
// migrated, empty store driven by the given clock.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/control"
	"github.com/xraph/stepflow/cron"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/lock"
	"github.com/xraph/stepflow/signal"
	"github.com/xraph/stepflow/store"
	"github.com/xraph/stepflow/task"
)

// Epoch is the start time of every suite clock. It has no sub-microsecond
// part so that backends with microsecond precision round-trip it.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Factory returns an empty store whose notion of "now" is clock.Now.
type Factory func(t *testing.T, clock *Clock) store.Store

// Run executes the full conformance suite.
func Run(t *testing.T, newStore Factory) {
	suites := []struct {
		name string
		fn   func(*testing.T, store.Store, *Clock)
	}{
		{"Tasks", testTasks},
		{"TaskListing", testTaskListing},
		{"WakeAndTerminate", testWakeAndTerminate},
		{"ConsumedWake", testConsumedWake},
		{"Claimable", testClaimable},
		{"Locks", testLocks},
		{"LockRace", testLockRace},
		{"Signals", testSignals},
		{"Control", testControl},
		{"Cluster", testCluster},
		{"Cron", testCron},
	}
	for _, s := range suites {
		t.Run(s.name, func(t *testing.T) {
			clock := NewClock(Epoch)
			s.fn(t, newStore(t, clock), clock)
		})
	}
}

// NewTask builds a minimal task record created at created.
func NewTask(typ string, created time.Time) *task.Task {
	return &task.Task{
		Entity:     stepflow.Entity{CreatedAt: created, UpdatedAt: created},
		ID:         id.NewTaskID(),
		Type:       typ,
		State:      "start",
		Phase:      task.PhaseBeforeStart,
		Group:      task.DefaultGroup,
		Counters:   map[string]int{},
		ExitStatus: task.ExitNotFinished,
	}
}

func ids(tasks []*task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID.String()
	}
	return out
}

func mustCreate(t *testing.T, s store.Store, tasks ...*task.Task) {
	t.Helper()
	for _, tk := range tasks {
		if err := s.CreateTask(context.Background(), tk); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}
}

func testTasks(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()

	tk := NewTask("provision", clock.Now())
	tk.Object = []byte(`{"host":"web-1"}`)
	tk.Scratch = map[string][]byte{"ip": []byte(`"10.0.0.7"`)}
	tk.Capabilities = []string{"ssh"}
	tk.Priority = 4
	mustCreate(t, s, tk)

	if err := s.CreateTask(ctx, tk); !errors.Is(err, stepflow.ErrTaskAlreadyExists) {
		t.Fatalf("duplicate CreateTask: expected ErrTaskAlreadyExists, got %v", err)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if diff := cmp.Diff(tk, got, taskCmp...); diff != "" {
		t.Errorf("GetTask (-want +got):\n%s", diff)
	}

	// Mutating the returned record must not touch the stored one.
	got.State = "mutated"
	again, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if again.State != "start" {
		t.Errorf("store aliased caller record: state %q", again.State)
	}

	started := clock.Now()
	again.State = "configure"
	again.Phase = task.PhaseStarted
	again.Counters["start/*"] = 1
	again.Steps = 1
	again.StartedAt = &started
	if err := s.UpdateTask(ctx, again); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	updated, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if updated.State != "configure" || updated.Counters["start/*"] != 1 || updated.StartedAt == nil {
		t.Errorf("update not persisted: %+v", updated)
	}

	missing := NewTask("provision", clock.Now())
	if err := s.UpdateTask(ctx, missing); !errors.Is(err, stepflow.ErrTaskNotFound) {
		t.Errorf("UpdateTask missing: expected ErrTaskNotFound, got %v", err)
	}
	if _, err := s.GetTask(ctx, missing.ID); !errors.Is(err, stepflow.ErrTaskNotFound) {
		t.Errorf("GetTask missing: expected ErrTaskNotFound, got %v", err)
	}

	if err := s.DeleteTask(ctx, tk.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if err := s.DeleteTask(ctx, tk.ID); !errors.Is(err, stepflow.ErrTaskNotFound) {
		t.Errorf("second DeleteTask: expected ErrTaskNotFound, got %v", err)
	}
}

func testTaskListing(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()

	parent := NewTask("parent", clock.Now())
	var children []*task.Task
	for i := range 3 {
		c := NewTask("child", clock.Now().Add(time.Duration(i+1)*time.Second))
		c.ParentID = parent.ID
		children = append(children, c)
	}
	children[2].Phase = task.PhaseFinished
	children[2].ExitStatus = task.ExitComplete
	other := NewTask("other", clock.Now().Add(time.Minute))
	other.Group = "batch"
	mustCreate(t, s, append([]*task.Task{parent, other}, children...)...)

	tests := []struct {
		name string
		opts task.ListOpts
		want []*task.Task
	}{
		{"all oldest first", task.ListOpts{}, []*task.Task{parent, children[0], children[1], children[2], other}},
		{"by parent", task.ListOpts{ParentID: parent.ID}, children},
		{"by type and phase", task.ListOpts{Type: "child", Phase: task.PhaseBeforeStart}, children[:2]},
		{"by exit status", task.ListOpts{ExitStatus: task.ExitComplete}, children[2:]},
		{"by group", task.ListOpts{Group: "batch"}, []*task.Task{other}},
		{"paged", task.ListOpts{Limit: 2, Offset: 1}, []*task.Task{children[0], children[1]}},
		{"created window", task.ListOpts{CreatedAfter: clock.Now(), CreatedBefore: clock.Now().Add(3 * time.Second)}, children[:2]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListTasks(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListTasks: %v", err)
			}
			if diff := cmp.Diff(ids(tt.want), ids(got)); diff != "" {
				t.Errorf("ListTasks (-want +got):\n%s", diff)
			}
			n, err := s.CountTasks(ctx, task.ListOpts{
				Type: tt.opts.Type, Group: tt.opts.Group, Phase: tt.opts.Phase,
				ExitStatus: tt.opts.ExitStatus, ParentID: tt.opts.ParentID,
				CreatedAfter: tt.opts.CreatedAfter, CreatedBefore: tt.opts.CreatedBefore,
			})
			if err != nil {
				t.Fatalf("CountTasks: %v", err)
			}
			if tt.opts.Limit == 0 && n != int64(len(tt.want)) {
				t.Errorf("CountTasks = %d, want %d", n, len(tt.want))
			}
		})
	}
}

func testWakeAndTerminate(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()

	tk := NewTask("poller", clock.Now())
	tk.Phase = task.PhaseWaiting
	tk.ParkedAt = clock.Now()
	tk.WaitUntil = clock.Now().Add(10 * time.Second)
	mustCreate(t, s, tk)

	claimable := func() bool {
		t.Helper()
		got, err := s.ListClaimable(ctx, task.ClaimOpts{Now: clock.Now()})
		if err != nil {
			t.Fatalf("ListClaimable: %v", err)
		}
		return len(got) == 1
	}

	if claimable() {
		t.Fatal("parked task claimable before its wait elapsed")
	}
	clock.Advance(time.Second)
	if err := s.WakeTask(ctx, tk.ID, clock.Now()); err != nil {
		t.Fatalf("WakeTask: %v", err)
	}
	if !claimable() {
		t.Fatal("woken task not claimable")
	}

	// A step that started before the wake and persists afterwards must not
	// erase the wake-up.
	stale, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	stale.WokenAt = time.Time{}
	if err := s.UpdateTask(ctx, stale); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if !claimable() {
		t.Fatal("UpdateTask overwrote the wake-up")
	}

	if err := s.RequestTermination(ctx, tk.ID, clock.Now()); err != nil {
		t.Fatalf("RequestTermination: %v", err)
	}
	stale.TerminateRequested = false
	if err := s.UpdateTask(ctx, stale); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !got.TerminateRequested {
		t.Error("UpdateTask cleared the termination request")
	}

	if err := s.WakeTask(ctx, id.NewTaskID(), clock.Now()); !errors.Is(err, stepflow.ErrTaskNotFound) {
		t.Errorf("WakeTask missing: expected ErrTaskNotFound, got %v", err)
	}

	got.Phase = task.PhaseFinished
	got.ExitStatus = task.ExitTerminated
	if err := s.UpdateTask(ctx, got); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if err := s.RequestTermination(ctx, tk.ID, clock.Now()); !errors.Is(err, stepflow.ErrTaskFinished) {
		t.Errorf("RequestTermination finished: expected ErrTaskFinished, got %v", err)
	}
}

// testConsumedWake checks that a wake-up a step has already consumed does
// not cut the following wait short, even when the wake, the step start and
// the park share one timestamp.
func testConsumedWake(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()

	tk := NewTask("poller", clock.Now())
	tk.Phase = task.PhaseWaiting
	tk.ParkedAt = clock.Now()
	tk.WaitUntil = clock.Now().Add(10 * time.Second)
	mustCreate(t, s, tk)

	claimable := func() bool {
		t.Helper()
		got, err := s.ListClaimable(ctx, task.ClaimOpts{Now: clock.Now()})
		if err != nil {
			t.Fatalf("ListClaimable: %v", err)
		}
		return len(got) == 1
	}

	clock.Advance(time.Second)
	if err := s.WakeTask(ctx, tk.ID, clock.Now()); err != nil {
		t.Fatalf("WakeTask: %v", err)
	}
	if !claimable() {
		t.Fatal("woken task not claimable")
	}

	// A step starting in the wake's clock tick consumes it and parks again.
	stepped, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	stepped.WakeSeen = stepped.WokenAt
	stepped.ParkedAt = clock.Now()
	stepped.WaitUntil = clock.Now().Add(10 * time.Second)
	if err := s.UpdateTask(ctx, stepped); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if claimable() {
		t.Fatal("consumed wake-up cancelled the new wait")
	}

	clock.Advance(time.Second)
	if err := s.WakeTask(ctx, tk.ID, clock.Now()); err != nil {
		t.Fatalf("WakeTask: %v", err)
	}
	if !claimable() {
		t.Fatal("fresh wake-up after a consumed one not claimable")
	}
}

func testClaimable(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()
	now := clock.Now()

	low := NewTask("t", now)
	high := NewTask("t", now.Add(time.Second))
	high.Priority = 10
	older := NewTask("t", now.Add(-time.Second))
	gpu := NewTask("t", now)
	gpu.Capabilities = []string{"gpu"}
	started := NewTask("t", now.Add(2*time.Second))
	started.Phase = task.PhaseStarted
	started.Group = "batch"
	finished := NewTask("t", now)
	finished.Phase = task.PhaseFinished
	finished.ExitStatus = task.ExitComplete
	delayed := NewTask("t", now.Add(500*time.Millisecond))
	delayed.ParkedAt = now
	delayed.WaitUntil = now.Add(time.Minute)
	mustCreate(t, s, low, high, older, gpu, started, finished, delayed)

	tests := []struct {
		name string
		opts task.ClaimOpts
		want []*task.Task
	}{
		{"priority then age", task.ClaimOpts{Now: now}, []*task.Task{high, older, low, started}},
		{"limit", task.ClaimOpts{Now: now, Limit: 2}, []*task.Task{high, older}},
		{"capabilities", task.ClaimOpts{Now: now, Capabilities: []string{"gpu"}, Limit: 1}, []*task.Task{high}},
		{"soft pause", task.ClaimOpts{Now: now, NoNew: true}, []*task.Task{started}},
		{"group hard pause", task.ClaimOpts{Now: now, ExcludeGroups: []string{"batch"}}, []*task.Task{high, older, low}},
		{"group soft pause keeps started", task.ClaimOpts{Now: now, NoNewGroups: []string{"default"}}, []*task.Task{started}},
		{"after delay", task.ClaimOpts{Now: now.Add(time.Minute), ExcludeGroups: []string{"batch"}}, []*task.Task{high, older, low, delayed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListClaimable(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListClaimable: %v", err)
			}
			if diff := cmp.Diff(ids(tt.want), ids(got)); diff != "" {
				t.Errorf("ListClaimable (-want +got):\n%s", diff)
			}
		})
	}

	// A task whose step lock is live is being stepped elsewhere.
	if ok, err := s.AcquireLock(ctx, lock.TaskLockName(high.ID.String()), "other-server", time.Minute); err != nil || !ok {
		t.Fatalf("AcquireLock: %v, %v", ok, err)
	}
	busy, err := s.ListClaimable(ctx, task.ClaimOpts{Now: now, Limit: 1})
	if err != nil {
		t.Fatalf("ListClaimable: %v", err)
	}
	if diff := cmp.Diff(ids([]*task.Task{older}), ids(busy)); diff != "" {
		t.Errorf("locked task offered (-want +got):\n%s", diff)
	}

	gpuOnly, err := s.ListClaimable(ctx, task.ClaimOpts{Now: now, Capabilities: []string{"gpu", "ssh"}})
	if err != nil {
		t.Fatalf("ListClaimable: %v", err)
	}
	if len(gpuOnly) != 4 {
		t.Errorf("capable server sees %d candidates, want 4", len(gpuOnly))
	}
}

func testLocks(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()
	name := lock.TaskLockName(id.NewTaskID().String())

	steps := []struct {
		desc string
		op   func() (bool, error)
		want bool
	}{
		{"a acquires", func() (bool, error) { return s.AcquireLock(ctx, name, "a", 30*time.Second) }, true},
		{"b blocked", func() (bool, error) { return s.AcquireLock(ctx, name, "b", 30*time.Second) }, false},
		{"a cannot re-acquire", func() (bool, error) { return s.AcquireLock(ctx, name, "a", 30*time.Second) }, false},
		{"b cannot release", func() (bool, error) { return s.ReleaseLock(ctx, name, "b") }, false},
		{"a renews", func() (bool, error) { return s.RenewLock(ctx, name, "a", 30*time.Second) }, true},
		{"a releases", func() (bool, error) { return s.ReleaseLock(ctx, name, "a") }, true},
		{"release twice", func() (bool, error) { return s.ReleaseLock(ctx, name, "a") }, false},
		{"b acquires after release", func() (bool, error) { return s.AcquireLock(ctx, name, "b", 30*time.Second) }, true},
	}
	for _, st := range steps {
		got, err := st.op()
		if err != nil {
			t.Fatalf("%s: %v", st.desc, err)
		}
		if got != st.want {
			t.Fatalf("%s: got %v, want %v", st.desc, got, st.want)
		}
	}

	rec, err := s.GetLock(ctx, name)
	if err != nil {
		t.Fatalf("GetLock: %v", err)
	}
	if rec.Holder != "b" || !rec.ExpiresAt.Equal(clock.Now().Add(30*time.Second)) {
		t.Errorf("GetLock = %+v", rec)
	}

	// An expired lock can be taken over and no longer counts.
	clock.Advance(31 * time.Second)
	if _, err := s.GetLock(ctx, name); !errors.Is(err, stepflow.ErrLockNotHeld) {
		t.Errorf("expired GetLock: expected ErrLockNotHeld, got %v", err)
	}
	if ok, err := s.RenewLock(ctx, name, "b", time.Second); err != nil || ok {
		t.Errorf("renewing an expired lock: %v, %v", ok, err)
	}
	if ok, err := s.AcquireLock(ctx, name, "c", 0); err != nil || !ok {
		t.Fatalf("takeover of expired lock: %v, %v", ok, err)
	}

	// A zero TTL never expires.
	clock.Advance(24 * time.Hour)
	if _, err := s.GetLock(ctx, name); err != nil {
		t.Errorf("ttl-less lock expired: %v", err)
	}

	for _, n := range []string{"task:b1", "task:b2", "cron:nightly"} {
		if ok, err := s.AcquireLock(ctx, n, "dead-server", time.Minute); err != nil || !ok {
			t.Fatalf("AcquireLock %s: %v, %v", n, ok, err)
		}
	}
	if n, err := s.CountLocks(ctx, lock.TaskLockPrefix); err != nil || n != 3 {
		t.Errorf("CountLocks(task:) = %d, %v; want 3", n, err)
	}
	if n, err := s.ReleaseLocksByHolder(ctx, "dead-server"); err != nil || n != 3 {
		t.Errorf("ReleaseLocksByHolder = %d, %v; want 3", n, err)
	}
	if n, err := s.CountLocks(ctx, ""); err != nil || n != 1 {
		t.Errorf("CountLocks(all) = %d, %v; want 1", n, err)
	}
}

func testLockRace(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	const contenders = 16

	var (
		wins  atomic.Int32
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.AcquireLock(ctx, "task:contended", string(rune('a'+i)), time.Minute)
			if err != nil {
				t.Errorf("AcquireLock: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("%d contenders acquired the lock, want exactly 1", got)
	}
}

func testSignals(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()
	taskID := id.NewTaskID()

	a := &signal.Callback{Token: id.NewSignalID(), TaskID: taskID, Type: "vm-ready", CreatedAt: clock.Now()}
	b := &signal.Callback{Token: id.NewSignalID(), TaskID: taskID, Type: "dns", CreatedAt: clock.Now()}
	sys := &signal.Callback{Token: id.NewSignalID(), Type: "reload", CreatedAt: clock.Now()}
	for _, cb := range []*signal.Callback{a, b, sys} {
		if err := s.CreateCallback(ctx, cb); err != nil {
			t.Fatalf("CreateCallback: %v", err)
		}
	}

	dupSys := &signal.Callback{Token: id.NewSignalID(), Type: "reload", CreatedAt: clock.Now()}
	if err := s.CreateCallback(ctx, dupSys); !errors.Is(err, stepflow.ErrSignalAlreadyExists) {
		t.Errorf("duplicate system callback: expected ErrSignalAlreadyExists, got %v", err)
	}

	got, err := s.GetCallback(ctx, a.Token)
	if err != nil {
		t.Fatalf("GetCallback: %v", err)
	}
	if got.Type != "vm-ready" || got.TaskID.String() != taskID.String() || got.System() {
		t.Errorf("GetCallback = %+v", got)
	}

	list, err := s.ListCallbacksByTask(ctx, taskID)
	if err != nil {
		t.Fatalf("ListCallbacksByTask: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("ListCallbacksByTask returned %d, want 2", len(list))
	}

	found, err := s.GetSystemCallback(ctx, "reload")
	if err != nil || found.Token.String() != sys.Token.String() {
		t.Errorf("GetSystemCallback = %+v, %v", found, err)
	}
	if _, err := s.GetSystemCallback(ctx, "nope"); !errors.Is(err, stepflow.ErrSignalNotFound) {
		t.Errorf("GetSystemCallback missing: expected ErrSignalNotFound, got %v", err)
	}

	if err := s.DeleteCallback(ctx, a.Token); err != nil {
		t.Fatalf("DeleteCallback: %v", err)
	}
	if err := s.DeleteCallback(ctx, a.Token); !errors.Is(err, stepflow.ErrSignalNotFound) {
		t.Errorf("second DeleteCallback: expected ErrSignalNotFound, got %v", err)
	}
	if _, err := s.GetCallback(ctx, a.Token); !errors.Is(err, stepflow.ErrSignalNotFound) {
		t.Errorf("GetCallback deleted: expected ErrSignalNotFound, got %v", err)
	}
}

func testControl(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()

	f, err := s.GetFlags(ctx)
	if err != nil {
		t.Fatalf("GetFlags: %v", err)
	}
	if f.Halted() || (f.Global != control.PauseOff && f.Global != "") || len(f.Groups) != 0 {
		t.Fatalf("fresh flags not all off: %+v", f)
	}

	if err := s.SetGlobalPause(ctx, control.PauseSoft); err != nil {
		t.Fatalf("SetGlobalPause: %v", err)
	}
	if err := s.SetGroupPause(ctx, "batch", control.PauseHard); err != nil {
		t.Fatalf("SetGroupPause: %v", err)
	}
	if err := s.SetGroupPause(ctx, "email", control.PauseSoft); err != nil {
		t.Fatalf("SetGroupPause: %v", err)
	}
	if err := s.SetGroupPause(ctx, "email", control.PauseOff); err != nil {
		t.Fatalf("SetGroupPause off: %v", err)
	}
	if err := s.SetMaintenance(ctx, true); err != nil {
		t.Fatalf("SetMaintenance: %v", err)
	}

	f, err = s.GetFlags(ctx)
	if err != nil {
		t.Fatalf("GetFlags: %v", err)
	}
	want := map[string]control.Level{"batch": control.PauseHard}
	if f.Global != control.PauseSoft || !f.Maintenance {
		t.Errorf("flags = %+v", f)
	}
	if diff := cmp.Diff(want, f.Groups); diff != "" {
		t.Errorf("group levels (-want +got):\n%s", diff)
	}
}

func testCluster(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()

	alive := &cluster.Server{
		ID: id.NewServerID(), Hostname: "alive", Capabilities: []string{"ssh"},
		Concurrency: 4, State: cluster.ServerActive, LastSeen: clock.Now(), CreatedAt: clock.Now(),
	}
	dead := &cluster.Server{
		ID: id.NewServerID(), Hostname: "dead", Concurrency: 4,
		State: cluster.ServerActive, LastSeen: clock.Now(), CreatedAt: clock.Now().Add(time.Second),
	}
	for _, srv := range []*cluster.Server{alive, dead} {
		if err := s.RegisterServer(ctx, srv); err != nil {
			t.Fatalf("RegisterServer: %v", err)
		}
	}

	clock.Advance(time.Minute)
	if err := s.HeartbeatServer(ctx, alive.ID); err != nil {
		t.Fatalf("HeartbeatServer: %v", err)
	}
	if err := s.HeartbeatServer(ctx, id.NewServerID()); !errors.Is(err, stepflow.ErrServerNotFound) {
		t.Errorf("HeartbeatServer missing: expected ErrServerNotFound, got %v", err)
	}

	reaped, err := s.ReapDeadServers(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("ReapDeadServers: %v", err)
	}
	if len(reaped) != 1 || reaped[0].ID.String() != dead.ID.String() {
		t.Fatalf("ReapDeadServers = %v, want only %s", reaped, dead.ID)
	}
	if again, err := s.ReapDeadServers(ctx, 30*time.Second); err != nil || len(again) != 0 {
		t.Errorf("second reap = %v, %v; want none", again, err)
	}

	servers, err := s.ListServers(ctx)
	if err != nil {
		t.Fatalf("ListServers: %v", err)
	}
	if len(servers) != 2 || servers[0].Hostname != "alive" || servers[1].State != cluster.ServerDead {
		t.Errorf("ListServers = %+v", servers)
	}

	if ok, err := s.AcquireLeadership(ctx, alive.ID, 15*time.Second); err != nil || !ok {
		t.Fatalf("AcquireLeadership alive: %v, %v", ok, err)
	}
	if ok, err := s.AcquireLeadership(ctx, dead.ID, 15*time.Second); err != nil || ok {
		t.Fatalf("AcquireLeadership contested: %v, %v", ok, err)
	}
	if ok, err := s.RenewLeadership(ctx, dead.ID, 15*time.Second); err != nil || ok {
		t.Fatalf("RenewLeadership by non-leader: %v, %v", ok, err)
	}
	leader, err := s.GetLeader(ctx)
	if err != nil {
		t.Fatalf("GetLeader: %v", err)
	}
	if leader == nil || leader.ID.String() != alive.ID.String() || !leader.IsLeader {
		t.Fatalf("GetLeader = %+v", leader)
	}

	clock.Advance(16 * time.Second)
	if leader, err := s.GetLeader(ctx); err != nil || leader != nil {
		t.Fatalf("lapsed leadership still reported: %+v, %v", leader, err)
	}
	if ok, err := s.AcquireLeadership(ctx, dead.ID, 15*time.Second); err != nil || !ok {
		t.Fatalf("AcquireLeadership after lapse: %v, %v", ok, err)
	}

	if err := s.DeregisterServer(ctx, alive.ID); err != nil {
		t.Fatalf("DeregisterServer: %v", err)
	}
	if err := s.DeregisterServer(ctx, alive.ID); !errors.Is(err, stepflow.ErrServerNotFound) {
		t.Errorf("second DeregisterServer: expected ErrServerNotFound, got %v", err)
	}
}

func testCron(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()

	next := clock.Now().Add(time.Minute)
	entry := &cron.Entry{
		Entity:    stepflow.Entity{CreatedAt: clock.Now(), UpdatedAt: clock.Now()},
		ID:        id.NewCronID(),
		Name:      "nightly-audit",
		Schedule:  "0 3 * * *",
		TaskType:  "audit",
		Object:    []byte(`{"scope":"all"}`),
		NextRunAt: &next,
		Enabled:   true,
	}
	if err := s.RegisterCron(ctx, entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	dup := *entry
	dup.ID = id.NewCronID()
	if err := s.RegisterCron(ctx, &dup); !errors.Is(err, stepflow.ErrDuplicateCron) {
		t.Errorf("duplicate RegisterCron: expected ErrDuplicateCron, got %v", err)
	}

	ran := clock.Now()
	if err := s.UpdateCronLastRun(ctx, entry.ID, ran); err != nil {
		t.Fatalf("UpdateCronLastRun: %v", err)
	}
	got, err := s.GetCron(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(ran) || string(got.Object) != `{"scope":"all"}` {
		t.Errorf("GetCron = %+v", got)
	}

	got.Enabled = false
	if err := s.UpdateCronEntry(ctx, got); err != nil {
		t.Fatalf("UpdateCronEntry: %v", err)
	}
	list, err := s.ListCrons(ctx)
	if err != nil {
		t.Fatalf("ListCrons: %v", err)
	}
	if len(list) != 1 || list[0].Enabled {
		t.Errorf("ListCrons = %+v", list)
	}

	if err := s.DeleteCron(ctx, entry.ID); err != nil {
		t.Fatalf("DeleteCron: %v", err)
	}
	if _, err := s.GetCron(ctx, entry.ID); !errors.Is(err, stepflow.ErrCronNotFound) {
		t.Errorf("GetCron deleted: expected ErrCronNotFound, got %v", err)
	}
}
