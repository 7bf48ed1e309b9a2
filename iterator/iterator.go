package iterator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/statetable"
	"github.com/xraph/stepflow/task"
	"github.com/xraph/stepflow/transition"
)

// Report describes what one step did.
type Report struct {
	TaskID id.TaskID
	Type   string
	// From and To are the states before and after the step. To is a
	// terminal name when the task finished.
	From string
	To   string
	// Outcome is the transition outcome taken ("!" for exceptions). It is
	// empty for wait and poll results.
	Outcome    string
	Phase      task.Phase
	ExitStatus task.ExitStatus
	// Delay is how long the task is parked for.
	Delay time.Duration
	// Spawned counts children created during the step.
	Spawned int
	// Noop is set when the task was not runnable and nothing happened.
	Noop    bool
	Elapsed time.Duration
}

// Finished reports whether the step ended the task.
func (r Report) Finished() bool { return r.Phase == task.PhaseFinished && !r.Noop }

// Iterator owns one task's mutable execution state for one step.
type Iterator struct {
	exec *Executor
	task *task.Task
}

// Task returns the task record as the last step left it.
func (it *Iterator) Task() *task.Task { return it.task }

// Step runs one step. A finished task, or a parked task whose wait has
// not elapsed and that has not been woken, is left untouched and the
// report is marked Noop.
func (it *Iterator) Step(ctx context.Context) (Report, error) {
	t := it.task
	now := it.exec.now().UTC()
	rep := Report{TaskID: t.ID, Type: t.Type, From: t.State, To: t.State}

	switch {
	case t.Phase == task.PhaseFinished:
		return it.noop(rep), nil
	case t.TerminateRequested:
		return it.terminate(ctx, rep, now)
	case !t.Runnable(now):
		return it.noop(rep), nil
	}
	// Any wake-up that landed before this step is consumed by it.
	t.WakeSeen = t.WokenAt

	typ, ok := it.exec.registry.Get(t.Type)
	if !ok {
		err := fmt.Errorf("%w: %q", stepflow.ErrTaskTypeNotFound, t.Type)
		return it.fail(ctx, rep, now, task.ExitErrorSystem, err)
	}
	state, ok := typ.Table.State(t.State)
	if !ok {
		err := &task.ConfigurationError{Type: t.Type, State: t.State, Msg: "task is in a state its table does not declare"}
		return it.fail(ctx, rep, now, task.ExitErrorSystem, err)
	}

	if t.Phase == task.PhaseBeforeStart {
		t.StartedAt = &now
	}
	t.Phase = task.PhaseStarted

	sc, err := typ.NewContext(ctx, t, it.env())
	if err != nil {
		return it.fail(ctx, rep, now, task.ExitErrorSystem, err)
	}

	h := typ.Handlers(t.State)
	res, ran := it.enter(sc, h)
	sc.Seal()
	// Children requested by a failed entry are never created.
	if ran && res.Kind != transition.KindException {
		n, err := it.spawn(ctx, sc, now)
		rep.Spawned = n
		if err != nil {
			res = transition.Exception(err)
		}
	}
	if res.Kind != transition.KindException {
		res = it.decide(sc, h)
	}

	if err := sc.Commit(); err != nil {
		return it.fail(ctx, rep, now, task.ExitErrorSystem, err)
	}

	if t.Counters == nil {
		t.Counters = make(map[string]int)
	}
	d, err := it.exec.evaluator.Resolve(state, res, t.Counters)
	if err != nil {
		return it.fail(ctx, rep, now, task.Classify(err), err)
	}
	rep.Outcome = d.Matched

	switch {
	case d.Stay:
		it.park(d.Delay, now)
		t.SkipEntry = d.SkipEntry
		if sc.AwaitingChildren() && d.Delay > 0 {
			t.Phase = task.PhaseRunningChildren
		}
	case d.Target == statetable.Finish:
		it.end(sc, typ, now, task.ExitComplete, d.Message)
	case d.Target == statetable.Terminate:
		msg := d.Message
		if msg == "" && d.Err != nil {
			msg = d.Err.Error()
		}
		it.end(sc, typ, now, task.ExitTerminated, msg)
	default:
		next, _ := typ.Table.State(d.Target)
		t.State = next.Name
		t.Capabilities = next.Capabilities
		t.SkipEntry = d.SkipEntry
		it.park(d.Delay, now)
	}
	t.LastOutcome = d.Matched

	return it.persist(ctx, rep, now, nil)
}

// enter runs the entry action unless the task resumes at its decision.
// It reports whether an entry action ran.
func (it *Iterator) enter(sc *task.Context, h task.Handlers) (res transition.Result, ran bool) {
	if it.task.SkipEntry || h.Entry == nil {
		return transition.Result{}, false
	}
	defer it.guard(&res)
	if err := h.Entry(sc); err != nil {
		return transition.Exception(err), true
	}
	return transition.Success(), true
}

// decide runs the decision function. States without one succeed.
func (it *Iterator) decide(sc *task.Context, h task.Handlers) (res transition.Result) {
	if h.Decision == nil {
		return transition.Success()
	}
	defer it.guard(&res)
	return h.Decision(sc)
}

// guard turns a panic in user code into an exception result.
func (it *Iterator) guard(res *transition.Result) {
	r := recover()
	if r == nil {
		return
	}
	it.exec.logger.Error("task code panicked",
		slog.String("task_id", it.task.ID.String()),
		slog.String("task_type", it.task.Type),
		slog.String("state", it.task.State),
		slog.Any("panic", r),
		slog.String("stack", string(debug.Stack())),
	)
	*res = transition.Exception(fmt.Errorf("panic in state %s: %v", it.task.State, r))
}

// spawn creates the children requested during the entry action and links
// them to the task. Either every child is created and linked or none is:
// on failure the children already created are deleted again.
func (it *Iterator) spawn(ctx context.Context, sc *task.Context, now time.Time) (int, error) {
	spawned := sc.Spawned()
	if len(spawned) == 0 {
		return 0, nil
	}

	children := make([]*task.Task, len(spawned))
	for i, sp := range spawned {
		typ, ok := it.exec.registry.Get(sp.Type)
		if !ok {
			return 0, fmt.Errorf("spawn child: %w: %q", stepflow.ErrTaskTypeNotFound, sp.Type)
		}
		child, err := typ.NewTask(sp.Object, now, sp.Opts...)
		if err != nil {
			return 0, fmt.Errorf("spawn child: %w", err)
		}
		children[i] = child
	}

	pctx := context.WithoutCancel(ctx)
	created := make([]bool, len(children))
	g, gctx := errgroup.WithContext(pctx)
	for i, child := range children {
		g.Go(func() error {
			err := it.exec.tasks.CreateTask(gctx, child)
			if err != nil && !errors.Is(err, stepflow.ErrTaskAlreadyExists) {
				return fmt.Errorf("create child %s: %w", child.ID, err)
			}
			created[i] = err == nil
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		it.discard(pctx, children, created)
		return 0, err
	}

	for _, child := range children {
		it.task.Children = append(it.task.Children, child.ID)
		it.exec.emitter.EmitTaskSubmitted(ctx, child)
	}
	return len(children), nil
}

// discard deletes the children of a failed fan-out that were created.
func (it *Iterator) discard(ctx context.Context, children []*task.Task, created []bool) {
	for i, child := range children {
		if !created[i] {
			continue
		}
		if err := it.exec.tasks.DeleteTask(ctx, child.ID); err != nil && !errors.Is(err, stepflow.ErrTaskNotFound) {
			it.exec.logger.Warn("failed to delete child of a failed fan-out",
				slog.String("task_id", it.task.ID.String()),
				slog.String("child_id", child.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// park keeps the task off the claimable set for d. Only a wake-up newer
// than the one this step consumed cuts the wait short.
func (it *Iterator) park(d time.Duration, now time.Time) {
	t := it.task
	if d <= 0 {
		t.WaitUntil = time.Time{}
		t.Phase = task.PhaseStarted
		return
	}
	t.WaitUntil = now.Add(d)
	t.ParkedAt = now
	t.Phase = task.PhaseWaiting
}

// end marks the task finished with status and runs the type's finalizer.
func (it *Iterator) end(sc *task.Context, typ *task.Type, now time.Time, status task.ExitStatus, msg string) {
	t := it.task
	t.Phase = task.PhaseFinished
	t.ExitStatus = status
	t.ExitMessage = msg
	t.FinishedAt = &now
	t.WaitUntil = time.Time{}
	t.SkipEntry = false
	if status != task.ExitComplete {
		t.ExitCode = 1
	}
	if sc == nil || typ == nil {
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				it.exec.logger.Error("finalizer panicked",
					slog.String("task_id", t.ID.String()),
					slog.Any("panic", r),
				)
			}
		}()
		if code, message, ok := typ.Finalize(sc, status); ok {
			t.ExitCode = code
			if message != "" {
				t.ExitMessage = message
			}
		}
	}()
	if err := sc.Commit(); err != nil {
		it.exec.logger.Warn("commit after finalizer failed",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// fail ends the task with an error status.
func (it *Iterator) fail(ctx context.Context, rep Report, now time.Time, status task.ExitStatus, cause error) (Report, error) {
	it.end(nil, nil, now, status, cause.Error())
	it.task.LastOutcome = statetable.ExceptionOutcome
	rep.Outcome = statetable.ExceptionOutcome
	return it.persist(ctx, rep, now, cause)
}

// terminate carries out an administrative termination request.
func (it *Iterator) terminate(ctx context.Context, rep Report, now time.Time) (Report, error) {
	t := it.task
	pctx := context.WithoutCancel(ctx)

	t.Phase = task.PhaseTerminating
	t.UpdatedAt = now
	if err := it.exec.tasks.UpdateTask(pctx, t); err != nil {
		return rep, fmt.Errorf("iterator: persist task %s: %w", t.ID, err)
	}

	var (
		sc  *task.Context
		typ *task.Type
	)
	if found, ok := it.exec.registry.Get(t.Type); ok {
		if c, err := found.NewContext(ctx, t, it.env()); err == nil {
			sc, typ = c, found
		}
	}
	it.end(sc, typ, now, task.ExitTerminated, "terminated by request")
	t.LastOutcome = statetable.Terminate
	rep.Outcome = statetable.Terminate

	rep, err := it.persist(ctx, rep, now, nil)
	if err != nil {
		return rep, err
	}
	it.terminateChildren(pctx, now)
	return rep, nil
}

func (it *Iterator) terminateChildren(ctx context.Context, now time.Time) {
	for _, childID := range it.task.Children {
		err := it.exec.tasks.RequestTermination(ctx, childID, now)
		if err != nil && !errors.Is(err, stepflow.ErrTaskFinished) && !errors.Is(err, stepflow.ErrTaskNotFound) {
			it.exec.logger.Warn("child termination request failed",
				slog.String("task_id", it.task.ID.String()),
				slog.String("child_id", childID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// persist writes the task and emits the step's events. cause is the error
// that ended the task, if any.
func (it *Iterator) persist(ctx context.Context, rep Report, now time.Time, cause error) (Report, error) {
	t := it.task
	pctx := context.WithoutCancel(ctx)

	t.Steps++
	t.UpdatedAt = now
	if err := it.exec.tasks.UpdateTask(pctx, t); err != nil {
		return rep, fmt.Errorf("iterator: persist task %s: %w", t.ID, err)
	}

	rep.Phase = t.Phase
	rep.ExitStatus = t.ExitStatus
	rep.Elapsed = it.exec.now().Sub(now)
	if t.Phase == task.PhaseFinished {
		rep.To = exitTarget(t)
	} else {
		rep.To = t.State
		if t.WaitUntil.After(now) {
			rep.Delay = t.WaitUntil.Sub(now)
		}
	}

	em := it.exec.emitter
	em.EmitStepCompleted(pctx, t, rep.From, rep.Outcome, rep.Elapsed)
	switch {
	case t.Phase == task.PhaseFinished:
		it.finished(pctx, now, cause)
	case rep.Delay > 0:
		em.EmitTaskWaiting(pctx, t, t.WaitUntil)
	}

	it.exec.logger.Debug("step persisted",
		slog.String("task_id", t.ID.String()),
		slog.String("from", rep.From),
		slog.String("to", rep.To),
		slog.String("outcome", rep.Outcome),
		slog.String("phase", string(t.Phase)),
		slog.Duration("delay", rep.Delay),
	)
	return rep, nil
}

// finished releases the task's callbacks, wakes its parent and emits the
// terminal event.
func (it *Iterator) finished(ctx context.Context, now time.Time, cause error) {
	t := it.task
	if it.exec.signals != nil {
		if err := it.exec.signals.ReleaseTask(ctx, t.ID); err != nil {
			it.exec.logger.Warn("release task signals failed",
				slog.String("task_id", t.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if !t.ParentID.IsNil() {
		if err := it.exec.tasks.WakeTask(ctx, t.ParentID, now); err != nil && !errors.Is(err, stepflow.ErrTaskNotFound) && !errors.Is(err, stepflow.ErrTaskFinished) {
			it.exec.logger.Warn("wake parent failed",
				slog.String("task_id", t.ID.String()),
				slog.String("parent_id", t.ParentID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if t.ExitStatus == task.ExitErrorUser || t.ExitStatus == task.ExitErrorSystem {
		if cause == nil {
			cause = errors.New(t.ExitMessage)
		}
		it.exec.emitter.EmitTaskFailed(ctx, t, cause)
		it.exec.logger.Warn("task failed",
			slog.String("task_id", t.ID.String()),
			slog.String("task_type", t.Type),
			slog.String("exit_status", string(t.ExitStatus)),
			slog.String("error", cause.Error()),
		)
		return
	}
	it.exec.emitter.EmitTaskFinished(ctx, t)
	it.exec.logger.Info("task finished",
		slog.String("task_id", t.ID.String()),
		slog.String("task_type", t.Type),
		slog.String("exit_status", string(t.ExitStatus)),
		slog.Int("steps", t.Steps),
	)
}

func (it *Iterator) noop(rep Report) Report {
	rep.Noop = true
	rep.Phase = it.task.Phase
	rep.ExitStatus = it.task.ExitStatus
	return rep
}

func (it *Iterator) env() task.Env {
	env := task.Env{Tasks: it.exec.tasks, Logger: it.exec.logger, Now: it.exec.now}
	if it.exec.signals != nil {
		env.Signals = it.exec.signals
	}
	return env
}

// exitTarget names where a finished task went: a terminal, or the state
// it failed in.
func exitTarget(t *task.Task) string {
	switch t.ExitStatus {
	case task.ExitComplete:
		return statetable.Finish
	case task.ExitTerminated:
		return statetable.Terminate
	default:
		return t.State
	}
}
