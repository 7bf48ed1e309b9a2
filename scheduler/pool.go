package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/backoff"
	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/control"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/iterator"
	"github.com/xraph/stepflow/lock"
	"github.com/xraph/stepflow/task"
)

// Store is the persistence the pool needs.
type Store interface {
	task.Store
	lock.Store
	control.Store
	cluster.Store
}

// Stepper runs one step of a task. *iterator.Executor implements it.
type Stepper interface {
	Step(ctx context.Context, taskID id.TaskID) (iterator.Report, error)
}

// Limiter admits steps against per-group and per-type ceilings.
// *group.Manager implements it.
type Limiter interface {
	Acquire(group, taskType string) bool
	Release(group, taskType string)
	// Saturated lists groups that cannot admit another step.
	Saturated() []string
}

// Leader reports whether this server currently leads the cluster.
// *cluster.Elector implements it.
type Leader interface {
	IsLeader() bool
}

// Pool manages the slots of one server.
type Pool struct {
	store   Store
	stepper Stepper
	locker  *lock.Locker
	limiter Limiter
	leader  Leader
	logger  *slog.Logger
	now     func() time.Time

	serverID          id.ServerID
	hostname          string
	capabilities      []string
	concurrency       int
	globalConcurrency int
	batch             int
	pollInterval      time.Duration
	idle              backoff.Strategy
	heartbeatInterval time.Duration
	deadThreshold     time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// NewPool creates a pool for serverID. locker must act as
// serverID.String() so that reaping a dead server frees its claims.
func NewPool(store Store, stepper Stepper, locker *lock.Locker, serverID id.ServerID, opts ...Option) *Pool {
	p := &Pool{
		store:        store,
		stepper:      stepper,
		locker:       locker,
		logger:       slog.Default(),
		now:          time.Now,
		serverID:     serverID,
		concurrency:  10,
		pollInterval: 2 * time.Second,
		stopCh:       make(chan struct{}),
		active:       make(map[string]context.CancelFunc),
	}
	p.hostname, _ = os.Hostname()
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if p.batch <= 0 {
		p.batch = 2 * p.concurrency
	}
	if p.idle == nil {
		p.idle = backoff.Idle(p.pollInterval)
	}
	return p
}

// ServerID returns the identity of the server this pool runs for.
func (p *Pool) ServerID() id.ServerID { return p.serverID }

// Start registers the server and launches the slots. It returns
// immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	now := p.now().UTC()
	srv := &cluster.Server{
		ID:           p.serverID,
		Hostname:     p.hostname,
		Capabilities: p.capabilities,
		Concurrency:  p.concurrency,
		State:        cluster.ServerActive,
		LastSeen:     now,
		CreatedAt:    now,
	}
	if err := p.store.RegisterServer(ctx, srv); err != nil {
		return fmt.Errorf("scheduler: register server: %w", err)
	}
	p.running = true

	p.logger.Info("scheduler pool starting",
		slog.String("server_id", p.serverID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Int("global_concurrency", p.globalConcurrency),
		slog.Any("capabilities", p.capabilities),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.slotLoop()
	}
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}
	if p.deadThreshold > 0 && p.leader != nil {
		p.wg.Add(1)
		go p.reaperLoop()
	}
	return nil
}

// Stop signals the slots to stop and waits for in-flight steps. If ctx
// ends first the remaining steps are cancelled; their results are still
// persisted by the iterator.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("scheduler pool stopping", slog.String("server_id", p.serverID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("scheduler pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("scheduler pool shutdown timed out, cancelling active steps")
		p.cancelActive()
		p.wg.Wait()
	}

	dctx := context.WithoutCancel(ctx)
	if err := p.store.DeregisterServer(dctx, p.serverID); err != nil && !errors.Is(err, stepflow.ErrServerNotFound) {
		p.logger.Warn("deregister server failed", slog.String("error", err.Error()))
	}
	return nil
}

// slotLoop is run by each slot goroutine.
func (p *Pool) slotLoop() {
	defer p.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	idle := 0
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		claimed, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("scheduler pass failed", slog.String("error", err.Error()))
		}
		if claimed {
			idle = 0
			continue
		}
		idle++
		p.sleep(p.idle.Delay(idle))
	}
}

// RunOnce makes one scheduler pass: it claims at most one task, runs one
// step of it and releases the claim. It reports whether a step ran.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	flags, err := p.store.GetFlags(ctx)
	if err != nil {
		return false, fmt.Errorf("scheduler: read flags: %w", err)
	}
	opts := task.ClaimOpts{
		Now:          p.now().UTC(),
		Limit:        p.batch,
		Capabilities: p.capabilities,
	}
	if !flags.Restrict(&opts) {
		return false, nil
	}
	if p.limiter != nil {
		opts.ExcludeGroups = append(opts.ExcludeGroups, p.limiter.Saturated()...)
	}
	if full, err := p.globalFull(ctx, 0); err != nil || full {
		return false, err
	}

	candidates, err := p.store.ListClaimable(ctx, opts)
	if err != nil {
		return false, fmt.Errorf("scheduler: list claimable: %w", err)
	}

	for _, t := range candidates {
		ran, err := p.claim(ctx, t)
		if err != nil {
			return false, err
		}
		if ran {
			return true, nil
		}
	}
	return false, nil
}

// claim tries to take t and step it. It reports false when the task was
// taken elsewhere or a ceiling refused it.
func (p *Pool) claim(ctx context.Context, t *task.Task) (bool, error) {
	if p.limiter != nil {
		if !p.limiter.Acquire(t.Group, t.Type) {
			return false, nil
		}
		defer p.limiter.Release(t.Group, t.Type)
	}

	name := lock.TaskLockName(t.ID.String())
	ok, err := p.locker.Acquire(ctx, name, 0)
	if err != nil {
		return false, fmt.Errorf("scheduler: lock %s: %w", name, err)
	}
	if !ok {
		return false, nil
	}
	defer func() {
		if _, err := p.locker.Release(context.WithoutCancel(ctx), name); err != nil {
			p.logger.Warn("task lock release failed",
				slog.String("task_id", t.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()

	// Our own lock is counted, so the ceiling is exceeded only above it.
	if full, err := p.globalFull(ctx, 1); err != nil || full {
		return false, err
	}

	key := t.ID.String()
	sctx, cancel := context.WithCancel(ctx)
	p.track(key, cancel)
	defer func() {
		p.untrack(key)
		cancel()
	}()

	rep, err := p.stepper.Step(sctx, t.ID)
	if err != nil {
		p.logger.Error("step failed",
			slog.String("task_id", key),
			slog.String("task_type", t.Type),
			slog.String("error", err.Error()),
		)
		return true, nil
	}
	p.logger.Debug("task stepped",
		slog.String("task_id", key),
		slog.String("from", rep.From),
		slog.String("to", rep.To),
		slog.Bool("noop", rep.Noop),
	)
	return !rep.Noop, nil
}

// globalFull reports whether the cluster-wide ceiling is reached, allowing
// for own locks this pass already holds.
func (p *Pool) globalFull(ctx context.Context, own int64) (bool, error) {
	if p.globalConcurrency <= 0 {
		return false, nil
	}
	n, err := p.store.CountLocks(ctx, lock.TaskLockPrefix)
	if err != nil {
		return false, fmt.Errorf("scheduler: count task locks: %w", err)
	}
	return n-own >= int64(p.globalConcurrency), nil
}

func (p *Pool) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.stopCh:
	}
}

func (p *Pool) track(taskID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[taskID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(taskID string) {
	p.activeMu.Lock()
	delete(p.active, taskID)
	p.activeMu.Unlock()
}

// Active returns the IDs of tasks with a step in flight.
func (p *Pool) Active() []string {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	out := make([]string, 0, len(p.active))
	for taskID := range p.active {
		out = append(out, taskID)
	}
	return out
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for taskID, cancel := range p.active {
		p.logger.Warn("cancelling active step", slog.String("task_id", taskID))
		cancel()
	}
}
