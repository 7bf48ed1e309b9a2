package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/lock"
	"github.com/xraph/stepflow/task"
)

// SubmitFunc submits a task of typeName whose object is already encoded.
// The engine provides the implementation.
type SubmitFunc func(ctx context.Context, typeName string, object []byte, opts ...task.SubmitOption) (id.TaskID, error)

// Emitter emits cron lifecycle events.
// ext.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, taskID id.TaskID)
}

// Leader reports whether this server currently leads the cluster.
// cluster.Elector satisfies it.
type Leader interface {
	IsLeader() bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithEmitter sets the CronFired hook target.
func WithEmitter(e Emitter) SchedulerOption {
	return func(s *Scheduler) { s.emitter = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// LockName is the lock guarding one entry while it fires.
func LockName(entryName string) string { return "cron:" + entryName }

// Scheduler runs cron entries on a tick loop. Only the cluster leader
// fires entries.
type Scheduler struct {
	store   Store
	leader  Leader
	locker  *lock.Locker
	submit  SubmitFunc
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time

	tickInterval time.Duration

	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewScheduler creates a Scheduler. locker provides the per-entry locks;
// its TTL bounds how long a crashed leader blocks an entry.
func NewScheduler(store Store, leader Leader, locker *lock.Locker, submit SubmitFunc, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:        store,
		leader:       leader,
		locker:       locker,
		submit:       submit,
		logger:       slog.Default(),
		now:          time.Now,
		tickInterval: time.Second,
		parsed:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started", slog.Duration("tick_interval", s.tickInterval))
	return nil
}

// Stop signals the scheduler to stop and waits for the loop to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick fires every due entry once if this server is the leader. It returns
// the number of entries fired.
func (s *Scheduler) Tick(ctx context.Context) int {
	if !s.leader.IsLeader() {
		return 0
	}

	entries, err := s.store.ListCrons(ctx)
	if err != nil {
		s.logger.Error("list crons error", slog.String("error", err.Error()))
		return 0
	}

	now := s.now().UTC()
	fired := 0
	for _, entry := range entries {
		if entry.Due(now) && s.fireEntry(ctx, entry, now) {
			fired++
		}
	}
	return fired
}

func (s *Scheduler) fireEntry(ctx context.Context, entry *Entry, now time.Time) bool {
	name := LockName(entry.Name)
	acquired, err := s.locker.Acquire(ctx, name, 0)
	if err != nil {
		s.logger.Error("acquire cron lock error",
			slog.String("cron_name", entry.Name),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !acquired {
		return false
	}
	defer func() {
		if _, relErr := s.locker.Release(ctx, name); relErr != nil {
			s.logger.Error("release cron lock error",
				slog.String("cron_name", entry.Name),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	// Re-read under the lock: another leader may have fired it already.
	current, err := s.store.GetCron(ctx, entry.ID)
	if err != nil || !current.Due(now) {
		return false
	}

	var opts []task.SubmitOption
	if current.Group != "" {
		opts = append(opts, task.InGroup(current.Group))
	}
	taskID, err := s.submit(ctx, current.TaskType, current.Object, opts...)
	if err != nil {
		s.logger.Error("cron submit error",
			slog.String("cron_name", current.Name),
			slog.String("task_type", current.TaskType),
			slog.String("error", err.Error()),
		)
		return false
	}

	if err := s.store.UpdateCronLastRun(ctx, current.ID, now); err != nil {
		s.logger.Error("update cron last run error",
			slog.String("cron_name", current.Name),
			slog.String("error", err.Error()),
		)
	}

	sched, err := s.schedule(current.Schedule)
	if err != nil {
		s.logger.Error("parse cron schedule error",
			slog.String("cron_name", current.Name),
			slog.String("schedule", current.Schedule),
			slog.String("error", err.Error()),
		)
	} else {
		next := sched.Next(now)
		current.LastRunAt = &now
		current.NextRunAt = &next
		if err := s.store.UpdateCronEntry(ctx, current); err != nil {
			s.logger.Error("update cron next run error",
				slog.String("cron_name", current.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, current.Name, taskID)
	}
	s.logger.Info("cron fired",
		slog.String("cron_name", current.Name),
		slog.String("task_type", current.TaskType),
		slog.String("task_id", taskID.String()),
	)
	return true
}

// schedule caches parsed cron expressions.
func (s *Scheduler) schedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
