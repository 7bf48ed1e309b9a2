package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gu "github.com/xraph/go-utils/metrics"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/control"
	"github.com/xraph/stepflow/cron"
	"github.com/xraph/stepflow/ext"
	"github.com/xraph/stepflow/group"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/iterator"
	"github.com/xraph/stepflow/lock"
	mw "github.com/xraph/stepflow/middleware"
	"github.com/xraph/stepflow/observability"
	"github.com/xraph/stepflow/scheduler"
	"github.com/xraph/stepflow/signal"
	"github.com/xraph/stepflow/store"
	"github.com/xraph/stepflow/task"
)

// instrumentation is the OTel instrumentation scope name.
const instrumentation = "github.com/xraph/stepflow"

// Engine wraps a Server with typed subsystem access.
// Use Build() to create one from a Server.
type Engine struct {
	srv        *stepflow.Server
	store      store.Store
	extensions *ext.Registry
	registry   *task.Registry
	signals    *signal.Service
	executor   *iterator.Executor
	locker     *lock.Locker
	elector    *cluster.Elector
	pool       *scheduler.Pool
	crons      *cron.Scheduler
	groups     *group.Manager
	serverID   id.ServerID
	logger     *slog.Logger
	now        func() time.Time

	mws          []mw.Middleware
	groupConfigs []group.Config
	typeConfigs  []group.TypeConfig
	cronTick     time.Duration
	leaderTTL    time.Duration
	clusterStore cluster.Store

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metricFactory  gu.MetricFactory
}

// Build creates an Engine from an existing Server. The Server's store must
// implement store.Store.
func Build(srv *stepflow.Server, opts ...Option) (*Engine, error) {
	logger := srv.Logger()
	if srv.Store() == nil {
		return nil, stepflow.ErrNoStore
	}
	st, ok := srv.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("stepflow: store does not implement store.Store")
	}

	eng := &Engine{
		srv:        srv,
		store:      st,
		extensions: ext.NewRegistry(logger),
		registry:   task.NewRegistry(),
		serverID:   id.NewServerID(),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(eng)
	}
	config := srv.Config()

	if eng.metricFactory != nil {
		eng.extensions.Register(observability.NewMetricsExtensionWithFactory(eng.metricFactory))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}

	eng.signals = signal.NewService(st, st, logger,
		signal.WithEmitter(eng.extensions),
		signal.WithClock(eng.now),
	)

	// Default chain: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		eng.tracingMiddleware(),
		eng.metricsMiddleware(),
		mw.Logging(logger),
		mw.Timeout(logger, mw.TypeTimeouts(eng.registry)),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.executor = iterator.NewExecutor(st, eng.registry,
		iterator.WithSignals(eng.signals),
		iterator.WithEmitter(eng.extensions),
		iterator.WithMiddleware(allMws...),
		iterator.WithLogger(logger),
		iterator.WithClock(eng.now),
	)

	eng.locker = lock.New(st, eng.serverID.String(),
		lock.WithTTL(config.LockTTL),
		lock.WithLogger(logger),
	)
	var poolStore scheduler.Store = st
	var electorStore cluster.Store = st
	if eng.clusterStore != nil {
		poolStore = &registryStore{Store: st, registry: eng.clusterStore}
		electorStore = eng.clusterStore
	}
	eng.elector = cluster.NewElector(electorStore, eng.serverID, eng.leaderTTL, logger)

	eng.groups = group.NewManager(eng.groupConfigs...)
	for _, tc := range eng.typeConfigs {
		eng.groups.SetTypeConfig(tc)
	}

	eng.pool = scheduler.NewPool(poolStore, eng.executor, eng.locker, eng.serverID,
		scheduler.WithConcurrency(config.Concurrency),
		scheduler.WithGlobalConcurrency(config.GlobalConcurrency),
		scheduler.WithCapabilities(config.Capabilities...),
		scheduler.WithPollInterval(config.PollInterval),
		scheduler.WithHeartbeatInterval(config.HeartbeatInterval),
		scheduler.WithDeadServerThreshold(config.DeadServerThreshold),
		scheduler.WithLimiter(eng.groups),
		scheduler.WithLeader(eng.elector),
		scheduler.WithLogger(logger),
		scheduler.WithClock(eng.now),
	)

	cronOpts := []cron.SchedulerOption{
		cron.WithEmitter(eng.extensions),
		cron.WithLogger(logger),
		cron.WithClock(eng.now),
	}
	if eng.cronTick > 0 {
		cronOpts = append(cronOpts, cron.WithTickInterval(eng.cronTick))
	}
	eng.crons = cron.NewScheduler(st, eng.elector, eng.locker, eng.submitForCron, cronOpts...)

	// Wire back into the Server.
	srv.SetPool(eng.pool)
	srv.SetExtensions(eng.extensions)

	return eng, nil
}

func (eng *Engine) tracingMiddleware() mw.Middleware {
	if eng.tracerProvider != nil {
		return mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentation))
	}
	return mw.Tracing()
}

func (eng *Engine) metricsMiddleware() mw.Middleware {
	if eng.meterProvider != nil {
		return mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentation))
	}
	return mw.Metrics()
}

// Register compiles a typed task definition and adds it to the engine.
// Every server of a cluster must register the same definitions.
func Register[T any](eng *Engine, def *task.Definition[T]) (*task.Type, error) {
	typ, err := task.RegisterDefinition(eng.registry, def)
	if err != nil {
		return nil, err
	}
	eng.logger.Debug("task type registered",
		slog.String("task_type", typ.Name),
		slog.String("initial_state", typ.Table.Initial().Name),
	)
	return typ, nil
}

// Submit creates a task of typeName with object as its domain object.
func Submit[T any](ctx context.Context, eng *Engine, typeName string, object T, opts ...task.SubmitOption) (*task.Task, error) {
	typ, err := eng.lookup(typeName)
	if err != nil {
		return nil, err
	}
	t, err := typ.NewTask(object, eng.now().UTC(), opts...)
	if err != nil {
		return nil, fmt.Errorf("submit %q: %w", typeName, err)
	}
	return eng.create(ctx, t)
}

// SubmitRaw creates a task whose object is already encoded with the
// type's codec.
func (eng *Engine) SubmitRaw(ctx context.Context, typeName string, object []byte, opts ...task.SubmitOption) (*task.Task, error) {
	typ, err := eng.lookup(typeName)
	if err != nil {
		return nil, err
	}
	t, err := typ.NewTaskFromBytes(object, eng.now().UTC(), opts...)
	if err != nil {
		return nil, fmt.Errorf("submit %q: %w", typeName, err)
	}
	return eng.create(ctx, t)
}

func (eng *Engine) submitForCron(ctx context.Context, typeName string, object []byte, opts ...task.SubmitOption) (id.TaskID, error) {
	t, err := eng.SubmitRaw(ctx, typeName, object, opts...)
	if err != nil {
		return id.TaskID{}, err
	}
	return t.ID, nil
}

func (eng *Engine) lookup(typeName string) (*task.Type, error) {
	typ, ok := eng.registry.Get(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", stepflow.ErrTaskTypeNotFound, typeName)
	}
	return typ, nil
}

func (eng *Engine) create(ctx context.Context, t *task.Task) (*task.Task, error) {
	if err := eng.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	eng.extensions.EmitTaskSubmitted(ctx, t)
	eng.logger.Debug("task submitted",
		slog.String("task_id", t.ID.String()),
		slog.String("task_type", t.Type),
		slog.String("group", t.Group),
		slog.Int("priority", t.Priority),
	)
	return t, nil
}

// Task returns the current record of a task.
func (eng *Engine) Task(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	return eng.store.GetTask(ctx, taskID)
}

// Tasks lists tasks matching opts.
func (eng *Engine) Tasks(ctx context.Context, opts task.ListOpts) ([]*task.Task, error) {
	return eng.store.ListTasks(ctx, opts)
}

// Signal resolves the callback for token and wakes the task that
// registered it.
func (eng *Engine) Signal(ctx context.Context, token string) (*signal.Callback, error) {
	return eng.signals.Resolve(ctx, token)
}

// Terminate asks a task to stop. The next step boundary moves it to
// terminate and cascades the request to its children.
func (eng *Engine) Terminate(ctx context.Context, taskID id.TaskID) error {
	if err := eng.store.RequestTermination(ctx, taskID, eng.now().UTC()); err != nil {
		return fmt.Errorf("terminate %s: %w", taskID, err)
	}
	eng.logger.Info("task termination requested", slog.String("task_id", taskID.String()))
	return nil
}

// Pause sets the cluster-wide pause level.
func (eng *Engine) Pause(ctx context.Context, level control.Level) error {
	if err := eng.store.SetGlobalPause(ctx, level); err != nil {
		return err
	}
	eng.logger.Info("global pause set", slog.String("level", string(level)))
	return nil
}

// PauseGroup sets the pause level of one group.
func (eng *Engine) PauseGroup(ctx context.Context, groupName string, level control.Level) error {
	if err := eng.store.SetGroupPause(ctx, groupName, level); err != nil {
		return err
	}
	eng.logger.Info("group pause set",
		slog.String("group", groupName),
		slog.String("level", string(level)),
	)
	return nil
}

// Maintenance switches full maintenance mode.
func (eng *Engine) Maintenance(ctx context.Context, on bool) error {
	if err := eng.store.SetMaintenance(ctx, on); err != nil {
		return err
	}
	eng.logger.Info("maintenance mode set", slog.Bool("on", on))
	return nil
}

// Flags returns the current pause and maintenance flags.
func (eng *Engine) Flags(ctx context.Context) (*control.Flags, error) {
	return eng.store.GetFlags(ctx)
}

// RegisterCron persists a recurring submission of typeName. The object is
// encoded once with the type's codec. Re-registering a name is a no-op.
func RegisterCron[T any](ctx context.Context, eng *Engine, name, schedule, typeName string, object T, opts ...task.SubmitOption) error {
	typ, err := eng.lookup(typeName)
	if err != nil {
		return err
	}
	data, err := typ.Codec().Encode(object)
	if err != nil {
		return fmt.Errorf("encode cron object: %w", err)
	}

	entry, err := cron.NewEntry(name, schedule, typeName, data, eng.now().UTC())
	if err != nil {
		return err
	}
	var so task.SubmitOpts
	for _, opt := range opts {
		opt(&so)
	}
	entry.Group = so.Group

	if err := eng.store.RegisterCron(ctx, entry); err != nil {
		if errors.Is(err, stepflow.ErrDuplicateCron) {
			return nil
		}
		return fmt.Errorf("register cron %q: %w", name, err)
	}

	eng.logger.Info("cron registered",
		slog.String("name", name),
		slog.String("schedule", schedule),
		slog.String("task_type", typeName),
		slog.Time("next_run_at", *entry.NextRunAt),
	)
	return nil
}

// Start launches leader election, the cron scheduler and the claim loop.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.elector.Start(ctx); err != nil {
		return fmt.Errorf("start elector: %w", err)
	}
	if err := eng.crons.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	return eng.srv.Start(ctx)
}

// Stop gracefully shuts down the engine and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.crons.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}
	if err := eng.elector.Stop(ctx); err != nil {
		eng.logger.Error("elector stop error", slog.String("error", err.Error()))
	}
	return eng.srv.Stop(ctx)
}

// ServerID returns the identity of this engine's server.
func (eng *Engine) ServerID() id.ServerID { return eng.serverID }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the task type registry.
func (eng *Engine) Registry() *task.Registry { return eng.registry }

// Server returns the underlying Server.
func (eng *Engine) Server() *stepflow.Server { return eng.srv }

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Signals returns the signal service, for registering system callbacks.
func (eng *Engine) Signals() *signal.Service { return eng.signals }

// Executor returns the step executor.
func (eng *Engine) Executor() *iterator.Executor { return eng.executor }

// Pool returns the scheduler pool.
func (eng *Engine) Pool() *scheduler.Pool { return eng.pool }

// Elector returns the leader elector.
func (eng *Engine) Elector() *cluster.Elector { return eng.elector }

// Cron returns the cron scheduler.
func (eng *Engine) Cron() *cron.Scheduler { return eng.crons }

// Groups returns the group limiter.
func (eng *Engine) Groups() *group.Manager { return eng.groups }
