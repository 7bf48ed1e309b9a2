package engine

import (
	"time"

	gu "github.com/xraph/go-utils/metrics"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/ext"
	"github.com/xraph/stepflow/group"
	mw "github.com/xraph/stepflow/middleware"
)

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware appends middleware after the default step chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithGroupConfig registers per-group rate and concurrency limits.
// Groups not listed have no limits.
func WithGroupConfig(configs ...group.Config) Option {
	return func(eng *Engine) {
		eng.groupConfigs = append(eng.groupConfigs, configs...)
	}
}

// WithTypeConfig registers per-task-type rate and concurrency limits.
func WithTypeConfig(configs ...group.TypeConfig) Option {
	return func(eng *Engine) {
		eng.typeConfigs = append(eng.typeConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware. The global provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// WithMetricFactory sets the go-utils factory backing the lifecycle
// metrics extension.
func WithMetricFactory(f gu.MetricFactory) Option {
	return func(eng *Engine) {
		eng.metricFactory = f
	}
}

// WithCronTickInterval sets how often the cron scheduler looks for due
// entries.
func WithCronTickInterval(d time.Duration) Option {
	return func(eng *Engine) {
		eng.cronTick = d
	}
}

// WithLeaderTTL sets the cluster leadership TTL.
func WithLeaderTTL(d time.Duration) Option {
	return func(eng *Engine) {
		eng.leaderTTL = d
	}
}

// WithClusterStore moves server registration, heartbeats and leader
// election to cs, such as the Kubernetes provider in cluster/k8s. Tasks,
// locks and flags stay in the main store.
func WithClusterStore(cs cluster.Store) Option {
	return func(eng *Engine) {
		eng.clusterStore = cs
	}
}

// WithClock overrides the time source of every subsystem. Tests use it to
// simulate elapsed time.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.now = now
	}
}
