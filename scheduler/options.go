package scheduler

import (
	"log/slog"
	"time"

	"github.com/xraph/stepflow/backoff"
)

// Option configures a Pool.
type Option func(*Pool)

// WithConcurrency sets the number of slots.
func WithConcurrency(n int) Option {
	return func(p *Pool) { p.concurrency = n }
}

// WithGlobalConcurrency caps the number of task locks held cluster-wide.
// Zero disables the ceiling.
func WithGlobalConcurrency(n int) Option {
	return func(p *Pool) { p.globalConcurrency = n }
}

// WithCapabilities sets the tags this server advertises.
func WithCapabilities(tags ...string) Option {
	return func(p *Pool) { p.capabilities = tags }
}

// WithPollInterval sets the longest idle sleep between passes.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) { p.pollInterval = d }
}

// WithIdleBackoff overrides the idle back-off. The default is
// backoff.Idle(pollInterval).
func WithIdleBackoff(s backoff.Strategy) Option {
	return func(p *Pool) { p.idle = s }
}

// WithHeartbeatInterval sets how often the server registration and the
// locks of in-flight steps are refreshed. Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithDeadServerThreshold sets how long a server may miss heartbeats
// before the leader releases its locks. Zero disables reaping.
func WithDeadServerThreshold(d time.Duration) Option {
	return func(p *Pool) { p.deadThreshold = d }
}

// WithLimiter sets the per-group admission limiter.
func WithLimiter(l Limiter) Option {
	return func(p *Pool) { p.limiter = l }
}

// WithLeader sets the leadership source consulted before reaping. Without
// one the pool never reaps.
func WithLeader(l Leader) Option {
	return func(p *Pool) { p.leader = l }
}

// WithBatchSize sets how many candidates one pass lists.
func WithBatchSize(n int) Option {
	return func(p *Pool) { p.batch = n }
}

// WithHostname sets the hostname recorded on the server registration.
func WithHostname(name string) Option {
	return func(p *Pool) { p.hostname = name }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}
