package stepflow

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Server.
type Option func(*Server) error

// Storer is the minimal store interface held by the Server.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for scheduler pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Server is the per-process coordinator: it owns the configuration, the
// logger, the store handle and the scheduler pool of one engine server.
//
// Create one with New() and functional options, then hand it to
// engine.Build, which wires the subsystems together.
type Server struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	started bool
}

// New creates a new Server with the given options.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger { return s.logger }

// Store returns the server's store.
func (s *Server) Store() Storer { return s.store }

// Config returns a copy of the server's configuration.
func (s *Server) Config() Config { return s.config }

// SetPool sets the scheduler pool (called by the engine package).
func (s *Server) SetPool(p poolRunner) { s.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (s *Server) SetExtensions(e extensionEmitter) { s.extensions = e }

// Start begins claiming and stepping tasks.
func (s *Server) Start(ctx context.Context) error {
	if s.pool == nil {
		return ErrNoStore
	}
	if err := s.pool.Start(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.pool != nil && s.started {
		if err := s.pool.Stop(ctx); err != nil {
			s.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
	}
	if s.extensions != nil {
		s.extensions.EmitShutdown(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// WithConcurrency sets the number of worker slots on this server.
func WithConcurrency(n int) Option {
	return func(s *Server) error {
		s.config.Concurrency = n
		return nil
	}
}

// WithGlobalConcurrency caps the number of tasks claimed cluster-wide.
func WithGlobalConcurrency(n int) Option {
	return func(s *Server) error {
		s.config.GlobalConcurrency = n
		return nil
	}
}

// WithCapabilities sets the capability tags this server advertises.
func WithCapabilities(tags ...string) Option {
	return func(s *Server) error {
		s.config.Capabilities = tags
		return nil
	}
}

// WithPollInterval sets the idle poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) error {
		s.config.PollInterval = d
		return nil
	}
}

// WithLockTTL sets how long a claim lock outlives a crashed holder.
func WithLockTTL(d time.Duration) Option {
	return func(s *Server) error {
		s.config.LockTTL = d
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(s *Server) error {
		s.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the server.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the server.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(st Storer) Option {
	return func(s *Server) error {
		s.store = st
		return nil
	}
}
