package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
)

// Waker makes a parked task runnable.
type Waker interface {
	WakeTask(ctx context.Context, taskID id.TaskID, at time.Time) error
}

// Emitter is notified of resolved signals. ext.Registry satisfies it.
type Emitter interface {
	EmitSignalResolved(ctx context.Context, cb *Callback)
}

// Service registers, resolves and releases signal callbacks.
type Service struct {
	store   Store
	waker   Waker
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithEmitter sets the resolution hook.
func WithEmitter(e Emitter) Option {
	return func(s *Service) { s.emitter = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a signal service.
func NewService(store Store, waker Waker, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: store, waker: waker, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a callback for taskID and signalType and returns its
// token. With a nil taskID an existing system callback of the same type
// is reused.
func (s *Service) Register(ctx context.Context, taskID id.TaskID, signalType string) (string, error) {
	if signalType == "" {
		return "", fmt.Errorf("signal: empty signal type")
	}
	if taskID.IsNil() {
		existing, err := s.store.GetSystemCallback(ctx, signalType)
		if err == nil {
			return existing.Token.String(), nil
		}
		if !errors.Is(err, stepflow.ErrSignalNotFound) {
			return "", err
		}
	}

	cb := &Callback{
		Token:     id.NewSignalID(),
		TaskID:    taskID,
		Type:      signalType,
		CreatedAt: s.now().UTC(),
	}
	err := s.store.CreateCallback(ctx, cb)
	if errors.Is(err, stepflow.ErrSignalAlreadyExists) && taskID.IsNil() {
		// Lost a race with another registrar.
		existing, getErr := s.store.GetSystemCallback(ctx, signalType)
		if getErr != nil {
			return "", getErr
		}
		return existing.Token.String(), nil
	}
	if err != nil {
		return "", fmt.Errorf("signal: register %q: %w", signalType, err)
	}
	return cb.Token.String(), nil
}

// Resolve consumes the callback for token and wakes its task. System
// callbacks are returned without being consumed. Unknown or already
// resolved tokens return stepflow.ErrSignalNotFound.
func (s *Service) Resolve(ctx context.Context, token string) (*Callback, error) {
	tok, err := id.ParseSignalID(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", stepflow.ErrSignalNotFound, token)
	}
	cb, err := s.store.GetCallback(ctx, tok)
	if err != nil {
		return nil, err
	}

	if !cb.System() {
		if err := s.store.DeleteCallback(ctx, tok); err != nil {
			return nil, err
		}
		if err := s.waker.WakeTask(ctx, cb.TaskID, s.now().UTC()); err != nil {
			s.logger.Warn("signal resolved but task wake-up failed",
				slog.String("token", token),
				slog.String("task_id", cb.TaskID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Debug("signal resolved",
		slog.String("token", token),
		slog.String("type", cb.Type),
		slog.String("task_id", cb.TaskID.String()),
	)
	if s.emitter != nil {
		s.emitter.EmitSignalResolved(ctx, cb)
	}
	return cb, nil
}

// Release discards the callback for token without waking anything. It is
// a no-op for unknown or already released tokens.
func (s *Service) Release(ctx context.Context, token string) error {
	tok, err := id.ParseSignalID(token)
	if err != nil {
		return nil
	}
	if err := s.store.DeleteCallback(ctx, tok); err != nil && !errors.Is(err, stepflow.ErrSignalNotFound) {
		return err
	}
	return nil
}

// Pending reports whether token is still registered.
func (s *Service) Pending(ctx context.Context, token string) (bool, error) {
	tok, err := id.ParseSignalID(token)
	if err != nil {
		return false, nil
	}
	_, err = s.store.GetCallback(ctx, tok)
	if errors.Is(err, stepflow.ErrSignalNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseTask discards every callback a task registered. The scheduler
// calls it when the task finishes.
func (s *Service) ReleaseTask(ctx context.Context, taskID id.TaskID) error {
	cbs, err := s.store.ListCallbacksByTask(ctx, taskID)
	if err != nil {
		return err
	}
	var errs []error
	for _, cb := range cbs {
		if err := s.store.DeleteCallback(ctx, cb.Token); err != nil && !errors.Is(err, stepflow.ErrSignalNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
