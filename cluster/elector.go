package cluster

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/stepflow/id"
)

// Elector keeps trying to acquire or renew cluster leadership for one
// server. Subsystems that must run on a single server (cron firing, dead
// server reaping) consult IsLeader.
type Elector struct {
	store    Store
	serverID id.ServerID
	ttl      time.Duration
	logger   *slog.Logger

	leader atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewElector creates an elector. The leadership TTL defaults to 15s and is
// renewed every ttl/2.
func NewElector(store Store, serverID id.ServerID, ttl time.Duration, logger *slog.Logger) *Elector {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Elector{
		store:    store,
		serverID: serverID,
		ttl:      ttl,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// IsLeader reports whether the last acquire or renew attempt succeeded.
func (e *Elector) IsLeader() bool { return e.leader.Load() }

// Start launches the election loop.
func (e *Elector) Start(_ context.Context) error {
	e.wg.Add(1)
	go e.loop()
	return nil
}

// Stop ends the election loop. Leadership is left to expire.
func (e *Elector) Stop(_ context.Context) error {
	e.once.Do(func() { close(e.stopCh) })
	e.wg.Wait()
	e.leader.Store(false)
	return nil
}

func (e *Elector) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.ttl / 2)
	defer ticker.Stop()

	// Try once immediately at start.
	e.Campaign(context.Background())

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.Campaign(context.Background())
		}
	}
}

// Campaign runs one renew-or-acquire round and reports whether this
// server is leader afterwards.
func (e *Elector) Campaign(ctx context.Context) bool {
	// Try to renew first (cheap if already leader).
	renewed, err := e.store.RenewLeadership(ctx, e.serverID, e.ttl)
	if err != nil {
		e.logger.Warn("leadership renew error", slog.String("error", err.Error()))
		e.leader.Store(false)
		return false
	}
	if renewed {
		e.leader.Store(true)
		return true
	}

	acquired, err := e.store.AcquireLeadership(ctx, e.serverID, e.ttl)
	if err != nil {
		e.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
		e.leader.Store(false)
		return false
	}
	if acquired && !e.leader.Load() {
		e.logger.Info("acquired cluster leadership", slog.String("server_id", e.serverID.String()))
	}
	e.leader.Store(acquired)
	return acquired
}
