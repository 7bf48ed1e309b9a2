package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/stepflow/lock"
)

// heartbeatLoop refreshes the server registration and the locks of
// in-flight steps.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Heartbeat(context.Background())
		}
	}
}

// Heartbeat refreshes the server registration and renews the claim of
// every step in flight.
func (p *Pool) Heartbeat(ctx context.Context) {
	if err := p.store.HeartbeatServer(ctx, p.serverID); err != nil {
		p.logger.Warn("server heartbeat failed",
			slog.String("server_id", p.serverID.String()),
			slog.String("error", err.Error()),
		)
	}

	for _, taskID := range p.Active() {
		ok, err := p.locker.Renew(ctx, lock.TaskLockName(taskID))
		switch {
		case err != nil:
			p.logger.Warn("task lock renew failed",
				slog.String("task_id", taskID),
				slog.String("error", err.Error()),
			)
		case !ok:
			p.logger.Warn("task lock lost during step", slog.String("task_id", taskID))
		}
	}
}

// reaperLoop releases the claims of dead servers while this server leads.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.deadThreshold / 2)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Reap(context.Background())
		}
	}
}

// Reap marks servers that missed heartbeats for the dead-server threshold
// as dead and releases every lock they hold. It does nothing unless this
// server is the leader.
func (p *Pool) Reap(ctx context.Context) int {
	if p.leader == nil || !p.leader.IsLeader() || p.deadThreshold <= 0 {
		return 0
	}

	dead, err := p.store.ReapDeadServers(ctx, p.deadThreshold)
	if err != nil {
		p.logger.Error("reap dead servers failed", slog.String("error", err.Error()))
		return 0
	}

	for _, srv := range dead {
		n, err := p.store.ReleaseLocksByHolder(ctx, srv.ID.String())
		if err != nil {
			p.logger.Error("release dead server locks failed",
				slog.String("server_id", srv.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Info("reaped dead server",
			slog.String("server_id", srv.ID.String()),
			slog.String("hostname", srv.Hostname),
			slog.Int64("locks_released", n),
		)
	}
	return len(dead)
}
