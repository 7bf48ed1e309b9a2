package stepflow

import "time"

// Config holds configuration for a Server.
type Config struct {
	// Concurrency is the number of worker slots on this server. Each slot
	// runs at most one step of one task at a time.
	Concurrency int

	// GlobalConcurrency caps the number of tasks claimed across the whole
	// cluster. Zero disables the global ceiling.
	GlobalConcurrency int

	// Capabilities are the tags this server advertises. A task is claimed
	// only when its current state's capability tags are all present here.
	Capabilities []string

	// PollInterval is the longest a slot sleeps between scheduler passes
	// when it finds no claimable work.
	PollInterval time.Duration

	// LockTTL bounds how long a claim survives a crashed holder.
	LockTTL time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often the server refreshes its registration.
	HeartbeatInterval time.Duration

	// DeadServerThreshold is how long a server may miss heartbeats before
	// the leader releases the locks it holds.
	DeadServerThreshold time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:         10,
		PollInterval:        2 * time.Second,
		LockTTL:             5 * time.Minute,
		ShutdownTimeout:     30 * time.Second,
		HeartbeatInterval:   10 * time.Second,
		DeadServerThreshold: time.Minute,
	}
}
