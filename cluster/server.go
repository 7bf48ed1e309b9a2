package cluster

import (
	"slices"
	"time"

	"github.com/xraph/stepflow/id"
)

// ServerState represents the lifecycle state of a server.
type ServerState string

const (
	// ServerActive means the server is healthy and claiming tasks.
	ServerActive ServerState = "active"
	// ServerDraining means the server is finishing in-flight steps but
	// not claiming new ones (graceful shutdown).
	ServerDraining ServerState = "draining"
	// ServerDead means the server stopped heartbeating.
	ServerDead ServerState = "dead"
)

// Server represents a stepflow process in a cluster.
type Server struct {
	ID           id.ServerID       `json:"id"`
	Hostname     string            `json:"hostname"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Concurrency  int               `json:"concurrency"`
	State        ServerState       `json:"state"`
	IsLeader     bool              `json:"is_leader"`
	LeaderUntil  *time.Time        `json:"leader_until,omitempty"`
	LastSeen     time.Time         `json:"last_seen"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// HasCapability reports whether the server advertises tag.
func (s *Server) HasCapability(tag string) bool {
	return slices.Contains(s.Capabilities, tag)
}
