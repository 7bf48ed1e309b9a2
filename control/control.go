// Package control holds the cluster-wide pause and maintenance flags.
//
// Flags live in the shared store rather than in process memory so that
// every server observes the same values; the scheduler reads them at the
// top of every pass.
package control

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/stepflow/task"
)

// Level is a pause level.
type Level string

const (
	// PauseOff leaves scheduling untouched.
	PauseOff Level = "off"
	// PauseSoft stops tasks from starting; started tasks keep stepping.
	PauseSoft Level = "soft"
	// PauseHard stops all claims, including continuation of started tasks.
	PauseHard Level = "hard"
)

// ParseLevel parses "off", "soft" or "hard". The empty string is off.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case "", PauseOff:
		return PauseOff, nil
	case PauseSoft, PauseHard:
		return Level(s), nil
	default:
		return "", fmt.Errorf("control: unknown pause level %q", s)
	}
}

// Flags is the shared scheduling switchboard.
type Flags struct {
	Global      Level            `json:"global"`
	Groups      map[string]Level `json:"groups,omitempty"`
	Maintenance bool             `json:"maintenance"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Halted reports whether no task may be claimed at all.
func (f *Flags) Halted() bool {
	return f.Maintenance || f.Global == PauseHard
}

// Restrict narrows opts to what the flags allow. It returns false when
// the flags forbid every claim.
func (f *Flags) Restrict(opts *task.ClaimOpts) bool {
	if f.Halted() {
		return false
	}
	if f.Global == PauseSoft {
		opts.NoNew = true
	}
	groups := make([]string, 0, len(f.Groups))
	for g := range f.Groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		switch f.Groups[g] {
		case PauseHard:
			opts.ExcludeGroups = append(opts.ExcludeGroups, g)
		case PauseSoft:
			opts.NoNewGroups = append(opts.NoNewGroups, g)
		}
	}
	return true
}

// Store defines the persistence contract for the flags.
type Store interface {
	// GetFlags returns the current flags; all off when never set.
	GetFlags(ctx context.Context) (*Flags, error)

	// SetGlobalPause sets the cluster-wide pause level.
	SetGlobalPause(ctx context.Context, level Level) error

	// SetGroupPause sets the pause level of one group. PauseOff clears it.
	SetGroupPause(ctx context.Context, group string, level Level) error

	// SetMaintenance switches full maintenance mode.
	SetMaintenance(ctx context.Context, on bool) error
}
