package cron

import (
	"fmt"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
)

// Entry represents a recurring task submission.
type Entry struct {
	stepflow.Entity

	ID        id.CronID  `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	TaskType  string     `json:"task_type"`
	Group     string     `json:"group,omitempty"`
	Object    []byte     `json:"object,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	Enabled   bool       `json:"enabled"`
}

// Due reports whether the entry should fire at now.
func (e *Entry) Due(now time.Time) bool {
	return e.Enabled && e.NextRunAt != nil && !e.NextRunAt.After(now)
}

// NewEntry builds an enabled entry whose first run is the schedule's next
// activation after now.
func NewEntry(name, schedule, taskType string, object []byte, now time.Time) (*Entry, error) {
	if name == "" {
		return nil, fmt.Errorf("cron: entry has no name")
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("cron: parse schedule %q: %w", schedule, err)
	}
	now = now.UTC()
	next := sched.Next(now)
	return &Entry{
		Entity:    stepflow.Entity{CreatedAt: now, UpdatedAt: now},
		ID:        id.NewCronID(),
		Name:      name,
		Schedule:  schedule,
		TaskType:  taskType,
		Object:    object,
		NextRunAt: &next,
		Enabled:   true,
	}, nil
}
