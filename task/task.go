package task

import (
	"maps"
	"slices"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
)

// Phase is the execution phase of a task.
type Phase string

const (
	// PhaseBeforeStart means the task has been submitted but never stepped.
	PhaseBeforeStart Phase = "before-start"
	// PhaseStarted means the task is runnable in its current state.
	PhaseStarted Phase = "started"
	// PhaseWaiting means the task is parked until WaitUntil or a wake-up.
	PhaseWaiting Phase = "waiting"
	// PhaseRunningChildren means the task is parked until its children finish.
	PhaseRunningChildren Phase = "running-children"
	// PhaseTerminating means an administrative termination is in progress.
	PhaseTerminating Phase = "terminating"
	// PhaseFinished means the task reached a terminal state.
	PhaseFinished Phase = "finished"
)

// Parked reports whether the phase waits on a timer or an event.
func (p Phase) Parked() bool {
	return p == PhaseWaiting || p == PhaseRunningChildren
}

// ExitStatus is the final disposition of a task.
type ExitStatus string

const (
	ExitNotFinished ExitStatus = "not-finished"
	ExitComplete    ExitStatus = "complete"
	ExitTerminated  ExitStatus = "terminated"
	ExitErrorUser   ExitStatus = "error-user"
	ExitErrorSystem ExitStatus = "error-system"
)

// Finished reports whether the status is final.
func (s ExitStatus) Finished() bool { return s != ExitNotFinished && s != "" }

// Failed reports whether the status is an error or a termination.
func (s ExitStatus) Failed() bool {
	return s == ExitTerminated || s == ExitErrorUser || s == ExitErrorSystem
}

// Task is one instance of work driven through a state table.
//
// WokenAt and TerminateRequested are written only by Store.WakeTask and
// Store.RequestTermination; UpdateTask leaves them untouched so that a
// wake-up racing a step is never lost. WakeSeen is the WokenAt value the
// last step loaded: a wake-up counts only when it is newer than that, so a
// step never consumes the same wake twice.
type Task struct {
	stepflow.Entity

	ID       id.TaskID   `json:"id"`
	Type     string      `json:"type"`
	State    string      `json:"state"`
	Phase    Phase       `json:"phase"`
	Priority int         `json:"priority"`
	Group    string      `json:"group,omitempty"`
	ParentID id.TaskID   `json:"parent_id,omitempty"`
	Children []id.TaskID `json:"children,omitempty"`

	// Object is the encoded domain object.
	Object []byte `json:"object,omitempty"`
	// Scratch is the per-task context that survives between steps.
	Scratch map[string][]byte `json:"scratch,omitempty"`
	// Counters holds attempt counts keyed by "state/outcome".
	Counters map[string]int `json:"counters,omitempty"`
	// Capabilities are the tags the current state requires of a server.
	Capabilities []string `json:"capabilities,omitempty"`

	// SkipEntry resumes the current state at its decision function.
	SkipEntry bool      `json:"skip_entry,omitempty"`
	WaitUntil time.Time `json:"wait_until"`
	ParkedAt  time.Time `json:"parked_at"`
	WokenAt   time.Time `json:"woken_at"`
	WakeSeen  time.Time `json:"wake_seen"`

	TerminateRequested bool `json:"terminate_requested,omitempty"`

	LastOutcome string     `json:"last_outcome,omitempty"`
	Steps       int        `json:"steps"`
	ExitStatus  ExitStatus `json:"exit_status"`
	ExitCode    int        `json:"exit_code"`
	ExitMessage string     `json:"exit_message,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Runnable reports whether the task may be stepped at now: it is not
// finished and either its wait timer has elapsed or it was woken after its
// last step began.
func (t *Task) Runnable(now time.Time) bool {
	if t.Phase == PhaseFinished {
		return false
	}
	return !t.WaitUntil.After(now) || t.WokenAt.After(t.WakeSeen)
}

// CapableOf reports whether a server advertising caps may step the task.
func (t *Task) CapableOf(caps []string) bool {
	for _, c := range t.Capabilities {
		if !slices.Contains(caps, c) {
			return false
		}
	}
	return true
}

// Less orders tasks for claiming: higher priority first, then older first.
func Less(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Children = slices.Clone(t.Children)
	cp.Object = slices.Clone(t.Object)
	cp.Capabilities = slices.Clone(t.Capabilities)
	cp.Counters = maps.Clone(t.Counters)
	if t.Scratch != nil {
		cp.Scratch = make(map[string][]byte, len(t.Scratch))
		for k, v := range t.Scratch {
			cp.Scratch[k] = slices.Clone(v)
		}
	}
	if t.StartedAt != nil {
		at := *t.StartedAt
		cp.StartedAt = &at
	}
	if t.FinishedAt != nil {
		at := *t.FinishedAt
		cp.FinishedAt = &at
	}
	return &cp
}
