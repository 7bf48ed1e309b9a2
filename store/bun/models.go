package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/control"
	"github.com/xraph/stepflow/cron"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/lock"
	"github.com/xraph/stepflow/signal"
	"github.com/xraph/stepflow/task"
)

// ── Task model ────────────────────────────────────────────────────

type taskModel struct {
	bun.BaseModel `bun:"table:stepflow_tasks,alias:t"`

	ID                 string            `bun:"id,pk"`
	Type               string            `bun:"type,notnull"`
	State              string            `bun:"state,notnull"`
	Phase              string            `bun:"phase,notnull"`
	Priority           int               `bun:"priority,notnull"`
	Group              string            `bun:"task_group,notnull"`
	ParentID           string            `bun:"parent_id,nullzero"`
	Children           []string          `bun:"children,type:text[],array"`
	Object             []byte            `bun:"object,type:bytea"`
	Scratch            map[string][]byte `bun:"scratch,type:jsonb"`
	Counters           map[string]int    `bun:"counters,type:jsonb"`
	Capabilities       []string          `bun:"capabilities,type:text[],array,notnull"`
	SkipEntry          bool              `bun:"skip_entry,notnull"`
	WaitUntil          time.Time         `bun:"wait_until,nullzero"`
	ParkedAt           time.Time         `bun:"parked_at,nullzero"`
	WokenAt            time.Time         `bun:"woken_at,nullzero"`
	WakeSeen           time.Time         `bun:"wake_seen,nullzero"`
	TerminateRequested bool              `bun:"terminate_requested,notnull"`
	LastOutcome        string            `bun:"last_outcome,notnull"`
	Steps              int               `bun:"steps,notnull"`
	ExitStatus         string            `bun:"exit_status,notnull"`
	ExitCode           int               `bun:"exit_code,notnull"`
	ExitMessage        string            `bun:"exit_message,notnull"`
	StartedAt          *time.Time        `bun:"started_at"`
	FinishedAt         *time.Time        `bun:"finished_at"`
	CreatedAt          time.Time         `bun:"created_at,notnull"`
	UpdatedAt          time.Time         `bun:"updated_at,notnull"`
}

func toTaskModel(t *task.Task) *taskModel {
	children := make([]string, len(t.Children))
	for i, c := range t.Children {
		children[i] = c.String()
	}
	return &taskModel{
		ID:                 t.ID.String(),
		Type:               t.Type,
		State:              t.State,
		Phase:              string(t.Phase),
		Priority:           t.Priority,
		Group:              t.Group,
		ParentID:           t.ParentID.String(),
		Children:           children,
		Object:             t.Object,
		Scratch:            t.Scratch,
		Counters:           t.Counters,
		Capabilities:       nonNil(t.Capabilities),
		SkipEntry:          t.SkipEntry,
		WaitUntil:          t.WaitUntil,
		ParkedAt:           t.ParkedAt,
		WokenAt:            t.WokenAt,
		WakeSeen:           t.WakeSeen,
		TerminateRequested: t.TerminateRequested,
		LastOutcome:        t.LastOutcome,
		Steps:              t.Steps,
		ExitStatus:         string(t.ExitStatus),
		ExitCode:           t.ExitCode,
		ExitMessage:        t.ExitMessage,
		StartedAt:          t.StartedAt,
		FinishedAt:         t.FinishedAt,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

func fromTaskModel(m *taskModel) (*task.Task, error) {
	tID, err := id.ParseTaskID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("stepflow/bun: parse task id %q: %w", m.ID, err)
	}
	parent, err := id.ParseOptional(m.ParentID, id.PrefixTask)
	if err != nil {
		return nil, fmt.Errorf("stepflow/bun: parse parent id %q: %w", m.ParentID, err)
	}
	var children []id.TaskID
	for _, c := range m.Children {
		cID, err := id.ParseTaskID(c)
		if err != nil {
			return nil, fmt.Errorf("stepflow/bun: parse child id %q: %w", c, err)
		}
		children = append(children, cID)
	}
	return &task.Task{
		Entity: stepflow.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:                 tID,
		Type:               m.Type,
		State:              m.State,
		Phase:              task.Phase(m.Phase),
		Priority:           m.Priority,
		Group:              m.Group,
		ParentID:           parent,
		Children:           children,
		Object:             m.Object,
		Scratch:            m.Scratch,
		Counters:           m.Counters,
		Capabilities:       m.Capabilities,
		SkipEntry:          m.SkipEntry,
		WaitUntil:          m.WaitUntil.UTC(),
		ParkedAt:           m.ParkedAt.UTC(),
		WokenAt:            m.WokenAt.UTC(),
		WakeSeen:           m.WakeSeen.UTC(),
		TerminateRequested: m.TerminateRequested,
		LastOutcome:        m.LastOutcome,
		Steps:              m.Steps,
		ExitStatus:         task.ExitStatus(m.ExitStatus),
		ExitCode:           m.ExitCode,
		ExitMessage:        m.ExitMessage,
		StartedAt:          utcPtr(m.StartedAt),
		FinishedAt:         utcPtr(m.FinishedAt),
	}, nil
}

// ── Lock model ────────────────────────────────────────────────────

type lockModel struct {
	bun.BaseModel `bun:"table:stepflow_locks,alias:l"`

	Name       string    `bun:"name,pk"`
	Holder     string    `bun:"holder,notnull"`
	AcquiredAt time.Time `bun:"acquired_at,notnull"`
	ExpiresAt  time.Time `bun:"expires_at,nullzero"`
}

func fromLockModel(m *lockModel) *lock.Record {
	return &lock.Record{
		Name:       m.Name,
		Holder:     m.Holder,
		AcquiredAt: m.AcquiredAt.UTC(),
		ExpiresAt:  m.ExpiresAt.UTC(),
	}
}

// ── Signal model ──────────────────────────────────────────────────

type callbackModel struct {
	bun.BaseModel `bun:"table:stepflow_signals"`

	Token     string    `bun:"token,pk"`
	TaskID    string    `bun:"task_id,nullzero"`
	Type      string    `bun:"type,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func toCallbackModel(cb *signal.Callback) *callbackModel {
	return &callbackModel{
		Token:     cb.Token.String(),
		TaskID:    cb.TaskID.String(),
		Type:      cb.Type,
		CreatedAt: cb.CreatedAt,
	}
}

func fromCallbackModel(m *callbackModel) (*signal.Callback, error) {
	token, err := id.ParseSignalID(m.Token)
	if err != nil {
		return nil, fmt.Errorf("stepflow/bun: parse signal token %q: %w", m.Token, err)
	}
	tID, err := id.ParseOptional(m.TaskID, id.PrefixTask)
	if err != nil {
		return nil, fmt.Errorf("stepflow/bun: parse callback task id %q: %w", m.TaskID, err)
	}
	return &signal.Callback{
		Token:     token,
		TaskID:    tID,
		Type:      m.Type,
		CreatedAt: m.CreatedAt.UTC(),
	}, nil
}

// ── Control models ────────────────────────────────────────────────

type flagsModel struct {
	bun.BaseModel `bun:"table:stepflow_flags"`

	ID          int       `bun:"id,pk"`
	Global      string    `bun:"global,notnull"`
	Maintenance bool      `bun:"maintenance,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero"`
}

type groupPauseModel struct {
	bun.BaseModel `bun:"table:stepflow_group_pauses"`

	Group string `bun:"group_name,pk"`
	Level string `bun:"level,notnull"`
}

// ── Server models ─────────────────────────────────────────────────

type serverModel struct {
	bun.BaseModel `bun:"table:stepflow_servers"`

	ID           string            `bun:"id,pk"`
	Hostname     string            `bun:"hostname,notnull"`
	Capabilities []string          `bun:"capabilities,type:text[],array"`
	Concurrency  int               `bun:"concurrency,notnull"`
	State        string            `bun:"state,notnull"`
	LastSeen     time.Time         `bun:"last_seen,notnull"`
	Metadata     map[string]string `bun:"metadata,type:jsonb"`
	CreatedAt    time.Time         `bun:"created_at,notnull"`
}

func toServerModel(s *cluster.Server) *serverModel {
	return &serverModel{
		ID:           s.ID.String(),
		Hostname:     s.Hostname,
		Capabilities: s.Capabilities,
		Concurrency:  s.Concurrency,
		State:        string(s.State),
		LastSeen:     s.LastSeen,
		Metadata:     s.Metadata,
		CreatedAt:    s.CreatedAt,
	}
}

func fromServerModel(m *serverModel) (*cluster.Server, error) {
	sID, err := id.ParseServerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("stepflow/bun: parse server id %q: %w", m.ID, err)
	}
	return &cluster.Server{
		ID:           sID,
		Hostname:     m.Hostname,
		Capabilities: m.Capabilities,
		Concurrency:  m.Concurrency,
		State:        cluster.ServerState(m.State),
		LastSeen:     m.LastSeen.UTC(),
		Metadata:     m.Metadata,
		CreatedAt:    m.CreatedAt.UTC(),
	}, nil
}

type leaderModel struct {
	bun.BaseModel `bun:"table:stepflow_leader,alias:ld"`

	ID          int       `bun:"id,pk"`
	ServerID    string    `bun:"server_id,notnull"`
	LeaderUntil time.Time `bun:"leader_until,notnull"`
}

// ── Cron model ────────────────────────────────────────────────────

type cronModel struct {
	bun.BaseModel `bun:"table:stepflow_crons"`

	ID        string     `bun:"id,pk"`
	Name      string     `bun:"name,notnull,unique"`
	Schedule  string     `bun:"schedule,notnull"`
	TaskType  string     `bun:"task_type,notnull"`
	Group     string     `bun:"task_group,notnull"`
	Object    []byte     `bun:"object,type:bytea"`
	LastRunAt *time.Time `bun:"last_run_at"`
	NextRunAt *time.Time `bun:"next_run_at"`
	Enabled   bool       `bun:"enabled,notnull"`
	CreatedAt time.Time  `bun:"created_at,notnull"`
	UpdatedAt time.Time  `bun:"updated_at,notnull"`
}

func toCronModel(e *cron.Entry) *cronModel {
	return &cronModel{
		ID:        e.ID.String(),
		Name:      e.Name,
		Schedule:  e.Schedule,
		TaskType:  e.TaskType,
		Group:     e.Group,
		Object:    e.Object,
		LastRunAt: e.LastRunAt,
		NextRunAt: e.NextRunAt,
		Enabled:   e.Enabled,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func fromCronModel(m *cronModel) (*cron.Entry, error) {
	eID, err := id.ParseCronID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("stepflow/bun: parse cron id %q: %w", m.ID, err)
	}
	return &cron.Entry{
		Entity: stepflow.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:        eID,
		Name:      m.Name,
		Schedule:  m.Schedule,
		TaskType:  m.TaskType,
		Group:     m.Group,
		Object:    m.Object,
		LastRunAt: utcPtr(m.LastRunAt),
		NextRunAt: utcPtr(m.NextRunAt),
		Enabled:   m.Enabled,
	}, nil
}

// flagsFrom assembles Flags from the singleton row and the group rows.
func flagsFrom(m *flagsModel, groups []groupPauseModel) *control.Flags {
	f := &control.Flags{Global: control.PauseOff}
	if m != nil {
		if m.Global != "" {
			f.Global = control.Level(m.Global)
		}
		f.Maintenance = m.Maintenance
		f.UpdatedAt = m.UpdatedAt.UTC()
	}
	if len(groups) > 0 {
		f.Groups = make(map[string]control.Level, len(groups))
		for _, g := range groups {
			f.Groups[g.Group] = control.Level(g.Level)
		}
	}
	return f
}
