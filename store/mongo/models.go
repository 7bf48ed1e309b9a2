package mongo

import (
	"fmt"
	"time"

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
	ID                 string            `bson:"_id"`
	Type               string            `bson:"type"`
	State              string            `bson:"state"`
	Phase              string            `bson:"phase"`
	Priority           int               `bson:"priority"`
	Group              string            `bson:"group"`
	ParentID           string            `bson:"parent_id"`
	Children           []string          `bson:"children"`
	Object             []byte            `bson:"object,omitempty"`
	Scratch            map[string][]byte `bson:"scratch,omitempty"`
	Counters           map[string]int    `bson:"counters,omitempty"`
	Capabilities       []string          `bson:"capabilities"`
	SkipEntry          bool              `bson:"skip_entry"`
	WaitUntil          time.Time         `bson:"wait_until"`
	ParkedAt           time.Time         `bson:"parked_at"`
	WokenAt            time.Time         `bson:"woken_at"`
	WakeSeen           time.Time         `bson:"wake_seen"`
	TerminateRequested bool              `bson:"terminate_requested"`
	LastOutcome        string            `bson:"last_outcome"`
	Steps              int               `bson:"steps"`
	ExitStatus         string            `bson:"exit_status"`
	ExitCode           int               `bson:"exit_code"`
	ExitMessage        string            `bson:"exit_message"`
	StartedAt          *time.Time        `bson:"started_at,omitempty"`
	FinishedAt         *time.Time        `bson:"finished_at,omitempty"`
	CreatedAt          time.Time         `bson:"created_at"`
	UpdatedAt          time.Time         `bson:"updated_at"`
}

func toTaskModel(t *task.Task) *taskModel {
	children := make([]string, len(t.Children))
	for i, c := range t.Children {
		children[i] = c.String()
	}
	caps := t.Capabilities
	if caps == nil {
		caps = []string{}
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
		Capabilities:       caps,
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
		return nil, fmt.Errorf("stepflow/mongo: parse task id %q: %w", m.ID, err)
	}
	parent, err := id.ParseOptional(m.ParentID, id.PrefixTask)
	if err != nil {
		return nil, fmt.Errorf("stepflow/mongo: parse parent id %q: %w", m.ParentID, err)
	}
	var children []id.TaskID
	for _, c := range m.Children {
		cID, err := id.ParseTaskID(c)
		if err != nil {
			return nil, fmt.Errorf("stepflow/mongo: parse child id %q: %w", c, err)
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
	Name       string     `bson:"_id"`
	Holder     string     `bson:"holder"`
	AcquiredAt time.Time  `bson:"acquired_at"`
	ExpiresAt  *time.Time `bson:"expires_at"`
}

func fromLockModel(m *lockModel) *lock.Record {
	rec := &lock.Record{
		Name:       m.Name,
		Holder:     m.Holder,
		AcquiredAt: m.AcquiredAt.UTC(),
	}
	if m.ExpiresAt != nil {
		rec.ExpiresAt = m.ExpiresAt.UTC()
	}
	return rec
}

// ── Signal model ──────────────────────────────────────────────────

type callbackModel struct {
	Token     string    `bson:"_id"`
	TaskID    string    `bson:"task_id"`
	Type      string    `bson:"type"`
	CreatedAt time.Time `bson:"created_at"`
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
		return nil, fmt.Errorf("stepflow/mongo: parse signal token %q: %w", m.Token, err)
	}
	tID, err := id.ParseOptional(m.TaskID, id.PrefixTask)
	if err != nil {
		return nil, fmt.Errorf("stepflow/mongo: parse callback task id %q: %w", m.TaskID, err)
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
	ID          string    `bson:"_id"`
	Global      string    `bson:"global"`
	Maintenance bool      `bson:"maintenance"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

type groupPauseModel struct {
	Group string `bson:"_id"`
	Level string `bson:"level"`
}

func toFlags(m *flagsModel, groups []groupPauseModel) *control.Flags {
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

// ── Server model ──────────────────────────────────────────────────

type serverModel struct {
	ID           string            `bson:"_id"`
	Hostname     string            `bson:"hostname"`
	Capabilities []string          `bson:"capabilities"`
	Concurrency  int               `bson:"concurrency"`
	State        string            `bson:"state"`
	LastSeen     time.Time         `bson:"last_seen"`
	Metadata     map[string]string `bson:"metadata,omitempty"`
	CreatedAt    time.Time         `bson:"created_at"`
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
		return nil, fmt.Errorf("stepflow/mongo: parse server id %q: %w", m.ID, err)
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
	ID          string    `bson:"_id"`
	ServerID    string    `bson:"server_id"`
	LeaderUntil time.Time `bson:"leader_until"`
}

// ── Cron model ────────────────────────────────────────────────────

type cronModel struct {
	ID        string     `bson:"_id"`
	Name      string     `bson:"name"`
	Schedule  string     `bson:"schedule"`
	TaskType  string     `bson:"task_type"`
	Group     string     `bson:"group"`
	Object    []byte     `bson:"object,omitempty"`
	LastRunAt *time.Time `bson:"last_run_at,omitempty"`
	NextRunAt *time.Time `bson:"next_run_at,omitempty"`
	Enabled   bool       `bson:"enabled"`
	CreatedAt time.Time  `bson:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at"`
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
		return nil, fmt.Errorf("stepflow/mongo: parse cron id %q: %w", m.ID, err)
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

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
