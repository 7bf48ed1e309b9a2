package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/codec"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/statetable"
	"github.com/xraph/stepflow/transition"
)

// Handlers are the type-erased callables bound to one state.
type Handlers struct {
	Entry    func(*Context) error
	Decision func(*Context) transition.Result
}

// Type is a compiled task type: a validated state table with every state
// resolved to its handlers.
type Type struct {
	Name  string
	Table *statetable.Table
	Opts  Options

	codec    codec.Codec
	handlers map[string]Handlers
	decode   func(data []byte) (any, error)
	finalize func(*Context, ExitStatus) (int, string)
}

// Handlers returns the handlers bound to state.
func (t *Type) Handlers(state string) Handlers { return t.handlers[state] }

// Codec returns the type's object codec.
func (t *Type) Codec() codec.Codec { return t.codec }

// NewContext decodes the task's domain object and returns the context its
// next step runs with.
func (t *Type) NewContext(ctx context.Context, tk *Task, env Env) (*Context, error) {
	obj, err := t.decode(tk.Object)
	if err != nil {
		return nil, fmt.Errorf("task: decode object of %s: %w", tk.ID, err)
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	return &Context{ctx: ctx, task: tk, typ: t, env: env, object: obj}, nil
}

// Finalize runs the type's finalizer, if any.
func (t *Type) Finalize(c *Context, status ExitStatus) (code int, message string, ok bool) {
	if t.finalize == nil {
		return 0, "", false
	}
	code, message = t.finalize(c, status)
	return code, message, true
}

// NewTask builds a task record of this type in its initial state.
func (t *Type) NewTask(object any, now time.Time, opts ...SubmitOption) (*Task, error) {
	var data []byte
	if object != nil {
		var err error
		if data, err = t.codec.Encode(object); err != nil {
			return nil, fmt.Errorf("task: encode object for %q: %w", t.Name, err)
		}
	}
	return t.NewTaskFromBytes(data, now, opts...)
}

// NewTaskFromBytes is NewTask for an object already encoded with the
// type's codec.
func (t *Type) NewTaskFromBytes(data []byte, now time.Time, opts ...SubmitOption) (*Task, error) {
	if len(data) > 0 {
		if _, err := t.decode(data); err != nil {
			return nil, fmt.Errorf("task: decode object for %q: %w", t.Name, err)
		}
	}
	o := SubmitOpts{Group: t.Opts.Group}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.HasPriority {
		o.Priority = t.Opts.Priority
	}
	if o.Group == "" {
		o.Group = DefaultGroup
	}
	if o.ID.IsNil() {
		o.ID = id.NewTaskID()
	}

	initial := t.Table.Initial()
	tk := &Task{
		Entity:       stepflow.Entity{CreatedAt: now, UpdatedAt: now},
		ID:           o.ID,
		Type:         t.Name,
		State:        initial.Name,
		Phase:        PhaseBeforeStart,
		Priority:     o.Priority,
		Group:        o.Group,
		ParentID:     o.ParentID,
		Object:       data,
		Counters:     make(map[string]int),
		Capabilities: initial.Capabilities,
		ExitStatus:   ExitNotFinished,
	}
	if o.Delay > 0 {
		tk.WaitUntil = now.Add(o.Delay)
		tk.ParkedAt = now
	}
	return tk, nil
}

// Registry maps task type names to compiled types.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Type
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Type)}
}

// RegisterDefinition compiles def and registers it. Every decision
// function the table names must resolve, every entry action must belong
// to a declared state and every target must exist; otherwise a
// *ConfigurationError is returned and nothing is registered.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) (*Type, error) {
	typ, err := compile(def)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.types[def.Name]; dup {
		return nil, fmt.Errorf("%w: %q", stepflow.ErrDuplicateTaskType, def.Name)
	}
	r.types[def.Name] = typ
	return typ, nil
}

func compile[T any](def *Definition[T]) (*Type, error) {
	if def.Name == "" {
		return nil, &ConfigurationError{Msg: "task type has no name"}
	}
	cfgErr := func(state, format string, args ...any) error {
		return &ConfigurationError{Type: def.Name, State: state, Msg: fmt.Sprintf(format, args...)}
	}

	c, err := codec.Get(def.Opts.Codec)
	if err != nil {
		return nil, &ConfigurationError{Type: def.Name, Err: err}
	}
	tbl, err := statetable.Parse(def.Table)
	if err != nil {
		return nil, &ConfigurationError{Type: def.Name, Err: err}
	}
	if err := tbl.Validate(); err != nil {
		return nil, &ConfigurationError{Type: def.Name, Err: err}
	}

	for name := range def.Entries {
		if _, ok := tbl.State(name); !ok {
			return nil, cfgErr(name, "entry action bound to undeclared state")
		}
	}

	handlers := make(map[string]Handlers, len(tbl.States))
	for _, s := range tbl.States {
		var h Handlers
		if fn, ok := def.Entries[s.Name]; ok {
			h.Entry = func(c *Context) error {
				return fn(&Step[T]{Context: c, Object: c.object.(*T)})
			}
		}

		switch {
		case s.Decision == "":
			if !routes(s, transition.OutcomeSuccess) {
				return nil, cfgErr(s.Name, "state has no decision function and cannot route outcome %q", transition.OutcomeSuccess)
			}
		case def.Decisions[s.Decision] != nil:
			fn := def.Decisions[s.Decision]
			h.Decision = func(c *Context) transition.Result {
				return fn(&Step[T]{Context: c, Object: c.object.(*T)})
			}
		case builtinDecisions[s.Decision] != nil:
			for _, outcome := range []string{transition.OutcomeSuccess, transition.OutcomeFail} {
				if !routes(s, outcome) {
					return nil, cfgErr(s.Name, "decision %q requires a transition for outcome %q", s.Decision, outcome)
				}
			}
			h.Decision = builtinDecisions[s.Decision]
		default:
			return nil, cfgErr(s.Name, "decision function %q is not defined", s.Decision)
		}
		handlers[s.Name] = h
	}

	typ := &Type{
		Name:     def.Name,
		Table:    tbl,
		Opts:     def.Opts,
		codec:    c,
		handlers: handlers,
		decode: func(data []byte) (any, error) {
			obj := new(T)
			if len(data) == 0 {
				return obj, nil
			}
			if err := c.Decode(data, obj); err != nil {
				return nil, err
			}
			return obj, nil
		},
	}
	if def.Finalize != nil {
		fin := def.Finalize
		typ.finalize = func(c *Context, status ExitStatus) (int, string) {
			return fin(&Step[T]{Context: c, Object: c.object.(*T)}, status)
		}
	}
	return typ, nil
}

// routes reports whether outcome reaches a transition in s.
func routes(s *statetable.State, outcome string) bool {
	return s.Transition(outcome) != nil || s.Transition(statetable.Wildcard) != nil
}

// Get returns the compiled type registered under name.
func (r *Registry) Get(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Names returns all registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
