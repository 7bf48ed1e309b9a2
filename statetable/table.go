package statetable

import (
	"fmt"
	"strings"
	"time"
)

// Reserved outcome and target names.
const (
	// Wildcard matches any concrete outcome without a transition of its own.
	Wildcard = "*"
	// ExceptionOutcome is raised when an entry action or decision fails.
	ExceptionOutcome = "!"

	// Finish ends the task with a complete exit status.
	Finish = "finish"
	// Terminate ends the task with a terminated exit status.
	Terminate = "terminate"
)

// IsTerminal reports whether target ends the task.
func IsTerminal(target string) bool {
	return target == Finish || target == Terminate
}

// Table is a compiled state table.
type Table struct {
	States []*State

	index map[string]*State
}

// State is one named node of the graph.
type State struct {
	Name         string
	Decision     string
	Capabilities []string
	Transitions  []*Transition
	Line         int
}

// Transition maps one outcome to a target state.
type Transition struct {
	Outcome string
	Target  string
	// Wait is the delay in seconds before the target runs.
	Wait int
	// Max is the attempt budget for this (state, outcome) pair; 0 is unbounded.
	Max int
	// Exec controls whether the target's entry action runs on resume.
	Exec bool
	Line int
}

// WaitDuration returns Wait as a duration.
func (tr *Transition) WaitDuration() time.Duration {
	return time.Duration(tr.Wait) * time.Second
}

// Initial returns the first declared state.
func (t *Table) Initial() *State {
	if len(t.States) == 0 {
		return nil
	}
	return t.States[0]
}

// State looks up a state by name.
func (t *Table) State(name string) (*State, bool) {
	if t.index == nil {
		t.reindex()
	}
	s, ok := t.index[name]
	return s, ok
}

func (t *Table) reindex() {
	t.index = make(map[string]*State, len(t.States))
	for _, s := range t.States {
		t.index[s.Name] = s
	}
}

// Transition returns the transition registered for outcome, or nil.
func (s *State) Transition(outcome string) *Transition {
	for _, tr := range s.Transitions {
		if tr.Outcome == outcome {
			return tr
		}
	}
	return nil
}

// Outcomes lists the concrete outcomes this state declares, in order.
func (s *State) Outcomes() []string {
	var out []string
	for _, tr := range s.Transitions {
		if tr.Outcome != Wildcard && tr.Outcome != ExceptionOutcome {
			out = append(out, tr.Outcome)
		}
	}
	return out
}

// Validate checks that every transition target is a declared state or a
// terminal. A bad target is reported at the first line of its block.
func (t *Table) Validate() error {
	if len(t.States) == 0 {
		return errorf(1, "table declares no states")
	}
	for _, s := range t.States {
		for _, tr := range s.Transitions {
			if IsTerminal(tr.Target) {
				continue
			}
			if _, ok := t.State(tr.Target); !ok {
				return errorf(s.Line, "state %q: outcome %q on line %d targets undeclared state %q",
					s.Name, tr.Outcome, tr.Line, tr.Target)
			}
		}
	}
	return nil
}

// String serializes the table to canonical DSL text. Parsing the result
// yields an identical graph.
func (t *Table) String() string {
	var b strings.Builder
	for i, s := range t.States {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s.Name)
		if s.Decision != "" {
			b.WriteByte(':')
			b.WriteString(s.Decision)
		}
		if len(s.Capabilities) > 0 {
			b.WriteString(" [")
			b.WriteString(strings.Join(s.Capabilities, ","))
			b.WriteByte(']')
		}
		b.WriteString(" {\n")
		for _, tr := range s.Transitions {
			fmt.Fprintf(&b, "  %s %s", tr.Outcome, tr.Target)
			if tr.Wait > 0 {
				fmt.Fprintf(&b, " wait=%d", tr.Wait)
			}
			if tr.Max > 0 {
				fmt.Fprintf(&b, " max=%d", tr.Max)
			}
			if !tr.Exec {
				b.WriteString(" exec=false")
			}
			b.WriteByte('\n')
		}
		b.WriteString("}\n")
	}
	return b.String()
}
