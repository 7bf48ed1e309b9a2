package statetable_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/xraph/stepflow/statetable"
)

// graphOpts compares tables structurally, ignoring source positions.
var graphOpts = cmp.Options{
	cmpopts.IgnoreUnexported(statetable.Table{}),
	cmpopts.IgnoreFields(statetable.State{}, "Line"),
	cmpopts.IgnoreFields(statetable.Transition{}, "Line"),
}

const provisionTable = `
# provisions a host, then deploys onto it
provision:checkHost [ssh, cloud] {
  ok        deploy
  retry     provision wait=30 max=5
  pending   provision wait=10 exec=false
  *         cleanup
  !         cleanup
}

deploy {
  *  finish
  !  terminate   # give up
}

cleanup{*:terminate}
`

func TestParse(t *testing.T) {
	t.Parallel()

	tbl, err := statetable.Parse(provisionTable)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := []*statetable.State{
		{
			Name:         "provision",
			Decision:     "checkHost",
			Capabilities: []string{"ssh", "cloud"},
			Line:         3,
			Transitions: []*statetable.Transition{
				{Outcome: "ok", Target: "deploy", Exec: true, Line: 4},
				{Outcome: "retry", Target: "provision", Wait: 30, Max: 5, Exec: true, Line: 5},
				{Outcome: "pending", Target: "provision", Wait: 10, Exec: false, Line: 6},
				{Outcome: "*", Target: "cleanup", Exec: true, Line: 7},
				{Outcome: "!", Target: "cleanup", Exec: true, Line: 8},
			},
		},
		{
			Name: "deploy",
			Line: 11,
			Transitions: []*statetable.Transition{
				{Outcome: "*", Target: "finish", Exec: true, Line: 12},
				{Outcome: "!", Target: "terminate", Exec: true, Line: 13},
			},
		},
		{
			Name: "cleanup",
			Line: 16,
			Transitions: []*statetable.Transition{
				{Outcome: "*", Target: "terminate", Exec: true, Line: 16},
			},
		},
	}
	if diff := cmp.Diff(want, tbl.States); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}

	if got := tbl.Initial().Name; got != "provision" {
		t.Errorf("Initial = %q, want provision", got)
	}
	if err := tbl.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	s, ok := tbl.State("provision")
	if !ok {
		t.Fatal("State(provision) not found")
	}
	if diff := cmp.Diff([]string{"ok", "retry", "pending"}, s.Outcomes()); diff != "" {
		t.Errorf("Outcomes mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOneLine(t *testing.T) {
	t.Parallel()

	tbl, err := statetable.Parse("start{*:step1} step1{*:finish}")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tbl.States) != 2 {
		t.Fatalf("got %d states, want 2", len(tbl.States))
	}
	if got := tbl.States[0].Transition("*").Target; got != "step1" {
		t.Errorf("start * -> %q, want step1", got)
	}
	if got := tbl.States[1].Transition("*").Target; got != "finish" {
		t.Errorf("step1 * -> %q, want finish", got)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	inputs := map[string]string{
		"provision": provisionTable,
		"one-line":  "start{*:step1} step1{*:finish}",
		"semicolons": "a:pick { x b; y c wait=0 max=0; ! terminate }\n" +
			"b [gpu] { * finish exec=true }\n" +
			"c { * a wait=3 exec=false }",
		"comments-only-between": "# head\n\n\nonly { *  finish }  # tail\n",
	}

	for name, src := range inputs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			first, err := statetable.Parse(src)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			text := first.String()
			second, err := statetable.Parse(text)
			if err != nil {
				t.Fatalf("re-Parse of %q: %v", text, err)
			}
			if diff := cmp.Diff(first, second, graphOpts); diff != "" {
				t.Errorf("round trip changed graph (-first +second):\n%s", diff)
			}
			if again := second.String(); again != text {
				t.Errorf("serialization not stable:\n%s\n---\n%s", text, again)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		src      string
		wantLine int
		wantMsg  string
	}{
		{
			name:     "decision with no outcome lines",
			src:      "start { * check }\n\ncheck:ready {\n  # nothing here\n}\n",
			wantLine: 3,
			wantMsg:  "no outcome lines",
		},
		{
			name:     "empty block",
			src:      "a { * b }\nb {\n}\n",
			wantLine: 2,
			wantMsg:  "no transitions",
		},
		{
			name:     "duplicate state",
			src:      "a { * finish }\na { * finish }",
			wantLine: 2,
			wantMsg:  "already declared",
		},
		{
			name:     "duplicate outcome",
			src:      "a {\n  ok finish\n  ok terminate\n}",
			wantLine: 3,
			wantMsg:  "already mapped",
		},
		{
			name:     "two wildcards",
			src:      "a {\n  * finish\n  * terminate\n}",
			wantLine: 3,
			wantMsg:  "already mapped",
		},
		{
			name:     "two exception transitions",
			src:      "a {\n  ! finish\n\n  ! terminate\n}",
			wantLine: 4,
			wantMsg:  "already mapped",
		},
		{
			name:     "negative wait",
			src:      "a {\n  retry a wait=-1\n}",
			wantLine: 2,
			wantMsg:  "non-negative integer",
		},
		{
			name:     "bad max",
			src:      "a {\n\n  retry a max=lots\n}",
			wantLine: 3,
			wantMsg:  "non-negative integer",
		},
		{
			name:     "bad exec",
			src:      "a { retry a exec=maybe }",
			wantLine: 1,
			wantMsg:  "true or false",
		},
		{
			name:     "unknown option",
			src:      "a {\n  retry a delay=3\n}",
			wantLine: 2,
			wantMsg:  "unknown option",
		},
		{
			name:     "missing target",
			src:      "a {\n  ok\n}",
			wantLine: 2,
			wantMsg:  "no target",
		},
		{
			name:     "unterminated block",
			src:      "a {\n  * finish\n",
			wantLine: 1,
			wantMsg:  "missing closing",
		},
		{
			name:     "reserved terminal declared",
			src:      "a { * finish }\nfinish { * a }",
			wantLine: 2,
			wantMsg:  "reserved terminal",
		},
		{
			name:     "stray character",
			src:      "a {\n  * finish @\n}",
			wantLine: 2,
			wantMsg:  "unexpected character",
		},
		{
			name:     "empty input",
			src:      "# only a comment\n",
			wantLine: 1,
			wantMsg:  "no states",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := statetable.Parse(tt.src)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var pe *statetable.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %T: %v", err, err)
			}
			if pe.Line != tt.wantLine {
				t.Errorf("Line = %d, want %d (%v)", pe.Line, tt.wantLine, err)
			}
			if !strings.Contains(pe.Msg, tt.wantMsg) {
				t.Errorf("Msg = %q, want it to contain %q", pe.Msg, tt.wantMsg)
			}
		})
	}
}

func TestValidateUndeclaredTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		src      string
		wantLine int
		wantMsg  string
	}{
		{
			name:     "one-line block",
			src:      "a { ok b; * nowhere }\nb { * finish }",
			wantLine: 1,
			wantMsg:  `"nowhere"`,
		},
		{
			name:     "target deep in a block",
			src:      "a { * b }\n\nb {\n  ok finish\n  * nowhere\n}",
			wantLine: 3,
			wantMsg:  `on line 5 targets undeclared state "nowhere"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tbl, err := statetable.Parse(tt.src)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			err = tbl.Validate()
			var pe *statetable.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %v", err)
			}
			if pe.Line != tt.wantLine {
				t.Errorf("Line = %d, want %d (%v)", pe.Line, tt.wantLine, err)
			}
			if !strings.Contains(pe.Msg, tt.wantMsg) {
				t.Errorf("Msg = %q, want it to contain %q", pe.Msg, tt.wantMsg)
			}
		})
	}
}

func TestWaitDuration(t *testing.T) {
	t.Parallel()

	tr := &statetable.Transition{Wait: 10}
	if got := tr.WaitDuration().Seconds(); got != 10 {
		t.Errorf("WaitDuration = %vs, want 10s", got)
	}
}
