package transition_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/stepflow/statetable"
	"github.com/xraph/stepflow/transition"
)

func mustState(t *testing.T, src, name string) *statetable.State {
	t.Helper()
	tbl, err := statetable.Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s, ok := tbl.State(name)
	if !ok {
		t.Fatalf("state %q not declared", name)
	}
	return s
}

func TestResolveMatching(t *testing.T) {
	t.Parallel()

	const src = `
poll:ready {
  ok      deploy
  retry   poll wait=5 max=3
  pending poll wait=10 exec=false
  *       cleanup
  !       rollback
}
deploy { * finish }
cleanup { * terminate }
rollback { * terminate }
`
	tests := []struct {
		name      string
		res       transition.Result
		target    string
		matched   string
		delay     time.Duration
		skipEntry bool
	}{
		{"exact", transition.Outcome("ok"), "deploy", "ok", 0, false},
		{"wildcard fallback", transition.Outcome("weird"), "cleanup", "*", 0, false},
		{"success hits wildcard", transition.Success(), "cleanup", "*", 0, false},
		{"fail hits wildcard", transition.Fail("boom"), "cleanup", "*", 0, false},
		{"transition wait", transition.Retry(0), "poll", "retry", 5 * time.Second, false},
		{"explicit delay wins", transition.Retry(2 * time.Second), "poll", "retry", 2 * time.Second, false},
		{"exec false", transition.Outcome("pending"), "poll", "pending", 10 * time.Second, true},
		{"exception", transition.Exception(errors.New("ssh down")), "rollback", "!", 0, false},
	}

	ev := transition.NewEvaluator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			state := mustState(t, src, "poll")
			counters := map[string]int{}
			d, err := ev.Resolve(state, tt.res, counters)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if d.Target != tt.target {
				t.Errorf("Target = %q, want %q", d.Target, tt.target)
			}
			if d.Matched != tt.matched {
				t.Errorf("Matched = %q, want %q", d.Matched, tt.matched)
			}
			if d.Delay != tt.delay {
				t.Errorf("Delay = %v, want %v", d.Delay, tt.delay)
			}
			if d.SkipEntry != tt.skipEntry {
				t.Errorf("SkipEntry = %v, want %v", d.SkipEntry, tt.skipEntry)
			}
			if got := counters[transition.CounterKey("poll", tt.matched)]; got != 1 {
				t.Errorf("counter for %q = %d, want 1", tt.matched, got)
			}
		})
	}
}

func TestResolveFailMessage(t *testing.T) {
	t.Parallel()

	state := mustState(t, "a { fail terminate }", "a")
	d, err := transition.NewEvaluator(nil).Resolve(state, transition.Fail("disk full"), map[string]int{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Message != "disk full" || !d.Terminal() {
		t.Errorf("got %+v, want terminal decision carrying message", d)
	}
}

func TestRetryBudget(t *testing.T) {
	t.Parallel()

	const maxAttempts = 4
	state := mustState(t, "check { retry check wait=7 max=4\n * giveup }\ngiveup { * terminate }", "check")
	ev := transition.NewEvaluator(nil)
	counters := map[string]int{}
	key := transition.CounterKey("check", "retry")

	for i := 1; i <= maxAttempts; i++ {
		d, err := ev.Resolve(state, transition.Retry(0), counters)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if d.Target != "check" {
			t.Fatalf("attempt %d left the state: target %q", i, d.Target)
		}
		if d.Delay != 7*time.Second {
			t.Errorf("attempt %d: Delay = %v, want 7s", i, d.Delay)
		}
		if counters[key] != i {
			t.Errorf("attempt %d: counter = %d, want %d", i, counters[key], i)
		}
	}

	d, err := ev.Resolve(state, transition.Retry(0), counters)
	if err != nil {
		t.Fatalf("attempt %d: %v", maxAttempts+1, err)
	}
	if d.Target != "giveup" || d.Matched != "*" {
		t.Errorf("attempt %d: got target %q via %q, want giveup via *", maxAttempts+1, d.Target, d.Matched)
	}
	if counters[key] != maxAttempts {
		t.Errorf("exhausted counter moved to %d", counters[key])
	}
}

func TestBudgetFallsToException(t *testing.T) {
	t.Parallel()

	state := mustState(t, "a { retry a max=1\n ! b }\nb { * finish }", "a")
	ev := transition.NewEvaluator(nil)
	counters := map[string]int{}

	if d, err := ev.Resolve(state, transition.Retry(0), counters); err != nil || d.Target != "a" {
		t.Fatalf("first retry: %+v, %v", d, err)
	}
	d, err := ev.Resolve(state, transition.Retry(0), counters)
	if err != nil {
		t.Fatalf("second retry: %v", err)
	}
	if d.Target != "b" || d.Matched != "!" {
		t.Errorf("got target %q via %q, want b via !", d.Target, d.Matched)
	}
}

func TestBudgetExhausted(t *testing.T) {
	t.Parallel()

	state := mustState(t, "a { retry a max=2 }", "a")
	ev := transition.NewEvaluator(nil)
	counters := map[string]int{transition.CounterKey("a", "retry"): 2}

	_, err := ev.Resolve(state, transition.Retry(0), counters)
	if !errors.Is(err, transition.ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
}

func TestMissingTransition(t *testing.T) {
	t.Parallel()

	state := mustState(t, "a { ok finish\n ! terminate }", "a")
	_, err := transition.NewEvaluator(nil).Resolve(state, transition.Outcome("nope"), map[string]int{})

	var mte *transition.MissingTransitionError
	if !errors.As(err, &mte) {
		t.Fatalf("expected MissingTransitionError, got %v", err)
	}
	if mte.State != "a" || mte.Outcome != "nope" {
		t.Errorf("got %+v", mte)
	}
}

func TestWildcardNeverCatchesException(t *testing.T) {
	t.Parallel()

	state := mustState(t, "a { * finish }", "a")
	cause := errors.New("boom")
	_, err := transition.NewEvaluator(nil).Resolve(state, transition.Exception(cause), map[string]int{})

	var ue *transition.UnhandledError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnhandledError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("UnhandledError does not unwrap to the cause")
	}
}

func TestWaitResult(t *testing.T) {
	t.Parallel()

	state := mustState(t, "a { retry a max=1 }", "a")
	counters := map[string]int{}
	d, err := transition.NewEvaluator(nil).Resolve(state, transition.Wait(30*time.Second), counters)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !d.Stay || d.Target != "a" || d.Delay != 30*time.Second || d.SkipEntry {
		t.Errorf("got %+v", d)
	}
	if len(counters) != 0 {
		t.Errorf("wait touched counters: %v", counters)
	}
}

func TestPollResult(t *testing.T) {
	t.Parallel()

	state := mustState(t, "a:ready { * finish }", "a")
	counters := map[string]int{}
	d, err := transition.NewEvaluator(nil).Resolve(state, transition.Poll(time.Second), counters)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !d.Stay || !d.SkipEntry || d.Delay != time.Second {
		t.Errorf("got %+v, want a stay decision that skips the entry", d)
	}
	if len(counters) != 0 {
		t.Errorf("poll touched counters: %v", counters)
	}
}

func TestInvalidOutcome(t *testing.T) {
	t.Parallel()

	state := mustState(t, "a { * finish }", "a")
	for _, label := range []string{"", "*", "!"} {
		_, err := transition.NewEvaluator(nil).Resolve(state, transition.Outcome(label), map[string]int{})
		if !errors.Is(err, transition.ErrInvalidOutcome) {
			t.Errorf("Outcome(%q): expected ErrInvalidOutcome, got %v", label, err)
		}
	}
}
