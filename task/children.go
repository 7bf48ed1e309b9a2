package task

import (
	"fmt"

	"github.com/xraph/stepflow/transition"
)

// ChildrenDecision is the name of the built-in fan-in decision function.
// A state declared as "name:children" aggregates its spawned children:
// all complete gives "success", any failed or terminated child gives
// "fail", otherwise the task polls until one of those holds.
const ChildrenDecision = "children"

var builtinDecisions = map[string]func(*Context) transition.Result{
	ChildrenDecision: decideChildren,
}

func decideChildren(c *Context) transition.Result {
	if len(c.task.Children) == 0 {
		return transition.Success()
	}
	children, err := c.ChildTasks()
	if err != nil {
		return transition.Exception(fmt.Errorf("load children: %w", err))
	}

	seen := make(map[string]*Task, len(children))
	for _, ch := range children {
		seen[ch.ID.String()] = ch
	}

	done := 0
	for _, childID := range c.task.Children {
		ch, ok := seen[childID.String()]
		if !ok {
			return transition.Exception(fmt.Errorf("child %s not found", childID))
		}
		if ch.ExitStatus.Failed() {
			return transition.Fail(fmt.Sprintf("child %s ended %s", childID, ch.ExitStatus))
		}
		if ch.ExitStatus == ExitComplete {
			done++
		}
	}
	if done == len(c.task.Children) {
		return transition.Success()
	}

	c.awaitingChildren = true
	return transition.Poll(c.typ.Opts.ChildPollInterval)
}
