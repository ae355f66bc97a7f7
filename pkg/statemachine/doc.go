// Package statemachine provides a small generic finite state machine.
//
// States and events are any comparable types, typically string-based enums.
// Transitions are registered at construction time through options; guards
// select between several transitions for the same (state, event) pair and
// actions run before the new state is committed.
//
// Example:
//
//	type Phase string
//	type Signal string
//
//	m := statemachine.New[Phase, Signal]("idle",
//	    statemachine.WithTransition[Phase, Signal]("idle", "running", "start"),
//	    statemachine.WithTransition[Phase, Signal]("running", "done", "finish"),
//	)
//	if err := m.Fire(ctx, "start"); err != nil {
//	    // handle
//	}
//
// The machine is safe for concurrent use. OnChange callbacks run after the
// lock is released, so they may read the machine state.
package statemachine
