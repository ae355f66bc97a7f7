package statemachine

import (
	"errors"
	"fmt"
)

// NoTransitionError indicates no transition exists for the state/event pair.
type NoTransitionError struct {
	State string
	Event string
}

func (e *NoTransitionError) Error() string {
	return fmt.Sprintf("no transition available from state '%s' for event '%s'", e.State, e.Event)
}

// TransitionRejectedError indicates every candidate transition was blocked by guards.
type TransitionRejectedError struct {
	State string
	Event string
}

func (e *TransitionRejectedError) Error() string {
	return fmt.Sprintf("transition from state '%s' for event '%s' was rejected by guards", e.State, e.Event)
}

func IsNoTransitionError(err error) bool {
	var e *NoTransitionError
	return errors.As(err, &e)
}

func IsTransitionRejectedError(err error) bool {
	var e *TransitionRejectedError
	return errors.As(err, &e)
}
