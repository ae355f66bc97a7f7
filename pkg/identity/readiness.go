package identity

import "github.com/bizpos/tenantguard/pkg/statemachine"

// Readiness tracks whether the session state is known yet.
type Readiness string

const (
	Uninitialized Readiness = "uninitialized"
	Loading       Readiness = "loading"
	Ready         Readiness = "ready"
)

type readinessEvent string

const (
	eventRestoreBegin    readinessEvent = "restore_begin"
	eventRestoreComplete readinessEvent = "restore_complete"
	eventSignedIn        readinessEvent = "signed_in"
)

// newReadiness builds the one-way lifecycle uninitialized -> loading -> ready.
// A sign-in before any restore skips straight to ready.
func newReadiness(opts ...statemachine.Option[Readiness, readinessEvent]) *statemachine.Machine[Readiness, readinessEvent] {
	base := []statemachine.Option[Readiness, readinessEvent]{
		statemachine.WithTransition[Readiness, readinessEvent](Uninitialized, Loading, eventRestoreBegin),
		statemachine.WithTransition[Readiness, readinessEvent](Loading, Ready, eventRestoreComplete),
		statemachine.WithTransition[Readiness, readinessEvent](Uninitialized, Ready, eventSignedIn),
	}
	return statemachine.New(Uninitialized, append(base, opts...)...)
}
