package identity

import "errors"

var (
	ErrInvalidUser        = errors.New("identity.invalid_user")
	ErrRoleTenantBinding  = errors.New("identity.role_tenant_binding")
	ErrInvalidCredentials = errors.New("identity.invalid_credentials")
	ErrInvalidToken       = errors.New("identity.invalid_token")
	ErrSessionExpired     = errors.New("identity.session_expired")
	ErrSessionNotFound    = errors.New("identity.session_not_found")
	ErrInvalidSession     = errors.New("identity.invalid_session")

	// ErrConnectivity marks restore failures caused by an unreachable backend.
	// Only these are retried.
	ErrConnectivity = errors.New("identity.connectivity")

	// ErrRestoreStarted is returned when Restore is called more than once.
	ErrRestoreStarted = errors.New("identity.restore_already_started")

	// ErrRestoreSuperseded is returned when a sign-out or sign-in happened
	// while a restore was in flight. The restored session is discarded.
	ErrRestoreSuperseded = errors.New("identity.restore_superseded")
)
