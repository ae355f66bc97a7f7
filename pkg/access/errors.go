package access

import "errors"

var (
	ErrNoAuthenticator = errors.New("access.no_authenticator")
	// ErrTenantBinding is returned when a signed-in user's tenant context
	// cannot be built. The user is signed out again.
	ErrTenantBinding = errors.New("access.tenant_binding_failed")
	ErrRegistryFull  = errors.New("access.registry_full")
	ErrNoSession     = errors.New("access.no_session")
)
