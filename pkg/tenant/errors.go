package tenant

import "errors"

var (
	ErrTenantNotFound = errors.New("tenant.not_found")
	ErrTenantInactive = errors.New("tenant.inactive")
	ErrNoUser         = errors.New("tenant.no_user")
	ErrNoTenant       = errors.New("tenant.no_active_tenant")

	// ErrSwitchUnauthorized is returned when a user attempts to switch to a
	// tenant outside their membership. The active context is left untouched.
	ErrSwitchUnauthorized = errors.New("tenant.switch_unauthorized")

	// ErrSwitchSuperseded is returned to a switch that lost to a newer switch
	// or to a sign-out. Its result is discarded.
	ErrSwitchSuperseded = errors.New("tenant.switch_superseded")

	ErrStaleGeneration = errors.New("tenant.stale_generation")
)
