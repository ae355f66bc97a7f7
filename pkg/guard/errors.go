package guard

import "errors"

// Denial taxonomy. Every Decision that does not render carries one of these
// in Decision.Err.
var (
	ErrUnauthenticated  = errors.New("guard.unauthenticated")
	ErrRoleDenied       = errors.New("guard.role_denied")
	ErrPermissionDenied = errors.New("guard.permission_denied")
	ErrTenantMismatch   = errors.New("guard.tenant_mismatch")
	ErrTenantRequired   = errors.New("guard.tenant_required")
	ErrRouteUndeclared  = errors.New("guard.route_undeclared")

	// ErrEvaluationFailed means evaluation itself broke. The decision is
	// always RedirectUnauthorized.
	ErrEvaluationFailed = errors.New("guard.evaluation_failed")

	ErrInvalidRoute   = errors.New("guard.invalid_route")
	ErrDuplicateRoute = errors.New("guard.duplicate_route")
	ErrLoadRoutes     = errors.New("guard.load_routes")
)
