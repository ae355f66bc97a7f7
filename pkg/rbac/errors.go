package rbac

import "errors"

// Domain errors for RBAC operations.
var (
	// ErrInvalidRole is returned when a role is empty or outside the closed set.
	ErrInvalidRole = errors.New("rbac.invalid_role")

	// ErrInsufficientPermissions is returned when required permissions are not granted.
	ErrInsufficientPermissions = errors.New("rbac.insufficient_permissions")

	// ErrModuleAccessDenied is returned when a role cannot open a module.
	ErrModuleAccessDenied = errors.New("rbac.module_access_denied")

	// ErrIncompleteTable is returned when a capability table misses a role.
	ErrIncompleteTable = errors.New("rbac.incomplete_table")

	ErrUnknownModule       = errors.New("rbac.unknown_module")
	ErrMalformedPermission = errors.New("rbac.malformed_permission")
	ErrLoadTable           = errors.New("rbac.load_table")
)
