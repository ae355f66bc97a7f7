package rbac

import (
	"context"
	"errors"
	"slices"
)

// Evaluator answers module and action questions against a frozen capability
// table. It is safe for concurrent use. A nil *Evaluator denies everything.
type Evaluator struct {
	// modules and permissions are treated as immutable after construction.
	modules     map[Role]map[Module]struct{}
	permissions map[Role][]Permission
}

// NewEvaluator loads and validates the table from source and precomputes lookups.
func NewEvaluator(ctx context.Context, source TableSource) (*Evaluator, error) {
	if source == nil {
		return nil, ErrLoadTable
	}
	table, err := source.Load(ctx)
	if err != nil {
		return nil, err
	}
	return New(table)
}

// New builds an evaluator from an in-memory table.
func New(table CapabilityTable) (*Evaluator, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}

	e := &Evaluator{
		modules:     make(map[Role]map[Module]struct{}, len(table)),
		permissions: make(map[Role][]Permission, len(table)),
	}
	for r, caps := range table {
		set := make(map[Module]struct{}, len(caps.Modules))
		for _, m := range caps.Modules {
			set[m] = struct{}{}
		}
		e.modules[r] = set
		e.permissions[r] = normalize(caps.Permissions)
	}
	return e, nil
}

// MustNew is like New but panics on an invalid table.
func MustNew(table CapabilityTable) *Evaluator {
	e, err := New(table)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Evaluator) known(role Role) bool {
	if e == nil || !role.Valid() {
		return false
	}
	_, ok := e.permissions[role]
	return ok
}

// HasModuleAccess reports whether role may open module.
func (e *Evaluator) HasModuleAccess(role Role, module Module) bool {
	if !e.known(role) {
		return false
	}
	_, ok := e.modules[role][module]
	return ok
}

// HasActionPermission reports whether perm is in the role defaults or in the
// user's explicit grants. Grants only add to a known role; they never make an
// unknown role usable.
func (e *Evaluator) HasActionPermission(role Role, granted []Permission, perm Permission) bool {
	if !e.known(role) || perm == "" {
		return false
	}
	if anyMatches(e.permissions[role], perm) {
		return true
	}
	return slices.Contains(granted, perm)
}

// HasAllPermissions reports whether every required permission passes
// HasActionPermission. An empty requirement holds for any known role.
func (e *Evaluator) HasAllPermissions(role Role, granted []Permission, required []Permission) bool {
	if !e.known(role) {
		return false
	}
	for _, p := range required {
		if !e.HasActionPermission(role, granted, p) {
			return false
		}
	}
	return true
}

// Can is the error-returning form of HasActionPermission.
func (e *Evaluator) Can(role Role, granted []Permission, perm Permission) error {
	if !e.known(role) {
		return ErrInvalidRole
	}
	if !e.HasActionPermission(role, granted, perm) {
		return ErrInsufficientPermissions
	}
	return nil
}

// CanAll is the error-returning form of HasAllPermissions. Every missing
// permission is reported.
func (e *Evaluator) CanAll(role Role, granted []Permission, required ...Permission) error {
	if !e.known(role) {
		return ErrInvalidRole
	}
	var missing []error
	for _, p := range required {
		if !e.HasActionPermission(role, granted, p) {
			missing = append(missing, &MissingPermissionError{Permission: p})
		}
	}
	if len(missing) > 0 {
		return errors.Join(append([]error{ErrInsufficientPermissions}, missing...)...)
	}
	return nil
}

// CanAccessModule is the error-returning form of HasModuleAccess.
func (e *Evaluator) CanAccessModule(role Role, module Module) error {
	if !e.known(role) {
		return ErrInvalidRole
	}
	if !e.HasModuleAccess(role, module) {
		return ErrModuleAccessDenied
	}
	return nil
}

// ModulesFor lists the modules a role may open, in declaration order.
// Used to build navigation menus.
func (e *Evaluator) ModulesFor(role Role) []Module {
	if !e.known(role) {
		return nil
	}
	var out []Module
	for _, m := range allModules {
		if _, ok := e.modules[role][m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// MissingPermissionError names a permission that was required but not granted.
type MissingPermissionError struct {
	Permission Permission
}

func (e *MissingPermissionError) Error() string {
	return "rbac: missing permission " + string(e.Permission)
}
