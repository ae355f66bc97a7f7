package identity

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/bizpos/tenantguard/pkg/rbac"
)

// User is an authenticated principal.
//
// Role and TenantID are bound: dev users have no tenant, owner and staff users
// have exactly one. Permissions are explicit grants added to the role defaults.
type User struct {
	ID          uuid.UUID         `json:"id"`
	Email       string            `json:"email"`
	Role        rbac.Role         `json:"role"`
	TenantID    *uuid.UUID        `json:"tenant_id,omitempty"`
	Permissions []rbac.Permission `json:"permissions,omitempty"`
}

// Validate enforces the role/tenant binding and the closed role set.
func (u *User) Validate() error {
	if u == nil {
		return ErrInvalidUser
	}
	if u.ID == uuid.Nil {
		return fmt.Errorf("%w: empty id", ErrInvalidUser)
	}
	if !u.Role.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidUser, rbac.ErrInvalidRole)
	}
	switch {
	case u.Role == rbac.RoleDev && u.TenantID != nil:
		return fmt.Errorf("%w: dev users cannot be bound to a tenant", ErrRoleTenantBinding)
	case u.Role.IsTenantBound() && (u.TenantID == nil || *u.TenantID == uuid.Nil):
		return fmt.Errorf("%w: %s users must be bound to a tenant", ErrRoleTenantBinding, u.Role)
	}
	return nil
}

func (u *User) IsDev() bool {
	return u != nil && u.Role == rbac.RoleDev
}

// Clone returns a deep copy so holders never share mutable state with callers.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.TenantID != nil {
		tid := *u.TenantID
		c.TenantID = &tid
	}
	c.Permissions = slices.Clone(u.Permissions)
	return &c
}

// NormalizeEmail trims and case-folds an address for lookups.
func NormalizeEmail(email string) string {
	// Casers are stateful and must not be shared between goroutines.
	return cases.Fold().String(strings.TrimSpace(email))
}
