package policy

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/rbac"
)

// Principal is the identity a single request acts as. It is derived from
// the request's credential and never shared between requests.
type Principal struct {
	UserID      uuid.UUID
	Role        rbac.Role
	TenantID    *uuid.UUID
	Permissions []rbac.Permission
}

// PrincipalFromUser validates u and copies it into a Principal.
func PrincipalFromUser(u *identity.User) (Principal, error) {
	if u == nil {
		return Principal{}, ErrNoPrincipal
	}
	if err := u.Validate(); err != nil {
		return Principal{}, err
	}
	p := Principal{
		UserID:      u.ID,
		Role:        u.Role,
		Permissions: slices.Clone(u.Permissions),
	}
	if u.TenantID != nil {
		id := *u.TenantID
		p.TenantID = &id
	}
	return p, nil
}

// PrincipalFromSession is PrincipalFromUser for a verified session.
func PrincipalFromSession(s *identity.Session) (Principal, error) {
	if s == nil {
		return Principal{}, ErrNoPrincipal
	}
	return PrincipalFromUser(s.User)
}

func (p Principal) IsDev() bool { return p.Role == rbac.RoleDev }

// TenantString returns the bound tenant id or "".
func (p Principal) TenantString() string {
	if p.TenantID == nil {
		return ""
	}
	return p.TenantID.String()
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
