package identity_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/rbac"
)

func ptr[T any](v T) *T { return &v }

func owner(tenantID uuid.UUID) *identity.User {
	return &identity.User{
		ID:       uuid.New(),
		Email:    "owner@acme.test",
		Role:     rbac.RoleOwner,
		TenantID: ptr(tenantID),
	}
}

func dev() *identity.User {
	return &identity.User{ID: uuid.New(), Email: "dev@platform.test", Role: rbac.RoleDev}
}

func TestUser_Validate(t *testing.T) {
	t.Parallel()

	tid := uuid.New()
	tests := []struct {
		name    string
		user    *identity.User
		wantErr error
	}{
		{"dev without tenant", dev(), nil},
		{"owner with tenant", owner(tid), nil},
		{"staff with tenant", &identity.User{ID: uuid.New(), Role: rbac.RoleStaff, TenantID: ptr(tid)}, nil},
		{"dev with tenant", &identity.User{ID: uuid.New(), Role: rbac.RoleDev, TenantID: ptr(tid)}, identity.ErrRoleTenantBinding},
		{"owner without tenant", &identity.User{ID: uuid.New(), Role: rbac.RoleOwner}, identity.ErrRoleTenantBinding},
		{"staff with nil uuid tenant", &identity.User{ID: uuid.New(), Role: rbac.RoleStaff, TenantID: ptr(uuid.Nil)}, identity.ErrRoleTenantBinding},
		{"unknown role", &identity.User{ID: uuid.New(), Role: "admin"}, rbac.ErrInvalidRole},
		{"empty id", &identity.User{Role: rbac.RoleDev}, identity.ErrInvalidUser},
		{"nil user", nil, identity.ErrInvalidUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.user.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUser_Clone(t *testing.T) {
	t.Parallel()

	u := owner(uuid.New())
	u.Permissions = []rbac.Permission{"products.write"}

	c := u.Clone()
	*c.TenantID = uuid.New()
	c.Permissions[0] = "products.delete"

	assert.NotEqual(t, *u.TenantID, *c.TenantID)
	assert.Equal(t, rbac.Permission("products.write"), u.Permissions[0])
	assert.Nil(t, (*identity.User)(nil).Clone())
}

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "owner@acme.test", identity.NormalizeEmail("  Owner@ACME.test "))
	assert.Equal(t, identity.NormalizeEmail("STRASSE@x.test"), identity.NormalizeEmail("strasse@X.TEST"))
}

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	_, ok := identity.UserFromContext(context.Background())
	assert.False(t, ok)
	_, ok = identity.UserIDFromContext(context.Background())
	assert.False(t, ok)

	u := dev()
	ctx := identity.WithUser(context.Background(), u)
	got, ok := identity.UserFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, u.ID, got.ID)

	id, ok := identity.UserIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, u.ID.String(), id)

	attr, ok := identity.LoggerExtractor()(ctx)
	require.True(t, ok)
	assert.Equal(t, "user", attr.Key)
	assert.Equal(t, slog.KindGroup, attr.Value.Kind())
}
