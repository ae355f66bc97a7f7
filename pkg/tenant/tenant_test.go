package tenant_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/rbac"
	"github.com/bizpos/tenantguard/pkg/tenant"
)

type fixture struct {
	dir      *tenant.MemoryDirectory
	a, b, c  tenant.Tenant
	inactive tenant.Tenant
}

func newFixture() fixture {
	f := fixture{
		a:        tenant.Tenant{ID: uuid.New(), Name: "Acme", Active: true},
		b:        tenant.Tenant{ID: uuid.New(), Name: "Bolt", Active: true},
		c:        tenant.Tenant{ID: uuid.New(), Name: "Cargo", Active: true},
		inactive: tenant.Tenant{ID: uuid.New(), Name: "Dormant", Active: false},
	}
	f.dir = tenant.NewMemoryDirectory(f.a, f.b, f.c, f.inactive)
	return f
}

func ownerOf(t tenant.Tenant) *identity.User {
	id := t.ID
	return &identity.User{ID: uuid.New(), Role: rbac.RoleOwner, TenantID: &id}
}

func staffOf(t tenant.Tenant) *identity.User {
	id := t.ID
	return &identity.User{ID: uuid.New(), Role: rbac.RoleStaff, TenantID: &id}
}

func devUser() *identity.User {
	return &identity.User{ID: uuid.New(), Role: rbac.RoleDev}
}

func TestHolder_InitOwner(t *testing.T) {
	t.Parallel()
	f := newFixture()
	h := tenant.NewHolder(f.dir)

	snap, err := h.Init(context.Background(), ownerOf(f.a))
	require.NoError(t, err)

	require.NotNil(t, snap.Current())
	assert.Equal(t, f.a.ID, snap.Current().ID)
	assert.Len(t, snap.Available(), 1)
	assert.True(t, snap.Has(f.a.ID))
	assert.False(t, snap.Has(f.b.ID))
	assert.Same(t, snap, h.Snapshot())
}

func TestHolder_InitDev(t *testing.T) {
	t.Parallel()
	f := newFixture()
	h := tenant.NewHolder(f.dir)

	snap, err := h.Init(context.Background(), devUser())
	require.NoError(t, err)

	assert.Nil(t, snap.Current(), "dev starts without a tenant")
	assert.Len(t, snap.Available(), 3, "inactive tenants are not offered")
	assert.False(t, snap.Has(f.inactive.ID))
}

func TestHolder_InitFailures(t *testing.T) {
	t.Parallel()
	f := newFixture()
	h := tenant.NewHolder(f.dir)

	_, err := h.Init(context.Background(), nil)
	assert.ErrorIs(t, err, tenant.ErrNoUser)

	_, err = h.Init(context.Background(), ownerOf(f.inactive))
	assert.ErrorIs(t, err, tenant.ErrTenantInactive)
	assert.Nil(t, h.Snapshot().Current())

	_, err = h.Init(context.Background(), ownerOf(tenant.Tenant{ID: uuid.New()}))
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)

	_, err = h.Init(context.Background(), &identity.User{ID: uuid.New(), Role: rbac.RoleStaff})
	assert.ErrorIs(t, err, identity.ErrRoleTenantBinding)
	assert.Empty(t, h.Snapshot().Available())
}

func TestHolder_Clear(t *testing.T) {
	t.Parallel()
	f := newFixture()
	h := tenant.NewHolder(f.dir)

	snap, err := h.Init(context.Background(), ownerOf(f.a))
	require.NoError(t, err)
	gen := snap.Generation()

	h.Clear()
	assert.Nil(t, h.Snapshot().Current())
	assert.Empty(t, h.Snapshot().Available())
	assert.Greater(t, h.Snapshot().Generation(), gen)
	assert.False(t, h.ApplyIfCurrent(gen, func() { t.Fatal("stale apply ran") }))
}

func TestContext_ReturnsCopies(t *testing.T) {
	t.Parallel()
	f := newFixture()

	snap := tenant.NewContext(&f.a, []tenant.Tenant{f.a}, 7)
	cur := snap.Current()
	cur.Name = "changed"
	avail := snap.Available()
	avail[0].Name = "changed"

	assert.Equal(t, "Acme", snap.Current().Name)
	assert.Equal(t, "Acme", snap.Available()[0].Name)
	assert.Equal(t, uint64(7), snap.Generation())

	var nilCtx *tenant.Context
	assert.Nil(t, nilCtx.Current())
	assert.False(t, nilCtx.Has(f.a.ID))
}

func TestContextHelpers(t *testing.T) {
	t.Parallel()
	f := newFixture()

	_, ok := tenant.IDFromContext(context.Background())
	assert.False(t, ok)

	ctx := tenant.WithTenant(context.Background(), &f.b)
	id, ok := tenant.IDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, f.b.ID, id)

	s, ok := tenant.IDStringFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, f.b.ID.String(), s)

	attr, ok := tenant.LoggerExtractor()(ctx)
	require.True(t, ok)
	assert.Equal(t, "tenant_id", attr.Key)
	assert.Equal(t, f.b.ID.String(), attr.Value.String())
}
