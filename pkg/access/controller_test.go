package access_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizpos/tenantguard/pkg/access"
	"github.com/bizpos/tenantguard/pkg/audit"
	"github.com/bizpos/tenantguard/pkg/guard"
	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/rbac"
	"github.com/bizpos/tenantguard/pkg/tenant"
)

const password = "correct horse battery staple"

var (
	companyA = tenant.Tenant{ID: uuid.MustParse("0b4c1b8e-5b6f-4a1e-9d51-6a1f7c2f0a01"), Name: "company-a", Active: true}
	companyB = tenant.Tenant{ID: uuid.MustParse("0b4c1b8e-5b6f-4a1e-9d51-6a1f7c2f0a02"), Name: "company-b", Active: true}
	closed   = tenant.Tenant{ID: uuid.MustParse("0b4c1b8e-5b6f-4a1e-9d51-6a1f7c2f0a03"), Name: "closed", Active: false}
)

type env struct {
	guard   *guard.Guard
	tenants *tenant.MemoryDirectory
	store   *identity.MemoryStore
	issuer  *identity.TokenIssuer
	auth    *identity.Authenticator
	events  *audit.MemoryStorage
}

func newEnv(t *testing.T) env {
	t.Helper()

	hash, err := identity.HashPassword(password)
	require.NoError(t, err)

	users := identity.NewMemoryDirectory()
	for _, u := range []*identity.User{
		newUser("owner@a.test", rbac.RoleOwner, &companyA),
		newUser("staff@a.test", rbac.RoleStaff, &companyA),
		newUser("owner@closed.test", rbac.RoleOwner, &closed),
		newUser("dev@tenantguard.test", rbac.RoleDev, nil),
	} {
		require.NoError(t, users.Add(u, hash))
	}

	store := identity.NewMemoryStore()
	issuer := identity.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), identity.WithTTL(time.Hour))
	return env{
		guard:   guard.New(rbac.MustNew(rbac.DefaultCapabilityTable())),
		tenants: tenant.NewMemoryDirectory(companyA, companyB, closed),
		store:   store,
		issuer:  issuer,
		auth:    identity.NewAuthenticator(users, issuer, store),
		events:  audit.NewMemoryStorage(),
	}
}

func newUser(email string, role rbac.Role, t *tenant.Tenant) *identity.User {
	u := &identity.User{ID: uuid.New(), Email: email, Role: role}
	if t != nil {
		id := t.ID
		u.TenantID = &id
	}
	return u
}

func (e env) controller(opts ...access.Option) *access.Controller {
	base := []access.Option{
		access.WithAuthenticator(e.auth),
		access.WithSessionStore(e.store),
		access.WithAuditSink(audit.NewLogger(e.events)),
	}
	return access.New(e.guard, e.tenants, append(base, opts...)...)
}

func TestController_InitialState(t *testing.T) {
	t.Parallel()
	c := newEnv(t).controller()

	s := c.Snapshot()
	assert.Equal(t, identity.Uninitialized, s.Readiness)
	assert.Nil(t, s.User)
	assert.Equal(t, guard.Loading, c.Navigate(t.Context(), "/dashboard").Outcome)
}

func TestController_SignInOwner(t *testing.T) {
	t.Parallel()
	c := newEnv(t).controller()

	sess, err := c.SignIn(t.Context(), "Owner@A.test ", password)
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)

	s := c.Snapshot()
	assert.Equal(t, identity.Ready, s.Readiness)
	require.NotNil(t, s.User)
	assert.Equal(t, rbac.RoleOwner, s.User.Role)
	id, ok := s.Tenant.CurrentID()
	require.True(t, ok)
	assert.Equal(t, companyA.ID, id)

	assert.Equal(t, guard.Render, c.Navigate(t.Context(), "/dashboard").Outcome)
	d := c.Navigate(t.Context(), "/login")
	assert.Equal(t, guard.RedirectRoleHome, d.Outcome)
	assert.Equal(t, "/dashboard", d.Target)
}

func TestController_StaffDeniedOwnerRoutes(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	c := e.controller()

	_, err := c.SignIn(t.Context(), "staff@a.test", password)
	require.NoError(t, err)

	d := c.Navigate(t.Context(), "/invoices")
	assert.Equal(t, guard.RedirectUnauthorized, d.Outcome)
	assert.ErrorIs(t, d.Err, guard.ErrRoleDenied)
	assert.Len(t, e.events.Events(audit.TypePermissionViolation), 1)
}

func TestController_SignInRejected(t *testing.T) {
	t.Parallel()
	c := newEnv(t).controller()

	_, err := c.SignIn(t.Context(), "owner@a.test", "wrong")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	assert.Nil(t, c.Snapshot().User)

	d := c.Navigate(t.Context(), "/dashboard")
	assert.NotEqual(t, guard.Render, d.Outcome)
}

func TestController_InactiveTenantSignsOut(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	c := e.controller()

	_, err := c.SignIn(t.Context(), "owner@closed.test", password)
	require.ErrorIs(t, err, access.ErrTenantBinding)
	assert.ErrorIs(t, err, tenant.ErrTenantInactive)

	s := c.Snapshot()
	assert.Nil(t, s.User)
	assert.Nil(t, s.Tenant.Current())
	assert.Equal(t, guard.RedirectLogin, c.Navigate(t.Context(), "/dashboard").Outcome)
}

func TestController_NoAuthenticator(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	c := access.New(e.guard, e.tenants)

	_, err := c.SignIn(t.Context(), "owner@a.test", password)
	assert.ErrorIs(t, err, access.ErrNoAuthenticator)
	assert.ErrorIs(t, c.Restore(t.Context(), "token"), access.ErrNoAuthenticator)
}

func TestController_DevSwitchAndSignOut(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	var cache *tenant.ScopedCache[string]
	c := e.controller(access.WithCaches(func(h *tenant.Holder) []tenant.Invalidator {
		cache = tenant.NewScopedCache[string](h, 16)
		return []tenant.Invalidator{cache}
	}))

	sess, err := c.SignIn(t.Context(), "dev@tenantguard.test", password)
	require.NoError(t, err)

	s := c.Snapshot()
	assert.Nil(t, s.Tenant.Current())
	assert.Len(t, s.Tenant.Available(), 2, "inactive tenants are not offered")

	d := c.Navigate(t.Context(), "/dashboard")
	assert.Equal(t, guard.RedirectRoleHome, d.Outcome)
	assert.Equal(t, "/admin", d.Target)

	got, err := c.SwitchTenant(t.Context(), companyB.ID)
	require.NoError(t, err)
	assert.Equal(t, companyB.ID, got.ID)
	assert.Equal(t, guard.Render, c.Navigate(t.Context(), "/dashboard").Outcome)

	gen := c.Tenants().Snapshot().Generation()
	require.NoError(t, cache.Put(gen, "products", "b-products"))
	assert.Equal(t, 1, cache.Len())

	require.NoError(t, c.SignOut(t.Context()))
	assert.Zero(t, cache.Len())
	s = c.Snapshot()
	assert.Nil(t, s.User)
	assert.Nil(t, s.Tenant.Current())
	assert.Empty(t, s.Tenant.Available())

	_, err = e.store.Get(t.Context(), sess.Token)
	assert.ErrorIs(t, err, identity.ErrSessionNotFound, "sign-out revokes the token")

	_, err = c.SwitchTenant(t.Context(), companyA.ID)
	assert.ErrorIs(t, err, tenant.ErrNoUser)
}

func TestController_Renew(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	c := e.controller()

	_, err := c.Renew(t.Context())
	assert.ErrorIs(t, err, access.ErrNoSession)

	sess, err := c.SignIn(t.Context(), "dev@tenantguard.test", password)
	require.NoError(t, err)
	_, err = c.SwitchTenant(t.Context(), companyB.ID)
	require.NoError(t, err)

	next, err := c.Renew(t.Context())
	require.NoError(t, err)
	assert.NotEqual(t, sess.Token, next.Token)
	assert.Equal(t, next.Token, c.Identity().Session().Token)

	s := c.Snapshot()
	require.NotNil(t, s.User)
	require.NotNil(t, s.Tenant.Current())
	assert.Equal(t, companyB.ID, s.Tenant.Current().ID, "renewal keeps the active tenant")

	_, err = e.store.Get(t.Context(), sess.Token)
	assert.ErrorIs(t, err, identity.ErrSessionNotFound)
	_, err = e.store.Get(t.Context(), next.Token)
	assert.NoError(t, err)
}

func TestController_OwnerCannotSwitch(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	c := e.controller()

	_, err := c.SignIn(t.Context(), "owner@a.test", password)
	require.NoError(t, err)

	_, err = c.SwitchTenant(t.Context(), companyB.ID)
	require.ErrorIs(t, err, tenant.ErrSwitchUnauthorized)

	id, _ := c.Snapshot().Tenant.CurrentID()
	assert.Equal(t, companyA.ID, id)

	events := e.events.Events(audit.TypeTenantSwitchDenied)
	require.Len(t, events, 1)
	assert.Equal(t, companyB.ID.String(), events[0].Resource)
}

func TestController_Restore(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	sess, err := e.controller().SignIn(t.Context(), "owner@a.test", password)
	require.NoError(t, err)

	c := e.controller()
	require.NoError(t, c.Restore(t.Context(), sess.Token))

	s := c.Snapshot()
	assert.Equal(t, identity.Ready, s.Readiness)
	require.NotNil(t, s.User)
	id, ok := s.Tenant.CurrentID()
	require.True(t, ok)
	assert.Equal(t, companyA.ID, id)
}

func TestController_RestoreFailureIsReadyAndAnonymous(t *testing.T) {
	t.Parallel()
	c := newEnv(t).controller()

	assert.Error(t, c.Restore(t.Context(), "not-a-token"))
	s := c.Snapshot()
	assert.Equal(t, identity.Ready, s.Readiness)
	assert.Nil(t, s.User)
	assert.Equal(t, guard.RedirectLogin, c.Navigate(t.Context(), "/dashboard").Outcome)
}

func TestController_LoadingUntilTenantBound(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	issuer := identity.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"))
	sess, err := issuer.Issue(newUser("owner2@a.test", rbac.RoleOwner, &companyA))
	require.NoError(t, err)

	release := make(chan struct{})
	c := e.controller()
	done := make(chan error, 1)
	go func() {
		done <- c.RestoreWith(context.Background(), identity.RestoreFunc(func(ctx context.Context) (*identity.Session, error) {
			<-release
			return sess, nil
		}))
	}()

	require.Eventually(t, func() bool {
		return c.Snapshot().Readiness == identity.Loading
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, guard.Loading, c.Navigate(t.Context(), "/dashboard").Outcome)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, guard.Render, c.Navigate(t.Context(), "/dashboard").Outcome)
}

// gatedDirectory holds Get until release is closed, once entered is
// signalled. List passes through so sign-in is not held.
type gatedDirectory struct {
	tenant.Directory
	gate    atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedDirectory(dir tenant.Directory) *gatedDirectory {
	return &gatedDirectory{Directory: dir, entered: make(chan struct{}), release: make(chan struct{})}
}

func (d *gatedDirectory) Get(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	if d.gate.CompareAndSwap(true, false) {
		close(d.entered)
		<-d.release
	}
	return d.Directory.Get(ctx, id)
}

func TestController_SignOutDiscardsPendingSwitch(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	dir := newGatedDirectory(e.tenants)
	c := access.New(e.guard, dir, access.WithAuthenticator(e.auth), access.WithSessionStore(e.store))

	_, err := c.SignIn(t.Context(), "dev@tenantguard.test", password)
	require.NoError(t, err)

	dir.gate.Store(true)
	done := make(chan error, 1)
	go func() {
		_, err := c.SwitchTenant(context.Background(), companyB.ID)
		done <- err
	}()

	<-dir.entered
	require.NoError(t, c.SignOut(t.Context()))
	close(dir.release)

	assert.ErrorIs(t, <-done, tenant.ErrSwitchSuperseded)
	s := c.Snapshot()
	assert.Nil(t, s.User)
	assert.Nil(t, s.Tenant.Current(), "a signed-out session has no tenant")
}

func TestController_PendingSwitchNeverReachesNextUser(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	dir := newGatedDirectory(e.tenants)
	c := access.New(e.guard, dir, access.WithAuthenticator(e.auth), access.WithSessionStore(e.store))

	_, err := c.SignIn(t.Context(), "dev@tenantguard.test", password)
	require.NoError(t, err)

	dir.gate.Store(true)
	done := make(chan error, 1)
	go func() {
		_, err := c.SwitchTenant(context.Background(), companyB.ID)
		done <- err
	}()

	<-dir.entered
	require.NoError(t, c.SignOut(t.Context()))
	_, err = c.SignIn(t.Context(), "owner@a.test", password)
	require.NoError(t, err)
	close(dir.release)

	assert.ErrorIs(t, <-done, tenant.ErrSwitchSuperseded)
	id, ok := c.Snapshot().Tenant.CurrentID()
	require.True(t, ok)
	assert.Equal(t, companyA.ID, id)
}
