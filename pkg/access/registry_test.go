package access_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizpos/tenantguard/pkg/access"
	"github.com/bizpos/tenantguard/pkg/guard"
	"github.com/bizpos/tenantguard/pkg/identity"
)

func newRegistry(e env, opts ...access.RegistryOption) *access.Registry {
	return access.NewRegistry(func() *access.Controller { return e.controller() }, opts...)
}

func TestRegistry_SignInAndState(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	r := newRegistry(e)

	_, sess, err := r.SignIn(t.Context(), "owner@a.test", password)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	rec := httptest.NewRecorder()
	r.SetCookie(rec, sess)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, access.DefaultCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(cookies[0])
	s := r.State(req)
	assert.Equal(t, identity.Ready, s.Readiness)
	require.NotNil(t, s.User)
	assert.Equal(t, "owner@a.test", s.User.Email)

	require.NoError(t, r.SignOut(t.Context(), sess.Token))
	assert.Zero(t, r.Len())
	assert.ErrorIs(t, r.SignOut(t.Context(), sess.Token), access.ErrNoSession)
}

func TestRegistry_AnonymousRequest(t *testing.T) {
	t.Parallel()
	r := newRegistry(newEnv(t))

	s := r.State(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, identity.Ready, s.Readiness)
	assert.False(t, s.Authenticated())
	assert.Zero(t, r.Len())
}

func TestRegistry_RestoresUnknownToken(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	// Issued by another process: the registry has never seen the token.
	sess, err := e.controller().SignIn(t.Context(), "staff@a.test", password)
	require.NoError(t, err)

	r := newRegistry(e)
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Authorization", "bearer "+sess.Token)
	assert.Equal(t, sess.Token, r.Token(req))

	require.Eventually(t, func() bool {
		return r.State(req).Readiness == identity.Ready
	}, 5*time.Second, 10*time.Millisecond)

	s := r.State(req)
	require.NotNil(t, s.User)
	assert.Equal(t, "staff@a.test", s.User.Email)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Middleware(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	r := newRegistry(e)

	_, sess, err := r.SignIn(t.Context(), "owner@a.test", password)
	require.NoError(t, err)

	h := e.guard.Middleware(r.State)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: access.DefaultCookieName, Value: sess.Token})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?from=%2Fdashboard", rec.Header().Get("Location"))
}

func TestRegistry_CapacityEvictsEndedSessions(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	r := newRegistry(e, access.WithCapacity(1))

	// A bogus token ends up ready and anonymous.
	c := r.Lookup(t.Context(), "bogus")
	require.NotNil(t, c)
	require.Eventually(t, func() bool {
		return c.Snapshot().Readiness == identity.Ready
	}, 5*time.Second, 10*time.Millisecond)

	_, _, err := r.SignIn(t.Context(), "owner@a.test", password)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	// Full with a live session: new unknown tokens are not tracked.
	assert.Nil(t, r.Lookup(t.Context(), "another"))
	assert.Equal(t, guard.State{Readiness: identity.Ready}, r.State(func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: access.DefaultCookieName, Value: "another"})
		return req
	}()))
}

func TestRegistry_ClearCookie(t *testing.T) {
	t.Parallel()
	r := newRegistry(newEnv(t), access.WithCookieName("sid"), access.WithSecureCookie(true))

	rec := httptest.NewRecorder()
	r.ClearCookie(rec)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.True(t, cookies[0].Secure)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestRegistry_SignInRefusedWhenFull(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	r := newRegistry(e, access.WithCapacity(1))

	_, _, err := r.SignIn(t.Context(), "owner@a.test", password)
	require.NoError(t, err)

	_, _, err = r.SignIn(t.Context(), "staff@a.test", password)
	assert.ErrorIs(t, err, access.ErrRegistryFull)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_IgnoresForgedTokens(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	r := newRegistry(e, access.WithTokenParser(e.issuer))

	assert.Nil(t, r.Lookup(t.Context(), "not-a-jwt"))
	assert.Zero(t, r.Len(), "no controller is tracked for a token that does not parse")

	sess, err := e.controller().SignIn(t.Context(), "owner@a.test", password)
	require.NoError(t, err)
	assert.NotNil(t, r.Lookup(t.Context(), sess.Token))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Renew(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	r := newRegistry(e)

	c, sess, err := r.SignIn(t.Context(), "owner@a.test", password)
	require.NoError(t, err)
	before, _ := c.Snapshot().Tenant.CurrentID()

	renewed, err := r.Renew(t.Context(), sess.Token)
	require.NoError(t, err)
	assert.NotEqual(t, sess.Token, renewed.Token)
	assert.Equal(t, sess.User.ID, renewed.User.ID)
	assert.Equal(t, 1, r.Len())

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: access.DefaultCookieName, Value: renewed.Token})
	s := r.State(req)
	require.NotNil(t, s.User)
	after, _ := s.Tenant.CurrentID()
	assert.Equal(t, before, after, "renewal keeps the tenant context")

	_, err = e.store.Get(t.Context(), sess.Token)
	assert.ErrorIs(t, err, identity.ErrSessionNotFound, "the old token is revoked")
	_, err = r.Renew(t.Context(), sess.Token)
	assert.ErrorIs(t, err, access.ErrNoSession)
}
