package guard_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizpos/tenantguard/pkg/guard"
	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/rbac"
	"github.com/bizpos/tenantguard/pkg/tenant"
)

func newRouter(g *guard.Guard, state guard.State, opts ...guard.MiddlewareOption) http.Handler {
	r := chi.NewRouter()
	r.Use(g.Middleware(func(*http.Request) guard.State { return state }, opts...))
	r.Get("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		u, _ := identity.UserFromContext(r.Context())
		id, _ := tenant.IDFromContext(r.Context())
		_, _ = io.WriteString(w, string(u.Role)+" "+id.String())
	})
	r.Get("/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "login form")
	})
	return r
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_Render(t *testing.T) {
	t.Parallel()
	g := newGuard(t)
	owner := user(rbac.RoleOwner, &companyA)

	rec := serve(newRouter(g, signedIn(owner, &companyA)), httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "owner "+companyA.ID.String(), rec.Body.String())
}

func TestMiddleware_Loading(t *testing.T) {
	t.Parallel()
	g := newGuard(t)

	rec := serve(newRouter(g, guard.State{Readiness: identity.Loading}), httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Empty(t, rec.Header().Get("Location"))
	assert.Contains(t, rec.Body.String(), "Loading")
}

func TestMiddleware_CustomLoadingView(t *testing.T) {
	t.Parallel()
	g := newGuard(t)
	view := guard.Views{Loading: func() templ.Component {
		return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
			_, err := io.WriteString(w, "restoring session")
			return err
		})
	}}

	rec := serve(
		newRouter(g, guard.State{Readiness: identity.Uninitialized}, guard.WithViews(view), guard.WithRetryAfter("3")),
		httptest.NewRequest(http.MethodGet, "/dashboard", nil),
	)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
	assert.Equal(t, "restoring session", rec.Body.String())
}

func TestMiddleware_Redirects(t *testing.T) {
	t.Parallel()
	g := newGuard(t)

	tests := []struct {
		name     string
		state    guard.State
		path     string
		location string
	}{
		{"anonymous to login", anonymous(), "/dashboard", "/login?from=%2Fdashboard"},
		{"signed in away from login", signedIn(user(rbac.RoleDev, nil), nil), "/login", "/admin"},
		{"wrong tenant", signedIn(user(rbac.RoleOwner, &companyA), &companyB), "/dashboard", "/unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(newRouter(g, tt.state), httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusSeeOther, rec.Code)
			assert.Equal(t, tt.location, rec.Header().Get("Location"))
		})
	}
}

func TestMiddleware_DataStarRedirect(t *testing.T) {
	t.Parallel()
	g := newGuard(t)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Datastar-Request", "true")
	rec := serve(newRouter(g, anonymous()), req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, rec.Body.String(), "/login")
}

func TestMiddleware_AnonymousLoginRenders(t *testing.T) {
	t.Parallel()
	g := newGuard(t)

	rec := serve(newRouter(g, anonymous()), httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "login form", rec.Body.String())
}

func TestDeniedHandler(t *testing.T) {
	t.Parallel()
	g := newGuard(t)

	rec := serve(g.DeniedHandler(), httptest.NewRequest(http.MethodGet, "/unauthorized", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Access denied")
	assert.NotContains(t, rec.Body.String(), "required")
}
