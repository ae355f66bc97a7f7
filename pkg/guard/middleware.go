package guard

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/logger"
	"github.com/bizpos/tenantguard/pkg/tenant"
)

// StateFunc builds the guard State for one request.
type StateFunc func(r *http.Request) State

// DeniedParams feeds the access-denied view. It deliberately has no field
// for what the user could access instead.
type DeniedParams struct {
	Message string
}

// Views are the components rendered by the middleware. Nil fields fall back
// to minimal built-in markup.
type Views struct {
	Loading func() templ.Component
	Denied  func(DeniedParams) templ.Component
}

type middlewareConfig struct {
	views      Views
	retryAfter string
}

type MiddlewareOption func(*middlewareConfig)

func WithViews(v Views) MiddlewareOption {
	return func(c *middlewareConfig) {
		if v.Loading != nil {
			c.views.Loading = v.Loading
		}
		if v.Denied != nil {
			c.views.Denied = v.Denied
		}
	}
}

// WithRetryAfter sets the Retry-After header sent with the loading view.
func WithRetryAfter(seconds string) MiddlewareOption {
	return func(c *middlewareConfig) {
		if seconds != "" {
			c.retryAfter = seconds
		}
	}
}

// Middleware guards every request with Check. Loading renders the loading
// view with 503 and Retry-After, never a redirect. Redirects use 303, or an
// SSE redirect for DataStar requests. Rendered requests carry the user and
// the active tenant in their context.
func (g *Guard) Middleware(state StateFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{
		views:      Views{Loading: loadingView, Denied: deniedView},
		retryAfter: "1",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := state(r)
			d := g.Check(r.Context(), s, r.URL.Path)

			switch d.Outcome {
			case Render:
				ctx := r.Context()
				if s.User != nil {
					ctx = identity.WithUser(ctx, s.User)
				}
				if t := s.Tenant.Current(); t != nil {
					ctx = tenant.WithTenant(ctx, t)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
			case Loading:
				w.Header().Set("Retry-After", cfg.retryAfter)
				g.renderComponent(w, r, http.StatusServiceUnavailable, cfg.views.Loading())
			default:
				g.redirect(w, r, d.Target)
			}
		})
	}
}

// DeniedHandler serves the generic access-denied page.
func (g *Guard) DeniedHandler(opts ...MiddlewareOption) http.Handler {
	cfg := &middlewareConfig{views: Views{Loading: loadingView, Denied: deniedView}}
	for _, opt := range opts {
		opt(cfg)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.renderComponent(w, r, http.StatusForbidden, cfg.views.Denied(DeniedParams{
			Message: "You do not have access to this page.",
		}))
	})
}

func (g *Guard) redirect(w http.ResponseWriter, r *http.Request, target string) {
	if isDataStar(r) {
		if err := datastar.NewSSE(w, r).Redirect(target); err != nil {
			g.log.ErrorContext(r.Context(), "failed to send redirect", logger.Component("guard"), logger.Error(err))
		}
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (g *Guard) renderComponent(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	if isDataStar(r) {
		if err := datastar.NewSSE(w, r).PatchElementTempl(c); err != nil {
			g.log.ErrorContext(r.Context(), "failed to patch element", logger.Component("guard"), logger.Error(err))
		}
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		g.log.ErrorContext(r.Context(), "failed to render view", logger.Component("guard"), logger.Error(err))
	}
}

// isDataStar reports whether the request came from a DataStar client, which
// expects server-sent events instead of plain redirects.
func isDataStar(r *http.Request) bool {
	if r.Header.Get("Datastar-Request") == "true" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func loadingView() templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<div id="guard-status" role="status" aria-busy="true">Loading</div>`)
		return err
	})
}

func deniedView(p DeniedParams) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<div id="guard-status" role="alert"><h1>Access denied</h1><p>`+
			templ.EscapeString(p.Message)+`</p></div>`)
		return err
	})
}
