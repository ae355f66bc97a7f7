package access

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bizpos/tenantguard/pkg/guard"
	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/logger"
)

// DefaultCookieName carries the session token of browser clients.
const DefaultCookieName = "tenantguard_session"

// Registry keeps one Controller per session token for a server process.
//
// A token seen for the first time, for example after a restart, gets a fresh
// Controller whose restore runs in the background; requests arriving
// meanwhile see the loading state.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Controller

	factory        func() *Controller
	cookie         string
	secure         bool
	capacity       int
	restoreTimeout time.Duration
	tokens         TokenParser
	log            *slog.Logger
}

// TokenParser checks a token's signature and expiry without a store round
// trip. *identity.TokenIssuer implements it.
type TokenParser interface {
	Parse(token string) (*identity.Session, error)
}

type RegistryOption func(*Registry)

func WithCookieName(name string) RegistryOption {
	return func(r *Registry) {
		if name != "" {
			r.cookie = name
		}
	}
}

// WithSecureCookie marks the session cookie Secure.
func WithSecureCookie(secure bool) RegistryOption {
	return func(r *Registry) { r.secure = secure }
}

// WithCapacity bounds the number of tracked sessions.
func WithCapacity(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

func WithRestoreTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.restoreTimeout = d
		}
	}
}

// WithTokenParser makes Lookup ignore tokens that fail p.Parse instead of
// tracking a controller and starting a restore for them.
func WithTokenParser(p TokenParser) RegistryOption {
	return func(r *Registry) { r.tokens = p }
}

func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry creates a Registry. factory must return a new Controller with
// an Authenticator on every call.
func NewRegistry(factory func() *Controller, opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions:       make(map[string]*Controller),
		factory:        factory,
		cookie:         DefaultCookieName,
		capacity:       10_000,
		restoreTimeout: 15 * time.Second,
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("access"))
	return r
}

// SignIn authenticates on a new Controller and tracks it under the issued
// token.
func (r *Registry) SignIn(ctx context.Context, email, password string) (*Controller, *identity.Session, error) {
	c := r.factory()
	sess, err := c.SignIn(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	if !r.makeRoom() {
		r.mu.Unlock()
		// The token was already issued; revoke it so it cannot be used later.
		if err := c.SignOut(ctx); err != nil {
			r.log.ErrorContext(ctx, "failed to revoke session refused by full registry", logger.Error(err))
		}
		r.log.WarnContext(ctx, "session registry full, sign-in refused")
		return nil, nil, ErrRegistryFull
	}
	r.sessions[sess.Token] = c
	r.mu.Unlock()
	return c, sess, nil
}

// Renew issues a new token for the session behind token and tracks the
// controller under it. The old token stops working.
func (r *Registry) Renew(ctx context.Context, token string) (*identity.Session, error) {
	r.mu.Lock()
	c, ok := r.sessions[token]
	r.mu.Unlock()
	if !ok || token == "" {
		return nil, ErrNoSession
	}

	sess, err := c.Renew(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	delete(r.sessions, token)
	r.sessions[sess.Token] = c
	r.mu.Unlock()
	return sess, nil
}

// Lookup returns the Controller for token, starting a background restore
// when the token is unknown. It returns nil for an empty token, a token that
// fails the TokenParser, or when the registry is full.
func (r *Registry) Lookup(ctx context.Context, token string) *Controller {
	if token == "" {
		return nil
	}

	r.mu.Lock()
	if c, ok := r.sessions[token]; ok {
		r.mu.Unlock()
		return c
	}
	r.mu.Unlock()

	if r.tokens != nil {
		if _, err := r.tokens.Parse(token); err != nil {
			return nil
		}
	}

	r.mu.Lock()
	if c, ok := r.sessions[token]; ok {
		r.mu.Unlock()
		return c
	}
	if !r.makeRoom() {
		r.mu.Unlock()
		r.log.WarnContext(ctx, "session registry full, restore refused")
		return nil
	}
	c := r.factory()
	r.sessions[token] = c
	r.mu.Unlock()

	// Until the restore finishes the controller is not ready, which the
	// guard renders as loading.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.restoreTimeout)
	go func() {
		defer cancel()
		if err := c.Restore(rctx, token); err != nil {
			r.log.InfoContext(rctx, "session not restored", logger.Error(err))
		}
	}()
	return c
}

// SignOut signs the session out and forgets it.
func (r *Registry) SignOut(ctx context.Context, token string) error {
	r.mu.Lock()
	c, ok := r.sessions[token]
	delete(r.sessions, token)
	r.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	return c.SignOut(ctx)
}

// Len reports the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// makeRoom drops sessions that ended when the registry is full. It reports
// whether a new session fits. r.mu must be held.
func (r *Registry) makeRoom() bool {
	if len(r.sessions) < r.capacity {
		return true
	}
	for token, c := range r.sessions {
		s := c.Snapshot()
		if s.Readiness == identity.Ready && !s.Authenticated() {
			delete(r.sessions, token)
		}
	}
	return len(r.sessions) < r.capacity
}

// Token reads the session token from the cookie or a Bearer header.
func (r *Registry) Token(req *http.Request) string {
	if ck, err := req.Cookie(r.cookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	scheme, token, ok := strings.Cut(req.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// State is a guard.StateFunc. Requests without a known session are
// anonymous and ready.
func (r *Registry) State(req *http.Request) guard.State {
	c := r.Lookup(req.Context(), r.Token(req))
	if c == nil {
		return guard.State{Readiness: identity.Ready}
	}
	return c.Snapshot()
}

// Controller returns the Controller behind the request, or nil.
func (r *Registry) Controller(req *http.Request) *Controller {
	return r.Lookup(req.Context(), r.Token(req))
}

// SetCookie writes the session cookie for sess.
func (r *Registry) SetCookie(w http.ResponseWriter, sess *identity.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     r.cookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   r.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (r *Registry) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     r.cookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
