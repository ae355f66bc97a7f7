package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bizpos/tenantguard/pkg/audit"
	"github.com/bizpos/tenantguard/pkg/guard"
	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/logger"
	"github.com/bizpos/tenantguard/pkg/tenant"
)

// Authenticator establishes and restores sessions. *identity.Authenticator
// implements it.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*identity.Session, error)
	Renew(ctx context.Context, token string) (*identity.Session, error)
	Restorer(token string) identity.Restorer
}

// Controller owns the session of one client: who is signed in, which tenant
// is active, and what the guard decides for them. All writes go through it so
// readers never observe a user paired with a tenant context built for
// someone else.
type Controller struct {
	// mu serializes sign-in, sign-out and restore. Snapshot takes it shared.
	mu sync.RWMutex

	// binding is set while a session is installed but its tenant context is
	// not built yet; Snapshot reports loading meanwhile.
	binding atomic.Bool

	guard    *guard.Guard
	auth     Authenticator
	identity *identity.Holder
	tenants  *tenant.Holder
	coord    *tenant.Coordinator
	caches   []tenant.Invalidator
	log      *slog.Logger
}

type config struct {
	auth       Authenticator
	holderOpts []identity.HolderOption
	coordOpts  []tenant.CoordinatorOption
	caches     func(*tenant.Holder) []tenant.Invalidator
	log        *slog.Logger
}

type Option func(*config)

func WithAuthenticator(a Authenticator) Option {
	return func(c *config) { c.auth = a }
}

// WithSessionStore makes SignOut revoke the session token in store.
func WithSessionStore(s identity.Store) Option {
	return func(c *config) {
		if s != nil {
			c.holderOpts = append(c.holderOpts, identity.WithStore(s))
		}
	}
}

// WithIdentityOptions passes extra options to the identity holder.
func WithIdentityOptions(opts ...identity.HolderOption) Option {
	return func(c *config) { c.holderOpts = append(c.holderOpts, opts...) }
}

func WithAuditSink(s audit.Sink) Option {
	return func(c *config) { c.coordOpts = append(c.coordOpts, tenant.WithAuditSink(s)) }
}

// WithCaches registers tenant-scoped caches. fn receives the controller's
// tenant holder so the caches can key entries by its generation.
func WithCaches(fn func(*tenant.Holder) []tenant.Invalidator) Option {
	return func(c *config) { c.caches = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a Controller over g and the tenant directory dir.
func New(g *guard.Guard, dir tenant.Directory, opts ...Option) *Controller {
	cfg := &config{log: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	log := cfg.log.With(logger.Component("access"))

	holder := tenant.NewHolder(dir)
	var caches []tenant.Invalidator
	if cfg.caches != nil {
		caches = cfg.caches(holder)
	}
	coordOpts := append([]tenant.CoordinatorOption{tenant.WithLogger(log), tenant.WithCaches(caches...)}, cfg.coordOpts...)

	c := &Controller{
		guard:    g,
		auth:     cfg.auth,
		identity: identity.NewHolder(append([]identity.HolderOption{identity.WithLogger(log)}, cfg.holderOpts...)...),
		tenants:  holder,
		coord:    tenant.NewCoordinator(holder, dir, coordOpts...),
		caches:   caches,
		log:      log,
	}
	c.identity.OnSignOut(c.dropTenant)
	return c
}

// Identity exposes the identity holder for read-only use.
func (c *Controller) Identity() *identity.Holder { return c.identity }

// Tenants exposes the tenant holder, mainly so callers can build caches bound
// to it.
func (c *Controller) Tenants() *tenant.Holder { return c.tenants }

// Coordinator exposes the switch coordinator so late caches can Register.
func (c *Controller) Coordinator() *tenant.Coordinator { return c.coord }

// Caches returns the caches registered with WithCaches.
func (c *Controller) Caches() []tenant.Invalidator { return c.caches }

// Snapshot returns the state the guard decides on. The returned value is
// never mutated afterwards.
func (c *Controller) Snapshot() guard.State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	readiness := c.identity.Readiness()
	if c.binding.Load() {
		readiness = identity.Loading
	}
	return guard.State{
		Readiness: readiness,
		User:      c.identity.CurrentUser(),
		Tenant:    c.tenants.Snapshot(),
	}
}

// Navigate runs the guard on path for the current state.
func (c *Controller) Navigate(ctx context.Context, path string) guard.Decision {
	return c.guard.Check(ctx, c.Snapshot(), path)
}

// SignIn authenticates the credentials and binds the tenant context. A user
// whose tenant cannot be bound, for example because it is inactive, is
// signed straight back out.
func (c *Controller) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	if c.auth == nil {
		return nil, ErrNoAuthenticator
	}
	sess, err := c.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := c.Install(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Install adopts an already established session.
func (c *Controller) Install(ctx context.Context, sess *identity.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A switch started for the previous user must not land on this one.
	c.coord.Cancel()
	if err := c.identity.SignIn(ctx, sess); err != nil {
		return err
	}
	if _, err := c.tenants.Init(ctx, sess.User); err != nil {
		c.log.WarnContext(ctx, "tenant binding failed, signing out",
			logger.UserID(sess.User.ID.String()),
			logger.Error(err),
		)
		_ = c.identity.SignOut(ctx)
		return errors.Join(ErrTenantBinding, err)
	}
	c.log.InfoContext(ctx, "signed in", logger.UserID(sess.User.ID.String()), logger.Role(sess.User.Role))
	return nil
}

// Restore runs the one-shot session restore through the authenticator and
// binds the tenant of the restored user. The controller reads as loading
// until both steps are done.
func (c *Controller) Restore(ctx context.Context, token string) error {
	if c.auth == nil {
		return ErrNoAuthenticator
	}
	return c.RestoreWith(ctx, c.auth.Restorer(token))
}

// RestoreWith is Restore with an explicit Restorer.
func (c *Controller) RestoreWith(ctx context.Context, r identity.Restorer) error {
	c.binding.Store(true)
	defer c.binding.Store(false)

	if err := c.identity.Restore(ctx, r); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	user := c.identity.CurrentUser()
	if user == nil {
		return identity.ErrSessionNotFound
	}
	if _, err := c.tenants.Init(ctx, user); err != nil {
		c.log.WarnContext(ctx, "tenant binding failed after restore", logger.UserID(user.ID.String()), logger.Error(err))
		_ = c.identity.SignOut(ctx)
		return errors.Join(ErrTenantBinding, err)
	}
	return nil
}

// SignOut cancels in-flight switches, clears the user and the tenant context
// and empties every tenant-scoped cache. The revocation error, if any, is
// returned after the local state is already cleared.
func (c *Controller) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	user := c.identity.CurrentUser()
	c.coord.Cancel()
	err := c.identity.SignOut(ctx)
	if user != nil {
		c.log.InfoContext(ctx, "signed out", logger.UserID(user.ID.String()))
	}
	return err
}

// Renew swaps the session token for a freshly issued one with a new expiry.
// The user and the tenant context stay as they are; the old token is revoked.
func (c *Controller) Renew(ctx context.Context) (*identity.Session, error) {
	if c.auth == nil {
		return nil, ErrNoAuthenticator
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.identity.Session()
	if current == nil || !c.identity.IsAuthenticated() {
		return nil, ErrNoSession
	}
	next, err := c.auth.Renew(ctx, current.Token)
	if err != nil {
		return nil, fmt.Errorf("renew session: %w", err)
	}
	if next.User == nil || next.User.ID != current.User.ID {
		return nil, fmt.Errorf("renew session: %w", identity.ErrInvalidToken)
	}
	if err := c.identity.SignIn(ctx, next); err != nil {
		return nil, fmt.Errorf("renew session: %w", err)
	}
	c.log.InfoContext(ctx, "session renewed", logger.UserID(next.User.ID.String()))
	return next, nil
}

// dropTenant runs as an identity sign-out hook.
func (c *Controller) dropTenant(ctx context.Context) {
	c.tenants.Clear()
	if err := c.coord.Invalidate(ctx); err != nil {
		c.log.ErrorContext(ctx, "failed to clear tenant caches", logger.Error(err))
	}
}

// SwitchTenant makes id the active tenant for the signed-in user. A switch
// still looking up its tenant when the user signs out commits nothing.
func (c *Controller) SwitchTenant(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	c.mu.RLock()
	user := c.identity.CurrentUser()
	ticket := c.coord.Ticket()
	c.mu.RUnlock()

	if user == nil {
		return nil, tenant.ErrNoUser
	}
	t, err := c.coord.SwitchWith(ctx, ticket, user, id)
	if err != nil {
		return nil, fmt.Errorf("switch tenant: %w", err)
	}
	return t, nil
}
