package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bizpos/tenantguard/pkg/audit"
	"github.com/bizpos/tenantguard/pkg/identity"
)

// Invalidator is implemented by every tenant-scoped cache.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(ctx context.Context) error

func (f InvalidatorFunc) Invalidate(ctx context.Context) error { return f(ctx) }

// Coordinator changes the active tenant of a Holder.
//
// A switch verifies membership (dev users bypass it), invalidates every
// registered cache, then commits the new Context. Each switch takes a
// generation token; when a newer switch or a Cancel happens first, the older
// switch fails with ErrSwitchSuperseded and commits nothing. A switch is also
// tied to the session it started in (see Ticket), so a sign-out during its
// tenant lookup discards it too.
type Coordinator struct {
	holder *Holder
	dir    Directory
	sink   audit.Sink
	log    *slog.Logger

	mu     sync.RWMutex
	caches []Invalidator
}

type CoordinatorOption func(*Coordinator)

func WithCaches(caches ...Invalidator) CoordinatorOption {
	return func(c *Coordinator) {
		for _, inv := range caches {
			if inv != nil {
				c.caches = append(c.caches, inv)
			}
		}
	}
}

func WithAuditSink(sink audit.Sink) CoordinatorOption {
	return func(c *Coordinator) {
		if sink != nil {
			c.sink = sink
		}
	}
}

func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

func NewCoordinator(holder *Holder, dir Directory, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		holder: holder,
		dir:    dir,
		sink:   audit.Discard,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a cache that must be emptied on every switch.
func (c *Coordinator) Register(inv Invalidator) {
	if inv == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caches = append(c.caches, inv)
}

// Ticket pins a switch to the session that was bound when it was taken.
// Take it together with reading the user, under the same lock that guards
// sign-in and sign-out.
type Ticket struct {
	epoch uint64
}

// Ticket returns a ticket for the currently bound session.
func (c *Coordinator) Ticket() Ticket {
	return Ticket{epoch: c.holder.epoch.Load()}
}

// Switch makes target the active tenant for user and returns it.
func (c *Coordinator) Switch(ctx context.Context, user *identity.User, target uuid.UUID) (*Tenant, error) {
	return c.SwitchWith(ctx, c.Ticket(), user, target)
}

// SwitchWith is Switch for a ticket taken earlier. If the session was
// cleared, cancelled or rebound since, the switch fails with
// ErrSwitchSuperseded and commits nothing, however long the lookup took.
func (c *Coordinator) SwitchWith(ctx context.Context, ticket Ticket, user *identity.User, target uuid.UUID) (*Tenant, error) {
	if user == nil {
		return nil, ErrNoUser
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}

	snap := c.holder.Snapshot()
	if !user.IsDev() && (!snap.Has(target) || *user.TenantID != target) {
		c.deny(ctx, user, target, "tenant not in membership")
		return nil, ErrSwitchUnauthorized
	}

	next, err := c.resolve(ctx, user, snap, target)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) || errors.Is(err, ErrTenantInactive) {
			c.deny(ctx, user, target, "tenant unavailable")
			return nil, errors.Join(ErrSwitchUnauthorized, err)
		}
		return nil, err
	}

	gen, err := c.holder.beginIn(ticket.epoch)
	if err != nil {
		c.log.DebugContext(ctx, "tenant switch outlived its session", "tenant_id", target.String())
		return nil, err
	}

	if err := c.Invalidate(ctx); err != nil {
		return nil, fmt.Errorf("invalidate tenant caches: %w", err)
	}

	available := snap.Available()
	if user.IsDev() && !snap.Has(target) {
		available = append(available, *next)
	}
	if err := c.holder.commit(gen, NewContext(next, available, gen)); err != nil {
		c.log.DebugContext(ctx, "tenant switch superseded", "tenant_id", target.String())
		return nil, err
	}

	c.log.InfoContext(WithTenant(ctx, next), "tenant switched")
	return next, nil
}

// Cancel supersedes every in-flight switch. Called on sign-out.
func (c *Coordinator) Cancel() {
	c.holder.Cancel()
}

func (c *Coordinator) resolve(ctx context.Context, user *identity.User, snap *Context, target uuid.UUID) (*Tenant, error) {
	if !user.IsDev() {
		for _, t := range snap.Available() {
			if t.ID == target {
				return &t, nil
			}
		}
		return nil, ErrTenantNotFound
	}

	t, err := c.dir.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, ErrTenantInactive
	}
	return t, nil
}

// Invalidate empties all registered caches concurrently and waits for every
// one of them.
func (c *Coordinator) Invalidate(ctx context.Context) error {
	c.mu.RLock()
	caches := append([]Invalidator(nil), c.caches...)
	c.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, inv := range caches {
		g.Go(func() error { return inv.Invalidate(gctx) })
	}
	return g.Wait()
}

func (c *Coordinator) deny(ctx context.Context, user *identity.User, target uuid.UUID, reason string) {
	// Only the attempted tenant id is recorded, never the user's own tenants.
	if err := c.sink.Record(ctx, audit.TypeTenantSwitchDenied, target.String(),
		audit.WithUserID(user.ID.String()),
		audit.WithReason(reason),
	); err != nil {
		c.log.ErrorContext(ctx, "failed to record audit event", "error", err)
	}
	c.log.WarnContext(ctx, "tenant switch denied", "user_id", user.ID.String(), "attempted_tenant_id", target.String())
}
