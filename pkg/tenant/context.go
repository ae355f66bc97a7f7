package tenant

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"
)

// Context is an immutable snapshot of the tenant state of one session: the
// active tenant (if any), the tenants the session may use and the switch
// generation that produced it. It is replaced wholesale, never patched.
type Context struct {
	current    *Tenant
	available  []Tenant
	generation uint64
}

// NewContext builds a snapshot. Inputs are copied.
func NewContext(current *Tenant, available []Tenant, generation uint64) *Context {
	c := &Context{
		available:  slices.Clone(available),
		generation: generation,
	}
	if current != nil {
		t := *current
		c.current = &t
	}
	return c
}

// Current returns a copy of the active tenant or nil.
func (c *Context) Current() *Tenant {
	if c == nil || c.current == nil {
		return nil
	}
	t := *c.current
	return &t
}

// CurrentID returns the active tenant id.
func (c *Context) CurrentID() (uuid.UUID, bool) {
	if c == nil || c.current == nil {
		return uuid.Nil, false
	}
	return c.current.ID, true
}

// Available returns a copy of the tenants the session is entitled to.
func (c *Context) Available() []Tenant {
	if c == nil {
		return nil
	}
	return slices.Clone(c.available)
}

// Has reports whether id is among the available tenants.
func (c *Context) Has(id uuid.UUID) bool {
	if c == nil {
		return false
	}
	return slices.ContainsFunc(c.available, func(t Tenant) bool { return t.ID == id })
}

func (c *Context) Generation() uint64 {
	if c == nil {
		return 0
	}
	return c.generation
}

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{}

// WithTenant adds the active tenant to a request context.
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext retrieves the tenant from the context.
func FromContext(ctx context.Context) (*Tenant, bool) {
	t, ok := ctx.Value(contextKey{}).(*Tenant)
	return t, ok && t != nil
}

// IDFromContext retrieves just the tenant ID from the context.
func IDFromContext(ctx context.Context) (uuid.UUID, bool) {
	t, ok := FromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return t.ID, true
}

// IDStringFromContext is shaped for audit extractors.
func IDStringFromContext(ctx context.Context) (string, bool) {
	id, ok := IDFromContext(ctx)
	if !ok {
		return "", false
	}
	return id.String(), true
}

// LoggerExtractor adds the active tenant id to log records. Only the active
// tenant is ever logged.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id, ok := IDFromContext(ctx); ok {
			return slog.String("tenant_id", id.String()), true
		}
		return slog.Attr{}, false
	}
}
