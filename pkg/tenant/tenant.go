package tenant

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated company. Only ID and Active matter to access
// decisions; the rest is display metadata.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	TaxID     string    `json:"tax_id,omitempty"`
	Address   string    `json:"address,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Directory loads tenants from the company registry.
type Directory interface {
	// Get returns ErrTenantNotFound when no tenant has the id.
	Get(ctx context.Context, id uuid.UUID) (*Tenant, error)
	// List returns every registered tenant.
	List(ctx context.Context) ([]Tenant, error)
}

// MemoryDirectory is a Directory backed by a map.
type MemoryDirectory struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]Tenant
}

func NewMemoryDirectory(tenants ...Tenant) *MemoryDirectory {
	d := &MemoryDirectory{tenants: make(map[uuid.UUID]Tenant, len(tenants))}
	for _, t := range tenants {
		d.tenants[t.ID] = t
	}
	return d
}

func (d *MemoryDirectory) Put(t Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[t.ID] = t
}

func (d *MemoryDirectory) Get(_ context.Context, id uuid.UUID) (*Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return &t, nil
}

// List returns tenants sorted by name then id.
func (d *MemoryDirectory) List(context.Context) ([]Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Tenant, 0, len(d.tenants))
	for _, t := range d.tenants {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Tenant) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out, nil
}
