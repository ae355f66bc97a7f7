package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bizpos/tenantguard/pkg/identity"
)

// Holder is the single owner of the tenant Context of one session. Reads are
// lock-free snapshots; writes are serialized and always replace the whole
// Context.
type Holder struct {
	dir Directory

	snapshot atomic.Pointer[Context]

	// mu serializes generation bumps with commits. generation is also read
	// lock-free by caches.
	mu         sync.Mutex
	generation atomic.Uint64

	// epoch changes whenever the session behind the context changes: Init,
	// Clear and Cancel. A switch started under an older epoch never commits.
	epoch atomic.Uint64
}

func NewHolder(dir Directory) *Holder {
	h := &Holder{dir: dir}
	h.snapshot.Store(NewContext(nil, nil, 0))
	return h
}

// Snapshot returns the current Context. It is never nil.
func (h *Holder) Snapshot() *Context {
	return h.snapshot.Load()
}

// Init builds the context for a freshly authenticated user. Dev users get
// every active tenant as available and no current tenant; owner and staff
// users get exactly their bound tenant. On error the context is cleared.
func (h *Holder) Init(ctx context.Context, user *identity.User) (*Context, error) {
	if user == nil {
		h.Clear()
		return nil, ErrNoUser
	}
	if err := user.Validate(); err != nil {
		h.Clear()
		return nil, err
	}

	gen := h.rebind()

	var next *Context
	if user.IsDev() {
		all, err := h.dir.List(ctx)
		if err != nil {
			h.Clear()
			return nil, err
		}
		active := make([]Tenant, 0, len(all))
		for _, t := range all {
			if t.Active {
				active = append(active, t)
			}
		}
		next = NewContext(nil, active, gen)
	} else {
		t, err := h.dir.Get(ctx, *user.TenantID)
		if err != nil {
			h.Clear()
			return nil, err
		}
		if !t.Active {
			h.Clear()
			return nil, fmt.Errorf("%w: %s", ErrTenantInactive, t.ID)
		}
		next = NewContext(t, []Tenant{*t}, gen)
	}

	if err := h.commit(gen, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Clear drops the tenant context and supersedes any in-flight switch.
func (h *Holder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.epoch.Add(1)
	h.snapshot.Store(NewContext(nil, nil, h.generation.Add(1)))
}

// Cancel supersedes in-flight switches without touching the current context.
func (h *Holder) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.epoch.Add(1)
	h.generation.Add(1)
}

// ApplyIfCurrent runs fn only while gen is still the latest generation.
// Async loaders use it to drop results that belong to a superseded tenant.
func (h *Holder) ApplyIfCurrent(gen uint64, fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.IsCurrent(gen) {
		return false
	}
	fn()
	return true
}

// rebind starts a new epoch and allocates its first generation token.
func (h *Holder) rebind() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.epoch.Add(1)
	return h.generation.Add(1)
}

// beginIn allocates a new generation token, unless the session changed since
// epoch was read.
func (h *Holder) beginIn(epoch uint64) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if epoch != h.epoch.Load() {
		return 0, ErrSwitchSuperseded
	}
	return h.generation.Add(1), nil
}

// IsCurrent reports whether gen produced the committed context and no newer
// operation has started since.
func (h *Holder) IsCurrent(gen uint64) bool {
	return gen == h.generation.Load() && gen == h.snapshot.Load().generation
}

// commit stores next only if gen is still the latest generation.
func (h *Holder) commit(gen uint64, next *Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.generation.Load() {
		return ErrSwitchSuperseded
	}
	h.snapshot.Store(next)
	return nil
}

// IsSuperseded reports whether err means a newer operation won.
func IsSuperseded(err error) bool {
	return errors.Is(err, ErrSwitchSuperseded)
}
