package tenant

import (
	"container/list"
	"context"
	"sync"

	"github.com/google/uuid"
)

type scopedKey struct {
	tenant uuid.UUID
	key    string
}

type scopedEntry[V any] struct {
	key   scopedKey
	value V
}

// ScopedCache is an in-memory LRU whose entries belong to the tenant that was
// active when they were written. Reads only see entries of the currently
// active tenant, and writes carrying a stale generation are rejected.
type ScopedCache[V any] struct {
	holder   *Holder
	capacity int

	mu    sync.Mutex
	items map[scopedKey]*list.Element
	order *list.List
}

// NewScopedCache creates a cache bound to holder. Capacity must be positive.
func NewScopedCache[V any](holder *Holder, capacity int) *ScopedCache[V] {
	if capacity <= 0 {
		panic("tenant: scoped cache capacity must be positive")
	}
	return &ScopedCache[V]{
		holder:   holder,
		capacity: capacity,
		items:    make(map[scopedKey]*list.Element),
		order:    list.New(),
	}
}

// Get returns the value cached for key under the active tenant.
func (c *ScopedCache[V]) Get(key string) (V, bool) {
	var zero V
	id, ok := c.holder.Snapshot().CurrentID()
	if !ok {
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[scopedKey{tenant: id, key: key}]
	if !ok {
		return zero, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*scopedEntry[V]).value, true
}

// Put stores value for key under the active tenant if gen is still current.
// Loaders capture the generation before starting work and pass it here, so
// results loaded for a tenant that was switched away from are dropped.
func (c *ScopedCache[V]) Put(gen uint64, key string, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.holder.Snapshot()
	id, ok := snap.CurrentID()
	if !ok {
		return ErrNoTenant
	}
	if !c.holder.IsCurrent(gen) {
		return ErrStaleGeneration
	}

	k := scopedKey{tenant: id, key: key}
	if elem, ok := c.items[k]; ok {
		elem.Value.(*scopedEntry[V]).value = value
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[k] = c.order.PushFront(&scopedEntry[V]{key: k, value: value})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*scopedEntry[V]).key)
	}
	return nil
}

// Remove drops key for the active tenant.
func (c *ScopedCache[V]) Remove(key string) {
	id, ok := c.holder.Snapshot().CurrentID()
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[scopedKey{tenant: id, key: key}]; ok {
		c.order.Remove(elem)
		delete(c.items, elem.Value.(*scopedEntry[V]).key)
	}
}

// Invalidate empties the cache for every tenant.
func (c *ScopedCache[V]) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[scopedKey]*list.Element)
	c.order.Init()
	return nil
}

func (c *ScopedCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
