package tenant_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizpos/tenantguard/pkg/tenant"
)

func TestScopedCache_NoBleedThroughAfterSwitch(t *testing.T) {
	t.Parallel()

	user := devUser()
	env := newSwitchEnv(t, user)
	products := tenant.NewScopedCache[[]string](env.holder, 16)
	env.coord.Register(products)

	_, err := env.coord.Switch(context.Background(), user, env.a.ID)
	require.NoError(t, err)

	gen := env.holder.Snapshot().Generation()
	require.NoError(t, products.Put(gen, "products", []string{"a-widget"}))
	got, ok := products.Get("products")
	require.True(t, ok)
	assert.Equal(t, []string{"a-widget"}, got)

	_, err = env.coord.Switch(context.Background(), user, env.b.ID)
	require.NoError(t, err)

	_, ok = products.Get("products")
	assert.False(t, ok, "tenant B must not see tenant A data")
	assert.Zero(t, products.Len())

	// A load started under tenant A finishes late: it must be dropped.
	assert.ErrorIs(t, products.Put(gen, "products", []string{"a-widget"}), tenant.ErrStaleGeneration)
	assert.Zero(t, products.Len())

	_, err = env.coord.Switch(context.Background(), user, env.a.ID)
	require.NoError(t, err)
	_, ok = products.Get("products")
	assert.False(t, ok, "previous tenant data is gone after switching back")
}

func TestScopedCache_RequiresTenant(t *testing.T) {
	t.Parallel()

	env := newSwitchEnv(t, devUser())
	c := tenant.NewScopedCache[int](env.holder, 4)

	assert.ErrorIs(t, c.Put(env.holder.Snapshot().Generation(), "k", 1), tenant.ErrNoTenant)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Panics(t, func() { tenant.NewScopedCache[int](env.holder, 0) })
}

func TestScopedCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	f := newFixture()
	h := tenant.NewHolder(f.dir)
	snap, err := h.Init(context.Background(), ownerOf(f.a))
	require.NoError(t, err)

	c := tenant.NewScopedCache[int](h, 2)
	gen := snap.Generation()
	require.NoError(t, c.Put(gen, "a", 1))
	require.NoError(t, c.Put(gen, "b", 2))
	_, _ = c.Get("a")
	require.NoError(t, c.Put(gen, "c", 3))

	_, ok := c.Get("b")
	assert.False(t, ok)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	c.Remove("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestHolder_ApplyIfCurrent(t *testing.T) {
	t.Parallel()

	f := newFixture()
	h := tenant.NewHolder(f.dir)
	snap, err := h.Init(context.Background(), ownerOf(f.a))
	require.NoError(t, err)

	ran := false
	assert.True(t, h.ApplyIfCurrent(snap.Generation(), func() { ran = true }))
	assert.True(t, ran)

	h.Cancel()
	assert.False(t, h.ApplyIfCurrent(snap.Generation(), func() { t.Fatal("must not run") }))
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" || testing.Short() {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })

	user := devUser()
	env := newSwitchEnv(t, user)
	cache := tenant.NewRedisCache(client, env.holder, "test:"+uuid.NewString(), time.Minute)
	env.coord.Register(cache)

	ctx := context.Background()
	_, err = env.coord.Switch(ctx, user, env.a.ID)
	require.NoError(t, err)

	require.NoError(t, cache.Set(ctx, env.holder.Snapshot().Generation(), "customers", []string{"alice"}))
	var got []string
	ok, err := cache.Get(ctx, "customers", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, got)

	_, err = env.coord.Switch(ctx, user, env.b.ID)
	require.NoError(t, err)
	ok, err = cache.Get(ctx, "customers", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}
