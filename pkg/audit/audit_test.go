package audit_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizpos/tenantguard/pkg/audit"
)

type ctxKey struct{}

func TestLogger_Record(t *testing.T) {
	t.Parallel()

	store := audit.NewMemoryStorage()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	log := audit.NewLogger(store,
		audit.WithClock(func() time.Time { return fixed }),
		audit.WithUserIDExtractor(func(ctx context.Context) (string, bool) {
			v, ok := ctx.Value(ctxKey{}).(string)
			return v, ok
		}),
	)

	ctx := context.WithValue(context.Background(), ctxKey{}, "user-1")
	require.NoError(t, log.Record(ctx, audit.TypePermissionViolation, "/settings",
		audit.WithReason("role access denied"),
		audit.WithMetadata("outcome", "redirect_unauthorized"),
	))

	events := store.Events()
	require.Len(t, events, 1)
	e := events[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, audit.TypePermissionViolation, e.Type)
	assert.Equal(t, "user-1", e.UserID)
	assert.Equal(t, "/settings", e.Resource)
	assert.Equal(t, "role access denied", e.Reason)
	assert.Equal(t, fixed, e.Timestamp)
	assert.Equal(t, "redirect_unauthorized", e.Metadata["outcome"])
}

func TestLogger_ExplicitFieldsWin(t *testing.T) {
	t.Parallel()

	store := audit.NewMemoryStorage()
	log := audit.NewLogger(store, audit.WithUserIDExtractor(func(context.Context) (string, bool) {
		return "from-ctx", true
	}))

	require.NoError(t, log.Record(context.Background(), audit.TypeTenantSwitchDenied, "tenant-b",
		audit.WithUserID("explicit")))
	assert.Equal(t, "explicit", store.Events(audit.TypeTenantSwitchDenied)[0].UserID)
	assert.Empty(t, store.Events(audit.TypePolicyViolation))
}

func TestLogger_MetadataExtractor(t *testing.T) {
	t.Parallel()

	store := audit.NewMemoryStorage()
	log := audit.NewLogger(store, audit.WithMetadataExtractor("request_id", func(ctx context.Context) (string, bool) {
		v, ok := ctx.Value(ctxKey{}).(string)
		return v, ok
	}))

	ctx := context.WithValue(context.Background(), ctxKey{}, "req-42")
	require.NoError(t, log.Record(ctx, audit.TypePolicyViolation, "sales"))
	require.NoError(t, log.Record(ctx, audit.TypePolicyViolation, "sales", audit.WithMetadata("request_id", "explicit")))
	require.NoError(t, log.Record(context.Background(), audit.TypePolicyViolation, "sales"))

	events := store.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "req-42", events[0].Metadata["request_id"])
	assert.Equal(t, "explicit", events[1].Metadata["request_id"])
	assert.Nil(t, events[2].Metadata)
}

func TestLogger_Validation(t *testing.T) {
	t.Parallel()

	store := audit.NewMemoryStorage()
	log := audit.NewLogger(store)

	err := log.Record(context.Background(), audit.Type("login"), "/x")
	assert.ErrorIs(t, err, audit.ErrEventValidation)

	err = log.Record(context.Background(), audit.TypePolicyViolation, "")
	assert.ErrorIs(t, err, audit.ErrEventValidation)
	assert.Empty(t, store.Events())

	assert.Panics(t, func() { audit.NewLogger(nil) })
}

func TestSlogStorage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	store := audit.NewSlogStorage(slog.New(slog.NewJSONHandler(&buf, nil)))
	log := audit.NewLogger(store)

	require.NoError(t, log.Record(context.Background(), audit.TypeTenantSwitchDenied, "tenant-9",
		audit.WithUserID("u1")))

	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"type":"tenant_switch_denied"`)
	assert.Contains(t, out, `"attempted_resource":"tenant-9"`)
	assert.Contains(t, out, `"user_id":"u1"`)
}

type failingStorage struct{ err error }

func (f failingStorage) Store(context.Context, ...audit.Event) error { return f.err }

func TestMultiStorage(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	mem := audit.NewMemoryStorage()
	multi := audit.MultiStorage{mem, failingStorage{err: boom}}

	err := multi.Store(context.Background(), audit.Event{Type: audit.TypePolicyViolation, Resource: "t"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, mem.Events(), 1)
}

type countingStorage struct {
	mu      sync.Mutex
	batches [][]audit.Event
}

func (c *countingStorage) Store(_ context.Context, events ...audit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, append([]audit.Event(nil), events...))
	return nil
}

func (c *countingStorage) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func TestAsyncStorage_FlushesOnClose(t *testing.T) {
	t.Parallel()

	next := &countingStorage{}
	async := audit.NewAsyncStorage(next, audit.AsyncOptions{
		BufferSize:   100,
		BatchSize:    10,
		BatchTimeout: time.Hour,
	}, nil)

	log := audit.NewLogger(async)
	for range 25 {
		require.NoError(t, log.Record(context.Background(), audit.TypePermissionViolation, "/x"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, async.Close(ctx))
	assert.Equal(t, 25, next.total())

	err := async.Store(context.Background(), audit.Event{Type: audit.TypePermissionViolation, Resource: "/y"})
	assert.ErrorIs(t, err, audit.ErrStorageNotAvailable)
	require.NoError(t, async.Close(ctx))
}

func TestAsyncStorage_FlushesOnTimer(t *testing.T) {
	t.Parallel()

	next := &countingStorage{}
	async := audit.NewAsyncStorage(next, audit.AsyncOptions{BatchTimeout: 10 * time.Millisecond}, nil)
	t.Cleanup(func() { _ = async.Close(context.Background()) })

	require.NoError(t, async.Store(context.Background(), audit.Event{Type: audit.TypePolicyViolation, Resource: "t"}))
	assert.Eventually(t, func() bool { return next.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	assert.NoError(t, audit.Discard.Record(context.Background(), audit.TypePolicyViolation, "x"))
}
