package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type contextExtractor func(context.Context) (string, bool)

// Logger builds events, fills request-scoped fields from the context and
// hands them to a Storage.
type Logger struct {
	storage           Storage
	now               func() time.Time
	userIDExtractor   contextExtractor
	tenantIDExtractor contextExtractor
	metadata          map[string]contextExtractor
}

// Option configures Logger behavior during initialization.
type Option func(*Logger)

// WithUserIDExtractor fills Event.UserID when the caller did not set it.
func WithUserIDExtractor(fn func(context.Context) (string, bool)) Option {
	return func(l *Logger) { l.userIDExtractor = fn }
}

// WithTenantIDExtractor fills Event.TenantID when the caller did not set it.
func WithTenantIDExtractor(fn func(context.Context) (string, bool)) Option {
	return func(l *Logger) { l.tenantIDExtractor = fn }
}

// WithMetadataExtractor adds metadata[key] from the context, e.g. the
// request id, unless the caller already set it.
func WithMetadataExtractor(key string, fn func(context.Context) (string, bool)) Option {
	return func(l *Logger) {
		if l.metadata == nil {
			l.metadata = make(map[string]contextExtractor)
		}
		l.metadata[key] = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger creates an audit logger writing into storage.
func NewLogger(storage Storage, opts ...Option) *Logger {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}
	l := &Logger{storage: storage, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record implements Sink.
func (l *Logger) Record(ctx context.Context, typ Type, resource string, opts ...EventOption) error {
	event := Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Resource:  resource,
		Timestamp: l.now().UTC(),
	}
	for _, opt := range opts {
		opt(&event)
	}

	if event.UserID == "" && l.userIDExtractor != nil {
		if id, ok := l.userIDExtractor(ctx); ok {
			event.UserID = id
		}
	}
	if event.TenantID == "" && l.tenantIDExtractor != nil {
		if id, ok := l.tenantIDExtractor(ctx); ok {
			event.TenantID = id
		}
	}

	for key, fn := range l.metadata {
		if _, set := event.Metadata[key]; set {
			continue
		}
		if v, ok := fn(ctx); ok {
			if event.Metadata == nil {
				event.Metadata = make(map[string]any)
			}
			event.Metadata[key] = v
		}
	}

	if err := event.Validate(); err != nil {
		return err
	}
	return l.storage.Store(ctx, event)
}
