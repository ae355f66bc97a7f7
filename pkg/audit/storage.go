package audit

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
)

// SlogStorage writes events as structured WARN records.
type SlogStorage struct {
	log *slog.Logger
}

func NewSlogStorage(log *slog.Logger) *SlogStorage {
	if log == nil {
		log = slog.Default()
	}
	return &SlogStorage{log: log.With(slog.String("component", "audit"))}
}

func (s *SlogStorage) Store(ctx context.Context, events ...Event) error {
	for _, e := range events {
		attrs := []slog.Attr{
			slog.String("event_id", e.ID),
			slog.String("type", string(e.Type)),
			slog.String("attempted_resource", e.Resource),
			slog.Time("timestamp", e.Timestamp),
		}
		if e.UserID != "" {
			attrs = append(attrs, slog.String("user_id", e.UserID))
		}
		if e.TenantID != "" {
			attrs = append(attrs, slog.String("tenant_id", e.TenantID))
		}
		if e.Reason != "" {
			attrs = append(attrs, slog.String("reason", e.Reason))
		}
		if len(e.Metadata) > 0 {
			attrs = append(attrs, slog.Any("metadata", e.Metadata))
		}
		s.log.LogAttrs(ctx, slog.LevelWarn, "security event", attrs...)
	}
	return nil
}

// MemoryStorage keeps events in memory. Intended for tests and local runs.
type MemoryStorage struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Store(_ context.Context, events ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// Events returns a copy of every stored event, optionally filtered by type.
func (s *MemoryStorage) Events(types ...Type) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		if len(types) == 0 || slices.Contains(types, e.Type) {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStorage) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// MultiStorage fans events out to several storages and joins their errors.
type MultiStorage []Storage

func (m MultiStorage) Store(ctx context.Context, events ...Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Store(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
