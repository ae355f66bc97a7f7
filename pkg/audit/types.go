package audit

import (
	"context"
	"fmt"
	"time"
)

// Type classifies a security event.
type Type string

const (
	// TypePermissionViolation is emitted by the route guard on every
	// authorization denial.
	TypePermissionViolation Type = "permission_violation"
	// TypeTenantSwitchDenied is emitted when a user attempts to switch to a
	// tenant outside their membership.
	TypeTenantSwitchDenied Type = "tenant_switch_denied"
	// TypePolicyViolation is emitted when the data access policy rejects a
	// read or write that should have been filtered earlier.
	TypePolicyViolation Type = "policy_violation"
)

func (t Type) Valid() bool {
	switch t {
	case TypePermissionViolation, TypeTenantSwitchDenied, TypePolicyViolation:
		return true
	}
	return false
}

// Event is a single audit record.
//
// Resource names the thing the user attempted to reach (a route path, a
// tenant id, a table). It never lists other tenants or their data.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	UserID    string         `json:"user_id,omitempty"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Resource  string         `json:"attempted_resource"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Validate checks that the event carries the required fields.
func (e *Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrEventValidation, e.Type)
	}
	if e.Resource == "" {
		return fmt.Errorf("%w: attempted resource is required", ErrEventValidation)
	}
	return nil
}

// EventOption applies configuration to an Event during creation.
type EventOption func(*Event)

func WithReason(reason string) EventOption {
	return func(e *Event) { e.Reason = reason }
}

func WithUserID(id string) EventOption {
	return func(e *Event) { e.UserID = id }
}

func WithTenantID(id string) EventOption {
	return func(e *Event) { e.TenantID = id }
}

// WithMetadata adds a single metadata entry.
func WithMetadata(key string, value any) EventOption {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}

// Sink receives security events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, typ Type, resource string, opts ...EventOption) error
}

// Storage persists validated events.
type Storage interface {
	Store(ctx context.Context, events ...Event) error
}

type discard struct{}

func (discard) Record(context.Context, Type, string, ...EventOption) error { return nil }

// Discard is a Sink that drops every event.
var Discard Sink = discard{}
