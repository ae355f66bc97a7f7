// Package audit records security events emitted by the authorization engine.
//
// Three event types exist: permission_violation (route guard denials),
// tenant_switch_denied (switch attempts to non-member tenants) and
// policy_violation (storage-layer rejections). Every event names the user,
// the attempted resource and a timestamp. Events never enumerate other
// tenants or their identifiers.
//
// A Logger builds events and passes them to a Storage. Bundled storages:
//
//   - SlogStorage writes each event as a WARN record
//   - MemoryStorage keeps events for tests
//   - AsyncStorage batches writes to a wrapped storage in the background
//   - MultiStorage fans out to several storages
//
// Usage:
//
//	sink := audit.NewLogger(audit.NewSlogStorage(log),
//	    audit.WithUserIDExtractor(identity.UserIDFromContext),
//	)
//	_ = sink.Record(ctx, audit.TypePermissionViolation, "/settings",
//	    audit.WithReason("role access denied"))
package audit
