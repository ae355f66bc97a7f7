// Package tenant owns the active company of a session and the rules for
// changing it.
//
// Holder keeps an immutable Context (current tenant, available tenants,
// generation) and replaces it wholesale. Owner and staff users are pinned to
// their bound tenant; dev users see every active tenant and start with no
// current tenant.
//
// Coordinator.Switch validates membership, empties every registered cache
// and only then commits the new Context, so no reader can observe the new
// tenant next to the old tenant's cached data. Each switch carries a
// generation token: the latest switch wins and older ones fail with
// ErrSwitchSuperseded. Denied switches are audited as tenant_switch_denied.
//
// ScopedCache and RedisCache key entries by tenant and refuse writes that
// carry a stale generation, so async loads started before a switch cannot
// populate the new tenant's view.
package tenant
