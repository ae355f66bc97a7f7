// Package identity holds the authenticated user and session of a client.
//
// The Holder exposes CurrentUser, IsAuthenticated and Readiness. Readiness
// moves uninitialized -> loading -> ready once, so consumers can tell
// "session not known yet" apart from "not signed in" and never redirect
// while loading.
//
// Sessions are HS256 JWT credentials (TokenIssuer) persisted in a Store
// (MemoryStore or RedisStore) so they can be revoked before expiry. The
// Authenticator verifies bcrypt passwords, issues and renews sessions and
// provides a Restorer for startup.
//
// The role/tenant binding is enforced on every User that enters the package:
// dev users carry no tenant, owner and staff users carry exactly one.
package identity
