// Package access owns the authorization state of a session.
//
// A Controller composes the identity holder, the tenant holder and its switch
// coordinator, and a guard. It is the only writer of that state: SignIn binds
// the user's tenant before the session is visible as ready, SignOut cancels
// pending switches, clears the tenant and empties tenant-scoped caches, and
// Snapshot hands out an immutable guard.State.
//
// Registry maps session tokens to Controllers inside a server process and
// provides the guard.StateFunc used by the guard middleware:
//
//	reg := access.NewRegistry(func() *access.Controller {
//		return access.New(g, tenants, access.WithAuthenticator(auth), access.WithSessionStore(store))
//	})
//	r.Use(g.Middleware(reg.State))
package access
