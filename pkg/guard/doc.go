// Package guard decides whether a path may be rendered for the current
// session.
//
// A RouteTable declares requirements per path (allowed roles, required
// permissions, a required or any active company, guest-only pages).
// Guard.Evaluate turns a State and a requirement into a Decision using one
// ordered rule list, so every page shares the same precedence: readiness,
// authentication, guest redirect, role, company presence, company match,
// permissions. Evaluation is pure and fail-closed; panics become
// RedirectUnauthorized.
//
// Guard.Check adds logging and a permission_violation audit event for each
// denial. Guard.Middleware applies Check to chi routes and renders the
// outcome: a loading view while the session is restoring, 303 redirects (SSE
// redirects for DataStar clients), or the next handler with the user and
// tenant in the request context. The denied page states the denial and
// nothing else.
package guard
