package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/bizpos/tenantguard/pkg/audit"
	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/logger"
	"github.com/bizpos/tenantguard/pkg/rbac"
	"github.com/bizpos/tenantguard/pkg/tenant"
)

// State is everything a decision depends on. It is a value: build a new one
// whenever the session, the tenant or the route changes.
type State struct {
	Readiness identity.Readiness
	User      *identity.User
	Tenant    *tenant.Context
}

// Authenticated reports whether a user is signed in.
func (s State) Authenticated() bool { return s.User != nil }

// Paths are the redirect destinations used by decisions.
type Paths struct {
	Login        string
	Unauthorized string
	AdminHome    string
	Dashboard    string
}

// DefaultPaths returns /login, /unauthorized, /admin and /dashboard.
func DefaultPaths() Paths {
	return Paths{
		Login:        "/login",
		Unauthorized: "/unauthorized",
		AdminHome:    "/admin",
		Dashboard:    "/dashboard",
	}
}

// Permissions answers permission questions for a role. *rbac.Evaluator
// implements it.
type Permissions interface {
	HasActionPermission(role rbac.Role, granted []rbac.Permission, perm rbac.Permission) bool
	HasAllPermissions(role rbac.Role, granted, required []rbac.Permission) bool
}

// Guard turns (State, path) into a Decision.
type Guard struct {
	perms  Permissions
	routes *RouteTable
	paths  Paths
	sink   audit.Sink
	log    *slog.Logger
}

type Option func(*Guard)

func WithRoutes(t *RouteTable) Option {
	return func(g *Guard) {
		if t != nil {
			g.routes = t
		}
	}
}

func WithPaths(p Paths) Option {
	return func(g *Guard) {
		if p.Login != "" {
			g.paths.Login = p.Login
		}
		if p.Unauthorized != "" {
			g.paths.Unauthorized = p.Unauthorized
		}
		if p.AdminHome != "" {
			g.paths.AdminHome = p.AdminHome
		}
		if p.Dashboard != "" {
			g.paths.Dashboard = p.Dashboard
		}
	}
}

// WithAuditSink records permission_violation events for denials in Check.
func WithAuditSink(s audit.Sink) Option {
	return func(g *Guard) {
		if s != nil {
			g.sink = s
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

// New creates a Guard. A nil *rbac.Evaluator denies every check.
func New(perms Permissions, opts ...Option) *Guard {
	g := &Guard{
		perms:  perms,
		routes: DefaultRouteTable(),
		paths:  DefaultPaths(),
		sink:   audit.Discard,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) Routes() *RouteTable { return g.routes }

func (g *Guard) Paths() Paths { return g.paths }

// RoleHome is the landing page of role: the admin home for dev, the
// dashboard for everyone else.
func (g *Guard) RoleHome(role rbac.Role) string {
	if role == rbac.RoleDev {
		return g.paths.AdminHome
	}
	return g.paths.Dashboard
}

// LoginURL is the login path carrying from as the return destination. Only
// local absolute paths are carried.
func (g *Guard) LoginURL(from string) string {
	if !isLocalPath(from) || from == g.paths.Login {
		return g.paths.Login
	}
	return g.paths.Login + "?from=" + url.QueryEscape(from)
}

// ReturnTarget is where a user lands after signing in: from when it is a
// local path other than the login page, otherwise the role home.
func (g *Guard) ReturnTarget(from string, role rbac.Role) string {
	if !isLocalPath(from) || from == g.paths.Login {
		return g.RoleHome(role)
	}
	return from
}

func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, "/\\")
}

// Decide looks path up in the route table and evaluates it.
func (g *Guard) Decide(s State, path string) Decision {
	req, _ := g.routes.Lookup(path)
	return g.Evaluate(s, path, req)
}

// Evaluate applies the access rules in a fixed order, first match wins:
//
//  1. session not ready: Loading
//  2. not signed in: RedirectLogin, except on guest routes
//
// Public routes render for anyone once the session is known. Then:
//
//  3. guest route while signed in: RedirectRoleHome
//  4. undeclared path or role not allowed: RedirectUnauthorized
//  5. company required but none active: RedirectRoleHome for dev,
//     RedirectUnauthorized for tenant-bound roles
//  6. required company differs from the active one (non-dev):
//     RedirectUnauthorized
//  7. missing permission: RedirectUnauthorized
//  8. otherwise Render
//
// Evaluate has no side effects. A panic during evaluation is recovered into
// RedirectUnauthorized with ErrEvaluationFailed.
func (g *Guard) Evaluate(s State, path string, req RouteRequirement) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = g.unauthorized(path, "access check failed", fmt.Errorf("%w: %v", ErrEvaluationFailed, r))
		}
	}()

	if s.Readiness != identity.Ready {
		return Decision{Outcome: Loading, From: path}
	}

	if !s.Authenticated() {
		if req.Public || req.RedirectAuthenticated {
			return Decision{Outcome: Render, From: path}
		}
		return Decision{
			Outcome: RedirectLogin,
			Target:  g.LoginURL(path),
			From:    path,
			Err:     ErrUnauthenticated,
		}
	}

	if req.Public {
		return Decision{Outcome: Render, From: path}
	}

	user := s.User
	if err := user.Validate(); err != nil {
		return g.unauthorized(path, "access denied", errors.Join(ErrRoleDenied, err))
	}
	role := user.Role
	if !g.perms.HasAllPermissions(role, nil, nil) {
		return g.unauthorized(path, "access denied", errors.Join(ErrRoleDenied, rbac.ErrInvalidRole))
	}

	if req.RedirectAuthenticated {
		return Decision{Outcome: RedirectRoleHome, Target: g.RoleHome(role), From: path}
	}

	if !req.Declared() {
		return g.unauthorized(path, "access denied", ErrRouteUndeclared)
	}

	if len(req.AllowedRoles) > 0 && !containsRole(req.AllowedRoles, role) {
		return g.unauthorized(path, "role access denied; required: "+joinRoles(req.AllowedRoles), ErrRoleDenied)
	}

	current, hasCurrent := s.Tenant.CurrentID()
	if req.RequireCompany && !hasCurrent {
		if role == rbac.RoleDev {
			return Decision{
				Outcome: RedirectRoleHome,
				Target:  g.RoleHome(role),
				From:    path,
				Reason:  "select a company first",
				Err:     ErrTenantRequired,
			}
		}
		return g.unauthorized(path, "no active company", ErrTenantRequired)
	}

	if role != rbac.RoleDev && (req.RequiredCompanyID != nil || req.RequireCompany) {
		// Tenant-bound roles only ever act inside their own tenant.
		if !hasCurrent || current != *user.TenantID {
			return g.unauthorized(path, "company access denied", ErrTenantMismatch)
		}
		if req.RequiredCompanyID != nil && *req.RequiredCompanyID != current {
			return g.unauthorized(path, "company access denied", ErrTenantMismatch)
		}
	}

	if len(req.RequiredPermissions) > 0 && !g.perms.HasAllPermissions(role, user.Permissions, req.RequiredPermissions) {
		return g.unauthorized(path, "missing permission: "+joinPermissions(g.missing(role, user.Permissions, req.RequiredPermissions)), ErrPermissionDenied)
	}

	return Decision{Outcome: Render, From: path}
}

// Check is Decide plus logging, and an audit event for every denial except
// unauthenticated visits.
func (g *Guard) Check(ctx context.Context, s State, path string) Decision {
	d := g.Decide(s, path)
	if !d.IsDenial() {
		if d.Outcome == RedirectLogin {
			g.log.DebugContext(ctx, "unauthenticated request redirected", logger.Component("guard"), logger.Path(path))
		}
		return d
	}

	opts := []audit.EventOption{
		audit.WithReason(d.Reason),
		audit.WithMetadata("outcome", d.Outcome.String()),
	}
	if s.User != nil {
		opts = append(opts, audit.WithUserID(s.User.ID.String()))
	}
	if id, ok := s.Tenant.CurrentID(); ok {
		opts = append(opts, audit.WithTenantID(id.String()))
	}
	if err := g.sink.Record(ctx, audit.TypePermissionViolation, path, opts...); err != nil {
		g.log.ErrorContext(ctx, "failed to record audit event", logger.Component("guard"), logger.Error(err))
	}

	level := slog.LevelWarn
	if errors.Is(d.Err, ErrEvaluationFailed) {
		level = slog.LevelError
	}
	g.log.Log(ctx, level, "access denied",
		logger.Component("guard"),
		logger.Path(path),
		logger.Outcome(d.Outcome),
		logger.Error(d.Err),
	)
	return d
}

func (g *Guard) unauthorized(path, reason string, err error) Decision {
	return Decision{
		Outcome: RedirectUnauthorized,
		Target:  g.paths.Unauthorized,
		From:    path,
		Reason:  reason,
		Err:     err,
	}
}

func (g *Guard) missing(role rbac.Role, granted, required []rbac.Permission) []rbac.Permission {
	var out []rbac.Permission
	for _, p := range required {
		if !g.perms.HasActionPermission(role, granted, p) {
			out = append(out, p)
		}
	}
	return out
}

func containsRole(roles []rbac.Role, role rbac.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func joinRoles(roles []rbac.Role) string {
	s := make([]string, len(roles))
	for i, r := range roles {
		s[i] = r.String()
	}
	return strings.Join(s, ", ")
}

func joinPermissions(perms []rbac.Permission) string {
	s := make([]string, len(perms))
	for i, p := range perms {
		s[i] = p.String()
	}
	return strings.Join(s, ", ")
}
