package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizpos/tenantguard/pkg/access"
	"github.com/bizpos/tenantguard/pkg/clientip"
	"github.com/bizpos/tenantguard/pkg/guard"
	"github.com/bizpos/tenantguard/pkg/httpserver"
	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/logger"
	"github.com/bizpos/tenantguard/pkg/pg"
	"github.com/bizpos/tenantguard/pkg/policy"
	"github.com/bizpos/tenantguard/pkg/ratelimit"
	"github.com/bizpos/tenantguard/pkg/rbac"
	"github.com/bizpos/tenantguard/pkg/requestid"
	"github.com/bizpos/tenantguard/pkg/tenant"
)

const (
	maxBodyBytes = 1 << 20
	maxRows      = 500
)

// server holds the handlers of the serve command.
type server struct {
	log      *slog.Logger
	guard    *guard.Guard
	registry *access.Registry
	auth     policy.Verifier
	rules    *policy.RuleSet
	perms    *rbac.Evaluator
	enforcer *policy.Enforcer
	pool     *pgxpool.Pool
	pgCfg    pg.Config
	checks   []httpserver.Check

	// throttle limits sign-in attempts per client address and email. Nil
	// disables it.
	throttle     *ratelimit.Limiter
	proxyHeaders []string
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(clientip.Middleware(s.proxyHeaders...))

	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(s.log, 3*time.Second, s.checks...))

	r.Route("/api", func(r chi.Router) {
		r.Use(policy.Middleware(s.auth, s.log))
		r.Get("/{table}", s.listRows)
		r.Post("/{table}", s.insertRow)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.guard.Middleware(s.registry.State))

		paths := s.guard.Paths()
		r.Get(paths.Login, s.loginForm)
		r.Post(paths.Login, s.login)
		r.Handle(paths.Unauthorized, s.guard.DeniedHandler())
		for path, h := range s.actions() {
			r.Post(path, h)
		}

		for _, route := range s.guard.Routes().Routes() {
			if route.Public || route.RedirectAuthenticated || route.Path == paths.Unauthorized || !route.Serves(http.MethodGet) {
				continue
			}
			r.Get(route.Path, s.page)
		}
	})
	return r
}

// actionPaths are the form targets the server handles. The route table must
// declare each of them; the guard denies undeclared paths.
var actionPaths = []string{"/logout", "/session/renew", "/tenant"}

func (s *server) actions() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"/logout":        s.logout,
		"/session/renew": s.renew,
		"/tenant":        s.switchTenant,
	}
}

func (s *server) loginForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, loginView(r.URL.Query().Get("from"), ""))
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	from := r.PostForm.Get("from")
	email := r.PostForm.Get("email")

	ip, _ := clientip.FromContext(r.Context())
	key := ratelimit.Key(ip, identity.NormalizeEmail(email))
	if wait, limited := s.throttled(r.Context(), key); limited {
		w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		s.render(w, r, http.StatusTooManyRequests, loginView(from, "Too many sign-in attempts. Try again later."))
		return
	}

	_, sess, err := s.registry.SignIn(r.Context(), email, r.PostForm.Get("password"))
	if err != nil {
		level := slog.LevelInfo
		if !errors.Is(err, identity.ErrInvalidCredentials) && !errors.Is(err, access.ErrTenantBinding) {
			level = slog.LevelError
		}
		if errors.Is(err, access.ErrRegistryFull) {
			w.Header().Set("Retry-After", "30")
			s.render(w, r, http.StatusServiceUnavailable, loginView(from, "Too many active sessions. Try again later."))
			return
		}
		s.log.Log(r.Context(), level, "sign-in failed", logger.Component("cli"), logger.Error(err))
		// One message for every failure so the form never reveals which
		// accounts or tenants exist.
		s.render(w, r, http.StatusUnauthorized, loginView(from, "Invalid email or password."))
		return
	}

	if s.throttle != nil {
		if err := s.throttle.Reset(r.Context(), key); err != nil {
			s.log.WarnContext(r.Context(), "failed to reset sign-in throttle", logger.Component("cli"), logger.Error(err))
		}
	}
	s.registry.SetCookie(w, sess)
	http.Redirect(w, r, s.guard.ReturnTarget(from, sess.User.Role), http.StatusSeeOther)
}

// throttled records a sign-in attempt. A failing store lets the attempt
// through; the generic failure message still applies.
func (s *server) throttled(ctx context.Context, key string) (time.Duration, bool) {
	if s.throttle == nil {
		return 0, false
	}
	res, err := s.throttle.Allow(ctx, key)
	if err != nil {
		s.log.ErrorContext(ctx, "sign-in throttle unavailable", logger.Component("cli"), logger.Error(err))
		return 0, false
	}
	if !res.Allowed {
		s.log.WarnContext(ctx, "sign-in throttled", logger.Component("cli"))
		return res.RetryAfter(time.Now()), true
	}
	return 0, false
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.SignOut(r.Context(), s.registry.Token(r)); err != nil && !errors.Is(err, access.ErrNoSession) {
		s.log.ErrorContext(r.Context(), "sign-out incomplete", logger.Component("cli"), logger.Error(err))
	}
	s.registry.ClearCookie(w)
	http.Redirect(w, r, s.guard.Paths().Login, http.StatusSeeOther)
}

// renew swaps the session cookie for a freshly issued token. The old token
// stops working immediately.
func (s *server) renew(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Renew(r.Context(), s.registry.Token(r))
	if err != nil {
		if !errors.Is(err, access.ErrNoSession) {
			s.log.ErrorContext(r.Context(), "session renewal failed", logger.Component("cli"), logger.Error(err))
		}
		s.registry.ClearCookie(w)
		http.Redirect(w, r, s.guard.Paths().Login, http.StatusSeeOther)
		return
	}
	s.registry.SetCookie(w, sess)
	from := r.URL.Query().Get("from")
	http.Redirect(w, r, s.guard.ReturnTarget(from, sess.User.Role), http.StatusSeeOther)
}

func (s *server) switchTenant(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	c := s.registry.Controller(r)
	if c == nil {
		http.Redirect(w, r, s.guard.Paths().Login, http.StatusSeeOther)
		return
	}
	id, err := uuid.Parse(r.PostForm.Get("tenant_id"))
	if err != nil {
		http.Redirect(w, r, s.guard.Paths().Unauthorized, http.StatusSeeOther)
		return
	}
	if _, err := c.SwitchTenant(r.Context(), id); err != nil {
		if !errors.Is(err, tenant.ErrSwitchUnauthorized) && !tenant.IsSuperseded(err) {
			s.log.ErrorContext(r.Context(), "tenant switch failed", logger.Component("cli"), logger.Error(err))
		}
		http.Redirect(w, r, s.guard.Paths().Unauthorized, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, s.guard.Paths().Dashboard, http.StatusSeeOther)
}

// page renders any guarded route. The guard already decided; the page only
// shows who is signed in, the active tenant and, with a database, the row
// count of the table behind the path.
func (s *server) page(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())
	current, _ := tenant.FromContext(r.Context())

	p := pageParams{Path: r.URL.Path, User: user, Tenant: current, Count: -1}
	if user != nil {
		p.Nav = s.nav(user.Role)
	}
	c := s.registry.Controller(r)
	if c != nil && user.IsDev() {
		p.Available = c.Snapshot().Tenant.Available()
	}
	table := strings.Trim(r.URL.Path, "/")
	if current != nil && c != nil && s.pool != nil && user != nil && s.perms.HasModuleAccess(user.Role, rbac.Module(table)) {
		if _, ok := s.rules.Rule(table); ok {
			n, err := s.count(r.Context(), c, user, table)
			if err != nil {
				s.log.ErrorContext(r.Context(), "row count failed", logger.Component("cli"), logger.Table(table), logger.Error(err))
			} else {
				p.Count = n
			}
		}
	}
	s.render(w, r, http.StatusOK, pageView(p))
}

// nav lists the module links a role may follow. Modules without a declared
// page are left out.
func (s *server) nav(role rbac.Role) []navLink {
	var links []navLink
	for _, m := range s.perms.ModulesFor(role) {
		path := modulePath(m)
		if req, ok := s.guard.Routes().Lookup(path); !ok || !req.Serves(http.MethodGet) {
			continue
		}
		links = append(links, navLink{Module: m, Path: path})
	}
	return links
}

func modulePath(m rbac.Module) string {
	switch m {
	case rbac.ModuleCompanies, rbac.ModuleSubscriptions, rbac.ModuleUsers:
		return "/admin/" + string(m)
	default:
		return "/" + string(m)
	}
}

// count returns the row count of table in the active tenant, through the
// session's tenant-scoped cache.
func (s *server) count(ctx context.Context, c *access.Controller, user *identity.User, table string) (int, error) {
	gen := c.Tenants().Snapshot().Generation()
	key := "count:" + table

	for _, inv := range c.Caches() {
		switch cache := inv.(type) {
		case *tenant.ScopedCache[int]:
			if n, ok := cache.Get(key); ok {
				return n, nil
			}
		case *tenant.RedisCache:
			var n int
			if ok, err := cache.Get(ctx, key, &n); err == nil && ok {
				return n, nil
			}
		}
	}

	p, err := policy.PrincipalFromUser(user)
	if err != nil {
		return 0, err
	}
	// A dev has no bound tenant; scope the query to the active one.
	if current, ok := tenant.IDFromContext(ctx); ok && p.IsDev() {
		p.TenantID = &current
	}
	var n int
	err = pg.WithTenantConnection(ctx, s.pool, s.pgCfg, s.scope(p, table), func(ctx context.Context, q pg.Querier) error {
		sql := "SELECT count(*) FROM " + pgx.Identifier{table}.Sanitize()
		if p.IsDev() && p.TenantID != nil {
			if rule, _ := s.rules.Rule(table); rule.Scope == policy.ScopeTenant {
				return q.QueryRow(ctx, sql+" WHERE company_id = $1", *p.TenantID).Scan(&n)
			}
		}
		return q.QueryRow(ctx, sql).Scan(&n)
	})
	if err != nil {
		return 0, err
	}

	for _, inv := range c.Caches() {
		var err error
		switch cache := inv.(type) {
		case *tenant.ScopedCache[int]:
			err = cache.Put(gen, key, n)
		case *tenant.RedisCache:
			err = cache.Set(ctx, gen, key, n)
		}
		// A switch that happened meanwhile makes the result stale; it is
		// still correct for this response.
		if err != nil && !errors.Is(err, tenant.ErrStaleGeneration) {
			s.log.WarnContext(ctx, "cache write failed", logger.Component("cli"), logger.Error(err))
		}
	}
	return n, nil
}

// scope is the database principal for p. Column permissions are resolved
// against the role defaults so the secure views see them.
func (s *server) scope(p policy.Principal, table string) pg.Scope {
	sc := pg.Scope{TenantID: p.TenantString(), Role: p.Role.String()}
	if p.IsDev() {
		sc.TenantID = ""
	}
	rule, _ := s.rules.Rule(table)
	for _, m := range rule.Masks {
		if s.perms.HasActionPermission(p.Role, p.Permissions, m.Permission) {
			sc.Permissions = append(sc.Permissions, m.Permission.String())
		}
	}
	return sc
}

// readSource maps tables to the relation read through. Masked tables are
// read from their secure views.
var readSource = map[string]string{"employees": "employees_secure"}

func (s *server) listRows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	table := chi.URLParam(r, "table")
	p, ok := policy.PrincipalFromContext(ctx)
	if !ok {
		policy.WriteError(w, policy.ErrNoPrincipal)
		return
	}
	if err := s.enforcer.CanRead(ctx, p, table); err != nil {
		policy.WriteError(w, err)
		return
	}

	var rows []policy.Row
	if s.pool != nil {
		source := table
		if v, ok := readSource[table]; ok {
			source = v
		}
		err := pg.WithTenantConnection(ctx, s.pool, s.pgCfg, s.scope(p, table), func(ctx context.Context, q pg.Querier) error {
			res, err := q.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", pgx.Identifier{source}.Sanitize(), maxRows))
			if err != nil {
				return err
			}
			maps, err := pg.CollectMaps(res)
			if err != nil {
				return err
			}
			rows = make([]policy.Row, len(maps))
			for i, m := range maps {
				rows[i] = policy.Row(m)
			}
			return nil
		})
		if err != nil {
			policy.WriteError(w, err)
			return
		}
	}

	// Row-level security already filtered; the enforcer masks and drops
	// anything that should not have come back.
	visible, err := s.enforcer.Filter(ctx, p, table, rows)
	if err != nil {
		policy.WriteError(w, err)
		return
	}
	for _, row := range visible {
		normalizeRow(row)
	}
	policy.WriteJSON(w, http.StatusOK, map[string]any{"rows": visible})
}

func (s *server) insertRow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	table := chi.URLParam(r, "table")
	p, ok := policy.PrincipalFromContext(ctx)
	if !ok {
		policy.WriteError(w, policy.ErrNoPrincipal)
		return
	}

	var row policy.Row
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&row); err != nil || len(row) == 0 {
		policy.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid row"})
		return
	}
	if err := s.enforcer.CheckWrite(ctx, p, table, policy.OpInsert, row); err != nil {
		policy.WriteError(w, err)
		return
	}
	if s.pool == nil {
		policy.WriteJSON(w, http.StatusAccepted, map[string]any{"row": row})
		return
	}

	cols := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	marks := make([]string, 0, len(row))
	for col, v := range row {
		cols = append(cols, pgx.Identifier{col}.Sanitize())
		args = append(args, v)
		marks = append(marks, fmt.Sprintf("$%d", len(args)))
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id::text",
		pgx.Identifier{table}.Sanitize(), strings.Join(cols, ", "), strings.Join(marks, ", "))

	var id string
	err := pg.WithTenantConnection(ctx, s.pool, s.pgCfg, s.scope(p, table), func(ctx context.Context, q pg.Querier) error {
		return q.QueryRow(ctx, sql, args...).Scan(&id)
	})
	if err != nil {
		policy.WriteError(w, err)
		return
	}
	policy.WriteJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// normalizeRow turns raw uuid bytes into their string form for JSON.
func normalizeRow(row policy.Row) {
	for k, v := range row {
		if b, ok := v.([16]byte); ok {
			row[k] = uuid.UUID(b).String()
		}
	}
}

func (s *server) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		s.log.ErrorContext(r.Context(), "failed to render view", logger.Component("cli"), logger.Error(err))
	}
}
