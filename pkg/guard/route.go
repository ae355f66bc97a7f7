package guard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/bizpos/tenantguard/pkg/rbac"
)

// RouteRequirement declares who may open a path.
//
// Public routes render for everyone. RedirectAuthenticated routes (the login
// page) render for anonymous visitors and send signed-in users to their role
// home. CompanyParam names a URL parameter whose value becomes
// RequiredCompanyID for the matched request.
type RouteRequirement struct {
	Path                  string            `yaml:"path" json:"path"`
	Methods               []string          `yaml:"methods,omitempty" json:"methods,omitempty"`
	AllowedRoles          []rbac.Role       `yaml:"allowed_roles,omitempty" json:"allowed_roles,omitempty"`
	RequiredPermissions   []rbac.Permission `yaml:"required_permissions,omitempty" json:"required_permissions,omitempty"`
	RequiredCompanyID     *uuid.UUID        `yaml:"required_company_id,omitempty" json:"required_company_id,omitempty"`
	CompanyParam          string            `yaml:"company_param,omitempty" json:"company_param,omitempty"`
	RequireCompany        bool              `yaml:"require_company,omitempty" json:"require_company,omitempty"`
	RedirectAuthenticated bool              `yaml:"redirect_authenticated,omitempty" json:"redirect_authenticated,omitempty"`
	Public                bool              `yaml:"public,omitempty" json:"public,omitempty"`

	undeclared bool
}

// Declared reports whether the requirement came from a route declaration.
// Lookup returns undeclared requirements for paths no route matches.
func (r RouteRequirement) Declared() bool { return !r.undeclared }

// Serves reports whether the route answers method.
func (r RouteRequirement) Serves(method string) bool {
	if len(r.Methods) == 0 {
		return method == http.MethodGet
	}
	return slices.Contains(r.Methods, method)
}

var knownMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete,
}

// Validate checks the declaration for unknown roles, malformed permissions
// and contradictory flags.
func (r RouteRequirement) Validate() error {
	var errs []error
	if !strings.HasPrefix(r.Path, "/") {
		errs = append(errs, fmt.Errorf("path %q must start with /", r.Path))
	}
	for _, m := range r.Methods {
		if !slices.Contains(knownMethods, m) {
			errs = append(errs, fmt.Errorf("%s: unknown method %q", r.Path, m))
		}
	}
	for _, role := range r.AllowedRoles {
		if !role.Valid() {
			errs = append(errs, fmt.Errorf("%s: %w: %q", r.Path, rbac.ErrInvalidRole, role))
		}
	}
	for _, p := range r.RequiredPermissions {
		if !p.WellFormed() || strings.Contains(string(p), string(rbac.Wildcard)) {
			errs = append(errs, fmt.Errorf("%s: %w: %q", r.Path, rbac.ErrMalformedPermission, p))
		}
	}
	restricted := len(r.AllowedRoles) > 0 || len(r.RequiredPermissions) > 0 ||
		r.RequiredCompanyID != nil || r.CompanyParam != "" || r.RequireCompany
	if (r.Public || r.RedirectAuthenticated) && restricted {
		errs = append(errs, fmt.Errorf("%s: public routes cannot carry requirements", r.Path))
	}
	if r.CompanyParam != "" && !strings.Contains(r.Path, "{"+r.CompanyParam) {
		errs = append(errs, fmt.Errorf("%s: company param %q not in path", r.Path, r.CompanyParam))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidRoute}, errs...)...)
	}
	return nil
}

func (r RouteRequirement) clone() RouteRequirement {
	r.Methods = slices.Clone(r.Methods)
	r.AllowedRoles = slices.Clone(r.AllowedRoles)
	r.RequiredPermissions = slices.Clone(r.RequiredPermissions)
	if r.RequiredCompanyID != nil {
		id := *r.RequiredCompanyID
		r.RequiredCompanyID = &id
	}
	return r
}

// RouteTable is an immutable set of route declarations. Paths may use chi
// patterns such as /companies/{companyID}/dashboard.
type RouteTable struct {
	routes []RouteRequirement
	byPath map[string]int
	mux    *chi.Mux
}

// NewRouteTable validates routes and freezes them.
func NewRouteTable(routes ...RouteRequirement) (*RouteTable, error) {
	t := &RouteTable{
		routes: make([]RouteRequirement, 0, len(routes)),
		byPath: make(map[string]int, len(routes)),
		mux:    chi.NewMux(),
	}
	noop := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	var errs []error
	for _, r := range routes {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := t.byPath[r.Path]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateRoute, r.Path))
			continue
		}
		t.byPath[r.Path] = len(t.routes)
		t.routes = append(t.routes, r.clone())
		if strings.Contains(r.Path, "{") || strings.Contains(r.Path, "*") {
			t.mux.Handle(r.Path, noop)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

// MustRouteTable is NewRouteTable that panics on error.
func MustRouteTable(routes ...RouteRequirement) *RouteTable {
	t, err := NewRouteTable(routes...)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the requirement for path. Exact declarations win over
// patterns. Undeclared paths return ok=false and a requirement the guard
// denies to every signed-in user. A CompanyParam value that is not a valid
// id resolves to uuid.Nil, which matches no tenant.
func (t *RouteTable) Lookup(path string) (RouteRequirement, bool) {
	undeclared := RouteRequirement{Path: path, undeclared: true}
	if t == nil {
		return undeclared, false
	}
	if i, ok := t.byPath[path]; ok {
		return t.routes[i].clone(), true
	}

	rctx := chi.NewRouteContext()
	if !t.mux.Match(rctx, http.MethodGet, path) {
		return undeclared, false
	}
	i, ok := t.byPath[rctx.RoutePattern()]
	if !ok {
		return undeclared, false
	}

	req := t.routes[i].clone()
	if req.CompanyParam != "" {
		id, err := uuid.Parse(rctx.URLParam(req.CompanyParam))
		if err != nil {
			id = uuid.Nil
		}
		req.RequiredCompanyID = &id
	}
	return req, true
}

// Routes returns a copy of every declaration in load order.
func (t *RouteTable) Routes() []RouteRequirement {
	out := make([]RouteRequirement, len(t.routes))
	for i, r := range t.routes {
		out[i] = r.clone()
	}
	return out
}

type routeFile struct {
	Routes []RouteRequirement `yaml:"routes"`
}

// ParseRouteTable reads a YAML document of the form
//
//	routes:
//	  - path: /products
//	    require_company: true
//	    required_permissions: [products.read]
func ParseRouteTable(r io.Reader) (*RouteTable, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f routeFile
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Join(ErrLoadRoutes, err)
	}
	t, err := NewRouteTable(f.Routes...)
	if err != nil {
		return nil, errors.Join(ErrLoadRoutes, err)
	}
	return t, nil
}

// LoadRouteTable parses the YAML route file at path.
func LoadRouteTable(_ context.Context, path string) (*RouteTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrLoadRoutes, err)
	}
	defer f.Close()
	return ParseRouteTable(f)
}

// DefaultRouteTable declares the back-office routes.
func DefaultRouteTable() *RouteTable {
	dev := []rbac.Role{rbac.RoleDev}
	owners := []rbac.Role{rbac.RoleDev, rbac.RoleOwner}
	perms := func(p ...rbac.Permission) []rbac.Permission { return p }
	post := []string{http.MethodPost}

	return MustRouteTable(
		RouteRequirement{Path: "/login", RedirectAuthenticated: true},
		RouteRequirement{Path: "/unauthorized", Public: true},
		RouteRequirement{Path: "/healthz", Public: true},

		RouteRequirement{Path: "/logout", Methods: post},
		RouteRequirement{Path: "/session/renew", Methods: post},
		RouteRequirement{Path: "/tenant", Methods: post, AllowedRoles: dev},

		RouteRequirement{Path: "/admin", AllowedRoles: dev},
		RouteRequirement{Path: "/admin/companies", AllowedRoles: dev},
		RouteRequirement{Path: "/admin/subscriptions", AllowedRoles: dev},
		RouteRequirement{Path: "/admin/users", AllowedRoles: dev},

		RouteRequirement{Path: "/dashboard", RequireCompany: true, RequiredPermissions: perms("dashboard.read")},
		RouteRequirement{Path: "/products", RequireCompany: true, RequiredPermissions: perms("products.read")},
		RouteRequirement{Path: "/products/new", RequireCompany: true, RequiredPermissions: perms("products.write")},
		RouteRequirement{Path: "/customers", RequireCompany: true, RequiredPermissions: perms("customers.read")},
		RouteRequirement{Path: "/inventory", RequireCompany: true, RequiredPermissions: perms("inventory.read")},
		RouteRequirement{Path: "/pos", RequireCompany: true, RequiredPermissions: perms("pos.use")},
		RouteRequirement{Path: "/sales", RequireCompany: true, RequiredPermissions: perms("sales.read")},
		RouteRequirement{Path: "/invoices", AllowedRoles: owners, RequireCompany: true, RequiredPermissions: perms("invoices.read")},
		RouteRequirement{Path: "/suppliers", AllowedRoles: owners, RequireCompany: true, RequiredPermissions: perms("suppliers.read")},
		RouteRequirement{Path: "/promotions", AllowedRoles: owners, RequireCompany: true, RequiredPermissions: perms("promotions.read")},
		RouteRequirement{Path: "/employees", AllowedRoles: owners, RequireCompany: true, RequiredPermissions: perms("employees.read")},
		RouteRequirement{Path: "/reports", AllowedRoles: owners, RequireCompany: true, RequiredPermissions: perms("reports.read")},
		RouteRequirement{Path: "/settings", AllowedRoles: owners, RequireCompany: true, RequiredPermissions: perms("settings.read")},

		RouteRequirement{Path: "/companies/{companyID}/dashboard", CompanyParam: "companyID", RequireCompany: true, RequiredPermissions: perms("dashboard.read")},
	)
}
