package rbac

import (
	"slices"
	"strings"
)

// Role is the coarse-grained classification of a user. The set is closed:
// every value outside Roles() is invalid and evaluates to deny.
type Role string

const (
	RoleDev   Role = "dev"
	RoleOwner Role = "owner"
	RoleStaff Role = "staff"
)

var allRoles = []Role{RoleDev, RoleOwner, RoleStaff}

// Roles returns every known role. Capability tables must cover all of them.
func Roles() []Role {
	return slices.Clone(allRoles)
}

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RoleDev, RoleOwner, RoleStaff:
		return true
	}
	return false
}

// IsTenantBound reports whether users of this role are bound to exactly one tenant.
func (r Role) IsTenantBound() bool {
	return r == RoleOwner || r == RoleStaff
}

func (r Role) String() string { return string(r) }

// ParseRole converts a raw string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(s))
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

// Module identifies a functional area of the application.
type Module string

const (
	ModuleDashboard     Module = "dashboard"
	ModuleProducts      Module = "products"
	ModuleCustomers     Module = "customers"
	ModuleInventory     Module = "inventory"
	ModulePOS           Module = "pos"
	ModuleSales         Module = "sales"
	ModuleInvoices      Module = "invoices"
	ModuleSuppliers     Module = "suppliers"
	ModulePromotions    Module = "promotions"
	ModuleEmployees     Module = "employees"
	ModuleReports       Module = "reports"
	ModuleSettings      Module = "settings"
	ModuleCompanies     Module = "companies"
	ModuleSubscriptions Module = "subscriptions"
	ModuleUsers         Module = "users"
)

var allModules = []Module{
	ModuleDashboard, ModuleProducts, ModuleCustomers, ModuleInventory,
	ModulePOS, ModuleSales, ModuleInvoices, ModuleSuppliers, ModulePromotions,
	ModuleEmployees, ModuleReports, ModuleSettings, ModuleCompanies,
	ModuleSubscriptions, ModuleUsers,
}

// Modules returns every known module.
func Modules() []Module {
	return slices.Clone(allModules)
}

func (m Module) Valid() bool {
	return slices.Contains(allModules, m)
}

// Permission is a "<module>.<action>" capability string. It is treated as an
// opaque identifier apart from the split at the first dot.
type Permission string

const (
	// Wildcard grants every permission. Only valid inside a capability table.
	Wildcard Permission = "*"

	permissionDelimiter = "."
)

// Module returns the part before the first dot.
func (p Permission) Module() Module {
	m, _, _ := strings.Cut(string(p), permissionDelimiter)
	return Module(m)
}

// Action returns the part after the first dot.
func (p Permission) Action() string {
	_, a, _ := strings.Cut(string(p), permissionDelimiter)
	return a
}

// WellFormed reports whether p has non-empty module and action parts.
func (p Permission) WellFormed() bool {
	m, a, ok := strings.Cut(string(p), permissionDelimiter)
	return ok && m != "" && a != "" && !strings.ContainsAny(string(p), " \t\n")
}

func (p Permission) String() string { return string(p) }

// ParsePermissions converts raw strings into permissions, dropping blanks.
func ParsePermissions(raw []string) []Permission {
	if len(raw) == 0 {
		return nil
	}
	out := make([]Permission, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, Permission(s))
		}
	}
	return out
}
