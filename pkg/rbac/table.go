package rbac

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Capabilities is the default access granted to a role.
type Capabilities struct {
	Modules     []Module     `yaml:"modules" json:"modules"`
	Permissions []Permission `yaml:"permissions" json:"permissions"`
}

// CapabilityTable maps every role to its default capabilities.
type CapabilityTable map[Role]Capabilities

// Validate checks that the table is exhaustive over Roles() and that every
// entry is well formed. A table failing validation must never be served.
func (t CapabilityTable) Validate() error {
	var errs []error

	for _, r := range allRoles {
		if _, ok := t[r]; !ok {
			errs = append(errs, fmt.Errorf("%w: missing role %q", ErrIncompleteTable, r))
		}
	}

	for _, r := range slices.Sorted(maps.Keys(t)) {
		if !r.Valid() {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidRole, r))
			continue
		}
		caps := t[r]
		for _, m := range caps.Modules {
			if !m.Valid() {
				errs = append(errs, fmt.Errorf("%w: role %q module %q", ErrUnknownModule, r, m))
			}
		}
		for _, p := range caps.Permissions {
			if p == Wildcard {
				continue
			}
			if !p.WellFormed() {
				errs = append(errs, fmt.Errorf("%w: role %q permission %q", ErrMalformedPermission, r, p))
				continue
			}
			if !p.Module().Valid() {
				errs = append(errs, fmt.Errorf("%w: role %q permission %q", ErrUnknownModule, r, p))
			}
		}
	}

	return errors.Join(errs...)
}

// Clone returns a deep copy of the table.
func (t CapabilityTable) Clone() CapabilityTable {
	if t == nil {
		return nil
	}
	out := make(CapabilityTable, len(t))
	for r, c := range t {
		out[r] = Capabilities{
			Modules:     slices.Clone(c.Modules),
			Permissions: slices.Clone(c.Permissions),
		}
	}
	return out
}

// DefaultCapabilityTable returns the built-in role defaults.
func DefaultCapabilityTable() CapabilityTable {
	business := []Module{
		ModuleDashboard, ModuleProducts, ModuleCustomers, ModuleInventory,
		ModulePOS, ModuleSales, ModuleInvoices, ModuleSuppliers,
		ModulePromotions, ModuleEmployees, ModuleReports, ModuleSettings,
	}

	return CapabilityTable{
		RoleDev: {
			Modules:     Modules(),
			Permissions: []Permission{Wildcard},
		},
		RoleOwner: {
			Modules: business,
			Permissions: []Permission{
				"dashboard.read",
				"products.*",
				"customers.*",
				"inventory.*",
				"pos.use",
				"sales.*",
				"invoices.*",
				"suppliers.*",
				"promotions.*",
				"employees.read",
				"employees.write",
				"employees.delete",
				"employees.sensitive",
				"reports.read",
				"settings.read",
				"settings.write",
			},
		},
		RoleStaff: {
			Modules: []Module{
				ModuleDashboard, ModuleProducts, ModuleCustomers,
				ModuleInventory, ModulePOS, ModuleSales,
			},
			Permissions: []Permission{
				"dashboard.read",
				"products.read",
				"customers.read",
				"customers.write",
				"inventory.read",
				"pos.use",
				"sales.read",
				"sales.write",
			},
		},
	}
}
