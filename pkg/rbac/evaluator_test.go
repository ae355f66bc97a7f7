package rbac_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizpos/tenantguard/pkg/rbac"
)

func newEvaluator(t *testing.T) *rbac.Evaluator {
	t.Helper()
	eval, err := rbac.NewEvaluator(context.Background(), rbac.NewStaticSource(rbac.DefaultCapabilityTable()))
	require.NoError(t, err)
	return eval
}

func TestEvaluator_HasModuleAccess(t *testing.T) {
	t.Parallel()
	eval := newEvaluator(t)

	tests := []struct {
		name   string
		role   rbac.Role
		module rbac.Module
		want   bool
	}{
		{"dev opens companies", rbac.RoleDev, rbac.ModuleCompanies, true},
		{"dev opens products", rbac.RoleDev, rbac.ModuleProducts, true},
		{"owner opens employees", rbac.RoleOwner, rbac.ModuleEmployees, true},
		{"owner cannot open companies", rbac.RoleOwner, rbac.ModuleCompanies, false},
		{"staff opens pos", rbac.RoleStaff, rbac.ModulePOS, true},
		{"staff cannot open reports", rbac.RoleStaff, rbac.ModuleReports, false},
		{"unknown role denied", rbac.Role("admin"), rbac.ModuleDashboard, false},
		{"empty role denied", rbac.Role(""), rbac.ModuleDashboard, false},
		{"unknown module denied", rbac.RoleDev, rbac.Module("payroll"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, eval.HasModuleAccess(tt.role, tt.module))
		})
	}
}

func TestEvaluator_HasActionPermission(t *testing.T) {
	t.Parallel()
	eval := newEvaluator(t)

	tests := []struct {
		name    string
		role    rbac.Role
		granted []rbac.Permission
		perm    rbac.Permission
		want    bool
	}{
		{"role default", rbac.RoleStaff, nil, "products.read", true},
		{"namespace wildcard", rbac.RoleOwner, nil, "products.write", true},
		{"global wildcard", rbac.RoleDev, nil, "subscriptions.write", true},
		{"not in defaults", rbac.RoleStaff, nil, "products.write", false},
		{"explicit grant adds", rbac.RoleStaff, []rbac.Permission{"products.write"}, "products.write", true},
		{"grant for other permission", rbac.RoleStaff, []rbac.Permission{"products.delete"}, "products.write", false},
		{"grants are exact", rbac.RoleStaff, []rbac.Permission{"products.*"}, "products.write", false},
		{"grant cannot rescue unknown role", rbac.Role("root"), []rbac.Permission{"products.write"}, "products.write", false},
		{"empty permission denied", rbac.RoleDev, nil, "", false},
		{"malformed permission denied by wildcard", rbac.RoleDev, nil, "products", false},
		{"owner lacks companies", rbac.RoleOwner, nil, "companies.read", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, eval.HasActionPermission(tt.role, tt.granted, tt.perm))
		})
	}
}

func TestEvaluator_HasAllPermissions(t *testing.T) {
	t.Parallel()
	eval := newEvaluator(t)

	assert.True(t, eval.HasAllPermissions(rbac.RoleStaff, nil, []rbac.Permission{"products.read", "sales.write"}))
	assert.False(t, eval.HasAllPermissions(rbac.RoleStaff, nil, []rbac.Permission{"products.read", "products.write"}))
	assert.True(t, eval.HasAllPermissions(rbac.RoleStaff, []rbac.Permission{"products.write"}, []rbac.Permission{"products.read", "products.write"}))
	assert.True(t, eval.HasAllPermissions(rbac.RoleOwner, nil, nil))
	assert.False(t, eval.HasAllPermissions(rbac.Role("ghost"), nil, nil))
}

func TestEvaluator_Can(t *testing.T) {
	t.Parallel()
	eval := newEvaluator(t)

	require.NoError(t, eval.Can(rbac.RoleOwner, nil, "invoices.write"))
	assert.ErrorIs(t, eval.Can(rbac.RoleStaff, nil, "invoices.write"), rbac.ErrInsufficientPermissions)
	assert.ErrorIs(t, eval.Can(rbac.Role("x"), nil, "invoices.write"), rbac.ErrInvalidRole)

	err := eval.CanAll(rbac.RoleStaff, nil, "products.read", "products.write", "products.delete")
	require.Error(t, err)
	assert.ErrorIs(t, err, rbac.ErrInsufficientPermissions)

	var missing *rbac.MissingPermissionError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, rbac.Permission("products.write"), missing.Permission)

	assert.ErrorIs(t, eval.CanAccessModule(rbac.RoleStaff, rbac.ModuleSettings), rbac.ErrModuleAccessDenied)
	assert.NoError(t, eval.CanAccessModule(rbac.RoleOwner, rbac.ModuleSettings))
}

func TestEvaluator_ModulesFor(t *testing.T) {
	t.Parallel()
	eval := newEvaluator(t)

	assert.Equal(t, []rbac.Module{
		rbac.ModuleDashboard, rbac.ModuleProducts, rbac.ModuleCustomers,
		rbac.ModuleInventory, rbac.ModulePOS, rbac.ModuleSales,
	}, eval.ModulesFor(rbac.RoleStaff))
	assert.Equal(t, rbac.Modules(), eval.ModulesFor(rbac.RoleDev))
	assert.Nil(t, eval.ModulesFor(rbac.Role("nope")))
}

func TestEvaluator_NilIsFailClosed(t *testing.T) {
	t.Parallel()
	var eval *rbac.Evaluator

	assert.NotPanics(t, func() {
		assert.False(t, eval.HasModuleAccess(rbac.RoleDev, rbac.ModuleDashboard))
		assert.False(t, eval.HasActionPermission(rbac.RoleDev, nil, "products.read"))
		assert.False(t, eval.HasAllPermissions(rbac.RoleDev, nil, nil))
		assert.ErrorIs(t, eval.Can(rbac.RoleDev, nil, "products.read"), rbac.ErrInvalidRole)
	})
}

func TestNewEvaluator_RejectsInvalidTable(t *testing.T) {
	t.Parallel()

	table := rbac.DefaultCapabilityTable()
	delete(table, rbac.RoleStaff)

	_, err := rbac.New(table)
	assert.ErrorIs(t, err, rbac.ErrIncompleteTable)
	assert.Panics(t, func() { rbac.MustNew(table) })

	_, err = rbac.NewEvaluator(context.Background(), nil)
	assert.ErrorIs(t, err, rbac.ErrLoadTable)
}

// FuzzUnknownRoleDeniesEverything asserts the fail-closed property over
// arbitrary role values.
func FuzzUnknownRoleDeniesEverything(f *testing.F) {
	for _, seed := range []string{"", "admin", "Owner", "dev ", "staff\x00", "*", "owner.staff"} {
		f.Add(seed)
	}

	eval := rbac.MustNew(rbac.DefaultCapabilityTable())

	f.Fuzz(func(t *testing.T, raw string) {
		role := rbac.Role(raw)
		if role.Valid() {
			t.Skip()
		}

		for _, m := range rbac.Modules() {
			if eval.HasModuleAccess(role, m) {
				t.Fatalf("role %q granted module %q", raw, m)
			}
		}
		grants := []rbac.Permission{"products.read", rbac.Wildcard}
		for _, p := range []rbac.Permission{"products.read", "dashboard.read", "*", ""} {
			if eval.HasActionPermission(role, grants, p) {
				t.Fatalf("role %q granted %q", raw, p)
			}
		}
		if eval.HasAllPermissions(role, grants, nil) {
			t.Fatalf("role %q passed empty requirement", raw)
		}
		if eval.ModulesFor(role) != nil {
			t.Fatalf("role %q has modules", raw)
		}
	})
}
