package policy

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/bizpos/tenantguard/pkg/rbac"
)

// Scope decides who may see a table's rows.
type Scope string

const (
	// ScopeTenant rows carry company_id and are visible to their tenant and
	// to dev users.
	ScopeTenant Scope = "tenant"
	// ScopeSystem tables are visible to dev users only.
	ScopeSystem Scope = "system"
)

// Operation is a storage operation.
type Operation string

const (
	OpRead   Operation = "read"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OpRead, OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

func (o Operation) IsWrite() bool { return o.Valid() && o != OpRead }

// Operations returns every operation.
func Operations() []Operation { return []Operation{OpRead, OpInsert, OpUpdate, OpDelete} }

// ColumnMask nulls Column for principals lacking Permission.
type ColumnMask struct {
	Column     string          `yaml:"column" json:"column"`
	Permission rbac.Permission `yaml:"permission" json:"permission"`
}

// TableRule is the access rule of one table.
type TableRule struct {
	Table string       `yaml:"table" json:"table"`
	Scope Scope        `yaml:"scope" json:"scope"`
	Masks []ColumnMask `yaml:"masks,omitempty" json:"masks,omitempty"`
}

func (r TableRule) Validate() error {
	var errs []error
	if r.Table == "" {
		errs = append(errs, errors.New("table name is empty"))
	}
	if r.Scope != ScopeTenant && r.Scope != ScopeSystem {
		errs = append(errs, fmt.Errorf("%s: unknown scope %q", r.Table, r.Scope))
	}
	for _, m := range r.Masks {
		if m.Column == "" || m.Column == CompanyColumn {
			errs = append(errs, fmt.Errorf("%s: column %q cannot be masked", r.Table, m.Column))
		}
		if !m.Permission.WellFormed() {
			errs = append(errs, fmt.Errorf("%s: %w: %q", r.Table, rbac.ErrMalformedPermission, m.Permission))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidRule}, errs...)...)
	}
	return nil
}

// RuleSet is an immutable table name to rule mapping. Tables without a rule
// are denied to everyone.
type RuleSet struct {
	rules map[string]TableRule
}

func NewRuleSet(rules ...TableRule) (*RuleSet, error) {
	s := &RuleSet{rules: make(map[string]TableRule, len(rules))}
	var errs []error
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := s.rules[r.Table]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate table %s", ErrInvalidRule, r.Table))
			continue
		}
		r.Masks = slices.Clone(r.Masks)
		s.rules[r.Table] = r
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

func MustRuleSet(rules ...TableRule) *RuleSet {
	s, err := NewRuleSet(rules...)
	if err != nil {
		panic(err)
	}
	return s
}

// Rule returns a copy of the rule for table.
func (s *RuleSet) Rule(table string) (TableRule, bool) {
	if s == nil {
		return TableRule{}, false
	}
	r, ok := s.rules[table]
	r.Masks = slices.Clone(r.Masks)
	return r, ok
}

// Tables returns the table names in sorted order.
func (s *RuleSet) Tables() []string {
	if s == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(s.rules))
}

// DefaultRuleSet covers the tenant business tables and the system tables.
func DefaultRuleSet() *RuleSet {
	tenant := func(name string, masks ...ColumnMask) TableRule {
		return TableRule{Table: name, Scope: ScopeTenant, Masks: masks}
	}
	return MustRuleSet(
		tenant("products"),
		tenant("customers"),
		tenant("inventory"),
		tenant("sales"),
		tenant("invoices"),
		tenant("suppliers"),
		tenant("promotions"),
		tenant("employees",
			ColumnMask{Column: "salary", Permission: "employees.sensitive"},
			ColumnMask{Column: "email", Permission: "employees.sensitive"},
		),
		TableRule{Table: "subscription_plans", Scope: ScopeSystem},
		TableRule{Table: "companies", Scope: ScopeSystem},
	)
}
