package policy

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/bizpos/tenantguard/pkg/rbac"
)

// Input is one access question. CompanyID is the row's company; nil asks
// whether the table may be queried at all.
type Input struct {
	Principal Principal
	Table     string
	Operation Operation
	CompanyID *uuid.UUID
}

// Result answers an Input. Masked lists the columns to null out and is only
// meaningful when Allow is true.
type Result struct {
	Allow  bool     `json:"allow"`
	Masked []string `json:"masked"`
}

// Engine evaluates access questions. RuleEngine and RegoEngine implement the
// same rules and must agree on every input.
type Engine interface {
	Decide(ctx context.Context, in Input) (Result, error)
}

// RuleEngine evaluates the rule set in Go.
type RuleEngine struct {
	rules *RuleSet
	perms *rbac.Evaluator
}

func NewRuleEngine(rules *RuleSet, perms *rbac.Evaluator) *RuleEngine {
	return &RuleEngine{rules: rules, perms: perms}
}

func (e *RuleEngine) Decide(_ context.Context, in Input) (Result, error) {
	rule, ok := e.rules.Rule(in.Table)
	p := in.Principal
	if !ok || !in.Operation.Valid() || !e.perms.HasAllPermissions(p.Role, nil, nil) {
		return Result{}, nil
	}

	res := Result{Allow: e.allow(rule, in), Masked: []string{}}
	for _, m := range rule.Masks {
		if !e.perms.HasActionPermission(p.Role, p.Permissions, m.Permission) {
			res.Masked = append(res.Masked, m.Column)
		}
	}
	slices.Sort(res.Masked)
	res.Masked = slices.Compact(res.Masked)
	return res, nil
}

func (e *RuleEngine) allow(rule TableRule, in Input) bool {
	p := in.Principal
	dev := p.IsDev()
	bound := !dev && p.TenantID != nil
	sameCompany := bound && in.CompanyID != nil && *in.CompanyID == *p.TenantID

	switch rule.Scope {
	case ScopeSystem:
		return dev
	case ScopeTenant:
		if in.Operation == OpRead {
			return dev || sameCompany || (bound && in.CompanyID == nil)
		}
		// Writes always name their company.
		return (dev && in.CompanyID != nil) || sameCompany
	}
	return false
}
