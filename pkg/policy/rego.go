package policy

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"

	"github.com/bizpos/tenantguard/pkg/rbac"
)

//go:embed policy.rego
var regoSource string

const regoQuery = "data.tenantguard.policy.decision"

// RegoEngine evaluates the embedded Rego policy. The rule set and the
// capability table are loaded as data, so the policy text stays generic.
type RegoEngine struct {
	query rego.PreparedEvalQuery
}

// NewRegoEngine compiles the policy against rules and caps.
func NewRegoEngine(ctx context.Context, rules *RuleSet, caps rbac.CapabilityTable) (*RegoEngine, error) {
	data, err := regoData(rules, caps)
	if err != nil {
		return nil, errors.Join(ErrEngine, err)
	}

	r := rego.New(
		rego.Query(regoQuery),
		rego.Module("policy.rego", regoSource),
		rego.Store(inmem.NewFromObject(data)),
		rego.StrictBuiltinErrors(true),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, errors.Join(ErrEngine, err)
	}
	return &RegoEngine{query: prepared}, nil
}

func (e *RegoEngine) Decide(ctx context.Context, in Input) (Result, error) {
	if e == nil {
		return Result{}, fmt.Errorf("%w: rego engine is nil", ErrEngine)
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(regoInput(in)))
	if err != nil {
		return Result{}, errors.Join(ErrEngine, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Result{}, fmt.Errorf("%w: empty policy result", ErrEngine)
	}

	payload, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return Result{}, errors.Join(ErrEngine, err)
	}
	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return Result{}, errors.Join(ErrEngine, err)
	}
	if res.Masked == nil {
		res.Masked = []string{}
	}
	return res, nil
}

func regoInput(in Input) map[string]any {
	perms := make([]string, len(in.Principal.Permissions))
	for i, p := range in.Principal.Permissions {
		perms[i] = p.String()
	}
	principal := map[string]any{
		"role":        in.Principal.Role.String(),
		"permissions": perms,
	}
	if in.Principal.TenantID != nil {
		principal["tenant_id"] = in.Principal.TenantID.String()
	}

	out := map[string]any{
		"principal": principal,
		"table":     in.Table,
		"operation": string(in.Operation),
	}
	if in.CompanyID != nil {
		out["company_id"] = in.CompanyID.String()
	}
	return out
}

// regoData converts rules and caps to plain JSON values for the store.
func regoData(rules *RuleSet, caps rbac.CapabilityTable) (map[string]any, error) {
	tables := make(map[string]TableRule)
	for _, name := range rules.Tables() {
		r, _ := rules.Rule(name)
		tables[name] = r
	}
	capabilities := make(map[string][]rbac.Permission, len(caps))
	for role, c := range caps {
		capabilities[role.String()] = c.Permissions
	}

	raw, err := json.Marshal(map[string]any{
		"tenantguard": map[string]any{
			"tables":       tables,
			"capabilities": capabilities,
		},
	})
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
