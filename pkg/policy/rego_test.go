package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizpos/tenantguard/pkg/policy"
	"github.com/bizpos/tenantguard/pkg/rbac"
)

func newRegoEngine(t *testing.T) *policy.RegoEngine {
	t.Helper()
	e, err := policy.NewRegoEngine(t.Context(), policy.DefaultRuleSet(), rbac.DefaultCapabilityTable())
	require.NoError(t, err)
	return e
}

func TestRegoEngine_MatchesRuleEngine(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("evaluates every input on both engines")
	}

	inputs := policy.Inputs(policy.DefaultRuleSet())
	require.NotEmpty(t, inputs)

	mismatches, err := policy.Verify(t.Context(), newRuleEngine(t), newRegoEngine(t), inputs)
	require.NoError(t, err)
	for _, m := range mismatches {
		t.Error(m.String())
	}
}

func TestRegoEngine_Decide(t *testing.T) {
	t.Parallel()
	e := newRegoEngine(t)

	res, err := e.Decide(t.Context(), policy.Input{
		Principal: principal(rbac.RoleStaff),
		Table:     "employees",
		Operation: policy.OpRead,
		CompanyID: ptr(companyA),
	})
	require.NoError(t, err)
	assert.True(t, res.Allow)
	assert.Equal(t, []string{"email", "salary"}, res.Masked)

	res, err = e.Decide(t.Context(), policy.Input{
		Principal: principal(rbac.RoleOwner),
		Table:     "sales",
		Operation: policy.OpInsert,
		CompanyID: ptr(companyB),
	})
	require.NoError(t, err)
	assert.False(t, res.Allow)
	assert.NotNil(t, res.Masked)
}

func TestVerify_ReportsDisagreement(t *testing.T) {
	t.Parallel()

	// Reading companies is dev only in the defaults; opening it to tenants
	// must show up as a difference.
	open := policy.NewRuleEngine(
		policy.MustRuleSet(policy.TableRule{Table: "companies", Scope: policy.ScopeTenant}),
		rbac.MustNew(rbac.DefaultCapabilityTable()),
	)
	inputs := []policy.Input{{
		Principal: principal(rbac.RoleOwner),
		Table:     "companies",
		Operation: policy.OpRead,
		CompanyID: ptr(companyA),
	}}

	mismatches, err := policy.Verify(t.Context(), newRuleEngine(t), open, inputs)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.False(t, mismatches[0].Left.Allow)
	assert.True(t, mismatches[0].Right.Allow)
	assert.Contains(t, mismatches[0].String(), "table=companies")
}
