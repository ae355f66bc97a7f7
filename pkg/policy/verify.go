package policy

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bizpos/tenantguard/pkg/rbac"
)

// Mismatch is an input on which two engines disagree.
type Mismatch struct {
	Input Input
	Left  Result
	Right Result
}

func (m Mismatch) String() string {
	company := "none"
	if m.Input.CompanyID != nil {
		company = m.Input.CompanyID.String()
	}
	return fmt.Sprintf("role=%s tenant=%q table=%s op=%s company=%s: %+v vs %+v",
		m.Input.Principal.Role, m.Input.Principal.TenantString(),
		m.Input.Table, m.Input.Operation, company, m.Left, m.Right)
}

// Inputs enumerates every role, table, operation and company relation for
// rules, with and without the permissions the column masks ask for. One
// unknown table and one unknown role are added so denials are compared too.
func Inputs(rules *RuleSet) []Input {
	home := uuid.MustParse("6f1d3c52-0000-4000-8000-000000000001")
	other := uuid.MustParse("6f1d3c52-0000-4000-8000-000000000002")
	companies := []*uuid.UUID{nil, &home, &other}

	var grants [][]rbac.Permission
	grants = append(grants, nil)
	for _, name := range rules.Tables() {
		r, _ := rules.Rule(name)
		for _, m := range r.Masks {
			grants = append(grants, []rbac.Permission{m.Permission})
		}
	}

	roles := append(rbac.Roles(), rbac.Role("auditor"))
	tables := append(rules.Tables(), "unknown_table")

	var out []Input
	for _, role := range roles {
		var tenant *uuid.UUID
		if role != rbac.RoleDev {
			tenant = &home
		}
		for _, granted := range grants {
			p := Principal{Role: role, TenantID: tenant, Permissions: slices.Clone(granted)}
			for _, table := range tables {
				for _, op := range Operations() {
					for _, c := range companies {
						out = append(out, Input{Principal: p, Table: table, Operation: op, CompanyID: c})
					}
				}
			}
		}
	}
	return out
}

// Verify evaluates every input on both engines and returns the inputs where
// they disagree. Masked columns are only compared when access is allowed.
func Verify(ctx context.Context, left, right Engine, inputs []Input) ([]Mismatch, error) {
	var out []Mismatch
	for _, in := range inputs {
		var l, r Result
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			l, err = left.Decide(gctx, in)
			return err
		})
		g.Go(func() (err error) {
			r, err = right.Decide(gctx, in)
			return err
		})
		if err := g.Wait(); err != nil {
			return out, err
		}
		if !agree(l, r) {
			out = append(out, Mismatch{Input: in, Left: l, Right: r})
		}
	}
	return out, nil
}

func agree(l, r Result) bool {
	if l.Allow != r.Allow {
		return false
	}
	if !l.Allow {
		return true
	}
	return slices.Equal(l.Masked, r.Masked)
}
