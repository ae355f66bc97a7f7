package cli

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bizpos/tenantguard/pkg/guard"
	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/rbac"
	"github.com/bizpos/tenantguard/pkg/tenant"
)

type checkOptions struct {
	role        string
	tenant      string
	active      string
	permissions []string
	path        string
	anonymous   bool
	capsPath    string
	routesPath  string
	asJSON      bool
}

func newCheckCommand() *cobra.Command {
	var o checkOptions
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a route guard decision",
		Long: `Evaluate what the route guard decides for a principal visiting a path.

Examples:
  tenantguard check --role owner --tenant <uuid> --path /invoices
  tenantguard check --role dev --active <uuid> --path /dashboard
  tenantguard check --anonymous --path /dashboard --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, perms, routes, err := loadTables(cmd.Context(), o.capsPath, o.routesPath)
			if err != nil {
				return err
			}
			state, err := o.state()
			if err != nil {
				return err
			}
			d := guard.New(perms, guard.WithRoutes(routes)).Decide(state, o.path)
			return printDecision(cmd, d, o.asJSON)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.role, "role", "", "role of the principal (dev, owner, staff)")
	f.StringVar(&o.tenant, "tenant", "", "tenant the principal is bound to (owner and staff)")
	f.StringVar(&o.active, "active", "", "active tenant; defaults to --tenant")
	f.StringSliceVar(&o.permissions, "perm", nil, "extra permission grants")
	f.StringVar(&o.path, "path", "", "path to evaluate")
	f.BoolVar(&o.anonymous, "anonymous", false, "evaluate for a visitor who is not signed in")
	f.StringVar(&o.capsPath, "capabilities", "", "YAML capability table; built-in defaults when empty")
	f.StringVar(&o.routesPath, "routes", "", "YAML route table; built-in defaults when empty")
	f.BoolVar(&o.asJSON, "json", false, "print the decision as JSON")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

// state turns the flags into a ready guard.State.
func (o checkOptions) state() (guard.State, error) {
	if o.anonymous {
		return guard.State{Readiness: identity.Ready}, nil
	}
	role, err := rbac.ParseRole(o.role)
	if err != nil {
		return guard.State{}, err
	}

	user := &identity.User{
		ID:          uuid.New(),
		Email:       "cli@tenantguard.local",
		Role:        role,
		Permissions: rbac.ParsePermissions(o.permissions),
	}
	if o.tenant != "" {
		id, err := uuid.Parse(o.tenant)
		if err != nil {
			return guard.State{}, fmt.Errorf("invalid --tenant: %w", err)
		}
		user.TenantID = &id
	}
	if err := user.Validate(); err != nil {
		return guard.State{}, err
	}

	active := o.active
	if active == "" && user.TenantID != nil {
		active = user.TenantID.String()
	}
	tctx := tenant.NewContext(nil, nil, 0)
	if active != "" {
		id, err := uuid.Parse(active)
		if err != nil {
			return guard.State{}, fmt.Errorf("invalid --active: %w", err)
		}
		t := tenant.Tenant{ID: id, Name: id.String(), Active: true}
		tctx = tenant.NewContext(&t, []tenant.Tenant{t}, 1)
	}
	return guard.State{Readiness: identity.Ready, User: user, Tenant: tctx}, nil
}

type decisionView struct {
	Outcome string `json:"outcome"`
	Target  string `json:"target,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

func printDecision(cmd *cobra.Command, d guard.Decision, asJSON bool) error {
	v := decisionView{Outcome: d.Outcome.String(), Target: d.Target, Reason: d.Reason}
	if d.Err != nil {
		v.Error = d.Err.Error()
	}
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintf(out, "outcome: %s\n", v.Outcome)
	if err == nil && v.Target != "" {
		_, err = fmt.Fprintf(out, "target:  %s\n", v.Target)
	}
	if err == nil && v.Reason != "" {
		_, err = fmt.Fprintf(out, "reason:  %s\n", v.Reason)
	}
	return err
}
