package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bizpos/tenantguard/pkg/policy"
)

// ErrPolicyMismatch is returned by policy verify when the engines disagree.
var ErrPolicyMismatch = errors.New("cli.policy_mismatch")

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and verify the data access policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newPolicyVerifyCommand(), newPolicyTablesCommand())
	return cmd
}

func newPolicyVerifyCommand() *cobra.Command {
	var capsPath string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that the Go rule engine and the rego policy agree",
		Long: `Evaluate every combination of role, table, operation, company and grant
against both policy engines and report the inputs where they disagree.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			caps, perms, _, err := loadTables(ctx, capsPath, "")
			if err != nil {
				return err
			}
			rules := policy.DefaultRuleSet()
			rego, err := policy.NewRegoEngine(ctx, rules, caps)
			if err != nil {
				return err
			}

			inputs := policy.Inputs(rules)
			mismatches, err := policy.Verify(ctx, policy.NewRuleEngine(rules, perms), rego, inputs)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range mismatches {
				fmt.Fprintln(out, m.String())
			}
			if len(mismatches) > 0 {
				return fmt.Errorf("%w: %d of %d inputs", ErrPolicyMismatch, len(mismatches), len(inputs))
			}
			fmt.Fprintf(out, "ok: %d inputs agree\n", len(inputs))
			return nil
		},
	}
	cmd.Flags().StringVar(&capsPath, "capabilities", "", "YAML capability table; built-in defaults when empty")
	return cmd
}

func newPolicyTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables covered by the default rule set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rules := policy.DefaultRuleSet()
			for _, name := range rules.Tables() {
				r, _ := rules.Rule(name)
				line := fmt.Sprintf("%-20s %s", name, r.Scope)
				for _, m := range r.Masks {
					line += fmt.Sprintf("  %s<-%s", m.Column, m.Permission)
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}
