// Package rbac evaluates module and action access for the closed set of
// application roles (dev, owner, staff).
//
// A CapabilityTable maps every role to the modules it may open and the
// "<module>.<action>" permissions it holds by default. User-level grants are
// additive and never subtract from the role defaults. The table is validated
// for exhaustiveness on load, so adding a role without a table entry fails at
// startup rather than at request time.
//
// Every check is fail-closed: a nil evaluator, an empty role or a role outside
// the closed set evaluates to false (or ErrInvalidRole for the error-returning
// helpers). Nothing in this package panics on bad input.
//
// Table permissions support wildcards:
//
//   - "*" covers every well-formed permission
//   - "products.*" covers any "products.<action>"
//
// Basic usage:
//
//	eval, err := rbac.NewEvaluator(ctx, rbac.NewFileSource("capabilities.yaml"))
//	if err != nil {
//	    return err
//	}
//
//	if eval.HasActionPermission(user.Role, user.Permissions, "products.write") {
//	    // allow
//	}
package rbac
