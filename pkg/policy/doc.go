// Package policy mirrors the access rules at the storage boundary.
//
// A RuleSet assigns each table a scope. Tenant tables show a row only to the
// row's company and to dev users; system tables are dev only; tables with no
// rule are closed. Column masks null out fields such as employee salary for
// principals lacking the matching permission.
//
// Two engines implement the rules: RuleEngine in Go and RegoEngine on the
// embedded OPA policy. They take the same Input and must return the same
// Result; Verify runs both over every combination and reports differences.
//
// Enforcer applies an engine to rows. Writes whose company_id is not the
// principal's tenant fail with *AccessDeniedError (code 42501), are audited
// as policy_violation and are never redirected to another tenant.
// IsAccessDenied treats these errors and Postgres SQLSTATE 42501 alike, and
// PublicMessage keeps server details away from users.
package policy
