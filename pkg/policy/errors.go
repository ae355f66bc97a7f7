package policy

import (
	"errors"
	"fmt"

	"github.com/bizpos/tenantguard/pkg/pg"
)

// SQLStateInsufficientPrivilege is the code carried by every access denial,
// whether raised here or by Postgres row-level security.
const SQLStateInsufficientPrivilege = "42501"

var (
	// ErrPolicyViolation marks a read or write the storage layer refused.
	ErrPolicyViolation = errors.New("policy.violation")
	ErrUnknownTable    = errors.New("policy.unknown_table")
	ErrInvalidRule     = errors.New("policy.invalid_rule")
	ErrNoPrincipal     = errors.New("policy.no_principal")
	ErrEngine          = errors.New("policy.engine_failure")
)

// AccessDeniedError is returned for every refused operation. Its message is
// safe to log; use PublicMessage for anything shown to users.
type AccessDeniedError struct {
	Code      string
	Table     string
	Operation Operation
	Reason    string
}

func (e *AccessDeniedError) Error() string {
	msg := fmt.Sprintf("access denied (%s): %s on %s", e.Code, e.Operation, e.Table)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *AccessDeniedError) Unwrap() error { return ErrPolicyViolation }

func denied(table string, op Operation, reason string) *AccessDeniedError {
	return &AccessDeniedError{
		Code:      SQLStateInsufficientPrivilege,
		Table:     table,
		Operation: op,
		Reason:    reason,
	}
}

// IsAccessDenied reports whether err is an access denial from this package
// or from Postgres (SQLSTATE 42501). Callers treat both the same way.
func IsAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrPolicyViolation) || pg.IsInsufficientPrivilege(err)
}

// PublicMessage returns text safe for end users. Server details, which may
// name other tenants, are never included.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsAccessDenied(err):
		return "access denied"
	default:
		return "request failed"
	}
}
