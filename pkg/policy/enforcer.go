package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"

	"github.com/bizpos/tenantguard/pkg/audit"
	"github.com/bizpos/tenantguard/pkg/logger"
)

// CompanyColumn holds the owning tenant of a tenant-scoped row.
const CompanyColumn = "company_id"

// Row is one record as exchanged with the storage layer.
type Row map[string]any

// Enforcer applies an Engine to rows: it filters reads, masks columns and
// rejects writes. Refusals that a correct client would never trigger are
// audited as policy_violation and logged at error level.
type Enforcer struct {
	engine Engine
	sink   audit.Sink
	log    *slog.Logger
}

type EnforcerOption func(*Enforcer)

func WithAuditSink(s audit.Sink) EnforcerOption {
	return func(e *Enforcer) {
		if s != nil {
			e.sink = s
		}
	}
}

func WithLogger(l *slog.Logger) EnforcerOption {
	return func(e *Enforcer) {
		if l != nil {
			e.log = l
		}
	}
}

func NewEnforcer(engine Engine, opts ...EnforcerOption) *Enforcer {
	e := &Enforcer{engine: engine, sink: audit.Discard, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CanRead reports whether p may query table at all.
func (e *Enforcer) CanRead(ctx context.Context, p Principal, table string) error {
	res, err := e.engine.Decide(ctx, Input{Principal: p, Table: table, Operation: OpRead})
	if err != nil {
		return err
	}
	if !res.Allow {
		return e.violation(ctx, p, table, OpRead, "table not visible")
	}
	return nil
}

// Filter returns the rows p may see, with masked columns set to nil. Rows of
// other tenants are dropped without error, the way row-level security does.
func (e *Enforcer) Filter(ctx context.Context, p Principal, table string, rows []Row) ([]Row, error) {
	if err := e.CanRead(ctx, p, table); err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		company := companyOf(row)
		res, err := e.engine.Decide(ctx, Input{Principal: p, Table: table, Operation: OpRead, CompanyID: &company})
		if err != nil {
			return nil, err
		}
		if res.Allow {
			out = append(out, applyMasks(row, res.Masked))
		}
	}
	return out, nil
}

// Mask returns a copy of row with the columns p may not see set to nil. A
// row p cannot see at all is an access denial.
func (e *Enforcer) Mask(ctx context.Context, p Principal, table string, row Row) (Row, error) {
	company := companyOf(row)
	res, err := e.engine.Decide(ctx, Input{Principal: p, Table: table, Operation: OpRead, CompanyID: &company})
	if err != nil {
		return nil, err
	}
	if !res.Allow {
		return nil, e.violation(ctx, p, table, OpRead, "row not visible")
	}
	return applyMasks(row, res.Masked), nil
}

// CheckWrite verifies an insert, update or delete of row. A company_id that
// differs from the principal's tenant is rejected, never rewritten.
func (e *Enforcer) CheckWrite(ctx context.Context, p Principal, table string, op Operation, row Row) error {
	if !op.IsWrite() {
		return fmt.Errorf("%w: %q is not a write", ErrInvalidRule, op)
	}
	in := Input{Principal: p, Table: table, Operation: op}
	if _, ok := row[CompanyColumn]; ok {
		company := companyOf(row)
		in.CompanyID = &company
	}
	res, err := e.engine.Decide(ctx, in)
	if err != nil {
		return err
	}
	if !res.Allow {
		return e.violation(ctx, p, table, op, "row outside tenant scope")
	}
	return nil
}

func (e *Enforcer) violation(ctx context.Context, p Principal, table string, op Operation, reason string) error {
	err := denied(table, op, reason)

	opts := []audit.EventOption{
		audit.WithReason(reason),
		audit.WithUserID(p.UserID.String()),
		audit.WithMetadata("operation", string(op)),
	}
	if p.TenantID != nil {
		opts = append(opts, audit.WithTenantID(p.TenantID.String()))
	}
	if auditErr := e.sink.Record(ctx, audit.TypePolicyViolation, table, opts...); auditErr != nil {
		e.log.ErrorContext(ctx, "failed to record audit event", logger.Component("policy"), logger.Error(auditErr))
	}

	e.log.ErrorContext(ctx, "policy violation",
		logger.Component("policy"),
		logger.UserID(p.UserID.String()),
		logger.Role(p.Role.String()),
		logger.Table(table),
		slog.String("operation", string(op)),
		logger.Error(err),
	)
	return err
}

// companyOf reads the company column. Missing or unparsable values resolve
// to uuid.Nil, which matches no tenant.
func companyOf(row Row) uuid.UUID {
	switch v := row[CompanyColumn].(type) {
	case uuid.UUID:
		return v
	case *uuid.UUID:
		if v != nil {
			return *v
		}
	case string:
		if id, err := uuid.Parse(v); err == nil {
			return id
		}
	case [16]byte:
		return uuid.UUID(v)
	}
	return uuid.Nil
}

func applyMasks(row Row, masked []string) Row {
	out := maps.Clone(row)
	if out == nil {
		out = Row{}
	}
	for _, col := range masked {
		if _, ok := out[col]; ok {
			out[col] = nil
		}
	}
	return out
}

// IsEngineFailure reports whether err came from the engine rather than a
// policy decision.
func IsEngineFailure(err error) bool { return errors.Is(err, ErrEngine) }
