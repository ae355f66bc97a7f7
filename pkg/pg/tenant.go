package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier abstracts pgx query methods so callers can work with both
// pool connections and transactions.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Scope is the principal a tenant connection acts as. The row-level
// security policies read it through current_setting.
type Scope struct {
	// TenantID is the bound tenant, empty for dev users.
	TenantID string
	Role     string
	// Permissions lists the column permissions the principal holds, for
	// views that null masked columns.
	Permissions []string
}

const (
	settingTenant      = "app.current_tenant_id"
	settingRole        = "app.current_role"
	settingPermissions = "app.current_permissions"
)

// WithTenantConnection acquires a dedicated connection, applies s and the
// application role, then calls fn. Everything is reset before the
// connection goes back to the pool; a connection that cannot be reset is
// closed instead of reused.
func WithTenantConnection(ctx context.Context, pool *pgxpool.Pool, cfg Config, s Scope, fn func(ctx context.Context, q Querier) error) error {
	if s.Role == "" {
		return fmt.Errorf("%w: role is required", ErrTenantScope)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer func() {
		// The request context may already be canceled.
		if err := reset(context.Background(), conn.Conn(), cfg.AppRole != ""); err != nil {
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
	}()

	if _, err := conn.Exec(ctx,
		"SELECT set_config($1, $2, false), set_config($3, $4, false), set_config($5, $6, false)",
		settingTenant, s.TenantID,
		settingRole, s.Role,
		settingPermissions, strings.Join(s.Permissions, ","),
	); err != nil {
		return errors.Join(ErrTenantScope, err)
	}
	if cfg.AppRole != "" {
		if _, err := conn.Exec(ctx, "SET ROLE "+pgx.Identifier{cfg.AppRole}.Sanitize()); err != nil {
			return errors.Join(ErrTenantScope, err)
		}
	}

	return fn(ctx, conn)
}

func reset(ctx context.Context, conn *pgx.Conn, role bool) error {
	if role {
		if _, err := conn.Exec(ctx, "RESET ROLE"); err != nil {
			return err
		}
	}
	_, err := conn.Exec(ctx,
		"SELECT set_config($1, '', false), set_config($2, '', false), set_config($3, '', false)",
		settingTenant, settingRole, settingPermissions,
	)
	return err
}

// CollectMaps reads every row into a column-name keyed map.
func CollectMaps(rows pgx.Rows) ([]map[string]any, error) {
	return pgx.CollectRows(rows, pgx.RowToMap)
}
