package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizpos/tenantguard/pkg/pg"
)

// PostgresDirectory reads tenants from the companies table. The table is
// visible to the system principal only, so every query runs through a
// tenant connection scoped as dev.
type PostgresDirectory struct {
	pool *pgxpool.Pool
	cfg  pg.Config
}

func NewPostgresDirectory(pool *pgxpool.Pool, cfg pg.Config) *PostgresDirectory {
	return &PostgresDirectory{pool: pool, cfg: cfg}
}

const companyColumns = "id, name, tax_id, address, active, created_at"

var systemScope = pg.Scope{Role: "dev"}

func (d *PostgresDirectory) Get(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	var t Tenant
	err := pg.WithTenantConnection(ctx, d.pool, d.cfg, systemScope, func(ctx context.Context, q pg.Querier) error {
		rows, err := q.Query(ctx, "SELECT "+companyColumns+" FROM companies WHERE id = $1", id)
		if err != nil {
			return err
		}
		t, err = pgx.CollectExactlyOneRow(rows, scanTenant)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	return &t, nil
}

// List returns tenants sorted by name then id.
func (d *PostgresDirectory) List(ctx context.Context) ([]Tenant, error) {
	var out []Tenant
	err := pg.WithTenantConnection(ctx, d.pool, d.cfg, systemScope, func(ctx context.Context, q pg.Querier) error {
		rows, err := q.Query(ctx, "SELECT "+companyColumns+" FROM companies ORDER BY name, id::text")
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, scanTenant)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return out, nil
}

func scanTenant(row pgx.CollectableRow) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.TaxID, &t.Address, &t.Active, &t.CreatedAt)
	return t, err
}
