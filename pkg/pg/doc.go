// Package pg connects to PostgreSQL with pgx/v5 and installs the row-level
// security schema that mirrors the access rules inside the database.
//
// Connect opens a *pgxpool.Pool with retries and Migrate applies the
// embedded goose migrations: the business tables, a tenant_isolation policy
// on every tenant table, dev-only policies on system tables, the
// employees_secure view and the tenantguard_app role.
//
// Queries on behalf of a user go through WithTenantConnection, which sets
// app.current_tenant_id, app.current_role and app.current_permissions on a
// dedicated connection and clears them before the connection is reused:
//
//	err := pg.WithTenantConnection(ctx, pool, cfg, pg.Scope{
//		TenantID: tenantID,
//		Role:     "owner",
//	}, func(ctx context.Context, q pg.Querier) error {
//		rows, err := q.Query(ctx, "SELECT * FROM products")
//		if err != nil {
//			return err
//		}
//		products, err = pg.CollectMaps(rows)
//		return err
//	})
//
// Writes outside the scope fail with SQLSTATE 42501; IsInsufficientPrivilege
// detects them. Reads simply return fewer rows.
package pg
