package cli

import (
	"github.com/spf13/cobra"

	"github.com/bizpos/tenantguard/pkg/config"
	"github.com/bizpos/tenantguard/pkg/logger"
	"github.com/bizpos/tenantguard/pkg/pg"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema and row-level security migrations",
		Long: `Apply the embedded migrations to the database at PG_CONN_URL.

The migrations create the business tables, enable and force row-level
security on them, create the application role named by PG_APP_ROLE and
the employees_secure view.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log, err := loadLogger()
			if err != nil {
				return err
			}
			var cfg pg.Config
			if err := config.Load(&cfg); err != nil {
				return err
			}

			pool, err := pg.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := pg.Migrate(ctx, pool, cfg, log.With(logger.Component("migrate"))); err != nil {
				return err
			}
			log.InfoContext(ctx, "migrations applied")
			return nil
		},
	}
}
