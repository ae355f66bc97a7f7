// Package cli implements the tenantguard command line.
package cli

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bizpos/tenantguard/pkg/clientip"
	"github.com/bizpos/tenantguard/pkg/config"
	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/logger"
	"github.com/bizpos/tenantguard/pkg/requestid"
	"github.com/bizpos/tenantguard/pkg/tenant"
)

const envFileFlag = "env-file"

// NewRootCommand builds the tenantguard command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tenantguard",
		Short: "Authorization and tenant isolation engine for multi-tenant ERP/POS",
		Long: `tenantguard decides who may reach which page and which rows, per tenant.

Commands:
  serve    run the HTTP server with the route guard and the data policy
  check    evaluate a route guard decision for a principal
  migrate  apply the Postgres schema and row-level security policies
  policy   inspect and verify the data access policy`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString(envFileFlag)
			return loadEnvFile(path, cmd.Flags().Changed(envFileFlag))
		},
	}
	root.PersistentFlags().String(envFileFlag, ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		newServeCommand(),
		newCheckCommand(),
		newMigrateCommand(),
		newPolicyCommand(),
	)
	return root
}

// loadEnvFile loads path into the environment. A missing default file is
// not an error; a missing explicit one is.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !explicit {
		return nil
	}
	return config.LoadEnv(path)
}

// loadLogger reads the logging settings from the environment and builds the
// process logger.
func loadLogger() (*slog.Logger, error) {
	var cfg config.Logging
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	return newLogger(cfg)
}

func newLogger(cfg config.Logging) (*slog.Logger, error) {
	opts := []logger.Option{
		logger.WithEnvironment(cfg.Env, cfg.ServiceName),
		logger.WithContextExtractors(
			requestid.LoggerExtractor(),
			clientip.LoggerExtractor(),
			identity.LoggerExtractor(),
			tenant.LoggerExtractor(),
		),
	}
	if cfg.LogLevel != "" {
		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		opts = append(opts, logger.WithLevel(level))
	}
	if cfg.LogFormat != "" {
		switch f := logger.Format(cfg.LogFormat); f {
		case logger.FormatJSON, logger.FormatText:
			opts = append(opts, logger.WithFormat(f))
		default:
			return nil, errors.Join(config.ErrInvalidConfig, errors.New("LOG_FORMAT must be json or text"))
		}
	}
	return logger.New(opts...), nil
}
