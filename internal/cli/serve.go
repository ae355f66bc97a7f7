package cli

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bizpos/tenantguard/pkg/access"
	"github.com/bizpos/tenantguard/pkg/audit"
	"github.com/bizpos/tenantguard/pkg/clientip"
	"github.com/bizpos/tenantguard/pkg/config"
	"github.com/bizpos/tenantguard/pkg/guard"
	"github.com/bizpos/tenantguard/pkg/httpserver"
	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/logger"
	"github.com/bizpos/tenantguard/pkg/pg"
	"github.com/bizpos/tenantguard/pkg/policy"
	"github.com/bizpos/tenantguard/pkg/ratelimit"
	"github.com/bizpos/tenantguard/pkg/rbac"
	"github.com/bizpos/tenantguard/pkg/redis"
	"github.com/bizpos/tenantguard/pkg/requestid"
	"github.com/bizpos/tenantguard/pkg/tenant"
)

const countCacheSize = 64

func newServeCommand() *cobra.Command {
	var seedPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Run the HTTP server with the route guard in front of every page and the
data access policy in front of /api.

Postgres (PG_CONN_URL) and Redis (REDIS_URL) are optional. Without Postgres
tenants come from the seed file and /api serves no rows; without Redis
sessions and caches live in process memory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), seedPath)
		},
	}
	cmd.Flags().StringVar(&seedPath, "seed", "", "YAML file with the accounts and tenants to serve")
	return cmd
}

func runServe(ctx context.Context, seedPath string) error {
	app, err := config.LoadApp()
	if err != nil {
		return err
	}
	log, err := newLogger(app.Logging)
	if err != nil {
		return err
	}
	logger.SetAsDefault(log)

	caps, perms, routes, err := loadTables(ctx, app.CapabilityTablePath, app.RouteTablePath)
	if err != nil {
		return err
	}
	s, err := loadSeed(seedPath)
	if err != nil {
		return err
	}

	var (
		serverOpts = []httpserver.Option{
			httpserver.WithAddr(app.ListenAddr),
			httpserver.WithShutdownTimeout(app.ShutdownTimeout),
			httpserver.WithLogger(log),
		}
		checks   []httpserver.Check
		tenants  tenant.Directory = s.tenants
		store    identity.Store   = identity.NewMemoryStore()
		pool     *pgxpool.Pool
		pgCfg    pg.Config
		rdb      *goredis.Client
		rdbCfg   redis.Config
		attempts ratelimit.Store
	)

	if app.DatabaseURL != "" {
		if err := config.Load(&pgCfg); err != nil {
			return err
		}
		if pool, err = pg.Connect(ctx, pgCfg); err != nil {
			return err
		}
		serverOpts = append(serverOpts, httpserver.WithCleanup("postgres", func(context.Context) error {
			pool.Close()
			return nil
		}))
		checks = append(checks, httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)})
		tenants = tenant.NewPostgresDirectory(pool, pgCfg)
	}

	if app.RedisURL != "" {
		if err := config.Load(&rdbCfg); err != nil {
			return err
		}
		if rdb, err = redis.Connect(ctx, rdbCfg); err != nil {
			return err
		}
		serverOpts = append(serverOpts, httpserver.WithCleanup("redis", func(context.Context) error {
			return rdb.Close()
		}))
		checks = append(checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(rdb)})
		store = identity.NewRedisStore(rdb, identity.WithKeyPrefix(rdbCfg.SessionPrefix))
		attempts = ratelimit.NewRedisStore(rdb, rdbCfg.ThrottlePrefix)
	} else {
		mem := ratelimit.NewMemoryStore()
		serverOpts = append(serverOpts, httpserver.WithCleanup("throttle", func(context.Context) error {
			return mem.Close()
		}))
		attempts = mem
	}
	throttle, err := ratelimit.New(attempts, app.LoginAttempts, app.LoginWindow)
	if err != nil {
		return err
	}

	events := audit.NewAsyncStorage(audit.NewSlogStorage(log), audit.AsyncOptions{}, log)
	// Registered last so it runs first and nothing audits into a closed queue.
	serverOpts = append(serverOpts, httpserver.WithCleanup("audit", events.Close))
	sink := audit.NewLogger(events,
		audit.WithUserIDExtractor(identity.UserIDFromContext),
		audit.WithTenantIDExtractor(tenant.IDStringFromContext),
		audit.WithMetadataExtractor("request_id", requestid.FromContext),
		audit.WithMetadataExtractor("client_ip", clientip.FromContext),
	)

	issuer := identity.NewTokenIssuer([]byte(app.JWTSigningKey),
		identity.WithTTL(app.SessionTTL),
		identity.WithIssuerName(app.ServiceName),
	)
	auth := identity.NewAuthenticator(s.users, issuer, store)

	g := guard.New(perms,
		guard.WithRoutes(routes),
		guard.WithPaths(guard.Paths{Login: app.LoginPath, Unauthorized: app.UnauthorizedPath}),
		guard.WithAuditSink(sink),
		guard.WithLogger(log),
	)

	registry := access.NewRegistry(func() *access.Controller {
		return access.New(g, tenants,
			access.WithAuthenticator(auth),
			access.WithSessionStore(store),
			access.WithAuditSink(sink),
			access.WithLogger(log),
			access.WithCaches(func(h *tenant.Holder) []tenant.Invalidator {
				if rdb != nil {
					// Per-session prefix: invalidation never touches other sessions.
					prefix := rdbCfg.CachePrefix + ":" + uuid.NewString()
					return []tenant.Invalidator{tenant.NewRedisCache(rdb, h, prefix, rdbCfg.CacheTTL)}
				}
				return []tenant.Invalidator{tenant.NewScopedCache[int](h, countCacheSize)}
			}),
		)
	},
		access.WithTokenParser(issuer),
		access.WithSecureCookie(app.Env == logger.EnvProduction),
		access.WithRegistryLogger(log),
	)

	rules := policy.DefaultRuleSet()
	engine := policy.NewRuleEngine(rules, perms)
	if app.Env != logger.EnvProduction {
		verifyPolicy(ctx, log, engine, rules, caps)
	}

	srv := &server{
		log:      log,
		guard:    g,
		registry: registry,
		auth:     auth,
		rules:    rules,
		perms:    perms,
		enforcer: policy.NewEnforcer(engine, policy.WithAuditSink(sink), policy.WithLogger(log)),
		pool:     pool,
		pgCfg:    pgCfg,
		checks:   checks,
		throttle: throttle,
	}
	if app.TrustProxyHeaders {
		srv.proxyHeaders = clientip.DefaultHeaders
	}
	return httpserver.New(serverOpts...).Run(ctx, srv.routes())
}

// verifyPolicy cross-checks the Go rules against the rego policy at startup
// and logs any disagreement. It never blocks startup.
func verifyPolicy(ctx context.Context, log *slog.Logger, engine policy.Engine, rules *policy.RuleSet, caps rbac.CapabilityTable) {
	log = log.With(logger.Component("policy"))
	rego, err := policy.NewRegoEngine(ctx, rules, caps)
	if err != nil {
		log.ErrorContext(ctx, "rego policy unavailable", logger.Error(err))
		return
	}
	mismatches, err := policy.Verify(ctx, engine, rego, policy.Inputs(rules))
	if err != nil {
		log.ErrorContext(ctx, "policy verification failed", logger.Error(err))
		return
	}
	for _, m := range mismatches {
		log.ErrorContext(ctx, "policy engines disagree", slog.String("input", m.String()))
	}
}
