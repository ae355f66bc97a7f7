// Package logger builds the *slog.Logger used across the engine.
//
// New applies functional options, picks a JSON or text handler and wraps it
// in LogHandlerDecorator, which runs ContextExtractor callbacks on every
// record. The identity and tenant packages ship extractors that add the
// signed-in user and the active tenant id:
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Env, "tenantguard"),
//	    logger.WithContextExtractors(
//	        identity.LoggerExtractor(),
//	        tenant.LoggerExtractor(),
//	    ),
//	)
//
// Attribute helpers such as Error, TenantID and Outcome keep key names
// consistent. Error and Errors return an empty Attr for nil input.
package logger
