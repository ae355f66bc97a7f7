package redis

import "time"

type Config struct {
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"` // ConnectionURL is the URL of the server, e.g. "redis://:password@localhost:6379/0".
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`             // RetryAttempts is the number of attempts to connect.
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s"`            // RetryInterval is the wait between attempts.
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`          // ConnectTimeout bounds the whole connect phase.

	SessionPrefix string        `env:"REDIS_SESSION_PREFIX" envDefault:"tenantguard:session"` // SessionPrefix namespaces stored sessions.
	CachePrefix   string        `env:"REDIS_CACHE_PREFIX" envDefault:"tenantguard:cache"`     // CachePrefix namespaces tenant-scoped cache entries.
	CacheTTL      time.Duration `env:"REDIS_CACHE_TTL" envDefault:"5m"`                       // CacheTTL is the lifetime of cache entries.

	ThrottlePrefix string `env:"REDIS_THROTTLE_PREFIX" envDefault:"tenantguard:throttle"` // ThrottlePrefix namespaces sign-in attempt counters.
}
