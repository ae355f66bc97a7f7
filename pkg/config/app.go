package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Logging is the part of the configuration every command needs.
type Logging struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"APP_NAME" envDefault:"tenantguard"`
	LogLevel    string `env:"LOG_LEVEL"`
	LogFormat   string `env:"LOG_FORMAT"`
}

// App is the process configuration of the tenantguard service.
type App struct {
	Logging

	ListenAddr      string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// JWTSigningKey signs session tokens. Must be at least 32 bytes.
	JWTSigningKey string        `env:"JWT_SIGNING_KEY,required"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"12h"`

	// Sign-in attempts allowed per client address and email within the window.
	LoginAttempts int           `env:"LOGIN_ATTEMPTS" envDefault:"5"`
	LoginWindow   time.Duration `env:"LOGIN_WINDOW" envDefault:"15m"`

	// TrustProxyHeaders makes X-Forwarded-For and X-Real-IP decide the
	// client address. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS"`

	// Optional YAML overrides of the built-in tables.
	CapabilityTablePath string `env:"CAPABILITY_TABLE_PATH"`
	RouteTablePath      string `env:"ROUTE_TABLE_PATH"`

	LoginPath        string `env:"LOGIN_PATH" envDefault:"/login"`
	UnauthorizedPath string `env:"UNAUTHORIZED_PATH" envDefault:"/unauthorized"`

	// Backends are optional; empty values select in-memory implementations.
	DatabaseURL string `env:"PG_CONN_URL"`
	RedisURL    string `env:"REDIS_URL"`
}

const minSigningKeyLen = 32

// Validate checks the values env tags cannot express.
func (a App) Validate() error {
	var errs []error
	if len(a.JWTSigningKey) < minSigningKeyLen {
		errs = append(errs, fmt.Errorf("JWT_SIGNING_KEY must be at least %d bytes", minSigningKeyLen))
	}
	if a.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if a.LoginAttempts <= 0 || a.LoginWindow <= 0 {
		errs = append(errs, errors.New("LOGIN_ATTEMPTS and LOGIN_WINDOW must be positive"))
	}
	for name, p := range map[string]string{"LOGIN_PATH": a.LoginPath, "UNAUTHORIZED_PATH": a.UnauthorizedPath} {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("%s must be an absolute path", name))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

// LoadApp loads and validates App.
func LoadApp() (App, error) {
	var a App
	if err := Load(&a); err != nil {
		return App{}, err
	}
	if err := a.Validate(); err != nil {
		return App{}, err
	}
	return a, nil
}
