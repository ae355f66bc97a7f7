package httpserver

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address. ":0" picks a free port; see Addr.
func WithAddr(addr string) Option {
	if addr == "" {
		panic("WithAddr: addr cannot be empty")
	}
	return func(s *Server) { s.addr = addr }
}

// WithTimeouts sets the read, write and idle timeouts. Zero keeps the default.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.srv.ReadTimeout = read
		}
		if write > 0 {
			s.srv.WriteTimeout = write
		}
		if idle > 0 {
			s.srv.IdleTimeout = idle
		}
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	if d <= 0 {
		panic("WithShutdownTimeout: duration must be > 0")
	}
	return func(s *Server) { s.shutdownTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithCleanup registers fn to run after the server stopped accepting
// requests, in reverse registration order. Use it to flush audit sinks and
// close pools.
func WithCleanup(name string, fn func(context.Context) error) Option {
	if fn == nil {
		panic("WithCleanup: nil func")
	}
	return func(s *Server) {
		s.cleanups = append(s.cleanups, cleanup{name: name, fn: fn})
	}
}
