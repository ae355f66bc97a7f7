// Package httpserver runs an http.Handler with graceful shutdown on context
// cancellation or SIGINT/SIGTERM, and serves liveness and readiness probes.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bizpos/tenantguard/pkg/logger"
)

type cleanup struct {
	name string
	fn   func(context.Context) error
}

// Server wraps http.Server.
type Server struct {
	addr            string
	shutdownTimeout time.Duration
	log             *slog.Logger
	cleanups        []cleanup
	srv             *http.Server

	mu       sync.Mutex
	running  bool
	listener net.Listener
	ready    chan struct{}
}

func New(opts ...Option) *Server {
	s := &Server{
		addr:            ":8080",
		shutdownTimeout: 10 * time.Second,
		log:             slog.Default(),
		srv: &http.Server{
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		ready: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the bound address once Ready is closed, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Run serves handler until ctx is canceled or the process is signaled, then
// shuts down gracefully and runs the cleanups. A Server runs once.
func (s *Server) Run(ctx context.Context, handler http.Handler) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.Join(ErrStart, errors.New("server already started"))
	}
	s.running = true
	s.mu.Unlock()

	if handler == nil {
		handler = http.NotFoundHandler()
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Join(ErrStart, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.srv.Handler = handler
	s.srv.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	s.log.InfoContext(ctx, "http server listening", logger.Component("httpserver"), slog.String("addr", ln.Addr().String()))
	close(s.ready)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownErr := s.shutdown()
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return errors.Join(ErrStart, serveErr, shutdownErr)
	}
	return shutdownErr
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, errors.Join(ErrShutdown, err))
	}
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		c := s.cleanups[i]
		if err := c.fn(ctx); err != nil {
			s.log.ErrorContext(ctx, "cleanup failed", logger.Component("httpserver"), slog.String("name", c.name), logger.Error(err))
			errs = append(errs, errors.Join(ErrShutdown, err))
		}
	}
	s.log.InfoContext(ctx, "http server stopped", logger.Component("httpserver"))
	return errors.Join(errs...)
}
