// Package server exposes a read-only HTTP view of submitted jobs.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/psub/internal/errors"
	"github.com/3leaps/psub/internal/server/handlers"
	"github.com/3leaps/psub/internal/server/middleware"
	"github.com/3leaps/psub/pkg/history"
	"github.com/3leaps/psub/pkg/ledger"
	"github.com/3leaps/psub/pkg/status"
)

// Timeouts bound the underlying http.Server.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// DefaultTimeouts match the config defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Read:     30 * time.Second,
		Write:    30 * time.Second,
		Idle:     120 * time.Second,
		Shutdown: 10 * time.Second,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithJobs mounts the /jobs endpoints over a history store.
func WithJobs(store *history.Store, monitor *status.Monitor) Option {
	return func(s *Server) {
		s.history = store
		s.monitor = monitor
	}
}

// WithLogger sets the request and lifecycle logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeouts overrides DefaultTimeouts. Zero fields keep their default.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) {
		d := DefaultTimeouts()
		if t.Read > 0 {
			d.Read = t.Read
		}
		if t.Write > 0 {
			d.Write = t.Write
		}
		if t.Idle > 0 {
			d.Idle = t.Idle
		}
		if t.Shutdown > 0 {
			d.Shutdown = t.Shutdown
		}
		s.timeouts = d
	}
}

type Server struct {
	host     string
	port     int
	router   chi.Router
	timeouts Timeouts
	logger   *zap.Logger
	history  *history.Store
	monitor  *status.Monitor
	srv      *http.Server
}

// New builds a server listening on host:port once Start is called.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:     host,
		port:     port,
		timeouts: DefaultTimeouts(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery)

	r.NotFound(apperrors.NotFound)
	r.MethodNotAllowed(apperrors.MethodNotAllowed)

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.history != nil {
		monitor := s.monitor
		if monitor == nil {
			monitor = status.NewMonitor(ledger.Config{}, s.logger)
		}
		jobs := &handlers.Jobs{History: s.history, Monitor: monitor}
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", jobs.List)
			r.Get("/{job}", jobs.Get)
			r.Get("/{job}/tasks", jobs.Tasks)
		})
	}
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port is the configured port; 0 means any free port.
func (s *Server) Port() int {
	return s.port
}

// Addr is host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// HistoryChecker reports unhealthy when the history directory exists but
// cannot be read.
func HistoryChecker(store *history.Store) handlers.HealthChecker {
	return handlers.CheckerFunc(func(ctx context.Context) error {
		if _, err := os.ReadDir(store.RootDir()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return ctx.Err()
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.timeouts.Read,
		ReadHeaderTimeout: s.timeouts.Read,
		WriteTimeout:      s.timeouts.Write,
		IdleTimeout:       s.timeouts.Idle,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", ln.Addr().String()))
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeouts.Shutdown)
	defer cancel()
	s.logger.Info("status server shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
