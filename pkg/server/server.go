package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"esoe-hq/pdp/pkg/config"
	"esoe-hq/pdp/pkg/failures"
	"esoe-hq/pdp/pkg/policy"
	"esoe-hq/pdp/pkg/policy/decision"
	dtrace "esoe-hq/pdp/pkg/policy/trace"
	"esoe-hq/pdp/pkg/processor"
	"esoe-hq/pdp/pkg/telemetry/health"
)

// DecisionMaker answers authorization requests.
type DecisionMaker interface {
	Decide(ctx context.Context, req decision.Request, dd *dtrace.DecisionData) policy.Decision
}

// StartupNotifier sends current policies to a starting enforcement point.
type StartupNotifier interface {
	SpepStartingNotification(ctx context.Context, descriptorID string, endpointIndex int) processor.Result
}

// Options wires the server to the rest of the daemon. Decisions is
// required; the other handlers are mounted only when their dependency is
// set.
type Options struct {
	Config *config.ServerConfig

	// TLS serves HTTPS when set.
	TLS *tls.Config

	// APIAuth wraps the /v1 routes. Probes and metrics are not wrapped.
	APIAuth func(http.Handler) http.Handler

	Decisions DecisionMaker
	Startup   StartupNotifier
	Failures  failures.Repository

	Health       *health.Checker
	HealthConfig config.HealthConfig

	Metrics     http.Handler
	MetricsPath string

	TracerProvider trace.TracerProvider
	Propagator     propagation.TextMapPropagator

	Version string
	Logger  *slog.Logger
}

// Server is the HTTP admin server.
type Server struct {
	opts       Options
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server

	mu        sync.RWMutex
	isRunning bool
	addr      string
	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a server. The handler chain is built once here.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("server config cannot be nil")
	}
	if opts.Decisions == nil {
		return nil, fmt.Errorf("decision maker cannot be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		opts:   opts,
		logger: logger.With("component", "server"),
		ready:  make(chan struct{}),
	}
	s.handler = s.setupRoutes()
	return s, nil
}

// Handler returns the complete handler chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	cfg := s.opts.Config
	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddress, err)
	}

	if s.opts.TLS != nil {
		ln = tls.NewListener(ln, s.opts.TLS)
	}

	s.httpServer = &http.Server{
		Handler:        s.handler,
		TLSConfig:      s.opts.TLS,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.isRunning = true
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	s.logger.Info("starting admin server", "address", s.addr, "tls", s.opts.TLS != nil)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		if ok {
			s.setStopped()
			return err
		}
		return nil
	}
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Shutdown gracefully shuts down the server within the configured
// shutdown timeout. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	running := s.isRunning
	srv := s.httpServer
	s.mu.RUnlock()
	if !running {
		return nil
	}

	timeout := s.opts.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var shutdownErr error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		shutdownErr = fmt.Errorf("server shutdown error: %w", err)
	}
	s.setStopped()
	s.logger.Info("admin server stopped")
	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Server) setStopped() {
	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
}

// setupRoutes configures HTTP routes and the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/decisions", s.handleDecision)
	if s.opts.Startup != nil {
		api.HandleFunc("POST /v1/spep/startup", s.handleStartup)
	}
	if s.opts.Failures != nil {
		api.HandleFunc("GET /v1/failures", s.handleListFailures)
		api.HandleFunc("DELETE /v1/failures", s.handleClearFailures)
	}
	var apiHandler http.Handler = api
	if s.opts.APIAuth != nil {
		apiHandler = s.opts.APIAuth(api)
	}
	mux.Handle("/v1/", apiHandler)
	if s.opts.Health != nil {
		s.opts.Health.Register(mux, s.opts.HealthConfig, s.opts.Version)
	}
	if s.opts.Metrics != nil {
		path := s.opts.MetricsPath
		if path == "" {
			path = config.DefaultPrometheusPath
		}
		mux.Handle("GET "+path, s.opts.Metrics)
	}

	var handler http.Handler = mux
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(s.logger)(handler)

	otelOpts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	}
	if s.opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(s.opts.TracerProvider))
	}
	if s.opts.Propagator != nil {
		otelOpts = append(otelOpts, otelhttp.WithPropagators(s.opts.Propagator))
	}
	return otelhttp.NewHandler(handler, "pdpd", otelOpts...)
}
