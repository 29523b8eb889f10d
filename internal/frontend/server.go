package frontend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"agrosensorhub.dev/hub/pkg/hubrpc"
	"agrosensorhub.dev/hub/pkg/metrics"
)

// DefaultPageSize is the number of readings per history page.
const DefaultPageSize = 20

// Server represents the dashboard HTTP server.
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	hub        *hubClient
	grpcConn   *grpc.ClientConn
	metrics    *metrics.FrontendMetrics
	config     *ServerConfig
	now        func() time.Time
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.FrontendMetrics // Optional metrics

	// HTTP server configuration
	HTTPPort int
	PageSize int

	// Backend gRPC configuration
	BackendGRPCAddr string
	// Client is used as is when set; Run then skips dialing BackendGRPCAddr.
	Client hubrpc.SensorHubClient
}

// NewServer creates a new dashboard Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.BackendGRPCAddr == "" && cfg.Client == nil {
		return nil, errors.New("backend gRPC address cannot be empty")
	}

	if cfg.PageSize < 0 || cfg.PageSize > 100 {
		return nil, errors.New("page size must be between 1 and 100")
	}

	s := &Server{
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		config:  cfg,
		now:     time.Now,
	}
	if cfg.Client != nil {
		s.hub = newHubClient(cfg.Logger, cfg.Client, cfg.Metrics)
	}
	return s, nil
}

func (s *Server) pageSize() int {
	if s.config.PageSize == 0 {
		return DefaultPageSize
	}
	return s.config.PageSize
}

// Run starts the dashboard server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting dashboard server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	if s.hub == nil {
		s.logger.Info("connecting to backend gRPC server", "address", s.config.BackendGRPCAddr)
		conn, err := grpc.NewClient(
			s.config.BackendGRPCAddr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to backend: %w", err)
		}
		s.grpcConn = conn
		s.hub = newHubClient(s.logger, hubrpc.NewSensorHubClient(conn), s.metrics)
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.logger.Info("dashboard server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			return errors.Join(err, s.Shutdown())
		}
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down dashboard server")

	var errs []error

	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
	}

	if s.grpcConn != nil {
		s.logger.Info("closing gRPC connection")
		if err := s.grpcConn.Close(); err != nil {
			s.logger.Error("failed to close gRPC connection", "error", err)
			errs = append(errs, fmt.Errorf("gRPC connection close error: %w", err))
		}
		s.grpcConn = nil
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("dashboard server shutdown completed with errors", "error", err)
		return err
	}

	s.logger.Info("dashboard server shutdown completed successfully")
	return nil
}

// Handler returns the dashboard routes. It requires a backend client, which
// Run creates when none was configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /zones/{mac}", s.handleZone)
	mux.HandleFunc("GET /history", s.handleHistory)

	// Index page (catch-all, must be last)
	mux.HandleFunc("GET /{$}", s.handleIndex)

	if s.metrics == nil {
		return mux
	}
	return s.instrument(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument records request metrics labeled by matched route pattern.
func (s *Server) instrument(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := mux.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := prometheus.NewTimer(s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern))
		mux.ServeHTTP(rec, r)
		timer.ObserveDuration()

		s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
	})
}
