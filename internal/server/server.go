// Package server provides the status HTTP server of the rebalancer: health
// probes, Prometheus metrics and read access to the plan history.
package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/config"
	"github.com/limiquantix/rebalancer/internal/drs"
	"github.com/limiquantix/rebalancer/internal/repository/etcd"
	"github.com/limiquantix/rebalancer/internal/repository/memory"
	"github.com/limiquantix/rebalancer/internal/repository/postgres"
	"github.com/limiquantix/rebalancer/internal/repository/redis"
)

const serviceName = "rebalancer"

// Server represents the main HTTP server.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	registry   *prometheus.Registry

	// Infrastructure
	db    *postgres.DB
	cache *redis.Cache
	etcd  *etcd.Client

	// Cluster collaborators
	source   drs.SnapshotSource
	migrator drs.Migrator

	planRepo drs.PlanRepository
	engine   *drs.Engine
	events   *PlanEventsHandler

	// Leader election (for HA)
	leaderMu sync.RWMutex
	leader   *etcd.Leader
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithPostgreSQL stores the plan history in PostgreSQL.
func WithPostgreSQL(db *postgres.DB) ServerOption {
	return func(s *Server) {
		s.db = db
	}
}

// WithRedis caches the latest plan and publishes plan events.
func WithRedis(cache *redis.Cache) ServerOption {
	return func(s *Server) {
		s.cache = cache
	}
}

// WithEtcd enables etcd for leader election.
func WithEtcd(client *etcd.Client) ServerOption {
	return func(s *Server) {
		s.etcd = client
	}
}

// WithCluster attaches the inventory source and migrator the engine runs
// against. Without it the server only serves health and stored plans.
func WithCluster(source drs.SnapshotSource, migrator drs.Migrator) ServerOption {
	return func(s *Server) {
		s.source = source
		s.migrator = migrator
	}
}

// New creates a new server instance.
func New(cfg *config.Config, logger *zap.Logger, opts ...ServerOption) (*Server, error) {
	mux := http.NewServeMux()

	s := &Server{
		config:   cfg,
		logger:   logger,
		mux:      mux,
		registry: prometheus.NewRegistry(),
		events:   NewPlanEventsHandler(cfg.CORS.AllowedOrigins, logger),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.initRepositories()
	if err := s.initEngine(); err != nil {
		return nil, err
	}
	s.registerRoutes()

	handler := s.setupMiddleware(mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// initRepositories initializes the plan history store.
func (s *Server) initRepositories() {
	if s.db != nil {
		s.logger.Info("Initializing PostgreSQL plan repository")
		s.planRepo = postgres.NewPlanRepository(s.db, s.logger)
	} else {
		s.logger.Info("Initializing in-memory plan repository")
		s.planRepo = memory.NewPlanRepository()
	}

	s.logger.Info("Repositories initialized",
		zap.Bool("postgres", s.db != nil),
		zap.Bool("redis", s.cache != nil),
		zap.Bool("etcd", s.etcd != nil),
	)
}

// initEngine wires the rebalancing engine when a cluster is attached.
func (s *Server) initEngine() error {
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := drs.NewMetrics(s.registry)

	if s.source == nil || s.migrator == nil {
		s.logger.Info("No cluster attached, rebalancing engine disabled")
		return nil
	}

	planConfig, err := s.config.Planner.PlanConfig()
	if err != nil {
		return fmt.Errorf("invalid planner configuration: %w", err)
	}

	opts := []drs.Option{
		drs.WithMetrics(metrics),
		drs.WithLeaderChecker(s),
		drs.WithEventSink(s.events),
	}
	if s.cache != nil {
		opts = append(opts, drs.WithReportCache(s.cache))
	}
	if s.etcd != nil {
		opts = append(opts, drs.WithClusterLocker(s.etcd))
	}

	s.engine = drs.NewEngine(
		s.config.DRS,
		planConfig,
		s.source,
		s.migrator,
		s.planRepo,
		s.logger,
		opts...,
	)
	return nil
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	// Health endpoints
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/healthz", s.healthHandler) // Kubernetes-style endpoint
	s.mux.HandleFunc("/ready", s.readyHandler)
	s.mux.HandleFunc("/live", s.liveHandler)

	if s.config.Metrics.Enabled {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle(path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
		s.logger.Info("Registered metrics endpoint", zap.String("path", path))
	}

	plans := NewPlanHandler(s)
	s.mux.Handle("/api/v1/plans", plans)
	s.mux.Handle("/api/v1/plans/", plans)
	s.mux.Handle("/api/v1/plans/events", s.events)

	s.logger.Info("All routes registered")
}

// setupMiddleware configures middleware chain.
func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           86400, // 24 hours
	})

	handler = corsHandler.Handler(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	return handler
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Skip logging for probes and scrapes
		switch r.URL.Path {
		case "/health", "/healthz", "/ready", "/live", s.config.Metrics.Path:
			return
		}

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the logging middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// healthHandler returns health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": serviceName,
	})
}

// readyHandler returns readiness status.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ready := true
	details := map[string]string{}

	check := func(name string, health func(context.Context) error) {
		if err := health(ctx); err != nil {
			ready = false
			details[name] = "unhealthy"
		} else {
			details[name] = "healthy"
		}
	}

	if s.db != nil {
		check("postgres", s.db.Health)
	}
	if s.cache != nil {
		check("redis", s.cache.Health)
	}
	if s.etcd != nil {
		check("etcd", s.etcd.Health)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(s.logger, w, status, map[string]any{
		"ready":      ready,
		"components": details,
		"leader":     s.IsLeader(),
	})
}

// liveHandler returns liveness status.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"alive": true})
}

// IsLeader reports whether this instance may run leader-only work. Without
// leader election every instance is the leader.
func (s *Server) IsLeader() bool {
	if s.etcd == nil || !s.config.DRS.LeaderElection {
		return true
	}
	s.leaderMu.RLock()
	defer s.leaderMu.RUnlock()
	return s.leader != nil && s.leader.IsLeader()
}

// Engine returns the rebalancing engine, or nil when no cluster is attached.
func (s *Server) Engine() *drs.Engine {
	return s.engine
}

// Run starts the HTTP server and the engine and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server",
		zap.String("address", s.config.Server.Address()),
	)

	if s.etcd != nil && s.config.DRS.LeaderElection {
		leader, err := s.etcd.CampaignForLeader(ctx, serviceName, func(isLeader bool) {
			if isLeader {
				s.logger.Info("This instance is now the leader")
			} else {
				s.logger.Info("This instance is now a follower")
			}
		})
		if err != nil {
			s.logger.Warn("Failed to start leader election", zap.Error(err))
		} else {
			s.leaderMu.Lock()
			s.leader = leader
			s.leaderMu.Unlock()
		}
	}

	if s.engine != nil {
		go s.engine.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server...")

	s.leaderMu.Lock()
	leader := s.leader
	s.leaderMu.Unlock()
	if leader != nil {
		if err := leader.Resign(shutdownCtx); err != nil {
			s.logger.Warn("Failed to resign leadership", zap.Error(err))
		}
	}

	// Hijacked stream connections are not closed by http.Server.Shutdown.
	s.events.Close()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}

	if s.etcd != nil {
		if err := s.etcd.Close(); err != nil {
			s.logger.Warn("Failed to close etcd", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Server.Address()
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
