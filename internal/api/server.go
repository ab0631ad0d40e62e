// Package api serves the pipeline status over HTTP and the gRPC health protocol.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/maliciouslog"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported for the watcher.
const ServiceName = "go2netsentinel.Watcher"

// RecentAlerts returns the latest attack events.
type RecentAlerts func() []model.AttackEvent

// Server holds the dependencies for the API handlers.
type Server struct {
	cfg     config.APIConfig
	store   maliciouslog.Store
	recent  RecentAlerts
	metrics *metrics.Metrics
	logger  *zap.Logger
	started time.Time

	router *mux.Router
	health *health.Server
}

// New creates a Server. recent and m may be nil.
func New(cfg config.APIConfig, store maliciouslog.Store, recent RecentAlerts, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		store:   store,
		recent:  recent,
		metrics: m,
		logger:  logger,
		started: time.Now(),
		health:  health.NewServer(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/health", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/malicious", s.maliciousHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/alerts/recent", s.recentAlertsHandler).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	s.router = r

	s.SetServing(true)
	return s
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

// Health returns the gRPC health service.
func (s *Server) Health() *health.Server { return s.health }

// SetServing flips the reported health status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Run serves HTTP and gRPC until ctx is cancelled, then reports NOT_SERVING
// and shuts both servers down.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var grpcServer *grpc.Server
	var grpcLis net.Listener
	if s.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.GRPCAddr, err)
		}
		grpcLis = lis
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, s.health)
	}

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("API server starting", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("could not listen on %s: %w", httpServer.Addr, err)
		}
	}()
	if grpcServer != nil {
		go func() {
			s.logger.Info("gRPC health server starting", zap.String("addr", grpcLis.Addr().String()))
			if err := grpcServer.Serve(grpcLis); err != nil {
				errCh <- fmt.Errorf("gRPC server failed: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	s.logger.Info("API server shutting down...")
	s.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("API server forced to shutdown", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	s.logger.Info("API server exited.")
	return runErr
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := s.health.Check(r.Context(), &healthpb.HealthCheckRequest{Service: ServiceName})
	status := "unknown"
	code := http.StatusServiceUnavailable
	if err == nil {
		status = resp.GetStatus().String()
		if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			code = http.StatusOK
		}
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// maliciousHandler lists the logged entries. ?window=60s limits them to the
// trailing window.
func (s *Server) maliciousHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Scan(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read malicious log: %v", err), http.StatusInternalServerError)
		return
	}
	if raw := r.URL.Query().Get("window"); raw != "" {
		window, err := time.ParseDuration(raw)
		if err != nil || window < 0 {
			http.Error(w, fmt.Sprintf("invalid window '%s'", raw), http.StatusBadRequest)
			return
		}
		entries = maliciouslog.Since(entries, time.Now().Add(-window))
	}
	if entries == nil {
		entries = []model.MaliciousEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(entries), "entries": entries})
}

func (s *Server) recentAlertsHandler(w http.ResponseWriter, r *http.Request) {
	alerts := []model.AttackEvent{}
	if s.recent != nil {
		if got := s.recent(); got != nil {
			alerts = got
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
