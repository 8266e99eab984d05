// Package httpapi serves the risk analysis HTTP routes.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"crypto-risk-scorer/internal/config"
	"crypto-risk-scorer/internal/service"
)

// Backend is the service surface the routes need.
type Backend interface {
	AnalyzeToken(ctx context.Context, req service.AnalyzeRequest) (service.ComprehensiveTokenData, error)
	ComprehensiveAnalysis(ctx context.Context, req service.AnalyzeRequest) service.ComprehensiveTokenData
	GenerateRiskReport(ctx context.Context, reqs []service.AnalyzeRequest, reportType service.ReportType) (service.RiskReport, error)
	MaxBatchTokens() int

	MonitoringMetrics(ctx context.Context, tokenIDs []string) service.MonitoringMetrics
	StartRealTimeMonitoring(ctx context.Context, tokens []service.AnalyzeRequest, interval time.Duration) (*service.Monitor, error)
	StopMonitoring() error
	UpdateThresholds(t service.Thresholds) service.Thresholds
	MonitorStatus() service.MonitorStatus
	ClearCache(ctx context.Context) error

	MarketData(ctx context.Context, kind string) (any, error)
	ClearMarketCache(ctx context.Context) error
}

// Observer records served requests.
type Observer interface {
	ObserveHTTP(route, method string, code int, elapsed time.Duration)
}

// Options configure the server.
type Options struct {
	Config         config.ServerConfig
	MetricsHandler http.Handler
	Observer       Observer
}

// Server wires routes, middleware and the http.Server.
type Server struct {
	router  *mux.Router
	server  *http.Server
	backend Backend
	opts    Options
	logger  zerolog.Logger
}

// New builds the server and its routes.
func New(backend Backend, opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		backend: backend,
		opts:    opts,
		logger:  logger.With().Str("component", "http").Logger(),
	}
	s.routes()

	s.server = &http.Server{
		Addr:         opts.Config.Addr,
		Handler:      s.router,
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
		IdleTimeout:  opts.Config.IdleTimeout,
	}
	return s
}

const routeAnalyzeBatch = "analyze_batch"

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.timeoutMiddleware)

	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.opts.MetricsHandler != nil {
		s.router.Handle("/metrics", s.opts.MetricsHandler).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/analyze", s.analyze).Methods(http.MethodPost)
	api.HandleFunc("/analyze/batch", s.analyzeBatch).Methods(http.MethodPost).Name(routeAnalyzeBatch)
	api.HandleFunc("/analyze/comprehensive", s.analyzeComprehensive).Methods(http.MethodPost)
	api.HandleFunc("/monitoring/metrics", s.monitoringMetrics).Methods(http.MethodGet)
	api.HandleFunc("/monitoring/metrics", s.monitoringAction).Methods(http.MethodPost)
	api.HandleFunc("/market/data", s.marketData).Methods(http.MethodGet)
	api.HandleFunc("/market/data", s.clearMarketData).Methods(http.MethodDelete)

	// 子路由不继承根路由的 404/405 处理器
	for _, router := range []*mux.Router{s.router, api} {
		router.NotFoundHandler = http.HandlerFunc(notFound)
		router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found", Details: r.URL.Path})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Details: r.Method})
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("http server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.opts.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info().Msg("shutting down http server")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

var _ Backend = (*service.Service)(nil)
