package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"neighbor-assist/pkg/assist"
	"neighbor-assist/pkg/logging"
	"neighbor-assist/pkg/metrics"
	"neighbor-assist/pkg/ratelimit"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the assist features and their caches over HTTP.
type Server struct {
	assist      *assist.Service
	ipLimiter   *ratelimit.Limiter
	userLimiter *ratelimit.Limiter
	metrics     metrics.Collector
	http        *httpMetrics
	router      *mux.Router
	server      *http.Server
	logger      *logging.Logger
	config      ServerConfig
	startedAt   time.Time
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses. Keep it above the generation timeout.
	WriteTimeout time.Duration

	// IdleTimeout for keep-alive connections
	IdleTimeout time.Duration

	// EnablePprof enables Go profiling endpoints at /debug/pprof/*
	EnablePprof bool

	// IPLimiter gates generation endpoints per client address. Nil disables it.
	IPLimiter *ratelimit.Limiter

	// UserLimiter additionally gates requests carrying X-User-ID. Nil disables it.
	UserLimiter *ratelimit.Limiter

	// TrustForwardedFor takes the client address from X-Forwarded-For
	TrustForwardedFor bool

	// Metrics receives application metrics. If it can produce a snapshot,
	// /metrics/json serves it.
	Metrics metrics.Collector

	// Registry, when set, receives HTTP metrics and is served on /metrics
	Registry *prometheus.Registry

	Logger *logging.Logger
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates the API server for svc.
func NewServer(svc *assist.Service, config ServerConfig) (*Server, error) {
	if svc == nil {
		return nil, errors.New("api: assist service is required")
	}
	if config.Logger == nil {
		config.Logger = logging.Global()
	}

	s := &Server{
		assist:      svc,
		ipLimiter:   config.IPLimiter,
		userLimiter: config.UserLimiter,
		metrics:     metrics.OrNoOp(config.Metrics),
		logger:      config.Logger.Named("api"),
		config:      config,
		startedAt:   time.Now(),
	}

	if config.Registry != nil {
		s.http = newHTTPMetrics()
		if err := s.http.register(config.Registry); err != nil {
			return nil, err
		}
	}

	s.router = s.routes()
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.accessLog)
	if s.http != nil {
		r.Use(s.http.middleware)
	}

	// Health and status endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/languages", s.handleLanguages).Methods(http.MethodGet)

	// Metrics endpoints
	if s.config.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.config.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/metrics/json", s.handleMetricsJSON).Methods(http.MethodGet)

	// Cache and limiter inspection
	r.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	r.HandleFunc("/cache/participants/{id}", s.handleInvalidate).Methods(http.MethodDelete)
	r.HandleFunc("/ratelimit/stats", s.handleRateLimitStats).Methods(http.MethodGet)

	// Generation endpoints, rate limited
	gen := r.NewRoute().Subrouter()
	gen.Use(s.rateLimit)
	gen.HandleFunc("/explanations", s.handleExplain).Methods(http.MethodPost)
	gen.HandleFunc("/explanations/batch", s.handleExplainBatch).Methods(http.MethodPost)
	gen.HandleFunc("/suggestions", s.handleSuggest).Methods(http.MethodPost)
	gen.HandleFunc("/translations", s.handleTranslate).Methods(http.MethodPost)
	gen.HandleFunc("/emergencies/responders", s.handleResponders).Methods(http.MethodPost)

	if s.config.EnablePprof {
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}

	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("API server listening", zap.String("address", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
