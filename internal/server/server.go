// Package server provides the HTTP server for the study session service.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/CS196Illinois/FA25-Group8/internal/config"
	apperrors "github.com/CS196Illinois/FA25-Group8/internal/errors"
	"github.com/CS196Illinois/FA25-Group8/internal/handler"
	"github.com/CS196Illinois/FA25-Group8/internal/health"
	"github.com/CS196Illinois/FA25-Group8/internal/metrics"
	"github.com/CS196Illinois/FA25-Group8/internal/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const apiPrefix = "/v1"

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	handler      http.Handler
	httpServer   *http.Server
	handlers     *handler.Handlers
	healthCheck  *health.HealthChecker
	errorHandler *apperrors.Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server. m may be nil to skip request metrics.
func NewServer(
	cfg *config.Config,
	handlers *handler.Handlers,
	healthCheck *health.HealthChecker,
	errorHandler *apperrors.Handler,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	s := &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     handlers,
		healthCheck:  healthCheck,
		errorHandler: errorHandler,
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
	}
	s.setupRoutes()
	s.handler = s.wrap(s.router)
	s.httpServer.Handler = s.handler
	return s
}

// wrap puts the middleware chain around the whole router, so unmatched
// paths and wrong methods are tagged and logged like routed requests.
func (s *Server) wrap(router http.Handler) http.Handler {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.errorHandler, s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.CORS(s.cfg.Server.AllowedOrigins),
	}
	if s.metrics != nil {
		middlewareChain = append(middlewareChain, middleware.Metrics(s.metrics))
	}

	if s.cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.cfg.Server.TrustedProxies,
			s.errorHandler,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	if s.cfg.Server.RequestTimeout > 0 {
		middlewareChain = append(middlewareChain, middleware.Timeout(s.cfg.Server.RequestTimeout))
	}

	return middleware.Chain(middlewareChain...)(router)
}

// setupRoutes configures all HTTP routes. The /v1 routes live on the root
// router so its 404 and 405 handlers apply to them.
func (s *Server) setupRoutes() {
	// Publishes the matched route template to the outer logging and metrics middleware
	s.router.Use(middleware.RecordRoute)

	// Health check endpoints
	s.router.HandleFunc("/health", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	// Study sessions
	s.router.HandleFunc(apiPrefix+"/sessions", s.handlers.CreateSession).Methods(http.MethodPost)
	s.router.HandleFunc(apiPrefix+"/sessions/{session_id}", s.handlers.GetSession).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/sessions/{session_id}/attendees", s.handlers.JoinSession).Methods(http.MethodPost)
	s.router.HandleFunc(apiPrefix+"/sessions/{session_id}/attendees/{user_id}", s.handlers.LeaveSession).Methods(http.MethodDelete)

	// Locations; /top must be registered ahead of /{location_id}
	s.router.HandleFunc(apiPrefix+"/locations/top", s.handlers.GetTopRated).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/locations/{location_id}", s.handlers.GetLocation).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/locations/{location_id}/ratings/{user_id}", s.handlers.UpsertRating).Methods(http.MethodPut)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apperrors.ErrCodeNotFound, "endpoint not found", r.Header.Get("X-Request-ID"))
	})

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, apperrors.ErrCodeInvalidArgument, "method not allowed", r.Header.Get("X-Request-ID"))
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.Int("port", s.cfg.Server.Port),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
