package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Clark-Hu/votetally/internal/config"
	"github.com/Clark-Hu/votetally/internal/domain"
	"github.com/Clark-Hu/votetally/internal/fraud"
	"github.com/Clark-Hu/votetally/internal/ledger"
	"github.com/Clark-Hu/votetally/internal/logging"
)

// VoteService is the vote ledger as seen by the HTTP layer.
type VoteService interface {
	CastVote(ctx context.Context, voterID, itemID string, score int) (domain.Vote, ledger.CastResult, error)
	GetVote(ctx context.Context, voterID, itemID string) (domain.Vote, error)
	GetAggregate(ctx context.Context, itemID string) (domain.Aggregate, error)
}

// FraudTrigger starts an out-of-band fraud detection run.
type FraudTrigger interface {
	TriggerNow(ctx context.Context) (fraud.RunReport, error)
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg     config.Config
	health  HealthChecker
	votes   VoteService
	fraud   FraudTrigger
	logger  *slog.Logger
	router  chi.Router
	httpSrv *http.Server
}

// New constructs the HTTP server with base middleware and routes.
func New(cfg config.Config, health HealthChecker, votes VoteService, trigger FraudTrigger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(correlationMiddleware)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:    cfg,
		health: health,
		votes:  votes,
		fraud:  trigger,
		logger: logger,
		router: r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	s.router.Route("/items/{itemID}", func(r chi.Router) {
		r.Put("/vote", s.handleCastVote)
		r.Get("/vote", s.handleGetVote)
		r.Get("/aggregate", s.handleGetAggregate)
	})
	s.router.Post("/admin/fraud-detection", s.handleTriggerFraudDetection)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start boots the HTTP server and blocks until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			s.logger.WarnContext(ctx, "health check failed", "error", err)
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// correlationMiddleware tags the request context with chi's request id so
// every log line written while serving it carries the same correlation_id.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := middleware.GetReqID(r.Context())
		if id == "" {
			id = logging.NewID()
		}
		next.ServeHTTP(w, r.WithContext(logging.WithID(r.Context(), id)))
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}
