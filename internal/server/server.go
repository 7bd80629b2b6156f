// Package server exposes the service operations over a loopback HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tnunamak/clawpulse/internal/logger"
	"github.com/tnunamak/clawpulse/internal/metrics"
	"github.com/tnunamak/clawpulse/internal/service"
	"github.com/tnunamak/clawpulse/internal/usage"
)

const shutdownTimeout = 5 * time.Second

// Service is the subset of service.Service the API drives.
type Service interface {
	Login(ctx context.Context) service.LoginResult
	Logout() service.LogoutResult
	Refresh(ctx context.Context) *usage.Snapshot
	Last() *usage.Snapshot
	TriggerRefresh()
	LoginInProgress() bool
}

// Settings is reported by GET /api/settings.
type Settings struct {
	RefreshInterval time.Duration `json:"-"`
	Debug           bool          `json:"debug"`
	Mock            bool          `json:"mock"`
}

func (s Settings) MarshalJSON() ([]byte, error) {
	type alias Settings
	return json.Marshal(struct {
		RefreshIntervalMS int64 `json:"refreshInterval"`
		alias
	}{s.RefreshInterval.Milliseconds(), alias(s)})
}

type Server struct {
	svc      Service
	settings Settings
	logger   *zap.Logger
}

func New(svc Service, settings Settings, l *zap.Logger) *Server {
	return &Server{svc: svc, settings: settings, logger: logger.OrNop(l)}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/usage", s.usage)
		r.Post("/refresh", s.refresh)
		r.Post("/login", s.login)
		r.Post("/logout", s.logout)
		r.Get("/settings", s.getSettings)
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// usage returns the last snapshot, fetching one if none exists yet.
func (s *Server) usage(w http.ResponseWriter, r *http.Request) {
	snap := s.svc.Last()
	if snap == nil {
		snap = s.svc.Refresh(r.Context())
	}
	writeJSON(w, http.StatusOK, snap)
}

// refresh fetches synchronously, or with ?async=1 queues a refresh on the
// watch loop and answers 202.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		s.svc.TriggerRefresh()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Refresh(r.Context()))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if s.svc.LoginInProgress() {
		writeJSON(w, http.StatusConflict, service.LoginResult{Error: service.MsgLoginInProgress})
		return
	}
	log := logger.FromContext(r.Context())
	log.Info("login requested")
	res := s.svc.Login(r.Context())
	log.Info("login finished", zap.Bool("success", res.Success))
	status := http.StatusOK
	if !res.Success && res.Error == service.MsgLoginInProgress {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

func (s *Server) logout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Logout())
}

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settings)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonRecoverer answers a panicking handler with a JSON 500.
func jsonRecoverer(l *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					l.Error("panic recovered", zap.Any("panic", rvr), zap.Stack("stacktrace"))
					writeJSON(w, http.StatusInternalServerError, map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger emits one log line per request and puts a request-scoped
// logger in the context.
func requestLogger(l *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := l.With(zap.String("request_id", requestID))
			ctx := logger.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Debug("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
			)
		})
	}
}
