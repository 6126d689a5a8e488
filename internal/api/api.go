// Package api serves the operational HTTP surface of BotPipe: health,
// Prometheus metrics and read-only views of bots and sessions.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BTreeMap/BotPipe/internal/models"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":9090"

const shutdownTimeout = 5 * time.Second

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BotLister lists the bots of the running process.
type BotLister interface {
	List() []models.Bot
}

// SessionViewer exposes scenario sessions of one user.
type SessionViewer interface {
	ActiveSession(ctx context.Context, botID, userID string) (*models.Session, error)
	ListSessions(ctx context.Context, botID, userID string) ([]models.Session, error)
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	store    Pinger
	bots     BotLister
	sessions SessionViewer
	gatherer prometheus.Gatherer
	router   chi.Router
}

// NewServer builds the router. A nil gatherer serves the default registry.
func NewServer(store Pinger, bots BotLister, sessions SessionViewer, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{store: store, bots: bots, sessions: sessions, gatherer: gatherer}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.healthHandler)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/bots", func(r chi.Router) {
		r.Get("/", s.listBotsHandler)
		r.Get("/{botID}/users/{userID}/session", s.activeSessionHandler)
		r.Get("/{botID}/users/{userID}/sessions", s.sessionHistoryHandler)
	})
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("API server failed", "addr", addr, "error", err)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
		return err
	}
	slog.Info("API server stopped")
	return nil
}
