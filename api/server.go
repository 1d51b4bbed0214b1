// Package api provides the HTTP REST API server for the tracker.
//
// It exposes the dashboard view state (displayed coins, search term,
// loading/error status), lets clients change the search term or trigger a
// refresh, and streams state changes and notifications over WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/cosmictracker/internal/config"
	"github.com/seenimoa/cosmictracker/internal/dashboard"
	"github.com/seenimoa/cosmictracker/internal/infra"
	"github.com/seenimoa/cosmictracker/pkg/utils"
)

// eventBuffer is the controller subscription buffer used by the event pump.
const eventBuffer = 64

// Options configures a Server.
type Options struct {
	Config     *config.Config
	Controller *dashboard.Controller
	Logger     logrus.FieldLogger
	Version    string
}

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	ctrl    *dashboard.Controller
	wsHub   *WSHub
	log     *logrus.Entry
	version string

	// baseCtx outlives individual requests; WebSocket-triggered refreshes run on it.
	baseCtx context.Context
	// wsRefreshing is set while a WebSocket-triggered refresh is running.
	wsRefreshing atomic.Bool
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(opts Options) *Server {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		cfg:     opts.Config,
		ctrl:    opts.Controller,
		log:     infra.Component(opts.Logger, "api"),
		version: version,
		baseCtx: context.Background(),
	}
	s.wsHub = NewWSHub(s.log)
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Run performs the initial load and serves the API until ctx is cancelled or
// SIGINT/SIGTERM arrives, then shuts down gracefully. The WebSocket hub, the
// controller event pump and the HTTP listener share one errgroup.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	s.baseCtx = gctx

	httpSrv := &http.Server{
		Addr:              s.cfg.API.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	pump := s.subscribeEvents()

	g.Go(func() error { return s.wsHub.Run(gctx) })
	g.Go(func() error { return pump(gctx) })
	g.Go(func() error {
		// Failures are already recorded in the controller state.
		_ = s.ctrl.Start(gctx)
		return nil
	})
	g.Go(func() error {
		s.log.WithField("addr", httpSrv.Addr).Info("HTTP API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// subscribeEvents registers with the controller immediately and returns the
// loop that forwards its events to WebSocket clients.
func (s *Server) subscribeEvents() func(ctx context.Context) error {
	events, cancel := s.ctrl.Subscribe(eventBuffer)
	return func(ctx context.Context) error {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				s.wsHub.Broadcast(wsMessageFor(ev))
			}
		}
	}
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	// CORS
	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", s.handleHealth)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/health", s.handleHealth)

			// Dashboard
			r.Get("/coins", s.handleCoins)
			r.Put("/search", s.handleSearch)
			r.Post("/refresh", s.handleRefresh)

			// Config (read-only)
			r.Get("/config", s.handleGetConfig)
		})

		// WebSocket
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SearchRequest is the body for PUT /api/v1/search.
type SearchRequest struct {
	Term string `json:"term"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":     "ok",
			"version":    s.version,
			"dashboard":  s.ctrl.Status(),
			"ws_clients": s.wsHub.ClientCount(),
			"time_utc":   utils.FormatDateTimeUTC(time.Now()),
		},
	})
}

func (s *Server) handleCoins(w http.ResponseWriter, r *http.Request) {
	var snap dashboard.Snapshot
	if q := r.URL.Query(); q.Has("search") {
		snap = s.ctrl.SetSearchTerm(q.Get("search"))
	} else {
		snap = s.ctrl.Snapshot()
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: newSnapshotView(snap, time.Now())})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	snap := s.ctrl.SetSearchTerm(req.Term)
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: newSnapshotView(snap, time.Now())})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, dashboard.ErrorMessage)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: newSnapshotView(s.ctrl.Snapshot(), time.Now())})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}
