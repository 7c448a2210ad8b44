// Package server exposes node diagnostics over HTTP: health, Prometheus
// metrics and a view of the subscription spaces and dispatcher lanes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dshills/ledgerbus/internal/event"
	"github.com/dshills/ledgerbus/internal/event/dispatch"
	"github.com/dshills/ledgerbus/internal/metrics"
)

// Handler serves the diagnostics endpoints.
type Handler struct {
	source  metrics.Source
	metrics http.Handler
	logger  zerolog.Logger
}

// New builds the diagnostics router. metricsHandler may be nil, in which
// case /metrics is not mounted.
func New(source metrics.Source, metricsHandler http.Handler, logger zerolog.Logger) http.Handler {
	h := &Handler{source: source, metrics: metricsHandler, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	r.Route("/debug", func(r chi.Router) {
		r.Get("/subscriptions", h.handleSubscriptions)
		r.Get("/lanes", h.handleLanes)
		r.Get("/lanes/{lane}", h.handleLane)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.source.DispatcherStats().Disposed {
		writeError(w, http.StatusServiceUnavailable, "dispatcher disposed")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type spaceView struct {
	Name           string `json:"name"`
	Subscriptions  int    `json:"subscriptions"`
	Notifications  uint64 `json:"notifications"`
	Submitted      uint64 `json:"submitted"`
	SubmitFailures uint64 `json:"submit_failures"`
	Pruned         uint64 `json:"pruned"`
}

type laneView struct {
	ID             dispatch.LaneID `json:"id"`
	Name           string          `json:"name"`
	Enqueued       uint64          `json:"enqueued"`
	Delayed        uint64          `json:"delayed"`
	Executed       uint64          `json:"executed"`
	Panicked       uint64          `json:"panicked"`
	Dropped        uint64          `json:"dropped"`
	QueueDepth     int             `json:"queue_depth"`
	PendingDelayed int             `json:"pending_delayed"`
	AvgDuration    string          `json:"avg_duration"`
}

func newSpaceView(s event.SpaceInfo) spaceView {
	return spaceView{
		Name:           s.Name,
		Subscriptions:  s.Stats.Subscriptions,
		Notifications:  s.Stats.Notifications,
		Submitted:      s.Stats.Submitted,
		SubmitFailures: s.Stats.SubmitFailures,
		Pruned:         s.Stats.Pruned,
	}
}

func newLaneView(l dispatch.LaneStats) laneView {
	return laneView{
		ID:             l.ID,
		Name:           l.Name,
		Enqueued:       l.Enqueued,
		Delayed:        l.Delayed,
		Executed:       l.Executed,
		Panicked:       l.Panicked,
		Dropped:        l.Dropped,
		QueueDepth:     l.QueueDepth,
		PendingDelayed: l.PendingDelayed,
		AvgDuration:    l.AvgDuration.String(),
	}
}

func (h *Handler) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	spaces := h.source.Spaces()
	views := make([]spaceView, 0, len(spaces))
	for _, s := range spaces {
		views = append(views, newSpaceView(s))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleLanes(w http.ResponseWriter, r *http.Request) {
	stats := h.source.DispatcherStats()
	views := make([]laneView, 0, len(stats.Lanes))
	for _, l := range stats.Lanes {
		views = append(views, newLaneView(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"disposed": stats.Disposed,
		"lanes":    views,
	})
}

func (h *Handler) handleLane(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "lane")
	for _, l := range h.source.DispatcherStats().Lanes {
		if l.Name == name {
			writeJSON(w, http.StatusOK, newLaneView(l))
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown lane "+name)
}

// logRequests logs one line per request at debug level.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			h.logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Dur("duration", time.Since(start)).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Server runs the diagnostics handler on a TCP address.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start binds the listener and serves in the background. The returned
// address is the bound one, which differs from the configured address when
// it used port 0.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("diagnostics server stopped")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("diagnostics server listening")
	return ln.Addr(), nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
