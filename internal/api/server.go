// Package api exposes the bot's read-only status surface over HTTP: health,
// breaker states, tracked orders, positions and recent reconciliation
// findings. It never mutates trading state.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"intraday-trading-bot/internal/broker/resilient"
	"intraday-trading-bot/internal/events"
	"intraday-trading-bot/internal/health"
	"intraday-trading-bot/internal/logger"
	"intraday-trading-bot/internal/orders"
	"intraday-trading-bot/internal/positions"
	"intraday-trading-bot/internal/reconcile"
)

type Server struct {
	monitor *health.Monitor
	reg     *orders.Registry
	pos     *positions.Store
	posRC   *reconcile.PositionReconciler
	brk     *resilient.Broker
	bus     *events.Bus

	httpSrv *http.Server
}

func NewServer(addr string, monitor *health.Monitor, reg *orders.Registry, pos *positions.Store, posRC *reconcile.PositionReconciler, brk *resilient.Broker, bus *events.Bus) *Server {
	s := &Server{
		monitor: monitor,
		reg:     reg,
		pos:     pos,
		posRC:   posRC,
		brk:     brk,
		bus:     bus,
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogging)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Get("/orders", s.handleOrders)
	r.Get("/orders/{order_id}", s.handleOrder)
	r.Get("/positions", s.handlePositions)
	r.Get("/mismatches", s.handleMismatches)

	return r
}

// Start serves until the listener fails. Run it on its own goroutine.
func (s *Server) Start() error {
	logger.Info(context.Background(), "Status API listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := s.monitor.Status()
	code := http.StatusOK
	if status == health.StatusDown {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(status)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"health":         s.monitor.Snapshot(),
		"breakers":       s.brk.Snapshots(),
		"open_orders":    len(s.reg.NonTerminal()),
		"open_positions": s.pos.Count(),
		"events_dropped": s.bus.Dropped(),
	})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	records := s.reg.All()
	if r.URL.Query().Get("open") == "true" {
		records = s.reg.NonTerminal()
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "order_id")
	rec, ok := s.reg.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pos.All())
}

func (s *Server) handleMismatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.posRC.Recent())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogging logs each request's method, path, status and duration.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		logger.Debug(r.Context(), "API request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
