// Package server exposes the listing cache over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-auction-deals/metrics"
	"github.com/aluiziolira/go-auction-deals/models"
	"github.com/aluiziolira/go-auction-deals/query"
	"github.com/aluiziolira/go-auction-deals/refresh"
)

// Cache is the refresh side of the service.
type Cache interface {
	Snapshot() *refresh.Snapshot
	Start(reason string) error
}

// Querier answers listing queries.
type Querier interface {
	Query(ctx context.Context, p query.Params) (*query.Result, error)
}

// Server serves the JSON API and the Prometheus endpoint.
type Server struct {
	cache   Cache
	engine  Querier
	metrics *metrics.Metrics
	mux     *http.ServeMux
}

// New wires the routes. m may be nil, in which case /metrics is not served.
func New(cache Cache, engine Querier, m *metrics.Metrics) *Server {
	s := &Server{
		cache:   cache,
		engine:  engine,
		metrics: m,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/listings", s.handleListings)
	s.mux.HandleFunc("POST /api/scrape", s.handleScan)
	s.mux.HandleFunc("POST /api/scan", s.handleScan)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	if m != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	slog.Debug("http request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.Duration("duration", time.Since(start)),
	)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

type healthResponse struct {
	Status      string     `json:"status"`
	LastScraped *time.Time `json:"lastScraped"`
	Scraping    bool       `json:"scraping"`
	Count       int        `json:"count"`
}

type listingsResponse struct {
	Listings    []*models.Listing `json:"listings"`
	Total       int               `json:"total"`
	LastScraped *time.Time        `json:"lastScraped"`
	Scraping    bool              `json:"scraping"`
}

type scanResponse struct {
	IsScanning bool   `json:"isScanning"`
	Message    string `json:"message,omitempty"`
}

type statusResponse struct {
	IsScanning  bool       `json:"isScanning"`
	CachedCount int        `json:"cachedCount"`
	LastScraped *time.Time `json:"lastScraped"`
	Error       *string    `json:"error"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.cache.Snapshot()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		LastScraped: timePtr(snap.RefreshedAt),
		Scraping:    snap.Refreshing,
		Count:       len(snap.Listings),
	})
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	params, err := query.ParseParams(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, err := s.engine.Query(r.Context(), params)
	if err != nil {
		slog.Warn("listings query failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	listings := res.Listings
	if listings == nil {
		listings = []*models.Listing{}
	}
	writeJSON(w, http.StatusOK, listingsResponse{
		Listings:    listings,
		Total:       res.Total,
		LastScraped: timePtr(res.RefreshedAt),
		Scraping:    res.Refreshing,
	})
}

func (s *Server) handleScan(w http.ResponseWriter, _ *http.Request) {
	if err := s.cache.Start(refresh.TriggerManual); err != nil {
		writeJSON(w, http.StatusOK, scanResponse{IsScanning: true, Message: "scan already in progress"})
		return
	}
	writeJSON(w, http.StatusOK, scanResponse{IsScanning: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.cache.Snapshot()
	resp := statusResponse{
		IsScanning:  snap.Refreshing,
		CachedCount: len(snap.Listings),
		LastScraped: timePtr(snap.RefreshedAt),
	}
	if snap.LastError != nil {
		msg := snap.LastError.Error()
		resp.Error = &msg
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", slog.Any("error", err))
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
