// Package server exposes the discovery pipeline over HTTP: POST /v1/search
// and GET /health. Fatal request errors become RFC 7807 problem documents;
// everything recoverable stays inside the response's debug block.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/around-me/discovery/internal/cache"
	"github.com/around-me/discovery/internal/config"
	"github.com/around-me/discovery/internal/model"
	"github.com/around-me/discovery/internal/pipeline"
)

// Server is the HTTP API front of the search pipeline.
type Server struct {
	cfg      config.ServerConfig
	pipeline *pipeline.Pipeline
	cache    cache.Store
}

// New creates a Server.
func New(cfg config.ServerConfig, p *pipeline.Pipeline, store cache.Store) *Server {
	return &Server{cfg: cfg, pipeline: p, cache: store}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/v1/search", s.handleSearch)
	return r
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	var req model.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, reqID, Problem{
			Type:   problemTypeBase + "parse-error",
			Title:  "Malformed Request Body",
			Status: http.StatusBadRequest,
			Detail: err.Error(),
		})
		return
	}

	resp, err := s.pipeline.Search(r.Context(), &req)
	if err != nil {
		zap.L().Warn("search rejected", zap.String("request_id", reqID), zap.Error(err))
		writeProblem(w, reqID, problemFrom(err))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status  string                   `json:"status"`
	Metrics pipeline.MetricsSnapshot `json:"metrics"`
	Cache   *cache.Stats             `json:"cache,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Metrics: s.pipeline.Metrics().Snapshot(),
	}
	if counted, ok := s.cache.(interface{ Stats() cache.Stats }); ok {
		stats := counted.Stats()
		resp.Cache = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

// Run serves until ctx is cancelled, then drains within the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(s.cfg.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}
