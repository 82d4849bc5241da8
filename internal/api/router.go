// Package api exposes the mirror over HTTP: sync control, record queries,
// settings, and quick capture.
package api

import (
	"log/slog"
	"net/http"

	"github.com/mirrorkit/notionmirror/internal/capture"
	"github.com/mirrorkit/notionmirror/internal/settings"
	"github.com/mirrorkit/notionmirror/internal/store"
	"github.com/mirrorkit/notionmirror/internal/syncer"
)

type Server struct {
	store    *store.Store
	settings *settings.Store
	capture  *capture.Store
	manager  *syncer.Manager
	logger   *slog.Logger
	mux      *http.ServeMux
}

func NewServer(st *store.Store, cfg *settings.Store, cap *capture.Store, mgr *syncer.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:    st,
		settings: cfg,
		capture:  cap,
		manager:  mgr,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handler := requestLoggingMiddleware(s.logger,
		requestMetricsMiddleware(getDefaultHTTPMetrics(),
			requestTracingMiddleware(
				requestBodyLimitMiddleware(s.mux))))
	handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Sync control
	s.mux.HandleFunc("POST /api/notion/sync", s.handleStartSync)
	s.mux.HandleFunc("GET /api/notion/sync/status", s.handleSyncStatus)

	// Read APIs over the mirror
	s.mux.HandleFunc("GET /api/notion/records", s.handleListRecords)
	s.mux.HandleFunc("GET /api/notion/records/{id}/fields", s.handleRecordFields)
	s.mux.HandleFunc("GET /api/notion/columns", s.handleListColumns)
	s.mux.HandleFunc("GET /api/notion/filters", s.handleFilterValues)
	s.mux.HandleFunc("GET /api/notion/stats", s.handleStats)

	// Settings
	s.mux.HandleFunc("GET /api/settings/{module}", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/settings/{module}", s.handlePutSettings)

	// Quick capture
	s.mux.HandleFunc("GET /api/capture/tasks", s.handleListCaptures)
	s.mux.HandleFunc("POST /api/capture/tasks", s.handleCreateCapture)
	s.mux.HandleFunc("DELETE /api/capture/tasks/{id}", s.handleDeleteCapture)

	// Operational
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", metricsHandler(nil))
}
