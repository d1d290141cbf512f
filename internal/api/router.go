package api

import (
	"log/slog"
	"net/http"

	"github.com/scionsync/scion/internal/realtime"
	"github.com/scionsync/scion/internal/vault"
)

// Server holds the dependencies every handler needs: the vault registry
// (Content + Identity Stores, per-vault writer lock) and the fan-out hub.
type Server struct {
	registry *vault.Registry
	hub      *realtime.Hub
	logger   *slog.Logger
}

// NewServer wires a Server to the given registry and hub.
func NewServer(registry *vault.Registry, hub *realtime.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{registry: registry, hub: hub, logger: logger}
}

// Routes builds the HTTP surface, using the standard library's method-
// and wildcard-aware ServeMux patterns (Go 1.22+) rather than a
// third-party router - the HTTP transport is treated as a non-domain
// concern, so this is the one place in the module that intentionally
// stays on the standard library.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws/status", s.handleWSStatus)

	mux.HandleFunc("GET /vault/{vault}/manifest", s.handleManifest)
	mux.HandleFunc("GET /vault/{vault}/status", s.handleStatus)
	mux.HandleFunc("GET /vault/{vault}/file/{path...}", s.handleFileGet)
	mux.HandleFunc("DELETE /vault/{vault}/file/{path...}", s.handleFileDelete)
	mux.HandleFunc("GET /vault/{vault}/file-by-id/{id}", s.handleFileByID)
	mux.HandleFunc("POST /vault/{vault}/sync", s.handleSync)
	mux.HandleFunc("POST /vault/{vault}/sync/v2", s.handleSyncV2)
	mux.HandleFunc("POST /vault/{vault}/detect-rename", s.handleDetectRename)
	mux.HandleFunc("POST /vault/{vault}/rename", s.handleRename)
	mux.HandleFunc("GET /vault/{vault}/ws", s.handleWebsocket)

	return mux
}
