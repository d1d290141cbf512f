// Package api implements the Sync API Surface: the HTTP handlers over the
// Operation Engine, Batch Coordinator, Rename Detector, and Real-time
// Fan-out. The HTTP server plumbing itself (routing, middleware, CORS) is
// treated as an external collaborator - only the request/response
// contract matters here - so this package reaches for nothing beyond
// net/http's own ServeMux rather than a third-party router.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/scionsync/scion/internal/apperr"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps an apperr.Kind to its corresponding HTTP status and
// writes a JSON body carrying only the operation and identifier the
// error already curated - never an internal path or stack trace.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		logger.Error("unexpected error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch ae.Kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusBadRequest
	case apperr.KindFatal:
		status = http.StatusInternalServerError
		logger.Error("fatal backend error", "op", ae.Op, "identifier", ae.Identifier, "error", ae.Err)
	}
	writeJSON(w, status, errorResponse{Error: ae.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
