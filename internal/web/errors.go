package web

// errors.go provides unified error response handling for the web layer.
//
// All errors are logged with full technical detail server-side, correlated
// by request id, and returned to clients as a sanitized JSON body with a
// stable machine-readable code.

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sgcan/docingest/internal/logging"
	"github.com/sgcan/docingest/internal/manifest"
	"github.com/sgcan/docingest/internal/store"
)

// ErrorResponse is the JSON structure for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError maps err to an HTTP status and a client-safe body, and logs
// the technical error with request context.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classifyError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", code,
		"error", err.Error(),
	)

	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// classifyError maps domain errors onto the API error taxonomy. Messages
// returned here are safe to show to callers.
func classifyError(err error) (status int, code, message string) {
	var schemaErr *manifest.SchemaError
	var integrityErr *store.IntegrityError

	switch {
	case errors.As(err, &schemaErr):
		// Nothing was persisted; the manifest header is unusable.
		return http.StatusBadRequest, "SCHEMA_ERROR", schemaErr.Error()
	case errors.Is(err, store.ErrBatchNotFound):
		return http.StatusNotFound, "NOT_FOUND", "batch not found"
	case errors.As(err, &integrityErr):
		return http.StatusInternalServerError, "DATA_INTEGRITY", "stored document status is invalid"
	default:
		return http.StatusInternalServerError, "PERSISTENCE_FAILURE", "ingestion failed, nothing was stored"
	}
}

// writeBadRequest reports a malformed request without going through error
// classification.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "BAD_REQUEST"})
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
