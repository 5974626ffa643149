package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/waygate/bridge/internal/lifecycle"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string, err error) {
	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}

// writeLifecycleError maps the manager's error taxonomy onto HTTP
// status codes. The underlying message is preserved for diagnostics.
func (s *Server) writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNotReady):
		s.writeError(w, http.StatusBadRequest, "not_ready", err)
	case errors.Is(err, lifecycle.ErrInvalidArgument):
		s.writeError(w, http.StatusBadRequest, "invalid_argument", err)
	case errors.Is(err, lifecycle.ErrDeliveryFailed):
		s.writeError(w, http.StatusInternalServerError, "delivery_failed", err)
	case errors.Is(err, lifecycle.ErrUpstream):
		s.writeError(w, http.StatusInternalServerError, "upstream_error", err)
	default:
		s.writeError(w, http.StatusInternalServerError, "internal", err)
	}
}
