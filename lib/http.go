package lib

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, struct {
		Error string `json:"error"`
	}{
		Error: message,
	})
}

func (s *Server) respondUnauthorized(w http.ResponseWriter) {
	s.respondError(w, http.StatusUnauthorized, "unauthorized")
}

func (s *Server) respondInternalError(w http.ResponseWriter) {
	s.respondError(w, http.StatusInternalServerError, "internal error")
}
