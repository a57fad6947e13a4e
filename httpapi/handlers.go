package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/isdmx/coderun/engine"
)

// --- JSON helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListLanguages(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.executor.Languages())
}

type runRequest struct {
	Language string  `json:"language"`
	Code     *string `json:"code"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Language == "" {
		s.writeError(w, http.StatusBadRequest, "language is required")
		return
	}
	if req.Code == nil {
		s.writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	result, err := s.executor.Execute(r.Context(), req.Language, *req.Code)
	s.writeJSON(w, statusFor(err), result)
}

// statusFor maps Execute errors to HTTP status codes. The body is the
// well-formed result either way.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, engine.ErrUnsupportedLanguage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
