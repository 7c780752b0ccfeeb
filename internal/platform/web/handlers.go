package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dontdude/codestream/internal/domain"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write JSON response", "status", status, "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidSubmission), errors.Is(err, domain.ErrUnsupportedLanguage):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyStarted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "error", err)
		writeError(w, status, "Internal Server Error")
		return
	}
	writeError(w, status, err.Error())
}

// --- Handlers ---

type submitRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Field-level validation, one message per failing field.
	invalid := map[string]string{}
	if strings.TrimSpace(req.Code) == "" {
		invalid["code"] = "must not be blank"
	}
	lang, err := domain.ParseLanguage(req.Language)
	if err != nil {
		invalid["language"] = "must be any of " + strings.Join(domain.LanguageNames(), ", ")
	}
	if len(invalid) > 0 {
		writeJSON(w, http.StatusBadRequest, invalid)
		return
	}

	id, err := s.svc.Submit(r.Context(), req.Code, lang)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, id)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.svc.Stop(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.Find(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
