package handlers

import (
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chat-widget/internal/models"
)

// HandleProfile reads the visitor's profile on GET and replaces it on POST. A POST must carry the
// "college", "major", and "other" form fields, each of which may be empty.
func (m Main) HandleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, err := m.session(w, r)
	if err != nil {
		m.logger.Error("Failed to get session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if r.Method == http.MethodGet {
		p, err := s.ctl.Profile(r.Context())
		if err != nil {
			m.logger.Warn("Failed to get profile", slog.String(errLoggerKey, err.Error()))
			status, msg := backendErrorStatus(err)
			writeJSONError(w, status, msg)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid form")
		return
	}
	for _, field := range []string{"college", "major", "other"} {
		if _, ok := r.PostForm[field]; !ok {
			writeJSONError(w, http.StatusBadRequest, field+" is required")
			return
		}
	}

	p := models.Profile{
		College: r.PostForm.Get("college"),
		Major:   r.PostForm.Get("major"),
		Other:   r.PostForm.Get("other"),
	}
	if err := s.ctl.SaveProfile(r.Context(), p); err != nil {
		m.logger.Warn("Failed to save profile", slog.String(errLoggerKey, err.Error()))
		status, msg := backendErrorStatus(err)
		writeJSONError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
