package handlers

import (
	"log/slog"
	"net/http"
	"time"
)

type authResponse struct {
	IsAuthorized bool     `json:"is_authorized"`
	Suggestions  []string `json:"suggestions,omitempty"`
}

// HandleAuth re-runs the authorization check of the visitor's session and reports the outcome. The page
// calls it after returning from the login flow.
func (m Main) HandleAuth(w http.ResponseWriter, r *http.Request) {
	s, err := m.session(w, r)
	if err != nil {
		m.logger.Error("Failed to get session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	state := s.ctl.CheckAuthorization(r.Context())
	writeJSON(w, http.StatusOK, authResponse{
		IsAuthorized: state.Authorized,
		Suggestions:  state.Suggestions,
	})
}

// HandleLogin redirects the visitor to the backend's login page.
func (m Main) HandleLogin(w http.ResponseWriter, r *http.Request) {
	backend, err := m.newBackend(r)
	if err != nil {
		m.logger.Error("Failed to create backend", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, backend.LoginURL(), http.StatusFound)
}

// HandleLogout forgets the visitor's local session and transcript, then redirects to the backend's
// logout page.
func (m Main) HandleLogout(w http.ResponseWriter, r *http.Request) {
	backend, err := m.newBackend(r)
	if err != nil {
		m.logger.Error("Failed to create backend", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if c, err := r.Cookie(SessionCookieName); err == nil {
		if err := m.dropSession(r.Context(), c.Value); err != nil {
			m.logger.Warn("Failed to drop session",
				slog.String("session", c.Value),
				slog.String(errLoggerKey, err.Error()))
		}
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
		})
	}

	http.Redirect(w, r, backend.LogoutURL(), http.StatusFound)
}
