package handlers

import (
	"log/slog"
	"net/http"
)

type homePageData struct {
	Deployment   Deployment
	Welcome      welcomeView
	Messages     []messageView
	InputEnabled bool
}

// HandleHome renders the widget page. Loading the page runs the authorization check of the visitor's
// session, so the welcome block and input state reflect the current login.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s, err := m.session(w, r)
	if err != nil {
		m.logger.Error("Failed to get session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	auth := s.ctl.CheckAuthorization(r.Context())
	ctrl, _ := s.ctl.FeedbackControl()

	msgs := s.ctl.Messages()
	views := make([]messageView, len(msgs))
	for i, msg := range msgs {
		views[i] = m.messageView(msg, ctrl)
	}

	data := homePageData{
		Deployment:   m.cfg.Deployment,
		Welcome:      welcomeView{Deployment: m.cfg.Deployment, Auth: auth, Hidden: len(msgs) > 0},
		Messages:     views,
		InputEnabled: s.ctl.InputEnabled(),
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
