package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MegaGrindStone/chat-widget/internal/widget"
)

// HandleChat accepts a question from the "message" form field and sends it in the background. The
// answer reaches the page through the session's SSE topic, so the handler only reports whether the
// question was accepted: 202 when it was, 429 when the session exceeded its chat rate, and 409 while
// input is disabled.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
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

	if !s.limiter.Allow() {
		writeJSONError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	if !s.ctl.InputEnabled() {
		writeJSONError(w, http.StatusConflict, widget.ErrInputDisabled.Error())
		return
	}

	question := r.FormValue("message")

	// The chat outlives the request, so it must not use the request's context
	m.sessions.startChat(s)
	go m.chat(s, question)

	w.WriteHeader(http.StatusAccepted)
}

func (m Main) chat(s *session, question string) {
	defer m.sessions.endChat(s)

	ctl := s.ctl
	err := ctl.SendMessage(context.Background(), question)
	switch {
	case err == nil:
	case errors.Is(err, widget.ErrBusy), errors.Is(err, widget.ErrInputDisabled):
		m.logger.Debug("Question dropped",
			slog.String("session", ctl.SessionID()),
			slog.String(errLoggerKey, err.Error()))
	default:
		m.logger.Error("Failed to answer question",
			slog.String("session", ctl.SessionID()),
			slog.String(errLoggerKey, err.Error()))
	}
}

// HandleFeedback records a like or dislike click. It expects the "response_id" of the answer and a
// boolean "liked" form field.
func (m Main) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	responseID := r.FormValue("response_id")
	if responseID == "" {
		writeJSONError(w, http.StatusBadRequest, "response_id is required")
		return
	}
	liked, err := strconv.ParseBool(r.FormValue("liked"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "liked must be a boolean")
		return
	}

	s, err := m.session(w, r)
	if err != nil {
		m.logger.Error("Failed to get session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.ctl.SendFeedback(context.WithoutCancel(r.Context()), responseID, liked)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, widget.ErrNoResponse), errors.Is(err, widget.ErrFeedbackSuperseded):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		m.logger.Error("Failed to send feedback", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
