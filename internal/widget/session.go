package widget

import (
	"slices"
	"sync"

	"github.com/MegaGrindStone/chat-widget/internal/models"
)

// Session is the state of one widget conversation. It is created once per visitor and only changed
// through its methods, which keep three invariants: at most one chat request is in flight, exactly one
// response identifier is current, and only the feedback control of that response is visible.
type Session struct {
	mu sync.Mutex

	auth     models.AuthState
	inFlight bool

	currentResponseID string
	// feedbackMessageID is the bot message that carries the visible feedback control.
	feedbackMessageID string

	messages []models.Message
}

func newSession(authorized bool) *Session {
	return &Session{auth: models.AuthState{Authorized: authorized}}
}

// begin claims the session for a chat request.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return ErrBusy
	}
	if !s.auth.Authorized {
		return ErrInputDisabled
	}
	s.inFlight = true
	return nil
}

// end releases the claim taken by begin and reports whether input is enabled afterwards.
func (s *Session) end() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = false
	return s.auth.Authorized
}

func (s *Session) inputEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.auth.Authorized && !s.inFlight
}

// setAuth replaces the authorization state and reports whether input is enabled afterwards.
func (s *Session) setAuth(state models.AuthState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auth = state
	return s.auth.Authorized && !s.inFlight
}

func (s *Session) authState() models.AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return models.AuthState{
		Authorized:  s.auth.Authorized,
		Suggestions: slices.Clone(s.auth.Suggestions),
	}
}

func (s *Session) appendMessage(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, m)
}

func (s *Session) updateMessage(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(m.ID); i >= 0 {
		s.messages[i] = m
	}
}

// setCurrentResponse makes responseID the current identifier, moves the visible feedback control to
// messageID and returns the control that was visible before, if any.
func (s *Session) setCurrentResponse(messageID, responseID string) (FeedbackControl, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadPrev := s.controlLocked()
	prev.Visible = false

	s.currentResponseID = responseID
	s.feedbackMessageID = ""
	if responseID != "" {
		s.feedbackMessageID = messageID
	}
	return prev, hadPrev
}

// toggleFeedback applies a like or dislike click to the control of responseID and returns the new state
// of the control and of the message carrying it.
func (s *Session) toggleFeedback(responseID string, liked bool) (FeedbackControl, models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentResponseID == "" || responseID == "" {
		return FeedbackControl{}, models.Message{}, ErrNoResponse
	}
	if responseID != s.currentResponseID {
		return FeedbackControl{}, models.Message{}, ErrFeedbackSuperseded
	}

	i := s.indexOf(s.feedbackMessageID)
	if i < 0 {
		return FeedbackControl{}, models.Message{}, ErrNoResponse
	}
	s.messages[i].Feedback = s.messages[i].Feedback.Toggle(liked)

	ctrl, _ := s.controlLocked()
	return ctrl, s.messages[i], nil
}

func (s *Session) feedbackControl() (FeedbackControl, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.controlLocked()
}

func (s *Session) controlLocked() (FeedbackControl, bool) {
	i := s.indexOf(s.feedbackMessageID)
	if i < 0 {
		return FeedbackControl{}, false
	}
	return FeedbackControl{
		MessageID:  s.messages[i].ID,
		ResponseID: s.currentResponseID,
		State:      s.messages[i].Feedback,
		Visible:    true,
	}, true
}

// newestFirst returns a copy of the messages in display order.
func (s *Session) newestFirst() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := slices.Clone(s.messages)
	slices.Reverse(msgs)
	return msgs
}

func (s *Session) indexOf(messageID string) int {
	if messageID == "" {
		return -1
	}
	return slices.IndexFunc(s.messages, func(m models.Message) bool { return m.ID == messageID })
}
