package widget

import "github.com/MegaGrindStone/chat-widget/internal/models"

// EventType names a state change of the controller.
type EventType string

// Event types emitted by a Controller.
const (
	EventMessageAppended EventType = "message_appended"
	EventMessageUpdated  EventType = "message_updated"
	EventAuthChanged     EventType = "auth_changed"
	EventFeedbackChanged EventType = "feedback_changed"
	EventInputChanged    EventType = "input_changed"
)

// Event describes one state change. Only the field matching Type is set.
type Event struct {
	Type EventType

	Message      models.Message
	Auth         models.AuthState
	Feedback     FeedbackControl
	InputEnabled bool
}

// FeedbackControl is the like/dislike pair attached to one bot answer.
type FeedbackControl struct {
	MessageID  string
	ResponseID string
	State      models.Feedback
	Visible    bool
}

// Listener receives controller events. Listeners run synchronously on the goroutine that caused the
// change and must not call back into the controller.
type Listener func(Event)
