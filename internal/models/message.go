package models

import "time"

// Message represents a single entry of a widget conversation. User messages carry the question as typed,
// bot messages carry the backend answer, the HTML it rendered to, and the response identifier the backend
// assigned to it. Once a bot message stops being Pending it is not rendered again.
type Message struct {
	ID         string
	Role       Role
	Text       string
	HTML       string
	ResponseID string
	Feedback   Feedback
	Timestamp  time.Time

	// Pending is true while the message is the placeholder of an in-flight request.
	Pending bool
	// Failed is true if the request behind the placeholder ended with an error.
	Failed bool
}

// Role represents the author of a message.
type Role string

// Feedback is the like/dislike state of a bot message. The two non-empty states are mutually exclusive.
type Feedback string

const (
	// RoleUser represents a question typed by the visitor.
	RoleUser Role = "user"
	// RoleBot represents an answer, or the placeholder of an answer, produced by the backend.
	RoleBot Role = "bot"

	// FeedbackNone means neither control of the pair is active.
	FeedbackNone Feedback = ""
	// FeedbackLiked means the like control is active.
	FeedbackLiked Feedback = "liked"
	// FeedbackDisliked means the dislike control is active.
	FeedbackDisliked Feedback = "disliked"
)

// Toggle returns the feedback state after clicking the like (liked == true) or dislike control. Clicking
// the active control clears it, clicking the other one switches to it.
func (f Feedback) Toggle(liked bool) Feedback {
	clicked := FeedbackDisliked
	if liked {
		clicked = FeedbackLiked
	}
	if f == clicked {
		return FeedbackNone
	}
	return clicked
}
