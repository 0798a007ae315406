// Package widget implements the chat session controller: per-visitor session state, the calls to the
// chatbot backend, and an event stream that a presentation layer subscribes to instead of the
// controller touching any UI itself.
package widget

import (
	"context"
	"errors"
	"fmt"
	"html"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/markdown"
	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/google/uuid"
)

// Backend is the chatbot backend as seen by one session.
type Backend interface {
	Chat(ctx context.Context, question string) (models.ChatReply, error)
	ChatStream(ctx context.Context, question string) (iter.Seq2[string, error], error)
	Feedback(ctx context.Context, responseID string, liked bool) error
	IsAuthorized(ctx context.Context) (bool, error)
	Profile(ctx context.Context) (models.Profile, error)
	SaveProfile(ctx context.Context, p models.Profile) error
}

// Transcript persists the messages of a session. AddMessage returns the ID under which the message was
// stored; the controller uses that ID from then on.
type Transcript interface {
	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
	AddMessage(ctx context.Context, sessionID string, message models.Message) (string, error)
	UpdateMessage(ctx context.Context, sessionID string, message models.Message) error
}

// APIError is implemented by backend errors that carry a message meant for the visitor.
type APIError interface {
	error
	UserMessage() string
}

// Options is the per-deployment behaviour of a controller.
type Options struct {
	// Streaming selects the chunked chat endpoint instead of the whole-response one.
	Streaming bool
	// RequireAuth makes the session start unauthorized until CheckAuthorization succeeds. Without it the
	// session is authorized from the start and CheckAuthorization never calls the backend.
	RequireAuth bool
	// ChatTimeout bounds a chat request. Zero means no bound.
	ChatTimeout time.Duration

	SuggestionSlots int

	ThinkingText        string
	ErrorText           string
	ConnectionErrorText string

	// Extractor recovers the response identifier of streamed answers. Defaults to TrailerExtractor.
	Extractor ResponseIDExtractor
}

// Controller drives one widget session.
type Controller struct {
	sessionID string

	bmu     sync.RWMutex
	backend Backend

	transcript  Transcript
	engine      markdown.Engine
	suggestions *Suggestions
	opts        Options

	session *Session

	lmu       sync.RWMutex
	listeners map[int]Listener
	nextID    int

	logger *slog.Logger
}

var (
	// ErrBusy is returned by SendMessage while another chat request of the session is in flight.
	ErrBusy = errors.New("a chat request is already in flight")
	// ErrInputDisabled is returned by SendMessage while the session is not authorized.
	ErrInputDisabled = errors.New("input is disabled")
	// ErrNoResponse is returned by SendFeedback before any answer carried a response identifier.
	ErrNoResponse = errors.New("no response to give feedback on")
	// ErrFeedbackSuperseded is returned by SendFeedback for a response that is no longer the current one.
	ErrFeedbackSuperseded = errors.New("feedback control is superseded by a newer response")
)

const (
	defaultThinkingText        = "thinking..."
	defaultErrorText           = "network problem."
	defaultConnectionErrorText = "there was an error. Please reload and try again."
)

// NewController creates the controller of session sessionID, restoring its stored transcript.
func NewController(
	ctx context.Context,
	sessionID string,
	backend Backend,
	transcript Transcript,
	engine markdown.Engine,
	suggestions *Suggestions,
	opts Options,
	logger *slog.Logger,
) (*Controller, error) {
	if opts.ThinkingText == "" {
		opts.ThinkingText = defaultThinkingText
	}
	if opts.ErrorText == "" {
		opts.ErrorText = defaultErrorText
	}
	if opts.ConnectionErrorText == "" {
		opts.ConnectionErrorText = defaultConnectionErrorText
	}
	if opts.Extractor == nil {
		opts.Extractor = TrailerExtractor
	}
	if engine == nil {
		engine = markdown.Subset{}
	}
	if suggestions == nil {
		suggestions = NewSuggestions(nil, nil)
	}

	c := &Controller{
		sessionID:   sessionID,
		backend:     backend,
		transcript:  transcript,
		engine:      engine,
		suggestions: suggestions,
		opts:        opts,
		session:     newSession(!opts.RequireAuth),
		listeners:   make(map[int]Listener),
		logger:      logger.With(slog.String("module", "widget"), slog.String("session", sessionID)),
	}

	if err := c.restore(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Subscribe registers l for all future events and returns a function that removes it.
func (c *Controller) Subscribe(l Listener) func() {
	c.lmu.Lock()
	defer c.lmu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = l

	return func() {
		c.lmu.Lock()
		defer c.lmu.Unlock()
		delete(c.listeners, id)
	}
}

// SetBackend replaces the backend used by subsequent operations, e.g. after the visitor's credentials
// changed. Requests already in flight keep the backend they started with.
func (c *Controller) SetBackend(b Backend) {
	c.bmu.Lock()
	defer c.bmu.Unlock()

	c.backend = b
}

func (c *Controller) currentBackend() Backend {
	c.bmu.RLock()
	defer c.bmu.RUnlock()

	return c.backend
}

// SessionID returns the ID of the controlled session.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Messages returns the conversation in display order, most recent first.
func (c *Controller) Messages() []models.Message {
	return c.session.newestFirst()
}

// AuthState returns the outcome of the last authorization check.
func (c *Controller) AuthState() models.AuthState {
	return c.session.authState()
}

// InputEnabled reports whether a question can be sent right now.
func (c *Controller) InputEnabled() bool {
	return c.session.inputEnabled()
}

// FeedbackControl returns the visible feedback control, if any.
func (c *Controller) FeedbackControl() (FeedbackControl, bool) {
	return c.session.feedbackControl()
}

// CheckAuthorization asks the backend whether the visitor is logged in and re-derives the welcome block
// and input state from the answer. Any failure counts as not authorized.
func (c *Controller) CheckAuthorization(ctx context.Context) models.AuthState {
	authorized := true
	if c.opts.RequireAuth {
		var err error
		authorized, err = c.currentBackend().IsAuthorized(ctx)
		if err != nil {
			c.logger.Warn("Authorization check failed", slog.String(errLoggerKey, err.Error()))
			authorized = false
		}
	}

	state := models.AuthState{Authorized: authorized}
	if authorized {
		state.Suggestions = c.suggestions.Draw(c.opts.SuggestionSlots)
	}
	enabled := c.session.setAuth(state)

	c.emit(Event{Type: EventAuthChanged, Auth: state})
	c.emit(Event{Type: EventInputChanged, InputEnabled: enabled})
	return state
}

// SendMessage sends question to the backend and renders the answer into a placeholder bot message. It
// returns ErrBusy or ErrInputDisabled without any effect when input is disabled. Backend failures are
// shown in the placeholder and also returned. Input is re-enabled on every path that disabled it.
func (c *Controller) SendMessage(ctx context.Context, question string) error {
	if err := c.session.begin(); err != nil {
		return err
	}
	c.emit(Event{Type: EventInputChanged, InputEnabled: false})
	defer func() {
		c.emit(Event{Type: EventInputChanged, InputEnabled: c.session.end()})
	}()

	if c.opts.ChatTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ChatTimeout)
		defer cancel()
	}

	question = strings.TrimSpace(question)
	c.appendMessage(ctx, models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Text:      question,
		HTML:      plainHTML(question),
		Timestamp: time.Now(),
	})
	bm := c.appendMessage(ctx, models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleBot,
		HTML:      plainHTML(c.opts.ThinkingText),
		Pending:   true,
		Timestamp: time.Now(),
	})

	backend := c.currentBackend()
	var (
		reply models.ChatReply
		err   error
	)
	if c.opts.Streaming {
		reply, err = c.chatStream(ctx, backend, question, &bm)
	} else {
		reply, err = backend.Chat(ctx, question)
	}

	bm.Pending = false
	if err != nil {
		bm.Failed = true
		bm.Text = c.errorText(err)
		bm.HTML = plainHTML(bm.Text)
		c.updateMessage(ctx, bm, true)
		return fmt.Errorf("failed to get answer: %w", err)
	}

	bm.Text = reply.Response
	bm.HTML = c.engine.Render(reply.Response)
	bm.ResponseID = reply.ResponseID
	c.updateMessage(ctx, bm, true)

	prev, hadPrev := c.session.setCurrentResponse(bm.ID, reply.ResponseID)
	if hadPrev {
		c.emit(Event{Type: EventFeedbackChanged, Feedback: prev})
	}
	if ctrl, ok := c.session.feedbackControl(); ok {
		c.emit(Event{Type: EventFeedbackChanged, Feedback: ctrl})
	}
	return nil
}

// SendFeedback toggles the like or dislike control of responseID and reports the click to the backend.
// The new control state is emitted before the backend call; backend failures are logged and not
// reverted.
func (c *Controller) SendFeedback(ctx context.Context, responseID string, liked bool) error {
	ctrl, msg, err := c.session.toggleFeedback(responseID, liked)
	if err != nil {
		return err
	}
	c.emit(Event{Type: EventFeedbackChanged, Feedback: ctrl})
	c.persistUpdate(ctx, msg)

	if err := c.currentBackend().Feedback(ctx, responseID, liked); err != nil {
		c.logger.Warn("Failed to send feedback",
			slog.String("responseID", responseID),
			slog.Bool("liked", liked),
			slog.String(errLoggerKey, err.Error()))
	}
	return nil
}

// Profile returns the visitor's profile from the backend.
func (c *Controller) Profile(ctx context.Context) (models.Profile, error) {
	p, err := c.currentBackend().Profile(ctx)
	if err != nil {
		return models.Profile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// SaveProfile stores the visitor's profile in the backend.
func (c *Controller) SaveProfile(ctx context.Context, p models.Profile) error {
	if err := c.currentBackend().SaveProfile(ctx, p); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (c *Controller) chatStream(
	ctx context.Context,
	backend Backend,
	question string,
	bm *models.Message,
) (models.ChatReply, error) {
	chunks, err := backend.ChatStream(ctx, question)
	if err != nil {
		return models.ChatReply{}, err
	}

	s := c.engine.NewStream()
	var sb strings.Builder
	fed := 0
	for chunk, err := range chunks {
		if err != nil {
			return models.ChatReply{}, err
		}
		sb.WriteString(chunk)

		// The last complete line may be the response ID trailer, so it only reaches the stream once
		// another line completes after it.
		cut := heldLineStart(sb.String())
		if cut <= fed {
			continue
		}
		rendered := s.Write(sb.String()[fed:cut])
		fed = cut
		if rendered != "" {
			bm.HTML = rendered
			c.updateMessage(ctx, *bm, false)
		}
	}
	s.Close()

	responseID, body := c.opts.Extractor(sb.String())
	return models.ChatReply{Response: body, ResponseID: responseID}, nil
}

// heldLineStart returns the offset of the last newline terminated line of text, or 0 when text holds
// at most one such line.
func heldLineStart(text string) int {
	last := strings.LastIndexByte(text, '\n')
	if last < 0 {
		return 0
	}
	return strings.LastIndexByte(text[:last], '\n') + 1
}

func (c *Controller) errorText(err error) string {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		if msg := apiErr.UserMessage(); msg != "" {
			return msg
		}
		return c.opts.ErrorText
	}
	return c.opts.ConnectionErrorText
}

func (c *Controller) appendMessage(ctx context.Context, m models.Message) models.Message {
	if c.transcript != nil {
		id, err := c.transcript.AddMessage(ctx, c.sessionID, m)
		if err != nil {
			c.logger.Error("Failed to store message",
				slog.String("message", fmt.Sprintf("%+v", m)),
				slog.String(errLoggerKey, err.Error()))
		} else {
			m.ID = id
		}
	}
	c.session.appendMessage(m)
	c.emit(Event{Type: EventMessageAppended, Message: m})
	return m
}

// updateMessage publishes a new state of m and, when persist is set, stores it.
func (c *Controller) updateMessage(ctx context.Context, m models.Message, persist bool) {
	c.session.updateMessage(m)
	if persist {
		c.persistUpdate(ctx, m)
	}
	c.emit(Event{Type: EventMessageUpdated, Message: m})
}

func (c *Controller) persistUpdate(ctx context.Context, m models.Message) {
	if c.transcript == nil {
		return
	}
	// A timed-out chat context must not lose the final state of the placeholder.
	ctx = context.WithoutCancel(ctx)
	if err := c.transcript.UpdateMessage(ctx, c.sessionID, m); err != nil {
		c.logger.Error("Failed to update stored message",
			slog.String("messageID", m.ID),
			slog.String(errLoggerKey, err.Error()))
	}
}

func (c *Controller) restore(ctx context.Context) error {
	if c.transcript == nil {
		return nil
	}
	msgs, err := c.transcript.Messages(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("failed to restore transcript: %w", err)
	}

	lastAnswer := -1
	for i := range msgs {
		// A placeholder left behind by a request that never finished.
		if msgs[i].Pending {
			msgs[i].Pending = false
			msgs[i].Failed = true
			msgs[i].Text = c.opts.ConnectionErrorText
			msgs[i].HTML = plainHTML(msgs[i].Text)
		}
		c.session.appendMessage(msgs[i])
		if msgs[i].Role == models.RoleBot && !msgs[i].Failed {
			lastAnswer = i
		}
	}
	if lastAnswer >= 0 {
		c.session.setCurrentResponse(msgs[lastAnswer].ID, msgs[lastAnswer].ResponseID)
	}
	return nil
}

func (c *Controller) emit(e Event) {
	c.lmu.RLock()
	defer c.lmu.RUnlock()

	for _, l := range c.listeners {
		l(e)
	}
}

func plainHTML(text string) string {
	if text == "" {
		return ""
	}
	return "<p>" + html.EscapeString(text) + "</p>"
}

const errLoggerKey = "err"
