package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	chatwidget "github.com/MegaGrindStone/chat-widget"
	"github.com/MegaGrindStone/chat-widget/internal/markdown"
	"github.com/MegaGrindStone/chat-widget/internal/widget"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
	"golang.org/x/time/rate"
)

// Backend is the chatbot backend of one visitor, including the pages the visitor is redirected to for
// logging in and out.
type Backend interface {
	widget.Backend
	LoginURL() string
	LogoutURL() string
}

// BackendFactory builds the Backend for the visitor behind r, carrying r's credentials.
type BackendFactory func(r *http.Request) (Backend, error)

// Store defines the interface for persisting widget transcripts. A session is only stored once its
// first message is added.
type Store interface {
	widget.Transcript
	DeleteSession(ctx context.Context, sessionID string) error
}

// Deployment holds the branding of one widget deployment.
type Deployment struct {
	Institution   string
	BotName       string
	Title         string
	WelcomeText   string
	LoggedOutText string
	Placeholder   string
}

// Config collects everything Main needs besides its collaborators.
type Config struct {
	Deployment  Deployment
	Widget      widget.Options
	Suggestions []string
	Engine      markdown.Engine

	// ChatRate and ChatBurst limit POST /widget/chat per session. A zero ChatRate disables the limit.
	ChatRate  rate.Limit
	ChatBurst int

	// SessionTTL is how long a session stays live without requests. Zero means DefaultSessionTTL.
	SessionTTL time.Duration
}

// Main handles the widget pages and endpoints. It owns the registry of live sessions, and bridges the
// events of every session controller to the session's SSE topic.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	newBackend  BackendFactory
	store       Store
	cfg         Config
	suggestions *widget.Suggestions

	sessions *sessionRegistry

	logger *slog.Logger
}

type session struct {
	ctl         *widget.Controller
	limiter     *rate.Limiter
	unsubscribe func()

	// Guarded by the registry lock.
	lastSeen time.Time
	chats    int
}

type sessionRegistry struct {
	mu        sync.Mutex
	sessions  map[string]*session
	ttl       time.Duration
	lastSweep time.Time
}

const (
	// SessionCookieName is the cookie that carries the widget session ID.
	SessionCookieName = "widget_session"

	// DefaultSessionTTL is the idle time after which a live session is dropped from memory. Its transcript
	// stays in the store and is restored on the visitor's next request.
	DefaultSessionTTL = 30 * time.Minute
)

const errLoggerKey = "err"

// NewMain creates a new Main instance. It initializes the SSE server, which subscribes every client to
// the topic of the session named by its widget cookie, and parses the HTML templates from the embedded
// filesystem.
func NewMain(newBackend BackendFactory, store Store, cfg Config, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(
		chatwidget.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	if cfg.Engine == nil {
		cfg.Engine = markdown.Subset{}
	}
	if cfg.Deployment.BotName == "" {
		cfg.Deployment.BotName = "Bot"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}

	m := Main{
		templates:   tmpl,
		newBackend:  newBackend,
		store:       store,
		cfg:         cfg,
		suggestions: widget.NewSuggestions(cfg.Suggestions, nil),
		sessions:    &sessionRegistry{sessions: make(map[string]*session), ttl: cfg.SessionTTL},
		logger:      logger.With(slog.String("module", "handlers")),
	}
	m.sseSrv = &sse.Server{
		OnSession: func(s *sse.Session) (sse.Subscription, bool) {
			c, err := s.Req.Cookie(SessionCookieName)
			if err != nil || uuid.Validate(c.Value) != nil {
				return sse.Subscription{}, false
			}

			return sse.Subscription{
				Client:      s,
				LastEventID: s.LastEventID,
				Topics:      []string{sse.DefaultTopic, sessionTopic(c.Value)},
			}, true
		},
	}

	return m, nil
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// HandleSSE serves the event stream of the visitor's session.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts a close message to all
// connected clients and waits up to 5 seconds for connections to terminate. After the timeout, any
// remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.sessions.mu.Lock()
	for id, s := range m.sessions.sessions {
		s.unsubscribe()
		delete(m.sessions.sessions, id)
	}
	m.sessions.mu.Unlock()

	e := &sse.Message{Type: sse.Type("closeWidget")}
	// Every SSE event must carry data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// session returns the live session of the visitor, creating the widget cookie and the session as
// needed. The session's backend is rebuilt from the request, so credentials obtained after the session
// was created are picked up.
func (m Main) session(w http.ResponseWriter, r *http.Request) (*session, error) {
	backend, err := m.newBackend(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}

	sessionID := ""
	if c, err := r.Cookie(SessionCookieName); err == nil && uuid.Validate(c.Value) == nil {
		sessionID = c.Value
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    sessionID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	now := time.Now()

	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	m.sessions.sweep(now)

	if s, ok := m.sessions.sessions[sessionID]; ok {
		s.ctl.SetBackend(backend)
		s.lastSeen = now
		return s, nil
	}

	ctl, err := widget.NewController(
		r.Context(),
		sessionID,
		backend,
		m.store,
		m.cfg.Engine,
		m.suggestions,
		m.cfg.Widget,
		m.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	limit, burst := m.cfg.ChatRate, m.cfg.ChatBurst
	if limit == 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}

	s := &session{
		ctl:         ctl,
		limiter:     rate.NewLimiter(limit, burst),
		unsubscribe: ctl.Subscribe(m.publisher(ctl)),
		lastSeen:    now,
	}
	m.sessions.sessions[sessionID] = s
	return s, nil
}

// sweep drops the sessions that saw no request for longer than the TTL and have no chat in flight. It
// runs at most once per half TTL. The caller must hold mu.
func (r *sessionRegistry) sweep(now time.Time) {
	if now.Sub(r.lastSweep) < r.ttl/2 {
		return
	}
	r.lastSweep = now

	for id, s := range r.sessions {
		if s.chats == 0 && now.Sub(s.lastSeen) > r.ttl {
			s.unsubscribe()
			delete(r.sessions, id)
		}
	}
}

// startChat keeps s live until the matching endChat.
func (r *sessionRegistry) startChat(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.chats++
}

func (r *sessionRegistry) endChat(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.chats--
	s.lastSeen = time.Now()
}

// dropSession forgets the visitor's session and its transcript.
func (m Main) dropSession(ctx context.Context, sessionID string) error {
	m.sessions.mu.Lock()
	if s, ok := m.sessions.sessions[sessionID]; ok {
		s.unsubscribe()
		delete(m.sessions.sessions, sessionID)
	}
	m.sessions.mu.Unlock()

	return m.store.DeleteSession(ctx, sessionID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// backendErrorStatus maps a failed backend call to the status reported to the page.
func backendErrorStatus(err error) (int, string) {
	var apiErr widget.APIError
	if errors.As(err, &apiErr) && apiErr.UserMessage() != "" {
		return http.StatusBadGateway, apiErr.UserMessage()
	}
	return http.StatusBadGateway, "network problem."
}
