package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/handlers"
	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/widget"
	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmaxmax/go-sse"
	"golang.org/x/time/rate"
)

type mockBackend struct {
	mu sync.Mutex

	authorized bool
	authErr    error
	reply      models.ChatReply
	chatErr    error
	profile    models.Profile
	profileErr error

	questions []string
	feedback  []string
	saved     []models.Profile
}

type mockAPIError struct {
	msg string
}

type mockStore struct {
	mu       sync.Mutex
	sessions map[string][]models.Message
	deleted  []string
	nextID   int
}

func newMockStore() *mockStore {
	return &mockStore{sessions: make(map[string][]models.Message)}
}

func testConfig() handlers.Config {
	return handlers.Config{
		Deployment: handlers.Deployment{
			Institution:   "Boston University",
			BotName:       "Terrier",
			Title:         "Ask Terrier",
			WelcomeText:   "Welcome back!",
			LoggedOutText: "Please log in first.",
			Placeholder:   "Ask away",
		},
		Widget:      widget.Options{RequireAuth: true, SuggestionSlots: 2},
		Suggestions: []string{"Where is the library?", "What majors exist?"},
	}
}

func newTestMain(t *testing.T, backend *mockBackend, store *mockStore, cfg handlers.Config) handlers.Main {
	t.Helper()

	factory := func(*http.Request) (handlers.Backend, error) {
		return backend, nil
	}
	m, err := handlers.NewMain(factory, store, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
	})
	return m
}

// visit serves req with h, carrying cookie when set. It returns the recorder and the session cookie set
// by the response, or cookie when the response set none.
func visit(h http.HandlerFunc, req *http.Request, cookie *http.Cookie) (*httptest.ResponseRecorder, *http.Cookie) {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	h(w, req)

	for _, c := range w.Result().Cookies() {
		if c.Name == handlers.SessionCookieName {
			return w, c
		}
	}
	return w, cookie
}

func postForm(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// retryWhileConflict repeats the POST while it is answered with 409, which happens until the previous
// question of the session has been fully answered.
func retryWhileConflict(
	t *testing.T,
	h http.HandlerFunc,
	target string,
	cookie *http.Cookie,
	values url.Values,
) *httptest.ResponseRecorder {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		w, _ := visit(h, postForm(target, values), cookie)
		if w.Code != http.StatusConflict || time.Now().After(deadline) {
			return w
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func parseHTML(t *testing.T, fragment string) *goquery.Document {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	require.NoError(t, err)
	return doc
}

func TestNewMain(t *testing.T) {
	main, err := handlers.NewMain(func(*http.Request) (handlers.Backend, error) {
		return &mockBackend{}, nil
	}, newMockStore(), handlers.Config{}, slog.Default())
	require.NoError(t, err)

	assert.NoError(t, main.Shutdown(context.Background()))
}

func TestHandleHome(t *testing.T) {
	tests := []struct {
		name       string
		backend    *mockBackend
		wantBody   []string
		unwantBody string
	}{
		{
			name:       "Authorized visitor",
			backend:    &mockBackend{authorized: true},
			wantBody:   []string{"Welcome back!", "Ask Terrier", "suggestion"},
			unwantBody: "Please log in first.",
		},
		{
			name:       "Unauthorized visitor",
			backend:    &mockBackend{authorized: false},
			wantBody:   []string{"Please log in first.", "disabled"},
			unwantBody: "Welcome back!",
		},
		{
			name:       "Failed authorization check",
			backend:    &mockBackend{authorized: true, authErr: errors.New("boom")},
			wantBody:   []string{"Please log in first."},
			unwantBody: "Welcome back!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMain(t, tt.backend, newMockStore(), testConfig())

			w, cookie := visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), nil)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.NotNil(t, cookie, "HandleHome() should set the session cookie")
			for _, want := range tt.wantBody {
				assert.Contains(t, w.Body.String(), want)
			}
			assert.NotContains(t, w.Body.String(), tt.unwantBody)
		})
	}
}

func TestHandleHomeNotFound(t *testing.T) {
	m := newTestMain(t, &mockBackend{}, newMockStore(), testConfig())

	w, _ := visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleHomeBranding(t *testing.T) {
	m := newTestMain(t, &mockBackend{authorized: true}, newMockStore(), testConfig())

	w, _ := visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	require.Equal(t, http.StatusOK, w.Code)

	doc := parseHTML(t, w.Body.String())
	assert.Equal(t, "Boston University | Ask Terrier", doc.Find("title").Text())
	assert.Equal(t, "Boston University", doc.Find(".widget-institution").Text())

	cfg := testConfig()
	cfg.Deployment.Institution = ""
	m = newTestMain(t, &mockBackend{authorized: true}, newMockStore(), cfg)

	w, _ = visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	doc = parseHTML(t, w.Body.String())
	assert.Equal(t, "Ask Terrier", doc.Find("title").Text())
	assert.Equal(t, 0, doc.Find(".widget-institution").Length())
}

func TestHandleChat(t *testing.T) {
	backend := &mockBackend{
		authorized: true,
		reply:      models.ChatReply{Response: "Try **Mugar** library.", ResponseID: "r1"},
	}
	m := newTestMain(t, backend, newMockStore(), testConfig())

	_, cookie := visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	w, _ := visit(m.HandleChat, httptest.NewRequest(http.MethodGet, "/widget/chat", nil), cookie)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w, _ = visit(m.HandleChat, postForm("/widget/chat", url.Values{"message": {"Where do I study?"}}), cookie)
	require.Equal(t, http.StatusAccepted, w.Code)

	// Feedback is accepted once the answer is the current response.
	w = retryWhileConflict(t, m.HandleFeedback, "/widget/feedback", cookie,
		url.Values{"response_id": {"r1"}, "liked": {"true"}})
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, []string{"Where do I study?"}, backend.getQuestions())
	assert.Equal(t, []string{"r1:true"}, backend.getFeedback())

	w, _ = visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), cookie)
	for _, want := range []string{"Where do I study?", "<strong>Mugar</strong>", `data-response-id="r1"`} {
		assert.Contains(t, w.Body.String(), want)
	}
}

func TestHandleHomeHidesWelcomeOnceChatting(t *testing.T) {
	backend := &mockBackend{
		authorized: true,
		reply:      models.ChatReply{Response: "answer", ResponseID: "r1"},
	}
	m := newTestMain(t, backend, newMockStore(), testConfig())

	w, cookie := visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	welcome := parseHTML(t, w.Body.String()).Find("#welcome")
	require.Equal(t, 1, welcome.Length())
	_, hidden := welcome.Attr("hidden")
	assert.False(t, hidden)

	w, _ = visit(m.HandleChat, postForm("/widget/chat", url.Values{"message": {"hi"}}), cookie)
	require.Equal(t, http.StatusAccepted, w.Code)
	w = retryWhileConflict(t, m.HandleFeedback, "/widget/feedback", cookie,
		url.Values{"response_id": {"r1"}, "liked": {"true"}})
	require.Equal(t, http.StatusNoContent, w.Code)

	w, _ = visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), cookie)
	welcome = parseHTML(t, w.Body.String()).Find("#welcome")
	require.Equal(t, 1, welcome.Length())
	_, hidden = welcome.Attr("hidden")
	assert.True(t, hidden)
}

func TestHandleChatInputDisabled(t *testing.T) {
	m := newTestMain(t, &mockBackend{authorized: false}, newMockStore(), testConfig())

	_, cookie := visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	w, _ := visit(m.HandleChat, postForm("/widget/chat", url.Values{"message": {"hi"}}), cookie)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleChatRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.ChatRate = rate.Every(time.Hour)
	cfg.ChatBurst = 1
	m := newTestMain(t, &mockBackend{authorized: true}, newMockStore(), cfg)

	_, cookie := visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	w, _ := visit(m.HandleChat, postForm("/widget/chat", url.Values{"message": {"one"}}), cookie)
	require.Equal(t, http.StatusAccepted, w.Code)

	w, _ = visit(m.HandleChat, postForm("/widget/chat", url.Values{"message": {"two"}}), cookie)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate limited")
}

func TestSessionsStoredOnFirstMessage(t *testing.T) {
	store := newMockStore()
	backend := &mockBackend{
		authorized: true,
		reply:      models.ChatReply{Response: "answer", ResponseID: "r1"},
	}
	m := newTestMain(t, backend, store, testConfig())

	for i := 0; i < 50; i++ {
		visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), nil)
		visit(m.HandleAuth, httptest.NewRequest(http.MethodGet, "/widget/auth", nil), nil)
	}
	assert.Equal(t, 0, store.sessionCount())

	_, cookie := visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	w, _ := visit(m.HandleChat, postForm("/widget/chat", url.Values{"message": {"hi"}}), cookie)
	require.Equal(t, http.StatusAccepted, w.Code)
	w = retryWhileConflict(t, m.HandleFeedback, "/widget/feedback", cookie,
		url.Values{"response_id": {"r1"}, "liked": {"true"}})
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, 1, store.sessionCount())
}

func TestIdleSessionsEvicted(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTTL = 200 * time.Millisecond
	m := newTestMain(t, &mockBackend{authorized: true}, newMockStore(), cfg)

	var first *http.Cookie
	for i := 0; i < 3; i++ {
		_, c := visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), nil)
		if first == nil {
			first = c
		}
	}
	assert.Equal(t, 3, m.LiveSessions())

	time.Sleep(500 * time.Millisecond)

	_, c := visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), first)
	assert.Equal(t, first.Value, c.Value)
	assert.Equal(t, 1, m.LiveSessions())
}

func TestSSEEvents(t *testing.T) {
	backend := &mockBackend{
		authorized: true,
		reply:      models.ChatReply{Response: "Try **Mugar** library.", ResponseID: "r1"},
	}
	m := newTestMain(t, backend, newMockStore(), testConfig())

	ts := httptest.NewServer(http.HandlerFunc(m.HandleSSE))
	defer ts.Close()

	_, cookie := visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	require.NotNil(t, cookie)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan sse.Event)
	go func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
		if err != nil {
			return
		}
		req.AddCookie(cookie)
		res, err := ts.Client().Do(req)
		if err != nil {
			return
		}
		defer res.Body.Close()

		for e, err := range sse.Read(res.Body, nil) {
			if err != nil {
				return
			}
			select {
			case events <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	next := func() sse.Event {
		t.Helper()
		select {
		case e := <-events:
			return e
		case <-time.After(2 * time.Second):
			require.FailNow(t, "timed out waiting for an event")
		}
		return sse.Event{}
	}

	// Loading the page publishes the welcome block, which shows the stream is subscribed.
	subscribed := false
	for i := 0; i < 40 && !subscribed; i++ {
		visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), cookie)
		select {
		case e := <-events:
			subscribed = e.Type == string(widget.EventAuthChanged)
		case <-time.After(50 * time.Millisecond):
		}
	}
	require.True(t, subscribed, "event stream never subscribed")

	w, _ := visit(m.HandleChat, postForm("/widget/chat", url.Values{"message": {"Where do I study?"}}), cookie)
	require.Equal(t, http.StatusAccepted, w.Code)

	e := next()
	for e.Type != string(widget.EventInputChanged) || e.Data != "disabled" {
		e = next()
	}
	got := []sse.Event{e}
	for len(got) < 6 {
		got = append(got, next())
	}

	types := make([]string, len(got))
	for i, e := range got {
		types[i] = e.Type
	}
	assert.Equal(t, []string{
		string(widget.EventInputChanged),
		string(widget.EventMessageAppended),
		string(widget.EventMessageAppended),
		string(widget.EventMessageUpdated),
		string(widget.EventFeedbackChanged),
		string(widget.EventInputChanged),
	}, types)

	question := parseHTML(t, got[1].Data).Find("#message-msg-1")
	require.Equal(t, 1, question.Length())
	assert.True(t, question.HasClass("message-user"))
	assert.Contains(t, question.Text(), "Where do I study?")

	placeholder := parseHTML(t, got[2].Data).Find("#message-msg-2")
	require.Equal(t, 1, placeholder.Length())
	assert.True(t, placeholder.HasClass("message-pending"))

	answer := parseHTML(t, got[3].Data)
	require.Equal(t, 1, answer.Find("#message-msg-2").Length())
	assert.False(t, answer.Find("#message-msg-2").HasClass("message-pending"))
	assert.Equal(t, "Mugar", answer.Find("#message-msg-2 strong").Text())
	_, hidden := answer.Find("#feedback-msg-2").Attr("hidden")
	assert.True(t, hidden, "feedback of an updated message stays hidden until feedback_changed")

	feedback := parseHTML(t, got[4].Data).Find("#feedback-msg-2")
	require.Equal(t, 1, feedback.Length())
	_, hidden = feedback.Attr("hidden")
	assert.False(t, hidden)
	responseID, _ := feedback.Attr("data-response-id")
	assert.Equal(t, "r1", responseID)

	assert.Equal(t, "enabled", got[5].Data)
}

func TestHandleFeedback(t *testing.T) {
	m := newTestMain(t, &mockBackend{authorized: true}, newMockStore(), testConfig())

	_, cookie := visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	tests := []struct {
		name       string
		method     string
		values     url.Values
		wantStatus int
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Missing response id",
			method:     http.MethodPost,
			values:     url.Values{"liked": {"true"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Invalid liked",
			method:     http.MethodPost,
			values:     url.Values{"response_id": {"r1"}, "liked": {"maybe"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "No answer yet",
			method:     http.MethodPost,
			values:     url.Values{"response_id": {"r1"}, "liked": {"false"}},
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := postForm("/widget/feedback", tt.values)
			req.Method = tt.method

			w, _ := visit(m.HandleFeedback, req, cookie)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestHandleFeedbackSuperseded(t *testing.T) {
	backend := &mockBackend{
		authorized: true,
		reply:      models.ChatReply{Response: "first", ResponseID: "r1"},
	}
	m := newTestMain(t, backend, newMockStore(), testConfig())

	_, cookie := visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	w := retryWhileConflict(t, m.HandleChat, "/widget/chat", cookie, url.Values{"message": {"one"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	w = retryWhileConflict(t, m.HandleFeedback, "/widget/feedback", cookie,
		url.Values{"response_id": {"r1"}, "liked": {"true"}})
	require.Equal(t, http.StatusNoContent, w.Code)

	backend.setReply(models.ChatReply{Response: "second", ResponseID: "r2"})
	w = retryWhileConflict(t, m.HandleChat, "/widget/chat", cookie, url.Values{"message": {"two"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	w = retryWhileConflict(t, m.HandleFeedback, "/widget/feedback", cookie,
		url.Values{"response_id": {"r2"}, "liked": {"false"}})
	require.Equal(t, http.StatusNoContent, w.Code)

	w, _ = visit(m.HandleFeedback, postForm("/widget/feedback", url.Values{"response_id": {"r1"}, "liked": {"true"}}), cookie)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleAuth(t *testing.T) {
	tests := []struct {
		name    string
		backend *mockBackend
		want    bool
	}{
		{name: "Authorized", backend: &mockBackend{authorized: true}, want: true},
		{name: "Unauthorized", backend: &mockBackend{authorized: false}, want: false},
		{name: "Backend error", backend: &mockBackend{authErr: errors.New("down")}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMain(t, tt.backend, newMockStore(), testConfig())

			w, _ := visit(m.HandleAuth, httptest.NewRequest(http.MethodGet, "/widget/auth", nil), nil)
			require.Equal(t, http.StatusOK, w.Code)

			var res struct {
				IsAuthorized bool     `json:"is_authorized"`
				Suggestions  []string `json:"suggestions"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
			assert.Equal(t, tt.want, res.IsAuthorized)
			if tt.want {
				assert.Len(t, res.Suggestions, 2)
			}
		})
	}
}

func TestHandleProfile(t *testing.T) {
	backend := &mockBackend{
		authorized: true,
		profile:    models.Profile{College: "CAS", Major: "History"},
	}
	m := newTestMain(t, backend, newMockStore(), testConfig())

	w, cookie := visit(m.HandleProfile, httptest.NewRequest(http.MethodGet, "/widget/profile", nil), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var p models.Profile
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Equal(t, backend.profile, p)

	w, _ = visit(m.HandleProfile, postForm("/widget/profile", url.Values{
		"college": {"ENG"},
		"major":   {""},
	}), cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = visit(m.HandleProfile, postForm("/widget/profile", url.Values{
		"college": {"ENG"},
		"major":   {""},
		"other":   {"transfer"},
	}), cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.Profile{{College: "ENG", Other: "transfer"}}, backend.getSaved())

	w, _ = visit(m.HandleProfile, httptest.NewRequest(http.MethodDelete, "/widget/profile", nil), cookie)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleProfileBackendError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{name: "Backend message", err: &mockAPIError{msg: "profile locked"}, wantMsg: "profile locked"},
		{name: "Transport failure", err: errors.New("connection refused"), wantMsg: "network problem."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMain(t, &mockBackend{profileErr: tt.err}, newMockStore(), testConfig())

			w, _ := visit(m.HandleProfile, httptest.NewRequest(http.MethodGet, "/widget/profile", nil), nil)
			assert.Equal(t, http.StatusBadGateway, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantMsg)
		})
	}
}

func TestHandleLoginLogout(t *testing.T) {
	store := newMockStore()
	m := newTestMain(t, &mockBackend{authorized: true}, store, testConfig())

	w, _ := visit(m.HandleLogin, httptest.NewRequest(http.MethodGet, "/login", nil), nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://bot.example.edu/login", w.Header().Get("Location"))

	_, cookie := visit(m.HandleHome, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	w, _ = visit(m.HandleLogout, httptest.NewRequest(http.MethodGet, "/logout", nil), cookie)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://bot.example.edu/logout", w.Header().Get("Location"))
	assert.Equal(t, []string{cookie.Value}, store.getDeleted())

	expired := false
	for _, c := range w.Result().Cookies() {
		if c.Name == handlers.SessionCookieName && c.MaxAge < 0 {
			expired = true
		}
	}
	assert.True(t, expired, "HandleLogout() should expire the session cookie")
}

func (m *mockBackend) Chat(_ context.Context, question string) (models.ChatReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.questions = append(m.questions, question)
	if m.chatErr != nil {
		return models.ChatReply{}, m.chatErr
	}
	return m.reply, nil
}

func (m *mockBackend) ChatStream(ctx context.Context, question string) (iter.Seq2[string, error], error) {
	reply, err := m.Chat(ctx, question)
	if err != nil {
		return nil, err
	}
	return func(yield func(string, error) bool) {
		yield(reply.Response+"\nresponseID: "+reply.ResponseID, nil)
	}, nil
}

func (m *mockBackend) Feedback(_ context.Context, responseID string, liked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.feedback = append(m.feedback, fmt.Sprintf("%s:%t", responseID, liked))
	return nil
}

func (m *mockBackend) IsAuthorized(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.authorized, m.authErr
}

func (m *mockBackend) Profile(context.Context) (models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.profile, m.profileErr
}

func (m *mockBackend) SaveProfile(_ context.Context, p models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saved = append(m.saved, p)
	return m.profileErr
}

func (m *mockBackend) LoginURL() string {
	return "https://bot.example.edu/login"
}

func (m *mockBackend) LogoutURL() string {
	return "https://bot.example.edu/logout"
}

func (m *mockBackend) setReply(reply models.ChatReply) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reply = reply
}

func (m *mockBackend) getQuestions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.questions...)
}

func (m *mockBackend) getFeedback() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.feedback...)
}

func (m *mockBackend) getSaved() []models.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]models.Profile(nil), m.saved...)
}

func (e *mockAPIError) Error() string {
	return "api error: " + e.msg
}

func (e *mockAPIError) UserMessage() string {
	return e.msg
}

func (s *mockStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	s.deleted = append(s.deleted, sessionID)
	return nil
}

func (s *mockStore) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.Message(nil), s.sessions[sessionID]...), nil
}

func (s *mockStore) AddMessage(_ context.Context, sessionID string, message models.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	message.ID = fmt.Sprintf("msg-%d", s.nextID)
	s.sessions[sessionID] = append(s.sessions[sessionID], message)
	return message.ID, nil
}

func (s *mockStore) UpdateMessage(_ context.Context, sessionID string, message models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, msg := range s.sessions[sessionID] {
		if msg.ID == message.ID {
			s.sessions[sessionID][i] = message
		}
	}
	return nil
}

func (s *mockStore) getDeleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.deleted...)
}

func (s *mockStore) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}
