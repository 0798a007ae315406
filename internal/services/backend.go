package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/chat-widget/internal/models"
)

// Backend is the HTTP client for the chatbot backend. It sends the visitor's credential cookies with
// every request, so one Backend serves exactly one widget session.
type Backend struct {
	baseURL     *url.URL
	bearerToken string

	client *http.Client

	logger *slog.Logger
}

// APIError is returned for any non-2xx backend response. Message holds the "error" field of the JSON
// body and is empty when the body had none.
type APIError struct {
	StatusCode int
	Message    string
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

type chatRequest struct {
	Question      string `json:"question"`
	Authorization string `json:"Authorization,omitempty"`
}

type feedbackRequest struct {
	ResponseID    string `json:"responseID"`
	IsLiked       bool   `json:"is_liked"`
	Authorization string `json:"Authorization,omitempty"`
}

type authorizedResponse struct {
	IsAuthorized *bool `json:"is_authorized"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const streamReadSize = 4096

// WithHTTPClient replaces the default HTTP client. Its cookie jar, if any, is kept.
func WithHTTPClient(client *http.Client) BackendOption {
	return func(b *Backend) {
		b.client = client
	}
}

// WithBearerToken makes the client send token both as an Authorization header and as the Authorization
// field of chat and feedback bodies, which older backend deployments read.
func WithBearerToken(token string) BackendOption {
	return func(b *Backend) {
		b.bearerToken = token
	}
}

// WithCookies seeds the client's cookie jar with the visitor's credential cookies.
func WithCookies(cookies []*http.Cookie) BackendOption {
	return func(b *Backend) {
		if len(cookies) == 0 {
			return
		}
		if b.client.Jar == nil {
			jar, err := cookiejar.New(nil)
			if err != nil {
				return
			}
			b.client.Jar = jar
		}
		b.client.Jar.SetCookies(b.baseURL, cookies)
	}
}

// NewBackend creates a Backend for the backend rooted at baseURL.
func NewBackend(baseURL string, logger *slog.Logger, opts ...BackendOption) (Backend, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return Backend{}, fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Backend{}, fmt.Errorf("invalid backend url %q: scheme and host are required", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return Backend{}, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	b := Backend{
		baseURL: u,
		client:  &http.Client{Jar: jar},
		logger:  logger.With(slog.String("module", "backend")),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b, nil
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// UserMessage returns the message the backend meant for the visitor.
func (e *APIError) UserMessage() string {
	return e.Message
}

// LoginURL is where the visitor is redirected to start the login flow.
func (b Backend) LoginURL() string {
	return b.endpoint("/login")
}

// LogoutURL is where the visitor is redirected to end the backend session.
func (b Backend) LogoutURL() string {
	return b.endpoint("/logout")
}

// Chat sends question to the chat endpoint and returns the whole answer.
func (b Backend) Chat(ctx context.Context, question string) (models.ChatReply, error) {
	res, err := b.do(ctx, http.MethodPost, "/chat", chatRequest{
		Question:      question,
		Authorization: b.bearerToken,
	}, "application/json")
	if err != nil {
		return models.ChatReply{}, err
	}
	defer res.Body.Close()

	var reply models.ChatReply
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return models.ChatReply{}, fmt.Errorf("failed to decode chat response: %w", err)
	}
	return reply, nil
}

// ChatStream sends question to the chat endpoint and returns an iterator over the chunks of the answer
// body as they arrive. A non-2xx status is reported before any chunk is read. The iterator yields an
// error at most once, as its last element, and closes the body when it returns.
func (b Backend) ChatStream(ctx context.Context, question string) (iter.Seq2[string, error], error) {
	res, err := b.do(ctx, http.MethodPost, "/chat", chatRequest{
		Question:      question,
		Authorization: b.bearerToken,
	}, "text/plain")
	if err != nil {
		return nil, err
	}

	return func(yield func(string, error) bool) {
		defer res.Body.Close()

		buf := make([]byte, streamReadSize)
		for {
			n, err := res.Body.Read(buf)
			if n > 0 {
				if !yield(string(buf[:n]), nil) {
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield("", fmt.Errorf("error reading chat stream: %w", err))
				return
			}
		}
	}, nil
}

// Feedback records the visitor's like or dislike of the answer identified by responseID.
func (b Backend) Feedback(ctx context.Context, responseID string, liked bool) error {
	res, err := b.do(ctx, http.MethodPost, "/feedback", feedbackRequest{
		ResponseID:    responseID,
		IsLiked:       liked,
		Authorization: b.bearerToken,
	}, "application/json")
	if err != nil {
		return err
	}
	return res.Body.Close()
}

// IsAuthorized asks the backend whether the visitor's credentials are valid. A response without the
// is_authorized field is an error.
func (b Backend) IsAuthorized(ctx context.Context) (bool, error) {
	res, err := b.do(ctx, http.MethodGet, "/is-authorized", nil, "application/json")
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	var ar authorizedResponse
	if err := json.NewDecoder(res.Body).Decode(&ar); err != nil {
		return false, fmt.Errorf("failed to decode authorization response: %w", err)
	}
	if ar.IsAuthorized == nil {
		return false, errors.New("authorization response has no is_authorized field")
	}
	return *ar.IsAuthorized, nil
}

// Profile returns the visitor's stored profile.
func (b Backend) Profile(ctx context.Context) (models.Profile, error) {
	res, err := b.do(ctx, http.MethodGet, "/current-profile-info", nil, "application/json")
	if err != nil {
		return models.Profile{}, err
	}
	defer res.Body.Close()

	var p models.Profile
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return models.Profile{}, fmt.Errorf("failed to decode profile: %w", err)
	}
	return p, nil
}

// SaveProfile replaces the visitor's stored profile.
func (b Backend) SaveProfile(ctx context.Context, p models.Profile) error {
	res, err := b.do(ctx, http.MethodPost, "/insert-profile-info", p, "application/json")
	if err != nil {
		return err
	}
	return res.Body.Close()
}

func (b Backend) endpoint(path string) string {
	return b.baseURL.JoinPath(path).String()
}

// do sends the request and turns non-2xx responses into *APIError. On success the caller owns the body.
func (b Backend) do(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.endpoint(path), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	if b.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.bearerToken)
	}

	res, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		defer res.Body.Close()
		apiErr := &APIError{StatusCode: res.StatusCode}
		var er errorResponse
		if err := json.NewDecoder(res.Body).Decode(&er); err == nil {
			apiErr.Message = er.Error
		}
		b.logger.Debug("Backend error response",
			slog.String("path", path),
			slog.Int("status", res.StatusCode),
			slog.String("error", apiErr.Message))
		return nil, apiErr
	}

	return res, nil
}
