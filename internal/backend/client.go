// Package backend implements the client for the hosted marketplace API:
// the query, write and identity collaborators the sync core depends on.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Harelzx/skillup-messaging/internal/chat"
)

// ErrNotFound marks a missing conversation or message.
var ErrNotFound = errors.New("backend: not found")

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: HTTP %d: %s", e.Status, e.Message)
}

// Retryable reports whether the failure is transient.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Config defines backend client settings.
type Config struct {
	BaseURL     string
	Token       string
	UserID      string
	CallTimeout time.Duration
	HTTPClient  *http.Client
}

// Client talks to the marketplace backend over REST.
type Client struct {
	baseURL     string
	token       string
	userID      string
	callTimeout time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient validates the config and returns a typed client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend: base URL required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("backend: user id required")
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		userID:      cfg.UserID,
		callTimeout: callTimeout,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// CurrentUserID returns the identity the client acts as. Used to tell
// self-originated events from counterpart events.
func (c *Client) CurrentUserID() string { return c.userID }

// MessagePage is one page of a conversation's history.
type MessagePage struct {
	Messages []chat.Message `json:"items"`
	Total    int            `json:"total"`
	HasMore  bool           `json:"has_more"`
}

// FetchMessages loads one page of messages for a conversation.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, limit, offset int) (MessagePage, error) {
	if conversationID == "" {
		return MessagePage{}, errors.New("backend: conversation id required")
	}
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	var page MessagePage
	err := c.do(ctx, http.MethodGet, "/v1/conversations/"+url.PathEscape(conversationID)+"/messages", query, nil, &page)
	if err != nil {
		return MessagePage{}, err
	}
	return page, nil
}

// FetchConversations loads every conversation the user participates in.
func (c *Client) FetchConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	if userID == "" {
		userID = c.userID
	}
	query := url.Values{}
	query.Set("user_id", userID)
	var out struct {
		Items []chat.Conversation `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/conversations", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// SendMessage performs the authoritative write. The returned message carries
// the server-assigned id; the client never invents one, so id-based dedup
// against the realtime push stays meaningful.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error) {
	content = strings.TrimSpace(content)
	if conversationID == "" || content == "" {
		return chat.Message{}, errors.New("backend: conversation id and content required")
	}
	body := map[string]string{"content": content}
	var msg chat.Message
	err := c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/messages", nil, body, &msg)
	if err != nil {
		return chat.Message{}, err
	}
	if msg.ID == "" {
		return chat.Message{}, errors.New("backend: send response missing message id")
	}
	return msg, nil
}

// MarkConversationRead marks the thread read for the current user.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("backend: conversation id required")
	}
	return c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(callCtx, method, u, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-User-ID", c.userID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("backend: decode response: %w", err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	return trimmed
}
