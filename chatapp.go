// Package chatapp is a Go client for the chat-app service: REST access to
// accounts, the user roster, and message history, plus the realtime
// synchronization layer that owns the per-session websocket connection and
// keeps a locally cached view of presence and per-peer message logs.
//
// Example:
//
//	client := chatapp.NewClient("http://localhost:8000")
//	session, _ := client.Login(ctx, "alice", "secret")
//
//	cache := chatapp.NewCache(chatapp.NewMemoryStore())
//	conn := client.Realtime()
//	state, _ := chatapp.NewClientState(*session, cache, conn)
//	defer state.Close()
//
//	_ = conn.Connect(ctx, session)
//	state.SendMessage(ctx, bobID, "hello")
package chatapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST client. The realtime connection is created from it via
// Realtime so both share the base URL and auth token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the service at baseURL. Pass an empty
// baseURL to use DefaultBaseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the auth token, typically after Login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Realtime creates the connection manager for this client. The connection
// is not opened until Connect is called.
func (c *Client) Realtime() *Conn {
	return newConn(c.baseURL, c.token, c.logger)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Accounts
// ============================================================================

// Register creates a new account.
func (c *Client) Register(ctx context.Context, username, password, tgUsername string) (*RegisterResult, error) {
	data, err := c.doRequest(ctx, "POST", "/register", map[string]string{
		"username":    username,
		"password":    password,
		"tg_username": tgUsername,
	})
	if err != nil {
		return nil, err
	}
	return decodeJSON[RegisterResult](data)
}

// Login authenticates and returns the session. The returned token is also
// installed on the client for subsequent requests.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	data, err := c.doRequest(ctx, "POST", "/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	session, err := decodeJSON[Session](data)
	if err != nil {
		return nil, err
	}
	c.token = session.Token
	return session, nil
}

// ============================================================================
// Roster and history
// ============================================================================

// Users returns the full roster.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	data, err := c.doRequest(ctx, "GET", "/api/users", nil)
	if err != nil {
		return nil, err
	}
	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("unmarshal users: %w", err)
	}
	return users, nil
}

// UserInfo returns one user's profile.
func (c *Client) UserInfo(ctx context.Context, userID int64) (*User, error) {
	data, err := c.doRequest(ctx, "GET", "/users/info/"+strconv.FormatInt(userID, 10), nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

// History fetches the stored message page for a conversation with peerID.
// The server returns newest-first; use ClientState.MergeHistory to fold the
// page into the local log in chronological order.
func (c *Client) History(ctx context.Context, peerID int64) ([]Message, error) {
	data, err := c.doRequest(ctx, "GET", "/api/messages/"+strconv.FormatInt(peerID, 10), nil)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return msgs, nil
}

// UpdateChatID reports the user's Telegram chat id after they subscribe to
// the notifier bot.
func (c *Client) UpdateChatID(ctx context.Context, chatID int64) error {
	_, err := c.doRequest(ctx, "POST", "/users/update_chat_id", map[string]int64{
		"chat_id": chatID,
	})
	return err
}
