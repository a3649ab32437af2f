// Package deafhub is a small Go client for the DeafFirst Hub HTTP API.
package deafhub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// ErrNoToken is returned by admin calls when no access token has been set.
var ErrNoToken = errors.New("deafhub: access token is not set")

// Client wraps the hub's command and admin endpoints.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Command is a chat-style command submitted through the web channel.
type Command struct {
	Command  string         `json:"command"`
	UserID   string         `json:"user_id"`
	Platform string         `json:"platform,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// VisualFeedback carries the UI hints attached to a command reply.
type VisualFeedback struct {
	Icon      string `json:"icon"`
	Color     string `json:"color"`
	Animation string `json:"animation"`
	Vibration bool   `json:"vibration"`
}

// CommandResult is the hub's reply to a command.
type CommandResult struct {
	Status         string          `json:"status"`
	Message        string          `json:"message"`
	Kind           string          `json:"kind"`
	Data           map[string]any  `json:"data,omitempty"`
	VisualFeedback *VisualFeedback `json:"visual_feedback,omitempty"`
}

// Connector describes a registered connector.
type Connector struct {
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Provider     string         `json:"provider,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	Enabled      bool           `json:"enabled"`
	RegisteredAt time.Time      `json:"registered_at"`
}

// Execution is the outcome of running a connector verb.
type Execution struct {
	Type     string        `json:"type"`
	Name     string        `json:"name"`
	Verb     string        `json:"verb"`
	Output   any           `json:"output"`
	Duration time.Duration `json:"duration"`
}

// Event is one entry of the webhook dispatch log.
type Event struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	Platform   string    `json:"platform"`
	EventType  string    `json:"event_type,omitempty"`
	Status     string    `json:"status"`
	Code       int       `json:"code"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Message    string    `json:"message,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Duplicate  bool      `json:"duplicate"`
	DurationMS int64     `json:"duration_ms"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventQuery filters ListEvents. Zero values mean no filter.
type EventQuery struct {
	Platform string
	Status   string
	Limit    int
	Since    time.Time
}

// EventStats aggregates the dispatch log.
type EventStats struct {
	Total            int            `json:"total"`
	Succeeded        int            `json:"succeeded"`
	Failed           int            `json:"failed"`
	Duplicates       int            `json:"duplicates"`
	Platforms        map[string]int `json:"platforms"`
	OldestOccurredAt int64          `json:"oldest_occurred_at,omitempty"`
	NewestOccurredAt int64          `json:"newest_occurred_at,omitempty"`
}

// APIError is a non-2xx response from the hub.
type APIError struct {
	StatusCode int
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.ErrorCode != "" {
		return fmt.Sprintf("deafhub api error (%d): %s - %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("deafhub api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient builds a client for the hub at rawURL. When httpClient is nil a
// client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the stored admin token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken stores the admin token used by connector and event calls.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// SendCommand resolves a command through the web channel. Validation
// failures are returned as *APIError.
func (c *Client) SendCommand(ctx context.Context, cmd Command) (CommandResult, error) {
	var res CommandResult
	if err := c.send(ctx, http.MethodPost, "/api/v1/commands", nil, cmd, &res, false); err != nil {
		return CommandResult{}, err
	}
	return res, nil
}

// ListConnectors lists registered connectors, optionally restricted to one
// capability type.
func (c *Client) ListConnectors(ctx context.Context, capability string) ([]Connector, error) {
	q := url.Values{}
	if capability != "" {
		q.Set("type", capability)
	}
	var out struct {
		Connectors []Connector `json:"connectors"`
	}
	if err := c.send(ctx, http.MethodGet, "/api/v1/connectors", q, nil, &out, true); err != nil {
		return nil, err
	}
	return out.Connectors, nil
}

// SetConnectorEnabled toggles a connector without unregistering it.
func (c *Client) SetConnectorEnabled(ctx context.Context, capability, name string, enabled bool) error {
	endpoint := path.Join("/api/v1/connectors", capability, name)
	return c.send(ctx, http.MethodPatch, endpoint, nil, map[string]bool{"enabled": enabled}, nil, true)
}

// UnregisterConnector removes a connector and closes it on the server.
func (c *Client) UnregisterConnector(ctx context.Context, capability, name string) error {
	return c.send(ctx, http.MethodDelete, path.Join("/api/v1/connectors", capability, name), nil, nil, nil, true)
}

// ExecuteConnector runs verb on a connector with the given arguments.
func (c *Client) ExecuteConnector(ctx context.Context, capability, name, verb string, args any) (Execution, error) {
	payload := map[string]any{"verb": verb}
	if args != nil {
		payload["args"] = args
	}
	var out Execution
	endpoint := path.Join("/api/v1/connectors", capability, name, "execute")
	if err := c.send(ctx, http.MethodPost, endpoint, nil, payload, &out, true); err != nil {
		return Execution{}, err
	}
	return out, nil
}

// ListEvents queries the dispatch log, newest first.
func (c *Client) ListEvents(ctx context.Context, query EventQuery) ([]Event, error) {
	q := url.Values{}
	if query.Platform != "" {
		q.Set("platform", query.Platform)
	}
	if query.Status != "" {
		q.Set("status", query.Status)
	}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	if !query.Since.IsZero() {
		q.Set("since", query.Since.UTC().Format(time.RFC3339))
	}
	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.send(ctx, http.MethodGet, "/api/v1/events", q, nil, &out, true); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// EventStats aggregates the dispatch log since the given time.
func (c *Client) EventStats(ctx context.Context, since time.Time) (EventStats, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	var out EventStats
	if err := c.send(ctx, http.MethodGet, "/api/v1/events/stats", q, nil, &out, true); err != nil {
		return EventStats{}, err
	}
	return out, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload, out any, withAuth bool) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withAuth {
		token := c.AccessToken()
		if token == "" {
			return ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
