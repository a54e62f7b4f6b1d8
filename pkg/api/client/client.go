// Package client is a typed client for the deploywatch daemon API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const defaultBaseURL = "http://localhost:4100"

// Client provides typed access to the deploywatch daemon for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided daemon base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid daemon base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// IsConflict reports whether err is a 409 from the daemon.
func IsConflict(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// Deployment mirrors a deployment record served by the daemon.
type Deployment struct {
	UID       string     `json:"uid"`
	Name      string     `json:"name"`
	URL       string     `json:"url"`
	State     string     `json:"state"`
	Creator   string     `json:"creator"`
	Target    string     `json:"target"`
	CreatedAt time.Time  `json:"created_at"`
	ReadyAt   *time.Time `json:"ready_at"`
}

// State mirrors a hook tracking state.
type State struct {
	HookID             string      `json:"hook_id"`
	Status             string      `json:"status"`
	Label              string      `json:"label"`
	ErrorMessage       string      `json:"error_message"`
	IsPolling          bool        `json:"is_polling"`
	IsTriggering       bool        `json:"is_triggering"`
	IsResolvingProject bool        `json:"is_resolving_project"`
	IsRemoving         bool        `json:"is_removing"`
	ProjectID          string      `json:"project_id"`
	Deployment         *Deployment `json:"deployment"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Settled reports whether the hook is neither triggering, polling nor resolving.
func (s State) Settled() bool {
	return !s.IsPolling && !s.IsTriggering && !s.IsResolvingProject
}

// Hook describes a deploy hook registered with the daemon.
type Hook struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	ProjectName string    `json:"project_name"`
	TeamID      string    `json:"team_id"`
	TeamName    string    `json:"team_name"`
	CreatedAt   time.Time `json:"created_at"`
	State       State     `json:"state"`
}

// CreateHookInput captures the payload for hook registration.
type CreateHookInput struct {
	Name        string `json:"name,omitempty"`
	URL         string `json:"url"`
	ProjectName string `json:"project_name"`
	Token       string `json:"token,omitempty"`
	TeamID      string `json:"team_id,omitempty"`
	TeamName    string `json:"team_name,omitempty"`
}

// ListHooks returns every registered hook.
func (c *Client) ListHooks(ctx context.Context, token string) ([]Hook, error) {
	var hooks []Hook
	if err := c.do(ctx, http.MethodGet, "/hooks", nil, token, &hooks); err != nil {
		return nil, err
	}
	return hooks, nil
}

// GetHook fetches one hook.
func (c *Client) GetHook(ctx context.Context, token, id string) (Hook, error) {
	var hook Hook
	if err := c.do(ctx, http.MethodGet, "/hooks/"+url.PathEscape(id), nil, token, &hook); err != nil {
		return Hook{}, err
	}
	return hook, nil
}

// CreateHook registers a new hook.
func (c *Client) CreateHook(ctx context.Context, token string, input CreateHookInput) (Hook, error) {
	var hook Hook
	if err := c.do(ctx, http.MethodPost, "/hooks", input, token, &hook); err != nil {
		return Hook{}, err
	}
	return hook, nil
}

// DeployHook fires the hook through the daemon.
func (c *Client) DeployHook(ctx context.Context, token, id string) (Hook, error) {
	var hook Hook
	path := fmt.Sprintf("/hooks/%s/deploy", url.PathEscape(id))
	if err := c.do(ctx, http.MethodPost, path, nil, token, &hook); err != nil {
		return Hook{}, err
	}
	return hook, nil
}

// DeleteHook removes a hook.
func (c *Client) DeleteHook(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/hooks/"+url.PathEscape(id), nil, token, nil)
}

// ListDeployments fetches recent deployments of the hook's project.
func (c *Client) ListDeployments(ctx context.Context, token, id string, limit int) ([]Deployment, error) {
	query := ""
	if limit > 0 {
		query = fmt.Sprintf("?limit=%d", limit)
	}
	path := fmt.Sprintf("/hooks/%s/deployments%s", url.PathEscape(id), query)
	var deployments []Deployment
	if err := c.do(ctx, http.MethodGet, path, nil, token, &deployments); err != nil {
		return nil, err
	}
	return deployments, nil
}

// Follow streams state updates for hook id until fn returns false, ctx ends
// or the connection drops. An empty id follows every hook.
func (c *Client) Follow(ctx context.Context, token, id string, fn func(State) bool) error {
	wsURL, err := url.Parse(c.baseURL + "/ws/hooks")
	if err != nil {
		return fmt.Errorf("build stream url: %w", err)
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	q := wsURL.Query()
	if id != "" {
		q.Set("id", id)
	}
	wsURL.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	conn, resp, err := c.dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
		}
		return fmt.Errorf("open stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var st State
		if err := conn.ReadJSON(&st); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if !fn(st) {
			return nil
		}
	}
}
