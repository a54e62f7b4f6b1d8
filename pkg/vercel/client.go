package vercel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the Vercel deploy API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
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

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = strings.TrimSpace(ua)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "https://api.vercel.com"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "https://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		userAgent:  "deploywatch",
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		code, msg := extractError(resp.Body)
		return &APIError{Status: resp.StatusCode, Code: code, Message: msg, kind: kindForStatus(resp.StatusCode)}
	}

	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// extractError understands both {"error":{"code","message"}} and {"error":"msg"}.
func extractError(body io.Reader) (string, string) {
	if body == nil {
		return "", ""
	}
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil || len(data) == 0 {
		return "", ""
	}
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Error) == 0 {
		return "", strings.TrimSpace(string(data))
	}
	var nested struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload.Error, &nested); err == nil {
		return nested.Code, strings.TrimSpace(nested.Message)
	}
	var flat string
	if err := json.Unmarshal(payload.Error, &flat); err == nil {
		return "", strings.TrimSpace(flat)
	}
	return "", strings.TrimSpace(string(payload.Error))
}

func (c *Client) endpoint(path string, query url.Values) string {
	if len(query) == 0 {
		return c.baseURL + path
	}
	return c.baseURL + path + "?" + query.Encode()
}

func teamQuery(teamID string) url.Values {
	q := url.Values{}
	if id := strings.TrimSpace(teamID); id != "" {
		q.Set("teamId", id)
	}
	return q
}

// Project is the subset of the project payload deploywatch uses.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AccountID string `json:"accountId"`
}

// GetProject fetches a project by name or id.
func (c *Client) GetProject(ctx context.Context, nameOrID, token, teamID string) (Project, error) {
	path := "/v1/projects/" + url.PathEscape(strings.TrimSpace(nameOrID))
	var project Project
	if err := c.do(ctx, http.MethodGet, c.endpoint(path, teamQuery(teamID)), token, &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// ResolveProject maps a project name onto its id.
func (c *Client) ResolveProject(ctx context.Context, name, token, teamID string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty project name", ErrNotFound)
	}
	project, err := c.GetProject(ctx, name, token, teamID)
	if err != nil {
		return "", err
	}
	if project.ID == "" {
		return "", &APIError{Status: http.StatusNotFound, Message: "project " + name + " has no id", kind: ErrNotFound}
	}
	return project.ID, nil
}

// Creator identifies who started a deployment.
type Creator struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Deployment mirrors one entry of the deployments listing.
type Deployment struct {
	UID        string  `json:"uid"`
	Name       string  `json:"name"`
	URL        string  `json:"url"`
	State      string  `json:"state"`
	ReadyState string  `json:"readyState"`
	Target     string  `json:"target"`
	Created    int64   `json:"created"`
	Ready      int64   `json:"ready"`
	Creator    Creator `json:"creator"`
}

// Status returns the remote state, preferring state over the legacy readyState.
func (d Deployment) Status() string {
	if d.State != "" {
		return d.State
	}
	return d.ReadyState
}

// CreatedAt converts the millisecond epoch into a time.
func (d Deployment) CreatedAt() time.Time {
	if d.Created == 0 {
		return time.Time{}
	}
	return time.UnixMilli(d.Created).UTC()
}

// ReadyAt converts the ready timestamp, nil while the deployment is not ready.
func (d Deployment) ReadyAt() *time.Time {
	if d.Ready == 0 {
		return nil
	}
	t := time.UnixMilli(d.Ready).UTC()
	return &t
}

type deploymentList struct {
	Deployments []Deployment `json:"deployments"`
}

// ListDeployments returns up to limit deployments, most recent first.
func (c *Client) ListDeployments(ctx context.Context, projectID, token, teamID string, limit int) ([]Deployment, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("%w: empty project id", ErrNotFound)
	}
	if limit <= 0 {
		limit = 5
	}
	q := teamQuery(teamID)
	q.Set("projectId", projectID)
	q.Set("limit", strconv.Itoa(limit))
	var list deploymentList
	if err := c.do(ctx, http.MethodGet, c.endpoint("/v5/now/deployments", q), token, &list); err != nil {
		return nil, err
	}
	return list.Deployments, nil
}

// LatestDeployment returns the single most recent deployment of a project.
func (c *Client) LatestDeployment(ctx context.Context, projectID, token, teamID string) (Deployment, error) {
	deployments, err := c.ListDeployments(ctx, projectID, token, teamID, 1)
	if err != nil {
		return Deployment{}, err
	}
	if len(deployments) == 0 {
		return Deployment{}, ErrNoDeployments
	}
	return deployments[0], nil
}

// TriggerHook fires a deploy hook with an empty POST.
func (c *Client) TriggerHook(ctx context.Context, hookURL string) error {
	parsed, err := url.Parse(strings.TrimSpace(hookURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid deploy hook url %q", hookURL)
	}
	return c.do(ctx, http.MethodPost, parsed.String(), "", nil)
}
