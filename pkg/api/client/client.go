package client

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

	"github.com/splax/deploydeck/internal/domain"
)

// Client provides typed read access to the dashboard API for command line tools.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
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

// WithToken attaches a viewer token sent as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
	Hint    string
}

func (e APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("api request failed with status %d", e.Status)
	} else {
		msg = fmt.Sprintf("api request failed (%d): %s", e.Status, msg)
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (c *Client) get(ctx context.Context, path string, params url.Values, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, resp.Body)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, body io.Reader) APIError {
	apiErr := APIError{Status: status}
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Error string `json:"error"`
		Hint  string `json:"hint"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(payload.Error)
	apiErr.Hint = strings.TrimSpace(payload.Hint)
	return apiErr
}

// Filter narrows deployment and log listings.
type Filter struct {
	Project string
	Limit   int
	Start   time.Time
	End     time.Time
}

func (f Filter) values() url.Values {
	v := url.Values{}
	if p := strings.TrimSpace(f.Project); p != "" {
		v.Set("project", p)
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	if !f.Start.IsZero() {
		v.Set("start", f.Start.UTC().Format(time.RFC3339))
	}
	if !f.End.IsZero() {
		v.Set("end", f.End.UTC().Format(time.RFC3339))
	}
	return v
}

// ListProjects returns the projects visible to the configured token.
func (c *Client) ListProjects(ctx context.Context) ([]domain.ProjectConfig, error) {
	var resp struct {
		Projects []domain.ProjectConfig `json:"projects"`
	}
	if err := c.get(ctx, "/v1/projects", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// ListDeployments returns tracker records, newest first.
func (c *Client) ListDeployments(ctx context.Context, f Filter) ([]domain.DeploymentRecord, domain.ReadMeta, error) {
	var resp struct {
		Deployments []domain.DeploymentRecord `json:"deployments"`
		Meta        domain.ReadMeta           `json:"meta"`
	}
	if err := c.get(ctx, "/v1/deployments", f.values(), &resp); err != nil {
		return nil, domain.ReadMeta{}, err
	}
	return resp.Deployments, resp.Meta, nil
}

// LatestDeployment returns the newest tracker record for project, or nil when
// none exists.
func (c *Client) LatestDeployment(ctx context.Context, project string) (*domain.DeploymentRecord, error) {
	var resp struct {
		Deployment *domain.DeploymentRecord `json:"deployment"`
	}
	if err := c.get(ctx, "/v1/deployments/latest", Filter{Project: project}.values(), &resp); err != nil {
		return nil, err
	}
	return resp.Deployment, nil
}

// ListLogs returns attributed access log entries, newest first.
func (c *Client) ListLogs(ctx context.Context, f Filter) ([]domain.RequestLogEntry, domain.ReadMeta, error) {
	var resp struct {
		Logs []domain.RequestLogEntry `json:"logs"`
		Meta domain.ReadMeta          `json:"meta"`
	}
	if err := c.get(ctx, "/v1/logs", f.values(), &resp); err != nil {
		return nil, domain.ReadMeta{}, err
	}
	return resp.Logs, resp.Meta, nil
}

// Health reports the API health payload status field.
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/healthz", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}
