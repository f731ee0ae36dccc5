// Package remote provides an HTTP client for a remote toolshed server.
package remote

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

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bnema/toolshed/internal/adapters/dto"
	"github.com/bnema/toolshed/internal/domain"
)

// Retry policy for idempotent requests answered with a 5xx status.
var (
	retryMaxAttempts = 3
	retryBaseDelay   = 200 * time.Millisecond
)

// Client is an HTTP client for the toolshed API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// NewClient creates a new remote client. Requests are traced with otelhttp.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithToken sets the bearer token.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout. Zero disables it, which large
// downloads need.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// BaseURL returns the server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends the request once. Non-2xx responses are converted to domain errors.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	return resp, nil
}

// get performs an idempotent GET, retrying 5xx answers and transport errors.
func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryBaseDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(retryMaxAttempts-1, 0))), ctx)

	return backoff.RetryWithData(func() (*http.Response, error) {
		req, err := c.newRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := c.do(req)
		if err == nil {
			return resp, nil
		}
		var se *statusError
		if errors.As(err, &se) && se.code < http.StatusInternalServerError {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}, policy)
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, target)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body, target any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, target)
}

func decodeJSON(resp *http.Response, target any) error {
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ListTools returns the tools visible to the caller.
func (c *Client) ListTools(ctx context.Context) ([]*domain.Tool, error) {
	var result dto.ToolsResponse
	if err := c.getJSON(ctx, "/api/v1/tools", &result); err != nil {
		return nil, err
	}

	tools := make([]*domain.Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tool, err := t.Record()
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.ID, err)
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

// GetTool returns one tool.
func (c *Client) GetTool(ctx context.Context, id domain.ToolID) (*domain.Tool, error) {
	var result dto.ToolResponse
	if err := c.getJSON(ctx, "/api/v1/tools/"+url.PathEscape(string(id)), &result); err != nil {
		return nil, err
	}
	return result.Record()
}

// PublishTool creates or updates tool metadata.
func (c *Client) PublishTool(ctx context.Context, tool *domain.Tool) error {
	body := dto.NewToolResponse(tool, time.Now())
	body.Deployments = nil
	return c.sendJSON(ctx, http.MethodPut, "/api/v1/tools/"+url.PathEscape(string(tool.ID)), body, nil)
}

// ResolveDeployment returns a deployment by id, or the latest one matching
// constraint when id is empty.
func (c *Client) ResolveDeployment(ctx context.Context, id domain.ToolID, deploymentID domain.ToolDeploymentID, constraint string) (*dto.DeploymentResponse, error) {
	var result dto.DeploymentResponse
	if err := c.getJSON(ctx, deploymentPath(id, deploymentID, constraint, ""), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateDeployment uploads content as a new deployment. size may be -1.
func (c *Client) CreateDeployment(ctx context.Context, id domain.ToolID, cfg domain.ToolDeploymentConfig, content io.Reader, size int64) (*dto.DeploymentResponse, error) {
	q := url.Values{}
	q.Set("version", cfg.Version)
	if cfg.Duration > 0 {
		q.Set("duration", cfg.Duration.String())
	}
	if cfg.FileName != "" {
		q.Set("file", cfg.FileName)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/tools/"+url.PathEscape(string(id))+"/deployments?"+q.Encode(), content)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if size >= 0 {
		req.ContentLength = size
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result dto.DeploymentResponse
	if err := decodeJSON(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateDeployment moves a deployment to a new state.
func (c *Client) UpdateDeployment(ctx context.Context, id domain.ToolID, deploymentID domain.ToolDeploymentID, state domain.ToolDeploymentState) (*dto.DeploymentResponse, error) {
	var result dto.DeploymentResponse
	err := c.sendJSON(ctx, http.MethodPut, deploymentPath(id, deploymentID, "", ""),
		dto.UpdateDeploymentRequest{State: string(state)}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// OpenDeploymentZip streams a deployment as a zip archive. An empty
// deployment id selects the latest usable deployment.
func (c *Client) OpenDeploymentZip(ctx context.Context, id domain.ToolID, deploymentID domain.ToolDeploymentID) (io.ReadCloser, error) {
	resp, err := c.get(ctx, deploymentPath(id, deploymentID, "", "/zip"))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ListNamespaces returns the storage namespaces readable by the caller.
func (c *Client) ListNamespaces(ctx context.Context) ([]domain.NamespaceID, error) {
	var result dto.NamespacesResponse
	if err := c.getJSON(ctx, "/api/v1/storage", &result); err != nil {
		return nil, err
	}
	return result.Namespaces, nil
}

func deploymentPath(id domain.ToolID, deploymentID domain.ToolDeploymentID, constraint, suffix string) string {
	dep := string(deploymentID)
	if dep == "" {
		dep = "latest"
	}
	p := "/api/v1/tools/" + url.PathEscape(string(id)) + "/deployments/" + url.PathEscape(dep) + suffix
	if constraint != "" {
		p += "?version=" + url.QueryEscape(constraint)
	}
	return p
}

// statusError is a non-2xx answer, wrapping the matching domain error.
type statusError struct {
	code    int
	message string
	kind    error
}

func (e *statusError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("%s (HTTP %d)", e.kind, e.code)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.kind, e.message, e.code)
}

func (e *statusError) Unwrap() error {
	return e.kind
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	message := strings.TrimSpace(string(body))
	var errResp dto.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		message = errResp.Error
	}

	var kind error
	switch resp.StatusCode {
	case http.StatusForbidden:
		kind = domain.ErrForbidden
	case http.StatusNotFound:
		kind = domain.ErrNotFound
	case http.StatusConflict:
		kind = domain.ErrInvalidTransition
	case http.StatusUnauthorized:
		kind = domain.ErrInvalidToken
	case http.StatusBadGateway:
		kind = domain.ErrCorrupt
	default:
		kind = domain.ErrStorageFailure
	}
	return &statusError{code: resp.StatusCode, message: message, kind: kind}
}
