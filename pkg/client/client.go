// Package client is a small HTTP client for the orchestrator control API.
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

	"github.com/harshakreox/ghostqa/internal/application/orchestrator"
	"github.com/harshakreox/ghostqa/internal/domain"
)

const apiPrefix = "api/v1/orchestrator"

// Client talks to a running orchestrator.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the server sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// StateResult is returned by Start and Stop.
type StateResult struct {
	State         string `json:"state"`
	DrainTimedOut bool   `json:"drain_timed_out,omitempty"`
}

// QueueResult reports the outcome of an enqueue.
type QueueResult struct {
	RequestID string                  `json:"request_id"`
	Outcome   string                  `json:"outcome"`
	Priority  domain.Priority         `json:"priority"`
	Pending   domain.ExecutionRequest `json:"pending"`
}

// Start starts the orchestrator.
func (c *Client) Start(ctx context.Context) (StateResult, error) {
	var resp StateResult
	err := c.do(ctx, http.MethodPost, "start", nil, &resp)
	return resp, err
}

// Stop drains the orchestrator; hard abandons in-flight executions.
func (c *Client) Stop(ctx context.Context, hard bool) (StateResult, error) {
	var resp StateResult
	endpoint := "stop"
	if hard {
		endpoint += "?hard=true"
	}
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Status returns the orchestrator status.
func (c *Client) Status(ctx context.Context) (orchestrator.Status, error) {
	var resp orchestrator.Status
	err := c.do(ctx, http.MethodGet, "status", nil, &resp)
	return resp, err
}

// QueueFeature files a feature request. A nil priority uses the server
// default.
func (c *Client) QueueFeature(ctx context.Context, projectID, featureID string, priority *domain.Priority) (QueueResult, error) {
	body := map[string]any{
		"project_id": projectID,
		"feature_id": featureID,
	}
	if priority != nil {
		body["priority"] = *priority
	}
	var resp QueueResult
	err := c.do(ctx, http.MethodPost, "queue/feature", body, &resp)
	return resp, err
}

// QueueProject files a whole-project request.
func (c *Client) QueueProject(ctx context.Context, projectID string, priority *domain.Priority) (QueueResult, error) {
	body := map[string]any{
		"project_id": projectID,
	}
	if priority != nil {
		body["priority"] = *priority
	}
	var resp QueueResult
	err := c.do(ctx, http.MethodPost, "queue/project", body, &resp)
	return resp, err
}

// Queue lists pending requests in dequeue order.
func (c *Client) Queue(ctx context.Context) ([]domain.ExecutionRequest, error) {
	var resp struct {
		Items []domain.ExecutionRequest `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "queue", nil, &resp)
	return resp.Items, err
}

// TriggerRegression files a regression request for every project.
func (c *Client) TriggerRegression(ctx context.Context) (int, error) {
	return c.trigger(ctx, "regression")
}

// TriggerDiscovery runs a discovery scan now.
func (c *Client) TriggerDiscovery(ctx context.Context) (int, error) {
	return c.trigger(ctx, "discovery")
}

func (c *Client) trigger(ctx context.Context, endpoint string) (int, error) {
	var resp struct {
		Queued int `json:"queued"`
	}
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.Queued, err
}

// Config returns the live config.
func (c *Client) Config(ctx context.Context) (domain.OrchestratorConfig, error) {
	var resp domain.OrchestratorConfig
	err := c.do(ctx, http.MethodGet, "config", nil, &resp)
	return resp, err
}

// UpdateConfig applies a partial config update.
func (c *Client) UpdateConfig(ctx context.Context, patch domain.ConfigPatch) (domain.OrchestratorConfig, error) {
	var resp domain.OrchestratorConfig
	err := c.do(ctx, http.MethodPatch, "config", patch, &resp)
	return resp, err
}

// History returns recent execution records, most recent first.
func (c *Client) History(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	endpoint := "history"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []domain.ExecutionRecord `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Record fetches the record of one request.
func (c *Client) Record(ctx context.Context, requestID string) (domain.ExecutionRecord, error) {
	var resp domain.ExecutionRecord
	err := c.do(ctx, http.MethodGet, "history/"+url.PathEscape(requestID), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + apiPrefix + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
