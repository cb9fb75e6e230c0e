package httpengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harshakreox/ghostqa/internal/domain"
	"go.uber.org/zap"
)

const executePath = "/api/v1/executions"

// Engine runs targets on a remote test runner.
type Engine struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates an engine client. A zero timeout leaves calls bounded only by
// their context.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type executeRequest struct {
	Kind      domain.Kind `json:"kind"`
	ProjectID string      `json:"project_id"`
	FeatureID string      `json:"feature_id,omitempty"`
	Headless  bool        `json:"headless"`
	Mode      string      `json:"mode"`
}

type executeResponse struct {
	Status     domain.ExecutionStatus `json:"status"`
	DurationMs int64                  `json:"duration_ms"`
	Summary    string                 `json:"summary"`
	// Assertion, when set, reports a terminal assertion failure.
	Assertion string `json:"assertion,omitempty"`
}

// Execute runs target. Network errors and 408, 429 and 5xx responses are
// transient; other non-2xx responses are plain errors.
func (e *Engine) Execute(ctx context.Context, target domain.Target, opts domain.ExecuteOptions) (*domain.ExecutionResult, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(executeRequest{
		Kind:      target.Kind,
		ProjectID: target.ProjectID,
		FeatureID: target.FeatureID,
		Headless:  opts.Headless,
		Mode:      opts.Mode,
	}); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+executePath, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.Transient(fmt.Errorf("execution engine unreachable: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("execution engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if retryable(resp.StatusCode) {
			return nil, domain.Transient(err)
		}
		return nil, err
	}

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode execution result: %w", err)
	}
	if out.Assertion != "" {
		return nil, &domain.AssertionFailure{Summary: out.Assertion}
	}
	switch out.Status {
	case domain.ExecutionPassed, domain.ExecutionFailed:
	default:
		return nil, errors.New("execution engine returned no status")
	}

	e.logger.Debug("engine call finished",
		zap.String("target", target.ProjectID+"/"+target.FeatureID),
		zap.String("status", string(out.Status)),
		zap.Int64("duration_ms", out.DurationMs))

	return &domain.ExecutionResult{
		Status:   out.Status,
		Duration: time.Duration(out.DurationMs) * time.Millisecond,
		Summary:  out.Summary,
	}, nil
}

func retryable(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}
