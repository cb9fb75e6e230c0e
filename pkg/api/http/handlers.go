package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/harshakreox/ghostqa/internal/application/orchestrator"
	"github.com/harshakreox/ghostqa/internal/application/queue"
	"github.com/harshakreox/ghostqa/internal/application/workers"
	"github.com/harshakreox/ghostqa/internal/domain"
	"go.uber.org/zap"
)

const maxHistoryLimit = 1000

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// QueueFeatureRequest is the body of POST /queue/feature.
type QueueFeatureRequest struct {
	ProjectID string           `json:"project_id"`
	FeatureID string           `json:"feature_id"`
	Priority  *domain.Priority `json:"priority,omitempty"`
}

// QueueProjectRequest is the body of POST /queue/project.
type QueueProjectRequest struct {
	ProjectID string           `json:"project_id"`
	Priority  *domain.Priority `json:"priority,omitempty"`
}

// QueueResponse reports the outcome of an enqueue.
type QueueResponse struct {
	RequestID string                  `json:"request_id"`
	Outcome   queue.Outcome           `json:"outcome"`
	Priority  domain.Priority         `json:"priority"`
	Pending   domain.ExecutionRequest `json:"pending"`
}

// StateResponse reports the controller state after a lifecycle call.
type StateResponse struct {
	State         string `json:"state"`
	DrainTimedOut bool   `json:"drain_timed_out,omitempty"`
}

// TriggerResponse reports how many requests a trigger filed.
type TriggerResponse struct {
	Queued int `json:"queued"`
}

// HealthResponse is served on /health.
type HealthResponse struct {
	Status  string                `json:"status"`
	State   string                `json:"state"`
	Workers *workers.HealthStatus `json:"workers"`
}

// handleHealth handles health check requests. A stopped or stopping
// controller reports 503 so load balancers route elsewhere.
func (s *Server) handleHealth(c *gin.Context) {
	state := s.controller.State()
	resp := HealthResponse{
		Status:  "healthy",
		State:   string(state),
		Workers: s.controller.Health(),
	}
	if !state.Active() {
		resp.Status = "unavailable"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStart(c *gin.Context) {
	state, err := s.controller.Start(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, StateResponse{State: string(state)})
}

// handleStop drains the orchestrator. ?hard=true abandons in-flight work.
func (s *Server) handleStop(c *gin.Context) {
	hard, err := parseBoolQuery(c, "hard")
	if err != nil {
		s.writeError(c, err)
		return
	}

	// The drain must outlive an impatient client.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), s.stopTimeout)
	defer cancel()

	state, err := s.controller.Stop(ctx, hard)
	if err != nil && !errors.Is(err, workers.ErrDrainTimeout) {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, StateResponse{
		State:         string(state),
		DrainTimedOut: errors.Is(err, workers.ErrDrainTimeout),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Status(c.Request.Context()))
}

func (s *Server) handleQueueFeature(c *gin.Context) {
	var req QueueFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeBindError(c, err)
		return
	}

	result, err := s.controller.QueueFeature(req.ProjectID, req.FeatureID, req.Priority)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toQueueResponse(result))
}

func (s *Server) handleQueueProject(c *gin.Context) {
	var req QueueProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeBindError(c, err)
		return
	}

	result, err := s.controller.QueueProject(req.ProjectID, req.Priority)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toQueueResponse(result))
}

func (s *Server) handleGetQueue(c *gin.Context) {
	items := s.controller.Queue()
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleTriggerRegression(c *gin.Context) {
	n, err := s.controller.TriggerRegression(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, TriggerResponse{Queued: n})
}

func (s *Server) handleTriggerDiscovery(c *gin.Context) {
	n, err := s.controller.TriggerDiscovery(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, TriggerResponse{Queued: n})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.GetConfig())
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var patch domain.ConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		s.writeBindError(c, err)
		return
	}

	cfg, err := s.controller.UpdateConfig(patch)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			s.writeError(c, domain.NewValidationError("limit", "must be an integer between 1 and 1000"))
			return
		}
		limit = n
	}

	records, err := s.controller.History(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items": records,
		"count": len(records),
	})
}

func (s *Server) handleGetRecord(c *gin.Context) {
	rec, err := s.controller.Record(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func toQueueResponse(r queue.EnqueueResult) QueueResponse {
	return QueueResponse{
		RequestID: r.Pending.ID,
		Outcome:   r.Outcome,
		Priority:  r.Pending.Priority,
		Pending:   r.Pending,
	}
}

func parseBoolQuery(c *gin.Context, name string) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, domain.NewValidationError(name, "must be a boolean")
	}
	return v, nil
}

func (s *Server) writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    "INVALID_REQUEST",
			Message: "Invalid request body",
			Details: err.Error(),
		},
	})
}

// writeError maps domain errors onto the error envelope.
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, domain.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, domain.ErrFatalConfig):
		status, code = http.StatusUnprocessableEntity, "FATAL_CONFIG"
	case errors.Is(err, domain.ErrNotRunning):
		status, code = http.StatusConflict, "NOT_RUNNING"
	case errors.Is(err, orchestrator.ErrStopInProgress):
		status, code = http.StatusConflict, "STOP_IN_PROGRESS"
	case errors.Is(err, domain.ErrRecordNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrStoreUnavailable):
		status, code = http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}

	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: err.Error(),
		},
	})
}
