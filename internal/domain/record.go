package domain

import "time"

// RecordStatus is the terminal status of a request.
type RecordStatus string

const (
	RecordStatusSuccess   RecordStatus = "success"
	RecordStatusFailure   RecordStatus = "failure"
	RecordStatusError     RecordStatus = "error"
	RecordStatusCancelled RecordStatus = "cancelled"
)

// ExecutionRecord is the immutable outcome of a request. Exactly one is
// produced per request that entered the queue.
type ExecutionRecord struct {
	RequestID  string       `json:"request_id"`
	Kind       Kind         `json:"kind"`
	ProjectID  string       `json:"project_id"`
	FeatureID  string       `json:"feature_id,omitempty"`
	Priority   Priority     `json:"priority"`
	Attempts   int          `json:"attempts"`
	Status     RecordStatus `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Duration   Duration     `json:"duration"`
	Summary    string       `json:"summary"`
}

// NewRecord builds a record for req. Attempts counts engine invocations,
// so a request cancelled before it ever ran reports zero.
func NewRecord(req *ExecutionRequest, status RecordStatus, attempts int, startedAt, finishedAt time.Time, summary string) *ExecutionRecord {
	return &ExecutionRecord{
		RequestID:  req.ID,
		Kind:       req.Kind,
		ProjectID:  req.ProjectID,
		FeatureID:  req.FeatureID,
		Priority:   req.Priority,
		Attempts:   attempts,
		Status:     status,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   Duration(finishedAt.Sub(startedAt)),
		Summary:    summary,
	}
}

// ExecutionStatus is what the engine reports for a finished run.
type ExecutionStatus string

const (
	ExecutionPassed ExecutionStatus = "passed"
	ExecutionFailed ExecutionStatus = "failed"
)

// ExecutionResult is the engine's answer for one run.
type ExecutionResult struct {
	Status   ExecutionStatus `json:"status"`
	Duration time.Duration   `json:"duration"`
	Summary  string          `json:"summary"`
}
