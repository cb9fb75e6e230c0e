package domain

import (
	"fmt"
	"time"
)

// Kind identifies what an ExecutionRequest targets.
type Kind string

const (
	KindFeature    Kind = "feature"
	KindProject    Kind = "project"
	KindRegression Kind = "regression"
)

func (k Kind) Valid() bool {
	switch k {
	case KindFeature, KindProject, KindRegression:
		return true
	}
	return false
}

// Source records which call path created a request.
type Source string

const (
	SourceAPI        Source = "api"
	SourceDiscovery  Source = "discovery"
	SourceRegression Source = "regression"
	SourceRetry      Source = "retry"
)

// DedupKey identifies requests that must not be pending twice.
type DedupKey struct {
	Kind      Kind
	ProjectID string
	FeatureID string
}

func (k DedupKey) String() string {
	if k.FeatureID == "" {
		return fmt.Sprintf("%s:%s", k.Kind, k.ProjectID)
	}
	return fmt.Sprintf("%s:%s/%s", k.Kind, k.ProjectID, k.FeatureID)
}

// ExecutionRequest is one unit of scheduled test work. Only AttemptCount
// changes after creation, and only the Runner owning the request changes it.
type ExecutionRequest struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	ProjectID    string    `json:"project_id"`
	FeatureID    string    `json:"feature_id,omitempty"`
	Priority     Priority  `json:"priority"`
	Source       Source    `json:"source"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	AttemptCount int       `json:"attempt_count"`
}

// Key returns the deduplication key of the request.
func (r *ExecutionRequest) Key() DedupKey {
	return DedupKey{Kind: r.Kind, ProjectID: r.ProjectID, FeatureID: r.FeatureID}
}

// Target returns what the Execution Engine should run for this request.
func (r *ExecutionRequest) Target() Target {
	return Target{Kind: r.Kind, ProjectID: r.ProjectID, FeatureID: r.FeatureID}
}

// Validate checks the structural fields of a request.
func (r *ExecutionRequest) Validate() error {
	if r.ID == "" {
		return NewValidationError("id", "request id is required")
	}
	if !r.Kind.Valid() {
		return NewValidationError("kind", fmt.Sprintf("unknown kind %q", r.Kind))
	}
	if r.ProjectID == "" {
		return NewValidationError("project_id", "project id is required")
	}
	if r.Kind == KindFeature && r.FeatureID == "" {
		return NewValidationError("feature_id", "feature id is required for feature requests")
	}
	if r.Kind != KindFeature && r.FeatureID != "" {
		return NewValidationError("feature_id", fmt.Sprintf("feature id is not allowed for %s requests", r.Kind))
	}
	if !r.Priority.Valid() {
		return NewValidationError("priority", fmt.Sprintf("invalid priority %d", int(r.Priority)))
	}
	if r.AttemptCount < 0 {
		return NewValidationError("attempt_count", "attempt count must not be negative")
	}
	return nil
}

// Clone returns a copy the caller may mutate.
func (r *ExecutionRequest) Clone() *ExecutionRequest {
	cp := *r
	return &cp
}

// Target is what the Execution Engine runs.
type Target struct {
	Kind      Kind   `json:"kind"`
	ProjectID string `json:"project_id"`
	FeatureID string `json:"feature_id,omitempty"`
}
