package orchestrator

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/harshakreox/ghostqa/internal/domain"
)

const maxIDLength = 128

// Validator validates control-surface input before anything is queued.
type Validator struct{}

// NewValidator creates a new request validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateTarget checks the identifiers of a queue request.
func (v *Validator) ValidateTarget(kind domain.Kind, projectID, featureID string) error {
	if !kind.Valid() {
		return domain.NewValidationError("kind", fmt.Sprintf("unknown kind %q", kind))
	}
	if err := v.validateID("project_id", projectID); err != nil {
		return err
	}
	if kind == domain.KindFeature {
		return v.validateID("feature_id", featureID)
	}
	if featureID != "" {
		return domain.NewValidationError("feature_id", fmt.Sprintf("not allowed for %s requests", kind))
	}
	return nil
}

// validateID checks a single identifier.
func (v *Validator) validateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.NewValidationError(field, "is required")
	}
	if id != strings.TrimSpace(id) {
		return domain.NewValidationError(field, "must not have leading or trailing whitespace")
	}
	if len(id) > maxIDLength {
		return domain.NewValidationError(field, fmt.Sprintf("must be at most %d characters", maxIDLength))
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return domain.NewValidationError(field, "must not contain control characters")
		}
	}
	return nil
}
