package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Priority is a totally ordered execution priority. Larger values are
// dequeued first.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// NumPriorities is the number of priority bands.
const NumPriorities = int(PriorityCritical) + 1

var priorityNames = [NumPriorities]string{
	PriorityBackground: "background",
	PriorityLow:        "low",
	PriorityNormal:     "normal",
	PriorityHigh:       "high",
	PriorityCritical:   "critical",
}

// PrioritiesDescending lists every band from CRITICAL down to BACKGROUND,
// which is the order the queue scans them in.
func PrioritiesDescending() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow, PriorityBackground}
}

// Valid reports whether p is one of the five bands.
func (p Priority) Valid() bool {
	return p >= PriorityBackground && p <= PriorityCritical
}

func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority maps a case-insensitive band name onto a Priority.
func ParsePriority(s string) (Priority, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range priorityNames {
		if n == name {
			return Priority(i), nil
		}
	}
	return 0, NewValidationError("priority", fmt.Sprintf("unknown priority %q (want critical, high, normal, low or background)", s))
}

// MaxPriority returns the higher of a and b.
func MaxPriority(a, b Priority) Priority {
	if a > b {
		return a
	}
	return b
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("priority must be a string: %w", err)
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
