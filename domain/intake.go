package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultDuration is applied when an intake omits the duration.
const DefaultDuration = 1

// ErrValidation is wrapped by every ValidationError.
var ErrValidation = errors.New("invalid task")

// TaskInput carries the fields of the intake form. StartDate stays a string so
// that a missing or malformed value is reported as a field error rather than a
// decode failure.
type TaskInput struct {
	Name         string   `json:"name"`
	StartDate    string   `json:"startDate"`
	Duration     *int     `json:"duration,omitempty"`
	Progress     int      `json:"progress"`
	Category     string   `json:"category"`
	Manager      string   `json:"manager"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// FieldError names one rejected intake field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every rejected field of an intake.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewTask validates in and builds the task it describes under id. Only the
// required fields are checked; dependencies may name any id, known or not.
func NewTask(id string, in TaskInput) (Task, error) {
	var errs []FieldError
	name := strings.TrimSpace(in.Name)
	if name == "" {
		errs = append(errs, FieldError{Field: "name", Message: "required"})
	}
	manager := strings.TrimSpace(in.Manager)
	if manager == "" {
		errs = append(errs, FieldError{Field: "manager", Message: "required"})
	}
	var start Date
	if raw := strings.TrimSpace(in.StartDate); raw == "" {
		errs = append(errs, FieldError{Field: "startDate", Message: "required"})
	} else if d, err := ParseDate(raw); err != nil {
		errs = append(errs, FieldError{Field: "startDate", Message: "expected YYYY-MM-DD"})
	} else {
		start = d
	}
	duration := DefaultDuration
	if in.Duration != nil {
		duration = *in.Duration
		if duration < 1 {
			errs = append(errs, FieldError{Field: "duration", Message: "must be at least 1 day"})
		}
	}
	if len(errs) > 0 {
		return Task{}, &ValidationError{Fields: errs}
	}

	return Task{
		ID:           id,
		Name:         name,
		StartDate:    start,
		Duration:     duration,
		Progress:     in.Progress,
		Category:     strings.TrimSpace(in.Category),
		Manager:      manager,
		Dependencies: uniqueIDs(in.Dependencies),
	}, nil
}

func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
