package envelope

import "fmt"

// ValidationError reports a malformed envelope or payload. Field names
// the offending wire field (e.g. "correlation_id").
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func missing(field string) error {
	return &ValidationError{Field: field, Reason: "required field is missing"}
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
