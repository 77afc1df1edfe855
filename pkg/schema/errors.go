package schema

import (
	"fmt"
	"strings"
)

// FieldError represents a single validation error
type FieldError struct {
	Field      string // Property name, e.g. "plan" or "user.email"
	Message    string // Human-readable error message
	Type       string // Machine-readable error type (e.g., "min_length", "enum")
	Value      any    // The actual value that failed validation
	Constraint any    // The constraint that was violated (e.g., min=5)
}

// Error returns a formatted error message
func (e *FieldError) Error() string {
	field := e.Field
	if field == "" {
		field = "value"
	}

	msg := fmt.Sprintf("%s: %s", field, e.Message)

	if e.Type != "" {
		msg += fmt.Sprintf(" (type: %s)", e.Type)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(", value: %v", e.Value)
	}
	if e.Constraint != nil {
		msg += fmt.Sprintf(", constraint: %v", e.Constraint)
	}

	return msg
}

// Errors represents multiple validation errors
type Errors struct {
	Errors []FieldError
}

// Error returns a formatted string of all validation errors
func (e *Errors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}

	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add appends a new validation error
func (e *Errors) Add(err FieldError) {
	e.Errors = append(e.Errors, err)
}

// HasErrors returns true if there are any validation errors
func (e *Errors) HasErrors() bool {
	return len(e.Errors) > 0
}

// ToError converts Errors to the error interface, or nil if empty
func (e *Errors) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// Common error types
const (
	ErrorTypeRequired     = "required"
	ErrorTypeType         = "type"
	ErrorTypeMinLength    = "min_length"
	ErrorTypeMaxLength    = "max_length"
	ErrorTypeMin          = "min"
	ErrorTypeMax          = "max"
	ErrorTypePattern      = "pattern"
	ErrorTypeEnum         = "enum"
	ErrorTypeUnknownField = "unknown_field"
)
