package beacon

import (
	"fmt"
	"time"
)

// Category classifies pipeline errors by where they arise.
type Category string

const (
	// CategoryInitialization: a plugin's Initialize failed.
	CategoryInitialization Category = "initialization"
	// CategoryPlugin: a plugin's track/page/identify call failed.
	CategoryPlugin Category = "plugin"
	// CategoryMiddleware: a middleware's Process failed.
	CategoryMiddleware Category = "middleware"
	// CategoryValidation: an event, schema or payload shape was invalid.
	CategoryValidation Category = "validation"
	// CategoryConfiguration: bad constructor input, duplicate names or
	// missing required fields.
	CategoryConfiguration Category = "configuration"
)

// Error is the pipeline's categorized, contextful error type. Construction
// time configuration errors are returned to the caller; runtime plugin and
// middleware errors are routed to the core's error handler and never
// surface from Track, Page or Identify.
type Error struct {
	Category  Category
	Message   string
	Timestamp time.Time
	Context   map[string]any
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorHandler receives every runtime pipeline error. The default handler
// logs in debug mode and stays silent otherwise.
type ErrorHandler func(*Error)

func newError(cat Category, msg string, cause error, ctx map[string]any) *Error {
	return &Error{
		Category:  cat,
		Message:   msg,
		Timestamp: time.Now(),
		Context:   ctx,
		Err:       cause,
	}
}

func newConfigurationError(msg string, ctx map[string]any) *Error {
	return newError(CategoryConfiguration, msg, nil, ctx)
}

func newValidationError(msg string, cause error, ctx map[string]any) *Error {
	return newError(CategoryValidation, msg, cause, ctx)
}
