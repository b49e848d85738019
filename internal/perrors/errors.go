// Package perrors defines the classified error type rustle-plan uses
// across every phase of planning. It mirrors the teacher's single
// EngineError shape (a class plus a code plus wrapped cause) rather than
// a closed set of per-kind Go error types, so callers use errors.As and
// switch on Code.
package perrors

import (
	"errors"
	"fmt"
)

// Class groups errors by how the caller should react to them.
type Class string

const (
	// ClassFatal aborts the plan and surfaces to the CLI.
	ClassFatal Class = "fatal"

	// ClassWarning is recoverable: the plan still emits, with the warning
	// recorded in plan metadata.
	ClassWarning Class = "warning"
)

// PlanError is the error type returned by every planning phase.
type PlanError struct {
	// Class says whether this error is fatal or a recorded warning.
	Class Class

	// Code is the PlanError kind from spec.md §7 (e.g. CircularDependency).
	Code string

	// Message is the human-readable summary.
	Message string

	// Resource is the task, play, or host ID the error pertains to, if any.
	Resource string

	// Operation names the phase that produced the error (e.g. "depgraph.Build").
	Operation string

	// Err is the wrapped underlying error, if any.
	Err error

	// Details carries structured, code-specific context (e.g. the cycle path).
	Details map[string]interface{}
}

// Error kinds from spec.md §7.
const (
	CodeCircularDependency      = "CircularDependency"
	CodeUnknownTaskDependency   = "UnknownTaskDependency"
	CodeInvalidHostPattern      = "InvalidHostPattern"
	CodeStrategyConflict        = "StrategyConflict"
	CodeResourceContention      = "ResourceContention"
	CodeInvalidTagExpression    = "InvalidTagExpression"
	CodeInsufficientResources   = "InsufficientResources"
	CodeUnsupportedTarget       = "UnsupportedTarget"
	CodeBinaryThresholdNotMet   = "BinaryThresholdNotMet"
	CodeIncompatibleModule      = "IncompatibleModule"
	CodeValidationError         = "ValidationError"
	CodeHashUnsupportedValue    = "HashError.UnsupportedValue"
	CodeCacheCorruptedEntry     = "CacheError.CorruptedEntry"
	CodeParseInvalidSyntax      = "ParseError.InvalidSyntax"
)

// Error implements the error interface.
func (e *PlanError) Error() string {
	base := fmt.Sprintf("[%s/%s] %s", e.Class, e.Code, e.Message)
	if e.Resource != "" {
		base += fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Operation != "" {
		base += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		base += ": " + e.Err.Error()
	}
	return base
}

// Unwrap exposes the underlying error for errors.Is/errors.As chains.
func (e *PlanError) Unwrap() error {
	return e.Err
}

// Is matches on Code, so errors.Is(err, &PlanError{Code: CodeCircularDependency}) works.
func (e *PlanError) Is(target error) bool {
	t, ok := target.(*PlanError)
	if !ok {
		return false
	}
	if t.Code == "" {
		return e.Class == t.Class
	}
	return e.Code == t.Code
}

// Fatal constructs a fatal PlanError.
func Fatal(code, message string, err error) *PlanError {
	return &PlanError{Class: ClassFatal, Code: code, Message: message, Err: err}
}

// Warning constructs a recoverable, plan-metadata-only PlanError.
func Warning(code, message string, err error) *PlanError {
	return &PlanError{Class: ClassWarning, Code: code, Message: message, Err: err}
}

// WithResource attaches a resource ID.
func (e *PlanError) WithResource(id string) *PlanError {
	e.Resource = id
	return e
}

// WithOperation attaches the phase name.
func (e *PlanError) WithOperation(op string) *PlanError {
	e.Operation = op
	return e
}

// WithDetail attaches structured context.
func (e *PlanError) WithDetail(key string, value interface{}) *PlanError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsFatal reports whether err is a fatal PlanError.
func IsFatal(err error) bool {
	var e *PlanError
	if errors.As(err, &e) {
		return e.Class == ClassFatal
	}
	return false
}

// IsWarning reports whether err is a recoverable-warning PlanError.
func IsWarning(err error) bool {
	var e *PlanError
	if errors.As(err, &e) {
		return e.Class == ClassWarning
	}
	return false
}

// Code extracts the PlanError code from err, if any.
func Code(err error) (string, bool) {
	var e *PlanError
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
