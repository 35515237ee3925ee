package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorType int

const (
	ErrValidation ErrorType = iota
	ErrNormalize
	ErrUnit
	ErrCheckpoint
	ErrUnknown
)

func (t ErrorType) String() string {
	switch t {
	case ErrValidation:
		return "Validation"
	case ErrNormalize:
		return "Normalize"
	case ErrUnit:
		return "Unit"
	case ErrCheckpoint:
		return "Checkpoint"
	default:
		return "Unknown"
	}
}

// Error is a job-level failure. TaskID is the job identity, usable to
// inspect or resume the lineage from the checkpoint store.
type Error struct {
	Type    ErrorType
	Message string
	TaskID  string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, taskID string, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		TaskID:  taskID,
		Context: make(map[string]any),
	}
}

func WrapError(err error, errorType ErrorType, taskID string, message string) *Error {
	e := NewError(errorType, taskID, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))
	if e.TaskID != "" {
		parts = append(parts, "task: "+e.TaskID)
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func IsErrorType(err error, errorType ErrorType) bool {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.Type == errorType
	}
	return false
}

// TaskIDOf returns the job identity carried by err, if any.
func TaskIDOf(err error) string {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.TaskID
	}
	return ""
}

// Advice suggests a next step for an operator looking at err.
func Advice(err error) string {
	var pErr *Error
	if !errors.As(err, &pErr) {
		return "Please review detailed error information"
	}
	switch pErr.Type {
	case ErrValidation:
		return "Please check the job parameters: formats and input text cannot be empty"
	case ErrNormalize:
		return "Prompt normalization failed; check the API key and endpoint or submit without normalization"
	case ErrUnit:
		return "A unit exhausted its retries; resubmit the same job to resume, completed units are reused"
	case ErrCheckpoint:
		return "Please check that the checkpoint database is writable"
	default:
		return "Please review detailed error information and check relevant configuration"
	}
}
