package types

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

const (
	// CodeSchemaMismatch indicates a stage received a payload type it does
	// not recognize.
	CodeSchemaMismatch ErrorCode = "SCHEMA_MISMATCH"
	// CodeSourceUnreadable indicates extraction could not decode an input.
	CodeSourceUnreadable ErrorCode = "SOURCE_UNREADABLE"
	// CodeShapeMismatch indicates an inference input does not match the
	// model's expected shape.
	CodeShapeMismatch ErrorCode = "SHAPE_MISMATCH"
	// CodeMergeSchemaConflict indicates incompatible result schemas within
	// one merge group.
	CodeMergeSchemaConflict ErrorCode = "MERGE_SCHEMA_CONFLICT"
	// CodeSinkUnavailable indicates an export destination is unwritable.
	CodeSinkUnavailable ErrorCode = "SINK_UNAVAILABLE"
	// CodeInvalidConfiguration indicates an unknown or out-of-range option
	// at configuration construction.
	CodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
)

// Error is a structured error carrying enough context to attribute a
// failure to a source, batch, and stage.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Source  string    `json:"source,omitempty"`
	BatchID *int      `json:"batch_id,omitempty"`
	Stage   string    `json:"stage,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Stage != "" {
		msg = fmt.Sprintf("%s (stage=%s", msg, e.Stage)
		if e.Source != "" {
			msg += " source=" + e.Source
		}
		if e.BatchID != nil {
			msg += " batch=" + strconv.Itoa(*e.BatchID)
		}
		msg += ")"
	} else if e.Source != "" {
		msg = fmt.Sprintf("%s (source=%s", msg, e.Source)
		if e.BatchID != nil {
			msg += " batch=" + strconv.Itoa(*e.BatchID)
		}
		msg += ")"
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithSource attributes the error to a source identity.
func (e *Error) WithSource(source string) *Error {
	e.Source = source
	return e
}

// WithBatch attributes the error to a batch ordinal.
func (e *Error) WithBatch(batchID *int) *Error {
	e.BatchID = copyBatchID(batchID)
	return e
}

// WithStage attributes the error to the failing stage.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode checks whether an error chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
