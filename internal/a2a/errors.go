package a2a

import (
	"errors"
	"fmt"
)

// JSON-RPC and A2A error codes
const (
	CodeParseError               = -32700
	CodeInvalidRequest           = -32600
	CodeMethodNotFound           = -32601
	CodeInvalidParams            = -32602
	CodeInternalError            = -32603
	CodeTaskNotFound             = -32001
	CodeTaskNotCancelable        = -32002
	CodePushNotSupported         = -32003
	CodeUnsupportedOperation     = -32004
	CodeIncompatibleContentTypes = -32005
)

// Error is a protocol error with a stable code and a human-readable message.
// Two errors match under errors.Is when their codes are equal.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("a2a error %d: %s", e.Code, e.Message)
}

// Is matches errors by code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks. Use the constructors to build errors with a specific message.
var (
	ErrParse                    = &Error{Code: CodeParseError, Message: "Invalid JSON payload"}
	ErrInvalidRequest           = &Error{Code: CodeInvalidRequest, Message: "Request payload validation error"}
	ErrMethodNotFound           = &Error{Code: CodeMethodNotFound, Message: "Method not found"}
	ErrInvalidParams            = &Error{Code: CodeInvalidParams, Message: "Invalid parameters"}
	ErrInternal                 = &Error{Code: CodeInternalError, Message: "Internal error"}
	ErrTaskNotFound             = &Error{Code: CodeTaskNotFound, Message: "Task not found"}
	ErrTaskNotCancelable        = &Error{Code: CodeTaskNotCancelable, Message: "Task cannot be canceled"}
	ErrPushNotSupported         = &Error{Code: CodePushNotSupported, Message: "Push Notification is not supported"}
	ErrUnsupportedOperation     = &Error{Code: CodeUnsupportedOperation, Message: "This operation is not supported"}
	ErrIncompatibleContentTypes = &Error{Code: CodeIncompatibleContentTypes, Message: "Incompatible content types"}
)

// NewInvalidParamsError returns an invalid-params error with msg
func NewInvalidParamsError(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg}
}

// NewInternalError returns an internal error with msg
func NewInternalError(msg string) *Error {
	return &Error{Code: CodeInternalError, Message: msg}
}

// NewTaskNotFoundError returns a not-found error naming the task
func NewTaskNotFoundError(id string) *Error {
	return &Error{Code: CodeTaskNotFound, Message: fmt.Sprintf("Task not found: %s", id)}
}

// NewUnsupportedContentError is returned when a message part cannot be interpreted as a query
func NewUnsupportedContentError(kind PartType) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("Only text parts are supported, got %q", kind)}
}

// NewIncompatibleModalitiesError is returned when the caller accepts none of the supported output modes
func NewIncompatibleModalitiesError(accepted, supported []string) *Error {
	return &Error{
		Code:    CodeIncompatibleContentTypes,
		Message: "Incompatible content types",
		Data:    map[string]any{"accepted": accepted, "supported": supported},
	}
}

// AsError converts any error into a protocol error, defaulting to an internal error
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewInternalError(err.Error())
}
