package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is one of the closed set of service error codes. Every
// domain precondition violation maps to exactly one code; anything
// unexpected collapses to CodeServerError.
type ErrorCode string

const (
	CodeUnauthorized            ErrorCode = "Unauthorized"
	CodeNotHost                 ErrorCode = "NotHost"
	CodeCannotAccessChat        ErrorCode = "CannotAccessChat"
	CodeUserNotFound            ErrorCode = "UserNotFound"
	CodeWorldNotFound           ErrorCode = "WorldNotFound"
	CodeGameNotFound            ErrorCode = "GameNotFound"
	CodePlayerNotFound          ErrorCode = "PlayerNotFound"
	CodeChatNotFound            ErrorCode = "ChatNotFound"
	CodeMessageNotFound         ErrorCode = "MessageNotFound"
	CodeGameFull                ErrorCode = "GameFull"
	CodeGameAlreadyStarted      ErrorCode = "GameAlreadyStarted"
	CodeGameNotFinished         ErrorCode = "GameNotFinished"
	CodePlayerNotReady          ErrorCode = "PlayerNotReady"
	CodePlayerNotInGame         ErrorCode = "PlayerNotInGame"
	CodeCharacterNotReady       ErrorCode = "CharacterNotReady"
	CodeGameNewHostNotFound     ErrorCode = "GameNewHostNotFound"
	CodeGameMaxPlayersTooSmall  ErrorCode = "GameMaxPlayersTooSmall"
	CodeMutuallyExclusiveOpts   ErrorCode = "MutuallyExclusiveOptions"
	CodeInvalidProvider         ErrorCode = "InvalidProvider"
	CodeServerError             ErrorCode = "ServerError"
)

// httpStatusByCode is the default HTTP status for each code.
var httpStatusByCode = map[ErrorCode]int{
	CodeUnauthorized:           http.StatusUnauthorized,
	CodeNotHost:                http.StatusUnauthorized,
	CodeCannotAccessChat:       http.StatusUnauthorized,
	CodeUserNotFound:           http.StatusNotFound,
	CodeWorldNotFound:          http.StatusNotFound,
	CodeGameNotFound:           http.StatusNotFound,
	CodePlayerNotFound:         http.StatusNotFound,
	CodeChatNotFound:           http.StatusNotFound,
	CodeMessageNotFound:        http.StatusNotFound,
	CodeGameFull:               http.StatusConflict,
	CodeGameAlreadyStarted:     http.StatusBadRequest,
	CodeGameNotFinished:        http.StatusBadRequest,
	CodePlayerNotReady:         http.StatusBadRequest,
	CodePlayerNotInGame:        http.StatusBadRequest,
	CodeCharacterNotReady:      http.StatusBadRequest,
	CodeGameNewHostNotFound:    http.StatusBadRequest,
	CodeGameMaxPlayersTooSmall: http.StatusBadRequest,
	CodeMutuallyExclusiveOpts:  http.StatusBadRequest,
	CodeInvalidProvider:        http.StatusBadRequest,
	CodeServerError:            http.StatusInternalServerError,
}

// ServiceError is the typed error returned for every domain precondition
// violation. It serializes to the wire as {"code","message","details"}.
type ServiceError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`

	cause error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus returns the default HTTP status for the error's code.
func (e *ServiceError) HTTPStatus() int {
	if s, ok := httpStatusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// NewServiceError builds a ServiceError without details.
func NewServiceError(code ErrorCode, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// NewServiceErrorWithDetails builds a ServiceError carrying details.
func NewServiceErrorWithDetails(code ErrorCode, message string, details map[string]any) *ServiceError {
	return &ServiceError{Code: code, Message: message, Details: details}
}

// ServerError wraps an unexpected infrastructure failure. The cause is
// kept for logging but never leaves the process.
func ServerError(message string, cause error) *ServiceError {
	e := &ServiceError{Code: CodeServerError, Message: message}
	if cause != nil {
		e.cause = cause
	}
	return e
}

// Unwrap exposes the cause to errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.cause }

// IsCode reports whether err is a ServiceError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Code == code
}

// AsServiceError extracts a ServiceError from err, or wraps err as a
// ServerError when it is anything else.
func AsServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return ServerError("unexpected failure", err)
}
