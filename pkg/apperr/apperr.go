// Package apperr defines the coded error taxonomy shared by services and handlers.
//
// Stores return plain sentinel errors; services translate them into an *Error carrying
// a Code, and the HTTP layer renders the code with HTTPStatus.
package apperr

import (
	"errors"
	"net/http"
)

type Code string

const (
	CodeValidation             Code = "validation"
	CodeUnauthorized           Code = "unauthorized"
	CodeForbidden              Code = "forbidden"
	CodeNotFound               Code = "not_found"
	CodeInvalidTransition      Code = "invalid_transition"
	CodeConflict               Code = "conflict"
	CodeUploadFailed           Code = "upload_failed"
	CodeStoreUnavailable       Code = "store_unavailable"
	CodeRecognitionUnavailable Code = "recognition_unavailable"
	CodeInternal               Code = "internal"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match on code, so errors.Is(err, apperr.New(CodeNotFound, "")) works
// regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// Message returns the client-facing message for err. Uncoded errors are not exposed.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition, CodeConflict:
		return http.StatusConflict
	case CodeUploadFailed:
		return http.StatusBadGateway
	case CodeStoreUnavailable, CodeRecognitionUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
