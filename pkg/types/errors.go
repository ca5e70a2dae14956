package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a generation failure. The kind decides both how the
// error surfaces to the caller and whether the dispatcher may retry.
type ErrorKind string

const (
	ErrConfig     ErrorKind = "config"
	ErrValidation ErrorKind = "validation"
	ErrAPI        ErrorKind = "api"
	ErrNetwork    ErrorKind = "network"
	ErrTimeout    ErrorKind = "timeout"
	ErrParse      ErrorKind = "parse"
	ErrCancelled  ErrorKind = "cancelled"
)

// RequestError is the domain error for the dispatch pipeline.
type RequestError struct {
	Kind    ErrorKind
	Message string
	// Details carries auxiliary data such as a non-200 response body.
	Details string
	cause   error
}

func (e *RequestError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RequestError) Unwrap() error { return e.cause }

// Is allows errors.Is matching on a bare kind sentinel.
func (e *RequestError) Is(target error) bool {
	var re *RequestError
	if errors.As(target, &re) {
		return re.Kind == e.Kind && (re.Message == "" || re.Message == e.Message)
	}
	return false
}

// NewRequestError creates a RequestError with a formatted message.
func NewRequestError(kind ErrorKind, format string, args ...any) *RequestError {
	return &RequestError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps cause in a RequestError of the given kind.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *RequestError {
	return &RequestError{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NewAPIError creates an api-kind error carrying the response body.
func NewAPIError(status int, body string) *RequestError {
	return &RequestError{
		Kind:    ErrAPI,
		Message: fmt.Sprintf("upstream returned status %d", status),
		Details: body,
	}
}

// KindOf extracts the error kind, or "" for non-domain errors.
func KindOf(err error) ErrorKind {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// IsRetryable decides whether the dispatcher may attempt the request again.
// Cancellation is terminal. API, network and timeout failures are transient.
// Config, validation and parse failures will not improve on retry. Anything
// that is not a RequestError is assumed to be a transient network fault.
func IsRetryable(err error) bool {
	var re *RequestError
	if !errors.As(err, &re) {
		return err != nil
	}
	switch re.Kind {
	case ErrAPI, ErrNetwork, ErrTimeout:
		return true
	default:
		return false
	}
}
