package selfmessages

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies fatal run failures. The string value is the tag sent to callers.
type ErrorKind string

const (
	ErrorKindInvalidDate   ErrorKind = "invalid_date"
	ErrorKindNotLoggedIn   ErrorKind = "not_logged_in"
	ErrorKindAuthFailed    ErrorKind = "auth_failed"
	ErrorKindSearchFailed  ErrorKind = "search_failed"
	ErrorKindCanceled      ErrorKind = "canceled"
	ErrorKindFetchMessages ErrorKind = "failed_to_fetch_messages"
)

// RunError describes a fatal error of an aggregation run.
type RunError struct {
	Kind ErrorKind `json:"error"`
	// Detail carries the Slack error code for search failures.
	Detail  string `json:"detail,omitempty"`
	Message string `json:"-"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes the underlying cause for errors.Unwrap compatibility.
func (e *RunError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// APIError is a Slack Web API response with ok=false.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

// KindOf returns the ErrorKind carried by err, or ErrorKindFetchMessages for foreign errors.
func KindOf(err error) ErrorKind {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Kind
	}
	return ErrorKindFetchMessages
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	return KindOf(err) == ErrorKindInvalidDate
}

func newRunError(kind ErrorKind, message string, cause error) *RunError {
	return &RunError{Kind: kind, Message: message, Cause: cause}
}

// searchError converts a failed page request into a RunError.
func searchError(page int, err error) *RunError {
	if isContextError(err) {
		return newRunError(ErrorKindCanceled, fmt.Sprintf("search page %d interrupted", page), err)
	}
	runErr := newRunError(ErrorKindSearchFailed, fmt.Sprintf("search page %d failed", page), err)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		runErr.Detail = apiErr.Code
	}
	return runErr
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
