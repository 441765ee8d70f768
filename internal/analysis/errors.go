package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Kind classifies analysis failures.
type Kind string

const (
	KindNetwork        Kind = "network"
	KindValidation     Kind = "validation"
	KindProcessing     Kind = "processing"
	KindAuthentication Kind = "authentication"
	KindQuota          Kind = "quota"
	KindUnknown        Kind = "unknown"
)

// CancelledMessage is the message carried by a user cancellation.
const CancelledMessage = "Analysis cancelled by user"

var (
	ErrBusy              = errors.New("analysis already in progress")
	ErrNoPreviousRequest = errors.New("no previous analysis to retry")
	ErrNotRetryable      = errors.New("last analysis error is not retryable")
)

// Error is the user-facing failure of an analysis attempt. Message is meant
// for display, Details for diagnostics.
type Error struct {
	Kind       Kind          `json:"kind"`
	Message    string        `json:"message"`
	Details    string        `json:"details,omitempty"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Cancelled  bool          `json:"cancelled,omitempty"`
	Status     int           `json:"status,omitempty"`
	Err        error         `json:"-"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RetryAfterSeconds returns the retry hint rounded to whole seconds, or nil.
func (e *Error) RetryAfterSeconds() *int {
	if e.RetryAfter <= 0 {
		return nil
	}
	secs := int(e.RetryAfter.Round(time.Second) / time.Second)
	return &secs
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func cancelledError() *Error {
	return &Error{
		Kind:      KindUnknown,
		Message:   CancelledMessage,
		Retryable: false,
		Cancelled: true,
		Err:       context.Canceled,
	}
}

func validationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// statusError maps a non-2xx response to an Error.
func statusError(code int, body string) *Error {
	e := &Error{Status: code, Details: body}
	switch {
	case code == http.StatusUnauthorized:
		e.Kind = KindAuthentication
		e.Message = "Authentication required. Please log in to continue."
	case code == http.StatusRequestEntityTooLarge:
		e.Kind = KindValidation
		e.Message = "Audio file too large. Please use a smaller file."
	case code == http.StatusTooManyRequests:
		e.Kind = KindQuota
		e.Message = "Rate limit exceeded. Please try again later."
		e.Retryable = true
		e.RetryAfter = 60 * time.Second
	case code >= 500 && code <= 599:
		e.Kind = KindProcessing
		e.Message = "Server error during analysis. Please try again."
		e.Retryable = true
		e.RetryAfter = 10 * time.Second
	default:
		e.Kind = KindUnknown
		e.Message = fmt.Sprintf("Request failed with status %d", code)
		e.Retryable = true
		e.RetryAfter = 5 * time.Second
	}
	return e
}

// classify normalizes any error into an *Error. Errors that already carry a
// classification are returned unchanged.
func classify(err error) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := AsError(err); ok {
		return ae
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Kind:       KindNetwork,
			Message:    "Analysis request timed out. Please try again.",
			Details:    err.Error(),
			Retryable:  true,
			RetryAfter: 5 * time.Second,
			Err:        err,
		}
	}

	var netErr net.Error
	var urlErr *url.Error
	var opErr *net.OpError
	if errors.As(err, &urlErr) || errors.As(err, &opErr) || errors.As(err, &netErr) {
		return &Error{
			Kind:       KindNetwork,
			Message:    "Network connection failed. Please check your internet connection.",
			Details:    err.Error(),
			Retryable:  true,
			RetryAfter: 5 * time.Second,
			Err:        err,
		}
	}

	return unknownError(err)
}

func unknownError(err error) *Error {
	msg := "An unexpected error occurred during analysis."
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &Error{
		Kind:       KindUnknown,
		Message:    msg,
		Details:    details,
		Retryable:  true,
		RetryAfter: 5 * time.Second,
		Err:        err,
	}
}
