// File: api/schemas/failure.go
package schemas

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Failure reasons written to ScanResult.FailedReason for the classified
// navigation outcomes. Any other failure carries the error type name instead.
const (
	FailedReasonTimeout    = "Page.navigate timeout"
	FailedReasonStatusCode = "status code"
	FailedReasonLoading    = "loading failed"
)

var (
	ErrNavigationTimeout = errors.New("navigation timed out")
	ErrNetworkStatus     = errors.New("primary request returned an error status")
	ErrNetworkLoad       = errors.New("primary request failed to load")
)

// IsRetryable reports whether a failure reason belongs to the network class
// that moves the scanner on to the next URL variant. Status code failures are
// genuine HTTP answers and never trigger another attempt.
func IsRetryable(reason string) bool {
	return reason == FailedReasonTimeout || reason == FailedReasonLoading
}

// ReasonError maps a classified failure reason back to its sentinel error.
func ReasonError(reason string) error {
	switch reason {
	case FailedReasonTimeout:
		return ErrNavigationTimeout
	case FailedReasonStatusCode:
		return ErrNetworkStatus
	case FailedReasonLoading:
		return ErrNetworkLoad
	}
	return nil
}

// Warning is a structured record of a protocol call that failed without
// aborting the scan.
type Warning struct {
	Message   string   `json:"message"`
	Exception string   `json:"exception"`
	Traceback []string `json:"traceback,omitempty"`
	Method    string   `json:"method"`
}

// WarningSink receives non-fatal warnings.
type WarningSink interface {
	AddWarning(w Warning)
}

// NewWarning builds a warning for a failed call made by method. The traceback
// is the chain of wrapped error messages, outermost first.
func NewWarning(method string, err error) Warning {
	return Warning{
		Message:   err.Error(),
		Exception: ExceptionName(err),
		Traceback: ErrorChain(err),
		Method:    method,
	}
}

// Names used for errors that carry no type of their own.
const (
	ExceptionDeadlineExceeded = "DeadlineExceeded"
	ExceptionCanceled         = "Canceled"
	ExceptionError            = "Error"
	ExceptionPanic            = "panic"
)

var sentinelNames = []struct {
	err  error
	name string
}{
	{ErrNavigationTimeout, "NavigationTimeout"},
	{ErrNetworkStatus, "NetworkStatusError"},
	{ErrNetworkLoad, "NetworkLoadError"},
	{context.DeadlineExceeded, ExceptionDeadlineExceeded},
	{context.Canceled, ExceptionCanceled},
}

// anonymous error types only carry a message and never name a failure.
var anonymous = map[string]bool{
	"errors.errorString": true,
	"errors.joinError":   true,
	"fmt.wrapError":      true,
	"fmt.wrapErrors":     true,
}

// ExceptionName names the kind of err. Known sentinels anywhere in the chain
// win, then the innermost named error type without the pointer marker, e.g.
// "cdproto.Error". Plain messages are named "Error".
func ExceptionName(err error) string {
	if err == nil {
		return ""
	}
	for _, s := range sentinelNames {
		if errors.Is(err, s.err) {
			return s.name
		}
	}
	name := ExceptionError
	for e := err; e != nil; e = errors.Unwrap(e) {
		if t := strings.TrimPrefix(fmt.Sprintf("%T", e), "*"); !anonymous[t] {
			name = t
		}
	}
	return name
}

// ErrorChain lists the message of err and of every error it wraps.
func ErrorChain(err error) []string {
	var chain []string
	for err != nil {
		chain = append(chain, err.Error())
		err = errors.Unwrap(err)
	}
	return chain
}
