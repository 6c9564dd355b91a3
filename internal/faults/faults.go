package faults

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure by what the worker should do with it.
type Kind int

const (
	// KindUnknown - unclassified, treated like transient so nothing is lost.
	KindUnknown Kind = iota

	// KindTransient - temporary failures that may succeed on retry.
	// Examples: timeout, rate limit (429), server error (5xx), network error.
	KindTransient

	// KindTerminalExternal - the external party rejected the operation for
	// good. Examples: chat deleted (404), account blocked (403).
	KindTerminalExternal

	// KindContractViolation - a collaborator returned output that violates
	// its structural contract (oracle schema, invalid state label).
	KindContractViolation

	// KindResourceExhaustion - a budget ran out (quota, retry budget).
	KindResourceExhaustion

	// KindConsistencyConflict - concurrent-modification signals (lock lost
	// mid-flight). The invocation aborts without side effects.
	KindConsistencyConflict
)

// String returns the stable name used in logs and the event log.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTerminalExternal:
		return "terminal_external"
	case KindContractViolation:
		return "contract_violation"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	case KindConsistencyConflict:
		return "consistency_conflict"
	default:
		return "unknown"
	}
}

// Fault wraps an error with its classification.
type Fault struct {
	Kind       Kind
	Message    string
	StatusCode int // HTTP status if applicable
	Cause      error
}

func (f *Fault) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("[%d] %s", f.StatusCode, f.Message)
	}
	return f.Message
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

// Retryable reports whether requeueing the work can help.
func (f *Fault) Retryable() bool {
	return f.Kind == KindTransient || f.Kind == KindUnknown
}

// New creates a classified fault.
func New(kind Kind, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, err error, message string) *Fault {
	return &Fault{Kind: kind, Message: message, Cause: err}
}

// KindOf extracts the classification from any error, defaulting to unknown.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the error is worth another delivery attempt.
// Unclassified errors count as retryable so nothing is silently dropped.
func IsRetryable(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Retryable()
	}
	return true
}

// FromHTTP classifies an HTTP response status.
func FromHTTP(statusCode int, body string) *Fault {
	f := &Fault{
		StatusCode: statusCode,
		Message:    fmt.Sprintf("HTTP %d: %s", statusCode, truncate(body, 200)),
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		f.Kind = KindTransient
	case statusCode >= 500 && statusCode < 600:
		f.Kind = KindTransient
	case statusCode == http.StatusRequestTimeout:
		f.Kind = KindTransient
	case statusCode == http.StatusNotFound,
		statusCode == http.StatusForbidden,
		statusCode == http.StatusGone:
		f.Kind = KindTerminalExternal
	case statusCode == http.StatusUnauthorized:
		// Token likely stale; a refresh on the next attempt can fix it.
		f.Kind = KindTransient
	case statusCode == http.StatusBadRequest,
		statusCode == http.StatusUnprocessableEntity:
		f.Kind = KindTerminalExternal
	default:
		f.Kind = KindUnknown
	}
	return f
}

// Classify wraps a general error, sniffing network-level failures.
func Classify(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Fault{Kind: KindTransient, Message: "request timed out", Cause: err}
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "EOF") {
		return &Fault{Kind: KindTransient, Message: "network error: " + truncate(errStr, 100), Cause: err}
	}

	return &Fault{Kind: KindUnknown, Message: truncate(errStr, 200), Cause: err}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
