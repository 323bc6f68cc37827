package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrRetryBudgetExhausted marks a source that failed too many epochs in a row.
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// StructuralError means the upstream content no longer has the expected
// shape and the parser needs an update. It is fatal for its source.
type StructuralError struct {
	Source string
	Msg    string
	Err    error
}

func (e *StructuralError) Error() string {
	msg := fmt.Sprintf("%s | parser update required: %s", e.Source, e.Msg)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StructuralError) Unwrap() error { return e.Err }

// TransientError wraps a network failure that outlived its retries.
type TransientError struct {
	Source string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s | transient: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// UnknownError wraps an unclassified failure at the source boundary.
type UnknownError struct {
	Source string
	Err    error
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("%s | unknown error, needs investigation: %v", e.Source, e.Err)
}

func (e *UnknownError) Unwrap() error { return e.Err }

// Kind classifies an error for the retry policy.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindStructural
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindStructural:
		return "structural"
	default:
		return "unknown"
	}
}

// Classify sorts err into the error taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var se *StructuralError
	if errors.As(err, &se) {
		return KindStructural
	}
	var te *TransientError
	if errors.As(err, &te) {
		return KindTransient
	}
	if isRetryableError(err) {
		return KindTransient
	}
	return KindUnknown
}

// isRetryableError reports network conditions worth another attempt.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	s := err.Error()
	// Timeout errors
	if strings.Contains(s, "timeout") || strings.Contains(s, "Timeout") {
		return true
	}
	// Connection errors
	if strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "no such host") {
		return true
	}
	return false
}
