// Package xerrors implements the engine's error taxonomy: one exported Error
// type whose Kind field names the failure kind, carrying a stable code and an
// operator-facing fix suggestion, so callers can errors.As to *Error and
// compare its Kind rather than string-matching a message.
package xerrors

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned by any long-running operation whose CancelToken
// was raised.
var ErrCancelled = errors.New("cancelled")

// Kind identifies a taxonomy entry from the error handling design.
type Kind string

const (
	KindResolve    Kind = "ResolveError"
	KindParse      Kind = "ParseError"
	KindCache      Kind = "CacheError"
	KindValidation Kind = "ValidationFailure"
	KindBlocked    Kind = "BuildBlocked"
	KindCancelled  Kind = "BuildCancelled"
	KindFatal      Kind = "BuildFatal"
	KindExtract    Kind = "ExtractError"
	KindCleanup    Kind = "CleanupError"
)

// Error is the concrete type behind every taxonomy kind above.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fix     string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, code, fix, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Fix: fix, Message: fmt.Sprintf(format, args...)}
}

func wrap(kind Kind, code, fix string, err error) *Error {
	return &Error{Kind: kind, Code: code, Fix: fix, Message: err.Error(), Err: err}
}

// Resolve wraps a C3 disc-layout-resolution failure.
func Resolve(code, fix string, err error) *Error { return wrap(KindResolve, code, fix, err) }

// Resolvef constructs a C3 failure without an underlying error.
func Resolvef(code, fix, format string, args ...interface{}) *Error {
	return newf(KindResolve, code, fix, format, args...)
}

// Parse wraps a C2/C5/C6 streaming-parse failure.
func Parse(code, fix string, err error) *Error { return wrap(KindParse, code, fix, err) }

// Cache wraps a C5 cache failure; callers should treat the entry as absent.
func Cache(code, fix string, err error) *Error { return wrap(KindCache, code, fix, err) }

// Validation constructs a C9 structural validation failure.
func Validation(code, message, fix string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message, Fix: fix}
}

// Blocked constructs the distinct BuildBlocked failure category.
func Blocked(message string) *Error {
	return &Error{Kind: KindBlocked, Code: "BUILD_BLOCKED", Message: message,
		Fix: "Fix the reported ERRORs, then build again, or disable block-on-errors."}
}

// Cancelled constructs a BuildCancelled failure.
func Cancelled() *Error {
	return &Error{Kind: KindCancelled, Code: "CANCELLED", Message: "operation cancelled", Err: ErrCancelled}
}

// Fatal wraps a C10 build-fatal IO failure.
func Fatal(code, fix string, err error) *Error { return wrap(KindFatal, code, fix, err) }

// Extract wraps a C11 extractor failure.
func Extract(code, fix string, err error) *Error { return wrap(KindExtract, code, fix, err) }

// Cleanup wraps a C12 cleanup failure.
func Cleanup(code, fix string, err error) *Error { return wrap(KindCleanup, code, fix, err) }

// IsCancelled reports whether err is, or wraps, a cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
