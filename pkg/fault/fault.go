// Package fault provides the error taxonomy shared by every cloudrove
// component. This is a leaf package with no internal dependencies so that
// both service packages and store implementations can import it without
// causing circular imports.
//
// Every error carries a Kind which the transport layer maps to an HTTP
// status code. Low-level errors (object store, codec, queue) are wrapped at
// the boundary where enough context exists to classify them.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the transport layer.
type Kind int

const (
	// KindNotFound indicates the requested resource does not exist:
	// a missing object, job, directory, or encrypted-folder entry.
	KindNotFound Kind = iota + 1

	// KindForbidden indicates the caller is denied access: encrypted-folder
	// access without a valid session, or a job owned by another owner.
	KindForbidden

	// KindConflict indicates the operation collides with existing state:
	// rename target exists, encrypted folder already present.
	KindConflict

	// KindBadRequest indicates invalid input: malformed path, short
	// passphrase, checksum mismatch, archive safety-limit violation,
	// unsupported format, or an exceeded storage limit.
	KindBadRequest

	// KindUnavailable indicates a required subsystem is not configured,
	// such as the archive queue when the KV backend is disabled.
	KindUnavailable

	// KindInternal indicates an unexpected failure in the object store,
	// a codec, or the queue.
	KindInternal
)

// String returns a stable machine-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad_request"
	case KindUnavailable:
		return "unavailable"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// HTTPStatus maps the kind to the HTTP status the API layer responds with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Message is safe to surface to callers;
// the wrapped cause is for logs only.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// Is reports kind equality so callers can match sentinel errors built with
// New: errors.Is(err, fault.New(fault.KindNotFound, "")) is discouraged;
// prefer KindOf. Implemented for completeness with wrapped chains.
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return fe.Kind == e.Kind && (fe.Message == "" || fe.Message == e.Message)
	}
	return false
}

// New creates a classified error with a printf-style message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error, preserving it as the cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NotFoundf creates a KindNotFound error.
func NotFoundf(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// Forbiddenf creates a KindForbidden error.
func Forbiddenf(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

// Conflictf creates a KindConflict error.
func Conflictf(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// BadRequestf creates a KindBadRequest error.
func BadRequestf(format string, args ...any) *Error {
	return New(KindBadRequest, format, args...)
}

// Unavailablef creates a KindUnavailable error.
func Unavailablef(format string, args ...any) *Error {
	return New(KindUnavailable, format, args...)
}

// Internalf creates a KindInternal error wrapping cause.
func Internalf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the Kind from an error chain. Unclassified errors are
// reported as KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
