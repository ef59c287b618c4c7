package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a turn failure for programmatic handling at the HTTP boundary.
type Kind string

const (
	KindUnauthorized         Kind = "unauthorized"
	KindRateLimited          Kind = "rate_limited"
	KindNotFound             Kind = "not_found"
	KindInvalidKey           Kind = "invalid_key"
	KindRetrievalUnavailable Kind = "retrieval_unavailable"
	KindStoreUnavailable     Kind = "store_unavailable"
	KindStreamInterrupted    Kind = "stream_interrupted"
	KindInternal             Kind = "internal"
)

// Error carries a kind, a stable user-facing message, and the wrapped cause.
// Backend error text never reaches callers; it stays in the wrapped chain for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches by kind so callers can do errors.Is(err, fault.New(kind, "")).
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return e.Kind == fe.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// PublicMessage returns the stable message for an error chain, never backend text.
func PublicMessage(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind to the boundary status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidKey:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
