package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// ErrorKind is the coarse, user-visible classification of a failure.
type ErrorKind string

const (
	ErrorKindInsufficientTokens  ErrorKind = "insufficient_tokens"
	ErrorKindEntitlementDenied   ErrorKind = "entitlement_denied"
	ErrorKindSchemaInvalid       ErrorKind = "schema_invalid"
	ErrorKindQueueFull           ErrorKind = "queue_full"
	ErrorKindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	ErrorKindUpstreamRejected    ErrorKind = "upstream_rejected"
	ErrorKindTimeout             ErrorKind = "timeout"
	ErrorKindStorageFailed       ErrorKind = "storage_failed"
	ErrorKindInternal            ErrorKind = "internal"
)

// MaxAttempts reports how many executions a job may consume before a failure
// of this kind becomes terminal. Zero means the kind is never retried.
func (k ErrorKind) MaxAttempts() int {
	switch k {
	case ErrorKindUpstreamUnavailable, ErrorKindStorageFailed:
		return 3
	case ErrorKindTimeout:
		return 2
	default:
		return 0
	}
}

// Retriable reports whether a failure of this kind may re-enter the queue.
func (k ErrorKind) Retriable() bool {
	return k.MaxAttempts() > 0
}

// PublicMessage is the redacted text exposed to clients for the kind.
func (k ErrorKind) PublicMessage() string {
	switch k {
	case ErrorKindInsufficientTokens:
		return "not enough tokens for this generation"
	case ErrorKindEntitlementDenied:
		return "your subscription does not include this generation"
	case ErrorKindSchemaInvalid:
		return "invalid request"
	case ErrorKindQueueFull:
		return "generation queue is full, try again later"
	case ErrorKindUpstreamUnavailable:
		return "generator unavailable"
	case ErrorKindUpstreamRejected:
		return "generator rejected the request"
	case ErrorKindTimeout:
		return "generation timed out"
	case ErrorKindStorageFailed:
		return "could not store the generated media"
	default:
		return "internal error"
	}
}

// Error carries an ErrorKind alongside the underlying cause. Msg is safe to
// show to clients; Err is only logged.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.PublicMessage()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Public returns the client-facing message.
func (e *Error) Public() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.PublicMessage()
}

// NewError builds an Error with a client-safe message.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Errorf builds an Error with a formatted client-safe message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError classifies err under kind. The cause is kept for logs only.
func WrapError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind of err, defaulting to internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrorKindInternal
}

// PublicMessage returns the client-facing message for err.
func PublicMessage(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Public()
	}
	return ErrorKindInternal.PublicMessage()
}
