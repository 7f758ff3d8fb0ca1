// Package errors implements the core's transport-agnostic error taxonomy.
//
// Every operation in the engine returns errors of this shape: a Kind
// that an outer HTTP layer maps to a status code, a sanitized
// user-visible Message, a structured Context bag (never secrets), and
// a wrapped Cause for internal diagnostics. Library code should never
// leak a bare stdlib error or a stack trace to a caller.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and recovery policy.
type Kind string

const (
	Validation   Kind = "validation"
	NotFound     Kind = "not_found"
	AuthRequired Kind = "auth_required"
	Forbidden    Kind = "forbidden"
	RateLimited  Kind = "rate_limited"
	ExternalCloud Kind = "external_cloud"
	LanguageModel Kind = "language_model"
	Database     Kind = "database"
	Internal     Kind = "internal"
)

// Error is the engine's canonical error type.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error carrying cause as its underlying error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithContext returns a copy of e with k:v merged into Context.
func (e *Error) WithContext(k string, v any) *Error {
	cp := *e
	cp.Context = make(map[string]any, len(e.Context)+1)
	for key, val := range e.Context {
		cp.Context[key] = val
	}
	cp.Context[k] = v
	return &cp
}

// KindOf extracts the Kind from err, defaulting to Internal when err
// is not (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// StatusCode maps a Kind to the transport status code an outer HTTP
// layer should return. The engine itself never issues this code.
func StatusCode(k Kind) int {
	switch k {
	case Validation:
		return 400
	case AuthRequired:
		return 401
	case Forbidden:
		return 403
	case NotFound:
		return 404
	case RateLimited:
		return 429
	case ExternalCloud:
		return 502
	case Database:
		return 503
	default:
		return 500
	}
}

// Sanitize strips the cause chain and context, returning only what is
// safe to surface to a caller: the kind and the message.
func Sanitize(err error) (Kind, string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, e.Message
	}
	return Internal, "an internal error occurred"
}
