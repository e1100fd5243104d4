// Package apierror defines the bridge's error-kind taxonomy and its
// Anthropic-shaped JSON error envelope.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the taxonomy's error categories. It doubles as the
// Anthropic error envelope's "type" string for everything except the
// collapsed internal-failure kinds, which all render as "api_error".
type Kind string

const (
	KindConfigError               Kind = "config_error"
	KindInvalidRequest            Kind = "invalid_request_error"
	KindAuthError                 Kind = "authentication_error"
	KindMethodNotAllowed          Kind = "method_not_allowed"
	KindNotFound                  Kind = "not_found_error"
	KindRecoverableSessionError   Kind = "recoverable_session_error"
	KindUnrecoverableSessionError Kind = "unrecoverable_session_error"
	KindNetworkError              Kind = "network_error"
	KindUpstreamError             Kind = "upstream_error"
)

// Error is the bridge's single error type: a taxonomy Kind, a human-readable
// message, and an optional wrapped cause exposed through Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error carrying cause as its wrapped error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Envelope is the Anthropic-shaped error response body:
// {"type":"error","error":{"type":"<kind>","message":"<text>"}}.
type Envelope struct {
	Type  string        `json:"type"`
	Error EnvelopeError `json:"error"`
}

// EnvelopeError is the inner error object of Envelope.
type EnvelopeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// httpStatus maps a Kind to its HTTP status code.
func httpStatus(kind Kind) int {
	switch kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindAuthError:
		return http.StatusForbidden
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindNotFound:
		return http.StatusNotFound
	default:
		// ConfigError never reaches the HTTP layer (it fails the process at
		// the composition root); RecoverableSessionError never surfaces past
		// SessionBridge. Everything else collapses to 500.
		return http.StatusInternalServerError
	}
}

// envelopeType maps a Kind to the Anthropic error.type string. Internal
// failure kinds all collapse to "api_error".
func envelopeType(kind Kind) string {
	switch kind {
	case KindInvalidRequest, KindAuthError:
		return string(kind)
	case KindMethodNotAllowed, KindNotFound:
		return string(kind)
	default:
		return "api_error"
	}
}

// WriteHTTP writes err to w as an Anthropic error envelope with the status
// code its Kind maps to. Non-*Error values are treated as an opaque
// UpstreamError.
func WriteHTTP(w http.ResponseWriter, err error) {
	e, ok := As(err)
	if !ok {
		e = Wrap(KindUpstreamError, err.Error(), err)
	}
	body := Envelope{
		Type: "error",
		Error: EnvelopeError{
			Type:    envelopeType(e.Kind),
			Message: e.Message,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(e.Kind))
	_ = json.NewEncoder(w).Encode(body)
}
