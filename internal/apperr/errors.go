// Package apperr classifies pipeline failures so the HTTP layer can map
// them to status codes without inspecting error strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	Validation    Kind = "validation"
	Acquisition   Kind = "acquisition"
	Conversion    Kind = "conversion"
	Probe         Kind = "probe"
	Transcription Kind = "transcription"
	Scoring       Kind = "scoring"
	Directory     Kind = "directory"
	Delivery      Kind = "delivery"
)

// GenericMessage is what callers see for any non-validation failure.
const GenericMessage = "failed to process incident"

type Error struct {
	Kind Kind
	Op   string
	Err  error
	// Public is returned to the caller verbatim. Only set for validation errors.
	Public string
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: Scoring}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Invalid builds a user-correctable error whose message is safe to return.
func Invalid(msg string) *Error {
	return &Error{Kind: Validation, Op: "validate", Err: errors.New(msg), Public: msg}
}

// KindOf returns the kind of the outermost *Error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if KindOf(err) == Validation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// PublicMessage hides internal detail for everything but validation errors.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind == Validation && e.Public != "" {
		return e.Public
	}
	return GenericMessage
}
