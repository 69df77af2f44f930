package schema

import (
	"errors"
	"fmt"
	"strconv"
)

// Sentinel causes for schema and validation failures. Callers branch with
// errors.Is; the *Error wrapper carries the offending id/value for messages
// and assertions.
var (
	ErrBadDeclaration  = errors.New("malformed option schema")
	ErrDuplicateID     = errors.New("duplicate option id")
	ErrUnknownKind     = errors.New("unknown option kind")
	ErrMissingRequired = errors.New("missing required option")
	ErrInvalidChoice   = errors.New("value not in choices")
	ErrOutOfRange      = errors.New("value out of range")
	ErrInvalidValue    = errors.New("value not coercible to option kind")
)

// Error is a schema or validation failure tied to one option definition.
// Min/Max are only set for out-of-range failures.
type Error struct {
	ID    string
	Value any
	Min   *float64
	Max   *float64
	cause error
}

func (e *Error) Error() string {
	switch {
	case e.cause == ErrOutOfRange:
		return fmt.Sprintf("option %q: %v: got %v, want %s..%s",
			e.ID, e.cause, e.Value, boundLabel(e.Min), boundLabel(e.Max))
	case e.Value != nil:
		return fmt.Sprintf("option %q: %v: %v", e.ID, e.cause, e.Value)
	default:
		return fmt.Sprintf("option %q: %v", e.ID, e.cause)
	}
}

func (e *Error) Unwrap() error { return e.cause }

func boundLabel(b *float64) string {
	if b == nil {
		return "any"
	}
	return strconv.FormatFloat(*b, 'f', -1, 64)
}

func schemaErr(cause error, id string) *Error {
	return &Error{ID: id, cause: cause}
}

func valueErr(cause error, id string, value any) *Error {
	return &Error{ID: id, Value: value, cause: cause}
}

func rangeErr(id string, value any, min, max *float64) *Error {
	return &Error{ID: id, Value: value, Min: min, Max: max, cause: ErrOutOfRange}
}
