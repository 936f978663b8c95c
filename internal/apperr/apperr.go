// Package apperr carries the error kinds from the design's error-handling
// policy through every layer as one typed error, instead of exceptions or
// sentinel strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the ingress and the ledger agree on, so a
// single table can map kinds to HTTP statuses.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindInsufficientBonuses
	KindRateLimited
	KindExternalDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInsufficientBonuses:
		return "insufficient_bonuses"
	case KindRateLimited:
		return "rate_limited"
	case KindExternalDependency:
		return "external_dependency"
	default:
		return "internal"
	}
}

// Detail is one item of a validation error's details[] array.
type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the one error shape every component returns across its own
// boundary. It wraps an underlying cause without losing it, the same way
// repositories elsewhere in this module wrap pgx/squirrel errors with
// fmt.Errorf("...: %w").
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details []Detail
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

func WithDetails(kind Kind, code, message string, details ...Detail) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Details: details}
}

// As extracts an *Error from err, returning nil, false when err isn't one.
func As(err error) (*Error, bool) {
	var target *Error
	ok := errors.As(err, &target)
	return target, ok
}
