package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can decide how to react without
// inspecting messages.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindExpired    Kind = "expired"
	KindRevoked    Kind = "revoked"
	KindInactive   Kind = "inactive"
	KindTransient  Kind = "transient"
)

// Kind sentinels, matched with errors.Is.
var (
	ErrValidation = &kindError{KindValidation}
	ErrConflict   = &kindError{KindConflict}
	ErrNotFound   = &kindError{KindNotFound}
	ErrExpired    = &kindError{KindExpired}
	ErrRevoked    = &kindError{KindRevoked}
	ErrInactive   = &kindError{KindInactive}
	ErrTransient  = &kindError{KindTransient}
)

// Reasons carried inside an *Error to name the violated invariant.
var (
	ErrInvalidBalance       = errors.New("invalid balance")
	ErrInvalidAddressFormat = errors.New("invalid address format")
	ErrUnknownNetwork       = errors.New("unknown network")
	ErrDuplicateWatch       = errors.New("duplicate watch address")
	ErrDuplicateWallet      = errors.New("duplicate wallet")
	ErrDuplicateUsername    = errors.New("duplicate username")
	ErrDuplicateEmail       = errors.New("duplicate email")
	ErrRefreshExpired       = errors.New("refresh token expired")
	ErrSessionExpired       = errors.New("session expired")
	ErrSessionRevoked       = errors.New("session revoked")
)

type kindError struct {
	kind Kind
}

func (k *kindError) Error() string { return string(k.kind) }

// Error is the error type returned by every component operation.
type Error struct {
	Kind  Kind
	Op    string
	Field string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + string(e.Kind)
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels so errors.Is(err, domain.ErrNotFound) works
// regardless of the wrapped reason.
func (e *Error) Is(target error) bool {
	k, ok := target.(*kindError)
	return ok && k.kind == e.Kind
}

// E builds an *Error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation returns a validation error for field.
func Validation(op, field string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Field: field, Err: err}
}

// Validationf is Validation with a formatted reason wrapping base.
func Validationf(op, field string, base error, format string, args ...any) *Error {
	return Validation(op, field, fmt.Errorf("%w: "+format, append([]any{base}, args...)...))
}

// NotFound returns a not-found error for the named entity.
func NotFound(op, entity string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Field: entity, Err: fmt.Errorf("%s not found", entity)}
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// WithOp re-labels a domain error with the caller's operation, keeping kind
// and reason. Non-domain errors are wrapped as-is.
func WithOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		cp := *de
		cp.Op = op
		return &cp
	}
	return fmt.Errorf("%s: %w", op, err)
}
