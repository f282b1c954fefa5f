package service

import (
	"Parley/internal/repo"
	"errors"
	"fmt"
)

// Kind classifies a failure for the transport layers
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindInvalidOperation
	KindConflict
)

// Code is the stable machine-readable name of the kind
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInvalidOperation:
		return "invalid_operation"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is the failure type every service operation returns. Callers use
// errors.As or KindOf to branch on Kind:
//
//	var svcErr *service.Error
//	if errors.As(err, &svcErr) && svcErr.Kind == service.KindNotFound { ... }
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func invalidOperation(format string, args ...any) error {
	return &Error{Kind: KindInvalidOperation, Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// internal wraps a store failure. A repo.ErrNotFound surfacing here is turned
// into a NotFound with the given message instead.
func internal(err error, message string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return &Error{Kind: KindNotFound, Message: message, Err: err}
	}
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the Kind of err, KindInternal for foreign errors
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}

// MessageOf returns the human-readable message safe to show a client
func MessageOf(err error) string {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	return "internal server error"
}
