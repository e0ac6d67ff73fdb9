package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure for the caller.
type Kind string

const (
	KindValidation Kind = "validation"
	KindUpstream   Kind = "upstream"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// Error is returned by every Service operation that fails.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error returns the message shown to clients.
func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && t.Message == ""
}

var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrUpstream   = &Error{Kind: KindUpstream}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrInternal   = &Error{Kind: KindInternal}

	ErrNoInput = &Error{Kind: KindValidation, Message: "No input provided"}
)

func validationError(err error) *Error {
	return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
}

func upstreamError(format string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: fmt.Sprintf(format, err), Err: err}
}

func notFoundError(message string, err error) *Error {
	return &Error{Kind: KindNotFound, Message: message, Err: err}
}

// KindOf returns the kind of err, treating unclassified errors as internal.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
