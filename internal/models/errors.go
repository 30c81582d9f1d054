package models

import (
	"errors"
	"fmt"
)

// Kind classifies failures across the pipeline.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindInvalidRole
	KindModelUnavailable
	KindStoreNotFound
	KindTransport
	KindSearchDegraded
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindInvalidRole:
		return "invalid role"
	case KindModelUnavailable:
		return "model unavailable"
	case KindStoreNotFound:
		return "store not found"
	case KindTransport:
		return "transport error"
	case KindSearchDegraded:
		return "search degraded"
	}
	return "unknown"
}

// Error carries a Kind alongside the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrInvalidRole      = &Error{Kind: KindInvalidRole}
	ErrModelUnavailable = &Error{Kind: KindModelUnavailable}
	ErrStoreNotFound    = &Error{Kind: KindStoreNotFound}
	ErrTransport        = &Error{Kind: KindTransport}
	ErrSearchDegraded   = &Error{Kind: KindSearchDegraded}
)

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error with a formatted cause.
func Errorf(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
