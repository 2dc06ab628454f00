// Package fault defines the error kinds the pipeline distinguishes when
// deciding whether a failure is scoped to a source, a page, a storage call
// or the whole run.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies where a failure originated.
type Kind string

const (
	KindSource      Kind = "source"
	KindExtraction  Kind = "extraction"
	KindPersistence Kind = "persistence"
	KindRun         Kind = "run"
)

// Error is a tagged failure returned by pipeline components.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with a kind and the operation that failed.
// Returns nil when err is nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether any error in err's chain is a fault of the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first fault in err's chain, or "" if none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
