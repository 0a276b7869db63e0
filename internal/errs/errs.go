// Package errs defines the sentinel error kinds used across the Pluto
// framework so callers can classify failures with errors.Is rather than
// string matching.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrBadParameters is returned when an instruction or component was
	// constructed with invalid or incomplete arguments.
	ErrBadParameters = errors.New("bad parameters")

	// ErrLogic signals an internal invariant violation (runner started
	// twice, reset while running, repeat_every shorter than a child's
	// runtime, ...). Not recoverable from within the framework.
	ErrLogic = errors.New("logic error")

	// ErrAttribute signals a missing or erroring attribute on a component
	// encountered while running Call/Set/Wait instructions.
	ErrAttribute = errors.New("attribute error")

	// ErrUnknownComponent is returned when a GetComponent lookup fails.
	ErrUnknownComponent = errors.New("unknown component")

	// ErrDuplicateRegistration is returned when a component name collides
	// with one already registered.
	ErrDuplicateRegistration = errors.New("duplicate component registration")

	// ErrHandlerNotRegistered is returned by eventbus.Bus.Off when the
	// (class, handler) pair isn't currently registered.
	ErrHandlerNotRegistered = errors.New("handler not registered")
)

// Wrap pairs a sentinel kind with a descriptive message, preserving
// errors.Is(err, kind) while keeping the message human readable.
func Wrap(kind error, format string, args ...any) error {
	return &wrapped{kind: kind, msg: fmt.Sprintf(format, args...)}
}

type wrapped struct {
	kind error
	msg  string
}

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.kind }
