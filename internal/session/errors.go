package session

import (
	"errors"
	"fmt"
)

// Kind classifies capture session failures.
type Kind string

const (
	// KindDeviceUnavailable covers permission denial and missing hardware.
	KindDeviceUnavailable Kind = "DeviceUnavailable"
	// KindInvalidState marks an operation called out of sequence.
	KindInvalidState Kind = "InvalidState"
	// KindUploadFailed covers transport, server, and payload failures.
	KindUploadFailed Kind = "UploadFailed"
)

var (
	ErrDeviceUnavailable = &Error{Kind: KindDeviceUnavailable}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrUploadFailed      = &Error{Kind: KindUploadFailed}
)

// Error is the typed failure surfaced by session operations and notifications.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so callers can test against the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind carried by err, or "" when err is not a session error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func invalidState(op string, format string, args ...any) *Error {
	return newError(KindInvalidState, op, fmt.Errorf(format, args...))
}
