// Package fault classifies pipeline failures.
//
// Every error that leaves a pipeline component is a *Error carrying a Kind.
// Callers decide between restart, graceful shutdown and a fatal exit by kind
// alone; the wrapped cause is only for humans.
package fault

import (
	"errors"
	"fmt"

	"github.com/junsooki/camview/internal/frame"
)

// Kind is the failure class of an Error.
type Kind int

const (
	// KindUnknown is reported for errors that carry no Kind.
	KindUnknown Kind = iota
	// KindDeviceTimeout means the device produced no completion in time.
	KindDeviceTimeout
	// KindDeviceError means the device could not be started or restarted.
	KindDeviceError
	// KindProtocolViolation means the device integration broke the lease
	// protocol (double lease, stale generation, unexpected message).
	KindProtocolViolation
	// KindBackendImport means a buffer could not be imported for display.
	KindBackendImport
	// KindBackendTeardown means releasing backend resources failed.
	KindBackendTeardown
	// KindSignalTermination is an external stop request.
	KindSignalTermination
	// KindSinkClosed means the display was closed by the user.
	KindSinkClosed
)

func (k Kind) String() string {
	switch k {
	case KindDeviceTimeout:
		return "device_timeout"
	case KindDeviceError:
		return "device_error"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindBackendImport:
		return "backend_import"
	case KindBackendTeardown:
		return "backend_teardown"
	case KindSignalTermination:
		return "signal_termination"
	case KindSinkClosed:
		return "sink_closed"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline failure.
type Error struct {
	Kind Kind
	Op   string
	// Buffer is the lease involved, if any.
	Buffer *frame.Key
	Err    error
}

// New returns an Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf returns an Error of the given kind with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// ForBuffer returns an Error bound to a buffer lease.
func ForBuffer(kind Kind, op string, key frame.Key, err error) *Error {
	return &Error{Kind: kind, Op: op, Buffer: &key, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Buffer != nil {
		msg += " (buffer " + e.Buffer.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err,
// fault.ErrProtocolViolation) works on any wrapped failure.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Buffer == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrDeviceTimeout     = &Error{Kind: KindDeviceTimeout}
	ErrDeviceError       = &Error{Kind: KindDeviceError}
	ErrProtocolViolation = &Error{Kind: KindProtocolViolation}
	ErrBackendImport     = &Error{Kind: KindBackendImport}
	ErrBackendTeardown   = &Error{Kind: KindBackendTeardown}
	ErrSignalTermination = &Error{Kind: KindSignalTermination}
	ErrSinkClosed        = &Error{Kind: KindSinkClosed}
)

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsGraceful reports whether err is a normal way for the pipeline to stop.
func IsGraceful(err error) bool {
	if err == nil {
		return true
	}
	switch KindOf(err) {
	case KindSignalTermination, KindSinkClosed:
		return true
	}
	return false
}
