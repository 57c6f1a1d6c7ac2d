// Package backuperr defines the typed failures returned by the backup store and
// the dump runner.
package backuperr

import (
	"errors"
	"fmt"
)

// Kind classifies a backup failure.
type Kind string

// Failure kinds.
const (
	KindConfiguration   Kind = "configuration"
	KindInvalidArgument Kind = "invalid argument"
	KindNotFound        Kind = "not found"
	KindIO              Kind = "io"
	KindProcess         Kind = "process"
)

// Sentinels for use with errors.Is.
var (
	ErrConfiguration   = errors.New(string(KindConfiguration))
	ErrInvalidArgument = errors.New(string(KindInvalidArgument))
	ErrNotFound        = errors.New(string(KindNotFound))
	ErrIO              = errors.New(string(KindIO))
	ErrProcess         = errors.New(string(KindProcess))
)

// Error is a classified failure with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	return sentinel(e.Kind) == target
}

func sentinel(k Kind) error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindNotFound:
		return ErrNotFound
	case KindIO:
		return ErrIO
	case KindProcess:
		return ErrProcess
	}
	return nil
}

// Configuration reports an unusable directory or missing tool.
func Configuration(message string, cause error) *Error {
	return &Error{Kind: KindConfiguration, Message: message, Cause: cause}
}

// InvalidArgument reports an empty or malformed caller argument.
func InvalidArgument(message string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: message}
}

// NotFound reports a backup file that does not exist.
func NotFound(message string, cause error) *Error {
	return &Error{Kind: KindNotFound, Message: message, Cause: cause}
}

// IO reports a filesystem failure other than not-found.
func IO(message string, cause error) *Error {
	return &Error{Kind: KindIO, Message: message, Cause: cause}
}

// ProcessError is returned when an external command exits unsuccessfully.
// ExitCode is -1 when the command could not be started at all.
type ProcessError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("process %q failed with exit code %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying exec error.
func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Is matches ErrProcess.
func (e *ProcessError) Is(target error) bool {
	return target == ErrProcess
}

// KindOf returns the kind of err, or "" if err is not a classified failure.
func KindOf(err error) Kind {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return KindProcess
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}
