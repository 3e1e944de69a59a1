// Package apperrors provides the error-kind taxonomy used across agent-fleet,
// so each layer (CLI, dispatcher, store) can apply the right propagation
// policy without string-matching error messages.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind identifies which of the distinct error propagation policies applies.
type Kind string

const (
	// KindValidation covers bad task_type, bad input_mode, missing
	// instruction, unknown template variable, malformed payload JSON,
	// missing working_dir.
	KindValidation Kind = "validation"
	// KindLifecycle covers pid conflict, stale pid file, pid-file parse
	// error, daemon handshake timeout.
	KindLifecycle Kind = "lifecycle"
	// KindSubprocess covers failures launching or waiting on the child
	// process itself (not a nonzero exit code, which is a normal outcome).
	KindSubprocess Kind = "subprocess"
	// KindIO covers stream read/write failures.
	KindIO Kind = "io"
	// KindStore covers persistence failures.
	KindStore Kind = "store"
)

// AppError is an error tagged with a Kind, used to decide propagation policy.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through an AppError.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Validation builds a KindValidation error.
func Validation(format string, args ...any) *AppError {
	return &AppError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Lifecycle builds a KindLifecycle error.
func Lifecycle(format string, args ...any) *AppError {
	return &AppError{Kind: KindLifecycle, Message: fmt.Sprintf(format, args...)}
}

// Subprocess wraps an error as KindSubprocess.
func Subprocess(err error, message string) *AppError {
	return &AppError{Kind: KindSubprocess, Message: message, Err: err}
}

// IO wraps an error as KindIO.
func IO(err error, message string) *AppError {
	return &AppError{Kind: KindIO, Message: message, Err: err}
}

// Store wraps an error as KindStore.
func Store(err error, message string) *AppError {
	return &AppError{Kind: KindStore, Message: message, Err: err}
}

// Is reports whether err is an AppError of the given Kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// IsValidation reports whether err is a KindValidation error.
func IsValidation(err error) bool { return Is(err, KindValidation) }

// IsLifecycle reports whether err is a KindLifecycle error.
func IsLifecycle(err error) bool { return Is(err, KindLifecycle) }
