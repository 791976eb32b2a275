package core

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrAuth                = errors.New("user identity required")
	ErrInsufficientCredit  = errors.New("insufficient credit")
	ErrCollaborator        = errors.New("collaborator failed")
	ErrInvalidOutputFormat = errors.New("invalid output format")
)

// CollaboratorError reports a failed call to an external service.
// It matches ErrCollaborator with errors.Is and unwraps to the cause.
type CollaboratorError struct {
	Op     string
	Reason string
	Err    error
}

func (e *CollaboratorError) Error() string {
	msg := e.Op
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaborator
}

func NewCollaboratorError(op string, err error) *CollaboratorError {
	return &CollaboratorError{Op: op, Err: err}
}

func CollaboratorFailure(op, format string, args ...any) *CollaboratorError {
	return &CollaboratorError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
