package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrAuthRequired  = errors.New("Authentication required")
	ErrNotFound      = errors.New("Expense not found")
	ErrRemoteFailure = errors.New("remote operation failed")
	ErrOfflineReplay = errors.New("offline replay failed")
	ErrEngineClosed  = errors.New("engine closed")
	ErrInvalidAmount = errors.New("invalid amount")
)

// ValidationError lists every rule a request broke.
type ValidationError struct {
	Rules []string
}

func newValidationError(rules []string) error {
	if len(rules) == 0 {
		return nil
	}
	return &ValidationError{Rules: rules}
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Rules, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RemoteError carries the failing operation and the transport cause.
type RemoteError struct {
	Op  string
	Err error
}

// RemoteFailure wraps err as a remote failure of op. Domain errors pass through.
func RemoteFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrAuthRequired) {
		return err
	}
	return &RemoteError{Op: op, Err: err}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteFailure
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Message returns the user-facing text for err.
func Message(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, ErrAuthRequired):
		return ErrAuthRequired.Error()
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	default:
		return err.Error()
	}
}
