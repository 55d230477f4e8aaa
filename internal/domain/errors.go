package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks user input that was rejected before any store mutation.
	ErrValidation = errors.New("validation failed")

	// ErrVoteNotFound indicates no vote exists for the (voter, item) pair.
	ErrVoteNotFound = errors.New("vote not found")

	// ErrConstraintViolation indicates a uniqueness constraint fired in the store.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrInvariantViolation is a programming-contract error. It must abort the
	// operation and is never retried.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrTransientStore marks I/O or locking failures; the caller may retry.
	ErrTransientStore = errors.New("transient store failure")
)

// ValidationError describes a single rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// StoreError wraps a failure from the underlying store with the operation name.
// It always matches ErrTransientStore.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrTransientStore }

// NewStoreError wraps err as a transient store failure for op.
func NewStoreError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
