package reconcile

import (
	"errors"
	"fmt"
)

// Engine errors. A pending request that absorbs an append is not an error.
var (
	ErrNotFound            = errors.New("not found")
	ErrNoEntitlementsFound = errors.New("no entitlements found")
	ErrValidation          = errors.New("validation error")
	ErrAccessNotHeld       = errors.New("access not held")
	ErrPendingEvents       = errors.New("pending access events")
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("validation error: %s is required", e.Field)
	}
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StoreError wraps an underlying persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func required(field, value string) error {
	if value == "" {
		return &ValidationError{Field: field}
	}
	return nil
}
