// Package errs defines the error taxonomy shared by the lifecycle, matching,
// payment and transport layers.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or missing input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports a referenced ride, driver or payment that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// InvalidTransitionError reports a status change outside the lifecycle graph.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// ConflictError reports a lost race, typically a concurrent acceptance.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// StoreError wraps a persistence failure. Callers surface it as a generic
// internal failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "store " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var v *NotFoundError
	return errors.As(err, &v)
}

func IsInvalidTransition(err error) bool {
	var v *InvalidTransitionError
	return errors.As(err, &v)
}

func IsConflict(err error) bool {
	var v *ConflictError
	return errors.As(err, &v)
}
