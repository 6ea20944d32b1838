// Package types contains common types used across the application
package types

import (
	"errors"
	"fmt"

	"github.com/dwellhq/dwell/internal/domain/model"
)

// Reason classifies why an operation failed.
type Reason string

// Failure reasons.
const (
	ReasonNotFound            Reason = "not_found"
	ReasonValidation          Reason = "validation"
	ReasonInsufficientCredits Reason = "insufficient_credits"
	ReasonPermanent           Reason = "permanent"
	ReasonTransient           Reason = "transient"
)

// Retryable reports whether an operation failing for r may succeed on retry.
func (r Reason) Retryable() bool {
	return r == ReasonTransient
}

// Outcome is either a success value or a typed failure.
type Outcome[T any] struct {
	value   T
	ok      bool
	reason  Reason
	message string
	cause   error
}

// Success wraps v in a successful outcome.
func Success[T any](v T) Outcome[T] {
	return Outcome[T]{value: v, ok: true}
}

// Failure builds a failed outcome.
func Failure[T any](reason Reason, message string) Outcome[T] {
	return Outcome[T]{reason: reason, message: message}
}

// FailureFrom builds a failed outcome carrying err as its cause.
func FailureFrom[T any](reason Reason, err error) Outcome[T] {
	return Outcome[T]{reason: reason, message: err.Error(), cause: err}
}

// OK reports success.
func (o Outcome[T]) OK() bool { return o.ok }

// Value returns the success value; it is the zero value on failure.
func (o Outcome[T]) Value() T { return o.value }

// Reason returns the failure reason, empty on success.
func (o Outcome[T]) Reason() Reason { return o.reason }

// Message returns the failure message, empty on success.
func (o Outcome[T]) Message() string { return o.message }

// Err returns nil on success, otherwise a *FailureError.
func (o Outcome[T]) Err() error {
	if o.ok {
		return nil
	}
	return &FailureError{Reason: o.reason, Message: o.message, Cause: o.cause}
}

// FailureError is the error form of a failed Outcome.
type FailureError struct {
	Reason  Reason
	Message string
	Cause   error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *FailureError) Unwrap() error { return e.Cause }

// ReasonOf extracts the failure reason from err, or "" when err is not a
// FailureError.
func ReasonOf(err error) Reason {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}

// TaskResult is the payload of a successful evaluation task.
type TaskResult struct {
	UserID           string         `json:"user_id"`
	RunID            string         `json:"run_id"`
	Stats            model.RunStats `json:"stats"`
	RemainingCredits float64        `json:"remaining_credits"`
}

// ScheduleResult reports one scheduling pass.
type ScheduleResult struct {
	UsersFound   int `json:"users_found"`
	TasksCreated int `json:"tasks_created"`
}
