package service

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError is user-correctable input; Field names the offending input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

var (
	// ErrInvalidSignature carries no detail on purpose: callers learn only
	// that the proof was rejected.
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrOrderNotFound    = errors.New("order not found")
)

// AlreadyUsedError is returned by Redeem when the ticket was redeemed before.
type AlreadyUsedError struct {
	OrderID string
	UsedAt  time.Time
}

func (e *AlreadyUsedError) Error() string {
	return fmt.Sprintf("ticket %s already used at %s", e.OrderID, e.UsedAt.Format(time.RFC3339))
}

// InfrastructureError wraps storage failures. It is retryable and never a
// business outcome.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: infrastructure unavailable: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

func infraErr(op string, err error) error {
	return &InfrastructureError{Op: op, Err: err}
}
