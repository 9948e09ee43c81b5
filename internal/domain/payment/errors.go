package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

// Messages shown to the customer when the sink gives nothing more specific.
const (
	MessageFailed      = "Payment failed"
	MessageUnavailable = "Payment service unavailable"
	MessageTimeout     = "Payment timed out"
)

// NetworkError indicates the outbound call could not complete.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RejectedError indicates the payment backend answered but refused the
// transaction. Message is customer-facing and may be empty.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = MessageFailed
	}
	if e.Status != 0 {
		return fmt.Sprintf("payment rejected (status %d): %s", e.Status, msg)
	}
	return "payment rejected: " + msg
}

// Message converts a sink error into the human-readable string displayed
// inline on the checkout view.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var rejected *RejectedError
	if errors.As(err, &rejected) {
		if rejected.Message != "" {
			return rejected.Message
		}
		return MessageFailed
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return MessageTimeout
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return MessageUnavailable
	}

	return MessageFailed
}
