package x402

import "time"

// PaymentEventType represents the type of payment event.
type PaymentEventType string

const (
	// PaymentEventAttempt indicates a verify or settle call has started.
	PaymentEventAttempt PaymentEventType = "attempt"

	// PaymentEventSuccess indicates the call accepted or settled the payment.
	PaymentEventSuccess PaymentEventType = "success"

	// PaymentEventFailure indicates the call rejected or failed to settle the payment.
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentOperation names the facilitator operation an event belongs to.
type PaymentOperation string

const (
	OperationVerify PaymentOperation = "verify"
	OperationSettle PaymentOperation = "settle"
)

// PaymentEvent represents a facilitator lifecycle event.
type PaymentEvent struct {
	// Type is the event type (attempt, success, failure).
	Type PaymentEventType

	// Operation is verify or settle.
	Operation PaymentOperation

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// Network is the network named by the payment payload.
	Network string

	// Asset is the token contract address.
	Asset string

	// Amount is the authorized value in atomic units.
	Amount string

	// Recipient is the authorization's recipient address.
	Recipient string

	// Payer is the authorization's from address.
	Payer string

	// Transaction is the settlement transaction hash, if any.
	Transaction string

	// Reason is the rejection or failure reason (failure only).
	Reason Reason

	// Duration is the time taken by the operation (success and failure only).
	Duration time.Duration
}

// PaymentCallback handles payment events. Callbacks run synchronously on the
// request goroutine and should return quickly.
type PaymentCallback func(PaymentEvent)
