package x402

import "errors"

// Sentinel errors for facilitator operations.
var (
	// ErrInvalidAmount indicates an invalid amount string.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidKey indicates an invalid private key.
	ErrInvalidKey = errors.New("x402: invalid private key")

	// ErrInvalidNetwork indicates an unknown or unsupported network.
	ErrInvalidNetwork = errors.New("x402: invalid or unsupported network")

	// ErrInvalidAddress indicates a malformed EVM address.
	ErrInvalidAddress = errors.New("x402: invalid address")

	// ErrInvalidSignature indicates a malformed or non-matching signature.
	ErrInvalidSignature = errors.New("x402: invalid signature")

	// ErrInvalidAuthorization indicates an authorization field that cannot be parsed.
	ErrInvalidAuthorization = errors.New("x402: invalid authorization")

	// ErrUnsupportedScheme indicates an unsupported payment scheme.
	ErrUnsupportedScheme = errors.New("x402: unsupported payment scheme")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("x402: unsupported protocol version")

	// ErrAmountExceeded indicates the payment amount exceeds a signer's limit.
	ErrAmountExceeded = errors.New("x402: payment amount exceeds per-call limit")

	// ErrFacilitatorUnavailable indicates the facilitator service could not be reached.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrVerificationFailed indicates the facilitator rejected a verify request.
	ErrVerificationFailed = errors.New("x402: payment verification failed")

	// ErrSettlementFailed indicates the facilitator rejected a settle request.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")

	// ErrMalformedHeader indicates an X-PAYMENT header that cannot be decoded.
	ErrMalformedHeader = errors.New("x402: malformed payment header")
)

// Reason is the closed set of codes carried in invalidReason and errorReason.
// Clients switch on these values, so each failure condition has exactly one code.
type Reason string

const (
	ReasonUnsupportedScheme        Reason = "unsupported_scheme"
	ReasonInvalidNetwork           Reason = "invalid_network"
	ReasonInvalidSignature         Reason = "invalid_signature"
	ReasonRecipientMismatch        Reason = "recipient_mismatch"
	ReasonAuthorizationExpired     Reason = "authorization_expired"
	ReasonAuthorizationNotYetValid Reason = "authorization_not_yet_valid"
	ReasonInsufficientFunds        Reason = "insufficient_funds"
	ReasonAmountTooLow             Reason = "amount_too_low"
	ReasonSettlementFailed         Reason = "settlement_failed"
	ReasonTimeout                  Reason = "timeout"
	ReasonUnknownError             Reason = "unknown_error"
)

var knownReasons = map[Reason]struct{}{
	ReasonUnsupportedScheme:        {},
	ReasonInvalidNetwork:           {},
	ReasonInvalidSignature:         {},
	ReasonRecipientMismatch:        {},
	ReasonAuthorizationExpired:     {},
	ReasonAuthorizationNotYetValid: {},
	ReasonInsufficientFunds:        {},
	ReasonAmountTooLow:             {},
	ReasonSettlementFailed:         {},
	ReasonTimeout:                  {},
	ReasonUnknownError:             {},
}

// Valid reports whether r is one of the defined reason codes.
func (r Reason) Valid() bool {
	_, ok := knownReasons[r]
	return ok
}

// String implements fmt.Stringer.
func (r Reason) String() string {
	return string(r)
}

// PaymentError ties a reason code to the error that produced it.
type PaymentError struct {
	// Reason is the protocol reason code.
	Reason Reason

	// Message is the human-readable error message.
	Message string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a new PaymentError with the given reason and message.
func NewPaymentError(reason Reason, message string, err error) *PaymentError {
	return &PaymentError{
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// ReasonOf extracts the reason code from err, falling back to unknown_error.
func ReasonOf(err error) Reason {
	var pe *PaymentError
	if errors.As(err, &pe) && pe.Reason.Valid() {
		return pe.Reason
	}
	return ReasonUnknownError
}
