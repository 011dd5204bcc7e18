// Package facilitator defines the facilitator contract and the exact-scheme
// facilitator that serves it.
//
// A facilitator verifies payment authorizations and settles payments on the
// blockchain. The HTTP server, the HTTP client and the MCP tool server all
// speak this interface.
package facilitator

import (
	"context"

	x402 "github.com/nacorid/x402-facilitator"
	"github.com/nacorid/x402-facilitator/validation"
)

// Interface defines the standard facilitator contract for payment verification and settlement.
type Interface interface {
	// Verify verifies a payment authorization without executing the transaction.
	// A rejected payment is a response with IsValid false, not an error.
	Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error)

	// Settle re-verifies and executes a payment on the blockchain.
	Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error)

	// Supported lists the scheme/network pairs and signers the facilitator serves.
	Supported(ctx context.Context) (*x402.SupportedResponse, error)
}

// VerifyRequest is the request payload sent to POST /verify.
type VerifyRequest struct {
	// X402Version is the protocol version.
	X402Version int `json:"x402Version"`

	// PaymentPayload contains the signed payment data from the client.
	PaymentPayload x402.PaymentPayload `json:"paymentPayload"`

	// PaymentRequirements contains the payment option that was accepted.
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest is the request payload sent to POST /settle.
type SettleRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// Validate checks the request envelope. Protocol-level problems with a
// well-formed request are reported by Verify, not here.
func (r *VerifyRequest) Validate() error {
	return validation.ValidateRequest(r.X402Version, r.PaymentPayload, r.PaymentRequirements)
}

// Validate checks the request envelope.
func (r *SettleRequest) Validate() error {
	return validation.ValidateRequest(r.X402Version, r.PaymentPayload, r.PaymentRequirements)
}
