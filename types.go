// Package x402 holds the wire types, reason codes, and chain configuration
// shared by the x402 "exact" scheme facilitator.
//
// The facilitator verifies EIP-3009 transferWithAuthorization payloads
// signed by a payer and, on request, relays them on-chain. It never moves
// funds of its own: the facilitator key only pays gas for the relay.
//
// Import path: github.com/nacorid/x402-facilitator
package x402

import "math/big"

// X402Version is the protocol version spoken by this facilitator.
const X402Version = 1

// SchemeExact is the only payment scheme this facilitator supports.
const SchemeExact = "exact"

// Extra carries the EIP-712 domain parameters of the token contract.
type Extra struct {
	// Name is the EIP-712 domain "name" of the token (e.g., "USD Coin").
	Name string `json:"name"`

	// Version is the EIP-712 domain "version" of the token (e.g., "2").
	Version string `json:"version"`
}

// PaymentRequirements defines what a payment must satisfy.
// It is produced by the resource server and is read-only here.
type PaymentRequirements struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the target chain, either CAIP-2 ("eip155:8453") or a legacy name ("base").
	Network string `json:"network"`

	// MaxAmountRequired is the amount in the token's base unit, as a decimal string.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Asset is the token contract address.
	Asset string `json:"asset"`

	// PayTo is the address that must receive the payment.
	PayTo string `json:"payTo"`

	// Resource is the URL of the protected resource.
	Resource string `json:"resource,omitempty"`

	// Description is an optional human-readable description.
	Description string `json:"description,omitempty"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`

	// MaxTimeoutSeconds is the validity period a client should sign for.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`

	// Extra optionally carries the token's EIP-712 domain name and version.
	Extra *Extra `json:"extra,omitempty"`
}

// PaymentPayload is the signed payment sent by the payer.
type PaymentPayload struct {
	// X402Version is the protocol version.
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier.
	Scheme string `json:"scheme"`

	// Network is the chain the authorization is valid on.
	Network string `json:"network"`

	// Payload contains the authorization and its signature.
	Payload ExactPayload `json:"payload"`
}

// ExactPayload contains EIP-3009 authorization data for the exact scheme.
type ExactPayload struct {
	// Signature is the hex-encoded 65-byte ECDSA signature.
	Signature string `json:"signature"`

	// Authorization contains the transferWithAuthorization parameters.
	Authorization Authorization `json:"authorization"`
}

// Authorization contains EIP-3009 transferWithAuthorization parameters.
// Numeric fields are decimal strings so uint256 values survive JSON.
type Authorization struct {
	// From is the payer's address.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the payment amount in atomic units.
	Value string `json:"value"`

	// ValidAfter is the unix timestamp after which the authorization is valid.
	ValidAfter string `json:"validAfter"`

	// ValidBefore is the unix timestamp before which the authorization is valid.
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 32-byte hex string used by the token contract against replay.
	Nonce string `json:"nonce"`
}

// VerifyResponse is returned by the facilitator verify operation.
type VerifyResponse struct {
	// IsValid indicates whether the payment is valid.
	IsValid bool `json:"isValid"`

	// InvalidReason is set when IsValid is false.
	InvalidReason Reason `json:"invalidReason,omitempty"`

	// Payer is authorization.from exactly as supplied, including on failure.
	Payer string `json:"payer"`
}

// SettleResponse is returned by the facilitator settle operation.
type SettleResponse struct {
	// Success indicates whether the payment was settled on-chain.
	Success bool `json:"success"`

	// ErrorReason is set when Success is false.
	ErrorReason Reason `json:"errorReason,omitempty"`

	// Transaction is the transaction hash, empty if nothing was submitted.
	Transaction string `json:"transaction"`

	// Network is the network the payment was settled on.
	Network string `json:"network"`

	// Payer is authorization.from exactly as supplied.
	Payer string `json:"payer"`
}

// SupportedKind describes a scheme/network pair the facilitator accepts.
type SupportedKind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// SupportedResponse is returned by the facilitator supported operation.
type SupportedResponse struct {
	// Kinds lists the payment types the facilitator can verify and settle.
	Kinds []SupportedKind `json:"kinds"`

	// Signers maps networks to the addresses that submit settlements there.
	Signers map[string][]string `json:"signers,omitempty"`
}

// AmountToBigInt converts a decimal amount string to *big.Int in atomic units.
// For example, "1.5" with 6 decimals becomes 1500000.
// Returns ErrInvalidAmount if the amount is negative or decimals is negative.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, ErrInvalidAmount
	}

	value := new(big.Rat)
	if _, ok := value.SetString(amount); !ok {
		return nil, ErrInvalidAmount
	}
	if value.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value.Mul(value, scale)

	if value.Denom().Cmp(big.NewInt(1)) != 0 {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(value.Num()), nil
}

// BigIntToAmount converts a *big.Int in atomic units to a decimal string.
// For example, 1500000 with 6 decimals becomes "1.500000".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}

	rat := new(big.Rat).SetInt(value)
	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	rat.Quo(rat, scale)

	return rat.FloatString(decimals)
}
