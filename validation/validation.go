// Package validation provides shape checks for x402 payment data.
// It validates addresses, amounts, networks and request envelopes.
//
// These checks reject bodies that are not x402 requests at all. Protocol
// failures of a well-formed request (wrong scheme, bad signature, ...) are
// left to the exact Validator so they surface as reasons.
package validation

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	x402 "github.com/nacorid/x402-facilitator"
)

var (
	// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars)
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// caip2Regex matches CAIP-2 network identifiers (namespace:reference)
	caip2Regex = regexp.MustCompile(`^[-a-z0-9]{3,8}:[-_a-zA-Z0-9]{1,32}$`)
)

// ValidateAmount validates that an amount string is a valid non-negative integer.
// Zero amounts are allowed for free-with-signature authorization flows.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("%w: amount cannot be empty", x402.ErrInvalidAmount)
	}

	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("%w: invalid amount format: %s", x402.ErrInvalidAmount, amount)
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: amount cannot be negative, got: %s", x402.ErrInvalidAmount, amount)
	}
	if amt.BitLen() > 256 {
		return fmt.Errorf("%w: amount exceeds uint256: %s", x402.ErrInvalidAmount, amount)
	}

	return nil
}

// ValidateNetwork validates a CAIP-2 EVM network identifier or a legacy network name.
func ValidateNetwork(network string) error {
	if network == "" {
		return fmt.Errorf("%w: network cannot be empty", x402.ErrInvalidNetwork)
	}
	if strings.Contains(network, ":") && !caip2Regex.MatchString(network) {
		return fmt.Errorf("%w: invalid CAIP-2 network format: %s (expected namespace:reference)", x402.ErrInvalidNetwork, network)
	}
	return x402.ValidateNetwork(network)
}

// ValidateAddress validates a hex EVM address.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%w: address cannot be empty", x402.ErrInvalidAddress)
	}
	if !evmAddressRegex.MatchString(address) {
		return fmt.Errorf("%w: %s (expected 0x followed by 40 hex characters)", x402.ErrInvalidAddress, address)
	}
	return nil
}

// ValidatePaymentRequirements performs comprehensive validation of payment requirements.
// It validates the amount, network, addresses, scheme, and other required fields.
func ValidatePaymentRequirements(req x402.PaymentRequirements) error {
	if err := ValidateAmount(req.MaxAmountRequired); err != nil {
		return fmt.Errorf("invalid requirements: %w", err)
	}

	if err := ValidateNetwork(req.Network); err != nil {
		return fmt.Errorf("invalid requirements: %w", err)
	}

	if err := ValidateAddress(req.PayTo); err != nil {
		return fmt.Errorf("invalid requirements: payTo %w", err)
	}

	if err := ValidateAddress(req.Asset); err != nil {
		return fmt.Errorf("invalid requirements: asset %w", err)
	}

	switch req.Scheme {
	case x402.SchemeExact:
	case "":
		return fmt.Errorf("invalid requirements: scheme cannot be empty")
	default:
		return fmt.Errorf("invalid requirements: %w: %s", x402.ErrUnsupportedScheme, req.Scheme)
	}

	if req.MaxTimeoutSeconds < 0 {
		return fmt.Errorf("invalid requirements: timeout cannot be negative: %d", req.MaxTimeoutSeconds)
	}

	if req.Extra != nil {
		if req.Extra.Name == "" {
			return fmt.Errorf("invalid requirements: EIP-3009 name cannot be empty")
		}
		if req.Extra.Version == "" {
			return fmt.Errorf("invalid requirements: EIP-3009 version cannot be empty")
		}
	}

	return nil
}

// ValidatePaymentPayload checks the payload envelope: version, scheme and network present.
func ValidatePaymentPayload(payload x402.PaymentPayload) error {
	if payload.X402Version != x402.X402Version {
		return fmt.Errorf("%w: %d (expected %d)", x402.ErrUnsupportedVersion, payload.X402Version, x402.X402Version)
	}
	if payload.Scheme == "" {
		return fmt.Errorf("payload scheme cannot be empty")
	}
	if payload.Network == "" {
		return fmt.Errorf("payload network cannot be empty")
	}
	return nil
}

// ValidateRequest checks a verify or settle request envelope before it is
// handed to the facilitator.
func ValidateRequest(version int, payload x402.PaymentPayload, requirements x402.PaymentRequirements) error {
	if version != x402.X402Version {
		return fmt.Errorf("%w: %d (expected %d)", x402.ErrUnsupportedVersion, version, x402.X402Version)
	}
	if err := ValidatePaymentPayload(payload); err != nil {
		return fmt.Errorf("invalid paymentPayload: %w", err)
	}
	if requirements.Scheme == "" || requirements.Network == "" {
		return fmt.Errorf("invalid paymentRequirements: scheme and network are required")
	}
	return nil
}
