// Package encoding converts x402 payment data to and from the base64 JSON
// carried in the X-PAYMENT and X-PAYMENT-RESPONSE headers.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	x402 "github.com/nacorid/x402-facilitator"
)

// PaymentHeader is the request header carrying a base64 PaymentPayload.
const PaymentHeader = "X-PAYMENT"

// PaymentResponseHeader is the response header carrying a base64 SettleResponse.
const PaymentResponseHeader = "X-PAYMENT-RESPONSE"

// EncodePayment converts a PaymentPayload to base64-encoded JSON string.
func EncodePayment(payment x402.PaymentPayload) (string, error) {
	return encode("payment", payment)
}

// DecodePayment converts a base64-encoded JSON string to PaymentPayload.
// Errors wrap x402.ErrMalformedHeader.
func DecodePayment(encoded string) (x402.PaymentPayload, error) {
	var payment x402.PaymentPayload
	err := decode("payment", encoded, &payment)
	return payment, err
}

// EncodeSettlement converts a SettleResponse to base64-encoded JSON string.
func EncodeSettlement(settlement x402.SettleResponse) (string, error) {
	return encode("settlement", settlement)
}

// DecodeSettlement converts a base64-encoded JSON string to SettleResponse.
func DecodeSettlement(encoded string) (x402.SettleResponse, error) {
	var settlement x402.SettleResponse
	err := decode("settlement", encoded, &settlement)
	return settlement, err
}

// EncodeVerifyResponse converts a VerifyResponse to base64-encoded JSON string.
func EncodeVerifyResponse(response x402.VerifyResponse) (string, error) {
	return encode("verify response", response)
}

// DecodeVerifyResponse converts a base64-encoded JSON string to VerifyResponse.
func DecodeVerifyResponse(encoded string) (x402.VerifyResponse, error) {
	var response x402.VerifyResponse
	err := decode("verify response", encoded, &response)
	return response, err
}

func encode(kind string, v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decode(kind, encoded string, v interface{}) error {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return fmt.Errorf("%w: empty %s", x402.ErrMalformedHeader, kind)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Some clients strip padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return fmt.Errorf("%w: failed to decode base64: %v", x402.ErrMalformedHeader, err)
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: failed to unmarshal %s: %v", x402.ErrMalformedHeader, kind, err)
	}
	return nil
}
