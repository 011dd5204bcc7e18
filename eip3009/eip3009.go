// Package eip3009 builds, signs, and verifies EIP-712 TransferWithAuthorization
// messages as defined by EIP-3009.
package eip3009

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/nacorid/x402-facilitator"
)

// SignatureLength is the length of an r || s || v ECDSA signature.
const SignatureLength = 65

type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// Domain is the EIP-712 domain of the token contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func CreateAuthorization(from, to common.Address, value *big.Int, timeoutSeconds int) (*Authorization, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := time.Now().Unix()
	validAfter := big.NewInt(now - 10)
	validBefore := big.NewInt(now + int64(timeoutSeconds))

	return &Authorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}, nil
}

func GenerateNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, err
	}
	return nonce, nil
}

// ParseAuthorization converts the wire form of an authorization into typed values.
// Any field that cannot be parsed yields an error wrapping x402.ErrInvalidAuthorization.
func ParseAuthorization(a x402.Authorization) (*Authorization, error) {
	from, err := parseAddress("from", a.From)
	if err != nil {
		return nil, err
	}
	to, err := parseAddress("to", a.To)
	if err != nil {
		return nil, err
	}
	value, err := parseUint256("value", a.Value)
	if err != nil {
		return nil, err
	}
	validAfter, err := parseUint256("validAfter", a.ValidAfter)
	if err != nil {
		return nil, err
	}
	validBefore, err := parseUint256("validBefore", a.ValidBefore)
	if err != nil {
		return nil, err
	}

	nonceBytes, err := hex.DecodeString(strings.TrimPrefix(a.Nonce, "0x"))
	if err != nil || len(nonceBytes) != 32 {
		return nil, fmt.Errorf("%w: nonce must be 32 hex-encoded bytes", x402.ErrInvalidAuthorization)
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	return &Authorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s is not a hex address: %q", x402.ErrInvalidAuthorization, field, s)
	}
	return common.HexToAddress(s), nil
}

func parseUint256(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 || v.BitLen() > 256 {
		return nil, fmt.Errorf("%w: %s is not a uint256: %q", x402.ErrInvalidAuthorization, field, s)
	}
	return v, nil
}

// TypedData returns the EIP-712 typed data for auth under domain.
func TypedData(domain Domain, auth *Authorization) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       (*math.HexOrDecimal256)(auth.Value),
			"validAfter":  (*math.HexOrDecimal256)(auth.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(auth.ValidBefore),
			"nonce":       common.BytesToHash(auth.Nonce[:]).Hex(),
		},
	}
}

// Digest returns the EIP-712 hash that the payer signs.
func Digest(domain Domain, auth *Authorization) ([]byte, error) {
	typedData := TypedData(domain, auth)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := typedData.HashStruct("TransferWithAuthorization", typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

func SignAuthorization(privateKey *ecdsa.PrivateKey, tokenAddress common.Address, chainID *big.Int, auth *Authorization, name, version string) (string, error) {
	digest, err := Digest(Domain{
		Name:              name,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: tokenAddress,
	}, auth)
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign authorization: %w", err)
	}

	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// DecodeSignature decodes a 0x-prefixed hex signature and checks its length.
func DecodeSignature(s string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidSignature, err)
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", x402.ErrInvalidSignature, SignatureLength, len(sig))
	}
	return sig, nil
}

// SplitSignature returns the v, r, s components expected by transferWithAuthorization.
// v is normalized to 27 or 28.
func SplitSignature(sig []byte) (v uint8, r, s [32]byte, err error) {
	if len(sig) != SignatureLength {
		return 0, r, s, fmt.Errorf("%w: expected %d bytes, got %d", x402.ErrInvalidSignature, SignatureLength, len(sig))
	}
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	v = sig[64]
	if v < 27 {
		v += 27
	}
	return v, r, s, nil
}

// RecoverSigner recovers the address that produced sig over auth under domain.
// Signatures with a high s value are rejected.
func RecoverSigner(domain Domain, auth *Authorization, sig []byte) (common.Address, error) {
	v, r, s, err := SplitSignature(sig)
	if err != nil {
		return common.Address{}, err
	}
	if v != 27 && v != 28 {
		return common.Address{}, fmt.Errorf("%w: invalid recovery id %d", x402.ErrInvalidSignature, v)
	}
	if !crypto.ValidateSignatureValues(v-27, new(big.Int).SetBytes(r[:]), new(big.Int).SetBytes(s[:]), true) {
		return common.Address{}, fmt.Errorf("%w: signature values out of range", x402.ErrInvalidSignature)
	}

	digest, err := Digest(domain, auth)
	if err != nil {
		return common.Address{}, err
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	normalized[64] = v - 27

	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", x402.ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that sig was produced by auth.From over auth under domain.
func VerifySignature(domain Domain, auth *Authorization, sig []byte) error {
	signer, err := RecoverSigner(domain, auth, sig)
	if err != nil {
		return err
	}
	if signer != auth.From {
		return fmt.Errorf("%w: recovered %s, expected %s", x402.ErrInvalidSignature, signer.Hex(), auth.From.Hex())
	}
	return nil
}
