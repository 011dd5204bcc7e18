// Package evm signs exact-scheme payments for a payer holding an EVM key.
// It is the client side of the facilitator: a payload it produces passes
// the facilitator's verification when the payer is funded.
package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/nacorid/x402-facilitator"
	"github.com/nacorid/x402-facilitator/eip3009"
	"github.com/nacorid/x402-facilitator/validation"
)

// DefaultTimeoutSeconds is the validity window used when requirements do not set one.
const DefaultTimeoutSeconds = 60

type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chain      x402.ChainConfig
	chains     *x402.ChainTable
	maxAmount  *big.Int
}

type Option func(*Signer) error

// WithMaxAmount caps the amount a single Sign call may authorize.
func WithMaxAmount(amount *big.Int) Option {
	return func(s *Signer) error {
		if amount != nil && amount.Sign() < 0 {
			return fmt.Errorf("%w: max amount cannot be negative", x402.ErrInvalidAmount)
		}
		s.maxAmount = amount
		return nil
	}
}

// WithChainTable resolves the network against t instead of the default chains.
func WithChainTable(t *x402.ChainTable) Option {
	return func(s *Signer) error {
		if t == nil {
			return fmt.Errorf("chain table cannot be nil")
		}
		s.chains = t
		return nil
	}
}

func NewSigner(network string, privateKeyHex string, opts ...Option) (*Signer, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, x402.ErrInvalidKey
	}
	return NewSignerFromKey(network, privateKey, opts...)
}

func NewSignerFromKey(network string, key *ecdsa.PrivateKey, opts ...Option) (*Signer, error) {
	if key == nil {
		return nil, x402.ErrInvalidKey
	}

	s := &Signer{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		chains:     x402.DefaultChainTable(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	chain, err := s.chains.Lookup(network)
	if err != nil {
		return nil, err
	}
	s.chain = chain

	return s, nil
}

// Network returns the CAIP-2 identifier of the signer's chain.
func (s *Signer) Network() string {
	return s.chain.Network
}

func (s *Signer) Address() common.Address {
	return s.address
}

func (s *Signer) MaxAmount() *big.Int {
	return s.maxAmount
}

// CanSign reports whether requirements target the signer's scheme and chain.
func (s *Signer) CanSign(requirements x402.PaymentRequirements) bool {
	if requirements.Scheme != x402.SchemeExact {
		return false
	}
	chain, err := s.chains.Lookup(requirements.Network)
	return err == nil && chain.ChainID == s.chain.ChainID
}

// Sign authorizes a transfer of exactly MaxAmountRequired to PayTo. The
// authorization is valid from ten seconds ago until MaxTimeoutSeconds from now
// and carries a random nonce.
func (s *Signer) Sign(requirements x402.PaymentRequirements) (x402.PaymentPayload, error) {
	if err := validation.ValidatePaymentRequirements(requirements); err != nil {
		return x402.PaymentPayload{}, err
	}
	if !s.CanSign(requirements) {
		return x402.PaymentPayload{}, fmt.Errorf("%w: signer is for %s, requirements are for %s",
			x402.ErrInvalidNetwork, s.chain.Network, requirements.Network)
	}

	amount, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return x402.PaymentPayload{}, x402.ErrInvalidAmount
	}
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return x402.PaymentPayload{}, fmt.Errorf("%w: %s > %s", x402.ErrAmountExceeded, amount, s.maxAmount)
	}

	name, version, err := s.domainParams(requirements)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	timeout := requirements.MaxTimeoutSeconds
	if timeout == 0 {
		timeout = DefaultTimeoutSeconds
	}

	auth, err := eip3009.CreateAuthorization(s.address, common.HexToAddress(requirements.PayTo), amount, timeout)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	signature, err := eip3009.SignAuthorization(s.privateKey, common.HexToAddress(requirements.Asset),
		big.NewInt(s.chain.ChainID), auth, name, version)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	return x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      x402.SchemeExact,
		Network:     requirements.Network,
		Payload: x402.ExactPayload{
			Signature: signature,
			Authorization: x402.Authorization{
				From:        auth.From.Hex(),
				To:          auth.To.Hex(),
				Value:       auth.Value.String(),
				ValidAfter:  auth.ValidAfter.String(),
				ValidBefore: auth.ValidBefore.String(),
				Nonce:       common.BytesToHash(auth.Nonce[:]).Hex(),
			},
		},
	}, nil
}

// domainParams picks the EIP-712 name and version: requirements.Extra first,
// then the chain's USDC metadata when the asset is USDC.
func (s *Signer) domainParams(requirements x402.PaymentRequirements) (name, version string, err error) {
	if requirements.Extra != nil {
		return requirements.Extra.Name, requirements.Extra.Version, nil
	}
	if strings.EqualFold(requirements.Asset, s.chain.USDCAddress) {
		return s.chain.EIP3009Name, s.chain.EIP3009Version, nil
	}
	return "", "", fmt.Errorf("missing EIP-3009 parameters for asset %s: set extra.name and extra.version", requirements.Asset)
}
