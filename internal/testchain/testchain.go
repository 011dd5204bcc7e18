// Package testchain provides in-memory chain collaborators and signed
// payloads for tests of the packages built on top of exact.
package testchain

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/nacorid/x402-facilitator"
	"github.com/nacorid/x402-facilitator/eip3009"
	"github.com/nacorid/x402-facilitator/exact"
)

// PayerKey is the Foundry/Anvil first default account private key.
// This is a well-known test key - NEVER use in production.
const PayerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// Payer is the address derived from PayerKey.
const Payer = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

// PayTo is the Anvil second default account, used as the resource server's wallet.
const PayTo = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

// FacilitatorAddress is the address Submitter reports.
const FacilitatorAddress = "0x90F79bf6EB2c4f870365E785982E1f101E93b906"

// TxHash is the hash Submitter returns for every submission.
var TxHash = common.HexToHash("0x5ca1ab1e00000000000000000000000000000000000000000000000000000001")

// Balances is a BalanceOracle that reports the same balance for every owner.
type Balances struct {
	mu      sync.Mutex
	Balance *big.Int
	Err     error
}

func (b *Balances) BalanceOf(ctx context.Context, chainID *big.Int, token, owner common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return nil, b.Err
	}
	return b.Balance, nil
}

// SetBalance replaces the reported balance.
func (b *Balances) SetBalance(v *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Balance = v
}

// Submitter is a ChainSubmitter that mines every transaction immediately.
type Submitter struct {
	mu        sync.Mutex
	Chain     *big.Int
	SubmitErr error
	Status    uint64
	submitted int
}

var _ exact.ChainSubmitter = (*Submitter)(nil)

// NewSubmitter returns a submitter for chain whose transactions succeed.
func NewSubmitter(chain x402.ChainConfig) *Submitter {
	return &Submitter{Chain: big.NewInt(chain.ChainID), Status: types.ReceiptStatusSuccessful}
}

func (s *Submitter) ChainID() *big.Int { return s.Chain }

func (s *Submitter) Address() common.Address { return common.HexToAddress(FacilitatorAddress) }

func (s *Submitter) TransferWithAuthorization(ctx context.Context, token common.Address, auth eip3009.Authorization, signature []byte) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted++
	if s.SubmitErr != nil {
		return common.Hash{}, s.SubmitErr
	}
	return TxHash, nil
}

func (s *Submitter) AwaitConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &types.Receipt{Status: s.Status, TxHash: hash, BlockNumber: big.NewInt(1)}, nil
}

// Submitted returns the number of submissions made.
func (s *Submitter) Submitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

// Requirements returns Base Sepolia USDC requirements for amount atomic units.
func Requirements(amount string) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkBaseSepolia,
		MaxAmountRequired: amount,
		Asset:             x402.BaseSepolia.USDCAddress,
		PayTo:             PayTo,
		Resource:          "https://api.example.com/premium",
		MaxTimeoutSeconds: 60,
		Extra: &x402.Extra{
			Name:    x402.BaseSepolia.EIP3009Name,
			Version: x402.BaseSepolia.EIP3009Version,
		},
	}
}

// Payload returns a payload signed by PayerKey that satisfies req at the
// current time.
func Payload(t testing.TB, req x402.PaymentRequirements) x402.PaymentPayload {
	t.Helper()

	key, err := crypto.HexToECDSA(PayerKey)
	if err != nil {
		t.Fatalf("Failed to parse private key: %v", err)
	}

	now := time.Now().Unix()
	wire := x402.Authorization{
		From:        Payer,
		To:          req.PayTo,
		Value:       req.MaxAmountRequired,
		ValidAfter:  strconv.FormatInt(now-10, 10),
		ValidBefore: strconv.FormatInt(now+int64(req.MaxTimeoutSeconds), 10),
		Nonce:       "0x" + strings.Repeat("cd", 32),
	}
	auth, err := eip3009.ParseAuthorization(wire)
	if err != nil {
		t.Fatalf("Failed to parse authorization: %v", err)
	}

	chain, err := x402.DefaultChainTable().Lookup(req.Network)
	if err != nil {
		t.Fatalf("Failed to look up network: %v", err)
	}
	sig, err := eip3009.SignAuthorization(key, common.HexToAddress(req.Asset), big.NewInt(chain.ChainID),
		auth, req.Extra.Name, req.Extra.Version)
	if err != nil {
		t.Fatalf("Failed to sign authorization: %v", err)
	}

	return x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      x402.SchemeExact,
		Network:     req.Network,
		Payload: x402.ExactPayload{
			Signature:     sig,
			Authorization: wire,
		},
	}
}
