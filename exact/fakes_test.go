package exact

import (
	"context"
	"errors"
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
)

// testPrivateKey is the Foundry/Anvil first default account private key.
// This is a well-known test key - NEVER use in production.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// testAddress is the address derived from testPrivateKey.
const testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

// otherPrivateKey is the Anvil second default account private key.
const otherPrivateKey = "59c6995e998f97a5a0044966f0945389dc9c86dae88c7a8412f4603b6b78690d"

const (
	testPayTo = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testOther = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

var (
	testNow   = time.Unix(1_700_000_000, 0)
	testAsset = x402.BaseSepolia.USDCAddress
)

type fakeBalances struct {
	mu      sync.Mutex
	balance *big.Int
	err     error
	panics  bool
	calls   int
}

func (f *fakeBalances) BalanceOf(ctx context.Context, chainID *big.Int, token, owner common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panics {
		panic("balance oracle exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.balance, nil
}

type fakeMetadata struct {
	meta  TokenMetadata
	err   error
	calls int
}

func (f *fakeMetadata) TokenMetadata(ctx context.Context, chainID *big.Int, token common.Address) (TokenMetadata, error) {
	f.calls++
	return f.meta, f.err
}

type fakeSubmitter struct {
	mu         sync.Mutex
	chainID    *big.Int
	hash       common.Hash
	submitErr  error
	receipt    *types.Receipt
	awaitErr   error
	block      bool
	submitted  []eip3009.Authorization
	signatures [][]byte
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{
		chainID: big.NewInt(x402.BaseSepolia.ChainID),
		hash:    common.HexToHash("0xabc123"),
		receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(42)},
	}
}

func (f *fakeSubmitter) ChainID() *big.Int { return f.chainID }

func (f *fakeSubmitter) Address() common.Address {
	return common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
}

func (f *fakeSubmitter) TransferWithAuthorization(ctx context.Context, token common.Address, auth eip3009.Authorization, signature []byte) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, auth)
	f.signatures = append(f.signatures, signature)
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	return f.hash, nil
}

func (f *fakeSubmitter) AwaitConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.awaitErr != nil {
		return nil, f.awaitErr
	}
	return f.receipt, nil
}

func (f *fakeSubmitter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

var errRPC = errors.New("rpc: connection refused")

func testRequirements() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkBaseSepolia,
		MaxAmountRequired: "1000",
		Asset:             testAsset,
		PayTo:             testPayTo,
		MaxTimeoutSeconds: 60,
		Extra:             &x402.Extra{Name: "USDC", Version: "2"},
	}
}

func unix(offset int64) string {
	return strconv.FormatInt(testNow.Unix()+offset, 10)
}

// signedPayload builds a payload signed by key after applying mutate to the
// default authorization {from: A, to: P, value: 1000, validAfter: now-10, validBefore: now+60}.
func signedPayload(t *testing.T, key string, mutate func(*x402.Authorization)) x402.PaymentPayload {
	t.Helper()

	priv, err := crypto.HexToECDSA(key)
	if err != nil {
		t.Fatalf("Failed to parse private key: %v", err)
	}

	wire := x402.Authorization{
		From:        testAddress,
		To:          testPayTo,
		Value:       "1000",
		ValidAfter:  unix(-10),
		ValidBefore: unix(60),
		Nonce:       "0x" + strings.Repeat("ab", 32),
	}
	if mutate != nil {
		mutate(&wire)
	}

	auth, err := eip3009.ParseAuthorization(wire)
	if err != nil {
		t.Fatalf("Failed to parse authorization: %v", err)
	}
	sig, err := eip3009.SignAuthorization(priv, common.HexToAddress(testAsset),
		big.NewInt(x402.BaseSepolia.ChainID), auth, "USDC", "2")
	if err != nil {
		t.Fatalf("Failed to sign authorization: %v", err)
	}

	return x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      x402.SchemeExact,
		Network:     x402.NetworkBaseSepolia,
		Payload: x402.ExactPayload{
			Signature:     sig,
			Authorization: wire,
		},
	}
}

func newTestValidator(balances BalanceOracle, metadata MetadataResolver) *Validator {
	return NewValidator(x402.DefaultChainTable(), balances, metadata,
		WithClock(func() time.Time { return testNow }))
}
