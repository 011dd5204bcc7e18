package evm

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// testPrivateKey is the Foundry/Anvil first default account private key.
// This is a well-known test key - NEVER use in production.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// testAddress is the address derived from testPrivateKey.
const testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

var errRPC = errors.New("rpc: connection refused")

// fakeRPC answers token calls from canned outputs keyed by ABI method name.
type fakeRPC struct {
	mu sync.Mutex

	outputs map[string][]byte
	errs    map[string]error
	calls   []ethereum.CallMsg

	gas         uint64
	estimateErr error
	nonce       uint64
	baseFee     *big.Int
	tip         *big.Int
	gasPrice    *big.Int
	sendErr     error
	sent        []*types.Transaction

	receipt      *types.Receipt
	receiptErr   error
	errPolls     int
	pendingPolls int
	receiptPolls int
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		outputs:  make(map[string][]byte),
		errs:     make(map[string]error),
		gas:      50_000,
		baseFee:  big.NewInt(1_000_000_000),
		tip:      big.NewInt(100_000_000),
		gasPrice: big.NewInt(3_000_000_000),
	}
}

func (f *fakeRPC) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)

	method, err := tokenABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	if err := f.errs[method.Name]; err != nil {
		return nil, err
	}
	out, ok := f.outputs[method.Name]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (f *fakeRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeRPC) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return f.tip, nil
}

func (f *fakeRPC) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), BaseFee: f.baseFee}, nil
}

func (f *fakeRPC) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return f.gas, nil
}

func (f *fakeRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeRPC) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptPolls++
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if f.errPolls > 0 {
		f.errPolls--
		return nil, errRPC
	}
	if f.pendingPolls > 0 {
		f.pendingPolls--
		return nil, ethereum.NotFound
	}
	if f.receipt == nil {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func (f *fakeRPC) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// packOutput encodes v as the return data of method.
func packOutput(t *testing.T, method string, v interface{}) []byte {
	t.Helper()
	out, err := tokenABI.Methods[method].Outputs.Pack(v)
	if err != nil {
		t.Fatalf("Failed to pack %s output: %v", method, err)
	}
	return out
}
