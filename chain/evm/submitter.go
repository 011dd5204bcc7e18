package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/nacorid/x402-facilitator"
	"github.com/nacorid/x402-facilitator/eip3009"
	"github.com/nacorid/x402-facilitator/exact"
)

// DefaultPollInterval is how often AwaitConfirmation asks for the receipt.
const DefaultPollInterval = 2 * time.Second

// gasHeadroomPercent is added on top of the estimated gas limit.
const gasHeadroomPercent = 20

// Submitter relays transferWithAuthorization calls with the facilitator key.
type Submitter struct {
	rpc          RPC
	key          *ecdsa.PrivateKey
	address      common.Address
	chainID      *big.Int
	pollInterval time.Duration
	logger       *slog.Logger

	// mu serializes nonce acquisition and broadcast.
	mu sync.Mutex
}

var _ exact.ChainSubmitter = (*Submitter)(nil)

type SubmitterOption func(*Submitter)

// WithPollInterval sets the receipt polling interval.
func WithPollInterval(d time.Duration) SubmitterOption {
	return func(s *Submitter) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger sets the submitter's logger.
func WithLogger(logger *slog.Logger) SubmitterOption {
	return func(s *Submitter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSubmitter creates a submitter from a hex private key (with or without 0x).
func NewSubmitter(rpc RPC, chainID *big.Int, privateKeyHex string, opts ...SubmitterOption) (*Submitter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, x402.ErrInvalidKey
	}
	return NewSubmitterFromKey(rpc, chainID, key, opts...)
}

func NewSubmitterFromKey(rpc RPC, chainID *big.Int, key *ecdsa.PrivateKey, opts ...SubmitterOption) (*Submitter, error) {
	if key == nil {
		return nil, x402.ErrInvalidKey
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id must be positive", x402.ErrInvalidNetwork)
	}
	s := &Submitter{
		rpc:          rpc,
		key:          key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		chainID:      new(big.Int).Set(chainID),
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Submitter) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

func (s *Submitter) Address() common.Address {
	return s.address
}

// TransferWithAuthorization packs the authorization, signs a relay
// transaction to token and broadcasts it. A call that would revert (for
// example a nonce the token has already consumed) fails at gas estimation.
func (s *Submitter) TransferWithAuthorization(ctx context.Context, token common.Address, auth eip3009.Authorization, signature []byte) (common.Hash, error) {
	v, r, sv, err := eip3009.SplitSignature(signature)
	if err != nil {
		return common.Hash{}, err
	}
	data, err := tokenABI.Pack("transferWithAuthorization",
		auth.From, auth.To, auth.Value, auth.ValidAfter, auth.ValidBefore, auth.Nonce, v, r, sv)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack transferWithAuthorization: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gas, err := s.rpc.EstimateGas(ctx, ethereum.CallMsg{From: s.address, To: &token, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: estimate gas: %w", x402.ErrSettlementFailed, err)
	}
	gas += gas * gasHeadroomPercent / 100

	nonce, err := s.rpc.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: pending nonce: %w", x402.ErrSettlementFailed, err)
	}

	tx, err := s.buildTx(ctx, nonce, gas, token, data)
	if err != nil {
		return common.Hash{}, err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: sign transaction: %w", x402.ErrSettlementFailed, err)
	}
	if err := s.rpc.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("%w: send transaction: %w", x402.ErrSettlementFailed, err)
	}

	s.logger.Debug("relay transaction sent",
		"chainID", s.chainID,
		"transaction", signed.Hash().Hex(),
		"nonce", nonce,
		"gas", gas)

	return signed.Hash(), nil
}

// buildTx returns an EIP-1559 transaction, or a legacy one when the chain
// reports no base fee.
func (s *Submitter) buildTx(ctx context.Context, nonce, gas uint64, to common.Address, data []byte) (*types.Transaction, error) {
	head, err := s.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: latest header: %w", x402.ErrSettlementFailed, err)
	}

	if head.BaseFee == nil {
		price, err := s.rpc.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: gas price: %w", x402.ErrSettlementFailed, err)
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &to,
			Data:     data,
		}), nil
	}

	tip, err := s.rpc.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gas tip: %w", x402.ErrSettlementFailed, err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	}), nil
}

// AwaitConfirmation polls for the receipt of hash until it is mined or ctx is
// done. Receipt lookup errors do not end the wait: the transaction may still be
// mined, so polling continues and the last error is reported with ctx's.
func (s *Submitter) AwaitConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := s.rpc.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			s.logger.Debug("receipt lookup failed", "transaction", hash.Hex(), "error", err)
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("receipt for %s: %w (last error: %v)", hash.Hex(), ctx.Err(), lastErr)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
