package exact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	x402 "github.com/nacorid/x402-facilitator"
)

// Settler relays verified authorizations on-chain through a ChainSubmitter.
// The submitter's key is the signer identity for every settlement it performs.
type Settler struct {
	validator      *Validator
	submitter      ChainSubmitter
	confirmTimeout time.Duration
	logger         *slog.Logger
}

// NewSettler creates a Settler that re-validates with validator before submitting.
func NewSettler(validator *Validator, submitter ChainSubmitter, opts ...SettlerOption) *Settler {
	s := &Settler{
		validator:      validator,
		submitter:      submitter,
		confirmTimeout: x402.DefaultTimeouts.SettleTimeout,
		logger:         validator.logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settle re-validates the payload and, if it is still valid, submits it and
// waits for the receipt. Nothing is retried: resubmitting a transfer
// authorization is left to the caller.
func (s *Settler) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (resp x402.SettleResponse) {
	resp = x402.SettleResponse{
		Network: payload.Network,
		Payer:   payload.Payload.Authorization.From,
	}
	logger := s.logger.With("payer", resp.Payer, "network", resp.Network)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("settlement panicked", "panic", r, "transaction", resp.Transaction)
			resp.Success = false
			resp.ErrorReason = x402.ReasonUnknownError
		}
	}()

	v, err := s.validator.check(ctx, payload, requirements)
	if err != nil {
		resp.ErrorReason = x402.ReasonOf(err)
		return resp
	}

	if v.chainID.Cmp(s.submitter.ChainID()) != 0 {
		logger.Error("submitter chain mismatch", "chainID", v.chainID, "submitterChainID", s.submitter.ChainID())
		resp.ErrorReason = x402.ReasonInvalidNetwork
		return resp
	}

	hash, err := s.submitter.TransferWithAuthorization(ctx, v.token, *v.auth, v.signature)
	if err != nil {
		logger.Warn("settlement submission failed", "error", err)
		resp.ErrorReason = classify(err, x402.ReasonSettlementFailed)
		return resp
	}
	resp.Transaction = hash.Hex()
	logger = logger.With("transaction", resp.Transaction)
	logger.Info("settlement submitted", "submitter", s.submitter.Address().Hex())

	receipt, err := s.await(ctx, hash)
	if err != nil {
		logger.Warn("settlement confirmation failed", "error", err)
		resp.ErrorReason = classify(err, x402.ReasonSettlementFailed)
		return resp
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		logger.Warn("settlement reverted", "block", receipt.BlockNumber)
		resp.ErrorReason = x402.ReasonSettlementFailed
		return resp
	}

	logger.Info("settlement confirmed", "block", receipt.BlockNumber)
	resp.Success = true
	return resp
}

func (s *Settler) await(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	receipt, err := s.submitter.AwaitConfirmation(ctx, hash)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("awaiting %s: %w", hash.Hex(), context.DeadlineExceeded)
		}
		return nil, err
	}
	if receipt == nil {
		return nil, fmt.Errorf("awaiting %s: %w", hash.Hex(), x402.ErrSettlementFailed)
	}
	return receipt, nil
}

// Submitter returns the chain submitter used for settlement.
func (s *Settler) Submitter() ChainSubmitter {
	return s.submitter
}
