package exact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/nacorid/x402-facilitator"
	"github.com/nacorid/x402-facilitator/eip3009"
)

// Validator checks exact-scheme payment payloads against requirements.
// It holds no per-request state and is safe for concurrent use.
type Validator struct {
	chains   *x402.ChainTable
	balances BalanceOracle
	metadata MetadataResolver
	margin   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewValidator creates a Validator over an immutable chain table.
func NewValidator(chains *x402.ChainTable, balances BalanceOracle, metadata MetadataResolver, opts ...Option) *Validator {
	v := &Validator{
		chains:   chains,
		balances: balances,
		metadata: metadata,
		margin:   x402.MinValidityMargin,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// verified is everything the Settler needs once a payload has passed validation.
type verified struct {
	chainID   *big.Int
	token     common.Address
	auth      *eip3009.Authorization
	signature []byte
}

// Validate runs the ordered checks and returns the verdict. It never returns
// an error: every failure, including collaborator panics, becomes a reason.
func (v *Validator) Validate(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) x402.VerifyResponse {
	_, err := v.check(ctx, payload, requirements)
	return verifyResponse(payload, err)
}

func verifyResponse(payload x402.PaymentPayload, err error) x402.VerifyResponse {
	resp := x402.VerifyResponse{
		IsValid: err == nil,
		Payer:   payload.Payload.Authorization.From,
	}
	if err != nil {
		resp.InvalidReason = x402.ReasonOf(err)
	}
	return resp
}

// CheckScheme reports whether both payload and requirements use the exact
// scheme. It is the first check Validate runs and needs no chain access.
func CheckScheme(payload x402.PaymentPayload, requirements x402.PaymentRequirements) error {
	if payload.Scheme != x402.SchemeExact || requirements.Scheme != x402.SchemeExact {
		return x402.NewPaymentError(x402.ReasonUnsupportedScheme,
			fmt.Sprintf("scheme %q/%q", payload.Scheme, requirements.Scheme), x402.ErrUnsupportedScheme)
	}
	return nil
}

// check runs validation and returns the parsed authorization on success.
// The returned error is always a *x402.PaymentError.
func (v *Validator) check(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (res *verified, err error) {
	logger := v.logger.With("payer", payload.Payload.Authorization.From, "network", payload.Network)

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = x402.NewPaymentError(x402.ReasonUnknownError, "validation panicked", fmt.Errorf("%v", r))
		}
		if err != nil {
			logger.Debug("payment rejected", "reason", x402.ReasonOf(err), "error", err)
		}
	}()

	// 1. Scheme.
	if err := CheckScheme(payload, requirements); err != nil {
		return nil, err
	}

	// 2. Network and token domain.
	chain, err := v.chains.Lookup(payload.Network)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ReasonInvalidNetwork, "unknown payload network", err)
	}
	reqChain, err := v.chains.Lookup(requirements.Network)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ReasonInvalidNetwork, "unknown requirements network", err)
	}
	if reqChain.ChainID != chain.ChainID {
		return nil, x402.NewPaymentError(x402.ReasonInvalidNetwork, "network mismatch",
			fmt.Errorf("%w: payload %s, requirements %s", x402.ErrInvalidNetwork, payload.Network, requirements.Network))
	}
	if !common.IsHexAddress(requirements.Asset) {
		return nil, x402.NewPaymentError(x402.ReasonInvalidNetwork, "malformed asset address",
			fmt.Errorf("%w: %q", x402.ErrInvalidAddress, requirements.Asset))
	}
	chainID := big.NewInt(chain.ChainID)
	token := common.HexToAddress(requirements.Asset)

	domain, err := v.domain(ctx, chainID, token, requirements.Extra)
	if err != nil {
		return nil, x402.NewPaymentError(classify(err, x402.ReasonInvalidNetwork), "token metadata resolution failed", err)
	}

	// 3. Signature.
	auth, err := eip3009.ParseAuthorization(payload.Payload.Authorization)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ReasonUnknownError, "malformed authorization", err)
	}
	sig, err := eip3009.DecodeSignature(payload.Payload.Signature)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ReasonInvalidSignature, "malformed signature", err)
	}
	if err := eip3009.VerifySignature(domain, auth, sig); err != nil {
		return nil, x402.NewPaymentError(x402.ReasonInvalidSignature, "signature verification failed", err)
	}

	// 4. Recipient.
	if !common.IsHexAddress(requirements.PayTo) || common.HexToAddress(requirements.PayTo) != auth.To {
		return nil, x402.NewPaymentError(x402.ReasonRecipientMismatch,
			fmt.Sprintf("authorization pays %s, requirements pay %s", auth.To.Hex(), requirements.PayTo), nil)
	}

	// 5. Validity window.
	now := v.now()
	deadline := big.NewInt(now.Add(v.margin).Unix())
	if auth.ValidBefore.Cmp(deadline) < 0 {
		return nil, x402.NewPaymentError(x402.ReasonAuthorizationExpired,
			fmt.Sprintf("validBefore %s is before %s", auth.ValidBefore, deadline), nil)
	}
	if auth.ValidAfter.Cmp(big.NewInt(now.Unix())) > 0 {
		return nil, x402.NewPaymentError(x402.ReasonAuthorizationNotYetValid,
			fmt.Sprintf("validAfter %s is in the future", auth.ValidAfter), nil)
	}

	// 6. Solvency.
	required, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok || required.Sign() < 0 {
		return nil, x402.NewPaymentError(x402.ReasonUnknownError, "malformed maxAmountRequired",
			fmt.Errorf("%w: %q", x402.ErrInvalidAmount, requirements.MaxAmountRequired))
	}
	balance, err := v.balances.BalanceOf(ctx, chainID, token, auth.From)
	if err != nil {
		return nil, x402.NewPaymentError(classify(err, x402.ReasonUnknownError), "balance read failed", err)
	}
	if balance == nil || balance.Cmp(required) < 0 {
		return nil, x402.NewPaymentError(x402.ReasonInsufficientFunds,
			fmt.Sprintf("balance %s below required %s", balance, required), nil)
	}

	// 7. Amount.
	if auth.Value.Cmp(required) < 0 {
		return nil, x402.NewPaymentError(x402.ReasonAmountTooLow,
			fmt.Sprintf("value %s below required %s", auth.Value, required), nil)
	}

	logger.Debug("payment verified",
		"amount", auth.Value.String(),
		"asset", token.Hex(),
		"validBefore", auth.ValidBefore.String())

	return &verified{
		chainID:   chainID,
		token:     token,
		auth:      auth,
		signature: sig,
	}, nil
}

// domain builds the EIP-712 domain, preferring name/version from the requirements.
func (v *Validator) domain(ctx context.Context, chainID *big.Int, token common.Address, extra *x402.Extra) (eip3009.Domain, error) {
	domain := eip3009.Domain{ChainID: chainID, VerifyingContract: token}
	if extra != nil && extra.Name != "" && extra.Version != "" {
		domain.Name = extra.Name
		domain.Version = extra.Version
		return domain, nil
	}
	if v.metadata == nil {
		return domain, fmt.Errorf("%w: no token metadata for %s", x402.ErrInvalidNetwork, token.Hex())
	}
	meta, err := v.metadata.TokenMetadata(ctx, chainID, token)
	if err != nil {
		return domain, err
	}
	if meta.Name == "" || meta.Version == "" {
		return domain, fmt.Errorf("%w: incomplete token metadata for %s", x402.ErrInvalidNetwork, token.Hex())
	}
	domain.Name = meta.Name
	domain.Version = meta.Version
	return domain, nil
}

// classify maps a collaborator error to timeout when its cause is a deadline.
func classify(err error, fallback x402.Reason) x402.Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return x402.ReasonTimeout
	}
	return fallback
}

// Chains returns the chain table the validator resolves networks against.
func (v *Validator) Chains() *x402.ChainTable {
	return v.chains
}
