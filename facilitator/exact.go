package facilitator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	x402 "github.com/nacorid/x402-facilitator"
	"github.com/nacorid/x402-facilitator/exact"
)

// Exact serves the exact scheme on every network it has a submitter for.
type Exact struct {
	validator *exact.Validator
	settlers  map[int64]*exact.Settler
	networks  []x402.ChainConfig

	settlerOpts []exact.SettlerOption
	timeouts    x402.TimeoutConfig
	onEvent     x402.PaymentCallback
	logger      *slog.Logger
	now         func() time.Time
}

var _ Interface = (*Exact)(nil)

// Option configures an Exact facilitator.
type Option func(*Exact)

// WithTimeouts sets the verify and overall settle timeouts.
func WithTimeouts(timeouts x402.TimeoutConfig) Option {
	return func(f *Exact) {
		f.timeouts = timeouts
	}
}

// WithEventCallback registers a callback for payment lifecycle events.
func WithEventCallback(cb x402.PaymentCallback) Option {
	return func(f *Exact) {
		f.onEvent = cb
	}
}

// WithLogger sets the facilitator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Exact) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithSettlerOptions passes options to every per-network Settler.
func WithSettlerOptions(opts ...exact.SettlerOption) Option {
	return func(f *Exact) {
		f.settlerOpts = append(f.settlerOpts, opts...)
	}
}

// NewExact builds a facilitator that settles through one submitter per chain.
// Every submitter's chain must be in the validator's chain table.
func NewExact(validator *exact.Validator, submitters []exact.ChainSubmitter, opts ...Option) (*Exact, error) {
	f := &Exact{
		validator: validator,
		settlers:  make(map[int64]*exact.Settler, len(submitters)),
		timeouts:  x402.DefaultTimeouts,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.timeouts.Validate(); err != nil {
		return nil, err
	}

	settlerOpts := append([]exact.SettlerOption{exact.WithConfirmationTimeout(f.timeouts.SettleTimeout)}, f.settlerOpts...)
	for _, sub := range submitters {
		id := sub.ChainID()
		if !id.IsInt64() {
			return nil, fmt.Errorf("%w: chain id %s out of range", x402.ErrInvalidNetwork, id)
		}
		chain, ok := validator.Chains().ByChainID(id.Int64())
		if !ok {
			return nil, fmt.Errorf("%w: chain %s is not in the chain table", x402.ErrInvalidNetwork, id)
		}
		if _, dup := f.settlers[chain.ChainID]; dup {
			return nil, fmt.Errorf("duplicate submitter for %s", chain.Network)
		}
		f.settlers[chain.ChainID] = exact.NewSettler(validator, sub, settlerOpts...)
		f.networks = append(f.networks, chain)
	}
	sort.Slice(f.networks, func(i, j int) bool { return f.networks[i].ChainID < f.networks[j].ChainID })

	return f, nil
}

// settler returns the settler for network, or nil if the network is not served.
func (f *Exact) settler(network string) *exact.Settler {
	chain, err := f.validator.Chains().Lookup(network)
	if err != nil {
		return nil
	}
	return f.settlers[chain.ChainID]
}

// unservedReason is the rejection for a payment on a network without a
// settler. The scheme is still checked first.
func unservedReason(payload x402.PaymentPayload, requirements x402.PaymentRequirements) x402.Reason {
	if err := exact.CheckScheme(payload, requirements); err != nil {
		return x402.ReasonOf(err)
	}
	return x402.ReasonInvalidNetwork
}

// Verify validates the payment on a served network.
func (f *Exact) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	start := f.now()
	f.emit(x402.PaymentEventAttempt, x402.OperationVerify, payload, requirements, "", "", 0)

	var resp x402.VerifyResponse
	if f.settler(payload.Network) == nil {
		resp = x402.VerifyResponse{
			InvalidReason: unservedReason(payload, requirements),
			Payer:         payload.Payload.Authorization.From,
		}
	} else {
		ctx, cancel := context.WithTimeout(ctx, f.timeouts.VerifyTimeout)
		defer cancel()
		resp = f.validator.Validate(ctx, payload, requirements)
	}

	if resp.IsValid {
		f.emit(x402.PaymentEventSuccess, x402.OperationVerify, payload, requirements, "", "", f.now().Sub(start))
	} else {
		f.emit(x402.PaymentEventFailure, x402.OperationVerify, payload, requirements, "", resp.InvalidReason, f.now().Sub(start))
	}
	return &resp, nil
}

// Settle re-verifies the payment and submits it on a served network.
func (f *Exact) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	start := f.now()
	f.emit(x402.PaymentEventAttempt, x402.OperationSettle, payload, requirements, "", "", 0)

	var resp x402.SettleResponse
	if s := f.settler(payload.Network); s == nil {
		resp = x402.SettleResponse{
			ErrorReason: unservedReason(payload, requirements),
			Network:     payload.Network,
			Payer:       payload.Payload.Authorization.From,
		}
	} else {
		ctx, cancel := context.WithTimeout(ctx, f.timeouts.RequestTimeout)
		defer cancel()
		resp = s.Settle(ctx, payload, requirements)
	}

	if resp.Success {
		f.emit(x402.PaymentEventSuccess, x402.OperationSettle, payload, requirements, resp.Transaction, "", f.now().Sub(start))
	} else {
		f.emit(x402.PaymentEventFailure, x402.OperationSettle, payload, requirements, resp.Transaction, resp.ErrorReason, f.now().Sub(start))
	}
	return &resp, nil
}

// Supported lists one exact kind per served network with its settlement signer.
func (f *Exact) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	resp := &x402.SupportedResponse{
		Kinds:   make([]x402.SupportedKind, 0, len(f.networks)),
		Signers: make(map[string][]string, len(f.networks)),
	}
	for _, chain := range f.networks {
		resp.Kinds = append(resp.Kinds, x402.SupportedKind{
			X402Version: x402.X402Version,
			Scheme:      x402.SchemeExact,
			Network:     chain.Network,
		})
		signer := f.settlers[chain.ChainID].Submitter().Address().Hex()
		resp.Signers[chain.Network] = []string{signer}
	}
	return resp, nil
}

func (f *Exact) emit(typ x402.PaymentEventType, op x402.PaymentOperation, payload x402.PaymentPayload,
	requirements x402.PaymentRequirements, tx string, reason x402.Reason, d time.Duration) {
	if f.onEvent == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("payment event callback panicked", "panic", r, "operation", op)
		}
	}()

	auth := payload.Payload.Authorization
	f.onEvent(x402.PaymentEvent{
		Type:        typ,
		Operation:   op,
		Timestamp:   f.now(),
		Network:     payload.Network,
		Asset:       requirements.Asset,
		Amount:      auth.Value,
		Recipient:   auth.To,
		Payer:       auth.From,
		Transaction: tx,
		Reason:      reason,
		Duration:    d,
	})
}
