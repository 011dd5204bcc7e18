package exact

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	x402 "github.com/nacorid/x402-facilitator"
)

func TestValidate_AcceptsValidPayment(t *testing.T) {
	balances := &fakeBalances{balance: big.NewInt(5000)}
	v := newTestValidator(balances, nil)

	resp := v.Validate(context.Background(), signedPayload(t, testPrivateKey, nil), testRequirements())

	if !resp.IsValid {
		t.Fatalf("expected valid payment, got reason %q", resp.InvalidReason)
	}
	if resp.InvalidReason != "" {
		t.Errorf("InvalidReason = %q; want empty", resp.InvalidReason)
	}
	if resp.Payer != testAddress {
		t.Errorf("Payer = %s; want %s", resp.Payer, testAddress)
	}
	if balances.calls != 1 {
		t.Errorf("balance oracle called %d times; want 1", balances.calls)
	}
}

func TestValidate_UnsupportedScheme(t *testing.T) {
	tests := []struct {
		name          string
		payloadScheme string
		reqScheme     string
	}{
		{"payload scheme", "upto", x402.SchemeExact},
		{"requirements scheme", x402.SchemeExact, "upto"},
		{"both empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balances := &fakeBalances{balance: big.NewInt(5000)}
			v := newTestValidator(balances, nil)

			// Everything else is garbage: the scheme check must win regardless.
			payload := x402.PaymentPayload{
				Scheme:  tt.payloadScheme,
				Network: "nowhere",
				Payload: x402.ExactPayload{
					Signature:     "0xdead",
					Authorization: x402.Authorization{From: "0xnot-an-address"},
				},
			}
			req := x402.PaymentRequirements{Scheme: tt.reqScheme, Network: "nowhere", Asset: "bad"}

			resp := v.Validate(context.Background(), payload, req)
			if resp.IsValid || resp.InvalidReason != x402.ReasonUnsupportedScheme {
				t.Errorf("got (%v, %q); want (false, %q)", resp.IsValid, resp.InvalidReason, x402.ReasonUnsupportedScheme)
			}
			if resp.Payer != "0xnot-an-address" {
				t.Errorf("Payer = %q; want the supplied from", resp.Payer)
			}
			if balances.calls != 0 {
				t.Error("balance oracle must not be called")
			}
			if got := x402.ReasonOf(CheckScheme(payload, req)); got != x402.ReasonUnsupportedScheme {
				t.Errorf("CheckScheme reason = %q; want %q", got, x402.ReasonUnsupportedScheme)
			}
		})
	}

	ok := x402.PaymentPayload{Scheme: x402.SchemeExact}
	if err := CheckScheme(ok, x402.PaymentRequirements{Scheme: x402.SchemeExact}); err != nil {
		t.Errorf("CheckScheme(exact, exact) = %v; want nil", err)
	}
}

func TestValidate_InvalidNetwork(t *testing.T) {
	tests := []struct {
		name     string
		payload  func(p *x402.PaymentPayload)
		req      func(r *x402.PaymentRequirements)
		metadata *fakeMetadata
		want     x402.Reason
	}{
		{
			name:    "unknown payload network",
			payload: func(p *x402.PaymentPayload) { p.Network = "eip155:999999" },
			want:    x402.ReasonInvalidNetwork,
		},
		{
			name: "unknown requirements network",
			req:  func(r *x402.PaymentRequirements) { r.Network = "solana:devnet" },
			want: x402.ReasonInvalidNetwork,
		},
		{
			name: "networks disagree",
			req:  func(r *x402.PaymentRequirements) { r.Network = x402.NetworkBase },
			want: x402.ReasonInvalidNetwork,
		},
		{
			name: "malformed asset",
			req:  func(r *x402.PaymentRequirements) { r.Asset = "0x1234" },
			want: x402.ReasonInvalidNetwork,
		},
		{
			name:     "metadata resolution failure",
			req:      func(r *x402.PaymentRequirements) { r.Extra = nil },
			metadata: &fakeMetadata{err: errRPC},
			want:     x402.ReasonInvalidNetwork,
		},
		{
			name:     "incomplete metadata",
			req:      func(r *x402.PaymentRequirements) { r.Extra = &x402.Extra{Name: "USDC"} },
			metadata: &fakeMetadata{meta: TokenMetadata{Name: "USDC"}},
			want:     x402.ReasonInvalidNetwork,
		},
		{
			name: "no resolver and no extra",
			req:  func(r *x402.PaymentRequirements) { r.Extra = nil },
			want: x402.ReasonInvalidNetwork,
		},
		{
			name:     "metadata deadline exceeded",
			req:      func(r *x402.PaymentRequirements) { r.Extra = nil },
			metadata: &fakeMetadata{err: fmt.Errorf("eth_call: %w", context.DeadlineExceeded)},
			want:     x402.ReasonTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var metadata MetadataResolver
			if tt.metadata != nil {
				metadata = tt.metadata
			}
			v := newTestValidator(&fakeBalances{balance: big.NewInt(5000)}, metadata)

			payload := signedPayload(t, testPrivateKey, nil)
			req := testRequirements()
			if tt.payload != nil {
				tt.payload(&payload)
			}
			if tt.req != nil {
				tt.req(&req)
			}

			resp := v.Validate(context.Background(), payload, req)
			if resp.IsValid || resp.InvalidReason != tt.want {
				t.Errorf("got (%v, %q); want (false, %q)", resp.IsValid, resp.InvalidReason, tt.want)
			}
		})
	}
}

func TestValidate_ResolvesMetadataWhenExtraMissing(t *testing.T) {
	metadata := &fakeMetadata{meta: TokenMetadata{Name: "USDC", Version: "2", Decimals: 6}}
	v := newTestValidator(&fakeBalances{balance: big.NewInt(5000)}, metadata)

	req := testRequirements()
	req.Extra = nil

	resp := v.Validate(context.Background(), signedPayload(t, testPrivateKey, nil), req)
	if !resp.IsValid {
		t.Fatalf("expected valid payment, got %q", resp.InvalidReason)
	}
	if metadata.calls != 1 {
		t.Errorf("metadata resolver called %d times; want 1", metadata.calls)
	}

	t.Run("extra takes precedence", func(t *testing.T) {
		metadata.calls = 0
		resp := v.Validate(context.Background(), signedPayload(t, testPrivateKey, nil), testRequirements())
		if !resp.IsValid {
			t.Fatalf("expected valid payment, got %q", resp.InvalidReason)
		}
		if metadata.calls != 0 {
			t.Error("metadata resolver must not be called when extra is complete")
		}
	})
}

func TestValidate_InvalidSignature(t *testing.T) {
	t.Run("flipped signature byte", func(t *testing.T) {
		for _, idx := range []int{2, 40, 70, 100, 129} {
			payload := signedPayload(t, testPrivateKey, nil)
			sig := []byte(payload.Payload.Signature)
			// Flip one hex digit, which flips bits in exactly one signature byte.
			if sig[idx] == '0' {
				sig[idx] = '1'
			} else {
				sig[idx] = '0'
			}
			payload.Payload.Signature = string(sig)

			balances := &fakeBalances{balance: big.NewInt(5000)}
			resp := newTestValidator(balances, nil).Validate(context.Background(), payload, testRequirements())
			if resp.IsValid || resp.InvalidReason != x402.ReasonInvalidSignature {
				t.Errorf("index %d: got (%v, %q); want invalid_signature", idx, resp.IsValid, resp.InvalidReason)
			}
			if balances.calls != 0 {
				t.Errorf("index %d: forged payload reached the balance oracle", idx)
			}
		}
	})

	t.Run("signed by someone else", func(t *testing.T) {
		payload := signedPayload(t, otherPrivateKey, nil)
		resp := newTestValidator(&fakeBalances{balance: big.NewInt(5000)}, nil).Validate(context.Background(), payload, testRequirements())
		if resp.InvalidReason != x402.ReasonInvalidSignature {
			t.Errorf("InvalidReason = %q; want invalid_signature", resp.InvalidReason)
		}
		if resp.Payer != testAddress {
			t.Errorf("Payer = %s; want the claimed from %s", resp.Payer, testAddress)
		}
	})

	t.Run("value altered after signing", func(t *testing.T) {
		payload := signedPayload(t, testPrivateKey, nil)
		payload.Payload.Authorization.Value = "999999"
		resp := newTestValidator(&fakeBalances{balance: big.NewInt(5000000)}, nil).Validate(context.Background(), payload, testRequirements())
		if resp.InvalidReason != x402.ReasonInvalidSignature {
			t.Errorf("InvalidReason = %q; want invalid_signature", resp.InvalidReason)
		}
	})

	t.Run("domain differs from signed domain", func(t *testing.T) {
		req := testRequirements()
		req.Extra = &x402.Extra{Name: "USD Coin", Version: "2"}
		resp := newTestValidator(&fakeBalances{balance: big.NewInt(5000)}, nil).Validate(context.Background(), signedPayload(t, testPrivateKey, nil), req)
		if resp.InvalidReason != x402.ReasonInvalidSignature {
			t.Errorf("InvalidReason = %q; want invalid_signature", resp.InvalidReason)
		}
	})

	t.Run("undecodable signature", func(t *testing.T) {
		payload := signedPayload(t, testPrivateKey, nil)
		payload.Payload.Signature = "0xnothex"
		resp := newTestValidator(&fakeBalances{balance: big.NewInt(5000)}, nil).Validate(context.Background(), payload, testRequirements())
		if resp.InvalidReason != x402.ReasonInvalidSignature {
			t.Errorf("InvalidReason = %q; want invalid_signature", resp.InvalidReason)
		}
	})
}

func TestValidate_MalformedAuthorization(t *testing.T) {
	payload := signedPayload(t, testPrivateKey, nil)
	payload.Payload.Authorization.Nonce = "0x1234"

	resp := newTestValidator(&fakeBalances{balance: big.NewInt(5000)}, nil).Validate(context.Background(), payload, testRequirements())
	if resp.IsValid || resp.InvalidReason != x402.ReasonUnknownError {
		t.Errorf("got (%v, %q); want (false, unknown_error)", resp.IsValid, resp.InvalidReason)
	}
}

func TestValidate_RecipientMismatch(t *testing.T) {
	payload := signedPayload(t, testPrivateKey, func(a *x402.Authorization) { a.To = testOther })

	resp := newTestValidator(&fakeBalances{balance: big.NewInt(5000)}, nil).Validate(context.Background(), payload, testRequirements())

	want := x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonRecipientMismatch, Payer: testAddress}
	if resp != want {
		t.Errorf("got %+v; want %+v", resp, want)
	}

	t.Run("case differences are ignored", func(t *testing.T) {
		req := testRequirements()
		req.PayTo = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
		resp := newTestValidator(&fakeBalances{balance: big.NewInt(5000)}, nil).Validate(context.Background(), signedPayload(t, testPrivateKey, nil), req)
		if !resp.IsValid {
			t.Errorf("lowercase payTo rejected with %q", resp.InvalidReason)
		}
	})
}

func TestValidate_TemporalValidity(t *testing.T) {
	tests := []struct {
		name        string
		validAfter  int64
		validBefore int64
		margin      time.Duration
		want        x402.Reason
	}{
		{"expired one second ago", -10, -1, 0, x402.ReasonAuthorizationExpired},
		{"inside default margin", -10, 5, 0, x402.ReasonAuthorizationExpired},
		{"exactly at margin", -10, 6, 0, ""},
		{"ten seconds ahead passes", -10, 10, 0, ""},
		{"ten seconds ahead with larger margin", -10, 10, 30 * time.Second, x402.ReasonAuthorizationExpired},
		{"margin below minimum is raised", -10, 5, time.Second, x402.ReasonAuthorizationExpired},
		{"not yet valid", 5, 60, 0, x402.ReasonAuthorizationNotYetValid},
		{"valid from now", 0, 60, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []Option{WithClock(func() time.Time { return testNow })}
			if tt.margin > 0 {
				opts = append(opts, WithValidityMargin(tt.margin))
			}
			v := NewValidator(x402.DefaultChainTable(), &fakeBalances{balance: big.NewInt(5000)}, nil, opts...)

			payload := signedPayload(t, testPrivateKey, func(a *x402.Authorization) {
				a.ValidAfter = unix(tt.validAfter)
				a.ValidBefore = unix(tt.validBefore)
			})

			resp := v.Validate(context.Background(), payload, testRequirements())
			if resp.InvalidReason != tt.want || resp.IsValid != (tt.want == "") {
				t.Errorf("got (%v, %q); want reason %q", resp.IsValid, resp.InvalidReason, tt.want)
			}
		})
	}
}

func TestValidate_Solvency(t *testing.T) {
	tests := []struct {
		name     string
		balances *fakeBalances
		want     x402.Reason
	}{
		{"balance below required", &fakeBalances{balance: big.NewInt(999)}, x402.ReasonInsufficientFunds},
		{"zero balance", &fakeBalances{balance: big.NewInt(0)}, x402.ReasonInsufficientFunds},
		{"balance equals required", &fakeBalances{balance: big.NewInt(1000)}, ""},
		{"rpc failure", &fakeBalances{err: errRPC}, x402.ReasonUnknownError},
		{"rpc deadline", &fakeBalances{err: fmt.Errorf("balanceOf: %w", context.DeadlineExceeded)}, x402.ReasonTimeout},
		{"oracle panic", &fakeBalances{panics: true}, x402.ReasonUnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := newTestValidator(tt.balances, nil).Validate(context.Background(), signedPayload(t, testPrivateKey, nil), testRequirements())
			if resp.InvalidReason != tt.want || resp.IsValid != (tt.want == "") {
				t.Errorf("got (%v, %q); want reason %q", resp.IsValid, resp.InvalidReason, tt.want)
			}
			if resp.Payer != testAddress {
				t.Errorf("Payer = %s; want %s", resp.Payer, testAddress)
			}
		})
	}
}

func TestValidate_AmountSufficiency(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  x402.Reason
	}{
		{"one below required", "999", x402.ReasonAmountTooLow},
		{"zero", "0", x402.ReasonAmountTooLow},
		{"exactly required", "1000", ""},
		{"above required", "1001", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := signedPayload(t, testPrivateKey, func(a *x402.Authorization) { a.Value = tt.value })
			resp := newTestValidator(&fakeBalances{balance: big.NewInt(5000)}, nil).Validate(context.Background(), payload, testRequirements())
			if resp.InvalidReason != tt.want || resp.IsValid != (tt.want == "") {
				t.Errorf("got (%v, %q); want reason %q", resp.IsValid, resp.InvalidReason, tt.want)
			}
		})
	}

	t.Run("malformed maxAmountRequired", func(t *testing.T) {
		req := testRequirements()
		req.MaxAmountRequired = "ten"
		resp := newTestValidator(&fakeBalances{balance: big.NewInt(5000)}, nil).Validate(context.Background(), signedPayload(t, testPrivateKey, nil), req)
		if resp.InvalidReason != x402.ReasonUnknownError {
			t.Errorf("InvalidReason = %q; want unknown_error", resp.InvalidReason)
		}
	})
}

func TestValidate_Idempotent(t *testing.T) {
	v := newTestValidator(&fakeBalances{balance: big.NewInt(5000)}, nil)
	payload := signedPayload(t, testPrivateKey, nil)

	for _, req := range []x402.PaymentRequirements{testRequirements(), func() x402.PaymentRequirements {
		r := testRequirements()
		r.PayTo = testOther
		return r
	}()} {
		first := v.Validate(context.Background(), payload, req)
		second := v.Validate(context.Background(), payload, req)
		if first != second {
			t.Errorf("repeated verification differs: %+v vs %+v", first, second)
		}
	}
}

func TestValidate_LegacyNetworkNames(t *testing.T) {
	payload := signedPayload(t, testPrivateKey, nil)
	payload.Network = "base-sepolia"
	req := testRequirements()
	req.Network = "base-sepolia"

	resp := newTestValidator(&fakeBalances{balance: big.NewInt(5000)}, nil).Validate(context.Background(), payload, req)
	if !resp.IsValid {
		t.Errorf("legacy network name rejected with %q", resp.InvalidReason)
	}
}
