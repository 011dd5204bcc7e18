package exact

import (
	"log/slog"
	"time"

	x402 "github.com/nacorid/x402-facilitator"
)

// Option configures a Validator.
type Option func(*Validator)

// WithValidityMargin sets how long before validBefore an authorization is
// already treated as expired. Values below x402.MinValidityMargin are raised to it.
func WithValidityMargin(d time.Duration) Option {
	return func(v *Validator) {
		if d < x402.MinValidityMargin {
			d = x402.MinValidityMargin
		}
		v.margin = d
	}
}

// WithClock replaces the time source used for temporal checks.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// SettlerOption configures a Settler.
type SettlerOption func(*Settler)

// WithConfirmationTimeout bounds the wait for the relay transaction receipt.
func WithConfirmationTimeout(d time.Duration) SettlerOption {
	return func(s *Settler) {
		if d > 0 {
			s.confirmTimeout = d
		}
	}
}

// WithSettlerLogger sets the logger used for diagnostic output.
func WithSettlerLogger(logger *slog.Logger) SettlerOption {
	return func(s *Settler) {
		if logger != nil {
			s.logger = logger
		}
	}
}
