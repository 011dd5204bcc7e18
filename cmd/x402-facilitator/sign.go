package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"

	x402 "github.com/nacorid/x402-facilitator"
	"github.com/nacorid/x402-facilitator/encoding"
	"github.com/nacorid/x402-facilitator/signers/evm"
)

// keyEnv is read when -key is not given.
const keyEnv = "X402_PAYER_KEY"

func runSign(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	network := fs.String("network", x402.NetworkBaseSepolia, "Network to pay on (CAIP-2 or legacy name)")
	key := fs.String("key", "", "Payer private key in hex (default: $"+keyEnv+")")
	asset := fs.String("asset", "", "Token address (default: the network's USDC)")
	payTo := fs.String("pay-to", "", "Recipient address (required)")
	amount := fs.String("amount", "10000", "Amount in atomic units")
	timeout := fs.Int("timeout", evm.DefaultTimeoutSeconds, "Validity window in seconds")
	maxAmount := fs.String("max-amount", "", "Refuse to sign above this amount")
	_ = fs.Parse(args)

	if *payTo == "" {
		fs.PrintDefaults()
		return fmt.Errorf("-pay-to is required")
	}
	if *key == "" {
		*key = os.Getenv(keyEnv)
	}
	if *key == "" {
		return fmt.Errorf("-key or $%s is required", keyEnv)
	}

	chain, err := x402.DefaultChainTable().Lookup(*network)
	if err != nil {
		return err
	}

	var opts []evm.Option
	if *maxAmount != "" {
		limit, ok := new(big.Int).SetString(*maxAmount, 10)
		if !ok {
			return fmt.Errorf("%w: -max-amount %s", x402.ErrInvalidAmount, *maxAmount)
		}
		opts = append(opts, evm.WithMaxAmount(limit))
	}

	signer, err := evm.NewSigner(*network, *key, opts...)
	if err != nil {
		return err
	}

	requirements := x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           *network,
		MaxAmountRequired: *amount,
		Asset:             *asset,
		PayTo:             *payTo,
		MaxTimeoutSeconds: *timeout,
	}
	if requirements.Asset == "" {
		requirements.Asset = chain.USDCAddress
		requirements.Extra = &x402.Extra{Name: chain.EIP3009Name, Version: chain.EIP3009Version}
	}

	payload, err := signer.Sign(requirements)
	if err != nil {
		return err
	}
	header, err := encoding.EncodePayment(payload)
	if err != nil {
		return err
	}

	body, err := json.MarshalIndent(struct {
		PaymentPayload      x402.PaymentPayload      `json:"paymentPayload"`
		PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
	}{payload, requirements}, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %s\n\n%s\n", encoding.PaymentHeader, header, body)
	return nil
}
