package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"

	x402 "github.com/nacorid/x402-facilitator"
	"github.com/nacorid/x402-facilitator/chain/evm"
	"github.com/nacorid/x402-facilitator/exact"
	"github.com/nacorid/x402-facilitator/facilitator"
	x402http "github.com/nacorid/x402-facilitator/http"
	"github.com/nacorid/x402-facilitator/internal/config"
	"github.com/nacorid/x402-facilitator/mcp"
)

const version = "0.1.0"

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "facilitator.toml", "Path to the TOML configuration file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fac, closeClients, err := buildFacilitator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeClients()

	errCh := make(chan error, 2)
	servers := 1
	go func() {
		srv := x402http.NewServer(fac, x402http.WithServerLogger(logger), x402http.WithDebug(cfg.Debug))
		errCh <- srv.ListenAndServe(ctx, cfg.Listen)
	}()
	if cfg.MCPListen != "" {
		servers++
		go func() {
			srv := mcp.NewServer("x402-facilitator", version, fac, mcp.WithLogger(logger))
			errCh <- srv.ListenAndServe(ctx, cfg.MCPListen)
		}()
	}

	var firstErr error
	for i := 0; i < servers; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			stop()
		}
	}
	logger.Info("facilitator stopped")
	return firstErr
}

// buildFacilitator dials every configured network and assembles the exact
// facilitator over them.
func buildFacilitator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*facilitator.Exact, func(), error) {
	table, err := cfg.ChainTable()
	if err != nil {
		return nil, nil, err
	}

	var (
		clients    []*evm.Client
		submitters []exact.ChainSubmitter
		conns      []*ethclient.Client
	)
	closeAll := func() {
		for _, c := range conns {
			c.Close()
		}
	}

	for _, n := range cfg.Networks {
		chain, err := table.Lookup(n.Network)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		key, err := n.PrivateKey(os.Getenv)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("%s: %w", chain.Network, err)
		}

		rpc, err := ethclient.DialContext(ctx, n.RPCURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("%s: failed to dial %s: %w", chain.Network, n.RPCURL, err)
		}
		conns = append(conns, rpc)

		remoteID, err := rpc.ChainID(ctx)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("%s: failed to read chain id: %w", chain.Network, err)
		}
		if remoteID.Cmp(big.NewInt(chain.ChainID)) != 0 {
			closeAll()
			return nil, nil, fmt.Errorf("%s: rpc %s serves chain %s", chain.Network, n.RPCURL, remoteID)
		}

		sub, err := evm.NewSubmitterFromKey(rpc, big.NewInt(chain.ChainID), key,
			evm.WithPollInterval(cfg.Timeouts.PollInterval),
			evm.WithLogger(logger.With("network", chain.Network)))
		if err != nil {
			closeAll()
			return nil, nil, err
		}

		clients = append(clients, evm.NewClient(rpc, chain))
		submitters = append(submitters, sub)
		logger.Info("network configured", "network", chain.Network, "signer", sub.Address().Hex())
	}

	router, err := evm.NewRouter(clients...)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	validator := exact.NewValidator(table, router, router,
		exact.WithValidityMargin(cfg.Timeouts.ValidityMargin),
		exact.WithLogger(logger))

	fac, err := facilitator.NewExact(validator, submitters,
		facilitator.WithTimeouts(cfg.TimeoutConfig()),
		facilitator.WithLogger(logger),
		facilitator.WithSettlerOptions(exact.WithSettlerLogger(logger)),
		facilitator.WithEventCallback(logEvent(logger)))
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return fac, closeAll, nil
}

func logEvent(logger *slog.Logger) x402.PaymentCallback {
	return func(e x402.PaymentEvent) {
		attrs := []any{
			"operation", e.Operation,
			"network", e.Network,
			"payer", e.Payer,
			"amount", e.Amount,
		}
		switch e.Type {
		case x402.PaymentEventAttempt:
			logger.Debug("payment attempt", attrs...)
		case x402.PaymentEventSuccess:
			logger.Info("payment accepted", append(attrs, "transaction", e.Transaction, "duration", e.Duration)...)
		case x402.PaymentEventFailure:
			logger.Info("payment rejected", append(attrs, "reason", e.Reason, "transaction", e.Transaction, "duration", e.Duration)...)
		}
	}
}
