package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/nacorid/x402-facilitator"
	"github.com/nacorid/x402-facilitator/exact"
)

// defaultTokenVersion is the EIP-712 version assumed for tokens without version().
const defaultTokenVersion = "1"

// Client reads token state from a single chain.
type Client struct {
	rpc     RPC
	chain   x402.ChainConfig
	chainID *big.Int
}

// NewClient wraps rpc for the given chain.
func NewClient(rpc RPC, chain x402.ChainConfig) *Client {
	return &Client{
		rpc:     rpc,
		chain:   chain,
		chainID: big.NewInt(chain.ChainID),
	}
}

// ChainID returns the EIP-155 chain id this client talks to.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Chain returns the chain configuration.
func (c *Client) Chain() x402.ChainConfig {
	return c.chain
}

// RPC returns the underlying connection.
func (c *Client) RPC() RPC {
	return c.rpc
}

// BalanceOf returns the ERC-20 balance of owner at the latest block.
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf %s: unexpected return type %T", token.Hex(), out[0])
	}
	return balance, nil
}

// TokenMetadata returns the EIP-712 domain name and version of token. The
// chain's USDC comes from the chain table; other tokens are read on-chain.
func (c *Client) TokenMetadata(ctx context.Context, token common.Address) (exact.TokenMetadata, error) {
	if c.chain.EIP3009Name != "" && common.IsHexAddress(c.chain.USDCAddress) &&
		common.HexToAddress(c.chain.USDCAddress) == token {
		return exact.TokenMetadata{
			Name:     c.chain.EIP3009Name,
			Version:  c.chain.EIP3009Version,
			Decimals: c.chain.Decimals,
		}, nil
	}

	var meta exact.TokenMetadata

	out, err := c.call(ctx, token, "name")
	if err != nil {
		return meta, err
	}
	meta.Name, _ = out[0].(string)

	out, err = c.call(ctx, token, "version")
	switch {
	case err == nil:
		meta.Version, _ = out[0].(string)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return meta, err
	default:
		meta.Version = defaultTokenVersion
	}

	out, err = c.call(ctx, token, "decimals")
	if err != nil {
		return meta, err
	}
	meta.Decimals, _ = out[0].(uint8)

	return meta, nil
}

func (c *Client) call(ctx context.Context, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s on %s (chain %s): %w", method, token.Hex(), c.chainID, err)
	}
	out, err := tokenABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s from %s: %w", method, token.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s on %s returned no values", method, token.Hex())
	}
	return out, nil
}

// Router dispatches chain reads to the Client for each chain id. It
// implements exact.BalanceOracle and exact.MetadataResolver.
type Router struct {
	clients map[string]*Client
}

var (
	_ exact.BalanceOracle    = (*Router)(nil)
	_ exact.MetadataResolver = (*Router)(nil)
)

// NewRouter builds a router over clients. Each chain id may appear once.
func NewRouter(clients ...*Client) (*Router, error) {
	r := &Router{clients: make(map[string]*Client, len(clients))}
	for _, c := range clients {
		key := c.chainID.String()
		if _, dup := r.clients[key]; dup {
			return nil, fmt.Errorf("duplicate client for chain %s", key)
		}
		r.clients[key] = c
	}
	return r, nil
}

// Client returns the client registered for chainID.
func (r *Router) Client(chainID *big.Int) (*Client, error) {
	if chainID == nil {
		return nil, fmt.Errorf("%w: nil chain id", x402.ErrInvalidNetwork)
	}
	c, ok := r.clients[chainID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: no RPC configured for chain %s", x402.ErrInvalidNetwork, chainID)
	}
	return c, nil
}

func (r *Router) BalanceOf(ctx context.Context, chainID *big.Int, token, owner common.Address) (*big.Int, error) {
	c, err := r.Client(chainID)
	if err != nil {
		return nil, err
	}
	return c.BalanceOf(ctx, token, owner)
}

func (r *Router) TokenMetadata(ctx context.Context, chainID *big.Int, token common.Address) (exact.TokenMetadata, error) {
	c, err := r.Client(chainID)
	if err != nil {
		return exact.TokenMetadata{}, err
	}
	return c.TokenMetadata(ctx, token)
}
