// Package exact implements verification and settlement for the x402 "exact"
// scheme on EVM chains: a payer-signed EIP-3009 transferWithAuthorization is
// checked by the Validator and relayed on-chain by the Settler.
//
// Chain access goes through three narrow interfaces so the protocol logic can
// be exercised with deterministic fakes.
package exact

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/nacorid/x402-facilitator/eip3009"
)

// TokenMetadata is the token information needed to build the EIP-712 domain.
type TokenMetadata struct {
	Name     string
	Version  string
	Decimals uint8
}

// BalanceOracle reads token balances.
type BalanceOracle interface {
	BalanceOf(ctx context.Context, chainID *big.Int, token, owner common.Address) (*big.Int, error)
}

// MetadataResolver resolves a token's EIP-712 domain name and version.
// It is only consulted when the requirements carry no extra name/version.
type MetadataResolver interface {
	TokenMetadata(ctx context.Context, chainID *big.Int, token common.Address) (TokenMetadata, error)
}

// ChainSubmitter relays authorizations on one chain using the facilitator's key.
// The key pays gas for the relay transaction only.
type ChainSubmitter interface {
	// ChainID is the chain this submitter sends transactions to.
	ChainID() *big.Int

	// Address is the facilitator account that signs relay transactions.
	Address() common.Address

	// TransferWithAuthorization submits the authorization to the token contract
	// and returns the relay transaction hash without waiting for it to be mined.
	TransferWithAuthorization(ctx context.Context, token common.Address, auth eip3009.Authorization, signature []byte) (common.Hash, error)

	// AwaitConfirmation blocks until the transaction is mined or ctx is done.
	AwaitConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}
