package x402

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// CAIP-2 network identifiers
const (
	// EVM Mainnets
	NetworkBase      = "eip155:8453"
	NetworkPolygon   = "eip155:137"
	NetworkAvalanche = "eip155:43114"
	NetworkEthereum  = "eip155:1"

	// EVM Testnets
	NetworkBaseSepolia   = "eip155:84532"
	NetworkPolygonAmoy   = "eip155:80002"
	NetworkAvalancheFuji = "eip155:43113"
	NetworkSepolia       = "eip155:11155111"
)

// ChainConfig holds configuration for a specific EVM chain.
type ChainConfig struct {
	// Network is the CAIP-2 network identifier.
	Network string

	// Name is the legacy x402 network name (e.g., "base-sepolia").
	Name string

	// ChainID is the EIP-155 chain id.
	ChainID int64

	// USDCAddress is the official Circle USDC contract address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals uint8

	// EIP3009Name is the EIP-712 domain "name" of the USDC contract.
	EIP3009Name string

	// EIP3009Version is the EIP-712 domain "version" of the USDC contract.
	EIP3009Version string
}

// Predefined chain configurations - EVM Mainnets
var (
	// BaseMainnet is the configuration for Base mainnet.
	BaseMainnet = ChainConfig{
		Network:        NetworkBase,
		Name:           "base",
		ChainID:        8453,
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	// PolygonMainnet is the configuration for Polygon PoS mainnet.
	PolygonMainnet = ChainConfig{
		Network:        NetworkPolygon,
		Name:           "polygon",
		ChainID:        137,
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	// AvalancheMainnet is the configuration for Avalanche C-Chain mainnet.
	AvalancheMainnet = ChainConfig{
		Network:        NetworkAvalanche,
		Name:           "avalanche",
		ChainID:        43114,
		USDCAddress:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	// EthereumMainnet is the configuration for Ethereum mainnet.
	EthereumMainnet = ChainConfig{
		Network:        NetworkEthereum,
		Name:           "ethereum",
		ChainID:        1,
		USDCAddress:    "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

// Predefined chain configurations - EVM Testnets
var (
	// BaseSepolia is the configuration for Base Sepolia testnet.
	BaseSepolia = ChainConfig{
		Network:        NetworkBaseSepolia,
		Name:           "base-sepolia",
		ChainID:        84532,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	// PolygonAmoy is the configuration for Polygon Amoy testnet.
	PolygonAmoy = ChainConfig{
		Network:        NetworkPolygonAmoy,
		Name:           "polygon-amoy",
		ChainID:        80002,
		USDCAddress:    "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	// AvalancheFuji is the configuration for Avalanche Fuji testnet.
	AvalancheFuji = ChainConfig{
		Network:        NetworkAvalancheFuji,
		Name:           "avalanche-fuji",
		ChainID:        43113,
		USDCAddress:    "0x5425890298aed601595a70AB815c96711a31Bc65",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	// Sepolia is the configuration for Ethereum Sepolia testnet.
	Sepolia = ChainConfig{
		Network:        NetworkSepolia,
		Name:           "sepolia",
		ChainID:        11155111,
		USDCAddress:    "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}
)

// DefaultChains lists the predefined chain configurations.
var DefaultChains = []ChainConfig{
	BaseMainnet,
	PolygonMainnet,
	AvalancheMainnet,
	EthereumMainnet,
	BaseSepolia,
	PolygonAmoy,
	AvalancheFuji,
	Sepolia,
}

// ChainTable is an immutable lookup of chain configurations.
// It is built once at startup and passed to the components that need it.
type ChainTable struct {
	byNetwork map[string]ChainConfig
	byName    map[string]ChainConfig
	byChainID map[int64]ChainConfig
}

// NewChainTable builds a table from the given configurations.
// Later entries override earlier ones with the same chain id.
func NewChainTable(configs ...ChainConfig) (*ChainTable, error) {
	t := &ChainTable{
		byNetwork: make(map[string]ChainConfig),
		byName:    make(map[string]ChainConfig),
		byChainID: make(map[int64]ChainConfig),
	}
	for _, cfg := range configs {
		if cfg.ChainID <= 0 {
			return nil, fmt.Errorf("%w: chain id must be positive for %q", ErrInvalidNetwork, cfg.Network)
		}
		if cfg.Network == "" {
			cfg.Network = "eip155:" + strconv.FormatInt(cfg.ChainID, 10)
		}
		id, err := parseCAIP2(cfg.Network)
		if err != nil {
			return nil, err
		}
		if id != cfg.ChainID {
			return nil, fmt.Errorf("%w: %s does not match chain id %d", ErrInvalidNetwork, cfg.Network, cfg.ChainID)
		}
		if prev, ok := t.byChainID[cfg.ChainID]; ok && prev.Name != "" {
			delete(t.byName, prev.Name)
		}
		t.byChainID[cfg.ChainID] = cfg
		t.byNetwork[cfg.Network] = cfg
		if cfg.Name != "" {
			t.byName[cfg.Name] = cfg
		}
	}
	return t, nil
}

// DefaultChainTable returns a table of the predefined chains.
func DefaultChainTable() *ChainTable {
	t, err := NewChainTable(DefaultChains...)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the configuration for a CAIP-2 identifier or legacy network name.
func (t *ChainTable) Lookup(network string) (ChainConfig, error) {
	if cfg, ok := t.byNetwork[network]; ok {
		return cfg, nil
	}
	if cfg, ok := t.byName[strings.ToLower(network)]; ok {
		return cfg, nil
	}
	return ChainConfig{}, fmt.Errorf("%w: %s", ErrInvalidNetwork, network)
}

// ByChainID returns the configuration for an EIP-155 chain id.
func (t *ChainTable) ByChainID(chainID int64) (ChainConfig, bool) {
	cfg, ok := t.byChainID[chainID]
	return cfg, ok
}

// ChainID resolves a network to its EIP-155 chain id.
func (t *ChainTable) ChainID(network string) (*big.Int, error) {
	cfg, err := t.Lookup(network)
	if err != nil {
		return nil, err
	}
	return big.NewInt(cfg.ChainID), nil
}

// Configs returns the configured chains ordered by chain id.
func (t *ChainTable) Configs() []ChainConfig {
	out := make([]ChainConfig, 0, len(t.byChainID))
	for _, cfg := range t.byChainID {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// ValidateNetwork checks that network is a well-formed EIP-155 CAIP-2
// identifier or a known legacy network name.
func ValidateNetwork(network string) error {
	if network == "" {
		return fmt.Errorf("%w: network cannot be empty", ErrInvalidNetwork)
	}
	if !strings.Contains(network, ":") {
		_, err := DefaultChainTable().Lookup(network)
		return err
	}
	_, err := parseCAIP2(network)
	return err
}

// GetChainID extracts the chain ID from a CAIP-2 EVM network identifier,
// or resolves a legacy network name against the predefined chains.
func GetChainID(network string) (int64, error) {
	if !strings.Contains(network, ":") {
		cfg, err := DefaultChainTable().Lookup(network)
		if err != nil {
			return 0, err
		}
		return cfg.ChainID, nil
	}
	return parseCAIP2(network)
}

func parseCAIP2(network string) (int64, error) {
	parts := strings.SplitN(network, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: invalid CAIP-2 format: %s", ErrInvalidNetwork, network)
	}
	if parts[0] != "eip155" {
		return 0, fmt.Errorf("%w: not an EVM network: %s", ErrInvalidNetwork, network)
	}
	chainID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || chainID <= 0 {
		return 0, fmt.Errorf("%w: invalid chain ID: %s", ErrInvalidNetwork, parts[1])
	}
	return chainID, nil
}
