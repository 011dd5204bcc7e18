// Package config loads the facilitator's TOML configuration file.
package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/nacorid/x402-facilitator"
	"github.com/nacorid/x402-facilitator/validation"
)

const (
	DefaultListen       = ":8402"
	DefaultPollInterval = 2 * time.Second
)

// ErrNoKey indicates a network without a facilitator key source.
var ErrNoKey = errors.New("no facilitator key configured")

// Config is the decoded configuration file.
type Config struct {
	// Listen is the HTTP API address.
	Listen string `toml:"listen"`

	// MCPListen is the MCP endpoint address. Empty disables MCP.
	MCPListen string `toml:"mcp_listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// Debug runs the HTTP router in debug mode.
	Debug bool `toml:"debug"`

	Timeouts Timeouts  `toml:"timeouts"`
	Networks []Network `toml:"networks"`
}

type Timeouts struct {
	Verify         time.Duration `toml:"verify"`
	Settle         time.Duration `toml:"settle"`
	Request        time.Duration `toml:"request"`
	ValidityMargin time.Duration `toml:"validity_margin"`
	PollInterval   time.Duration `toml:"poll_interval"`
}

// Network is one [[networks]] entry: a chain the facilitator settles on.
// Chain fields override the predefined configuration, or describe a chain
// that has none.
type Network struct {
	// Network is a CAIP-2 identifier or legacy name.
	Network string `toml:"network"`
	RPCURL  string `toml:"rpc_url"`

	// Exactly one key source is used, in this order.
	PrivateKey          string `toml:"private_key"`
	PrivateKeyEnv       string `toml:"private_key_env"`
	Keystore            string `toml:"keystore"`
	KeystorePasswordEnv string `toml:"keystore_password_env"`

	Name           string `toml:"name"`
	ChainID        int64  `toml:"chain_id"`
	USDCAddress    string `toml:"usdc_address"`
	EIP3009Name    string `toml:"eip3009_name"`
	EIP3009Version string `toml:"eip3009_version"`
}

// Load reads and validates the file at path. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Timeouts.Verify == 0 {
		c.Timeouts.Verify = x402.DefaultTimeouts.VerifyTimeout
	}
	if c.Timeouts.Settle == 0 {
		c.Timeouts.Settle = x402.DefaultTimeouts.SettleTimeout
	}
	if c.Timeouts.Request == 0 {
		c.Timeouts.Request = x402.DefaultTimeouts.RequestTimeout
	}
	if c.Timeouts.ValidityMargin == 0 {
		c.Timeouts.ValidityMargin = x402.MinValidityMargin
	}
	if c.Timeouts.PollInterval == 0 {
		c.Timeouts.PollInterval = DefaultPollInterval
	}
}

func (c *Config) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if err := c.TimeoutConfig().Validate(); err != nil {
		return fmt.Errorf("timeouts: %w", err)
	}
	if c.Timeouts.ValidityMargin < 0 || c.Timeouts.PollInterval < 0 {
		return fmt.Errorf("timeouts: validity_margin and poll_interval cannot be negative")
	}
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one [[networks]] entry is required")
	}

	table, err := c.ChainTable()
	if err != nil {
		return err
	}
	seen := make(map[int64]string)
	for i, n := range c.Networks {
		chain, err := table.Lookup(n.Network)
		if err != nil {
			return fmt.Errorf("networks[%d]: %w", i, err)
		}
		if prev, ok := seen[chain.ChainID]; ok {
			return fmt.Errorf("networks[%d]: %s is the same chain as %s", i, n.Network, prev)
		}
		seen[chain.ChainID] = n.Network

		if n.RPCURL == "" {
			return fmt.Errorf("networks[%d]: rpc_url is required", i)
		}
		if n.PrivateKey == "" && n.PrivateKeyEnv == "" && n.Keystore == "" {
			return fmt.Errorf("networks[%d]: %w", i, ErrNoKey)
		}
		if n.USDCAddress != "" {
			if err := validation.ValidateAddress(n.USDCAddress); err != nil {
				return fmt.Errorf("networks[%d]: usdc_address %w", i, err)
			}
		}
	}
	return nil
}

// TimeoutConfig returns the operation timeouts.
func (c *Config) TimeoutConfig() x402.TimeoutConfig {
	return x402.TimeoutConfig{
		VerifyTimeout:  c.Timeouts.Verify,
		SettleTimeout:  c.Timeouts.Settle,
		RequestTimeout: c.Timeouts.Request,
	}
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// ChainTable returns the predefined chains with every [[networks]] override
// applied. A network that sets chain_id may describe a chain not predefined.
func (c *Config) ChainTable() (*x402.ChainTable, error) {
	base := x402.DefaultChainTable()
	configs := base.Configs()

	for i, n := range c.Networks {
		chain, err := base.Lookup(n.Network)
		if err != nil {
			if n.ChainID == 0 {
				return nil, fmt.Errorf("networks[%d]: %w (set chain_id for a custom chain)", i, err)
			}
			chain = x402.ChainConfig{Decimals: 6}
			if strings.Contains(n.Network, ":") {
				chain.Network = n.Network
			} else {
				chain.Name = n.Network
			}
		}
		if n.ChainID != 0 {
			chain.ChainID = n.ChainID
		}
		if n.Name != "" {
			chain.Name = n.Name
		}
		if n.USDCAddress != "" {
			chain.USDCAddress = n.USDCAddress
		}
		if n.EIP3009Name != "" {
			chain.EIP3009Name = n.EIP3009Name
		}
		if n.EIP3009Version != "" {
			chain.EIP3009Version = n.EIP3009Version
		}
		configs = append(configs, chain)
	}

	table, err := x402.NewChainTable(configs...)
	if err != nil {
		return nil, fmt.Errorf("networks: %w", err)
	}
	return table, nil
}

// PrivateKey loads the facilitator key for n from, in order, private_key,
// the private_key_env variable, or the keystore file.
func (n Network) PrivateKey(getenv func(string) string) (*ecdsa.PrivateKey, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	var hexKey string
	switch {
	case n.PrivateKey != "":
		hexKey = n.PrivateKey
	case n.PrivateKeyEnv != "":
		hexKey = getenv(n.PrivateKeyEnv)
		if hexKey == "" {
			return nil, fmt.Errorf("%w: %s is not set", ErrNoKey, n.PrivateKeyEnv)
		}
	case n.Keystore != "":
		return n.keystoreKey(getenv)
	default:
		return nil, ErrNoKey
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, x402.ErrInvalidKey
	}
	return key, nil
}

func (n Network) keystoreKey(getenv func(string) string) (*ecdsa.PrivateKey, error) {
	keyJSON, err := os.ReadFile(n.Keystore)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore %s: %w", n.Keystore, err)
	}
	var password string
	if n.KeystorePasswordEnv != "" {
		password = getenv(n.KeystorePasswordEnv)
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("%w: keystore %s: %v", x402.ErrInvalidKey, n.Keystore, err)
	}
	return key.PrivateKey, nil
}
