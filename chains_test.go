package x402

import (
	"errors"
	"strings"
	"testing"
)

func TestNetworkConstants(t *testing.T) {
	tests := []struct {
		name    string
		network string
		want    string
	}{
		{"Base", NetworkBase, "eip155:8453"},
		{"Polygon", NetworkPolygon, "eip155:137"},
		{"Avalanche", NetworkAvalanche, "eip155:43114"},
		{"Ethereum", NetworkEthereum, "eip155:1"},
		{"BaseSepolia", NetworkBaseSepolia, "eip155:84532"},
		{"PolygonAmoy", NetworkPolygonAmoy, "eip155:80002"},
		{"AvalancheFuji", NetworkAvalancheFuji, "eip155:43113"},
		{"Sepolia", NetworkSepolia, "eip155:11155111"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.network != tt.want {
				t.Errorf("%s = %s; want %s", tt.name, tt.network, tt.want)
			}
		})
	}
}

func TestDefaultChains(t *testing.T) {
	for _, cfg := range DefaultChains {
		t.Run(cfg.Name, func(t *testing.T) {
			if cfg.USDCAddress == "" {
				t.Error("USDCAddress should not be empty")
			}
			if cfg.Decimals != 6 {
				t.Errorf("Decimals = %d; want 6", cfg.Decimals)
			}
			if cfg.EIP3009Name == "" || cfg.EIP3009Version == "" {
				t.Error("EIP-3009 domain parameters should be set")
			}
			id, err := parseCAIP2(cfg.Network)
			if err != nil || id != cfg.ChainID {
				t.Errorf("%s parses to %d (%v); want %d", cfg.Network, id, err, cfg.ChainID)
			}
		})
	}
}

func TestChainTable_Lookup(t *testing.T) {
	table := DefaultChainTable()

	tests := []struct {
		name    string
		network string
		wantID  int64
		wantErr bool
	}{
		{name: "caip-2", network: "eip155:8453", wantID: 8453},
		{name: "legacy name", network: "base-sepolia", wantID: 84532},
		{name: "legacy name is case-insensitive", network: "Polygon-Amoy", wantID: 80002},
		{name: "unknown caip-2", network: "eip155:999999", wantErr: true},
		{name: "unknown name", network: "solana", wantErr: true},
		{name: "empty", network: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := table.Lookup(tt.network)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidNetwork) {
					t.Errorf("err = %v; want ErrInvalidNetwork", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			if cfg.ChainID != tt.wantID {
				t.Errorf("ChainID = %d; want %d", cfg.ChainID, tt.wantID)
			}
		})
	}

	if cfg, ok := table.ByChainID(1); !ok || cfg.Network != NetworkEthereum {
		t.Errorf("ByChainID(1) = %+v, %v", cfg, ok)
	}
	if id, err := table.ChainID("avalanche-fuji"); err != nil || id.Int64() != 43113 {
		t.Errorf("ChainID(avalanche-fuji) = %v, %v", id, err)
	}
	if got := len(table.Configs()); got != len(DefaultChains) {
		t.Errorf("len(Configs()) = %d; want %d", got, len(DefaultChains))
	}
}

func TestNewChainTable(t *testing.T) {
	custom := ChainConfig{Name: "anvil", ChainID: 31337, USDCAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3"}
	override := BaseSepolia
	override.Name = "base-testnet"
	override.EIP3009Version = "3"

	table, err := NewChainTable(BaseSepolia, custom, override)
	if err != nil {
		t.Fatalf("NewChainTable failed: %v", err)
	}

	anvil, err := table.Lookup("anvil")
	if err != nil || anvil.Network != "eip155:31337" {
		t.Errorf("anvil = %+v, %v; want network derived from chain id", anvil, err)
	}

	got, err := table.Lookup(NetworkBaseSepolia)
	if err != nil || got.EIP3009Version != "3" {
		t.Errorf("override not applied: %+v, %v", got, err)
	}
	if _, err := table.Lookup("base-sepolia"); err == nil {
		t.Error("overridden legacy name should no longer resolve")
	}

	configs := table.Configs()
	if len(configs) != 2 || configs[0].ChainID != 31337 {
		t.Errorf("Configs() = %+v; want two entries ordered by chain id", configs)
	}

	bad := []struct {
		name string
		cfg  ChainConfig
	}{
		{"zero chain id", ChainConfig{Network: "eip155:1"}},
		{"mismatched network", ChainConfig{Network: "eip155:1", ChainID: 2}},
		{"non-evm network", ChainConfig{Network: "solana:abc", ChainID: 2}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewChainTable(tt.cfg); !errors.Is(err, ErrInvalidNetwork) {
				t.Errorf("err = %v; want ErrInvalidNetwork", err)
			}
		})
	}
}

func TestValidateNetwork(t *testing.T) {
	tests := []struct {
		name        string
		network     string
		wantErr     bool
		errContains string
	}{
		{name: "valid EVM mainnet", network: "eip155:8453"},
		{name: "valid EVM testnet", network: "eip155:84532"},
		{name: "unlisted EVM chain", network: "eip155:31337"},
		{name: "legacy name", network: "base"},
		{name: "empty network", network: "", wantErr: true, errContains: "cannot be empty"},
		{name: "unknown legacy name", network: "eip1558453", wantErr: true},
		{name: "invalid EVM chain ID", network: "eip155:abc", wantErr: true, errContains: "invalid chain ID"},
		{name: "zero chain ID", network: "eip155:0", wantErr: true, errContains: "invalid chain ID"},
		{name: "unsupported namespace", network: "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", wantErr: true, errContains: "not an EVM network"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNetwork(tt.network)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateNetwork(%q) error = %v, wantErr %v", tt.network, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidNetwork) {
				t.Errorf("err = %v; want ErrInvalidNetwork", err)
			}
			if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("err = %v; want it to contain %q", err, tt.errContains)
			}
		})
	}
}

func TestGetChainID(t *testing.T) {
	tests := []struct {
		network string
		want    int64
		wantErr bool
	}{
		{network: NetworkBase, want: 8453},
		{network: "eip155:31337", want: 31337},
		{network: "sepolia", want: 11155111},
		{network: "eip155:-1", wantErr: true},
		{network: "mystery", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.network, func(t *testing.T) {
			got, err := GetChainID(tt.network)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetChainID(%q) error = %v, wantErr %v", tt.network, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("GetChainID(%q) = %d; want %d", tt.network, got, tt.want)
			}
		})
	}
}
