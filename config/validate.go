package config

import (
	"fmt"
	"net/url"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Network {
	case Mainnet, Testnet, Devnet:
	default:
		return fmt.Errorf("network must be %q, %q or %q", Mainnet, Testnet, Devnet)
	}

	u, err := url.Parse(cfg.Node.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("node.url must be an http(s) URL, got %q", cfg.Node.URL)
	}
	if cfg.Node.Timeout <= 0 {
		return fmt.Errorf("node.timeout must be positive")
	}
	if cfg.Node.RequestsPerSecond < 0 {
		return fmt.Errorf("node.rps must not be negative")
	}
	if cfg.Node.PoWThreads < 1 {
		cfg.Node.PoWThreads = 1
	}

	switch cfg.Wallet.Storage {
	case StorageBadger, StorageMemory:
	case "":
		cfg.Wallet.Storage = StorageBadger
	default:
		return fmt.Errorf("wallet.storage must be %q or %q", StorageBadger, StorageMemory)
	}

	if cfg.Sync.Interval < 0 {
		return fmt.Errorf("sync.interval must not be negative")
	}
	if cfg.Sync.ConsolidationThreshold < 0 {
		return fmt.Errorf("sync.consolidationthreshold must not be negative")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	return nil
}
