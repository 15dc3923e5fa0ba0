package config

import "time"

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Node: NodeConfig{
			URL:               "http://127.0.0.1:14265/rpc",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 50,
			LocalPoW:          false,
			PoWThreads:        1,
		},
		Wallet: WalletConfig{
			CoinType: Mainnet.DefaultCoinType(),
			Storage:  StorageBadger,
		},
		Sync: SyncConfig{
			Interval:               30 * time.Second,
			GapLimit:               20,
			AutoConsolidate:        false,
			ConsolidationThreshold: 100,
		},
		RPC: RPCConfig{
			Addr:       "127.0.0.1",
			Port:       14265,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Wallet.CoinType = Testnet.DefaultCoinType()
	cfg.Node.URL = "http://127.0.0.1:14365/rpc"
	cfg.Node.LocalPoW = true
	cfg.RPC.Port = 14365
	return cfg
}

// DefaultDevnet returns the default configuration for a local devnet.
func DefaultDevnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Devnet
	cfg.Wallet.CoinType = Devnet.DefaultCoinType()
	cfg.Node.URL = "http://127.0.0.1:14465/rpc"
	cfg.Node.RequestsPerSecond = 0
	cfg.Sync.Interval = 5 * time.Second
	cfg.RPC.Port = 14465
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	case Devnet:
		return DefaultDevnet()
	default:
		return DefaultMainnet()
	}
}
