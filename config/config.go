// Package config handles application configuration.
//
// Configuration is layered: built-in defaults per network, then the
// key = value config file in the data directory, then command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// NetworkType identifies the network a wallet talks to.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Devnet  NetworkType = "devnet"
)

// Storage backends for wallet state.
const (
	StorageBadger = "badger"
	StorageMemory = "memory"
)

// Config holds wallet runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Node API connection
	Node NodeConfig

	// Wallet
	Wallet WalletConfig

	// Background syncing
	Sync SyncConfig

	// Node API server (devnet only)
	RPC RPCConfig

	// Metrics endpoint
	Metrics MetricsConfig

	// Logging
	Log LogConfig
}

// NodeConfig holds node API client settings.
type NodeConfig struct {
	URL               string        `conf:"node.url"`
	Timeout           time.Duration `conf:"node.timeout"`
	RequestsPerSecond float64       `conf:"node.rps"`
	LocalPoW          bool          `conf:"node.localpow"`
	PoWThreads        int           `conf:"node.powthreads"`
}

// WalletConfig holds account manager settings.
type WalletConfig struct {
	CoinType    uint32 `conf:"wallet.cointype"`
	Storage     string `conf:"wallet.storage"`     // badger or memory
	SecretStore string `conf:"wallet.secretstore"` // Path to the encrypted seed file
}

// SyncConfig holds background sync settings.
type SyncConfig struct {
	Interval               time.Duration `conf:"sync.interval"`
	GapLimit               uint32        `conf:"sync.gaplimit"`
	AutoConsolidate        bool          `conf:"sync.autoconsolidate"`
	ConsolidationThreshold int           `conf:"sync.consolidationthreshold"`
}

// RPCConfig holds node API server settings.
type RPCConfig struct {
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// MetricsConfig holds the Prometheus endpoint settings. An empty address
// disables the endpoint.
type MetricsConfig struct {
	Addr string `conf:"metrics.addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Network parameters
// =============================================================================

// Protocol returns the protocol parameters a wallet assumes for the network
// before the node reports its own.
func (n NetworkType) Protocol() output.ProtocolParameters {
	switch n {
	case Testnet:
		return output.ProtocolParameters{
			NetworkName:   "testnet-1",
			Bech32HRP:     types.TestnetHRP,
			MinPoWScore:   1500,
			TokenSupply:   1_813_620_509_061_365,
			RentStructure: output.DefaultRentStructure,
		}
	case Devnet:
		return output.ProtocolParameters{
			NetworkName:   "devnet",
			Bech32HRP:     types.TestnetHRP,
			TokenSupply:   1_000_000_000_000_000,
			RentStructure: output.DefaultRentStructure,
		}
	default:
		return output.ProtocolParameters{
			NetworkName:   "iota-mainnet",
			Bech32HRP:     types.MainnetHRP,
			TokenSupply:   4_600_000_000_000_000,
			RentStructure: output.DefaultRentStructure,
		}
	}
}

// DefaultCoinType returns the BIP-44 coin type used on the network.
func (n NetworkType) DefaultCoinType() uint32 {
	if n == Mainnet {
		return signer.CoinTypeIOTA
	}
	return signer.CoinTypeShimmer
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.tanglewallet
//	macOS:   ~/Library/Application Support/TangleWallet
//	Windows: %APPDATA%\TangleWallet
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tanglewallet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "TangleWallet")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "TangleWallet")
		}
		return filepath.Join(home, "AppData", "Roaming", "TangleWallet")
	default:
		return filepath.Join(home, ".tanglewallet")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// WalletDir returns the wallet database directory.
func (c *Config) WalletDir() string {
	return filepath.Join(c.NetworkDataDir(), "wallet")
}

// SecretStorePath returns the encrypted seed file path.
func (c *Config) SecretStorePath() string {
	if c.Wallet.SecretStore != "" {
		return c.Wallet.SecretStore
	}
	return filepath.Join(c.NetworkDataDir(), "secretstore.json")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "tanglewallet.conf")
}
