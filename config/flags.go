package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
)

// Flag names shared by the binaries.
const (
	FlagNetwork    = "network"
	FlagDataDir    = "datadir"
	FlagConfig     = "config"
	FlagNodeURL    = "node"
	FlagNodeRPS    = "node-rps"
	FlagLocalPoW   = "local-pow"
	FlagPoWThreads = "pow-threads"
	FlagCoinType   = "coin-type"
	FlagStorage    = "storage"
	FlagSecretFile = "secret-store"
	FlagSyncEvery  = "sync-interval"
	FlagGapLimit   = "gap-limit"
	FlagAutoCons   = "auto-consolidate"
	FlagRPCAddr    = "rpc-addr"
	FlagRPCPort    = "rpc-port"
	FlagRPCAllowed = "rpc-allowed"
	FlagRPCCORS    = "rpc-cors"
	FlagMetrics    = "metrics-addr"
	FlagLogLevel   = "log-level"
	FlagLogFile    = "log-file"
	FlagLogJSON    = "log-json"
)

// Flags returns the command-line flags that override config file values.
func Flags() []cli.Flag {
	return []cli.Flag{
		// Core
		&cli.StringFlag{Name: FlagNetwork, Usage: "Network type: mainnet, testnet or devnet", Value: string(Mainnet), EnvVars: []string{"TANGLEWALLET_NETWORK"}},
		&cli.StringFlag{Name: FlagDataDir, Usage: "Data directory (default: ~/.tanglewallet)", EnvVars: []string{"TANGLEWALLET_DATADIR"}},
		&cli.StringFlag{Name: FlagConfig, Aliases: []string{"c"}, Usage: "Config file path (default: <datadir>/tanglewallet.conf)"},

		// Node
		&cli.StringFlag{Name: FlagNodeURL, Usage: "Node API URL", EnvVars: []string{"TANGLEWALLET_NODE"}},
		&cli.Float64Flag{Name: FlagNodeRPS, Usage: "Requests per second sent to the node (0 = unlimited)"},
		&cli.BoolFlag{Name: FlagLocalPoW, Usage: "Do proof of work locally"},
		&cli.IntFlag{Name: FlagPoWThreads, Usage: "Local proof of work threads"},

		// Wallet
		&cli.UintFlag{Name: FlagCoinType, Usage: "BIP-44 coin type"},
		&cli.StringFlag{Name: FlagStorage, Usage: "Wallet storage: badger or memory"},
		&cli.StringFlag{Name: FlagSecretFile, Usage: "Encrypted seed file path"},

		// Sync
		&cli.DurationFlag{Name: FlagSyncEvery, Usage: "Background sync interval (0 = disabled)"},
		&cli.UintFlag{Name: FlagGapLimit, Usage: "Address gap limit used by discovery"},
		&cli.BoolFlag{Name: FlagAutoCons, Usage: "Consolidate outputs automatically while syncing"},

		// RPC
		&cli.StringFlag{Name: FlagRPCAddr, Usage: "Node API server listen address"},
		&cli.IntFlag{Name: FlagRPCPort, Usage: "Node API server port"},
		&cli.StringFlag{Name: FlagRPCAllowed, Usage: "Allowed IPs for the node API server (comma-separated)"},
		&cli.StringFlag{Name: FlagRPCCORS, Usage: "Allowed CORS origins (comma-separated)"},

		// Metrics
		&cli.StringFlag{Name: FlagMetrics, Usage: "Prometheus listen address (empty = disabled)"},

		// Logging
		&cli.StringFlag{Name: FlagLogLevel, Usage: "Log level: debug, info, warn, error"},
		&cli.StringFlag{Name: FlagLogFile, Usage: "Log file path (default: stdout)"},
		&cli.BoolFlag{Name: FlagLogJSON, Usage: "Output logs as JSON"},
	}
}

// ApplyFlags applies explicitly set command-line flags to a Config struct.
func ApplyFlags(cfg *Config, c *cli.Context) {
	// Core
	if c.IsSet(FlagNetwork) {
		cfg.Network = NetworkType(strings.ToLower(c.String(FlagNetwork)))
	}
	if c.IsSet(FlagDataDir) {
		cfg.DataDir = c.String(FlagDataDir)
	}

	// Node
	if c.IsSet(FlagNodeURL) {
		cfg.Node.URL = c.String(FlagNodeURL)
	}
	if c.IsSet(FlagNodeRPS) {
		cfg.Node.RequestsPerSecond = c.Float64(FlagNodeRPS)
	}
	if c.IsSet(FlagLocalPoW) {
		cfg.Node.LocalPoW = c.Bool(FlagLocalPoW)
	}
	if c.IsSet(FlagPoWThreads) {
		cfg.Node.PoWThreads = c.Int(FlagPoWThreads)
	}

	// Wallet
	if c.IsSet(FlagCoinType) {
		cfg.Wallet.CoinType = uint32(c.Uint(FlagCoinType))
	}
	if c.IsSet(FlagStorage) {
		cfg.Wallet.Storage = strings.ToLower(c.String(FlagStorage))
	}
	if c.IsSet(FlagSecretFile) {
		cfg.Wallet.SecretStore = c.String(FlagSecretFile)
	}

	// Sync
	if c.IsSet(FlagSyncEvery) {
		cfg.Sync.Interval = c.Duration(FlagSyncEvery)
	}
	if c.IsSet(FlagGapLimit) {
		cfg.Sync.GapLimit = uint32(c.Uint(FlagGapLimit))
	}
	if c.IsSet(FlagAutoCons) {
		cfg.Sync.AutoConsolidate = c.Bool(FlagAutoCons)
	}

	// RPC
	if c.IsSet(FlagRPCAddr) {
		cfg.RPC.Addr = c.String(FlagRPCAddr)
	}
	if c.IsSet(FlagRPCPort) {
		cfg.RPC.Port = c.Int(FlagRPCPort)
	}
	if c.IsSet(FlagRPCAllowed) {
		cfg.RPC.AllowedIPs = parseStringList(c.String(FlagRPCAllowed))
	}
	if c.IsSet(FlagRPCCORS) {
		cfg.RPC.CORSOrigins = parseStringList(c.String(FlagRPCCORS))
	}

	// Metrics
	if c.IsSet(FlagMetrics) {
		cfg.Metrics.Addr = c.String(FlagMetrics)
	}

	// Logging
	if c.IsSet(FlagLogLevel) {
		cfg.Log.Level = c.String(FlagLogLevel)
	}
	if c.IsSet(FlagLogFile) {
		cfg.Log.File = c.String(FlagLogFile)
	}
	if c.IsSet(FlagLogJSON) {
		cfg.Log.JSON = c.Bool(FlagLogJSON)
	}
}

// Load loads configuration with the following precedence:
// 1. Default values for the selected network
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load(c *cli.Context) (*Config, error) {
	network := NetworkType(strings.ToLower(c.String(FlagNetwork)))
	if network == "" {
		network = Mainnet
	}
	cfg := Default(network)
	if c.IsSet(FlagDataDir) {
		cfg.DataDir = c.String(FlagDataDir)
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := c.String(FlagConfig)
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	// Flags have the highest precedence.
	ApplyFlags(cfg, c)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. It is idempotent.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDataDir(),
		cfg.WalletDir(),
		cfg.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
