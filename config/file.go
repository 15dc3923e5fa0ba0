package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(strings.ToLower(value))
	case "datadir":
		cfg.DataDir = value

	// Node
	case "node.url", "node":
		cfg.Node.URL = value
	case "node.timeout":
		cfg.Node.Timeout, err = time.ParseDuration(value)
	case "node.rps":
		cfg.Node.RequestsPerSecond, err = strconv.ParseFloat(value, 64)
	case "node.localpow":
		cfg.Node.LocalPoW = parseBool(value)
	case "node.powthreads":
		cfg.Node.PoWThreads, err = strconv.Atoi(value)

	// Wallet
	case "wallet.cointype":
		var n uint64
		n, err = strconv.ParseUint(value, 10, 32)
		cfg.Wallet.CoinType = uint32(n)
	case "wallet.storage":
		cfg.Wallet.Storage = strings.ToLower(value)
	case "wallet.secretstore":
		cfg.Wallet.SecretStore = value

	// Sync
	case "sync.interval":
		cfg.Sync.Interval, err = time.ParseDuration(value)
	case "sync.gaplimit":
		var n uint64
		n, err = strconv.ParseUint(value, 10, 32)
		cfg.Sync.GapLimit = uint32(n)
	case "sync.autoconsolidate":
		cfg.Sync.AutoConsolidate = parseBool(value)
	case "sync.consolidationthreshold":
		cfg.Sync.ConsolidationThreshold, err = strconv.Atoi(value)

	// RPC
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.port":
		cfg.RPC.Port, err = strconv.Atoi(value)
	case "rpc.allowed":
		cfg.RPC.AllowedIPs = parseStringList(value)
	case "rpc.cors":
		cfg.RPC.CORSOrigins = parseStringList(value)

	// Metrics
	case "metrics.addr":
		cfg.Metrics.Addr = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return err
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	d := Default(network)
	content := `# Tangle Wallet Configuration

# Network: mainnet, testnet or devnet
network = ` + string(network) + `

# Data directory (default: ~/.tanglewallet)
# datadir = ~/.tanglewallet

# ============================================================================
# Node API
# ============================================================================

node.url = ` + d.Node.URL + `
node.timeout = ` + d.Node.Timeout.String() + `
# Requests per second sent to the node (0 = unlimited)
node.rps = ` + strconv.FormatFloat(d.Node.RequestsPerSecond, 'f', -1, 64) + `
# Do proof of work locally instead of on the node
node.localpow = ` + strconv.FormatBool(d.Node.LocalPoW) + `
# node.powthreads = 1

# ============================================================================
# Wallet
# ============================================================================

wallet.cointype = ` + strconv.FormatUint(uint64(d.Wallet.CoinType), 10) + `
# badger or memory
wallet.storage = badger
# wallet.secretstore = ~/.tanglewallet/` + string(network) + `/secretstore.json

# ============================================================================
# Syncing
# ============================================================================

sync.interval = ` + d.Sync.Interval.String() + `
sync.gaplimit = ` + strconv.FormatUint(uint64(d.Sync.GapLimit), 10) + `
sync.autoconsolidate = false
sync.consolidationthreshold = ` + strconv.Itoa(d.Sync.ConsolidationThreshold) + `

# ============================================================================
# Node API server (devnet binary only)
# ============================================================================

rpc.addr = 127.0.0.1
rpc.port = ` + strconv.Itoa(d.RPC.Port) + `
rpc.allowed = 127.0.0.1
# rpc.cors = http://localhost:3000

# ============================================================================
# Metrics
# ============================================================================

# Prometheus endpoint, e.g. 127.0.0.1:9311 (empty = disabled)
# metrics.addr =

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
