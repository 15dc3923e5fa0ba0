package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestLoadFile_Missing(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "nope.conf"))
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestLoadFile_Parse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.conf")
	content := `# comment
network = testnet
node.url = "http://node:14265/rpc"
sync.gaplimit = 5

node.localpow = yes
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	values, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "testnet", values["network"])
	assert.Equal(t, "http://node:14265/rpc", values["node.url"])
	assert.Equal(t, "5", values["sync.gaplimit"])
	assert.Equal(t, "yes", values["node.localpow"])
}

func TestLoadFile_InvalidLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.conf")
	require.NoError(t, os.WriteFile(path, []byte("network testnet\n"), 0600))
	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "line 1")
}

func TestApplyFileConfig(t *testing.T) {
	cfg := DefaultMainnet()
	err := ApplyFileConfig(cfg, map[string]string{
		"node.timeout":                "3s",
		"node.rps":                    "12.5",
		"wallet.cointype":             "4219",
		"wallet.storage":              "MEMORY",
		"sync.interval":               "1m",
		"sync.autoconsolidate":        "on",
		"sync.consolidationthreshold": "40",
		"rpc.allowed":                 "127.0.0.1, 10.0.0.0/8",
		"metrics.addr":                "127.0.0.1:9311",
		"unknown.key":                 "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Node.Timeout)
	assert.Equal(t, 12.5, cfg.Node.RequestsPerSecond)
	assert.Equal(t, uint32(4219), cfg.Wallet.CoinType)
	assert.Equal(t, StorageMemory, cfg.Wallet.Storage)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.True(t, cfg.Sync.AutoConsolidate)
	assert.Equal(t, 40, cfg.Sync.ConsolidationThreshold)
	assert.Equal(t, []string{"127.0.0.1", "10.0.0.0/8"}, cfg.RPC.AllowedIPs)
	assert.Equal(t, "127.0.0.1:9311", cfg.Metrics.Addr)
}

func TestApplyFileConfig_BadValue(t *testing.T) {
	cfg := DefaultMainnet()
	err := ApplyFileConfig(cfg, map[string]string{"node.timeout": "soon"})
	assert.ErrorContains(t, err, "node.timeout")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad network", func(c *Config) { c.Network = "moon" }, false},
		{"bad url", func(c *Config) { c.Node.URL = "ftp://x" }, false},
		{"zero timeout", func(c *Config) { c.Node.Timeout = 0 }, false},
		{"bad storage", func(c *Config) { c.Wallet.Storage = "sqlite" }, false},
		{"empty storage", func(c *Config) { c.Wallet.Storage = "" }, true},
		{"bad port", func(c *Config) { c.RPC.Port = 70000 }, false},
		{"negative threshold", func(c *Config) { c.Sync.ConsolidationThreshold = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultDevnet()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
	assert.Error(t, Validate(nil))
}

func TestNetworkDefaults(t *testing.T) {
	assert.Equal(t, uint32(4218), Default(Mainnet).Wallet.CoinType)
	assert.Equal(t, uint32(4219), Default(Testnet).Wallet.CoinType)
	assert.Equal(t, types.TestnetHRP, Devnet.Protocol().Bech32HRP)
	assert.Equal(t, types.MainnetHRP, Mainnet.Protocol().Bech32HRP)
	assert.NotEqual(t, Mainnet.Protocol().NetworkID(), Testnet.Protocol().NetworkID())
}

func runWithFlags(t *testing.T, args ...string) *Config {
	t.Helper()
	var cfg *Config
	app := &cli.App{
		Name:  "test",
		Flags: Flags(),
		Action: func(c *cli.Context) error {
			var err error
			cfg, err = Load(c)
			return err
		},
	}
	require.NoError(t, app.Run(append([]string{"test"}, args...)))
	require.NotNil(t, cfg)
	return cfg
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()

	// First run writes the default config file.
	cfg := runWithFlags(t, "--network", "devnet", "--datadir", dir)
	assert.Equal(t, Devnet, cfg.Network)
	assert.FileExists(t, filepath.Join(dir, "tanglewallet.conf"))
	assert.DirExists(t, cfg.WalletDir())

	require.NoError(t, os.WriteFile(cfg.ConfigFile(), []byte("network = devnet\nsync.gaplimit = 7\nlog.level = warn\n"), 0600))

	cfg = runWithFlags(t, "--network", "devnet", "--datadir", dir, "--log-level", "debug", "--storage", "memory")
	assert.Equal(t, uint32(7), cfg.Sync.GapLimit, "file overrides defaults")
	assert.Equal(t, "debug", cfg.Log.Level, "flags override file")
	assert.Equal(t, StorageMemory, cfg.Wallet.Storage)
	assert.Equal(t, filepath.Join(dir, "devnet", "secretstore.json"), cfg.SecretStorePath())
}
