package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/tangle-wallet/config"
	klog "github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/internal/storage"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// openStorage opens the backend selected by wallet.storage.
func openStorage(cfg *config.Config) (storage.DB, error) {
	switch cfg.Wallet.Storage {
	case config.StorageMemory:
		klog.Storage.Warn().Msg("Using in-memory wallet storage, accounts are lost on exit")
		return storage.NewMemory(), nil
	case config.StorageBadger, "":
		dir := expandHome(cfg.WalletDir())
		db, err := storage.NewBadger(dir)
		if err != nil {
			return nil, fmt.Errorf("open database at %s: %w", dir, err)
		}
		klog.Storage.Info().Str("path", dir).Msg("Database opened")
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Wallet.Storage)
	}
}

func newNodeClient(cfg config.NodeConfig) *nodeclient.HTTPClient {
	opts := nodeclient.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.Timeout = cfg.Timeout
	}
	opts.RequestsPerSecond = cfg.RequestsPerSecond
	return nodeclient.NewWithOptions(cfg.URL, opts)
}

// OpenSecretStore unlocks the encrypted seed file configured in cfg.
func OpenSecretStore(cfg *config.Config, password []byte) (*signer.SecretStore, error) {
	store := signer.NewSecretStore(expandHome(cfg.SecretStorePath()))
	if !store.Exists() {
		return nil, fmt.Errorf("%w: %s (create one with tanglewallet-cli mnemonic store)", signer.ErrStoreNotFound, cfg.SecretStorePath())
	}
	if err := store.Unlock(password); err != nil {
		return nil, err
	}
	return store, nil
}
