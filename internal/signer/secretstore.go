package signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/pkg/tx"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// Secret store errors.
var (
	ErrStoreExists   = errors.New("secret store already exists")
	ErrStoreNotFound = errors.New("secret store not found")
)

const secretStoreVersion = 1

// secretStoreFile is the on-disk JSON format of a secret store.
type secretStoreFile struct {
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	SealedSeed []byte    `json:"sealed_seed"`
}

// SecretStore keeps the seed encrypted in a file and signs only while unlocked.
type SecretStore struct {
	path string

	mu    sync.RWMutex
	inner *Mnemonic
}

// NewSecretStore returns a locked signer backed by the file at path.
func NewSecretStore(path string) *SecretStore {
	return &SecretStore{path: path}
}

// Exists reports whether the store file is present.
func (s *SecretStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// StoreMnemonic seals the seed of mnemonic into a new store file and unlocks the store.
func (s *SecretStore) StoreMnemonic(mnemonic, passphrase string, password []byte, p KDFParams) error {
	if s.Exists() {
		return fmt.Errorf("%w: %s", ErrStoreExists, s.path)
	}
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return err
	}
	defer wipe(seed)
	if err := s.write(seed, password, p); err != nil {
		return err
	}
	return s.unlockSeed(seed)
}

// Unlock decrypts the seed with password.
func (s *SecretStore) Unlock(password []byte) error {
	f, err := s.read()
	if err != nil {
		return err
	}
	seed, err := Open(f.SealedSeed, password)
	if err != nil {
		return fmt.Errorf("unlock secret store: %w", err)
	}
	defer wipe(seed)
	return s.unlockSeed(seed)
}

func (s *SecretStore) unlockSeed(seed []byte) error {
	inner, err := NewFromSeed(seed)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.inner = inner
	s.mu.Unlock()
	log.Signer.Info().Str("path", s.path).Msg("Secret store unlocked")
	return nil
}

// Lock drops the decrypted keys.
func (s *SecretStore) Lock() {
	s.mu.Lock()
	s.inner = nil
	s.mu.Unlock()
}

// Locked reports whether the store is locked.
func (s *SecretStore) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner == nil
}

// ChangePassword re-seals the seed under a new password.
func (s *SecretStore) ChangePassword(oldPassword, newPassword []byte, p KDFParams) error {
	f, err := s.read()
	if err != nil {
		return err
	}
	seed, err := Open(f.SealedSeed, oldPassword)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	defer wipe(seed)
	return s.write(seed, newPassword, p)
}

func (s *SecretStore) unlocked() (*Mnemonic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.inner == nil {
		return nil, ErrLocked
	}
	return s.inner, nil
}

// Kind implements Signer.
func (s *SecretStore) Kind() Kind { return KindSecretStore }

// GenerateAddresses implements Signer.
func (s *SecretStore) GenerateAddresses(ctx context.Context, coinType, account uint32, r Range, internal bool, opts GenerateOptions) ([]types.Address, error) {
	m, err := s.unlocked()
	if err != nil {
		return nil, err
	}
	return m.GenerateAddresses(ctx, coinType, account, r, internal, opts)
}

// SignEssence implements Signer.
func (s *SecretStore) SignEssence(ctx context.Context, e *tx.Essence, inputs []InputSigningData) ([]tx.Unlock, error) {
	m, err := s.unlocked()
	if err != nil {
		return nil, err
	}
	return m.SignEssence(ctx, e, inputs)
}

func (s *SecretStore) write(seed, password []byte, p KDFParams) error {
	sealed, err := Seal(seed, password, p)
	if err != nil {
		return fmt.Errorf("seal seed: %w", err)
	}
	data, err := json.MarshalIndent(secretStoreFile{
		Version:    secretStoreVersion,
		CreatedAt:  time.Now().UTC(),
		SealedSeed: sealed,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal secret store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create secret store dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write secret store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *SecretStore) read() (*secretStoreFile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read secret store: %w", err)
	}
	var f secretStoreFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse secret store: %w", err)
	}
	if f.Version != secretStoreVersion {
		return nil, fmt.Errorf("unsupported secret store version: %d", f.Version)
	}
	return &f, nil
}
