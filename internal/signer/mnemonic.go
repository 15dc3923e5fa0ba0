package signer

import (
	"context"
	"fmt"
	"sync"

	"github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/pkg/tx"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/tyler-smith/go-bip39"
)

// MnemonicEntropyBits is the entropy size for 24-word mnemonics.
const MnemonicEntropyBits = 256

// SeedSize is the length of a derived seed in bytes (512 bits).
const SeedSize = 64

// GenerateMnemonic creates a new 24-word BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic is valid per BIP-39
// (correct word count, valid words, valid checksum).
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// SeedFromMnemonic derives a 512-bit seed from a mnemonic and optional passphrase
// using PBKDF2-SHA512 as specified in BIP-39.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !ValidateMnemonic(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	return seed, nil
}

// Mnemonic signs with keys derived from a seed held in memory.
type Mnemonic struct {
	master *HDKey

	mu       sync.Mutex
	accounts map[[2]uint32]*HDKey
}

// NewMnemonic creates a signer from a BIP-39 mnemonic.
func NewMnemonic(mnemonic, passphrase string) (*Mnemonic, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return NewFromSeed(seed)
}

// NewFromSeed creates a signer from a 64-byte seed.
func NewFromSeed(seed []byte) (*Mnemonic, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	return &Mnemonic{master: master, accounts: make(map[[2]uint32]*HDKey)}, nil
}

// Kind implements Signer.
func (m *Mnemonic) Kind() Kind { return KindMnemonic }

// accountKey caches the hardened part of the derivation, which dominates its cost.
func (m *Mnemonic) accountKey(coinType, account uint32) (*HDKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := [2]uint32{coinType, account}
	if key, ok := m.accounts[k]; ok {
		return key, nil
	}
	key, err := m.master.DeriveAccount(coinType, account)
	if err != nil {
		return nil, err
	}
	m.accounts[k] = key
	return key, nil
}

func (m *Mnemonic) deriveKey(c Chain) (*HDKey, error) {
	acct, err := m.accountKey(c.CoinType, c.Account)
	if err != nil {
		return nil, err
	}
	return acct.DerivePath(c.Change, c.Index)
}

// GenerateAddresses implements Signer.
func (m *Mnemonic) GenerateAddresses(ctx context.Context, coinType, account uint32, r Range, internal bool, _ GenerateOptions) ([]types.Address, error) {
	if r.End < r.Start {
		return nil, fmt.Errorf("%w: %d..%d", ErrInvalidRange, r.Start, r.End)
	}
	change := uint32(ChangeExternal)
	if internal {
		change = ChangeInternal
	}
	addrs := make([]types.Address, 0, r.Len())
	for i := r.Start; i < r.End; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, err := m.deriveKey(Chain{CoinType: coinType, Account: account, Change: change, Index: i})
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, key.Address())
	}
	return addrs, nil
}

// SignEssence implements Signer.
func (m *Mnemonic) SignEssence(ctx context.Context, e *tx.Essence, inputs []InputSigningData) ([]tx.Unlock, error) {
	return signWith(ctx, e, inputs, m.deriveKey)
}

// signWith derives the key of every signing input through derive and builds
// the unlock list.
func signWith(ctx context.Context, e *tx.Essence, inputs []InputSigningData, derive func(Chain) (*HDKey, error)) ([]tx.Unlock, error) {
	chains := make(map[types.Address]Chain, len(inputs))
	for _, in := range inputs {
		if in.Chain != nil {
			chains[in.Required] = *in.Chain
		}
	}

	msg := e.SigningHash()
	unlocks, err := tx.BuildUnlocks(Targets(inputs), func(addr types.Address) (tx.Unlock, error) {
		if err := ctx.Err(); err != nil {
			return tx.Unlock{}, err
		}
		chain, ok := chains[addr]
		if !ok {
			return tx.Unlock{}, fmt.Errorf("%w: %s", ErrMissingChain, addr)
		}
		hd, err := derive(chain)
		if err != nil {
			return tx.Unlock{}, err
		}
		if hd.Address() != addr {
			return tx.Unlock{}, fmt.Errorf("%w: %s", ErrChainMismatch, addr)
		}
		key, err := hd.PrivateKey()
		if err != nil {
			return tx.Unlock{}, err
		}
		defer key.Zero()
		sig, err := key.Sign(msg)
		if err != nil {
			return tx.Unlock{}, err
		}
		return tx.SignatureUnlock(key.PublicKey(), sig), nil
	})
	if err != nil {
		return nil, err
	}
	log.Signer.Debug().Int("inputs", len(inputs)).Msg("Essence signed")
	return unlocks, nil
}
