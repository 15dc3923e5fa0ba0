package signer

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/tangle-wallet/pkg/crypto"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// PurposeBIP44 is the hardened purpose level of every wallet path.
const PurposeBIP44 = bip32.FirstHardenedChild + 44

// Change levels of a wallet path.
const (
	ChangeExternal = 0 // receiving addresses
	ChangeInternal = 1 // remainder addresses
)

// Registered coin types.
const (
	CoinTypeIOTA    uint32 = 4218
	CoinTypeShimmer uint32 = 4219
)

var errPublicOnly = errors.New("key has no private part")

// String formats c as a derivation path.
func (c Chain) String() string {
	return fmt.Sprintf("m/44'/%d'/%d'/%d/%d", c.CoinType, c.Account, c.Change, c.Index)
}

// HDKey is one node of the BIP-32 tree. Wallet keys sit at depth five, under
// the hardened account node m/44'/coin'/account'.
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates the root node from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidSeed, SeedSize, len(seed))
	}
	root, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: root}, nil
}

// DerivePath walks down the tree along indices. Hardened levels carry
// bip32.FirstHardenedChild.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	node := k.key
	for _, idx := range indices {
		child, err := node.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		node = child
	}
	return &HDKey{key: node}, nil
}

// DeriveAccount returns the account node m/44'/coinType'/account'.
func (k *HDKey) DeriveAccount(coinType, account uint32) (*HDKey, error) {
	return k.DerivePath(PurposeBIP44, bip32.FirstHardenedChild+coinType, bip32.FirstHardenedChild+account)
}

// DeriveChain returns the key at c, counted from the root.
func (k *HDKey) DeriveChain(c Chain) (*HDKey, error) {
	return k.DerivePath(PurposeBIP44,
		bip32.FirstHardenedChild+c.CoinType,
		bip32.FirstHardenedChild+c.Account,
		c.Change, c.Index)
}

// PrivateKeyBytes returns the 32-byte secret, or nil for a public node.
func (k *HDKey) PrivateKeyBytes() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	// go-bip32 stores private keys with a leading zero byte.
	if raw := k.key.Key; len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return k.key.Key
}

// PublicKeyBytes returns the compressed public key.
func (k *HDKey) PublicKeyBytes() []byte {
	return k.key.PublicKey().Key
}

// IsPrivate reports whether the node can sign.
func (k *HDKey) IsPrivate() bool { return k.key.IsPrivate }

// PrivateKey returns the signing key of the node.
func (k *HDKey) PrivateKey() (*crypto.PrivateKey, error) {
	priv := k.PrivateKeyBytes()
	if priv == nil {
		return nil, errPublicOnly
	}
	return crypto.PrivateKeyFromBytes(priv)
}

// Address is the public key hash address that outputs to this key lock to.
func (k *HDKey) Address() types.Address {
	return crypto.AddressFromPubKey(k.PublicKeyBytes())
}
