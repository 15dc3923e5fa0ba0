// Package signer derives wallet addresses and signs transaction essences.
//
// A Signer is chosen per account manager. Mnemonic keeps a BIP-39 seed in
// memory, SecretStore keeps it encrypted on disk until unlocked, and Hardware
// wraps a device that confirms addresses one by one and buffers a limited
// number of inputs.
package signer

import (
	"context"
	"errors"

	"github.com/Klingon-tech/tangle-wallet/pkg/tx"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// Signer errors.
var (
	ErrLocked         = errors.New("signer is locked")
	ErrMissingChain   = errors.New("input has no derivation chain")
	ErrChainMismatch  = errors.New("derived key does not control input address")
	ErrInvalidRange   = errors.New("invalid address range")
	ErrTooManyInputs  = errors.New("too many inputs for signer")
	ErrUserRejected   = errors.New("user rejected the request on the device")
	ErrInvalidSeed    = errors.New("invalid seed")
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
)

// Kind identifies a signer back-end.
type Kind uint8

// Signer kinds.
const (
	KindMnemonic Kind = iota
	KindSecretStore
	KindHardware
)

// String returns the signer kind name.
func (k Kind) String() string {
	switch k {
	case KindMnemonic:
		return "Mnemonic"
	case KindSecretStore:
		return "SecretStore"
	case KindHardware:
		return "Hardware"
	default:
		return "Unknown"
	}
}

// Range is the half open key index range [Start, End).
type Range struct {
	Start uint32
	End   uint32
}

// Len returns the number of indices in the range.
func (r Range) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return int(r.End - r.Start)
}

// GenerateOptions tune address generation.
type GenerateOptions struct {
	// Display asks a hardware signer to show each address for confirmation.
	Display bool
}

// Chain is the BIP-44 path m/44'/CoinType'/Account'/Change/Index of a key.
type Chain struct {
	CoinType uint32 `json:"coinType"`
	Account  uint32 `json:"account"`
	Change   uint32 `json:"change"`
	Index    uint32 `json:"addressIndex"`
}

// InputSigningData is what a signer needs to unlock one input.
type InputSigningData struct {
	tx.UnlockTarget
	// Chain is the derivation path of Required. Nil for inputs unlocked by an
	// alias or NFT input of the same transaction.
	Chain *Chain
}

// Signer is the signing capability used by the wallet.
type Signer interface {
	Kind() Kind
	// GenerateAddresses derives the public key hash addresses of keys in r on
	// the internal or public chain of account.
	GenerateAddresses(ctx context.Context, coinType, account uint32, r Range, internal bool, opts GenerateOptions) ([]types.Address, error)
	// SignEssence returns one unlock per input, in input order.
	SignEssence(ctx context.Context, e *tx.Essence, inputs []InputSigningData) ([]tx.Unlock, error)
}

// InputLimiter is implemented by signers that can only sign a limited number
// of inputs per transaction.
type InputLimiter interface {
	MaxInputs() int
}

// MaxInputs returns the input cap of s, or fallback when s has none.
func MaxInputs(s Signer, fallback int) int {
	if l, ok := s.(InputLimiter); ok && l.MaxInputs() > 0 && l.MaxInputs() < fallback {
		return l.MaxInputs()
	}
	return fallback
}

// Targets extracts the unlock targets of inputs.
func Targets(inputs []InputSigningData) []tx.UnlockTarget {
	targets := make([]tx.UnlockTarget, len(inputs))
	for i, in := range inputs {
		targets[i] = in.UnlockTarget
	}
	return targets
}
