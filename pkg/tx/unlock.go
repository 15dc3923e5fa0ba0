package tx

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/tangle-wallet/pkg/crypto"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// Unlock verification errors.
var (
	ErrInvalidSig        = errors.New("invalid signature")
	ErrMissingPubKey     = errors.New("unlock missing public key")
	ErrAddressMismatch   = errors.New("unlock does not match required address")
	ErrInvalidReference  = errors.New("invalid unlock reference")
	ErrUnknownUnlockKind = errors.New("unknown unlock kind")
)

// UnlockTarget is an input together with the address that has to unlock it in
// this transaction.
type UnlockTarget struct {
	OutputID types.OutputID
	Output   output.Output
	Required types.Address
}

// VerifyUnlocks checks that unlocks[i] satisfies targets[i] for every input.
//
// A signature unlock must verify over the essence signing hash and its key must
// hash to a required public-key-hash address. Reference unlocks must point at an
// earlier signature unlock for the same address. Alias and NFT unlocks must point
// at an earlier input that is the alias or NFT owning the required address.
func VerifyUnlocks(e *Essence, unlocks []Unlock, targets []UnlockTarget) error {
	if len(unlocks) != len(targets) {
		return fmt.Errorf("%w: %d unlocks, %d inputs", ErrUnlockCount, len(unlocks), len(targets))
	}
	msg := e.SigningHash()

	// unlocked[j] is the address input j proved control of.
	unlocked := make([]types.Address, len(targets))
	for i, u := range unlocks {
		want := targets[i].Required
		switch u.Kind {
		case UnlockSignature:
			if len(u.PublicKey) == 0 {
				return fmt.Errorf("input %d: %w", i, ErrMissingPubKey)
			}
			if err := verifyPubKeyHash(u.PublicKey, want); err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			if !crypto.VerifySignature(msg, u.Signature, u.PublicKey) {
				return fmt.Errorf("input %d: %w", i, ErrInvalidSig)
			}
			unlocked[i] = want

		case UnlockReference:
			ref := int(u.Reference)
			if ref >= i || unlocks[ref].Kind != UnlockSignature {
				return fmt.Errorf("input %d: %w: reference %d", i, ErrInvalidReference, ref)
			}
			if unlocked[ref] != want {
				return fmt.Errorf("input %d: %w: reference unlocks %s, need %s", i, ErrAddressMismatch, unlocked[ref], want)
			}
			unlocked[i] = want

		case UnlockAlias, UnlockNft:
			ref := int(u.Reference)
			if ref >= i {
				return fmt.Errorf("input %d: %w: reference %d", i, ErrInvalidReference, ref)
			}
			chain, ok := output.ChainAddress(targets[ref].Output, targets[ref].OutputID)
			wantKind := types.AddressAlias
			if u.Kind == UnlockNft {
				wantKind = types.AddressNft
			}
			if !ok || chain.Kind != wantKind || chain != want {
				return fmt.Errorf("input %d: %w: input %d does not own %s", i, ErrAddressMismatch, ref, want)
			}
			unlocked[i] = want

		default:
			return fmt.Errorf("input %d: %w %d", i, ErrUnknownUnlockKind, u.Kind)
		}
	}
	return nil
}

// verifyPubKeyHash checks that a public key hashes to the required address.
func verifyPubKeyHash(pubKey []byte, required types.Address) error {
	if required.Kind != types.AddressPubKeyHash {
		return fmt.Errorf("%w: %s cannot be unlocked by a signature", ErrAddressMismatch, required)
	}
	derived := crypto.AddressFromPubKey(pubKey)
	if derived != required {
		return fmt.Errorf("%w: expected %s, got %s", ErrAddressMismatch, required, derived)
	}
	return nil
}
