package tx

import (
	"fmt"

	"github.com/Klingon-tech/tangle-wallet/pkg/crypto"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// Builder constructs transaction essences incrementally.
type Builder struct {
	essence *Essence
	inputs  []output.Output
}

// NewBuilder creates a builder for networkID.
func NewBuilder(networkID uint64) *Builder {
	return &Builder{essence: &Essence{NetworkID: networkID}}
}

// AddInput adds the output id consumes. Input order is preserved.
func (b *Builder) AddInput(id types.OutputID, consumed output.Output) *Builder {
	b.essence.Inputs = append(b.essence.Inputs, id)
	b.inputs = append(b.inputs, consumed)
	return b
}

// AddOutput appends an output.
func (b *Builder) AddOutput(o output.Output) *Builder {
	b.essence.Outputs = append(b.essence.Outputs, o)
	return b
}

// SetTaggedData attaches a tagged data payload.
func (b *Builder) SetTaggedData(tag, data []byte) *Builder {
	if tag == nil && data == nil {
		b.essence.Payload = nil
		return b
	}
	b.essence.Payload = &TaggedData{Tag: tag, Data: data}
	return b
}

// Build computes the inputs commitment and validates the essence.
func (b *Builder) Build() (*Essence, error) {
	b.essence.InputsCommitment = InputsCommitment(b.inputs)
	if err := b.essence.Validate(); err != nil {
		return nil, fmt.Errorf("build essence: %w", err)
	}
	return b.essence, nil
}

// SignWithKeys produces unlocks for targets using keys indexed by address. The
// first input of each address gets a signature; later ones reference it. Inputs
// owned by an alias or NFT in the same transaction reference that input.
func SignWithKeys(e *Essence, targets []UnlockTarget, keys map[types.Address]*crypto.PrivateKey) ([]Unlock, error) {
	msg := e.SigningHash()
	return BuildUnlocks(targets, func(addr types.Address) (Unlock, error) {
		key, ok := keys[addr]
		if !ok {
			return Unlock{}, fmt.Errorf("no key for address %s", addr)
		}
		sig, err := key.Sign(msg)
		if err != nil {
			return Unlock{}, err
		}
		return SignatureUnlock(key.PublicKey(), sig), nil
	})
}

// BuildUnlocks assembles the unlock list for targets, calling sign once per
// distinct public-key-hash address.
func BuildUnlocks(targets []UnlockTarget, sign func(types.Address) (Unlock, error)) ([]Unlock, error) {
	unlocks := make([]Unlock, len(targets))
	// firstUnlock maps an address to the index of the input that first unlocked it.
	firstUnlock := make(map[types.Address]int, len(targets))
	for i, t := range targets {
		if j, ok := firstUnlock[t.Required]; ok {
			switch t.Required.Kind {
			case types.AddressAlias:
				unlocks[i] = ReferenceUnlock(UnlockAlias, j)
			case types.AddressNft:
				unlocks[i] = ReferenceUnlock(UnlockNft, j)
			default:
				unlocks[i] = ReferenceUnlock(UnlockReference, j)
			}
		} else {
			if t.Required.Kind != types.AddressPubKeyHash {
				return nil, fmt.Errorf("input %d: %w: %s is not unlocked by an earlier input", i, ErrInvalidReference, t.Required)
			}
			u, err := sign(t.Required)
			if err != nil {
				return nil, fmt.Errorf("sign input %d: %w", i, err)
			}
			unlocks[i] = u
			firstUnlock[t.Required] = i
		}

		if chain, ok := output.ChainAddress(t.Output, t.OutputID); ok {
			if _, seen := firstUnlock[chain]; !seen {
				firstUnlock[chain] = i
			}
		}
	}
	return unlocks, nil
}

// OrderTargets sorts targets so that every alias or NFT input comes before the
// inputs it owns. Relative order is otherwise kept. Targets whose owner is not
// among the inputs stay at the end and fail later in BuildUnlocks.
func OrderTargets(targets []UnlockTarget) []UnlockTarget {
	ordered := make([]UnlockTarget, 0, len(targets))
	placed := make([]bool, len(targets))
	available := make(map[types.Address]bool)

	for progress := true; progress; {
		progress = false
		for i, t := range targets {
			if placed[i] {
				continue
			}
			if t.Required.Kind != types.AddressPubKeyHash && !available[t.Required] {
				continue
			}
			ordered = append(ordered, t)
			placed[i] = true
			progress = true
			if chain, ok := output.ChainAddress(t.Output, t.OutputID); ok {
				available[chain] = true
			}
		}
	}
	for i, t := range targets {
		if !placed[i] {
			ordered = append(ordered, t)
		}
	}
	return ordered
}
