package output

import (
	"github.com/Klingon-tech/tangle-wallet/pkg/crypto"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// AliasIDFromOutputID derives the ID a newly created alias receives.
func AliasIDFromOutputID(id types.OutputID) types.AliasID {
	return types.AliasID(crypto.Hash(id.Bytes()))
}

// NftIDFromOutputID derives the ID a newly minted NFT receives.
func NftIDFromOutputID(id types.OutputID) types.NftID {
	return types.NftID(crypto.Hash(id.Bytes()))
}

// ResolvedAliasID returns the alias ID of o created at id, resolving the zero ID
// of a freshly created alias.
func ResolvedAliasID(o *AliasOutput, id types.OutputID) types.AliasID {
	if o.AliasID.IsZero() {
		return AliasIDFromOutputID(id)
	}
	return o.AliasID
}

// ResolvedNftID returns the NFT ID of o created at id.
func ResolvedNftID(o *NftOutput, id types.OutputID) types.NftID {
	if o.NftID.IsZero() {
		return NftIDFromOutputID(id)
	}
	return o.NftID
}

// ChainAddress returns the address an alias or NFT output at id controls.
func ChainAddress(o Output, id types.OutputID) (types.Address, bool) {
	switch v := o.(type) {
	case *AliasOutput:
		return ResolvedAliasID(v, id).ToAddress(), true
	case *NftOutput:
		return ResolvedNftID(v, id).ToAddress(), true
	}
	return types.Address{}, false
}

// IsStateTransition reports whether consuming the alias input and producing
// outputs is a state transition. A same-ID alias output with the next state index
// means the state controller signs; anything else is a governance transition.
// Destroying an alias is a governance transition.
func IsStateTransition(input *AliasOutput, inputID types.OutputID, outputs []Output) bool {
	id := ResolvedAliasID(input, inputID)
	for _, o := range outputs {
		next, ok := o.(*AliasOutput)
		if !ok || next.AliasID != id {
			continue
		}
		return next.StateIndex == input.StateIndex+1
	}
	return false
}
