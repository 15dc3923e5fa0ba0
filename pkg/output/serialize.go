package output

import (
	"encoding/binary"

	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/holiman/uint256"
)

// Unlock condition and feature type tags used in the binary form.
const (
	condAddress byte = iota
	condStorageDepositReturn
	condTimelock
	condExpiration
	condStateController
	condGovernor
	condImmutableAlias
)

const (
	featSender byte = iota
	featIssuer
	featMetadata
	featTag
)

// Bytes returns the canonical binary form of o. It is hashed into transaction IDs
// and measured for the storage deposit.
//
// Format: kind(1) | amount(8) | tokens | kind fields | conditions | features [| immutable features]
func Bytes(o Output) []byte {
	buf := []byte{byte(o.Kind())}
	buf = binary.LittleEndian.AppendUint64(buf, o.Deposit())

	if o.Kind() == KindTreasury {
		return buf
	}
	buf = appendTokens(buf, o.NativeTokenList())

	var immutable *Features
	switch v := o.(type) {
	case *AliasOutput:
		buf = append(buf, v.AliasID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, v.StateIndex)
		buf = appendBytes(buf, v.StateMetadata)
		buf = binary.LittleEndian.AppendUint32(buf, v.FoundryCounter)
		immutable = &v.ImmutableFeatures
	case *FoundryOutput:
		buf = binary.LittleEndian.AppendUint32(buf, v.SerialNumber)
		buf = append(buf, types.SimpleTokenScheme)
		for _, n := range []*uint256.Int{
			v.TokenScheme.MintedTokens,
			v.TokenScheme.MeltedTokens,
			v.TokenScheme.MaximumSupply,
		} {
			b := orZero(n).Bytes32()
			buf = append(buf, b[:]...)
		}
		immutable = &v.ImmutableFeatures
	case *NftOutput:
		buf = append(buf, v.NftID[:]...)
		immutable = &v.ImmutableFeatures
	}

	buf = appendConditions(buf, o.Conditions())
	buf = appendFeatures(buf, o.FeatureSet())
	if immutable != nil {
		buf = appendFeatures(buf, *immutable)
	}
	return buf
}

func appendTokens(buf []byte, tokens NativeTokens) []byte {
	buf = append(buf, byte(len(tokens)))
	for _, t := range tokens {
		buf = append(buf, t.ID[:]...)
		amt := orZero(t.Amount).Bytes32()
		buf = append(buf, amt[:]...)
	}
	return buf
}

func appendConditions(buf []byte, u *UnlockConditions) []byte {
	buf = append(buf, byte(u.Len()))
	if u.Address != nil {
		buf = append(append(buf, condAddress), u.Address.Bytes()...)
	}
	if r := u.StorageDepositReturn; r != nil {
		buf = append(append(buf, condStorageDepositReturn), r.ReturnAddress.Bytes()...)
		buf = binary.LittleEndian.AppendUint64(buf, r.Amount)
	}
	if t := u.Timelock; t != nil {
		buf = binary.LittleEndian.AppendUint32(append(buf, condTimelock), t.UnixTime)
	}
	if e := u.Expiration; e != nil {
		buf = append(append(buf, condExpiration), e.ReturnAddress.Bytes()...)
		buf = binary.LittleEndian.AppendUint32(buf, e.UnixTime)
	}
	if u.StateControllerAddress != nil {
		buf = append(append(buf, condStateController), u.StateControllerAddress.Bytes()...)
	}
	if u.GovernorAddress != nil {
		buf = append(append(buf, condGovernor), u.GovernorAddress.Bytes()...)
	}
	if u.ImmutableAliasAddress != nil {
		buf = append(append(buf, condImmutableAlias), u.ImmutableAliasAddress.Bytes()...)
	}
	return buf
}

func appendFeatures(buf []byte, f Features) []byte {
	buf = append(buf, byte(f.Len()))
	if f.Sender != nil {
		buf = append(append(buf, featSender), f.Sender.Bytes()...)
	}
	if f.Issuer != nil {
		buf = append(append(buf, featIssuer), f.Issuer.Bytes()...)
	}
	if f.Metadata != nil {
		buf = appendBytes(append(buf, featMetadata), f.Metadata)
	}
	if f.Tag != nil {
		buf = appendBytes(append(buf, featTag), f.Tag)
	}
	return buf
}

func appendBytes(buf, data []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(data)))
	return append(buf, data...)
}
