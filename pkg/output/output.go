// Package output defines the ledger output variants and the rules for unlocking,
// storage deposit and native tokens that apply to them.
package output

import (
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/holiman/uint256"
)

// Kind identifies an output variant.
type Kind uint8

// Output kinds.
const (
	KindTreasury Kind = 2
	KindBasic    Kind = 3
	KindAlias    Kind = 4
	KindFoundry  Kind = 5
	KindNft      Kind = 6
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTreasury:
		return "Treasury"
	case KindBasic:
		return "Basic"
	case KindAlias:
		return "Alias"
	case KindFoundry:
		return "Foundry"
	case KindNft:
		return "Nft"
	default:
		return "Unknown"
	}
}

// Output is implemented by *BasicOutput, *AliasOutput, *FoundryOutput, *NftOutput
// and *TreasuryOutput only.
type Output interface {
	Kind() Kind
	// Deposit is the base coin amount held by the output.
	Deposit() uint64
	NativeTokenList() NativeTokens
	// Conditions returns the unlock conditions. Treasury outputs return an empty set.
	Conditions() *UnlockConditions
	FeatureSet() Features
	Clone() Output

	sealed()
}

// BasicOutput holds base coins and native tokens under simple unlock conditions.
type BasicOutput struct {
	Amount           uint64           `json:"amount"`
	NativeTokens     NativeTokens     `json:"nativeTokens,omitempty"`
	UnlockConditions UnlockConditions `json:"unlockConditions"`
	Features         Features         `json:"features"`
}

// AliasOutput is the state of an alias chain.
type AliasOutput struct {
	Amount            uint64           `json:"amount"`
	NativeTokens      NativeTokens     `json:"nativeTokens,omitempty"`
	AliasID           types.AliasID    `json:"aliasId"`
	StateIndex        uint32           `json:"stateIndex"`
	StateMetadata     []byte           `json:"stateMetadata,omitempty"`
	FoundryCounter    uint32           `json:"foundryCounter"`
	UnlockConditions  UnlockConditions `json:"unlockConditions"`
	Features          Features         `json:"features"`
	ImmutableFeatures Features         `json:"immutableFeatures"`
}

// SimpleTokenScheme tracks the supply of a foundry's native token.
type SimpleTokenScheme struct {
	MintedTokens  *uint256.Int `json:"mintedTokens"`
	MeltedTokens  *uint256.Int `json:"meltedTokens"`
	MaximumSupply *uint256.Int `json:"maximumSupply"`
}

// Circulating returns minted minus melted tokens.
func (s SimpleTokenScheme) Circulating() *uint256.Int {
	return new(uint256.Int).Sub(orZero(s.MintedTokens), orZero(s.MeltedTokens))
}

func (s SimpleTokenScheme) clone() SimpleTokenScheme {
	return SimpleTokenScheme{
		MintedTokens:  orZero(s.MintedTokens).Clone(),
		MeltedTokens:  orZero(s.MeltedTokens).Clone(),
		MaximumSupply: orZero(s.MaximumSupply).Clone(),
	}
}

// FoundryOutput controls the supply of one native token. It is owned by an alias.
type FoundryOutput struct {
	Amount            uint64            `json:"amount"`
	NativeTokens      NativeTokens      `json:"nativeTokens,omitempty"`
	SerialNumber      uint32            `json:"serialNumber"`
	TokenScheme       SimpleTokenScheme `json:"tokenScheme"`
	UnlockConditions  UnlockConditions  `json:"unlockConditions"`
	Features          Features          `json:"features"`
	ImmutableFeatures Features          `json:"immutableFeatures"`
}

// NftOutput is the state of an NFT chain.
type NftOutput struct {
	Amount            uint64           `json:"amount"`
	NativeTokens      NativeTokens     `json:"nativeTokens,omitempty"`
	NftID             types.NftID      `json:"nftId"`
	UnlockConditions  UnlockConditions `json:"unlockConditions"`
	Features          Features         `json:"features"`
	ImmutableFeatures Features         `json:"immutableFeatures"`
}

// TreasuryOutput holds the protocol treasury. Wallets never spend it.
type TreasuryOutput struct {
	Amount uint64 `json:"amount"`
}

func (*BasicOutput) Kind() Kind    { return KindBasic }
func (*AliasOutput) Kind() Kind    { return KindAlias }
func (*FoundryOutput) Kind() Kind  { return KindFoundry }
func (*NftOutput) Kind() Kind      { return KindNft }
func (*TreasuryOutput) Kind() Kind { return KindTreasury }

func (o *BasicOutput) Deposit() uint64    { return o.Amount }
func (o *AliasOutput) Deposit() uint64    { return o.Amount }
func (o *FoundryOutput) Deposit() uint64  { return o.Amount }
func (o *NftOutput) Deposit() uint64      { return o.Amount }
func (o *TreasuryOutput) Deposit() uint64 { return o.Amount }

func (o *BasicOutput) NativeTokenList() NativeTokens   { return o.NativeTokens }
func (o *AliasOutput) NativeTokenList() NativeTokens   { return o.NativeTokens }
func (o *FoundryOutput) NativeTokenList() NativeTokens { return o.NativeTokens }
func (o *NftOutput) NativeTokenList() NativeTokens     { return o.NativeTokens }
func (*TreasuryOutput) NativeTokenList() NativeTokens  { return nil }

func (o *BasicOutput) Conditions() *UnlockConditions   { return &o.UnlockConditions }
func (o *AliasOutput) Conditions() *UnlockConditions   { return &o.UnlockConditions }
func (o *FoundryOutput) Conditions() *UnlockConditions { return &o.UnlockConditions }
func (o *NftOutput) Conditions() *UnlockConditions     { return &o.UnlockConditions }
func (*TreasuryOutput) Conditions() *UnlockConditions  { return &UnlockConditions{} }

func (o *BasicOutput) FeatureSet() Features   { return o.Features }
func (o *AliasOutput) FeatureSet() Features   { return o.Features }
func (o *FoundryOutput) FeatureSet() Features { return o.Features }
func (o *NftOutput) FeatureSet() Features     { return o.Features }
func (*TreasuryOutput) FeatureSet() Features  { return Features{} }

func (*BasicOutput) sealed()    {}
func (*AliasOutput) sealed()    {}
func (*FoundryOutput) sealed()  {}
func (*NftOutput) sealed()      {}
func (*TreasuryOutput) sealed() {}

func (o *BasicOutput) Clone() Output {
	return &BasicOutput{
		Amount:           o.Amount,
		NativeTokens:     o.NativeTokens.Clone(),
		UnlockConditions: o.UnlockConditions.Clone(),
		Features:         o.Features.Clone(),
	}
}

func (o *AliasOutput) Clone() Output {
	return &AliasOutput{
		Amount:            o.Amount,
		NativeTokens:      o.NativeTokens.Clone(),
		AliasID:           o.AliasID,
		StateIndex:        o.StateIndex,
		StateMetadata:     cloneBytes(o.StateMetadata),
		FoundryCounter:    o.FoundryCounter,
		UnlockConditions:  o.UnlockConditions.Clone(),
		Features:          o.Features.Clone(),
		ImmutableFeatures: o.ImmutableFeatures.Clone(),
	}
}

func (o *FoundryOutput) Clone() Output {
	return &FoundryOutput{
		Amount:            o.Amount,
		NativeTokens:      o.NativeTokens.Clone(),
		SerialNumber:      o.SerialNumber,
		TokenScheme:       o.TokenScheme.clone(),
		UnlockConditions:  o.UnlockConditions.Clone(),
		Features:          o.Features.Clone(),
		ImmutableFeatures: o.ImmutableFeatures.Clone(),
	}
}

func (o *NftOutput) Clone() Output {
	return &NftOutput{
		Amount:            o.Amount,
		NativeTokens:      o.NativeTokens.Clone(),
		NftID:             o.NftID,
		UnlockConditions:  o.UnlockConditions.Clone(),
		Features:          o.Features.Clone(),
		ImmutableFeatures: o.ImmutableFeatures.Clone(),
	}
}

func (o *TreasuryOutput) Clone() Output {
	return &TreasuryOutput{Amount: o.Amount}
}

// FoundryID returns the ID of the foundry, derived from its controlling alias.
func (o *FoundryOutput) FoundryID() types.FoundryID {
	var alias types.AliasID
	if a := o.UnlockConditions.ImmutableAliasAddress; a != nil {
		alias = types.AliasID(a.ID)
	}
	return types.NewFoundryID(alias, o.SerialNumber, types.SimpleTokenScheme)
}

// WithAmount returns a copy of o holding amount base coins.
func WithAmount(o Output, amount uint64) Output {
	c := o.Clone()
	switch v := c.(type) {
	case *BasicOutput:
		v.Amount = amount
	case *AliasOutput:
		v.Amount = amount
	case *FoundryOutput:
		v.Amount = amount
	case *NftOutput:
		v.Amount = amount
	case *TreasuryOutput:
		v.Amount = amount
	}
	return c
}

// WithNativeTokens returns a copy of o carrying tokens. Treasury outputs cannot
// hold native tokens.
func WithNativeTokens(o Output, tokens NativeTokens) (Output, error) {
	c := o.Clone()
	switch v := c.(type) {
	case *BasicOutput:
		v.NativeTokens = tokens.Clone()
	case *AliasOutput:
		v.NativeTokens = tokens.Clone()
	case *FoundryOutput:
		v.NativeTokens = tokens.Clone()
	case *NftOutput:
		v.NativeTokens = tokens.Clone()
	default:
		return nil, ErrInvalidOutputKind
	}
	return c, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
