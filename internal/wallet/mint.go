package wallet

import (
	"context"
	"fmt"
	"sort"

	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/holiman/uint256"
)

// AliasOutputParams describe a new alias.
type AliasOutputParams struct {
	// Address becomes state controller and governor. Zero means the first
	// account address.
	Address           types.Address
	Metadata          []byte
	ImmutableMetadata []byte
	StateMetadata     []byte
}

// NativeTokenParams describe a new native token.
type NativeTokenParams struct {
	// AliasID is the alias that will control the foundry. Nil picks the
	// first alias the account controls.
	AliasID           *types.AliasID
	CirculatingSupply *uint256.Int
	MaximumSupply     *uint256.Int
	FoundryMetadata   []byte
}

// MintTokenTransaction is the result of MintNativeToken.
type MintTokenTransaction struct {
	TokenID     types.TokenID
	Transaction *Transaction
}

// CreateAliasOutput creates an alias controlled by p.Address.
func (a *Account) CreateAliasOutput(ctx context.Context, p AliasOutputParams, opts *TransactionOptions) (*Transaction, error) {
	params, err := a.cachedProtocol(ctx)
	if err != nil {
		return nil, err
	}
	addr := p.Address
	if addr.IsZero() {
		if addr, err = a.firstAddress(); err != nil {
			return nil, err
		}
	}
	state, governor := addr, addr
	alias := &output.AliasOutput{
		StateMetadata: p.StateMetadata,
		UnlockConditions: output.UnlockConditions{
			StateControllerAddress: &state,
			GovernorAddress:        &governor,
		},
		Features:          output.Features{Metadata: p.Metadata},
		ImmutableFeatures: output.Features{Metadata: p.ImmutableMetadata},
	}
	alias.Amount = params.RentStructure.MinStorageDeposit(alias)
	return a.SendOutputs(ctx, []output.Output{alias}, opts)
}

// controlledAlias returns the alias id, or the first alias by output id the
// account is state controller of.
func (a *Account) controlledAlias(id *types.AliasID) (*output.AliasOutput, types.OutputID, error) {
	if id != nil {
		return a.unspentAlias(*id)
	}
	var candidates []types.OutputID
	a.read(func(d *AccountDetails) {
		owned := d.ownedAddresses()
		for oid, od := range d.UnspentOutputs {
			al, ok := od.Output.(*output.AliasOutput)
			if !ok || d.LockedOutputs.Has(oid) {
				continue
			}
			if sc := al.UnlockConditions.StateControllerAddress; sc != nil && owned[*sc] {
				candidates = append(candidates, oid)
			}
		}
	})
	if len(candidates) == 0 {
		return nil, types.OutputID{}, ErrAliasNotFound
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Less(candidates[j]) })
	od, err := a.GetOutput(candidates[0])
	if err != nil {
		return nil, types.OutputID{}, err
	}
	return od.Output.(*output.AliasOutput), od.OutputID, nil
}

// MintNativeToken creates a foundry under an alias and mints
// p.CirculatingSupply tokens into the remainder. The alias moves to its next
// state with the foundry counter increased.
func (a *Account) MintNativeToken(ctx context.Context, p NativeTokenParams, opts *TransactionOptions) (*MintTokenTransaction, error) {
	if p.MaximumSupply == nil || p.MaximumSupply.IsZero() {
		return nil, fmt.Errorf("%w: zero maximum supply", ErrInvalidAmount)
	}
	circulating := p.CirculatingSupply
	if circulating == nil {
		circulating = new(uint256.Int)
	}
	if circulating.Gt(p.MaximumSupply) {
		return nil, fmt.Errorf("%w: circulating %s, maximum %s", ErrMaximumSupply, circulating.Dec(), p.MaximumSupply.Dec())
	}
	params, err := a.cachedProtocol(ctx)
	if err != nil {
		return nil, err
	}
	alias, oid, err := a.controlledAlias(p.AliasID)
	if err != nil {
		return nil, err
	}

	id := output.ResolvedAliasID(alias, oid)
	next := alias.Clone().(*output.AliasOutput)
	next.AliasID = id
	next.StateIndex++
	next.FoundryCounter++

	aliasAddr := id.ToAddress()
	foundry := &output.FoundryOutput{
		SerialNumber: next.FoundryCounter,
		TokenScheme: output.SimpleTokenScheme{
			MintedTokens:  circulating.Clone(),
			MeltedTokens:  new(uint256.Int),
			MaximumSupply: p.MaximumSupply.Clone(),
		},
		UnlockConditions:  output.UnlockConditions{ImmutableAliasAddress: &aliasAddr},
		ImmutableFeatures: output.Features{Metadata: p.FoundryMetadata},
	}
	foundry.Amount = params.RentStructure.MinStorageDeposit(foundry)
	tokenID := foundry.FoundryID()

	t, err := a.SendOutputs(ctx, []output.Output{next, foundry}, opts)
	if err != nil {
		return nil, err
	}
	a.log().Info().Stringer("token", tokenID).Str("supply", circulating.Dec()).Msg("Native token minted")
	return &MintTokenTransaction{TokenID: tokenID, Transaction: t}, nil
}

// IncreaseNativeTokenSupply mints amount more tokens of tokenID.
func (a *Account) IncreaseNativeTokenSupply(ctx context.Context, tokenID types.TokenID, amount *uint256.Int, opts *TransactionOptions) (*MintTokenTransaction, error) {
	if err := checkTokenAmount(amount); err != nil {
		return nil, err
	}
	foundry, _, err := a.unspentFoundry(tokenID)
	if err != nil {
		return nil, err
	}
	if _, _, err := a.unspentAlias(tokenID.AliasID()); err != nil {
		return nil, err
	}
	scheme := &foundry.TokenScheme
	after, overflow := new(uint256.Int).AddOverflow(scheme.Circulating(), amount)
	if overflow || after.Gt(scheme.MaximumSupply) {
		return nil, fmt.Errorf("%w: minting %s more, maximum %s", ErrMaximumSupply, amount.Dec(), scheme.MaximumSupply.Dec())
	}
	minted, overflow := new(uint256.Int).AddOverflow(scheme.MintedTokens, amount)
	if overflow {
		return nil, ErrNativeTokensOverflow
	}
	scheme.MintedTokens = minted

	t, err := a.SendOutputs(ctx, []output.Output{foundry}, opts)
	if err != nil {
		return nil, err
	}
	return &MintTokenTransaction{TokenID: tokenID, Transaction: t}, nil
}
