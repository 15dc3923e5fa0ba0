package wallet

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/tangle-wallet/internal/selection"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/holiman/uint256"
)

// withBurn returns a copy of opts that burns b in addition to what opts
// already burns.
func withBurn(opts *TransactionOptions, b selection.Burn) *TransactionOptions {
	var o TransactionOptions
	if opts != nil {
		o = *opts
	}
	merged := &selection.Burn{NativeTokens: output.TokenSum{}}
	if o.Burn != nil {
		merged.Aliases = append(merged.Aliases, o.Burn.Aliases...)
		merged.Nfts = append(merged.Nfts, o.Burn.Nfts...)
		merged.Foundries = append(merged.Foundries, o.Burn.Foundries...)
		for id, amt := range o.Burn.NativeTokens {
			merged.NativeTokens[id] = amt.Clone()
		}
	}
	merged.Aliases = append(merged.Aliases, b.Aliases...)
	merged.Nfts = append(merged.Nfts, b.Nfts...)
	merged.Foundries = append(merged.Foundries, b.Foundries...)
	for id, amt := range b.NativeTokens {
		// Amounts were checked by the caller.
		_ = merged.NativeTokens.Add(id, amt)
	}
	o.Burn = merged
	return &o
}

func checkTokenAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: zero token amount", ErrInvalidAmount)
	}
	return nil
}

// MeltNativeToken melts amount tokens of tokenID through its foundry. The
// account must control the foundry's alias. Melting keeps the supply
// accounting of the foundry, so it can be destroyed once all tokens are
// melted.
func (a *Account) MeltNativeToken(ctx context.Context, tokenID types.TokenID, amount *uint256.Int, opts *TransactionOptions) (*Transaction, error) {
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
	if foundry.TokenScheme.Circulating().Lt(amount) {
		return nil, fmt.Errorf("%w: melting %s of %s circulating", ErrInsufficientNativeTokens,
			amount.Dec(), foundry.TokenScheme.Circulating().Dec())
	}
	foundry.TokenScheme.MeltedTokens = new(uint256.Int).Add(foundry.TokenScheme.MeltedTokens, amount)
	return a.SendOutputs(ctx, []output.Output{foundry}, opts)
}

// BurnNativeToken destroys amount tokens of tokenID without touching the
// foundry. Tokens are taken from any owned output.
func (a *Account) BurnNativeToken(ctx context.Context, tokenID types.TokenID, amount *uint256.Int, opts *TransactionOptions) (*Transaction, error) {
	if err := checkTokenAmount(amount); err != nil {
		return nil, err
	}
	tokens := output.TokenSum{}
	if err := tokens.Add(tokenID, amount); err != nil {
		return nil, err
	}
	return a.SendOutputs(ctx, nil, withBurn(opts, selection.Burn{NativeTokens: tokens}))
}

// BurnNft destroys an owned NFT. Its deposit and tokens go to the remainder.
func (a *Account) BurnNft(ctx context.Context, id types.NftID, opts *TransactionOptions) (*Transaction, error) {
	_, oid, err := a.unspentNft(id)
	if err != nil {
		return nil, err
	}
	o := withBurn(opts, selection.Burn{Nfts: []types.NftID{id}})
	o.MandatoryInputs = append([]types.OutputID{oid}, o.MandatoryInputs...)
	return a.SendOutputs(ctx, nil, o)
}

// DestroyAlias destroys an alias the account governs. Its deposit and
// tokens go to the remainder.
func (a *Account) DestroyAlias(ctx context.Context, id types.AliasID, opts *TransactionOptions) (*Transaction, error) {
	_, oid, err := a.unspentAlias(id)
	if err != nil {
		return nil, err
	}
	o := withBurn(opts, selection.Burn{Aliases: []types.AliasID{id}})
	o.MandatoryInputs = append([]types.OutputID{oid}, o.MandatoryInputs...)
	return a.SendOutputs(ctx, nil, o)
}

// DestroyFoundry destroys a foundry whose tokens were all melted.
func (a *Account) DestroyFoundry(ctx context.Context, id types.FoundryID, opts *TransactionOptions) (*Transaction, error) {
	foundry, oid, err := a.unspentFoundry(id)
	if err != nil {
		return nil, err
	}
	if c := foundry.TokenScheme.Circulating(); !c.IsZero() {
		return nil, fmt.Errorf("%w: %s tokens of %s", ErrFoundryHasSupply, c.Dec(), id)
	}
	if _, _, err := a.unspentAlias(id.AliasID()); err != nil {
		return nil, err
	}
	o := withBurn(opts, selection.Burn{Foundries: []types.FoundryID{id}})
	o.MandatoryInputs = append([]types.OutputID{oid}, o.MandatoryInputs...)
	return a.SendOutputs(ctx, nil, o)
}
