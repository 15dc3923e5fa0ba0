package wallet

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/holiman/uint256"
)

// BaseCoinBalance is the base coin part of a Balance.
type BaseCoinBalance struct {
	Total     uint64 `json:"total"`
	Available uint64 `json:"available"`
}

// RequiredStorageDeposit is the deposit bound in counted outputs, per kind.
type RequiredStorageDeposit struct {
	Basic   uint64 `json:"basic"`
	Alias   uint64 `json:"alias"`
	Foundry uint64 `json:"foundry"`
	Nft     uint64 `json:"nft"`
}

// NativeTokenBalance is the balance of one native token.
type NativeTokenBalance struct {
	TokenID   types.TokenID `json:"tokenId"`
	Total     *uint256.Int  `json:"total"`
	Available *uint256.Int  `json:"available"`
}

// Balance summarizes the unspent outputs of an account.
type Balance struct {
	BaseCoin               BaseCoinBalance        `json:"baseCoin"`
	RequiredStorageDeposit RequiredStorageDeposit `json:"requiredStorageDeposit"`
	NativeTokens           []NativeTokenBalance   `json:"nativeTokens"`
	Aliases                []types.AliasID        `json:"aliases"`
	Foundries              []types.FoundryID      `json:"foundries"`
	Nfts                   []types.NftID          `json:"nfts"`
	// PotentiallyLockedOutputs are outputs with time conditions that are not
	// counted. The value tells whether the account can unlock them now.
	PotentiallyLockedOutputs map[types.OutputID]bool `json:"potentiallyLockedOutputs"`
}

func newBalance() *Balance {
	return &Balance{
		NativeTokens:             []NativeTokenBalance{},
		Aliases:                  []types.AliasID{},
		Foundries:                []types.FoundryID{},
		Nfts:                     []types.NftID{},
		PotentiallyLockedOutputs: make(map[types.OutputID]bool),
	}
}

// Balance computes the balance from local state.
func (a *Account) Balance(ctx context.Context) (*Balance, error) {
	params, err := a.cachedProtocol(ctx)
	if err != nil {
		return nil, err
	}
	var (
		b    *Balance
		berr error
	)
	now := a.now()
	a.read(func(d *AccountDetails) { b, berr = d.balance(params, now) })
	return b, berr
}

// balance classifies every unspent output of the active network at now.
// Outputs with nothing but an owner condition count directly. Outputs with
// time conditions count only while the account can unlock them now and will
// keep that ability; others are reported in PotentiallyLockedOutputs or left
// out when they go to another party.
func (d *AccountDetails) balance(params output.ProtocolParameters, now uint32) (*Balance, error) {
	b := newBalance()
	networkID := params.NetworkID()
	owned := d.ownedAddresses()
	isOwned := func(addr types.Address) bool { return owned[addr] }

	total := make(output.TokenSum)
	locked := make(output.TokenSum)
	var lockedAmount uint64

	ids := make([]types.OutputID, 0, len(d.UnspentOutputs))
	for id := range d.UnspentOutputs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	for _, id := range ids {
		od := d.UnspentOutputs[id]
		if od.NetworkID != networkID {
			continue
		}
		o := od.Output
		u := o.Conditions()
		amount := o.Deposit()

		if hasTimeConditions(u) {
			switch output.Classify(o, now, isOwned) {
			case output.ReachableForever:
			case output.ReachableNow:
				b.PotentiallyLockedOutputs[id] = true
				continue
			case output.ReachableLater:
				b.PotentiallyLockedOutputs[id] = false
				continue
			default:
				continue
			}
			if sdr := u.StorageDepositReturn; sdr != nil && !u.ExpiredAt(now) && !owned[sdr.ReturnAddress] {
				amount -= min(amount, sdr.Amount)
			}
		}

		b.BaseCoin.Total += amount
		if err := total.AddAll(o.NativeTokenList()); err != nil {
			return nil, fmt.Errorf("output %s: %w", id, err)
		}
		if d.LockedOutputs.Has(id) {
			lockedAmount += amount
			if err := locked.AddAll(o.NativeTokenList()); err != nil {
				return nil, fmt.Errorf("output %s: %w", id, err)
			}
		}

		deposit := params.RentStructure.MinStorageDeposit(o)
		switch v := o.(type) {
		case *output.BasicOutput:
			b.RequiredStorageDeposit.Basic += deposit
		case *output.AliasOutput:
			b.RequiredStorageDeposit.Alias += deposit
			b.Aliases = append(b.Aliases, output.ResolvedAliasID(v, id))
		case *output.FoundryOutput:
			b.RequiredStorageDeposit.Foundry += deposit
			b.Foundries = append(b.Foundries, v.FoundryID())
		case *output.NftOutput:
			b.RequiredStorageDeposit.Nft += deposit
			b.Nfts = append(b.Nfts, output.ResolvedNftID(v, id))
		}
	}

	// Stale locks of outputs spent elsewhere must not underflow.
	b.BaseCoin.Available = b.BaseCoin.Total - min(lockedAmount, b.BaseCoin.Total)

	tokenIDs := make([]types.TokenID, 0, len(total))
	for id := range total {
		tokenIDs = append(tokenIDs, id)
	}
	sort.Slice(tokenIDs, func(i, j int) bool { return tokenIDs[i].String() < tokenIDs[j].String() })
	for _, id := range tokenIDs {
		t := total.Get(id)
		l := locked.Get(id)
		if l.Gt(t) {
			l = t
		}
		b.NativeTokens = append(b.NativeTokens, NativeTokenBalance{
			TokenID:   id,
			Total:     t.Clone(),
			Available: new(uint256.Int).Sub(t, l),
		})
	}
	return b, nil
}

func hasTimeConditions(u *output.UnlockConditions) bool {
	return u.StorageDepositReturn != nil || u.Timelock != nil || u.Expiration != nil
}

// add folds o into b. Token lists stay sorted by token id.
func (b *Balance) add(o *Balance) error {
	b.BaseCoin.Total += o.BaseCoin.Total
	b.BaseCoin.Available += o.BaseCoin.Available
	b.RequiredStorageDeposit.Basic += o.RequiredStorageDeposit.Basic
	b.RequiredStorageDeposit.Alias += o.RequiredStorageDeposit.Alias
	b.RequiredStorageDeposit.Foundry += o.RequiredStorageDeposit.Foundry
	b.RequiredStorageDeposit.Nft += o.RequiredStorageDeposit.Nft
	b.Aliases = append(b.Aliases, o.Aliases...)
	b.Foundries = append(b.Foundries, o.Foundries...)
	b.Nfts = append(b.Nfts, o.Nfts...)
	for id, now := range o.PotentiallyLockedOutputs {
		b.PotentiallyLockedOutputs[id] = now
	}

	for _, t := range o.NativeTokens {
		i := sort.Search(len(b.NativeTokens), func(i int) bool {
			return b.NativeTokens[i].TokenID.String() >= t.TokenID.String()
		})
		if i < len(b.NativeTokens) && b.NativeTokens[i].TokenID == t.TokenID {
			cur := &b.NativeTokens[i]
			total, overflow := new(uint256.Int).AddOverflow(cur.Total, t.Total)
			if overflow {
				return fmt.Errorf("token %s: %w", t.TokenID, output.ErrNativeTokensOverflow)
			}
			cur.Total = total
			cur.Available = new(uint256.Int).Add(cur.Available, t.Available)
			continue
		}
		b.NativeTokens = slices.Insert(b.NativeTokens, i, NativeTokenBalance{
			TokenID:   t.TokenID,
			Total:     t.Total.Clone(),
			Available: t.Available.Clone(),
		})
	}
	return nil
}
