package wallet

import (
	"context"
	"fmt"
	"sort"

	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// OutputsToClaim selects which conditionally locked outputs to claim.
type OutputsToClaim uint8

const (
	ClaimAll OutputsToClaim = iota
	// ClaimMicroTransactions are basic outputs owing a storage deposit return.
	ClaimMicroTransactions
	// ClaimNativeTokens are basic outputs holding native tokens.
	ClaimNativeTokens
	// ClaimNfts are NFT outputs.
	ClaimNfts
	// ClaimAmount are basic outputs without native tokens.
	ClaimAmount
)

func (k OutputsToClaim) String() string {
	switch k {
	case ClaimAll:
		return "all"
	case ClaimMicroTransactions:
		return "micro-transactions"
	case ClaimNativeTokens:
		return "native-tokens"
	case ClaimNfts:
		return "nfts"
	case ClaimAmount:
		return "amount"
	default:
		return fmt.Sprintf("OutputsToClaim(%d)", uint8(k))
	}
}

// ParseOutputsToClaim parses the String form of an OutputsToClaim.
func ParseOutputsToClaim(s string) (OutputsToClaim, error) {
	for k := ClaimAll; k <= ClaimAmount; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown outputs to claim %q", s)
}

func (k OutputsToClaim) matches(o output.Output, now uint32) bool {
	basic, isBasic := o.(*output.BasicOutput)
	switch k {
	case ClaimMicroTransactions:
		u := o.Conditions()
		return isBasic && u.StorageDepositReturn != nil && !u.ExpiredAt(now)
	case ClaimNativeTokens:
		return isBasic && len(basic.NativeTokens) > 0
	case ClaimNfts:
		return o.Kind() == output.KindNft
	case ClaimAmount:
		return isBasic && len(basic.NativeTokens) == 0
	default:
		return true
	}
}

// ClaimableOutputs returns the unspent outputs of kind that carry more than
// an address lock and that the account can unlock now.
func (a *Account) ClaimableOutputs(ctx context.Context, kind OutputsToClaim) ([]types.OutputID, error) {
	params, err := a.cachedProtocol(ctx)
	if err != nil {
		return nil, err
	}
	networkID := params.NetworkID()
	now := a.now()

	var ids []types.OutputID
	a.read(func(d *AccountDetails) {
		owned := d.ownedAddresses()
		for id, od := range d.UnspentOutputs {
			if od.NetworkID != networkID || d.LockedOutputs.Has(id) {
				continue
			}
			o := od.Output
			if k := o.Kind(); k != output.KindBasic && k != output.KindNft {
				continue
			}
			u := o.Conditions()
			if u.HasOnlyAddress() || u.TimelockedAt(now) {
				continue
			}
			addr, ok := output.UnlockAddress(o, now, false)
			if !ok || !owned[addr] || !kind.matches(o, now) {
				continue
			}
			ids = append(ids, id)
		}
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids, nil
}

// ClaimOutputs consumes the given outputs. Owed storage deposits are paid
// back to their return addresses and NFTs move to the first account
// address. Everything else lands in one remainder output. Further outputs
// are pulled in when the new outputs need more deposit.
func (a *Account) ClaimOutputs(ctx context.Context, ids []types.OutputID) (*Transaction, error) {
	if len(ids) == 0 {
		return nil, ErrNothingToClaim
	}
	params, err := a.cachedProtocol(ctx)
	if err != nil {
		return nil, err
	}
	rent := params.RentStructure
	now := a.now()
	own, err := a.firstAddress()
	if err != nil {
		return nil, err
	}

	limit := signer.MaxInputs(a.shared.signer, output.MaxInputsCount)
	if len(ids) > limit {
		a.log().Info().Int("claimable", len(ids)).Int("max", limit).Msg("Claiming first outputs only")
		ids = ids[:limit]
	}

	var outputs []output.Output
	for _, id := range ids {
		od, err := a.GetOutput(id)
		if err != nil {
			return nil, err
		}
		if od.IsSpent {
			return nil, fmt.Errorf("%w: %s already spent", ErrOutputNotFound, id)
		}
		nft, ok := od.Output.(*output.NftOutput)
		if !ok {
			continue
		}
		next := nft.Clone().(*output.NftOutput)
		next.NftID = output.ResolvedNftID(nft, id)
		owner := own
		next.UnlockConditions = output.UnlockConditions{Address: &owner}
		next.Amount = nft.Amount
		u := nft.Conditions()
		if u.StorageDepositReturn != nil && !u.ExpiredAt(now) {
			next.Amount -= min(next.Amount, u.StorageDepositReturn.Amount)
		}
		next.Amount = max(next.Amount, rent.MinStorageDeposit(next))
		outputs = append(outputs, next)
	}

	return a.SendOutputs(ctx, outputs, &TransactionOptions{
		RemainderStrategy: RemainderToFirstAddress,
		MandatoryInputs:   ids,
	})
}
