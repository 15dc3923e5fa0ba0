package wallet

import (
	"errors"
	"sort"

	"github.com/Klingon-tech/tangle-wallet/internal/events"
	"github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/internal/selection"
	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// selectRequest is the input of selectInputs.
type selectRequest struct {
	params    output.ProtocolParameters
	outputs   []output.Output
	remainder types.Address
	custom    []types.OutputID
	mandatory []types.OutputID
	burn      *selection.Burn
}

// selectInputs picks the inputs of a transaction and locks them in the same
// write section. Nothing is locked when it fails.
func (a *Account) selectInputs(req selectRequest) (*selection.Result, error) {
	var res *selection.Result
	now := a.now()
	maxInputs := signer.MaxInputs(a.shared.signer, output.MaxInputsCount)
	err := a.update(func(d *AccountDetails) error {
		networkID := req.params.NetworkID()
		owned := d.ownedAddresses()
		isOwned := func(addr types.Address) bool { return owned[addr] }

		explicit := req.mandatory
		custom := len(req.custom) > 0
		if custom {
			explicit = req.custom
		}
		mandatory := make([]selection.Candidate, 0, len(explicit))
		picked := make(map[types.OutputID]bool, len(explicit))
		for _, id := range explicit {
			if picked[id] {
				continue
			}
			od, ok := d.UnspentOutputs[id]
			if !ok {
				return &CustomInputError{OutputID: id, Reason: selection.CustomInputNotFound}
			}
			if d.LockedOutputs.Has(id) {
				return &CustomInputError{OutputID: id, Reason: selection.CustomInputLocked}
			}
			picked[id] = true
			mandatory = append(mandatory, selection.Candidate{OutputID: id, Output: od.Output})
		}

		var available []selection.Candidate
		if !custom {
			for id, od := range d.UnspentOutputs {
				if picked[id] || od.NetworkID != networkID || d.LockedOutputs.Has(id) {
					continue
				}
				if !spendable(od.Output, now, isOwned, req.outputs, req.burn) {
					continue
				}
				available = append(available, selection.Candidate{OutputID: id, Output: od.Output})
			}
			sort.Slice(available, func(i, j int) bool { return available[i].OutputID.Less(available[j].OutputID) })
		}

		r, err := selection.Select(selection.Params{
			Available:        available,
			Mandatory:        mandatory,
			Custom:           custom,
			Outputs:          req.outputs,
			RemainderAddress: req.remainder,
			Rent:             req.params.RentStructure,
			Now:              now,
			MaxInputs:        maxInputs,
			Burn:             req.burn,
		})
		if err != nil {
			return err
		}
		for _, in := range r.Inputs {
			d.LockedOutputs.Add(in.OutputID)
		}
		res = r
		return nil
	})

	var consolidate *ConsolidationRequiredError
	if errors.As(err, &consolidate) {
		a.shared.events.Emit(a.index, events.ConsolidationRequired{Count: consolidate.Count, Max: consolidate.Max})
	}
	if err != nil {
		return nil, err
	}
	log.Wallet.Debug().Uint32("account", a.index).Int("inputs", len(res.Inputs)).Int("outputs", len(res.Outputs)).Msg("Inputs selected")
	return res, nil
}

// unlockInputs releases locks taken by selectInputs.
func (a *Account) unlockInputs(ids []types.OutputID) {
	err := a.update(func(d *AccountDetails) error {
		for _, id := range ids {
			delete(d.LockedOutputs, id)
		}
		return nil
	})
	if err != nil {
		a.log().Error().Err(err).Msg("Failed to persist released inputs")
	}
}

// spendable reports whether the selector may pick o on its own. Outputs that
// could be lost to another party, still owe a storage deposit return or are
// time-locked stay out. Foundries are only offered when an output or a burn
// refers to them, or when they hold native tokens being burned.
func spendable(o output.Output, now uint32, owned func(types.Address) bool, outputs []output.Output, burn *selection.Burn) bool {
	switch v := o.(type) {
	case *output.TreasuryOutput:
		return false
	case *output.FoundryOutput:
		fid := v.FoundryID()
		for _, out := range outputs {
			if f, ok := out.(*output.FoundryOutput); ok && f.FoundryID() == fid {
				return true
			}
		}
		if burn != nil {
			for _, b := range burn.Foundries {
				if b == fid {
					return true
				}
			}
			for id := range burn.NativeTokens {
				if v.NativeTokens.Has(id) {
					return true
				}
			}
		}
		return false
	}

	u := o.Conditions()
	if u.TimelockedAt(now) {
		return false
	}
	if u.StorageDepositReturn != nil && !u.ExpiredAt(now) {
		return false
	}
	if u.Expiration != nil && output.Classify(o, now, owned) != output.ReachableForever {
		return false
	}
	addr, ok := output.UnlockAddress(o, now, true)
	return ok && owned(addr)
}
