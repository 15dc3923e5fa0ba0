package wallet

import (
	"context"
	"fmt"
	"sort"

	"github.com/Klingon-tech/tangle-wallet/internal/metrics"
	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// ConsolidateOutputs merges unspent basic outputs that only carry an
// address lock into one output, locked to the address of the first
// candidate in address order. Without force it refuses when fewer than
// threshold outputs are eligible. A threshold of zero uses the default for
// the signer. At most as many outputs as the signer can sign are consumed
// per run.
func (a *Account) ConsolidateOutputs(ctx context.Context, force bool, threshold int) (*Transaction, error) {
	if threshold <= 0 {
		threshold = DefaultConsolidationThreshold
		if a.shared.signer.Kind() == signer.KindHardware {
			threshold = DefaultHardwareConsolidationThreshold
		}
	}
	params, err := a.protocol(ctx)
	if err != nil {
		return nil, err
	}

	candidates := a.consolidationCandidates(params.NetworkID())
	if len(candidates) == 0 || (!force && len(candidates) < threshold) {
		return nil, &ConsolidationThresholdError{Count: len(candidates), Threshold: threshold}
	}
	limit := signer.MaxInputs(a.shared.signer, output.MaxInputsCount)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	merged, ids, err := mergeForConsolidation(candidates)
	if err != nil {
		return nil, err
	}

	a.log().Info().Int("inputs", len(ids)).Stringer("address", merged.UnlockConditions.Address).Msg("Consolidating outputs")
	t, err := a.SendOutputs(ctx, []output.Output{merged}, &TransactionOptions{CustomInputs: ids})
	if err != nil {
		return nil, err
	}
	metrics.IncConsolidations()
	return t, nil
}

// consolidationCandidates returns the unlocked outputs of the active network
// held by plain address locks on account addresses, ordered by address.
func (a *Account) consolidationCandidates(networkID uint64) []*OutputData {
	var out []*OutputData
	a.read(func(d *AccountDetails) {
		order := make(map[types.Address]int)
		for i, ad := range d.addresses() {
			order[ad.Address.Inner] = i
		}
		for id, od := range d.UnspentOutputs {
			if od.NetworkID != networkID || d.LockedOutputs.Has(id) {
				continue
			}
			if od.Output.Kind() != output.KindBasic || !output.IsPlainAddressLock(od.Output) {
				continue
			}
			if _, ok := order[*od.Output.Conditions().Address]; !ok {
				continue
			}
			out = append(out, od.Clone())
		}
		sort.Slice(out, func(i, j int) bool {
			ai, aj := order[*out[i].Output.Conditions().Address], order[*out[j].Output.Conditions().Address]
			if ai != aj {
				return ai < aj
			}
			return out[i].OutputID.Less(out[j].OutputID)
		})
	})
	return out
}

// mergeForConsolidation sums outputs into one basic output to the address
// of the first of them.
func mergeForConsolidation(outputs []*OutputData) (*output.BasicOutput, []types.OutputID, error) {
	addr := *outputs[0].Output.Conditions().Address
	sum := output.TokenSum{}
	ids := make([]types.OutputID, 0, len(outputs))
	var amount uint64
	for _, od := range outputs {
		ids = append(ids, od.OutputID)
		amount += od.Output.Deposit()
		if err := sum.AddAll(od.Output.NativeTokenList()); err != nil {
			return nil, nil, err
		}
	}
	tokens, err := sum.Tokens()
	if err != nil {
		return nil, nil, err
	}
	if len(tokens) > output.MaxNativeTokensCount {
		return nil, nil, fmt.Errorf("consolidating into %s: %w", addr, output.ErrTooManyNativeTokens)
	}
	return &output.BasicOutput{
		Amount:           amount,
		NativeTokens:     tokens,
		UnlockConditions: output.UnlockConditions{Address: &addr},
	}, ids, nil
}
