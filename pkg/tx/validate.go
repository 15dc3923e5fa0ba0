package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// Validation errors.
var (
	ErrNoInputs          = errors.New("transaction has no inputs")
	ErrNoOutputs         = errors.New("transaction has no outputs")
	ErrDuplicateInput    = errors.New("duplicate input")
	ErrTooManyInputs     = errors.New("too many inputs")
	ErrTooManyOutputs    = errors.New("too many outputs")
	ErrOutputOverflow    = errors.New("output amounts overflow")
	ErrInputOverflow     = errors.New("input amounts overflow")
	ErrAmountMismatch    = errors.New("input and output amounts differ")
	ErrUnlockCount       = errors.New("unlock count does not match input count")
	ErrCommitment        = errors.New("inputs commitment mismatch")
	ErrNetworkMismatch   = errors.New("network id mismatch")
	ErrTreasuryNotWallet = errors.New("treasury outputs cannot be created by wallets")
)

// Validate checks essence structure. It does not check the inputs against the ledger.
func (e *Essence) Validate() error {
	if len(e.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(e.Outputs) == 0 {
		return ErrNoOutputs
	}
	if len(e.Inputs) > output.MaxInputsCount {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(e.Inputs), output.MaxInputsCount)
	}
	if len(e.Outputs) > output.MaxOutputsCount {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(e.Outputs), output.MaxOutputsCount)
	}

	seen := make(map[types.OutputID]bool, len(e.Inputs))
	for i, in := range e.Inputs {
		if seen[in] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		seen[in] = true
	}

	var total uint64
	for i, o := range e.Outputs {
		if o.Kind() == output.KindTreasury {
			return fmt.Errorf("output %d: %w", i, ErrTreasuryNotWallet)
		}
		if total > math.MaxUint64-o.Deposit() {
			return fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		total += o.Deposit()
	}
	if _, err := output.SumNativeTokens(e.Outputs...); err != nil {
		return err
	}
	return nil
}

// Validate checks the payload structure and that one unlock exists per input.
func (p *Payload) Validate() error {
	if err := p.Essence.Validate(); err != nil {
		return err
	}
	if len(p.Unlocks) != len(p.Essence.Inputs) {
		return fmt.Errorf("%w: %d unlocks, %d inputs", ErrUnlockCount, len(p.Unlocks), len(p.Essence.Inputs))
	}
	return nil
}

// CheckInputs verifies the essence commits to inputs and was built for networkID.
func (e *Essence) CheckInputs(networkID uint64, inputs []output.Output) error {
	if e.NetworkID != networkID {
		return fmt.Errorf("%w: essence %d, network %d", ErrNetworkMismatch, e.NetworkID, networkID)
	}
	if len(inputs) != len(e.Inputs) {
		return fmt.Errorf("%w: %d input outputs for %d inputs", ErrCommitment, len(inputs), len(e.Inputs))
	}
	if InputsCommitment(inputs) != e.InputsCommitment {
		return ErrCommitment
	}
	return nil
}

// Burned returns the native tokens consumed by inputs but not recreated by
// outputs. Base coin amounts must balance exactly; tokens appearing only on the
// output side must be minted by a foundry in outputs.
func Burned(inputs, outputs []output.Output) (output.TokenSum, error) {
	var in, out uint64
	for i, o := range inputs {
		if in > math.MaxUint64-o.Deposit() {
			return nil, fmt.Errorf("input %d: %w", i, ErrInputOverflow)
		}
		in += o.Deposit()
	}
	for i, o := range outputs {
		if out > math.MaxUint64-o.Deposit() {
			return nil, fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		out += o.Deposit()
	}
	if in != out {
		return nil, fmt.Errorf("%w: inputs=%d outputs=%d", ErrAmountMismatch, in, out)
	}

	inTokens, err := output.SumNativeTokens(inputs...)
	if err != nil {
		return nil, err
	}
	outTokens, err := output.SumNativeTokens(outputs...)
	if err != nil {
		return nil, err
	}
	burned := output.TokenSum{}
	for id, amt := range inTokens {
		produced := outTokens.Get(id)
		if amt.Gt(produced) {
			burned[id] = amt.Clone().Sub(amt, produced)
		}
	}
	return burned, nil
}
