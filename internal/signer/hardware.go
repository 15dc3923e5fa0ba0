package signer

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/pkg/tx"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// DefaultHardwareMaxInputs is the number of inputs a hardware device buffers.
const DefaultHardwareMaxInputs = 15

// Confirm is asked to approve an address shown on a device. Returning false
// rejects it.
type Confirm func(ctx context.Context, addr types.Address) bool

// Hardware wraps a device back-end. Addresses are generated one at a time so
// the user can check each on the device, and transactions are limited to the
// inputs the device can buffer.
type Hardware struct {
	device    Signer
	maxInputs int
	confirm   Confirm
}

// NewHardware wraps device. A nil confirm accepts every address.
func NewHardware(device Signer, maxInputs int, confirm Confirm) *Hardware {
	if maxInputs <= 0 {
		maxInputs = DefaultHardwareMaxInputs
	}
	return &Hardware{device: device, maxInputs: maxInputs, confirm: confirm}
}

// Kind implements Signer.
func (h *Hardware) Kind() Kind { return KindHardware }

// MaxInputs implements InputLimiter.
func (h *Hardware) MaxInputs() int { return h.maxInputs }

// GenerateAddresses implements Signer. Each address is derived separately and,
// with opts.Display, confirmed before the next one.
func (h *Hardware) GenerateAddresses(ctx context.Context, coinType, account uint32, r Range, internal bool, opts GenerateOptions) ([]types.Address, error) {
	if r.End < r.Start {
		return nil, fmt.Errorf("%w: %d..%d", ErrInvalidRange, r.Start, r.End)
	}
	addrs := make([]types.Address, 0, r.Len())
	for i := r.Start; i < r.End; i++ {
		one, err := h.device.GenerateAddresses(ctx, coinType, account, Range{Start: i, End: i + 1}, internal, opts)
		if err != nil {
			return nil, err
		}
		if opts.Display && h.confirm != nil && !h.confirm(ctx, one[0]) {
			return nil, fmt.Errorf("%w: address %d", ErrUserRejected, i)
		}
		addrs = append(addrs, one...)
	}
	return addrs, nil
}

// SignEssence implements Signer.
func (h *Hardware) SignEssence(ctx context.Context, e *tx.Essence, inputs []InputSigningData) ([]tx.Unlock, error) {
	if len(inputs) > h.maxInputs {
		return nil, fmt.Errorf("%w: %d inputs, device buffers %d", ErrTooManyInputs, len(inputs), h.maxInputs)
	}
	log.Signer.Info().Int("inputs", len(inputs)).Msg("Waiting for device signature")
	return h.device.SignEssence(ctx, e, inputs)
}
