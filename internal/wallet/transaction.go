package wallet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Klingon-tech/tangle-wallet/internal/events"
	"github.com/Klingon-tech/tangle-wallet/internal/metrics"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/internal/selection"
	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/pkg/block"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/tx"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/looplab/fsm"
)

// PreparedTransaction is a locked input selection turned into an essence.
type PreparedTransaction struct {
	Essence *tx.Essence
	// Inputs are in essence input order.
	Inputs []signer.InputSigningData
	// Remainder is the index of the change output, or -1.
	Remainder int
	Note      string
}

func (p *PreparedTransaction) inputIDs() []types.OutputID {
	ids := make([]types.OutputID, len(p.Inputs))
	for i, in := range p.Inputs {
		ids[i] = in.OutputID
	}
	return ids
}

// SignedTransaction is a payload whose unlocks were verified.
type SignedTransaction struct {
	Payload *tx.Payload
	Inputs  []signer.InputSigningData
	Note    string
}

func (a *Account) progress(p events.Progress, addr string) {
	a.shared.events.Emit(a.index, events.TransactionProgress{Progress: p, Address: addr})
}

// remainderAddress resolves where change of a transaction goes.
func (a *Account) remainderAddress(ctx context.Context, o TransactionOptions, hrp string) (types.Address, error) {
	switch o.RemainderStrategy {
	case RemainderToCustomAddress:
		if o.RemainderAddress.IsZero() {
			return types.Address{}, fmt.Errorf("%w: remainder address", ErrMissingParameter)
		}
		return o.RemainderAddress, nil
	case RemainderToChangeAddress:
		addr, err := a.GenerateRemainderAddress(ctx)
		if err != nil {
			return types.Address{}, err
		}
		a.progress(events.GeneratingRemainderDepositAddress, addr.Bech32(hrp))
		return addr, nil
	default:
		var (
			addr types.Address
			err  error
		)
		a.read(func(d *AccountDetails) { addr, err = d.firstAddress() })
		return addr, err
	}
}

// PrepareTransaction selects and locks inputs for outputs and builds the
// essence. The inputs stay locked until the transaction is resolved; on any
// error they are released.
func (a *Account) PrepareTransaction(ctx context.Context, outputs []output.Output, opts *TransactionOptions) (*PreparedTransaction, error) {
	var o TransactionOptions
	if opts != nil {
		o = *opts
	}
	params, err := a.protocol(ctx)
	if err != nil {
		return nil, err
	}
	for i, out := range outputs {
		if err := params.RentStructure.CheckStorageDeposit(out); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
	}

	a.progress(events.SelectingInputs, "")
	remainder, err := a.remainderAddress(ctx, o, params.Bech32HRP)
	if err != nil {
		return nil, err
	}
	res, err := a.selectInputs(selectRequest{
		params:    params,
		outputs:   outputs,
		remainder: remainder,
		custom:    o.CustomInputs,
		mandatory: o.MandatoryInputs,
		burn:      o.Burn,
	})
	if err != nil {
		return nil, err
	}

	prepared, err := a.buildEssence(params, res, o)
	if err != nil {
		ids := make([]types.OutputID, len(res.Inputs))
		for i, in := range res.Inputs {
			ids[i] = in.OutputID
		}
		a.unlockInputs(ids)
		return nil, err
	}
	a.progress(events.PreparedTransaction, "")
	return prepared, nil
}

// buildEssence orders the inputs so chain inputs precede what they own and
// attaches the derivation chain each signature needs.
func (a *Account) buildEssence(params output.ProtocolParameters, res *selection.Result, o TransactionOptions) (*PreparedTransaction, error) {
	now := a.now()
	targets := make([]tx.UnlockTarget, len(res.Inputs))
	for i, in := range res.Inputs {
		state := true
		if alias, ok := in.Output.(*output.AliasOutput); ok {
			state = output.IsStateTransition(alias, in.OutputID, res.Outputs)
		}
		addr, ok := output.UnlockAddress(in.Output, now, state)
		if !ok {
			return nil, fmt.Errorf("%w: no unlock address for input %s", ErrAddressNotFound, in.OutputID)
		}
		targets[i] = tx.UnlockTarget{OutputID: in.OutputID, Output: in.Output, Required: addr}
	}
	ordered := tx.OrderTargets(targets)

	b := tx.NewBuilder(params.NetworkID())
	for _, t := range ordered {
		b.AddInput(t.OutputID, t.Output)
	}
	for _, out := range res.Outputs {
		b.AddOutput(out)
	}
	if o.TaggedData != nil {
		b.SetTaggedData(o.TaggedData.Tag, o.TaggedData.Data)
	}
	essence, err := b.Build()
	if err != nil {
		return nil, err
	}

	inputs := make([]signer.InputSigningData, len(ordered))
	var missing error
	a.read(func(d *AccountDetails) {
		for i, t := range ordered {
			inputs[i] = signer.InputSigningData{UnlockTarget: t}
			if t.Required.Kind != types.AddressPubKeyHash {
				continue
			}
			if inputs[i].Chain = d.chainFor(t.Required); inputs[i].Chain == nil && missing == nil {
				missing = fmt.Errorf("%w: %s unlocks input %s", ErrAddressNotFound, t.Required, t.OutputID)
			}
		}
	})
	if missing != nil {
		return nil, missing
	}
	return &PreparedTransaction{Essence: essence, Inputs: inputs, Remainder: res.Remainder, Note: o.Note}, nil
}

// SignTransactionEssence signs p and checks every unlock against the
// address its input requires.
func (a *Account) SignTransactionEssence(ctx context.Context, p *PreparedTransaction) (*SignedTransaction, error) {
	a.progress(events.SigningTransaction, "")
	s := a.shared.signer
	if limit := signer.MaxInputs(s, output.MaxInputsCount); len(p.Inputs) > limit {
		return nil, fmt.Errorf("%w: %d inputs, signer takes %d", ErrTooManyInputs, len(p.Inputs), limit)
	}
	unlocks, err := s.SignEssence(ctx, p.Essence, p.Inputs)
	if err != nil {
		return nil, fmt.Errorf("sign essence: %w", err)
	}
	if err := tx.VerifyUnlocks(p.Essence, unlocks, signer.Targets(p.Inputs)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUnlock, err)
	}
	payload := &tx.Payload{Essence: *p.Essence, Unlocks: unlocks}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("signed payload: %w", err)
	}
	return &SignedTransaction{Payload: payload, Inputs: p.Inputs, Note: p.Note}, nil
}

// attach posts payload in a new block on the current tips. A nil payload
// posts an empty block, which promotes its parents.
func (a *Account) attach(ctx context.Context, params output.ProtocolParameters, payload *tx.Payload, report bool, parents ...types.BlockID) (types.BlockID, error) {
	tips, err := a.shared.client.Tips(ctx)
	if err != nil {
		return types.BlockID{}, fmt.Errorf("tips: %w", err)
	}
	for _, tip := range tips {
		if !slices.Contains(parents, tip) {
			parents = append(parents, tip)
		}
	}
	if len(parents) > block.MaxParents {
		parents = parents[:block.MaxParents]
	}
	b, err := block.New(parents, payload)
	if err != nil {
		return types.BlockID{}, err
	}
	if a.shared.localPoW && params.MinPoWScore > 0 {
		if report {
			a.progress(events.PerformingPow, "")
		}
		if err := block.Seal(ctx, b, params.MinPoWScore, a.shared.powThreads); err != nil {
			return types.BlockID{}, fmt.Errorf("pow: %w", err)
		}
	}
	if report {
		a.progress(events.Broadcasting, "")
	}
	id, err := a.shared.client.SubmitBlock(ctx, b)
	if err != nil {
		return types.BlockID{}, fmt.Errorf("submit block: %w", err)
	}
	return id, nil
}

// SubmitAndStoreTransaction posts the payload and records the transaction
// as pending. A failed submission is logged and the transaction is kept
// pending without a block, so sync reattaches it.
func (a *Account) SubmitAndStoreTransaction(ctx context.Context, st *SignedTransaction) (*Transaction, error) {
	params, err := a.cachedProtocol(ctx)
	if err != nil {
		return nil, err
	}
	id := st.Payload.ID()
	t := &Transaction{
		Payload:        st.Payload,
		InclusionState: InclusionPending,
		Timestamp:      a.shared.clock.Now().UnixMilli(),
		TransactionID:  id,
		NetworkID:      st.Payload.Essence.NetworkID,
		Note:           st.Note,
	}

	blockID, err := a.attach(ctx, params, st.Payload, true)
	if err != nil {
		a.log().Warn().Err(err).Stringer("tx", id).Msg("Submission failed, transaction stays pending")
		metrics.IncSubmitted(metrics.ResultError)
	} else {
		t.BlockID = &blockID
		metrics.IncSubmitted(metrics.ResultOK)
	}

	err = a.update(func(d *AccountDetails) error {
		for _, in := range st.Inputs {
			if od, ok := d.Outputs[in.OutputID]; ok {
				t.Inputs = append(t.Inputs, nodeclient.OutputResponse{Output: od.Output, Metadata: od.Metadata})
			}
		}
		d.Transactions[id] = t
		d.PendingTransactions.Add(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.log().Info().Stringer("tx", id).Int("inputs", len(st.Inputs)).Int("outputs", len(st.Payload.Essence.Outputs)).Msg("Transaction sent")
	return t.Clone(), nil
}

// SendOutputs prepares, signs and submits a transaction creating outputs.
func (a *Account) SendOutputs(ctx context.Context, outputs []output.Output, opts *TransactionOptions) (*Transaction, error) {
	prepared, err := a.PrepareTransaction(ctx, outputs, opts)
	if err != nil {
		return nil, err
	}
	return a.signAndSubmit(ctx, prepared)
}

// SignAndSubmitTransaction finishes a prepared transaction. The inputs are
// released when signing fails.
func (a *Account) SignAndSubmitTransaction(ctx context.Context, prepared *PreparedTransaction) (*Transaction, error) {
	return a.signAndSubmit(ctx, prepared)
}

func (a *Account) signAndSubmit(ctx context.Context, prepared *PreparedTransaction) (*Transaction, error) {
	machine := newPipelineFSM(func(state string) {
		a.log().Debug().Str("step", state).Msg("Transaction pipeline")
	})
	signed, err := a.SignTransactionEssence(ctx, prepared)
	if err != nil {
		a.unlockInputs(prepared.inputIDs())
		return nil, err
	}
	a.step(ctx, machine, eventSign)
	t, err := a.SubmitAndStoreTransaction(ctx, signed)
	if err != nil {
		return nil, err
	}
	a.step(ctx, machine, eventSubmit)
	return t, nil
}

func (a *Account) step(ctx context.Context, machine *fsm.FSM, event string) {
	if err := machine.Event(ctx, event); err != nil {
		a.log().Error().Err(err).Str("event", event).Msg("Pipeline step out of order")
	}
}

// RetryTransactionUntilIncluded polls the block of a pending transaction
// every interval, up to maxAttempts times, promoting or reattaching it as
// the node asks. Zero values use RetryInterval and RetryMaxAttempts. It
// returns the block that included the transaction.
func (a *Account) RetryTransactionUntilIncluded(ctx context.Context, id types.TransactionID, interval time.Duration, maxAttempts int) (types.BlockID, error) {
	if interval <= 0 {
		interval = RetryInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = RetryMaxAttempts
	}
	t, err := a.GetTransaction(id)
	if err != nil {
		return types.BlockID{}, err
	}
	switch t.InclusionState {
	case InclusionConfirmed:
		if t.BlockID != nil {
			return *t.BlockID, nil
		}
	case InclusionPending:
	default:
		return types.BlockID{}, fmt.Errorf("%w: %s is %s", ErrTransactionDone, id, t.InclusionState)
	}
	params, err := a.protocol(ctx)
	if err != nil {
		return types.BlockID{}, err
	}

	if t.BlockID == nil {
		if err := a.reattach(ctx, params, t); err != nil {
			return types.BlockID{}, err
		}
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		md, err := a.shared.client.BlockMetadata(ctx, *t.BlockID)
		switch {
		case errors.Is(err, nodeclient.ErrNotFound):
			if err := a.reattach(ctx, params, t); err != nil {
				return types.BlockID{}, err
			}
		case err != nil:
			return types.BlockID{}, fmt.Errorf("block metadata: %w", err)
		case md.LedgerInclusionState == nodeclient.InclusionIncluded:
			return *t.BlockID, a.markIncluded(ctx, params, t, *t.BlockID)
		case md.LedgerInclusionState != "":
			included, err := a.includedBlock(ctx, id)
			if err != nil {
				return types.BlockID{}, err
			}
			if included != nil {
				return *included, a.markIncluded(ctx, params, t, *included)
			}
			return types.BlockID{}, fmt.Errorf("%w: %s is %s", ErrTransactionNotIncluded, id, md.LedgerInclusionState)
		case md.ShouldReattach:
			if err := a.reattach(ctx, params, t); err != nil {
				return types.BlockID{}, err
			}
		case md.ShouldPromote:
			if _, err := a.attach(ctx, params, nil, false, *t.BlockID); err != nil {
				a.log().Debug().Err(err).Stringer("tx", id).Msg("Promotion failed")
			}
		}
		metrics.IncInclusionRetries()

		select {
		case <-ctx.Done():
			return types.BlockID{}, ctx.Err()
		case <-a.shared.clock.TickAfter(interval):
		}
	}
	return types.BlockID{}, fmt.Errorf("%w: %s after %d attempts", ErrTransactionNotIncluded, id, maxAttempts)
}

// ReissueTransactionUntilIncluded attaches the transaction again before
// waiting for its inclusion.
func (a *Account) ReissueTransactionUntilIncluded(ctx context.Context, id types.TransactionID, interval time.Duration, maxAttempts int) (types.BlockID, error) {
	t, err := a.GetTransaction(id)
	if err != nil {
		return types.BlockID{}, err
	}
	if !t.IsPending() {
		return a.RetryTransactionUntilIncluded(ctx, id, interval, maxAttempts)
	}
	params, err := a.protocol(ctx)
	if err != nil {
		return types.BlockID{}, err
	}
	if err := a.reattach(ctx, params, t); err != nil {
		return types.BlockID{}, err
	}
	return a.RetryTransactionUntilIncluded(ctx, id, interval, maxAttempts)
}

// reattach posts t again and stores the new block id in t and the account.
func (a *Account) reattach(ctx context.Context, params output.ProtocolParameters, t *Transaction) error {
	blockID, err := a.attach(ctx, params, t.Payload, false)
	if err != nil {
		return err
	}
	t.BlockID = &blockID
	res := newSyncResult()
	res.txs[t.TransactionID] = txUpdate{blockID: &blockID}
	return a.commitSync(ctx, params, res)
}

// markIncluded confirms t locally.
func (a *Account) markIncluded(ctx context.Context, params output.ProtocolParameters, t *Transaction, blockID types.BlockID) error {
	res := newSyncResult()
	a.confirm(t, &blockID, res)
	return a.commitSync(ctx, params, res)
}
