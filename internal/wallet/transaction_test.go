package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Klingon-tech/tangle-wallet/internal/events"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient/memledger"
	"github.com/Klingon-tech/tangle-wallet/internal/selection"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/tx"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAmount_SingleInputWithRemainder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams)
	a := f.account(t)
	own := firstAddress(t, a)
	funded := f.ledger.Fund(own, 2_000_000)

	b := forceSync(t, a)
	require.Equal(t, uint64(2_000_000), b.BaseCoin.Total)

	recipient := foreignAddress(1)
	sent, err := a.SendAmount(ctx, []SendParams{{Address: recipient, Amount: 1_500_000}}, nil)
	require.NoError(t, err)

	ess := sent.Payload.Essence
	require.Equal(t, []types.OutputID{funded}, ess.Inputs)
	require.Len(t, ess.Outputs, 2)
	assert.Equal(t, uint64(2_000_000), amountSum(ess.Outputs))
	requireBasic(t, ess.Outputs[0], recipient, 1_500_000)
	requireBasic(t, ess.Outputs[1], own, 500_000)
	assert.Equal(t, InclusionPending, sent.InclusionState)
	require.NotNil(t, sent.BlockID)

	d := a.Details()
	assert.True(t, d.LockedOutputs.Has(funded))
	assert.True(t, d.PendingTransactions.Has(sent.TransactionID))
	b, err = a.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000), b.BaseCoin.Total)
	assert.Zero(t, b.BaseCoin.Available)

	var progress []events.Progress
	for _, ev := range f.eventsOf(events.KindTransactionProgress) {
		progress = append(progress, ev.Payload.(events.TransactionProgress).Progress)
	}
	assert.Equal(t, []events.Progress{
		events.SelectingInputs,
		events.PreparedTransaction,
		events.SigningTransaction,
		events.Broadcasting,
	}, progress)

	f.ledger.Milestone()
	f.advance(10 * time.Second)
	b = forceSync(t, a)
	assert.Equal(t, uint64(500_000), b.BaseCoin.Total)
	assert.Equal(t, uint64(500_000), b.BaseCoin.Available)

	got, err := a.GetTransaction(sent.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, InclusionConfirmed, got.InclusionState)

	d = a.Details()
	assert.Empty(t, d.LockedOutputs)
	assert.Empty(t, d.PendingTransactions)
	assert.True(t, d.Outputs[funded].IsSpent)
	remainder := types.OutputID{TransactionID: sent.TransactionID, Index: 1}
	require.Contains(t, d.UnspentOutputs, remainder)
	assert.True(t, d.UnspentOutputs[remainder].Remainder)
	requireLockInvariant(t, a)
}

func TestSendAmount_CustomInputsShort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, freeParams)
	a := f.account(t)
	own := firstAddress(t, a)
	ids := []types.OutputID{f.ledger.Fund(own, 500), f.ledger.Fund(own, 499)}
	forceSync(t, a)

	_, err := a.SendAmount(ctx, []SendParams{{Address: foreignAddress(1), Amount: 1_000}},
		&TransactionOptions{CustomInputs: ids})
	var custom *CustomInputError
	require.ErrorAs(t, err, &custom)
	assert.Equal(t, selection.CustomInputAmountMismatch, custom.Reason)

	assert.Empty(t, a.Details().LockedOutputs)
	assert.Empty(t, a.ListTransactions())
	requireLockInvariant(t, a)
}

func TestSendAmount_CustomInputLocked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams)
	a := f.account(t)
	own := firstAddress(t, a)
	id := f.ledger.Fund(own, 1_000_000)
	other := f.ledger.Fund(own, 1_000_000)
	forceSync(t, a)

	_, err := a.SendAmount(ctx, []SendParams{{Address: foreignAddress(1), Amount: 100_000}},
		&TransactionOptions{CustomInputs: []types.OutputID{id}})
	require.NoError(t, err)

	_, err = a.SendAmount(ctx, []SendParams{{Address: foreignAddress(2), Amount: 100_000}},
		&TransactionOptions{CustomInputs: []types.OutputID{id}})
	var custom *CustomInputError
	require.ErrorAs(t, err, &custom)
	assert.Equal(t, selection.CustomInputLocked, custom.Reason)
	assert.Equal(t, id, custom.OutputID)

	_, err = a.SendAmount(ctx, []SendParams{{Address: foreignAddress(2), Amount: 100_000}},
		&TransactionOptions{CustomInputs: []types.OutputID{{Index: 7}}})
	require.ErrorAs(t, err, &custom)
	assert.Equal(t, selection.CustomInputNotFound, custom.Reason)

	d := a.Details()
	assert.True(t, d.LockedOutputs.Has(id))
	assert.False(t, d.LockedOutputs.Has(other))
	requireLockInvariant(t, a)
}

func TestSendAmount_BelowStorageDeposit(t *testing.T) {
	f := newFixture(t, testParams)
	a := f.account(t)
	f.ledger.Fund(firstAddress(t, a), 1_000_000)
	forceSync(t, a)

	_, err := a.SendAmount(context.Background(), []SendParams{{Address: foreignAddress(1), Amount: 1_000}}, nil)
	require.ErrorIs(t, err, output.ErrInsufficientDeposit)
	assert.Empty(t, a.Details().LockedOutputs)
}

func TestSendAmount_InsufficientFunds(t *testing.T) {
	f := newFixture(t, testParams)
	a := f.account(t)
	f.ledger.Fund(firstAddress(t, a), 100_000)
	forceSync(t, a)

	_, err := a.SendAmount(context.Background(), []SendParams{{Address: foreignAddress(1), Amount: 500_000}}, nil)
	require.ErrorIs(t, err, ErrInsufficientAmount)
	assert.Empty(t, a.Details().LockedOutputs)
}

func TestSendMicroTransaction(t *testing.T) {
	f := newFixture(t, testParams)
	a := f.account(t)
	own := firstAddress(t, a)
	f.ledger.Fund(own, 1_000_000)
	forceSync(t, a)

	sent, err := a.SendMicroTransaction(context.Background(), []SendParams{{Address: foreignAddress(1), Amount: 1_000}}, nil)
	require.NoError(t, err)

	out, ok := sent.Payload.Essence.Outputs[0].(*output.BasicOutput)
	require.True(t, ok)
	u := out.UnlockConditions
	require.NotNil(t, u.StorageDepositReturn)
	require.NotNil(t, u.Expiration)
	assert.Equal(t, own, u.StorageDepositReturn.ReturnAddress)
	assert.Equal(t, out.Amount-1_000, u.StorageDepositReturn.Amount)
	assert.GreaterOrEqual(t, out.Amount, testParams.RentStructure.MinStorageDeposit(out))
	assert.GreaterOrEqual(t, u.StorageDepositReturn.Amount, testParams.RentStructure.MinReturnDeposit(own))
	assert.Equal(t, uint32(testStart.Add(DefaultMicroExpiration).Unix()), u.Expiration.UnixTime)
	assert.Equal(t, own, u.Expiration.ReturnAddress)
	assert.Equal(t, uint64(1_000_000), amountSum(sent.Payload.Essence.Outputs))
}

func TestSendAmount_TaggedDataAndNote(t *testing.T) {
	f := newFixture(t, testParams)
	a := f.account(t)
	f.ledger.Fund(firstAddress(t, a), 1_000_000)
	forceSync(t, a)

	sent, err := a.SendAmount(context.Background(), []SendParams{{Address: foreignAddress(1), Amount: 100_000}},
		&TransactionOptions{
			TaggedData:        &tx.TaggedData{Tag: []byte("tag"), Data: []byte("hello")},
			Note:              "rent",
			RemainderStrategy: RemainderToChangeAddress,
		})
	require.NoError(t, err)
	require.NotNil(t, sent.Payload.Essence.Payload)
	assert.Equal(t, []byte("hello"), sent.Payload.Essence.Payload.Data)
	assert.Equal(t, "rent", sent.Note)

	internal := a.Details().InternalAddresses
	require.Len(t, internal, 1)
	remainder := sent.Payload.Essence.Outputs[1].Conditions().Address
	assert.Equal(t, internal[0].Address.Inner, *remainder)
	assert.Len(t, f.eventsOf(events.KindTransactionProgress), 5)
}

func TestSubmitFailure_KeepsTransactionPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams)
	a := f.account(t)
	f.ledger.Fund(firstAddress(t, a), 1_000_000)
	forceSync(t, a)

	f.ledger.FailSubmit(errors.New("node unavailable"))
	sent, err := a.SendAmount(ctx, []SendParams{{Address: foreignAddress(1), Amount: 100_000}}, nil)
	require.NoError(t, err)
	assert.Nil(t, sent.BlockID)
	assert.Equal(t, InclusionPending, sent.InclusionState)
	assert.Len(t, a.ListPendingTransactions(), 1)

	f.ledger.FailSubmit(nil)
	f.advance(10 * time.Second)
	forceSync(t, a)
	got, err := a.GetTransaction(sent.TransactionID)
	require.NoError(t, err)
	require.NotNil(t, got.BlockID, "sync reattaches the transaction")
	assert.Equal(t, InclusionPending, got.InclusionState)

	f.ledger.Milestone()
	f.advance(10 * time.Second)
	b := forceSync(t, a)
	got, err = a.GetTransaction(sent.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, InclusionConfirmed, got.InclusionState)
	assert.Equal(t, uint64(900_000), b.BaseCoin.Total)
	requireLockInvariant(t, a)
}

func TestRetryTransactionUntilIncluded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams, memledger.WithAutoMilestone())
	a := f.account(t)
	funded := f.ledger.Fund(firstAddress(t, a), 1_000_000)
	forceSync(t, a)

	sent, err := a.SendAmount(ctx, []SendParams{{Address: foreignAddress(1), Amount: 100_000}}, nil)
	require.NoError(t, err)

	blockID, err := a.RetryTransactionUntilIncluded(ctx, sent.TransactionID, time.Millisecond, 3)
	require.NoError(t, err)
	assert.Equal(t, *sent.BlockID, blockID)

	got, err := a.GetTransaction(sent.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, InclusionConfirmed, got.InclusionState)
	d := a.Details()
	assert.True(t, d.Outputs[funded].IsSpent)
	assert.Empty(t, d.LockedOutputs)

	again, err := a.RetryTransactionUntilIncluded(ctx, sent.TransactionID, time.Millisecond, 3)
	require.NoError(t, err)
	assert.Equal(t, blockID, again)
}

func TestRetryTransactionUntilIncluded_Conflicting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams)
	a := f.account(t)
	f.ledger.Fund(firstAddress(t, a), 1_000_000)
	forceSync(t, a)

	sent, err := a.SendAmount(ctx, []SendParams{{Address: foreignAddress(1), Amount: 100_000}}, nil)
	require.NoError(t, err)
	require.NoError(t, f.ledger.SetBlockState(*sent.BlockID, nodeclient.InclusionConflicting, memledger.ConflictInputSpent))

	_, err = a.RetryTransactionUntilIncluded(ctx, sent.TransactionID, time.Millisecond, 3)
	require.ErrorIs(t, err, ErrTransactionNotIncluded)
}

func TestPrepareTransaction_SignLater(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams)
	a := f.account(t)
	funded := f.ledger.Fund(firstAddress(t, a), 1_000_000)
	forceSync(t, a)

	prepared, err := a.PrepareTransaction(ctx, []output.Output{basicTo(foreignAddress(1), 300_000)}, nil)
	require.NoError(t, err)
	require.Len(t, prepared.Inputs, 1)
	assert.Equal(t, funded, prepared.Inputs[0].OutputID)
	require.NotNil(t, prepared.Inputs[0].Chain)
	assert.Equal(t, uint32(0), prepared.Inputs[0].Chain.Index)
	assert.Equal(t, 1, prepared.Remainder)
	assert.True(t, a.Details().LockedOutputs.Has(funded))

	sent, err := a.SignAndSubmitTransaction(ctx, prepared)
	require.NoError(t, err)
	assert.Equal(t, prepared.Essence.Outputs, sent.Payload.Essence.Outputs)
	require.NoError(t, sent.Payload.Validate())
}
