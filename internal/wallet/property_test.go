package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Every prepared transaction spends exactly what it creates, locks exactly
// its inputs, and releases them once confirmed.
func TestSend_ConservationAndLocksProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		f := newFixture(t, testParams)
		a := f.account(t)
		own := firstAddress(t, a)

		values := rapid.SliceOfN(rapid.Uint64Range(50_000, 5_000_000), 1, 20).Draw(rt, "values")
		var total uint64
		for _, v := range values {
			f.ledger.Fund(own, v)
			total += v
		}
		forceSync(t, a)
		send := rapid.Uint64Range(42_600, total).Draw(rt, "send")

		sent, err := a.SendAmount(ctx, []SendParams{{Address: foreignAddress(1), Amount: send}}, nil)
		if err != nil {
			if !errors.Is(err, ErrInsufficientAmount) {
				rt.Fatalf("unexpected error: %v", err)
			}
			require.Empty(rt, a.Details().LockedOutputs)
			return
		}

		ess := sent.Payload.Essence
		require.Equal(rt, f.inputSum(t, ess.Inputs), amountSum(ess.Outputs))
		d := a.Details()
		require.Len(rt, d.LockedOutputs, len(ess.Inputs))
		for _, id := range ess.Inputs {
			require.True(rt, d.LockedOutputs.Has(id), "input %s not locked", id)
		}
		for id := range d.LockedOutputs {
			require.Contains(rt, d.UnspentOutputs, id)
		}
		for _, o := range ess.Outputs {
			require.NoError(rt, testParams.RentStructure.CheckStorageDeposit(o))
		}

		f.ledger.Milestone()
		f.advance(10 * time.Second)
		b := forceSync(t, a)
		require.Equal(rt, total-send, b.BaseCoin.Total)
		require.Equal(rt, total-send, b.BaseCoin.Available)
		require.Empty(rt, a.Details().LockedOutputs)
	})
}

// Syncing twice without ledger changes leaves the account untouched.
func TestSync_IdempotentProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t, testParams)
		a := f.account(t)
		own := firstAddress(t, a)
		for _, v := range rapid.SliceOfN(rapid.Uint64Range(42_600, 1_000_000), 0, 10).Draw(rt, "values") {
			f.ledger.Fund(own, v)
		}

		first := forceSync(t, a)
		before := a.Details()
		f.advance(time.Duration(rapid.Int64Range(0, int64(time.Hour)).Draw(rt, "wait")))
		second := forceSync(t, a)
		require.Equal(rt, first, second)
		require.Equal(rt, before.UnspentOutputs, a.Details().UnspentOutputs)
		require.Equal(rt, before.PublicAddresses, a.Details().PublicAddresses)
	})
}
