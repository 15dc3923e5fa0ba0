package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outputsTo returns the outputs whose address condition is addr.
func outputsTo(outs []output.Output, addr types.Address) []output.Output {
	var found []output.Output
	for _, o := range outs {
		if a := o.Conditions().Address; a != nil && *a == addr {
			found = append(found, o)
		}
	}
	return found
}

func TestClaimOutputs_MicroTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams)
	a := f.account(t)
	own := firstAddress(t, a)
	sender := foreignAddress(9)

	micro := basicTo(own, 200_000)
	micro.UnlockConditions.StorageDepositReturn = &output.StorageDepositReturn{ReturnAddress: sender, Amount: 50_000}
	id := f.ledger.AddOutput(micro)

	b := forceSync(t, a)
	assert.Equal(t, uint64(150_000), b.BaseCoin.Total)

	ids, err := a.ClaimableOutputs(ctx, ClaimMicroTransactions)
	require.NoError(t, err)
	require.Equal(t, []types.OutputID{id}, ids)
	none, err := a.ClaimableOutputs(ctx, ClaimNfts)
	require.NoError(t, err)
	assert.Empty(t, none)

	claimed, err := a.ClaimOutputs(ctx, ids)
	require.NoError(t, err)
	ess := claimed.Payload.Essence
	require.Equal(t, []types.OutputID{id}, ess.Inputs)
	require.Len(t, ess.Outputs, 2)

	returned := outputsTo(ess.Outputs, sender)
	require.Len(t, returned, 1)
	requireBasic(t, returned[0], sender, 50_000)
	kept := outputsTo(ess.Outputs, own)
	require.Len(t, kept, 1)
	requireBasic(t, kept[0], own, 150_000)

	f.ledger.Milestone()
	f.advance(10 * time.Second)
	b = forceSync(t, a)
	got, err := a.GetTransaction(claimed.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, InclusionConfirmed, got.InclusionState)
	assert.Equal(t, uint64(150_000), b.BaseCoin.Total)

	ids, err = a.ClaimableOutputs(ctx, ClaimAll)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestClaimOutputs_Nft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams)
	a := f.account(t)
	own := firstAddress(t, a)
	sender := foreignAddress(9)
	expires := uint32(testStart.Add(time.Hour).Unix())

	nft := &output.NftOutput{
		Amount: 150_000,
		UnlockConditions: output.UnlockConditions{
			Address:              &own,
			StorageDepositReturn: &output.StorageDepositReturn{ReturnAddress: sender, Amount: 50_000},
			Expiration:           &output.Expiration{ReturnAddress: sender, UnixTime: expires},
		},
	}
	id := f.ledger.AddOutput(nft)
	forceSync(t, a)

	ids, err := a.ClaimableOutputs(ctx, ClaimNfts)
	require.NoError(t, err)
	require.Equal(t, []types.OutputID{id}, ids)

	claimed, err := a.ClaimOutputs(ctx, ids)
	require.NoError(t, err)
	outs := claimed.Payload.Essence.Outputs
	assert.Equal(t, uint64(150_000), amountSum(outs))

	kept := outputsTo(outs, own)
	require.Len(t, kept, 1)
	moved, ok := kept[0].(*output.NftOutput)
	require.True(t, ok)
	assert.Equal(t, output.ResolvedNftID(nft, id), moved.NftID)
	assert.Equal(t, uint64(100_000), moved.Amount)
	assert.True(t, moved.UnlockConditions.HasOnlyAddress())
	requireBasic(t, outputsTo(outs, sender)[0], sender, 50_000)
}

func TestClaimableOutputs_ExpiredAndTimelocked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams)
	a := f.account(t)
	own := firstAddress(t, a)
	now := uint32(testStart.Unix())

	timelocked := basicTo(own, 100_000)
	timelocked.UnlockConditions.Timelock = &output.Timelock{UnixTime: now + 600}
	lockedID := f.ledger.AddOutput(timelocked)

	// Sent by the account to someone else, returns to us once expired.
	returning := basicTo(foreignAddress(3), 100_000)
	returning.UnlockConditions.Expiration = &output.Expiration{ReturnAddress: own, UnixTime: now + 1200}
	returningID := f.ledger.AddOutput(returning)
	forceSync(t, a)

	ids, err := a.ClaimableOutputs(ctx, ClaimAll)
	require.NoError(t, err)
	assert.Empty(t, ids)

	f.advance(15 * time.Minute)
	ids, err = a.ClaimableOutputs(ctx, ClaimAll)
	require.NoError(t, err)
	assert.Equal(t, []types.OutputID{lockedID}, ids)

	f.advance(10 * time.Minute)
	ids, err = a.ClaimableOutputs(ctx, ClaimAmount)
	require.NoError(t, err)
	want := []types.OutputID{lockedID, returningID}
	if returningID.Less(lockedID) {
		want = []types.OutputID{returningID, lockedID}
	}
	assert.Equal(t, want, ids)
}

func TestClaimOutputs_Nothing(t *testing.T) {
	f := newFixture(t, testParams)
	a := f.account(t)
	_, err := a.ClaimOutputs(context.Background(), nil)
	require.ErrorIs(t, err, ErrNothingToClaim)
}

func TestParseOutputsToClaim(t *testing.T) {
	for k := ClaimAll; k <= ClaimAmount; k++ {
		got, err := ParseOutputsToClaim(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseOutputsToClaim("everything")
	require.Error(t, err)
}
