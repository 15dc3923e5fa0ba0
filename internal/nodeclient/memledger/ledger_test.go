package memledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/pkg/block"
	"github.com/Klingon-tech/tangle-wallet/pkg/crypto"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/tx"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = output.ProtocolParameters{
	NetworkName:   "memledger-test",
	Bech32HRP:     "rms",
	TokenSupply:   1_000_000_000_000,
	RentStructure: output.DefaultRentStructure,
}

type fixture struct {
	ledger *Ledger
	clock  *clock.TestClock
	key    *crypto.PrivateKey
	addr   types.Address
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tc := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	opts = append([]Option{WithClock(tc)}, opts...)
	return &fixture{
		ledger: New(testParams, opts...),
		clock:  tc,
		key:    key,
		addr:   key.Address(),
	}
}

func basic(addr types.Address, amount uint64) *output.BasicOutput {
	return &output.BasicOutput{Amount: amount, UnlockConditions: output.UnlockConditions{Address: &addr}}
}

// spend builds a signed block consuming ids and creating outs.
func (f *fixture) spend(t *testing.T, ids []types.OutputID, outs ...output.Output) *block.Block {
	t.Helper()
	ctx := context.Background()
	b := tx.NewBuilder(testParams.NetworkID())
	targets := make([]tx.UnlockTarget, len(ids))
	for i, id := range ids {
		resp, err := f.ledger.Output(ctx, id)
		require.NoError(t, err)
		b.AddInput(id, resp.Output)
		targets[i] = tx.UnlockTarget{OutputID: id, Output: resp.Output, Required: f.addr}
	}
	for _, o := range outs {
		b.AddOutput(o)
	}
	essence, err := b.Build()
	require.NoError(t, err)
	unlocks, err := tx.SignWithKeys(essence, targets, map[types.Address]*crypto.PrivateKey{f.addr: f.key})
	require.NoError(t, err)

	tips, err := f.ledger.Tips(ctx)
	require.NoError(t, err)
	blk, err := block.New(tips, &tx.Payload{Essence: *essence, Unlocks: unlocks})
	require.NoError(t, err)
	return blk
}

func TestLedger_FundAndQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.ledger.Fund(f.addr, 1_000_000)
	ids, err := f.ledger.OutputIDs(ctx, nodeclient.OutputQuery{Kind: output.KindBasic, Address: f.addr})
	require.NoError(t, err)
	assert.Equal(t, []types.OutputID{id}, ids)

	resp, err := f.ledger.Output(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), resp.Output.Deposit())
	assert.Equal(t, uint32(f.clock.Now().Unix()), resp.Metadata.MilestoneTimestamp)

	_, err = f.ledger.Output(ctx, types.OutputID{Index: 9})
	assert.True(t, errors.Is(err, nodeclient.ErrNotFound))
}

func TestLedger_TransferIncludedAtMilestone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.ledger.Fund(f.addr, 1_000_000)
	other := types.Address{Kind: types.AddressPubKeyHash, ID: types.Hash{7}}

	blk := f.spend(t, []types.OutputID{in}, basic(other, 400_000), basic(f.addr, 600_000))
	blockID, err := f.ledger.SubmitBlock(ctx, blk)
	require.NoError(t, err)

	md, err := f.ledger.BlockMetadata(ctx, blockID)
	require.NoError(t, err)
	assert.Empty(t, md.LedgerInclusionState)
	assert.Len(t, f.ledger.PendingBlocks(), 1)

	f.ledger.Milestone()

	md, err = f.ledger.BlockMetadata(ctx, blockID)
	require.NoError(t, err)
	assert.Equal(t, nodeclient.InclusionIncluded, md.LedgerInclusionState)

	spent, err := f.ledger.OutputMetadata(ctx, in)
	require.NoError(t, err)
	assert.True(t, spent.IsSpent)
	require.NotNil(t, spent.TransactionIDSpent)
	assert.Equal(t, blk.Payload.ID(), *spent.TransactionIDSpent)

	ids, err := f.ledger.OutputIDs(ctx, nodeclient.OutputQuery{Kind: output.KindBasic, Address: other})
	require.NoError(t, err)
	assert.Equal(t, []types.OutputID{blk.Payload.OutputID(0)}, ids)

	included, err := f.ledger.IncludedBlock(ctx, blk.Payload.ID())
	require.NoError(t, err)
	assert.Equal(t, blockID, included.ID())
}

func TestLedger_DoubleSpendConflicts(t *testing.T) {
	f := newFixture(t, WithAutoMilestone())
	ctx := context.Background()
	in := f.ledger.Fund(f.addr, 1_000_000)
	other := types.Address{Kind: types.AddressPubKeyHash, ID: types.Hash{8}}

	first := f.spend(t, []types.OutputID{in}, basic(other, 1_000_000))
	second := f.spend(t, []types.OutputID{in}, basic(f.addr, 1_000_000))

	firstID, err := f.ledger.SubmitBlock(ctx, first)
	require.NoError(t, err)
	secondID, err := f.ledger.SubmitBlock(ctx, second)
	require.NoError(t, err)

	md, err := f.ledger.BlockMetadata(ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, nodeclient.InclusionIncluded, md.LedgerInclusionState)

	md, err = f.ledger.BlockMetadata(ctx, secondID)
	require.NoError(t, err)
	assert.Equal(t, nodeclient.InclusionConflicting, md.LedgerInclusionState)
	assert.Equal(t, ConflictInputSpent, md.ConflictReason)
}

func TestLedger_ReattachedTransactionKeepsFirstInclusion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.ledger.Fund(f.addr, 1_000_000)

	blk := f.spend(t, []types.OutputID{in}, basic(f.addr, 1_000_000))
	firstID, err := f.ledger.SubmitBlock(ctx, blk)
	require.NoError(t, err)

	reattached, err := block.New([]types.BlockID{{0x42}}, blk.Payload)
	require.NoError(t, err)
	secondID, err := f.ledger.SubmitBlock(ctx, reattached)
	require.NoError(t, err)
	require.NotEqual(t, firstID, secondID)

	f.ledger.Milestone()

	md, err := f.ledger.BlockMetadata(ctx, secondID)
	require.NoError(t, err)
	assert.Equal(t, nodeclient.InclusionConflicting, md.LedgerInclusionState)

	included, err := f.ledger.IncludedBlock(ctx, blk.Payload.ID())
	require.NoError(t, err)
	assert.Equal(t, firstID, included.ID())
}

func TestLedger_RejectsUnbalancedAndBadSignatures(t *testing.T) {
	f := newFixture(t, WithAutoMilestone())
	ctx := context.Background()

	in := f.ledger.Fund(f.addr, 1_000_000)
	unbalanced := f.spend(t, []types.OutputID{in}, basic(f.addr, 900_000))
	id, err := f.ledger.SubmitBlock(ctx, unbalanced)
	require.NoError(t, err)
	md, err := f.ledger.BlockMetadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, nodeclient.InclusionConflicting, md.LedgerInclusionState)
	assert.Equal(t, ConflictInvalid, md.ConflictReason)

	stranger, err := crypto.GenerateKey()
	require.NoError(t, err)
	foreign := f.ledger.Fund(stranger.Address(), 1_000_000)
	stolen := f.spend(t, []types.OutputID{foreign}, basic(f.addr, 1_000_000))
	id, err = f.ledger.SubmitBlock(ctx, stolen)
	require.NoError(t, err)
	md, err = f.ledger.BlockMetadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, nodeclient.InclusionConflicting, md.LedgerInclusionState)
}

func TestLedger_RejectsDustOutput(t *testing.T) {
	f := newFixture(t, WithAutoMilestone())
	ctx := context.Background()
	in := f.ledger.Fund(f.addr, 1_000_000)

	blk := f.spend(t, []types.OutputID{in}, basic(f.addr, 999_000), basic(f.addr, 1_000))
	id, err := f.ledger.SubmitBlock(ctx, blk)
	require.NoError(t, err)
	md, err := f.ledger.BlockMetadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, nodeclient.InclusionConflicting, md.LedgerInclusionState)
}

func TestLedger_StorageDepositReturnMustBePaid(t *testing.T) {
	f := newFixture(t, WithAutoMilestone())
	ctx := context.Background()
	sender := types.Address{Kind: types.AddressPubKeyHash, ID: types.Hash{0x51}}
	ret := output.DefaultRentStructure.MinReturnDeposit(sender)

	in := f.ledger.AddOutput(&output.BasicOutput{
		Amount: 500_000,
		UnlockConditions: output.UnlockConditions{
			Address:              &f.addr,
			StorageDepositReturn: &output.StorageDepositReturn{ReturnAddress: sender, Amount: ret},
		},
	})

	unpaid := f.spend(t, []types.OutputID{in}, basic(f.addr, 500_000))
	id, err := f.ledger.SubmitBlock(ctx, unpaid)
	require.NoError(t, err)
	md, err := f.ledger.BlockMetadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, nodeclient.InclusionConflicting, md.LedgerInclusionState)

	paid := f.spend(t, []types.OutputID{in}, basic(f.addr, 500_000-ret), basic(sender, ret))
	id, err = f.ledger.SubmitBlock(ctx, paid)
	require.NoError(t, err)
	md, err = f.ledger.BlockMetadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, nodeclient.InclusionIncluded, md.LedgerInclusionState)
}

func TestLedger_PromoteAndReattachHints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.ledger.Fund(f.addr, 1_000_000)

	id, err := f.ledger.SubmitBlock(ctx, f.spend(t, []types.OutputID{in}, basic(f.addr, 1_000_000)))
	require.NoError(t, err)

	md, err := f.ledger.BlockMetadata(ctx, id)
	require.NoError(t, err)
	assert.False(t, md.ShouldPromote)
	assert.False(t, md.ShouldReattach)

	f.clock.SetTime(f.clock.Now().Add(PromoteAfter))
	md, err = f.ledger.BlockMetadata(ctx, id)
	require.NoError(t, err)
	assert.True(t, md.ShouldPromote)

	f.clock.SetTime(f.clock.Now().Add(ReattachAfter))
	md, err = f.ledger.BlockMetadata(ctx, id)
	require.NoError(t, err)
	assert.False(t, md.ShouldPromote)
	assert.True(t, md.ShouldReattach)
}

func TestLedger_FailureInjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.ledger.Fund(f.addr, 1_000_000)
	blk := f.spend(t, []types.OutputID{in}, basic(f.addr, 1_000_000))

	boom := errors.New("node unavailable")
	f.ledger.FailSubmit(boom)
	_, err := f.ledger.SubmitBlock(ctx, blk)
	assert.ErrorIs(t, err, boom)

	f.ledger.FailSubmit(nil)
	id, err := f.ledger.SubmitBlock(ctx, blk)
	require.NoError(t, err)

	f.ledger.Prune(blk.Payload.ID())
	_, err = f.ledger.BlockMetadata(ctx, id)
	assert.True(t, errors.Is(err, nodeclient.ErrNotFound))
	_, err = f.ledger.IncludedBlock(ctx, blk.Payload.ID())
	assert.True(t, errors.Is(err, nodeclient.ErrNotFound))

	require.NoError(t, f.ledger.SpendOutput(in))
	md, err := f.ledger.OutputMetadata(ctx, in)
	require.NoError(t, err)
	assert.True(t, md.IsSpent)
	assert.Equal(t, 2, f.ledger.Calls(nodeclient.MethodSubmitBlock))
}

func TestLedger_ChainOutputIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	nftID := f.ledger.AddOutput(&output.NftOutput{Amount: 100_000, UnlockConditions: output.UnlockConditions{Address: &f.addr}})
	got, err := f.ledger.NftOutputID(ctx, output.NftIDFromOutputID(nftID))
	require.NoError(t, err)
	assert.Equal(t, nftID, got)

	_, err = f.ledger.AliasOutputID(ctx, types.AliasID{1})
	assert.True(t, errors.Is(err, nodeclient.ErrNotFound))
	assert.ErrorIs(t, err, ErrNoChainOutput)
}

func TestLedger_InfoReportsParams(t *testing.T) {
	f := newFixture(t)
	info, err := f.ledger.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testParams, info.Protocol)
	assert.True(t, info.Healthy)
	assert.Equal(t, uint32(f.clock.Now().Unix()), info.LatestMilestoneTimestamp)
}
