package wallet

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountDetails_JSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams)
	a := f.account(t)
	own := firstAddress(t, a)
	f.ledger.Fund(own, 3_000_000)
	micro := basicTo(own, 200_000)
	micro.UnlockConditions.StorageDepositReturn = &output.StorageDepositReturn{ReturnAddress: foreignAddress(2), Amount: 50_000}
	f.ledger.AddOutput(micro)
	tokenID := types.NewFoundryID(types.AliasID{0x0A}, 1, types.SimpleTokenScheme)
	withTokens := basicTo(own, 500_000)
	withTokens.NativeTokens = output.NativeTokens{{ID: tokenID, Amount: uint256.NewInt(77)}}
	f.ledger.AddOutput(withTokens)
	forceSync(t, a)
	_, err := a.SendAmount(ctx, []SendParams{{Address: foreignAddress(1), Amount: 1_000_000}},
		&TransactionOptions{Note: "round trip", RemainderStrategy: RemainderToChangeAddress})
	require.NoError(t, err)

	d := a.Details()
	data, err := json.Marshal(d)
	require.NoError(t, err)

	decoded := new(AccountDetails)
	require.NoError(t, json.Unmarshal(data, decoded))
	again, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))

	assert.Equal(t, d.PublicAddresses, decoded.PublicAddresses)
	assert.Equal(t, d.InternalAddresses, decoded.InternalAddresses)
	assert.Equal(t, d.LockedOutputs, decoded.LockedOutputs)
	assert.Equal(t, d.PendingTransactions, decoded.PendingTransactions)
	for id := range decoded.UnspentOutputs {
		assert.Same(t, decoded.Outputs[id], decoded.UnspentOutputs[id], "unspent output %s not linked", id)
	}

	now := uint32(testStart.Unix())
	want, err := d.balance(testParams, now)
	require.NoError(t, err)
	got, err := decoded.balance(testParams, now)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, uint64(77), got.NativeTokens[0].Total.Uint64())
}

func TestAccountDetails_DecodeFillsCollections(t *testing.T) {
	d := new(AccountDetails)
	require.NoError(t, json.Unmarshal([]byte(`{"index":3,"coinType":4219,"alias":"old"}`), d))
	assert.Equal(t, uint32(3), d.Index)
	assert.NotNil(t, d.Outputs)
	assert.NotNil(t, d.LockedOutputs)
	assert.NotNil(t, d.PendingTransactions)
	assert.NotNil(t, d.NativeTokenFoundries)
	d.LockedOutputs.Add(types.OutputID{Index: 1})
}

func TestAccountDetails_CloneIsIndependent(t *testing.T) {
	f := newFixture(t, testParams)
	a := f.account(t)
	id := f.ledger.Fund(firstAddress(t, a), 1_000_000)
	forceSync(t, a)

	d := a.Details()
	d.LockedOutputs.Add(id)
	d.UnspentOutputs[id].IsSpent = true
	d.PublicAddresses[0].Used = false

	fresh := a.Details()
	assert.False(t, fresh.LockedOutputs.Has(id))
	assert.False(t, fresh.UnspentOutputs[id].IsSpent)
	assert.True(t, fresh.PublicAddresses[0].Used)
}

func TestSet_SortedJSON(t *testing.T) {
	s := make(Set[types.OutputID])
	b := types.OutputID{TransactionID: types.TransactionID{0x02}}
	a := types.OutputID{TransactionID: types.TransactionID{0x01}, Index: 4}
	s.Add(b)
	s.Add(a)
	assert.Equal(t, []types.OutputID{a, b}, s.Sorted())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	var decoded Set[types.OutputID]
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s, decoded)
}
