package tx

import (
	"encoding/json"
	"testing"

	"github.com/Klingon-tech/tangle-wallet/pkg/crypto"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNetworkID = 42

func basicTo(addr types.Address, amount uint64) *output.BasicOutput {
	a := addr
	return &output.BasicOutput{Amount: amount, UnlockConditions: output.UnlockConditions{Address: &a}}
}

func outID(b byte, idx uint16) types.OutputID {
	return types.OutputID{TransactionID: types.TransactionID{b}, Index: idx}
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return k
}

func TestEssence_SigningBytes(t *testing.T) {
	addr := types.Address{ID: types.Hash{0x01}}
	in := basicTo(addr, 100)

	e, err := NewBuilder(testNetworkID).
		AddInput(outID(1, 0), in).
		AddOutput(basicTo(addr, 100)).
		Build()
	require.NoError(t, err)
	assert.Equal(t, InputsCommitment([]output.Output{in}), e.InputsCommitment)

	h1 := e.SigningHash()
	assert.Equal(t, h1, e.SigningHash())

	e.Outputs[0] = basicTo(addr, 99)
	assert.NotEqual(t, h1, e.SigningHash())

	e.Payload = &TaggedData{Tag: []byte("tag")}
	withPayload := e.SigningHash()
	e.Payload = nil
	assert.NotEqual(t, withPayload, e.SigningHash())
}

func TestPayload_IDCoversUnlocks(t *testing.T) {
	addr := types.Address{ID: types.Hash{0x01}}
	e, err := NewBuilder(testNetworkID).AddInput(outID(1, 0), basicTo(addr, 1)).AddOutput(basicTo(addr, 1)).Build()
	require.NoError(t, err)

	p1 := &Payload{Essence: *e, Unlocks: []Unlock{SignatureUnlock([]byte{1}, []byte{2})}}
	p2 := &Payload{Essence: *e, Unlocks: []Unlock{SignatureUnlock([]byte{1}, []byte{3})}}
	assert.NotEqual(t, p1.ID(), p2.ID())
	assert.Equal(t, p1.ID(), p1.OutputID(3).TransactionID)
	assert.Equal(t, uint16(3), p1.OutputID(3).Index)
}

func TestPayload_JSON(t *testing.T) {
	key := mustKey(t)
	addr := key.Address()
	token := types.NewFoundryID(types.AliasID{0x01}, 1, types.SimpleTokenScheme)
	out := basicTo(addr, 500)
	out.NativeTokens = output.NativeTokens{{ID: token, Amount: uint256.NewInt(7)}}

	e, err := NewBuilder(testNetworkID).
		AddInput(outID(1, 0), basicTo(addr, 500)).
		AddOutput(out).
		SetTaggedData([]byte("t"), []byte("d")).
		Build()
	require.NoError(t, err)
	sig, err := key.Sign(e.SigningHash())
	require.NoError(t, err)
	p := &Payload{Essence: *e, Unlocks: []Unlock{SignatureUnlock(key.PublicKey(), sig)}}

	data, err := json.Marshal(p)
	require.NoError(t, err)
	var back Payload
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, p.ID(), back.ID())
	assert.Equal(t, p.Unlocks, back.Unlocks)
}

func TestEssence_Validate(t *testing.T) {
	addr := types.Address{ID: types.Hash{0x01}}
	tooMany := make([]types.OutputID, output.MaxInputsCount+1)
	for i := range tooMany {
		tooMany[i] = outID(1, uint16(i))
	}

	tests := []struct {
		name    string
		essence Essence
		want    error
	}{
		{"no inputs", Essence{Outputs: []output.Output{basicTo(addr, 1)}}, ErrNoInputs},
		{"no outputs", Essence{Inputs: []types.OutputID{outID(1, 0)}}, ErrNoOutputs},
		{"duplicate", Essence{
			Inputs:  []types.OutputID{outID(1, 0), outID(1, 0)},
			Outputs: []output.Output{basicTo(addr, 1)},
		}, ErrDuplicateInput},
		{"too many inputs", Essence{Inputs: tooMany, Outputs: []output.Output{basicTo(addr, 1)}}, ErrTooManyInputs},
		{"treasury", Essence{
			Inputs:  []types.OutputID{outID(1, 0)},
			Outputs: []output.Output{&output.TreasuryOutput{Amount: 1}},
		}, ErrTreasuryNotWallet},
		{"overflow", Essence{
			Inputs:  []types.OutputID{outID(1, 0)},
			Outputs: []output.Output{basicTo(addr, ^uint64(0)), basicTo(addr, 1)},
		}, ErrOutputOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.essence.Validate(), tt.want)
		})
	}
}

func TestEssence_CheckInputs(t *testing.T) {
	addr := types.Address{ID: types.Hash{0x01}}
	in := basicTo(addr, 10)
	e, err := NewBuilder(testNetworkID).AddInput(outID(1, 0), in).AddOutput(basicTo(addr, 10)).Build()
	require.NoError(t, err)

	assert.NoError(t, e.CheckInputs(testNetworkID, []output.Output{in}))
	assert.ErrorIs(t, e.CheckInputs(testNetworkID+1, []output.Output{in}), ErrNetworkMismatch)
	assert.ErrorIs(t, e.CheckInputs(testNetworkID, []output.Output{basicTo(addr, 11)}), ErrCommitment)
}

func TestBurned(t *testing.T) {
	addr := types.Address{ID: types.Hash{0x01}}
	token := types.NewFoundryID(types.AliasID{0x01}, 1, types.SimpleTokenScheme)
	in := basicTo(addr, 100)
	in.NativeTokens = output.NativeTokens{{ID: token, Amount: uint256.NewInt(10)}}
	out := basicTo(addr, 100)
	out.NativeTokens = output.NativeTokens{{ID: token, Amount: uint256.NewInt(4)}}

	burned, err := Burned([]output.Output{in}, []output.Output{out})
	require.NoError(t, err)
	assert.Equal(t, uint64(6), burned.Get(token).Uint64())

	_, err = Burned([]output.Output{in}, []output.Output{basicTo(addr, 99)})
	assert.ErrorIs(t, err, ErrAmountMismatch)
}
