package output

import (
	"encoding/json"
	"testing"

	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ownAddr     = types.Address{Kind: types.AddressPubKeyHash, ID: types.Hash{0x01}}
	foreignAddr = types.Address{Kind: types.AddressPubKeyHash, ID: types.Hash{0x02}}
	tokenA      = types.NewFoundryID(types.AliasID{0xaa}, 1, types.SimpleTokenScheme)
	tokenB      = types.NewFoundryID(types.AliasID{0xbb}, 1, types.SimpleTokenScheme)
)

func owned(a types.Address) bool { return a == ownAddr }

func basic(amount uint64, conds UnlockConditions) *BasicOutput {
	return &BasicOutput{Amount: amount, UnlockConditions: conds}
}

func addrPtr(a types.Address) *types.Address { return &a }

func TestMinStorageDeposit(t *testing.T) {
	plain := basic(0, UnlockConditions{Address: addrPtr(ownAddr)})
	// 46 bytes + 10*34 key + 1*40 data vbytes at 100 per vbyte.
	assert.Equal(t, uint64(42_600), DefaultRentStructure.MinStorageDeposit(plain))
	assert.Equal(t, uint64(42_600), DefaultRentStructure.MinReturnDeposit(foreignAddr))

	withTokens := plain.Clone().(*BasicOutput)
	withTokens.NativeTokens = NativeTokens{{ID: tokenA, Amount: uint256.NewInt(5)}}
	assert.Greater(t, DefaultRentStructure.MinStorageDeposit(withTokens), uint64(42_600))

	assert.Zero(t, DefaultRentStructure.MinStorageDeposit(&TreasuryOutput{Amount: 1}))
}

func TestCheckStorageDeposit(t *testing.T) {
	r := DefaultRentStructure
	tests := []struct {
		name    string
		out     Output
		wantErr bool
	}{
		{"enough", basic(1_000_000, UnlockConditions{Address: addrPtr(ownAddr)}), false},
		{"too small", basic(1_000, UnlockConditions{Address: addrPtr(ownAddr)}), true},
		{"return too small", basic(1_000_000, UnlockConditions{
			Address:              addrPtr(ownAddr),
			StorageDepositReturn: &StorageDepositReturn{ReturnAddress: foreignAddr, Amount: 10},
		}), true},
		{"return too large", basic(100_000, UnlockConditions{
			Address:              addrPtr(ownAddr),
			StorageDepositReturn: &StorageDepositReturn{ReturnAddress: foreignAddr, Amount: 200_000},
		}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.CheckStorageDeposit(tt.out)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInsufficientDeposit)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	const now = 1_000

	tests := []struct {
		name  string
		conds UnlockConditions
		want  Reachability
	}{
		{"plain own", UnlockConditions{Address: addrPtr(ownAddr)}, ReachableForever},
		{"plain foreign", UnlockConditions{Address: addrPtr(foreignAddr)}, Unreachable},
		{"timelocked own", UnlockConditions{
			Address: addrPtr(ownAddr), Timelock: &Timelock{UnixTime: now + 10},
		}, ReachableLater},
		{"timelock passed", UnlockConditions{
			Address: addrPtr(ownAddr), Timelock: &Timelock{UnixTime: now - 10},
		}, ReachableForever},
		{"expiration to foreign pending", UnlockConditions{
			Address: addrPtr(ownAddr), Expiration: &Expiration{ReturnAddress: foreignAddr, UnixTime: now + 10},
		}, ReachableNow},
		{"expiration to own pending", UnlockConditions{
			Address: addrPtr(ownAddr), Expiration: &Expiration{ReturnAddress: ownAddr, UnixTime: now + 10},
		}, ReachableForever},
		{"expired to foreign", UnlockConditions{
			Address: addrPtr(ownAddr), Expiration: &Expiration{ReturnAddress: foreignAddr, UnixTime: now - 10},
		}, Unreachable},
		{"expired back to us", UnlockConditions{
			Address: addrPtr(foreignAddr), Expiration: &Expiration{ReturnAddress: ownAddr, UnixTime: now - 10},
		}, ReachableForever},
		{"sent by us awaiting expiration", UnlockConditions{
			Address: addrPtr(foreignAddr), Expiration: &Expiration{ReturnAddress: ownAddr, UnixTime: now + 10},
		}, ReachableLater},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(basic(100, tt.conds), now, owned))
		})
	}

	assert.Equal(t, Unreachable, Classify(&TreasuryOutput{Amount: 1}, now, owned))
}

func TestUnlockAddress_Alias(t *testing.T) {
	a := &AliasOutput{UnlockConditions: UnlockConditions{
		StateControllerAddress: addrPtr(ownAddr),
		GovernorAddress:        addrPtr(foreignAddr),
	}}
	got, ok := UnlockAddress(a, 0, true)
	require.True(t, ok)
	assert.Equal(t, ownAddr, got)
	got, ok = UnlockAddress(a, 0, false)
	require.True(t, ok)
	assert.Equal(t, foreignAddr, got)
}

func TestIsStateTransition(t *testing.T) {
	inID := types.OutputID{TransactionID: types.TransactionID{0x01}}
	in := &AliasOutput{AliasID: types.AliasID{0x09}, StateIndex: 3}

	next := in.Clone().(*AliasOutput)
	next.StateIndex = 4
	assert.True(t, IsStateTransition(in, inID, []Output{next}))

	gov := in.Clone().(*AliasOutput)
	assert.False(t, IsStateTransition(in, inID, []Output{gov}))
	assert.False(t, IsStateTransition(in, inID, nil))

	created := &AliasOutput{}
	resolved := ResolvedAliasID(created, inID)
	assert.Equal(t, AliasIDFromOutputID(inID), resolved)
}

func TestTokenSum(t *testing.T) {
	sum := TokenSum{}
	require.NoError(t, sum.Add(tokenB, uint256.NewInt(3)))
	require.NoError(t, sum.Add(tokenA, uint256.NewInt(4)))
	require.NoError(t, sum.Add(tokenA, uint256.NewInt(6)))

	tokens, err := sum.Tokens()
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, tokenA, tokens[0].ID)
	assert.Equal(t, uint64(10), tokens[0].Amount.Uint64())

	require.NoError(t, sum.Sub(tokenB, uint256.NewInt(3)))
	tokens, err = sum.Tokens()
	require.NoError(t, err)
	assert.Len(t, tokens, 1)

	assert.ErrorIs(t, sum.Sub(tokenB, uint256.NewInt(1)), ErrInsufficientNativeTokens)

	ceiling := new(uint256.Int).SetAllOne()
	require.NoError(t, sum.Add(tokenB, ceiling))
	assert.ErrorIs(t, sum.Add(tokenB, uint256.NewInt(1)), ErrNativeTokensOverflow)
}

func TestTokenSum_TooMany(t *testing.T) {
	sum := TokenSum{}
	for i := 0; i <= MaxNativeTokensCount; i++ {
		id := types.NewFoundryID(types.AliasID{byte(i)}, uint32(i), types.SimpleTokenScheme)
		require.NoError(t, sum.Add(id, uint256.NewInt(1)))
	}
	_, err := sum.Tokens()
	assert.ErrorIs(t, err, ErrTooManyNativeTokens)
}

func TestWithNativeTokens_Treasury(t *testing.T) {
	_, err := WithNativeTokens(&TreasuryOutput{}, NativeTokens{{ID: tokenA, Amount: uint256.NewInt(1)}})
	assert.ErrorIs(t, err, ErrInvalidOutputKind)
}

func TestClone_Independent(t *testing.T) {
	orig := &NftOutput{
		Amount:           10,
		NativeTokens:     NativeTokens{{ID: tokenA, Amount: uint256.NewInt(1)}},
		UnlockConditions: UnlockConditions{Address: addrPtr(ownAddr)},
		Features:         Features{Metadata: []byte("meta")},
	}
	c := orig.Clone().(*NftOutput)
	c.NativeTokens[0].Amount.SetUint64(99)
	c.UnlockConditions.Address.ID[0] = 0xff
	c.Features.Metadata[0] = 'X'

	assert.Equal(t, uint64(1), orig.NativeTokens[0].Amount.Uint64())
	assert.Equal(t, ownAddr, *orig.UnlockConditions.Address)
	assert.Equal(t, "meta", string(orig.Features.Metadata))
}

func TestEnvelope_JSON(t *testing.T) {
	outputs := []Output{
		basic(42_600, UnlockConditions{
			Address:    addrPtr(ownAddr),
			Expiration: &Expiration{ReturnAddress: foreignAddr, UnixTime: 77},
		}),
		&AliasOutput{Amount: 1, AliasID: types.AliasID{0x05}, StateIndex: 2, FoundryCounter: 1,
			UnlockConditions: UnlockConditions{StateControllerAddress: addrPtr(ownAddr), GovernorAddress: addrPtr(ownAddr)}},
		&FoundryOutput{Amount: 2, SerialNumber: 1, TokenScheme: SimpleTokenScheme{
			MintedTokens: uint256.NewInt(100), MeltedTokens: uint256.NewInt(1), MaximumSupply: uint256.NewInt(1000),
		}, UnlockConditions: UnlockConditions{ImmutableAliasAddress: addrPtr(types.AliasID{0x05}.ToAddress())}},
		&TreasuryOutput{Amount: 3},
	}
	for _, o := range outputs {
		data, err := json.Marshal(Envelope{o})
		require.NoError(t, err)

		var back Envelope
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, o, back.Output)
		assert.Equal(t, Bytes(o), Bytes(back.Output))
	}

	var bad Envelope
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"type":99,"data":{}}`), &bad), ErrUnknownOutputKind)
}

func TestFoundryID(t *testing.T) {
	alias := types.AliasID{0x05}
	f := &FoundryOutput{SerialNumber: 7, UnlockConditions: UnlockConditions{
		ImmutableAliasAddress: addrPtr(alias.ToAddress()),
	}}
	assert.Equal(t, types.NewFoundryID(alias, 7, types.SimpleTokenScheme), f.FoundryID())
}
