package signer

import (
	"testing"

	"github.com/Klingon-tech/tangle-wallet/pkg/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeed(t *testing.T) []byte {
	t.Helper()
	seed, err := SeedFromMnemonic(testMnemonic, "TREZOR")
	require.NoError(t, err)
	return seed
}

func TestNewMasterKey(t *testing.T) {
	master, err := NewMasterKey(testSeed(t))
	require.NoError(t, err)
	assert.True(t, master.IsPrivate())
	assert.Len(t, master.PrivateKeyBytes(), 32)
	assert.Len(t, master.PublicKeyBytes(), 33)
}

func TestNewMasterKey_InvalidSeedLength(t *testing.T) {
	for _, n := range []int{0, 32, 128} {
		_, err := NewMasterKey(make([]byte, n))
		assert.ErrorIs(t, err, ErrInvalidSeed, "len %d", n)
	}
}

func TestDeriveChain(t *testing.T) {
	master, err := NewMasterKey(testSeed(t))
	require.NoError(t, err)

	c := Chain{CoinType: CoinTypeShimmer, Account: 0, Change: ChangeExternal, Index: 3}
	assert.Equal(t, "m/44'/4219'/0'/0/3", c.String())
	k1, err := master.DeriveChain(c)
	require.NoError(t, err)

	// The same key through the account key.
	acct, err := master.DeriveAccount(CoinTypeShimmer, 0)
	require.NoError(t, err)
	k2, err := acct.DerivePath(ChangeExternal, 3)
	require.NoError(t, err)
	assert.Equal(t, k1.PrivateKeyBytes(), k2.PrivateKeyBytes())

	// Coin type, account, change and index all matter.
	for _, other := range []Chain{
		{CoinType: CoinTypeIOTA, Change: ChangeExternal, Index: 3},
		{CoinType: CoinTypeShimmer, Account: 1, Change: ChangeExternal, Index: 3},
		{CoinType: CoinTypeShimmer, Change: ChangeInternal, Index: 3},
		{CoinType: CoinTypeShimmer, Change: ChangeExternal, Index: 4},
	} {
		k, err := master.DeriveChain(other)
		require.NoError(t, err)
		assert.NotEqual(t, k1.Address(), k.Address(), "%+v", other)
	}
}

func TestHDKey_SignsForItsAddress(t *testing.T) {
	master, err := NewMasterKey(testSeed(t))
	require.NoError(t, err)
	hd, err := master.DeriveChain(Chain{CoinType: CoinTypeShimmer})
	require.NoError(t, err)

	key, err := hd.PrivateKey()
	require.NoError(t, err)
	assert.Equal(t, hd.Address(), key.Address())

	msg := crypto.Hash([]byte("essence"))
	sig, err := key.Sign(msg)
	require.NoError(t, err)
	assert.True(t, crypto.VerifySignature(msg, sig, hd.PublicKeyBytes()))
}
