package crypto

import (
	"testing"

	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"empty input", []byte{}, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"},
		{"hello", []byte("hello"), "ea8f163db38682925e4491c5e58d4bb3506ef8c14eb78a86e908c5624a67200f"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, err := types.HexToHash(tt.want)
			require.NoError(t, err)
			assert.Equal(t, want, Hash(tt.input))
		})
	}
}

func TestHashAll_EqualsConcat(t *testing.T) {
	a, b := []byte("left"), []byte("right")
	assert.Equal(t, Hash(append(append([]byte{}, a...), b...)), HashAll(a, b))
	assert.NotEqual(t, HashAll(a, b), HashAll(b, a))
}

func TestAddressFromPubKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	addr := AddressFromPubKey(key.PublicKey())
	assert.Equal(t, types.AddressPubKeyHash, addr.Kind)
	assert.Equal(t, Hash(key.PublicKey()), addr.ID)
	assert.Equal(t, addr, key.Address())
}
