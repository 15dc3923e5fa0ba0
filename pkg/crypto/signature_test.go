package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, key.PublicKey(), PublicKeySize)

	msg := Hash([]byte("essence"))
	sig, err := key.Sign(msg)
	require.NoError(t, err)
	assert.Len(t, sig, SignatureSize)

	assert.True(t, VerifySignature(msg, sig, key.PublicKey()))
	assert.False(t, VerifySignature(Hash([]byte("other")), sig, key.PublicKey()))

	other, err := GenerateKey()
	require.NoError(t, err)
	assert.False(t, VerifySignature(msg, sig, other.PublicKey()))
}

func TestVerifySignature_Malformed(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	msg := Hash([]byte("x"))

	assert.False(t, VerifySignature(msg, []byte{0x01}, key.PublicKey()))
	assert.False(t, VerifySignature(msg, make([]byte, SignatureSize), []byte{0x02}))
}

func TestPrivateKeyFromBytes(t *testing.T) {
	secret := make([]byte, 32)
	secret[31] = 1
	k1, err := PrivateKeyFromBytes(secret)
	require.NoError(t, err)
	k2, err := PrivateKeyFromBytes(secret)
	require.NoError(t, err)
	assert.Equal(t, k1.PublicKey(), k2.PublicKey())

	_, err = PrivateKeyFromBytes(make([]byte, 31))
	assert.Error(t, err)
}
