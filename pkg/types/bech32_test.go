package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBech32_Roundtrip(t *testing.T) {
	data := []byte{0x00, 0x8f, 0x3a, 0x44, 0xb8, 0x05, 0x6c, 0xaf, 0xec, 0x36, 0x8d,
		0xea, 0x0c, 0xbe, 0x0a, 0xd1, 0xd9, 0xbc, 0x3f, 0x43, 0x05}

	for _, hrp := range []string{MainnetHRP, TestnetHRP, "rms"} {
		encoded, err := Bech32Encode(hrp, data)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(encoded, hrp+"1"))

		gotHRP, decoded, err := Bech32Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, hrp, gotHRP)
		assert.Equal(t, data, decoded)
	}
}

// BIP-173 valid checksum vectors with an empty data part.
func TestBech32Decode_KnownVectors(t *testing.T) {
	for _, s := range []string{
		"a12uel5l",
		"A12UEL5L",
		"abcdef1qpzry9x8gf2tvdw0s3jn54khce6mua7lmqqqxw",
	} {
		_, _, err := Bech32Decode(s)
		assert.NoError(t, err, s)
	}
}

func TestBech32Decode_Errors(t *testing.T) {
	valid, err := Bech32Encode(MainnetHRP, make([]byte, AddressSize))
	require.NoError(t, err)

	last := valid[len(valid)-1]
	swapped := byte('q')
	if last == 'q' {
		swapped = 'p'
	}

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrBech32Empty},
		{"no separator", "iotaqqqqqqqq", ErrBech32Separator},
		{"checksum", valid[:len(valid)-1] + string(swapped), ErrBech32Checksum},
		{"mixed case", "Iota" + valid[4:], ErrBech32MixedCase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Bech32Decode(tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, _, err = Bech32Decode("iota1b!!invalid")
	assert.Error(t, err)
}

func TestBech32Encode_EmptyHRP(t *testing.T) {
	_, err := Bech32Encode("", []byte{0x01})
	assert.ErrorIs(t, err, ErrBech32Empty)
}
