package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"0", 0},
		{"1", 1_000_000},
		{"1.5", 1_500_000},
		{"0.000001", 1},
		{"42.123456", 42_123_456},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, in := range []string{"", "-1", "1.0000001", "abc", "1.x", "18446744073709551616"} {
		_, err := parseAmount(in)
		assert.Error(t, err, in)
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.000000", formatAmount(0))
	assert.Equal(t, "1.500000", formatAmount(1_500_000))
	assert.Equal(t, "0.000042", formatAmount(42))
}
