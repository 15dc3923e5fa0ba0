package block

import (
	"context"
	"testing"
	"time"

	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ParentBounds(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrParentCount)

	_, err = New(make([]types.BlockID, MaxParents+1), nil)
	assert.ErrorIs(t, err, ErrParentCount)

	b, err := New([]types.BlockID{{0x01}}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(ProtocolVersion), b.ProtocolVersion)
}

func TestBlock_IDDependsOnNonce(t *testing.T) {
	b, err := New([]types.BlockID{{0x01}}, nil)
	require.NoError(t, err)
	id := b.ID()
	b.Nonce++
	assert.NotEqual(t, id, b.ID())
}

func TestSeal(t *testing.T) {
	for _, threads := range []int{1, 4} {
		b, err := New([]types.BlockID{{0x02}}, nil)
		require.NoError(t, err)

		require.NoError(t, Seal(context.Background(), b, 500, threads))
		assert.NoError(t, VerifyPoW(b, 500))
	}
}

func TestSeal_ZeroScore(t *testing.T) {
	b, err := New([]types.BlockID{{0x02}}, nil)
	require.NoError(t, err)
	require.NoError(t, Seal(context.Background(), b, 0, 1))
	assert.Zero(t, b.Nonce)
	assert.NoError(t, VerifyPoW(b, 0))
}

func TestSeal_Cancelled(t *testing.T) {
	b, err := New([]types.BlockID{{0x03}}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// A score this high is practically unreachable.
	err = Seal(ctx, b, ^uint32(0), 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVerifyPoW_Insufficient(t *testing.T) {
	b, err := New([]types.BlockID{{0x04}}, nil)
	require.NoError(t, err)
	// Find a nonce that fails a hard target.
	for VerifyPoW(b, 1<<20) == nil {
		b.Nonce++
	}
	assert.ErrorIs(t, VerifyPoW(b, 1<<20), ErrInsufficientWork)
}
