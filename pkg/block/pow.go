package block

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Klingon-tech/tangle-wallet/pkg/crypto"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"
)

// PoW errors.
var (
	ErrInsufficientWork = errors.New("block hash does not meet pow target")
	ErrNonceExhausted   = errors.New("nonce space exhausted")
)

var errFound = errors.New("nonce found")

// target returns MaxUint256 / score. A score of 0 disables proof of work.
func target(score uint32) *uint256.Int {
	ceiling := new(uint256.Int).SetAllOne()
	return ceiling.Div(ceiling, uint256.NewInt(uint64(score)))
}

// VerifyPoW checks that the block hash meets minScore.
func VerifyPoW(b *Block, minScore uint32) error {
	if minScore == 0 {
		return nil
	}
	h := crypto.Hash(b.Bytes())
	if new(uint256.Int).SetBytes32(h[:]).Gt(target(minScore)) {
		return ErrInsufficientWork
	}
	return nil
}

// Seal searches a nonce for b that satisfies minScore using threads workers.
// Each worker scans a strided partition of the nonce space. Seal returns
// ctx.Err() when cancelled.
func Seal(ctx context.Context, b *Block, minScore uint32, threads int) error {
	if minScore == 0 {
		return nil
	}
	if threads < 1 {
		threads = 1
	}
	t := target(minScore)
	prefix := b.powPrefix()

	found := make(chan uint64, 1)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < threads; i++ {
		start, stride := uint64(i), uint64(threads)
		g.Go(func() error {
			buf := make([]byte, len(prefix)+8)
			copy(buf, prefix)
			hashInt := new(uint256.Int)

			for nonce := start; ; nonce += stride {
				if (nonce/stride)&0xFFFF == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				binary.LittleEndian.PutUint64(buf[len(prefix):], nonce)
				h := crypto.Hash(buf)
				if !hashInt.SetBytes32(h[:]).Gt(t) {
					select {
					case found <- nonce:
					default:
					}
					return errFound
				}
				if nonce > ^uint64(0)-stride {
					return ErrNonceExhausted
				}
			}
		})
	}

	err := g.Wait()
	select {
	case nonce := <-found:
		b.Nonce = nonce
		return nil
	default:
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("seal block: %w", err)
}
