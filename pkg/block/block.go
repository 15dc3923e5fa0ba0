// Package block defines the blocks that carry transactions into the Tangle.
package block

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Klingon-tech/tangle-wallet/pkg/crypto"
	"github.com/Klingon-tech/tangle-wallet/pkg/tx"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// ProtocolVersion is the block format version.
const ProtocolVersion = 2

// Parent limits.
const (
	MinParents = 1
	MaxParents = 8
)

// Block errors.
var (
	ErrParentCount = errors.New("invalid number of parents")
)

// Block references parent blocks and optionally carries a transaction.
// A block without payload is used to promote other blocks.
type Block struct {
	ProtocolVersion uint8           `json:"protocolVersion"`
	Parents         []types.BlockID `json:"parents"`
	Payload         *tx.Payload     `json:"payload,omitempty"`
	Nonce           uint64          `json:"nonce,string"`
}

// New creates a block carrying payload on top of parents.
func New(parents []types.BlockID, payload *tx.Payload) (*Block, error) {
	if len(parents) < MinParents || len(parents) > MaxParents {
		return nil, fmt.Errorf("%w: %d", ErrParentCount, len(parents))
	}
	return &Block{
		ProtocolVersion: ProtocolVersion,
		Parents:         append([]types.BlockID(nil), parents...),
		Payload:         payload,
	}, nil
}

// powPrefix returns the serialized block without the trailing nonce.
func (b *Block) powPrefix() []byte {
	buf := []byte{b.ProtocolVersion, byte(len(b.Parents))}
	for _, p := range b.Parents {
		buf = append(buf, p[:]...)
	}
	if b.Payload == nil {
		return binary.LittleEndian.AppendUint32(buf, 0)
	}
	pb := b.Payload.Bytes()
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(pb)))
	return append(buf, pb...)
}

// Bytes returns the serialized block.
func (b *Block) Bytes() []byte {
	return binary.LittleEndian.AppendUint64(b.powPrefix(), b.Nonce)
}

// ID returns the block ID.
func (b *Block) ID() types.BlockID {
	return types.BlockID(crypto.Hash(b.Bytes()))
}
