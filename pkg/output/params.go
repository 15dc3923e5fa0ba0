package output

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/tangle-wallet/pkg/crypto"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// Protocol limits.
const (
	MaxInputsCount  = 128
	MaxOutputsCount = 128
)

// RentStructure prices the storage an output occupies on a node.
type RentStructure struct {
	VByteCost    uint32 `json:"vByteCost"`
	VBFactorData uint8  `json:"vByteFactorData"`
	VBFactorKey  uint8  `json:"vByteFactorKey"`
}

// DefaultRentStructure matches the public networks.
var DefaultRentStructure = RentStructure{VByteCost: 100, VBFactorData: 1, VBFactorKey: 10}

// offset covers the output ID key and the block ID, milestone index and timestamp
// a node stores alongside each output.
func (r RentStructure) offset() uint64 {
	return uint64(r.VBFactorKey)*types.OutputIDSize + uint64(r.VBFactorData)*(types.HashSize+4+4)
}

// MinStorageDeposit returns the minimum amount o has to hold.
func (r RentStructure) MinStorageDeposit(o Output) uint64 {
	if o.Kind() == KindTreasury {
		return 0
	}
	size := uint64(len(Bytes(o)))
	return uint64(r.VByteCost) * (uint64(r.VBFactorData)*size + r.offset())
}

// MinReturnDeposit returns the minimum amount of a basic output owned by addr,
// which is the least a storage deposit return can ask for.
func (r RentStructure) MinReturnDeposit(addr types.Address) uint64 {
	return r.MinStorageDeposit(&BasicOutput{UnlockConditions: UnlockConditions{Address: &addr}})
}

// CheckStorageDeposit verifies o holds at least its minimum storage deposit and
// that a storage deposit return is itself large enough to be stored.
func (r RentStructure) CheckStorageDeposit(o Output) error {
	need := r.MinStorageDeposit(o)
	if o.Deposit() < need {
		return fmt.Errorf("%w: %s output has %d, needs %d", ErrInsufficientDeposit, o.Kind(), o.Deposit(), need)
	}
	if sdr := o.Conditions().StorageDepositReturn; sdr != nil {
		if retMin := r.MinReturnDeposit(sdr.ReturnAddress); sdr.Amount < retMin {
			return fmt.Errorf("%w: storage deposit return of %d, needs %d", ErrInsufficientDeposit, sdr.Amount, retMin)
		}
		if sdr.Amount > o.Deposit() {
			return fmt.Errorf("%w: storage deposit return %d exceeds amount %d", ErrInsufficientDeposit, sdr.Amount, o.Deposit())
		}
	}
	return nil
}

// ProtocolParameters are the network constants a wallet needs.
type ProtocolParameters struct {
	NetworkName   string        `json:"networkName"`
	Bech32HRP     string        `json:"bech32Hrp"`
	MinPoWScore   uint32        `json:"minPowScore"`
	TokenSupply   uint64        `json:"tokenSupply"`
	RentStructure RentStructure `json:"rentStructure"`
}

// NetworkID returns the numeric network identifier derived from the network name.
func (p ProtocolParameters) NetworkID() uint64 {
	return NetworkIDFromName(p.NetworkName)
}

// NetworkIDFromName hashes a network name into its numeric identifier.
func NetworkIDFromName(name string) uint64 {
	h := crypto.Hash([]byte(name))
	return binary.LittleEndian.Uint64(h[:8])
}
