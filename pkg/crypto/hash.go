// Package crypto provides the hashing and signature primitives used by the wallet.
package crypto

import (
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// HashAll hashes the concatenation of parts without building an intermediate buffer.
func HashAll(parts ...[]byte) types.Hash {
	h := blake3.New()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// AddressFromPubKey derives the public-key-hash address of a compressed public key.
func AddressFromPubKey(pubKey []byte) types.Address {
	return types.Address{Kind: types.AddressPubKeyHash, ID: Hash(pubKey)}
}
