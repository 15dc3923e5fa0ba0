// Package types defines core primitive types shared by the wallet engine.
package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// HashSize is the length of a hash in bytes.
const HashSize = 32

// Hash represents a 256-bit hash value.
type Hash [HashSize]byte

// TransactionID identifies a transaction payload.
type TransactionID Hash

// BlockID identifies a block.
type BlockID Hash

// AliasID identifies an alias chain. The zero value marks a newly created alias.
type AliasID Hash

// NftID identifies an NFT chain. The zero value marks a newly minted NFT.
type NftID Hash

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the 0x-prefixed hex-encoded hash.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into a hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = Hash{}
		return nil
	}
	parsed, err := HexToHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HexToHash converts a hex string (with or without 0x prefix) to a Hash.
func HexToHash(s string) (Hash, error) {
	b, err := decodeHex(s)
	if err != nil {
		return Hash{}, err
	}
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// IsZero returns true if the transaction ID is all zeros.
func (t TransactionID) IsZero() bool { return Hash(t).IsZero() }

// String returns the hex-encoded transaction ID.
func (t TransactionID) String() string { return Hash(t).String() }

// MarshalJSON encodes the transaction ID as a hex string.
func (t TransactionID) MarshalJSON() ([]byte, error) { return Hash(t).MarshalJSON() }

// UnmarshalJSON decodes a hex string into a transaction ID.
func (t *TransactionID) UnmarshalJSON(data []byte) error { return (*Hash)(t).UnmarshalJSON(data) }

// MarshalText lets transaction IDs be used as JSON map keys.
func (t TransactionID) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText parses a hex transaction ID map key.
func (t *TransactionID) UnmarshalText(data []byte) error {
	h, err := HexToHash(string(data))
	if err != nil {
		return err
	}
	*t = TransactionID(h)
	return nil
}

// IsZero returns true if the block ID is all zeros.
func (b BlockID) IsZero() bool { return Hash(b).IsZero() }

// String returns the hex-encoded block ID.
func (b BlockID) String() string { return Hash(b).String() }

// MarshalJSON encodes the block ID as a hex string.
func (b BlockID) MarshalJSON() ([]byte, error) { return Hash(b).MarshalJSON() }

// UnmarshalJSON decodes a hex string into a block ID.
func (b *BlockID) UnmarshalJSON(data []byte) error { return (*Hash)(b).UnmarshalJSON(data) }

// IsZero returns true if the alias ID is all zeros.
func (a AliasID) IsZero() bool { return Hash(a).IsZero() }

// String returns the hex-encoded alias ID.
func (a AliasID) String() string { return Hash(a).String() }

// MarshalJSON encodes the alias ID as a hex string.
func (a AliasID) MarshalJSON() ([]byte, error) { return Hash(a).MarshalJSON() }

// UnmarshalJSON decodes a hex string into an alias ID.
func (a *AliasID) UnmarshalJSON(data []byte) error { return (*Hash)(a).UnmarshalJSON(data) }

// ToAddress returns the alias address controlled by this alias.
func (a AliasID) ToAddress() Address { return Address{Kind: AddressAlias, ID: Hash(a)} }

// IsZero returns true if the NFT ID is all zeros.
func (n NftID) IsZero() bool { return Hash(n).IsZero() }

// String returns the hex-encoded NFT ID.
func (n NftID) String() string { return Hash(n).String() }

// MarshalJSON encodes the NFT ID as a hex string.
func (n NftID) MarshalJSON() ([]byte, error) { return Hash(n).MarshalJSON() }

// UnmarshalJSON decodes a hex string into an NFT ID.
func (n *NftID) UnmarshalJSON(data []byte) error { return (*Hash)(n).UnmarshalJSON(data) }

// ToAddress returns the NFT address controlled by this NFT.
func (n NftID) ToAddress() Address { return Address{Kind: AddressNft, ID: Hash(n)} }
