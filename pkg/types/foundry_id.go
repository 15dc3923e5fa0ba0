package types

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// FoundryIDSize is the length of a foundry ID: controlling alias address, serial number, scheme.
const FoundryIDSize = AddressSize + 4 + 1

// SimpleTokenScheme is the only supported token scheme kind.
const SimpleTokenScheme byte = 0

// FoundryID identifies a foundry output.
type FoundryID [FoundryIDSize]byte

// TokenID identifies a native token. It equals the ID of the foundry that controls it.
type TokenID = FoundryID

// NewFoundryID builds the ID of the foundry with the given serial number controlled by alias.
func NewFoundryID(alias AliasID, serial uint32, scheme byte) FoundryID {
	var id FoundryID
	copy(id[:AddressSize], alias.ToAddress().Bytes())
	binary.LittleEndian.PutUint32(id[AddressSize:], serial)
	id[FoundryIDSize-1] = scheme
	return id
}

// AliasID returns the controlling alias encoded in the foundry ID.
func (f FoundryID) AliasID() AliasID {
	var a AliasID
	copy(a[:], f[1:AddressSize])
	return a
}

// SerialNumber returns the foundry serial number.
func (f FoundryID) SerialNumber() uint32 {
	return binary.LittleEndian.Uint32(f[AddressSize:])
}

// IsZero returns true if the ID is all zeros.
func (f FoundryID) IsZero() bool {
	return f == FoundryID{}
}

// String returns the 0x-prefixed hex ID.
func (f FoundryID) String() string {
	return "0x" + hex.EncodeToString(f[:])
}

// ParseFoundryID parses a hex foundry or token ID.
func ParseFoundryID(s string) (FoundryID, error) {
	b, err := decodeHex(s)
	if err != nil {
		return FoundryID{}, err
	}
	if len(b) != FoundryIDSize {
		return FoundryID{}, fmt.Errorf("foundry id must be %d bytes, got %d", FoundryIDSize, len(b))
	}
	var f FoundryID
	copy(f[:], b)
	return f, nil
}

// MarshalText lets foundry IDs be used as JSON map keys.
func (f FoundryID) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText parses a hex foundry ID.
func (f *FoundryID) UnmarshalText(data []byte) error {
	parsed, err := ParseFoundryID(string(data))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// MarshalJSON encodes the ID as a hex string.
func (f FoundryID) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON decodes a hex string ID.
func (f *FoundryID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return f.UnmarshalText([]byte(s))
}
