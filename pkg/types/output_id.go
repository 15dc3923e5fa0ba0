package types

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// OutputIDSize is the serialized length of an output ID.
const OutputIDSize = HashSize + 2

// OutputID references an output by the transaction that created it and its index.
type OutputID struct {
	TransactionID TransactionID
	Index         uint16
}

// Bytes returns the transaction ID followed by the little-endian index.
func (o OutputID) Bytes() []byte {
	b := make([]byte, 0, OutputIDSize)
	b = append(b, o.TransactionID[:]...)
	return binary.LittleEndian.AppendUint16(b, o.Index)
}

// String returns the 0x-prefixed hex of Bytes.
func (o OutputID) String() string {
	return "0x" + hex.EncodeToString(o.Bytes())
}

// ParseOutputID parses the form produced by String.
func ParseOutputID(s string) (OutputID, error) {
	b, err := decodeHex(s)
	if err != nil {
		return OutputID{}, err
	}
	if len(b) != OutputIDSize {
		return OutputID{}, fmt.Errorf("output id must be %d bytes, got %d", OutputIDSize, len(b))
	}
	var o OutputID
	copy(o.TransactionID[:], b[:HashSize])
	o.Index = binary.LittleEndian.Uint16(b[HashSize:])
	return o, nil
}

// MarshalText lets output IDs be used as JSON map keys.
func (o OutputID) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses a hex output ID.
func (o *OutputID) UnmarshalText(data []byte) error {
	parsed, err := ParseOutputID(string(data))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// MarshalJSON encodes the output ID as a hex string.
func (o OutputID) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes a hex string output ID.
func (o *OutputID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return o.UnmarshalText([]byte(s))
}

// Less orders output IDs by transaction ID then index.
func (o OutputID) Less(other OutputID) bool {
	for i := range o.TransactionID {
		if o.TransactionID[i] != other.TransactionID[i] {
			return o.TransactionID[i] < other.TransactionID[i]
		}
	}
	return o.Index < other.Index
}
