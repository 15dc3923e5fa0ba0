package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Address HRP (human-readable part) constants for bech32 encoding.
const (
	MainnetHRP = "iota"
	TestnetHRP = "atoi"
)

// AddressKind identifies what unlocks an address.
type AddressKind uint8

const (
	// AddressPubKeyHash is unlocked by a signature from the hashed public key.
	AddressPubKeyHash AddressKind = 0
	// AddressAlias is unlocked by transitioning the alias output with that ID.
	AddressAlias AddressKind = 8
	// AddressNft is unlocked by transitioning the NFT output with that ID.
	AddressNft AddressKind = 16
)

// String returns a human-readable name for the address kind.
func (k AddressKind) String() string {
	switch k {
	case AddressPubKeyHash:
		return "PubKeyHash"
	case AddressAlias:
		return "Alias"
	case AddressNft:
		return "Nft"
	default:
		return "Unknown"
	}
}

// AddressSize is the serialized address length: kind byte plus 32-byte ID.
const AddressSize = 1 + HashSize

// Address is a ledger address. It is comparable and usable as a map key.
type Address struct {
	Kind AddressKind
	ID   Hash
}

// IsZero returns true if the address is the zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Bytes returns the serialized address: kind byte followed by the ID.
func (a Address) Bytes() []byte {
	b := make([]byte, 0, AddressSize)
	b = append(b, byte(a.Kind))
	return append(b, a.ID[:]...)
}

// Bech32 encodes the address with the given network HRP.
func (a Address) Bech32(hrp string) string {
	s, err := Bech32Encode(hrp, a.Bytes())
	if err != nil {
		// Only reachable with an invalid HRP; fall back to a debuggable form.
		return hrp + ":" + a.ID.String()
	}
	return s
}

// String returns a network-agnostic representation used in logs.
func (a Address) String() string {
	return fmt.Sprintf("%s(%s)", a.Kind, a.ID)
}

// AddressFromBytes parses a serialized address.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressSize {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(b))
	}
	kind := AddressKind(b[0])
	switch kind {
	case AddressPubKeyHash, AddressAlias, AddressNft:
	default:
		return Address{}, fmt.Errorf("unknown address kind %d", b[0])
	}
	var a Address
	a.Kind = kind
	copy(a.ID[:], b[1:])
	return a, nil
}

// Bech32Address is an address tagged with the network HRP it was encoded for.
// The bech32 string is the canonical external representation.
type Bech32Address struct {
	HRP   string
	Inner Address
}

// NewBech32Address tags addr with hrp.
func NewBech32Address(hrp string, addr Address) Bech32Address {
	return Bech32Address{HRP: hrp, Inner: addr}
}

// String returns the bech32 encoding.
func (b Bech32Address) String() string {
	return b.Inner.Bech32(b.HRP)
}

// MarshalJSON encodes the address as a bech32 string.
func (b Bech32Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON decodes a bech32 string.
func (b *Bech32Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBech32Address(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseBech32Address parses a bech32 address string.
func ParseBech32Address(s string) (Bech32Address, error) {
	if s == "" {
		return Bech32Address{}, fmt.Errorf("empty address")
	}
	hrp, data, err := Bech32Decode(s)
	if err != nil {
		return Bech32Address{}, fmt.Errorf("invalid bech32 address: %w", err)
	}
	addr, err := AddressFromBytes(data)
	if err != nil {
		return Bech32Address{}, err
	}
	return Bech32Address{HRP: hrp, Inner: addr}, nil
}

// ParseAddress parses a bech32 address and checks it belongs to the expected network.
// An empty expectedHRP accepts any network.
func ParseAddress(s, expectedHRP string) (Address, error) {
	b, err := ParseBech32Address(s)
	if err != nil {
		return Address{}, err
	}
	if expectedHRP != "" && b.HRP != expectedHRP {
		return Address{}, fmt.Errorf("address %s has hrp %q, expected %q", s, b.HRP, expectedHRP)
	}
	return b.Inner, nil
}

// MarshalJSON encodes the address as {"type":kind,"id":"0x.."}.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(addressJSON{Kind: a.Kind, ID: a.ID})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (a *Address) UnmarshalJSON(data []byte) error {
	var j addressJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	a.Kind = j.Kind
	a.ID = j.ID
	return nil
}

// MarshalText lets addresses be used as JSON map keys.
func (a Address) MarshalText() ([]byte, error) {
	return []byte("0x" + hex.EncodeToString(a.Bytes())), nil
}

// UnmarshalText parses the hex form produced by MarshalText.
func (a *Address) UnmarshalText(data []byte) error {
	b, err := decodeHex(string(data))
	if err != nil {
		return err
	}
	parsed, err := AddressFromBytes(b)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

type addressJSON struct {
	Kind AddressKind `json:"type"`
	ID   Hash        `json:"id"`
}
