// Package tx defines transaction essences, unlocks and payloads.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/Klingon-tech/tangle-wallet/pkg/crypto"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// TaggedData is an optional payload carried inside an essence.
type TaggedData struct {
	Tag  []byte `json:"tag"`
	Data []byte `json:"data"`
}

// Essence is the signed part of a transaction.
type Essence struct {
	NetworkID        uint64           `json:"networkId"`
	Inputs           []types.OutputID `json:"inputs"`
	InputsCommitment types.Hash       `json:"inputsCommitment"`
	Outputs          []output.Output  `json:"-"`
	Payload          *TaggedData      `json:"payload,omitempty"`
}

type essenceJSON struct {
	NetworkID        uint64            `json:"networkId,string"`
	Inputs           []types.OutputID  `json:"inputs"`
	InputsCommitment types.Hash        `json:"inputsCommitment"`
	Outputs          []output.Envelope `json:"outputs"`
	Payload          *TaggedData       `json:"payload,omitempty"`
}

// MarshalJSON encodes the essence with kind-tagged outputs.
func (e Essence) MarshalJSON() ([]byte, error) {
	j := essenceJSON{
		NetworkID:        e.NetworkID,
		Inputs:           e.Inputs,
		InputsCommitment: e.InputsCommitment,
		Payload:          e.Payload,
		Outputs:          make([]output.Envelope, len(e.Outputs)),
	}
	for i, o := range e.Outputs {
		j.Outputs[i] = output.Envelope{Output: o}
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an essence with kind-tagged outputs.
func (e *Essence) UnmarshalJSON(data []byte) error {
	var j essenceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.NetworkID = j.NetworkID
	e.Inputs = j.Inputs
	e.InputsCommitment = j.InputsCommitment
	e.Payload = j.Payload
	e.Outputs = make([]output.Output, 0, len(j.Outputs))
	for _, env := range j.Outputs {
		if env.Output != nil {
			e.Outputs = append(e.Outputs, env.Output)
		}
	}
	return nil
}

// SigningBytes returns the canonical byte representation that is signed.
// Format: network(8) | input_count(2) | [output_id(34)]... | commitment(32) |
// output_count(2) | [output_len(4) + output]... | payload_flag(1) [| tag | data]
func (e *Essence) SigningBytes() []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint64(buf, e.NetworkID)

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Inputs)))
	for _, in := range e.Inputs {
		buf = append(buf, in.Bytes()...)
	}
	buf = append(buf, e.InputsCommitment[:]...)

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Outputs)))
	for _, o := range e.Outputs {
		ob := output.Bytes(o)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ob)))
		buf = append(buf, ob...)
	}

	if e.Payload == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Payload.Tag)))
	buf = append(buf, e.Payload.Tag...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Payload.Data)))
	return append(buf, e.Payload.Data...)
}

// SigningHash is the message every signature unlock signs.
func (e *Essence) SigningHash() types.Hash {
	return crypto.Hash(e.SigningBytes())
}

// InputsCommitment commits to the exact outputs consumed, in input order.
func InputsCommitment(inputs []output.Output) types.Hash {
	parts := make([][]byte, len(inputs))
	for i, o := range inputs {
		h := crypto.Hash(output.Bytes(o))
		parts[i] = h[:]
	}
	return crypto.HashAll(parts...)
}

// UnlockKind identifies how an input is unlocked.
type UnlockKind uint8

// Unlock kinds.
const (
	UnlockSignature UnlockKind = iota
	UnlockReference
	UnlockAlias
	UnlockNft
)

// String returns the unlock kind name.
func (k UnlockKind) String() string {
	switch k {
	case UnlockSignature:
		return "Signature"
	case UnlockReference:
		return "Reference"
	case UnlockAlias:
		return "Alias"
	case UnlockNft:
		return "Nft"
	default:
		return "Unknown"
	}
}

// Unlock proves the right to consume one input. Signature unlocks carry a key and
// signature; the others point at an earlier unlock by index.
type Unlock struct {
	Kind      UnlockKind
	PublicKey []byte
	Signature []byte
	Reference uint16
}

// SignatureUnlock builds a signature unlock.
func SignatureUnlock(pubKey, sig []byte) Unlock {
	return Unlock{Kind: UnlockSignature, PublicKey: pubKey, Signature: sig}
}

// ReferenceUnlock builds an unlock of kind pointing at index.
func ReferenceUnlock(kind UnlockKind, index int) Unlock {
	return Unlock{Kind: kind, Reference: uint16(index)}
}

type unlockJSON struct {
	Kind      UnlockKind `json:"type"`
	PublicKey *string    `json:"publicKey,omitempty"`
	Signature *string    `json:"signature,omitempty"`
	Reference *uint16    `json:"reference,omitempty"`
}

// MarshalJSON encodes the unlock with hex-encoded key and signature.
func (u Unlock) MarshalJSON() ([]byte, error) {
	j := unlockJSON{Kind: u.Kind}
	if u.Kind == UnlockSignature {
		pk := hex.EncodeToString(u.PublicKey)
		sig := hex.EncodeToString(u.Signature)
		j.PublicKey, j.Signature = &pk, &sig
	} else {
		ref := u.Reference
		j.Reference = &ref
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an unlock with hex-encoded key and signature.
func (u *Unlock) UnmarshalJSON(data []byte) error {
	var j unlockJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*u = Unlock{Kind: j.Kind}
	if j.PublicKey != nil {
		b, err := hex.DecodeString(*j.PublicKey)
		if err != nil {
			return err
		}
		u.PublicKey = b
	}
	if j.Signature != nil {
		b, err := hex.DecodeString(*j.Signature)
		if err != nil {
			return err
		}
		u.Signature = b
	}
	if j.Reference != nil {
		u.Reference = *j.Reference
	}
	return nil
}

func (u Unlock) bytes() []byte {
	buf := []byte{byte(u.Kind)}
	if u.Kind == UnlockSignature {
		buf = append(buf, u.PublicKey...)
		return append(buf, u.Signature...)
	}
	return binary.LittleEndian.AppendUint16(buf, u.Reference)
}

// Payload is a signed transaction.
type Payload struct {
	Essence Essence  `json:"essence"`
	Unlocks []Unlock `json:"unlocks"`
}

// Bytes returns the essence followed by the serialized unlocks.
func (p *Payload) Bytes() []byte {
	buf := p.Essence.SigningBytes()
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(p.Unlocks)))
	for _, u := range p.Unlocks {
		buf = append(buf, u.bytes()...)
	}
	return buf
}

// ID returns the transaction ID.
func (p *Payload) ID() types.TransactionID {
	return types.TransactionID(crypto.Hash(p.Bytes()))
}

// OutputID returns the ID of the output at index created by this transaction.
func (p *Payload) OutputID(index int) types.OutputID {
	return types.OutputID{TransactionID: p.ID(), Index: uint16(index)}
}
