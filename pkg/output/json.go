package output

import (
	"encoding/json"
	"fmt"
)

type envelopeJSON struct {
	Kind Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Envelope wraps an Output so it can be embedded in JSON documents.
type Envelope struct {
	Output
}

// MarshalJSON encodes the output tagged with its kind.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Output == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(e.Output)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeJSON{Kind: e.Kind(), Data: data})
}

// UnmarshalJSON decodes an output tagged with its kind.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		e.Output = nil
		return nil
	}
	var env envelopeJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	var o Output
	switch env.Kind {
	case KindBasic:
		o = &BasicOutput{}
	case KindAlias:
		o = &AliasOutput{}
	case KindFoundry:
		o = &FoundryOutput{}
	case KindNft:
		o = &NftOutput{}
	case KindTreasury:
		o = &TreasuryOutput{}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownOutputKind, env.Kind)
	}
	if err := json.Unmarshal(env.Data, o); err != nil {
		return fmt.Errorf("decode %s output: %w", env.Kind, err)
	}
	e.Output = o
	return nil
}
