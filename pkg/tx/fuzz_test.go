package tx

import (
	"encoding/json"
	"testing"
)

// FuzzPayloadUnmarshal checks that arbitrary JSON decoded into a Payload never
// panics when hashed or validated.
func FuzzPayloadUnmarshal(f *testing.F) {
	f.Add([]byte(`{"essence":{"networkId":"1","inputs":["0x00000000000000000000000000000000000000000000000000000000000000000000"],"outputs":[{"type":3,"data":{"amount":1000,"unlockConditions":{},"features":{}}}]},"unlocks":[{"type":0,"publicKey":"","signature":""}]}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"essence":{"outputs":[{"type":4,"data":{}}]},"unlocks":[{"type":1,"reference":5}]}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var p Payload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		p.ID()
		_ = p.Validate()
		targets := make([]UnlockTarget, len(p.Unlocks))
		_ = VerifyUnlocks(&p.Essence, p.Unlocks, targets)
	})
}
