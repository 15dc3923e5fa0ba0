package output

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/holiman/uint256"
)

// MaxNativeTokensCount is the maximum number of distinct native tokens in one
// output or one transaction side.
const MaxNativeTokensCount = 64

// NativeToken is an amount of one native token.
type NativeToken struct {
	ID     types.TokenID `json:"id"`
	Amount *uint256.Int  `json:"amount"`
}

// NativeTokens is a list of native tokens sorted by ID without duplicates.
type NativeTokens []NativeToken

// Clone returns a deep copy.
func (n NativeTokens) Clone() NativeTokens {
	if n == nil {
		return nil
	}
	out := make(NativeTokens, len(n))
	for i, t := range n {
		out[i] = NativeToken{ID: t.ID, Amount: orZero(t.Amount).Clone()}
	}
	return out
}

// Get returns the amount of id, or nil if absent.
func (n NativeTokens) Get(id types.TokenID) *uint256.Int {
	for _, t := range n {
		if t.ID == id {
			return t.Amount
		}
	}
	return nil
}

// Has reports whether id is present.
func (n NativeTokens) Has(id types.TokenID) bool {
	return n.Get(id) != nil
}

// TokenSum accumulates native token amounts per token ID.
type TokenSum map[types.TokenID]*uint256.Int

// Add adds amount of id. It fails with ErrNativeTokensOverflow on 256-bit overflow.
func (s TokenSum) Add(id types.TokenID, amount *uint256.Int) error {
	cur, ok := s[id]
	if !ok {
		s[id] = orZero(amount).Clone()
		return nil
	}
	sum, overflow := new(uint256.Int).AddOverflow(cur, orZero(amount))
	if overflow {
		return fmt.Errorf("%w: token %s", ErrNativeTokensOverflow, id)
	}
	s[id] = sum
	return nil
}

// AddAll adds every token in tokens.
func (s TokenSum) AddAll(tokens NativeTokens) error {
	for _, t := range tokens {
		if err := s.Add(t.ID, t.Amount); err != nil {
			return err
		}
	}
	return nil
}

// Sub removes amount of id. It fails when the sum would become negative.
func (s TokenSum) Sub(id types.TokenID, amount *uint256.Int) error {
	cur := s[id]
	if cur == nil {
		cur = new(uint256.Int)
	}
	diff, underflow := new(uint256.Int).SubOverflow(cur, orZero(amount))
	if underflow {
		return fmt.Errorf("%w: token %s has %s, need %s", ErrInsufficientNativeTokens, id, cur.Dec(), orZero(amount).Dec())
	}
	s[id] = diff
	return nil
}

// Get returns the amount of id, never nil.
func (s TokenSum) Get(id types.TokenID) *uint256.Int {
	if v, ok := s[id]; ok {
		return v
	}
	return new(uint256.Int)
}

// Clone returns a deep copy.
func (s TokenSum) Clone() TokenSum {
	out := make(TokenSum, len(s))
	for id, v := range s {
		out[id] = v.Clone()
	}
	return out
}

// Tokens returns the non-zero entries as a sorted list. It fails when more than
// MaxNativeTokensCount distinct tokens remain.
func (s TokenSum) Tokens() (NativeTokens, error) {
	out := make(NativeTokens, 0, len(s))
	for id, v := range s {
		if v == nil || v.IsZero() {
			continue
		}
		out = append(out, NativeToken{ID: id, Amount: v.Clone()})
	}
	if len(out) > MaxNativeTokensCount {
		return nil, fmt.Errorf("%w: %d distinct tokens", ErrTooManyNativeTokens, len(out))
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// SumNativeTokens totals the native tokens of outputs.
func SumNativeTokens(outputs ...Output) (TokenSum, error) {
	sum := TokenSum{}
	for _, o := range outputs {
		if err := sum.AddAll(o.NativeTokenList()); err != nil {
			return nil, err
		}
	}
	return sum, nil
}
