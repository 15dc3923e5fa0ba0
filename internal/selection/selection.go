// Package selection picks the inputs of a transaction and computes the extra
// outputs it needs: storage deposit returns, chain transitions and the remainder.
//
// Select is a pure function over the candidate outputs it is given. Filtering
// candidates by what the wallet may spend and locking the result is the
// caller's job.
package selection

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/holiman/uint256"
)

// Selection errors.
var (
	ErrInsufficientAmount         = errors.New("insufficient base coin amount")
	ErrInsufficientNativeTokens   = output.ErrInsufficientNativeTokens
	ErrNativeTokensOverflow       = output.ErrNativeTokensOverflow
	ErrTooManyOutputs             = errors.New("too many outputs")
	ErrInsufficientStorageDeposit = errors.New("output below minimum storage deposit")
	ErrMissingChainInput          = errors.New("required chain input not available")
	ErrNoOutputs                  = errors.New("no outputs requested")
)

// ConsolidationRequiredError means enough funds exist but spending them needs
// more inputs than a transaction may have.
type ConsolidationRequiredError struct {
	Count int
	Max   int
}

func (e *ConsolidationRequiredError) Error() string {
	return fmt.Sprintf("consolidation required: %d inputs needed, max %d", e.Count, e.Max)
}

// CustomInputReason explains a CustomInputError.
type CustomInputReason uint8

// Custom input failure reasons.
const (
	CustomInputNotFound CustomInputReason = iota
	CustomInputLocked
	CustomInputAmountMismatch
)

func (r CustomInputReason) String() string {
	switch r {
	case CustomInputNotFound:
		return "not found among unspent outputs"
	case CustomInputLocked:
		return "already locked"
	case CustomInputAmountMismatch:
		return "do not cover the requested outputs"
	default:
		return "invalid"
	}
}

// CustomInputError reports a problem with caller supplied inputs. OutputID is
// zero for AmountMismatch, which concerns the whole set.
type CustomInputError struct {
	OutputID types.OutputID
	Reason   CustomInputReason
	Detail   string
}

func (e *CustomInputError) Error() string {
	if e.Reason == CustomInputAmountMismatch {
		return fmt.Sprintf("custom inputs %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("custom input %s %s", e.OutputID, e.Reason)
}

// Candidate is an output that may be consumed.
type Candidate struct {
	OutputID types.OutputID
	Output   output.Output
}

// Burn lists what a transaction destroys on purpose.
type Burn struct {
	Aliases      []types.AliasID
	Nfts         []types.NftID
	Foundries    []types.FoundryID
	NativeTokens output.TokenSum
}

func (b *Burn) hasAlias(id types.AliasID) bool {
	if b == nil {
		return false
	}
	for _, a := range b.Aliases {
		if a == id {
			return true
		}
	}
	return false
}

func (b *Burn) hasNft(id types.NftID) bool {
	if b == nil {
		return false
	}
	for _, n := range b.Nfts {
		if n == id {
			return true
		}
	}
	return false
}

func (b *Burn) hasFoundry(id types.FoundryID) bool {
	if b == nil {
		return false
	}
	for _, f := range b.Foundries {
		if f == id {
			return true
		}
	}
	return false
}

// Params is the input of Select.
type Params struct {
	// Available are the outputs Select may add.
	Available []Candidate
	// Mandatory inputs are always consumed.
	Mandatory []Candidate
	// Custom restricts the inputs to Mandatory. A shortfall is then reported
	// as a CustomInputError.
	Custom bool
	// Outputs are the requested outputs, kept first and in order.
	Outputs []output.Output
	// RemainderAddress receives leftover funds.
	RemainderAddress types.Address
	Rent             output.RentStructure
	// Now is the ledger time used to evaluate unlock conditions.
	Now uint32
	// MaxInputs caps the input count. Zero means output.MaxInputsCount.
	MaxInputs int
	Burn      *Burn
}

// Result is a successful selection.
type Result struct {
	Inputs []Candidate
	// Outputs holds the requested outputs followed by storage deposit
	// returns, chain transitions and the remainder, in that order.
	Outputs []output.Output
	// Remainder is the index of the remainder in Outputs, or -1.
	Remainder int
	// Burned are the native tokens the transaction destroys.
	Burned output.TokenSum
}

// RemainderOutput returns the remainder output, or nil.
func (r *Result) RemainderOutput() output.Output {
	if r.Remainder < 0 {
		return nil
	}
	return r.Outputs[r.Remainder]
}

// InputAmount sums the base coins of the selected inputs.
func (r *Result) InputAmount() uint64 {
	var total uint64
	for _, in := range r.Inputs {
		total += in.Output.Deposit()
	}
	return total
}

type selector struct {
	p        Params
	max      int
	selected []Candidate
	used     map[types.OutputID]bool
	// stateTransition marks aliases that must advance their state index.
	stateTransition map[types.AliasID]bool
	// taken holds the native tokens moved out of chain inputs. Their
	// transitions carry the rest.
	taken map[types.OutputID]output.TokenSum
}

// Select picks inputs covering p.Outputs and returns the final output list.
func Select(p Params) (*Result, error) {
	if len(p.Outputs) == 0 && len(p.Mandatory) == 0 && (p.Burn == nil || len(p.Burn.NativeTokens) == 0) {
		return nil, ErrNoOutputs
	}
	for i, o := range p.Outputs {
		if o.Kind() == output.KindTreasury {
			return nil, fmt.Errorf("output %d: %w", i, output.ErrInvalidOutputKind)
		}
		if err := p.Rent.CheckStorageDeposit(o); err != nil {
			return nil, fmt.Errorf("output %d: %w: %v", i, ErrInsufficientStorageDeposit, err)
		}
	}

	s := &selector{
		p:               p,
		max:             p.MaxInputs,
		used:            make(map[types.OutputID]bool),
		stateTransition: make(map[types.AliasID]bool),
		taken:           make(map[types.OutputID]output.TokenSum),
	}
	if s.max <= 0 || s.max > output.MaxInputsCount {
		s.max = output.MaxInputsCount
	}
	for _, c := range p.Mandatory {
		s.add(c)
	}
	if err := s.requireChains(); err != nil {
		return nil, err
	}

	// Every round either finishes or consumes at least one more candidate.
	for round := 0; round <= len(p.Available)+1; round++ {
		if err := s.requireOwners(); err != nil {
			return nil, err
		}
		outputs := s.outputs()
		if len(outputs) > output.MaxOutputsCount {
			return nil, fmt.Errorf("%w: %d, max %d", ErrTooManyOutputs, len(outputs), output.MaxOutputsCount)
		}

		deficit, leftover, burned, err := s.tokenBalance(outputs)
		if err != nil {
			return nil, err
		}
		if len(deficit) > 0 {
			if err := s.selectTokens(deficit); err != nil {
				return nil, err
			}
			continue
		}

		in, out := s.inputAmount(), sumAmounts(outputs)
		if in < out {
			if err := s.selectAmount(out - in); err != nil {
				return nil, err
			}
			continue
		}

		res, missing, err := s.finish(outputs, in-out, leftover, burned)
		if err != nil {
			return nil, err
		}
		if missing == 0 {
			if len(s.selected) > s.max {
				return nil, &ConsolidationRequiredError{Count: len(s.selected), Max: s.max}
			}
			return res, nil
		}
		if err := s.selectAmount(missing); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: selection did not converge", ErrInsufficientAmount)
}

func (s *selector) add(c Candidate) bool {
	if s.used[c.OutputID] {
		return false
	}
	s.used[c.OutputID] = true
	s.selected = append(s.selected, c)
	return true
}

// remaining returns available candidates not selected yet.
func (s *selector) remaining() []Candidate {
	out := make([]Candidate, 0, len(s.p.Available))
	for _, c := range s.p.Available {
		if !s.used[c.OutputID] {
			out = append(out, c)
		}
	}
	return out
}

func (s *selector) findAlias(id types.AliasID) (Candidate, bool) {
	for _, pool := range [][]Candidate{s.selected, s.p.Available} {
		for _, c := range pool {
			if a, ok := c.Output.(*output.AliasOutput); ok && output.ResolvedAliasID(a, c.OutputID) == id {
				return c, true
			}
		}
	}
	return Candidate{}, false
}

func (s *selector) findNft(id types.NftID) (Candidate, bool) {
	for _, pool := range [][]Candidate{s.selected, s.p.Available} {
		for _, c := range pool {
			if n, ok := c.Output.(*output.NftOutput); ok && output.ResolvedNftID(n, c.OutputID) == id {
				return c, true
			}
		}
	}
	return Candidate{}, false
}

func (s *selector) findFoundry(id types.FoundryID) (Candidate, bool) {
	for _, pool := range [][]Candidate{s.selected, s.p.Available} {
		for _, c := range pool {
			if f, ok := c.Output.(*output.FoundryOutput); ok && f.FoundryID() == id {
				return c, true
			}
		}
	}
	return Candidate{}, false
}

func (s *selector) requireAlias(id types.AliasID, state bool) error {
	c, ok := s.findAlias(id)
	if !ok {
		return fmt.Errorf("%w: alias %s", ErrMissingChainInput, id)
	}
	if state {
		s.stateTransition[id] = true
	}
	s.add(c)
	return nil
}

func (s *selector) requireNft(id types.NftID) error {
	c, ok := s.findNft(id)
	if !ok {
		return fmt.Errorf("%w: nft %s", ErrMissingChainInput, id)
	}
	s.add(c)
	return nil
}

// requireChains adds the chain inputs the requested outputs and burns refer to.
func (s *selector) requireChains() error {
	for _, o := range s.p.Outputs {
		switch v := o.(type) {
		case *output.AliasOutput:
			if v.AliasID.IsZero() {
				continue
			}
			if err := s.requireAlias(v.AliasID, false); err != nil {
				return err
			}
		case *output.NftOutput:
			if v.NftID.IsZero() {
				continue
			}
			if err := s.requireNft(v.NftID); err != nil {
				return err
			}
		case *output.FoundryOutput:
			// A foundry without a previous state is being created.
			if c, ok := s.findFoundry(v.FoundryID()); ok {
				s.add(c)
			}
			if err := s.requireAlias(v.FoundryID().AliasID(), true); err != nil {
				return err
			}
		}
	}
	if b := s.p.Burn; b != nil {
		for _, id := range b.Aliases {
			if err := s.requireAlias(id, false); err != nil {
				return err
			}
		}
		for _, id := range b.Nfts {
			if err := s.requireNft(id); err != nil {
				return err
			}
		}
		for _, id := range b.Foundries {
			c, ok := s.findFoundry(id)
			if !ok {
				return fmt.Errorf("%w: foundry %s", ErrMissingChainInput, id)
			}
			s.add(c)
		}
	}
	return nil
}

// requireOwners adds the alias and NFT inputs that own selected inputs. Owners
// added on the way are visited too.
func (s *selector) requireOwners() error {
	for i := 0; i < len(s.selected); i++ {
		addr, ok := output.UnlockAddress(s.selected[i].Output, s.p.Now, true)
		if !ok {
			continue
		}
		switch addr.Kind {
		case types.AddressAlias:
			if err := s.requireAlias(types.AliasID(addr.ID), true); err != nil {
				return err
			}
		case types.AddressNft:
			if err := s.requireNft(types.NftID(addr.ID)); err != nil {
				return err
			}
		}
	}
	return nil
}

// outputs returns the requested outputs plus storage deposit returns and the
// transitions of chain inputs the caller did not mention.
func (s *selector) outputs() []output.Output {
	outs := make([]output.Output, 0, len(s.p.Outputs)+len(s.selected))
	outs = append(outs, s.p.Outputs...)

	returns := make(map[types.Address]uint64)
	var order []types.Address
	for _, c := range s.selected {
		u := c.Output.Conditions()
		if u.StorageDepositReturn == nil || u.ExpiredAt(s.p.Now) {
			continue
		}
		addr := u.StorageDepositReturn.ReturnAddress
		if _, seen := returns[addr]; !seen {
			order = append(order, addr)
		}
		returns[addr] += u.StorageDepositReturn.Amount
	}
	for _, addr := range order {
		a := addr
		outs = append(outs, &output.BasicOutput{
			Amount:           returns[addr],
			UnlockConditions: output.UnlockConditions{Address: &a},
		})
	}

	for _, c := range s.selected {
		switch v := c.Output.(type) {
		case *output.AliasOutput:
			id := output.ResolvedAliasID(v, c.OutputID)
			if s.p.Burn.hasAlias(id) || hasAliasOutput(s.p.Outputs, id) {
				continue
			}
			next := v.Clone().(*output.AliasOutput)
			next.AliasID = id
			next.NativeTokens = s.untaken(c)
			if s.stateTransition[id] {
				next.StateIndex++
			}
			outs = append(outs, next)
		case *output.NftOutput:
			id := output.ResolvedNftID(v, c.OutputID)
			if s.p.Burn.hasNft(id) || hasNftOutput(s.p.Outputs, id) {
				continue
			}
			next := v.Clone().(*output.NftOutput)
			next.NftID = id
			next.NativeTokens = s.untaken(c)
			outs = append(outs, next)
		case *output.FoundryOutput:
			id := v.FoundryID()
			if s.p.Burn.hasFoundry(id) || hasFoundryOutput(s.p.Outputs, id) {
				continue
			}
			next := v.Clone().(*output.FoundryOutput)
			next.NativeTokens = s.untaken(c)
			outs = append(outs, next)
		}
	}
	return outs
}

// carriedForward reports whether c is a chain input that outputs turns into
// an automatic transition.
func (s *selector) carriedForward(c Candidate) bool {
	switch v := c.Output.(type) {
	case *output.AliasOutput:
		id := output.ResolvedAliasID(v, c.OutputID)
		return !s.p.Burn.hasAlias(id) && !hasAliasOutput(s.p.Outputs, id)
	case *output.NftOutput:
		id := output.ResolvedNftID(v, c.OutputID)
		return !s.p.Burn.hasNft(id) && !hasNftOutput(s.p.Outputs, id)
	case *output.FoundryOutput:
		id := v.FoundryID()
		return !s.p.Burn.hasFoundry(id) && !hasFoundryOutput(s.p.Outputs, id)
	}
	return false
}

// untaken returns the native tokens of chain input c minus those moved out
// of it.
func (s *selector) untaken(c Candidate) output.NativeTokens {
	held := c.Output.NativeTokenList()
	taken := s.taken[c.OutputID]
	if len(taken) == 0 {
		return held.Clone()
	}
	// The list has one entry per token and taken never exceeds it, so
	// neither the sum nor the subtraction can fail.
	rest := output.TokenSum{}
	_ = rest.AddAll(held)
	for id, amt := range taken {
		_ = rest.Sub(id, amt)
	}
	tokens, _ := rest.Tokens()
	return tokens
}

func hasAliasOutput(outs []output.Output, id types.AliasID) bool {
	for _, o := range outs {
		if a, ok := o.(*output.AliasOutput); ok && a.AliasID == id {
			return true
		}
	}
	return false
}

func hasNftOutput(outs []output.Output, id types.NftID) bool {
	for _, o := range outs {
		if n, ok := o.(*output.NftOutput); ok && n.NftID == id {
			return true
		}
	}
	return false
}

func hasFoundryOutput(outs []output.Output, id types.FoundryID) bool {
	for _, o := range outs {
		if f, ok := o.(*output.FoundryOutput); ok && f.FoundryID() == id {
			return true
		}
	}
	return false
}

// tokenBalance compares native tokens on both sides. Tokens minted by a
// foundry count as input, melted and burned tokens as output. It returns what
// is missing, what is left over for the remainder and what gets burned.
func (s *selector) tokenBalance(outputs []output.Output) (deficit, leftover, burned output.TokenSum, err error) {
	inputs := make([]output.Output, len(s.selected))
	for i, c := range s.selected {
		inputs[i] = c.Output
	}
	have, err := output.SumNativeTokens(inputs...)
	if err != nil {
		return nil, nil, nil, err
	}
	want, err := output.SumNativeTokens(outputs...)
	if err != nil {
		return nil, nil, nil, err
	}

	for _, o := range outputs {
		f, ok := o.(*output.FoundryOutput)
		if !ok {
			continue
		}
		id := f.FoundryID()
		before := new(uint256.Int)
		if c, ok := s.findSelectedFoundry(id); ok {
			before = c.TokenScheme.Circulating()
		}
		after := f.TokenScheme.Circulating()
		switch after.Cmp(before) {
		case 1:
			if err := have.Add(id, new(uint256.Int).Sub(after, before)); err != nil {
				return nil, nil, nil, err
			}
		case -1:
			if err := want.Add(id, new(uint256.Int).Sub(before, after)); err != nil {
				return nil, nil, nil, err
			}
		}
	}

	burned = output.TokenSum{}
	if s.p.Burn != nil {
		for id, amt := range s.p.Burn.NativeTokens {
			if err := want.Add(id, amt); err != nil {
				return nil, nil, nil, err
			}
			if err := burned.Add(id, amt); err != nil {
				return nil, nil, nil, err
			}
		}
	}

	deficit, leftover = output.TokenSum{}, output.TokenSum{}
	for id, w := range want {
		h := have.Get(id)
		if h.Lt(w) {
			deficit[id] = new(uint256.Int).Sub(w, h)
		}
	}
	for id, h := range have {
		w := want.Get(id)
		if h.Gt(w) {
			leftover[id] = new(uint256.Int).Sub(h, w)
		}
	}
	return deficit, leftover, burned, nil
}

func (s *selector) findSelectedFoundry(id types.FoundryID) (*output.FoundryOutput, bool) {
	for _, c := range s.selected {
		if f, ok := c.Output.(*output.FoundryOutput); ok && f.FoundryID() == id {
			return f, true
		}
	}
	return nil, false
}

// tokenHolder is an input that can give up native tokens of one id.
type tokenHolder struct {
	c        Candidate
	amount   *uint256.Int
	selected bool
}

// tokenHolders lists the outputs that can supply id: unselected basic and
// chain outputs, and selected chain inputs whose transition still carries
// some of it. Basic outputs come first, then largest holding first.
func (s *selector) tokenHolders(id types.TokenID) []tokenHolder {
	var holders []tokenHolder
	for _, c := range s.remaining() {
		if c.Output.Kind() == output.KindTreasury {
			continue
		}
		if amt := c.Output.NativeTokenList().Get(id); amt != nil && !amt.IsZero() {
			holders = append(holders, tokenHolder{c: c, amount: amt})
		}
	}
	for _, c := range s.selected {
		if !s.carriedForward(c) {
			continue
		}
		amt := c.Output.NativeTokenList().Get(id)
		if amt == nil {
			continue
		}
		if left := new(uint256.Int).Sub(amt, s.taken[c.OutputID].Get(id)); !left.IsZero() {
			holders = append(holders, tokenHolder{c: c, amount: left, selected: true})
		}
	}
	sort.SliceStable(holders, func(i, j int) bool {
		bi, bj := holders[i].c.Output.Kind() == output.KindBasic, holders[j].c.Output.Kind() == output.KindBasic
		if bi != bj {
			return bi
		}
		return holders[i].amount.Gt(holders[j].amount)
	})
	return holders
}

// selectTokens adds inputs holding the missing tokens. Tokens taken from a
// chain input are removed from its transition, and an alias giving up
// tokens advances its state.
func (s *selector) selectTokens(deficit output.TokenSum) error {
	if s.p.Custom {
		return s.customShortfall(fmt.Sprintf("%d native tokens missing", len(deficit)))
	}
	ids := make([]types.TokenID, 0, len(deficit))
	for id := range deficit {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		need := deficit[id].Clone()
		for _, h := range s.tokenHolders(id) {
			if need.IsZero() {
				break
			}
			take := h.amount
			if take.Gt(need) {
				take = need.Clone()
			}
			if !h.selected {
				s.add(h.c)
			}
			if h.c.Output.Kind() != output.KindBasic {
				if s.taken[h.c.OutputID] == nil {
					s.taken[h.c.OutputID] = output.TokenSum{}
				}
				if err := s.taken[h.c.OutputID].Add(id, take); err != nil {
					return err
				}
				if a, ok := h.c.Output.(*output.AliasOutput); ok {
					s.stateTransition[output.ResolvedAliasID(a, h.c.OutputID)] = true
				}
			}
			need.Sub(need, take)
		}
		if !need.IsZero() {
			return fmt.Errorf("%w: token %s short by %s", ErrInsufficientNativeTokens, id, need.Dec())
		}
	}
	return nil
}

// selectAmount adds basic outputs worth at least target. Among the smallest
// single output covering target and largest-first accumulation it takes the
// one leaving less change.
func (s *selector) selectAmount(target uint64) error {
	if s.p.Custom {
		return s.customShortfall(fmt.Sprintf("%d base coins missing", target))
	}

	var candidates []Candidate
	for _, c := range s.remaining() {
		if c.Output.Kind() == output.KindBasic && c.Output.Deposit() > 0 {
			candidates = append(candidates, c)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Output.Deposit() < candidates[j].Output.Deposit()
	})

	var single *Candidate
	for i := range candidates {
		if candidates[i].Output.Deposit() >= target {
			single = &candidates[i]
			break
		}
	}

	var accum []Candidate
	var total uint64
	for i := len(candidates) - 1; i >= 0; i-- {
		accum = append(accum, candidates[i])
		total = saturatingAdd(total, candidates[i].Output.Deposit())
		if total >= target {
			break
		}
	}
	if total < target {
		accum = nil
	}

	switch {
	case single != nil && (accum == nil || single.Output.Deposit()-target <= total-target):
		s.add(*single)
	case accum != nil:
		if len(s.selected)+len(accum) > s.max {
			return &ConsolidationRequiredError{Count: len(s.selected) + len(accum), Max: s.max}
		}
		for _, c := range accum {
			s.add(c)
		}
	default:
		return fmt.Errorf("%w: need %d more, %d available in %d outputs",
			ErrInsufficientAmount, target, total, len(candidates))
	}
	return nil
}

func (s *selector) customShortfall(detail string) error {
	return &CustomInputError{Reason: CustomInputAmountMismatch, Detail: detail}
}

func (s *selector) inputAmount() uint64 {
	var total uint64
	for _, c := range s.selected {
		total = saturatingAdd(total, c.Output.Deposit())
	}
	return total
}

// finish appends a remainder when needed. missing is non-zero when the
// remainder would fall below its minimum storage deposit.
func (s *selector) finish(outputs []output.Output, change uint64, leftover, burned output.TokenSum) (*Result, uint64, error) {
	tokens, err := leftover.Tokens()
	if err != nil {
		return nil, 0, err
	}
	res := &Result{Inputs: s.selected, Outputs: outputs, Remainder: -1, Burned: burned}
	if change == 0 && len(tokens) == 0 {
		return res, 0, nil
	}

	addr := s.p.RemainderAddress
	remainder := &output.BasicOutput{
		Amount:           change,
		NativeTokens:     tokens,
		UnlockConditions: output.UnlockConditions{Address: &addr},
	}
	if need := s.p.Rent.MinStorageDeposit(remainder); change < need {
		return nil, need - change, nil
	}
	if len(outputs)+1 > output.MaxOutputsCount {
		return nil, 0, fmt.Errorf("%w: remainder does not fit", ErrTooManyOutputs)
	}
	res.Outputs = append(res.Outputs, remainder)
	res.Remainder = len(res.Outputs) - 1
	return res, 0, nil
}

func sumAmounts(outs []output.Output) uint64 {
	var total uint64
	for _, o := range outs {
		total = saturatingAdd(total, o.Deposit())
	}
	return total
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
