// Package memledger is an in-memory ledger that implements nodeclient.Client.
// It validates and books transactions the way a node would, and lets tests
// control milestones, conflicts, pruning and submission failures.
package memledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/pkg/block"
	"github.com/Klingon-tech/tangle-wallet/pkg/crypto"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/tx"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/lightningnetwork/lnd/clock"
)

// Conflict reasons set on conflicting blocks.
const (
	ConflictNone uint8 = iota
	ConflictInputSpent
	ConflictInputNotFound
	ConflictInvalid
)

// Block ages after which the ledger asks for promotion and reattachment.
const (
	PromoteAfter  = 15 * time.Second
	ReattachAfter = 60 * time.Second
)

type outputEntry struct {
	out  output.Output
	meta nodeclient.OutputMetadata
}

type blockEntry struct {
	block      *block.Block
	meta       nodeclient.BlockMetadata
	attachedAt time.Time
}

// Ledger is an in-memory node.
type Ledger struct {
	clock clock.Clock

	mu         sync.RWMutex
	params     output.ProtocolParameters
	outputs    map[types.OutputID]*outputEntry
	blocks     map[types.BlockID]*blockEntry
	included   map[types.TransactionID]types.BlockID
	pending    []types.BlockID
	milestone  uint32
	autoInc    bool
	requirePoW bool
	submitErr  error
	seq        uint64
	tips       []types.BlockID
	calls      map[string]int
}

var _ nodeclient.Client = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the clock milestone timestamps are taken from.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithAutoMilestone books every transaction as soon as it is submitted.
func WithAutoMilestone() Option {
	return func(l *Ledger) { l.autoInc = true }
}

// WithPoWCheck rejects blocks that miss the minimum PoW score.
func WithPoWCheck() Option {
	return func(l *Ledger) { l.requirePoW = true }
}

// New creates an empty ledger for params.
func New(params output.ProtocolParameters, opts ...Option) *Ledger {
	l := &Ledger{
		clock:    clock.NewDefaultClock(),
		params:   params,
		outputs:  make(map[types.OutputID]*outputEntry),
		blocks:   make(map[types.BlockID]*blockEntry),
		included: make(map[types.TransactionID]types.BlockID),
		calls:    make(map[string]int),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) now() uint32 {
	return uint32(l.clock.Now().Unix())
}

func (l *Ledger) count(method string) {
	l.calls[method]++
}

// Calls returns how often a node API method was called.
func (l *Ledger) Calls(method string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.calls[method]
}

// ── Test and faucet controls ────────────────────────────────────────────

// AddOutput books o in a synthetic transaction and returns its id.
func (l *Ledger) AddOutput(o output.Output) types.OutputID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	seed := binary.LittleEndian.AppendUint64([]byte("genesis"), l.seq)
	txID := types.TransactionID(crypto.Hash(seed))
	id := types.OutputID{TransactionID: txID}
	l.book(id, o.Clone(), types.BlockID{})
	return id
}

// Fund creates a basic output of amount locked to addr.
func (l *Ledger) Fund(addr types.Address, amount uint64) types.OutputID {
	return l.AddOutput(&output.BasicOutput{
		Amount:           amount,
		UnlockConditions: output.UnlockConditions{Address: &addr},
	})
}

// SpendOutput marks an output spent by an unknown transaction.
func (l *Ledger) SpendOutput(id types.OutputID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.outputs[id]
	if !ok {
		return fmt.Errorf("output %s: %w", id, nodeclient.ErrNotFound)
	}
	spender := types.TransactionID(crypto.Hash(id.Bytes()))
	e.meta.IsSpent = true
	e.meta.TransactionIDSpent = &spender
	return nil
}

// SetBlockState forces the inclusion state of a block and drops it from the
// pending queue.
func (l *Ledger) SetBlockState(id types.BlockID, state string, reason uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	be, ok := l.blocks[id]
	if !ok {
		return fmt.Errorf("block %s: %w", id, nodeclient.ErrNotFound)
	}
	be.meta.LedgerInclusionState = state
	be.meta.ConflictReason = reason
	l.dropPending(id)
	return nil
}

// Prune forgets every block carrying transaction id.
func (l *Ledger) Prune(id types.TransactionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for bid, be := range l.blocks {
		if be.block.Payload != nil && be.block.Payload.ID() == id {
			delete(l.blocks, bid)
			l.dropPending(bid)
		}
	}
	delete(l.included, id)
}

// FailSubmit makes SubmitBlock fail with err until called with nil.
func (l *Ledger) FailSubmit(err error) {
	l.mu.Lock()
	l.submitErr = err
	l.mu.Unlock()
}

// Block returns a submitted block.
func (l *Ledger) Block(id types.BlockID) (*block.Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	be, ok := l.blocks[id]
	if !ok {
		return nil, false
	}
	return be.block, true
}

// PendingBlocks returns the blocks waiting for the next milestone.
func (l *Ledger) PendingBlocks() []types.BlockID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]types.BlockID(nil), l.pending...)
}

// Milestone books every pending block in submission order.
func (l *Ledger) Milestone() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.issueMilestone()
}

func (l *Ledger) issueMilestone() {
	l.milestone++
	pending := l.pending
	l.pending = nil
	for _, id := range pending {
		be, ok := l.blocks[id]
		if !ok {
			continue
		}
		if be.block.Payload == nil {
			be.meta.LedgerInclusionState = nodeclient.InclusionNoTransaction
			continue
		}
		p := be.block.Payload
		txID := p.ID()
		if _, done := l.included[txID]; done {
			be.meta.LedgerInclusionState = nodeclient.InclusionConflicting
			be.meta.ConflictReason = ConflictInputSpent
			continue
		}
		if reason, err := l.validate(p); err != nil {
			be.meta.LedgerInclusionState = nodeclient.InclusionConflicting
			be.meta.ConflictReason = reason
			log.Client.Debug().Err(err).Stringer("tx", txID).Msg("Ledger rejected transaction")
			continue
		}
		for _, in := range p.Essence.Inputs {
			e := l.outputs[in]
			e.meta.IsSpent = true
			spender := txID
			e.meta.TransactionIDSpent = &spender
		}
		for i, o := range p.Essence.Outputs {
			l.book(types.OutputID{TransactionID: txID, Index: uint16(i)}, o.Clone(), id)
		}
		be.meta.LedgerInclusionState = nodeclient.InclusionIncluded
		l.included[txID] = id
	}
}

func (l *Ledger) book(id types.OutputID, o output.Output, blockID types.BlockID) {
	l.outputs[id] = &outputEntry{
		out: o,
		meta: nodeclient.OutputMetadata{
			BlockID:            blockID,
			TransactionID:      id.TransactionID,
			OutputIndex:        id.Index,
			MilestoneIndex:     l.milestone,
			MilestoneTimestamp: l.now(),
			LedgerIndex:        l.milestone,
		},
	}
}

func (l *Ledger) dropPending(id types.BlockID) {
	for i, p := range l.pending {
		if p == id {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			return
		}
	}
}

// validate checks a payload against the current ledger state.
func (l *Ledger) validate(p *tx.Payload) (uint8, error) {
	if err := p.Validate(); err != nil {
		return ConflictInvalid, err
	}
	e := &p.Essence
	inputs := make([]output.Output, len(e.Inputs))
	for i, id := range e.Inputs {
		entry, ok := l.outputs[id]
		if !ok {
			return ConflictInputNotFound, fmt.Errorf("input %s: %w", id, nodeclient.ErrNotFound)
		}
		if entry.meta.IsSpent {
			return ConflictInputSpent, fmt.Errorf("input %s already spent", id)
		}
		inputs[i] = entry.out
	}
	if err := e.CheckInputs(l.params.NetworkID(), inputs); err != nil {
		return ConflictInvalid, err
	}

	now := l.now()
	targets := make([]tx.UnlockTarget, len(inputs))
	returns := make(map[types.Address]uint64)
	for i, in := range inputs {
		state := true
		if a, ok := in.(*output.AliasOutput); ok {
			state = output.IsStateTransition(a, e.Inputs[i], e.Outputs)
		}
		addr, ok := output.UnlockAddress(in, now, state)
		if !ok || in.Conditions().TimelockedAt(now) {
			return ConflictInvalid, fmt.Errorf("input %d cannot be unlocked", i)
		}
		targets[i] = tx.UnlockTarget{OutputID: e.Inputs[i], Output: in, Required: addr}
		if sdr := in.Conditions().StorageDepositReturn; sdr != nil && !in.Conditions().ExpiredAt(now) {
			returns[sdr.ReturnAddress] += sdr.Amount
		}
	}
	if err := tx.VerifyUnlocks(e, p.Unlocks, targets); err != nil {
		return ConflictInvalid, err
	}
	if _, err := tx.Burned(inputs, e.Outputs); err != nil {
		return ConflictInvalid, err
	}

	paid := make(map[types.Address]uint64)
	for i, o := range e.Outputs {
		if err := l.params.RentStructure.CheckStorageDeposit(o); err != nil {
			return ConflictInvalid, fmt.Errorf("output %d: %w", i, err)
		}
		if b, ok := o.(*output.BasicOutput); ok && b.UnlockConditions.HasOnlyAddress() && len(b.NativeTokens) == 0 {
			paid[*b.UnlockConditions.Address] += b.Amount
		}
	}
	for addr, amt := range returns {
		if paid[addr] < amt {
			return ConflictInvalid, fmt.Errorf("storage deposit return of %d to %s not paid", amt, addr)
		}
	}
	return ConflictNone, nil
}

// ── nodeclient.Client ───────────────────────────────────────────────────

// Info implements nodeclient.Client.
func (l *Ledger) Info(context.Context) (*nodeclient.NodeInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count(nodeclient.MethodInfo)
	return &nodeclient.NodeInfo{
		Name:                     "memledger",
		Version:                  "1.0.0",
		Healthy:                  true,
		Protocol:                 l.params,
		LatestMilestoneTimestamp: l.now(),
		ConfirmedMilestoneIndex:  l.milestone,
	}, nil
}

// OutputIDs implements nodeclient.Client.
func (l *Ledger) OutputIDs(_ context.Context, q nodeclient.OutputQuery) ([]types.OutputID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count(nodeclient.MethodOutputIDs)
	var ids []types.OutputID
	for id, e := range l.outputs {
		if !e.meta.IsSpent && q.Matches(e.out) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids, nil
}

// Output implements nodeclient.Client.
func (l *Ledger) Output(_ context.Context, id types.OutputID) (*nodeclient.OutputResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count(nodeclient.MethodOutput)
	e, ok := l.outputs[id]
	if !ok {
		return nil, fmt.Errorf("output %s: %w", id, nodeclient.ErrNotFound)
	}
	return &nodeclient.OutputResponse{Output: e.out.Clone(), Metadata: copyMeta(e.meta)}, nil
}

// OutputMetadata implements nodeclient.Client.
func (l *Ledger) OutputMetadata(_ context.Context, id types.OutputID) (*nodeclient.OutputMetadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count(nodeclient.MethodOutputMetadata)
	e, ok := l.outputs[id]
	if !ok {
		return nil, fmt.Errorf("output %s: %w", id, nodeclient.ErrNotFound)
	}
	md := copyMeta(e.meta)
	return &md, nil
}

func copyMeta(m nodeclient.OutputMetadata) nodeclient.OutputMetadata {
	if m.TransactionIDSpent != nil {
		v := *m.TransactionIDSpent
		m.TransactionIDSpent = &v
	}
	return m
}

// BlockMetadata implements nodeclient.Client.
func (l *Ledger) BlockMetadata(_ context.Context, id types.BlockID) (*nodeclient.BlockMetadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count(nodeclient.MethodBlockMetadata)
	be, ok := l.blocks[id]
	if !ok {
		return nil, fmt.Errorf("block %s: %w", id, nodeclient.ErrNotFound)
	}
	md := be.meta
	md.Parents = append([]types.BlockID(nil), md.Parents...)
	if md.LedgerInclusionState == "" {
		age := l.clock.Now().Sub(be.attachedAt)
		md.ShouldPromote = age >= PromoteAfter && age < ReattachAfter
		md.ShouldReattach = age >= ReattachAfter
	}
	return &md, nil
}

// IncludedBlock implements nodeclient.Client.
func (l *Ledger) IncludedBlock(_ context.Context, id types.TransactionID) (*block.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count(nodeclient.MethodIncludedBlock)
	bid, ok := l.included[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, nodeclient.ErrNotFound)
	}
	be, ok := l.blocks[bid]
	if !ok {
		return nil, fmt.Errorf("block %s: %w", bid, nodeclient.ErrNotFound)
	}
	return be.block, nil
}

// Tips implements nodeclient.Client.
func (l *Ledger) Tips(context.Context) ([]types.BlockID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count(nodeclient.MethodTips)
	if len(l.tips) == 0 {
		return []types.BlockID{{}}, nil
	}
	return append([]types.BlockID(nil), l.tips...), nil
}

// SubmitBlock implements nodeclient.Client.
func (l *Ledger) SubmitBlock(_ context.Context, b *block.Block) (types.BlockID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count(nodeclient.MethodSubmitBlock)
	if l.submitErr != nil {
		return types.BlockID{}, l.submitErr
	}
	if len(b.Parents) < block.MinParents || len(b.Parents) > block.MaxParents {
		return types.BlockID{}, fmt.Errorf("%w: %d", block.ErrParentCount, len(b.Parents))
	}
	if l.requirePoW {
		if err := block.VerifyPoW(b, l.params.MinPoWScore); err != nil {
			return types.BlockID{}, err
		}
	}
	if b.Payload != nil {
		if err := b.Payload.Validate(); err != nil {
			return types.BlockID{}, fmt.Errorf("invalid payload: %w", err)
		}
	}

	id := b.ID()
	if _, dup := l.blocks[id]; dup {
		return id, nil
	}
	l.blocks[id] = &blockEntry{
		block:      b,
		meta:       nodeclient.BlockMetadata{BlockID: id, Parents: b.Parents, IsSolid: true},
		attachedAt: l.clock.Now(),
	}
	l.pending = append(l.pending, id)
	l.tips = append(l.tips, id)
	if len(l.tips) > block.MaxParents/2 {
		l.tips = l.tips[len(l.tips)-block.MaxParents/2:]
	}
	if l.autoInc {
		l.issueMilestone()
	}
	return id, nil
}

// ErrNoChainOutput is wrapped when no unspent output carries a chain id.
var ErrNoChainOutput = errors.New("no unspent chain output")

// FoundryOutputID implements nodeclient.Client.
func (l *Ledger) FoundryOutputID(_ context.Context, id types.FoundryID) (types.OutputID, error) {
	return l.findChain(nodeclient.MethodFoundryOutputID, func(oid types.OutputID, o output.Output) bool {
		f, ok := o.(*output.FoundryOutput)
		return ok && f.FoundryID() == id
	}, id.String())
}

// AliasOutputID implements nodeclient.Client.
func (l *Ledger) AliasOutputID(_ context.Context, id types.AliasID) (types.OutputID, error) {
	return l.findChain(nodeclient.MethodAliasOutputID, func(oid types.OutputID, o output.Output) bool {
		a, ok := o.(*output.AliasOutput)
		return ok && output.ResolvedAliasID(a, oid) == id
	}, id.String())
}

// NftOutputID implements nodeclient.Client.
func (l *Ledger) NftOutputID(_ context.Context, id types.NftID) (types.OutputID, error) {
	return l.findChain(nodeclient.MethodNftOutputID, func(oid types.OutputID, o output.Output) bool {
		n, ok := o.(*output.NftOutput)
		return ok && output.ResolvedNftID(n, oid) == id
	}, id.String())
}

func (l *Ledger) findChain(method string, match func(types.OutputID, output.Output) bool, id string) (types.OutputID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count(method)
	for oid, e := range l.outputs {
		if !e.meta.IsSpent && match(oid, e.out) {
			return oid, nil
		}
	}
	return types.OutputID{}, fmt.Errorf("%w %s: %w", ErrNoChainOutput, id, nodeclient.ErrNotFound)
}
