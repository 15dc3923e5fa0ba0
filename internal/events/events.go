// Package events delivers wallet notifications to subscribers.
package events

import (
	"sync/atomic"

	"github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/puzpuzpuz/xsync/v4"
)

// Kind identifies an event type.
type Kind uint8

// Event kinds.
const (
	KindNewOutput Kind = iota + 1
	KindSpentOutput
	KindTransactionInclusion
	KindTransactionProgress
	KindConsolidationRequired
	KindLedgerAddressGeneration
)

// String returns the event kind name.
func (k Kind) String() string {
	switch k {
	case KindNewOutput:
		return "NewOutput"
	case KindSpentOutput:
		return "SpentOutput"
	case KindTransactionInclusion:
		return "TransactionInclusion"
	case KindTransactionProgress:
		return "TransactionProgress"
	case KindConsolidationRequired:
		return "ConsolidationRequired"
	case KindLedgerAddressGeneration:
		return "LedgerAddressGeneration"
	default:
		return "Unknown"
	}
}

// Payload is the body of an event.
type Payload interface {
	Kind() Kind
}

// NewOutput is emitted when sync finds an output on one of our addresses.
type NewOutput struct {
	OutputID      types.OutputID
	Output        output.Output
	Address       types.Address
	TransactionID types.TransactionID
	Remainder     bool
}

// SpentOutput is emitted when a known unspent output is found spent.
type SpentOutput struct {
	OutputID types.OutputID
	Output   output.Output
}

// TransactionInclusion is emitted when a transaction leaves the pending state.
type TransactionInclusion struct {
	TransactionID  types.TransactionID
	InclusionState string
}

// Progress is a step of sending a transaction.
type Progress uint8

// Transaction progress steps.
const (
	SelectingInputs Progress = iota
	GeneratingRemainderDepositAddress
	PreparedTransaction
	SigningTransaction
	PerformingPow
	Broadcasting
)

// String returns the step name.
func (p Progress) String() string {
	return [...]string{
		"SelectingInputs",
		"GeneratingRemainderDepositAddress",
		"PreparedTransaction",
		"SigningTransaction",
		"PerformingPow",
		"Broadcasting",
	}[p]
}

// TransactionProgress reports a step of the transaction pipeline.
type TransactionProgress struct {
	Progress Progress
	// Address is set for GeneratingRemainderDepositAddress.
	Address string
}

// ConsolidationRequired is emitted when input selection needs more inputs than allowed.
type ConsolidationRequired struct {
	Count int
	Max   int
}

// LedgerAddressGeneration shows an address a hardware signer asks the user to confirm.
type LedgerAddressGeneration struct {
	Address string
}

func (NewOutput) Kind() Kind               { return KindNewOutput }
func (SpentOutput) Kind() Kind             { return KindSpentOutput }
func (TransactionInclusion) Kind() Kind    { return KindTransactionInclusion }
func (TransactionProgress) Kind() Kind     { return KindTransactionProgress }
func (ConsolidationRequired) Kind() Kind   { return KindConsolidationRequired }
func (LedgerAddressGeneration) Kind() Kind { return KindLedgerAddressGeneration }

// Event is a payload tagged with the account it concerns.
type Event struct {
	AccountIndex uint32
	Payload      Payload
}

// Handler receives events. Handlers run on the emitting goroutine and must not block.
type Handler func(Event)

type subscription struct {
	kinds   map[Kind]bool // nil means all kinds
	handler Handler
}

// Emitter fans events out to subscribers. A nil *Emitter drops everything.
type Emitter struct {
	subs   *xsync.Map[uint64, subscription]
	nextID atomic.Uint64
}

// New creates an emitter without subscribers.
func New() *Emitter {
	return &Emitter{subs: xsync.NewMap[uint64, subscription]()}
}

// Subscribe registers h for kinds, or for every kind when kinds is empty.
// The returned id is passed to Unsubscribe.
func (e *Emitter) Subscribe(kinds []Kind, h Handler) uint64 {
	s := subscription{handler: h}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
	id := e.nextID.Add(1)
	e.subs.Store(id, s)
	return id
}

// Unsubscribe removes a subscription.
func (e *Emitter) Unsubscribe(id uint64) {
	e.subs.Delete(id)
}

// Clear removes all subscriptions.
func (e *Emitter) Clear() {
	e.subs.Clear()
}

// Emit delivers p to matching subscribers.
func (e *Emitter) Emit(account uint32, p Payload) {
	if e == nil {
		return
	}
	ev := Event{AccountIndex: account, Payload: p}
	e.subs.Range(func(_ uint64, s subscription) bool {
		if s.kinds == nil || s.kinds[p.Kind()] {
			s.handler(ev)
		}
		return true
	})
	log.Events.Trace().Uint32("account", account).Stringer("kind", p.Kind()).Msg("Event emitted")
}
