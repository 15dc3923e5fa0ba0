package wallet

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// InclusionState is the ledger state of a transaction. Pending is the only
// state that can change.
type InclusionState string

// Inclusion states.
const (
	InclusionPending       InclusionState = "pending"
	InclusionConfirmed     InclusionState = "confirmed"
	InclusionConflicting   InclusionState = "conflicting"
	InclusionUnknownPruned InclusionState = "unknownPruned"
)

// Inclusion events.
const (
	eventConfirm  = "confirm"
	eventConflict = "conflict"
	eventPrune    = "prune"
)

// newInclusionFSM creates the state machine of a transaction in state.
// The machine has the following transitions:
// - pending -> confirmed
// - pending -> conflicting
// - pending -> unknownPruned
func newInclusionFSM(state InclusionState) *fsm.FSM {
	pending := []string{string(InclusionPending)}
	return fsm.NewFSM(
		string(state),
		fsm.Events{
			{Name: eventConfirm, Src: pending, Dst: string(InclusionConfirmed)},
			{Name: eventConflict, Src: pending, Dst: string(InclusionConflicting)},
			{Name: eventPrune, Src: pending, Dst: string(InclusionUnknownPruned)},
		},
		fsm.Callbacks{},
	)
}

// transition moves t along event. Terminal states reject every event.
func (t *Transaction) transition(ctx context.Context, event string) error {
	machine := newInclusionFSM(t.InclusionState)
	if err := machine.Event(ctx, event); err != nil {
		return fmt.Errorf("%w: %s from %s: %v", ErrInvalidInclusionChange, event, t.InclusionState, err)
	}
	t.InclusionState = InclusionState(machine.Current())
	return nil
}

// IsPending reports whether the transaction still waits for inclusion.
func (t *Transaction) IsPending() bool {
	return t.InclusionState == InclusionPending
}

// Pipeline steps of an outgoing transaction.
const (
	stepPrepared  = "prepared"
	stepSigned    = "signed"
	stepSubmitted = "submitted"

	eventSign   = "sign"
	eventSubmit = "submit"
)

// newPipelineFSM tracks one send from prepared essence to submitted block.
// onEnter runs after every state change.
func newPipelineFSM(onEnter func(state string)) *fsm.FSM {
	return fsm.NewFSM(
		stepPrepared,
		fsm.Events{
			{Name: eventSign, Src: []string{stepPrepared}, Dst: stepSigned},
			{Name: eventSubmit, Src: []string{stepSigned}, Dst: stepSubmitted},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if onEnter != nil {
					onEnter(e.Dst)
				}
			},
		},
	)
}
