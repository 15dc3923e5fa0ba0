package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// checkPending resolves the pending transactions of the active network
// against the node and records the outcome in res.
func (a *Account) checkPending(ctx context.Context, params output.ProtocolParameters, res *syncResult) error {
	var pending []*Transaction
	a.read(func(d *AccountDetails) {
		for id := range d.PendingTransactions {
			if t, ok := d.Transactions[id]; ok && t.NetworkID == params.NetworkID() {
				pending = append(pending, t.Clone())
			}
		}
	})

	for _, t := range pending {
		if err := a.checkTransaction(ctx, params, t, res); err != nil {
			return err
		}
	}
	return nil
}

func (a *Account) checkTransaction(ctx context.Context, params output.ProtocolParameters, t *Transaction, res *syncResult) error {
	logger := log.Sync.With().Uint32("account", a.index).Stringer("tx", t.TransactionID).Logger()
	age := a.shared.clock.Now().Sub(time.UnixMilli(t.Timestamp))

	var md *nodeclient.BlockMetadata
	if t.BlockID != nil {
		var err error
		md, err = a.shared.client.BlockMetadata(ctx, *t.BlockID)
		switch {
		case errors.Is(err, nodeclient.ErrNotFound):
			md = nil
		case err != nil:
			return fmt.Errorf("block metadata of %s: %w", t.TransactionID, err)
		}
	}

	if md == nil {
		// Never attached, or the node forgot the block.
		included, err := a.includedBlock(ctx, t.TransactionID)
		if err != nil {
			return err
		}
		if included != nil {
			a.confirm(t, included, res)
			return nil
		}
		if t.BlockID != nil && age >= PruneAfter {
			logger.Debug().Dur("age", age).Msg("Transaction unknown to node, marking pruned")
			res.txs[t.TransactionID] = txUpdate{event: eventPrune}
			return a.releaseInputs(ctx, t, res)
		}
		if t.BlockID != nil && age < ReattachAfter {
			logger.Debug().Dur("age", age).Msg("Block unknown to node, waiting before reattaching")
			return nil
		}
		return a.reattachPending(ctx, params, t, res)
	}

	switch md.LedgerInclusionState {
	case nodeclient.InclusionIncluded:
		a.confirm(t, t.BlockID, res)
	case nodeclient.InclusionConflicting, nodeclient.InclusionNoTransaction:
		// Another attachment may have been included.
		included, err := a.includedBlock(ctx, t.TransactionID)
		if err != nil {
			return err
		}
		if included != nil {
			a.confirm(t, included, res)
			return nil
		}
		logger.Info().Uint8("reason", md.ConflictReason).Msg("Transaction conflicting")
		res.txs[t.TransactionID] = txUpdate{event: eventConflict}
		return a.releaseInputs(ctx, t, res)
	default:
		// The node reports ShouldReattach once the block is older than
		// ReattachAfter.
		if md.ShouldReattach {
			return a.reattachPending(ctx, params, t, res)
		}
	}
	return nil
}

// includedBlock returns the id of the block that included id, or nil.
func (a *Account) includedBlock(ctx context.Context, id types.TransactionID) (*types.BlockID, error) {
	b, err := a.shared.client.IncludedBlock(ctx, id)
	if errors.Is(err, nodeclient.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("included block of %s: %w", id, err)
	}
	blockID := b.ID()
	return &blockID, nil
}

func (a *Account) confirm(t *Transaction, blockID *types.BlockID, res *syncResult) {
	res.txs[t.TransactionID] = txUpdate{event: eventConfirm, blockID: blockID}
	spender := t.TransactionID
	for _, in := range t.Payload.Essence.Inputs {
		res.markSpent(in, &spender)
	}
}

// releaseInputs checks every input of a failed transaction: spent ones are
// marked spent, unspent ones get unlocked.
func (a *Account) releaseInputs(ctx context.Context, t *Transaction, res *syncResult) error {
	for _, in := range t.Payload.Essence.Inputs {
		md, err := a.shared.client.OutputMetadata(ctx, in)
		switch {
		case errors.Is(err, nodeclient.ErrNotFound):
			res.markSpent(in, nil)
		case err != nil:
			return fmt.Errorf("input %s of %s: %w", in, t.TransactionID, err)
		case md.IsSpent:
			res.markSpent(in, md.TransactionIDSpent)
		default:
			res.unlock = append(res.unlock, in)
		}
	}
	return nil
}

// reattachPending posts the payload of t in a new block.
func (a *Account) reattachPending(ctx context.Context, params output.ProtocolParameters, t *Transaction, res *syncResult) error {
	blockID, err := a.attach(ctx, params, t.Payload, false)
	if err != nil {
		log.Sync.Warn().Err(err).Stringer("tx", t.TransactionID).Msg("Reattachment failed")
		return nil
	}
	log.Sync.Debug().Stringer("tx", t.TransactionID).Stringer("block", blockID).Msg("Transaction reattached")
	res.txs[t.TransactionID] = txUpdate{blockID: &blockID}
	return nil
}
