package wallet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Klingon-tech/tangle-wallet/internal/events"
	"github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/internal/metrics"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/alitto/pond/v2"
	"golang.org/x/sync/errgroup"
)

// foundOutput is an output seen on a synced address.
type foundOutput struct {
	resp    *nodeclient.OutputResponse
	address types.Address
}

// txUpdate changes a pending transaction. An empty event only moves BlockID.
type txUpdate struct {
	event   string
	blockID *types.BlockID
}

// syncResult collects everything a sync learned before it is committed in
// one write section.
type syncResult struct {
	found     map[types.OutputID]foundOutput
	spent     map[types.OutputID]*types.TransactionID
	unlock    []types.OutputID
	txs       map[types.TransactionID]txUpdate
	incoming  map[types.TransactionID]*Transaction
	foundries map[types.FoundryID]*output.FoundryOutput
}

func newSyncResult() *syncResult {
	return &syncResult{
		found:     make(map[types.OutputID]foundOutput),
		spent:     make(map[types.OutputID]*types.TransactionID),
		txs:       make(map[types.TransactionID]txUpdate),
		incoming:  make(map[types.TransactionID]*Transaction),
		foundries: make(map[types.FoundryID]*output.FoundryOutput),
	}
}

func (r *syncResult) markSpent(id types.OutputID, by *types.TransactionID) {
	if cur, ok := r.spent[id]; ok && cur != nil {
		return
	}
	r.spent[id] = by
}

// Sync refreshes the account from the node and returns the new balance.
// Calls within MinSyncInterval of the last sync return the local balance
// unless ForceSyncing is set. A nil opts uses the manager defaults.
func (a *Account) Sync(ctx context.Context, opts *SyncOptions) (*Balance, error) {
	o := a.shared.syncDefaults
	if opts != nil {
		o = *opts
	}
	if o.ParallelRequests <= 0 {
		o.ParallelRequests = DefaultParallelRequests
	}

	a.syncMu.Lock()
	defer a.syncMu.Unlock()

	if !o.ForceSyncing && !a.lastSynced.IsZero() && a.shared.clock.Now().Sub(a.lastSynced) < MinSyncInterval {
		a.log().Debug().Msg("Synced recently, returning local balance")
		metrics.ObserveSync(time.Now(), metrics.ResultSkipped)
		return a.Balance(ctx)
	}

	start := time.Now()
	done := log.Benchmark(*a.log(), "sync")
	defer done()

	b, err := a.sync(ctx, o)
	if err != nil {
		metrics.ObserveSync(start, metrics.ResultError)
		return nil, err
	}
	a.lastSynced = a.shared.clock.Now()
	metrics.ObserveSync(start, metrics.ResultOK)
	return b, nil
}

func (a *Account) sync(ctx context.Context, o SyncOptions) (*Balance, error) {
	params, err := a.protocol(ctx)
	if err != nil {
		return nil, err
	}
	res := newSyncResult()

	if o.SyncPendingTransactions {
		if err := a.checkPending(ctx, params, res); err != nil {
			return nil, err
		}
	}

	addrs, err := a.addressesToSync(ctx, o)
	if err != nil {
		return nil, err
	}
	if err := a.syncOutputs(ctx, o, params, addrs, res); err != nil {
		return nil, err
	}
	if o.SyncIncomingTransactions {
		if err := a.syncIncoming(ctx, res); err != nil {
			return nil, err
		}
	}
	if o.SyncNativeTokenFoundries {
		if err := a.syncFoundries(ctx, res); err != nil {
			return nil, err
		}
	}

	if err := a.commitSync(ctx, params, res); err != nil {
		return nil, err
	}

	if o.AutoConsolidate {
		a.autoConsolidate(ctx, o)
	}
	return a.Balance(ctx)
}

// addressesToSync returns the explicit addresses of o, or the account
// addresses from the start indices on after an optional gap limit search.
func (a *Account) addressesToSync(ctx context.Context, o SyncOptions) ([]types.Address, error) {
	if len(o.Addresses) > 0 {
		return append([]types.Address(nil), o.Addresses...), nil
	}
	if o.AddressGapLimit > 0 {
		for _, internal := range []bool{false, true} {
			if err := a.searchAddresses(ctx, o, internal); err != nil {
				return nil, err
			}
		}
	}
	var addrs []types.Address
	a.read(func(d *AccountDetails) {
		for _, ad := range d.PublicAddresses {
			if ad.KeyIndex >= o.AddressStartIndex {
				addrs = append(addrs, ad.Address.Inner)
			}
		}
		for _, ad := range d.InternalAddresses {
			if ad.KeyIndex >= o.AddressStartIndexInternal {
				addrs = append(addrs, ad.Address.Inner)
			}
		}
	})
	return addrs, nil
}

// searchAddresses generates AddressGapLimit addresses at a time until a
// round finds no outputs, then trims the generated addresses after the
// last one that held outputs. Addresses that existed before are kept.
//
// An account holding only its creation-time address folds that address
// into the first round, so the window covers indices 0..AddressGapLimit-1.
func (a *Account) searchAddresses(ctx context.Context, o SyncOptions, internal bool) error {
	limit := int64(-1)
	var fold []AccountAddress
	a.read(func(d *AccountDetails) {
		list := d.PublicAddresses
		if internal {
			list = d.InternalAddresses
		}
		if n := len(list); n > 0 {
			limit = int64(list[n-1].KeyIndex)
		}
		if !internal && len(list) == 1 && list[0].KeyIndex == 0 {
			fold = []AccountAddress{list[0]}
		}
	})

	for round := 0; ; round++ {
		probe := fold
		fold = nil
		if n := o.AddressGapLimit - uint32(len(probe)); n > 0 {
			generated, err := a.GenerateAddresses(ctx, n, internal, GenerateAddressOptions{})
			if err != nil {
				return err
			}
			probe = append(probe, generated...)
		}
		addrs := make([]types.Address, len(probe))
		for i, g := range probe {
			addrs[i] = g.Address.Inner
		}
		ids, err := a.fetchOutputIDs(ctx, o, addrs)
		if err != nil {
			return err
		}
		found := false
		for _, g := range probe {
			if len(ids[g.Address.Inner]) > 0 {
				found = true
				limit = max(limit, int64(g.KeyIndex))
			}
		}
		log.Sync.Debug().Uint32("account", a.index).Bool("internal", internal).Int("round", round).Bool("found", found).Msg("Address search round")
		if !found {
			break
		}
	}

	return a.update(func(d *AccountDetails) error {
		list := &d.PublicAddresses
		if internal {
			list = &d.InternalAddresses
		}
		keep := 0
		for i, ad := range *list {
			if int64(ad.KeyIndex) <= limit {
				keep = i + 1
			}
		}
		if !internal && keep == 0 && len(*list) > 0 {
			keep = 1
		}
		*list = (*list)[:keep]
		return nil
	})
}

// queriesFor returns the output queries that find outputs addr can unlock.
func queriesFor(addr types.Address, o SyncOptions) []nodeclient.OutputQuery {
	var basic, nft, alias, foundry bool
	switch addr.Kind {
	case types.AddressPubKeyHash:
		basic, nft, alias = o.Account.BasicOutputs, o.Account.NftOutputs, o.Account.AliasOutputs
	case types.AddressAlias:
		basic, nft, alias, foundry = o.Alias.BasicOutputs, o.Alias.NftOutputs, o.Alias.AliasOutputs, o.Alias.FoundryOutputs
	case types.AddressNft:
		basic, nft, alias = o.Nft.BasicOutputs, o.Nft.NftOutputs, o.Nft.AliasOutputs
	}

	q := func(kind output.Kind, role nodeclient.AddressRole) nodeclient.OutputQuery {
		return nodeclient.OutputQuery{Kind: kind, Address: addr, Role: role}
	}
	if o.SyncOnlyMostBasicOutputs {
		if !basic {
			return nil
		}
		return []nodeclient.OutputQuery{q(output.KindBasic, nodeclient.RoleAddress)}
	}

	var out []nodeclient.OutputQuery
	if basic {
		out = append(out, q(output.KindBasic, nodeclient.RoleAddress), q(output.KindBasic, nodeclient.RoleExpirationReturn))
	}
	if nft {
		out = append(out, q(output.KindNft, nodeclient.RoleAddress), q(output.KindNft, nodeclient.RoleExpirationReturn))
	}
	if alias {
		out = append(out, q(output.KindAlias, nodeclient.RoleStateController), q(output.KindAlias, nodeclient.RoleGovernor))
	}
	if foundry {
		out = append(out, q(output.KindFoundry, nodeclient.RoleImmutableAlias))
	}
	return out
}

// fetchOutputIDs runs the queries of every address concurrently and returns
// the de-duplicated ids per address.
func (a *Account) fetchOutputIDs(ctx context.Context, o SyncOptions, addrs []types.Address) (map[types.Address][]types.OutputID, error) {
	var mu sync.Mutex
	seen := make(map[types.Address]map[types.OutputID]bool, len(addrs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.ParallelRequests, 1))
	for _, addr := range addrs {
		for _, q := range queriesFor(addr, o) {
			g.Go(func() error {
				ids, err := a.shared.client.OutputIDs(gctx, q)
				if errors.Is(err, nodeclient.ErrNotFound) {
					log.Sync.Debug().Stringer("address", addr).Stringer("role", q.Role).Msg("No outputs")
					return nil
				}
				if err != nil {
					return fmt.Errorf("output ids of %s (%s %s): %w", addr, q.Kind, q.Role, err)
				}
				mu.Lock()
				defer mu.Unlock()
				set := seen[addr]
				if set == nil {
					set = make(map[types.OutputID]bool)
					seen[addr] = set
				}
				for _, id := range ids {
					set[id] = true
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[types.Address][]types.OutputID, len(seen))
	for addr, set := range seen {
		for id := range set {
			out[addr] = append(out[addr], id)
		}
	}
	return out, nil
}

// fetchOutputs hydrates ids on a bounded worker pool. Unknown ids are
// skipped.
func (a *Account) fetchOutputs(ctx context.Context, workers int, ids []types.OutputID) ([]*nodeclient.OutputResponse, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pool := pond.NewPool(max(workers, 1))
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	gctx := group.Context()
	resps := make([]*nodeclient.OutputResponse, len(ids))
	for i, id := range ids {
		group.SubmitErr(func() error {
			resp, err := a.shared.client.Output(gctx, id)
			if errors.Is(err, nodeclient.ErrNotFound) {
				log.Sync.Debug().Stringer("output", id).Msg("Output pruned, skipping")
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetch output %s: %w", id, err)
			}
			resps[i] = resp
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	out := resps[:0]
	for _, r := range resps {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// syncOutputs diffs the outputs on addrs against the known unspent outputs.
// Alias and NFT outputs found on the way add their addresses to the next
// round.
func (a *Account) syncOutputs(ctx context.Context, o SyncOptions, params output.ProtocolParameters, addrs []types.Address, res *syncResult) error {
	knownAddr := make(map[types.OutputID]types.Address)
	known := make(map[types.OutputID]bool)
	a.read(func(d *AccountDetails) {
		for id := range d.Outputs {
			known[id] = true
		}
		for id, od := range d.UnspentOutputs {
			if od.NetworkID == params.NetworkID() {
				knownAddr[id] = od.Address
			}
		}
	})

	visited := make(map[types.Address]bool)
	present := make(map[types.OutputID]bool)
	queue := addrs
	for len(queue) > 0 {
		for _, addr := range queue {
			visited[addr] = true
		}
		ids, err := a.fetchOutputIDs(ctx, o, queue)
		if err != nil {
			return err
		}

		var next []types.Address
		follow := func(addr types.Address) {
			if !visited[addr] {
				visited[addr] = true
				next = append(next, addr)
			}
		}

		var fresh []types.OutputID
		freshAddr := make(map[types.OutputID]types.Address)
		for _, addr := range queue {
			for _, id := range ids[addr] {
				if present[id] {
					continue
				}
				present[id] = true
				if known[id] {
					continue
				}
				fresh = append(fresh, id)
				freshAddr[id] = addr
			}
		}
		// Known chain outputs keep their addresses followed.
		for id := range present {
			if addr, ok := knownAddr[id]; ok && visited[addr] {
				a.read(func(d *AccountDetails) {
					if od, ok := d.Outputs[id]; ok {
						if chain, ok := output.ChainAddress(od.Output, id); ok {
							follow(chain)
						}
					}
				})
			}
		}

		resps, err := a.fetchOutputs(ctx, o.ParallelRequests, fresh)
		if err != nil {
			return err
		}
		for _, r := range resps {
			id := r.Metadata.OutputID()
			if o.SyncOnlyMostBasicOutputs && (r.Output.Kind() != output.KindBasic || !output.IsPlainAddressLock(r.Output)) {
				continue
			}
			if r.Metadata.IsSpent {
				continue
			}
			res.found[id] = foundOutput{resp: r, address: freshAddr[id]}
			if chain, ok := output.ChainAddress(r.Output, id); ok {
				follow(chain)
			}
		}
		queue = next
	}

	var gone []types.OutputID
	for id, addr := range knownAddr {
		if visited[addr] && !present[id] {
			gone = append(gone, id)
		}
	}
	return a.resolveSpent(ctx, o.ParallelRequests, gone, res)
}

// resolveSpent records the ids the node reports spent, with the spending
// transaction when the node still knows it. Pruned ids count as spent. Ids
// that are still unspent only fell out of the query scope and stay as they are.
func (a *Account) resolveSpent(ctx context.Context, workers int, ids []types.OutputID, res *syncResult) error {
	if len(ids) == 0 {
		return nil
	}
	pool := pond.NewPool(max(workers, 1))
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	gctx := group.Context()
	spent := make([]bool, len(ids))
	spentBy := make([]*types.TransactionID, len(ids))
	for i, id := range ids {
		group.SubmitErr(func() error {
			md, err := a.shared.client.OutputMetadata(gctx, id)
			if errors.Is(err, nodeclient.ErrNotFound) {
				spent[i] = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("output metadata %s: %w", id, err)
			}
			spent[i] = md.IsSpent
			spentBy[i] = md.TransactionIDSpent
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	for i, id := range ids {
		if !spent[i] {
			log.Sync.Debug().Stringer("output", id).Msg("Output outside query scope, still unspent")
			continue
		}
		res.markSpent(id, spentBy[i])
	}
	return nil
}

// syncIncoming fetches the transactions that created newly found outputs
// the account did not send itself.
func (a *Account) syncIncoming(ctx context.Context, res *syncResult) error {
	txIDs := make(map[types.TransactionID]uint32)
	a.read(func(d *AccountDetails) {
		for _, f := range res.found {
			id := f.resp.Metadata.TransactionID
			if _, ours := d.Transactions[id]; ours {
				continue
			}
			if _, done := d.IncomingTransactions[id]; done {
				continue
			}
			txIDs[id] = f.resp.Metadata.MilestoneTimestamp
		}
	})

	for id, ts := range txIDs {
		b, err := a.shared.client.IncludedBlock(ctx, id)
		if errors.Is(err, nodeclient.ErrNotFound) {
			log.Sync.Debug().Stringer("tx", id).Msg("Incoming transaction not available")
			continue
		}
		if err != nil {
			return fmt.Errorf("incoming transaction %s: %w", id, err)
		}
		if b.Payload == nil {
			continue
		}
		blockID := b.ID()
		t := &Transaction{
			Payload:        b.Payload,
			BlockID:        &blockID,
			InclusionState: InclusionConfirmed,
			Timestamp:      time.Unix(int64(ts), 0).UnixMilli(),
			TransactionID:  id,
			NetworkID:      b.Payload.Essence.NetworkID,
			Incoming:       true,
		}
		for _, in := range b.Payload.Essence.Inputs {
			resp, err := a.shared.client.Output(ctx, in)
			if err != nil {
				log.Sync.Debug().Err(err).Stringer("input", in).Msg("Input of incoming transaction unavailable")
				continue
			}
			t.Inputs = append(t.Inputs, *resp)
		}
		res.incoming[id] = t
	}
	return nil
}

// syncFoundries fetches the foundries of native tokens the account holds.
func (a *Account) syncFoundries(ctx context.Context, res *syncResult) error {
	wanted := make(map[types.FoundryID]bool)
	a.read(func(d *AccountDetails) {
		add := func(o output.Output) {
			for _, t := range o.NativeTokenList() {
				if _, ok := d.NativeTokenFoundries[t.ID]; !ok {
					wanted[t.ID] = true
				}
			}
		}
		for _, od := range d.UnspentOutputs {
			add(od.Output)
		}
		for _, f := range res.found {
			add(f.resp.Output)
		}
	})

	for id := range wanted {
		oid, err := a.shared.client.FoundryOutputID(ctx, id)
		if errors.Is(err, nodeclient.ErrNotFound) {
			log.Sync.Debug().Stringer("foundry", id).Msg("Foundry not found")
			continue
		}
		if err != nil {
			return fmt.Errorf("foundry %s: %w", id, err)
		}
		resp, err := a.shared.client.Output(ctx, oid)
		if errors.Is(err, nodeclient.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("foundry output %s: %w", oid, err)
		}
		if f, ok := resp.Output.(*output.FoundryOutput); ok {
			res.foundries[id] = f
		}
	}
	return nil
}

// commitSync applies res in one write section and emits the events after
// the section ends.
func (a *Account) commitSync(ctx context.Context, params output.ProtocolParameters, res *syncResult) error {
	var (
		emitted []events.Payload
		pending int
	)
	err := a.update(func(d *AccountDetails) error {
		for txID, u := range res.txs {
			t := d.Transactions[txID]
			if t == nil || !t.IsPending() {
				continue
			}
			if u.blockID != nil {
				id := *u.blockID
				t.BlockID = &id
			}
			if u.event == "" {
				continue
			}
			if err := t.transition(ctx, u.event); err != nil {
				log.Sync.Warn().Err(err).Stringer("tx", txID).Msg("Inclusion change rejected")
				continue
			}
			delete(d.PendingTransactions, txID)
			emitted = append(emitted, events.TransactionInclusion{TransactionID: txID, InclusionState: string(t.InclusionState)})
		}

		for _, id := range res.unlock {
			delete(d.LockedOutputs, id)
		}

		for id, by := range res.spent {
			od, ok := d.Outputs[id]
			if !ok || od.IsSpent {
				continue
			}
			od.IsSpent = true
			od.Metadata.IsSpent = true
			od.Metadata.TransactionIDSpent = by
			delete(d.UnspentOutputs, id)
			delete(d.LockedOutputs, id)
			emitted = append(emitted, events.SpentOutput{OutputID: id, Output: od.Output})
		}

		for id, f := range res.found {
			if _, ok := d.Outputs[id]; ok {
				continue
			}
			_, remainder := d.Transactions[id.TransactionID]
			od := &OutputData{
				OutputID:  id,
				Output:    f.resp.Output,
				Metadata:  f.resp.Metadata,
				Address:   f.address,
				NetworkID: params.NetworkID(),
				Remainder: remainder,
				Chain:     d.chainFor(f.address),
			}
			d.Outputs[id] = od
			d.UnspentOutputs[id] = od
			d.markUsed(f.address)
			emitted = append(emitted, events.NewOutput{
				OutputID:      id,
				Output:        od.Output,
				Address:       f.address,
				TransactionID: id.TransactionID,
				Remainder:     remainder,
			})
		}

		for id, t := range res.incoming {
			d.IncomingTransactions[id] = t
		}
		for id, f := range res.foundries {
			d.NativeTokenFoundries[id] = f
		}
		d.rebuildAddressCache()
		pending = len(d.PendingTransactions)
		return nil
	})
	if err != nil {
		return err
	}

	for _, p := range emitted {
		a.shared.events.Emit(a.index, p)
	}
	metrics.AddSyncedOutputs(len(res.found), len(res.spent))
	metrics.SetPending(strconv.FormatUint(uint64(a.index), 10), pending)
	log.Sync.Debug().Uint32("account", a.index).
		Int("found", len(res.found)).
		Int("spent", len(res.spent)).
		Int("transactions", len(res.txs)).
		Msg("Sync committed")
	return nil
}

// autoConsolidate runs a consolidation when enough outputs piled up.
// Failures are logged; they do not fail the sync.
func (a *Account) autoConsolidate(ctx context.Context, o SyncOptions) {
	threshold := o.ConsolidationThreshold
	if a.shared.signer.Kind() == signer.KindHardware {
		if !o.ConsolidateHardware {
			a.log().Debug().Msg("Automatic consolidation skipped for hardware signer")
			return
		}
		if threshold <= 0 || threshold > DefaultHardwareConsolidationThreshold {
			threshold = DefaultHardwareConsolidationThreshold
		}
	}
	if threshold <= 0 {
		threshold = DefaultConsolidationThreshold
	}
	t, err := a.ConsolidateOutputs(ctx, false, threshold)
	var below *ConsolidationThresholdError
	switch {
	case errors.As(err, &below):
		return
	case err != nil:
		a.log().Warn().Err(err).Msg("Automatic consolidation failed")
	default:
		a.log().Info().Stringer("tx", t.TransactionID).Msg("Outputs consolidated")
	}
}
