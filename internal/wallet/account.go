package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/tangle-wallet/internal/events"
	"github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/internal/walletdb"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/rs/zerolog"
)

// shared holds the capabilities every account of a manager uses.
type shared struct {
	client   nodeclient.Client
	signer   signer.Signer
	store    walletdb.Store
	events   *events.Emitter
	clock    clock.Clock
	coinType uint32

	localPoW   bool
	powThreads int

	syncDefaults SyncOptions

	// aliasMu serializes alias changes across accounts.
	aliasMu sync.Mutex
	// aliasTaken reports whether another account than index uses alias.
	aliasTaken func(alias string, index uint32) bool
}

// Account is the handle of one wallet account. All methods are safe for
// concurrent use.
type Account struct {
	shared *shared
	index  uint32

	mu      sync.RWMutex
	details *AccountDetails

	// addrMu serializes address generation.
	addrMu sync.Mutex

	// syncMu is the debounce gate of Sync.
	syncMu     sync.Mutex
	lastSynced time.Time

	params atomic.Pointer[output.ProtocolParameters]
	logger atomic.Pointer[zerolog.Logger]
}

func newAccount(s *shared, d *AccountDetails) *Account {
	d.init()
	a := &Account{shared: s, index: d.Index, details: d}
	a.setLogger(d.Alias)
	return a
}

func (a *Account) setLogger(alias string) {
	l := log.WithAccount(log.Wallet, a.index, alias)
	a.logger.Store(&l)
}

func (a *Account) log() *zerolog.Logger {
	return a.logger.Load()
}

// Index returns the account index.
func (a *Account) Index() uint32 {
	return a.index
}

// Alias returns the account alias.
func (a *Account) Alias() string {
	var alias string
	a.read(func(d *AccountDetails) { alias = d.Alias })
	return alias
}

// Details returns a deep copy of the account state.
func (a *Account) Details() *AccountDetails {
	var c *AccountDetails
	a.read(func(d *AccountDetails) { c = d.Clone() })
	return c
}

// read runs fn with shared access to the account state. fn must not keep
// references to the state.
func (a *Account) read(fn func(d *AccountDetails)) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fn(a.details)
}

// update runs fn with exclusive access and persists the state afterwards.
// fn must leave the state consistent when it returns an error.
func (a *Account) update(fn func(d *AccountDetails) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := fn(a.details); err != nil {
		return err
	}
	if id, ok := a.details.checkLocks(); !ok {
		panic(fmt.Sprintf("account %d: locked output %s is not unspent", a.index, id))
	}
	return a.persistLocked()
}

func (a *Account) persistLocked() error {
	if a.shared.store == nil {
		return nil
	}
	data, err := json.Marshal(a.details)
	if err != nil {
		return fmt.Errorf("encode account %d: %w", a.index, err)
	}
	return a.shared.store.SaveAccount(a.index, data)
}

// now returns the ledger time used to evaluate unlock conditions.
func (a *Account) now() uint32 {
	return uint32(a.shared.clock.Now().Unix())
}

// protocol fetches the protocol parameters from the node and caches them.
func (a *Account) protocol(ctx context.Context) (output.ProtocolParameters, error) {
	info, err := a.shared.client.Info(ctx)
	if err != nil {
		return output.ProtocolParameters{}, fmt.Errorf("node info: %w", err)
	}
	p := info.Protocol
	a.params.Store(&p)
	return p, nil
}

// cachedProtocol returns the last known protocol parameters and only asks
// the node when none are known.
func (a *Account) cachedProtocol(ctx context.Context) (output.ProtocolParameters, error) {
	if p := a.params.Load(); p != nil {
		return *p, nil
	}
	return a.protocol(ctx)
}

// ListAddresses returns the public then internal addresses.
func (a *Account) ListAddresses() []AccountAddress {
	var out []AccountAddress
	a.read(func(d *AccountDetails) { out = d.addresses() })
	return out
}

// ListAddressesWithUnspentOutputs returns the addresses holding unspent outputs.
func (a *Account) ListAddressesWithUnspentOutputs() []AddressWithUnspentOutputs {
	var out []AddressWithUnspentOutputs
	a.read(func(d *AccountDetails) {
		out = make([]AddressWithUnspentOutputs, len(d.AddressesWithUnspentOutputs))
		for i, e := range d.AddressesWithUnspentOutputs {
			e.OutputIDs = append([]types.OutputID(nil), e.OutputIDs...)
			out[i] = e
		}
	})
	return out
}

// OutputFilter selects outputs in list operations. A nil filter selects all.
type OutputFilter func(*OutputData) bool

func listOutputs(m map[types.OutputID]*OutputData, filter OutputFilter) []*OutputData {
	out := make([]*OutputData, 0, len(m))
	for _, o := range m {
		if filter == nil || filter(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OutputID.Less(out[j].OutputID) })
	return out
}

// ListOutputs returns every output the account knows, spent or not.
func (a *Account) ListOutputs(filter OutputFilter) []*OutputData {
	var out []*OutputData
	a.read(func(d *AccountDetails) { out = listOutputs(d.Outputs, filter) })
	return out
}

// ListUnspentOutputs returns the unspent outputs.
func (a *Account) ListUnspentOutputs(filter OutputFilter) []*OutputData {
	var out []*OutputData
	a.read(func(d *AccountDetails) { out = listOutputs(d.UnspentOutputs, filter) })
	return out
}

// FilterKind selects outputs of one of kinds.
func FilterKind(kinds ...output.Kind) OutputFilter {
	return func(o *OutputData) bool {
		for _, k := range kinds {
			if o.Output.Kind() == k {
				return true
			}
		}
		return false
	}
}

func listTransactions(m map[types.TransactionID]*Transaction, keep func(types.TransactionID) bool) []*Transaction {
	out := make([]*Transaction, 0, len(m))
	for id, t := range m {
		if keep == nil || keep(id) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].TransactionID.String() < out[j].TransactionID.String()
	})
	return out
}

// ListTransactions returns the outgoing transactions, oldest first.
func (a *Account) ListTransactions() []*Transaction {
	var out []*Transaction
	a.read(func(d *AccountDetails) { out = listTransactions(d.Transactions, nil) })
	return out
}

// ListPendingTransactions returns the outgoing transactions awaiting inclusion.
func (a *Account) ListPendingTransactions() []*Transaction {
	var out []*Transaction
	a.read(func(d *AccountDetails) { out = listTransactions(d.Transactions, d.PendingTransactions.Has) })
	return out
}

// ListIncomingTransactions returns transactions that created our outputs.
func (a *Account) ListIncomingTransactions() []*Transaction {
	var out []*Transaction
	a.read(func(d *AccountDetails) { out = listTransactions(d.IncomingTransactions, nil) })
	return out
}

// GetOutput returns a known output.
func (a *Account) GetOutput(id types.OutputID) (*OutputData, error) {
	var out *OutputData
	a.read(func(d *AccountDetails) {
		if o, ok := d.Outputs[id]; ok {
			out = o.Clone()
		}
	})
	if out == nil {
		return nil, fmt.Errorf("%w: %s", ErrOutputNotFound, id)
	}
	return out, nil
}

// GetTransaction returns an outgoing or incoming transaction.
func (a *Account) GetTransaction(id types.TransactionID) (*Transaction, error) {
	var out *Transaction
	a.read(func(d *AccountDetails) {
		if t, ok := d.Transactions[id]; ok {
			out = t.Clone()
		} else if t, ok := d.IncomingTransactions[id]; ok {
			out = t.Clone()
		}
	})
	if out == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	return out, nil
}

// SetAlias renames the account. Aliases are unique per manager, ignoring case.
func (a *Account) SetAlias(alias string) error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return fmt.Errorf("%w: alias", ErrMissingParameter)
	}
	a.shared.aliasMu.Lock()
	defer a.shared.aliasMu.Unlock()
	if a.shared.aliasTaken != nil && a.shared.aliasTaken(alias, a.index) {
		return fmt.Errorf("%w: %s", ErrDuplicateAlias, alias)
	}
	err := a.update(func(d *AccountDetails) error {
		d.Alias = alias
		return nil
	})
	if err != nil {
		return err
	}
	a.setLogger(alias)
	return nil
}

// GenerateAddressOptions tune GenerateAddresses.
type GenerateAddressOptions struct {
	// Display asks a hardware signer to show every address.
	Display bool
}

// GenerateAddresses derives amount new addresses on the public or internal
// chain and adds them to the account.
func (a *Account) GenerateAddresses(ctx context.Context, amount uint32, internal bool, opts GenerateAddressOptions) ([]AccountAddress, error) {
	if amount == 0 {
		return nil, nil
	}
	params, err := a.cachedProtocol(ctx)
	if err != nil {
		return nil, err
	}

	a.addrMu.Lock()
	defer a.addrMu.Unlock()

	var start uint32
	a.read(func(d *AccountDetails) {
		list := d.PublicAddresses
		if internal {
			list = d.InternalAddresses
		}
		if n := len(list); n > 0 {
			start = list[n-1].KeyIndex + 1
		}
	})

	addrs, err := a.deriveAddresses(ctx, signer.Range{Start: start, End: start + amount}, internal, opts, params.Bech32HRP)
	if err != nil {
		return nil, err
	}
	generated := make([]AccountAddress, len(addrs))
	for i, addr := range addrs {
		generated[i] = AccountAddress{
			Address:  types.NewBech32Address(params.Bech32HRP, addr),
			KeyIndex: start + uint32(i),
			Internal: internal,
		}
	}
	err = a.update(func(d *AccountDetails) error {
		if internal {
			d.InternalAddresses = append(d.InternalAddresses, generated...)
		} else {
			d.PublicAddresses = append(d.PublicAddresses, generated...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.log().Debug().Uint32("start", start).Uint32("amount", amount).Bool("internal", internal).Msg("Addresses generated")
	return generated, nil
}

// deriveAddresses asks the signer for the addresses in r. Hardware signers
// get one request per address, announced with a LedgerAddressGeneration
// event before the device asks for confirmation.
func (a *Account) deriveAddresses(ctx context.Context, r signer.Range, internal bool, opts GenerateAddressOptions, hrp string) ([]types.Address, error) {
	s := a.shared.signer
	coinType := a.shared.coinType
	if s.Kind() != signer.KindHardware || !opts.Display {
		addrs, err := s.GenerateAddresses(ctx, coinType, a.index, r, internal, signer.GenerateOptions{Display: opts.Display})
		if err != nil {
			return nil, fmt.Errorf("generate addresses: %w", err)
		}
		return addrs, nil
	}

	out := make([]types.Address, 0, r.Len())
	for i := r.Start; i < r.End; i++ {
		one := signer.Range{Start: i, End: i + 1}
		preview, err := s.GenerateAddresses(ctx, coinType, a.index, one, internal, signer.GenerateOptions{})
		if err != nil {
			return nil, fmt.Errorf("generate address %d: %w", i, err)
		}
		a.shared.events.Emit(a.index, events.LedgerAddressGeneration{Address: preview[0].Bech32(hrp)})
		confirmed, err := s.GenerateAddresses(ctx, coinType, a.index, one, internal, signer.GenerateOptions{Display: true})
		if err != nil {
			return nil, fmt.Errorf("confirm address %d: %w", i, err)
		}
		out = append(out, confirmed[0])
	}
	return out, nil
}

// GenerateRemainderAddress derives a fresh internal address for change.
func (a *Account) GenerateRemainderAddress(ctx context.Context) (types.Address, error) {
	addrs, err := a.GenerateAddresses(ctx, 1, true, GenerateAddressOptions{})
	if err != nil {
		return types.Address{}, err
	}
	return addrs[0].Address.Inner, nil
}

// firstAddress returns the first public address.
func (d *AccountDetails) firstAddress() (types.Address, error) {
	if len(d.PublicAddresses) == 0 {
		return types.Address{}, fmt.Errorf("%w: account %d has no public address", ErrAddressNotFound, d.Index)
	}
	return d.PublicAddresses[0].Address.Inner, nil
}

// ownedAddresses returns the addresses the account can unlock: its key
// addresses and the addresses of its unspent alias and NFT outputs.
func (d *AccountDetails) ownedAddresses() map[types.Address]bool {
	owned := make(map[types.Address]bool, len(d.PublicAddresses)+len(d.InternalAddresses))
	for _, a := range d.addresses() {
		owned[a.Address.Inner] = true
	}
	for id, o := range d.UnspentOutputs {
		if addr, ok := output.ChainAddress(o.Output, id); ok {
			owned[addr] = true
		}
	}
	return owned
}

// chainFor returns the derivation chain of a key address of the account.
func (d *AccountDetails) chainFor(addr types.Address) *signer.Chain {
	a, ok := d.findAddress(addr)
	if !ok {
		return nil
	}
	var change uint32
	if a.Internal {
		change = signer.ChangeInternal
	}
	return &signer.Chain{CoinType: d.CoinType, Account: d.Index, Change: change, Index: a.KeyIndex}
}
