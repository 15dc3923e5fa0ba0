package wallet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Klingon-tech/tangle-wallet/internal/events"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient/memledger"
	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/internal/storage"
	"github.com/Klingon-tech/tangle-wallet/internal/walletdb"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var testParams = output.ProtocolParameters{
	NetworkName:   "wallet-test",
	Bech32HRP:     types.TestnetHRP,
	TokenSupply:   1_000_000_000_000_000,
	RentStructure: output.DefaultRentStructure,
}

// freeParams has no storage deposit, so tiny amounts are valid outputs.
var freeParams = output.ProtocolParameters{
	NetworkName: "wallet-test-free",
	Bech32HRP:   types.TestnetHRP,
	TokenSupply: 1_000_000_000_000_000,
}

var testStart = time.Unix(1_700_000_000, 0)

type fixture struct {
	params  output.ProtocolParameters
	ledger  *memledger.Ledger
	clock   *clock.TestClock
	signer  *signer.Mnemonic
	store   *walletdb.DB
	events  *events.Emitter
	manager *Manager

	mu       sync.Mutex
	received []events.Event
}

func newFixture(t *testing.T, params output.ProtocolParameters, opts ...memledger.Option) *fixture {
	t.Helper()
	tc := clock.NewTestClock(testStart)
	mnemonic, err := signer.GenerateMnemonic()
	require.NoError(t, err)
	s, err := signer.NewMnemonic(mnemonic, "")
	require.NoError(t, err)
	db, err := walletdb.Open(storage.NewMemory(), "wallet")
	require.NoError(t, err)

	f := &fixture{
		params: params,
		ledger: memledger.New(params, append([]memledger.Option{memledger.WithClock(tc)}, opts...)...),
		clock:  tc,
		signer: s,
		store:  db,
		events: events.New(),
	}
	f.events.Subscribe(nil, func(ev events.Event) {
		f.mu.Lock()
		f.received = append(f.received, ev)
		f.mu.Unlock()
	})
	f.manager = f.newManager(t)
	return f
}

// newManager builds a manager over the fixture's ledger, signer and store.
func (f *fixture) newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManagerBuilder().
		WithClient(f.ledger).
		WithSigner(f.signer).
		WithCoinType(signer.CoinTypeShimmer).
		WithStore(f.store).
		WithEvents(f.events).
		WithClock(f.clock).
		Finish()
	require.NoError(t, err)
	return m
}

func (f *fixture) account(t *testing.T) *Account {
	t.Helper()
	a, err := f.manager.CreateAccount().Finish(context.Background())
	require.NoError(t, err)
	return a
}

func (f *fixture) eventsOf(kind events.Kind) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, ev := range f.received {
		if ev.Payload.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

// advance moves the clock past the sync debounce window.
func (f *fixture) advance(d time.Duration) {
	f.clock.SetTime(f.clock.Now().Add(d))
}

func forceSync(t *testing.T, a *Account) *Balance {
	t.Helper()
	o := DefaultSyncOptions()
	o.ForceSyncing = true
	b, err := a.Sync(context.Background(), &o)
	require.NoError(t, err)
	return b
}

func firstAddress(t *testing.T, a *Account) types.Address {
	t.Helper()
	addrs := a.ListAddresses()
	require.NotEmpty(t, addrs)
	return addrs[0].Address.Inner
}

// foreignAddress is an address no test account owns.
func foreignAddress(b byte) types.Address {
	return types.Address{Kind: types.AddressPubKeyHash, ID: types.Hash{0xEE, b}}
}

func basicTo(addr types.Address, amount uint64) *output.BasicOutput {
	return &output.BasicOutput{Amount: amount, UnlockConditions: output.UnlockConditions{Address: &addr}}
}

// requireBasic checks that o is a basic output of amount locked to addr only.
func requireBasic(t *testing.T, o output.Output, addr types.Address, amount uint64) {
	t.Helper()
	b, ok := o.(*output.BasicOutput)
	require.True(t, ok, "output is %T", o)
	require.Equal(t, amount, b.Amount)
	require.True(t, b.UnlockConditions.HasOnlyAddress())
	require.Equal(t, addr, *b.UnlockConditions.Address)
}

func amountSum(outs []output.Output) uint64 {
	var total uint64
	for _, o := range outs {
		total += o.Deposit()
	}
	return total
}

func (f *fixture) inputSum(t *testing.T, ids []types.OutputID) uint64 {
	t.Helper()
	var total uint64
	for _, id := range ids {
		resp, err := f.ledger.Output(context.Background(), id)
		require.NoError(t, err)
		total += resp.Output.Deposit()
	}
	return total
}

// requireLockInvariant checks that every locked output is a known unspent output.
func requireLockInvariant(t *testing.T, a *Account) {
	t.Helper()
	d := a.Details()
	for id := range d.LockedOutputs {
		require.Contains(t, d.UnspentOutputs, id, "locked output %s is not unspent", id)
		require.Contains(t, d.Outputs, id, "locked output %s is unknown", id)
	}
}
