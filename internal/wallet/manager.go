package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Klingon-tech/tangle-wallet/internal/events"
	"github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/internal/walletdb"
	"github.com/lightningnetwork/lnd/clock"
	"golang.org/x/sync/errgroup"
)

// DefaultBackgroundSyncInterval is used when StartBackgroundSyncing gets
// no interval.
const DefaultBackgroundSyncInterval = 30 * time.Second

// managerData is the persisted manager record.
type managerData struct {
	CoinType   uint32 `json:"coinType"`
	SignerKind string `json:"signerKind"`
}

// ManagerBuilder collects the capabilities of a Manager.
type ManagerBuilder struct {
	client       nodeclient.Client
	signer       signer.Signer
	coinType     *uint32
	store        walletdb.Store
	events       *events.Emitter
	clock        clock.Clock
	localPoW     bool
	powThreads   int
	syncDefaults *SyncOptions
}

// NewManagerBuilder returns an empty builder.
func NewManagerBuilder() *ManagerBuilder {
	return &ManagerBuilder{}
}

func (b *ManagerBuilder) WithClient(c nodeclient.Client) *ManagerBuilder { b.client = c; return b }
func (b *ManagerBuilder) WithSigner(s signer.Signer) *ManagerBuilder     { b.signer = s; return b }
func (b *ManagerBuilder) WithCoinType(ct uint32) *ManagerBuilder         { b.coinType = &ct; return b }

// WithStore persists accounts in s. Without a store the manager only keeps
// state in memory.
func (b *ManagerBuilder) WithStore(s walletdb.Store) *ManagerBuilder { b.store = s; return b }

// WithEvents routes wallet events to e.
func (b *ManagerBuilder) WithEvents(e *events.Emitter) *ManagerBuilder { b.events = e; return b }

// WithClock replaces the wall clock, mostly in tests.
func (b *ManagerBuilder) WithClock(c clock.Clock) *ManagerBuilder { b.clock = c; return b }

// WithLocalPoW makes the wallet seal blocks itself with threads workers.
func (b *ManagerBuilder) WithLocalPoW(threads int) *ManagerBuilder {
	b.localPoW, b.powThreads = true, threads
	return b
}

// WithSyncOptions sets the options Sync uses when it gets nil.
func (b *ManagerBuilder) WithSyncOptions(o SyncOptions) *ManagerBuilder { b.syncDefaults = &o; return b }

// Finish validates the builder and loads persisted accounts.
func (b *ManagerBuilder) Finish() (*Manager, error) {
	switch {
	case b.client == nil:
		return nil, fmt.Errorf("%w: node client", ErrMissingParameter)
	case b.signer == nil:
		return nil, fmt.Errorf("%w: signer", ErrMissingParameter)
	case b.coinType == nil:
		return nil, fmt.Errorf("%w: coin type", ErrMissingParameter)
	}
	s := &shared{
		client:       b.client,
		signer:       b.signer,
		store:        b.store,
		events:       b.events,
		clock:        b.clock,
		coinType:     *b.coinType,
		localPoW:     b.localPoW,
		powThreads:   b.powThreads,
		syncDefaults: DefaultSyncOptions(),
	}
	if s.clock == nil {
		s.clock = clock.NewDefaultClock()
	}
	if b.syncDefaults != nil {
		s.syncDefaults = *b.syncDefaults
	}

	m := &Manager{shared: s}
	s.aliasTaken = m.aliasTaken
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Manager owns the accounts of one signer. All methods are safe for
// concurrent use.
type Manager struct {
	shared *shared

	mu       sync.RWMutex
	accounts []*Account

	bgMu     sync.Mutex
	bgCancel context.CancelFunc
	bgDone   chan struct{}
}

func (m *Manager) load() error {
	store := m.shared.store
	if store == nil {
		return nil
	}
	raw, err := store.ManagerData()
	if err != nil {
		return fmt.Errorf("load manager: %w", err)
	}
	if raw != nil {
		var md managerData
		if err := json.Unmarshal(raw, &md); err != nil {
			return fmt.Errorf("decode manager: %w", err)
		}
		if md.CoinType != m.shared.coinType {
			return fmt.Errorf("%w: stored %d, configured %d", ErrCoinTypeMismatch, md.CoinType, m.shared.coinType)
		}
	}

	records, err := store.Accounts()
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	for _, r := range records {
		d := new(AccountDetails)
		if err := json.Unmarshal(r.Data, d); err != nil {
			return fmt.Errorf("decode account %d: %w", r.Index, err)
		}
		if d.CoinType != m.shared.coinType {
			log.Wallet.Warn().Uint32("account", d.Index).Uint32("coinType", d.CoinType).Msg("Skipping account of other coin type")
			continue
		}
		m.accounts = append(m.accounts, newAccount(m.shared, d))
	}
	log.Wallet.Info().Int("accounts", len(m.accounts)).Msg("Accounts loaded")
	return nil
}

func (m *Manager) saveManagerData() error {
	if m.shared.store == nil {
		return nil
	}
	data, err := json.Marshal(managerData{CoinType: m.shared.coinType, SignerKind: m.shared.signer.Kind().String()})
	if err != nil {
		return err
	}
	return m.shared.store.SaveManagerData(data)
}

// aliasTaken reports whether an account other than index uses alias.
func (m *Manager) aliasTaken(alias string, index uint32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if a.index != index && strings.EqualFold(a.Alias(), alias) {
			return true
		}
	}
	return false
}

// Events returns the event emitter, or nil.
func (m *Manager) Events() *events.Emitter {
	return m.shared.events
}

// CoinType returns the coin type of all accounts.
func (m *Manager) CoinType() uint32 {
	return m.shared.coinType
}

// Accounts returns the accounts ordered by index.
func (m *Manager) Accounts() []*Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Account(nil), m.accounts...)
}

// GetAccount finds an account by index or, ignoring case, by alias.
func (m *Manager) GetAccount(identifier string) (*Account, error) {
	identifier = strings.TrimSpace(identifier)
	if idx, err := strconv.ParseUint(identifier, 10, 32); err == nil {
		if a, err := m.AccountByIndex(uint32(idx)); err == nil {
			return a, nil
		}
	}
	for _, a := range m.Accounts() {
		if strings.EqualFold(a.Alias(), identifier) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, identifier)
}

// AccountByIndex returns the account with index.
func (m *Manager) AccountByIndex(index uint32) (*Account, error) {
	for _, a := range m.Accounts() {
		if a.index == index {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: index %d", ErrAccountNotFound, index)
}

// AccountBuilder creates one account. Get one from Manager.CreateAccount.
type AccountBuilder struct {
	m       *Manager
	alias   string
	display bool
}

// CreateAccount starts building the next account.
func (m *Manager) CreateAccount() *AccountBuilder {
	return &AccountBuilder{m: m}
}

// WithAlias names the account. The default is "Account <index>".
func (b *AccountBuilder) WithAlias(alias string) *AccountBuilder {
	b.alias = strings.TrimSpace(alias)
	return b
}

// WithDisplay shows the first address on a hardware signer.
func (b *AccountBuilder) WithDisplay() *AccountBuilder {
	b.display = true
	return b
}

// Finish creates the account with its first public address. It fails with
// ErrSeedMismatch when the signer does not derive the addresses of the
// existing accounts.
func (b *AccountBuilder) Finish(ctx context.Context) (*Account, error) {
	m := b.m
	m.mu.Lock()
	defer m.mu.Unlock()

	var index uint32
	if n := len(m.accounts); n > 0 {
		index = m.accounts[n-1].index + 1
		if err := m.checkSigner(ctx, m.accounts[0]); err != nil {
			return nil, err
		}
	}
	alias := b.alias
	if alias == "" {
		alias = fmt.Sprintf("Account %d", index)
	}
	for _, a := range m.accounts {
		if strings.EqualFold(a.Alias(), alias) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAlias, alias)
		}
	}

	a := newAccount(m.shared, newAccountDetails(index, m.shared.coinType, alias))
	if _, err := a.GenerateAddresses(ctx, 1, false, GenerateAddressOptions{Display: b.display}); err != nil {
		return nil, err
	}
	if err := m.saveManagerData(); err != nil {
		return nil, fmt.Errorf("save manager: %w", err)
	}
	m.accounts = append(m.accounts, a)
	a.log().Info().Msg("Account created")
	return a, nil
}

// checkSigner derives the first address of a and compares it with the
// stored one.
func (m *Manager) checkSigner(ctx context.Context, a *Account) error {
	want, err := a.firstAddress()
	if err != nil {
		return err
	}
	got, err := m.shared.signer.GenerateAddresses(ctx, m.shared.coinType, a.index, signer.Range{Start: 0, End: 1}, false, signer.GenerateOptions{})
	if err != nil {
		return fmt.Errorf("generate addresses: %w", err)
	}
	if len(got) != 1 || got[0] != want {
		return ErrSeedMismatch
	}
	return nil
}

// RemoveLatestAccount removes the account with the highest index. Accounts
// with outputs or transactions are kept.
func (m *Manager) RemoveLatestAccount() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.accounts)
	if n == 0 {
		return ErrNoAccounts
	}
	a := m.accounts[n-1]
	var history bool
	a.read(func(d *AccountDetails) {
		history = len(d.Outputs) > 0 || len(d.Transactions) > 0 || len(d.IncomingTransactions) > 0
	})
	if history {
		return fmt.Errorf("%w: account %d", ErrAccountHasHistory, a.index)
	}
	if m.shared.store != nil {
		if err := m.shared.store.RemoveAccount(a.index); err != nil {
			return fmt.Errorf("remove account %d: %w", a.index, err)
		}
	}
	m.accounts = m.accounts[:n-1]
	a.log().Info().Msg("Account removed")
	return nil
}

// SyncAll syncs every account, at most ParallelRequests at a time, and
// returns the summed balance.
func (m *Manager) SyncAll(ctx context.Context, opts *SyncOptions) (*Balance, error) {
	accounts := m.Accounts()
	balances := make([]*Balance, len(accounts))

	limit := m.shared.syncDefaults.ParallelRequests
	if opts != nil && opts.ParallelRequests > 0 {
		limit = opts.ParallelRequests
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))
	for i, a := range accounts {
		g.Go(func() error {
			b, err := a.Sync(gctx, opts)
			if err != nil {
				return fmt.Errorf("sync account %d: %w", a.index, err)
			}
			balances[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sumBalances(balances)
}

// Balance sums the balances of all accounts from local state.
func (m *Manager) Balance(ctx context.Context) (*Balance, error) {
	accounts := m.Accounts()
	balances := make([]*Balance, 0, len(accounts))
	for _, a := range accounts {
		b, err := a.Balance(ctx)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return sumBalances(balances)
}

func sumBalances(balances []*Balance) (*Balance, error) {
	total := newBalance()
	for _, b := range balances {
		if err := total.add(b); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// RecoverAccounts restores accounts of a seed. Accounts up to startIndex
// are created, then new accounts are created and searched with
// addressGapLimit until accountGapLimit accounts in a row have no history.
// Those trailing empty accounts are removed again.
func (m *Manager) RecoverAccounts(ctx context.Context, startIndex, accountGapLimit, addressGapLimit uint32, opts *SyncOptions) ([]*Account, error) {
	o := m.shared.syncDefaults
	if opts != nil {
		o = *opts
	}
	o.AddressGapLimit = addressGapLimit
	o.ForceSyncing = true

	for {
		accounts := m.Accounts()
		if n := len(accounts); n > 0 && accounts[n-1].index >= startIndex {
			break
		}
		if _, err := m.CreateAccount().Finish(ctx); err != nil {
			return nil, err
		}
	}
	for _, a := range m.Accounts() {
		if _, err := a.Sync(ctx, &o); err != nil {
			return nil, err
		}
	}

	var created []*Account
	for empty := uint32(0); empty < accountGapLimit; {
		a, err := m.CreateAccount().Finish(ctx)
		if err != nil {
			return nil, err
		}
		created = append(created, a)
		if _, err := a.Sync(ctx, &o); err != nil {
			return nil, err
		}
		if a.hasHistory() {
			empty = 0
		} else {
			empty++
		}
	}

	for i := len(created) - 1; i >= 0 && !created[i].hasHistory(); i-- {
		if err := m.RemoveLatestAccount(); err != nil {
			return nil, err
		}
	}
	log.Wallet.Info().Int("accounts", len(m.Accounts())).Msg("Accounts recovered")
	return m.Accounts(), nil
}

func (a *Account) hasHistory() bool {
	var history bool
	a.read(func(d *AccountDetails) {
		history = len(d.Outputs) > 0 || len(d.Transactions) > 0
	})
	return history
}

// Save writes every account and the manager record in one batch.
func (m *Manager) Save() error {
	if m.shared.store == nil {
		return nil
	}
	var records []walletdb.Record
	for _, a := range m.Accounts() {
		var (
			data []byte
			err  error
		)
		a.read(func(d *AccountDetails) { data, err = json.Marshal(d) })
		if err != nil {
			return fmt.Errorf("encode account %d: %w", a.index, err)
		}
		records = append(records, walletdb.Record{Index: a.index, Data: data})
	}
	md, err := json.Marshal(managerData{CoinType: m.shared.coinType, SignerKind: m.shared.signer.Kind().String()})
	if err != nil {
		return err
	}
	if db, ok := m.shared.store.(*walletdb.DB); ok {
		return db.SaveAll(records, md)
	}
	for _, r := range records {
		if err := m.shared.store.SaveAccount(r.Index, r.Data); err != nil {
			return err
		}
	}
	return m.shared.store.SaveManagerData(md)
}

// StartBackgroundSyncing syncs all accounts every interval until
// StopBackgroundSyncing. A zero interval uses
// DefaultBackgroundSyncInterval.
func (m *Manager) StartBackgroundSyncing(opts *SyncOptions, interval time.Duration) error {
	m.bgMu.Lock()
	defer m.bgMu.Unlock()
	if m.bgCancel != nil {
		return ErrBackgroundSyncRunning
	}
	if interval <= 0 {
		interval = DefaultBackgroundSyncInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.bgCancel, m.bgDone = cancel, done

	go func() {
		defer close(done)
		logger := log.Sync.With().Str("loop", "background").Logger()
		logger.Info().Dur("interval", interval).Msg("Background syncing started")
		for {
			if _, err := m.SyncAll(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("Background sync failed")
			}
			select {
			case <-ctx.Done():
				logger.Info().Msg("Background syncing stopped")
				return
			case <-m.shared.clock.TickAfter(interval):
			}
		}
	}()
	return nil
}

// StopBackgroundSyncing stops the loop started by StartBackgroundSyncing
// and waits for a running sync to finish.
func (m *Manager) StopBackgroundSyncing() {
	m.bgMu.Lock()
	cancel, done := m.bgCancel, m.bgDone
	m.bgCancel, m.bgDone = nil, nil
	m.bgMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsBackgroundSyncing reports whether the background loop runs.
func (m *Manager) IsBackgroundSyncing() bool {
	m.bgMu.Lock()
	defer m.bgMu.Unlock()
	return m.bgCancel != nil
}
