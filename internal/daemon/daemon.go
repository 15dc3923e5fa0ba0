// Package daemon wires a wallet manager to its node client, storage, metrics
// endpoint and background sync loop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Klingon-tech/tangle-wallet/config"
	"github.com/Klingon-tech/tangle-wallet/internal/events"
	klog "github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/internal/metrics"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/internal/storage"
	"github.com/Klingon-tech/tangle-wallet/internal/wallet"
	"github.com/Klingon-tech/tangle-wallet/internal/walletdb"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Daemon is a fully-initialized wallet service.
type Daemon struct {
	cfg    *config.Config
	logger zerolog.Logger
	logs   io.Closer

	// Core
	db      storage.DB
	client  nodeclient.Client
	manager *wallet.Manager
	subID   uint64

	// Metrics
	metricsServer *http.Server
	metricsLn     net.Listener

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option tweaks a Daemon before it is built.
type Option func(*options)

type options struct {
	client nodeclient.Client
}

// WithClient replaces the HTTP node client, e.g. with an in-memory ledger.
func WithClient(c nodeclient.Client) Option {
	return func(o *options) { o.client = c }
}

// New creates and initializes a Daemon. It sets up logging, storage, the node
// client and the account manager but does NOT start background goroutines.
// Call Start for that.
func New(cfg *config.Config, s signer.Signer, opts ...Option) (*Daemon, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// ── 1. Init logger ──────────────────────────────────────────────
	logs, err := klog.Init(cfg.Log.Level, cfg.Log.JSON, expandHome(cfg.Log.File))
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("daemon")

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("node", cfg.Node.URL).
		Uint32("coin_type", cfg.Wallet.CoinType).
		Str("storage", cfg.Wallet.Storage).
		Msg("Starting tangle wallet")

	// ── 2. Open storage ─────────────────────────────────────────────
	db, err := openStorage(cfg)
	if err != nil {
		logs.Close()
		return nil, err
	}
	store, err := walletdb.Open(db, string(cfg.Network))
	if err != nil {
		db.Close()
		logs.Close()
		return nil, fmt.Errorf("open wallet database: %w", err)
	}

	// ── 3. Node client ──────────────────────────────────────────────
	client := o.client
	if client == nil {
		client = newNodeClient(cfg.Node)
	}

	// ── 4. Account manager ──────────────────────────────────────────
	builder := wallet.NewManagerBuilder().
		WithClient(client).
		WithSigner(s).
		WithCoinType(cfg.Wallet.CoinType).
		WithStore(store).
		WithEvents(events.New()).
		WithSyncOptions(SyncOptions(cfg.Sync))
	if cfg.Node.LocalPoW {
		builder = builder.WithLocalPoW(cfg.Node.PoWThreads)
	}
	manager, err := builder.Finish()
	if err != nil {
		db.Close()
		logs.Close()
		return nil, fmt.Errorf("open account manager: %w", err)
	}
	logger.Info().Int("accounts", len(manager.Accounts())).Msg("Accounts loaded")

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		cfg:     cfg,
		logger:  logger,
		logs:    logs,
		db:      db,
		client:  client,
		manager: manager,
		ctx:     ctx,
		cancel:  cancel,
	}
	d.subID = manager.Events().Subscribe(nil, logEvent)
	return d, nil
}

// SyncOptions derives the manager's default sync options from cfg.
func SyncOptions(cfg config.SyncConfig) wallet.SyncOptions {
	o := wallet.DefaultSyncOptions()
	if cfg.GapLimit > 0 {
		o.AddressGapLimit = cfg.GapLimit
	}
	o.AutoConsolidate = cfg.AutoConsolidate
	if cfg.ConsolidationThreshold > 0 {
		o.ConsolidationThreshold = cfg.ConsolidationThreshold
	}
	return o
}

// Start launches the metrics endpoint and the background sync loop.
func (d *Daemon) Start() error {
	if d.cfg.Metrics.Addr != "" {
		if err := d.startMetrics(); err != nil {
			return err
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.waitForNode()
	}()

	if d.cfg.Sync.Interval > 0 {
		if err := d.manager.StartBackgroundSyncing(nil, d.cfg.Sync.Interval); err != nil {
			return fmt.Errorf("start background sync: %w", err)
		}
	}

	d.logger.Info().
		Dur("sync_interval", d.cfg.Sync.Interval).
		Str("metrics", d.MetricsAddr()).
		Msg("Wallet daemon started")
	return nil
}

// Stop performs graceful shutdown in reverse order.
func (d *Daemon) Stop() {
	d.cancel()
	d.wg.Wait()

	d.manager.StopBackgroundSyncing()
	d.manager.Events().Unsubscribe(d.subID)
	if err := d.manager.Save(); err != nil {
		d.logger.Error().Err(err).Msg("Saving accounts failed")
	}
	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Shutdown(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Metrics server shutdown")
		}
		cancel()
	}
	if d.db != nil {
		d.db.Close()
	}

	d.logger.Info().Msg("Goodbye!")
	d.logs.Close()
}

// Manager returns the account manager.
func (d *Daemon) Manager() *wallet.Manager {
	return d.manager
}

// MetricsAddr returns the address the metrics endpoint listens on.
func (d *Daemon) MetricsAddr() string {
	if d.metricsLn == nil {
		return ""
	}
	return d.metricsLn.Addr().String()
}

func (d *Daemon) startMetrics() error {
	metrics.Init()
	ln, err := net.Listen("tcp", d.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	d.metricsLn = ln
	d.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := d.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// waitForNode logs the node's network once it answers, retrying with backoff.
func (d *Daemon) waitForNode() {
	delay := time.Second
	for {
		ctx, cancel := context.WithTimeout(d.ctx, 10*time.Second)
		info, err := d.client.Info(ctx)
		cancel()
		if err == nil {
			d.logger.Info().
				Str("network", info.Protocol.NetworkName).
				Str("hrp", info.Protocol.Bech32HRP).
				Bool("healthy", info.Healthy).
				Msg("Connected to node")
			return
		}
		d.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Node not reachable")
		select {
		case <-d.ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay < time.Minute {
			delay *= 2
		}
	}
}

func logEvent(ev events.Event) {
	l := klog.Events.With().Uint32("account", ev.AccountIndex).Str("kind", ev.Payload.Kind().String()).Logger()
	switch p := ev.Payload.(type) {
	case events.NewOutput:
		l.Info().Stringer("output", p.OutputID).Uint64("amount", p.Output.Deposit()).Bool("remainder", p.Remainder).Msg("New output")
	case events.SpentOutput:
		l.Info().Stringer("output", p.OutputID).Msg("Output spent")
	case events.TransactionInclusion:
		l.Info().Stringer("tx", p.TransactionID).Str("state", p.InclusionState).Msg("Transaction inclusion changed")
	case events.ConsolidationRequired:
		l.Warn().Msg("Consolidation required")
	default:
		l.Debug().Msg("Wallet event")
	}
}
