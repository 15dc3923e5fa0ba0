// Command devnet serves an in-memory tangle ledger over the node API.
//
// Usage: go run ./cmd/devnet/ [--addr=127.0.0.1:14465] [--demo]
//
// It books pending blocks on a milestone ticker and credits addresses through
// faucet_request. With --demo it also drives two wallet accounts through the
// HTTP node client: fund, send, wait for inclusion and verify both balances.
// Ctrl+C for early shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Klingon-tech/tangle-wallet/config"
	klog "github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient/memledger"
	"github.com/Klingon-tech/tangle-wallet/internal/rpc"
	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/internal/storage"
	"github.com/Klingon-tech/tangle-wallet/internal/wallet"
	"github.com/Klingon-tech/tangle-wallet/internal/walletdb"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

const (
	flagAddr      = "addr"
	flagMilestone = "milestone-interval"
	flagFaucet    = "faucet-amount"
	flagPoW       = "pow-check"
	flagDemo      = "demo"
	flagLogLevel  = "log-level"

	demoFunding = 10_000_000
	demoPayment = 1_000_000
)

func main() {
	app := &cli.App{
		Name:  "devnet",
		Usage: "In-memory tangle node for wallet development",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagAddr, Value: fmt.Sprintf("127.0.0.1:%d", config.DefaultDevnet().RPC.Port), Usage: "Node API listen address"},
			&cli.DurationFlag{Name: flagMilestone, Value: 2 * time.Second, Usage: "Milestone interval"},
			&cli.Uint64Flag{Name: flagFaucet, Value: demoFunding, Usage: "Default faucet amount"},
			&cli.BoolFlag{Name: flagPoW, Usage: "Reject blocks below the minimum PoW score"},
			&cli.BoolFlag{Name: flagDemo, Usage: "Run a wallet round trip against the node and exit"},
			&cli.StringFlag{Name: flagLogLevel, Value: "info", Usage: "Log level: debug, info, warn, error"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if _, err := klog.Init(c.String(flagLogLevel), false, ""); err != nil {
		return err
	}
	logger := klog.WithComponent("devnet")

	logger.Info().Msg("=== Tangle Wallet Devnet ===")

	// ── Phase 1: Ledger + node API ──────────────────────────────────────

	params := config.Devnet.Protocol()
	var opts []memledger.Option
	if c.Bool(flagPoW) {
		params.MinPoWScore = 1000
		opts = append(opts, memledger.WithPoWCheck())
	}
	ledger := memledger.New(params, opts...)

	srv := rpc.New(c.String(flagAddr), ledger)
	srv.SetFaucet(ledger, c.Uint64(flagFaucet))
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	logger.Info().
		Str("addr", srv.Addr()).
		Str("network", params.NetworkName).
		Str("hrp", params.Bech32HRP).
		Uint64("faucet", c.Uint64(flagFaucet)).
		Msg("Node API listening")

	// ── Phase 2: Signal handling ────────────────────────────────────────

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("Shutdown signal received")
		cancel()
	}()

	// ── Phase 3: Milestones ─────────────────────────────────────────────

	interval := c.Duration(flagMilestone)
	go runMilestones(ctx, ledger, interval, logger)
	logger.Info().Dur("interval", interval).Msg("Issuing milestones")

	if !c.Bool(flagDemo) {
		<-ctx.Done()
		return nil
	}

	// ── Phase 4: Wallet round trip ──────────────────────────────────────

	if err := runDemo(ctx, "http://"+srv.Addr(), c.Bool(flagPoW), logger); err != nil {
		logger.Error().Err(err).Msg("FAILURE: wallet round trip")
		return err
	}
	return nil
}

func runMilestones(ctx context.Context, ledger *memledger.Ledger, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending := len(ledger.PendingBlocks())
			ledger.Milestone()
			if pending > 0 {
				logger.Info().Int("blocks", pending).Msg("Milestone issued")
			}
		}
	}
}

func runDemo(ctx context.Context, url string, localPoW bool, logger zerolog.Logger) error {
	client := nodeclient.New(url)
	mnemonic, err := signer.GenerateMnemonic()
	if err != nil {
		return err
	}
	s, err := signer.NewMnemonic(mnemonic, "")
	if err != nil {
		return err
	}
	store, err := walletdb.Open(storage.NewMemory(), "demo")
	if err != nil {
		return err
	}
	builder := wallet.NewManagerBuilder().
		WithClient(client).
		WithSigner(s).
		WithCoinType(config.Devnet.DefaultCoinType()).
		WithStore(store)
	if localPoW {
		builder = builder.WithLocalPoW(0)
	}
	manager, err := builder.Finish()
	if err != nil {
		return err
	}

	alice, err := manager.CreateAccount().WithAlias("alice").Finish(ctx)
	if err != nil {
		return err
	}
	bob, err := manager.CreateAccount().WithAlias("bob").Finish(ctx)
	if err != nil {
		return err
	}
	aliceAddr := alice.ListAddresses()[0].Address
	bobAddr := bob.ListAddresses()[0].Address

	var funded rpc.FaucetResult
	if err := client.Call(ctx, rpc.MethodFaucet, rpc.FaucetParam{Address: aliceAddr.String(), Amount: demoFunding}, &funded); err != nil {
		return fmt.Errorf("faucet: %w", err)
	}
	logger.Info().Str("address", aliceAddr.String()).Uint64("amount", demoFunding).Msg("Faucet funded alice")

	force := wallet.DefaultSyncOptions()
	force.ForceSyncing = true
	if _, err := alice.Sync(ctx, &force); err != nil {
		return err
	}

	sent, err := alice.SendAmount(ctx, []wallet.SendParams{{Address: bobAddr.Inner, Amount: demoPayment}}, nil)
	if err != nil {
		return err
	}
	logger.Info().Stringer("tx", sent.TransactionID).Str("to", bobAddr.String()).Msg("Payment sent")

	blockID, err := alice.RetryTransactionUntilIncluded(ctx, sent.TransactionID, time.Second, 30)
	if err != nil {
		return err
	}
	logger.Info().Stringer("block", blockID).Msg("Payment included")

	total, err := manager.SyncAll(ctx, &force)
	if err != nil {
		return err
	}
	a, err := alice.Balance(ctx)
	if err != nil {
		return err
	}
	b, err := bob.Balance(ctx)
	if err != nil {
		return err
	}
	if b.BaseCoin.Total != demoPayment || a.BaseCoin.Total != demoFunding-demoPayment {
		return fmt.Errorf("unexpected balances: alice %d, bob %d", a.BaseCoin.Total, b.BaseCoin.Total)
	}

	logger.Info().Msg("SUCCESS: wallet round trip complete")
	fmt.Println()
	fmt.Printf("  Alice:    %d\n", a.BaseCoin.Total)
	fmt.Printf("  Bob:      %d\n", b.BaseCoin.Total)
	fmt.Printf("  Total:    %d\n", total.BaseCoin.Total)
	fmt.Printf("  Tx:       %s\n", sent.TransactionID)
	fmt.Println()
	return nil
}
