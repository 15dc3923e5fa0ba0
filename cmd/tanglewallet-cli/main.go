// tanglewallet-cli manages tangle wallet accounts from the command line.
//
// The seed lives in an encrypted secret store; commands that sign or derive
// addresses prompt for its password or read TANGLEWALLET_PASSWORD.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Klingon-tech/tangle-wallet/config"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/internal/rpc"
	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/internal/wallet"
	"github.com/Klingon-tech/tangle-wallet/pkg/tx"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "tanglewallet-cli",
		Usage: "Tangle wallet command-line client",
		Flags: append(config.Flags(),
			&cli.StringFlag{Name: flagAccount, Aliases: []string{"a"}, Value: "0", Usage: "Account index or alias"},
		),
		Commands: []*cli.Command{
			mnemonicCommand(),
			accountCommand(),
			addressCommand(),
			{
				Name:   "sync",
				Usage:  "Sync the account with the node",
				Flags:  []cli.Flag{&cli.UintFlag{Name: "gap-limit", Usage: "Address gap limit for discovery (0 = configured)"}},
				Action: withAccount(cmdSync),
			},
			{
				Name:   "balance",
				Usage:  "Show the account balance",
				Action: withAccount(cmdBalance),
			},
			{
				Name:      "send",
				Usage:     "Send coins to an address",
				ArgsUsage: "<address> <amount>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "micro", Usage: "Allow amounts below the storage deposit, returned to us on expiry"},
					&cli.StringFlag{Name: "note", Usage: "Local note stored with the transaction"},
					&cli.StringFlag{Name: "tag", Usage: "Tagged data payload tag"},
					&cli.BoolFlag{Name: "change-address", Usage: "Send the remainder to a fresh internal address"},
					&cli.BoolFlag{Name: "wait", Usage: "Wait until the transaction is included"},
				},
				Action: withAccount(cmdSend),
			},
			{
				Name:  "consolidate",
				Usage: "Merge basic outputs into one",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Ignore the consolidation threshold"},
					&cli.IntFlag{Name: "threshold", Usage: "Minimum number of outputs (0 = default)"},
				},
				Action: withAccount(cmdConsolidate),
			},
			{
				Name:  "claim",
				Usage: "Claim outputs with return, expiration or timelock conditions",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Value: wallet.ClaimAll.String(), Usage: "all, micro-transactions, native-tokens, nfts or amount"},
				},
				Action: withAccount(cmdClaim),
			},
			transactionsCommand(),
			{
				Name:      "faucet",
				Usage:     "Request devnet funds for an address",
				ArgsUsage: "<address> [amount]",
				Action:    cmdFaucet,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fatal("%v", err)
	}
}

// ── mnemonic ────────────────────────────────────────────────────────────

func mnemonicCommand() *cli.Command {
	return &cli.Command{
		Name:  "mnemonic",
		Usage: "Manage the seed",
		Subcommands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Print a new 24-word mnemonic",
				Action: func(c *cli.Context) error {
					m, err := signer.GenerateMnemonic()
					if err != nil {
						return err
					}
					fmt.Println(m)
					return nil
				},
			},
			{
				Name:  "store",
				Usage: "Encrypt a mnemonic into the secret store",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "mnemonic", Usage: "Mnemonic to store (default: generate one)"},
					&cli.StringFlag{Name: "passphrase", Usage: "Optional BIP-39 passphrase"},
				},
				Action: cmdMnemonicStore,
			},
			{
				Name:  "change-password",
				Usage: "Re-encrypt the secret store with a new password",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					old, err := readPassword("Current password: ")
					if err != nil {
						return err
					}
					fresh, err := readNewPassword()
					if err != nil {
						return err
					}
					store := signer.NewSecretStore(cfg.SecretStorePath())
					if err := store.ChangePassword(old, fresh, signer.DefaultKDFParams()); err != nil {
						return err
					}
					fmt.Println("Password changed.")
					return nil
				},
			},
		},
	}
}

func cmdMnemonicStore(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	mnemonic := strings.TrimSpace(c.String("mnemonic"))
	generated := mnemonic == ""
	if generated {
		if mnemonic, err = signer.GenerateMnemonic(); err != nil {
			return err
		}
	} else if !signer.ValidateMnemonic(mnemonic) {
		return fmt.Errorf("invalid mnemonic")
	}

	password, err := readNewPassword()
	if err != nil {
		return err
	}
	store := signer.NewSecretStore(cfg.SecretStorePath())
	if err := store.StoreMnemonic(mnemonic, c.String("passphrase"), password, signer.DefaultKDFParams()); err != nil {
		return err
	}
	defer store.Lock()

	fmt.Printf("Secret store written to %s\n", cfg.SecretStorePath())
	if generated {
		fmt.Println()
		fmt.Println("Write down your mnemonic, it is the only backup of your funds:")
		fmt.Println()
		fmt.Printf("  %s\n", mnemonic)
		fmt.Println()
	}
	return nil
}

// ── account ─────────────────────────────────────────────────────────────

func accountCommand() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Manage accounts",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create the next account",
				Flags: []cli.Flag{&cli.StringFlag{Name: "alias", Usage: "Account alias (default: Account <index>)"}},
				Action: withSession(func(c *cli.Context, s *session) error {
					a, err := s.manager.CreateAccount().WithAlias(c.String("alias")).Finish(c.Context)
					if err != nil {
						return err
					}
					fmt.Printf("Created account %d (%s)\n", a.Index(), a.Alias())
					fmt.Printf("  Address: %s\n", a.ListAddresses()[0].Address)
					return nil
				}),
			},
			{
				Name:  "list",
				Usage: "List accounts",
				Action: withSession(func(c *cli.Context, s *session) error {
					accounts := s.manager.Accounts()
					if len(accounts) == 0 {
						fmt.Println("No accounts. Create one with: tanglewallet-cli account create")
						return nil
					}
					for _, a := range accounts {
						fmt.Printf("  [%d] %s  addresses=%d\n", a.Index(), a.Alias(), len(a.ListAddresses()))
					}
					return nil
				}),
			},
			{
				Name:  "recover",
				Usage: "Discover accounts and addresses that hold funds",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "start", Usage: "First account index to check"},
					&cli.UintFlag{Name: "account-gap", Value: 2, Usage: "Empty accounts to look past"},
					&cli.UintFlag{Name: "address-gap", Value: 10, Usage: "Empty addresses to look past"},
				},
				Action: withSession(func(c *cli.Context, s *session) error {
					accounts, err := s.manager.RecoverAccounts(c.Context,
						uint32(c.Uint("start")), uint32(c.Uint("account-gap")), uint32(c.Uint("address-gap")), nil)
					if err != nil {
						return err
					}
					fmt.Printf("Recovered %d account(s)\n", len(accounts))
					for _, a := range accounts {
						b, err := a.Balance(c.Context)
						if err != nil {
							return err
						}
						fmt.Printf("  [%d] %s  total=%s\n", a.Index(), a.Alias(), formatAmount(b.BaseCoin.Total))
					}
					return nil
				}),
			},
			{
				Name:  "remove-latest",
				Usage: "Remove the account with the highest index if it has no history",
				Action: withSession(func(c *cli.Context, s *session) error {
					if err := s.manager.RemoveLatestAccount(); err != nil {
						return err
					}
					fmt.Println("Account removed.")
					return nil
				}),
			},
		},
	}
}

// ── address ─────────────────────────────────────────────────────────────

func addressCommand() *cli.Command {
	return &cli.Command{
		Name:  "address",
		Usage: "Manage account addresses",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List the account's addresses",
				Action: withAccount(func(c *cli.Context, s *session, a *wallet.Account) error {
					for _, ad := range a.ListAddresses() {
						kind := "public"
						if ad.Internal {
							kind = "internal"
						}
						used := ""
						if ad.Used {
							used = "  used"
						}
						fmt.Printf("  %-8s %3d  %s%s\n", kind, ad.KeyIndex, ad.Address, used)
					}
					return nil
				}),
			},
			{
				Name:  "new",
				Usage: "Generate addresses",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "count", Value: 1, Usage: "Number of addresses"},
					&cli.BoolFlag{Name: "internal", Usage: "Generate change addresses"},
				},
				Action: withAccount(func(c *cli.Context, s *session, a *wallet.Account) error {
					addrs, err := a.GenerateAddresses(c.Context, uint32(c.Uint("count")), c.Bool("internal"), wallet.GenerateAddressOptions{})
					if err != nil {
						return err
					}
					for _, ad := range addrs {
						fmt.Printf("  %3d  %s\n", ad.KeyIndex, ad.Address)
					}
					return nil
				}),
			},
		},
	}
}

// ── sync / balance ──────────────────────────────────────────────────────

func cmdSync(c *cli.Context, s *session, a *wallet.Account) error {
	o := wallet.DefaultSyncOptions()
	o.ForceSyncing = true
	if gap := c.Uint("gap-limit"); gap > 0 {
		o.AddressGapLimit = uint32(gap)
	} else if s.cfg.Sync.GapLimit > 0 {
		o.AddressGapLimit = s.cfg.Sync.GapLimit
	}
	start := time.Now()
	b, err := a.Sync(c.Context, &o)
	if err != nil {
		return err
	}
	fmt.Printf("Synced account %d in %s\n", a.Index(), time.Since(start).Round(time.Millisecond))
	printBalance(b)
	return nil
}

func cmdBalance(c *cli.Context, s *session, a *wallet.Account) error {
	b, err := a.Balance(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("Account %d (%s)\n", a.Index(), a.Alias())
	printBalance(b)
	return nil
}

func printBalance(b *wallet.Balance) {
	fmt.Printf("  Available: %s\n", formatAmount(b.BaseCoin.Available))
	if b.BaseCoin.Total != b.BaseCoin.Available {
		fmt.Printf("  Total:     %s\n", formatAmount(b.BaseCoin.Total))
	}
	d := b.RequiredStorageDeposit
	fmt.Printf("  Storage deposit: basic=%s alias=%s foundry=%s nft=%s\n",
		formatAmount(d.Basic), formatAmount(d.Alias), formatAmount(d.Foundry), formatAmount(d.Nft))
	for _, nt := range b.NativeTokens {
		fmt.Printf("  Token %s  available=%s total=%s\n", nt.TokenID, nt.Available.Dec(), nt.Total.Dec())
	}
	for _, id := range b.Nfts {
		fmt.Printf("  NFT %s\n", id)
	}
	for _, id := range b.Aliases {
		fmt.Printf("  Alias %s\n", id)
	}
	for _, id := range b.Foundries {
		fmt.Printf("  Foundry %s\n", id)
	}
	if len(b.PotentiallyLockedOutputs) > 0 {
		ids := make([]types.OutputID, 0, len(b.PotentiallyLockedOutputs))
		for id := range b.PotentiallyLockedOutputs {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
		fmt.Println("  Potentially locked:")
		for _, id := range ids {
			state := "locked"
			if b.PotentiallyLockedOutputs[id] {
				state = "claimable"
			}
			fmt.Printf("    %s  %s\n", id, state)
		}
	}
}

// ── send ────────────────────────────────────────────────────────────────

func cmdSend(c *cli.Context, s *session, a *wallet.Account) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: send <address> <amount>")
	}
	to, err := s.parseAddress(c.Args().Get(0))
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	amount, err := parseAmount(c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	opts := &wallet.TransactionOptions{
		Note:             c.String("note"),
		AllowMicroAmount: c.Bool("micro"),
	}
	if tag := c.String("tag"); tag != "" {
		opts.TaggedData = &tx.TaggedData{Tag: []byte(tag)}
	}
	if c.Bool("change-address") {
		opts.RemainderStrategy = wallet.RemainderToChangeAddress
	}

	sent, err := a.SendAmount(c.Context, []wallet.SendParams{{Address: to, Amount: amount}}, opts)
	if err != nil {
		return err
	}
	printSent(sent)
	if c.Bool("wait") {
		return waitIncluded(c, a, sent.TransactionID)
	}
	return nil
}

func printSent(t *wallet.Transaction) {
	fmt.Println("Transaction sent!")
	fmt.Printf("  ID:     %s\n", t.TransactionID)
	if t.BlockID != nil {
		fmt.Printf("  Block:  %s\n", *t.BlockID)
	} else {
		fmt.Println("  Block:  not attached yet, the next sync reattaches it")
	}
	fmt.Printf("  Inputs: %d  Outputs: %d\n", len(t.Payload.Essence.Inputs), len(t.Payload.Essence.Outputs))
}

func waitIncluded(c *cli.Context, a *wallet.Account, id types.TransactionID) error {
	fmt.Println("Waiting for inclusion...")
	blockID, err := a.RetryTransactionUntilIncluded(c.Context, id, 0, 0)
	if err != nil {
		return err
	}
	fmt.Printf("  Included in block %s\n", blockID)
	return nil
}

// ── consolidate / claim ─────────────────────────────────────────────────

func cmdConsolidate(c *cli.Context, s *session, a *wallet.Account) error {
	threshold := c.Int("threshold")
	if threshold == 0 {
		threshold = s.cfg.Sync.ConsolidationThreshold
	}
	t, err := a.ConsolidateOutputs(c.Context, c.Bool("force"), threshold)
	if err != nil {
		return err
	}
	printSent(t)
	return nil
}

func cmdClaim(c *cli.Context, s *session, a *wallet.Account) error {
	kind, err := wallet.ParseOutputsToClaim(c.String("kind"))
	if err != nil {
		return err
	}
	ids, err := a.ClaimableOutputs(c.Context, kind)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("Nothing to claim.")
		return nil
	}
	t, err := a.ClaimOutputs(c.Context, ids)
	if err != nil {
		return err
	}
	fmt.Printf("Claimed %d output(s)\n", len(ids))
	printSent(t)
	return nil
}

// ── transactions ────────────────────────────────────────────────────────

func transactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "transactions",
		Aliases: []string{"tx"},
		Usage:   "Inspect sent and incoming transactions",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List transactions",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "pending", Usage: "Only pending transactions"},
					&cli.BoolFlag{Name: "incoming", Usage: "Incoming transactions instead of sent ones"},
				},
				Action: withAccount(func(c *cli.Context, s *session, a *wallet.Account) error {
					var txs []*wallet.Transaction
					switch {
					case c.Bool("incoming"):
						txs = a.ListIncomingTransactions()
					case c.Bool("pending"):
						txs = a.ListPendingTransactions()
					default:
						txs = a.ListTransactions()
					}
					if len(txs) == 0 {
						fmt.Println("No transactions.")
						return nil
					}
					sort.Slice(txs, func(i, j int) bool { return txs[i].Timestamp < txs[j].Timestamp })
					for _, t := range txs {
						ts := time.UnixMilli(t.Timestamp).UTC().Format(time.RFC3339)
						fmt.Printf("  %s  %-13s %s", t.TransactionID, t.InclusionState, ts)
						if t.Note != "" {
							fmt.Printf("  %q", t.Note)
						}
						fmt.Println()
					}
					return nil
				}),
			},
			{
				Name:      "retry",
				Usage:     "Promote or reattach a pending transaction until it is included",
				ArgsUsage: "<transaction id>",
				Action: withAccount(func(c *cli.Context, s *session, a *wallet.Account) error {
					h, err := types.HexToHash(c.Args().First())
					if err != nil {
						return fmt.Errorf("invalid transaction id: %w", err)
					}
					return waitIncluded(c, a, types.TransactionID(h))
				}),
			},
		},
	}
}

// ── faucet ──────────────────────────────────────────────────────────────

func cmdFaucet(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.NArg() < 1 {
		return fmt.Errorf("usage: faucet <address> [amount]")
	}
	p := rpc.FaucetParam{Address: c.Args().Get(0)}
	if c.NArg() > 1 {
		if p.Amount, err = parseAmount(c.Args().Get(1)); err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
	}
	var result rpc.FaucetResult
	if err := nodeclient.New(cfg.Node.URL).Call(c.Context, rpc.MethodFaucet, p, &result); err != nil {
		return err
	}
	fmt.Printf("Funded %s with %s\n", p.Address, formatAmount(result.Amount))
	fmt.Printf("  Output: %s\n", result.OutputID)
	return nil
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
