package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/Klingon-tech/tangle-wallet/config"
	"github.com/Klingon-tech/tangle-wallet/internal/daemon"
	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/internal/wallet"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

const (
	passwordEnv = "TANGLEWALLET_PASSWORD"
	flagAccount = "account"
)

// session is an unlocked wallet opened for one command.
type session struct {
	cfg     *config.Config
	store   *signer.SecretStore
	daemon  *daemon.Daemon
	manager *wallet.Manager
}

// loadConfig loads the config and keeps the CLI quiet unless asked otherwise.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c)
	if err != nil {
		return nil, err
	}
	if !c.IsSet(config.FlagLogLevel) {
		cfg.Log.Level = "warn"
	}
	return cfg, nil
}

func openSession(c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	password, err := readPassword("Secret store password: ")
	if err != nil {
		return nil, err
	}
	store, err := daemon.OpenSecretStore(cfg, password)
	if err != nil {
		return nil, err
	}
	d, err := daemon.New(cfg, store)
	if err != nil {
		store.Lock()
		return nil, err
	}
	return &session{cfg: cfg, store: store, daemon: d, manager: d.Manager()}, nil
}

// Close saves the accounts and locks the secret store.
func (s *session) Close() {
	s.daemon.Stop()
	s.store.Lock()
}

// account resolves the --account flag by index or alias.
func (s *session) account(c *cli.Context) (*wallet.Account, error) {
	return s.manager.GetAccount(c.String(flagAccount))
}

// hrp is the bech32 prefix of the configured network.
func (s *session) hrp() string {
	return s.cfg.Network.Protocol().Bech32HRP
}

func (s *session) parseAddress(str string) (types.Address, error) {
	return types.ParseAddress(str, s.hrp())
}

// withSession runs fn against an unlocked wallet.
func withSession(fn func(c *cli.Context, s *session) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(c, s)
	}
}

// withAccount runs fn against the account named by --account.
func withAccount(fn func(c *cli.Context, s *session, a *wallet.Account) error) cli.ActionFunc {
	return withSession(func(c *cli.Context, s *session) error {
		a, err := s.account(c)
		if err != nil {
			return err
		}
		return fn(c, s, a)
	})
}

// ── Password helper ─────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return []byte(pw), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// readNewPassword asks twice and requires both entries to match.
func readNewPassword() ([]byte, error) {
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return []byte(pw), nil
	}
	first, err := readPassword("New password: ")
	if err != nil {
		return nil, err
	}
	second, err := readPassword("Repeat password: ")
	if err != nil {
		return nil, err
	}
	if string(first) != string(second) {
		return nil, fmt.Errorf("passwords do not match")
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("empty password")
	}
	return first, nil
}
