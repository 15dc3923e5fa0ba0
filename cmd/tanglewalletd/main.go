// Tangle wallet daemon.
//
// Usage:
//
//	tanglewalletd [--network=devnet --node=...] Run wallet with background sync
//	tanglewalletd --help                       Show help
//
// The seed is read from the secret store. Its password comes from
// TANGLEWALLET_PASSWORD or an interactive prompt.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/tangle-wallet/config"
	"github.com/Klingon-tech/tangle-wallet/internal/daemon"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

const passwordEnv = "TANGLEWALLET_PASSWORD"

func main() {
	app := &cli.App{
		Name:   "tanglewalletd",
		Usage:  "Tangle wallet daemon",
		Flags:  config.Flags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c)
	if err != nil {
		return err
	}

	password, err := password()
	if err != nil {
		return err
	}
	store, err := daemon.OpenSecretStore(cfg, password)
	if err != nil {
		return err
	}
	defer store.Lock()

	d, err := daemon.New(cfg, store)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		d.Stop()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	d.Stop()
	return nil
}

func password() ([]byte, error) {
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return []byte(pw), nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return nil, fmt.Errorf("no terminal to prompt for the secret store password, set %s", passwordEnv)
	}
	fmt.Fprint(os.Stderr, "Secret store password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	return pw, err
}
