// derive_key.go prints the first addresses of an account for a mnemonic file.
// Usage: go run scripts/derive_key.go <mnemonicfile> [account] [count]
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: derive_key <mnemonicfile> [account] [count]")
		os.Exit(1)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	account, count := uint64(0), uint64(5)
	if len(os.Args) > 2 {
		if account, err = strconv.ParseUint(os.Args[2], 10, 31); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if len(os.Args) > 3 {
		if count, err = strconv.ParseUint(os.Args[3], 10, 16); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	m, err := signer.NewMnemonic(strings.TrimSpace(string(data)), "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, ct := range []uint32{signer.CoinTypeIOTA, signer.CoinTypeShimmer} {
		addrs, err := m.GenerateAddresses(context.Background(), ct, uint32(account),
			signer.Range{Start: 0, End: uint32(count)}, false, signer.GenerateOptions{})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		hrp := types.MainnetHRP
		if ct == signer.CoinTypeShimmer {
			hrp = types.TestnetHRP
		}
		for i, a := range addrs {
			c := signer.Chain{CoinType: ct, Account: uint32(account), Change: signer.ChangeExternal, Index: uint32(i)}
			fmt.Printf("%s  %s\n", c, a.Bech32(hrp))
		}
	}
}
