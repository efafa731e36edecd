package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tolelom/tolmarket/accounts"
	"github.com/tolelom/tolmarket/core"
)

// ApplyGenesis credits the Alloc balances and commits them, but only on a
// state that has never been initialised as a marketplace. It must run before
// the ledger's Init. It reports whether the allocation was applied.
func ApplyGenesis(g GenesisConfig, state core.State) (bool, error) {
	_, err := state.GetMarket()
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return false, fmt.Errorf("check market info: %w", err)
	}

	addrs := make([]string, 0, len(g.Alloc))
	for addr := range g.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	bank := accounts.New(state)
	for _, addr := range addrs {
		if err := bank.Credit(addr, g.Alloc[addr]); err != nil {
			return false, fmt.Errorf("genesis alloc %s: %w", addr, err)
		}
	}
	if err := state.Commit(); err != nil {
		return false, fmt.Errorf("commit genesis: %w", err)
	}
	return true, nil
}
