// Package accounts keeps per-identity token balances and nonces and moves
// value between them. It is the payment rail the marketplace settles on.
package accounts

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/tolmarket/core"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceOverflow     = errors.New("balance overflow")
	ErrBadNonce            = errors.New("invalid nonce")
)

// Bank reads and writes accounts through a core.State, so every movement it
// makes is covered by the state's snapshot/revert.
type Bank struct {
	state core.State
}

// New returns a Bank over state.
func New(state core.State) *Bank {
	return &Bank{state: state}
}

// Balance returns the balance of address (zero for unknown accounts).
func (b *Bank) Balance(address string) (uint64, error) {
	acc, err := b.state.GetAccount(address)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Account returns the full account record for address.
func (b *Bank) Account(address string) (*core.Account, error) {
	return b.state.GetAccount(address)
}

// Credit mints amount into address. Used for genesis allocation only.
func (b *Bank) Credit(address string, amount uint64) error {
	acc, err := b.state.GetAccount(address)
	if err != nil {
		return err
	}
	if acc.Balance > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, address)
	}
	acc.Balance += amount
	return b.state.SetAccount(acc)
}

// Transfer moves amount from one account to another. A zero amount is a
// no-op. from == to is allowed and leaves the balance unchanged.
func (b *Bank) Transfer(from, to string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if to == "" {
		return errors.New("transfer to address required")
	}

	sender, err := b.state.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, sender.Balance, amount)
	}
	sender.Balance -= amount
	if err := b.state.SetAccount(sender); err != nil {
		return err
	}

	// Re-read after the debit so a self-transfer sees its own write.
	recipient, err := b.state.GetAccount(to)
	if err != nil {
		return err
	}
	if recipient.Balance > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, to)
	}
	recipient.Balance += amount
	return b.state.SetAccount(recipient)
}

// ConsumeNonce checks that nonce is the next expected nonce for address and
// advances it.
func (b *Bank) ConsumeNonce(address string, nonce uint64) error {
	acc, err := b.state.GetAccount(address)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != nonce {
		return fmt.Errorf("%w: expected %d got %d", ErrBadNonce, acc.Nonce, nonce)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", address)
	}
	acc.Nonce++
	return b.state.SetAccount(acc)
}
