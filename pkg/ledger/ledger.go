// Package ledger is the engine's boundary to the external value-transfer
// system: atomic native-unit transfers between accounts. The engine only
// depends on the Ledger interface; Bank is the in-process implementation
// used by the service and by tests.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientFunds is returned when the sender cannot cover a transfer.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrTransferRejected is returned when the recipient cannot receive funds.
	// The engine must abort the whole enclosing call when it sees this.
	ErrTransferRejected = errors.New("ledger: transfer rejected by recipient")
)

// Ledger moves native units between accounts. Transfer is atomic: it either
// fully applies or returns an error with no balance change.
type Ledger interface {
	Transfer(from, to common.Address, amount *big.Int) error
	Balance(addr common.Address) *big.Int
}

// Bank is a thread-safe in-memory Ledger. Accounts are created implicitly
// with zero balance on first reference.
type Bank struct {
	mu        sync.RWMutex
	balances  map[common.Address]*big.Int
	rejecting map[common.Address]bool
}

func NewBank() *Bank {
	return &Bank{
		balances:  make(map[common.Address]*big.Int),
		rejecting: make(map[common.Address]bool),
	}
}

// Deposit credits an account. Used by the bridge/faucet path and test setup.
func (b *Bank) Deposit(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = new(big.Int).Add(b.balance(addr), amount)
	return nil
}

// Transfer moves amount from one account to another. A zero amount is a
// no-op; the engine skips zero-fee transfers before calling here anyway.
func (b *Bank) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer amount must be non-negative")
	}
	if amount.Sign() == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rejecting[to] {
		return fmt.Errorf("%w: %s", ErrTransferRejected, to.Hex())
	}
	fromBal := b.balance(from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), fromBal, amount)
	}

	b.balances[from] = new(big.Int).Sub(fromBal, amount)
	b.balances[to] = new(big.Int).Add(b.balance(to), amount)
	return nil
}

// Balance returns a copy of the account's balance.
func (b *Bank) Balance(addr common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(big.Int).Set(b.balance(addr))
}

// SetRejecting marks an account as refusing incoming transfers. Simulates a
// recipient that cannot receive funds, which must abort settlement.
func (b *Bank) SetRejecting(addr common.Address, reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejecting[addr] = reject
}

// balance returns the stored balance without copying; callers hold b.mu.
func (b *Bank) balance(addr common.Address) *big.Int {
	if bal, ok := b.balances[addr]; ok {
		return bal
	}
	return big.NewInt(0)
}

var _ Ledger = (*Bank)(nil)
