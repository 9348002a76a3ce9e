package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0xa1")
	bob   = common.HexToAddress("0xb0")
)

func TestDepositAndTransfer(t *testing.T) {
	bank := NewBank()
	if err := bank.Deposit(alice, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	if err := bank.Transfer(alice, bob, big.NewInt(300)); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if got := bank.Balance(alice); got.Cmp(big.NewInt(700)) != 0 {
		t.Errorf("alice balance = %s, want 700", got)
	}
	if got := bank.Balance(bob); got.Cmp(big.NewInt(300)) != 0 {
		t.Errorf("bob balance = %s, want 300", got)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	bank := NewBank()
	bank.Deposit(alice, big.NewInt(10))

	err := bank.Transfer(alice, bob, big.NewInt(11))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}
	// no partial effect
	if got := bank.Balance(alice); got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("alice balance changed on failed transfer: %s", got)
	}
}

func TestTransferRejectedRecipient(t *testing.T) {
	bank := NewBank()
	bank.Deposit(alice, big.NewInt(100))
	bank.SetRejecting(bob, true)

	err := bank.Transfer(alice, bob, big.NewInt(1))
	if !errors.Is(err, ErrTransferRejected) {
		t.Errorf("err = %v, want ErrTransferRejected", err)
	}

	bank.SetRejecting(bob, false)
	if err := bank.Transfer(alice, bob, big.NewInt(1)); err != nil {
		t.Errorf("transfer after unsetting reject failed: %v", err)
	}
}

func TestTransferZeroIsNoop(t *testing.T) {
	bank := NewBank()
	if err := bank.Transfer(alice, bob, big.NewInt(0)); err != nil {
		t.Errorf("zero transfer errored: %v", err)
	}
	if err := bank.Transfer(alice, bob, nil); err == nil {
		t.Error("nil amount accepted")
	}
	if err := bank.Transfer(alice, bob, big.NewInt(-5)); err == nil {
		t.Error("negative amount accepted")
	}
}

func TestDepositValidation(t *testing.T) {
	bank := NewBank()
	if err := bank.Deposit(alice, big.NewInt(0)); err == nil {
		t.Error("zero deposit accepted")
	}
	if err := bank.Deposit(alice, nil); err == nil {
		t.Error("nil deposit accepted")
	}
}
