package bank

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"fusionswap/crypto"
	"fusionswap/storage"
)

func account(fill byte) crypto.AccountID {
	var id crypto.AccountID
	for i := range id {
		id[i] = fill
	}
	return id
}

func TestLedgerTransferMovesValue(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	alice, bob := account(0xA1), account(0xB2)
	if err := ledger.Mint(alice, uint256.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(context.Background(), alice, bob, uint256.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBal, _ := ledger.Balance(context.Background(), alice)
	bobBal, _ := ledger.Balance(context.Background(), bob)
	if aliceBal.Uint64() != 600 || bobBal.Uint64() != 400 {
		t.Fatalf("unexpected balances alice=%s bob=%s", aliceBal, bobBal)
	}
	supply, err := ledger.Supply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Uint64() != 1_000 {
		t.Fatalf("supply changed: %s", supply)
	}
}

func TestLedgerRejectsOverdraft(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	alice, bob := account(0xA1), account(0xB2)
	if err := ledger.Mint(alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := ledger.Transfer(context.Background(), alice, bob, uint256.NewInt(11))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestLedgerFailureInjection(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	alice, bob := account(0xA1), account(0xB2)
	if err := ledger.Mint(alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	refused := errors.New("refused")
	ledger.FailTransfers(bob, refused)
	if err := ledger.Transfer(context.Background(), alice, bob, uint256.NewInt(1)); !errors.Is(err, refused) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	ledger.FailTransfers(bob, nil)
	if err := ledger.Transfer(context.Background(), alice, bob, uint256.NewInt(1)); err != nil {
		t.Fatalf("transfer after clearing failure: %v", err)
	}
}

func TestLedgerMintOverflow(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	alice := account(0xA1)
	if err := ledger.Mint(alice, new(uint256.Int).Set(maxBalance)); err != nil {
		t.Fatalf("mint max: %v", err)
	}
	if err := ledger.Mint(alice, uint256.NewInt(1)); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
}
