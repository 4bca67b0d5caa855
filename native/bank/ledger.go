package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"fusionswap/crypto"
	"fusionswap/storage"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrBalanceOverflow     = errors.New("bank: balance overflow")
	ErrInvalidAmount       = errors.New("bank: invalid amount")
)

var balancePrefix = []byte("bank/balance/")

var maxBalance = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))

func balanceKey(id crypto.AccountID) []byte {
	buf := make([]byte, len(balancePrefix)+len(id))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], id[:])
	return buf
}

// Ledger keeps native Ledger-A balances in a key-value store. Both legs of a
// transfer are written in one batch.
type Ledger struct {
	mu       sync.Mutex
	db       storage.Database
	failures map[crypto.AccountID]error
}

// NewLedger wraps db. Balances live under their own key prefix so the ledger
// may share a database with the engine.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db, failures: make(map[crypto.AccountID]error)}
}

func (l *Ledger) load(id crypto.AccountID) (*uint256.Int, error) {
	raw, err := l.db.Get(balanceKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	v := new(big.Int)
	if err := rlp.DecodeBytes(raw, v); err != nil {
		return nil, fmt.Errorf("bank: decode balance: %w", err)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	return out, nil
}

func encodeBalance(v *uint256.Int) ([]byte, error) {
	return rlp.EncodeToBytes(v.ToBig())
}

// Balance implements fusion.Ledger.
func (l *Ledger) Balance(_ context.Context, id crypto.AccountID) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(id)
}

// Mint credits an account out of thin air. It backs genesis allocations and
// tests only.
func (l *Ledger) Mint(id crypto.AccountID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current, err := l.load(id)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow || next.Cmp(maxBalance) > 0 {
		return ErrBalanceOverflow
	}
	encoded, err := encodeBalance(next)
	if err != nil {
		return err
	}
	return l.db.Put(balanceKey(id), encoded)
}

// Transfer implements fusion.Ledger.
func (l *Ledger) Transfer(ctx context.Context, from, to crypto.AccountID, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failures[to]; err != nil {
		return err
	}
	if err := l.failures[from]; err != nil {
		return err
	}
	if amount.IsZero() || from == to {
		return nil
	}
	fromBal, err := l.load(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from, fromBal.Dec(), amount.Dec())
	}
	toBal, err := l.load(to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow || credited.Cmp(maxBalance) > 0 {
		return ErrBalanceOverflow
	}
	debited := new(uint256.Int).Sub(fromBal, amount)

	batch := new(storage.Batch)
	encodedFrom, err := encodeBalance(debited)
	if err != nil {
		return err
	}
	encodedTo, err := encodeBalance(credited)
	if err != nil {
		return err
	}
	batch.Put(balanceKey(from), encodedFrom)
	batch.Put(balanceKey(to), encodedTo)
	return l.db.Write(batch)
}

// FailTransfers makes every transfer touching id fail with err until cleared
// with a nil err. It simulates a ledger refusing value movement.
func (l *Ledger) FailTransfers(id crypto.AccountID, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.failures, id)
		return
	}
	l.failures[id] = err
}

// Supply sums every balance. Conservation checks use it.
func (l *Ledger) Supply() (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := new(uint256.Int)
	var decodeErr error
	err := l.db.Iterate(balancePrefix, func(_, value []byte) bool {
		v := new(big.Int)
		if err := rlp.DecodeBytes(value, v); err != nil {
			decodeErr = err
			return false
		}
		amount, _ := uint256.FromBig(v)
		total.Add(total, amount)
		return true
	})
	if err != nil {
		return nil, err
	}
	return total, decodeErr
}
