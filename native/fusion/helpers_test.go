package fusion

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fusionswap/core/events"
	"fusionswap/crypto"
	"fusionswap/native/bank"
	"fusionswap/storage"
)

const (
	baseTime    uint64 = 1_700_000_000_000
	hour        uint64 = 3_600_000
	startFunds  uint64 = 10_000_000
	minDeposit  uint64 = 1_000
	protocolBps uint32 = 100
)

func newTestAccount(fill byte) crypto.AccountID {
	var id crypto.AccountID
	for i := range id {
		id[i] = fill
	}
	return id
}

var (
	makerAccount    = newTestAccount(0x11)
	resolverAccount = newTestAccount(0x22)
	publicAccount   = newTestAccount(0x33)
	ownerAccount    = newTestAccount(0x0F)
	custodyAccount  = newTestAccount(0xCC)

	counterpartyEscrow = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	dstAsset           = common.HexToAddress("0x00000000000000000000000000000000000000a5")
	dstRecipient       = common.HexToAddress("0x00000000000000000000000000000000000000be")
)

func testSecret(fill byte) crypto.Hash {
	var s crypto.Hash
	for i := range s {
		s[i] = fill
	}
	return s
}

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

// failingDB fails batch writes on demand so commit failures can be tested.
type failingDB struct {
	storage.Database
	failWrites bool
}

var errDiskFull = errors.New("disk full")

func (f *failingDB) Write(batch *storage.Batch) error {
	if f.failWrites {
		return errDiskFull
	}
	return f.Database.Write(batch)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	db       *failingDB
	ledger   *bank.Ledger
	engine   *Engine
	recorder *events.Recorder
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	db := &failingDB{Database: storage.NewMemDB()}
	ledger := bank.NewLedger(storage.NewMemDB())
	for _, acct := range []crypto.AccountID{makerAccount, resolverAccount} {
		if err := ledger.Mint(acct, amt(startFunds)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	cfg := Config{
		Owner:            ownerAccount,
		Custody:          custodyAccount,
		ProtocolFeeBps:   protocolBps,
		MinSafetyDeposit: amt(minDeposit),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := NewEngine(cfg, db, ledger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)
	return &harness{t: t, ctx: context.Background(), db: db, ledger: ledger, engine: engine, recorder: recorder}
}

func (h *harness) balance(id crypto.AccountID) uint64 {
	h.t.Helper()
	bal, err := h.ledger.Balance(h.ctx, id)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal.Uint64()
}

func (h *harness) create(direction Direction, srcAmount, maxFee uint64, now, deadline uint64) crypto.Hash {
	h.t.Helper()
	hash, err := h.engine.CreateOrder(h.ctx, Call{Caller: makerAccount, Now: now, Value: amt(srcAmount)}, CreateOrderParams{
		Direction:      direction,
		SrcAsset:       crypto.Blake2b256([]byte("DOT")),
		DstAsset:       dstAsset,
		SrcAmount:      amt(srcAmount),
		MinDstAmount:   amt(srcAmount),
		FillDeadline:   deadline,
		DstRecipient:   dstRecipient,
		MaxResolverFee: amt(maxFee),
	})
	if err != nil {
		h.t.Fatalf("create order: %v", err)
	}
	return hash
}

func (h *harness) lockParams(secret crypto.Hash, fee uint64) ResolverParams {
	return ResolverParams{
		Resolver:           resolverAccount,
		HashLock:           crypto.HashSecret(secret),
		CounterpartyEscrow: counterpartyEscrow,
		ResolverFee:        amt(fee),
	}
}

func (h *harness) lock(orderHash crypto.Hash, secret crypto.Hash, deposit, fee, now uint64) {
	h.t.Helper()
	err := h.engine.Lock(h.ctx, Call{Caller: resolverAccount, Now: now, Value: amt(deposit)}, orderHash, h.lockParams(secret, fee))
	if err != nil {
		h.t.Fatalf("lock: %v", err)
	}
}

func (h *harness) order(orderHash crypto.Hash) *Order {
	h.t.Helper()
	order, err := h.engine.GetOrder(orderHash)
	if err != nil {
		h.t.Fatalf("get order: %v", err)
	}
	return order
}

// checkInvariants asserts the global invariants over every stored order and
// the funds-conservation law against the custody balance.
func (h *harness) checkInvariants() {
	h.t.Helper()
	orders, err := h.engine.ListOrders(nil)
	if err != nil {
		h.t.Fatalf("list orders: %v", err)
	}
	activeLocks := make(map[crypto.Hash]crypto.Hash)
	for _, o := range orders {
		if o.FilledAmount.Cmp(o.SrcAmount) > 0 {
			h.t.Fatalf("order %s overfilled", o.Hash)
		}
		if !o.FilledAmount.IsZero() && o.Status != StatusPartialFill && o.Status != StatusExecuted {
			h.t.Fatalf("order %s filled in status %s", o.Hash, o.Status)
		}
		if !o.SafetyDeposit.IsZero() && o.Resolver == nil {
			h.t.Fatalf("order %s holds a deposit without resolver", o.Hash)
		}
		if o.Secret != nil && crypto.HashSecret(*o.Secret) != o.HashLock {
			h.t.Fatalf("order %s secret does not match hash lock", o.Hash)
		}
		indexed, found, err := h.engine.FindByHashLock(o.HashLock)
		if err != nil {
			h.t.Fatalf("find by hash lock: %v", err)
		}
		if o.Status.Active() {
			if !found || indexed != o.Hash {
				h.t.Fatalf("active order %s missing from hash-lock index", o.Hash)
			}
			if other, dup := activeLocks[o.HashLock]; dup {
				h.t.Fatalf("orders %s and %s share a hash lock", other, o.Hash)
			}
			activeLocks[o.HashLock] = o.Hash
		} else if found && indexed == o.Hash {
			h.t.Fatalf("inactive order %s still indexed", o.Hash)
		}
	}
	outstanding, err := h.engine.Outstanding()
	if err != nil {
		h.t.Fatalf("outstanding: %v", err)
	}
	if custody := h.balance(custodyAccount); custody != outstanding.Uint64() {
		h.t.Fatalf("custody %d != outstanding %s", custody, outstanding.Dec())
	}
	supply, err := h.ledger.Supply()
	if err != nil {
		h.t.Fatalf("supply: %v", err)
	}
	if supply.Uint64() != 2*startFunds {
		h.t.Fatalf("supply changed: %s", supply.Dec())
	}
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
