package fusion

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"fusionswap/crypto"
	"fusionswap/storage"
)

var (
	orderRecordPrefix    = []byte("fusion/order/")
	hashLockIndexPrefix  = []byte("fusion/hashlock/")
	resolverRecordPrefix = []byte("fusion/resolver/")
	relayerRecordPrefix  = []byte("fusion/relayer/")

	ownerKey  = []byte("fusion/meta/owner")
	pausedKey = []byte("fusion/meta/paused")
	nonceKey  = []byte("fusion/meta/nonce")
	volumeKey = []byte("fusion/meta/volume")
)

func prefixedKey(prefix []byte, id []byte) []byte {
	buf := make([]byte, len(prefix)+len(id))
	copy(buf, prefix)
	copy(buf[len(prefix):], id)
	return buf
}

func orderStorageKey(hash crypto.Hash) []byte { return prefixedKey(orderRecordPrefix, hash[:]) }

func hashLockStorageKey(lock crypto.Hash) []byte { return prefixedKey(hashLockIndexPrefix, lock[:]) }

func resolverStorageKey(id crypto.AccountID) []byte { return prefixedKey(resolverRecordPrefix, id[:]) }

func relayerStorageKey(id crypto.AccountID) []byte { return prefixedKey(relayerRecordPrefix, id[:]) }

type storedLadder struct {
	SrcWithdrawal         uint32
	SrcPublicWithdrawal   uint32
	SrcCancellation       uint32
	SrcPublicCancellation uint32
	DstCancellation       uint32
}

type storedOrder struct {
	Hash                [32]byte
	Maker               [32]byte
	HasTaker            bool
	Taker               [32]byte
	Direction           uint8
	SrcAsset            [32]byte
	DstAsset            [20]byte
	DstRecipient        [20]byte
	SrcAmount           *big.Int
	MinDstAmount        *big.Int
	FilledAmount        *big.Int
	MaxResolverFee      *big.Int
	ResolverFee         *big.Int
	ResolverFeePaid     *big.Int
	SafetyDeposit       *big.Int
	HashLock            [32]byte
	HasSecret           bool
	Secret              [32]byte
	HasResolver         bool
	Resolver            [32]byte
	HasCounterparty     bool
	CounterpartyEscrow  [20]byte
	EscrowID            [32]byte
	FillDeadline        uint64
	PrivateCancellation uint64
	DeployedAt          uint64
	HasLadder           bool
	Ladder              storedLadder
	CreatedAt           uint64
	Nonce               uint64
	Status              uint8
	CancelReason        uint8
}

func newStoredOrder(o *Order) *storedOrder {
	if o == nil {
		return nil
	}
	out := &storedOrder{
		Hash:                o.Hash,
		Maker:               o.Maker,
		Direction:           uint8(o.Direction),
		SrcAsset:            o.SrcAsset,
		DstAsset:            o.DstAsset,
		DstRecipient:        o.DstRecipient,
		SrcAmount:           toBig(o.SrcAmount),
		MinDstAmount:        toBig(o.MinDstAmount),
		FilledAmount:        toBig(o.FilledAmount),
		MaxResolverFee:      toBig(o.MaxResolverFee),
		ResolverFee:         toBig(o.ResolverFee),
		ResolverFeePaid:     toBig(o.ResolverFeePaid),
		SafetyDeposit:       toBig(o.SafetyDeposit),
		HashLock:            o.HashLock,
		EscrowID:            o.EscrowID,
		FillDeadline:        o.TimeLocks.FillDeadline,
		PrivateCancellation: o.TimeLocks.PrivateCancellation,
		DeployedAt:          o.TimeLocks.DeployedAt,
		CreatedAt:           o.CreatedAt,
		Nonce:               o.Nonce,
		Status:              uint8(o.Status),
		CancelReason:        uint8(o.CancelReason),
	}
	if o.Taker != nil {
		out.HasTaker, out.Taker = true, *o.Taker
	}
	if o.Secret != nil {
		out.HasSecret, out.Secret = true, *o.Secret
	}
	if o.Resolver != nil {
		out.HasResolver, out.Resolver = true, *o.Resolver
	}
	if o.CounterpartyEscrow != nil {
		out.HasCounterparty, out.CounterpartyEscrow = true, *o.CounterpartyEscrow
	}
	if ladder := o.TimeLocks.Ladder; ladder != nil {
		out.HasLadder = true
		out.Ladder = storedLadder(*ladder)
	}
	return out
}

func (s *storedOrder) toOrder() (*Order, error) {
	if s == nil {
		return nil, fmt.Errorf("fusion: nil storage record")
	}
	out := &Order{
		Hash:         s.Hash,
		Maker:        s.Maker,
		Direction:    Direction(s.Direction),
		SrcAsset:     s.SrcAsset,
		DstAsset:     common.Address(s.DstAsset),
		DstRecipient: common.Address(s.DstRecipient),
		HashLock:     s.HashLock,
		EscrowID:     s.EscrowID,
		TimeLocks: TimeLocks{
			FillDeadline:        s.FillDeadline,
			PrivateCancellation: s.PrivateCancellation,
			DeployedAt:          s.DeployedAt,
		},
		CreatedAt:    s.CreatedAt,
		Nonce:        s.Nonce,
		Status:       OrderStatus(s.Status),
		CancelReason: CancelReason(s.CancelReason),
	}
	var err error
	if out.SrcAmount, err = fromBig(s.SrcAmount); err != nil {
		return nil, err
	}
	if out.MinDstAmount, err = fromBig(s.MinDstAmount); err != nil {
		return nil, err
	}
	if out.FilledAmount, err = fromBig(s.FilledAmount); err != nil {
		return nil, err
	}
	if out.MaxResolverFee, err = fromBig(s.MaxResolverFee); err != nil {
		return nil, err
	}
	if out.ResolverFee, err = fromBig(s.ResolverFee); err != nil {
		return nil, err
	}
	if out.ResolverFeePaid, err = fromBig(s.ResolverFeePaid); err != nil {
		return nil, err
	}
	if out.SafetyDeposit, err = fromBig(s.SafetyDeposit); err != nil {
		return nil, err
	}
	if s.HasTaker {
		taker := crypto.AccountID(s.Taker)
		out.Taker = &taker
	}
	if s.HasSecret {
		secret := crypto.Hash(s.Secret)
		out.Secret = &secret
	}
	if s.HasResolver {
		resolver := crypto.AccountID(s.Resolver)
		out.Resolver = &resolver
	}
	if s.HasCounterparty {
		addr := common.Address(s.CounterpartyEscrow)
		out.CounterpartyEscrow = &addr
	}
	if s.HasLadder {
		ladder := LadderOffsets(s.Ladder)
		out.TimeLocks.Ladder = &ladder
	}
	if !out.Status.Valid() || !out.Direction.Valid() {
		return nil, fmt.Errorf("fusion: corrupt order record %s", out.Hash)
	}
	return out, nil
}

func encodeOrder(o *Order) ([]byte, error) {
	return rlp.EncodeToBytes(newStoredOrder(o))
}

func decodeOrder(data []byte) (*Order, error) {
	var stored storedOrder
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("fusion: decode order: %w", err)
	}
	return stored.toOrder()
}

// stateTx stages every write of one engine operation over the committed
// database. Reads see staged writes first. Nothing reaches the database
// until commit writes the whole set as a single batch.
type stateTx struct {
	db     storage.Database
	writes map[string][]byte
	dels   map[string]bool
}

func newStateTx(db storage.Database) *stateTx {
	return &stateTx{db: db, writes: make(map[string][]byte), dels: make(map[string]bool)}
}

func (tx *stateTx) get(key []byte) ([]byte, bool, error) {
	k := string(key)
	if tx.dels[k] {
		return nil, false, nil
	}
	if value, ok := tx.writes[k]; ok {
		return value, true, nil
	}
	value, err := tx.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (tx *stateTx) put(key, value []byte) {
	k := string(key)
	delete(tx.dels, k)
	tx.writes[k] = append([]byte(nil), value...)
}

func (tx *stateTx) del(key []byte) {
	k := string(key)
	delete(tx.writes, k)
	tx.dels[k] = true
}

func (tx *stateTx) dirty() bool { return len(tx.writes) > 0 || len(tx.dels) > 0 }

func (tx *stateTx) commit() error {
	if !tx.dirty() {
		return nil
	}
	keys := make([]string, 0, len(tx.writes)+len(tx.dels))
	for k := range tx.writes {
		keys = append(keys, k)
	}
	for k := range tx.dels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := new(storage.Batch)
	for _, k := range keys {
		if tx.dels[k] {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), tx.writes[k])
	}
	return tx.db.Write(batch)
}

func (tx *stateTx) getOrder(hash crypto.Hash) (*Order, bool, error) {
	raw, ok, err := tx.get(orderStorageKey(hash))
	if err != nil || !ok {
		return nil, false, err
	}
	order, err := decodeOrder(raw)
	if err != nil {
		return nil, false, err
	}
	return order, true, nil
}

func (tx *stateTx) putOrder(order *Order) error {
	encoded, err := encodeOrder(order)
	if err != nil {
		return err
	}
	tx.put(orderStorageKey(order.Hash), encoded)
	return nil
}

func (tx *stateTx) getHashLock(lock crypto.Hash) (crypto.Hash, bool, error) {
	raw, ok, err := tx.get(hashLockStorageKey(lock))
	if err != nil || !ok {
		return crypto.Hash{}, false, err
	}
	var out crypto.Hash
	if len(raw) != len(out) {
		return crypto.Hash{}, false, fmt.Errorf("fusion: corrupt hash-lock index entry")
	}
	copy(out[:], raw)
	return out, true, nil
}

func (tx *stateTx) putHashLock(lock, orderHash crypto.Hash) { tx.put(hashLockStorageKey(lock), orderHash[:]) }

func (tx *stateTx) deleteHashLock(lock crypto.Hash) { tx.del(hashLockStorageKey(lock)) }

func (tx *stateTx) getUint64(key []byte) (uint64, error) {
	raw, ok, err := tx.get(key)
	if err != nil || !ok {
		return 0, err
	}
	var v uint64
	if err := rlp.DecodeBytes(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (tx *stateTx) putUint64(key []byte, v uint64) error {
	encoded, err := rlp.EncodeToBytes(v)
	if err != nil {
		return err
	}
	tx.put(key, encoded)
	return nil
}

func (tx *stateTx) getBig(key []byte) (*big.Int, error) {
	raw, ok, err := tx.get(key)
	if err != nil || !ok {
		return big.NewInt(0), err
	}
	v := new(big.Int)
	if err := rlp.DecodeBytes(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (tx *stateTx) putBig(key []byte, v *big.Int) error {
	encoded, err := rlp.EncodeToBytes(v)
	if err != nil {
		return err
	}
	tx.put(key, encoded)
	return nil
}

func (tx *stateTx) getFlag(key []byte) (bool, error) {
	raw, ok, err := tx.get(key)
	if err != nil || !ok {
		return false, err
	}
	return bytes.Equal(raw, []byte{1}), nil
}

func (tx *stateTx) putFlag(key []byte, v bool) {
	if v {
		tx.put(key, []byte{1})
		return
	}
	tx.del(key)
}

func (tx *stateTx) getOwner() (crypto.AccountID, bool, error) {
	raw, ok, err := tx.get(ownerKey)
	if err != nil || !ok {
		return crypto.AccountID{}, false, err
	}
	var owner crypto.AccountID
	if len(raw) != len(owner) {
		return crypto.AccountID{}, false, fmt.Errorf("fusion: corrupt owner record")
	}
	copy(owner[:], raw)
	return owner, true, nil
}

func (tx *stateTx) putOwner(owner crypto.AccountID) { tx.put(ownerKey, owner[:]) }
