package proof

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"fusionswap/crypto"
	"fusionswap/native/fusion"
	"fusionswap/storage"
)

var (
	ErrUntrustedRelayer = errors.New("proof: relayer not trusted")
	ErrUnknownRoot      = errors.New("proof: no root for height")
	ErrRootConflict     = errors.New("proof: conflicting root for height")
	ErrMalformedProof   = errors.New("proof: malformed proof")
	ErrProofMismatch    = errors.New("proof: leaf not included in root")
	ErrAmountTooLow     = errors.New("proof: escrow amount below order minimum")
)

var rootPrefix = []byte("proof/root/")

// RelayerView answers whether an account may post roots.
type RelayerView interface {
	IsTrustedRelayer(relayer crypto.AccountID) bool
}

// EscrowLeaf is the Ledger-B escrow record committed into a state root.
type EscrowLeaf struct {
	Escrow    common.Address
	OrderHash crypto.Hash
	HashLock  crypto.Hash
	Asset     common.Address
	Recipient common.Address
	Amount    *uint256.Int
}

// Hash returns keccak(escrow ‖ orderHash ‖ hashLock ‖ asset ‖ recipient ‖ amount[32 BE]).
func (l EscrowLeaf) Hash() crypto.Hash {
	amount := new(uint256.Int)
	if l.Amount != nil {
		amount.Set(l.Amount)
	}
	be := amount.Bytes32()
	return crypto.Keccak256(l.Escrow[:], l.OrderHash[:], l.HashLock[:], l.Asset[:], l.Recipient[:], be[:])
}

// EscrowProof is the RLP payload carried in fusion.ResolverParams.Proof.
type EscrowProof struct {
	Height   uint64
	Amount   *big.Int
	Siblings [][32]byte
}

// Encode serialises the proof.
func (p *EscrowProof) Encode() ([]byte, error) { return rlp.EncodeToBytes(p) }

// DecodeProof parses a proof payload.
func DecodeProof(data []byte) (*EscrowProof, error) {
	var p EscrowProof
	if err := rlp.DecodeBytes(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	if p.Amount == nil || p.Amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount", ErrMalformedProof)
	}
	return &p, nil
}

func hashPair(a, b crypto.Hash) crypto.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256(a[:], b[:])
}

// VerifyInclusion folds the siblings into the leaf with sorted-pair hashing.
func VerifyInclusion(leaf, root crypto.Hash, siblings [][32]byte) bool {
	node := leaf
	for _, sibling := range siblings {
		node = hashPair(node, sibling)
	}
	return node == root
}

// BuildTree computes the root over leaves and the sibling path of each leaf.
// Odd nodes are promoted unchanged to the next level.
func BuildTree(leaves []crypto.Hash) (crypto.Hash, [][][32]byte) {
	if len(leaves) == 0 {
		return crypto.Hash{}, nil
	}
	paths := make([][][32]byte, len(leaves))
	positions := make([]int, len(leaves))
	for i := range positions {
		positions[i] = i
	}
	level := append([]crypto.Hash(nil), leaves...)
	for len(level) > 1 {
		next := make([]crypto.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		for leaf, pos := range positions {
			sibling := pos ^ 1
			if sibling < len(level) {
				paths[leaf] = append(paths[leaf], level[sibling])
			}
			positions[leaf] = pos / 2
		}
		level = next
	}
	return level[0], paths
}

// Oracle stores relayer-posted Ledger-B roots and verifies escrow proofs
// against them. It implements fusion.ProofOracle.
type Oracle struct {
	mu       sync.RWMutex
	db       storage.Database
	relayers RelayerView
}

// NewOracle constructs an oracle. Roots persist in db.
func NewOracle(db storage.Database, relayers RelayerView) *Oracle {
	return &Oracle{db: db, relayers: relayers}
}

func rootKey(height uint64) []byte {
	buf := make([]byte, len(rootPrefix)+8)
	copy(buf, rootPrefix)
	binary.BigEndian.PutUint64(buf[len(rootPrefix):], height)
	return buf
}

// SubmitRoot records the Ledger-B state root at height. Re-submitting the
// same root is a no-op; a different root for a known height is rejected.
func (o *Oracle) SubmitRoot(_ context.Context, relayer crypto.AccountID, height uint64, root crypto.Hash) error {
	if o.relayers == nil || !o.relayers.IsTrustedRelayer(relayer) {
		return ErrUntrustedRelayer
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	existing, err := o.db.Get(rootKey(height))
	switch {
	case err == nil:
		if !bytes.Equal(existing, root[:]) {
			return fmt.Errorf("%w: height %d", ErrRootConflict, height)
		}
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return o.db.Put(rootKey(height), root[:])
	default:
		return err
	}
}

// Root returns the root recorded at height.
func (o *Oracle) Root(height uint64) (crypto.Hash, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	raw, err := o.db.Get(rootKey(height))
	if errors.Is(err, storage.ErrNotFound) {
		return crypto.Hash{}, fmt.Errorf("%w %d", ErrUnknownRoot, height)
	}
	if err != nil {
		return crypto.Hash{}, err
	}
	var out crypto.Hash
	copy(out[:], raw)
	return out, nil
}

// Heights lists the heights with a recorded root, ascending.
func (o *Oracle) Heights() ([]uint64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []uint64
	err := o.db.Iterate(rootPrefix, func(key, _ []byte) bool {
		out = append(out, binary.BigEndian.Uint64(key[len(rootPrefix):]))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, err
}

// VerifyCounterpartyEscrow implements fusion.ProofOracle.
func (o *Oracle) VerifyCounterpartyEscrow(_ context.Context, claim fusion.CounterpartyClaim, payload []byte) error {
	p, err := DecodeProof(payload)
	if err != nil {
		return err
	}
	root, err := o.Root(p.Height)
	if err != nil {
		return err
	}
	amount, overflow := uint256.FromBig(p.Amount)
	if overflow {
		return fmt.Errorf("%w: amount overflow", ErrMalformedProof)
	}
	if claim.MinAmount != nil && amount.Cmp(claim.MinAmount) < 0 {
		return ErrAmountTooLow
	}
	leaf := EscrowLeaf{
		Escrow:    claim.Escrow,
		OrderHash: claim.OrderHash,
		HashLock:  claim.HashLock,
		Asset:     claim.Asset,
		Recipient: claim.Recipient,
		Amount:    amount,
	}
	if !VerifyInclusion(leaf.Hash(), root, p.Siblings) {
		return ErrProofMismatch
	}
	return nil
}
