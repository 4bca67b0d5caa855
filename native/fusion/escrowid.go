package fusion

import (
	"github.com/holiman/uint256"

	"fusionswap/crypto"
)

// EscrowIDInput lists the immutable escrow parameters.
type EscrowIDInput struct {
	OrderHash  crypto.Hash
	HashLock   crypto.Hash
	Maker      crypto.AccountID
	Taker      crypto.AccountID
	Amount     *uint256.Int
	DeployedAt uint64
}

// DeriveEscrowID binds the immutable parameters of a locked order to a
// 32-byte identity on Ledger-A. Changing any field yields a different
// identity.
func DeriveEscrowID(in EscrowIDInput) (crypto.AccountID, error) {
	digest, err := NewEncoder().
		Fixed(in.OrderHash[:]).
		Fixed(in.HashLock[:]).
		Fixed(in.Maker[:]).
		Fixed(in.Taker[:]).
		U128(in.Amount).
		U64(in.DeployedAt).
		Hash()
	if err != nil {
		return crypto.AccountID{}, err
	}
	return crypto.AccountID(digest), nil
}

func immutablesFor(order *Order) (*EscrowImmutables, error) {
	if order == nil || order.Taker == nil {
		return nil, ErrInvalidOrderStatus
	}
	out := &EscrowImmutables{
		OrderHash:     order.Hash,
		HashLock:      order.HashLock,
		Maker:         order.Maker,
		Taker:         *order.Taker,
		Amount:        cloneAmount(order.SrcAmount),
		SafetyDeposit: cloneAmount(order.SafetyDeposit),
		DeployedAt:    order.TimeLocks.DeployedAt,
		TimeLocks:     order.TimeLocks.Clone(),
		EscrowID:      order.EscrowID,
	}
	if order.CounterpartyEscrow != nil {
		addr := *order.CounterpartyEscrow
		out.CounterpartyEscrow = &addr
	}
	return out, nil
}
