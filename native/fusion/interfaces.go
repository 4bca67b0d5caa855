package fusion

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fusionswap/crypto"
)

// Ledger moves native value on Ledger-A.
type Ledger interface {
	Balance(ctx context.Context, account crypto.AccountID) (*uint256.Int, error)
	Transfer(ctx context.Context, from, to crypto.AccountID, amount *uint256.Int) error
}

// CounterpartyClaim describes the Ledger-B escrow a resolver asserts it has
// deployed for an order.
type CounterpartyClaim struct {
	OrderHash crypto.Hash
	HashLock  crypto.Hash
	Escrow    common.Address
	Asset     common.Address
	Recipient common.Address
	MinAmount *uint256.Int
	Direction Direction
}

// ProofOracle verifies cross-ledger proofs of the counterparty escrow.
type ProofOracle interface {
	VerifyCounterpartyEscrow(ctx context.Context, claim CounterpartyClaim, proof []byte) error
}

// ResolverRegistry owns resolver identity, authorization and slashing.
type ResolverRegistry interface {
	IsResolver(ctx context.Context, account crypto.AccountID) bool
	ValidateAuthorization(ctx context.Context, resolver crypto.AccountID, orderHash crypto.Hash, authorization []byte) error
	ShouldSlash(ctx context.Context, resolver crypto.AccountID, orderHash crypto.Hash) bool
}

// Metrics receives engine telemetry.
type Metrics interface {
	ObserveOperation(op, code string, elapsed time.Duration)
	ObserveTransition(from, to string)
	SetTotalVolume(volume float64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration) {}
func (noopMetrics) ObserveTransition(string, string)               {}
func (noopMetrics) SetTotalVolume(float64)                         {}
