package fusion

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fusionswap/crypto"
)

// ModuleName is the pause-guard key of the engine.
const ModuleName = "fusion"

// DefaultPrivateCancellationWindow is the maker-only cancellation grace period
// granted after order creation, in milliseconds.
const DefaultPrivateCancellationWindow uint64 = 30 * 60 * 1000

// BasisPoints is the fee denominator.
const BasisPoints = 10_000

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus uint8

const (
	StatusPending OrderStatus = iota
	StatusLocked
	StatusPartialFill
	StatusExecuted
	StatusCancelled
	StatusRefunded
)

// Valid reports whether the status value is within the supported range.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusLocked, StatusPartialFill, StatusExecuted, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition may leave the status.
func (s OrderStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusCancelled || s == StatusRefunded
}

// Active reports whether the order currently owns a hash-lock index entry.
func (s OrderStatus) Active() bool {
	return s == StatusLocked || s == StatusPartialFill
}

// Ordinal ranks the status for the monotonicity check. Every terminal status
// shares the highest rank.
func (s OrderStatus) Ordinal() int {
	switch s {
	case StatusPending:
		return 0
	case StatusLocked:
		return 1
	case StatusPartialFill:
		return 2
	default:
		return 3
	}
}

func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusLocked:
		return "locked"
	case StatusPartialFill:
		return "partial_fill"
	case StatusExecuted:
		return "executed"
	case StatusCancelled:
		return "cancelled"
	case StatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// MarshalText renders the lowercase status name.
func (s OrderStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("fusion: invalid status %d", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *OrderStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseOrderStatus decodes a lowercase status name.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for status := StatusPending; status.Valid(); status++ {
		if status.String() == raw {
			return status, nil
		}
	}
	return 0, fmt.Errorf("fusion: unknown status %q", raw)
}

// Direction identifies which ledger the maker funds.
type Direction uint8

const (
	// DirectionAToB: the maker deposits on Ledger-A and receives on Ledger-B.
	DirectionAToB Direction = iota
	// DirectionBToA: the resolver fronts on Ledger-A and recovers on Ledger-B.
	DirectionBToA
)

// Valid reports whether the direction value is supported.
func (d Direction) Valid() bool { return d == DirectionAToB || d == DirectionBToA }

func (d Direction) String() string {
	switch d {
	case DirectionAToB:
		return "a_to_b"
	case DirectionBToA:
		return "b_to_a"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// MarshalText renders the direction name.
func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("fusion: invalid direction %d", d)
	}
	return []byte(d.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection decodes a direction name. Polkadot/Ethereum aliases are
// accepted for the two-chain deployment.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "a_to_b", "a->b", "polkadot_to_ethereum":
		return DirectionAToB, nil
	case "b_to_a", "b->a", "ethereum_to_polkadot":
		return DirectionBToA, nil
	default:
		return 0, fmt.Errorf("fusion: unknown direction %q", raw)
	}
}

// CancelReason records why an order left the book without executing.
type CancelReason uint8

const (
	ReasonNone CancelReason = iota
	ReasonMakerCancellation
	ReasonTimelockExpired
	ReasonResolverTimeout
	ReasonEmergencyStop
)

func (r CancelReason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonMakerCancellation:
		return "maker_cancellation"
	case ReasonTimelockExpired:
		return "timelock_expired"
	case ReasonResolverTimeout:
		return "resolver_timeout"
	case ReasonEmergencyStop:
		return "emergency_stop"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// MarshalText renders the reason name.
func (r CancelReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText accepts the names produced by MarshalText.
func (r *CancelReason) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	for reason := ReasonNone; reason <= ReasonEmergencyStop; reason++ {
		if reason.String() == raw {
			*r = reason
			return nil
		}
	}
	return fmt.Errorf("fusion: unknown cancel reason %q", raw)
}

// ResolverFault reports whether the reason forfeits the safety deposit.
func (r CancelReason) ResolverFault() bool { return r == ReasonResolverTimeout }

// TimeLocks carries the absolute deadlines of an order and, in ladder mode,
// the relative offsets stamped at lock time.
type TimeLocks struct {
	FillDeadline        uint64         `json:"fillDeadline"`
	PrivateCancellation uint64         `json:"privateCancellation"`
	DeployedAt          uint64         `json:"deployedAt,omitempty"`
	Ladder              *LadderOffsets `json:"ladder,omitempty"`
}

// Clone returns a deep copy.
func (t TimeLocks) Clone() TimeLocks {
	out := t
	if t.Ladder != nil {
		ladder := *t.Ladder
		out.Ladder = &ladder
	}
	return out
}

// Order is the sole persistent entity of the engine.
type Order struct {
	Hash               crypto.Hash       `json:"orderHash"`
	Maker              crypto.AccountID  `json:"maker"`
	Taker              *crypto.AccountID `json:"taker,omitempty"`
	Direction          Direction         `json:"direction"`
	SrcAsset           crypto.Hash       `json:"srcAsset"`
	DstAsset           common.Address    `json:"dstAsset"`
	DstRecipient       common.Address    `json:"dstRecipient"`
	SrcAmount          *uint256.Int      `json:"srcAmount"`
	MinDstAmount       *uint256.Int      `json:"minDstAmount"`
	FilledAmount       *uint256.Int      `json:"filledAmount"`
	MaxResolverFee     *uint256.Int      `json:"maxResolverFee"`
	ResolverFee        *uint256.Int      `json:"resolverFee"`
	ResolverFeePaid    *uint256.Int      `json:"resolverFeePaid"`
	SafetyDeposit      *uint256.Int      `json:"safetyDeposit"`
	HashLock           crypto.Hash       `json:"hashLock"`
	Secret             *crypto.Hash      `json:"secret,omitempty"`
	Resolver           *crypto.AccountID `json:"resolver,omitempty"`
	CounterpartyEscrow *common.Address   `json:"counterpartyEscrow,omitempty"`
	EscrowID           crypto.AccountID  `json:"escrowId"`
	TimeLocks          TimeLocks         `json:"timelocks"`
	CreatedAt          uint64            `json:"createdAt"`
	Nonce              uint64            `json:"nonce"`
	Status             OrderStatus       `json:"status"`
	CancelReason       CancelReason      `json:"cancelReason,omitempty"`
}

// Clone returns a deep copy of the order so callers can safely mutate the copy
// without affecting the stored instance.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.SrcAmount = cloneAmount(o.SrcAmount)
	clone.MinDstAmount = cloneAmount(o.MinDstAmount)
	clone.FilledAmount = cloneAmount(o.FilledAmount)
	clone.MaxResolverFee = cloneAmount(o.MaxResolverFee)
	clone.ResolverFee = cloneAmount(o.ResolverFee)
	clone.ResolverFeePaid = cloneAmount(o.ResolverFeePaid)
	clone.SafetyDeposit = cloneAmount(o.SafetyDeposit)
	if o.Taker != nil {
		taker := *o.Taker
		clone.Taker = &taker
	}
	if o.Secret != nil {
		secret := *o.Secret
		clone.Secret = &secret
	}
	if o.Resolver != nil {
		resolver := *o.Resolver
		clone.Resolver = &resolver
	}
	if o.CounterpartyEscrow != nil {
		addr := *o.CounterpartyEscrow
		clone.CounterpartyEscrow = &addr
	}
	clone.TimeLocks = o.TimeLocks.Clone()
	return &clone
}

// Remaining returns src_amount - filled_amount.
func (o *Order) Remaining() (*uint256.Int, error) {
	return subChecked(o.SrcAmount, o.FilledAmount)
}

// CreateOrderParams is the maker's intent.
type CreateOrderParams struct {
	Direction      Direction      `json:"direction"`
	SrcAsset       crypto.Hash    `json:"srcAsset"`
	DstAsset       common.Address `json:"dstAsset"`
	SrcAmount      *uint256.Int   `json:"srcAmount"`
	MinDstAmount   *uint256.Int   `json:"minDstAmount"`
	FillDeadline   uint64         `json:"fillDeadline"`
	DstRecipient   common.Address `json:"dstRecipient"`
	MaxResolverFee *uint256.Int   `json:"maxResolverFee"`
}

// ResolverParams accompanies a lock. Authorization is an opaque proof handed
// to the ResolverRegistry; Proof is the counterparty escrow proof handed to
// the ProofOracle.
type ResolverParams struct {
	Resolver           crypto.AccountID `json:"resolver"`
	HashLock           crypto.Hash      `json:"hashLock"`
	CounterpartyEscrow common.Address   `json:"counterpartyEscrow"`
	ResolverFee        *uint256.Int     `json:"resolverFee"`
	Authorization      []byte           `json:"authorization,omitempty"`
	Proof              []byte           `json:"proof,omitempty"`
}

// Call carries the per-message execution context: who is calling, the
// ledger timestamp in epoch milliseconds and the value attached to the call.
type Call struct {
	Caller crypto.AccountID
	Now    uint64
	Value  *uint256.Int
}

func (c Call) value() *uint256.Int { return cloneAmount(c.Value) }

// EscrowImmutables are the parameters bound into a derived escrow identity.
type EscrowImmutables struct {
	OrderHash          crypto.Hash      `json:"orderHash"`
	HashLock           crypto.Hash      `json:"hashLock"`
	Maker              crypto.AccountID `json:"maker"`
	Taker              crypto.AccountID `json:"taker"`
	Amount             *uint256.Int     `json:"amount"`
	SafetyDeposit      *uint256.Int     `json:"safetyDeposit"`
	DeployedAt         uint64           `json:"deployedAt"`
	TimeLocks          TimeLocks        `json:"timelocks"`
	CounterpartyEscrow *common.Address  `json:"counterpartyEscrow,omitempty"`
	EscrowID           crypto.AccountID `json:"escrowId"`
}
