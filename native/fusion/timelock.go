package fusion

import (
	"fmt"
	"strings"

	"fusionswap/crypto"
)

// TimelockMode selects the timelock shape for the whole engine lifetime.
type TimelockMode uint8

const (
	// ModeDeadline uses the absolute fill deadline and private cancellation
	// instant only.
	ModeDeadline TimelockMode = iota
	// ModeLadder stamps relative offsets at lock time and gates withdrawal and
	// cancellation by phase.
	ModeLadder
)

func (m TimelockMode) String() string {
	switch m {
	case ModeDeadline:
		return "deadline"
	case ModeLadder:
		return "ladder"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseTimelockMode decodes a mode name; the empty string selects deadline.
func ParseTimelockMode(raw string) (TimelockMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "deadline", "simple":
		return ModeDeadline, nil
	case "ladder", "relative":
		return ModeLadder, nil
	default:
		return 0, fmt.Errorf("fusion: unknown timelock mode %q", raw)
	}
}

// LadderOffsets are seconds measured from deployed_at.
type LadderOffsets struct {
	SrcWithdrawal         uint32 `json:"srcWithdrawal" yaml:"src_withdrawal" toml:"src_withdrawal"`
	SrcPublicWithdrawal   uint32 `json:"srcPublicWithdrawal" yaml:"src_public_withdrawal" toml:"src_public_withdrawal"`
	SrcCancellation       uint32 `json:"srcCancellation" yaml:"src_cancellation" toml:"src_cancellation"`
	SrcPublicCancellation uint32 `json:"srcPublicCancellation" yaml:"src_public_cancellation" toml:"src_public_cancellation"`
	DstCancellation       uint32 `json:"dstCancellation" yaml:"dst_cancellation" toml:"dst_cancellation"`
}

// Validate enforces the ladder ordering. The destination side must become
// cancellable before the source side so the resolver can always recover its
// Ledger-B funds first.
func (l LadderOffsets) Validate() error {
	if !(l.SrcWithdrawal < l.SrcPublicWithdrawal &&
		l.SrcPublicWithdrawal < l.SrcCancellation &&
		l.SrcCancellation < l.SrcPublicCancellation) {
		return fmt.Errorf("%w: source offsets must be strictly increasing", ErrInvalidTimelocks)
	}
	if l.DstCancellation >= l.SrcCancellation {
		return fmt.Errorf("%w: dst cancellation must precede src cancellation", ErrInvalidTimelocks)
	}
	return nil
}

// Phase is a window of the timelock ladder.
type Phase uint8

const (
	PhaseFinality Phase = iota
	PhasePrivateWithdrawal
	PhasePublicWithdrawal
	PhasePrivateCancellation
	PhasePublicCancellation
)

func (p Phase) String() string {
	switch p {
	case PhaseFinality:
		return "finality"
	case PhasePrivateWithdrawal:
		return "private_withdrawal"
	case PhasePublicWithdrawal:
		return "public_withdrawal"
	case PhasePrivateCancellation:
		return "private_cancellation"
	case PhasePublicCancellation:
		return "public_cancellation"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Roles describes how a caller relates to an order.
type Roles struct {
	Maker    bool
	Resolver bool
}

// Public reports whether the caller is neither maker nor resolver.
func (r Roles) Public() bool { return !r.Maker && !r.Resolver }

// RolesOf resolves the caller's roles. The taker counts as resolver.
func RolesOf(order *Order, caller crypto.AccountID) Roles {
	var roles Roles
	if order == nil {
		return roles
	}
	roles.Maker = order.Maker == caller
	if order.Resolver != nil && *order.Resolver == caller {
		roles.Resolver = true
	}
	if order.Taker != nil && *order.Taker == caller {
		roles.Resolver = true
	}
	return roles
}

// Ladder evaluates the relative offsets against a deployment instant. It is
// a pure value; all methods take the current time in milliseconds.
type Ladder struct {
	DeployedAt uint64
	Offsets    LadderOffsets
}

func (l Ladder) at(offset uint32) (uint64, error) {
	return addU64Checked(l.DeployedAt, uint64(offset)*1000)
}

// Boundaries returns the absolute start of every phase after finality plus
// the Ledger-B cancellation instant.
func (l Ladder) Boundaries() (withdrawal, publicWithdrawal, cancellation, publicCancellation, dstCancellation uint64, err error) {
	if withdrawal, err = l.at(l.Offsets.SrcWithdrawal); err != nil {
		return
	}
	if publicWithdrawal, err = l.at(l.Offsets.SrcPublicWithdrawal); err != nil {
		return
	}
	if cancellation, err = l.at(l.Offsets.SrcCancellation); err != nil {
		return
	}
	if publicCancellation, err = l.at(l.Offsets.SrcPublicCancellation); err != nil {
		return
	}
	dstCancellation, err = l.at(l.Offsets.DstCancellation)
	return
}

// PhaseAt returns the window containing now.
func (l Ladder) PhaseAt(now uint64) (Phase, error) {
	withdrawal, publicWithdrawal, cancellation, publicCancellation, _, err := l.Boundaries()
	if err != nil {
		return 0, err
	}
	switch {
	case now < withdrawal:
		return PhaseFinality, nil
	case now < publicWithdrawal:
		return PhasePrivateWithdrawal, nil
	case now < cancellation:
		return PhasePublicWithdrawal, nil
	case now < publicCancellation:
		return PhasePrivateCancellation, nil
	default:
		return PhasePublicCancellation, nil
	}
}

// MayWithdrawPrivate reports whether the party may withdraw with the secret
// during the resolver-exclusive window or later withdrawal windows.
func (l Ladder) MayWithdrawPrivate(roles Roles, now uint64) (bool, error) {
	phase, err := l.PhaseAt(now)
	if err != nil {
		return false, err
	}
	return roles.Resolver && (phase == PhasePrivateWithdrawal || phase == PhasePublicWithdrawal), nil
}

// MayWithdrawPublic reports whether any secret holder may withdraw.
func (l Ladder) MayWithdrawPublic(now uint64) (bool, error) {
	phase, err := l.PhaseAt(now)
	if err != nil {
		return false, err
	}
	return phase == PhasePublicWithdrawal, nil
}

// MayCancelPrivate reports whether the maker or resolver may cancel.
func (l Ladder) MayCancelPrivate(roles Roles, now uint64) (bool, error) {
	phase, err := l.PhaseAt(now)
	if err != nil {
		return false, err
	}
	return !roles.Public() && phase >= PhasePrivateCancellation, nil
}

// MayCancelPublic reports whether any caller may cancel.
func (l Ladder) MayCancelPublic(now uint64) (bool, error) {
	phase, err := l.PhaseAt(now)
	if err != nil {
		return false, err
	}
	return phase == PhasePublicCancellation, nil
}

// cancelOutcome is the status and reason a permitted cancellation produces.
type cancelOutcome struct {
	status OrderStatus
	reason CancelReason
}

// timelockPolicy gates withdrawal and cancellation of a single order. The
// engine owns exactly one policy, chosen at construction.
type timelockPolicy interface {
	mode() TimelockMode
	stamp(locks *TimeLocks, deployedAt uint64) error
	checkWithdraw(order *Order, roles Roles, now uint64) error
	checkCancelActive(order *Order, roles Roles, now uint64) (cancelOutcome, error)
}

func newTimelockPolicy(mode TimelockMode, offsets LadderOffsets) (timelockPolicy, error) {
	switch mode {
	case ModeDeadline:
		return deadlinePolicy{}, nil
	case ModeLadder:
		if err := offsets.Validate(); err != nil {
			return nil, err
		}
		return ladderPolicy{offsets: offsets}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported mode %d", ErrInvalidTimelocks, mode)
	}
}

// checkCancelPending applies the pending-order tiers, identical in both
// modes since the ladder only starts at lock time.
func checkCancelPending(order *Order, roles Roles, now uint64) (cancelOutcome, error) {
	if roles.Maker && now <= order.TimeLocks.PrivateCancellation {
		return cancelOutcome{status: StatusCancelled, reason: ReasonMakerCancellation}, nil
	}
	if now > order.TimeLocks.FillDeadline {
		return cancelOutcome{status: StatusCancelled, reason: ReasonTimelockExpired}, nil
	}
	if roles.Maker {
		return cancelOutcome{}, ErrTimelockNotExpired
	}
	return cancelOutcome{}, ErrOnlyMaker
}

type deadlinePolicy struct{}

func (deadlinePolicy) mode() TimelockMode { return ModeDeadline }

func (deadlinePolicy) stamp(locks *TimeLocks, deployedAt uint64) error {
	locks.DeployedAt = deployedAt
	locks.Ladder = nil
	return nil
}

func (deadlinePolicy) checkWithdraw(order *Order, _ Roles, now uint64) error {
	if now > order.TimeLocks.FillDeadline {
		return ErrDeadlineExpired
	}
	return nil
}

func (deadlinePolicy) checkCancelActive(order *Order, roles Roles, now uint64) (cancelOutcome, error) {
	if now > order.TimeLocks.FillDeadline {
		return cancelOutcome{status: StatusRefunded, reason: ReasonTimelockExpired}, nil
	}
	if roles.Maker {
		return cancelOutcome{status: StatusCancelled, reason: ReasonMakerCancellation}, nil
	}
	return cancelOutcome{}, ErrOnlyMaker
}

type ladderPolicy struct {
	offsets LadderOffsets
}

func (ladderPolicy) mode() TimelockMode { return ModeLadder }

func (p ladderPolicy) stamp(locks *TimeLocks, deployedAt uint64) error {
	offsets := p.offsets
	ladder := Ladder{DeployedAt: deployedAt, Offsets: offsets}
	if _, _, _, _, _, err := ladder.Boundaries(); err != nil {
		return err
	}
	locks.DeployedAt = deployedAt
	locks.Ladder = &offsets
	return nil
}

func ladderOf(order *Order) (Ladder, error) {
	if order.TimeLocks.Ladder == nil {
		return Ladder{}, ErrInvalidTimelocks
	}
	return Ladder{DeployedAt: order.TimeLocks.DeployedAt, Offsets: *order.TimeLocks.Ladder}, nil
}

func (ladderPolicy) checkWithdraw(order *Order, roles Roles, now uint64) error {
	if now > order.TimeLocks.FillDeadline {
		return ErrDeadlineExpired
	}
	ladder, err := ladderOf(order)
	if err != nil {
		return err
	}
	phase, err := ladder.PhaseAt(now)
	if err != nil {
		return err
	}
	switch phase {
	case PhaseFinality:
		return ErrTimelockNotExpired
	case PhasePrivateWithdrawal:
		ok, err := ladder.MayWithdrawPrivate(roles, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOnlyResolver
		}
		return nil
	case PhasePublicWithdrawal:
		return nil
	default:
		return ErrDeadlineExpired
	}
}

func (ladderPolicy) checkCancelActive(order *Order, roles Roles, now uint64) (cancelOutcome, error) {
	ladder, err := ladderOf(order)
	if err != nil {
		return cancelOutcome{}, err
	}
	public, err := ladder.MayCancelPublic(now)
	if err != nil {
		return cancelOutcome{}, err
	}
	if public {
		if roles.Public() {
			return cancelOutcome{status: StatusRefunded, reason: ReasonResolverTimeout}, nil
		}
		return cancelOutcome{status: StatusRefunded, reason: ReasonTimelockExpired}, nil
	}
	private, err := ladder.MayCancelPrivate(roles, now)
	if err != nil {
		return cancelOutcome{}, err
	}
	if private {
		return cancelOutcome{status: StatusRefunded, reason: ReasonTimelockExpired}, nil
	}
	phase, err := ladder.PhaseAt(now)
	if err != nil {
		return cancelOutcome{}, err
	}
	if phase < PhasePrivateCancellation {
		return cancelOutcome{}, ErrTimelockNotExpired
	}
	return cancelOutcome{}, ErrUnauthorized
}
