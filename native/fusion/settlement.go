package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"fusionswap/crypto"
)

// FeeSplit is the division of a gross amount between protocol, resolver and
// the net recipient.
type FeeSplit struct {
	Gross       *uint256.Int
	ProtocolFee *uint256.Int
	ResolverFee *uint256.Int
	Net         *uint256.Int
}

// SplitFees applies the protocol fee in basis points, then caps the requested
// resolver fee at what is left. protocol + resolver + net always equals gross.
func SplitFees(gross *uint256.Int, bps uint32, requestedResolverFee *uint256.Int) (FeeSplit, error) {
	if bps > BasisPoints {
		return FeeSplit{}, fmt.Errorf("%w: fee bps %d", ErrInvalidAmount, bps)
	}
	protocolFee, err := mulDivChecked(gross, uint256.NewInt(uint64(bps)), uint256.NewInt(BasisPoints))
	if err != nil {
		return FeeSplit{}, err
	}
	afterProtocol, err := subChecked(gross, protocolFee)
	if err != nil {
		return FeeSplit{}, err
	}
	resolverFee := minAmount(requestedResolverFee, afterProtocol)
	net, err := subChecked(afterProtocol, resolverFee)
	if err != nil {
		return FeeSplit{}, err
	}
	return FeeSplit{
		Gross:       cloneAmount(gross),
		ProtocolFee: protocolFee,
		ResolverFee: resolverFee,
		Net:         net,
	}, nil
}

// fillResolverFee pro-rates the order's resolver fee over a fill of amount.
// The fill that completes the order takes whatever has not been paid yet.
func fillResolverFee(order *Order, amount *uint256.Int, final bool) (*uint256.Int, error) {
	if final {
		return subChecked(order.ResolverFee, minAmount(order.ResolverFeePaid, order.ResolverFee))
	}
	return mulDivChecked(order.ResolverFee, amount, order.SrcAmount)
}

// PayoutKind labels a transfer in a settlement plan.
type PayoutKind string

const (
	PayoutCustody     PayoutKind = "custody"
	PayoutDeposit     PayoutKind = "safety_deposit"
	PayoutMaker       PayoutKind = "maker"
	PayoutResolver    PayoutKind = "resolver"
	PayoutProtocol    PayoutKind = "protocol"
	PayoutRefund      PayoutKind = "refund"
	PayoutDepositBack PayoutKind = "deposit_release"
	PayoutSlash       PayoutKind = "deposit_slash"
)

// Transfer is a single ledger movement of a settlement plan.
type Transfer struct {
	Kind   PayoutKind
	From   crypto.AccountID
	To     crypto.AccountID
	Amount *uint256.Int
}

// routeSwap builds the payouts of an executed amount by direction.
func routeSwap(custody crypto.AccountID, order *Order, split FeeSplit, protocol crypto.AccountID) ([]Transfer, error) {
	if order.Resolver == nil {
		return nil, ErrOnlyResolver
	}
	resolver := *order.Resolver
	switch order.Direction {
	case DirectionAToB:
		toResolver, err := addChecked(split.Net, split.ResolverFee)
		if err != nil {
			return nil, err
		}
		return []Transfer{
			{Kind: PayoutResolver, From: custody, To: resolver, Amount: toResolver},
			{Kind: PayoutProtocol, From: custody, To: protocol, Amount: cloneAmount(split.ProtocolFee)},
		}, nil
	case DirectionBToA:
		return []Transfer{
			{Kind: PayoutMaker, From: custody, To: order.Maker, Amount: cloneAmount(split.Net)},
			{Kind: PayoutResolver, From: custody, To: resolver, Amount: cloneAmount(split.ResolverFee)},
			{Kind: PayoutProtocol, From: custody, To: protocol, Amount: cloneAmount(split.ProtocolFee)},
		}, nil
	default:
		return nil, fmt.Errorf("%w: direction %d", ErrInvalidOrderStatus, order.Direction)
	}
}

// releaseDeposit returns the safety deposit after execution, or hands it to
// the protocol when the registry slashed the resolver.
func releaseDeposit(custody crypto.AccountID, order *Order, slashed bool, protocol crypto.AccountID) []Transfer {
	if isZero(order.SafetyDeposit) || order.Resolver == nil {
		return nil
	}
	if slashed {
		return []Transfer{{Kind: PayoutSlash, From: custody, To: protocol, Amount: cloneAmount(order.SafetyDeposit)}}
	}
	return []Transfer{{Kind: PayoutDepositBack, From: custody, To: *order.Resolver, Amount: cloneAmount(order.SafetyDeposit)}}
}

// refundPayouts returns the unfilled amount to the maker and disposes of the
// safety deposit by cancel reason. A resolver-fault cancellation pays the
// deposit to whoever triggered it.
func refundPayouts(custody crypto.AccountID, order *Order, reason CancelReason, caller crypto.AccountID) ([]Transfer, *uint256.Int, error) {
	remaining, err := order.Remaining()
	if err != nil {
		return nil, nil, err
	}
	out := []Transfer{{Kind: PayoutRefund, From: custody, To: order.Maker, Amount: remaining}}
	if !isZero(order.SafetyDeposit) && order.Resolver != nil {
		to := *order.Resolver
		kind := PayoutDepositBack
		if reason.ResolverFault() {
			to = caller
			kind = PayoutSlash
		}
		out = append(out, Transfer{Kind: kind, From: custody, To: to, Amount: cloneAmount(order.SafetyDeposit)})
	}
	return out, remaining, nil
}

// settlement applies transfer plans against the ledger. A plan either lands
// completely or every applied step is reversed.
type settlement struct {
	ledger  Ledger
	custody crypto.AccountID
	logger  *slog.Logger
}

func compact(plan []Transfer) []Transfer {
	out := make([]Transfer, 0, len(plan))
	for _, t := range plan {
		if isZero(t.Amount) || t.From == t.To {
			continue
		}
		out = append(out, t)
	}
	return out
}

// verify checks the custody account can cover every outflow of the plan.
func (s settlement) verify(ctx context.Context, plan []Transfer) error {
	outflow := zero()
	for _, t := range plan {
		if t.From != s.custody {
			continue
		}
		sum, err := addChecked(outflow, t.Amount)
		if err != nil {
			return err
		}
		outflow = sum
	}
	if outflow.IsZero() {
		return nil
	}
	balance, err := s.ledger.Balance(ctx, s.custody)
	if err != nil {
		return fmt.Errorf("%w: custody balance: %v", ErrTransferFailed, err)
	}
	if balance.Cmp(outflow) < 0 {
		return fmt.Errorf("%w: custody holds %s, plan needs %s", ErrTransferFailed, balance.Dec(), outflow.Dec())
	}
	return nil
}

// apply executes the plan in order and returns the transfers that landed.
func (s settlement) apply(ctx context.Context, plan []Transfer) ([]Transfer, error) {
	applied := make([]Transfer, 0, len(plan))
	for _, t := range plan {
		if err := s.ledger.Transfer(ctx, t.From, t.To, t.Amount); err != nil {
			revertErr := s.revert(ctx, applied)
			return nil, errors.Join(fmt.Errorf("%w: %s payout to %s: %v", ErrTransferFailed, t.Kind, t.To, err), revertErr)
		}
		applied = append(applied, t)
	}
	return applied, nil
}

// revert undoes applied transfers newest first.
func (s settlement) revert(ctx context.Context, applied []Transfer) error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		t := applied[i]
		if err := s.ledger.Transfer(ctx, t.To, t.From, t.Amount); err != nil {
			if s.logger != nil {
				s.logger.Error("fusion settlement compensation failed",
					slog.String("kind", string(t.Kind)),
					slog.String("account", t.To.String()),
					slog.String("amount", t.Amount.Dec()),
					slog.Any("error", err))
			}
			errs = append(errs, fmt.Errorf("revert %s: %w", t.Kind, err))
		}
	}
	return errors.Join(errs...)
}
