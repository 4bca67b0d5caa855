package fusion

import (
	"strconv"

	"github.com/holiman/uint256"

	"fusionswap/core/types"
	"fusionswap/crypto"
)

const (
	EventTypeOrderCreated         = "fusion.order.created"
	EventTypeEscrowDeployed       = "fusion.escrow.deployed"
	EventTypeSwapExecuted         = "fusion.swap.executed"
	EventTypePartialFillExecuted  = "fusion.swap.partial_fill"
	EventTypeOrderCancelled       = "fusion.order.cancelled"
	EventTypePauseChanged         = "fusion.admin.pause_changed"
	EventTypeResolverApproved     = "fusion.admin.resolver_approved"
	EventTypeResolverRevoked      = "fusion.admin.resolver_revoked"
	EventTypeRelayerAdded         = "fusion.admin.relayer_added"
	EventTypeRelayerRemoved       = "fusion.admin.relayer_removed"
	EventTypeOwnershipTransferred = "fusion.admin.ownership_transferred"
)

type fusionEvent struct {
	evt *types.Event
}

func (e fusionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e fusionEvent) Event() *types.Event { return e.evt }

func orderAttributes(o *Order, party crypto.AccountID) map[string]string {
	attrs := make(map[string]string)
	if o == nil {
		return attrs
	}
	attrs["orderHash"] = o.Hash.Hex()
	attrs["party"] = party.String()
	attrs["status"] = o.Status.String()
	return attrs
}

// NewOrderCreatedEvent returns the canonical payload for a new order.
func NewOrderCreatedEvent(o *Order) *types.Event {
	attrs := orderAttributes(o, o.Maker)
	attrs["maker"] = o.Maker.String()
	attrs["direction"] = o.Direction.String()
	attrs["srcAmount"] = cloneAmount(o.SrcAmount).Dec()
	attrs["minDstAmount"] = cloneAmount(o.MinDstAmount).Dec()
	attrs["fillDeadline"] = strconv.FormatUint(o.TimeLocks.FillDeadline, 10)
	attrs["nonce"] = strconv.FormatUint(o.Nonce, 10)
	return &types.Event{Type: EventTypeOrderCreated, Attributes: attrs}
}

// NewEscrowDeployedEvent returns the payload emitted when a resolver locks
// the order.
func NewEscrowDeployedEvent(o *Order) *types.Event {
	var resolver crypto.AccountID
	if o.Resolver != nil {
		resolver = *o.Resolver
	}
	attrs := orderAttributes(o, resolver)
	attrs["resolver"] = resolver.String()
	attrs["hashLock"] = o.HashLock.Hex()
	attrs["safetyDeposit"] = cloneAmount(o.SafetyDeposit).Dec()
	attrs["escrowId"] = o.EscrowID.String()
	attrs["deployedAt"] = strconv.FormatUint(o.TimeLocks.DeployedAt, 10)
	if o.CounterpartyEscrow != nil {
		attrs["counterpartyEscrow"] = o.CounterpartyEscrow.Hex()
	}
	return &types.Event{Type: EventTypeEscrowDeployed, Attributes: attrs}
}

// NewSwapExecutedEvent returns the payload for a full execution. The secret
// is part of the public record once revealed.
func NewSwapExecutedEvent(o *Order, caller crypto.AccountID, split FeeSplit) *types.Event {
	attrs := orderAttributes(o, caller)
	if o.Secret != nil {
		attrs["secret"] = o.Secret.Hex()
	}
	attrs["amountFilled"] = cloneAmount(o.FilledAmount).Dec()
	addSplitAttributes(attrs, split)
	return &types.Event{Type: EventTypeSwapExecuted, Attributes: attrs}
}

// NewPartialFillEvent returns the payload for a partial execution.
func NewPartialFillEvent(o *Order, caller crypto.AccountID, split FeeSplit, remaining *uint256.Int) *types.Event {
	attrs := orderAttributes(o, caller)
	attrs["filledAmount"] = cloneAmount(o.FilledAmount).Dec()
	attrs["remainingAmount"] = cloneAmount(remaining).Dec()
	addSplitAttributes(attrs, split)
	return &types.Event{Type: EventTypePartialFillExecuted, Attributes: attrs}
}

// NewOrderCancelledEvent returns the payload for a cancellation or refund.
func NewOrderCancelledEvent(o *Order, caller crypto.AccountID, refund *uint256.Int) *types.Event {
	attrs := orderAttributes(o, caller)
	attrs["refundAmount"] = cloneAmount(refund).Dec()
	attrs["reason"] = o.CancelReason.String()
	return &types.Event{Type: EventTypeOrderCancelled, Attributes: attrs}
}

func addSplitAttributes(attrs map[string]string, split FeeSplit) {
	attrs["gross"] = cloneAmount(split.Gross).Dec()
	attrs["protocolFee"] = cloneAmount(split.ProtocolFee).Dec()
	attrs["resolverFee"] = cloneAmount(split.ResolverFee).Dec()
	attrs["net"] = cloneAmount(split.Net).Dec()
}

func newAdminEvent(eventType string, owner crypto.AccountID, subject string) *types.Event {
	attrs := map[string]string{"owner": owner.String()}
	if subject != "" {
		attrs["subject"] = subject
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
