package fusion

import "fmt"

// transitionKind names the message driving a status change.
type transitionKind uint8

const (
	transitionLock transitionKind = iota
	transitionExecute
	transitionPartialFill
	transitionCancel
)

func (k transitionKind) String() string {
	switch k {
	case transitionLock:
		return "lock"
	case transitionExecute:
		return "execute"
	case transitionPartialFill:
		return "partial_fill"
	case transitionCancel:
		return "cancel"
	default:
		return fmt.Sprintf("transition(%d)", uint8(k))
	}
}

// edges is the complete transition relation. Anything absent is rejected
// with ErrInvalidOrderStatus.
var edges = map[OrderStatus]map[transitionKind][]OrderStatus{
	StatusPending: {
		transitionLock:   {StatusLocked},
		transitionCancel: {StatusCancelled},
	},
	StatusLocked: {
		transitionExecute:     {StatusExecuted},
		transitionPartialFill: {StatusPartialFill},
		transitionCancel:      {StatusCancelled, StatusRefunded},
	},
	StatusPartialFill: {
		transitionExecute:     {StatusExecuted},
		transitionPartialFill: {StatusPartialFill, StatusExecuted},
		transitionCancel:      {StatusCancelled, StatusRefunded},
	},
}

// acceptsTransition reports whether kind may fire from the status at all.
func acceptsTransition(from OrderStatus, kind transitionKind) error {
	if _, ok := edges[from][kind]; !ok {
		return fmt.Errorf("%w: %s from %s", ErrInvalidOrderStatus, kind, from)
	}
	return nil
}

// transition moves the order to the target status after checking the edge
// exists and the move is monotone.
func transition(order *Order, kind transitionKind, to OrderStatus) error {
	from := order.Status
	allowed := false
	for _, target := range edges[from][kind] {
		if target == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s cannot move %s to %s", ErrInvalidOrderStatus, kind, from, to)
	}
	if to.Ordinal() < from.Ordinal() {
		return fmt.Errorf("%w: non-monotone %s to %s", ErrInvalidOrderStatus, from, to)
	}
	order.Status = to
	return nil
}
