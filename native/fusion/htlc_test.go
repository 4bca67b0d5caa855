package fusion

import (
	"errors"
	"testing"
)

func TestTransitionEdges(t *testing.T) {
	allowed := map[OrderStatus]map[transitionKind][]OrderStatus{
		StatusPending:     {transitionLock: {StatusLocked}, transitionCancel: {StatusCancelled}},
		StatusLocked:      {transitionExecute: {StatusExecuted}, transitionPartialFill: {StatusPartialFill}, transitionCancel: {StatusCancelled, StatusRefunded}},
		StatusPartialFill: {transitionExecute: {StatusExecuted}, transitionPartialFill: {StatusPartialFill, StatusExecuted}, transitionCancel: {StatusCancelled, StatusRefunded}},
	}
	statuses := []OrderStatus{StatusPending, StatusLocked, StatusPartialFill, StatusExecuted, StatusCancelled, StatusRefunded}
	kinds := []transitionKind{transitionLock, transitionExecute, transitionPartialFill, transitionCancel}
	for _, from := range statuses {
		for _, kind := range kinds {
			for _, to := range statuses {
				want := false
				for _, target := range allowed[from][kind] {
					if target == to {
						want = true
					}
				}
				order := &Order{Status: from}
				err := transition(order, kind, to)
				if want && err != nil {
					t.Fatalf("%s %s->%s rejected: %v", kind, from, to, err)
				}
				if !want {
					if !errors.Is(err, ErrInvalidOrderStatus) {
						t.Fatalf("%s %s->%s accepted", kind, from, to)
					}
					if order.Status != from {
						t.Fatalf("rejected transition mutated status")
					}
				}
				if want && to.Ordinal() < from.Ordinal() {
					t.Fatalf("edge %s->%s is not monotone", from, to)
				}
			}
		}
	}
}

func TestTerminalStatusesAcceptNothing(t *testing.T) {
	for _, status := range []OrderStatus{StatusExecuted, StatusCancelled, StatusRefunded} {
		if !status.Terminal() || status.Active() {
			t.Fatalf("%s classification wrong", status)
		}
		for _, kind := range []transitionKind{transitionLock, transitionExecute, transitionPartialFill, transitionCancel} {
			if err := acceptsTransition(status, kind); !errors.Is(err, ErrInvalidOrderStatus) {
				t.Fatalf("%s accepted %s", status, kind)
			}
		}
	}
}

func TestStatusText(t *testing.T) {
	text, err := StatusPartialFill.MarshalText()
	if err != nil || string(text) != "partial_fill" {
		t.Fatalf("marshal: %q err=%v", text, err)
	}
	if _, err := OrderStatus(42).MarshalText(); err == nil {
		t.Fatalf("expected error for invalid status")
	}
}
