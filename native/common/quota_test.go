package common

import (
	"errors"
	"testing"
)

func TestCheckQuotaRequestLimit(t *testing.T) {
	q := Quota{MaxRequestsPerEpoch: 10}
	prev := QuotaNow{EpochID: 1}

	next, err := CheckQuota(q, 1, prev, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ReqCount != 10 {
		t.Fatalf("unexpected request count: %d", next.ReqCount)
	}

	denied, err := CheckQuota(q, 1, next, 1, 0)
	if !errors.Is(err, ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 2, next, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != 2 || rollover.ReqCount != 1 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestCheckQuotaValueCap(t *testing.T) {
	q := Quota{MaxValuePerEpoch: 1000}
	prev := QuotaNow{EpochID: 5}

	next, err := CheckQuota(q, 5, prev, 0, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ValueUsed != 1000 {
		t.Fatalf("unexpected value used: %d", next.ValueUsed)
	}

	if _, err := CheckQuota(q, 5, next, 0, 1); !errors.Is(err, ErrQuotaValueCapExceeded) {
		t.Fatalf("expected ErrQuotaValueCapExceeded, got %v", err)
	}
}

func TestQuotaBookIsolatesCallers(t *testing.T) {
	book := NewQuotaBook(Quota{MaxRequestsPerEpoch: 1, EpochSeconds: 60})
	if err := book.Consume("alice", 120, 1, 0); err != nil {
		t.Fatalf("first charge: %v", err)
	}
	if err := book.Consume("alice", 130, 1, 0); !errors.Is(err, ErrQuotaRequestsExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if err := book.Consume("bob", 130, 1, 0); err != nil {
		t.Fatalf("other caller charged: %v", err)
	}
	if err := book.Consume("alice", 180, 1, 0); err != nil {
		t.Fatalf("next epoch: %v", err)
	}
}

type pauses map[string]bool

func (p pauses) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, "fusion"); err != nil {
		t.Fatalf("nil view blocked: %v", err)
	}
	if err := Guard(pauses{"fusion": true}, "fusion"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses{"fusion": true}, "other"); err != nil {
		t.Fatalf("unrelated module blocked: %v", err)
	}
}
