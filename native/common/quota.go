package common

import (
	"errors"
	"math"
	"sync"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaValueCapExceeded = errors.New("quota value cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current usage counters for a caller.
type QuotaNow struct {
	ReqCount  uint32
	ValueUsed uint64
	EpochID   uint64
}

// Quota defines the limits enforced per caller and epoch. Zero disables a
// limit.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxValuePerEpoch    uint64
	EpochSeconds        uint32
}

// Epoch maps a unix timestamp onto the quota epoch.
func (q Quota) Epoch(unixSeconds int64) uint64 {
	if q.EpochSeconds == 0 || unixSeconds < 0 {
		return 0
	}
	return uint64(unixSeconds) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional request and value fit within
// the configured quota. The returned QuotaNow reflects the updated counters
// when the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addValue uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addValue > 0 {
		if next.ValueUsed > math.MaxUint64-addValue {
			return prev, ErrQuotaCounterOverflow
		}
		next.ValueUsed += addValue
	}
	if q.MaxValuePerEpoch > 0 && next.ValueUsed > q.MaxValuePerEpoch {
		return prev, ErrQuotaValueCapExceeded
	}

	return next, nil
}

// QuotaBook tracks counters per caller key.
type QuotaBook struct {
	mu    sync.Mutex
	quota Quota
	usage map[string]QuotaNow
}

// NewQuotaBook returns an empty book enforcing q.
func NewQuotaBook(q Quota) *QuotaBook {
	return &QuotaBook{quota: q, usage: make(map[string]QuotaNow)}
}

// Consume charges the caller and returns the quota error when the charge
// does not fit. Rejected charges leave the counters untouched.
func (b *QuotaBook) Consume(key string, unixSeconds int64, addReq uint32, addValue uint64) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	next, err := CheckQuota(b.quota, b.quota.Epoch(unixSeconds), b.usage[key], addReq, addValue)
	if err != nil {
		return err
	}
	b.usage[key] = next
	return nil
}
