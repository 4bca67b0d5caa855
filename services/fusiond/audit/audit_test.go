package audit

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fusionswap/core/types"
)

type payloadEvent struct{ evt *types.Event }

func (p payloadEvent) EventType() string    { return p.evt.Type }
func (p payloadEvent) Event() *types.Event { return p.evt }

type bareEvent string

func (b bareEvent) EventType() string { return string(b) }

func orderEvent(eventType, orderHash string) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{"orderHash": orderHash, "status": "locked"}}
}

func TestAppendLinksEntries(t *testing.T) {
	log, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	log.SetNowFunc(func() time.Time { return fixed })

	first, err := log.Append(orderEvent("fusion.order.created", "0xaa"))
	require.NoError(t, err)
	second, err := log.Append(orderEvent("fusion.escrow.deployed", "0xaa"))
	require.NoError(t, err)
	_, err = log.Append(orderEvent("fusion.order.created", "0xbb"))
	require.NoError(t, err)

	require.Equal(t, uint64(1), first.Seq)
	require.Equal(t, first.Hash, second.PrevHash)
	require.Equal(t, fixed, first.CreatedAt)

	seq, head := log.Head()
	require.Equal(t, uint64(3), seq)
	require.Len(t, head, 64)

	forOrder, err := log.Entries("0xAA", 0)
	require.NoError(t, err)
	require.Len(t, forOrder, 2)
	limited, err := log.Entries("", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	require.NoError(t, log.Verify())
}

func TestVerifyDetectsTampering(t *testing.T) {
	log, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	for i := 0; i < 3; i++ {
		_, err := log.Append(orderEvent("fusion.order.created", "0xcc"))
		require.NoError(t, err)
	}
	require.NoError(t, log.db.Model(&Entry{}).Where("seq = ?", 2).Update("payload", `{"orderHash":"0xdd"}`).Error)

	err = log.Verify()
	if !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected chain break, got %v", err)
	}
}

func TestEmitAcceptsPayloadAndBareEvents(t *testing.T) {
	log, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	log.Emit(payloadEvent{evt: orderEvent("fusion.swap.executed", "0xee")})
	log.Emit(bareEvent("fusion.admin.pause_changed"))
	log.Emit(nil)

	entries, err := log.Entries("", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "0xee", entries[0].OrderHash)
	require.Equal(t, "fusion.admin.pause_changed", entries[1].Type)
	require.Equal(t, "null", entries[1].Payload)
}

func TestReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	log, err := Open(path)
	require.NoError(t, err)
	_, err = log.Append(orderEvent("fusion.order.created", "0x01"))
	require.NoError(t, err)
	_, wantHead := log.Head()
	require.NoError(t, log.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	seq, head := reopened.Head()
	require.Equal(t, uint64(1), seq)
	require.Equal(t, wantHead, head)

	next, err := reopened.Append(orderEvent("fusion.order.cancelled", "0x01"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), next.Seq)
	require.Equal(t, wantHead, next.PrevHash)
	require.NoError(t, reopened.Verify())
}
