package fusion

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fusionswap/crypto"
	"fusionswap/storage"
)

func TestOrderEncodingPreservesOptionalFields(t *testing.T) {
	taker, resolver, secret := resolverAccount, resolverAccount, testSecret(9)
	escrow := counterpartyEscrow
	offsets := LadderOffsets{SrcWithdrawal: 1, SrcPublicWithdrawal: 2, SrcCancellation: 4, SrcPublicCancellation: 5, DstCancellation: 3}
	order := &Order{
		Hash:               crypto.Blake2b256([]byte("order")),
		Maker:              makerAccount,
		Taker:              &taker,
		Direction:          DirectionBToA,
		DstAsset:           dstAsset,
		DstRecipient:       dstRecipient,
		SrcAmount:          MaxAmount(),
		MinDstAmount:       amt(1),
		FilledAmount:       amt(2),
		MaxResolverFee:     amt(3),
		ResolverFee:        amt(3),
		ResolverFeePaid:    amt(1),
		SafetyDeposit:      amt(4),
		HashLock:           crypto.HashSecret(secret),
		Secret:             &secret,
		Resolver:           &resolver,
		CounterpartyEscrow: &escrow,
		TimeLocks:          TimeLocks{FillDeadline: 10, PrivateCancellation: 5, DeployedAt: 7, Ladder: &offsets},
		CreatedAt:          1,
		Nonce:              42,
		Status:             StatusPartialFill,
		CancelReason:       ReasonNone,
	}
	encoded, err := encodeOrder(order)
	require.NoError(t, err)
	decoded, err := decodeOrder(encoded)
	require.NoError(t, err)
	require.Equal(t, order.Hash, decoded.Hash)
	require.Equal(t, order.SrcAmount.Dec(), decoded.SrcAmount.Dec())
	require.NotNil(t, decoded.Secret)
	require.Equal(t, secret, *decoded.Secret)
	require.NotNil(t, decoded.CounterpartyEscrow)
	require.Equal(t, escrow, *decoded.CounterpartyEscrow)
	require.NotNil(t, decoded.TimeLocks.Ladder)
	require.Equal(t, offsets, *decoded.TimeLocks.Ladder)
	require.Equal(t, StatusPartialFill, decoded.Status)

	pending := &Order{Hash: order.Hash, Maker: makerAccount, SrcAmount: amt(5)}
	encoded, err = encodeOrder(pending)
	require.NoError(t, err)
	decoded, err = decodeOrder(encoded)
	require.NoError(t, err)
	require.Nil(t, decoded.Taker)
	require.Nil(t, decoded.Secret)
	require.Nil(t, decoded.Resolver)
	require.Nil(t, decoded.CounterpartyEscrow)
	require.Nil(t, decoded.TimeLocks.Ladder)
}

func TestStateTxStagesUntilCommit(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, db.Put([]byte("fusion/meta/a"), []byte{1}))

	tx := newStateTx(db)
	tx.put([]byte("fusion/meta/b"), []byte{2})
	tx.del([]byte("fusion/meta/a"))

	_, ok, err := tx.get([]byte("fusion/meta/a"))
	require.NoError(t, err)
	require.False(t, ok)
	value, ok, err := tx.get([]byte("fusion/meta/b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{2}, value)

	has, err := db.Has([]byte("fusion/meta/a"))
	require.NoError(t, err)
	require.True(t, has, "delete leaked before commit")

	require.NoError(t, tx.commit())
	has, err = db.Has([]byte("fusion/meta/a"))
	require.NoError(t, err)
	require.False(t, has)
	stored, err := db.Get([]byte("fusion/meta/b"))
	require.NoError(t, err)
	require.Equal(t, []byte{2}, stored)
}
