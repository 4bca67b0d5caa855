package fusion

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"fusionswap/crypto"
)

func TestEncoderLayout(t *testing.T) {
	encoded, err := NewEncoder().
		U8(7).
		U32(0x01020304).
		U64(1).
		U128(amt(0x0102)).
		Option([]byte{0xAA}, true).
		Option(nil, false).
		Bytes()
	require.NoError(t, err)

	want := []byte{0x07, 0x04, 0x03, 0x02, 0x01, 0x01, 0, 0, 0, 0, 0, 0, 0}
	want = append(want, 0x02, 0x01)
	want = append(want, make([]byte, 14)...)
	want = append(want, 0x01, 0xAA, 0x00)
	require.Equal(t, want, encoded)
}

func TestEncoderU128Max(t *testing.T) {
	encoded, err := NewEncoder().U128(MaxAmount()).Bytes()
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0xFF}, 16), encoded)

	over := MaxAmount()
	over.AddUint64(over, 1)
	_, err = NewEncoder().U128(over).U64(1).Bytes()
	require.True(t, errors.Is(err, ErrArithmeticOverflow))
}

func TestComputeOrderHashBindsEveryField(t *testing.T) {
	base := OrderHashInput{
		Maker:        makerAccount,
		SrcAsset:     crypto.Blake2b256([]byte("DOT")),
		DstAsset:     dstAsset,
		SrcAmount:    amt(1_000),
		MinDstAmount: amt(990),
		FillDeadline: baseTime + hour,
		Nonce:        3,
		CreatedAt:    baseTime,
	}
	reference, err := ComputeOrderHash(base)
	require.NoError(t, err)
	again, err := ComputeOrderHash(base)
	require.NoError(t, err)
	require.Equal(t, reference, again)

	mutations := map[string]func(*OrderHashInput){
		"maker":     func(in *OrderHashInput) { in.Maker = publicAccount },
		"srcAsset":  func(in *OrderHashInput) { in.SrcAsset = crypto.Hash{} },
		"dstAsset":  func(in *OrderHashInput) { in.DstAsset = [20]byte{} },
		"srcAmount": func(in *OrderHashInput) { in.SrcAmount = amt(1_001) },
		"minDst":    func(in *OrderHashInput) { in.MinDstAmount = amt(991) },
		"deadline":  func(in *OrderHashInput) { in.FillDeadline++ },
		"nonce":     func(in *OrderHashInput) { in.Nonce++ },
		"createdAt": func(in *OrderHashInput) { in.CreatedAt++ },
	}
	for name, mutate := range mutations {
		in := base
		mutate(&in)
		got, err := ComputeOrderHash(in)
		require.NoError(t, err, name)
		require.NotEqual(t, reference, got, name)
	}
}

func TestComputeOrderHashMatchesManualEncoding(t *testing.T) {
	in := OrderHashInput{Maker: makerAccount, SrcAmount: amt(5), MinDstAmount: amt(4), FillDeadline: 9, Nonce: 1, CreatedAt: 2}
	var raw []byte
	raw = append(raw, makerAccount[:]...)
	raw = append(raw, make([]byte, 32+20)...)
	raw = append(raw, 5)
	raw = append(raw, make([]byte, 15)...)
	raw = append(raw, 4)
	raw = append(raw, make([]byte, 15)...)
	raw = append(raw, 9, 0, 0, 0, 0, 0, 0, 0)
	raw = append(raw, 1, 0, 0, 0, 0, 0, 0, 0)
	raw = append(raw, 2, 0, 0, 0, 0, 0, 0, 0)

	got, err := ComputeOrderHash(in)
	require.NoError(t, err)
	require.Equal(t, crypto.Blake2b256(raw), got)
}

func TestVerifySecret(t *testing.T) {
	secret := testSecret(1)
	lock := crypto.HashSecret(secret)
	require.True(t, VerifySecret(secret, lock))
	require.False(t, VerifySecret(testSecret(2), lock))
}

func TestDeriveEscrowIDBindsImmutables(t *testing.T) {
	base := EscrowIDInput{
		OrderHash:  crypto.Blake2b256([]byte("order")),
		HashLock:   crypto.HashSecret(testSecret(1)),
		Maker:      makerAccount,
		Taker:      resolverAccount,
		Amount:     amt(1_000),
		DeployedAt: baseTime,
	}
	reference, err := DeriveEscrowID(base)
	require.NoError(t, err)
	require.False(t, reference.IsZero())

	mutations := []func(*EscrowIDInput){
		func(in *EscrowIDInput) { in.OrderHash[0] ^= 1 },
		func(in *EscrowIDInput) { in.HashLock[0] ^= 1 },
		func(in *EscrowIDInput) { in.Maker = publicAccount },
		func(in *EscrowIDInput) { in.Taker = publicAccount },
		func(in *EscrowIDInput) { in.Amount = amt(999) },
		func(in *EscrowIDInput) { in.DeployedAt++ },
	}
	for i, mutate := range mutations {
		in := base
		mutate(&in)
		got, err := DeriveEscrowID(in)
		require.NoError(t, err)
		require.NotEqual(t, reference, got, "mutation %d", i)
	}
}
