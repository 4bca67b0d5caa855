package fusion

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"fusionswap/crypto"
	"fusionswap/native/bank"
	"fusionswap/storage"
)

func TestSplitFees(t *testing.T) {
	cases := []struct {
		gross, requested           uint64
		bps                        uint32
		protocol, resolver, netAmt uint64
	}{
		{1_000, 10, 100, 10, 10, 980},
		{300_000, 300, 100, 3_000, 300, 296_700},
		{1_000, 0, 0, 0, 0, 1_000},
		{99, 5, 100, 0, 5, 94},
		{1_000, 5_000, 100, 10, 990, 0},
		{1_000, 10, 10_000, 1_000, 0, 0},
	}
	for _, tc := range cases {
		split, err := SplitFees(amt(tc.gross), tc.bps, amt(tc.requested))
		require.NoError(t, err)
		require.Equal(t, tc.protocol, split.ProtocolFee.Uint64(), "protocol for %d", tc.gross)
		require.Equal(t, tc.resolver, split.ResolverFee.Uint64(), "resolver for %d", tc.gross)
		require.Equal(t, tc.netAmt, split.Net.Uint64(), "net for %d", tc.gross)
		sum := new(uint256.Int).Add(split.ProtocolFee, split.ResolverFee)
		sum.Add(sum, split.Net)
		require.Equal(t, tc.gross, sum.Uint64())
	}

	_, err := SplitFees(amt(1), BasisPoints+1, amt(0))
	require.True(t, errors.Is(err, ErrInvalidAmount))
	_, err = SplitFees(MaxAmount(), 100, amt(0))
	require.True(t, errors.Is(err, ErrArithmeticOverflow))
}

func TestFillResolverFeeProRates(t *testing.T) {
	order := &Order{SrcAmount: amt(1_000_000), ResolverFee: amt(1_000), ResolverFeePaid: amt(0)}
	fee, err := fillResolverFee(order, amt(300_000), false)
	require.NoError(t, err)
	require.Equal(t, uint64(300), fee.Uint64())

	order.ResolverFeePaid = amt(333)
	fee, err = fillResolverFee(order, amt(700_000), true)
	require.NoError(t, err)
	require.Equal(t, uint64(667), fee.Uint64())
}

func TestRouteSwapByDirection(t *testing.T) {
	resolver := resolverAccount
	split := FeeSplit{Gross: amt(1_000), ProtocolFee: amt(10), ResolverFee: amt(10), Net: amt(980)}

	order := &Order{Maker: makerAccount, Resolver: &resolver, Direction: DirectionAToB}
	plan, err := routeSwap(custodyAccount, order, split, ownerAccount)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	require.Equal(t, resolverAccount, plan[0].To)
	require.Equal(t, uint64(990), plan[0].Amount.Uint64())
	require.Equal(t, ownerAccount, plan[1].To)

	order.Direction = DirectionBToA
	plan, err = routeSwap(custodyAccount, order, split, ownerAccount)
	require.NoError(t, err)
	require.Len(t, plan, 3)
	require.Equal(t, makerAccount, plan[0].To)
	require.Equal(t, uint64(980), plan[0].Amount.Uint64())
	require.Equal(t, uint64(10), plan[1].Amount.Uint64())

	order.Resolver = nil
	_, err = routeSwap(custodyAccount, order, split, ownerAccount)
	require.True(t, errors.Is(err, ErrOnlyResolver))
}

func TestRefundPayoutsDisposeDeposit(t *testing.T) {
	resolver := resolverAccount
	order := &Order{Maker: makerAccount, Resolver: &resolver, SrcAmount: amt(1_000), FilledAmount: amt(400), SafetyDeposit: amt(50)}

	plan, refund, err := refundPayouts(custodyAccount, order, ReasonTimelockExpired, publicAccount)
	require.NoError(t, err)
	require.Equal(t, uint64(600), refund.Uint64())
	require.Len(t, plan, 2)
	require.Equal(t, resolverAccount, plan[1].To)

	plan, _, err = refundPayouts(custodyAccount, order, ReasonResolverTimeout, publicAccount)
	require.NoError(t, err)
	require.Equal(t, publicAccount, plan[1].To)
	require.Equal(t, PayoutSlash, plan[1].Kind)

	order.Resolver, order.SafetyDeposit = nil, amt(0)
	plan, _, err = refundPayouts(custodyAccount, order, ReasonMakerCancellation, makerAccount)
	require.NoError(t, err)
	require.Len(t, plan, 1)
}

func TestCompactDropsNoOps(t *testing.T) {
	plan := compact([]Transfer{
		{From: custodyAccount, To: makerAccount, Amount: amt(0)},
		{From: custodyAccount, To: custodyAccount, Amount: amt(5)},
		{From: custodyAccount, To: makerAccount, Amount: amt(5)},
	})
	require.Len(t, plan, 1)
}

func TestSettlementRevertsPartialPlan(t *testing.T) {
	ctx := context.Background()
	ledger := bank.NewLedger(storage.NewMemDB())
	require.NoError(t, ledger.Mint(custodyAccount, amt(100)))
	s := settlement{ledger: ledger, custody: custodyAccount}

	blocked := crypto.AccountID{0x99}
	ledger.FailTransfers(blocked, errors.New("frozen"))
	plan := []Transfer{
		{Kind: PayoutMaker, From: custodyAccount, To: makerAccount, Amount: amt(40)},
		{Kind: PayoutResolver, From: custodyAccount, To: resolverAccount, Amount: amt(30)},
		{Kind: PayoutProtocol, From: custodyAccount, To: blocked, Amount: amt(30)},
	}
	require.NoError(t, s.verify(ctx, plan))
	_, err := s.apply(ctx, plan)
	require.True(t, errors.Is(err, ErrTransferFailed))

	for _, id := range []crypto.AccountID{makerAccount, resolverAccount} {
		bal, err := ledger.Balance(ctx, id)
		require.NoError(t, err)
		require.True(t, bal.IsZero())
	}
	bal, err := ledger.Balance(ctx, custodyAccount)
	require.NoError(t, err)
	require.Equal(t, uint64(100), bal.Uint64())

	over := append(plan[:2:2], Transfer{Kind: PayoutProtocol, From: custodyAccount, To: ownerAccount, Amount: amt(31)})
	require.True(t, errors.Is(s.verify(ctx, over), ErrTransferFailed))
}
