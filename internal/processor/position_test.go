package processor

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"exchangeCore/internal/ammmath"
	"exchangeCore/internal/model"
)

// newLiquidPool opens a narrow position [-60, 60] and a wide one
// [-1200, 1200] around tick 0.
func newLiquidPool(t *testing.T) (*fixture, *model.AmmPool) {
	f := newFixture(t)
	pool := f.createPool("BTC/USDT", "BTC", "USDT", "0.003", 60, 0)
	f.deposit("lp:BTC", "BTC", "1000")
	f.deposit("lp:USDT", "USDT", "1000")
	f.deposit("trader:BTC", "BTC", "1000")
	f.deposit("trader:USDT", "USDT", "1000")

	f.openPosition("narrow", "lp", -60, 60, "10", "10")
	f.openPosition("wide", "lp", -1200, 1200, "100", "100")
	return f, pool
}

func (f *fixture) position(id string) *model.AmmPosition {
	position, err := f.ledger.Position(f.ctx, id)
	require.NoError(f.t, err)
	return position
}

func (f *fixture) tickAt(index int32) *model.Tick {
	tick, err := f.ledger.Tick(f.ctx, "BTC/USDT", index)
	require.NoError(f.t, err)
	return tick
}

func TestCreatePosition(t *testing.T) {
	f, pool := newLiquidPool(t)

	narrow := f.position("narrow")
	wide := f.position("wide")
	require.Equal(t, model.PositionOpen, narrow.Status)
	require.True(t, narrow.Liquidity.IsPositive())
	require.True(t, pool.Liquidity.Equal(narrow.Liquidity.Add(wide.Liquidity)))

	bitmap, err := f.ledger.Bitmap(f.ctx, "BTC/USDT")
	require.NoError(t, err)
	require.Equal(t, []int32{-1200, -60, 60, 1200}, bitmap.Ticks())

	lower := f.tickAt(-60)
	upper := f.tickAt(60)
	require.True(t, lower.LiquidityGross.Equal(narrow.Liquidity))
	require.True(t, lower.LiquidityNet.Equal(narrow.Liquidity))
	require.True(t, upper.LiquidityNet.Equal(narrow.Liquidity.Neg()))
	require.True(t, lower.Initialized)

	spent0 := narrow.Amount0.Add(wide.Amount0)
	spent1 := narrow.Amount1.Add(wide.Amount1)
	require.True(t, f.account("lp:BTC").Available.Equal(d("1000").Sub(spent0)))
	require.True(t, f.account("lp:USDT").Available.Equal(d("1000").Sub(spent1)))
	require.True(t, pool.TotalValueLocked0.Equal(spent0))
	closeTo(t, narrow.Amount0, "10", "0.01")
	closeTo(t, narrow.Amount1, "10", "0.01")
}

func TestCreatePositionValidation(t *testing.T) {
	f, _ := newLiquidPool(t)

	cases := []struct {
		name   string
		mutate func(*model.AmmPosition)
		want   error
	}{
		{"unaligned", func(p *model.AmmPosition) { p.TickLowerIndex = -59 }, ErrInvalidTickRange},
		{"inverted", func(p *model.AmmPosition) { p.TickLowerIndex, p.TickUpperIndex = 60, -60 }, ErrInvalidTickRange},
		{"not pending", func(p *model.AmmPosition) { p.Status = model.PositionOpen }, ErrInvalidStatus},
		{"no amounts", func(p *model.AmmPosition) { p.Amount0Initial, p.Amount1Initial = ammmath.Zero, ammmath.Zero }, ErrZeroLiquidity},
		{"too poor", func(p *model.AmmPosition) { p.Amount0Initial, p.Amount1Initial = d("5000"), d("5000") }, ErrInsufficientBalance},
		{"slippage", func(p *model.AmmPosition) { p.Amount1Initial = d("20"); p.Slippage = d("0.01") }, ErrSlippageExceeded},
		{"unknown pool", func(p *model.AmmPosition) { p.PoolPair = "ETH/USDT" }, ErrPoolNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			position := &model.AmmPosition{
				Identifier:       "p-" + tc.name,
				PoolPair:         "BTC/USDT",
				OwnerAccountKey0: "lp:BTC",
				OwnerAccountKey1: "lp:USDT",
				TickLowerIndex:   -120,
				TickUpperIndex:   120,
				Amount0Initial:   d("10"),
				Amount1Initial:   d("10"),
				Status:           model.PositionPending,
			}
			tc.mutate(position)

			res := f.run(&model.Event{Kind: model.KindAmmPositionCreate, Position: position})
			require.False(t, res.Success)
			require.Contains(t, res.ErrorMessage, tc.want.Error())
			require.NotNil(t, res.Position)
			require.Equal(t, model.PositionError, res.Position.Status)
		})
	}

	res := f.run(&model.Event{Kind: model.KindAmmPositionCreate, Position: &model.AmmPosition{
		Identifier: "narrow",
		PoolPair:   "BTC/USDT",
		Status:     model.PositionPending,
	}})
	require.Contains(t, res.ErrorMessage, ErrPositionExists.Error())
	require.Nil(t, res.Position, "an existing position must not be overwritten")
	require.Equal(t, model.PositionOpen, f.position("narrow").Status)
}

func TestSwapCrossingTickAndRollback(t *testing.T) {
	f, pool := newLiquidPool(t)
	narrow := f.position("narrow")
	wide := f.position("wide")

	poolBefore := *pool
	ticksBefore := map[int32]model.Tick{}
	for _, index := range []int32{-1200, -60, 60, 1200} {
		ticksBefore[index] = *f.tickAt(index)
	}
	traderBTC := *f.account("trader:BTC")
	traderUSDT := *f.account("trader:USDT")

	// thirty BTC pushes the price through -60 but not -1200
	res := f.run(swapEvent("trader", true, "30", "0.0001"))
	require.False(t, res.Success)
	require.Contains(t, res.ErrorMessage, ErrSlippageExceeded.Error())

	require.True(t, reflect.DeepEqual(*pool, poolBefore), "pool not restored")
	for index, want := range ticksBefore {
		require.Truef(t, reflect.DeepEqual(*f.tickAt(index), want), "tick %d not restored", index)
	}
	require.True(t, reflect.DeepEqual(*f.account("trader:BTC"), traderBTC))
	require.True(t, reflect.DeepEqual(*f.account("trader:USDT"), traderUSDT))

	res = f.mustRun(swapEvent("trader", true, "30", "0"))
	require.Len(t, res.Ticks, 1)
	require.Equal(t, int32(-60), res.Ticks[0].Index)
	require.Less(t, res.Order.AfterTickIndex, int32(-60))
	require.Greater(t, res.Order.AfterTickIndex, int32(-1200))
	require.True(t, pool.Liquidity.Equal(wide.Liquidity), "only the wide position stays active")
	require.True(t, f.tickAt(-60).FeeGrowthOutside0.IsPositive())
	require.False(t, narrow.InRange(pool.CurrentTick))
}

func TestCollectFeeIsIdempotent(t *testing.T) {
	f, _ := newLiquidPool(t)
	f.mustRun(swapEvent("trader", true, "30", "0"))

	before := f.account("lp:BTC").Available
	collect := func() *model.Result {
		return f.mustRun(&model.Event{Kind: model.KindAmmPositionCollectFee, Position: &model.AmmPosition{Identifier: "narrow"}})
	}

	first := collect()
	fee0 := first.Position.FeeCollected0
	require.True(t, fee0.IsPositive())
	require.True(t, first.Position.FeeCollected1.IsZero())
	require.True(t, f.account("lp:BTC").Available.Equal(before.Add(fee0)))
	require.Len(t, first.Histories, 1)

	second := collect()
	require.True(t, second.Position.FeeCollected0.Equal(fee0))
	require.Empty(t, second.Histories)
	require.True(t, f.account("lp:BTC").Available.Equal(before.Add(fee0)))
}

func TestFeeGrowthMonotonicAndLiquidityNonNegative(t *testing.T) {
	f, pool := newLiquidPool(t)

	prev0, prev1 := pool.FeeGrowthGlobal0, pool.FeeGrowthGlobal1
	swaps := []struct {
		zeroForOne bool
		amount     string
	}{
		{true, "30"}, {false, "45"}, {true, "5"}, {false, "-3"}, {true, "-20"}, {false, "12"}, {true, "60"}, {false, "90"},
	}
	for i, s := range swaps {
		res := f.run(swapEvent("trader", s.zeroForOne, s.amount, "0"))
		require.Truef(t, res.Success, "swap %d: %s", i, res.ErrorMessage)

		require.True(t, pool.FeeGrowthGlobal0.GreaterThanOrEqual(prev0))
		require.True(t, pool.FeeGrowthGlobal1.GreaterThanOrEqual(prev1))
		prev0, prev1 = pool.FeeGrowthGlobal0, pool.FeeGrowthGlobal1

		require.False(t, pool.Liquidity.IsNegative())
		for _, index := range []int32{-1200, -60, 60, 1200} {
			require.False(t, f.tickAt(index).LiquidityGross.IsNegative())
		}
		require.True(t, ammmath.TickToSqrtPrice(pool.CurrentTick).LessThanOrEqual(pool.SqrtPrice))
	}
	require.True(t, prev0.IsPositive())
	require.True(t, prev1.IsPositive())
}

func TestClosePosition(t *testing.T) {
	f, pool := newLiquidPool(t)
	f.mustRun(swapEvent("trader", true, "30", "0"))

	wide := f.position("wide")
	narrow := f.position("narrow")
	liquidityBefore := pool.Liquidity
	btcBefore := f.account("lp:BTC").Available
	usdtBefore := f.account("lp:USDT").Available

	res := f.mustRun(&model.Event{Kind: model.KindAmmPositionClose, Position: &model.AmmPosition{Identifier: "narrow"}})

	require.Equal(t, model.PositionClosed, narrow.Status)
	require.True(t, narrow.Liquidity.IsZero())
	require.True(t, narrow.Amount0.IsZero())
	require.True(t, narrow.FeeCollected0.IsPositive())
	// the range sits above the price, so the pool liquidity is untouched
	require.True(t, pool.Liquidity.Equal(liquidityBefore))
	require.True(t, pool.Liquidity.Equal(wide.Liquidity))

	bitmap, err := f.ledger.Bitmap(f.ctx, "BTC/USDT")
	require.NoError(t, err)
	require.Equal(t, []int32{-1200, 1200}, bitmap.Ticks())
	require.True(t, f.tickAt(-60).LiquidityGross.IsZero())
	require.False(t, f.tickAt(-60).Initialized)
	require.Len(t, res.Ticks, 2)

	// below the price only token0 comes back: principal plus fees
	require.True(t, f.account("lp:BTC").Available.GreaterThan(btcBefore.Add(d("19"))))
	require.True(t, f.account("lp:USDT").Available.Equal(usdtBefore))

	again := f.run(&model.Event{Kind: model.KindAmmPositionClose, Position: &model.AmmPosition{Identifier: "narrow"}})
	require.False(t, again.Success)
	require.Contains(t, again.ErrorMessage, ErrInvalidStatus.Error())

	missing := f.run(&model.Event{Kind: model.KindAmmPositionCollectFee, Position: &model.AmmPosition{Identifier: "nope"}})
	require.Contains(t, missing.ErrorMessage, ErrPositionNotFound.Error())
}

func TestCloseInRangeRemovesPoolLiquidity(t *testing.T) {
	f, pool := newLiquidPool(t)
	narrow := f.position("narrow")
	wide := f.position("wide")

	f.mustRun(&model.Event{Kind: model.KindAmmPositionClose, Position: &model.AmmPosition{Identifier: "wide"}})
	require.True(t, pool.Liquidity.Equal(narrow.Liquidity))
	require.Equal(t, model.PositionClosed, wide.Status)

	f.mustRun(&model.Event{Kind: model.KindAmmPositionClose, Position: &model.AmmPosition{Identifier: "narrow"}})
	require.True(t, pool.Liquidity.IsZero())

	// rounding always favours the pool
	require.True(t, f.account("lp:BTC").Available.LessThanOrEqual(d("1000")))
	require.True(t, f.account("lp:USDT").Available.LessThanOrEqual(d("1000")))
	closeTo(t, f.account("lp:BTC").Available, "1000", "0.000000001")
}

func TestRepeatedCollectsKeepSeparateHistories(t *testing.T) {
	f, _ := newLiquidPool(t)
	collect := func() *model.Result {
		return f.mustRun(&model.Event{Kind: model.KindAmmPositionCollectFee, Position: &model.AmmPosition{Identifier: "narrow"}})
	}

	f.mustRun(swapEvent("trader", true, "2", "0"))
	first := collect()
	f.mustRun(swapEvent("trader", true, "1", "0"))
	second := collect()

	require.Len(t, first.Histories, 1)
	require.Len(t, second.Histories, 1)
	h1, h2 := first.Histories[0], second.Histories[0]
	require.Equal(t, "narrow", h1.ReferenceID)
	require.Equal(t, "narrow", h2.ReferenceID)
	require.NotEqual(t, h1.HistoryKey(), h2.HistoryKey())
	require.True(t, h1.AvailableAfter.Equal(h2.AvailableBefore))
	require.True(t, h2.AvailableAfter.GreaterThan(h2.AvailableBefore))

	closed := f.mustRun(&model.Event{Kind: model.KindAmmPositionClose, Position: &model.AmmPosition{Identifier: "narrow"}})
	keys := map[string]bool{h1.HistoryKey(): true, h2.HistoryKey(): true}
	for _, h := range closed.Histories {
		require.Falsef(t, keys[h.HistoryKey()], "history %s reused", h.HistoryKey())
		keys[h.HistoryKey()] = true
	}
}
