package processor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"exchangeCore/internal/ammmath"
	"exchangeCore/internal/model"
)

func TestCreatePool(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool("ETH/USDT", "ETH", "USDT", "0.0005", 10, -200)

	require.Equal(t, "ETH", pool.Token0)
	require.Equal(t, int32(-200), pool.CurrentTick)
	require.True(t, pool.SqrtPrice.Equal(ammmath.TickToSqrtPrice(-200)))
	require.True(t, pool.Liquidity.IsZero())
	require.True(t, pool.IsActive)
	require.Equal(t, fixedNow, pool.CreatedAt)
	require.True(t, pool.MaxLiquidityPerTick.Equal(ammmath.MaxLiquidityPerTick(10)))
}

func TestUpdatePool(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool("ETH/USDT", "ETH", "USDT", "0.0005", 10, 0)
	price := pool.SqrtPrice

	inactive := false
	res := f.mustRun(&model.Event{Kind: model.KindAmmPool, Pool: &model.PoolParams{
		Pair:          "ETH/USDT",
		FeePercentage: d("0.01"),
		InitialTick:   5000,
		IsActive:      &inactive,
	}})
	require.False(t, res.Pool.IsActive)
	require.True(t, pool.FeePercentage.Equal(d("0.01")))
	require.True(t, pool.SqrtPrice.Equal(price), "an update never moves the price")
	require.Equal(t, int32(0), pool.CurrentTick)
	require.NotNil(t, res.TickBitmap)
}

func TestPoolValidation(t *testing.T) {
	f := newFixture(t)
	f.createPool("ETH/USDT", "ETH", "USDT", "0.003", 10, 0)

	cases := []struct {
		name   string
		params model.PoolParams
		want   error
	}{
		{"empty pair", model.PoolParams{Token0: "A", Token1: "B", FeePercentage: d("0.003"), TickSpacing: 10}, ErrInvalidPool},
		{"zero fee", model.PoolParams{Pair: "A/B", Token0: "A", Token1: "B", TickSpacing: 10}, ErrInvalidPool},
		{"fee of one", model.PoolParams{Pair: "A/B", Token0: "A", Token1: "B", FeePercentage: d("1"), TickSpacing: 10}, ErrInvalidPool},
		{"same tokens", model.PoolParams{Pair: "A/A", Token0: "A", Token1: "A", FeePercentage: d("0.003"), TickSpacing: 10}, ErrInvalidPool},
		{"no spacing", model.PoolParams{Pair: "A/B", Token0: "A", Token1: "B", FeePercentage: d("0.003")}, ErrInvalidPool},
		{"tick out of range", model.PoolParams{Pair: "A/B", Token0: "A", Token1: "B", FeePercentage: d("0.003"), TickSpacing: 10, InitialTick: ammmath.MaxTick + 1}, ErrInvalidTickRange},
		{"spacing change", model.PoolParams{Pair: "ETH/USDT", FeePercentage: d("0.003"), TickSpacing: 60}, ErrInvalidPool},
		{"token change", model.PoolParams{Pair: "ETH/USDT", Token0: "BTC", FeePercentage: d("0.003")}, ErrInvalidPool},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := tc.params
			res := f.run(&model.Event{Kind: model.KindAmmPool, Pool: &params})
			require.False(t, res.Success)
			require.Contains(t, res.ErrorMessage, tc.want.Error())
			require.Nil(t, res.Pool)
		})
	}

	_, err := f.ledger.Pool(f.ctx, "A/B")
	require.Error(t, err, "a rejected pool must not be stored")
}
