package processor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"exchangeCore/internal/model"
	"exchangeCore/internal/state"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	ledger *state.Ledger
	procs  map[model.EventKind]Processor
	seq    int
}

func newFixture(t *testing.T) *fixture {
	ledger := state.NewLedger(nil, nil)
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		ledger: ledger,
		procs:  NewRegistry(ledger, fixedClock, nil),
	}
}

func (f *fixture) run(ev *model.Event) *model.Result {
	f.seq++
	if ev.ID == "" {
		ev.ID = "ev-" + decimal.NewFromInt(int64(f.seq)).String()
	}
	res := f.procs[ev.Kind].Process(f.ctx, ev)
	require.NotNil(f.t, res)
	return res
}

func (f *fixture) mustRun(ev *model.Event) *model.Result {
	res := f.run(ev)
	require.Truef(f.t, res.Success, "event %s failed: %s", ev.Kind, res.ErrorMessage)
	return res
}

func (f *fixture) createPool(pair, token0, token1, fee string, spacing, tick int32) *model.AmmPool {
	f.mustRun(&model.Event{Kind: model.KindAmmPool, Pool: &model.PoolParams{
		Pair:          pair,
		Token0:        token0,
		Token1:        token1,
		FeePercentage: d(fee),
		TickSpacing:   spacing,
		InitialTick:   tick,
	}})
	pool, err := f.ledger.Pool(f.ctx, pair)
	require.NoError(f.t, err)
	return pool
}

func (f *fixture) deposit(key, coin, amount string) {
	f.mustRun(&model.Event{Kind: model.KindCoinDeposit, Balance: &model.BalanceParams{
		AccountKey: key,
		Coin:       coin,
		Amount:     d(amount),
	}})
}

func (f *fixture) account(key string) *model.Account {
	account, _, err := f.ledger.AccountOrNew(f.ctx, key, "")
	require.NoError(f.t, err)
	return account
}

func (f *fixture) openPosition(id, user string, lower, upper int32, amount0, amount1 string) *model.Result {
	return f.mustRun(&model.Event{Kind: model.KindAmmPositionCreate, Position: &model.AmmPosition{
		Identifier:       id,
		PoolPair:         "BTC/USDT",
		OwnerAccountKey0: model.AccountKey(user, "BTC"),
		OwnerAccountKey1: model.AccountKey(user, "USDT"),
		TickLowerIndex:   lower,
		TickUpperIndex:   upper,
		Amount0Initial:   d(amount0),
		Amount1Initial:   d(amount1),
		Status:           model.PositionPending,
	}})
}

func swapEvent(user string, zeroForOne bool, amount, slippage string) *model.Event {
	return &model.Event{Kind: model.KindAmmOrder, Order: &model.AmmOrder{
		Identifier:       "order-" + user + "-" + amount,
		PoolPair:         "BTC/USDT",
		OwnerAccountKey0: model.AccountKey(user, "BTC"),
		OwnerAccountKey1: model.AccountKey(user, "USDT"),
		ZeroForOne:       zeroForOne,
		AmountSpecified:  d(amount),
		Slippage:         d(slippage),
		Status:           model.OrderProcessing,
	}}
}

func closeTo(t *testing.T, got decimal.Decimal, want string, tolerance string) {
	t.Helper()
	require.Truef(t, got.Sub(d(want)).Abs().LessThanOrEqual(d(tolerance)), "got %s, want %s ± %s", got, want, tolerance)
}
