package processor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"exchangeCore/internal/ammmath"
	"exchangeCore/internal/model"
	"exchangeCore/internal/state"
)

// maxSwapSteps bounds the tick-crossing loop of a single order.
const maxSwapSteps = 10000

// AmmOrderProcessor executes swaps.
type AmmOrderProcessor struct {
	base
}

func NewAmmOrderProcessor(ledger *state.Ledger, clock Clock, logger *zap.Logger) *AmmOrderProcessor {
	return &AmmOrderProcessor{base: newBase(ledger, clock, logger)}
}

// swapState carries the running totals of one swap.
type swapState struct {
	remaining  decimal.Decimal
	calculated decimal.Decimal
	feeTotal   decimal.Decimal
	steps      int
	crossed    []*model.Tick
}

func (p *AmmOrderProcessor) Process(ctx context.Context, ev *model.Event) (res *model.Result) {
	now := p.clock()
	res = model.NewResult(ev, now)
	defer p.recoverInto(res)

	if ev == nil || ev.Order == nil {
		return res.Fail(ErrMissingPayload)
	}
	order := ev.Order.Clone()
	res.Order = order

	if err := p.execute(ctx, order, res); err != nil {
		order.Status = model.OrderError
		order.ErrorMessage = err.Error()
		order.UpdatedAt = now
		p.logger.Debug("order failed", zap.String("order_id", order.Identifier), zap.Error(err))
		return res.Fail(err)
	}
	res.Success = true
	return res
}

func (p *AmmOrderProcessor) execute(ctx context.Context, order *model.AmmOrder, res *model.Result) error {
	// fetch
	pool, err := p.pool(ctx, order.PoolPair)
	if err != nil {
		return err
	}
	acc0, acc1, created0, created1, err := p.ownerAccounts(ctx, pool, order.OwnerAccountKey0, order.OwnerAccountKey1)
	if err != nil {
		return err
	}
	bitmap, err := p.ledger.Bitmap(ctx, pool.Pair)
	if err != nil {
		return err
	}

	source, sink := acc1, acc0
	if order.ZeroForOne {
		source, sink = acc0, acc1
	}

	// validate
	if order.Status != model.OrderProcessing {
		return fmt.Errorf("order %s is %q: %w", order.Identifier, order.Status, ErrInvalidStatus)
	}
	if !pool.IsActive {
		return fmt.Errorf("%s: %w", pool.Pair, ErrPoolInactive)
	}
	if order.AmountSpecified.IsZero() {
		return fmt.Errorf("amount specified is zero: %w", ErrInvalidAmount)
	}
	if order.Slippage.IsNegative() {
		return fmt.Errorf("slippage %s: %w", order.Slippage, ErrInvalidAmount)
	}
	if !pool.Liquidity.IsPositive() {
		return fmt.Errorf("%s: %w", pool.Pair, ErrZeroLiquidity)
	}
	if order.ExactInput() {
		if err := requireBalance(source, order.AmountSpecified); err != nil {
			return err
		}
	}

	now := p.clock()
	return p.transact(func(backup *state.Backup) error {
		backup.SavePool(pool, false)
		backup.SaveAccount(acc0, created0)
		backup.SaveAccount(acc1, created1)
		backup.SaveBitmap(bitmap)

		sqrtBefore := pool.SqrtPrice
		tickBefore := pool.CurrentTick

		st, err := p.swap(ctx, backup, pool, bitmap, order)
		if err != nil {
			return err
		}

		var amountIn, amountOut decimal.Decimal
		if order.ExactInput() {
			amountIn = order.AmountSpecified.Sub(st.remaining)
			amountOut = st.calculated
		} else {
			amountIn = st.calculated
			amountOut = order.AmountSpecified.Sub(st.remaining).Neg()
		}
		if !amountIn.IsPositive() || !amountOut.IsPositive() {
			return fmt.Errorf("in %s out %s: %w", amountIn, amountOut, ErrNoFill)
		}
		if err := requireBalance(source, amountIn); err != nil {
			return err
		}

		estimate, err := p.checkSlippage(order, pool.FeePercentage, sqrtBefore, amountIn, amountOut)
		if err != nil {
			return err
		}

		// commit
		debit, err := move(source, amountIn.Neg(), res.EventID, "amm_swap", order.Identifier, now)
		if err != nil {
			return err
		}
		credit, err := move(sink, amountOut, res.EventID, "amm_swap", order.Identifier, now)
		if err != nil {
			return err
		}

		tokenIn := pool.Token(order.ZeroForOne)
		if order.ZeroForOne {
			order.Amount0, order.Amount1 = amountIn, amountOut
			pool.TotalValueLocked0 = pool.TotalValueLocked0.Add(amountIn)
			pool.TotalValueLocked1 = ammmath.ClampZero(pool.TotalValueLocked1.Sub(amountOut))
		} else {
			order.Amount0, order.Amount1 = amountOut, amountIn
			pool.TotalValueLocked1 = pool.TotalValueLocked1.Add(amountIn)
			pool.TotalValueLocked0 = ammmath.ClampZero(pool.TotalValueLocked0.Sub(amountOut))
		}
		pool.Volume0 = pool.Volume0.Add(order.Amount0)
		pool.Volume1 = pool.Volume1.Add(order.Amount1)
		pool.UpdatedAt = now

		order.AmountEstimated = estimate
		order.Fees = map[string]decimal.Decimal{tokenIn: st.feeTotal}
		order.BeforeTickIndex = tickBefore
		order.AfterTickIndex = pool.CurrentTick
		order.SqrtPriceBefore = sqrtBefore
		order.SqrtPriceAfter = pool.SqrtPrice
		order.Status = model.OrderSuccess
		order.ErrorMessage = ""
		order.UpdatedAt = now

		p.ledger.PutAccount(acc0)
		p.ledger.PutAccount(acc1)

		res.Pool = pool.Clone()
		res.Accounts = cloneAccounts(acc0, acc1)
		res.Ticks = cloneTicks(st.crossed)
		res.TickBitmap = bitmap.Clone()
		res.Histories = []*model.AccountHistory{debit, credit}

		p.logger.Debug("order filled",
			zap.String("order_id", order.Identifier),
			zap.String("pool", pool.Pair),
			zap.String("amount_in", amountIn.String()),
			zap.String("amount_out", amountOut.String()),
			zap.Int("steps", st.steps),
			zap.Int("crossed", len(st.crossed)),
		)
		return nil
	})
}

// swap walks the price from tick to tick until the specified amount is used
// up or the price limit is reached.
func (p *AmmOrderProcessor) swap(ctx context.Context, backup *state.Backup, pool *model.AmmPool, bitmap *model.TickBitmap, order *model.AmmOrder) (*swapState, error) {
	zeroForOne := order.ZeroForOne
	exactInput := order.ExactInput()
	limit := ammmath.SwapPriceLimit(zeroForOne)

	st := &swapState{
		remaining:  order.AmountSpecified,
		calculated: ammmath.Zero,
		feeTotal:   ammmath.Zero,
	}

	for !st.remaining.IsZero() && !atPriceLimit(pool.SqrtPrice, limit, zeroForOne) {
		if st.steps >= maxSwapSteps {
			return nil, fmt.Errorf("%d steps: %w", st.steps, ErrSwapStepLimit)
		}
		st.steps++

		var (
			nextTick    int32
			initialized bool
		)
		if zeroForOne {
			nextTick, initialized = bitmap.NextInitializedAtOrBelow(pool.CurrentTick)
			if !initialized {
				nextTick = ammmath.MinTick
			}
		} else {
			nextTick, initialized = bitmap.NextInitializedAbove(pool.CurrentTick)
			if !initialized {
				nextTick = ammmath.MaxTick
			}
		}
		nextTick = ammmath.ClampTick(nextTick)

		sqrtNextTick := ammmath.TickToSqrtPrice(nextTick)
		target := sqrtNextTick
		if atPriceLimit(target, limit, zeroForOne) {
			target = limit
		}

		step, err := ammmath.ComputeSwapStep(pool.SqrtPrice, target, pool.Liquidity, st.remaining, pool.FeePercentage)
		if err != nil {
			return nil, fmt.Errorf("swap step at tick %d: %w", pool.CurrentTick, err)
		}

		if exactInput {
			st.remaining = st.remaining.Sub(step.AmountIn.Add(step.FeeAmount))
			st.calculated = st.calculated.Add(step.AmountOut)
		} else {
			st.remaining = st.remaining.Add(step.AmountOut)
			st.calculated = st.calculated.Add(step.AmountIn.Add(step.FeeAmount))
		}
		st.feeTotal = st.feeTotal.Add(step.FeeAmount)

		if pool.Liquidity.IsPositive() {
			delta := ammmath.FeeGrowthDelta(step.FeeAmount, pool.Liquidity)
			if zeroForOne {
				pool.FeeGrowthGlobal0 = pool.FeeGrowthGlobal0.Add(delta)
			} else {
				pool.FeeGrowthGlobal1 = pool.FeeGrowthGlobal1.Add(delta)
			}
		}

		crossedTick := false
		if initialized && step.SqrtPriceNext.Equal(sqrtNextTick) {
			if err := p.cross(ctx, backup, pool, nextTick, zeroForOne, st); err != nil {
				return nil, err
			}
			crossedTick = true
			if zeroForOne {
				pool.CurrentTick = ammmath.ClampTick(nextTick - 1)
			} else {
				pool.CurrentTick = nextTick
			}
		} else if !step.SqrtPriceNext.Equal(pool.SqrtPrice) {
			pool.CurrentTick = ammmath.ClampTick(ammmath.SqrtPriceToTick(step.SqrtPriceNext))
		}
		pool.SqrtPrice = step.SqrtPriceNext

		moved := step.AmountIn.IsPositive() || step.AmountOut.IsPositive() || step.FeeAmount.IsPositive()
		if !moved && !crossedTick && !step.SqrtPriceNext.Equal(sqrtNextTick) {
			// rounding residue too small to move anything
			break
		}
	}
	return st, nil
}

// atPriceLimit reports whether sqrtPrice has reached limit in the swap
// direction.
func atPriceLimit(sqrtPrice, limit decimal.Decimal, zeroForOne bool) bool {
	if zeroForOne {
		return sqrtPrice.LessThanOrEqual(limit)
	}
	return sqrtPrice.GreaterThanOrEqual(limit)
}

// cross flips a tick's fee-growth-outside and applies its net liquidity.
func (p *AmmOrderProcessor) cross(ctx context.Context, backup *state.Backup, pool *model.AmmPool, index int32, zeroForOne bool, st *swapState) error {
	tick, err := p.tick(ctx, pool.Pair, index)
	if err != nil {
		return err
	}
	if !backup.Touched(tick) {
		backup.SaveTick(tick, false)
		st.crossed = append(st.crossed, tick)
	}

	tick.FeeGrowthOutside0 = pool.FeeGrowthGlobal0.Sub(tick.FeeGrowthOutside0)
	tick.FeeGrowthOutside1 = pool.FeeGrowthGlobal1.Sub(tick.FeeGrowthOutside1)
	if !tick.Initialized {
		tick.Initialized = true
		tick.TickInitializedTimestamp = p.clock()
	}

	liquidityNet := tick.LiquidityNet
	if zeroForOne {
		liquidityNet = liquidityNet.Neg()
	}
	liquidity, err := ammmath.AddDelta(pool.Liquidity, liquidityNet)
	if err != nil {
		return fmt.Errorf("cross tick %d: %w", index, err)
	}
	pool.Liquidity = liquidity
	return nil
}

// checkSlippage compares the fill with an estimate at the pre-swap price and
// returns the estimate: the expected output of an exact-input order or the
// expected input of an exact-output one. Only adverse deviation counts.
func (p *AmmOrderProcessor) checkSlippage(order *model.AmmOrder, fee, sqrtBefore, amountIn, amountOut decimal.Decimal) (decimal.Decimal, error) {
	price := ammmath.PriceFromSqrtPrice(sqrtBefore)
	feeComplement := ammmath.One.Sub(fee)
	if !price.IsPositive() || !feeComplement.IsPositive() {
		return ammmath.Zero, nil
	}

	var (
		estimate  decimal.Decimal
		deviation decimal.Decimal
		err       error
	)
	if order.ExactInput() {
		lessFee := order.AmountSpecified.Mul(feeComplement)
		if order.ZeroForOne {
			estimate = ammmath.Normalize(lessFee.Mul(price))
		} else {
			estimate, err = ammmath.DivHalfUp(lessFee, price)
		}
		if err != nil || !estimate.IsPositive() {
			return estimate, err
		}
		if amountOut.LessThan(estimate) {
			deviation, err = ammmath.DivHalfUp(estimate.Sub(amountOut), estimate)
		}
	} else {
		wanted := order.AmountSpecified.Neg()
		if order.ZeroForOne {
			estimate, err = ammmath.DivHalfUp(wanted, price.Mul(feeComplement))
		} else {
			estimate, err = ammmath.DivHalfUp(wanted.Mul(price), feeComplement)
		}
		if err != nil || !estimate.IsPositive() {
			return estimate, err
		}
		if amountIn.GreaterThan(estimate) {
			deviation, err = ammmath.DivHalfUp(amountIn.Sub(estimate), estimate)
		}
	}
	if err != nil {
		return estimate, err
	}

	if slippageChecked(order.Slippage) && deviation.GreaterThan(order.Slippage) {
		return estimate, fmt.Errorf("deviation %s over tolerance %s: %w",
			deviation.StringFixed(6), order.Slippage, ErrSlippageExceeded)
	}
	return estimate, nil
}
