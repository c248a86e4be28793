package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"exchangeCore/internal/ammmath"
	"exchangeCore/internal/model"
	"exchangeCore/internal/state"
)

// AmmPositionProcessor opens positions, pays out their fees and closes them.
type AmmPositionProcessor struct {
	base
}

func NewAmmPositionProcessor(ledger *state.Ledger, clock Clock, logger *zap.Logger) *AmmPositionProcessor {
	return &AmmPositionProcessor{base: newBase(ledger, clock, logger)}
}

func (p *AmmPositionProcessor) Create() Processor {
	return ProcessorFunc(p.create)
}

func (p *AmmPositionProcessor) CollectFee() Processor {
	return ProcessorFunc(p.collectFee)
}

func (p *AmmPositionProcessor) Close() Processor {
	return ProcessorFunc(p.close)
}

func (p *AmmPositionProcessor) create(ctx context.Context, ev *model.Event) (res *model.Result) {
	now := p.clock()
	res = model.NewResult(ev, now)
	defer p.recoverInto(res)

	if ev == nil || ev.Position == nil {
		return res.Fail(ErrMissingPayload)
	}
	position := ev.Position.Clone()

	if err := p.open(ctx, position, res, now); err != nil {
		if !errors.Is(err, ErrPositionExists) {
			position.Status = model.PositionError
			position.ErrorMessage = err.Error()
			position.UpdatedAt = now
			res.Position = position
		}
		p.logger.Debug("position create failed", zap.String("position_id", position.Identifier), zap.Error(err))
		return res.Fail(err)
	}
	res.Success = true
	return res
}

func (p *AmmPositionProcessor) open(ctx context.Context, position *model.AmmPosition, res *model.Result, now time.Time) error {
	if position.Identifier == "" {
		return fmt.Errorf("position identifier is empty: %w", ErrMissingPayload)
	}
	if _, err := p.ledger.Position(ctx, position.Identifier); err == nil {
		return fmt.Errorf("%s: %w", position.Identifier, ErrPositionExists)
	} else if !errors.Is(err, state.ErrNotFound) {
		return err
	}

	pool, err := p.activePool(ctx, position.PoolPair)
	if err != nil {
		return err
	}
	acc0, acc1, created0, created1, err := p.ownerAccounts(ctx, pool, position.OwnerAccountKey0, position.OwnerAccountKey1)
	if err != nil {
		return err
	}
	bitmap, err := p.ledger.Bitmap(ctx, pool.Pair)
	if err != nil {
		return err
	}

	if position.Status != model.PositionPending {
		return fmt.Errorf("position %s is %q: %w", position.Identifier, position.Status, ErrInvalidStatus)
	}
	if err := validateRange(position.TickLowerIndex, position.TickUpperIndex, pool.TickSpacing); err != nil {
		return err
	}
	if position.Amount0Initial.IsNegative() || position.Amount1Initial.IsNegative() || position.Slippage.IsNegative() {
		return fmt.Errorf("negative desired amount or slippage: %w", ErrInvalidAmount)
	}

	sqrtLower := ammmath.TickToSqrtPrice(position.TickLowerIndex)
	sqrtUpper := ammmath.TickToSqrtPrice(position.TickUpperIndex)
	liquidity, err := ammmath.LiquidityForAmounts(pool.SqrtPrice, sqrtLower, sqrtUpper, position.Amount0Initial, position.Amount1Initial)
	if err != nil {
		return fmt.Errorf("liquidity for amounts: %w", err)
	}
	if !liquidity.IsPositive() {
		return fmt.Errorf("position %s: %w", position.Identifier, ErrZeroLiquidity)
	}
	amount0, amount1, err := ammmath.AmountsForLiquidity(pool.SqrtPrice, sqrtLower, sqrtUpper, liquidity, true)
	if err != nil {
		return fmt.Errorf("amounts for liquidity: %w", err)
	}
	if slippageChecked(position.Slippage) {
		if err := withinSlippage(amount0, position.Amount0Initial, position.Slippage); err != nil {
			return fmt.Errorf("token0: %w", err)
		}
		if err := withinSlippage(amount1, position.Amount1Initial, position.Slippage); err != nil {
			return fmt.Errorf("token1: %w", err)
		}
	}
	if err := requireBalance(acc0, amount0); err != nil {
		return err
	}
	if err := requireBalance(acc1, amount1); err != nil {
		return err
	}

	return p.transact(func(backup *state.Backup) error {
		backup.SavePool(pool, false)
		backup.SaveAccount(acc0, created0)
		backup.SaveAccount(acc1, created1)
		backup.SaveBitmap(bitmap)
		backup.SavePosition(position, true)

		lower, _, err := p.updateTick(ctx, backup, pool, bitmap, position.TickLowerIndex, liquidity, false, now)
		if err != nil {
			return err
		}
		upper, _, err := p.updateTick(ctx, backup, pool, bitmap, position.TickUpperIndex, liquidity, true, now)
		if err != nil {
			return err
		}

		inside0, inside1 := ammmath.FeeGrowthInside(lower.Growth(), upper.Growth(), pool.CurrentTick, pool.FeeGrowthGlobal0, pool.FeeGrowthGlobal1)

		if position.InRange(pool.CurrentTick) {
			pool.Liquidity = pool.Liquidity.Add(liquidity)
		}
		pool.TotalValueLocked0 = pool.TotalValueLocked0.Add(amount0)
		pool.TotalValueLocked1 = pool.TotalValueLocked1.Add(amount1)
		pool.UpdatedAt = now

		debit0, err := move(acc0, amount0.Neg(), res.EventID, "amm_position_create", position.Identifier, now)
		if err != nil {
			return err
		}
		debit1, err := move(acc1, amount1.Neg(), res.EventID, "amm_position_create", position.Identifier, now)
		if err != nil {
			return err
		}

		position.Liquidity = liquidity
		position.Amount0 = amount0
		position.Amount1 = amount1
		position.FeeGrowthInside0Last = inside0
		position.FeeGrowthInside1Last = inside1
		position.TokensOwed0 = ammmath.Zero
		position.TokensOwed1 = ammmath.Zero
		position.FeeCollected0 = ammmath.Zero
		position.FeeCollected1 = ammmath.Zero
		position.Status = model.PositionOpen
		position.ErrorMessage = ""
		position.CreatedAt = now
		position.UpdatedAt = now

		p.ledger.PutPosition(position)
		p.ledger.PutAccount(acc0)
		p.ledger.PutAccount(acc1)

		res.Pool = pool.Clone()
		res.Position = position.Clone()
		res.Accounts = cloneAccounts(acc0, acc1)
		res.Ticks = cloneTicks([]*model.Tick{lower, upper})
		res.TickBitmap = bitmap.Clone()
		res.Histories = []*model.AccountHistory{debit0, debit1}
		return nil
	})
}

func (p *AmmPositionProcessor) collectFee(ctx context.Context, ev *model.Event) (res *model.Result) {
	now := p.clock()
	res = model.NewResult(ev, now)
	defer p.recoverInto(res)

	if ev == nil || ev.Position == nil {
		return res.Fail(ErrMissingPayload)
	}
	position, pool, acc0, acc1, created0, created1, err := p.fetchOpen(ctx, ev.Position.Identifier)
	if err != nil {
		return res.Fail(err)
	}

	err = p.transact(func(backup *state.Backup) error {
		backup.SavePool(pool, false)
		backup.SavePosition(position, false)
		backup.SaveAccount(acc0, created0)
		backup.SaveAccount(acc1, created1)

		histories, err := p.payFees(ctx, pool, position, acc0, acc1, res.EventID, "amm_position_collect_fee", now)
		if err != nil {
			return err
		}

		p.ledger.PutAccount(acc0)
		p.ledger.PutAccount(acc1)

		res.Pool = pool.Clone()
		res.Position = position.Clone()
		res.Accounts = cloneAccounts(acc0, acc1)
		res.Histories = histories
		return nil
	})
	if err != nil {
		return res.Fail(err)
	}
	res.Success = true
	return res
}

func (p *AmmPositionProcessor) close(ctx context.Context, ev *model.Event) (res *model.Result) {
	now := p.clock()
	res = model.NewResult(ev, now)
	defer p.recoverInto(res)

	if ev == nil || ev.Position == nil {
		return res.Fail(ErrMissingPayload)
	}
	position, pool, acc0, acc1, created0, created1, err := p.fetchOpen(ctx, ev.Position.Identifier)
	if err != nil {
		return res.Fail(err)
	}
	bitmap, err := p.ledger.Bitmap(ctx, pool.Pair)
	if err != nil {
		return res.Fail(err)
	}

	err = p.transact(func(backup *state.Backup) error {
		backup.SavePool(pool, false)
		backup.SavePosition(position, false)
		backup.SaveAccount(acc0, created0)
		backup.SaveAccount(acc1, created1)
		backup.SaveBitmap(bitmap)

		histories, err := p.payFees(ctx, pool, position, acc0, acc1, res.EventID, "amm_position_collect_fee", now)
		if err != nil {
			return err
		}

		liquidity := position.Liquidity
		lower, lowerCleared, err := p.updateTick(ctx, backup, pool, bitmap, position.TickLowerIndex, liquidity.Neg(), false, now)
		if err != nil {
			return err
		}
		upper, upperCleared, err := p.updateTick(ctx, backup, pool, bitmap, position.TickUpperIndex, liquidity.Neg(), true, now)
		if err != nil {
			return err
		}
		if lowerCleared {
			lower.Reset()
		}
		if upperCleared {
			upper.Reset()
		}

		if position.InRange(pool.CurrentTick) {
			pool.Liquidity, err = ammmath.AddDelta(pool.Liquidity, liquidity.Neg())
			if err != nil {
				return fmt.Errorf("remove pool liquidity: %w", err)
			}
		}

		sqrtLower := ammmath.TickToSqrtPrice(position.TickLowerIndex)
		sqrtUpper := ammmath.TickToSqrtPrice(position.TickUpperIndex)
		amount0, amount1, err := ammmath.AmountsForLiquidity(pool.SqrtPrice, sqrtLower, sqrtUpper, liquidity, false)
		if err != nil {
			return fmt.Errorf("amounts for liquidity: %w", err)
		}

		credit0, err := move(acc0, amount0, res.EventID, "amm_position_close", position.Identifier, now)
		if err != nil {
			return err
		}
		credit1, err := move(acc1, amount1, res.EventID, "amm_position_close", position.Identifier, now)
		if err != nil {
			return err
		}
		histories = append(histories, credit0, credit1)

		pool.TotalValueLocked0 = ammmath.ClampZero(pool.TotalValueLocked0.Sub(amount0))
		pool.TotalValueLocked1 = ammmath.ClampZero(pool.TotalValueLocked1.Sub(amount1))
		pool.UpdatedAt = now

		position.Liquidity = ammmath.Zero
		position.Amount0 = ammmath.Zero
		position.Amount1 = ammmath.Zero
		position.Status = model.PositionClosed
		position.UpdatedAt = now

		p.ledger.PutAccount(acc0)
		p.ledger.PutAccount(acc1)

		res.Pool = pool.Clone()
		res.Position = position.Clone()
		res.Accounts = cloneAccounts(acc0, acc1)
		res.Ticks = cloneTicks([]*model.Tick{lower, upper})
		res.TickBitmap = bitmap.Clone()
		res.Histories = histories

		p.logger.Debug("position closed",
			zap.String("position_id", position.Identifier),
			zap.String("amount0", amount0.String()),
			zap.String("amount1", amount1.String()),
		)
		return nil
	})
	if err != nil {
		return res.Fail(err)
	}
	res.Success = true
	return res
}

func (p *AmmPositionProcessor) fetchOpen(ctx context.Context, id string) (position *model.AmmPosition, pool *model.AmmPool, acc0, acc1 *model.Account, created0, created1 bool, err error) {
	position, err = p.ledger.Position(ctx, id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			err = fmt.Errorf("%s: %w", id, ErrPositionNotFound)
		}
		return
	}
	if position.Status != model.PositionOpen {
		err = fmt.Errorf("position %s is %q: %w", id, position.Status, ErrInvalidStatus)
		return
	}
	pool, err = p.pool(ctx, position.PoolPair)
	if err != nil {
		return
	}
	acc0, acc1, created0, created1, err = p.ownerAccounts(ctx, pool, position.OwnerAccountKey0, position.OwnerAccountKey1)
	return
}

// payFees credits everything the position has earned since its last snapshot
// and advances the snapshot. Calling it again without new fee growth pays zero.
func (p *AmmPositionProcessor) payFees(ctx context.Context, pool *model.AmmPool, position *model.AmmPosition, acc0, acc1 *model.Account, eventID, operation string, now time.Time) ([]*model.AccountHistory, error) {
	lower, err := p.tick(ctx, pool.Pair, position.TickLowerIndex)
	if err != nil {
		return nil, err
	}
	upper, err := p.tick(ctx, pool.Pair, position.TickUpperIndex)
	if err != nil {
		return nil, err
	}

	inside0, inside1 := ammmath.FeeGrowthInside(lower.Growth(), upper.Growth(), pool.CurrentTick, pool.FeeGrowthGlobal0, pool.FeeGrowthGlobal1)
	fee0 := position.TokensOwed0.Add(ammmath.FeesOwed(position.Liquidity, inside0, position.FeeGrowthInside0Last))
	fee1 := position.TokensOwed1.Add(ammmath.FeesOwed(position.Liquidity, inside1, position.FeeGrowthInside1Last))

	position.FeeGrowthInside0Last = inside0
	position.FeeGrowthInside1Last = inside1
	position.TokensOwed0 = ammmath.Zero
	position.TokensOwed1 = ammmath.Zero
	position.FeeCollected0 = position.FeeCollected0.Add(fee0)
	position.FeeCollected1 = position.FeeCollected1.Add(fee1)
	position.UpdatedAt = now

	var histories []*model.AccountHistory
	for _, payout := range []struct {
		account *model.Account
		amount  decimal.Decimal
	}{{acc0, fee0}, {acc1, fee1}} {
		if !payout.amount.IsPositive() {
			continue
		}
		history, err := move(payout.account, payout.amount, eventID, operation, position.Identifier, now)
		if err != nil {
			return nil, err
		}
		histories = append(histories, history)
	}

	pool.TotalValueLocked0 = ammmath.ClampZero(pool.TotalValueLocked0.Sub(fee0))
	pool.TotalValueLocked1 = ammmath.ClampZero(pool.TotalValueLocked1.Sub(fee1))
	return histories, nil
}

// updateTick adds delta to the liquidity referencing a tick. It reports
// whether the tick was cleared, i.e. its gross liquidity returned to zero.
func (p *AmmPositionProcessor) updateTick(ctx context.Context, backup *state.Backup, pool *model.AmmPool, bitmap *model.TickBitmap, index int32, delta decimal.Decimal, upper bool, now time.Time) (*model.Tick, bool, error) {
	tick, created, err := p.ledger.TickOrNew(ctx, pool.Pair, index)
	if err != nil {
		return nil, false, err
	}
	backup.SaveTick(tick, created)

	grossBefore := tick.LiquidityGross
	grossAfter, err := ammmath.AddDelta(grossBefore, delta)
	if err != nil {
		return nil, false, fmt.Errorf("tick %d gross liquidity: %w", index, err)
	}
	if delta.IsPositive() && pool.MaxLiquidityPerTick.IsPositive() && grossAfter.GreaterThan(pool.MaxLiquidityPerTick) {
		return nil, false, fmt.Errorf("tick %d: %w", index, ErrTickLiquidityOverflow)
	}

	if grossBefore.IsZero() && !grossAfter.IsZero() {
		// growth before initialization is attributed to the side below the tick
		if index <= pool.CurrentTick {
			tick.FeeGrowthOutside0 = pool.FeeGrowthGlobal0
			tick.FeeGrowthOutside1 = pool.FeeGrowthGlobal1
		}
		tick.Initialized = true
		tick.TickInitializedTimestamp = now
		bitmap.Set(index)
	}

	tick.LiquidityGross = grossAfter
	if upper {
		tick.LiquidityNet = tick.LiquidityNet.Sub(delta)
	} else {
		tick.LiquidityNet = tick.LiquidityNet.Add(delta)
	}

	cleared := !grossBefore.IsZero() && grossAfter.IsZero()
	if cleared {
		bitmap.Clear(index)
	}
	return tick, cleared, nil
}

func validateRange(lower, upper, spacing int32) error {
	if spacing <= 0 {
		return fmt.Errorf("tick spacing %d: %w", spacing, ErrInvalidPool)
	}
	switch {
	case lower >= upper:
		return fmt.Errorf("lower %d >= upper %d: %w", lower, upper, ErrInvalidTickRange)
	case lower < ammmath.MinTick || upper > ammmath.MaxTick:
		return fmt.Errorf("range [%d, %d] out of bounds: %w", lower, upper, ErrInvalidTickRange)
	case lower%spacing != 0 || upper%spacing != 0:
		return fmt.Errorf("range [%d, %d] not a multiple of %d: %w", lower, upper, spacing, ErrInvalidTickRange)
	}
	return nil
}

// withinSlippage checks that actual is no further than tolerance (a fraction)
// from desired.
func withinSlippage(actual, desired, tolerance decimal.Decimal) error {
	if !desired.IsPositive() {
		return nil
	}
	deviation, err := ammmath.DivHalfUp(actual.Sub(desired).Abs(), desired)
	if err != nil {
		return err
	}
	if deviation.GreaterThan(tolerance) {
		return fmt.Errorf("required %s vs desired %s: %w", actual, desired, ErrSlippageExceeded)
	}
	return nil
}
