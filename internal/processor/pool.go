package processor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"exchangeCore/internal/ammmath"
	"exchangeCore/internal/model"
	"exchangeCore/internal/state"
)

// AmmPoolProcessor creates pools and updates their fee and active flag.
// The price of an existing pool only moves through swaps.
type AmmPoolProcessor struct {
	base
}

func NewAmmPoolProcessor(ledger *state.Ledger, clock Clock, logger *zap.Logger) *AmmPoolProcessor {
	return &AmmPoolProcessor{base: newBase(ledger, clock, logger)}
}

func (p *AmmPoolProcessor) Process(ctx context.Context, ev *model.Event) (res *model.Result) {
	now := p.clock()
	res = model.NewResult(ev, now)
	defer p.recoverInto(res)

	if ev == nil || ev.Pool == nil {
		return res.Fail(ErrMissingPayload)
	}
	params := ev.Pool

	if params.Pair == "" {
		return res.Fail(fmt.Errorf("pair is empty: %w", ErrInvalidPool))
	}
	if !params.FeePercentage.IsPositive() || params.FeePercentage.GreaterThanOrEqual(ammmath.One) {
		return res.Fail(fmt.Errorf("fee %s: %w", params.FeePercentage, ErrInvalidPool))
	}

	pool, err := p.ledger.Pool(ctx, params.Pair)
	switch {
	case errors.Is(err, state.ErrNotFound):
		pool, err = p.newPool(params)
		if err != nil {
			return res.Fail(err)
		}
	case err != nil:
		return res.Fail(err)
	default:
		if params.TickSpacing != 0 && params.TickSpacing != pool.TickSpacing {
			return res.Fail(fmt.Errorf("tick spacing of %s is fixed at %d: %w", pool.Pair, pool.TickSpacing, ErrInvalidPool))
		}
		if (params.Token0 != "" && params.Token0 != pool.Token0) || (params.Token1 != "" && params.Token1 != pool.Token1) {
			return res.Fail(fmt.Errorf("tokens of %s are fixed: %w", pool.Pair, ErrInvalidPool))
		}
	}

	bitmap, err := p.ledger.Bitmap(ctx, params.Pair)
	if err != nil {
		return res.Fail(err)
	}

	created := pool.CreatedAt.IsZero()
	err = p.transact(func(backup *state.Backup) error {
		backup.SavePool(pool, created)

		pool.FeePercentage = params.FeePercentage
		if params.IsActive != nil {
			pool.IsActive = *params.IsActive
		}
		if created {
			pool.CreatedAt = now
		}
		pool.UpdatedAt = now
		p.ledger.PutPool(pool)

		res.Pool = pool.Clone()
		res.TickBitmap = bitmap.Clone()
		return nil
	})
	if err != nil {
		return res.Fail(err)
	}

	p.logger.Info("pool updated",
		zap.String("pool", pool.Pair),
		zap.Bool("created", created),
		zap.Int32("tick", pool.CurrentTick),
		zap.Bool("active", pool.IsActive),
	)
	res.Success = true
	return res
}

func (p *AmmPoolProcessor) newPool(params *model.PoolParams) (*model.AmmPool, error) {
	if params.Token0 == "" || params.Token1 == "" || params.Token0 == params.Token1 {
		return nil, fmt.Errorf("tokens %q/%q: %w", params.Token0, params.Token1, ErrInvalidPool)
	}
	if params.TickSpacing <= 0 {
		return nil, fmt.Errorf("tick spacing %d: %w", params.TickSpacing, ErrInvalidPool)
	}
	if params.InitialTick < ammmath.MinTick || params.InitialTick > ammmath.MaxTick {
		return nil, fmt.Errorf("initial tick %d: %w", params.InitialTick, ErrInvalidTickRange)
	}

	return &model.AmmPool{
		Pair:                params.Pair,
		Token0:              params.Token0,
		Token1:              params.Token1,
		FeePercentage:       params.FeePercentage,
		TickSpacing:         params.TickSpacing,
		CurrentTick:         params.InitialTick,
		SqrtPrice:           ammmath.TickToSqrtPrice(params.InitialTick),
		Liquidity:           ammmath.Zero,
		FeeGrowthGlobal0:    ammmath.Zero,
		FeeGrowthGlobal1:    ammmath.Zero,
		TotalValueLocked0:   ammmath.Zero,
		TotalValueLocked1:   ammmath.Zero,
		Volume0:             ammmath.Zero,
		Volume1:             ammmath.Zero,
		MaxLiquidityPerTick: ammmath.MaxLiquidityPerTick(params.TickSpacing),
		IsActive:            true,
	}, nil
}
