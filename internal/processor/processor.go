// Package processor applies events to the ledger. Every processor validates
// first, saves the entities it is about to touch, mutates them and either
// commits or restores the saved copies.
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

// Processor handles one event kind. Process never panics and never returns nil.
type Processor interface {
	Process(ctx context.Context, ev *model.Event) *model.Result
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, ev *model.Event) *model.Result

func (f ProcessorFunc) Process(ctx context.Context, ev *model.Event) *model.Result {
	return f(ctx, ev)
}

// Clock supplies event timestamps.
type Clock func() time.Time

type base struct {
	ledger *state.Ledger
	clock  Clock
	logger *zap.Logger
}

func newBase(ledger *state.Ledger, clock Clock, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return base{ledger: ledger, clock: clock, logger: logger}
}

// recoverInto converts a panic into a failed result. Entities saved in a
// backup are restored by transact before the panic reaches here.
func (b base) recoverInto(res *model.Result) {
	if r := recover(); r != nil {
		b.logger.Error("processor panic",
			zap.String("event_id", res.EventID),
			zap.String("kind", string(res.Kind)),
			zap.Any("panic", r),
		)
		res.Fail(fmt.Errorf("%w: %v", ErrPanic, r))
	}
}

// transact runs fn against a fresh backup and rolls everything saved in it
// back unless fn returns nil.
func (b base) transact(fn func(*state.Backup) error) error {
	backup := b.ledger.Begin()
	committed := false
	defer func() {
		if !committed {
			backup.Rollback()
		}
	}()
	if err := fn(backup); err != nil {
		return err
	}
	committed = true
	return nil
}

func (b base) pool(ctx context.Context, pair string) (*model.AmmPool, error) {
	pool, err := b.ledger.Pool(ctx, pair)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", pair, ErrPoolNotFound)
		}
		return nil, err
	}
	return pool, nil
}

func (b base) activePool(ctx context.Context, pair string) (*model.AmmPool, error) {
	pool, err := b.pool(ctx, pair)
	if err != nil {
		return nil, err
	}
	if !pool.IsActive {
		return nil, fmt.Errorf("%s: %w", pair, ErrPoolInactive)
	}
	return pool, nil
}

func (b base) tick(ctx context.Context, pair string, index int32) (*model.Tick, error) {
	tick, err := b.ledger.Tick(ctx, pair, index)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", model.TickKey(pair, index), ErrTickNotFound)
		}
		return nil, err
	}
	return tick, nil
}

// ownerAccounts resolves the token0 and token1 accounts of an owner.
func (b base) ownerAccounts(ctx context.Context, pool *model.AmmPool, key0, key1 string) (acc0, acc1 *model.Account, created0, created1 bool, err error) {
	if key0 == "" || key1 == "" || key0 == key1 {
		return nil, nil, false, false, fmt.Errorf("%q/%q: %w", key0, key1, ErrInvalidAccounts)
	}
	acc0, created0, err = b.ledger.AccountOrNew(ctx, key0, pool.Token0)
	if err != nil {
		return nil, nil, false, false, err
	}
	acc1, created1, err = b.ledger.AccountOrNew(ctx, key1, pool.Token1)
	if err != nil {
		return nil, nil, false, false, err
	}
	return acc0, acc1, created0, created1, nil
}

// move applies a signed change to an account's available balance and records it.
func move(account *model.Account, delta decimal.Decimal, eventID, operation, reference string, now time.Time) (*model.AccountHistory, error) {
	before := account.Clone()
	next := ammmath.Normalize(account.Available.Add(delta))
	if next.IsNegative() {
		return nil, fmt.Errorf("%s needs %s, has %s: %w", account.Key, delta.Neg(), account.Available, ErrInsufficientBalance)
	}
	account.Available = next
	account.UpdatedAt = now
	return model.NewAccountHistory(before, account, eventID, operation, reference, now), nil
}

func requireBalance(account *model.Account, amount decimal.Decimal) error {
	if account.Available.LessThan(amount) {
		return fmt.Errorf("%s needs %s, has %s: %w", account.Key, amount, account.Available, ErrInsufficientBalance)
	}
	return nil
}

// slippageChecked reports whether a tolerance enables the check: 0 and
// anything >= 1 turn it off.
func slippageChecked(tolerance decimal.Decimal) bool {
	return tolerance.IsPositive() && tolerance.LessThan(ammmath.One)
}

func cloneAccounts(accounts ...*model.Account) []*model.Account {
	out := make([]*model.Account, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, account.Clone())
	}
	return out
}

func cloneTicks(ticks []*model.Tick) []*model.Tick {
	out := make([]*model.Tick, 0, len(ticks))
	for _, tick := range ticks {
		out = append(out, tick.Clone())
	}
	return out
}

// NewRegistry wires every processor to one ledger.
func NewRegistry(ledger *state.Ledger, clock Clock, logger *zap.Logger) map[model.EventKind]Processor {
	positions := NewAmmPositionProcessor(ledger, clock, logger)
	return map[model.EventKind]Processor{
		model.KindAmmPool:               NewAmmPoolProcessor(ledger, clock, logger),
		model.KindAmmOrder:              NewAmmOrderProcessor(ledger, clock, logger),
		model.KindAmmPositionCreate:     positions.Create(),
		model.KindAmmPositionCollectFee: positions.CollectFee(),
		model.KindAmmPositionClose:      positions.Close(),
		model.KindCoinDeposit:           NewDepositProcessor(ledger, clock, logger),
		model.KindCoinWithdrawal:        NewWithdrawalProcessor(ledger, clock, logger),
	}
}
