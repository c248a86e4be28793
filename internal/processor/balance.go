package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"exchangeCore/internal/model"
	"exchangeCore/internal/state"
)

// BalanceProcessor credits or debits the available balance of one account.
type BalanceProcessor struct {
	base
	operation string
	withdraw  bool
}

func NewDepositProcessor(ledger *state.Ledger, clock Clock, logger *zap.Logger) *BalanceProcessor {
	return &BalanceProcessor{base: newBase(ledger, clock, logger), operation: "deposit"}
}

func NewWithdrawalProcessor(ledger *state.Ledger, clock Clock, logger *zap.Logger) *BalanceProcessor {
	return &BalanceProcessor{base: newBase(ledger, clock, logger), operation: "withdrawal", withdraw: true}
}

func (p *BalanceProcessor) Process(ctx context.Context, ev *model.Event) (res *model.Result) {
	now := p.clock()
	res = model.NewResult(ev, now)
	defer p.recoverInto(res)

	if ev == nil || ev.Balance == nil {
		return res.Fail(ErrMissingPayload)
	}
	params := ev.Balance
	if params.AccountKey == "" || params.Coin == "" {
		return res.Fail(fmt.Errorf("account %q coin %q: %w", params.AccountKey, params.Coin, ErrInvalidAccounts))
	}
	if !params.Amount.IsPositive() {
		return res.Fail(fmt.Errorf("%s amount %s: %w", p.operation, params.Amount, ErrInvalidAmount))
	}

	account, created, err := p.ledger.AccountOrNew(ctx, params.AccountKey, params.Coin)
	if err != nil {
		return res.Fail(err)
	}
	if account.Coin != "" && account.Coin != params.Coin {
		return res.Fail(fmt.Errorf("account %s holds %s, not %s: %w", account.Key, account.Coin, params.Coin, ErrInvalidAccounts))
	}

	delta := params.Amount
	if p.withdraw {
		if err := requireBalance(account, delta); err != nil {
			return res.Fail(err)
		}
		delta = delta.Neg()
	}

	err = p.transact(func(backup *state.Backup) error {
		backup.SaveAccount(account, created)
		history, err := move(account, delta, ev.ID, p.operation, ev.ID, now)
		if err != nil {
			return err
		}
		p.ledger.PutAccount(account)
		res.Accounts = cloneAccounts(account)
		res.Histories = []*model.AccountHistory{history}
		return nil
	})
	if err != nil {
		return res.Fail(err)
	}
	res.Success = true
	return res
}
