package processor

import "errors"

var (
	ErrMissingPayload        = errors.New("event payload missing")
	ErrInvalidStatus         = errors.New("invalid status")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidAccounts       = errors.New("invalid owner accounts")
	ErrInvalidPool           = errors.New("invalid pool parameters")
	ErrInvalidTickRange      = errors.New("invalid tick range")
	ErrPoolNotFound          = errors.New("pool not found")
	ErrPoolInactive          = errors.New("pool is not active")
	ErrPositionNotFound      = errors.New("position not found")
	ErrPositionExists        = errors.New("position already exists")
	ErrTickNotFound          = errors.New("initialized tick not found")
	ErrTickLiquidityOverflow = errors.New("tick liquidity exceeds maximum")
	ErrZeroLiquidity         = errors.New("liquidity must be positive")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrSlippageExceeded      = errors.New("slippage tolerance exceeded")
	ErrNoFill                = errors.New("swap filled nothing")
	ErrSwapStepLimit         = errors.New("swap step limit reached")
	ErrPanic                 = errors.New("processor panic")
)
