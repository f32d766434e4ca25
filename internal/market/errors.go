// internal/market/errors.go
package market

import "errors"

// Trade and admin failures. Every failure leaves ledger state exactly as it
// was; sells past the curve-tracked supply surface curve.ErrInsufficientSupply
// and arithmetic faults surface fixedpoint.ErrOverflow, both unwrapped with
// errors.Is.
var (
	ErrAlreadyMigrated      = errors.New("market: already migrated")
	ErrZeroAmount           = errors.New("market: amount must be positive")
	ErrBelowMinimumPurchase = errors.New("market: purchase below minimum threshold")
	ErrSameBlockTrade       = errors.New("market: address already traded in this block")
	ErrSlippageExceeded     = errors.New("market: slippage tolerance exceeded")
	ErrInsufficientBalance  = errors.New("market: insufficient custody balance")
	ErrNotOwner             = errors.New("market: caller is not the market owner")
	ErrInvalidFeeRates      = errors.New("market: fee rates exceed 10000 bps")
	ErrInvalidMetadata      = errors.New("market: invalid token metadata")
	ErrZeroAddress          = errors.New("market: zero address")
)
