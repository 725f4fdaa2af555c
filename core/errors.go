package core

import "github.com/pkg/errors"

// Configuration errors. Rejected synchronously at the mutating call,
// storage is left untouched.
var (
	ErrInvalidConfig          = errors.New("invalid config")
	ErrAssetNotListed         = errors.New("asset not listed")
	ErrAssetNotActive         = errors.New("asset not active")
	ErrUnknownTier            = errors.New("unknown collateral tier")
	ErrOracleAlreadyAdded     = errors.New("oracle already added")
	ErrOracleTypeAlreadyAdded = errors.New("oracle type already added")
	ErrOracleNotFound         = errors.New("oracle not found")
	ErrUnknownOracleType      = errors.New("unknown oracle type")
)

// Data-freshness and validity errors. A failing read is never papered over
// with a cached value.
var (
	ErrInvalidPrice           = errors.New("invalid price")
	ErrStalePrice             = errors.New("stale price round")
	ErrPriceTimeout           = errors.New("price feed timeout")
	ErrInvalidPriceVolatility = errors.New("unconfirmed price volatility")
)

// Quorum and safety-trip errors.
var (
	ErrNoOracle              = errors.New("no oracle registered")
	ErrNotEnoughValidOracles = errors.New("not enough valid oracles")
	ErrCircuitBreakerActive  = errors.New("circuit breaker active")
)

// Authorization errors fail before any state read.
var (
	ErrUnauthorized = errors.New("unauthorized")
)

// Ledger and risk errors.
var (
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrPositionNotFound         = errors.New("position not found")
	ErrPositionNotActive        = errors.New("position not active")
	ErrAssetCapacityExceeded    = errors.New("asset supply capacity exceeded")
	ErrIsolationDebtCapExceeded = errors.New("isolation debt cap exceeded")
	ErrIsolatedCollateralMixed  = errors.New("isolated position holds mixed collateral")
	ErrBorrowLimitExceeded      = errors.New("borrow limit exceeded")
	ErrInsufficientCollateral   = errors.New("insufficient collateral")
	ErrInsufficientLiquidity    = errors.New("insufficient pool liquidity")
	ErrNoDebtOutstanding        = errors.New("no debt outstanding")
	ErrPositionNotEmpty         = errors.New("position not empty")
	ErrPositionHealthy          = errors.New("position not liquidatable")
	ErrIllegalLiquidation       = errors.New("illegal liquidation")
	ErrReentrantEvaluation      = errors.New("reentrant evaluation")
	ErrNegativeInterestRate     = errors.New("negative interest rate")
)
