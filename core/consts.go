package core

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	SECONDS_PER_YEAR = 31_536_000

	// Thresholds are stored as integers on a scale of 1000 (990 = 99.0%).
	THRESHOLD_SCALE = 1000

	MAX_LIQUIDATION_THRESHOLD = 990
	// Minimum gap between borrow and liquidation thresholds (1%).
	MIN_THRESHOLD_BUFFER = 10

	// Tier rates and fees are stored as integers on a scale of 1e6.
	RATE_SCALE = 1_000_000

	MAX_TIER_JUMP_RATE       = 250_000 // 25%
	MAX_TIER_LIQUIDATION_FEE = 100_000 // 10%

	MIN_FRESHNESS_THRESHOLD = 15 * 60
	MAX_FRESHNESS_THRESHOLD = 24 * 60 * 60

	MIN_VOLATILITY_THRESHOLD = 5 * 60
	MAX_VOLATILITY_THRESHOLD = 4 * 60 * 60

	MIN_VOLATILITY_PERCENTAGE = 5
	MAX_VOLATILITY_PERCENTAGE = 30

	MIN_CIRCUIT_BREAKER_THRESHOLD = 25
	MAX_CIRCUIT_BREAKER_THRESHOLD = 70
)

var (
	ONE     = decimal.NewFromInt(1)
	HUNDRED = decimal.NewFromInt(100)

	ZERO_AMOUNT_THRESHOLD   = decimal.Zero
	EMPTY_BALANCE_THRESHOLD = decimal.NewFromFloat(0.00000001)

	// Health ratio reported for a position with zero debt.
	MAX_HEALTH_RATIO = decimal.NewFromInt(math.MaxInt32)

	thresholdScale = decimal.NewFromInt(THRESHOLD_SCALE)
	rateScale      = decimal.NewFromInt(RATE_SCALE)
)

// ThresholdRatio converts a stored per-mille threshold into a decimal weight.
func ThresholdRatio(threshold uint64) decimal.Decimal {
	return decimal.NewFromUint64(threshold).Div(thresholdScale)
}

// RateRatio converts a stored 1e6-scale rate into a decimal rate.
func RateRatio(rate uint64) decimal.Decimal {
	return decimal.NewFromUint64(rate).Div(rateScale)
}
