package core

import (
	"context"

	"github.com/shopspring/decimal"
)

type (
	PoolStore interface {
		GetPool(ctx context.Context) (*LiquidityPool, error)
		UpsertPool(ctx context.Context, pool *LiquidityPool) error

		GetAssetTVL(ctx context.Context, assetId string) (decimal.Decimal, error)
		SetAssetTVL(ctx context.Context, assetId string, amount decimal.Decimal) error
	}

	// LiquidityPool tracks the base liquidity asset: supplied liquidity,
	// outstanding borrows per tier and the per-tier borrow indexes that
	// debt positions reference.
	LiquidityPool struct {
		TotalLiquidity decimal.Decimal            `json:"totalLiquidity"`
		TotalBorrowed  [TierCount]decimal.Decimal `json:"totalBorrowed"`
		BorrowIndexes  [TierCount]decimal.Decimal `json:"borrowIndexes"`

		LastAccrual int64 `json:"lastAccrual"`
	}

	// InterestRateModel is the shared utilization curve; each tier adds its
	// jump-rate on top of the base rate.
	InterestRateModel struct {
		OptimalUtilizationRate decimal.Decimal `json:"optimalUtilizationRate"`
		PlateauInterestRate    decimal.Decimal `json:"plateauInterestRate"`
		MaxInterestRate        decimal.Decimal `json:"maxInterestRate"`
	}
)

func NewLiquidityPool(now int64) *LiquidityPool {
	pool := &LiquidityPool{
		TotalLiquidity: decimal.Zero,
		LastAccrual:    now,
	}
	for i := range pool.BorrowIndexes {
		pool.BorrowIndexes[i] = ONE
		pool.TotalBorrowed[i] = decimal.Zero
	}
	return pool
}

func (p *LiquidityPool) Clone() *LiquidityPool {
	clone := *p
	return &clone
}

func (p *LiquidityPool) TotalBorrowedSum() decimal.Decimal {
	total := decimal.Zero
	for _, borrowed := range p.TotalBorrowed {
		total = total.Add(borrowed)
	}
	return total
}

func (p *LiquidityPool) AvailableLiquidity() decimal.Decimal {
	return decimal.Max(decimal.Zero, p.TotalLiquidity.Sub(p.TotalBorrowedSum()))
}

func (p *LiquidityPool) Utilization() decimal.Decimal {
	if p.TotalLiquidity.IsZero() {
		return decimal.Zero
	}
	return p.TotalBorrowedSum().Div(p.TotalLiquidity)
}

// AccrueInterest advances every tier borrow index to currentTimestamp. The
// result is a pure function of the pool state, the policy table and the
// elapsed time, so replaying the same inputs yields the same indexes.
func (p *LiquidityPool) AccrueInterest(model InterestRateModel, policies *TierPolicySet, currentTimestamp int64) error {
	timeDelta := currentTimestamp - p.LastAccrual
	if timeDelta <= 0 {
		return nil
	}
	p.LastAccrual = currentTimestamp

	utilization := p.Utilization()
	for tier := range p.BorrowIndexes {
		rate, err := model.BorrowRate(utilization, policies[tier].JumpRateRatio())
		if err != nil {
			return err
		}
		index, err := CalcAccruedIndex(p.BorrowIndexes[tier], rate, uint64(timeDelta))
		if err != nil {
			return err
		}
		growth := index.Div(p.BorrowIndexes[tier])
		p.BorrowIndexes[tier] = index
		p.TotalBorrowed[tier] = p.TotalBorrowed[tier].Mul(growth)
	}
	return nil
}

func DefaultInterestRateModel() InterestRateModel {
	return InterestRateModel{
		OptimalUtilizationRate: decimal.NewFromFloat(0.8),
		PlateauInterestRate:    decimal.NewFromFloat(0.1),
		MaxInterestRate:        decimal.NewFromFloat(1.0),
	}
}

func (m *InterestRateModel) Validate() error {
	optimalUr := m.OptimalUtilizationRate
	plateauIr := m.PlateauInterestRate
	maxIr := m.MaxInterestRate

	if optimalUr.LessThanOrEqual(decimal.Zero) || optimalUr.GreaterThanOrEqual(ONE) {
		return ErrInvalidConfig
	}
	if plateauIr.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidConfig
	}
	if maxIr.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidConfig
	}
	if plateauIr.GreaterThanOrEqual(maxIr) {
		return ErrInvalidConfig
	}
	return nil
}

// BaseRate is the utilization curve: linear up to the optimal utilization,
// then a steeper ramp to the max rate.
func (m *InterestRateModel) BaseRate(utilizationRatio decimal.Decimal) decimal.Decimal {
	optimalUr := m.OptimalUtilizationRate
	plateauIr := m.PlateauInterestRate
	maxIr := m.MaxInterestRate

	if utilizationRatio.LessThanOrEqual(optimalUr) {
		// ur / optimal_ur * plateau_ir
		return utilizationRatio.Mul(plateauIr).Div(optimalUr)
	}

	// (ur - optimal_ur) / (1 - optimal_ur) * (max_ir - plateau_ir) + plateau_ir
	oneMinusOptimalUr := ONE.Sub(optimalUr)
	maxIrMinusPlateau := maxIr.Sub(plateauIr)
	utilizationRatioMinusOptimalUr := utilizationRatio.Sub(optimalUr)

	return utilizationRatioMinusOptimalUr.Div(oneMinusOptimalUr).Mul(maxIrMinusPlateau).Add(plateauIr)
}

// BorrowRate adds the tier jump-rate on top of the base curve.
func (m *InterestRateModel) BorrowRate(utilizationRatio, tierJumpRate decimal.Decimal) (decimal.Decimal, error) {
	rate := m.BaseRate(utilizationRatio).Add(tierJumpRate)
	if rate.LessThan(decimal.Zero) {
		return decimal.Zero, ErrNegativeInterestRate
	}
	return rate, nil
}

// CalcAccruedIndex compounds an index over timeDelta seconds at the given
// annual rate.
func CalcAccruedIndex(index, rate decimal.Decimal, timeDelta uint64) (decimal.Decimal, error) {
	if rate.LessThan(decimal.Zero) {
		return decimal.Zero, ErrNegativeInterestRate
	}
	irPerPeriod := rate.Mul(decimal.NewFromInt(int64(timeDelta))).Div(decimal.NewFromInt(SECONDS_PER_YEAR))
	return index.Mul(ONE.Add(irPerPeriod)), nil
}
