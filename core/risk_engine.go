package core

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// HealthReport is one evaluation of a position's solvency. Debt is
// denominated in the base liquidity asset, which the ledger treats as the
// USD unit of account.
type HealthReport struct {
	CollateralValue  decimal.Decimal `json:"collateralValue"`
	DebtValue        decimal.Decimal `json:"debtValue"`
	BorrowLimit      decimal.Decimal `json:"borrowLimit"`
	LiquidationLimit decimal.Decimal `json:"liquidationLimit"`
	HealthRatio      decimal.Decimal `json:"healthRatio"`
}

func (h *HealthReport) Liquidatable() bool {
	return h.DebtValue.GreaterThan(ZERO_AMOUNT_THRESHOLD) && h.HealthRatio.LessThan(ONE)
}

// RiskEngine computes position health from aggregator prices and registry
// thresholds. A failure pricing any one collateral asset fails the whole
// evaluation; this result gates fund movement, so correctness beats
// availability.
type RiskEngine struct {
	log    Log
	assets AssetStore
	agg    *Aggregator

	// In-progress markers rejecting re-entrant evaluation of the same
	// position.
	inProgress map[uuid.UUID]bool
}

func NewRiskEngine(log Log, assets AssetStore, agg *Aggregator) *RiskEngine {
	return &RiskEngine{
		log:        log,
		assets:     assets,
		agg:        agg,
		inProgress: make(map[uuid.UUID]bool),
	}
}

func (r *RiskEngine) acquire(positionId uuid.UUID) error {
	if r.inProgress[positionId] {
		return ErrReentrantEvaluation
	}
	r.inProgress[positionId] = true
	return nil
}

func (r *RiskEngine) release(positionId uuid.UUID) {
	delete(r.inProgress, positionId)
}

// Evaluate prices the position's collateral and computes its limits and
// health ratio against the given pool state.
func (r *RiskEngine) Evaluate(ctx context.Context, position *Position, pool *LiquidityPool) (*HealthReport, error) {
	if err := r.acquire(position.Id); err != nil {
		return nil, err
	}
	defer r.release(position.Id)

	return r.evaluateLocked(ctx, position, pool)
}

func (r *RiskEngine) evaluateLocked(ctx context.Context, position *Position, pool *LiquidityPool) (*HealthReport, error) {
	collateralValue := decimal.Zero
	borrowLimit := decimal.Zero
	liquidationLimit := decimal.Zero

	for _, assetId := range position.CollateralAssetIds() {
		// Only the isolated asset counts toward an isolated position.
		if position.IsIsolated && assetId != position.IsolatedAssetId {
			continue
		}

		asset, err := r.assets.GetAsset(ctx, assetId)
		if err != nil {
			return nil, ErrAssetNotListed
		}

		price, err := r.agg.GetPrice(ctx, assetId)
		if err != nil {
			return nil, err
		}

		value := position.CollateralAmount(assetId).Mul(price)
		collateralValue = collateralValue.Add(value)
		borrowLimit = borrowLimit.Add(value.Mul(asset.BorrowWeight()))
		liquidationLimit = liquidationLimit.Add(value.Mul(asset.LiquidationWeight()))
	}

	debtValue := position.DebtAmount(pool.BorrowIndexes[position.AppliedTier])

	healthRatio := MAX_HEALTH_RATIO
	if debtValue.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
		healthRatio = liquidationLimit.Div(debtValue)
	}

	return &HealthReport{
		CollateralValue:  collateralValue,
		DebtValue:        debtValue,
		BorrowLimit:      borrowLimit,
		LiquidationLimit: liquidationLimit,
		HealthRatio:      healthRatio,
	}, nil
}

// CheckBorrowAllowed validates a position's post-mutation state against its
// borrow limit and, for isolated positions, the isolation debt cap.
func (r *RiskEngine) CheckBorrowAllowed(ctx context.Context, position *Position, pool *LiquidityPool) (*HealthReport, error) {
	report, err := r.Evaluate(ctx, position, pool)
	if err != nil {
		return nil, err
	}

	if position.IsIsolated {
		asset, err := r.assets.GetAsset(ctx, position.IsolatedAssetId)
		if err != nil {
			return nil, ErrAssetNotListed
		}
		if report.DebtValue.GreaterThan(asset.IsolationDebtCap) {
			return nil, ErrIsolationDebtCapExceeded
		}
	}

	if report.DebtValue.GreaterThan(report.BorrowLimit) {
		return nil, ErrBorrowLimitExceeded
	}
	return report, nil
}

// CheckLiquidatable returns the pre-liquidation report or fails when the
// position is still healthy.
func (r *RiskEngine) CheckLiquidatable(ctx context.Context, position *Position, pool *LiquidityPool) (*HealthReport, error) {
	report, err := r.Evaluate(ctx, position, pool)
	if err != nil {
		return nil, err
	}
	if !report.Liquidatable() {
		return nil, ErrPositionHealthy
	}
	return report, nil
}
