package core

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// Ledger owns per-user positions and the base liquidity pool. Every mutation
// validates against a fresh RiskEngine result before any store write, so an
// operation either applies fully or not at all.
type Ledger struct {
	clk        clock.Clock
	log        Log
	positions  PositionStore
	pool       PoolStore
	operations OperationStore
	registry   *Registry
	risk       *RiskEngine
	model      InterestRateModel
}

func NewLedger(clk clock.Clock, log Log, positions PositionStore, pool PoolStore, operations OperationStore, registry *Registry, risk *RiskEngine, model InterestRateModel) *Ledger {
	return &Ledger{
		clk:        clk,
		log:        log,
		positions:  positions,
		pool:       pool,
		operations: operations,
		registry:   registry,
		risk:       risk,
		model:      model,
	}
}

func (l *Ledger) GetUserPosition(ctx context.Context, userId uuid.UUID, index uint8) (*Position, error) {
	position, err := l.positions.GetPosition(ctx, userId, index)
	if err != nil {
		return nil, ErrPositionNotFound
	}
	return position, nil
}

// AssetTVL reports the total supplied amount of a collateral asset.
func (l *Ledger) AssetTVL(ctx context.Context, assetId string) (decimal.Decimal, error) {
	return l.pool.GetAssetTVL(ctx, assetId)
}

// accruedPool loads the pool with all tier indexes advanced to now. The
// caller commits it with the rest of the operation's writes.
func (l *Ledger) accruedPool(ctx context.Context) (*LiquidityPool, *TierPolicySet, error) {
	pool, err := l.pool.GetPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	policies, err := l.registry.TierPolicies(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.AccrueInterest(l.model, policies, l.clk.Now().Unix()); err != nil {
		return nil, nil, err
	}
	return pool, policies, nil
}

// Supply deposits collateral into a position. A deactivated asset blocks new
// supply; withdrawals and liquidations stay open.
func (l *Ledger) Supply(ctx context.Context, userId uuid.UUID, index uint8, assetId string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	asset, err := l.registry.GetAssetInfo(ctx, assetId)
	if err != nil {
		return err
	}
	if !asset.Active {
		return ErrAssetNotActive
	}

	tvl, err := l.pool.GetAssetTVL(ctx, assetId)
	if err != nil {
		return err
	}
	atCapacity, err := l.registry.IsAssetAtCapacity(ctx, assetId, tvl, amount)
	if err != nil {
		return err
	}
	if atCapacity {
		return ErrAssetCapacityExceeded
	}

	position, err := FindOrCreatePosition(ctx, l.clk, l.positions, userId, index)
	if err != nil {
		return err
	}
	if err := position.EnsureActive(); err != nil {
		return err
	}

	if err := l.checkIsolation(position, asset); err != nil {
		return err
	}
	if asset.IsIsolated() {
		position.IsIsolated = true
		position.IsolatedAssetId = assetId
	}

	position.AddCollateral(assetId, amount)
	position.LastUpdate = l.clk.Now().Unix()

	if err := l.positions.UpsertPosition(ctx, position); err != nil {
		return err
	}
	if err := l.pool.SetAssetTVL(ctx, assetId, tvl.Add(amount)); err != nil {
		return err
	}

	l.journal(ctx, position, ActionSupply, OperationDetail{AssetId: assetId, Amount: amount})
	return nil
}

// checkIsolation rejects mixing isolated-tier collateral with anything else.
func (l *Ledger) checkIsolation(position *Position, asset *Asset) error {
	if position.IsIsolated {
		if asset.Id != position.IsolatedAssetId {
			return ErrIsolatedCollateralMixed
		}
		return nil
	}
	if asset.IsIsolated() && position.HasCollateral() {
		return ErrIsolatedCollateralMixed
	}
	return nil
}

func (l *Ledger) Withdraw(ctx context.Context, userId uuid.UUID, index uint8, assetId string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	position, err := l.GetUserPosition(ctx, userId, index)
	if err != nil {
		return err
	}
	if err := position.EnsureActive(); err != nil {
		return err
	}

	pool, _, err := l.accruedPool(ctx)
	if err != nil {
		return err
	}
	position.AccrueTo(pool.BorrowIndexes[position.AppliedTier])

	if err := position.RemoveCollateral(assetId, amount); err != nil {
		return err
	}

	// A debt-free withdrawal needs no valuation; with debt outstanding the
	// post-withdraw state must stay inside the borrow limit.
	if position.HasDebt() {
		if _, err := l.risk.CheckBorrowAllowed(ctx, position, pool); err != nil {
			return err
		}
	}

	// Fully unwinding an isolated position releases it for cross collateral.
	if position.IsIsolated && !position.HasCollateral() && !position.HasDebt() {
		position.IsIsolated = false
		position.IsolatedAssetId = ""
	}

	position.LastUpdate = l.clk.Now().Unix()

	if err := l.commitPosition(ctx, position, pool); err != nil {
		return err
	}

	tvl, err := l.pool.GetAssetTVL(ctx, assetId)
	if err != nil {
		return err
	}
	if err := l.pool.SetAssetTVL(ctx, assetId, decimal.Max(decimal.Zero, tvl.Sub(amount))); err != nil {
		return err
	}

	l.journal(ctx, position, ActionWithdraw, OperationDetail{AssetId: assetId, Amount: amount})
	return nil
}

func (l *Ledger) Borrow(ctx context.Context, userId uuid.UUID, index uint8, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	position, err := l.GetUserPosition(ctx, userId, index)
	if err != nil {
		return err
	}
	if err := position.EnsureActive(); err != nil {
		return err
	}

	pool, _, err := l.accruedPool(ctx)
	if err != nil {
		return err
	}

	if amount.GreaterThan(pool.AvailableLiquidity()) {
		return ErrInsufficientLiquidity
	}

	// The applied tier is fixed while debt is outstanding; a fresh borrow
	// re-derives it from the current collateral.
	if !position.HasDebt() {
		tier, err := l.applicableTier(ctx, position)
		if err != nil {
			return err
		}
		position.AppliedTier = tier
		position.DebtIndexAtLastAccrual = pool.BorrowIndexes[tier]
	} else {
		position.AccrueTo(pool.BorrowIndexes[position.AppliedTier])
	}

	position.DebtPrincipal = position.DebtPrincipal.Add(amount)

	if _, err := l.risk.CheckBorrowAllowed(ctx, position, pool); err != nil {
		return err
	}

	pool.TotalBorrowed[position.AppliedTier] = pool.TotalBorrowed[position.AppliedTier].Add(amount)
	position.LastUpdate = l.clk.Now().Unix()

	if err := l.commitPosition(ctx, position, pool); err != nil {
		return err
	}

	l.journal(ctx, position, ActionBorrow, OperationDetail{Amount: amount})
	return nil
}

func (l *Ledger) Repay(ctx context.Context, userId uuid.UUID, index uint8, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}

	position, err := l.GetUserPosition(ctx, userId, index)
	if err != nil {
		return decimal.Zero, err
	}
	if err := position.EnsureActive(); err != nil {
		return decimal.Zero, err
	}

	pool, _, err := l.accruedPool(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	position.AccrueTo(pool.BorrowIndexes[position.AppliedTier])

	if !position.HasDebt() {
		return decimal.Zero, ErrNoDebtOutstanding
	}

	repaid := decimal.Min(amount, position.DebtPrincipal)
	position.DebtPrincipal = position.DebtPrincipal.Sub(repaid)
	if position.DebtPrincipal.LessThan(EMPTY_BALANCE_THRESHOLD) {
		position.DebtPrincipal = decimal.Zero
	}

	tier := position.AppliedTier
	pool.TotalBorrowed[tier] = decimal.Max(decimal.Zero, pool.TotalBorrowed[tier].Sub(repaid))
	position.LastUpdate = l.clk.Now().Unix()

	if err := l.commitPosition(ctx, position, pool); err != nil {
		return decimal.Zero, err
	}

	l.journal(ctx, position, ActionRepay, OperationDetail{Amount: repaid})
	return repaid, nil
}

// Close marks a fully unwound position CLOSED. Closed is terminal.
func (l *Ledger) Close(ctx context.Context, userId uuid.UUID, index uint8) error {
	position, err := l.GetUserPosition(ctx, userId, index)
	if err != nil {
		return err
	}

	pool, _, err := l.accruedPool(ctx)
	if err != nil {
		return err
	}
	position.AccrueTo(pool.BorrowIndexes[position.AppliedTier])

	if err := position.MarkClosed(l.clk); err != nil {
		return err
	}

	if err := l.commitPosition(ctx, position, pool); err != nil {
		return err
	}

	l.journal(ctx, position, ActionClose, OperationDetail{})
	return nil
}

// Liquidate repays the full outstanding debt of an unhealthy position. The
// liquidator receives collateral worth the debt plus the tier fee, drawn
// from preferredAssetId first; residual collateral is returned to the owner
// and the position is marked LIQUIDATED. Liquidated is terminal.
func (l *Ledger) Liquidate(ctx context.Context, liquidatorId, userId uuid.UUID, index uint8, preferredAssetId string) (*LiquidateResult, error) {
	position, err := l.GetUserPosition(ctx, userId, index)
	if err != nil {
		return nil, err
	}
	if err := position.EnsureActive(); err != nil {
		return nil, err
	}
	if position.UserId == liquidatorId {
		return nil, ErrIllegalLiquidation
	}

	pool, policies, err := l.accruedPool(ctx)
	if err != nil {
		return nil, err
	}
	position.AccrueTo(pool.BorrowIndexes[position.AppliedTier])

	preReport, err := l.risk.CheckLiquidatable(ctx, position, pool)
	if err != nil {
		return nil, err
	}

	debt := preReport.DebtValue
	fee := policies[position.AppliedTier].LiquidationFeeRatio()
	seizeTarget := debt.Mul(ONE.Add(fee))

	seized, returned, shortfall, err := l.seizeCollateral(ctx, position, preferredAssetId, seizeTarget)
	if err != nil {
		return nil, err
	}

	position.DebtPrincipal = decimal.Zero
	position.Collateral = make(map[string]decimal.Decimal)

	tier := position.AppliedTier
	pool.TotalBorrowed[tier] = decimal.Max(decimal.Zero, pool.TotalBorrowed[tier].Sub(debt))

	if err := position.MarkLiquidated(l.clk); err != nil {
		return nil, err
	}

	postReport, err := l.risk.Evaluate(ctx, position, pool)
	if err != nil {
		return nil, err
	}

	if err := l.commitPosition(ctx, position, pool); err != nil {
		return nil, err
	}

	result := &LiquidateResult{
		PreHealth:          preReport.HealthRatio,
		PostHealth:         postReport.HealthRatio,
		Repaid:             debt,
		LiquidationFee:     fee,
		SeizedCollateral:   seized,
		ReturnedCollateral: returned,
		Shortfall:          shortfall,
	}

	l.log.Info().
		Str("position", position.Id.String()).
		Str("repaid", debt.String()).
		Str("preHealth", preReport.HealthRatio.String()).
		Msg("position liquidated")

	l.journal(ctx, position, ActionLiquidate, OperationDetail{Liquidation: result})
	return result, nil
}

// seizeCollateral prices and drains collateral until the seize target is
// covered, preferred asset first then the rest in deterministic order.
// Everything not seized is returned to the owner; either way the asset TVL
// drops by the full held amount.
func (l *Ledger) seizeCollateral(ctx context.Context, position *Position, preferredAssetId string, seizeTarget decimal.Decimal) (map[string]decimal.Decimal, map[string]decimal.Decimal, decimal.Decimal, error) {
	assetIds := position.CollateralAssetIds()
	if preferredAssetId != "" {
		ordered := make([]string, 0, len(assetIds))
		for _, assetId := range assetIds {
			if assetId == preferredAssetId {
				ordered = append([]string{assetId}, ordered...)
			} else {
				ordered = append(ordered, assetId)
			}
		}
		assetIds = ordered
	}

	seized := make(map[string]decimal.Decimal)
	returned := make(map[string]decimal.Decimal)
	remaining := seizeTarget

	for _, assetId := range assetIds {
		held := position.CollateralAmount(assetId)

		price, err := l.risk.agg.GetPrice(ctx, assetId)
		if err != nil {
			return nil, nil, decimal.Zero, err
		}

		if remaining.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
			take := decimal.Min(held, remaining.Div(price))
			if take.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
				seized[assetId] = take
				remaining = remaining.Sub(take.Mul(price))
				held = held.Sub(take)
			}
		}
		if held.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
			returned[assetId] = held
		}

		tvl, err := l.pool.GetAssetTVL(ctx, assetId)
		if err != nil {
			return nil, nil, decimal.Zero, err
		}
		total := position.CollateralAmount(assetId)
		if err := l.pool.SetAssetTVL(ctx, assetId, decimal.Max(decimal.Zero, tvl.Sub(total))); err != nil {
			return nil, nil, decimal.Zero, err
		}
	}

	shortfall := decimal.Max(decimal.Zero, remaining)
	return seized, returned, shortfall, nil
}

// ------------ base liquidity pool

func (l *Ledger) SupplyLiquidity(ctx context.Context, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	pool, _, err := l.accruedPool(ctx)
	if err != nil {
		return err
	}
	pool.TotalLiquidity = pool.TotalLiquidity.Add(amount)
	return l.pool.UpsertPool(ctx, pool)
}

func (l *Ledger) WithdrawLiquidity(ctx context.Context, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	pool, _, err := l.accruedPool(ctx)
	if err != nil {
		return err
	}
	if amount.GreaterThan(pool.AvailableLiquidity()) {
		return ErrInsufficientLiquidity
	}
	pool.TotalLiquidity = pool.TotalLiquidity.Sub(amount)
	return l.pool.UpsertPool(ctx, pool)
}

// ------------ internals

// applicableTier is the riskiest tier among held collateral, or Isolated for
// isolated positions.
func (l *Ledger) applicableTier(ctx context.Context, position *Position) (CollateralTier, error) {
	if position.IsIsolated {
		return TierIsolated, nil
	}
	tier := TierStable
	for _, assetId := range position.CollateralAssetIds() {
		asset, err := l.registry.GetAssetInfo(ctx, assetId)
		if err != nil {
			return tier, err
		}
		if asset.Tier > tier {
			tier = asset.Tier
		}
	}
	return tier, nil
}

func (l *Ledger) commitPosition(ctx context.Context, position *Position, pool *LiquidityPool) error {
	if err := l.positions.UpsertPosition(ctx, position); err != nil {
		return err
	}
	return l.pool.UpsertPool(ctx, pool)
}

func (l *Ledger) journal(ctx context.Context, position *Position, action ActionType, detail OperationDetail) {
	if l.operations == nil {
		return
	}
	op := NewOperation(l.clk, position.UserId, position.Id, action, detail)
	if err := l.operations.CreateOperation(ctx, op); err != nil {
		l.log.Warn().Err(err).Str("action", string(action)).Msg("journal write failed")
	}
}
