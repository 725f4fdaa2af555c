package core

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/shopspring/decimal"
)

// Aggregator owns the registered price sources per asset and computes a
// single defensible consensus price. At most two sources per asset are
// supported; the primary oracle is the tie-breaker when quorum confidence
// cannot be established.
type Aggregator struct {
	clk     clock.Clock
	log     Log
	access  *AccessController
	assets  AssetStore
	store   OracleStore
	sources PriceSourceMgr
}

func NewAggregator(clk clock.Clock, log Log, access *AccessController, assets AssetStore, store OracleStore, sources PriceSourceMgr) *Aggregator {
	return &Aggregator{
		clk:     clk,
		log:     log,
		access:  access,
		assets:  assets,
		store:   store,
		sources: sources,
	}
}

type sourceResult struct {
	reg   *OracleRegistration
	price decimal.Decimal
	err   error
}

// GetPrice returns the consensus price for an asset or fails closed.
func (a *Aggregator) GetPrice(ctx context.Context, assetId string) (decimal.Decimal, error) {
	if err := a.checkCircuitBreaker(ctx, assetId); err != nil {
		return decimal.Zero, err
	}

	asset, err := a.assets.GetAsset(ctx, assetId)
	if err != nil {
		return decimal.Zero, ErrAssetNotListed
	}

	regs, err := a.store.ListOracles(ctx, assetId)
	if err != nil {
		return decimal.Zero, err
	}
	if len(regs) == 0 {
		return decimal.Zero, ErrNoOracle
	}

	cfg, err := a.store.GetOracleConfig(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	if len(regs) == 1 {
		// A lone source can never satisfy a quorum above one; losing a
		// second registration must fail reads, not quietly degrade them.
		if a.minRequired(asset, cfg) > 1 {
			return decimal.Zero, ErrNotEnoughValidOracles
		}
		source, err := a.sources.GetPriceSource(ctx, asset, regs[0])
		if err != nil {
			return decimal.Zero, err
		}
		return source.Price(ctx, cfg)
	}

	results := a.queryAll(ctx, asset, regs, cfg)

	valid := make([]sourceResult, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			a.log.Warn().Err(r.err).
				Str("asset", assetId).
				Str("oracle", r.reg.OracleId).
				Msg("price source failed")
			continue
		}
		valid = append(valid, r)
	}

	minRequired := a.minRequired(asset, cfg)

	switch len(valid) {
	case 0:
		return decimal.Zero, ErrNotEnoughValidOracles
	case 1:
		if minRequired > 1 {
			return decimal.Zero, ErrNotEnoughValidOracles
		}
		return valid[0].price, nil
	default:
		if int(minRequired) <= len(valid) {
			// For exactly two points the median and the mean coincide.
			return valid[0].price.Add(valid[1].price).Div(decimal.NewFromInt(2)), nil
		}
		for _, r := range valid {
			if r.reg.Primary {
				return r.price, nil
			}
		}
		return decimal.Zero, ErrNotEnoughValidOracles
	}
}

// GetPriceByType reads a single registered source directly, still gated by
// the circuit breaker.
func (a *Aggregator) GetPriceByType(ctx context.Context, assetId string, typ OracleType) (decimal.Decimal, error) {
	if err := a.checkCircuitBreaker(ctx, assetId); err != nil {
		return decimal.Zero, err
	}

	asset, err := a.assets.GetAsset(ctx, assetId)
	if err != nil {
		return decimal.Zero, ErrAssetNotListed
	}

	regs, err := a.store.ListOracles(ctx, assetId)
	if err != nil {
		return decimal.Zero, err
	}

	for _, reg := range regs {
		if reg.Type != typ {
			continue
		}
		cfg, err := a.store.GetOracleConfig(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		source, err := a.sources.GetPriceSource(ctx, asset, reg)
		if err != nil {
			return decimal.Zero, err
		}
		return source.Price(ctx, cfg)
	}
	return decimal.Zero, ErrOracleNotFound
}

// CheckPriceDeviation is a read-only probe for monitoring. It never trips
// the breaker itself; tripping is an explicit breaker-role action.
func (a *Aggregator) CheckPriceDeviation(ctx context.Context, assetId string) (bool, decimal.Decimal, error) {
	asset, err := a.assets.GetAsset(ctx, assetId)
	if err != nil {
		return false, decimal.Zero, ErrAssetNotListed
	}

	regs, err := a.store.ListOracles(ctx, assetId)
	if err != nil {
		return false, decimal.Zero, err
	}
	if len(regs) == 0 {
		return false, decimal.Zero, ErrNoOracle
	}

	cfg, err := a.store.GetOracleConfig(ctx)
	if err != nil {
		return false, decimal.Zero, err
	}

	results := a.queryAll(ctx, asset, regs, cfg)
	valid := make([]sourceResult, 0, len(results))
	for _, r := range results {
		if r.err == nil {
			valid = append(valid, r)
		}
	}
	if len(valid) < 2 {
		return false, decimal.Zero, nil
	}

	deviation := PriceDeviation(valid[0].price, valid[1].price)
	exceeded := deviation.GreaterThanOrEqual(decimal.NewFromInt(cfg.CircuitBreakerThreshold))
	return exceeded, deviation, nil
}

// PriceDeviation is the percentage gap between two prices relative to the
// smaller one.
func PriceDeviation(p1, p2 decimal.Decimal) decimal.Decimal {
	min := decimal.Min(p1, p2)
	if min.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return p1.Sub(p2).Abs().Div(min).Mul(HUNDRED)
}

// queryAll queries every source independently, capturing per-source results
// so one failing source cannot abort the read.
func (a *Aggregator) queryAll(ctx context.Context, asset *Asset, regs []*OracleRegistration, cfg *OracleConfig) []sourceResult {
	results := make([]sourceResult, 0, len(regs))
	for _, reg := range regs {
		source, err := a.sources.GetPriceSource(ctx, asset, reg)
		if err != nil {
			results = append(results, sourceResult{reg: reg, err: err})
			continue
		}
		price, err := source.Price(ctx, cfg)
		results = append(results, sourceResult{reg: reg, price: price, err: err})
	}
	return results
}

func (a *Aggregator) minRequired(asset *Asset, cfg *OracleConfig) uint16 {
	if asset.MinimumOracleCount > 0 {
		return asset.MinimumOracleCount
	}
	return cfg.MinimumOraclesRequired
}

func (a *Aggregator) checkCircuitBreaker(ctx context.Context, assetId string) error {
	broken, err := a.store.GetCircuitBreaker(ctx, assetId)
	if err != nil {
		return err
	}
	if broken {
		return ErrCircuitBreakerActive
	}
	return nil
}

// ------------ manager-gated oracle registration

func (a *Aggregator) AddOracle(ctx context.Context, token ManagerToken, reg *OracleRegistration) error {
	if err := a.access.RequireManager(token); err != nil {
		return err
	}
	if !reg.Type.Valid() {
		return ErrUnknownOracleType
	}
	if _, err := a.assets.GetAsset(ctx, reg.AssetId); err != nil {
		return ErrAssetNotListed
	}

	existing, err := a.store.ListOracles(ctx, reg.AssetId)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.OracleId == reg.OracleId {
			return ErrOracleAlreadyAdded
		}
		if other.Type == reg.Type {
			return ErrOracleTypeAlreadyAdded
		}
	}

	// The first registered source becomes primary.
	reg.Primary = len(existing) == 0
	reg.CreatedAt = a.clk.Now().Unix()

	return a.store.UpsertOracle(ctx, reg)
}

func (a *Aggregator) RemoveOracle(ctx context.Context, token ManagerToken, assetId, oracleId string) error {
	if err := a.access.RequireManager(token); err != nil {
		return err
	}

	reg, err := a.store.GetOracle(ctx, assetId, oracleId)
	if err != nil {
		return ErrOracleNotFound
	}

	if err := a.store.DeleteOracle(ctx, assetId, oracleId); err != nil {
		return err
	}

	if !reg.Primary {
		return nil
	}

	// Removing the primary promotes a survivor if present.
	remaining, err := a.store.ListOracles(ctx, assetId)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return nil
	}
	promoted := remaining[0]
	promoted.Primary = true
	return a.store.UpsertOracle(ctx, promoted)
}

// ReplaceOracle adds the replacement before removing the old registration,
// so the asset never passes through a zero-source window.
func (a *Aggregator) ReplaceOracle(ctx context.Context, token ManagerToken, assetId, oldOracleId string, reg *OracleRegistration) error {
	if err := a.access.RequireManager(token); err != nil {
		return err
	}
	if !reg.Type.Valid() {
		return ErrUnknownOracleType
	}

	old, err := a.store.GetOracle(ctx, assetId, oldOracleId)
	if err != nil {
		return ErrOracleNotFound
	}

	existing, err := a.store.ListOracles(ctx, assetId)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.OracleId == reg.OracleId {
			return ErrOracleAlreadyAdded
		}
		if other.OracleId != oldOracleId && other.Type == reg.Type {
			return ErrOracleTypeAlreadyAdded
		}
	}

	reg.AssetId = assetId
	reg.Primary = old.Primary
	reg.CreatedAt = a.clk.Now().Unix()

	if err := a.store.UpsertOracle(ctx, reg); err != nil {
		return err
	}
	return a.store.DeleteOracle(ctx, assetId, oldOracleId)
}

func (a *Aggregator) SetPrimaryOracle(ctx context.Context, token ManagerToken, assetId, oracleId string) error {
	if err := a.access.RequireManager(token); err != nil {
		return err
	}

	regs, err := a.store.ListOracles(ctx, assetId)
	if err != nil {
		return err
	}

	var target *OracleRegistration
	for _, reg := range regs {
		if reg.OracleId == oracleId {
			target = reg
			break
		}
	}
	if target == nil {
		return ErrOracleNotFound
	}

	for _, reg := range regs {
		primary := reg.OracleId == oracleId
		if reg.Primary == primary {
			continue
		}
		reg.Primary = primary
		if err := a.store.UpsertOracle(ctx, reg); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) UpdateOracleConfig(ctx context.Context, token ManagerToken, cfg *OracleConfig) error {
	if err := a.access.RequireManager(token); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return a.store.SetOracleConfig(ctx, cfg.Clone())
}

func (a *Aggregator) UpdateMinimumOracles(ctx context.Context, token ManagerToken, minimum uint16) error {
	if err := a.access.RequireManager(token); err != nil {
		return err
	}
	if minimum < 1 {
		return ErrInvalidConfig
	}

	cfg, err := a.store.GetOracleConfig(ctx)
	if err != nil {
		return err
	}
	updated := cfg.Clone()
	updated.MinimumOraclesRequired = minimum
	return a.store.SetOracleConfig(ctx, updated)
}

// ------------ breaker-gated safety switches

func (a *Aggregator) TriggerCircuitBreaker(ctx context.Context, token BreakerToken, assetId string) error {
	if err := a.access.RequireBreaker(token); err != nil {
		return err
	}
	if _, err := a.assets.GetAsset(ctx, assetId); err != nil {
		return ErrAssetNotListed
	}

	a.log.Warn().Str("asset", assetId).Msg("circuit breaker triggered")
	return a.store.SetCircuitBreaker(ctx, assetId, true)
}

func (a *Aggregator) ResetCircuitBreaker(ctx context.Context, token BreakerToken, assetId string) error {
	if err := a.access.RequireBreaker(token); err != nil {
		return err
	}
	if _, err := a.assets.GetAsset(ctx, assetId); err != nil {
		return ErrAssetNotListed
	}

	a.log.Info().Str("asset", assetId).Msg("circuit breaker reset")
	return a.store.SetCircuitBreaker(ctx, assetId, false)
}
