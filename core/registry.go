package core

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Registry is the permission-checked configuration store for listed assets
// and the tier policy table. It has no custody: TVL figures are supplied by
// the ledger.
type Registry struct {
	clk    clock.Clock
	log    Log
	access *AccessController
	assets AssetStore
	tiers  TierStore
	agg    *Aggregator
}

func NewRegistry(clk clock.Clock, log Log, access *AccessController, assets AssetStore, tiers TierStore, agg *Aggregator) *Registry {
	return &Registry{
		clk:    clk,
		log:    log,
		access: access,
		assets: assets,
		tiers:  tiers,
		agg:    agg,
	}
}

func (r *Registry) CreateAsset(ctx context.Context, token ManagerToken, asset *Asset) error {
	if err := r.access.RequireManager(token); err != nil {
		return err
	}
	if err := asset.Validate(); err != nil {
		return err
	}
	if _, err := r.assets.GetAsset(ctx, asset.Id); err == nil {
		return ErrInvalidConfig
	}

	if err := r.assets.CreateAsset(ctx, asset); err != nil {
		return err
	}
	return r.registerConfiguredOracles(ctx, token, asset)
}

// UpdateAssetConfig applies a partial config update. Validation failures
// leave storage unchanged. Activating a feed config that is not yet
// registered with the aggregator registers it as a side effect.
func (r *Registry) UpdateAssetConfig(ctx context.Context, token ManagerToken, assetId string, update *AssetConfigUpdate) error {
	if err := r.access.RequireManager(token); err != nil {
		return err
	}

	asset, err := r.assets.GetAsset(ctx, assetId)
	if err != nil {
		return ErrAssetNotListed
	}

	updated := asset.Clone()
	if err := updated.Configure(r.clk, update); err != nil {
		return err
	}

	// Register newly-activated feeds before committing the config, so a
	// registration failure never strands a stored config with no source.
	if err := r.registerConfiguredOracles(ctx, token, updated); err != nil {
		return err
	}
	return r.assets.UpdateAsset(ctx, assetId, updated)
}

func (r *Registry) UpdateAssetTier(ctx context.Context, token ManagerToken, assetId string, tier CollateralTier) error {
	if err := r.access.RequireManager(token); err != nil {
		return err
	}
	if !tier.Valid() {
		return ErrUnknownTier
	}

	asset, err := r.assets.GetAsset(ctx, assetId)
	if err != nil {
		return ErrAssetNotListed
	}

	updated := asset.Clone()
	updated.Tier = tier
	if err := updated.Validate(); err != nil {
		return err
	}
	updated.LastUpdate = r.clk.Now().Unix()

	return r.assets.UpdateAsset(ctx, assetId, updated)
}

// registerConfiguredOracles registers newly-activated feed configs with the
// aggregator so a listed asset is priceable without a separate call.
func (r *Registry) registerConfiguredOracles(ctx context.Context, token ManagerToken, asset *Asset) error {
	if asset.Chainlink.Active && asset.Chainlink.FeedId != "" {
		err := r.agg.AddOracle(ctx, token, &OracleRegistration{
			AssetId:  asset.Id,
			OracleId: asset.Chainlink.FeedId,
			Type:     OracleTypeChainlink,
			Decimals: asset.Chainlink.Decimals,
		})
		if err != nil && !errors.Is(err, ErrOracleAlreadyAdded) && !errors.Is(err, ErrOracleTypeAlreadyAdded) {
			return err
		}
	}
	if asset.Pool.Active && asset.Pool.PoolId != "" {
		err := r.agg.AddOracle(ctx, token, &OracleRegistration{
			AssetId:  asset.Id,
			OracleId: asset.Pool.PoolId,
			Type:     OracleTypeUniswapV3Twap,
			Decimals: asset.Decimals,
		})
		if err != nil && !errors.Is(err, ErrOracleAlreadyAdded) && !errors.Is(err, ErrOracleTypeAlreadyAdded) {
			return err
		}
	}
	return nil
}

func (r *Registry) GetAssetInfo(ctx context.Context, assetId string) (*Asset, error) {
	asset, err := r.assets.GetAsset(ctx, assetId)
	if err != nil {
		return nil, ErrAssetNotListed
	}
	return asset, nil
}

func (r *Registry) GetListedAssets(ctx context.Context) ([]string, error) {
	assets, err := r.assets.ListAssets(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(assets))
	for _, asset := range assets {
		ids = append(ids, asset.Id)
	}
	return ids, nil
}

func (r *Registry) IsAssetValid(ctx context.Context, assetId string) bool {
	asset, err := r.assets.GetAsset(ctx, assetId)
	if err != nil {
		return false
	}
	return asset.Active
}

// IsAssetAtCapacity reports whether supplying additionalAmount would push the
// asset past its max supply threshold. currentTVL comes from the ledger.
func (r *Registry) IsAssetAtCapacity(ctx context.Context, assetId string, currentTVL, additionalAmount decimal.Decimal) (bool, error) {
	asset, err := r.assets.GetAsset(ctx, assetId)
	if err != nil {
		return false, ErrAssetNotListed
	}
	if !asset.IsSupplyCapActive() {
		return false, nil
	}
	return currentTVL.Add(additionalAmount).GreaterThan(asset.MaxSupplyThreshold), nil
}

func (r *Registry) IsIsolationAsset(ctx context.Context, assetId string) (bool, error) {
	asset, err := r.assets.GetAsset(ctx, assetId)
	if err != nil {
		return false, ErrAssetNotListed
	}
	return asset.IsIsolated(), nil
}

func (r *Registry) GetIsolationDebtCap(ctx context.Context, assetId string) (decimal.Decimal, error) {
	asset, err := r.assets.GetAsset(ctx, assetId)
	if err != nil {
		return decimal.Zero, ErrAssetNotListed
	}
	return asset.IsolationDebtCap, nil
}

// TierPolicies loads the policy table, seeding defaults when none are
// stored yet.
func (r *Registry) TierPolicies(ctx context.Context) (*TierPolicySet, error) {
	policies, err := r.tiers.GetTierPolicies(ctx)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DefaultTierPolicies(), nil
		}
		return nil, err
	}
	return policies, nil
}

func (r *Registry) UpdateTierConfig(ctx context.Context, token ManagerToken, tier CollateralTier, policy TierPolicy) error {
	if err := r.access.RequireManager(token); err != nil {
		return err
	}
	if !tier.Valid() {
		return ErrUnknownTier
	}
	if err := policy.Validate(); err != nil {
		return err
	}

	policies, err := r.TierPolicies(ctx)
	if err != nil {
		return err
	}
	policies[tier] = policy
	return r.tiers.SetTierPolicies(ctx, policies)
}

// GetTierRates returns jump rates and liquidation fees in the fixed order
// Stable, CrossA, CrossB, Isolated.
func (r *Registry) GetTierRates(ctx context.Context) ([TierCount]uint64, [TierCount]uint64, error) {
	policies, err := r.TierPolicies(ctx)
	if err != nil {
		return [TierCount]uint64{}, [TierCount]uint64{}, err
	}
	jumpRates, liquidationFees := policies.Rates()
	return jumpRates, liquidationFees, nil
}
