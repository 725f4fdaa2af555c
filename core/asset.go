package core

import (
	"context"
	"time"

	"github.com/facebookgo/clock"
	"github.com/shopspring/decimal"
)

type (
	AssetStore interface {
		CreateAsset(ctx context.Context, asset *Asset) error
		GetAsset(ctx context.Context, assetId string) (*Asset, error)
		ListAssets(ctx context.Context) ([]*Asset, error)
		UpdateAsset(ctx context.Context, assetId string, asset *Asset) error
	}

	// Asset is one listed collateral type. A listed asset is never removed,
	// only deactivated, so historical references stay valid.
	Asset struct {
		Id     string `json:"id"`
		Symbol string `json:"symbol"`

		Active   bool  `json:"active"`
		Decimals uint8 `json:"decimals"`

		// Per-mille ratios on THRESHOLD_SCALE.
		BorrowThreshold      uint64 `json:"borrowThreshold"`
		LiquidationThreshold uint64 `json:"liquidationThreshold"`

		MaxSupplyThreshold decimal.Decimal `json:"maxSupplyThreshold"`
		IsolationDebtCap   decimal.Decimal `json:"isolationDebtCap"`

		Tier CollateralTier `json:"tier"`

		// Asset-specific quorum override; zero falls back to the global
		// OracleConfig default.
		MinimumOracleCount uint16 `json:"minimumOracleCount"`

		Chainlink ChainlinkConfig `json:"chainlink"`
		Pool      PoolConfig      `json:"pool"`

		CreatedAt  int64 `json:"createdAt"`
		LastUpdate int64 `json:"lastUpdate"`
	}

	ChainlinkConfig struct {
		FeedId   string `json:"feedId"`
		Decimals uint8  `json:"decimals"`
		Active   bool   `json:"active"`
	}

	PoolConfig struct {
		PoolId        string `json:"poolId"`
		QuoteAssetId  string `json:"quoteAssetId"`
		AssetIsToken0 bool   `json:"assetIsToken0"`
		TwapWindow    int64  `json:"twapWindow"`
		Active        bool   `json:"active"`
	}
)

type CollateralTier uint8

const (
	TierStable CollateralTier = iota
	TierCrossA
	TierCrossB
	TierIsolated
)

const TierCount = 4

func (t CollateralTier) String() string {
	switch t {
	case TierStable:
		return "Stable"
	case TierCrossA:
		return "CrossA"
	case TierCrossB:
		return "CrossB"
	case TierIsolated:
		return "Isolated"
	default:
		return "Unknown"
	}
}

func (t CollateralTier) Valid() bool {
	return t < TierCount
}

func NewAsset(clk clock.Clock, id, symbol string, decimals uint8) *Asset {
	return NewAssetWithCreateTime(clk, id, symbol, decimals, clk.Now())
}

func NewAssetWithCreateTime(clk clock.Clock, id, symbol string, decimals uint8, createTime time.Time) *Asset {
	return &Asset{
		Id:                 id,
		Symbol:             symbol,
		Active:             true,
		Decimals:           decimals,
		MaxSupplyThreshold: decimal.Zero,
		IsolationDebtCap:   decimal.Zero,
		Tier:               TierStable,
		CreatedAt:          createTime.Unix(),
		LastUpdate:         createTime.Unix(),
	}
}

func (a *Asset) Clone() *Asset {
	clone := *a
	return &clone
}

func (a *Asset) Validate() error {
	if a.LiquidationThreshold > MAX_LIQUIDATION_THRESHOLD {
		return ErrInvalidConfig
	}
	if a.LiquidationThreshold < MIN_THRESHOLD_BUFFER {
		return ErrInvalidConfig
	}
	if a.BorrowThreshold > a.LiquidationThreshold-MIN_THRESHOLD_BUFFER {
		return ErrInvalidConfig
	}
	if !a.Tier.Valid() {
		return ErrUnknownTier
	}
	if a.Tier == TierIsolated && a.IsolationDebtCap.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidConfig
	}
	return nil
}

// AssetConfigUpdate carries a partial config; zero-valued fields leave the
// stored value unchanged.
type AssetConfigUpdate struct {
	Active               *bool           `json:"active,omitempty"`
	BorrowThreshold      uint64          `json:"borrowThreshold,omitempty"`
	LiquidationThreshold uint64          `json:"liquidationThreshold,omitempty"`
	MaxSupplyThreshold   decimal.Decimal `json:"maxSupplyThreshold,omitempty"`
	IsolationDebtCap     decimal.Decimal `json:"isolationDebtCap,omitempty"`
	MinimumOracleCount   uint16          `json:"minimumOracleCount,omitempty"`

	Chainlink *ChainlinkConfig `json:"chainlink,omitempty"`
	Pool      *PoolConfig      `json:"pool,omitempty"`
}

func (a *Asset) Configure(clk clock.Clock, update *AssetConfigUpdate) error {
	if update.Active != nil {
		a.Active = *update.Active
	}
	if update.BorrowThreshold != 0 {
		a.BorrowThreshold = update.BorrowThreshold
	}
	if update.LiquidationThreshold != 0 {
		a.LiquidationThreshold = update.LiquidationThreshold
	}
	if !update.MaxSupplyThreshold.IsZero() {
		a.MaxSupplyThreshold = update.MaxSupplyThreshold
	}
	if !update.IsolationDebtCap.IsZero() {
		a.IsolationDebtCap = update.IsolationDebtCap
	}
	if update.MinimumOracleCount != 0 {
		a.MinimumOracleCount = update.MinimumOracleCount
	}
	if update.Chainlink != nil {
		a.Chainlink = *update.Chainlink
	}
	if update.Pool != nil {
		a.Pool = *update.Pool
	}

	if err := a.Validate(); err != nil {
		return err
	}
	a.LastUpdate = clk.Now().Unix()
	return nil
}

// IsSupplyCapActive reports whether the max supply threshold is enforced.
func (a *Asset) IsSupplyCapActive() bool {
	return a.MaxSupplyThreshold.IsPositive()
}

func (a *Asset) IsIsolated() bool {
	return a.Tier == TierIsolated
}

// BorrowWeight is the decimal weight applied to collateral value when
// computing the borrow limit.
func (a *Asset) BorrowWeight() decimal.Decimal {
	return ThresholdRatio(a.BorrowThreshold)
}

// LiquidationWeight is the decimal weight applied to collateral value when
// computing the liquidation limit.
func (a *Asset) LiquidationWeight() decimal.Decimal {
	return ThresholdRatio(a.LiquidationThreshold)
}
