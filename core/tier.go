package core

import (
	"context"

	"github.com/shopspring/decimal"
)

type (
	TierStore interface {
		GetTierPolicies(ctx context.Context) (*TierPolicySet, error)
		SetTierPolicies(ctx context.Context, policies *TierPolicySet) error
	}

	// TierPolicy holds the per-tier interest add-on and liquidation bonus,
	// both integers on RATE_SCALE.
	TierPolicy struct {
		JumpRate       uint64 `json:"jumpRate"`
		LiquidationFee uint64 `json:"liquidationFee"`
	}

	// TierPolicySet is the fixed four-entry policy table, indexed by
	// CollateralTier in the order Stable, CrossA, CrossB, Isolated.
	TierPolicySet [TierCount]TierPolicy
)

func (p TierPolicy) Validate() error {
	if p.JumpRate > MAX_TIER_JUMP_RATE {
		return ErrInvalidConfig
	}
	if p.LiquidationFee > MAX_TIER_LIQUIDATION_FEE {
		return ErrInvalidConfig
	}
	return nil
}

func (p TierPolicy) JumpRateRatio() decimal.Decimal {
	return RateRatio(p.JumpRate)
}

func (p TierPolicy) LiquidationFeeRatio() decimal.Decimal {
	return RateRatio(p.LiquidationFee)
}

func DefaultTierPolicies() *TierPolicySet {
	return &TierPolicySet{
		TierStable:   {JumpRate: 50_000, LiquidationFee: 10_000},
		TierCrossA:   {JumpRate: 80_000, LiquidationFee: 20_000},
		TierCrossB:   {JumpRate: 120_000, LiquidationFee: 30_000},
		TierIsolated: {JumpRate: 150_000, LiquidationFee: 40_000},
	}
}

func (s *TierPolicySet) Validate() error {
	for _, p := range s {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *TierPolicySet) Policy(tier CollateralTier) (TierPolicy, error) {
	if !tier.Valid() {
		return TierPolicy{}, ErrUnknownTier
	}
	return s[tier], nil
}

// Rates returns jump rates and liquidation fees in the fixed tier order.
func (s *TierPolicySet) Rates() (jumpRates [TierCount]uint64, liquidationFees [TierCount]uint64) {
	for i, p := range s {
		jumpRates[i] = p.JumpRate
		liquidationFees[i] = p.LiquidationFee
	}
	return
}
