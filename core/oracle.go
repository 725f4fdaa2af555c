package core

import (
	"context"
)

type OracleType uint8

const (
	OracleTypeChainlink OracleType = iota
	OracleTypeUniswapV3Twap
)

func (ot OracleType) String() string {
	switch ot {
	case OracleTypeChainlink:
		return "Chainlink"
	case OracleTypeUniswapV3Twap:
		return "UniswapV3Twap"
	default:
		return "Unknown"
	}
}

func (ot OracleType) Valid() bool {
	return ot == OracleTypeChainlink || ot == OracleTypeUniswapV3Twap
}

type (
	OracleStore interface {
		ListOracles(ctx context.Context, assetId string) ([]*OracleRegistration, error)
		GetOracle(ctx context.Context, assetId, oracleId string) (*OracleRegistration, error)
		UpsertOracle(ctx context.Context, reg *OracleRegistration) error
		DeleteOracle(ctx context.Context, assetId, oracleId string) error

		GetOracleConfig(ctx context.Context) (*OracleConfig, error)
		SetOracleConfig(ctx context.Context, cfg *OracleConfig) error

		GetCircuitBreaker(ctx context.Context, assetId string) (bool, error)
		SetCircuitBreaker(ctx context.Context, assetId string, broken bool) error
	}

	// OracleRegistration ties one external price source to an asset. At most
	// one source of a given type per asset; the first registered source is
	// primary by default.
	OracleRegistration struct {
		AssetId  string     `json:"assetId"`
		OracleId string     `json:"oracleId"`
		Type     OracleType `json:"type"`
		Decimals uint8      `json:"decimals"`
		Primary  bool       `json:"primary"`

		CreatedAt int64 `json:"createdAt"`
	}

	// OracleConfig is the process-wide oracle policy. Mutations are atomic
	// and take effect on the next price read.
	OracleConfig struct {
		// Max accepted feed age in seconds.
		FreshnessThreshold int64 `json:"freshnessThreshold"`
		// Window within which a large jump is still considered a fresh,
		// legitimate fast market.
		VolatilityThreshold int64 `json:"volatilityThreshold"`
		// Percent change treated as a large jump.
		VolatilityPercentage int64 `json:"volatilityPercentage"`
		// Cross-source deviation percent reported as exceeded.
		CircuitBreakerThreshold int64 `json:"circuitBreakerThreshold"`
		// Global quorum default, overridable per asset.
		MinimumOraclesRequired uint16 `json:"minimumOraclesRequired"`
	}
)

func DefaultOracleConfig() *OracleConfig {
	return &OracleConfig{
		FreshnessThreshold:      60 * 60,
		VolatilityThreshold:     30 * 60,
		VolatilityPercentage:    20,
		CircuitBreakerThreshold: 50,
		MinimumOraclesRequired:  1,
	}
}

func (c *OracleConfig) Validate() error {
	if c.FreshnessThreshold < MIN_FRESHNESS_THRESHOLD || c.FreshnessThreshold > MAX_FRESHNESS_THRESHOLD {
		return ErrInvalidConfig
	}
	if c.VolatilityThreshold < MIN_VOLATILITY_THRESHOLD || c.VolatilityThreshold > MAX_VOLATILITY_THRESHOLD {
		return ErrInvalidConfig
	}
	if c.VolatilityPercentage < MIN_VOLATILITY_PERCENTAGE || c.VolatilityPercentage > MAX_VOLATILITY_PERCENTAGE {
		return ErrInvalidConfig
	}
	if c.CircuitBreakerThreshold < MIN_CIRCUIT_BREAKER_THRESHOLD || c.CircuitBreakerThreshold > MAX_CIRCUIT_BREAKER_THRESHOLD {
		return ErrInvalidConfig
	}
	if c.MinimumOraclesRequired < 1 {
		return ErrInvalidConfig
	}
	return nil
}

func (c *OracleConfig) Clone() *OracleConfig {
	clone := *c
	return &clone
}
