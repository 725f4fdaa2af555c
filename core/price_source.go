package core

import (
	"context"
	"math"

	"github.com/facebookgo/clock"
	"github.com/shopspring/decimal"
)

type (
	// PriceSource normalizes one external feed into a decimal USD price,
	// enforcing feed-local validity and freshness rules.
	PriceSource interface {
		Price(ctx context.Context, cfg *OracleConfig) (decimal.Decimal, error)
		Type() OracleType
	}

	// PriceSourceMgr resolves a registration into a live source.
	PriceSourceMgr interface {
		GetPriceSource(ctx context.Context, asset *Asset, reg *OracleRegistration) (PriceSource, error)
	}

	// RoundData is one observation from a push-style feed. Answer is the raw
	// integer value in the feed's native decimals.
	RoundData struct {
		RoundId         uint64          `json:"roundId"`
		Answer          decimal.Decimal `json:"answer"`
		UpdatedAt       int64           `json:"updatedAt"`
		AnsweredInRound uint64          `json:"answeredInRound"`
	}

	PushFeedReader interface {
		LatestRoundData(ctx context.Context, feedId string) (*RoundData, error)
		GetRoundData(ctx context.Context, feedId string, roundId uint64) (*RoundData, error)
	}

	PoolTickReader interface {
		// TickCumulatives returns the cumulative tick at each requested
		// number of seconds ago, oldest first.
		TickCumulatives(ctx context.Context, poolId string, secondsAgo []int64) ([]int64, error)
	}
)

// PushFeed reads a push-style latest-value feed.
type PushFeed struct {
	clk    clock.Clock
	cfg    ChainlinkConfig
	reader PushFeedReader
}

func NewPushFeed(clk clock.Clock, cfg ChainlinkConfig, reader PushFeedReader) *PushFeed {
	return &PushFeed{
		clk:    clk,
		cfg:    cfg,
		reader: reader,
	}
}

func (f *PushFeed) Type() OracleType {
	return OracleTypeChainlink
}

func (f *PushFeed) Price(ctx context.Context, cfg *OracleConfig) (decimal.Decimal, error) {
	if f.cfg.FeedId == "" || !f.cfg.Active {
		return decimal.Zero, ErrInvalidConfig
	}

	round, err := f.reader.LatestRoundData(ctx, f.cfg.FeedId)
	if err != nil {
		return decimal.Zero, err
	}

	if round.Answer.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidPrice
	}
	if round.AnsweredInRound < round.RoundId {
		return decimal.Zero, ErrStalePrice
	}

	age := f.clk.Now().Unix() - round.UpdatedAt
	if age > cfg.FreshnessThreshold {
		return decimal.Zero, ErrPriceTimeout
	}

	price := round.Answer.Shift(-int32(f.cfg.Decimals))

	if err := f.checkVolatility(ctx, round, price, age, cfg); err != nil {
		return decimal.Zero, err
	}

	return price, nil
}

// checkVolatility rejects a large move only once it has persisted past the
// volatility window without a fresher confirming read. A big jump on fresh
// data is assumed to be a legitimate fast market.
func (f *PushFeed) checkVolatility(ctx context.Context, round *RoundData, price decimal.Decimal, age int64, cfg *OracleConfig) error {
	if round.RoundId == 0 {
		return nil
	}

	prior, err := f.reader.GetRoundData(ctx, f.cfg.FeedId, round.RoundId-1)
	if err != nil || prior == nil || prior.Answer.LessThanOrEqual(decimal.Zero) {
		// No usable prior round: nothing to compare against.
		return nil
	}

	priorPrice := prior.Answer.Shift(-int32(f.cfg.Decimals))
	changePct := price.Sub(priorPrice).Abs().Div(priorPrice).Mul(HUNDRED)

	if age >= cfg.VolatilityThreshold && changePct.GreaterThanOrEqual(decimal.NewFromInt(cfg.VolatilityPercentage)) {
		return ErrInvalidPriceVolatility
	}
	return nil
}

// TwapFeed reads a pooled market's cumulative tick history and derives a
// time-weighted average price.
type TwapFeed struct {
	cfg           PoolConfig
	reader        PoolTickReader
	assetDecimals uint8
	quoteDecimals uint8
}

func NewTwapFeed(cfg PoolConfig, reader PoolTickReader, assetDecimals, quoteDecimals uint8) *TwapFeed {
	return &TwapFeed{
		cfg:           cfg,
		reader:        reader,
		assetDecimals: assetDecimals,
		quoteDecimals: quoteDecimals,
	}
}

func (f *TwapFeed) Type() OracleType {
	return OracleTypeUniswapV3Twap
}

func (f *TwapFeed) Price(ctx context.Context, cfg *OracleConfig) (decimal.Decimal, error) {
	if f.cfg.PoolId == "" || !f.cfg.Active || f.cfg.TwapWindow <= 0 {
		return decimal.Zero, ErrInvalidConfig
	}

	cumulatives, err := f.reader.TickCumulatives(ctx, f.cfg.PoolId, []int64{f.cfg.TwapWindow, 0})
	if err != nil {
		return decimal.Zero, err
	}
	if len(cumulatives) != 2 {
		return decimal.Zero, ErrInvalidPrice
	}

	avgTick := float64(cumulatives[1]-cumulatives[0]) / float64(f.cfg.TwapWindow)

	// price(token1 per token0, raw units) = 1.0001^tick
	rawPrice := decimal.NewFromFloat(math.Pow(1.0001, avgTick))
	if rawPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidPrice
	}

	price := rawPrice
	if !f.cfg.AssetIsToken0 {
		price = ONE.Div(rawPrice)
	}
	price = price.Shift(int32(f.assetDecimals) - int32(f.quoteDecimals))

	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidPrice
	}
	return price, nil
}

// FeedMgr is the default PriceSourceMgr wiring registrations to configured
// feed readers.
type FeedMgr struct {
	clk         clock.Clock
	pushReader  PushFeedReader
	tickReader  PoolTickReader
	quoteLookup func(ctx context.Context, quoteAssetId string) (uint8, error)
}

func NewFeedMgr(clk clock.Clock, pushReader PushFeedReader, tickReader PoolTickReader, quoteLookup func(ctx context.Context, quoteAssetId string) (uint8, error)) *FeedMgr {
	return &FeedMgr{
		clk:         clk,
		pushReader:  pushReader,
		tickReader:  tickReader,
		quoteLookup: quoteLookup,
	}
}

func (m *FeedMgr) GetPriceSource(ctx context.Context, asset *Asset, reg *OracleRegistration) (PriceSource, error) {
	switch reg.Type {
	case OracleTypeChainlink:
		if m.pushReader == nil {
			return nil, ErrInvalidConfig
		}
		return NewPushFeed(m.clk, asset.Chainlink, m.pushReader), nil
	case OracleTypeUniswapV3Twap:
		if m.tickReader == nil {
			return nil, ErrInvalidConfig
		}
		quoteDecimals := asset.Decimals
		if m.quoteLookup != nil {
			d, err := m.quoteLookup(ctx, asset.Pool.QuoteAssetId)
			if err != nil {
				return nil, err
			}
			quoteDecimals = d
		}
		return NewTwapFeed(asset.Pool, m.tickReader, asset.Decimals, quoteDecimals), nil
	default:
		return nil, ErrUnknownOracleType
	}
}
