package core

import (
	"context"
	"fmt"
	"io"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type testLog struct {
	logger zerolog.Logger
}

func newTestLog() *testLog {
	return &testLog{logger: zerolog.New(io.Discard)}
}

func (l *testLog) Info() *zerolog.Event  { return l.logger.Info() }
func (l *testLog) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *testLog) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *testLog) Error() *zerolog.Event { return l.logger.Error() }

// ------------ in-memory stores

type memAssetStore struct {
	assets map[string]*Asset
}

func newMemAssetStore() *memAssetStore {
	return &memAssetStore{assets: make(map[string]*Asset)}
}

func (s *memAssetStore) CreateAsset(ctx context.Context, asset *Asset) error {
	s.assets[asset.Id] = asset.Clone()
	return nil
}

func (s *memAssetStore) GetAsset(ctx context.Context, assetId string) (*Asset, error) {
	asset, ok := s.assets[assetId]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return asset.Clone(), nil
}

func (s *memAssetStore) ListAssets(ctx context.Context) ([]*Asset, error) {
	assets := make([]*Asset, 0, len(s.assets))
	for _, asset := range s.assets {
		assets = append(assets, asset.Clone())
	}
	return assets, nil
}

func (s *memAssetStore) UpdateAsset(ctx context.Context, assetId string, asset *Asset) error {
	if _, ok := s.assets[assetId]; !ok {
		return gorm.ErrRecordNotFound
	}
	s.assets[assetId] = asset.Clone()
	return nil
}

type memTierStore struct {
	policies *TierPolicySet
}

func (s *memTierStore) GetTierPolicies(ctx context.Context) (*TierPolicySet, error) {
	if s.policies == nil {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *s.policies
	return &clone, nil
}

func (s *memTierStore) SetTierPolicies(ctx context.Context, policies *TierPolicySet) error {
	clone := *policies
	s.policies = &clone
	return nil
}

type memOracleStore struct {
	regs      map[string][]*OracleRegistration
	cfg       *OracleConfig
	breakers  map[string]bool
	upsertErr error
}

func newMemOracleStore() *memOracleStore {
	return &memOracleStore{
		regs:     make(map[string][]*OracleRegistration),
		cfg:      DefaultOracleConfig(),
		breakers: make(map[string]bool),
	}
}

func (s *memOracleStore) ListOracles(ctx context.Context, assetId string) ([]*OracleRegistration, error) {
	regs := make([]*OracleRegistration, 0, len(s.regs[assetId]))
	for _, reg := range s.regs[assetId] {
		clone := *reg
		regs = append(regs, &clone)
	}
	return regs, nil
}

func (s *memOracleStore) GetOracle(ctx context.Context, assetId, oracleId string) (*OracleRegistration, error) {
	for _, reg := range s.regs[assetId] {
		if reg.OracleId == oracleId {
			clone := *reg
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memOracleStore) UpsertOracle(ctx context.Context, reg *OracleRegistration) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	clone := *reg
	for i, existing := range s.regs[reg.AssetId] {
		if existing.OracleId == reg.OracleId {
			s.regs[reg.AssetId][i] = &clone
			return nil
		}
	}
	s.regs[reg.AssetId] = append(s.regs[reg.AssetId], &clone)
	return nil
}

func (s *memOracleStore) DeleteOracle(ctx context.Context, assetId, oracleId string) error {
	regs := s.regs[assetId]
	for i, reg := range regs {
		if reg.OracleId == oracleId {
			s.regs[assetId] = append(regs[:i:i], regs[i+1:]...)
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (s *memOracleStore) GetOracleConfig(ctx context.Context) (*OracleConfig, error) {
	return s.cfg.Clone(), nil
}

func (s *memOracleStore) SetOracleConfig(ctx context.Context, cfg *OracleConfig) error {
	s.cfg = cfg.Clone()
	return nil
}

func (s *memOracleStore) GetCircuitBreaker(ctx context.Context, assetId string) (bool, error) {
	return s.breakers[assetId], nil
}

func (s *memOracleStore) SetCircuitBreaker(ctx context.Context, assetId string, broken bool) error {
	s.breakers[assetId] = broken
	return nil
}

type memPositionStore struct {
	positions map[string]*Position
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[string]*Position)}
}

func positionKey(userId uuid.UUID, index uint8) string {
	return fmt.Sprintf("%s/%d", userId, index)
}

func (s *memPositionStore) CreatePosition(ctx context.Context, position *Position) error {
	s.positions[positionKey(position.UserId, position.Index)] = position.Clone()
	return nil
}

func (s *memPositionStore) GetPosition(ctx context.Context, userId uuid.UUID, index uint8) (*Position, error) {
	position, ok := s.positions[positionKey(userId, index)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return position.Clone(), nil
}

func (s *memPositionStore) ListPositions(ctx context.Context, userId uuid.UUID) ([]*Position, error) {
	positions := make([]*Position, 0)
	for _, position := range s.positions {
		if position.UserId == userId {
			positions = append(positions, position.Clone())
		}
	}
	return positions, nil
}

func (s *memPositionStore) UpsertPosition(ctx context.Context, position *Position) error {
	s.positions[positionKey(position.UserId, position.Index)] = position.Clone()
	return nil
}

type memPoolStore struct {
	pool *LiquidityPool
	tvl  map[string]decimal.Decimal
}

func newMemPoolStore(now int64) *memPoolStore {
	return &memPoolStore{
		pool: NewLiquidityPool(now),
		tvl:  make(map[string]decimal.Decimal),
	}
}

func (s *memPoolStore) GetPool(ctx context.Context) (*LiquidityPool, error) {
	return s.pool.Clone(), nil
}

func (s *memPoolStore) UpsertPool(ctx context.Context, pool *LiquidityPool) error {
	s.pool = pool.Clone()
	return nil
}

func (s *memPoolStore) GetAssetTVL(ctx context.Context, assetId string) (decimal.Decimal, error) {
	amount, ok := s.tvl[assetId]
	if !ok {
		return decimal.Zero, nil
	}
	return amount, nil
}

func (s *memPoolStore) SetAssetTVL(ctx context.Context, assetId string, amount decimal.Decimal) error {
	s.tvl[assetId] = amount
	return nil
}

type memOperationStore struct {
	ops []Operation
}

func (s *memOperationStore) CreateOperation(ctx context.Context, op *Operation) error {
	s.ops = append(s.ops, *op)
	return nil
}

func (s *memOperationStore) ListOperations(ctx context.Context, userId uuid.UUID, action ActionType, createdBeforeAt, limit int64) ([]Operation, error) {
	ops := make([]Operation, 0)
	for _, op := range s.ops {
		if op.UserId == userId && op.Action == action {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

// ------------ scripted price sources

type staticSource struct {
	typ     OracleType
	price   decimal.Decimal
	err     error
	priceFn func(ctx context.Context) (decimal.Decimal, error)
}

func (s *staticSource) Type() OracleType { return s.typ }

func (s *staticSource) Price(ctx context.Context, cfg *OracleConfig) (decimal.Decimal, error) {
	if s.priceFn != nil {
		return s.priceFn(ctx)
	}
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.price, nil
}

type staticSourceMgr struct {
	sources map[string]*staticSource
}

func newStaticSourceMgr() *staticSourceMgr {
	return &staticSourceMgr{sources: make(map[string]*staticSource)}
}

func (m *staticSourceMgr) GetPriceSource(ctx context.Context, asset *Asset, reg *OracleRegistration) (PriceSource, error) {
	source, ok := m.sources[reg.OracleId]
	if !ok {
		return nil, ErrOracleNotFound
	}
	return source, nil
}

// ------------ scripted feed readers

type fakePushReader struct {
	latest    map[string]*RoundData
	rounds    map[string]map[uint64]*RoundData
	latestErr error
}

func newFakePushReader() *fakePushReader {
	return &fakePushReader{
		latest: make(map[string]*RoundData),
		rounds: make(map[string]map[uint64]*RoundData),
	}
}

func (r *fakePushReader) setRound(feedId string, round *RoundData) {
	r.latest[feedId] = round
	if r.rounds[feedId] == nil {
		r.rounds[feedId] = make(map[uint64]*RoundData)
	}
	r.rounds[feedId][round.RoundId] = round
}

func (r *fakePushReader) LatestRoundData(ctx context.Context, feedId string) (*RoundData, error) {
	if r.latestErr != nil {
		return nil, r.latestErr
	}
	round, ok := r.latest[feedId]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return round, nil
}

func (r *fakePushReader) GetRoundData(ctx context.Context, feedId string, roundId uint64) (*RoundData, error) {
	round, ok := r.rounds[feedId][roundId]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return round, nil
}

type fakeTickReader struct {
	cumulatives map[string][]int64
	err         error
}

func (r *fakeTickReader) TickCumulatives(ctx context.Context, poolId string, secondsAgo []int64) ([]int64, error) {
	if r.err != nil {
		return nil, r.err
	}
	cumulatives, ok := r.cumulatives[poolId]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return cumulatives, nil
}

// ------------ assembled environment

const (
	testManagerToken = ManagerToken("manager-token")
	testBreakerToken = BreakerToken("breaker-token")
)

func newTestUserId(name string) uuid.UUID {
	return uuid.NewV5(uuid.NamespaceDNS, name)
}

type testEnv struct {
	ctx context.Context
	clk *clock.Mock

	assets    *memAssetStore
	tiers     *memTierStore
	oracles   *memOracleStore
	positions *memPositionStore
	poolStore *memPoolStore
	opStore   *memOperationStore
	srcMgr    *staticSourceMgr

	agg      *Aggregator
	registry *Registry
	risk     *RiskEngine
	ledger   *Ledger
}

func newTestEnv() *testEnv {
	clk := clock.NewMock()
	log := newTestLog()
	access := NewAccessController(testManagerToken, testBreakerToken)

	assets := newMemAssetStore()
	tiers := &memTierStore{}
	oracles := newMemOracleStore()
	positions := newMemPositionStore()
	poolStore := newMemPoolStore(clk.Now().Unix())
	opStore := &memOperationStore{}
	srcMgr := newStaticSourceMgr()

	agg := NewAggregator(clk, log, access, assets, oracles, srcMgr)
	registry := NewRegistry(clk, log, access, assets, tiers, agg)
	risk := NewRiskEngine(log, assets, agg)
	ledger := NewLedger(clk, log, positions, poolStore, opStore, registry, risk, DefaultInterestRateModel())

	return &testEnv{
		ctx:       context.Background(),
		clk:       clk,
		assets:    assets,
		tiers:     tiers,
		oracles:   oracles,
		positions: positions,
		poolStore: poolStore,
		opStore:   opStore,
		srcMgr:    srcMgr,
		agg:       agg,
		registry:  registry,
		risk:      risk,
		ledger:    ledger,
	}
}

// listAsset stores an asset directly and wires a static price source for it.
func (e *testEnv) listAsset(assetId string, tier CollateralTier, borrowThreshold, liquidationThreshold uint64, price decimal.Decimal) *Asset {
	asset := NewAsset(e.clk, assetId, assetId, 8)
	asset.Tier = tier
	asset.BorrowThreshold = borrowThreshold
	asset.LiquidationThreshold = liquidationThreshold
	if tier == TierIsolated {
		asset.IsolationDebtCap = decimal.NewFromInt(1000)
	}
	e.assets.assets[assetId] = asset

	oracleId := assetId + "-oracle"
	e.oracles.regs[assetId] = []*OracleRegistration{{
		AssetId:  assetId,
		OracleId: oracleId,
		Type:     OracleTypeChainlink,
		Decimals: 8,
		Primary:  true,
	}}
	e.srcMgr.sources[oracleId] = &staticSource{typ: OracleTypeChainlink, price: price}
	return asset
}

func (e *testEnv) setPrice(assetId string, price decimal.Decimal) {
	e.srcMgr.sources[assetId+"-oracle"].price = price
}

func (e *testEnv) failSource(assetId string, err error) {
	e.srcMgr.sources[assetId+"-oracle"].err = err
}

func (e *testEnv) addSecondOracle(assetId, oracleId string, price decimal.Decimal) {
	e.oracles.regs[assetId] = append(e.oracles.regs[assetId], &OracleRegistration{
		AssetId:  assetId,
		OracleId: oracleId,
		Type:     OracleTypeUniswapV3Twap,
		Decimals: 8,
	})
	e.srcMgr.sources[oracleId] = &staticSource{typ: OracleTypeUniswapV3Twap, price: price}
}
