package core

import (
	"context"
	"sort"
	"strconv"

	"github.com/HarborLend/core/utils"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type (
	PositionStore interface {
		CreatePosition(ctx context.Context, position *Position) error
		GetPosition(ctx context.Context, userId uuid.UUID, index uint8) (*Position, error)
		ListPositions(ctx context.Context, userId uuid.UUID) ([]*Position, error)
		UpsertPosition(ctx context.Context, position *Position) error
	}

	// Position is a user's isolated bookkeeping unit holding collateral and
	// debt, owned exclusively by the (user, index) pair.
	Position struct {
		Id     uuid.UUID `json:"id"`
		UserId uuid.UUID `json:"userId"`
		Index  uint8     `json:"index"`

		Collateral map[string]decimal.Decimal `json:"collateral"`

		DebtPrincipal          decimal.Decimal `json:"debtPrincipal"`
		DebtIndexAtLastAccrual decimal.Decimal `json:"debtIndexAtLastAccrual"`
		AppliedTier            CollateralTier  `json:"appliedTier"`

		IsIsolated      bool   `json:"isIsolated"`
		IsolatedAssetId string `json:"isolatedAssetId"`

		Status PositionStatus `json:"status"`

		CreatedAt  int64 `json:"createdAt"`
		LastUpdate int64 `json:"lastUpdate"`
	}
)

type PositionStatus uint8

const (
	PositionStatusActive PositionStatus = iota
	PositionStatusLiquidated
	PositionStatusClosed
)

func (ps PositionStatus) String() string {
	switch ps {
	case PositionStatusActive:
		return "Active"
	case PositionStatusLiquidated:
		return "Liquidated"
	case PositionStatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

func NewPosition(clk clock.Clock, userId uuid.UUID, index uint8) *Position {
	return &Position{
		Id:                     uuid.Must(uuid.FromString(utils.GenUuidFromStrings(userId.String(), strconv.Itoa(int(index))))),
		UserId:                 userId,
		Index:                  index,
		Collateral:             make(map[string]decimal.Decimal),
		DebtPrincipal:          decimal.Zero,
		DebtIndexAtLastAccrual: ONE,
		Status:                 PositionStatusActive,
		CreatedAt:              clk.Now().Unix(),
		LastUpdate:             clk.Now().Unix(),
	}
}

func FindOrCreatePosition(ctx context.Context, clk clock.Clock, store PositionStore, userId uuid.UUID, index uint8) (*Position, error) {
	position, err := store.GetPosition(ctx, userId, index)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			position = NewPosition(clk, userId, index)
			if err := store.CreatePosition(ctx, position); err != nil {
				return nil, err
			}
			return position, nil
		}
		return nil, err
	}
	return position, nil
}

func (p *Position) Clone() *Position {
	clone := *p
	clone.Collateral = make(map[string]decimal.Decimal, len(p.Collateral))
	for assetId, amount := range p.Collateral {
		clone.Collateral[assetId] = amount
	}
	return &clone
}

func (p *Position) EnsureActive() error {
	if p.Status != PositionStatusActive {
		return ErrPositionNotActive
	}
	return nil
}

func (p *Position) CollateralAmount(assetId string) decimal.Decimal {
	amount, ok := p.Collateral[assetId]
	if !ok {
		return decimal.Zero
	}
	return amount
}

// CollateralAssetIds returns held asset ids in a deterministic order.
func (p *Position) CollateralAssetIds() []string {
	ids := make([]string, 0, len(p.Collateral))
	for assetId, amount := range p.Collateral {
		if amount.GreaterThan(ZERO_AMOUNT_THRESHOLD) {
			ids = append(ids, assetId)
		}
	}
	sort.Strings(ids)
	return ids
}

func (p *Position) AddCollateral(assetId string, amount decimal.Decimal) {
	p.Collateral[assetId] = p.CollateralAmount(assetId).Add(amount)
}

func (p *Position) RemoveCollateral(assetId string, amount decimal.Decimal) error {
	held := p.CollateralAmount(assetId)
	if held.LessThan(amount) {
		return ErrInsufficientCollateral
	}
	remaining := held.Sub(amount)
	if remaining.LessThan(EMPTY_BALANCE_THRESHOLD) {
		delete(p.Collateral, assetId)
		return nil
	}
	p.Collateral[assetId] = remaining
	return nil
}

func (p *Position) HasCollateral() bool {
	return len(p.CollateralAssetIds()) > 0
}

func (p *Position) HasDebt() bool {
	return p.DebtPrincipal.GreaterThan(ZERO_AMOUNT_THRESHOLD)
}

// DebtAmount is the outstanding debt at the given tier borrow index.
func (p *Position) DebtAmount(currentIndex decimal.Decimal) decimal.Decimal {
	if !p.HasDebt() {
		return decimal.Zero
	}
	return p.DebtPrincipal.Mul(currentIndex).Div(p.DebtIndexAtLastAccrual)
}

// AccrueTo folds accrued interest into the principal and moves the position
// to the given index.
func (p *Position) AccrueTo(currentIndex decimal.Decimal) {
	p.DebtPrincipal = p.DebtAmount(currentIndex)
	p.DebtIndexAtLastAccrual = currentIndex
}

func (p *Position) MarkLiquidated(clk clock.Clock) error {
	if err := p.EnsureActive(); err != nil {
		return err
	}
	p.Status = PositionStatusLiquidated
	p.LastUpdate = clk.Now().Unix()
	return nil
}

func (p *Position) MarkClosed(clk clock.Clock) error {
	if err := p.EnsureActive(); err != nil {
		return err
	}
	if p.HasDebt() || p.HasCollateral() {
		return ErrPositionNotEmpty
	}
	p.Status = PositionStatusClosed
	p.LastUpdate = clk.Now().Unix()
	return nil
}
