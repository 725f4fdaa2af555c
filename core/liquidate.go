package core

import (
	"github.com/shopspring/decimal"
)

// LiquidateResult captures one full liquidation: the liquidator repays the
// outstanding debt and receives seized collateral worth the debt plus the
// tier liquidation fee; any residual collateral is returned to the owner.
type LiquidateResult struct {
	PreHealth  decimal.Decimal `json:"preHealth"`
	PostHealth decimal.Decimal `json:"postHealth"`

	Repaid         decimal.Decimal `json:"repaid"`
	LiquidationFee decimal.Decimal `json:"liquidationFee"`

	SeizedCollateral   map[string]decimal.Decimal `json:"seizedCollateral"`
	ReturnedCollateral map[string]decimal.Decimal `json:"returnedCollateral"`

	// Shortfall is the seize-target value not covered by collateral when the
	// position was already under water past the liquidation bonus.
	Shortfall decimal.Decimal `json:"shortfall"`
}
