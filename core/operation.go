package core

import (
	"context"
	"database/sql/driver"
	"encoding/json"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type (
	OperationStore interface {
		CreateOperation(ctx context.Context, op *Operation) error
		ListOperations(ctx context.Context, userId uuid.UUID, action ActionType, createdBeforeAt, limit int64) ([]Operation, error)
	}

	// Operation is one journaled ledger action, recorded after the action
	// committed.
	Operation struct {
		UserId     uuid.UUID       `json:"userId"`
		PositionId uuid.UUID       `json:"positionId"`
		Action     ActionType      `json:"action"`
		Detail     OperationDetail `json:"detail"`
		CreatedAt  int64           `json:"createdAt"`
	}

	OperationDetail struct {
		AssetId string          `json:"assetId,omitempty"`
		Amount  decimal.Decimal `json:"amount,omitempty"`

		Liquidation *LiquidateResult `json:"liquidation,omitempty"`
	}
)

type ActionType string

const (
	ActionSupply    ActionType = "supply"
	ActionWithdraw  ActionType = "withdraw"
	ActionBorrow    ActionType = "borrow"
	ActionRepay     ActionType = "repay"
	ActionLiquidate ActionType = "liquidate"
	ActionClose     ActionType = "close"
)

func NewOperation(clk clock.Clock, userId, positionId uuid.UUID, action ActionType, detail OperationDetail) *Operation {
	return &Operation{
		UserId:     userId,
		PositionId: positionId,
		Action:     action,
		Detail:     detail,
		CreatedAt:  clk.Now().Unix(),
	}
}

func (d OperationDetail) Value() (driver.Value, error) {
	valueString, err := json.Marshal(d)
	return string(valueString), err
}

func (d *OperationDetail) Scan(value any) error {
	if err := json.Unmarshal(value.([]byte), &d); err != nil {
		return err
	}
	return nil
}
