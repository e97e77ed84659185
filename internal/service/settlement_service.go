package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/papertrade-sim/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrPositionNotFound    = errors.New("position not found")
	ErrPositionClosed      = errors.New("position already closed")
	ErrMissingKey          = errors.New("idempotency key required")
	ErrSettlementInFlight  = errors.New("settlement for this key is still in progress")
	ErrNotPositionOwner    = errors.New("position does not belong to user")
)

const idempotencyScopeClose = "position_close"

// CloseRequest describes one settlement attempt. Quantity zero means close
// the full position. UserID zero is the system identity (sweep) and skips
// the ownership check.
type CloseRequest struct {
	UserID         uint
	PositionID     uint
	Quantity       float64
	Price          float64
	Slippage       float64
	IdempotencyKey string
	Reason         models.CloseReason
}

// CloseResult is what one settlement produced. Replayed is true when the
// result was served from the idempotency store instead of a fresh mutation.
type CloseResult struct {
	PositionID     uint                  `json:"position_id"`
	OrderID        uint                  `json:"order_id"`
	ClosedQuantity float64               `json:"closed_quantity"`
	ClosePrice     float64               `json:"close_price"`
	RealizedPnL    float64               `json:"realized_pnl"`
	Commission     float64               `json:"commission"`
	MarginReleased float64               `json:"margin_released"`
	PositionStatus models.PositionStatus `json:"position_status"`
	Remaining      float64               `json:"remaining"`
	Reason         models.CloseReason    `json:"reason"`
	ClosedAt       time.Time             `json:"closed_at"`
	Replayed       bool                  `json:"-"`
}

// Closer is the settlement boundary consumed by sweep and trading code.
type Closer interface {
	ClosePosition(ctx context.Context, req *CloseRequest) (*CloseResult, error)
}

// SettlementService atomically transitions a position to closed (or reduces
// it), computes realized PnL and commission, releases margin and appends
// ledger and audit rows. The whole operation runs in one database
// transaction: the unique idempotency key makes it at-most-once, the
// position row lock serializes concurrent close attempts.
type SettlementService struct {
	db *gorm.DB
}

// NewSettlementService creates a new SettlementService
func NewSettlementService(db *gorm.DB) *SettlementService {
	return &SettlementService{db: db}
}

// ClosePosition settles one close request. A duplicate idempotency key
// returns the originally stored result without touching balances.
func (s *SettlementService) ClosePosition(ctx context.Context, req *CloseRequest) (*CloseResult, error) {
	if req.IdempotencyKey == "" {
		return nil, ErrMissingKey
	}
	if req.Quantity < 0 || req.Price <= 0 {
		return nil, ErrInvalidQuantity
	}
	if req.Reason == "" {
		req.Reason = models.CloseReasonManual
	}

	var result *CloseResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Claim the key first. On conflict the original settlement already
		// ran (or is committing); replay its stored result.
		record := models.IdempotencyRecord{
			Key:   req.IdempotencyKey,
			Scope: idempotencyScopeClose,
		}
		claim := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoNothing: true,
		}).Create(&record)
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			stored, err := s.loadStoredResult(tx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			result = stored
			return nil
		}

		settled, err := s.settle(tx, req)
		if err != nil {
			return err
		}

		raw, err := json.Marshal(settled)
		if err != nil {
			return fmt.Errorf("marshal settlement result: %w", err)
		}
		if err := tx.Model(&models.IdempotencyRecord{}).
			Where("id = ?", record.ID).
			Update("result", datatypes.JSON(raw)).Error; err != nil {
			return err
		}

		result = settled
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SettlementService) loadStoredResult(tx *gorm.DB, key string) (*CloseResult, error) {
	var existing models.IdempotencyRecord
	if err := tx.Where("key = ?", key).First(&existing).Error; err != nil {
		return nil, err
	}
	if len(existing.Result) == 0 {
		// The claiming transaction aborted after inserting, or is not yet
		// committed on a backend without conflict-wait semantics.
		return nil, ErrSettlementInFlight
	}
	var stored CloseResult
	if err := json.Unmarshal(existing.Result, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal stored result: %w", err)
	}
	stored.Replayed = true
	return &stored, nil
}

// lockForUpdate adds a row lock on backends that support one. SQLite has no
// row locks and rejects the clause; its single-writer model already
// serializes the transaction.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// settle performs the actual mutation. Runs inside the caller's transaction
// with the idempotency key already claimed.
func (s *SettlementService) settle(tx *gorm.DB, req *CloseRequest) (*CloseResult, error) {
	var position models.Position
	if err := lockForUpdate(tx).
		First(&position, req.PositionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}

	if position.Status == models.PositionStatusClosed {
		return nil, ErrPositionClosed
	}

	var account models.Account
	if err := lockForUpdate(tx).
		First(&account, position.AccountID).Error; err != nil {
		return nil, err
	}

	if req.UserID != 0 && account.UserID != req.UserID {
		return nil, ErrNotPositionOwner
	}

	closeQty := req.Quantity
	if closeQty == 0 {
		closeQty = position.Quantity
	}
	if closeQty > position.Quantity {
		return nil, ErrInvalidQuantity
	}

	// Market slippage works against the closer.
	executionPrice := req.Price
	if req.Slippage > 0 {
		if position.Side == models.PositionSideLong {
			executionPrice = req.Price * (1 - req.Slippage)
		} else {
			executionPrice = req.Price * (1 + req.Slippage)
		}
	}

	var realizedPnL float64
	if position.Side == models.PositionSideLong {
		realizedPnL = (executionPrice - position.EntryPrice) * closeQty
	} else {
		realizedPnL = (position.EntryPrice - executionPrice) * closeQty
	}

	fee := executionPrice * closeQty * account.TakerFeeRate
	marginReleased := position.Margin * (closeQty / position.Quantity)
	fullClose := closeQty >= position.Quantity
	now := time.Now()

	order := &models.Order{
		AccountID:     position.AccountID,
		ClientOrderID: uuid.New().String(),
		Symbol:        position.Symbol,
		Side:          closeSide(position.Side),
		PositionSide:  position.Side,
		Type:          models.OrderTypeMarket,
		Quantity:      closeQty,
		Status:        models.OrderStatusFilled,
		FilledQty:     closeQty,
		AvgPrice:      executionPrice,
		ReduceOnly:    true,
		ClosePosition: fullClose,
	}
	if err := tx.Create(order).Error; err != nil {
		return nil, err
	}

	trade := &models.Trade{
		AccountID:   position.AccountID,
		OrderID:     order.ID,
		Symbol:      position.Symbol,
		Side:        order.Side,
		Quantity:    closeQty,
		Price:       executionPrice,
		Fee:         fee,
		FeeCurrency: "USD",
		RealizedPnL: realizedPnL,
		ExecutedAt:  now,
	}
	if err := tx.Create(trade).Error; err != nil {
		return nil, err
	}

	if fullClose {
		closedPnL := &models.ClosedPnLRecord{
			AccountID:    position.AccountID,
			PositionID:   position.ID,
			Symbol:       position.Symbol,
			Side:         position.Side,
			Quantity:     position.Quantity,
			EntryPrice:   position.EntryPrice,
			ExitPrice:    executionPrice,
			RealizedPnL:  realizedPnL,
			TotalFee:     fee,
			Leverage:     position.Leverage,
			ClosedReason: req.Reason,
			OpenedAt:     position.CreatedAt,
			ClosedAt:     now,
		}
		if err := tx.Create(closedPnL).Error; err != nil {
			return nil, err
		}

		position.Quantity = 0
		position.Margin = 0
		position.Status = models.PositionStatusClosed
	} else {
		position.Quantity -= closeQty
		position.Margin -= marginReleased
	}
	position.MarkPrice = executionPrice
	if err := tx.Save(&position).Error; err != nil {
		return nil, err
	}

	// Balance mutation plus its audit trail, same transaction.
	account.Balance += marginReleased + realizedPnL - fee
	if err := tx.Save(&account).Error; err != nil {
		return nil, err
	}

	entries := []models.LedgerEntry{
		{
			AccountID:    account.ID,
			Type:         models.LedgerMarginRelease,
			Amount:       marginReleased,
			BalanceAfter: account.Balance - realizedPnL + fee,
			Reference:    req.IdempotencyKey,
		},
		{
			AccountID:    account.ID,
			Type:         models.LedgerRealizedPnL,
			Amount:       realizedPnL,
			BalanceAfter: account.Balance + fee,
			Reference:    req.IdempotencyKey,
		},
		{
			AccountID:    account.ID,
			Type:         models.LedgerCommission,
			Amount:       -fee,
			BalanceAfter: account.Balance,
			Reference:    req.IdempotencyKey,
		},
	}
	if err := tx.Create(&entries).Error; err != nil {
		return nil, err
	}

	status := models.PositionStatusOpen
	if fullClose {
		status = models.PositionStatusClosed
	}

	return &CloseResult{
		PositionID:     position.ID,
		OrderID:        order.ID,
		ClosedQuantity: closeQty,
		ClosePrice:     executionPrice,
		RealizedPnL:    realizedPnL,
		Commission:     fee,
		MarginReleased: marginReleased,
		PositionStatus: status,
		Remaining:      position.Quantity,
		Reason:         req.Reason,
		ClosedAt:       now,
	}, nil
}

func closeSide(side models.PositionSide) models.OrderSide {
	if side == models.PositionSideLong {
		return models.OrderSideSell
	}
	return models.OrderSideBuy
}

// Compile-time interface check.
var _ Closer = (*SettlementService)(nil)
