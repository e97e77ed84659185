package repository

import (
	"github.com/papertrade-sim/internal/models"
	"gorm.io/gorm"
)

// TradeRepository handles trade data access
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository creates a new TradeRepository
func NewTradeRepository(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create creates a new trade
func (r *TradeRepository) Create(trade *models.Trade) error {
	return r.db.Create(trade).Error
}

// GetByAccountIDPaginated retrieves trades with pagination
func (r *TradeRepository) GetByAccountIDPaginated(accountID uint, page, pageSize int) ([]models.Trade, int64, error) {
	var trades []models.Trade
	var total int64

	if err := r.db.Model(&models.Trade{}).Where("account_id = ?", accountID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	result := r.db.Where("account_id = ?", accountID).
		Order("executed_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&trades)

	return trades, total, result.Error
}

// GetByOrderID retrieves all trades for an order
func (r *TradeRepository) GetByOrderID(orderID uint) ([]models.Trade, error) {
	var trades []models.Trade
	result := r.db.Where("order_id = ?", orderID).Find(&trades)
	return trades, result.Error
}

// GetTotalRealizedPnL calculates total realized PnL
func (r *TradeRepository) GetTotalRealizedPnL(accountID uint) (float64, error) {
	var total struct {
		Sum float64
	}
	err := r.db.Model(&models.Trade{}).
		Select("COALESCE(SUM(realized_pnl), 0) as sum").
		Where("account_id = ?", accountID).
		Scan(&total).Error
	return total.Sum, err
}

// ClosedPnLRepository handles closed PnL record data access
type ClosedPnLRepository struct {
	db *gorm.DB
}

// NewClosedPnLRepository creates a new ClosedPnLRepository
func NewClosedPnLRepository(db *gorm.DB) *ClosedPnLRepository {
	return &ClosedPnLRepository{db: db}
}

// Create creates a new closed PnL record
func (r *ClosedPnLRepository) Create(record *models.ClosedPnLRecord) error {
	return r.db.Create(record).Error
}

// GetByAccountIDPaginated retrieves closed PnL records with pagination
func (r *ClosedPnLRepository) GetByAccountIDPaginated(accountID uint, page, pageSize int) ([]models.ClosedPnLRecord, int64, error) {
	var records []models.ClosedPnLRecord
	var total int64

	if err := r.db.Model(&models.ClosedPnLRecord{}).Where("account_id = ?", accountID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	result := r.db.Where("account_id = ?", accountID).
		Order("closed_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&records)

	return records, total, result.Error
}
