package repository

import (
	"errors"

	"github.com/papertrade-sim/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPositionNotFound = errors.New("position not found")
)

// PositionRepository handles position data access
type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new PositionRepository
func NewPositionRepository(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create creates a new position
func (r *PositionRepository) Create(position *models.Position) error {
	return r.db.Create(position).Error
}

// GetByID retrieves a position by ID
func (r *PositionRepository) GetByID(id uint) (*models.Position, error) {
	var position models.Position
	result := r.db.First(&position, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, result.Error
	}
	return &position, nil
}

// GetByAccountID retrieves all open positions for an account
func (r *PositionRepository) GetByAccountID(accountID uint) ([]models.Position, error) {
	var positions []models.Position
	result := r.db.Where("account_id = ? AND status = ?", accountID, models.PositionStatusOpen).Find(&positions)
	return positions, result.Error
}

// GetOpenByAccountSymbolAndSide retrieves an open position by account ID, symbol, and side
func (r *PositionRepository) GetOpenByAccountSymbolAndSide(accountID uint, symbol string, side models.PositionSide) (*models.Position, error) {
	var position models.Position
	result := r.db.Where("account_id = ? AND symbol = ? AND side = ? AND status = ?",
		accountID, symbol, side, models.PositionStatusOpen).First(&position)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, result.Error
	}
	return &position, nil
}

// GetOpenWithProtection retrieves every open position that has a stop-loss,
// take-profit or trailing stop configured. This is the sweep working set.
func (r *PositionRepository) GetOpenWithProtection() ([]models.Position, error) {
	var positions []models.Position
	result := r.db.Where("status = ?", models.PositionStatusOpen).
		Where("stop_loss IS NOT NULL OR take_profit IS NOT NULL OR trailing_enabled = ?", true).
		Find(&positions)
	return positions, result.Error
}

// Update updates a position
func (r *PositionRepository) Update(position *models.Position) error {
	return r.db.Save(position).Error
}

// lockForUpdate adds a row lock on backends that support one. SQLite has no
// FOR UPDATE syntax; its single-writer model serializes the transaction
// anyway.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// UpdateWithLock locks the position row, applies updateFn and persists the
// result inside one transaction
func (r *PositionRepository) UpdateWithLock(id uint, updateFn func(*models.Position) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var position models.Position
		if err := lockForUpdate(tx).First(&position, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPositionNotFound
			}
			return err
		}

		if err := updateFn(&position); err != nil {
			return err
		}

		return tx.Save(&position).Error
	})
}

// GetOpenPositionsCount counts open positions for an account
func (r *PositionRepository) GetOpenPositionsCount(accountID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Position{}).
		Where("account_id = ? AND status = ?", accountID, models.PositionStatusOpen).
		Count(&count).Error
	return count, err
}

// GetTotalUsedMargin sums margin held by open positions for an account
func (r *PositionRepository) GetTotalUsedMargin(accountID uint) (float64, error) {
	var total struct {
		Sum float64
	}
	err := r.db.Model(&models.Position{}).
		Select("COALESCE(SUM(margin), 0) as sum").
		Where("account_id = ? AND status = ?", accountID, models.PositionStatusOpen).
		Scan(&total).Error
	return total.Sum, err
}
