package repository

import (
	"github.com/papertrade-sim/internal/models"
	"gorm.io/gorm"
)

// LedgerRepository handles ledger entry data access. Entries are append-only.
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new LedgerRepository
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create appends a ledger entry
func (r *LedgerRepository) Create(entry *models.LedgerEntry) error {
	return r.db.Create(entry).Error
}

// GetByAccountIDPaginated retrieves ledger entries with pagination
func (r *LedgerRepository) GetByAccountIDPaginated(accountID uint, page, pageSize int) ([]models.LedgerEntry, int64, error) {
	var entries []models.LedgerEntry
	var total int64

	if err := r.db.Model(&models.LedgerEntry{}).Where("account_id = ?", accountID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	result := r.db.Where("account_id = ?", accountID).
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&entries)

	return entries, total, result.Error
}

// GetByReference retrieves all ledger entries sharing a reference
func (r *LedgerRepository) GetByReference(reference string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	result := r.db.Where("reference = ?", reference).Order("id ASC").Find(&entries)
	return entries, result.Error
}

// CountByReference counts ledger entries for a reference
func (r *LedgerRepository) CountByReference(reference string) (int64, error) {
	var count int64
	err := r.db.Model(&models.LedgerEntry{}).Where("reference = ?", reference).Count(&count).Error
	return count, err
}
