package repository

import (
	"fmt"
	"testing"

	"github.com/papertrade-sim/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Account{}, &models.Position{}))
	return db
}

// The locked update must run on sqlite, which has no FOR UPDATE syntax; the
// locking clause is only added on backends that support it.
func TestPositionUpdateWithLock_WorksOnSQLite(t *testing.T) {
	db := newTestDB(t)
	repo := NewPositionRepository(db)

	position := &models.Position{
		AccountID:  1,
		Symbol:     "EURUSD",
		Side:       models.PositionSideLong,
		Quantity:   100000,
		EntryPrice: 1.1000,
		Leverage:   10,
		MarginMode: models.MarginModeCross,
		Margin:     1000,
		Status:     models.PositionStatusOpen,
	}
	require.NoError(t, db.Create(position).Error)

	level := 1.0850
	require.NoError(t, repo.UpdateWithLock(position.ID, func(p *models.Position) error {
		p.StopLoss = &level
		return nil
	}))

	var reloaded models.Position
	require.NoError(t, db.First(&reloaded, position.ID).Error)
	require.NotNil(t, reloaded.StopLoss)
	assert.InDelta(t, 1.0850, *reloaded.StopLoss, 1e-9)

	err := repo.UpdateWithLock(99999, func(p *models.Position) error { return nil })
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestAccountUpdateWithLock_WorksOnSQLite(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)

	account := &models.Account{
		UserID:             1,
		Name:               "lock-test",
		APIKey:             "key-lock-test",
		APISecretEncrypted: "secret",
		Balance:            1000,
		InitialBalance:     1000,
	}
	require.NoError(t, db.Create(account).Error)

	require.NoError(t, repo.UpdateWithLock(account.ID, func(tx *gorm.DB, acc *models.Account) error {
		acc.Balance += 250
		return nil
	}))

	var reloaded models.Account
	require.NoError(t, db.First(&reloaded, account.ID).Error)
	assert.InDelta(t, 1250.0, reloaded.Balance, 1e-9)
}
