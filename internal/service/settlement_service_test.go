package service

import (
	"context"
	"fmt"
	"sync"
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
	// Single connection keeps the shared in-memory DB alive and sidesteps
	// SQLITE_BUSY under concurrent transactions.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Account{}, &models.Position{},
		&models.Order{}, &models.Trade{}, &models.ClosedPnLRecord{},
		&models.LedgerEntry{}, &models.IdempotencyRecord{},
	))
	return db
}

func seedPosition(t *testing.T, db *gorm.DB, side models.PositionSide, entry, qty, margin float64) (*models.Account, *models.Position) {
	t.Helper()
	account := &models.Account{
		UserID:             1,
		Name:               "test",
		APIKey:             fmt.Sprintf("key-%s", t.Name()),
		APISecretEncrypted: "secret",
		Balance:            10000,
		InitialBalance:     10000,
		TakerFeeRate:       0.0004,
	}
	require.NoError(t, db.Create(account).Error)

	position := &models.Position{
		AccountID:  account.ID,
		Symbol:     "EURUSD",
		Side:       side,
		Quantity:   qty,
		EntryPrice: entry,
		Leverage:   10,
		MarginMode: models.MarginModeCross,
		Margin:     margin,
		Status:     models.PositionStatusOpen,
	}
	require.NoError(t, db.Create(position).Error)
	return account, position
}

func TestClosePosition_FullClose(t *testing.T) {
	db := newTestDB(t)
	svc := NewSettlementService(db)
	account, position := seedPosition(t, db, models.PositionSideLong, 1.1000, 100000, 1000)

	result, err := svc.ClosePosition(context.Background(), &CloseRequest{
		UserID:         1,
		PositionID:     position.ID,
		Price:          1.1050,
		IdempotencyKey: "close-1",
		Reason:         models.CloseReasonManual,
	})
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, models.PositionStatusClosed, result.PositionStatus)
	assert.InDelta(t, 500.0, result.RealizedPnL, 1e-9) // (1.1050-1.1000)*100000
	assert.InDelta(t, 1.1050*100000*0.0004, result.Commission, 1e-9)
	assert.InDelta(t, 1000.0, result.MarginReleased, 1e-9)
	assert.Zero(t, result.Remaining)

	var reloaded models.Position
	require.NoError(t, db.First(&reloaded, position.ID).Error)
	assert.Equal(t, models.PositionStatusClosed, reloaded.Status)
	assert.Zero(t, reloaded.Quantity)

	var acc models.Account
	require.NoError(t, db.First(&acc, account.ID).Error)
	assert.InDelta(t, 10000+1000+500-result.Commission, acc.Balance, 1e-9)

	var closed int64
	require.NoError(t, db.Model(&models.ClosedPnLRecord{}).
		Where("position_id = ?", position.ID).Count(&closed).Error)
	assert.Equal(t, int64(1), closed)

	var entries int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).
		Where("reference = ?", "close-1").Count(&entries).Error)
	assert.Equal(t, int64(3), entries)
}

func TestClosePosition_PartialCloseStaysOpen(t *testing.T) {
	db := newTestDB(t)
	svc := NewSettlementService(db)
	_, position := seedPosition(t, db, models.PositionSideShort, 1.2000, 50000, 600)

	result, err := svc.ClosePosition(context.Background(), &CloseRequest{
		UserID:         1,
		PositionID:     position.ID,
		Quantity:       20000,
		Price:          1.1900,
		IdempotencyKey: "close-partial",
		Reason:         models.CloseReasonManual,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PositionStatusOpen, result.PositionStatus)
	assert.InDelta(t, 200.0, result.RealizedPnL, 1e-9) // short: (1.2000-1.1900)*20000
	assert.InDelta(t, 600.0*20000/50000, result.MarginReleased, 1e-9)
	assert.InDelta(t, 30000.0, result.Remaining, 1e-9)

	var reloaded models.Position
	require.NoError(t, db.First(&reloaded, position.ID).Error)
	assert.Equal(t, models.PositionStatusOpen, reloaded.Status)
	assert.InDelta(t, 30000.0, reloaded.Quantity, 1e-9)

	// No full-close audit row for a partial close.
	var closed int64
	require.NoError(t, db.Model(&models.ClosedPnLRecord{}).
		Where("position_id = ?", position.ID).Count(&closed).Error)
	assert.Zero(t, closed)
}

func TestClosePosition_DuplicateKeyReplays(t *testing.T) {
	db := newTestDB(t)
	svc := NewSettlementService(db)
	account, position := seedPosition(t, db, models.PositionSideLong, 1.1000, 100000, 1000)

	req := &CloseRequest{
		UserID:         1,
		PositionID:     position.ID,
		Price:          1.1050,
		IdempotencyKey: "close-dup",
		Reason:         models.CloseReasonStopLoss,
	}
	first, err := svc.ClosePosition(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := svc.ClosePosition(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.InDelta(t, first.RealizedPnL, second.RealizedPnL, 1e-9)

	var acc models.Account
	require.NoError(t, db.First(&acc, account.ID).Error)
	assert.InDelta(t, 10000+1000+500-first.Commission, acc.Balance, 1e-9)

	var entries int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).
		Where("reference = ?", "close-dup").Count(&entries).Error)
	assert.Equal(t, int64(3), entries, "replay must not append ledger entries")
}

func TestClosePosition_ConcurrentDuplicates(t *testing.T) {
	db := newTestDB(t)
	svc := NewSettlementService(db)
	_, position := seedPosition(t, db, models.PositionSideLong, 1.1000, 100000, 1000)

	const attempts = 8
	results := make([]*CloseResult, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ClosePosition(context.Background(), &CloseRequest{
				UserID:         1,
				PositionID:     position.ID,
				Price:          1.1050,
				IdempotencyKey: "close-race",
				Reason:         models.CloseReasonTakeProfit,
			})
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < attempts; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		if !results[i].Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one attempt settles, the rest replay")

	var entries int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).
		Where("reference = ?", "close-race").Count(&entries).Error)
	assert.Equal(t, int64(3), entries)

	var orders int64
	require.NoError(t, db.Model(&models.Order{}).
		Where("account_id = ?", position.AccountID).Count(&orders).Error)
	assert.Equal(t, int64(1), orders)
}

func TestClosePosition_AlreadyClosed(t *testing.T) {
	db := newTestDB(t)
	svc := NewSettlementService(db)
	_, position := seedPosition(t, db, models.PositionSideLong, 1.1000, 100000, 1000)

	_, err := svc.ClosePosition(context.Background(), &CloseRequest{
		UserID:         1,
		PositionID:     position.ID,
		Price:          1.1050,
		IdempotencyKey: "close-a",
	})
	require.NoError(t, err)

	// Fresh key against a closed position is a conflict, not a replay.
	_, err = svc.ClosePosition(context.Background(), &CloseRequest{
		UserID:         1,
		PositionID:     position.ID,
		Price:          1.1060,
		IdempotencyKey: "close-b",
	})
	assert.ErrorIs(t, err, ErrPositionClosed)
}

func TestClosePosition_Validation(t *testing.T) {
	db := newTestDB(t)
	svc := NewSettlementService(db)
	_, position := seedPosition(t, db, models.PositionSideLong, 1.1000, 100000, 1000)

	_, err := svc.ClosePosition(context.Background(), &CloseRequest{
		UserID: 1, PositionID: position.ID, Price: 1.1,
	})
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = svc.ClosePosition(context.Background(), &CloseRequest{
		UserID: 1, PositionID: position.ID, Price: 1.1,
		Quantity: 200000, IdempotencyKey: "too-much",
	})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.ClosePosition(context.Background(), &CloseRequest{
		UserID: 2, PositionID: position.ID, Price: 1.1,
		IdempotencyKey: "wrong-owner",
	})
	assert.ErrorIs(t, err, ErrNotPositionOwner)

	_, err = svc.ClosePosition(context.Background(), &CloseRequest{
		UserID: 1, PositionID: 9999, Price: 1.1,
		IdempotencyKey: "missing",
	})
	assert.ErrorIs(t, err, ErrPositionNotFound)

	// Failed attempts must not burn their keys: retry with the same key
	// after fixing the request settles normally.
	result, err := svc.ClosePosition(context.Background(), &CloseRequest{
		UserID: 1, PositionID: position.ID, Price: 1.1050,
		IdempotencyKey: "too-much",
	})
	require.NoError(t, err)
	assert.False(t, result.Replayed)
}

func TestClosePosition_SlippageWorksAgainstCloser(t *testing.T) {
	db := newTestDB(t)
	svc := NewSettlementService(db)
	_, longPos := seedPosition(t, db, models.PositionSideLong, 1.1000, 100000, 1000)

	result, err := svc.ClosePosition(context.Background(), &CloseRequest{
		UserID:         1,
		PositionID:     longPos.ID,
		Price:          1.1050,
		Slippage:       0.001,
		IdempotencyKey: "slip-long",
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.1050*(1-0.001), result.ClosePrice, 1e-9)
	assert.Less(t, result.RealizedPnL, 500.0)
}
