package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/papertrade-sim/internal/models"
	"github.com/papertrade-sim/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePositions struct {
	mu    sync.Mutex
	store map[uint]*models.Position
}

func newFakePositions(positions ...*models.Position) *fakePositions {
	f := &fakePositions{store: make(map[uint]*models.Position)}
	for _, p := range positions {
		f.store[p.ID] = p
	}
	return f
}

func (f *fakePositions) GetOpenWithProtection() ([]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Position
	for _, p := range f.store {
		if p.IsOpen() && p.HasProtection() {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePositions) UpdateWithLock(id uint, updateFn func(*models.Position) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.store[id]
	if !ok {
		return errors.New("not found")
	}
	return updateFn(p)
}

func (f *fakePositions) get(id uint) models.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.store[id]
}

type fakeAccounts struct{}

func (fakeAccounts) GetByID(id uint) (*models.Account, error) {
	return &models.Account{ID: id, UserID: 7}, nil
}

type fakeMarket struct {
	mu     sync.Mutex
	prices map[string]float64
	errs   map[string]error
}

func (f *fakeMarket) GetPrice(symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[symbol]; ok {
		return 0, err
	}
	price, ok := f.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

type fakeSettlement struct {
	mu       sync.Mutex
	requests []*service.CloseRequest
	err      error
}

func (f *fakeSettlement) ClosePosition(_ context.Context, req *service.CloseRequest) (*service.CloseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &service.CloseResult{
		PositionID:     req.PositionID,
		ClosePrice:     req.Price,
		RealizedPnL:    42,
		PositionStatus: models.PositionStatusClosed,
		Reason:         req.Reason,
		ClosedAt:       time.Now(),
	}, nil
}

func (f *fakeSettlement) calls() []*service.CloseRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*service.CloseRequest(nil), f.requests...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  int
	users []uint
}

func (f *fakeNotifier) Notify(_ context.Context, userID uint, _ models.NotificationType, _, _ string, _ map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	f.users = append(f.users, userID)
}

func ptr(v float64) *float64 { return &v }

func openLong(id uint, entry float64) *models.Position {
	return &models.Position{
		ID:         id,
		AccountID:  id,
		Symbol:     fmt.Sprintf("SYM%d", id),
		Side:       models.PositionSideLong,
		Quantity:   1000,
		EntryPrice: entry,
		Status:     models.PositionStatusOpen,
	}
}

func TestEngine_StopLossSettlesAndNotifies(t *testing.T) {
	p := openLong(1, 1.1000)
	p.StopLoss = ptr(1.0850)

	positions := newFakePositions(p)
	market := &fakeMarket{prices: map[string]float64{p.Symbol: 1.0849}}
	settler := &fakeSettlement{}
	notifier := &fakeNotifier{}

	engine := NewEngine(positions, fakeAccounts{}, market, settler, notifier, NewDedup(time.Minute), 4)
	report, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Triggered)
	assert.Equal(t, 1, report.Settled)
	assert.Zero(t, report.Errors)

	calls := settler.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, models.CloseReasonStopLoss, calls[0].Reason)
	assert.Equal(t, 1.0849, calls[0].Price)
	assert.NotEmpty(t, calls[0].IdempotencyKey)
	assert.Zero(t, calls[0].UserID, "sweep settles as the system identity")

	assert.Equal(t, 1, notifier.sent)
	assert.Equal(t, []uint{7}, notifier.users)
}

func TestEngine_PriceFailureSkipsOnlyThatPosition(t *testing.T) {
	healthy := openLong(1, 1.1000)
	healthy.StopLoss = ptr(1.0850)
	broken := openLong(2, 2.0)
	broken.StopLoss = ptr(1.9)

	positions := newFakePositions(healthy, broken)
	market := &fakeMarket{
		prices: map[string]float64{healthy.Symbol: 1.0800},
		errs:   map[string]error{broken.Symbol: errors.New("feed down")},
	}
	settler := &fakeSettlement{}

	engine := NewEngine(positions, fakeAccounts{}, market, settler, nil, NewDedup(time.Minute), 4)
	report, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Settled)
	assert.Zero(t, report.Errors, "a fetch failure is a skip, not an error or a trigger")

	calls := settler.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, healthy.ID, calls[0].PositionID)
}

func TestEngine_NoTriggerLeavesPositionAlone(t *testing.T) {
	p := openLong(1, 1.1000)
	p.StopLoss = ptr(1.0850)
	p.TakeProfit = ptr(1.1200)

	positions := newFakePositions(p)
	market := &fakeMarket{prices: map[string]float64{p.Symbol: 1.1000}}
	settler := &fakeSettlement{}

	engine := NewEngine(positions, fakeAccounts{}, market, settler, nil, NewDedup(time.Minute), 1)
	report, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Checked)
	assert.Zero(t, report.Triggered)
	assert.Empty(t, settler.calls())
}

func TestEngine_DedupSuppressesRepeatedEvent(t *testing.T) {
	p := openLong(1, 1.1000)
	p.StopLoss = ptr(1.0850)

	positions := newFakePositions(p)
	market := &fakeMarket{prices: map[string]float64{p.Symbol: 1.0800}}
	settler := &fakeSettlement{}
	dedup := NewDedup(time.Minute)

	engine := NewEngine(positions, fakeAccounts{}, market, settler, nil, dedup, 1)

	// The fake store keeps the position open, so without dedup the second
	// pass would settle the same event again.
	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	report, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, settler.calls(), 1)
	assert.Equal(t, 1, report.Triggered)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Settled)
}

func TestEngine_TrailingRatchetAdvancesWithoutSettling(t *testing.T) {
	p := openLong(1, 1.1000)
	p.TrailingEnabled = true
	p.TrailingDistance = ptr(0.0010)
	p.HighestPrice = ptr(1.1000)
	p.TrailingStop = ptr(1.0990)

	positions := newFakePositions(p)
	market := &fakeMarket{prices: map[string]float64{p.Symbol: 1.1050}}
	settler := &fakeSettlement{}

	engine := NewEngine(positions, fakeAccounts{}, market, settler, nil, NewDedup(time.Minute), 1)
	report, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Triggered)
	assert.Empty(t, settler.calls())

	updated := positions.get(p.ID)
	require.NotNil(t, updated.HighestPrice)
	assert.InDelta(t, 1.1050, *updated.HighestPrice, 1e-9)
	require.NotNil(t, updated.TrailingStop)
	assert.InDelta(t, 1.1040, *updated.TrailingStop, 1e-9)
}

func TestEngine_TrailingStopFiresAtStop(t *testing.T) {
	p := openLong(1, 1.1000)
	p.TrailingEnabled = true
	p.TrailingDistance = ptr(0.0010)
	p.HighestPrice = ptr(1.1050)
	p.TrailingStop = ptr(1.1040)

	positions := newFakePositions(p)
	market := &fakeMarket{prices: map[string]float64{p.Symbol: 1.1040}}
	settler := &fakeSettlement{}

	engine := NewEngine(positions, fakeAccounts{}, market, settler, nil, NewDedup(time.Minute), 1)
	report, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Settled)
	calls := settler.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, models.CloseReasonTrailingStop, calls[0].Reason)
}

func TestEngine_LostRaceToManualCloseIsSkip(t *testing.T) {
	p := openLong(1, 1.1000)
	p.StopLoss = ptr(1.0850)

	positions := newFakePositions(p)
	market := &fakeMarket{prices: map[string]float64{p.Symbol: 1.0800}}
	settler := &fakeSettlement{err: service.ErrPositionClosed}

	engine := NewEngine(positions, fakeAccounts{}, market, settler, nil, NewDedup(time.Minute), 1)
	report, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Triggered)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Errors)
}

func TestEngine_SettlementErrorIsIsolatedAndRetryable(t *testing.T) {
	p := openLong(1, 1.1000)
	p.StopLoss = ptr(1.0850)
	other := openLong(2, 1.2000)
	other.StopLoss = ptr(1.1900)

	positions := newFakePositions(p, other)
	market := &fakeMarket{prices: map[string]float64{
		p.Symbol:     1.0800,
		other.Symbol: 1.2100, // no trigger
	}}
	settler := &fakeSettlement{err: errors.New("db down")}
	dedup := NewDedup(time.Minute)

	engine := NewEngine(positions, fakeAccounts{}, market, settler, nil, dedup, 2)
	report, err := engine.Run(context.Background())
	require.NoError(t, err, "per-position failures never fail the sweep")
	assert.Equal(t, 1, report.Errors)

	// The failed event was forgotten, so the next pass retries it.
	settler.mu.Lock()
	settler.err = nil
	settler.mu.Unlock()
	report, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Settled)
}
