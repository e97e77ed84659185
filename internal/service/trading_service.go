package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/papertrade-sim/internal/models"
	"github.com/papertrade-sim/internal/quote"
	"github.com/papertrade-sim/internal/repository"
	"github.com/papertrade-sim/pkg/keygen"
	"gorm.io/gorm"
)

var (
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrInvalidSymbol           = errors.New("invalid symbol")
	ErrInvalidLeverage         = errors.New("invalid leverage")
	ErrOrderNotFound           = errors.New("order not found")
	ErrNoOpenPosition          = errors.New("no open position to close")
	ErrInvalidStopLoss         = errors.New("stop loss must be on the losing side of entry")
	ErrInvalidTakeProfit       = errors.New("take profit must be on the winning side of entry")
	ErrInvalidTrailingDistance = errors.New("trailing distance must be positive")
)

const (
	defaultSlippage       = 0.0001 // 0.01% slippage for market orders
	maxLeverage           = 125
	maintenanceMarginRate = 0.004
)

// MarketData is the price lookup surface trading operations need.
type MarketData interface {
	GetPrice(symbol string) (float64, error)
	GetSymbolInfo(symbol string) (*quote.SymbolInfo, error)
}

// TradingService handles trading operations
type TradingService struct {
	accountRepo   *repository.AccountRepository
	positionRepo  *repository.PositionRepository
	orderRepo     *repository.OrderRepository
	tradeRepo     *repository.TradeRepository
	closedPnLRepo *repository.ClosedPnLRepository
	ledgerRepo    *repository.LedgerRepository
	market        MarketData
	settlement    Closer

	leverageCache map[uint]map[string]int // accountID -> symbol -> leverage
	cacheMux      sync.RWMutex
}

// NewTradingService creates a new TradingService
func NewTradingService(
	accountRepo *repository.AccountRepository,
	positionRepo *repository.PositionRepository,
	orderRepo *repository.OrderRepository,
	tradeRepo *repository.TradeRepository,
	closedPnLRepo *repository.ClosedPnLRepository,
	ledgerRepo *repository.LedgerRepository,
	market MarketData,
	settlement Closer,
) *TradingService {
	return &TradingService{
		accountRepo:   accountRepo,
		positionRepo:  positionRepo,
		orderRepo:     orderRepo,
		tradeRepo:     tradeRepo,
		closedPnLRepo: closedPnLRepo,
		ledgerRepo:    ledgerRepo,
		market:        market,
		settlement:    settlement,
		leverageCache: make(map[uint]map[string]int),
	}
}

// OpenPositionRequest represents a request to open a position
type OpenPositionRequest struct {
	AccountID        uint                `json:"account_id" binding:"required"`
	Symbol           string              `json:"symbol" binding:"required"`
	Side             models.PositionSide `json:"side" binding:"required"`
	Quantity         float64             `json:"quantity" binding:"required,gt=0"`
	Leverage         int                 `json:"leverage" binding:"omitempty,min=1,max=125"`
	StopLoss         *float64            `json:"stop_loss"`
	TakeProfit       *float64            `json:"take_profit"`
	TrailingDistance *float64            `json:"trailing_distance"`
}

// ClosePositionRequest represents a request to close a position, in full or
// in part. Quantity nil means close everything.
type ClosePositionRequest struct {
	PositionID     uint     `json:"position_id" binding:"required"`
	Quantity       *float64 `json:"quantity"`
	IdempotencyKey string   `json:"-"`
}

// OpenPosition opens a new position or adds to an existing one. Margin and
// the taker fee are deducted up front, with ledger entries for both.
func (s *TradingService) OpenPosition(userID uint, req *OpenPositionRequest) (*models.Order, *models.Position, error) {
	account, err := s.accountRepo.GetByIDAndUserID(req.AccountID, userID)
	if err != nil {
		return nil, nil, err
	}

	symbolInfo, err := s.market.GetSymbolInfo(req.Symbol)
	if err != nil {
		return nil, nil, ErrInvalidSymbol
	}

	currentPrice, err := s.market.GetPrice(req.Symbol)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get price: %w", err)
	}

	// Market slippage works against the opener.
	executionPrice := currentPrice
	if req.Side == models.PositionSideLong {
		executionPrice = currentPrice * (1 + defaultSlippage)
	} else {
		executionPrice = currentPrice * (1 - defaultSlippage)
	}
	executionPrice = s.roundPrice(executionPrice, symbolInfo)

	leverage := req.Leverage
	if leverage == 0 {
		leverage = s.getLeverage(account.ID, req.Symbol, account.DefaultLeverage)
	}
	if leverage < 1 || leverage > maxLeverage {
		return nil, nil, ErrInvalidLeverage
	}

	if req.Quantity < symbolInfo.MinQty || req.Quantity > symbolInfo.MaxQty {
		return nil, nil, ErrInvalidQuantity
	}

	if err := validateProtection(req.Side, executionPrice, req.StopLoss, req.TakeProfit); err != nil {
		return nil, nil, err
	}
	if req.TrailingDistance != nil && *req.TrailingDistance <= 0 {
		return nil, nil, ErrInvalidTrailingDistance
	}

	positionValue := executionPrice * req.Quantity
	requiredMargin := positionValue / float64(leverage)
	fee := positionValue * account.TakerFeeRate

	if account.Balance < requiredMargin+fee {
		return nil, nil, ErrInsufficientBalance
	}

	order := &models.Order{
		AccountID:     req.AccountID,
		ClientOrderID: uuid.New().String(),
		Symbol:        req.Symbol,
		Side:          openSide(req.Side),
		PositionSide:  req.Side,
		Type:          models.OrderTypeMarket,
		Quantity:      req.Quantity,
		Status:        models.OrderStatusFilled,
		FilledQty:     req.Quantity,
		AvgPrice:      executionPrice,
	}
	if err := s.orderRepo.Create(order); err != nil {
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}

	trade := &models.Trade{
		AccountID:   order.AccountID,
		OrderID:     order.ID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Quantity:    order.Quantity,
		Price:       executionPrice,
		Fee:         fee,
		FeeCurrency: "USD",
		ExecutedAt:  time.Now(),
	}
	if err := s.tradeRepo.Create(trade); err != nil {
		return nil, nil, err
	}

	position, err := s.upsertPosition(order, account, executionPrice, requiredMargin, leverage, req)
	if err != nil {
		return nil, nil, err
	}

	err = s.accountRepo.UpdateWithLock(account.ID, func(tx *gorm.DB, acc *models.Account) error {
		acc.Balance -= requiredMargin + fee

		entries := []models.LedgerEntry{
			{
				AccountID:    acc.ID,
				Type:         models.LedgerMarginHold,
				Amount:       -requiredMargin,
				BalanceAfter: acc.Balance + fee,
				Reference:    order.ClientOrderID,
			},
			{
				AccountID:    acc.ID,
				Type:         models.LedgerCommission,
				Amount:       -fee,
				BalanceAfter: acc.Balance,
				Reference:    order.ClientOrderID,
			},
		}
		return tx.Create(&entries).Error
	})
	if err != nil {
		return nil, nil, err
	}

	return order, position, nil
}

// upsertPosition merges the fill into an existing same-side position or
// creates a new one.
func (s *TradingService) upsertPosition(
	order *models.Order,
	account *models.Account,
	executionPrice, margin float64,
	leverage int,
	req *OpenPositionRequest,
) (*models.Position, error) {
	existing, err := s.positionRepo.GetOpenByAccountSymbolAndSide(order.AccountID, order.Symbol, order.PositionSide)
	if err == nil && existing != nil {
		totalQty := existing.Quantity + order.Quantity
		avgPrice := (existing.EntryPrice*existing.Quantity + executionPrice*order.Quantity) / totalQty

		existing.Quantity = totalQty
		existing.EntryPrice = avgPrice
		existing.MarkPrice = executionPrice
		existing.Margin += margin
		existing.LiquidationPrice = existing.CalculateLiquidationPrice(maintenanceMarginRate)
		if req.StopLoss != nil {
			existing.StopLoss = req.StopLoss
		}
		if req.TakeProfit != nil {
			existing.TakeProfit = req.TakeProfit
		}
		if req.TrailingDistance != nil {
			existing.TrailingEnabled = true
			existing.TrailingDistance = req.TrailingDistance
		}

		if err := s.positionRepo.Update(existing); err != nil {
			return nil, err
		}
		return existing, nil
	}
	if err != nil && !errors.Is(err, repository.ErrPositionNotFound) {
		return nil, err
	}

	position := &models.Position{
		AccountID:  order.AccountID,
		Symbol:     order.Symbol,
		Side:       order.PositionSide,
		Quantity:   order.Quantity,
		EntryPrice: executionPrice,
		MarkPrice:  executionPrice,
		Leverage:   leverage,
		MarginMode: account.MarginMode,
		Margin:     margin,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Status:     models.PositionStatusOpen,
	}
	position.LiquidationPrice = position.CalculateLiquidationPrice(maintenanceMarginRate)
	if req.TrailingDistance != nil {
		position.TrailingEnabled = true
		position.TrailingDistance = req.TrailingDistance
	}

	if err := s.positionRepo.Create(position); err != nil {
		return nil, err
	}
	return position, nil
}

// ClosePosition closes (or reduces) a position at the current market price.
// The actual settlement is delegated to the settlement service; if the
// client supplied an idempotency key a retried request replays the original
// result.
func (s *TradingService) ClosePosition(ctx context.Context, userID uint, req *ClosePositionRequest) (*CloseResult, error) {
	position, err := s.positionRepo.GetByID(req.PositionID)
	if err != nil {
		return nil, ErrNoOpenPosition
	}

	currentPrice, err := s.market.GetPrice(position.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get price: %w", err)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = keygen.ManualIdempotencyKey(position.ID)
	}

	var closeQty float64
	if req.Quantity != nil {
		closeQty = *req.Quantity
	}

	return s.settlement.ClosePosition(ctx, &CloseRequest{
		UserID:         userID,
		PositionID:     position.ID,
		Quantity:       closeQty,
		Price:          currentPrice,
		Slippage:       defaultSlippage,
		IdempotencyKey: key,
		Reason:         models.CloseReasonManual,
	})
}

// SetStopLoss sets or clears the stop loss on a position. The level must sit
// on the losing side of the entry price for the position's direction.
func (s *TradingService) SetStopLoss(userID, positionID uint, stopLoss *float64) (*models.Position, error) {
	return s.updateProtection(userID, positionID, func(p *models.Position) error {
		if stopLoss != nil {
			if err := validateProtection(p.Side, p.EntryPrice, stopLoss, nil); err != nil {
				return err
			}
		}
		p.StopLoss = stopLoss
		return nil
	})
}

// SetTakeProfit sets or clears the take profit on a position. The level must
// sit on the winning side of the entry price.
func (s *TradingService) SetTakeProfit(userID, positionID uint, takeProfit *float64) (*models.Position, error) {
	return s.updateProtection(userID, positionID, func(p *models.Position) error {
		if takeProfit != nil {
			if err := validateProtection(p.Side, p.EntryPrice, nil, takeProfit); err != nil {
				return err
			}
		}
		p.TakeProfit = takeProfit
		return nil
	})
}

// EnableTrailing turns on the trailing stop with the given distance. The
// ratchet is seeded from the current price when one is available; otherwise
// the first sweep sample seeds it.
func (s *TradingService) EnableTrailing(userID, positionID uint, distance float64) (*models.Position, error) {
	if distance <= 0 {
		return nil, ErrInvalidTrailingDistance
	}
	return s.updateProtection(userID, positionID, func(p *models.Position) error {
		p.TrailingEnabled = true
		p.TrailingDistance = &distance
		p.HighestPrice = nil
		p.LowestPrice = nil
		p.TrailingStop = nil
		if currentPrice, err := s.market.GetPrice(p.Symbol); err == nil && currentPrice > 0 {
			seedTrailing(p, currentPrice)
		}
		return nil
	})
}

// DisableTrailing turns off the trailing stop and clears its state.
func (s *TradingService) DisableTrailing(userID, positionID uint) (*models.Position, error) {
	return s.updateProtection(userID, positionID, func(p *models.Position) error {
		p.TrailingEnabled = false
		p.TrailingDistance = nil
		p.HighestPrice = nil
		p.LowestPrice = nil
		p.TrailingStop = nil
		return nil
	})
}

func (s *TradingService) updateProtection(userID, positionID uint, mutate func(*models.Position) error) (*models.Position, error) {
	position, err := s.positionRepo.GetByID(positionID)
	if err != nil {
		return nil, ErrPositionNotFound
	}
	account, err := s.accountRepo.GetByID(position.AccountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		return nil, ErrPositionNotFound
	}
	if !position.IsOpen() {
		return nil, ErrPositionClosed
	}

	if err := mutate(position); err != nil {
		return nil, err
	}
	if err := s.positionRepo.Update(position); err != nil {
		return nil, err
	}
	return position, nil
}

// SetLeverage sets the leverage for a symbol
func (s *TradingService) SetLeverage(accountID uint, symbol string, leverage int) error {
	if leverage < 1 || leverage > maxLeverage {
		return ErrInvalidLeverage
	}

	s.cacheMux.Lock()
	defer s.cacheMux.Unlock()

	if s.leverageCache[accountID] == nil {
		s.leverageCache[accountID] = make(map[string]int)
	}
	s.leverageCache[accountID][symbol] = leverage

	return nil
}

// GetPositions returns all positions for an account with refreshed mark
// prices and unrealized PnL.
func (s *TradingService) GetPositions(userID, accountID uint) ([]models.Position, error) {
	if _, err := s.accountRepo.GetByIDAndUserID(accountID, userID); err != nil {
		return nil, err
	}

	positions, err := s.positionRepo.GetByAccountID(accountID)
	if err != nil {
		return nil, err
	}

	for i := range positions {
		price, err := s.market.GetPrice(positions[i].Symbol)
		if err == nil {
			positions[i].MarkPrice = price
			positions[i].UnrealizedPnL = positions[i].CalculateUnrealizedPnL(price)
		}
	}

	return positions, nil
}

// GetBalanceSummary returns account health including margin level.
func (s *TradingService) GetBalanceSummary(userID, accountID uint) (*models.BalanceSummary, error) {
	account, err := s.accountRepo.GetByIDAndUserID(accountID, userID)
	if err != nil {
		return nil, err
	}

	positions, err := s.GetPositions(userID, accountID)
	if err != nil {
		return nil, err
	}

	var totalUnrealizedPnL, totalMargin float64
	for _, pos := range positions {
		if !pos.IsOpen() {
			continue
		}
		totalUnrealizedPnL += pos.UnrealizedPnL
		totalMargin += pos.Margin
	}

	summary := &models.BalanceSummary{
		Balance:        account.Balance,
		Available:      account.Balance,
		UsedMargin:     totalMargin,
		UnrealizedPnL:  totalUnrealizedPnL,
		Equity:         account.Balance + totalMargin + totalUnrealizedPnL,
		InitialBalance: account.InitialBalance,
	}
	if totalMargin > 0 {
		summary.MarginLevel = summary.Equity / totalMargin * 100
	}
	return summary, nil
}

// GetClosedPnL returns closed PnL records
func (s *TradingService) GetClosedPnL(userID, accountID uint, page, pageSize int) ([]models.ClosedPnLRecord, int64, error) {
	if _, err := s.accountRepo.GetByIDAndUserID(accountID, userID); err != nil {
		return nil, 0, err
	}
	return s.closedPnLRepo.GetByAccountIDPaginated(accountID, page, pageSize)
}

// GetOrders returns paginated orders for an account
func (s *TradingService) GetOrders(userID, accountID uint, page, pageSize int) ([]models.Order, int64, error) {
	if _, err := s.accountRepo.GetByIDAndUserID(accountID, userID); err != nil {
		return nil, 0, err
	}
	return s.orderRepo.GetByAccountIDPaginated(accountID, page, pageSize)
}

// GetOrderStatus returns a single order scoped to the account
func (s *TradingService) GetOrderStatus(accountID, orderID uint) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(orderID)
	if err != nil {
		return nil, ErrOrderNotFound
	}
	if order.AccountID != accountID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// GetLedger returns the paginated audit trail of balance mutations
func (s *TradingService) GetLedger(userID, accountID uint, page, pageSize int) ([]models.LedgerEntry, int64, error) {
	if _, err := s.accountRepo.GetByIDAndUserID(accountID, userID); err != nil {
		return nil, 0, err
	}
	return s.ledgerRepo.GetByAccountIDPaginated(accountID, page, pageSize)
}

// Helper functions

// validateProtection rejects protective levels on the wrong side of the
// reference price: a long stop loss must be below it, a long take profit
// above, shorts mirrored.
func validateProtection(side models.PositionSide, reference float64, stopLoss, takeProfit *float64) error {
	if stopLoss != nil {
		if side == models.PositionSideLong && *stopLoss >= reference {
			return ErrInvalidStopLoss
		}
		if side == models.PositionSideShort && *stopLoss <= reference {
			return ErrInvalidStopLoss
		}
	}
	if takeProfit != nil {
		if side == models.PositionSideLong && *takeProfit <= reference {
			return ErrInvalidTakeProfit
		}
		if side == models.PositionSideShort && *takeProfit >= reference {
			return ErrInvalidTakeProfit
		}
	}
	return nil
}

// seedTrailing initializes the ratchet extremes from the current price.
func seedTrailing(p *models.Position, currentPrice float64) {
	stop := currentPrice
	if p.Side == models.PositionSideLong {
		high := currentPrice
		stop = currentPrice - *p.TrailingDistance
		p.HighestPrice = &high
	} else {
		low := currentPrice
		stop = currentPrice + *p.TrailingDistance
		p.LowestPrice = &low
	}
	p.TrailingStop = &stop
}

func (s *TradingService) getLeverage(accountID uint, symbol string, defaultLeverage int) int {
	s.cacheMux.RLock()
	defer s.cacheMux.RUnlock()

	if leverages, ok := s.leverageCache[accountID]; ok {
		if lev, ok := leverages[symbol]; ok {
			return lev
		}
	}
	return defaultLeverage
}

func openSide(positionSide models.PositionSide) models.OrderSide {
	if positionSide == models.PositionSideLong {
		return models.OrderSideBuy
	}
	return models.OrderSideSell
}

func (s *TradingService) roundPrice(price float64, symbolInfo *quote.SymbolInfo) float64 {
	if symbolInfo.TickSize > 0 {
		return math.Round(price/symbolInfo.TickSize) * symbolInfo.TickSize
	}
	precision := math.Pow(10, float64(symbolInfo.PricePrecision))
	return math.Round(price*precision) / precision
}
