package handler

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/papertrade-sim/internal/middleware"
	"github.com/papertrade-sim/internal/models"
	"github.com/papertrade-sim/internal/repository"
	"github.com/papertrade-sim/internal/service"
	"github.com/papertrade-sim/pkg/response"
)

// TradingHandler handles trading API requests
type TradingHandler struct {
	tradingService *service.TradingService
}

// NewTradingHandler creates a new TradingHandler
func NewTradingHandler(tradingService *service.TradingService) *TradingHandler {
	return &TradingHandler{
		tradingService: tradingService,
	}
}

// accountID extracts and parses the account id path parameter
func accountID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("account_id"), 10, 64)
	if err != nil {
		return 0, errors.New("invalid account id")
	}
	return uint(id), nil
}

// positionID extracts and parses the position id path parameter
func positionID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("position_id"), 10, 64)
	if err != nil {
		return 0, errors.New("invalid position id")
	}
	return uint(id), nil
}

// pageParams parses pagination query parameters. Out-of-range values are
// clamped rather than rejected: page below 1 becomes 1, a non-positive page
// size falls back to the default, and oversized pages are capped.
func pageParams(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	} else if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

// openRequest is the shared body for open-long and open-short
type openRequest struct {
	Symbol           string   `json:"symbol" binding:"required"`
	Quantity         float64  `json:"quantity" binding:"required,gt=0"`
	Leverage         int      `json:"leverage"`
	StopLoss         *float64 `json:"stop_loss"`
	TakeProfit       *float64 `json:"take_profit"`
	TrailingDistance *float64 `json:"trailing_distance"`
}

func (h *TradingHandler) openPosition(c *gin.Context, side models.PositionSide) {
	accID, err := accountID(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	order, position, err := h.tradingService.OpenPosition(middleware.GetUserID(c), &service.OpenPositionRequest{
		AccountID:        accID,
		Symbol:           req.Symbol,
		Side:             side,
		Quantity:         req.Quantity,
		Leverage:         req.Leverage,
		StopLoss:         req.StopLoss,
		TakeProfit:       req.TakeProfit,
		TrailingDistance: req.TrailingDistance,
	})
	if err != nil {
		h.handleTradingError(c, err)
		return
	}

	response.Success(c, gin.H{
		"order":    order,
		"position": position,
	})
}

// OpenLong opens a long position
// POST /api/v1/trading/:account_id/open-long
func (h *TradingHandler) OpenLong(c *gin.Context) {
	h.openPosition(c, models.PositionSideLong)
}

// OpenShort opens a short position
// POST /api/v1/trading/:account_id/open-short
func (h *TradingHandler) OpenShort(c *gin.Context) {
	h.openPosition(c, models.PositionSideShort)
}

// ClosePosition closes a position in full or in part. An Idempotency-Key
// header makes retried requests replay the original settlement.
// POST /api/v1/trading/:account_id/positions/:position_id/close
func (h *TradingHandler) ClosePosition(c *gin.Context) {
	posID, err := positionID(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var req struct {
		Quantity *float64 `json:"quantity" binding:"omitempty,gt=0"`
	}
	// An empty body means close in full.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.tradingService.ClosePosition(c.Request.Context(), middleware.GetUserID(c), &service.ClosePositionRequest{
		PositionID:     posID,
		Quantity:       req.Quantity,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		h.handleTradingError(c, err)
		return
	}

	response.Success(c, result)
}

// SetStopLoss sets or clears the stop loss on a position
// PUT /api/v1/trading/:account_id/positions/:position_id/stop-loss
func (h *TradingHandler) SetStopLoss(c *gin.Context) {
	posID, err := positionID(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var req struct {
		StopLoss *float64 `json:"stop_loss" binding:"omitempty,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	position, err := h.tradingService.SetStopLoss(middleware.GetUserID(c), posID, req.StopLoss)
	if err != nil {
		h.handleTradingError(c, err)
		return
	}

	response.Success(c, position)
}

// SetTakeProfit sets or clears the take profit on a position
// PUT /api/v1/trading/:account_id/positions/:position_id/take-profit
func (h *TradingHandler) SetTakeProfit(c *gin.Context) {
	posID, err := positionID(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var req struct {
		TakeProfit *float64 `json:"take_profit" binding:"omitempty,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	position, err := h.tradingService.SetTakeProfit(middleware.GetUserID(c), posID, req.TakeProfit)
	if err != nil {
		h.handleTradingError(c, err)
		return
	}

	response.Success(c, position)
}

// EnableTrailing enables the trailing stop with a distance
// POST /api/v1/trading/:account_id/positions/:position_id/trailing
func (h *TradingHandler) EnableTrailing(c *gin.Context) {
	posID, err := positionID(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var req struct {
		Distance float64 `json:"distance" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	position, err := h.tradingService.EnableTrailing(middleware.GetUserID(c), posID, req.Distance)
	if err != nil {
		h.handleTradingError(c, err)
		return
	}

	response.Success(c, position)
}

// DisableTrailing disables the trailing stop
// DELETE /api/v1/trading/:account_id/positions/:position_id/trailing
func (h *TradingHandler) DisableTrailing(c *gin.Context) {
	posID, err := positionID(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	position, err := h.tradingService.DisableTrailing(middleware.GetUserID(c), posID)
	if err != nil {
		h.handleTradingError(c, err)
		return
	}

	response.Success(c, position)
}

// GetPositions returns all positions with fresh mark prices
// GET /api/v1/trading/:account_id/positions
func (h *TradingHandler) GetPositions(c *gin.Context) {
	accID, err := accountID(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	positions, err := h.tradingService.GetPositions(middleware.GetUserID(c), accID)
	if err != nil {
		h.handleTradingError(c, err)
		return
	}

	response.Success(c, positions)
}

// GetBalance returns the account balance summary
// GET /api/v1/trading/:account_id/balance
func (h *TradingHandler) GetBalance(c *gin.Context) {
	accID, err := accountID(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	summary, err := h.tradingService.GetBalanceSummary(middleware.GetUserID(c), accID)
	if err != nil {
		h.handleTradingError(c, err)
		return
	}

	response.Success(c, summary)
}

// SetLeverage sets leverage for a symbol
// POST /api/v1/trading/:account_id/leverage
func (h *TradingHandler) SetLeverage(c *gin.Context) {
	accID, err := accountID(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var req struct {
		Symbol   string `json:"symbol" binding:"required"`
		Leverage int    `json:"leverage" binding:"required,min=1,max=125"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.tradingService.SetLeverage(accID, req.Symbol, req.Leverage); err != nil {
		h.handleTradingError(c, err)
		return
	}

	response.Success(c, gin.H{
		"symbol":   req.Symbol,
		"leverage": req.Leverage,
	})
}

// GetClosedPnL returns closed PnL records
// GET /api/v1/trading/:account_id/closed-pnl
func (h *TradingHandler) GetClosedPnL(c *gin.Context) {
	accID, err := accountID(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	page, pageSize := pageParams(c)

	records, total, err := h.tradingService.GetClosedPnL(middleware.GetUserID(c), accID, page, pageSize)
	if err != nil {
		h.handleTradingError(c, err)
		return
	}

	response.SuccessPaginated(c, records, total, page, pageSize)
}

// GetOrders returns paginated orders
// GET /api/v1/trading/:account_id/orders
func (h *TradingHandler) GetOrders(c *gin.Context) {
	accID, err := accountID(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	page, pageSize := pageParams(c)

	orders, total, err := h.tradingService.GetOrders(middleware.GetUserID(c), accID, page, pageSize)
	if err != nil {
		h.handleTradingError(c, err)
		return
	}

	response.SuccessPaginated(c, orders, total, page, pageSize)
}

// GetOrderStatus returns a single order
// GET /api/v1/trading/:account_id/orders/:order_id
func (h *TradingHandler) GetOrderStatus(c *gin.Context) {
	accID, err := accountID(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid order id")
		return
	}

	order, err := h.tradingService.GetOrderStatus(accID, uint(orderID))
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}

	response.Success(c, order)
}

// GetLedger returns the balance audit trail
// GET /api/v1/trading/:account_id/ledger
func (h *TradingHandler) GetLedger(c *gin.Context) {
	accID, err := accountID(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	page, pageSize := pageParams(c)

	entries, total, err := h.tradingService.GetLedger(middleware.GetUserID(c), accID, page, pageSize)
	if err != nil {
		h.handleTradingError(c, err)
		return
	}

	response.SuccessPaginated(c, entries, total, page, pageSize)
}

// handleTradingError maps service errors to API responses
func (h *TradingHandler) handleTradingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientBalance):
		response.Error(c, 400, -2019, "insufficient balance")
	case errors.Is(err, service.ErrInvalidSymbol):
		response.Error(c, 400, -1121, "invalid symbol")
	case errors.Is(err, service.ErrInvalidQuantity):
		response.Error(c, 400, -1013, "invalid quantity")
	case errors.Is(err, service.ErrInvalidLeverage):
		response.Error(c, 400, -4028, "leverage is invalid")
	case errors.Is(err, service.ErrInvalidStopLoss):
		response.BadRequest(c, "stop loss must be on the losing side of entry")
	case errors.Is(err, service.ErrInvalidTakeProfit):
		response.BadRequest(c, "take profit must be on the winning side of entry")
	case errors.Is(err, service.ErrInvalidTrailingDistance):
		response.BadRequest(c, "trailing distance must be positive")
	case errors.Is(err, service.ErrMissingKey):
		response.BadRequest(c, "idempotency key required")
	case errors.Is(err, service.ErrNoOpenPosition):
		response.Error(c, 400, -2022, "no position to close")
	case errors.Is(err, service.ErrPositionClosed):
		response.Conflict(c, "position already closed")
	case errors.Is(err, service.ErrSettlementInFlight):
		response.Conflict(c, "settlement in progress, retry shortly")
	case errors.Is(err, service.ErrPositionNotFound),
		errors.Is(err, service.ErrNotPositionOwner):
		response.Error(c, 404, -2022, "position not found")
	case errors.Is(err, repository.ErrAccountNotFound):
		response.NotFound(c, "account not found")
	default:
		response.InternalError(c, err.Error())
	}
}

// RegisterRoutes registers trading routes. Auth runs before the rate limiter
// so the quota is keyed by user id rather than client IP.
func (h *TradingHandler) RegisterRoutes(rg *gin.RouterGroup, authMiddleware, rateLimitMiddleware gin.HandlerFunc) {
	trading := rg.Group("/trading")
	trading.Use(authMiddleware, rateLimitMiddleware)

	// Mutating routes get the detailed trading request log.
	mutate := trading.Group("")
	mutate.Use(middleware.TradingLoggerMiddleware())
	{
		// Open positions
		mutate.POST("/:account_id/open-long", h.OpenLong)
		mutate.POST("/:account_id/open-short", h.OpenShort)

		// Position lifecycle and protective exits
		mutate.POST("/:account_id/positions/:position_id/close", h.ClosePosition)
		mutate.PUT("/:account_id/positions/:position_id/stop-loss", h.SetStopLoss)
		mutate.PUT("/:account_id/positions/:position_id/take-profit", h.SetTakeProfit)
		mutate.POST("/:account_id/positions/:position_id/trailing", h.EnableTrailing)
		mutate.DELETE("/:account_id/positions/:position_id/trailing", h.DisableTrailing)

		// Settings
		mutate.POST("/:account_id/leverage", h.SetLeverage)
	}

	// Account info
	trading.GET("/:account_id/balance", h.GetBalance)
	trading.GET("/:account_id/positions", h.GetPositions)
	trading.GET("/:account_id/ledger", h.GetLedger)

	// Orders
	trading.GET("/:account_id/orders", h.GetOrders)
	trading.GET("/:account_id/orders/:order_id", h.GetOrderStatus)

	// PnL
	trading.GET("/:account_id/closed-pnl", h.GetClosedPnL)
}
