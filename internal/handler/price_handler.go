package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/papertrade-sim/internal/service"
	"github.com/papertrade-sim/pkg/response"
)

// PriceHandler handles price-related API requests
type PriceHandler struct {
	priceService *service.PriceService
}

// NewPriceHandler creates a new PriceHandler
func NewPriceHandler(priceService *service.PriceService) *PriceHandler {
	return &PriceHandler{
		priceService: priceService,
	}
}

// GetPrice returns the current price for a symbol
// GET /api/v1/prices/:symbol
func (h *PriceHandler) GetPrice(c *gin.Context) {
	symbol := c.Param("symbol")

	price, err := h.priceService.GetPrice(symbol)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"symbol": symbol,
		"price":  price,
	})
}

// GetPrices returns all current prices
// GET /api/v1/prices
func (h *PriceHandler) GetPrices(c *gin.Context) {
	prices := h.priceService.GetAllPrices()
	if len(prices) == 0 {
		response.NotFound(c, "no prices available")
		return
	}

	response.Success(c, gin.H{"prices": prices})
}

// GetSymbolInfo returns trading pair information
// GET /api/v1/symbols/:symbol
func (h *PriceHandler) GetSymbolInfo(c *gin.Context) {
	symbol := c.Param("symbol")

	info, err := h.priceService.GetSymbolInfo(symbol)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}

	response.Success(c, info)
}

// GetFeedStatus returns the price feed connection status
// GET /api/v1/feed/status
func (h *PriceHandler) GetFeedStatus(c *gin.Context) {
	response.Success(c, gin.H{
		"connected": h.priceService.IsConnected(),
	})
}

// RegisterRoutes registers price routes
func (h *PriceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	prices := rg.Group("/prices")
	{
		prices.GET("", h.GetPrices)
		prices.GET("/:symbol", h.GetPrice)
	}

	symbols := rg.Group("/symbols")
	{
		symbols.GET("/:symbol", h.GetSymbolInfo)
	}

	feed := rg.Group("/feed")
	{
		feed.GET("/status", h.GetFeedStatus)
	}
}
