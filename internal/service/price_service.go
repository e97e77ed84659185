package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/papertrade-sim/internal/quote"
	"github.com/redis/go-redis/v9"
)

// DefaultSymbols to subscribe at startup
var DefaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT",
	"ADAUSDT", "DOGEUSDT", "AVAXUSDT", "DOTUSDT", "LINKUSDT",
}

// priceStaleAfter bounds how old a cached sample may be before GetPrice
// falls through to the next tier.
const priceStaleAfter = 5 * time.Second

// PriceSource is the narrow read interface consumed by trading and sweep
// code. A returned error means "no usable price this cycle", never zero.
type PriceSource interface {
	GetPrice(symbol string) (float64, error)
}

// PriceService manages real-time price data from the quote provider. Lookup
// order: in-memory latest sample, redis cache, REST fallback.
type PriceService struct {
	redis     *redis.Client
	provider  quote.Provider
	prices    map[string]quote.PriceUpdate
	pricesMux sync.RWMutex

	symbols []string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPriceService creates a new PriceService
func NewPriceService(redisClient *redis.Client, provider quote.Provider, symbols []string) *PriceService {
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	// ctx is replaced by Start; callers that only do lookups (one-shot
	// jobs) never Start and still need a usable context for redis reads.
	return &PriceService{
		redis:    redisClient,
		provider: provider,
		prices:   make(map[string]quote.PriceUpdate),
		symbols:  symbols,
		ctx:      context.Background(),
	}
}

// Start connects the quote stream and subscribes to the configured symbols
func (s *PriceService) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.provider.SetSubscriber(s)

	if err := s.provider.Connect(s.ctx); err != nil {
		return fmt.Errorf("connect quote provider: %w", err)
	}

	if err := s.provider.Subscribe(s.symbols); err != nil {
		log.Printf("[PriceService] Failed to subscribe: %v", err)
	}

	log.Printf("[PriceService] Started with %d symbols", len(s.symbols))
	return nil
}

// OnPriceUpdate implements quote.Subscriber
func (s *PriceService) OnPriceUpdate(update quote.PriceUpdate) {
	s.pricesMux.Lock()
	s.prices[update.Symbol] = update
	s.pricesMux.Unlock()

	if s.redis == nil {
		return
	}

	key := "price:" + update.Symbol
	s.redis.HSet(s.ctx, key, map[string]interface{}{
		"price":     update.Price,
		"timestamp": update.Timestamp,
	})
	s.redis.Expire(s.ctx, key, priceStaleAfter)

	s.redis.Publish(s.ctx, "price_updates", fmt.Sprintf("%s:%.8f", update.Symbol, update.Price))
}

// GetPrice returns the current price for a symbol
func (s *PriceService) GetPrice(symbol string) (float64, error) {
	// Memory first
	s.pricesMux.RLock()
	update, ok := s.prices[symbol]
	s.pricesMux.RUnlock()

	if ok && time.Now().UnixMilli()-update.Timestamp < priceStaleAfter.Milliseconds() {
		return update.Price, nil
	}

	// Redis
	if s.redis != nil {
		price, err := s.redis.HGet(s.ctx, "price:"+symbol, "price").Float64()
		if err == nil && price > 0 {
			return price, nil
		}
	}

	// REST fallback
	return s.provider.GetCurrentPrice(symbol)
}

// GetAllPrices returns the latest in-memory price per symbol
func (s *PriceService) GetAllPrices() map[string]float64 {
	s.pricesMux.RLock()
	defer s.pricesMux.RUnlock()

	result := make(map[string]float64, len(s.prices))
	for symbol, update := range s.prices {
		result[symbol] = update.Price
	}
	return result
}

// GetSymbolInfo returns trading pair information
func (s *PriceService) GetSymbolInfo(symbol string) (*quote.SymbolInfo, error) {
	return s.provider.GetSymbolInfo(symbol)
}

// IsConnected reports the quote stream status
func (s *PriceService) IsConnected() bool {
	return s.provider.IsConnected()
}

// Stop stops the price service
func (s *PriceService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	if err := s.provider.Close(); err != nil {
		log.Printf("[PriceService] Error closing provider: %v", err)
	}

	log.Printf("[PriceService] Stopped")
}

// Compile-time interface check.
var _ PriceSource = (*PriceService)(nil)
