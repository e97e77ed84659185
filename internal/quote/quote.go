// Package quote streams market prices from an external quote source and
// exposes symbol metadata. The rest of the system consumes prices through
// the service layer; a fetch failure is reported as an error and never as a
// price.
package quote

import (
	"context"
)

// PriceUpdate represents a real-time price update from the quote source
type PriceUpdate struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	BidPrice  float64 `json:"bid_price"`
	AskPrice  float64 `json:"ask_price"`
	Timestamp int64   `json:"timestamp"`
}

// SymbolInfo represents trading pair information
type SymbolInfo struct {
	Symbol            string  `json:"symbol"`
	BaseAsset         string  `json:"base_asset"`
	QuoteAsset        string  `json:"quote_asset"`
	PricePrecision    int     `json:"price_precision"`
	QuantityPrecision int     `json:"quantity_precision"`
	MinQty            float64 `json:"min_qty"`
	MaxQty            float64 `json:"max_qty"`
	TickSize          float64 `json:"tick_size"`
	StepSize          float64 `json:"step_size"`
}

// Subscriber receives streamed price updates
type Subscriber interface {
	OnPriceUpdate(update PriceUpdate)
}

// Provider is the boundary contract for the external quote source
type Provider interface {
	// Connect establishes the streaming connection
	Connect(ctx context.Context) error

	// Subscribe subscribes to price updates for given symbols
	Subscribe(symbols []string) error

	// Unsubscribe unsubscribes from price updates for given symbols
	Unsubscribe(symbols []string) error

	// SetSubscriber sets the price update subscriber
	SetSubscriber(subscriber Subscriber)

	// GetCurrentPrice fetches the latest price over REST (stream fallback)
	GetCurrentPrice(symbol string) (float64, error)

	// GetSymbolInfo returns trading pair information
	GetSymbolInfo(symbol string) (*SymbolInfo, error)

	// IsConnected returns whether the stream is connected
	IsConnected() bool

	// Close closes the streaming connection
	Close() error
}
