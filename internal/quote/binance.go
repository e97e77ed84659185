package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWSURL   = "wss://fstream.binance.com/ws"
	defaultRestURL = "https://fapi.binance.com"

	pingInterval         = 30 * time.Second
	reconnectDelay       = 5 * time.Second
	maxReconnectAttempts = 10
)

// BinanceFeed streams mark prices from Binance futures over WebSocket with a
// REST fallback for on-demand lookups. It implements Provider.
type BinanceFeed struct {
	wsURL       string
	restURL     string
	conn        *websocket.Conn
	connMux     sync.RWMutex
	isConnected bool

	subscriber Subscriber
	subMux     sync.RWMutex

	symbols    map[string]*SymbolInfo
	symbolsMux sync.RWMutex

	subscribed    map[string]bool
	subscribedMux sync.RWMutex

	httpClient *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnectAttempts int
}

// NewBinanceFeed creates a feed client. Empty URLs fall back to the public
// Binance futures endpoints.
func NewBinanceFeed(wsURL, restURL string) *BinanceFeed {
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	if restURL == "" {
		restURL = defaultRestURL
	}
	return &BinanceFeed{
		wsURL:      wsURL,
		restURL:    restURL,
		symbols:    make(map[string]*SymbolInfo),
		subscribed: make(map[string]bool),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsConnected returns whether the WebSocket is connected
func (c *BinanceFeed) IsConnected() bool {
	c.connMux.RLock()
	defer c.connMux.RUnlock()
	return c.isConnected
}

// Connect establishes the WebSocket connection and starts the read loops
func (c *BinanceFeed) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.loadSymbolInfo(); err != nil {
		log.Printf("[Quote] Warning: failed to load symbol info: %v", err)
	}

	if err := c.connect(); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.messageLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return nil
}

func (c *BinanceFeed) connect() error {
	c.connMux.Lock()
	defer c.connMux.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect quote stream: %w", err)
	}

	c.conn = conn
	c.isConnected = true
	c.reconnectAttempts = 0

	log.Printf("[Quote] Stream connected")

	// Resubscribe to previous symbols after a reconnect
	c.subscribedMux.RLock()
	symbols := make([]string, 0, len(c.subscribed))
	for symbol := range c.subscribed {
		symbols = append(symbols, symbol)
	}
	c.subscribedMux.RUnlock()

	if len(symbols) > 0 {
		go c.sendSubscribe("SUBSCRIBE", symbols)
	}

	return nil
}

// Subscribe subscribes to price updates for given symbols
func (c *BinanceFeed) Subscribe(symbols []string) error {
	c.subscribedMux.Lock()
	for _, symbol := range symbols {
		c.subscribed[strings.ToUpper(symbol)] = true
	}
	c.subscribedMux.Unlock()

	return c.sendSubscribe("SUBSCRIBE", symbols)
}

// Unsubscribe unsubscribes from price updates for given symbols
func (c *BinanceFeed) Unsubscribe(symbols []string) error {
	c.subscribedMux.Lock()
	for _, symbol := range symbols {
		delete(c.subscribed, strings.ToUpper(symbol))
	}
	c.subscribedMux.Unlock()

	if !c.IsConnected() {
		return nil
	}
	return c.sendSubscribe("UNSUBSCRIBE", symbols)
}

func (c *BinanceFeed) sendSubscribe(method string, symbols []string) error {
	if !c.IsConnected() {
		return fmt.Errorf("quote stream not connected")
	}

	streams := make([]string, len(symbols))
	for i, symbol := range symbols {
		streams[i] = strings.ToLower(symbol) + "@markPrice@1s"
	}

	msg := map[string]interface{}{
		"method": method,
		"params": streams,
		"id":     time.Now().UnixNano(),
	}

	c.connMux.RLock()
	err := c.conn.WriteJSON(msg)
	c.connMux.RUnlock()

	if err != nil {
		return fmt.Errorf("%s: %w", strings.ToLower(method), err)
	}
	return nil
}

// SetSubscriber sets the price update subscriber
func (c *BinanceFeed) SetSubscriber(subscriber Subscriber) {
	c.subMux.Lock()
	defer c.subMux.Unlock()
	c.subscriber = subscriber
}

func (c *BinanceFeed) messageLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.connMux.RLock()
		conn := c.conn
		c.connMux.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Quote] Stream error: %v", err)
			}
			c.handleDisconnect()
			continue
		}

		c.handleMessage(message)
	}
}

func (c *BinanceFeed) handleMessage(message []byte) {
	var data map[string]interface{}
	if err := json.Unmarshal(message, &data); err != nil {
		return
	}

	eventType, ok := data["e"].(string)
	if !ok || eventType != "markPriceUpdate" {
		return
	}

	symbol, _ := data["s"].(string)
	priceStr, _ := data["p"].(string)
	timeMs, _ := data["E"].(float64)

	price, _ := strconv.ParseFloat(priceStr, 64)

	update := PriceUpdate{
		Symbol:    symbol,
		Price:     price,
		Timestamp: int64(timeMs),
	}

	c.subMux.RLock()
	subscriber := c.subscriber
	c.subMux.RUnlock()

	if subscriber != nil {
		subscriber.OnPriceUpdate(update)
	}
}

func (c *BinanceFeed) handleDisconnect() {
	c.connMux.Lock()
	c.isConnected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMux.Unlock()

	for c.reconnectAttempts < maxReconnectAttempts {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		c.reconnectAttempts++
		log.Printf("[Quote] Attempting reconnect %d/%d", c.reconnectAttempts, maxReconnectAttempts)

		if err := c.connect(); err != nil {
			log.Printf("[Quote] Reconnect failed: %v", err)
			continue
		}

		return
	}

	log.Printf("[Quote] Max reconnect attempts reached")
}

func (c *BinanceFeed) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.connMux.RLock()
			conn := c.conn
			isConnected := c.isConnected
			c.connMux.RUnlock()

			if !isConnected || conn == nil {
				continue
			}

			if err := conn.WriteMessage(websocket.PongMessage, nil); err != nil {
				log.Printf("[Quote] Ping failed: %v", err)
			}
		}
	}
}

// GetCurrentPrice fetches the latest mark price over REST
func (c *BinanceFeed) GetCurrentPrice(symbol string) (float64, error) {
	resp, err := c.httpClient.Get(c.restURL + "/fapi/v1/premiumIndex?symbol=" + strings.ToUpper(symbol))
	if err != nil {
		return 0, fmt.Errorf("fetch price %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch price %s: status %d", symbol, resp.StatusCode)
	}

	var result struct {
		Symbol    string `json:"symbol"`
		MarkPrice string `json:"markPrice"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode price %s: %w", symbol, err)
	}

	price, err := strconv.ParseFloat(result.MarkPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %s: %w", symbol, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("no price for %s", symbol)
	}

	return price, nil
}

func (c *BinanceFeed) loadSymbolInfo() error {
	resp, err := c.httpClient.Get(c.restURL + "/fapi/v1/exchangeInfo")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			BaseAsset         string `json:"baseAsset"`
			QuoteAsset        string `json:"quoteAsset"`
			PricePrecision    int    `json:"pricePrecision"`
			QuantityPrecision int    `json:"quantityPrecision"`
			Filters           []struct {
				FilterType string `json:"filterType"`
				MinQty     string `json:"minQty,omitempty"`
				MaxQty     string `json:"maxQty,omitempty"`
				StepSize   string `json:"stepSize,omitempty"`
				TickSize   string `json:"tickSize,omitempty"`
			} `json:"filters"`
		} `json:"symbols"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}

	c.symbolsMux.Lock()
	defer c.symbolsMux.Unlock()

	for _, s := range result.Symbols {
		info := &SymbolInfo{
			Symbol:            s.Symbol,
			BaseAsset:         s.BaseAsset,
			QuoteAsset:        s.QuoteAsset,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}

		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				info.MinQty, _ = strconv.ParseFloat(f.MinQty, 64)
				info.MaxQty, _ = strconv.ParseFloat(f.MaxQty, 64)
				info.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
			case "PRICE_FILTER":
				info.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
			}
		}

		c.symbols[s.Symbol] = info
	}

	log.Printf("[Quote] Loaded %d symbols", len(c.symbols))
	return nil
}

// GetSymbolInfo returns trading pair information
func (c *BinanceFeed) GetSymbolInfo(symbol string) (*SymbolInfo, error) {
	c.symbolsMux.RLock()
	defer c.symbolsMux.RUnlock()

	info, ok := c.symbols[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("symbol not found: %s", symbol)
	}
	return info, nil
}

// Close closes the WebSocket connection
func (c *BinanceFeed) Close() error {
	if c.cancel != nil {
		c.cancel()
	}

	c.connMux.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.isConnected = false
	c.connMux.Unlock()

	c.wg.Wait()
	return nil
}

// Compile-time interface check.
var _ Provider = (*BinanceFeed)(nil)
