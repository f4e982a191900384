package broker

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// MockClient simulates a broker for dry-run mode and tests. Prices random-walk
// around their seeds; placed orders fill (or reject) on the next order book read.
type MockClient struct {
	mu sync.RWMutex

	prices     map[string]float64
	positions  map[string]Position
	holdings   map[string]Holding
	orders     map[string]*Order
	nextID     int64
	lastUpdate time.Time

	// RejectNext forces the next placed order to report REJECTED, for
	// exercising the dispatcher's re-trigger path.
	RejectNext bool
}

// NewMockClient creates a mock broker seeded with liquid NSE names.
func NewMockClient() *MockClient {
	mc := &MockClient{
		prices: map[string]float64{
			"RELIANCE":   2950.00,
			"TCS":        4150.00,
			"INFY":       1850.00,
			"HDFCBANK":   1690.00,
			"ICICIBANK":  1240.00,
			"SBIN":       830.00,
			"TATAMOTORS": 1050.00,
			"BHARTIARTL": 1580.00,
			"ITC":        510.00,
			"LT":         3820.00,
		},
		positions:  make(map[string]Position),
		holdings:   make(map[string]Holding),
		orders:     make(map[string]*Order),
		nextID:     100001,
		lastUpdate: time.Now(),
	}
	return mc
}

// SeedPosition installs a broker-side open position for tests/dry runs.
func (mc *MockClient) SeedPosition(ticker string, qty int64, avgPrice float64, product Product) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.positions[ticker] = Position{
		Ticker:       ticker,
		Exchange:     "NSE",
		Product:      product,
		Quantity:     qty,
		AveragePrice: avgPrice,
		LastPrice:    avgPrice,
	}
	if _, ok := mc.prices[ticker]; !ok {
		mc.prices[ticker] = avgPrice
	}
}

// SetPrice pins a ticker's price (tests drive exact stop crossings with this).
func (mc *MockClient) SetPrice(ticker string, price float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.prices[ticker] = price
}

// SeedHolding installs a broker-side delivery holding for tests/dry runs.
func (mc *MockClient) SeedHolding(ticker string, qty int64, avgPrice float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.holdings[ticker] = Holding{
		Ticker:       ticker,
		Exchange:     "NSE",
		Quantity:     qty,
		AveragePrice: avgPrice,
		LastPrice:    avgPrice,
	}
	if _, ok := mc.prices[ticker]; !ok {
		mc.prices[ticker] = avgPrice
	}
}

// RemovePosition simulates an external close at the broker.
func (mc *MockClient) RemovePosition(ticker string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.positions, ticker)
}

// RemoveHolding simulates an external delivery sale.
func (mc *MockClient) RemoveHolding(ticker string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.holdings, ticker)
}

func (mc *MockClient) drift() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if time.Since(mc.lastUpdate) < time.Second {
		return
	}
	for ticker, price := range mc.prices {
		change := (rand.Float64() - 0.5) * 0.004 // -0.2% .. +0.2%
		mc.prices[ticker] = price * (1 + change)
	}
	mc.lastUpdate = time.Now()
}

func (mc *MockClient) GetPositions(ctx context.Context) ([]Position, error) {
	mc.drift()
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	positions := make([]Position, 0, len(mc.positions))
	for _, p := range mc.positions {
		p.LastPrice = mc.prices[p.Ticker]
		positions = append(positions, p)
	}
	return positions, nil
}

func (mc *MockClient) GetHoldings(ctx context.Context) ([]Holding, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	holdings := make([]Holding, 0, len(mc.holdings))
	for _, h := range mc.holdings {
		h.LastPrice = mc.prices[h.Ticker]
		holdings = append(holdings, h)
	}
	return holdings, nil
}

func (mc *MockClient) GetQuote(ctx context.Context, ticker string) (*Quote, error) {
	mc.drift()
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	price, ok := mc.prices[ticker]
	if !ok {
		return nil, fmt.Errorf("mock: unknown ticker %s", ticker)
	}
	return &Quote{
		Ticker:        ticker,
		LastPrice:     price,
		Open:          price * 0.995,
		High:          price * 1.01,
		Low:           price * 0.99,
		Close:         price * 0.998,
		Volume:        int64(rand.Intn(1_000_000) + 100_000),
		LastTradeTime: time.Now(),
	}, nil
}

func (mc *MockClient) GetHistoricalCandles(ctx context.Context, ticker, interval string, limit int) ([]Candle, error) {
	mc.mu.RLock()
	base, ok := mc.prices[ticker]
	mc.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mock: unknown ticker %s", ticker)
	}

	step := intervalDuration(interval)
	now := time.Now().Truncate(step)
	candles := make([]Candle, 0, limit)
	price := base * 0.98
	for i := limit; i > 0; i-- {
		change := (rand.Float64() - 0.48) * 0.003
		open := price
		price = price * (1 + change)
		high := open
		low := price
		if price > open {
			high = price
			low = open
		}
		candles = append(candles, Candle{
			Timestamp: now.Add(-time.Duration(i) * step),
			Open:      open,
			High:      high * 1.001,
			Low:       low * 0.999,
			Close:     price,
			Volume:    int64(rand.Intn(500_000) + 50_000),
		})
	}
	return candles, nil
}

func (mc *MockClient) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	id := strconv.FormatInt(mc.nextID, 10)
	mc.nextID++

	status := StatusComplete
	vendor := "COMPLETE"
	if mc.RejectNext {
		status = StatusRejected
		vendor = "REJECTED"
		mc.RejectNext = false
	}

	avg := req.Price
	if avg == 0 {
		avg = mc.prices[req.Ticker]
	}
	mc.orders[id] = &Order{
		OrderID:         id,
		Ticker:          req.Ticker,
		TransactionType: req.TransactionType,
		Status:          status,
		VendorStatus:    vendor,
		Quantity:        req.Quantity,
		FilledQuantity:  req.Quantity,
		AveragePrice:    avg,
		Price:           req.Price,
		Tag:             req.Tag,
		PlacedAt:        time.Now(),
	}

	if status == StatusComplete {
		mc.applyFill(req)
	}
	return id, nil
}

// applyFill reduces or flips the mock position, falling back to the delivery
// holding when no intraday position exists. Callers hold mc.mu.
func (mc *MockClient) applyFill(req OrderRequest) {
	if pos, ok := mc.positions[req.Ticker]; ok {
		if req.TransactionType == TransactionSell {
			pos.Quantity -= req.Quantity
		} else {
			pos.Quantity += req.Quantity
		}
		if pos.Quantity == 0 {
			delete(mc.positions, req.Ticker)
			return
		}
		mc.positions[req.Ticker] = pos
		return
	}

	if h, ok := mc.holdings[req.Ticker]; ok && req.TransactionType == TransactionSell {
		h.Quantity -= req.Quantity
		if h.Quantity <= 0 {
			delete(mc.holdings, req.Ticker)
			return
		}
		mc.holdings[req.Ticker] = h
	}
}

func (mc *MockClient) CancelOrder(ctx context.Context, orderID string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	order, ok := mc.orders[orderID]
	if !ok {
		return fmt.Errorf("mock: order %s not found", orderID)
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("mock: order %s already %s", orderID, order.Status)
	}
	order.Status = StatusCancelled
	order.VendorStatus = "CANCELLED"
	return nil
}

func (mc *MockClient) GetOrders(ctx context.Context) ([]Order, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	orders := make([]Order, 0, len(mc.orders))
	for _, o := range mc.orders {
		orders = append(orders, *o)
	}
	return orders, nil
}

func (mc *MockClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	order, ok := mc.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("mock: order %s not found", orderID)
	}
	copied := *order
	return &copied, nil
}
