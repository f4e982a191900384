package broker

import "time"

// TransactionType is the order direction.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// Product is the broker product type for a position.
type Product string

const (
	ProductCNC  Product = "CNC"  // Delivery
	ProductNRML Product = "NRML" // Carry-forward
	ProductMIS  Product = "MIS"  // Intraday margin
)

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Quote is a last-traded snapshot for a ticker.
type Quote struct {
	Ticker        string    `json:"ticker"`
	LastPrice     float64   `json:"last_price"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"` // Previous close
	Volume        int64     `json:"volume"`
	LastTradeTime time.Time `json:"last_trade_time"`
}

// Tick is one trade from the vendor websocket stream.
type Tick struct {
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Quantity  int64     `json:"quantity"`
	Volume    int64     `json:"volume"` // Cumulative day volume
	Timestamp time.Time `json:"timestamp"`
}

// Position is a broker-reported open position.
type Position struct {
	Ticker       string  `json:"ticker"`
	Exchange     string  `json:"exchange"`
	Product      Product `json:"product"`
	Quantity     int64   `json:"quantity"` // Signed: negative for short
	AveragePrice float64 `json:"average_price"`
	LastPrice    float64 `json:"last_price"`
	PnL          float64 `json:"pnl"`
}

// Holding is a broker-reported delivery holding.
type Holding struct {
	Ticker       string  `json:"ticker"`
	Exchange     string  `json:"exchange"`
	Quantity     int64   `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	LastPrice    float64 `json:"last_price"`
}

// OrderRequest is a normalized order placement request.
type OrderRequest struct {
	Ticker          string          `json:"ticker"`
	Exchange        string          `json:"exchange"`
	TransactionType TransactionType `json:"transaction_type"`
	Quantity        int64           `json:"quantity"`
	Price           float64         `json:"price"` // 0 for market
	OrderType       string          `json:"order_type"`
	Product         Product         `json:"product"`
	Tag             string          `json:"tag"` // Client tag, e.g. exit reason + uuid
}

// Order is a normalized order book entry. Both adapters map their vendor
// shapes onto this: the XTS wrapper resolves numeric instrument IDs and
// reshapes its fields to match what the Kite-based code expects.
type Order struct {
	OrderID         string          `json:"order_id"`
	Ticker          string          `json:"ticker"`
	TransactionType TransactionType `json:"transaction_type"`
	Status          OrderStatus     `json:"status"`
	VendorStatus    string          `json:"vendor_status"`
	Quantity        int64           `json:"quantity"`
	FilledQuantity  int64           `json:"filled_quantity"`
	Price           float64         `json:"price"`
	AveragePrice    float64         `json:"average_price"`
	Tag             string          `json:"tag"`
	PlacedAt        time.Time       `json:"placed_at"`
	StatusMessage   string          `json:"status_message"`
}
