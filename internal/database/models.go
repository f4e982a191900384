package database

import "time"

// ClosedTrade is one completed round trip, recorded when an exit fills or a
// position vanishes with a known exit price.
type ClosedTrade struct {
	ID         int64      `json:"id"`
	Ticker     string     `json:"ticker"`
	Side       string     `json:"side"`
	Quantity   int64      `json:"quantity"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	PnL        float64    `json:"pnl"`
	PnLPercent float64    `json:"pnl_percent"`
	ExitReason string     `json:"exit_reason"`
	EnteredAt  *time.Time `json:"entered_at,omitempty"`
	ExitedAt   time.Time  `json:"exited_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ExitOrder is the audit row for one dispatched exit order.
type ExitOrder struct {
	ID              int64      `json:"id"`
	OrderID         string     `json:"order_id"`
	Ticker          string     `json:"ticker"`
	TransactionType string     `json:"transaction_type"`
	Quantity        int64      `json:"quantity"`
	LimitPrice      float64    `json:"limit_price"`
	Status          string     `json:"status"`
	VendorStatus    string     `json:"vendor_status"`
	Reason          string     `json:"reason"`
	Tag             string     `json:"tag"`
	PlacedAt        time.Time  `json:"placed_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	StatusMessage   string     `json:"status_message"`
}

// StopEvent records one stop tightening for later analysis.
type StopEvent struct {
	ID          int64     `json:"id"`
	Ticker      string    `json:"ticker"`
	Source      string    `json:"source"` // "atr" or "psar"
	OldStop     float64   `json:"old_stop"`
	NewStop     float64   `json:"new_stop"`
	Price       float64   `json:"price"`
	Multiplier  float64   `json:"multiplier"`
	RegimeLabel string    `json:"regime_label"`
	CreatedAt   time.Time `json:"created_at"`
}

// TradeStats is an aggregate over closed trades for the dashboard.
type TradeStats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	TotalPnL      float64 `json:"total_pnl"`
	WinRate       float64 `json:"win_rate"`
	AvgPnLPercent float64 `json:"avg_pnl_percent"`
}
