package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("database: not found")

// Repository provides data access methods over the pool.
type Repository struct {
	db *DB
}

// NewRepository creates a repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck pings the database.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// CreateClosedTrade inserts a completed round trip.
func (r *Repository) CreateClosedTrade(ctx context.Context, trade *ClosedTrade) error {
	query := `
		INSERT INTO closed_trades (ticker, side, quantity, entry_price, exit_price, pnl, pnl_percent, exit_reason, entered_at, exited_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		trade.Ticker, trade.Side, trade.Quantity, trade.EntryPrice, trade.ExitPrice,
		trade.PnL, trade.PnLPercent, trade.ExitReason, trade.EnteredAt, trade.ExitedAt,
	).Scan(&trade.ID, &trade.CreatedAt)
}

// GetClosedTrades returns recent closed trades, newest first.
func (r *Repository) GetClosedTrades(ctx context.Context, limit int) ([]*ClosedTrade, error) {
	query := `
		SELECT id, ticker, side, quantity, entry_price, exit_price, pnl, pnl_percent, exit_reason, entered_at, exited_at, created_at
		FROM closed_trades
		ORDER BY exited_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query closed trades: %w", err)
	}
	defer rows.Close()

	var trades []*ClosedTrade
	for rows.Next() {
		t := &ClosedTrade{}
		if err := rows.Scan(
			&t.ID, &t.Ticker, &t.Side, &t.Quantity, &t.EntryPrice, &t.ExitPrice,
			&t.PnL, &t.PnLPercent, &t.ExitReason, &t.EnteredAt, &t.ExitedAt, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetTradeStats aggregates closed trades since the given time.
func (r *Repository) GetTradeStats(ctx context.Context, since time.Time) (*TradeStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE pnl > 0),
		       COUNT(*) FILTER (WHERE pnl < 0),
		       COALESCE(SUM(pnl), 0),
		       COALESCE(AVG(pnl_percent), 0)
		FROM closed_trades
		WHERE exited_at >= $1
	`
	stats := &TradeStats{}
	err := r.db.Pool.QueryRow(ctx, query, since).Scan(
		&stats.TotalTrades, &stats.WinningTrades, &stats.LosingTrades,
		&stats.TotalPnL, &stats.AvgPnLPercent,
	)
	if err != nil {
		return nil, fmt.Errorf("query trade stats: %w", err)
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades) * 100
	}
	return stats, nil
}

// CreateExitOrder inserts the audit row for a dispatched exit.
func (r *Repository) CreateExitOrder(ctx context.Context, order *ExitOrder) error {
	query := `
		INSERT INTO exit_orders (order_id, ticker, transaction_type, quantity, limit_price, status, vendor_status, reason, tag, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		order.OrderID, order.Ticker, order.TransactionType, order.Quantity, order.LimitPrice,
		order.Status, order.VendorStatus, order.Reason, order.Tag, order.PlacedAt,
	).Scan(&order.ID)
}

// ResolveExitOrder updates an exit order's terminal status.
func (r *Repository) ResolveExitOrder(ctx context.Context, orderID, status, vendorStatus, message string) error {
	query := `
		UPDATE exit_orders
		SET status = $2, vendor_status = $3, status_message = $4, resolved_at = NOW()
		WHERE order_id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, orderID, status, vendorStatus, message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExitOrder returns one exit order by broker order ID.
func (r *Repository) GetExitOrder(ctx context.Context, orderID string) (*ExitOrder, error) {
	query := `
		SELECT id, order_id, ticker, transaction_type, quantity, limit_price, status,
		       COALESCE(vendor_status, ''), reason, COALESCE(tag, ''), placed_at, resolved_at, COALESCE(status_message, '')
		FROM exit_orders
		WHERE order_id = $1
	`
	o := &ExitOrder{}
	err := r.db.Pool.QueryRow(ctx, query, orderID).Scan(
		&o.ID, &o.OrderID, &o.Ticker, &o.TransactionType, &o.Quantity, &o.LimitPrice,
		&o.Status, &o.VendorStatus, &o.Reason, &o.Tag, &o.PlacedAt, &o.ResolvedAt, &o.StatusMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// GetRecentExitOrders returns recent exit orders, newest first.
func (r *Repository) GetRecentExitOrders(ctx context.Context, limit int) ([]*ExitOrder, error) {
	query := `
		SELECT id, order_id, ticker, transaction_type, quantity, limit_price, status,
		       COALESCE(vendor_status, ''), reason, COALESCE(tag, ''), placed_at, resolved_at, COALESCE(status_message, '')
		FROM exit_orders
		ORDER BY placed_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query exit orders: %w", err)
	}
	defer rows.Close()

	var orders []*ExitOrder
	for rows.Next() {
		o := &ExitOrder{}
		if err := rows.Scan(
			&o.ID, &o.OrderID, &o.Ticker, &o.TransactionType, &o.Quantity, &o.LimitPrice,
			&o.Status, &o.VendorStatus, &o.Reason, &o.Tag, &o.PlacedAt, &o.ResolvedAt, &o.StatusMessage,
		); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CreateStopEvent records one stop tightening.
func (r *Repository) CreateStopEvent(ctx context.Context, evt *StopEvent) error {
	query := `
		INSERT INTO stop_events (ticker, source, old_stop, new_stop, price, multiplier, regime_label)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		evt.Ticker, evt.Source, evt.OldStop, evt.NewStop, evt.Price, evt.Multiplier, evt.RegimeLabel,
	).Scan(&evt.ID, &evt.CreatedAt)
}

// GetStopEvents returns recent stop events for a ticker, newest first.
func (r *Repository) GetStopEvents(ctx context.Context, ticker string, limit int) ([]*StopEvent, error) {
	query := `
		SELECT id, ticker, source, old_stop, new_stop, price, COALESCE(multiplier, 0), COALESCE(regime_label, ''), created_at
		FROM stop_events
		WHERE ticker = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("query stop events: %w", err)
	}
	defer rows.Close()

	var out []*StopEvent
	for rows.Next() {
		e := &StopEvent{}
		if err := rows.Scan(
			&e.ID, &e.Ticker, &e.Source, &e.OldStop, &e.NewStop, &e.Price,
			&e.Multiplier, &e.RegimeLabel, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
