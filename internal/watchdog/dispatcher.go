package watchdog

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kite-trading-bot/config"
	"kite-trading-bot/internal/broker"
	"kite-trading-bot/internal/circuit"
	"kite-trading-bot/internal/database"
	"kite-trading-bot/internal/events"
	"kite-trading-bot/internal/stops"
)

// nseTickSize is the NSE equity tick. Limit prices snap to it.
const nseTickSize = 0.05

// PendingExit is one in-flight exit order.
type PendingExit struct {
	OrderID    string    `json:"order_id"`
	Ticker     string    `json:"ticker"`
	Reason     string    `json:"reason"`
	Quantity   int64     `json:"quantity"`
	LimitPrice float64   `json:"limit_price"`
	QueuedAt   time.Time `json:"queued_at"`
}

// Dispatcher places exit orders and resolves their outcomes. At most one
// exit is in flight per ticker; a rejected exit clears the slot so the next
// stop breach re-triggers.
type Dispatcher struct {
	mu      sync.Mutex
	pending map[string]*PendingExit

	client  broker.Client
	tracker *Tracker
	breaker *circuit.Breaker
	repo    *database.Repository
	bus     *events.Bus
	cfg     config.WatchdogConfig
	logger  zerolog.Logger
}

// NewDispatcher creates a dispatcher. repo may be nil (no audit trail).
func NewDispatcher(client broker.Client, tracker *Tracker, breaker *circuit.Breaker, repo *database.Repository, bus *events.Bus, cfg config.WatchdogConfig, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		pending: make(map[string]*PendingExit),
		client:  client,
		tracker: tracker,
		breaker: breaker,
		repo:    repo,
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With().Str("component", "ExitDispatcher").Logger(),
	}
}

// HasPending reports whether an exit is already in flight for the ticker.
func (d *Dispatcher) HasPending(ticker string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[ticker]
	return ok
}

// Pending returns a snapshot of in-flight exits.
func (d *Dispatcher) Pending() []*PendingExit {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*PendingExit, 0, len(d.pending))
	for _, p := range d.pending {
		copied := *p
		out = append(out, &copied)
	}
	return out
}

// QueueExit places a limit exit order for the position. The limit is offset
// unfavorably from the reference price so it behaves like a marketable limit
// without paying unbounded slippage. Returns the broker order ID, or "" when
// the exit was gated (pending order, breaker open, position gone).
func (d *Dispatcher) QueueExit(ctx context.Context, pos *TrackedPosition, reason string, refPrice float64) (string, error) {
	d.mu.Lock()
	if _, ok := d.pending[pos.Ticker]; ok {
		d.mu.Unlock()
		return "", nil
	}
	d.mu.Unlock()

	if allowed, why := d.breaker.AllowDispatch(); !allowed {
		d.logger.Warn().Str("ticker", pos.Ticker).Str("gate", why).Msg("Exit blocked by circuit breaker")
		return "", nil
	}

	// The broker is the source of truth. Never dispatch against stale state
	// or a stale size.
	open, err := d.tracker.Verify(ctx, d.client, pos.Ticker, pos.Quantity)
	if err != nil {
		return "", fmt.Errorf("verify %s before exit: %w", pos.Ticker, err)
	}
	if !open {
		d.logger.Info().Str("ticker", pos.Ticker).Msg("Position already closed, exit skipped")
		return "", nil
	}

	txn := broker.TransactionSell
	limit := refPrice * (1 - d.cfg.ExitLimitBufferPct/100)
	if pos.Side == stops.SideShort {
		txn = broker.TransactionBuy
		limit = refPrice * (1 + d.cfg.ExitLimitBufferPct/100)
	}
	limit = roundToTick(limit)

	tag := fmt.Sprintf("wd-%s-%s", reason, uuid.NewString()[:8])
	req := broker.OrderRequest{
		Ticker:          pos.Ticker,
		Exchange:        pos.Exchange,
		TransactionType: txn,
		Quantity:        pos.Quantity,
		Price:           limit,
		OrderType:       "LIMIT",
		Product:         pos.Product,
		Tag:             tag,
	}

	orderID, err := d.client.PlaceOrder(ctx, req)
	if err != nil {
		return "", fmt.Errorf("place exit for %s: %w", pos.Ticker, err)
	}

	pe := &PendingExit{
		OrderID:    orderID,
		Ticker:     pos.Ticker,
		Reason:     reason,
		Quantity:   pos.Quantity,
		LimitPrice: limit,
		QueuedAt:   time.Now(),
	}
	d.mu.Lock()
	d.pending[pos.Ticker] = pe
	d.mu.Unlock()

	d.logger.Info().
		Str("ticker", pos.Ticker).
		Str("order_id", orderID).
		Str("reason", reason).
		Int64("quantity", pos.Quantity).
		Float64("limit", limit).
		Msg("Exit order placed")

	if d.bus != nil {
		d.bus.PublishExit(events.EventExitQueued, pos.Ticker, orderID, reason, pos.Quantity, limit)
	}
	if d.repo != nil {
		audit := &database.ExitOrder{
			OrderID:         orderID,
			Ticker:          pos.Ticker,
			TransactionType: string(txn),
			Quantity:        pos.Quantity,
			LimitPrice:      limit,
			Status:          string(broker.StatusOpen),
			Reason:          reason,
			Tag:             tag,
			PlacedAt:        pe.QueuedAt,
		}
		if err := d.repo.CreateExitOrder(ctx, audit); err != nil {
			d.logger.Error().Err(err).Str("order_id", orderID).Msg("Failed to record exit order")
		}
	}

	return orderID, nil
}

// ResolvePending polls the broker for every in-flight exit and settles
// terminal outcomes. Partial fills stay pending until the broker reports a
// terminal status.
func (d *Dispatcher) ResolvePending(ctx context.Context) {
	for _, pe := range d.Pending() {
		order, err := d.client.GetOrder(ctx, pe.OrderID)
		if err != nil {
			d.logger.Error().Err(err).Str("order_id", pe.OrderID).Msg("Failed to fetch exit order status")
			continue
		}

		switch order.Status {
		case broker.StatusComplete:
			d.settleFill(ctx, pe, order)
		case broker.StatusRejected:
			d.settleReject(ctx, pe, order)
		case broker.StatusCancelled:
			d.settleCancel(ctx, pe, order)
		default:
			// OPEN or PARTIAL, leave the slot occupied.
		}
	}
}

func (d *Dispatcher) settleFill(ctx context.Context, pe *PendingExit, order *broker.Order) {
	pos := d.tracker.Get(pe.Ticker)

	d.clearPending(pe.Ticker)
	d.tracker.Remove(pe.Ticker)

	d.logger.Info().
		Str("ticker", pe.Ticker).
		Str("order_id", pe.OrderID).
		Float64("avg_price", order.AveragePrice).
		Msg("Exit filled")

	var pnl, pnlPct float64
	if pos != nil && pos.EntryPrice > 0 {
		if pos.Side == stops.SideLong {
			pnl = (order.AveragePrice - pos.EntryPrice) * float64(pe.Quantity)
		} else {
			pnl = (pos.EntryPrice - order.AveragePrice) * float64(pe.Quantity)
		}
		pnlPct = pnl / (pos.EntryPrice * float64(pe.Quantity)) * 100
	}
	d.breaker.RecordFill(pnlPct)

	if d.bus != nil {
		d.bus.PublishExit(events.EventExitFilled, pe.Ticker, pe.OrderID, pe.Reason, order.FilledQuantity, order.AveragePrice)
	}
	if d.repo != nil {
		if err := d.repo.ResolveExitOrder(ctx, pe.OrderID, string(order.Status), order.VendorStatus, order.StatusMessage); err != nil {
			d.logger.Error().Err(err).Str("order_id", pe.OrderID).Msg("Failed to resolve exit order")
		}
		if pos != nil {
			entered := pos.FirstSeen
			trade := &database.ClosedTrade{
				Ticker:     pe.Ticker,
				Side:       string(pos.Side),
				Quantity:   pe.Quantity,
				EntryPrice: pos.EntryPrice,
				ExitPrice:  order.AveragePrice,
				PnL:        pnl,
				PnLPercent: pnlPct,
				ExitReason: pe.Reason,
				EnteredAt:  &entered,
				ExitedAt:   time.Now(),
			}
			if err := d.repo.CreateClosedTrade(ctx, trade); err != nil {
				d.logger.Error().Err(err).Str("ticker", pe.Ticker).Msg("Failed to record closed trade")
			}
		}
	}
}

func (d *Dispatcher) settleReject(ctx context.Context, pe *PendingExit, order *broker.Order) {
	// Clearing the slot lets the next cycle re-trigger the exit if the stop
	// is still breached.
	d.clearPending(pe.Ticker)
	d.breaker.RecordReject()

	d.logger.Error().
		Str("ticker", pe.Ticker).
		Str("order_id", pe.OrderID).
		Str("vendor_status", order.VendorStatus).
		Str("message", order.StatusMessage).
		Msg("Exit rejected by broker")

	if d.bus != nil {
		d.bus.PublishExit(events.EventExitRejected, pe.Ticker, pe.OrderID, pe.Reason, pe.Quantity, pe.LimitPrice)
	}
	if d.repo != nil {
		if err := d.repo.ResolveExitOrder(ctx, pe.OrderID, string(order.Status), order.VendorStatus, order.StatusMessage); err != nil {
			d.logger.Error().Err(err).Str("order_id", pe.OrderID).Msg("Failed to resolve exit order")
		}
	}
}

func (d *Dispatcher) settleCancel(ctx context.Context, pe *PendingExit, order *broker.Order) {
	d.clearPending(pe.Ticker)

	d.logger.Warn().
		Str("ticker", pe.Ticker).
		Str("order_id", pe.OrderID).
		Msg("Exit cancelled")

	if d.bus != nil {
		d.bus.PublishExit(events.EventExitCancelled, pe.Ticker, pe.OrderID, pe.Reason, pe.Quantity, pe.LimitPrice)
	}
	if d.repo != nil {
		if err := d.repo.ResolveExitOrder(ctx, pe.OrderID, string(order.Status), order.VendorStatus, order.StatusMessage); err != nil {
			d.logger.Error().Err(err).Str("order_id", pe.OrderID).Msg("Failed to resolve exit order")
		}
	}
}

func (d *Dispatcher) clearPending(ticker string) {
	d.mu.Lock()
	delete(d.pending, ticker)
	d.mu.Unlock()
}

func roundToTick(price float64) float64 {
	return math.Round(price/nseTickSize) * nseTickSize
}
