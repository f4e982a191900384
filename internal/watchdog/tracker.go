// Package watchdog monitors open positions and exits them when their
// protective stops are breached. The broker is the source of truth for what
// is open; the watchdog only ever sells what the broker says it holds.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kite-trading-bot/internal/broker"
	"kite-trading-bot/internal/events"
	"kite-trading-bot/internal/stops"
)

// TrackedPosition is the watchdog's view of one open position plus its stop
// state. Quantity is the absolute size; Side carries the direction.
type TrackedPosition struct {
	Ticker     string         `json:"ticker"`
	Exchange   string         `json:"exchange"`
	Product    broker.Product `json:"product"`
	Side       stops.Side     `json:"side"`
	Quantity   int64          `json:"quantity"`
	EntryPrice float64        `json:"entry_price"`
	LastPrice  float64        `json:"last_price"`
	PnL        float64        `json:"pnl"`
	FirstSeen  time.Time      `json:"first_seen"`
	UpdatedAt  time.Time      `json:"updated_at"`

	ATRStop        *stops.TrailingStop  `json:"atr_stop,omitempty"`
	PSAR           *stops.PSARState     `json:"-"`
	CandleBuilder  *stops.CandleBuilder `json:"-"`
	LastATR        float64              `json:"last_atr"`
	LastMultiplier float64              `json:"last_multiplier"`
}

// Tracker holds the set of positions under watch, synced to the broker each
// polling cycle. The mutex guards both the map and the position structs:
// writers go through Sync and Mutate, readers through Get and Snapshot.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*TrackedPosition
	bus       *events.Bus
	logger    zerolog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(bus *events.Bus, logger zerolog.Logger) *Tracker {
	return &Tracker{
		positions: make(map[string]*TrackedPosition),
		bus:       bus,
		logger:    logger.With().Str("component", "PositionTracker").Logger(),
	}
}

// Sync reconciles the tracked set against the broker's positions and delivery
// holdings. Positions win when a ticker appears in both (an intraday trade on
// a held name nets there first). New entries are added, sizes and prices
// refreshed, and tickers the broker no longer reports are dropped (manual
// exit or external fill). Returns the tickers that vanished.
func (t *Tracker) Sync(brokerPositions []broker.Position, holdings []broker.Holding) []string {
	merged := make([]broker.Position, 0, len(brokerPositions)+len(holdings))
	inPositions := make(map[string]bool, len(brokerPositions))
	for _, p := range brokerPositions {
		if p.Quantity != 0 {
			inPositions[p.Ticker] = true
		}
		merged = append(merged, p)
	}
	for _, h := range holdings {
		if h.Quantity == 0 || inPositions[h.Ticker] {
			continue
		}
		merged = append(merged, broker.Position{
			Ticker:       h.Ticker,
			Exchange:     h.Exchange,
			Product:      broker.ProductCNC,
			Quantity:     h.Quantity,
			AveragePrice: h.AveragePrice,
			LastPrice:    h.LastPrice,
		})
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool, len(merged))
	now := time.Now()

	for _, p := range merged {
		if p.Quantity == 0 {
			continue
		}
		seen[p.Ticker] = true

		side := stops.SideLong
		qty := p.Quantity
		if qty < 0 {
			side = stops.SideShort
			qty = -qty
		}

		pos, ok := t.positions[p.Ticker]
		if !ok {
			pos = &TrackedPosition{
				Ticker:     p.Ticker,
				Exchange:   p.Exchange,
				Product:    p.Product,
				Side:       side,
				Quantity:   qty,
				EntryPrice: p.AveragePrice,
				FirstSeen:  now,
			}
			t.positions[p.Ticker] = pos
			t.logger.Info().
				Str("ticker", p.Ticker).
				Str("side", string(side)).
				Int64("quantity", qty).
				Float64("entry", p.AveragePrice).
				Msg("Tracking new position")
			if t.bus != nil {
				t.bus.Publish(events.Event{Type: events.EventPositionAdded, Data: map[string]interface{}{
					"ticker":   p.Ticker,
					"side":     string(side),
					"quantity": qty,
					"entry":    p.AveragePrice,
				}})
			}
		} else if pos.Side != side {
			// Direction flipped outside the watchdog. Treat as a fresh
			// position; the old stop state no longer applies.
			t.logger.Warn().Str("ticker", p.Ticker).Msg("Position direction flipped, resetting stop state")
			pos.Side = side
			pos.EntryPrice = p.AveragePrice
			pos.FirstSeen = now
			pos.ATRStop = nil
			pos.PSAR = nil
			pos.CandleBuilder = nil
		}

		pos.Quantity = qty
		pos.LastPrice = p.LastPrice
		pos.PnL = p.PnL
		pos.UpdatedAt = now
	}

	var vanished []string
	for ticker := range t.positions {
		if !seen[ticker] {
			vanished = append(vanished, ticker)
		}
	}
	for _, ticker := range vanished {
		delete(t.positions, ticker)
		t.logger.Info().Str("ticker", ticker).Msg("Position no longer reported by broker")
		if t.bus != nil {
			t.bus.Publish(events.Event{Type: events.EventPositionVanished, Data: map[string]interface{}{
				"ticker": ticker,
			}})
		}
	}

	return vanished
}

// Verify re-fetches positions and holdings and confirms the ticker is still
// open at exactly the expected quantity. Called immediately before
// dispatching an exit so the watchdog never sells something already closed,
// and never sells more than the broker reports. On a size mismatch the local
// copy is corrected and the dispatch deferred to the next cycle.
func (t *Tracker) Verify(ctx context.Context, client broker.Client, ticker string, expectedQty int64) (bool, error) {
	positions, err := client.GetPositions(ctx)
	if err != nil {
		return false, err
	}
	holdings, err := client.GetHoldings(ctx)
	if err != nil {
		return false, err
	}

	var brokerQty int64
	found := false
	for _, p := range positions {
		if p.Ticker == ticker && p.Quantity != 0 {
			brokerQty = p.Quantity
			found = true
			break
		}
	}
	if !found {
		for _, h := range holdings {
			if h.Ticker == ticker && h.Quantity != 0 {
				brokerQty = h.Quantity
				found = true
				break
			}
		}
	}
	if !found {
		// The broker no longer reports it; drop our copy.
		t.Remove(ticker)
		return false, nil
	}

	abs := brokerQty
	if abs < 0 {
		abs = -abs
	}
	if abs != expectedQty {
		t.logger.Warn().
			Str("ticker", ticker).
			Int64("tracked", expectedQty).
			Int64("broker", abs).
			Msg("Quantity mismatch at dispatch, exit deferred")
		t.Mutate(ticker, func(p *TrackedPosition) {
			p.Quantity = abs
		})
		return false, nil
	}
	return true, nil
}

// Get returns the tracked position for a ticker, or nil. The pointer is live;
// only the watchdog goroutine may touch it. Concurrent readers use Snapshot.
func (t *Tracker) Get(ticker string) *TrackedPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.positions[ticker]
}

// Mutate runs fn on the tracked position under the write lock so concurrent
// Snapshot calls never observe a half-applied update. Returns false when the
// ticker is not tracked.
func (t *Tracker) Mutate(ticker string, fn func(*TrackedPosition)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[ticker]
	if !ok {
		return false
	}
	fn(pos)
	return true
}

// Snapshot returns value copies of all tracked positions, safe to marshal or
// hold while the watchdog keeps mutating the live structs.
func (t *Tracker) Snapshot() []TrackedPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TrackedPosition, 0, len(t.positions))
	for _, p := range t.positions {
		cp := *p
		if p.ATRStop != nil {
			st := *p.ATRStop
			cp.ATRStop = &st
		}
		cp.PSAR = nil
		cp.CandleBuilder = nil
		out = append(out, cp)
	}
	return out
}

// Remove drops a position from tracking. Removing an untracked ticker is a
// no-op, so double removal after a fill and a sync is harmless.
func (t *Tracker) Remove(ticker string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.positions, ticker)
}

// Count returns the number of tracked positions.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}
