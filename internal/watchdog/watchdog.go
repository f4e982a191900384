package watchdog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"kite-trading-bot/config"
	"kite-trading-bot/internal/broker"
	"kite-trading-bot/internal/database"
	"kite-trading-bot/internal/events"
	"kite-trading-bot/internal/indicators"
	"kite-trading-bot/internal/regime"
	"kite-trading-bot/internal/stops"
	"kite-trading-bot/internal/vsr"
)

// StateStore persists per-ticker stop state across restarts.
type StateStore interface {
	SaveStopState(ctx context.Context, ticker string, state interface{}) error
	LoadStopState(ctx context.Context, ticker string, out interface{}) (bool, error)
	DeleteStopState(ctx context.Context, ticker string) error
}

// persistedStop is the durable slice of a position's stop state. The PSAR is
// rebuilt from live ticks after a restart rather than persisted.
type persistedStop struct {
	Side          stops.Side `json:"side"`
	HighWaterMark float64    `json:"high_water_mark"`
	LowWaterMark  float64    `json:"low_water_mark"`
	CurrentStop   float64    `json:"current_stop"`
	FirstSeen     time.Time  `json:"first_seen"`
}

// Watchdog runs the stop-loss loop. A single goroutine owns all stop state:
// it consumes the bounded tick channel for PSAR updates and runs the polling
// cycle for broker sync, ATR stops and exit resolution. Broker failures are
// logged and the cycle skipped; the next tick of the poll timer retries
// naturally.
type Watchdog struct {
	client      broker.Client
	tracker     *Tracker
	dispatcher  *Dispatcher
	multipliers *stops.MultiplierSource
	regimeMon   *regime.Monitor
	vsrTracker  *vsr.Tracker
	stateStore  StateStore
	repo        *database.Repository
	bus         *events.Bus
	cfg         config.WatchdogConfig
	logger      zerolog.Logger
	ticks       <-chan broker.Tick
}

// New creates a watchdog. regimeMon, vsrTracker, stateStore, repo and ticks
// may each be nil; the loop degrades feature by feature.
func New(
	client broker.Client,
	tracker *Tracker,
	dispatcher *Dispatcher,
	multipliers *stops.MultiplierSource,
	regimeMon *regime.Monitor,
	vsrTracker *vsr.Tracker,
	stateStore StateStore,
	repo *database.Repository,
	bus *events.Bus,
	cfg config.WatchdogConfig,
	ticks <-chan broker.Tick,
	logger zerolog.Logger,
) *Watchdog {
	return &Watchdog{
		client:      client,
		tracker:     tracker,
		dispatcher:  dispatcher,
		multipliers: multipliers,
		regimeMon:   regimeMon,
		vsrTracker:  vsrTracker,
		stateStore:  stateStore,
		repo:        repo,
		bus:         bus,
		cfg:         cfg,
		logger:      logger.With().Str("component", "Watchdog").Logger(),
		ticks:       ticks,
	}
}

// Run blocks until ctx is cancelled. It is the only goroutine that touches
// position and stop state.
func (w *Watchdog) Run(ctx context.Context) error {
	w.logger.Info().
		Dur("poll_interval", w.cfg.PollInterval()).
		Int("ticks_per_candle", w.cfg.TicksPerCandle).
		Msg("Watchdog started")
	if w.bus != nil {
		w.bus.Publish(events.Event{Type: events.EventWatchdogStarted})
	}

	w.runCycle(ctx)

	timer := time.NewTicker(w.cfg.PollInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Watchdog stopped")
			if w.bus != nil {
				w.bus.Publish(events.Event{Type: events.EventWatchdogStopped})
			}
			return ctx.Err()
		case tick, ok := <-w.ticks:
			if !ok {
				w.ticks = nil
				continue
			}
			w.handleTick(ctx, tick)
		case <-timer.C:
			w.runCycle(ctx)
		}
	}
}

// handleTick folds one trade into the ticker's synthetic candle and advances
// the PSAR when a candle completes. The PSAR update happens under the tracker
// lock; the exit dispatch runs afterwards on a snapshot.
func (w *Watchdog) handleTick(ctx context.Context, tick broker.Tick) {
	var (
		exitSnap TrackedPosition
		psarVal  float64
		closePx  float64
		trigger  bool
	)
	w.tracker.Mutate(tick.Ticker, func(pos *TrackedPosition) {
		if pos.CandleBuilder == nil {
			pos.CandleBuilder = stops.NewCandleBuilder(w.cfg.TicksPerCandle)
			pos.PSAR = stops.NewPSARState(w.cfg.PSARAFStart, w.cfg.PSARAFStep, w.cfg.PSARAFMax)
		}

		candle, done := pos.CandleBuilder.Add(tick.Price)
		if !done {
			return
		}

		prevSAR := pos.PSAR.PSAR
		flipped, ready := pos.PSAR.Update(candle)
		if !ready {
			return
		}

		if flipped {
			w.logger.Debug().
				Str("ticker", tick.Ticker).
				Float64("psar", pos.PSAR.PSAR).
				Str("trend", string(pos.PSAR.Trend)).
				Msg("PSAR flipped")
		} else if pos.PSAR.PSAR != prevSAR && w.bus != nil {
			w.bus.PublishStopUpdated(tick.Ticker, "psar", prevSAR, pos.PSAR.PSAR)
		}

		if pos.PSAR.ShouldExit(pos.Side, candle.Close) {
			trigger = true
			psarVal = pos.PSAR.PSAR
			closePx = candle.Close
			exitSnap = *pos
			exitSnap.PSAR = nil
			exitSnap.CandleBuilder = nil
		}
	})

	if !trigger || w.dispatcher.HasPending(tick.Ticker) {
		return
	}

	w.logger.Info().
		Str("ticker", tick.Ticker).
		Float64("psar", psarVal).
		Float64("close", closePx).
		Msg("PSAR exit signal")
	if w.bus != nil {
		w.bus.PublishStopTriggered(tick.Ticker, "psar", psarVal, closePx)
	}
	if _, err := w.dispatcher.QueueExit(ctx, &exitSnap, "psar", closePx); err != nil {
		w.logger.Error().Err(err).Str("ticker", tick.Ticker).Msg("PSAR exit dispatch failed")
	}
}

// runCycle is one polling pass: settle in-flight exits, resync positions
// against the broker, then recompute every ATR stop.
func (w *Watchdog) runCycle(ctx context.Context) {
	w.dispatcher.ResolvePending(ctx)

	positions, err := w.client.GetPositions(ctx)
	if err != nil {
		// Skip the whole cycle; stale stop decisions are worse than late ones.
		w.logger.Error().Err(err).Msg("Position fetch failed, skipping cycle")
		return
	}
	holdings, err := w.client.GetHoldings(ctx)
	if err != nil {
		// Syncing without holdings would vanish every delivery position.
		w.logger.Error().Err(err).Msg("Holdings fetch failed, skipping cycle")
		return
	}

	vanished := w.tracker.Sync(positions, holdings)
	for _, ticker := range vanished {
		if w.stateStore != nil {
			if err := w.stateStore.DeleteStopState(ctx, ticker); err != nil {
				w.logger.Warn().Err(err).Str("ticker", ticker).Msg("Failed to delete stop state")
			}
		}
	}

	var snap *regime.Snapshot
	if w.regimeMon != nil {
		snap = w.regimeMon.Current()
	}

	for _, pos := range w.tracker.Snapshot() {
		if w.dispatcher.HasPending(pos.Ticker) {
			continue
		}
		w.refreshStop(ctx, pos, snap)
	}

	if w.vsrTracker != nil {
		if err := w.vsrTracker.Persist(ctx); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to persist VSR state")
		}
	}
}

// refreshStop recomputes one ticker's ATR stop. The broker round-trips run on
// the snapshot copy; the stop mutation is applied under the tracker lock and
// any resulting exit dispatches on the updated snapshot.
func (w *Watchdog) refreshStop(ctx context.Context, pos TrackedPosition, snap *regime.Snapshot) {
	candles, err := w.client.GetHistoricalCandles(ctx, pos.Ticker, w.cfg.CandleInterval, w.cfg.CandleLookback)
	if err != nil {
		w.logger.Error().Err(err).Str("ticker", pos.Ticker).Msg("Candle fetch failed, skipping ticker")
		return
	}

	atr := indicators.CalculateATR(candles, w.cfg.ATRPeriod)
	if atr <= 0 {
		w.logger.Warn().Str("ticker", pos.Ticker).Int("candles", len(candles)).Msg("Insufficient candles for ATR")
		return
	}
	atrPct := indicators.CalculateATRPercent(candles, w.cfg.ATRPeriod)

	if w.vsrTracker != nil {
		w.vsrTracker.Observe(pos.Ticker, candles)
	}

	price := pos.LastPrice
	if quote, err := w.client.GetQuote(ctx, pos.Ticker); err == nil && quote.LastPrice > 0 {
		price = quote.LastPrice
	} else if price == 0 && len(candles) > 0 {
		price = candles[len(candles)-1].Close
	}
	if price <= 0 {
		return
	}

	mult := stops.FallbackMultiplier(atrPct)
	if w.multipliers != nil {
		mult = w.multipliers.Multiplier(snap, pos.Side, time.Since(pos.FirstSeen), atrPct)
	}

	var restored *stops.TrailingStop
	var restoredFirstSeen time.Time
	if pos.ATRStop == nil {
		restored, restoredFirstSeen = w.loadPersistedStop(ctx, pos.Ticker, pos.Side)
	}

	var (
		update    stops.Update
		seeded    bool
		wasNil    bool
		stopCopy  stops.TrailingStop
		firstSeen time.Time
	)
	ok := w.tracker.Mutate(pos.Ticker, func(p *TrackedPosition) {
		if p.ATRStop == nil {
			wasNil = true
			if restored != nil && restored.Side == p.Side {
				p.ATRStop = restored
				if !restoredFirstSeen.IsZero() {
					p.FirstSeen = restoredFirstSeen
				}
			} else {
				p.ATRStop = stops.NewTrailingStop(p.Side, p.EntryPrice, atr, mult)
				seeded = true
			}
		}
		update = p.ATRStop.Observe(price, atr, mult)
		p.LastATR = atr
		p.LastMultiplier = mult
		stopCopy = *p.ATRStop
		firstSeen = p.FirstSeen
		pos = *p
		pos.PSAR = nil
		pos.CandleBuilder = nil
	})
	if !ok {
		// Vanished between the snapshot and now.
		return
	}

	if wasNil {
		if seeded {
			w.logger.Info().
				Str("ticker", pos.Ticker).
				Float64("entry", pos.EntryPrice).
				Float64("stop", stopCopy.CurrentStop).
				Float64("multiplier", mult).
				Msg("Seeded ATR stop")
			w.persistStop(ctx, pos.Ticker, stopCopy, firstSeen)
		} else {
			w.logger.Info().
				Str("ticker", pos.Ticker).
				Float64("stop", stopCopy.CurrentStop).
				Msg("Restored persisted stop")
		}
	}

	switch {
	case update.Triggered:
		w.logger.Info().
			Str("ticker", pos.Ticker).
			Float64("stop", update.OldStop).
			Float64("price", price).
			Msg("ATR stop triggered")
		if w.bus != nil {
			w.bus.PublishStopTriggered(pos.Ticker, "atr", update.OldStop, price)
		}
		if _, err := w.dispatcher.QueueExit(ctx, &pos, "atr", price); err != nil {
			w.logger.Error().Err(err).Str("ticker", pos.Ticker).Msg("ATR exit dispatch failed")
		}

	case update.Tightened:
		w.logger.Debug().
			Str("ticker", pos.Ticker).
			Float64("old_stop", update.OldStop).
			Float64("new_stop", update.NewStop).
			Float64("multiplier", mult).
			Msg("ATR stop tightened")
		if w.bus != nil {
			w.bus.PublishStopUpdated(pos.Ticker, "atr", update.OldStop, update.NewStop)
		}
		if w.repo != nil {
			evt := &database.StopEvent{
				Ticker:     pos.Ticker,
				Source:     "atr",
				OldStop:    update.OldStop,
				NewStop:    update.NewStop,
				Price:      price,
				Multiplier: mult,
			}
			if snap != nil {
				evt.RegimeLabel = string(snap.Label)
			}
			if err := w.repo.CreateStopEvent(ctx, evt); err != nil {
				w.logger.Warn().Err(err).Str("ticker", pos.Ticker).Msg("Failed to record stop event")
			}
		}
		w.persistStop(ctx, pos.Ticker, stopCopy, firstSeen)
	}
}

// loadPersistedStop fetches a previously ratcheted stop so a restart never
// loosens one. Returns nil when nothing usable is stored.
func (w *Watchdog) loadPersistedStop(ctx context.Context, ticker string, side stops.Side) (*stops.TrailingStop, time.Time) {
	if w.stateStore == nil {
		return nil, time.Time{}
	}
	var saved persistedStop
	ok, err := w.stateStore.LoadStopState(ctx, ticker, &saved)
	if err != nil || !ok || saved.Side != side {
		return nil, time.Time{}
	}
	return &stops.TrailingStop{
		Side:          saved.Side,
		HighWaterMark: saved.HighWaterMark,
		LowWaterMark:  saved.LowWaterMark,
		CurrentStop:   saved.CurrentStop,
	}, saved.FirstSeen
}

func (w *Watchdog) persistStop(ctx context.Context, ticker string, st stops.TrailingStop, firstSeen time.Time) {
	if w.stateStore == nil {
		return
	}
	saved := persistedStop{
		Side:          st.Side,
		HighWaterMark: st.HighWaterMark,
		LowWaterMark:  st.LowWaterMark,
		CurrentStop:   st.CurrentStop,
		FirstSeen:     firstSeen,
	}
	if err := w.stateStore.SaveStopState(ctx, ticker, saved); err != nil {
		w.logger.Warn().Err(err).Str("ticker", ticker).Msg("Failed to persist stop state")
	}
}
