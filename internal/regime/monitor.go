package regime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kite-trading-bot/config"
	"kite-trading-bot/internal/broker"
	"kite-trading-bot/internal/indicators"
)

// Store persists regime snapshots between refreshes and across restarts.
type Store interface {
	SaveRegimeSnapshot(ctx context.Context, snap *Snapshot) error
	LoadRegimeSnapshot(ctx context.Context) (*Snapshot, error)
}

// Monitor samples the configured universe, classifies the market regime and
// persists the snapshot. Refresh is driven externally (cron); Current is read
// from the watchdog and API goroutines, so the snapshot swap is locked.
type Monitor struct {
	client broker.Client
	store  Store
	cfg    config.RegimeConfig
	logger zerolog.Logger

	mu      sync.RWMutex
	current *Snapshot
}

// NewMonitor creates a regime monitor. If the store holds a previous
// snapshot it is loaded so stop multipliers have regime data immediately.
func NewMonitor(client broker.Client, store Store, cfg config.RegimeConfig, logger zerolog.Logger) *Monitor {
	m := &Monitor{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "RegimeMonitor").Logger(),
	}
	if store != nil {
		if snap, err := store.LoadRegimeSnapshot(context.Background()); err == nil && snap != nil {
			m.current = snap
			m.logger.Info().
				Str("label", string(snap.Label)).
				Time("generated_at", snap.GeneratedAt).
				Msg("Restored regime snapshot")
		}
	}
	return m
}

// Current returns the latest snapshot, or nil when none has been computed.
// Callers treat nil and stale snapshots the same way (static fallback).
func (m *Monitor) Current() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Refresh re-samples breadth across the universe and classifies the regime.
func (m *Monitor) Refresh(ctx context.Context) error {
	if len(m.cfg.Universe) == 0 {
		return fmt.Errorf("regime universe is empty")
	}

	var advancers, decliners, aboveSMA, sampled int
	for _, ticker := range m.cfg.Universe {
		candles, err := m.client.GetHistoricalCandles(ctx, ticker, "day", m.cfg.SMAPeriod+1)
		if err != nil {
			// Missing data for one name skews breadth slightly; skip and move on.
			m.logger.Warn().Err(err).Str("ticker", ticker).Msg("Breadth sample failed")
			continue
		}
		if len(candles) < 2 {
			continue
		}
		sampled++

		last := candles[len(candles)-1]
		prev := candles[len(candles)-2]
		if last.Close > prev.Close {
			advancers++
		} else if last.Close < prev.Close {
			decliners++
		}

		if sma := indicators.CalculateSMA(candles, m.cfg.SMAPeriod); sma > 0 && last.Close > sma {
			aboveSMA++
		}
	}

	if sampled == 0 {
		return fmt.Errorf("regime refresh: no universe data available")
	}

	indexCandles, err := m.client.GetHistoricalCandles(ctx, m.cfg.IndexTicker, "day", m.cfg.ATRPeriod+21)
	if err != nil {
		return fmt.Errorf("regime refresh: index candles: %w", err)
	}

	inputs := BreadthInputs{
		Advancers:     advancers,
		Decliners:     decliners,
		AboveSMA:      aboveSMA,
		UniverseSize:  sampled,
		IndexMomentum: indicators.CalculateMomentumRatio(indexCandles, 20),
		IndexATRPct:   indicators.CalculateATRPercent(indexCandles, m.cfg.ATRPeriod),
	}

	snap := Classify(inputs, time.Now())
	m.mu.Lock()
	prev := m.current
	m.current = snap
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveRegimeSnapshot(ctx, snap); err != nil {
			m.logger.Error().Err(err).Msg("Failed to persist regime snapshot")
		}
	}

	evt := m.logger.Info().
		Str("label", string(snap.Label)).
		Float64("confidence", snap.Confidence).
		Str("vol_bucket", string(snap.VolBucket)).
		Float64("ad_ratio", snap.AdvanceDecline).
		Float64("pct_above_sma", snap.PctAboveSMA)
	if prev != nil && prev.Label != snap.Label {
		evt = evt.Str("previous", string(prev.Label))
	}
	evt.Msg("Regime refreshed")

	return nil
}

// Changed reports whether the label differs from the previous snapshot's.
func Changed(prev, next *Snapshot) bool {
	if prev == nil || next == nil {
		return prev != next
	}
	return prev.Label != next.Label
}
