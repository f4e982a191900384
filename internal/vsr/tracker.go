// Package vsr tracks volume-spread-ratio spikes across the watched universe.
// A ticker whose VSR repeatedly exceeds its trailing mean is flagged as
// trending; the list feeds the dashboard and notifications, not order flow.
package vsr

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kite-trading-bot/config"
	"kite-trading-bot/internal/broker"
	"kite-trading-bot/internal/events"
	"kite-trading-bot/internal/indicators"
)

// Store persists spike state across restarts.
type Store interface {
	SaveVSRState(ctx context.Context, state map[string]*TickerState) error
	LoadVSRState(ctx context.Context) (map[string]*TickerState, error)
}

// TickerState is the spike bookkeeping for one ticker.
type TickerState struct {
	Ticker      string    `json:"ticker"`
	LastVSR     float64   `json:"last_vsr"`
	MeanVSR     float64   `json:"mean_vsr"`
	Persistence int       `json:"persistence"` // Consecutive spike cycles
	Trending    bool      `json:"trending"`
	LastSpikeAt time.Time `json:"last_spike_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Ratio returns how far the last VSR sits above the trailing mean.
func (s *TickerState) Ratio() float64 {
	if s.MeanVSR == 0 {
		return 0
	}
	return s.LastVSR / s.MeanVSR
}

// Tracker maintains per-ticker VSR spike state.
type Tracker struct {
	mu sync.RWMutex

	cfg    config.VSRConfig
	store  Store
	bus    *events.Bus
	logger zerolog.Logger
	state  map[string]*TickerState
}

// NewTracker creates a tracker, restoring persisted state when available.
func NewTracker(cfg config.VSRConfig, store Store, bus *events.Bus, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "VSRTracker").Logger(),
		state:  make(map[string]*TickerState),
	}
	if store != nil {
		if restored, err := store.LoadVSRState(context.Background()); err == nil && restored != nil {
			t.state = restored
			t.logger.Info().Int("tickers", len(restored)).Msg("Restored VSR state")
		}
	}
	return t
}

// Observe folds one ticker's candle history into the spike state. Returns
// true when this observation is a spike.
func (t *Tracker) Observe(ticker string, candles []broker.Candle) bool {
	if !t.cfg.Enabled || len(candles) == 0 {
		return false
	}

	latest := indicators.CalculateVSR(candles[len(candles)-1])
	mean := indicators.CalculateMeanVSR(candles, t.cfg.TrailingWindow)
	if mean == 0 {
		return false
	}

	spike := latest >= t.cfg.SpikeMultiplier*mean

	t.mu.Lock()
	st, ok := t.state[ticker]
	if !ok {
		st = &TickerState{Ticker: ticker}
		t.state[ticker] = st
	}

	st.LastVSR = latest
	st.MeanVSR = mean
	st.UpdatedAt = time.Now()

	if spike {
		st.Persistence++
		st.LastSpikeAt = st.UpdatedAt
	} else {
		st.Persistence = 0
	}

	becameTrending := false
	if st.Persistence >= t.cfg.MinPersistence && !st.Trending {
		st.Trending = true
		becameTrending = true
	} else if st.Persistence == 0 {
		st.Trending = false
	}
	persistence := st.Persistence
	t.mu.Unlock()

	if becameTrending {
		t.logger.Info().
			Str("ticker", ticker).
			Float64("vsr", latest).
			Float64("mean", mean).
			Int("persistence", persistence).
			Msg("VSR spike trending")
		if t.bus != nil {
			t.bus.PublishVSRSpike(ticker, latest, mean, persistence)
		}
	}

	return spike
}

// Trending returns trending tickers ordered by spike ratio, capped at
// MaxTracked.
func (t *Tracker) Trending() []*TickerState {
	t.mu.RLock()
	out := make([]*TickerState, 0, len(t.state))
	for _, st := range t.state {
		if st.Trending {
			copied := *st
			out = append(out, &copied)
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Ratio() > out[j].Ratio() })
	if t.cfg.MaxTracked > 0 && len(out) > t.cfg.MaxTracked {
		out = out[:t.cfg.MaxTracked]
	}
	return out
}

// Get returns the state for one ticker, or nil.
func (t *Tracker) Get(ticker string) *TickerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.state[ticker]; ok {
		copied := *st
		return &copied
	}
	return nil
}

// Persist saves the full state through the store.
func (t *Tracker) Persist(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	t.mu.RLock()
	snapshot := make(map[string]*TickerState, len(t.state))
	for k, v := range t.state {
		copied := *v
		snapshot[k] = &copied
	}
	t.mu.RUnlock()
	return t.store.SaveVSRState(ctx, snapshot)
}
