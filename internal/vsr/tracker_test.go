package vsr

import (
	"testing"

	"github.com/rs/zerolog"

	"kite-trading-bot/config"
	"kite-trading-bot/internal/broker"
)

func testVSRConfig() config.VSRConfig {
	return config.VSRConfig{
		Enabled:         true,
		SpikeMultiplier: 2.5,
		TrailingWindow:  5,
		MinPersistence:  3,
		MaxTracked:      10,
	}
}

// spikeCandles returns a quiet history with one final candle whose volume
// dominates the trailing mean.
func spikeCandles(spikeVolume int64) []broker.Candle {
	candles := make([]broker.Candle, 7)
	for i := range candles {
		candles[i] = broker.Candle{Open: 100, High: 101, Low: 99, Close: 100, Volume: 10000}
	}
	candles[6].Volume = spikeVolume
	return candles
}

func TestObserveDetectsSpike(t *testing.T) {
	tr := NewTracker(testVSRConfig(), nil, nil, zerolog.Nop())

	if tr.Observe("RELIANCE", spikeCandles(10000)) {
		t.Error("baseline volume must not read as a spike")
	}
	if !tr.Observe("RELIANCE", spikeCandles(100000)) {
		t.Error("10x volume on the same spread must read as a spike")
	}
}

func TestPersistencePromotesToTrending(t *testing.T) {
	tr := NewTracker(testVSRConfig(), nil, nil, zerolog.Nop())

	tr.Observe("TCS", spikeCandles(100000))
	tr.Observe("TCS", spikeCandles(100000))
	if len(tr.Trending()) != 0 {
		t.Fatal("two spike cycles must not trend with min persistence 3")
	}

	tr.Observe("TCS", spikeCandles(100000))
	trending := tr.Trending()
	if len(trending) != 1 || trending[0].Ticker != "TCS" {
		t.Fatalf("trending = %v, want [TCS]", trending)
	}

	// A quiet cycle breaks persistence and drops the ticker.
	tr.Observe("TCS", spikeCandles(10000))
	if len(tr.Trending()) != 0 {
		t.Error("quiet cycle must clear trending status")
	}
	if st := tr.Get("TCS"); st == nil || st.Persistence != 0 {
		t.Error("persistence must reset on a quiet cycle")
	}
}

func TestTrendingCapped(t *testing.T) {
	cfg := testVSRConfig()
	cfg.MaxTracked = 2
	cfg.MinPersistence = 1
	tr := NewTracker(cfg, nil, nil, zerolog.Nop())

	for _, ticker := range []string{"A", "B", "C", "D"} {
		tr.Observe(ticker, spikeCandles(100000))
	}
	if got := len(tr.Trending()); got != 2 {
		t.Errorf("trending size = %d, want capped at 2", got)
	}
}

func TestDisabledTrackerIsInert(t *testing.T) {
	cfg := testVSRConfig()
	cfg.Enabled = false
	tr := NewTracker(cfg, nil, nil, zerolog.Nop())

	if tr.Observe("INFY", spikeCandles(100000)) {
		t.Error("disabled tracker must not report spikes")
	}
	if len(tr.Trending()) != 0 {
		t.Error("disabled tracker must not trend anything")
	}
}
