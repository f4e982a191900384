package stops

import (
	"testing"
	"time"

	"kite-trading-bot/config"
	"kite-trading-bot/internal/regime"
)

func testStopsConfig() config.RegimeStopsConfig {
	return config.RegimeStopsConfig{
		MinMultiplier:    1.0,
		MaxMultiplier:    4.0,
		ConfidenceWeight: 0.3,
		MomentumWeight:   0.2,
		PatternWeight:    0.15,
		AgeWeight:        0.1,
		StaleAfterHours:  24,
	}
}

func TestMultiplierStaleFallback(t *testing.T) {
	src := NewMultiplierSource(testStopsConfig())

	stale := &regime.Snapshot{
		Label:       regime.StrongUptrend,
		VolBucket:   regime.VolLow,
		Confidence:  0.9,
		GeneratedAt: time.Now().Add(-25 * time.Hour),
	}

	got := src.Multiplier(stale, SideLong, time.Hour, 1.5)
	if got != 2.0 {
		t.Errorf("stale snapshot at 1.5%% ATR: multiplier = %.2f, want static 2.0", got)
	}

	// Nil snapshot is treated as stale.
	got = src.Multiplier(nil, SideLong, time.Hour, 0.5)
	if got != 1.5 {
		t.Errorf("nil snapshot at 0.5%% ATR: multiplier = %.2f, want static 1.5", got)
	}
}

func TestMultiplierRegimeMatrix(t *testing.T) {
	src := NewMultiplierSource(testStopsConfig())

	// Neutral adjustments: confidence 0.5, momentum 1.0, agreement 0.5,
	// zero age leave the base matrix value untouched.
	snap := &regime.Snapshot{
		Label:            regime.StrongUptrend,
		VolBucket:        regime.VolLow,
		Confidence:       0.5,
		MomentumRatio:    1.0,
		PatternAgreement: 0.5,
		GeneratedAt:      time.Now(),
	}

	got := src.Multiplier(snap, SideLong, 0, 1.0)
	if !almostEqual(got, 2.5) {
		t.Errorf("neutral strong uptrend / low vol = %.4f, want base 2.5", got)
	}

	snap.Label = regime.Choppy
	snap.VolBucket = regime.VolExtreme
	got = src.Multiplier(snap, SideLong, 0, 1.0)
	if !almostEqual(got, 2.2) {
		t.Errorf("neutral choppy / extreme vol = %.4f, want base 2.2", got)
	}
}

func TestMultiplierAdjustments(t *testing.T) {
	src := NewMultiplierSource(testStopsConfig())

	base := &regime.Snapshot{
		Label:            regime.Uptrend,
		VolBucket:        regime.VolMedium,
		Confidence:       0.5,
		MomentumRatio:    1.0,
		PatternAgreement: 0.5,
		GeneratedAt:      time.Now(),
	}
	neutral := src.Multiplier(base, SideLong, 0, 1.0)

	// Higher confidence widens.
	confident := *base
	confident.Confidence = 1.0
	if got := src.Multiplier(&confident, SideLong, 0, 1.0); got <= neutral {
		t.Errorf("high confidence should widen: %.4f <= %.4f", got, neutral)
	}

	// With-trend momentum widens a long, squeezes a short.
	momo := *base
	momo.MomentumRatio = 1.05
	if got := src.Multiplier(&momo, SideLong, 0, 1.0); got <= neutral {
		t.Errorf("with-trend momentum should widen a long: %.4f <= %.4f", got, neutral)
	}
	if got := src.Multiplier(&momo, SideShort, 0, 1.0); got >= neutral {
		t.Errorf("counter-trend momentum should squeeze a short: %.4f >= %.4f", got, neutral)
	}

	// Old positions tighten.
	if got := src.Multiplier(base, SideLong, 20*24*time.Hour, 1.0); got >= neutral {
		t.Errorf("aged position should tighten: %.4f >= %.4f", got, neutral)
	}
}

func TestMultiplierClamped(t *testing.T) {
	cfg := testStopsConfig()
	cfg.MaxMultiplier = 2.0
	src := NewMultiplierSource(cfg)

	snap := &regime.Snapshot{
		Label:            regime.StrongUptrend,
		VolBucket:        regime.VolExtreme, // base 3.5
		Confidence:       1.0,
		MomentumRatio:    1.1,
		PatternAgreement: 1.0,
		GeneratedAt:      time.Now(),
	}

	if got := src.Multiplier(snap, SideLong, 0, 1.0); got != 2.0 {
		t.Errorf("multiplier = %.4f, want clamped to 2.0", got)
	}
}

func TestFallbackMultiplierBuckets(t *testing.T) {
	cases := []struct {
		atrPct float64
		want   float64
	}{
		{0.5, 1.5},
		{1.0, 2.0},
		{1.9, 2.0},
		{2.5, 2.5},
		{4.0, 3.0},
	}
	for _, tc := range cases {
		if got := FallbackMultiplier(tc.atrPct); got != tc.want {
			t.Errorf("FallbackMultiplier(%.1f) = %.1f, want %.1f", tc.atrPct, got, tc.want)
		}
	}
}
