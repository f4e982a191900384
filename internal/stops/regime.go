package stops

import (
	"time"

	"kite-trading-bot/config"
	"kite-trading-bot/internal/regime"
)

// baseMultipliers is the regime-label x volatility-bucket matrix of ATR
// multipliers. Wider stops in trending regimes, tighter in chop; volatility
// widens everything.
var baseMultipliers = map[regime.Label]map[regime.VolBucket]float64{
	regime.StrongUptrend: {
		regime.VolLow: 2.5, regime.VolMedium: 2.8, regime.VolHigh: 3.2, regime.VolExtreme: 3.5,
	},
	regime.Uptrend: {
		regime.VolLow: 2.0, regime.VolMedium: 2.3, regime.VolHigh: 2.7, regime.VolExtreme: 3.0,
	},
	regime.Choppy: {
		regime.VolLow: 1.3, regime.VolMedium: 1.5, regime.VolHigh: 1.8, regime.VolExtreme: 2.2,
	},
	regime.Downtrend: {
		regime.VolLow: 1.2, regime.VolMedium: 1.4, regime.VolHigh: 1.6, regime.VolExtreme: 2.0,
	},
	regime.StrongDowntrend: {
		regime.VolLow: 1.0, regime.VolMedium: 1.2, regime.VolHigh: 1.5, regime.VolExtreme: 1.8,
	},
}

// MultiplierSource derives the ATR multiplier for a position from the
// current regime snapshot, falling back to a static ATR-percent table when
// the snapshot is missing or stale.
type MultiplierSource struct {
	cfg config.RegimeStopsConfig
}

// NewMultiplierSource creates a multiplier source.
func NewMultiplierSource(cfg config.RegimeStopsConfig) *MultiplierSource {
	return &MultiplierSource{cfg: cfg}
}

// Multiplier computes the effective ATR multiplier. atrPercent is only used
// by the fallback path.
func (m *MultiplierSource) Multiplier(snap *regime.Snapshot, side Side, positionAge time.Duration, atrPercent float64) float64 {
	staleAfter := time.Duration(m.cfg.StaleAfterHours) * time.Hour
	if snap.IsStale(staleAfter) {
		return m.clamp(FallbackMultiplier(atrPercent))
	}

	mult := baseMultipliers[snap.Label][snap.VolBucket]
	if mult == 0 {
		mult = FallbackMultiplier(atrPercent)
	}

	// Confidence: high-conviction regimes earn their full width, uncertain
	// ones pull toward the middle.
	mult *= 1 + m.cfg.ConfidenceWeight*(snap.Confidence-0.5)

	// Momentum: with-trend positions get room, counter-trend get squeezed.
	momentum := snap.MomentumRatio - 1
	if side == SideShort {
		momentum = -momentum
	}
	mult *= 1 + m.cfg.MomentumWeight*clampFloat(momentum*10, -1, 1)

	// Pattern agreement across breadth signals.
	mult *= 1 + m.cfg.PatternWeight*(snap.PatternAgreement-0.5)

	// Older positions tighten: a stop that has not been hit in days should
	// be protecting profit, not the original thesis.
	ageDays := positionAge.Hours() / 24
	mult *= 1 - m.cfg.AgeWeight*clampFloat(ageDays/10, 0, 1)

	return m.clamp(mult)
}

func (m *MultiplierSource) clamp(mult float64) float64 {
	return clampFloat(mult, m.cfg.MinMultiplier, m.cfg.MaxMultiplier)
}

// FallbackMultiplier is the static ATR-percent bucket table used when no
// fresh regime snapshot exists.
func FallbackMultiplier(atrPercent float64) float64 {
	switch {
	case atrPercent < 1.0:
		return 1.5
	case atrPercent < 2.0:
		return 2.0
	case atrPercent < 3.0:
		return 2.5
	default:
		return 3.0
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
