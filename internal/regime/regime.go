// Package regime classifies the broad market condition from breadth inputs.
// The label and volatility bucket feed the regime-aware stop multiplier.
package regime

import (
	"time"
)

// Label is a discrete market-condition classification.
type Label string

const (
	StrongUptrend   Label = "STRONG_UPTREND"
	Uptrend         Label = "UPTREND"
	Choppy          Label = "CHOPPY"
	Downtrend       Label = "DOWNTREND"
	StrongDowntrend Label = "STRONG_DOWNTREND"
)

// VolBucket is a discrete volatility classification from index ATR percent.
type VolBucket string

const (
	VolLow     VolBucket = "LOW"
	VolMedium  VolBucket = "MEDIUM"
	VolHigh    VolBucket = "HIGH"
	VolExtreme VolBucket = "EXTREME"
)

// Snapshot is one classification output, persisted to Redis between refreshes.
type Snapshot struct {
	Label            Label     `json:"label"`
	Confidence       float64   `json:"confidence"` // 0..1
	VolBucket        VolBucket `json:"vol_bucket"`
	MomentumRatio    float64   `json:"momentum_ratio"`    // Index close ratio over lookback
	PatternAgreement float64   `json:"pattern_agreement"` // 0..1, share of agreeing breadth signals
	AdvanceDecline   float64   `json:"advance_decline"`   // Advancers / decliners
	PctAboveSMA      float64   `json:"pct_above_sma"`     // Share of universe above its SMA
	GeneratedAt      time.Time `json:"generated_at"`
}

// IsStale reports whether the snapshot is older than the cutoff.
func (s *Snapshot) IsStale(maxAge time.Duration) bool {
	if s == nil {
		return true
	}
	return time.Since(s.GeneratedAt) > maxAge
}

// BucketVolatility maps index ATR percent to a volatility bucket.
func BucketVolatility(atrPercent float64) VolBucket {
	switch {
	case atrPercent < 1.0:
		return VolLow
	case atrPercent < 2.0:
		return VolMedium
	case atrPercent < 3.5:
		return VolHigh
	default:
		return VolExtreme
	}
}

// BreadthInputs are the raw breadth measurements for one classification pass.
type BreadthInputs struct {
	Advancers     int
	Decliners     int
	AboveSMA      int
	UniverseSize  int
	IndexMomentum float64 // Index close ratio over the momentum lookback
	IndexATRPct   float64
}

// Classify derives a regime label and confidence from breadth inputs.
// Thresholds are deliberately coarse; the classifier biases stop width,
// it does not trade on its own.
func Classify(in BreadthInputs, now time.Time) *Snapshot {
	adRatio := 1.0
	if in.Decliners > 0 {
		adRatio = float64(in.Advancers) / float64(in.Decliners)
	} else if in.Advancers > 0 {
		adRatio = float64(in.Advancers)
	}

	pctAbove := 0.0
	if in.UniverseSize > 0 {
		pctAbove = float64(in.AboveSMA) / float64(in.UniverseSize)
	}

	// Score each breadth signal into [-1, 1], then average.
	scores := []float64{
		scoreADRatio(adRatio),
		scorePctAbove(pctAbove),
		scoreMomentum(in.IndexMomentum),
	}
	total := 0.0
	agree := 0
	for _, s := range scores {
		total += s
		if s > 0 == (scores[0] > 0) {
			agree++
		}
	}
	composite := total / float64(len(scores))

	label := labelFromScore(composite)
	confidence := 0.5 + 0.5*abs(composite)
	if confidence > 1 {
		confidence = 1
	}

	return &Snapshot{
		Label:            label,
		Confidence:       confidence,
		VolBucket:        BucketVolatility(in.IndexATRPct),
		MomentumRatio:    in.IndexMomentum,
		PatternAgreement: float64(agree) / float64(len(scores)),
		AdvanceDecline:   adRatio,
		PctAboveSMA:      pctAbove,
		GeneratedAt:      now,
	}
}

func scoreADRatio(r float64) float64 {
	switch {
	case r >= 2.5:
		return 1
	case r >= 1.5:
		return 0.5
	case r > 0.67:
		return 0
	case r > 0.4:
		return -0.5
	default:
		return -1
	}
}

func scorePctAbove(p float64) float64 {
	switch {
	case p >= 0.75:
		return 1
	case p >= 0.55:
		return 0.5
	case p > 0.45:
		return 0
	case p > 0.25:
		return -0.5
	default:
		return -1
	}
}

func scoreMomentum(m float64) float64 {
	switch {
	case m >= 1.03:
		return 1
	case m >= 1.01:
		return 0.5
	case m > 0.99:
		return 0
	case m > 0.97:
		return -0.5
	default:
		return -1
	}
}

func labelFromScore(score float64) Label {
	switch {
	case score >= 0.7:
		return StrongUptrend
	case score >= 0.25:
		return Uptrend
	case score > -0.25:
		return Choppy
	case score > -0.7:
		return Downtrend
	default:
		return StrongDowntrend
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
