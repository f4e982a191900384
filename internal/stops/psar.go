package stops

// PSARState is the Parabolic SAR computed over synthetic tick candles for one
// position. It follows the Wilder construction: the SAR accelerates toward
// the extreme point, clamps against the prior two candles, and flips when
// price crosses it.
type PSARState struct {
	afStart float64
	afStep  float64
	afMax   float64

	Trend Side
	PSAR  float64
	EP    float64
	AF    float64

	prev1 *TickCandle // most recent completed candle
	prev2 *TickCandle

	seeded bool
	first  TickCandle
}

// NewPSARState creates an uninitialized PSAR. The first two candles bootstrap
// it; updates before that return ready=false.
func NewPSARState(afStart, afStep, afMax float64) *PSARState {
	return &PSARState{afStart: afStart, afStep: afStep, afMax: afMax}
}

// Ready reports whether the bootstrap has completed.
func (p *PSARState) Ready() bool {
	return p.prev1 != nil
}

// Update advances the SAR with one completed candle. It returns the flip
// flag and ready=false while still bootstrapping.
func (p *PSARState) Update(c TickCandle) (flipped bool, ready bool) {
	if !p.seeded {
		p.first = c
		p.seeded = true
		return false, false
	}

	if p.prev1 == nil {
		// Second candle fixes the initial trend. The SAR seeds from the
		// first candle's opposite extreme, the EP from this candle's own.
		if c.Close > p.first.Close {
			p.Trend = SideLong
			p.PSAR = p.first.Low
			p.EP = c.High
		} else {
			p.Trend = SideShort
			p.PSAR = p.first.High
			p.EP = c.Low
		}
		p.AF = p.afStart
		p.prev2 = &p.first
		prev := c
		p.prev1 = &prev
		return false, true
	}

	candidate := p.PSAR + p.AF*(p.EP-p.PSAR)

	// The SAR may never sit inside the prior two candles' range.
	if p.Trend == SideLong {
		if candidate > p.prev1.Low {
			candidate = p.prev1.Low
		}
		if p.prev2 != nil && candidate > p.prev2.Low {
			candidate = p.prev2.Low
		}
	} else {
		if candidate < p.prev1.High {
			candidate = p.prev1.High
		}
		if p.prev2 != nil && candidate < p.prev2.High {
			candidate = p.prev2.High
		}
	}

	// Flip check runs against the candidate before extremes are folded in.
	if p.Trend == SideLong && c.Low <= candidate {
		p.Trend = SideShort
		p.PSAR = p.EP
		p.EP = c.Low
		p.AF = p.afStart
		flipped = true
	} else if p.Trend == SideShort && c.High >= candidate {
		p.Trend = SideLong
		p.PSAR = p.EP
		p.EP = c.High
		p.AF = p.afStart
		flipped = true
	} else {
		p.PSAR = candidate
		if p.Trend == SideLong && c.High > p.EP {
			p.EP = c.High
			p.AF += p.afStep
		} else if p.Trend == SideShort && c.Low < p.EP {
			p.EP = c.Low
			p.AF += p.afStep
		}
		if p.AF > p.afMax {
			p.AF = p.afMax
		}
	}

	p.prev2 = p.prev1
	prev := c
	p.prev1 = &prev
	return flipped, true
}

// ShouldExit reports whether the SAR calls for exiting a position of the
// given side at the given close. A LONG exits when price closes below the
// SAR, a SHORT when it closes above.
func (p *PSARState) ShouldExit(side Side, close float64) bool {
	if !p.Ready() {
		return false
	}
	if side == SideLong {
		return close < p.PSAR
	}
	return close > p.PSAR
}
