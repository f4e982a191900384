package stops

// TickCandle is a synthetic candle aggregated from a fixed number of ticks.
// There is no time-based gating: a candle completes when its tick count is
// reached, however long that takes.
type TickCandle struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
	Ticks int
}

// CandleBuilder batches ticks into fixed-size synthetic candles.
type CandleBuilder struct {
	size    int
	current *TickCandle
}

// NewCandleBuilder creates a builder producing candles of `size` ticks.
func NewCandleBuilder(size int) *CandleBuilder {
	if size < 1 {
		size = 1
	}
	return &CandleBuilder{size: size}
}

// Add folds one tick price in. When the candle completes it is returned with
// ok=true and the builder starts a fresh candle.
func (b *CandleBuilder) Add(price float64) (TickCandle, bool) {
	if b.current == nil {
		b.current = &TickCandle{Open: price, High: price, Low: price, Close: price}
	}

	c := b.current
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Ticks++

	if c.Ticks >= b.size {
		done := *c
		b.current = nil
		return done, true
	}
	return TickCandle{}, false
}

// Pending returns the tick count of the in-progress candle.
func (b *CandleBuilder) Pending() int {
	if b.current == nil {
		return 0
	}
	return b.current.Ticks
}
