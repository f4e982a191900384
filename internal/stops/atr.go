// Package stops computes protective stop levels for open positions.
// Two independent sources exist: an ATR-based trailing stop recomputed each
// polling cycle, and a tick-driven Parabolic SAR. Both only ever tighten.
package stops

// Side is the direction of the protected position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Update describes the outcome of one stop recomputation.
type Update struct {
	OldStop      float64
	NewStop      float64
	Tightened    bool
	Triggered    bool
	TriggerPrice float64
}

// TrailingStop is the ATR trailing stop state for one position. The stop for
// a LONG only ever moves up, for a SHORT only ever down (monotonic ratchet).
type TrailingStop struct {
	Side          Side
	HighWaterMark float64
	LowWaterMark  float64
	CurrentStop   float64
}

// NewTrailingStop seeds the stop from the entry price.
func NewTrailingStop(side Side, entryPrice, atr, multiplier float64) *TrailingStop {
	ts := &TrailingStop{
		Side:          side,
		HighWaterMark: entryPrice,
		LowWaterMark:  entryPrice,
	}
	if side == SideLong {
		ts.CurrentStop = entryPrice - multiplier*atr
	} else {
		ts.CurrentStop = entryPrice + multiplier*atr
	}
	return ts
}

// Observe updates the stop for a new price and ATR reading. The trigger check
// runs against the stop as it stood before this observation.
func (ts *TrailingStop) Observe(price, atr, multiplier float64) Update {
	if ts.Side == SideLong {
		return ts.observeLong(price, atr, multiplier)
	}
	return ts.observeShort(price, atr, multiplier)
}

func (ts *TrailingStop) observeLong(price, atr, multiplier float64) Update {
	if price <= ts.CurrentStop {
		return Update{
			OldStop:      ts.CurrentStop,
			NewStop:      ts.CurrentStop,
			Triggered:    true,
			TriggerPrice: price,
		}
	}

	if price > ts.HighWaterMark {
		ts.HighWaterMark = price
	}

	candidate := ts.HighWaterMark - multiplier*atr
	if candidate > ts.CurrentStop {
		old := ts.CurrentStop
		ts.CurrentStop = candidate
		return Update{OldStop: old, NewStop: candidate, Tightened: true}
	}

	return Update{OldStop: ts.CurrentStop, NewStop: ts.CurrentStop}
}

func (ts *TrailingStop) observeShort(price, atr, multiplier float64) Update {
	if price >= ts.CurrentStop {
		return Update{
			OldStop:      ts.CurrentStop,
			NewStop:      ts.CurrentStop,
			Triggered:    true,
			TriggerPrice: price,
		}
	}

	if price < ts.LowWaterMark {
		ts.LowWaterMark = price
	}

	candidate := ts.LowWaterMark + multiplier*atr
	if candidate < ts.CurrentStop {
		old := ts.CurrentStop
		ts.CurrentStop = candidate
		return Update{OldStop: old, NewStop: candidate, Tightened: true}
	}

	return Update{OldStop: ts.CurrentStop, NewStop: ts.CurrentStop}
}
