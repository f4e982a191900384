package stops

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// TestTrailingStopRatchet walks a long position through a rise, a pullback
// and a stop breach, checking the stop only ever moves up.
func TestTrailingStopRatchet(t *testing.T) {
	ts := NewTrailingStop(SideLong, 100, 2, 1.5)

	if !almostEqual(ts.CurrentStop, 97) {
		t.Fatalf("initial stop = %.4f, want 97", ts.CurrentStop)
	}

	// Price rallies to 110, stop trails to 110 - 3 = 107.
	u := ts.Observe(110, 2, 1.5)
	if !u.Tightened {
		t.Error("stop should tighten on new high")
	}
	if !almostEqual(ts.CurrentStop, 107) {
		t.Errorf("stop after rally = %.4f, want 107", ts.CurrentStop)
	}

	// Pullback to 105 must not loosen the stop.
	u = ts.Observe(105, 2, 1.5)
	if u.Tightened || u.Triggered {
		t.Error("pullback should neither tighten nor trigger")
	}
	if !almostEqual(ts.CurrentStop, 107) {
		t.Errorf("stop after pullback = %.4f, want 107", ts.CurrentStop)
	}

	// A wider ATR reading must not widen an already-ratcheted stop.
	u = ts.Observe(108, 5, 1.5)
	if u.Tightened {
		t.Error("wider ATR should not move the stop")
	}
	if !almostEqual(ts.CurrentStop, 107) {
		t.Errorf("stop after ATR expansion = %.4f, want 107", ts.CurrentStop)
	}

	// Breach: the check runs against the stop as it stood.
	u = ts.Observe(106.5, 2, 1.5)
	if !u.Triggered {
		t.Fatal("price at 106.5 should trigger the 107 stop")
	}
	if u.TriggerPrice != 106.5 {
		t.Errorf("trigger price = %.4f, want 106.5", u.TriggerPrice)
	}
}

func TestTrailingStopShort(t *testing.T) {
	ts := NewTrailingStop(SideShort, 200, 4, 2)

	if !almostEqual(ts.CurrentStop, 208) {
		t.Fatalf("initial short stop = %.4f, want 208", ts.CurrentStop)
	}

	// Price falls to 180; stop ratchets down to 180 + 8 = 188.
	u := ts.Observe(180, 4, 2)
	if !u.Tightened || !almostEqual(ts.CurrentStop, 188) {
		t.Errorf("stop after drop = %.4f (tightened=%v), want 188", ts.CurrentStop, u.Tightened)
	}

	// Bounce below the stop does nothing.
	u = ts.Observe(185, 4, 2)
	if u.Tightened || u.Triggered {
		t.Error("bounce should neither tighten nor trigger")
	}

	// Rally through the stop triggers.
	u = ts.Observe(189, 4, 2)
	if !u.Triggered {
		t.Error("price at 189 should trigger the 188 short stop")
	}
}

func TestTrailingStopTriggerBeforeWatermark(t *testing.T) {
	ts := NewTrailingStop(SideLong, 100, 2, 1.5)

	// A single observation that both makes a new low and breaches the stop
	// must report the trigger against the pre-existing stop.
	u := ts.Observe(96, 2, 1.5)
	if !u.Triggered {
		t.Fatal("breach must trigger")
	}
	if !almostEqual(u.OldStop, 97) || !almostEqual(u.NewStop, 97) {
		t.Errorf("stop must be unchanged on trigger, got old=%.4f new=%.4f", u.OldStop, u.NewStop)
	}
}
