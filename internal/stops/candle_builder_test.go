package stops

import "testing"

func TestCandleBuilderBatchesTicks(t *testing.T) {
	b := NewCandleBuilder(3)

	if _, done := b.Add(100); done {
		t.Fatal("candle completed after one tick")
	}
	if _, done := b.Add(103); done {
		t.Fatal("candle completed after two ticks")
	}
	candle, done := b.Add(98)
	if !done {
		t.Fatal("candle must complete on the third tick")
	}

	if candle.Open != 100 || candle.High != 103 || candle.Low != 98 || candle.Close != 98 {
		t.Errorf("candle = %+v, want O=100 H=103 L=98 C=98", candle)
	}
	if candle.Ticks != 3 {
		t.Errorf("ticks = %d, want 3", candle.Ticks)
	}

	// Builder starts fresh after emitting.
	if b.Pending() != 0 {
		t.Errorf("pending after emit = %d, want 0", b.Pending())
	}
	candle2, done := b.Add(200)
	if done {
		t.Fatal("new candle completed after one tick")
	}
	_ = candle2
	if b.Pending() != 1 {
		t.Errorf("pending = %d, want 1", b.Pending())
	}
}
