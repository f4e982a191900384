package indicators

import (
	"math"
	"testing"

	"kite-trading-bot/internal/broker"
)

func flatCandles(n int, close float64) []broker.Candle {
	candles := make([]broker.Candle, n)
	for i := range candles {
		candles[i] = broker.Candle{
			Open: close, High: close + 1, Low: close - 1, Close: close,
			Volume: 1000,
		}
	}
	return candles
}

func TestCalculateATR(t *testing.T) {
	// Constant 2-point range with unchanged closes gives TR = 2 everywhere.
	candles := flatCandles(20, 100)
	atr := CalculateATR(candles, 14)
	if math.Abs(atr-2) > 1e-9 {
		t.Errorf("ATR = %.4f, want 2", atr)
	}

	if CalculateATR(candles[:10], 14) != 0 {
		t.Error("insufficient candles must return 0")
	}
}

func TestTrueRangeGaps(t *testing.T) {
	// Gap up: the range to the prior close dominates the bar's own range.
	tr := TrueRange(110, 108, 100)
	if tr != 10 {
		t.Errorf("gap-up TR = %.2f, want 10", tr)
	}
	tr = TrueRange(92, 90, 100)
	if tr != 10 {
		t.Errorf("gap-down TR = %.2f, want 10", tr)
	}
}

func TestCalculateATRPercent(t *testing.T) {
	candles := flatCandles(20, 100)
	pct := CalculateATRPercent(candles, 14)
	if math.Abs(pct-2) > 1e-9 {
		t.Errorf("ATR%% = %.4f, want 2 (ATR 2 on close 100)", pct)
	}
}

func TestCalculateVSRFloorsSpread(t *testing.T) {
	// A flat candle would divide by zero without the spread floor.
	flat := broker.Candle{Open: 100, High: 100, Low: 100, Close: 100, Volume: 50000}
	vsr := CalculateVSR(flat)
	want := 50000 / (100 * minSpreadFraction)
	if math.Abs(vsr-want) > 1e-6 {
		t.Errorf("flat-candle VSR = %.4f, want floored %.4f", vsr, want)
	}

	wide := broker.Candle{Open: 100, High: 105, Low: 95, Close: 100, Volume: 50000}
	if got := CalculateVSR(wide); math.Abs(got-5000) > 1e-9 {
		t.Errorf("VSR = %.4f, want 5000", got)
	}
}

func TestCalculateMeanVSRExcludesLatest(t *testing.T) {
	candles := flatCandles(6, 100)
	// Blow up the latest candle's volume; the trailing mean must not see it.
	candles[5].Volume = 1_000_000

	mean := CalculateMeanVSR(candles, 5)
	want := CalculateVSR(candles[0])
	if math.Abs(mean-want) > 1e-9 {
		t.Errorf("mean VSR = %.4f, want %.4f (latest excluded)", mean, want)
	}
}

func TestCalculateMomentumRatio(t *testing.T) {
	candles := flatCandles(21, 100)
	candles[20].Close = 105

	ratio := CalculateMomentumRatio(candles, 20)
	if math.Abs(ratio-1.05) > 1e-9 {
		t.Errorf("momentum = %.4f, want 1.05", ratio)
	}

	if CalculateMomentumRatio(candles[:5], 20) != 1 {
		t.Error("insufficient history must return neutral 1")
	}
}

func TestCalculateSMAAndEMA(t *testing.T) {
	candles := make([]broker.Candle, 10)
	for i := range candles {
		candles[i] = broker.Candle{Close: float64(i + 1)}
	}

	sma := CalculateSMA(candles, 5)
	if math.Abs(sma-8) > 1e-9 { // mean of 6..10
		t.Errorf("SMA = %.4f, want 8", sma)
	}

	ema := CalculateEMA(candles, 5)
	if ema <= sma-5 || ema > 10 {
		t.Errorf("EMA = %.4f, outside plausible range", ema)
	}
}
