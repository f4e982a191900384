package indicators

import (
	"math"

	"kite-trading-bot/internal/broker"
)

// CalculateSMA calculates Simple Moving Average of closes.
func CalculateSMA(candles []broker.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}

	sum := 0.0
	startIdx := len(candles) - period

	for i := startIdx; i < len(candles); i++ {
		sum += candles[i].Close
	}

	return sum / float64(period)
}

// CalculateEMA calculates Exponential Moving Average of closes.
func CalculateEMA(candles []broker.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}

	sma := CalculateSMA(candles[:period], period)
	multiplier := 2.0 / float64(period+1)

	ema := sma
	for i := period; i < len(candles); i++ {
		ema = (candles[i].Close * multiplier) + (ema * (1 - multiplier))
	}

	return ema
}

// TrueRange returns the Wilder true range for a candle given the prior close.
func TrueRange(high, low, prevClose float64) float64 {
	return math.Max(
		high-low,
		math.Max(
			math.Abs(high-prevClose),
			math.Abs(low-prevClose),
		),
	)
}

// CalculateATR calculates Average True Range over the trailing period.
func CalculateATR(candles []broker.Candle, period int) float64 {
	if len(candles) < period+1 || period <= 0 {
		return 0
	}

	trSum := 0.0
	startIdx := len(candles) - period

	for i := startIdx; i < len(candles); i++ {
		trSum += TrueRange(candles[i].High, candles[i].Low, candles[i-1].Close)
	}

	return trSum / float64(period)
}

// CalculateATRPercent returns ATR as a percentage of the last close.
func CalculateATRPercent(candles []broker.Candle, period int) float64 {
	atr := CalculateATR(candles, period)
	if atr == 0 || len(candles) == 0 {
		return 0
	}
	last := candles[len(candles)-1].Close
	if last == 0 {
		return 0
	}
	return (atr / last) * 100
}

// minSpreadFraction floors the high-low spread so a flat candle does not
// blow the VSR up to infinity. 0.05% of close approximates one tick band.
const minSpreadFraction = 0.0005

// CalculateVSR returns volume divided by price spread for one candle.
func CalculateVSR(c broker.Candle) float64 {
	spread := c.High - c.Low
	floor := c.Close * minSpreadFraction
	if spread < floor {
		spread = floor
	}
	if spread == 0 {
		return 0
	}
	return float64(c.Volume) / spread
}

// CalculateMeanVSR returns the mean VSR over the trailing window, excluding
// the latest candle (which is being compared against the mean).
func CalculateMeanVSR(candles []broker.Candle, window int) float64 {
	if len(candles) < window+1 || window <= 0 {
		return 0
	}

	sum := 0.0
	startIdx := len(candles) - window - 1
	for i := startIdx; i < len(candles)-1; i++ {
		sum += CalculateVSR(candles[i])
	}
	return sum / float64(window)
}

// CalculateMomentumRatio returns current close over the close `period`
// candles ago. Values above 1 indicate upward momentum.
func CalculateMomentumRatio(candles []broker.Candle, period int) float64 {
	if len(candles) < period+1 || period <= 0 {
		return 1
	}

	past := candles[len(candles)-period-1].Close
	if past == 0 {
		return 1
	}
	return candles[len(candles)-1].Close / past
}
