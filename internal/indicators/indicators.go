// Package indicators implements the technical indicators the strategy
// evaluates. All functions are pure: series in, value out. Inputs are
// assumed to be closed bars in chronological order; callers get an
// explicit error when the series is too short instead of a silent
// neutral value.
package indicators

import (
	"fmt"
	"math"
)

// EMA returns the exponential moving average of the series, seeded with
// the SMA of the first period values.
func EMA(prices []float64, period int) (float64, error) {
	if period < 1 {
		return 0, fmt.Errorf("ema: period must be >= 1 (got %d)", period)
	}
	if len(prices) < period {
		return 0, fmt.Errorf("ema: need %d prices, have %d", period, len(prices))
	}

	multiplier := 2.0 / float64(period+1)
	ema := average(prices[:period])
	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
	}
	return ema, nil
}

// RSI returns the Wilder-smoothed Relative Strength Index.
func RSI(prices []float64, period int) (float64, error) {
	if period < 1 {
		return 0, fmt.Errorf("rsi: period must be >= 1 (got %d)", period)
	}
	if len(prices) < period+1 {
		return 0, fmt.Errorf("rsi: need %d prices, have %d", period+1, len(prices))
	}

	gains := make([]float64, 0, len(prices)-1)
	losses := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}

	avgGain := average(gains[:period])
	avgLoss := average(losses[:period])
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}

// ATR returns the Wilder-smoothed Average True Range.
func ATR(highs, lows, closes []float64, period int) (float64, error) {
	if period < 1 {
		return 0, fmt.Errorf("atr: period must be >= 1 (got %d)", period)
	}
	n := len(closes)
	if len(highs) != n || len(lows) != n {
		return 0, fmt.Errorf("atr: series length mismatch (%d highs, %d lows, %d closes)", len(highs), len(lows), n)
	}
	if n < period+1 {
		return 0, fmt.Errorf("atr: need %d bars, have %d", period+1, n)
	}

	trs := trueRanges(highs, lows, closes)
	atr := average(trs[:period])
	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}
	return atr, nil
}

// ADX returns the Wilder Average Directional Index, the trend-strength
// gate the entry scan and the timeout exit both read.
func ADX(highs, lows, closes []float64, period int) (float64, error) {
	if period < 1 {
		return 0, fmt.Errorf("adx: period must be >= 1 (got %d)", period)
	}
	n := len(closes)
	if len(highs) != n || len(lows) != n {
		return 0, fmt.Errorf("adx: series length mismatch (%d highs, %d lows, %d closes)", len(highs), len(lows), n)
	}
	// One smoothing pass for DI, a second for DX.
	if n < 2*period+1 {
		return 0, fmt.Errorf("adx: need %d bars, have %d", 2*period+1, n)
	}

	trs := trueRanges(highs, lows, closes)
	plusDM := make([]float64, n-1)
	minusDM := make([]float64, n-1)
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
	}

	smTR := sum(trs[:period])
	smPlus := sum(plusDM[:period])
	smMinus := sum(minusDM[:period])

	dxs := make([]float64, 0, len(trs)-period+1)
	dxs = append(dxs, dx(smPlus, smMinus, smTR))

	for i := period; i < len(trs); i++ {
		smTR = smTR - smTR/float64(period) + trs[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		dxs = append(dxs, dx(smPlus, smMinus, smTR))
	}

	if len(dxs) < period {
		return 0, fmt.Errorf("adx: need %d dx values, have %d", period, len(dxs))
	}
	adx := average(dxs[:period])
	for i := period; i < len(dxs); i++ {
		adx = (adx*float64(period-1) + dxs[i]) / float64(period)
	}
	return adx, nil
}

// VolumeEMA returns the EMA of the volume series, used for the optional
// volume confirmation filter.
func VolumeEMA(volumes []float64, period int) (float64, error) {
	v, err := EMA(volumes, period)
	if err != nil {
		return 0, fmt.Errorf("volume %w", err)
	}
	return v, nil
}

func dx(plus, minus, tr float64) float64 {
	if tr == 0 {
		return 0
	}
	plusDI := 100 * plus / tr
	minusDI := 100 * minus / tr
	if plusDI+minusDI == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
}

func trueRanges(highs, lows, closes []float64) []float64 {
	trs := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		trs[i-1] = math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
	}
	return trs
}

func average(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return sum(data) / float64(len(data))
}

func sum(data []float64) float64 {
	s := 0.0
	for _, v := range data {
		s += v
	}
	return s
}
