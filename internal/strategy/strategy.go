// Package strategy implements the entry evaluator. Evaluate and the
// advisory gate are pure: the same snapshot, advisory, and config
// always produce the same outcome. All venue and advisory I/O happens
// in the engine before these functions are called.
package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/perp_sentinel/internal/config"
	"github.com/eddiefleurent/perp_sentinel/internal/indicators"
	"github.com/eddiefleurent/perp_sentinel/internal/models"
)

// MinCandles is the closed-bar depth required per timeframe before the
// evaluator will produce a decision.
const MinCandles = 96

const (
	emaFast = 20
	emaMid  = 30
	emaSlow = 60

	rsiPeriod = 14
	atrPeriod = 14
	adxPeriod = 14
)

// Snapshot is the market data one evaluation consumes. Candle slices
// are raw fetches; the evaluator drops the forming bar itself.
type Snapshot struct {
	Symbol    string
	Price     decimal.Decimal
	Candles15 []models.Candle
	Candles1h []models.Candle
	Candles4h []models.Candle
}

// Evaluate runs the technical rules and returns either an entry
// candidate or a typed rejection. The advisory gate, if configured,
// runs afterwards on the candidate.
func Evaluate(snap Snapshot, cfg *config.Trading) models.Outcome {
	c15 := models.ClosedOnly(snap.Candles15)
	c1h := models.ClosedOnly(snap.Candles1h)
	c4h := models.ClosedOnly(snap.Candles4h)

	if len(c15) < MinCandles || len(c1h) < MinCandles || len(c4h) < MinCandles {
		return reject(snap.Symbol, models.RejectInsufficientData,
			fmt.Sprintf("closed bars 15m=%d 1h=%d 4h=%d, need %d each", len(c15), len(c1h), len(c4h), MinCandles))
	}

	ind, err := computeIndicators(c15, c1h, c4h)
	if err != nil {
		return reject(snap.Symbol, models.RejectInsufficientData, err.Error())
	}

	th := cfg.Indicators.ADXThresholds
	// Trend gate: either mid or high timeframe trending is enough.
	pass1h := ind.ADX1h >= th.H1
	pass4h := ind.ADX4h >= th.H4
	if !pass1h && !pass4h {
		return reject(snap.Symbol, models.RejectADXGate,
			fmt.Sprintf("adx 1h=%.1f (<%.1f) and 4h=%.1f (<%.1f)", ind.ADX1h, th.H1, ind.ADX4h, th.H4))
	}

	price, _ := snap.Price.Float64()
	if price <= 0 {
		return reject(snap.Symbol, models.RejectInsufficientData, "non-positive price")
	}

	var direction models.Direction
	switch {
	case ind.EMA20 > ind.EMA60 && price > ind.EMA20:
		direction = models.DirectionLong
	case ind.EMA20 < ind.EMA60 && price < ind.EMA20:
		direction = models.DirectionShort
	default:
		return reject(snap.Symbol, models.RejectNoDirection,
			fmt.Sprintf("price=%.4f ema20=%.4f ema60=%.4f", price, ind.EMA20, ind.EMA60))
	}

	gates := cfg.Indicators.Entry
	dev20 := relDeviation(price, ind.EMA20)
	dev30 := relDeviation(price, ind.EMA30)
	if dev20 > gates.EMADeviationThreshold && dev30 > gates.EMADeviationThreshold {
		return reject(snap.Symbol, models.RejectEMADeviation,
			fmt.Sprintf("deviation ema20=%.4f ema30=%.4f exceeds %.4f", dev20, dev30, gates.EMADeviationThreshold))
	}

	if ind.RSI < gates.RSIMin || ind.RSI > gates.RSIMax {
		return reject(snap.Symbol, models.RejectRSIRange,
			fmt.Sprintf("rsi=%.1f outside [%.1f,%.1f]", ind.RSI, gates.RSIMin, gates.RSIMax))
	}

	last := c15[len(c15)-1]
	if !candleConfirms(last, direction, gates.CandleShadowThreshold) {
		return reject(snap.Symbol, models.RejectCandleShape,
			fmt.Sprintf("last 15m candle does not confirm %s (o=%.4f c=%.4f h=%.4f l=%.4f)",
				direction, last.Open, last.Close, last.High, last.Low))
	}

	if gates.VolumeConfirmation.Enabled {
		vols := models.Volumes(c15)
		volEMA, err := indicators.VolumeEMA(vols[:len(vols)-1], gates.VolumeConfirmation.EMAPeriod)
		if err != nil {
			return reject(snap.Symbol, models.RejectInsufficientData, err.Error())
		}
		need := gates.VolumeConfirmation.Multiplier * volEMA
		if last.Volume < need {
			return reject(snap.Symbol, models.RejectVolume,
				fmt.Sprintf("volume %.2f below %.2f (%.2fx ema%d)",
					last.Volume, need, gates.VolumeConfirmation.Multiplier, gates.VolumeConfirmation.EMAPeriod))
		}
	}

	reason := fmt.Sprintf("%s: adx gate 1h=%.1f/%v 4h=%.1f/%v, rsi=%.1f, price within ema band",
		direction, ind.ADX1h, pass1h, ind.ADX4h, pass4h, ind.RSI)
	return models.Outcome{Signal: &models.Signal{
		Symbol:     snap.Symbol,
		Direction:  direction,
		Price:      snap.Price,
		Indicators: ind,
		Reason:     reason,
	}}
}

// ApplyAdvisoryGate checks an entry candidate against the advisory.
// Pure; the advisory value is pinned by the caller.
func ApplyAdvisoryGate(sig *models.Signal, advisory models.Advisory, cfg config.AIConfig) models.Outcome {
	if models.AdvisoryDirection(sig.Direction) != advisory.Direction {
		return reject(sig.Symbol, models.RejectAdvisoryDirection,
			fmt.Sprintf("advisory says %s, candidate is %s", advisory.Direction, sig.Direction))
	}
	if advisory.Confidence < cfg.MinConfidence {
		return reject(sig.Symbol, models.RejectAdvisoryConfidence,
			fmt.Sprintf("confidence %.0f below %.0f", advisory.Confidence, cfg.MinConfidence))
	}
	if !advisory.RiskLevel.AtMost(cfg.MaxRiskLevel) {
		return reject(sig.Symbol, models.RejectAdvisoryRisk,
			fmt.Sprintf("risk %s above %s", advisory.RiskLevel, cfg.MaxRiskLevel))
	}

	gated := *sig
	adv := advisory
	gated.Advisory = &adv
	gated.Reason += fmt.Sprintf("; advisory %s conf=%.0f risk=%s", advisory.Direction, advisory.Confidence, advisory.RiskLevel)
	return models.Outcome{Signal: &gated}
}

func reject(symbol string, reason models.RejectReason, detail string) models.Outcome {
	return models.Outcome{Rejection: &models.Rejection{Symbol: symbol, Reason: reason, Detail: detail}}
}

func computeIndicators(c15, c1h, c4h []models.Candle) (models.IndicatorSet, error) {
	closes := models.Closes(c15)
	highs := make([]float64, len(c15))
	lows := make([]float64, len(c15))
	for i, c := range c15 {
		highs[i] = c.High
		lows[i] = c.Low
	}

	var ind models.IndicatorSet
	var err error
	if ind.EMA20, err = indicators.EMA(closes, emaFast); err != nil {
		return ind, err
	}
	if ind.EMA30, err = indicators.EMA(closes, emaMid); err != nil {
		return ind, err
	}
	if ind.EMA60, err = indicators.EMA(closes, emaSlow); err != nil {
		return ind, err
	}
	if ind.RSI, err = indicators.RSI(closes, rsiPeriod); err != nil {
		return ind, err
	}
	if ind.ATR, err = indicators.ATR(highs, lows, closes, atrPeriod); err != nil {
		return ind, err
	}
	if ind.ADX15m, err = adxOf(c15); err != nil {
		return ind, err
	}
	if ind.ADX1h, err = adxOf(c1h); err != nil {
		return ind, err
	}
	if ind.ADX4h, err = adxOf(c4h); err != nil {
		return ind, err
	}
	return ind, nil
}

func adxOf(candles []models.Candle) (float64, error) {
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	return indicators.ADX(highs, lows, closes, adxPeriod)
}

func relDeviation(price, ema float64) float64 {
	if ema == 0 {
		return math.Inf(1)
	}
	return math.Abs(price-ema) / ema
}

// candleConfirms checks the last closed bar supports the direction: a
// body in the direction, or a rejection shadow at least the configured
// fraction of the open.
func candleConfirms(c models.Candle, direction models.Direction, shadowThreshold float64) bool {
	if direction == models.DirectionLong {
		if c.Close > c.Open {
			return true
		}
		lowerShadow := math.Min(c.Open, c.Close) - c.Low
		return c.Open > 0 && lowerShadow >= shadowThreshold*c.Open
	}
	if c.Close < c.Open {
		return true
	}
	upperShadow := c.High - math.Max(c.Open, c.Close)
	return c.Open > 0 && upperShadow >= shadowThreshold*c.Open
}
