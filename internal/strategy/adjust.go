package strategy

import (
	"github.com/eddiefleurent/perp_sentinel/internal/models"
)

// AdjustAdvisory reconciles an advisory with the locally computed
// indicators. Runs only when aiConfig.adjustByIndicators is set, after
// the advisory returns and before the gate. Pure and deterministic.
//
// Adjustments:
//   - both higher timeframes trending hard (ADX >= 30) lends the view
//     extra confidence,
//   - an RSI already at an exhaustion extreme, or unusually wide ranges
//     (ATR above 1.5% of EMA20), bumps the risk grade one step up.
func AdjustAdvisory(adv models.Advisory, ind models.IndicatorSet) models.Advisory {
	out := adv

	if ind.ADX1h >= 30 && ind.ADX4h >= 30 {
		out.Confidence = clamp100(out.Confidence + 5)
		out.Score = clamp100(out.Score + 5)
	}

	riskier := false
	if ind.RSI >= 75 || ind.RSI <= 25 {
		riskier = true
	}
	if ind.EMA20 > 0 && ind.ATR/ind.EMA20 > 0.015 {
		riskier = true
	}
	if riskier {
		out.RiskLevel = bumpRisk(out.RiskLevel)
	}
	return out
}

func bumpRisk(r models.RiskLevel) models.RiskLevel {
	switch r {
	case models.RiskLow:
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
