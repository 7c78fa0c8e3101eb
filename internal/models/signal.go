package models

import "github.com/shopspring/decimal"

// RejectReason is the typed cause an evaluation did not produce a signal.
type RejectReason string

const (
	RejectInsufficientData   RejectReason = "insufficient_data"
	RejectADXGate            RejectReason = "adx_gate"
	RejectNoDirection        RejectReason = "no_direction"
	RejectEMADeviation       RejectReason = "ema_deviation"
	RejectRSIRange           RejectReason = "rsi_range"
	RejectCandleShape        RejectReason = "candle_shape"
	RejectVolume             RejectReason = "volume_confirmation"
	RejectAdvisoryDirection  RejectReason = "advisory_direction"
	RejectAdvisoryConfidence RejectReason = "advisory_confidence"
	RejectAdvisoryRisk       RejectReason = "advisory_risk"
)

// IndicatorSet holds the last-closed-bar indicator values used by a decision.
// Indicator math is float64; these are decision inputs, not money.
type IndicatorSet struct {
	EMA20  float64 `json:"ema20"`
	EMA30  float64 `json:"ema30"`
	EMA60  float64 `json:"ema60"`
	RSI    float64 `json:"rsi"`
	ATR    float64 `json:"atr"`
	ADX15m float64 `json:"adx_15m"`
	ADX1h  float64 `json:"adx_1h"`
	ADX4h  float64 `json:"adx_4h"`
}

// RiskLevel is the advisory's qualitative risk grading.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// rank orders risk levels for "at most X" comparisons; unknown grades
// rank highest so malformed advisories never pass a risk ceiling.
func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return 3
	}
}

// AtMost reports whether r is no riskier than max.
func (r RiskLevel) AtMost(max RiskLevel) bool {
	return r.rank() <= max.rank()
}

// AdvisoryDirection is the advisory's stance; IDLE means no opinion.
type AdvisoryDirection string

const (
	AdvisoryLong  AdvisoryDirection = "LONG"
	AdvisoryShort AdvisoryDirection = "SHORT"
	AdvisoryIdle  AdvisoryDirection = "IDLE"
)

// Advisory is the result of the external language-model analysis.
// A failed or timed-out call is represented by the IDLE/0/HIGH sentinel,
// never by an error reaching the evaluator.
type Advisory struct {
	Direction  AdvisoryDirection `json:"direction"`
	Confidence float64           `json:"confidence"` // 0-100
	Score      float64           `json:"score"`      // 0-100
	RiskLevel  RiskLevel         `json:"risk_level"`
	Reasoning  string            `json:"reasoning,omitempty"`
}

// SentinelAdvisory is the defined no-opinion result used on advisory failure.
func SentinelAdvisory() Advisory {
	return Advisory{Direction: AdvisoryIdle, Confidence: 0, RiskLevel: RiskHigh}
}

// Signal is a fully gated entry decision.
type Signal struct {
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	Price      decimal.Decimal `json:"price"`
	Indicators IndicatorSet    `json:"indicators"`
	Advisory   *Advisory       `json:"advisory,omitempty"`
	Reason     string          `json:"reason"`
}

// Rejection explains why a symbol did not produce a signal this pass.
type Rejection struct {
	Symbol string       `json:"symbol"`
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// Outcome is the tagged union returned by the evaluator: exactly one of
// Signal or Rejection is set.
type Outcome struct {
	Signal    *Signal
	Rejection *Rejection
}

// Accepted reports whether the outcome carries a signal.
func (o Outcome) Accepted() bool { return o.Signal != nil }
