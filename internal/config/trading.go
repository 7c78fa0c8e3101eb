package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eddiefleurent/perp_sentinel/internal/models"
)

// Trading is the operator-patchable configuration. It is persisted as
// JSON by the store and deep-merged on PATCH: absent fields keep their
// current values.
type Trading struct {
	Symbols []string `json:"symbols"`

	Leverage        int             `json:"leverage"` // static fallback
	DynamicLeverage DynamicLeverage `json:"dynamicLeverage"`

	MaxRiskPercentage     float64 `json:"maxRiskPercentage"` // per trade, % of equity
	StopLossATRMultiplier float64 `json:"stopLossATRMultiplier"`
	MaxStopLossPercentage float64 `json:"maxStopLossPercentage"`
	PositionTimeoutHours  float64 `json:"positionTimeoutHours"`
	MinEquity             float64 `json:"minEquity"` // absolute safety floor in quote units

	ScanInterval          int `json:"scanInterval"`          // seconds
	PositionScanInterval  int `json:"positionScanInterval"`  // seconds
	TradeCooldownInterval int `json:"tradeCooldownInterval"` // seconds

	Risk         RiskConfig         `json:"riskConfig"`
	AI           AIConfig           `json:"aiConfig"`
	TrailingStop TrailingStopConfig `json:"trailingStop"`
	Indicators   IndicatorsConfig   `json:"indicatorsConfig"`
}

// DynamicLeverage scales leverage by advisory confidence and risk grade.
type DynamicLeverage struct {
	Enabled        bool            `json:"enabled"`
	Min            int             `json:"min"`
	Max            int             `json:"max"`
	Base           int             `json:"base"`
	RiskMultiplier RiskMultipliers `json:"riskMultiplier"`
}

// RiskMultipliers maps advisory risk grades to leverage multipliers.
type RiskMultipliers struct {
	Low    float64 `json:"LOW"`
	Medium float64 `json:"MEDIUM"`
	High   float64 `json:"HIGH"`
}

// For returns the multiplier for a risk grade; unknown grades use the
// most conservative multiplier.
func (r RiskMultipliers) For(level models.RiskLevel) float64 {
	switch level {
	case models.RiskLow:
		return r.Low
	case models.RiskMedium:
		return r.Medium
	default:
		return r.High
	}
}

// RiskConfig groups the risk controller's parameters.
type RiskConfig struct {
	CircuitBreaker     CircuitBreakerConfig `json:"circuitBreaker"`
	ForceLiquidateTime ClockTime            `json:"forceLiquidateTime"`
	TakeProfit         TakeProfitConfig     `json:"takeProfit"`
	DailyTradeLimit    int                  `json:"dailyTradeLimit"`
}

// CircuitBreakerConfig holds the trading breaker thresholds.
type CircuitBreakerConfig struct {
	DailyLossThreshold         float64 `json:"dailyLossThreshold"` // % of equity
	ConsecutiveLossesThreshold int     `json:"consecutiveLossesThreshold"`
}

// ClockTime is a wall-clock minute in the configured timezone.
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// TakeProfitConfig holds take-profit trigger parameters.
type TakeProfitConfig struct {
	TP1RR                float64    `json:"tp1RR"`
	TP2RR                float64    `json:"tp2RR"`
	RSIExtreme           RSIExtreme `json:"rsiExtreme"`
	ADXDecreaseThreshold float64    `json:"adxDecreaseThreshold"`
}

// RSIExtreme holds the side-specific RSI exhaustion levels.
type RSIExtreme struct {
	Long  float64 `json:"long"`
	Short float64 `json:"short"`
}

// AIConfig gates the advisory's influence on entries and exits.
type AIConfig struct {
	Enabled              bool             `json:"enabled"`
	MinConfidence        float64          `json:"minConfidence"`
	MaxRiskLevel         models.RiskLevel `json:"maxRiskLevel"`
	UseForEntry          bool             `json:"useForEntry"`
	UseForExit           bool             `json:"useForExit"`
	AdjustByIndicators   bool             `json:"adjustByIndicators"`
	CacheDurationMinutes int              `json:"cacheDurationMinutes"`
}

// TrailingStopConfig holds trailing stop parameters.
type TrailingStopConfig struct {
	Enabled                 bool    `json:"enabled"`
	ActivationRatio         float64 `json:"activationRatio"` // profit in R before trailing starts
	TrailingDistanceATRMult float64 `json:"trailingDistanceATRMult"`
	UpdateIntervalSeconds   int     `json:"updateIntervalSeconds"`
}

// IndicatorsConfig holds the evaluator's thresholds.
type IndicatorsConfig struct {
	ADXThresholds ADXThresholds `json:"adxThresholds"`
	Entry         EntryGates    `json:"entry"`
}

// ADXThresholds is the per-timeframe trend strength gate.
type ADXThresholds struct {
	M15 float64 `json:"15m"`
	H1  float64 `json:"1h"`
	H4  float64 `json:"4h"`
}

// EntryGates holds the direction-agnostic entry filter thresholds.
type EntryGates struct {
	EMADeviationThreshold float64            `json:"emaDeviationThreshold"` // relative error vs EMA20/EMA30
	RSIMin                float64            `json:"rsiMin"`
	RSIMax                float64            `json:"rsiMax"`
	CandleShadowThreshold float64            `json:"candleShadowThreshold"` // shadow / open fraction
	VolumeConfirmation    VolumeConfirmation `json:"volumeConfirmation"`
}

// VolumeConfirmation is the opt-in volume filter.
type VolumeConfirmation struct {
	Enabled    bool    `json:"enabled"`
	EMAPeriod  int     `json:"emaPeriod"`
	Multiplier float64 `json:"multiplier"`
}

// DefaultTrading returns the configuration written at first boot.
func DefaultTrading() *Trading {
	return &Trading{
		Symbols:  []string{"BTC/USDT"},
		Leverage: 5,
		DynamicLeverage: DynamicLeverage{
			Enabled: true,
			Min:     2,
			Max:     10,
			Base:    5,
			RiskMultiplier: RiskMultipliers{
				Low:    1.2,
				Medium: 1.0,
				High:   0.7,
			},
		},
		MaxRiskPercentage:     1.0,
		StopLossATRMultiplier: 1.5,
		MaxStopLossPercentage: 2.0,
		PositionTimeoutHours:  8,
		MinEquity:             120,
		ScanInterval:          300,
		PositionScanInterval:  60,
		TradeCooldownInterval: 900,
		Risk: RiskConfig{
			CircuitBreaker: CircuitBreakerConfig{
				DailyLossThreshold:         5.0,
				ConsecutiveLossesThreshold: 3,
			},
			ForceLiquidateTime: ClockTime{Hour: 23, Minute: 30},
			TakeProfit: TakeProfitConfig{
				TP1RR:                1.0,
				TP2RR:                2.0,
				RSIExtreme:           RSIExtreme{Long: 78, Short: 22},
				ADXDecreaseThreshold: 8,
			},
			DailyTradeLimit: 5,
		},
		AI: AIConfig{
			Enabled:              false,
			MinConfidence:        60,
			MaxRiskLevel:         models.RiskMedium,
			UseForEntry:          true,
			UseForExit:           false,
			AdjustByIndicators:   false,
			CacheDurationMinutes: 10,
		},
		TrailingStop: TrailingStopConfig{
			Enabled:                 true,
			ActivationRatio:         1.0,
			TrailingDistanceATRMult: 1.0,
			UpdateIntervalSeconds:   60,
		},
		Indicators: IndicatorsConfig{
			ADXThresholds: ADXThresholds{M15: 20, H1: 22, H4: 22},
			Entry: EntryGates{
				EMADeviationThreshold: 0.005,
				RSIMin:                40,
				RSIMax:                65,
				CandleShadowThreshold: 0.001,
				VolumeConfirmation: VolumeConfirmation{
					Enabled:    false,
					EMAPeriod:  20,
					Multiplier: 1.2,
				},
			},
		},
	}
}

// Validate checks the trading configuration is internally consistent.
func (t *Trading) Validate() error {
	if len(t.Symbols) == 0 {
		return fmt.Errorf("symbols must not be empty")
	}
	for _, s := range t.Symbols {
		if s == "" {
			return fmt.Errorf("symbols must not contain empty entries")
		}
	}
	if t.Leverage < 1 {
		return fmt.Errorf("leverage must be >= 1")
	}
	if t.DynamicLeverage.Enabled {
		dl := t.DynamicLeverage
		if dl.Min < 1 || dl.Max < dl.Min || dl.Base < dl.Min || dl.Base > dl.Max {
			return fmt.Errorf("dynamicLeverage requires 1 <= min <= base <= max")
		}
		if dl.RiskMultiplier.Low <= 0 || dl.RiskMultiplier.Medium <= 0 || dl.RiskMultiplier.High <= 0 {
			return fmt.Errorf("dynamicLeverage.riskMultiplier values must be > 0")
		}
	}
	if t.MaxRiskPercentage <= 0 || t.MaxRiskPercentage > 10 {
		return fmt.Errorf("maxRiskPercentage must be in (0,10]")
	}
	if t.StopLossATRMultiplier <= 0 {
		return fmt.Errorf("stopLossATRMultiplier must be > 0")
	}
	if t.MaxStopLossPercentage <= 0 || t.MaxStopLossPercentage > 50 {
		return fmt.Errorf("maxStopLossPercentage must be in (0,50]")
	}
	if t.PositionTimeoutHours <= 0 {
		return fmt.Errorf("positionTimeoutHours must be > 0")
	}
	if t.MinEquity < 0 {
		return fmt.Errorf("minEquity must be >= 0")
	}
	if t.ScanInterval < 5 || t.PositionScanInterval < 5 {
		return fmt.Errorf("scan intervals must be >= 5 seconds")
	}
	if t.TradeCooldownInterval < 0 {
		return fmt.Errorf("tradeCooldownInterval must be >= 0")
	}

	r := t.Risk
	if r.CircuitBreaker.DailyLossThreshold <= 0 {
		return fmt.Errorf("riskConfig.circuitBreaker.dailyLossThreshold must be > 0")
	}
	if r.CircuitBreaker.ConsecutiveLossesThreshold < 1 {
		return fmt.Errorf("riskConfig.circuitBreaker.consecutiveLossesThreshold must be >= 1")
	}
	if r.ForceLiquidateTime.Hour < 0 || r.ForceLiquidateTime.Hour > 23 ||
		r.ForceLiquidateTime.Minute < 0 || r.ForceLiquidateTime.Minute > 59 {
		return fmt.Errorf("riskConfig.forceLiquidateTime must be a valid wall-clock time")
	}
	if r.TakeProfit.TP1RR <= 0 || r.TakeProfit.TP2RR <= r.TakeProfit.TP1RR {
		return fmt.Errorf("riskConfig.takeProfit requires 0 < tp1RR < tp2RR")
	}
	if r.TakeProfit.RSIExtreme.Long <= 50 || r.TakeProfit.RSIExtreme.Long > 100 {
		return fmt.Errorf("riskConfig.takeProfit.rsiExtreme.long must be in (50,100]")
	}
	if r.TakeProfit.RSIExtreme.Short < 0 || r.TakeProfit.RSIExtreme.Short >= 50 {
		return fmt.Errorf("riskConfig.takeProfit.rsiExtreme.short must be in [0,50)")
	}
	if r.DailyTradeLimit < 1 {
		return fmt.Errorf("riskConfig.dailyTradeLimit must be >= 1")
	}

	if t.AI.Enabled {
		if t.AI.MinConfidence < 0 || t.AI.MinConfidence > 100 {
			return fmt.Errorf("aiConfig.minConfidence must be in [0,100]")
		}
		switch t.AI.MaxRiskLevel {
		case models.RiskLow, models.RiskMedium, models.RiskHigh:
		default:
			return fmt.Errorf("aiConfig.maxRiskLevel must be LOW, MEDIUM, or HIGH")
		}
	}

	if t.TrailingStop.Enabled {
		if t.TrailingStop.ActivationRatio <= 0 {
			return fmt.Errorf("trailingStop.activationRatio must be > 0")
		}
		if t.TrailingStop.TrailingDistanceATRMult <= 0 {
			return fmt.Errorf("trailingStop.trailingDistanceATRMult must be > 0")
		}
		if t.TrailingStop.UpdateIntervalSeconds < 1 {
			return fmt.Errorf("trailingStop.updateIntervalSeconds must be >= 1")
		}
	}

	g := t.Indicators.Entry
	if g.EMADeviationThreshold <= 0 {
		return fmt.Errorf("indicatorsConfig.entry.emaDeviationThreshold must be > 0")
	}
	if g.RSIMin < 0 || g.RSIMax > 100 || g.RSIMin >= g.RSIMax {
		return fmt.Errorf("indicatorsConfig.entry requires 0 <= rsiMin < rsiMax <= 100")
	}
	if g.CandleShadowThreshold < 0 {
		return fmt.Errorf("indicatorsConfig.entry.candleShadowThreshold must be >= 0")
	}
	if g.VolumeConfirmation.Enabled {
		if g.VolumeConfirmation.EMAPeriod < 2 {
			return fmt.Errorf("indicatorsConfig.entry.volumeConfirmation.emaPeriod must be >= 2")
		}
		if g.VolumeConfirmation.Multiplier <= 0 {
			return fmt.Errorf("indicatorsConfig.entry.volumeConfirmation.multiplier must be > 0")
		}
	}
	return nil
}

// Clone returns a deep copy.
func (t *Trading) Clone() *Trading {
	b, err := json.Marshal(t)
	if err != nil {
		// Trading has no unmarshalable fields; treat as programmer error.
		panic(fmt.Sprintf("config clone: %v", err))
	}
	var c Trading
	if err := json.Unmarshal(b, &c); err != nil {
		panic(fmt.Sprintf("config clone: %v", err))
	}
	return &c
}

// ApplyPatch deep-merges a partial JSON document over t and validates
// the result. t is never mutated; on success the merged copy is
// returned. Unknown fields are rejected.
func (t *Trading) ApplyPatch(patch []byte) (*Trading, error) {
	merged := t.Clone()
	dec := json.NewDecoder(bytes.NewReader(patch))
	dec.DisallowUnknownFields()
	if err := dec.Decode(merged); err != nil {
		return nil, fmt.Errorf("invalid patch: %w", err)
	}
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("patched config invalid: %w", err)
	}
	return merged, nil
}

// ScanTick returns the scheduler delay to use given whether a position
// is currently open.
func (t *Trading) ScanTick(holding bool) time.Duration {
	if holding {
		return time.Duration(t.PositionScanInterval) * time.Second
	}
	return time.Duration(t.ScanInterval) * time.Second
}

// Cooldown returns the minimum gap between trades.
func (t *Trading) Cooldown() time.Duration {
	return time.Duration(t.TradeCooldownInterval) * time.Second
}
