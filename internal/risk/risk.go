// Package risk implements the trading risk predicates. Everything here
// is a pure function of its inputs; the engine owns the state mutations
// the predicates trigger.
package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/perp_sentinel/internal/config"
)

// BreakerVerdict is the result of a circuit breaker evaluation.
type BreakerVerdict struct {
	Tripped bool
	Reason  string
}

// CheckCircuitBreaker trips on a daily loss exceeding the configured
// percentage of equity, or on too many consecutive losses.
func CheckCircuitBreaker(dailyPnL decimal.Decimal, consecutiveLosses int, equity decimal.Decimal, cfg config.CircuitBreakerConfig) BreakerVerdict {
	if dailyPnL.Sign() < 0 && equity.Sign() > 0 {
		lossPct := dailyPnL.Abs().Div(equity).Mul(decimal.NewFromInt(100))
		if lossPct.GreaterThanOrEqual(decimal.NewFromFloat(cfg.DailyLossThreshold)) {
			return BreakerVerdict{
				Tripped: true,
				Reason: fmt.Sprintf("daily loss %s USDT (%s%% of equity) reached the %.1f%% limit",
					dailyPnL.Abs().StringFixed(2), lossPct.StringFixed(2), cfg.DailyLossThreshold),
			}
		}
	}
	if consecutiveLosses >= cfg.ConsecutiveLossesThreshold {
		return BreakerVerdict{
			Tripped: true,
			Reason:  fmt.Sprintf("%d consecutive losing trades reached the limit of %d", consecutiveLosses, cfg.ConsecutiveLossesThreshold),
		}
	}
	return BreakerVerdict{}
}

// ShouldForceLiquidate reports whether now falls in the forced-close
// window: from the configured minute to the end of that hour, local time.
func ShouldForceLiquidate(now time.Time, at config.ClockTime) bool {
	return now.Hour() == at.Hour && now.Minute() >= at.Minute
}

// ShouldResetDailyState reports whether the local calendar day has
// rolled over since the recorded reset date.
func ShouldResetDailyState(lastResetDate string, now time.Time) bool {
	return now.Format("2006-01-02") != lastResetDate
}

// WithinDailyTradeLimit reports whether another trade is allowed today.
func WithinDailyTradeLimit(todayTrades, limit int) bool {
	return todayTrades < limit
}

// CooldownElapsed reports whether the minimum gap since the last trade
// has passed. A zero lastTradeTime means no prior trade.
func CooldownElapsed(lastTradeTime time.Time, cooldown time.Duration, now time.Time) bool {
	if lastTradeTime.IsZero() {
		return true
	}
	return now.Sub(lastTradeTime) >= cooldown
}
