package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/eddiefleurent/perp_sentinel/internal/config"
)

var breakerCfg = config.CircuitBreakerConfig{
	DailyLossThreshold:         5.0,
	ConsecutiveLossesThreshold: 3,
}

func TestCheckCircuitBreakerDailyLoss(t *testing.T) {
	equity := decimal.NewFromInt(1000)

	v := CheckCircuitBreaker(decimal.NewFromInt(-50), 0, equity, breakerCfg)
	assert.True(t, v.Tripped, "5% loss on 1000 equity hits the 5% threshold")
	assert.Contains(t, v.Reason, "daily loss")

	v = CheckCircuitBreaker(decimal.NewFromFloat(-49.99), 0, equity, breakerCfg)
	assert.False(t, v.Tripped)

	v = CheckCircuitBreaker(decimal.NewFromInt(80), 0, equity, breakerCfg)
	assert.False(t, v.Tripped, "profit never trips the breaker")
}

func TestCheckCircuitBreakerConsecutiveLosses(t *testing.T) {
	equity := decimal.NewFromInt(1000)

	v := CheckCircuitBreaker(decimal.NewFromInt(-10), 3, equity, breakerCfg)
	assert.True(t, v.Tripped)
	assert.Contains(t, v.Reason, "consecutive")

	v = CheckCircuitBreaker(decimal.NewFromInt(-10), 2, equity, breakerCfg)
	assert.False(t, v.Tripped)
}

func TestCheckCircuitBreakerZeroEquity(t *testing.T) {
	v := CheckCircuitBreaker(decimal.NewFromInt(-100), 0, decimal.Zero, breakerCfg)
	assert.False(t, v.Tripped, "loss ratio is undefined at zero equity")
}

func TestShouldForceLiquidate(t *testing.T) {
	at := config.ClockTime{Hour: 23, Minute: 30}
	day := func(h, m int) time.Time {
		return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC)
	}

	assert.False(t, ShouldForceLiquidate(day(23, 29), at))
	assert.True(t, ShouldForceLiquidate(day(23, 30), at))
	assert.True(t, ShouldForceLiquidate(day(23, 59), at))
	assert.False(t, ShouldForceLiquidate(day(0, 0), at), "window ends at the end of the hour")
	assert.False(t, ShouldForceLiquidate(day(22, 45), at))
}

func TestShouldResetDailyState(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	assert.False(t, ShouldResetDailyState("2026-03-10", now))
	assert.True(t, ShouldResetDailyState("2026-03-09", now))
	assert.True(t, ShouldResetDailyState("", now), "fresh state resets immediately")
}

func TestWithinDailyTradeLimit(t *testing.T) {
	assert.True(t, WithinDailyTradeLimit(0, 5))
	assert.True(t, WithinDailyTradeLimit(4, 5))
	assert.False(t, WithinDailyTradeLimit(5, 5))
}

func TestCooldownElapsed(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cooldown := 15 * time.Minute

	assert.True(t, CooldownElapsed(time.Time{}, cooldown, now))
	assert.False(t, CooldownElapsed(now.Add(-10*time.Minute), cooldown, now))
	assert.True(t, CooldownElapsed(now.Add(-15*time.Minute), cooldown, now))
	assert.True(t, CooldownElapsed(now.Add(-time.Hour), cooldown, now))
}
