package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLong() *Position {
	return &Position{
		Symbol:          "BTC/USDT",
		Direction:       DirectionLong,
		EntryPrice:      decimal.NewFromInt(50000),
		Quantity:        decimal.NewFromFloat(0.02),
		Leverage:        10,
		StopLoss:        decimal.NewFromInt(49000),
		InitialStopLoss: decimal.NewFromInt(49000),
		TakeProfit1:     decimal.NewFromInt(51500),
		TakeProfit2:     decimal.NewFromInt(53000),
		OpenTime:        time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
		OrderID:         "1001",
	}
}

func newShort() *Position {
	p := newLong()
	p.Direction = DirectionShort
	p.StopLoss = decimal.NewFromInt(51000)
	p.InitialStopLoss = decimal.NewFromInt(51000)
	p.TakeProfit1 = decimal.NewFromInt(48500)
	p.TakeProfit2 = decimal.NewFromInt(47000)
	return p
}

func TestDirection(t *testing.T) {
	assert.True(t, DirectionLong.Valid())
	assert.True(t, DirectionShort.Valid())
	assert.False(t, Direction("BUY").Valid())

	assert.Equal(t, DirectionShort, DirectionLong.Opposite())
	assert.Equal(t, DirectionLong, DirectionShort.Opposite())

	assert.True(t, DirectionLong.Sign().Equal(decimal.NewFromInt(1)))
	assert.True(t, DirectionShort.Sign().Equal(decimal.NewFromInt(-1)))
}

func TestPositionValidate(t *testing.T) {
	require.NoError(t, newLong().Validate())
	require.NoError(t, newShort().Validate())

	t.Run("long initial stop above entry rejected", func(t *testing.T) {
		p := newLong()
		p.InitialStopLoss = decimal.NewFromInt(50500)
		p.StopLoss = decimal.NewFromInt(50500)
		assert.Error(t, p.Validate())
	})

	t.Run("short initial stop below entry rejected", func(t *testing.T) {
		p := newShort()
		p.InitialStopLoss = decimal.NewFromInt(49500)
		p.StopLoss = decimal.NewFromInt(49500)
		assert.Error(t, p.Validate())
	})

	t.Run("trailed long stop past breakeven accepted", func(t *testing.T) {
		p := newLong()
		p.StopLoss = decimal.NewFromInt(50500) // above the 50000 entry
		assert.NoError(t, p.Validate())
	})

	t.Run("trailed short stop past breakeven accepted", func(t *testing.T) {
		p := newShort()
		p.StopLoss = decimal.NewFromInt(49500) // below the 50000 entry
		assert.NoError(t, p.Validate())
	})

	t.Run("long stop loosened below initial rejected", func(t *testing.T) {
		p := newLong()
		p.StopLoss = decimal.NewFromInt(48000)
		assert.Error(t, p.Validate())
	})

	t.Run("short stop loosened above initial rejected", func(t *testing.T) {
		p := newShort()
		p.StopLoss = decimal.NewFromInt(52000)
		assert.Error(t, p.Validate())
	})

	t.Run("zero quantity rejected", func(t *testing.T) {
		p := newLong()
		p.Quantity = decimal.Zero
		assert.Error(t, p.Validate())
	})

	t.Run("leverage below one rejected", func(t *testing.T) {
		p := newLong()
		p.Leverage = 0
		assert.Error(t, p.Validate())
	})
}

func TestUnrealizedPnL(t *testing.T) {
	long := newLong()
	// (51000 - 50000) * 0.02 = 20
	pnl := long.UnrealizedPnL(decimal.NewFromInt(51000))
	assert.True(t, pnl.Equal(decimal.NewFromInt(20)), "got %s", pnl)

	// loss side
	pnl = long.UnrealizedPnL(decimal.NewFromInt(49500))
	assert.True(t, pnl.Equal(decimal.NewFromInt(-10)), "got %s", pnl)

	short := newShort()
	// (49000 - 50000) * 0.02 * -1 = 20
	pnl = short.UnrealizedPnL(decimal.NewFromInt(49000))
	assert.True(t, pnl.Equal(decimal.NewFromInt(20)), "got %s", pnl)
}

func TestUnrealizedPnLPct(t *testing.T) {
	long := newLong()
	// pnl 20, notional 1000, 2% * 10x leverage = 20%
	pct := long.UnrealizedPnLPct(decimal.NewFromInt(51000))
	assert.True(t, pct.Equal(decimal.NewFromInt(20)), "got %s", pct)
}

func TestInitialRisk(t *testing.T) {
	long := newLong()
	// |50000-49000| * 0.02 = 20
	assert.True(t, long.InitialRisk().Equal(decimal.NewFromInt(20)))

	short := newShort()
	assert.True(t, short.InitialRisk().Equal(decimal.NewFromInt(20)))
}

func TestStopImproves(t *testing.T) {
	long := newLong()
	assert.True(t, long.StopImproves(decimal.NewFromInt(49500)), "higher stop improves a long")
	assert.False(t, long.StopImproves(decimal.NewFromInt(49000)), "equal stop is not an improvement")
	assert.False(t, long.StopImproves(decimal.NewFromInt(48000)), "lower stop never improves a long")

	short := newShort()
	assert.True(t, short.StopImproves(decimal.NewFromInt(50500)), "lower stop improves a short")
	assert.False(t, short.StopImproves(decimal.NewFromInt(51000)))
	assert.False(t, short.StopImproves(decimal.NewFromInt(52000)))
}

func TestHoldingTime(t *testing.T) {
	p := newLong()
	now := p.OpenTime.Add(3 * time.Hour)
	assert.Equal(t, 3*time.Hour, p.HoldingTime(now))
}

func TestNewTradeRecord(t *testing.T) {
	p := newLong()
	closeTime := p.OpenTime.Add(2 * time.Hour)
	rec := NewTradeRecord("t-1", p, decimal.NewFromInt(51500), closeTime, CloseReasonTP1)

	require.NoError(t, rec.Validate())
	assert.Equal(t, "BTC/USDT", rec.Symbol)
	assert.Equal(t, DirectionLong, rec.Direction)
	// (51500-50000)*0.02 = 30
	assert.True(t, rec.PnL.Equal(decimal.NewFromInt(30)), "got %s", rec.PnL)
	// 30/1000 * 100 * 10 = 30%
	assert.True(t, rec.PnLPercentage.Equal(decimal.NewFromInt(30)), "got %s", rec.PnLPercentage)
	assert.Equal(t, CloseReasonTP1, rec.Reason)
}

func TestTradeRecordValidate(t *testing.T) {
	p := newLong()
	closeTime := p.OpenTime.Add(time.Hour)

	rec := NewTradeRecord("", p, decimal.NewFromInt(51000), closeTime, CloseReasonTP1)
	assert.Error(t, rec.Validate(), "missing id")

	rec = NewTradeRecord("t-2", p, decimal.NewFromInt(51000), closeTime, CloseReason("manual"))
	assert.Error(t, rec.Validate(), "unknown close reason")

	rec = NewTradeRecord("t-3", p, decimal.NewFromInt(51000), p.OpenTime.Add(-time.Minute), CloseReasonTP1)
	assert.Error(t, rec.Validate(), "close before open")
}

func TestRiskLevelAtMost(t *testing.T) {
	assert.True(t, RiskLow.AtMost(RiskMedium))
	assert.True(t, RiskMedium.AtMost(RiskMedium))
	assert.False(t, RiskHigh.AtMost(RiskMedium))
	assert.False(t, RiskLevel("EXTREME").AtMost(RiskHigh), "unknown grades never pass a ceiling")
}

func TestSentinelAdvisory(t *testing.T) {
	a := SentinelAdvisory()
	assert.Equal(t, AdvisoryIdle, a.Direction)
	assert.Zero(t, a.Confidence)
	assert.Equal(t, RiskHigh, a.RiskLevel)
}
