package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/perp_sentinel/internal/exchange"
	"github.com/eddiefleurent/perp_sentinel/internal/indicators"
	"github.com/eddiefleurent/perp_sentinel/internal/models"
	"github.com/eddiefleurent/perp_sentinel/internal/util"
)

const (
	pnlLogInterval  = 30 * time.Second
	pnlLogDeltaPct  = 0.5
	refreshInterval = 5 * time.Minute
	refreshMovePct  = 1.0
)

// monitorPosition runs one management pass over the open position:
// venue reconciliation, live PnL, exit triggers, and the trailing stop.
func (e *Engine) monitorPosition(ctx context.Context, now time.Time) {
	st := e.store.State()
	pos := st.CurrentPosition
	if pos == nil {
		return
	}

	if closed := e.reconcile(ctx, pos, now); closed {
		return
	}

	price, err := e.markPrice(ctx, pos.Symbol)
	if err != nil {
		e.log.Warn("MONITOR", "price unavailable, skipping pass", map[string]any{
			"symbol": pos.Symbol, "error": err.Error(),
		})
		return
	}

	pnl := pos.UnrealizedPnL(price)
	pnlPct := pos.UnrealizedPnLPct(price)
	if err := e.store.MutateState(func(s *models.BotState) error {
		s.CurrentPrice = price
		s.CurrentPnL = pnl
		s.CurrentPnLPct = pnlPct
		return nil
	}); err != nil {
		e.log.Error("MONITOR", "failed to update live state", map[string]any{"error": err.Error()})
	}
	e.maybeLogPnL(now, pos, price, pnl, pnlPct)

	e.maybeRefreshIndicators(ctx, pos, price, now)
	ind := e.liveIndicators

	if reason, hit := e.exitTriggered(pos, price, ind, now); hit {
		e.closePosition(ctx, reason)
		return
	}

	e.maybeTrailStop(ctx, pos, price, ind, now)
}

// reconcile compares the stored position with the venue's report. A
// position the venue no longer shows was closed out-of-band, almost
// always by the resting stop order; record it without sending orders.
func (e *Engine) reconcile(ctx context.Context, pos *models.Position, now time.Time) bool {
	positions, err := e.exch.FetchPositions(ctx, pos.Symbol)
	if err != nil {
		e.log.Warn("MONITOR", "position report unavailable", map[string]any{
			"symbol": pos.Symbol, "error": err.Error(),
		})
		return false
	}
	for _, p := range positions {
		if !p.Flat() {
			return false
		}
	}

	exitPrice, reason := e.resolveOutOfBandExit(ctx, pos)
	e.log.Warn("MONITOR", "position closed on venue, recording compensated close", map[string]any{
		"symbol": pos.Symbol, "reason": string(reason), "exit": exitPrice.String(),
	})
	e.recordClose(ctx, pos, exitPrice, reason, now)
	return true
}

// resolveOutOfBandExit finds the best exit price for a venue-side
// close. A filled stop order supplies its own fill price; otherwise the
// resting stop is canceled so it cannot fire against a position that no
// longer exists, and the current mark stands in as the exit.
func (e *Engine) resolveOutOfBandExit(ctx context.Context, pos *models.Position) (decimal.Decimal, models.CloseReason) {
	if pos.StopLossOrderID != "" {
		order, err := e.exch.FetchOrder(ctx, pos.Symbol, pos.StopLossOrderID)
		if err == nil && order.Status == exchange.StatusFilled {
			exit := order.AvgPrice
			if exit.Sign() <= 0 {
				exit = order.StopPrice
			}
			if exit.Sign() <= 0 {
				exit = pos.StopLoss
			}
			return exit, models.CloseReasonStopObserved
		}
		if cerr := e.exch.CancelOrder(ctx, pos.Symbol, pos.StopLossOrderID); cerr != nil && !exchange.IsUnknownOrder(cerr) {
			e.log.Warn("MONITOR", "failed to cancel orphaned stop", map[string]any{
				"symbol": pos.Symbol, "order_id": pos.StopLossOrderID, "error": cerr.Error(),
			})
		}
	}
	if p, err := e.markPrice(ctx, pos.Symbol); err == nil {
		return p, models.CloseReasonCompensatedUnknown
	}
	if pos.StopLoss.Sign() > 0 {
		return pos.StopLoss, models.CloseReasonCompensatedUnknown
	}
	return pos.EntryPrice, models.CloseReasonCompensatedUnknown
}

// maybeLogPnL throttles the running PnL line to once per interval or a
// meaningful percentage move.
func (e *Engine) maybeLogPnL(now time.Time, pos *models.Position, price, pnl, pnlPct decimal.Decimal) {
	delta := pnlPct.Sub(e.lastLoggedPct).Abs()
	if !e.lastPnLLog.IsZero() &&
		now.Sub(e.lastPnLLog) < pnlLogInterval &&
		delta.LessThan(decimal.NewFromFloat(pnlLogDeltaPct)) {
		return
	}
	e.lastPnLLog = now
	e.lastLoggedPct = pnlPct
	e.log.Info("MONITOR", "position update", map[string]any{
		"symbol":  pos.Symbol,
		"side":    string(pos.Direction),
		"price":   price.String(),
		"pnl":     pnl.StringFixed(4),
		"pnl_pct": pnlPct.StringFixed(2),
	})
}

// maybeRefreshIndicators refetches the entry timeframe when the data is
// stale or the price has moved enough to change the picture.
func (e *Engine) maybeRefreshIndicators(ctx context.Context, pos *models.Position, price decimal.Decimal, now time.Time) {
	moved := false
	if e.lastRefreshPx.Sign() > 0 {
		movePct := price.Sub(e.lastRefreshPx).Abs().Div(e.lastRefreshPx).Mul(decimal.NewFromInt(100))
		moved = movePct.GreaterThanOrEqual(decimal.NewFromFloat(refreshMovePct))
	}
	if now.Sub(e.lastRefresh) < refreshInterval && !moved {
		return
	}

	candles, err := e.exch.FetchOHLCV(ctx, pos.Symbol, "15m", candleDepth)
	if err != nil {
		e.log.Warn("MONITOR", "indicator refresh failed", map[string]any{
			"symbol": pos.Symbol, "error": err.Error(),
		})
		return
	}
	closed := models.ClosedOnly(candles)
	closes := models.Closes(closed)
	highs := make([]float64, len(closed))
	lows := make([]float64, len(closed))
	for i, c := range closed {
		highs[i] = c.High
		lows[i] = c.Low
	}

	ind := e.liveIndicators
	if v, err := indicators.RSI(closes, 14); err == nil {
		ind.RSI = v
	}
	if v, err := indicators.ATR(highs, lows, closes, 14); err == nil {
		ind.ATR = v
	}
	if v, err := indicators.ADX(highs, lows, closes, 14); err == nil {
		ind.ADX15m = v
	}
	e.prevADX15 = e.liveIndicators.ADX15m
	e.liveIndicators = ind
	e.lastRefresh = now
	e.lastRefreshPx = price
}

// exitTriggered checks the exit conditions in priority order: extended
// take-profit, first take-profit, then the time-based exit.
func (e *Engine) exitTriggered(pos *models.Position, price decimal.Decimal, ind models.IndicatorSet, now time.Time) (models.CloseReason, bool) {
	cfg := e.store.Config()
	tp := cfg.Risk.TakeProfit

	crossed := func(target decimal.Decimal) bool {
		if pos.Direction == models.DirectionLong {
			return price.GreaterThanOrEqual(target)
		}
		return price.LessThanOrEqual(target)
	}

	inProfit := pos.UnrealizedPnL(price).Sign() > 0

	// TP2 fires on any of: the extended target, RSI exhaustion while in
	// profit, or the trend fading while in profit.
	if crossed(pos.TakeProfit2) {
		return models.CloseReasonTP2, true
	}
	if inProfit {
		rsiExtreme := (pos.Direction == models.DirectionLong && ind.RSI >= tp.RSIExtreme.Long) ||
			(pos.Direction == models.DirectionShort && ind.RSI > 0 && ind.RSI <= tp.RSIExtreme.Short)
		if rsiExtreme {
			return models.CloseReasonTP2, true
		}
		if e.entryADX15 > 0 && ind.ADX15m > 0 && e.entryADX15-ind.ADX15m >= tp.ADXDecreaseThreshold {
			return models.CloseReasonTP2, true
		}
	}

	if crossed(pos.TakeProfit1) {
		// TODO: close half here and let the rest run once partial
		// reduce-only sizing is wired through the step filter.
		return models.CloseReasonTP1, true
	}

	// Past the holding limit the position only survives while the trend
	// still reads at least as strong as the previous observation.
	holding := pos.HoldingTime(now)
	timeout := time.Duration(cfg.PositionTimeoutHours * float64(time.Hour))
	if holding >= timeout && ind.ADX15m < e.prevADX15 {
		return models.CloseReasonTimeout, true
	}
	return "", false
}

// maybeTrailStop advances the protective stop behind a profitable
// position. The stop only ever tightens.
func (e *Engine) maybeTrailStop(ctx context.Context, pos *models.Position, price decimal.Decimal, ind models.IndicatorSet, now time.Time) {
	cfg := e.store.Config()
	ts := cfg.TrailingStop
	if !ts.Enabled || ind.ATR <= 0 {
		return
	}
	if !e.lastTrailMove.IsZero() && now.Sub(e.lastTrailMove) < time.Duration(ts.UpdateIntervalSeconds)*time.Second {
		return
	}

	initialRisk := pos.InitialRisk()
	if initialRisk.Sign() <= 0 {
		return
	}
	profit := pos.UnrealizedPnL(price)
	activation := initialRisk.Mul(decimal.NewFromFloat(ts.ActivationRatio))
	if profit.LessThan(activation) {
		return
	}

	meta, err := e.exch.Market(pos.Symbol)
	if err != nil {
		return
	}
	trailDist := decimal.NewFromFloat(ind.ATR * ts.TrailingDistanceATRMult)
	var candidate decimal.Decimal
	if pos.Direction == models.DirectionLong {
		candidate = util.FloorToStep(price.Sub(trailDist), meta.TickSize)
	} else {
		candidate = util.CeilToStep(price.Add(trailDist), meta.TickSize)
	}
	if !pos.StopImproves(candidate) {
		return
	}

	if pos.StopLossOrderID != "" {
		if err := e.exch.CancelOrder(ctx, pos.Symbol, pos.StopLossOrderID); err != nil && !exchange.IsUnknownOrder(err) {
			e.log.Warn("MONITOR", "failed to cancel stop for trailing update", map[string]any{
				"symbol": pos.Symbol, "error": err.Error(),
			})
			return
		}
	}
	stopOrder, err := e.placeStopOrder(ctx, pos.Symbol, pos.Direction, pos.Quantity, candidate)
	if err != nil {
		e.log.Error("MONITOR", "failed to place trailing stop, position unprotected until next pass", map[string]any{
			"symbol": pos.Symbol, "error": err.Error(),
		})
		return
	}

	e.lastTrailMove = now
	if err := e.store.MutateState(func(s *models.BotState) error {
		p := s.CurrentPosition
		if p == nil {
			return nil
		}
		p.StopLoss = candidate
		p.StopLossOrderID = stopOrder.OrderID
		p.LastStopLossUpdate = now
		p.StopOrder = &models.StopOrderSnapshot{
			Side:      string(stopOrder.Side),
			Type:      stopOrder.Type,
			Quantity:  stopOrder.Quantity,
			StopPrice: stopOrder.StopPrice,
			Status:    stopOrder.Status,
			Timestamp: now,
		}
		return nil
	}); err != nil {
		e.log.Error("MONITOR", "failed to persist trailing stop", map[string]any{"error": err.Error()})
		return
	}
	e.log.Info("MONITOR", "trailing stop advanced", map[string]any{
		"symbol": pos.Symbol, "stop": candidate.String(),
	})
}
