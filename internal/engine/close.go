package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/perp_sentinel/internal/exchange"
	"github.com/eddiefleurent/perp_sentinel/internal/models"
	"github.com/eddiefleurent/perp_sentinel/internal/retry"
	"github.com/eddiefleurent/perp_sentinel/internal/risk"
)

// ClosePosition closes the open position on operator request.
func (e *Engine) ClosePosition(ctx context.Context) error {
	if e.store.State().CurrentPosition == nil {
		return nil
	}
	e.closePosition(ctx, models.CloseReasonOperator)
	return nil
}

// closePosition cancels protective orders, sends the reduce-only exit,
// and records the trade. Cancel failures for already-gone orders are
// expected and tolerated.
func (e *Engine) closePosition(ctx context.Context, reason models.CloseReason) {
	st := e.store.State()
	pos := st.CurrentPosition
	if pos == nil {
		return
	}
	now := e.now().In(e.loc)

	if err := e.store.MutateState(func(s *models.BotState) error {
		s.Status = models.StatusClosing
		return nil
	}); err != nil {
		e.log.Error("ENGINE", "cannot enter closing state", map[string]any{"error": err.Error()})
		return
	}

	if pos.StopLossOrderID != "" {
		if err := e.exch.CancelOrder(ctx, pos.Symbol, pos.StopLossOrderID); err != nil && !exchange.IsUnknownOrder(err) {
			e.log.Warn("ORDER", "stop cancel failed", map[string]any{"symbol": pos.Symbol, "error": err.Error()})
		}
	}
	if err := e.exch.CancelAllOrders(ctx, pos.Symbol); err != nil && !exchange.IsUnknownOrder(err) {
		e.log.Warn("ORDER", "cancel all failed", map[string]any{"symbol": pos.Symbol, "error": err.Error()})
	}

	side := exchange.SideSell
	if pos.Direction == models.DirectionShort {
		side = exchange.SideBuy
	}
	// An exit must survive transient venue trouble; retry before giving
	// the position back to the monitor.
	order, err := retry.Do(ctx, retry.DefaultConfig, e.log, "close order", func(c context.Context) (*exchange.OrderResult, error) {
		return e.exch.MarketOrder(c, pos.Symbol, side, pos.Quantity, true)
	})
	if err != nil {
		e.log.Error("ORDER", "close order failed, will retry next pass", map[string]any{
			"symbol": pos.Symbol, "error": err.Error(),
		})
		// Back to POSITION so the next monitor pass retries the exit.
		_ = e.store.MutateState(func(s *models.BotState) error {
			s.Status = models.StatusPosition
			return nil
		})
		return
	}

	exitPrice := order.AvgPrice
	if exitPrice.Sign() <= 0 {
		if p, perr := e.markPrice(ctx, pos.Symbol); perr == nil {
			exitPrice = p
		} else {
			exitPrice = pos.EntryPrice
		}
	}

	e.recordClose(ctx, pos, exitPrice, reason, now)
}

// recordClose writes the history row and the post-close state in one
// store transaction, then evaluates the circuit breaker.
func (e *Engine) recordClose(ctx context.Context, pos *models.Position, exitPrice decimal.Decimal, reason models.CloseReason, now time.Time) {
	rec := models.NewTradeRecord(uuid.NewString(), pos, exitPrice, now, reason)

	err := e.store.RecordClose(rec, func(s *models.BotState) error {
		s.Status = models.StatusMonitoring
		s.CurrentPosition = nil
		s.DailyPnL = s.DailyPnL.Add(rec.PnL)
		s.LastTradeTime = now
		s.CurrentPrice = decimal.Zero
		s.CurrentPnL = decimal.Zero
		s.CurrentPnLPct = decimal.Zero
		if rec.PnL.Sign() < 0 {
			s.CircuitBreaker.ConsecutiveLosses++
		} else {
			s.CircuitBreaker.ConsecutiveLosses = 0
		}
		s.CircuitBreaker.DailyLoss = s.DailyPnL
		return nil
	})
	if err != nil {
		e.log.Error("ENGINE", "failed to record close", map[string]any{"error": err.Error()})
		return
	}

	e.log.Info("ORDER", "position closed", map[string]any{
		"symbol":  rec.Symbol,
		"reason":  string(rec.Reason),
		"exit":    exitPrice.String(),
		"pnl":     rec.PnL.StringFixed(4),
		"pnl_pct": rec.PnLPercentage.StringFixed(2),
	})

	e.evaluateBreaker(ctx)
}

// evaluateBreaker checks the loss limits after every close and latches
// the engine into HALTED when one is hit. Only an operator start or the
// next daily reset resumes trading.
func (e *Engine) evaluateBreaker(ctx context.Context) {
	st := e.store.State()
	cfg := e.store.Config()

	equity, err := e.exch.FetchAvailableBalance(ctx)
	if err != nil {
		e.log.Warn("RISK", "balance unavailable for breaker check", map[string]any{"error": err.Error()})
		equity = decimal.Zero
	}

	verdict := risk.CheckCircuitBreaker(st.DailyPnL, st.CircuitBreaker.ConsecutiveLosses, equity, cfg.Risk.CircuitBreaker)
	if !verdict.Tripped {
		return
	}

	now := e.now().In(e.loc)
	if err := e.store.MutateState(func(s *models.BotState) error {
		s.Status = models.StatusHalted
		s.IsRunning = false
		s.AllowNewTrades = false
		s.CircuitBreaker.IsTriggered = true
		s.CircuitBreaker.Reason = verdict.Reason
		s.CircuitBreaker.Timestamp = now
		return nil
	}); err != nil {
		e.log.Error("RISK", "failed to latch circuit breaker", map[string]any{"error": err.Error()})
		return
	}
	e.log.Error("RISK", "circuit breaker tripped, trading halted", map[string]any{"reason": verdict.Reason})
}
