package engine

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/perp_sentinel/internal/advisor"
	"github.com/eddiefleurent/perp_sentinel/internal/config"
	"github.com/eddiefleurent/perp_sentinel/internal/exchange"
	"github.com/eddiefleurent/perp_sentinel/internal/models"
	"github.com/eddiefleurent/perp_sentinel/internal/strategy"
	"github.com/eddiefleurent/perp_sentinel/internal/util"
)

const (
	candleDepth     = 100
	confirmAttempts = 3

	// fallbackMinNotional applies when the venue reports no minimum.
	fallbackMinNotional = 20

	// safeLeverageCap bounds the risk-derived leverage.
	safeLeverageCap = 20
)

// scan walks the configured symbols and opens a position on the first
// accepted signal. At most one position exists at a time.
func (e *Engine) scan(ctx context.Context, now time.Time) {
	cfg := e.store.Config()
	for _, symbol := range cfg.Symbols {
		outcome, ok := e.evaluateSymbol(ctx, symbol, cfg)
		if !ok {
			continue
		}
		if !outcome.Accepted() {
			rej := outcome.Rejection
			e.log.Debug("REJECT", "no entry", map[string]any{
				"symbol": rej.Symbol, "reason": string(rej.Reason), "detail": rej.Detail,
			})
			continue
		}
		if e.openPosition(ctx, outcome.Signal, cfg, now) {
			return
		}
	}
}

// evaluateSymbol gathers market data, runs the technical evaluator,
// and applies the advisory gate. Returns ok=false on data errors.
func (e *Engine) evaluateSymbol(ctx context.Context, symbol string, cfg *config.Trading) (models.Outcome, bool) {
	price, err := e.markPrice(ctx, symbol)
	if err != nil {
		e.log.Warn("SCAN", "price fetch failed", map[string]any{"symbol": symbol, "error": err.Error()})
		return models.Outcome{}, false
	}

	snap := strategy.Snapshot{Symbol: symbol, Price: price}
	fetch := func(interval string) ([]models.Candle, bool) {
		candles, err := e.exch.FetchOHLCV(ctx, symbol, interval, candleDepth)
		if err != nil {
			e.log.Warn("SCAN", "candle fetch failed", map[string]any{
				"symbol": symbol, "interval": interval, "error": err.Error(),
			})
			return nil, false
		}
		return candles, true
	}
	var ok bool
	if snap.Candles15, ok = fetch("15m"); !ok {
		return models.Outcome{}, false
	}
	if snap.Candles1h, ok = fetch("1h"); !ok {
		return models.Outcome{}, false
	}
	if snap.Candles4h, ok = fetch("4h"); !ok {
		return models.Outcome{}, false
	}

	outcome := strategy.Evaluate(snap, cfg)
	if !outcome.Accepted() {
		return outcome, true
	}

	sig := outcome.Signal
	e.log.Info("SIGNAL", "entry candidate", map[string]any{
		"symbol": sig.Symbol, "direction": string(sig.Direction), "reason": sig.Reason,
	})

	if cfg.AI.Enabled && cfg.AI.UseForEntry {
		adv := e.advisor.Advise(ctx, advisor.Snapshot{
			Symbol:     sig.Symbol,
			Price:      sig.Price,
			Indicators: sig.Indicators,
			Candidate:  sig.Direction,
		})
		if cfg.AI.AdjustByIndicators {
			adv = strategy.AdjustAdvisory(adv, sig.Indicators)
		}
		outcome = strategy.ApplyAdvisoryGate(sig, adv, cfg.AI)
	}
	return outcome, true
}

// openPosition runs the full entry sequence. Returns true when a
// position was confirmed and persisted.
func (e *Engine) openPosition(ctx context.Context, sig *models.Signal, cfg *config.Trading, now time.Time) bool {
	equity, err := e.exch.FetchAvailableBalance(ctx)
	if err != nil {
		e.log.Warn("ORDER", "balance fetch failed", map[string]any{"error": err.Error()})
		return false
	}
	if equity.LessThan(decimal.NewFromFloat(cfg.MinEquity)) {
		e.log.Warn("RISK", "equity below safety floor, entry skipped", map[string]any{
			"equity": equity.String(), "floor": cfg.MinEquity,
		})
		return false
	}

	meta, err := e.exch.Market(sig.Symbol)
	if err != nil {
		e.log.Warn("ORDER", "market rules unavailable", map[string]any{"symbol": sig.Symbol, "error": err.Error()})
		return false
	}

	entry := sig.Price
	stop, stopDist := stopLossFor(sig, cfg, meta)
	if stopDist.Sign() <= 0 {
		e.log.Warn("ORDER", "degenerate stop distance, entry skipped", map[string]any{"symbol": sig.Symbol})
		return false
	}

	leverage := e.chooseLeverage(sig, cfg, meta, entry, stopDist)

	qty, ok := e.positionSize(sig.Symbol, equity, entry, stopDist, leverage, cfg, meta)
	if !ok {
		return false
	}

	if err := e.exch.SetLeverage(ctx, sig.Symbol, leverage); err != nil {
		e.log.Warn("ORDER", "set leverage failed, entry skipped", map[string]any{"symbol": sig.Symbol, "error": err.Error()})
		return false
	}
	// Margin and position mode are account-sticky; "already set" comes
	// back as success from the adapter, anything else is logged and
	// tolerated.
	if err := e.exch.SetMarginMode(ctx, sig.Symbol, exchange.MarginCross); err != nil {
		e.log.Warn("ORDER", "set margin mode failed", map[string]any{"symbol": sig.Symbol, "error": err.Error()})
	}
	if err := e.exch.SetOneWayMode(ctx); err != nil {
		e.log.Warn("ORDER", "set one-way mode failed", map[string]any{"error": err.Error()})
	}

	if err := e.store.MutateState(func(st *models.BotState) error {
		st.Status = models.StatusOpening
		return nil
	}); err != nil {
		e.log.Error("ENGINE", "cannot enter opening state", map[string]any{"error": err.Error()})
		return false
	}

	side := exchange.SideBuy
	if sig.Direction == models.DirectionShort {
		side = exchange.SideSell
	}
	order, err := e.exch.MarketOrder(ctx, sig.Symbol, side, qty, false)
	if err != nil {
		e.log.Error("ORDER", "entry order failed", map[string]any{"symbol": sig.Symbol, "error": err.Error()})
		e.revertToMonitoring()
		return false
	}

	confirmed, venueQty, venueEntry := e.confirmEntry(ctx, sig.Symbol)
	if !confirmed {
		e.log.Error("ORDER", "entry not confirmed on venue, reverting", map[string]any{
			"symbol": sig.Symbol, "order_id": order.OrderID,
		})
		e.revertToMonitoring()
		return false
	}
	// The venue's own report is authoritative for fill size and price.
	qty = venueQty
	if venueEntry.Sign() > 0 {
		entry = venueEntry
	} else if order.AvgPrice.Sign() > 0 {
		entry = order.AvgPrice
	}

	stop, stopDist = stopLossFor(&models.Signal{
		Symbol: sig.Symbol, Direction: sig.Direction, Price: entry, Indicators: sig.Indicators,
	}, cfg, meta)

	stopOrder, err := e.placeStopOrder(ctx, sig.Symbol, sig.Direction, qty, stop)
	if err != nil {
		e.log.Error("ORDER", "protective stop rejected, closing entry", map[string]any{
			"symbol": sig.Symbol, "error": err.Error(),
		})
		if _, err := e.exch.MarketOrder(ctx, sig.Symbol, oppositeSide(side), qty, true); err != nil {
			e.log.Error("ORDER", "emergency close failed, position is unprotected", map[string]any{
				"symbol": sig.Symbol, "error": err.Error(),
			})
		}
		e.revertToMonitoring()
		return false
	}

	riskPerUnit := stopDist
	tp1 := entry.Add(riskPerUnit.Mul(decimal.NewFromFloat(cfg.Risk.TakeProfit.TP1RR)).Mul(sig.Direction.Sign()))
	tp2 := entry.Add(riskPerUnit.Mul(decimal.NewFromFloat(cfg.Risk.TakeProfit.TP2RR)).Mul(sig.Direction.Sign()))

	pos := &models.Position{
		Symbol:          sig.Symbol,
		Direction:       sig.Direction,
		EntryPrice:      entry,
		Quantity:        qty,
		Leverage:        leverage,
		StopLoss:        stop,
		InitialStopLoss: stop,
		TakeProfit1:     tp1,
		TakeProfit2:     tp2,
		OpenTime:        now,
		OrderID:         order.OrderID,
		StopLossOrderID: stopOrder.OrderID,
		StopOrder: &models.StopOrderSnapshot{
			Side:      string(stopOrder.Side),
			Type:      stopOrder.Type,
			Quantity:  stopOrder.Quantity,
			StopPrice: stopOrder.StopPrice,
			Status:    stopOrder.Status,
			Timestamp: now,
		},
	}

	if err := e.store.MutateState(func(st *models.BotState) error {
		st.Status = models.StatusPosition
		st.CurrentPosition = pos
		st.TodayTrades++
		st.LastTradeTime = now
		return nil
	}); err != nil {
		e.log.Error("ENGINE", "failed to persist position", map[string]any{"error": err.Error()})
		return false
	}

	e.resetMonitorThrottles(now, entry, sig.Indicators)

	e.log.Info("ORDER", "position opened", map[string]any{
		"symbol":   sig.Symbol,
		"side":     string(sig.Direction),
		"entry":    entry.String(),
		"quantity": qty.String(),
		"leverage": leverage,
		"stop":     stop.String(),
		"tp1":      tp1.String(),
		"tp2":      tp2.String(),
	})
	return true
}

// stopLossFor places the stop at the tighter of the ATR distance and
// the maximum percentage distance, rounded away from the entry.
func stopLossFor(sig *models.Signal, cfg *config.Trading, meta exchange.SymbolMeta) (stop, dist decimal.Decimal) {
	entry := sig.Price
	atrDist := decimal.NewFromFloat(sig.Indicators.ATR * cfg.StopLossATRMultiplier)
	pctDist := entry.Mul(decimal.NewFromFloat(cfg.MaxStopLossPercentage / 100))
	dist = decimal.Min(atrDist, pctDist)

	if sig.Direction == models.DirectionLong {
		stop = util.FloorToStep(entry.Sub(dist), meta.TickSize)
	} else {
		stop = util.CeilToStep(entry.Add(dist), meta.TickSize)
	}
	dist = entry.Sub(stop).Abs()
	return stop, dist
}

// chooseLeverage combines the advisory-scaled dynamic leverage with a
// stop-distance derived safety cap.
func (e *Engine) chooseLeverage(sig *models.Signal, cfg *config.Trading, meta exchange.SymbolMeta, entry, stopDist decimal.Decimal) int {
	lev := cfg.Leverage
	if cfg.DynamicLeverage.Enabled && sig.Advisory != nil {
		dl := cfg.DynamicLeverage
		scaled := float64(dl.Base) * (0.8 + sig.Advisory.Confidence/100) * dl.RiskMultiplier.For(sig.Advisory.RiskLevel)
		lev = util.ClampInt(int(math.Round(scaled)), dl.Min, dl.Max)
	}

	stopFrac, _ := stopDist.Div(entry).Float64()
	if stopFrac > 0 {
		safe := int(math.Round((cfg.MaxRiskPercentage / 100) / stopFrac))
		safe = util.ClampInt(safe, 1, safeLeverageCap)
		if safe < lev {
			lev = safe
		}
	}

	if meta.MaxLeverage > 0 && lev > meta.MaxLeverage {
		lev = meta.MaxLeverage
	}
	if lev < 1 {
		lev = 1
	}
	return lev
}

// positionSize derives the order quantity from risk budget and margin
// capacity, honoring the venue's step and minimum notional rules.
func (e *Engine) positionSize(symbol string, equity, entry, stopDist decimal.Decimal, leverage int, cfg *config.Trading, meta exchange.SymbolMeta) (decimal.Decimal, bool) {
	riskBudget := equity.Mul(decimal.NewFromFloat(cfg.MaxRiskPercentage / 100))
	stopFrac := stopDist.Div(entry)
	if stopFrac.Sign() <= 0 {
		return decimal.Zero, false
	}

	marginCap := equity.Mul(decimal.NewFromInt(int64(leverage)))
	notional := decimal.Min(riskBudget.Div(stopFrac), marginCap)

	qty := util.FloorToStep(notional.Div(entry), meta.StepSize)

	minNotional := meta.MinNotional
	if minNotional.Sign() <= 0 {
		minNotional = decimal.NewFromInt(fallbackMinNotional)
	}
	if qty.Mul(entry).LessThan(minNotional) {
		bumped := util.CeilToStep(minNotional.Div(entry), meta.StepSize)
		if bumped.Mul(entry).GreaterThan(marginCap) {
			e.log.Warn("RISK", "minimum notional exceeds margin capacity, entry skipped", map[string]any{
				"symbol": symbol, "min_notional": minNotional.String(),
			})
			return decimal.Zero, false
		}
		e.log.Info("RISK", "quantity bumped to minimum notional", map[string]any{
			"symbol": symbol, "quantity": bumped.String(),
		})
		qty = bumped
	}
	if qty.Sign() <= 0 {
		e.log.Warn("RISK", "computed quantity is zero, entry skipped", map[string]any{"symbol": symbol})
		return decimal.Zero, false
	}
	return qty, true
}

// confirmEntry polls the venue's position report until it shows the
// fill. Returns the venue-reported quantity and entry price.
func (e *Engine) confirmEntry(ctx context.Context, symbol string) (bool, decimal.Decimal, decimal.Decimal) {
	for attempt := 0; attempt < confirmAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, decimal.Zero, decimal.Zero
			case <-time.After(e.confirmDelay):
			}
		}
		positions, err := e.exch.FetchPositions(ctx, symbol)
		if err != nil {
			continue
		}
		for _, p := range positions {
			if !p.Flat() {
				return true, p.Amount.Abs(), p.EntryPrice
			}
		}
	}
	return false, decimal.Zero, decimal.Zero
}

func (e *Engine) placeStopOrder(ctx context.Context, symbol string, dir models.Direction, qty, stop decimal.Decimal) (*exchange.OrderResult, error) {
	side := exchange.SideSell
	if dir == models.DirectionShort {
		side = exchange.SideBuy
	}
	return e.exch.StopMarketOrder(ctx, symbol, side, qty, stop, true)
}

func (e *Engine) revertToMonitoring() {
	if err := e.store.MutateState(func(st *models.BotState) error {
		st.Status = models.StatusMonitoring
		st.CurrentPosition = nil
		return nil
	}); err != nil {
		e.log.Error("ENGINE", "failed to revert state", map[string]any{"error": err.Error()})
	}
}

func (e *Engine) resetMonitorThrottles(now time.Time, price decimal.Decimal, ind models.IndicatorSet) {
	e.lastPnLLog = time.Time{}
	e.lastLoggedPct = decimal.Zero
	e.lastRefresh = now
	e.lastRefreshPx = price
	e.liveIndicators = ind
	e.entryADX15 = ind.ADX15m
	e.prevADX15 = ind.ADX15m
	e.lastTrailMove = time.Time{}
}

func oppositeSide(s exchange.Side) exchange.Side {
	if s == exchange.SideBuy {
		return exchange.SideSell
	}
	return exchange.SideBuy
}
