// Package engine owns the trading loop: a single-worker scheduler that
// scans for entries, manages the open position, and enforces the risk
// controller. All venue access goes through the exchange boundary and
// every state change goes through the store.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/perp_sentinel/internal/advisor"
	"github.com/eddiefleurent/perp_sentinel/internal/botlog"
	"github.com/eddiefleurent/perp_sentinel/internal/config"
	"github.com/eddiefleurent/perp_sentinel/internal/exchange"
	"github.com/eddiefleurent/perp_sentinel/internal/models"
	"github.com/eddiefleurent/perp_sentinel/internal/risk"
	"github.com/eddiefleurent/perp_sentinel/internal/storage"
)

// PriceSource is a low-latency mark price cache. A miss means the
// caller should fall back to the venue's REST price.
type PriceSource interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// Options tune engine internals that tests need to control.
type Options struct {
	// Location is the operating timezone for daily resets and the
	// forced-close window. Defaults to UTC.
	Location *time.Location
	// ConfirmDelay is the pause between post-entry confirmation polls.
	ConfirmDelay time.Duration
	// Now overrides the clock.
	Now func() time.Time
}

// Engine drives the scan/monitor loop over a single open position.
type Engine struct {
	exch    exchange.Exchange
	store   storage.Interface
	advisor advisor.Service
	feed    PriceSource
	log     *botlog.Logger
	loc     *time.Location

	confirmDelay time.Duration
	now          func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	// isScanning drops overlapping work: the loop is single-worker,
	// but operator actions can race a tick.
	isScanning atomic.Bool

	// Per-position monitor throttles, reset when a position opens.
	lastPnLLog     time.Time
	lastLoggedPct  decimal.Decimal
	lastRefresh    time.Time
	lastRefreshPx  decimal.Decimal
	liveIndicators models.IndicatorSet
	entryADX15     float64
	prevADX15      float64
	lastTrailMove  time.Time
}

// New builds an engine. feed may be nil; advisorSvc must not be nil
// (use advisor.Disabled when the advisory is off).
func New(exch exchange.Exchange, store storage.Interface, advisorSvc advisor.Service, feed PriceSource, log *botlog.Logger, opts Options) *Engine {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	confirm := opts.ConfirmDelay
	if confirm == 0 {
		confirm = 500 * time.Millisecond
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		exch:         exch,
		store:        store,
		advisor:      advisorSvc,
		feed:         feed,
		log:          log,
		loc:          loc,
		confirmDelay: confirm,
		now:          now,
	}
}

// Start marks the engine running and launches the scheduler. Idempotent.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.MutateState(func(st *models.BotState) error {
		st.IsRunning = true
		if st.Status == models.StatusIdle || st.Status == models.StatusHalted {
			st.Status = models.StatusMonitoring
		}
		// An operator start clears a tripped breaker.
		st.CircuitBreaker = models.CircuitBreakerState{
			DailyLoss:         st.CircuitBreaker.DailyLoss,
			ConsecutiveLosses: st.CircuitBreaker.ConsecutiveLosses,
		}
		st.AllowNewTrades = true
		return nil
	}); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.loop(ctx)
	e.log.Info("ENGINE", "started", nil)
	return nil
}

// Stop halts the scheduler and waits for any in-flight tick. The open
// position, if any, is left untouched. Idempotent.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return e.markStopped()
	}
	e.running = false
	close(e.stop)
	done := e.done
	e.mu.Unlock()

	<-done
	e.log.Info("ENGINE", "stopped", nil)
	return e.markStopped()
}

func (e *Engine) markStopped() error {
	return e.store.MutateState(func(st *models.BotState) error {
		st.IsRunning = false
		return nil
	})
}

// loop re-arms a timer after each tick completes, so a slow tick
// stretches the cadence instead of stacking work.
func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	for {
		holding := e.store.State().CurrentPosition != nil
		timer := time.NewTimer(e.store.Config().ScanTick(holding))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.stop:
			timer.Stop()
			return
		case <-timer.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one scheduler pass. Exported so the control surface and
// tests can drive the engine deterministically.
func (e *Engine) Tick(ctx context.Context) {
	if !e.isScanning.CompareAndSwap(false, true) {
		e.log.Debug("ENGINE", "tick skipped, previous pass still running", nil)
		return
	}
	defer e.isScanning.Store(false)

	now := e.now().In(e.loc)
	st := e.store.State()

	if risk.ShouldResetDailyState(st.LastResetDate, now) {
		e.dailyReset(now)
		st = e.store.State()
	}

	if !st.IsRunning {
		return
	}

	if st.CircuitBreaker.IsTriggered {
		e.log.Warn("RISK", "halted by circuit breaker", map[string]any{"reason": st.CircuitBreaker.Reason})
		return
	}

	holding := st.CurrentPosition != nil
	cfg := e.store.Config()

	if holding && risk.ShouldForceLiquidate(now, cfg.Risk.ForceLiquidateTime) {
		e.log.Warn("RISK", "forced liquidation window reached", nil)
		e.closePosition(ctx, models.CloseReasonForced)
		return
	}

	if holding {
		e.monitorPosition(ctx, now)
		return
	}

	if reason := e.scanBlocked(st, cfg, now); reason != "" {
		e.log.Debug("SCAN", "scan skipped", map[string]any{"reason": reason})
		return
	}
	e.scan(ctx, now)
}

// scanBlocked returns a non-empty reason when no new entry may be
// attempted this tick. It also re-derives allowNewTrades from the
// breaker, the daily cap, and the cooldown.
func (e *Engine) scanBlocked(st models.BotState, cfg *config.Trading, now time.Time) string {
	withinLimit := risk.WithinDailyTradeLimit(st.TodayTrades, cfg.Risk.DailyTradeLimit)
	cooled := risk.CooldownElapsed(st.LastTradeTime, cfg.Cooldown(), now)
	allow := !st.CircuitBreaker.IsTriggered && withinLimit && cooled
	if allow != st.AllowNewTrades {
		_ = e.store.MutateState(func(s *models.BotState) error {
			s.AllowNewTrades = allow
			return nil
		})
	}
	if st.CircuitBreaker.IsTriggered {
		return "circuit breaker tripped"
	}
	if !withinLimit {
		return "daily trade limit reached"
	}
	if !cooled {
		return "trade cooldown active"
	}
	return ""
}

// dailyReset zeroes the daily counters and clears the breaker latch.
// A breaker halt from the previous day resumes automatically.
func (e *Engine) dailyReset(now time.Time) {
	resumed := false
	err := e.store.MutateState(func(st *models.BotState) error {
		st.TodayTrades = 0
		st.DailyPnL = decimal.Zero
		st.LastResetDate = now.Format("2006-01-02")
		st.AllowNewTrades = true
		if st.CircuitBreaker.IsTriggered {
			st.IsRunning = true
			if st.Status == models.StatusHalted {
				st.Status = models.StatusMonitoring
			}
			resumed = true
		}
		st.CircuitBreaker = models.CircuitBreakerState{}
		return nil
	})
	if err != nil {
		e.log.Error("ENGINE", "daily reset failed", map[string]any{"error": err.Error()})
		return
	}
	fields := map[string]any{"date": now.Format("2006-01-02")}
	if resumed {
		fields["resumed"] = true
	}
	e.log.Info("ENGINE", "daily state reset", fields)
}

// markPrice serves the freshest price available: websocket cache first,
// REST fallback.
func (e *Engine) markPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if e.feed != nil {
		if p, ok := e.feed.Price(symbol); ok {
			return p, nil
		}
	}
	return e.exch.FetchPrice(ctx, symbol)
}
