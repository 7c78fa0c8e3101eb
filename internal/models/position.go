package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a perpetual futures position.
type Direction string

const (
	// DirectionLong is a long position.
	DirectionLong Direction = "LONG"
	// DirectionShort is a short position.
	DirectionShort Direction = "SHORT"
)

// Valid returns true if the Direction is one of the defined constants.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Sign returns +1 for LONG and -1 for SHORT.
func (d Direction) Sign() decimal.Decimal {
	if d == DirectionShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// StopOrderSnapshot is a descriptive copy of the live stop order as last seen.
type StopOrderSnapshot struct {
	Side      string          `json:"side"`
	Type      string          `json:"type"`
	Quantity  decimal.Decimal `json:"quantity"`
	StopPrice decimal.Decimal `json:"stop_price"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// Position is the single open position owned by the engine state.
// Immutable after close; archived to trade history.
type Position struct {
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Leverage   int             `json:"leverage"`

	StopLoss        decimal.Decimal `json:"stop_loss"`
	InitialStopLoss decimal.Decimal `json:"initial_stop_loss"`
	TakeProfit1     decimal.Decimal `json:"take_profit_1"`
	TakeProfit2     decimal.Decimal `json:"take_profit_2"`

	OpenTime        time.Time          `json:"open_time"`
	OrderID         string             `json:"order_id"`
	StopLossOrderID string             `json:"stop_loss_order_id,omitempty"`
	StopOrder       *StopOrderSnapshot `json:"stop_order,omitempty"`

	LastStopLossUpdate time.Time `json:"last_stop_loss_update,omitempty"`
}

// Validate checks the invariants any persisted position must satisfy.
func (p *Position) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("position symbol is required")
	}
	if !p.Direction.Valid() {
		return fmt.Errorf("position %s: invalid direction %q", p.Symbol, p.Direction)
	}
	if p.EntryPrice.Sign() <= 0 {
		return fmt.Errorf("position %s: entry price must be positive (got %s)", p.Symbol, p.EntryPrice)
	}
	if p.Quantity.Sign() <= 0 {
		return fmt.Errorf("position %s: quantity must be positive (got %s)", p.Symbol, p.Quantity)
	}
	if p.Leverage < 1 {
		return fmt.Errorf("position %s: leverage must be >= 1 (got %d)", p.Symbol, p.Leverage)
	}
	if p.StopLoss.Sign() <= 0 || p.InitialStopLoss.Sign() <= 0 {
		return fmt.Errorf("position %s: stop loss must be positive", p.Symbol)
	}
	if p.OpenTime.IsZero() {
		return fmt.Errorf("position %s: open time must be set", p.Symbol)
	}
	// Only the initial stop is pinned to the entry side; the trailing
	// updater may carry StopLoss past breakeven, but never loosen it.
	switch p.Direction {
	case DirectionLong:
		if p.InitialStopLoss.GreaterThanOrEqual(p.EntryPrice) {
			return fmt.Errorf("position %s: LONG initial stop %s must be below entry %s", p.Symbol, p.InitialStopLoss, p.EntryPrice)
		}
		if p.StopLoss.LessThan(p.InitialStopLoss) {
			return fmt.Errorf("position %s: LONG stop %s below initial stop %s", p.Symbol, p.StopLoss, p.InitialStopLoss)
		}
	case DirectionShort:
		if p.InitialStopLoss.LessThanOrEqual(p.EntryPrice) {
			return fmt.Errorf("position %s: SHORT initial stop %s must be above entry %s", p.Symbol, p.InitialStopLoss, p.EntryPrice)
		}
		if p.StopLoss.GreaterThan(p.InitialStopLoss) {
			return fmt.Errorf("position %s: SHORT stop %s above initial stop %s", p.Symbol, p.StopLoss, p.InitialStopLoss)
		}
	}
	return nil
}

// InitialRisk returns |entry - initialStopLoss| * quantity, the dollar risk
// the position was sized against. Risk-reward targets are multiples of this.
func (p *Position) InitialRisk() decimal.Decimal {
	return p.EntryPrice.Sub(p.InitialStopLoss).Abs().Mul(p.Quantity)
}

// UnrealizedPnL returns the signed PnL at the given mark price.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.EntryPrice).Mul(p.Quantity).Mul(p.Direction.Sign())
}

// UnrealizedPnLPct returns PnL as a leveraged percentage of position notional.
func (p *Position) UnrealizedPnLPct(price decimal.Decimal) decimal.Decimal {
	notional := p.EntryPrice.Mul(p.Quantity)
	if notional.Sign() == 0 {
		return decimal.Zero
	}
	return p.UnrealizedPnL(price).Div(notional).
		Mul(decimal.NewFromInt(100)).Mul(decimal.NewFromInt(int64(p.Leverage)))
}

// HoldingTime returns how long the position has been open.
func (p *Position) HoldingTime(now time.Time) time.Duration {
	return now.Sub(p.OpenTime)
}

// StopImproves reports whether candidate is a strictly better stop than the
// current one for this position's direction. The trailing updater may only
// move the stop when this returns true.
func (p *Position) StopImproves(candidate decimal.Decimal) bool {
	if p.Direction == DirectionLong {
		return candidate.GreaterThan(p.StopLoss)
	}
	return candidate.LessThan(p.StopLoss)
}
