package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CloseReason is the closed vocabulary of exit causes recorded in history.
type CloseReason string

const (
	// CloseReasonTP1 is the first risk-reward take-profit.
	CloseReasonTP1 CloseReason = "TP1"
	// CloseReasonTP2 is the extended take-profit (RR, RSI extreme, or ADX fade).
	CloseReasonTP2 CloseReason = "TP2"
	// CloseReasonTrailingStop is a trailing stop fill observed on the exchange.
	CloseReasonTrailingStop CloseReason = "trailing-stop-hit"
	// CloseReasonStopObserved is a stop-loss fill discovered by reconciliation.
	CloseReasonStopObserved CloseReason = "stop-hit-observed"
	// CloseReasonTimeout is the holding-time limit with weakening trend.
	CloseReasonTimeout CloseReason = "timeout"
	// CloseReasonForced is the end-of-day forced liquidation window.
	CloseReasonForced CloseReason = "forced-close"
	// CloseReasonCompensatedUnknown is a reconciled close with no stop order to attribute.
	CloseReasonCompensatedUnknown CloseReason = "compensated-close-unknown"
	// CloseReasonOperator is a close requested through the control surface.
	CloseReasonOperator CloseReason = "operator-close"
)

// Valid returns true if the CloseReason is one of the defined constants.
func (r CloseReason) Valid() bool {
	switch r {
	case CloseReasonTP1, CloseReasonTP2, CloseReasonTrailingStop, CloseReasonStopObserved,
		CloseReasonTimeout, CloseReasonForced, CloseReasonCompensatedUnknown, CloseReasonOperator:
		return true
	default:
		return false
	}
}

// TradeRecord is one append-only row of the trade history log.
type TradeRecord struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Direction     Direction       `json:"direction"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	ExitPrice     decimal.Decimal `json:"exit_price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Leverage      int             `json:"leverage"`
	PnL           decimal.Decimal `json:"pnl"`
	PnLPercentage decimal.Decimal `json:"pnl_percentage"`
	OpenTime      time.Time       `json:"open_time"`
	CloseTime     time.Time       `json:"close_time"`
	Reason        CloseReason     `json:"reason"`
}

// Validate checks the invariants a history row must satisfy before append.
func (t *TradeRecord) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("trade record id is required")
	}
	if t.Symbol == "" {
		return fmt.Errorf("trade %s: symbol is required", t.ID)
	}
	if !t.Direction.Valid() {
		return fmt.Errorf("trade %s: invalid direction %q", t.ID, t.Direction)
	}
	if !t.Reason.Valid() {
		return fmt.Errorf("trade %s: invalid close reason %q", t.ID, t.Reason)
	}
	if t.CloseTime.Before(t.OpenTime) {
		return fmt.Errorf("trade %s: close time %v before open time %v", t.ID, t.CloseTime, t.OpenTime)
	}
	return nil
}

// NewTradeRecord builds a history row from a closed position.
func NewTradeRecord(id string, p *Position, exitPrice decimal.Decimal, closeTime time.Time, reason CloseReason) TradeRecord {
	pnl := p.UnrealizedPnL(exitPrice)
	return TradeRecord{
		ID:            id,
		Symbol:        p.Symbol,
		Direction:     p.Direction,
		EntryPrice:    p.EntryPrice,
		ExitPrice:     exitPrice,
		Quantity:      p.Quantity,
		Leverage:      p.Leverage,
		PnL:           pnl,
		PnLPercentage: p.UnrealizedPnLPct(exitPrice),
		OpenTime:      p.OpenTime,
		CloseTime:     closeTime,
		Reason:        reason,
	}
}
