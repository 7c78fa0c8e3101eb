// Package models provides data structures and state management for the trading engine.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BotStatus represents the engine's outer state machine position.
type BotStatus string

const (
	// StatusIdle means the engine is constructed but the scheduler is not running.
	StatusIdle BotStatus = "IDLE"
	// StatusMonitoring means the scheduler is scanning for entry opportunities.
	StatusMonitoring BotStatus = "MONITORING"
	// StatusOpening means an entry order is in flight and not yet confirmed.
	StatusOpening BotStatus = "OPENING"
	// StatusPosition means a confirmed position is being managed.
	StatusPosition BotStatus = "POSITION"
	// StatusClosing means an exit is in flight.
	StatusClosing BotStatus = "CLOSING"
	// StatusHalted means the trading circuit breaker tripped; operator start required.
	StatusHalted BotStatus = "HALTED"
)

// Valid returns true if the status is one of the defined constants.
func (s BotStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusMonitoring, StatusOpening, StatusPosition, StatusClosing, StatusHalted:
		return true
	default:
		return false
	}
}

// statusTransitions defines the legal outer state machine moves.
var statusTransitions = map[BotStatus][]BotStatus{
	StatusIdle:       {StatusMonitoring},
	StatusMonitoring: {StatusOpening, StatusHalted, StatusIdle},
	StatusOpening:    {StatusPosition, StatusMonitoring},
	StatusPosition:   {StatusClosing, StatusMonitoring, StatusHalted},
	StatusClosing:    {StatusMonitoring, StatusPosition, StatusHalted},
	StatusHalted:     {StatusMonitoring, StatusIdle},
}

// CanTransition reports whether moving from one status to another is legal.
// Self-transitions are always allowed.
func CanTransition(from, to BotStatus) bool {
	if from == to {
		return true
	}
	for _, t := range statusTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// CircuitBreakerState is the trading (domain) circuit breaker latch.
// Distinct from the transport breaker wrapped around the exchange client.
type CircuitBreakerState struct {
	IsTriggered       bool            `json:"is_triggered"`
	Reason            string          `json:"reason,omitempty"`
	Timestamp         time.Time       `json:"timestamp,omitempty"`
	DailyLoss         decimal.Decimal `json:"daily_loss"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
}

// BotState is the single persisted runtime record for the engine.
type BotState struct {
	Status          BotStatus           `json:"status"`
	IsRunning       bool                `json:"is_running"`
	AllowNewTrades  bool                `json:"allow_new_trades"`
	CurrentPosition *Position           `json:"current_position"`
	CircuitBreaker  CircuitBreakerState `json:"circuit_breaker"`

	TodayTrades   int             `json:"today_trades"`
	DailyPnL      decimal.Decimal `json:"daily_pnl"`
	LastResetDate string          `json:"last_reset_date"` // YYYY-MM-DD in the configured timezone
	LastTradeTime time.Time       `json:"last_trade_time,omitempty"`

	// Live fields, only meaningful while holding a position.
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CurrentPnL    decimal.Decimal `json:"current_pnl"`
	CurrentPnLPct decimal.Decimal `json:"current_pnl_percentage"`

	// Aggregates recomputed from history on boot.
	TotalTrades int             `json:"total_trades"`
	TotalPnL    decimal.Decimal `json:"total_pnl"`
	WinRate     decimal.Decimal `json:"win_rate"`
}

// NewBotState returns the boot-time default state.
func NewBotState() *BotState {
	return &BotState{
		Status:         StatusIdle,
		AllowNewTrades: true,
	}
}

// Validate enforces the cross-field invariants every persisted state must satisfy.
func (s *BotState) Validate() error {
	if !s.Status.Valid() {
		return fmt.Errorf("invalid status %q", s.Status)
	}
	hasPos := s.CurrentPosition != nil
	if s.Status == StatusPosition && !hasPos {
		return fmt.Errorf("status %s requires a current position", StatusPosition)
	}
	if hasPos && s.Status != StatusPosition && s.Status != StatusClosing &&
		s.Status != StatusOpening && s.Status != StatusHalted {
		return fmt.Errorf("status %s cannot carry a position", s.Status)
	}
	if hasPos {
		if err := s.CurrentPosition.Validate(); err != nil {
			return fmt.Errorf("current position invalid: %w", err)
		}
	}
	if s.TodayTrades < 0 {
		return fmt.Errorf("today_trades must be >= 0 (got %d)", s.TodayTrades)
	}
	if s.TotalTrades < 0 {
		return fmt.Errorf("total_trades must be >= 0 (got %d)", s.TotalTrades)
	}
	return nil
}
