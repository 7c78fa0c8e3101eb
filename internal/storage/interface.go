// Package storage persists the engine's configuration, runtime state,
// and trade history as JSON documents under a data directory.
package storage

import (
	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/perp_sentinel/internal/config"
	"github.com/eddiefleurent/perp_sentinel/internal/models"
)

// Interface defines the contract for engine state persistence.
//
// Implementations must be safe for concurrent use - callers can assume
// all methods are goroutine-safe and can call them from multiple
// goroutines.
//
// Write failures never surface as errors here: the implementation keeps
// the in-memory view authoritative, retries once, and raises the dirty
// flag so the control surface can report degraded persistence.
type Interface interface {
	// Trading configuration.
	Config() *config.Trading
	ReplaceConfig(cfg *config.Trading) error

	// Runtime state. State returns a copy; MutateState applies fn to
	// the live state under the store lock and rejects any mutation
	// that leaves the state invalid.
	State() models.BotState
	MutateState(fn func(*models.BotState) error) error

	// Trade history, append-only. RecordClose appends the row and
	// applies the state mutation in one critical section so a crash
	// cannot separate them.
	AppendTrade(rec models.TradeRecord) error
	RecordClose(rec models.TradeRecord, fn func(*models.BotState) error) error
	History(page, pageSize int) ([]models.TradeRecord, int)
	Stats() Statistics

	// Dirty reports whether the last persistence attempt failed.
	Dirty() bool
}

// Statistics are the aggregates recomputed from the full history.
type Statistics struct {
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       decimal.Decimal `json:"win_rate"` // 0-100
	TotalPnL      decimal.Decimal `json:"total_pnl"`
}

// Ensure JSONStore implements Interface
var _ Interface = (*JSONStore)(nil)
