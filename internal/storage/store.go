package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/perp_sentinel/internal/botlog"
	"github.com/eddiefleurent/perp_sentinel/internal/config"
	"github.com/eddiefleurent/perp_sentinel/internal/models"
)

const (
	configFile  = "config.json"
	stateFile   = "state.json"
	historyFile = "history.json"
)

// JSONStore keeps the authoritative copy of config, state, and history
// in memory and mirrors every change to JSON files via atomic
// temp-write-then-rename.
type JSONStore struct {
	mu  sync.RWMutex
	dir string
	log *botlog.Logger

	cfg     *config.Trading
	state   *models.BotState
	history []models.TradeRecord

	dirty bool
}

// NewJSONStore opens a store rooted at dir, creating it if missing.
// Missing files fall back to defaults; malformed files are logged and
// replaced by defaults rather than failing boot. Partial documents are
// merged over defaults.
func NewJSONStore(dir string, log *botlog.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &JSONStore{
		dir: dir,
		log: log,
	}
	s.loadConfig()
	s.loadState()
	s.loadHistory()
	s.recomputeAggregates()

	// Heal the on-disk copies so defaults and recomputed aggregates
	// survive the next boot.
	s.mu.Lock()
	s.persist(configFile, s.cfg)
	s.persist(stateFile, s.state)
	s.persist(historyFile, s.history)
	s.mu.Unlock()
	return s, nil
}

func (s *JSONStore) loadConfig() {
	cfg := config.DefaultTrading()
	if s.readJSON(configFile, cfg) {
		if err := cfg.Validate(); err != nil {
			s.log.Warn("STORAGE", "stored config invalid, using defaults", map[string]any{"error": err.Error()})
			cfg = config.DefaultTrading()
		}
	}
	s.cfg = cfg
}

func (s *JSONStore) loadState() {
	state := models.NewBotState()
	if s.readJSON(stateFile, state) {
		if err := state.Validate(); err != nil {
			s.log.Warn("STORAGE", "stored state invalid, using defaults", map[string]any{"error": err.Error()})
			state = models.NewBotState()
		}
	}
	s.state = state
}

func (s *JSONStore) loadHistory() {
	var history []models.TradeRecord
	if !s.readJSON(historyFile, &history) {
		history = nil
	}
	s.history = history
}

// readJSON decodes path into v. Returns false when the file is absent
// or unreadable; a malformed file is logged and treated as absent.
func (s *JSONStore) readJSON(name string, v any) bool {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("STORAGE", "failed to read "+name, map[string]any{"error": err.Error()})
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.log.Warn("STORAGE", name+" is malformed, using defaults", map[string]any{"error": err.Error()})
		return false
	}
	return true
}

// Config returns a deep copy of the current trading configuration.
func (s *JSONStore) Config() *config.Trading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// ReplaceConfig validates and installs a new trading configuration.
func (s *JSONStore) ReplaceConfig(cfg *config.Trading) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.Clone()
	s.persist(configFile, s.cfg)
	return nil
}

// State returns a copy of the current runtime state.
func (s *JSONStore) State() models.BotState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyState(s.state)
}

// MutateState applies fn to a scratch copy of the state, validates the
// result, and installs it. An error from fn or validation leaves the
// state untouched.
func (s *JSONStore) MutateState(fn func(*models.BotState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateLocked(fn)
}

func (s *JSONStore) mutateLocked(fn func(*models.BotState) error) error {
	next := copyState(s.state)
	if err := fn(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("rejected state mutation: %w", err)
	}
	if !models.CanTransition(s.state.Status, next.Status) {
		return fmt.Errorf("rejected state mutation: illegal transition %s -> %s", s.state.Status, next.Status)
	}
	s.state = &next
	s.persist(stateFile, s.state)
	return nil
}

// AppendTrade appends one history row. An empty ID is assigned.
func (s *JSONStore) AppendTrade(rec models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(rec)
}

// RecordClose appends the trade and applies the state mutation under
// one lock so the history row and the cleared position persist
// together. Neither side commits unless both succeed.
func (s *JSONStore) RecordClose(rec models.TradeRecord, fn func(*models.BotState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	staged := make([]models.TradeRecord, len(s.history), len(s.history)+1)
	copy(staged, s.history)
	staged = append(staged, rec)

	next := copyState(s.state)
	if err := fn(&next); err != nil {
		return err
	}
	stats := computeStats(staged)
	next.TotalTrades = stats.TotalTrades
	next.TotalPnL = stats.TotalPnL
	next.WinRate = stats.WinRate
	if err := next.Validate(); err != nil {
		return fmt.Errorf("rejected state mutation: %w", err)
	}
	if !models.CanTransition(s.state.Status, next.Status) {
		return fmt.Errorf("rejected state mutation: illegal transition %s -> %s", s.state.Status, next.Status)
	}

	s.history = staged
	s.state = &next
	s.persist(historyFile, s.history)
	s.persist(stateFile, s.state)
	return nil
}

func (s *JSONStore) appendLocked(rec models.TradeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	s.history = append(s.history, rec)
	s.persist(historyFile, s.history)
	return nil
}

// History returns one page of trades, newest first, plus the total count.
// page is 1-based.
func (s *JSONStore) History(page, pageSize int) ([]models.TradeRecord, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.history)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	start := (page - 1) * pageSize
	if start >= total {
		return []models.TradeRecord{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	out := make([]models.TradeRecord, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, s.history[total-1-i])
	}
	return out, total
}

// Stats returns the aggregates over the full history.
func (s *JSONStore) Stats() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return computeStats(s.history)
}

// Dirty reports whether the in-memory view is ahead of the disk copy.
func (s *JSONStore) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// recomputeAggregates refreshes the state's history aggregates on boot.
func (s *JSONStore) recomputeAggregates() {
	stats := computeStats(s.history)
	s.state.TotalTrades = stats.TotalTrades
	s.state.TotalPnL = stats.TotalPnL
	s.state.WinRate = stats.WinRate
}

func computeStats(history []models.TradeRecord) Statistics {
	stats := Statistics{
		TotalTrades: len(history),
		WinRate:     decimal.Zero,
		TotalPnL:    decimal.Zero,
	}
	for _, t := range history {
		stats.TotalPnL = stats.TotalPnL.Add(t.PnL)
		if t.PnL.Sign() > 0 {
			stats.WinningTrades++
		} else {
			stats.LosingTrades++
		}
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = decimal.NewFromInt(int64(stats.WinningTrades)).
			Div(decimal.NewFromInt(int64(stats.TotalTrades))).
			Mul(decimal.NewFromInt(100))
	}
	return stats
}

// persist writes v to name atomically, retrying once. On a second
// failure the in-memory view stays authoritative and the dirty flag is
// raised. Caller holds mu.
func (s *JSONStore) persist(name string, v any) {
	if err := s.writeJSON(name, v); err != nil {
		s.log.Warn("STORAGE", "write failed, retrying", map[string]any{"file": name, "error": err.Error()})
		if err := s.writeJSON(name, v); err != nil {
			s.dirty = true
			s.log.Error("STORAGE", "persistence degraded, keeping state in memory", map[string]any{"file": name, "error": err.Error()})
			return
		}
	}
	s.dirty = false
}

func (s *JSONStore) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// copyState deep-copies via the JSON codec; every field round-trips.
func copyState(st *models.BotState) models.BotState {
	b, err := json.Marshal(st)
	if err != nil {
		panic(fmt.Sprintf("state copy: %v", err))
	}
	var out models.BotState
	if err := json.Unmarshal(b, &out); err != nil {
		panic(fmt.Sprintf("state copy: %v", err))
	}
	return out
}
