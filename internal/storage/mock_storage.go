package storage

import (
	"sync"

	"github.com/google/uuid"

	"github.com/eddiefleurent/perp_sentinel/internal/config"
	"github.com/eddiefleurent/perp_sentinel/internal/models"
)

// MockStorage is an in-memory Interface implementation for tests.
// It applies mutations for real so engine tests observe state the way
// production code would, and lets tests inject failures per method.
type MockStorage struct {
	mu      sync.Mutex
	cfg     *config.Trading
	state   models.BotState
	history []models.TradeRecord
	dirty   bool

	// Errs maps method name to the error it should return.
	Errs map[string]error
}

var _ Interface = (*MockStorage)(nil)

// NewMockStorage returns a mock seeded with defaults.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		cfg:   config.DefaultTrading(),
		state: *models.NewBotState(),
		Errs:  map[string]error{},
	}
}

// SetState replaces the state without validation, for test setup.
func (m *MockStorage) SetState(st models.BotState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
}

// SetDirty forces the dirty flag, for test setup.
func (m *MockStorage) SetDirty(d bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = d
}

func (m *MockStorage) Config() *config.Trading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Clone()
}

func (m *MockStorage) ReplaceConfig(cfg *config.Trading) error {
	if err := m.Errs["ReplaceConfig"]; err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.Clone()
	return nil
}

func (m *MockStorage) State() models.BotState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyState(&m.state)
}

func (m *MockStorage) MutateState(fn func(*models.BotState) error) error {
	if err := m.Errs["MutateState"]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutate(fn)
}

func (m *MockStorage) mutate(fn func(*models.BotState) error) error {
	next := copyState(&m.state)
	if err := fn(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	m.state = next
	return nil
}

func (m *MockStorage) AppendTrade(rec models.TradeRecord) error {
	if err := m.Errs["AppendTrade"]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.append(rec)
}

func (m *MockStorage) RecordClose(rec models.TradeRecord, fn func(*models.BotState) error) error {
	if err := m.Errs["RecordClose"]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.append(rec); err != nil {
		return err
	}
	return m.mutate(fn)
}

func (m *MockStorage) append(rec models.TradeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	m.history = append(m.history, rec)
	return nil
}

func (m *MockStorage) History(page, pageSize int) ([]models.TradeRecord, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := len(m.history)
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
		out = append(out, m.history[total-1-i])
	}
	return out, total
}

func (m *MockStorage) Stats() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return computeStats(m.history)
}

func (m *MockStorage) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}
