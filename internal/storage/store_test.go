package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/perp_sentinel/internal/botlog"
	"github.com/eddiefleurent/perp_sentinel/internal/models"
)

func testLogger(t *testing.T) *botlog.Logger {
	t.Helper()
	log, err := botlog.New(t.TempDir(), time.UTC, logrus.ErrorLevel)
	require.NoError(t, err)
	return log
}

func newTestStore(t *testing.T) (*JSONStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewJSONStore(dir, testLogger(t))
	require.NoError(t, err)
	return s, dir
}

func sampleTrade(id string, pnl int64) models.TradeRecord {
	open := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return models.TradeRecord{
		ID:            id,
		Symbol:        "BTC/USDT",
		Direction:     models.DirectionLong,
		EntryPrice:    decimal.NewFromInt(50000),
		ExitPrice:     decimal.NewFromInt(51000),
		Quantity:      decimal.NewFromFloat(0.02),
		Leverage:      5,
		PnL:           decimal.NewFromInt(pnl),
		PnLPercentage: decimal.NewFromInt(10),
		OpenTime:      open,
		CloseTime:     open.Add(2 * time.Hour),
		Reason:        models.CloseReasonTP1,
	}
}

func openPosition() *models.Position {
	return &models.Position{
		Symbol:          "BTC/USDT",
		Direction:       models.DirectionLong,
		EntryPrice:      decimal.NewFromInt(50000),
		Quantity:        decimal.NewFromFloat(0.02),
		Leverage:        5,
		StopLoss:        decimal.NewFromInt(49000),
		InitialStopLoss: decimal.NewFromInt(49000),
		TakeProfit1:     decimal.NewFromInt(51000),
		TakeProfit2:     decimal.NewFromInt(52000),
		OpenTime:        time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		OrderID:         "1001",
	}
}

func TestNewStoreDefaults(t *testing.T) {
	s, dir := newTestStore(t)

	assert.Equal(t, models.StatusIdle, s.State().Status)
	assert.True(t, s.State().AllowNewTrades)
	assert.Equal(t, []string{"BTC/USDT"}, s.Config().Symbols)
	assert.False(t, s.Dirty())

	// Boot heals the on-disk copies.
	for _, name := range []string{configFile, stateFile, historyFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	s, dir := newTestStore(t)

	require.NoError(t, s.MutateState(func(st *models.BotState) error {
		st.Status = models.StatusMonitoring
		st.IsRunning = true
		st.TodayTrades = 2
		return nil
	}))

	s2, err := NewJSONStore(dir, testLogger(t))
	require.NoError(t, err)
	st := s2.State()
	assert.Equal(t, models.StatusMonitoring, st.Status)
	assert.True(t, st.IsRunning)
	assert.Equal(t, 2, st.TodayTrades)
}

func TestMalformedStateFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFile), []byte("{not json"), 0o644))

	s, err := NewJSONStore(dir, testLogger(t))
	require.NoError(t, err, "a corrupt file never fails boot")
	assert.Equal(t, models.StatusIdle, s.State().Status)
}

func TestPartialConfigMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFile), []byte(`{"leverage": 8}`), 0o644))

	s, err := NewJSONStore(dir, testLogger(t))
	require.NoError(t, err)
	cfg := s.Config()
	assert.Equal(t, 8, cfg.Leverage)
	assert.Equal(t, 1.0, cfg.MaxRiskPercentage, "absent fields keep defaults")
}

func TestMutateStateRejectsInvalid(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.MutateState(func(st *models.BotState) error {
		st.Status = models.StatusPosition // no position attached
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, models.StatusIdle, s.State().Status, "failed mutation leaves state untouched")
}

func TestMutateStateRejectsIllegalTransition(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.MutateState(func(st *models.BotState) error {
		st.Status = models.StatusClosing
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal transition")
}

func TestRecordCloseIsAtomic(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.MutateState(func(st *models.BotState) error {
		st.Status = models.StatusMonitoring
		return nil
	}))
	require.NoError(t, s.MutateState(func(st *models.BotState) error {
		st.Status = models.StatusOpening
		return nil
	}))
	require.NoError(t, s.MutateState(func(st *models.BotState) error {
		st.Status = models.StatusPosition
		st.CurrentPosition = openPosition()
		return nil
	}))

	require.NoError(t, s.RecordClose(sampleTrade("", 20), func(st *models.BotState) error {
		st.Status = models.StatusMonitoring
		st.CurrentPosition = nil
		st.DailyPnL = st.DailyPnL.Add(decimal.NewFromInt(20))
		return nil
	}))

	st := s.State()
	assert.Nil(t, st.CurrentPosition)
	assert.Equal(t, 1, st.TotalTrades, "aggregates refresh on close")
	assert.True(t, st.TotalPnL.Equal(decimal.NewFromInt(20)))
	trades, total := s.History(1, 10)
	require.Equal(t, 1, total)
	assert.NotEmpty(t, trades[0].ID, "missing ids are assigned")
}

func TestRecordCloseRollsBackOnBadMutation(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.RecordClose(sampleTrade("t1", 20), func(st *models.BotState) error {
		st.Status = models.StatusClosing // illegal from IDLE
		return nil
	})
	require.Error(t, err)
	_, total := s.History(1, 10)
	assert.Zero(t, total, "a rejected mutation keeps the history row out")
}

func TestHistoryPagination(t *testing.T) {
	s, _ := newTestStore(t)
	for i := 0; i < 5; i++ {
		rec := sampleTrade("", 10)
		rec.CloseTime = rec.CloseTime.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.AppendTrade(rec))
	}

	page1, total := s.History(1, 2)
	require.Equal(t, 5, total)
	require.Len(t, page1, 2)
	assert.True(t, page1[0].CloseTime.After(page1[1].CloseTime), "newest first")

	page3, _ := s.History(3, 2)
	assert.Len(t, page3, 1)

	empty, _ := s.History(9, 2)
	assert.Empty(t, empty)
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.AppendTrade(sampleTrade("w1", 30)))
	require.NoError(t, s.AppendTrade(sampleTrade("w2", 10)))
	require.NoError(t, s.AppendTrade(sampleTrade("l1", -20)))

	stats := s.Stats()
	assert.Equal(t, 3, stats.TotalTrades)
	assert.Equal(t, 2, stats.WinningTrades)
	assert.Equal(t, 1, stats.LosingTrades)
	assert.True(t, stats.TotalPnL.Equal(decimal.NewFromInt(20)))
	assert.True(t, stats.WinRate.Round(2).Equal(decimal.NewFromFloat(66.67)), "got %s", stats.WinRate)
}

func TestAggregatesRecomputedOnBoot(t *testing.T) {
	s, dir := newTestStore(t)
	require.NoError(t, s.AppendTrade(sampleTrade("w1", 30)))
	require.NoError(t, s.AppendTrade(sampleTrade("l1", -10)))

	s2, err := NewJSONStore(dir, testLogger(t))
	require.NoError(t, err)
	st := s2.State()
	assert.Equal(t, 2, st.TotalTrades)
	assert.True(t, st.TotalPnL.Equal(decimal.NewFromInt(20)))
	assert.True(t, st.WinRate.Equal(decimal.NewFromInt(50)))
}

func TestDirtyFlagOnWriteFailure(t *testing.T) {
	s, dir := newTestStore(t)

	// A directory squatting on the temp path makes every write fail.
	require.NoError(t, os.RemoveAll(filepath.Join(dir, stateFile+".tmp")))
	require.NoError(t, os.Mkdir(filepath.Join(dir, stateFile+".tmp"), 0o755))

	require.NoError(t, s.MutateState(func(st *models.BotState) error {
		st.Status = models.StatusMonitoring
		return nil
	}), "persistence failure never fails the mutation")
	assert.True(t, s.Dirty())
	assert.Equal(t, models.StatusMonitoring, s.State().Status, "memory stays authoritative")

	// Clearing the obstruction lets the next write succeed.
	require.NoError(t, os.Remove(filepath.Join(dir, stateFile+".tmp")))
	require.NoError(t, s.MutateState(func(st *models.BotState) error {
		st.TodayTrades = 1
		return nil
	}))
	assert.False(t, s.Dirty())
}

func TestMockStorageMatchesStoreSemantics(t *testing.T) {
	m := NewMockStorage()

	require.NoError(t, m.MutateState(func(st *models.BotState) error {
		st.Status = models.StatusMonitoring
		return nil
	}))
	require.NoError(t, m.RecordClose(sampleTrade("", 15), func(st *models.BotState) error {
		st.DailyPnL = decimal.NewFromInt(15)
		return nil
	}))

	assert.Equal(t, models.StatusMonitoring, m.State().Status)
	_, total := m.History(1, 10)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, m.Stats().TotalTrades)
}
