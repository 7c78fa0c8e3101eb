package retry

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/perp_sentinel/internal/botlog"
	"github.com/eddiefleurent/perp_sentinel/internal/exchange"
)

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func testLogger(t *testing.T) *botlog.Logger {
	t.Helper()
	log, err := botlog.New(t.TempDir(), time.UTC, logrus.ErrorLevel)
	require.NoError(t, err)
	return log
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(), testLogger(t), "op", func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(), testLogger(t), "op", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &exchange.Error{Kind: exchange.KindNetwork, Msg: "connection reset"}
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(), testLogger(t), "op", func(context.Context) (int, error) {
		calls++
		return 0, &exchange.Error{Kind: exchange.KindInvalidOrder, Msg: "bad params"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors never retry")
}

func TestDoExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(), testLogger(t), "op", func(context.Context) (int, error) {
		calls++
		return 0, &exchange.Error{Kind: exchange.KindRateLimit, Msg: "429"}
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls, "initial attempt plus three retries")
	assert.Contains(t, err.Error(), "after 4 attempts")
}

func TestDoHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, fastConfig(), testLogger(t), "op", func(context.Context) (int, error) {
		return 0, &exchange.Error{Kind: exchange.KindNetwork, Msg: "down"}
	})
	assert.Error(t, err)
}

func TestNextBackoffBounded(t *testing.T) {
	b := nextBackoff(20*time.Second, 30*time.Second)
	assert.GreaterOrEqual(t, b, 30*time.Second)
	assert.LessOrEqual(t, b, 30*time.Second+30*time.Second/4)
}
