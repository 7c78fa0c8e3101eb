package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
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
	logger, err := botlog.New(t.TempDir(), time.UTC, logrus.PanicLevel)
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger
}

func openAIResponse(content string) any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
}

func newTestAnalyzer(t *testing.T, handler http.HandlerFunc) *Analyzer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(ClientConfig{
		Provider: ProviderOpenAI,
		APIKey:   "test-key",
		BaseURL:  srv.URL,
		Model:    "test-model",
		Timeout:  2 * time.Second,
	})
	return NewAnalyzer(client, testLogger(t))
}

func snap() Snapshot {
	return Snapshot{
		Symbol:    "BTC/USDT",
		Price:     decimal.NewFromInt(50000),
		Candidate: models.DirectionLong,
		Indicators: models.IndicatorSet{
			EMA20: 50100, EMA30: 50050, EMA60: 49900,
			RSI: 58, ATR: 320, ADX15m: 27, ADX1h: 31, ADX4h: 22,
		},
	}
}

func TestAdviseParsesResponse(t *testing.T) {
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(openAIResponse(
			`{"direction":"LONG","confidence":72,"score":65,"risk_level":"MEDIUM","reasoning":"trend intact"}`))
	})

	adv := a.Advise(context.Background(), snap())
	assert.Equal(t, models.AdvisoryLong, adv.Direction)
	assert.Equal(t, 72.0, adv.Confidence)
	assert.Equal(t, models.RiskMedium, adv.RiskLevel)
}

func TestAdviseStripsMarkdownFences(t *testing.T) {
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openAIResponse(
			"```json\n{\"direction\":\"SHORT\",\"confidence\":61,\"score\":55,\"risk_level\":\"LOW\",\"reasoning\":\"x\"}\n```"))
	})

	adv := a.Advise(context.Background(), snap())
	assert.Equal(t, models.AdvisoryShort, adv.Direction)
	assert.Equal(t, models.RiskLow, adv.RiskLevel)
}

func TestAdviseSentinelOnServerError(t *testing.T) {
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	adv := a.Advise(context.Background(), snap())
	assert.Equal(t, models.SentinelAdvisory(), adv)
}

func TestAdviseSentinelOnMalformedJSON(t *testing.T) {
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openAIResponse(`I think you should go long because...`))
	})

	adv := a.Advise(context.Background(), snap())
	assert.Equal(t, models.SentinelAdvisory(), adv)
}

func TestAdviseSentinelOnInvalidEnum(t *testing.T) {
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openAIResponse(
			`{"direction":"MAYBE","confidence":70,"score":60,"risk_level":"LOW","reasoning":"x"}`))
	})

	adv := a.Advise(context.Background(), snap())
	assert.Equal(t, models.SentinelAdvisory(), adv)
}

func TestAdviseCachesPerBucket(t *testing.T) {
	var calls atomic.Int32
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(openAIResponse(
			`{"direction":"LONG","confidence":70,"score":60,"risk_level":"LOW","reasoning":"x"}`))
	})

	base := time.Date(2026, 3, 10, 12, 1, 0, 0, time.UTC)
	a.now = func() time.Time { return base }

	a.Advise(context.Background(), snap())
	a.Advise(context.Background(), snap())
	assert.Equal(t, int32(1), calls.Load(), "second call within the bucket must hit the cache")

	a.now = func() time.Time { return base.Add(cacheBucket) }
	a.Advise(context.Background(), snap())
	assert.Equal(t, int32(2), calls.Load(), "new bucket refetches")
}

func TestAdviseUnconfiguredReturnsSentinel(t *testing.T) {
	client := NewClient(ClientConfig{Provider: ProviderOpenAI})
	a := NewAnalyzer(client, testLogger(t))
	adv := a.Advise(context.Background(), snap())
	assert.Equal(t, models.SentinelAdvisory(), adv)
}

func TestConfidenceClamped(t *testing.T) {
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openAIResponse(
			`{"direction":"LONG","confidence":140,"score":-5,"risk_level":"LOW","reasoning":"x"}`))
	})

	adv := a.Advise(context.Background(), snap())
	assert.Equal(t, 100.0, adv.Confidence)
	assert.Equal(t, 0.0, adv.Score)
}

func TestDisabledService(t *testing.T) {
	var s Service = Disabled{}
	assert.Equal(t, models.SentinelAdvisory(), s.Advise(context.Background(), Snapshot{}))
}
