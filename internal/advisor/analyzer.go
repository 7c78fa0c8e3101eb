package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/perp_sentinel/internal/botlog"
	"github.com/eddiefleurent/perp_sentinel/internal/models"
)

// Snapshot is the market context sent to the model.
type Snapshot struct {
	Symbol     string
	Price      decimal.Decimal
	Indicators models.IndicatorSet
	Candidate  models.Direction // the technical rules' proposed side
}

// Service is what the engine requires of an advisory source.
type Service interface {
	// Advise returns an advisory for the snapshot. Implementations
	// never return an error: failures degrade to the sentinel.
	Advise(ctx context.Context, snap Snapshot) models.Advisory
}

// Disabled is the Service used when the advisory is turned off.
type Disabled struct{}

func (Disabled) Advise(context.Context, Snapshot) models.Advisory {
	return models.SentinelAdvisory()
}

const cacheBucket = 10 * time.Minute

const systemPrompt = `You are a trading analyst for USDT-margined perpetual futures.
Respond with JSON only, no prose, matching exactly:
{"direction":"LONG|SHORT|IDLE","confidence":0-100,"score":0-100,"risk_level":"LOW|MEDIUM|HIGH","reasoning":"one sentence"}`

type cacheEntry struct {
	advisory models.Advisory
	bucket   int64
}

// Analyzer turns snapshots into advisories through the LLM client,
// caching one result per symbol per ten-minute bucket.
type Analyzer struct {
	client *Client
	log    *botlog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

// Ensure Analyzer implements Service at compile time.
var _ Service = (*Analyzer)(nil)

// NewAnalyzer creates an Analyzer over the given client.
func NewAnalyzer(client *Client, logger *botlog.Logger) *Analyzer {
	return &Analyzer{
		client: client,
		log:    logger,
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

// Advise fetches or reuses an advisory for the snapshot. Any failure
// degrades to the sentinel and is logged, never propagated.
func (a *Analyzer) Advise(ctx context.Context, snap Snapshot) models.Advisory {
	if !a.client.IsConfigured() {
		return models.SentinelAdvisory()
	}

	bucket := a.now().Unix() / int64(cacheBucket.Seconds())
	a.mu.Lock()
	if e, ok := a.cache[snap.Symbol]; ok && e.bucket == bucket {
		a.mu.Unlock()
		return e.advisory
	}
	a.mu.Unlock()

	advisory, err := a.fetch(ctx, snap)
	if err != nil {
		a.log.Warn("ADVISOR", "advisory unavailable, proceeding without it", map[string]any{
			"symbol": snap.Symbol, "error": err.Error(),
		})
		return models.SentinelAdvisory()
	}

	a.mu.Lock()
	a.cache[snap.Symbol] = cacheEntry{advisory: advisory, bucket: bucket}
	a.mu.Unlock()
	return advisory
}

func (a *Analyzer) fetch(ctx context.Context, snap Snapshot) (models.Advisory, error) {
	raw, err := a.client.Complete(ctx, systemPrompt, buildPrompt(snap))
	if err != nil {
		return models.Advisory{}, err
	}
	return parseAdvisory(raw)
}

func buildPrompt(snap Snapshot) string {
	ind := snap.Indicators
	return fmt.Sprintf(`Symbol: %s
Price: %s
Proposed side: %s
EMA20: %.4f  EMA30: %.4f  EMA60: %.4f
RSI(14): %.2f
ATR(14): %.4f
ADX: 15m=%.2f 1h=%.2f 4h=%.2f
Assess whether the proposed side is worth taking right now.`,
		snap.Symbol, snap.Price, snap.Candidate,
		ind.EMA20, ind.EMA30, ind.EMA60, ind.RSI, ind.ATR,
		ind.ADX15m, ind.ADX1h, ind.ADX4h)
}

// stripMarkdownCodeBlock removes markdown fences some models wrap
// around JSON responses.
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)
	re := regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")
	if matches := re.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return response
}

func parseAdvisory(raw string) (models.Advisory, error) {
	var adv models.Advisory
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(raw)), &adv); err != nil {
		return models.Advisory{}, fmt.Errorf("malformed advisory: %w", err)
	}

	switch adv.Direction {
	case models.AdvisoryLong, models.AdvisoryShort, models.AdvisoryIdle:
	default:
		return models.Advisory{}, fmt.Errorf("malformed advisory: direction %q", adv.Direction)
	}
	switch adv.RiskLevel {
	case models.RiskLow, models.RiskMedium, models.RiskHigh:
	default:
		return models.Advisory{}, fmt.Errorf("malformed advisory: risk level %q", adv.RiskLevel)
	}

	adv.Confidence = clamp(adv.Confidence, 0, 100)
	adv.Score = clamp(adv.Score, 0, 100)
	return adv, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
