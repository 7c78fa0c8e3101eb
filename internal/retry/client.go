// Package retry wraps venue calls that must not give up on the first
// transient failure, most importantly the reduce-only exit order.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/eddiefleurent/perp_sentinel/internal/botlog"
	"github.com/eddiefleurent/perp_sentinel/internal/exchange"
)

// Config bounds one retried operation.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig suits order placement: short enough that a stuck close
// surfaces within the monitoring cadence.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Do runs op until it succeeds, fails permanently, or the budget is
// exhausted. Only errors the exchange boundary classifies as transient
// (network, rate limit) are retried.
func Do[T any](ctx context.Context, cfg Config, log *botlog.Logger, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	opCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := opCtx.Err(); err != nil {
			return zero, fmt.Errorf("%s timed out after %v: %w", name, cfg.Timeout, err)
		}

		result, err := op(opCtx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !exchange.IsTransient(err) || attempt == cfg.MaxRetries {
			break
		}
		log.Warn("RETRY", name+" failed, retrying", map[string]any{
			"attempt": attempt + 1, "backoff": backoff.String(), "error": err.Error(),
		})
		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff, cfg.MaxBackoff)
		case <-opCtx.Done():
			return zero, fmt.Errorf("%s canceled during backoff: %w", name, opCtx.Err())
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", name, cfg.MaxRetries+1, lastErr)
}

// nextBackoff grows the delay by 1.5x with up to 25% random jitter so
// concurrent retries do not synchronize.
func nextBackoff(current, max time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > max {
		backoff = max
	}
	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		if jitter, err := rand.Int(rand.Reader, big.NewInt(maxJitter)); err == nil {
			backoff += time.Duration(jitter.Int64())
		}
	}
	return backoff
}
