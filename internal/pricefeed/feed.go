// Package pricefeed maintains a live last-trade price cache over the
// venue's combined aggTrade websocket stream. Consumers read the cache;
// a stale or missing entry means the caller falls back to REST.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/perp_sentinel/internal/botlog"
)

const (
	defaultStreamURL = "wss://fstream.binance.com/stream"
	defaultTTL       = 5 * time.Second

	initialReconnectBackoff = time.Second
	maxReconnectBackoff     = 30 * time.Second
)

type entry struct {
	price decimal.Decimal
	at    time.Time
}

// Feed streams aggTrade ticks for a fixed symbol set and caches the
// latest price per symbol with a freshness TTL.
type Feed struct {
	streamURL string
	ttl       time.Duration
	symbols   []string          // "BTC/USDT" form
	bySymbol  map[string]string // venue form -> config form
	log       *botlog.Logger

	mu     sync.RWMutex
	prices map[string]entry

	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

// New builds a Feed for the given symbols.
func New(symbols []string, logger *botlog.Logger) *Feed {
	return NewWithURL(symbols, logger, defaultStreamURL, defaultTTL)
}

// NewWithURL allows overriding the stream endpoint and TTL (tests).
func NewWithURL(symbols []string, logger *botlog.Logger, streamURL string, ttl time.Duration) *Feed {
	bySymbol := make(map[string]string, len(symbols))
	for _, s := range symbols {
		bySymbol[strings.ToUpper(strings.ReplaceAll(s, "/", ""))] = s
	}
	return &Feed{
		streamURL: streamURL,
		ttl:       ttl,
		symbols:   symbols,
		bySymbol:  bySymbol,
		log:       logger,
		prices:    make(map[string]entry),
		now:       time.Now,
	}
}

// Start launches the stream goroutine. Idempotent until Stop.
func (f *Feed) Start(ctx context.Context) {
	if f.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.run(ctx)
}

// Stop tears the stream down and waits for the goroutine to exit.
func (f *Feed) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
	f.cancel = nil
}

// Price returns the cached price for symbol. ok is false when no tick
// has arrived or the cached tick is older than the TTL.
func (f *Feed) Price(symbol string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, found := f.prices[symbol]
	if !found || f.now().Sub(e.at) > f.ttl {
		return decimal.Zero, false
	}
	return e.price, true
}

func (f *Feed) url() string {
	streams := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		streams[i] = strings.ToLower(strings.ReplaceAll(s, "/", "")) + "@aggTrade"
	}
	return fmt.Sprintf("%s?streams=%s", f.streamURL, strings.Join(streams, "/"))
}

// run dials, reads until failure, and redials with bounded backoff.
func (f *Feed) run(ctx context.Context) {
	defer close(f.done)

	backoff := initialReconnectBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := f.dial(ctx)
		if err != nil {
			f.log.Warn("FEED", "websocket dial failed", map[string]any{
				"error": err.Error(), "retry_in": backoff.String(),
			})
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxReconnectBackoff {
				backoff = maxReconnectBackoff
			}
			continue
		}

		backoff = initialReconnectBackoff
		f.log.Info("FEED", "websocket connected", map[string]any{"symbols": len(f.symbols)})
		f.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() == nil {
			f.log.Warn("FEED", "websocket disconnected, reconnecting", nil)
		}
	}
}

func (f *Feed) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", f.streamURL, err)
	}
	return conn, nil
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage on shutdown.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.log.Warn("FEED", "websocket read error", map[string]any{"error": err.Error()})
			}
			return
		}
		f.handleMessage(message)
	}
}

type streamEnvelope struct {
	Stream string `json:"stream"`
	Data   struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Price  string `json:"p"`
		Time   int64  `json:"T"`
	} `json:"data"`
}

func (f *Feed) handleMessage(data []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	if env.Data.Event != "aggTrade" {
		return
	}
	symbol, ok := f.bySymbol[env.Data.Symbol]
	if !ok {
		return
	}
	price, err := decimal.NewFromString(env.Data.Price)
	if err != nil || price.Sign() <= 0 {
		return
	}

	f.mu.Lock()
	f.prices[symbol] = entry{price: price, at: f.now()}
	f.mu.Unlock()
}
