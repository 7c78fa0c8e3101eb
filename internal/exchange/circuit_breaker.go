package exchange

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/perp_sentinel/internal/models"
)

// CircuitBreakerExchange wraps an Exchange with a transport circuit
// breaker. This protects against a flapping venue; it is unrelated to
// the trading circuit breaker in the risk controller.
type CircuitBreakerExchange struct {
	ex      Exchange
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerExchange implements Exchange at compile time.
var _ Exchange = (*CircuitBreakerExchange)(nil)

// CircuitBreakerSettings configures the transport breaker.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerExchange wraps ex with sensible defaults.
func NewCircuitBreakerExchange(ex Exchange) *CircuitBreakerExchange {
	return NewCircuitBreakerExchangeWithSettings(ex, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerExchangeWithSettings wraps ex with custom settings.
func NewCircuitBreakerExchangeWithSettings(ex Exchange, settings CircuitBreakerSettings) *CircuitBreakerExchange {
	gbSettings := gobreaker.Settings{
		Name:        "ExchangeCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerExchange{
		ex:      ex,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// exec is a generic helper for the wrapper methods.
func exec[T any](breaker *gobreaker.CircuitBreaker, ex Exchange, fn func(Exchange) (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(ex) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// execVoid wraps error-only methods.
func execVoid(breaker *gobreaker.CircuitBreaker, ex Exchange, fn func(Exchange) error) error {
	_, err := breaker.Execute(func() (interface{}, error) { return nil, fn(ex) })
	return err
}

func (c *CircuitBreakerExchange) LoadMarkets(ctx context.Context) error {
	return execVoid(c.breaker, c.ex, func(e Exchange) error { return e.LoadMarkets(ctx) })
}

// Market reads cached rules; no venue call, no breaker.
func (c *CircuitBreakerExchange) Market(symbol string) (SymbolMeta, error) {
	return c.ex.Market(symbol)
}

func (c *CircuitBreakerExchange) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return exec(c.breaker, c.ex, func(e Exchange) (decimal.Decimal, error) { return e.FetchPrice(ctx, symbol) })
}

func (c *CircuitBreakerExchange) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	return exec(c.breaker, c.ex, func(e Exchange) ([]models.Candle, error) {
		return e.FetchOHLCV(ctx, symbol, interval, limit)
	})
}

func (c *CircuitBreakerExchange) FetchAvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	return exec(c.breaker, c.ex, func(e Exchange) (decimal.Decimal, error) { return e.FetchAvailableBalance(ctx) })
}

func (c *CircuitBreakerExchange) FetchPositions(ctx context.Context, symbol string) ([]PositionInfo, error) {
	return exec(c.breaker, c.ex, func(e Exchange) ([]PositionInfo, error) { return e.FetchPositions(ctx, symbol) })
}

func (c *CircuitBreakerExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return execVoid(c.breaker, c.ex, func(e Exchange) error { return e.SetLeverage(ctx, symbol, leverage) })
}

func (c *CircuitBreakerExchange) SetMarginMode(ctx context.Context, symbol string, mode MarginMode) error {
	return execVoid(c.breaker, c.ex, func(e Exchange) error { return e.SetMarginMode(ctx, symbol, mode) })
}

func (c *CircuitBreakerExchange) SetOneWayMode(ctx context.Context) error {
	return execVoid(c.breaker, c.ex, func(e Exchange) error { return e.SetOneWayMode(ctx) })
}

func (c *CircuitBreakerExchange) MarketOrder(ctx context.Context, symbol string, side Side, quantity decimal.Decimal, reduceOnly bool) (*OrderResult, error) {
	return exec(c.breaker, c.ex, func(e Exchange) (*OrderResult, error) {
		return e.MarketOrder(ctx, symbol, side, quantity, reduceOnly)
	})
}

func (c *CircuitBreakerExchange) StopMarketOrder(ctx context.Context, symbol string, side Side, quantity, stopPrice decimal.Decimal, reduceOnly bool) (*OrderResult, error) {
	return exec(c.breaker, c.ex, func(e Exchange) (*OrderResult, error) {
		return e.StopMarketOrder(ctx, symbol, side, quantity, stopPrice, reduceOnly)
	})
}

func (c *CircuitBreakerExchange) FetchOrder(ctx context.Context, symbol, orderID string) (*OrderResult, error) {
	return exec(c.breaker, c.ex, func(e Exchange) (*OrderResult, error) { return e.FetchOrder(ctx, symbol, orderID) })
}

func (c *CircuitBreakerExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return execVoid(c.breaker, c.ex, func(e Exchange) error { return e.CancelOrder(ctx, symbol, orderID) })
}

func (c *CircuitBreakerExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	return execVoid(c.breaker, c.ex, func(e Exchange) error { return e.CancelAllOrders(ctx, symbol) })
}
