package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerPassesThrough(t *testing.T) {
	mock := NewMock()
	mock.Prices["BTC/USDT"] = decimal.NewFromInt(50000)
	mock.Balance = decimal.NewFromInt(1000)

	cb := NewCircuitBreakerExchange(mock)

	price, err := cb.FetchPrice(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(50000)))

	bal, err := cb.FetchAvailableBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(1000)))
}

func TestCircuitBreakerTripsAfterRepeatedFailures(t *testing.T) {
	mock := NewMock()
	mock.Fail["FetchPrice"] = &Error{Kind: KindNetwork, Msg: "connection reset"}

	cb := NewCircuitBreakerExchangeWithSettings(mock, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.6,
	})

	for i := 0; i < 3; i++ {
		_, err := cb.FetchPrice(context.Background(), "BTC/USDT")
		require.Error(t, err)
	}

	// Circuit is now open; the underlying exchange must not be called.
	before := len(mock.Calls())
	_, err := cb.FetchPrice(context.Background(), "BTC/USDT")
	require.Error(t, err)
	assert.Len(t, mock.Calls(), before, "open circuit should short-circuit the call")
}

func TestCircuitBreakerVoidMethods(t *testing.T) {
	mock := NewMock()
	cb := NewCircuitBreakerExchange(mock)

	require.NoError(t, cb.SetLeverage(context.Background(), "BTC/USDT", 5))
	assert.Equal(t, 5, mock.Leverage["BTC/USDT"])

	mock.Fail["CancelOrder"] = errors.New("boom")
	assert.Error(t, cb.CancelOrder(context.Background(), "BTC/USDT", "1"))
}

func TestMockTolerantCancelSemantics(t *testing.T) {
	mock := NewMock()
	err := mock.CancelOrder(context.Background(), "BTC/USDT", "999")
	assert.True(t, IsUnknownOrder(err), "canceling a missing order reports unknown order")
}
