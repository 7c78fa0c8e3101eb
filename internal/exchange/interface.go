// Package exchange is the typed boundary to the derivatives venue. The
// engine only sees this interface; raw exchange payloads never cross it.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/perp_sentinel/internal/models"
)

// Side is the order side on the venue.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// MarginMode is the per-symbol margin setting.
type MarginMode string

const (
	MarginCross    MarginMode = "CROSSED"
	MarginIsolated MarginMode = "ISOLATED"
)

// Order type and status strings as the venue reports them.
const (
	OrderTypeMarket     = "MARKET"
	OrderTypeStopMarket = "STOP_MARKET"

	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"
	StatusExpired         = "EXPIRED"
	StatusRejected        = "REJECTED"
)

// OrderResult is the normalized view of an order returned by the venue.
type OrderResult struct {
	OrderID     string
	Symbol      string
	Side        Side
	Type        string
	Status      string
	Quantity    decimal.Decimal
	ExecutedQty decimal.Decimal
	AvgPrice    decimal.Decimal
	StopPrice   decimal.Decimal
	ReduceOnly  bool
	UpdateTime  time.Time
}

// Filled reports whether the order is fully filled.
func (o *OrderResult) Filled() bool { return o.Status == StatusFilled }

// Closed reports whether the order reached a terminal status.
func (o *OrderResult) Closed() bool {
	switch o.Status {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	}
	return false
}

// PositionInfo is one row of the venue's position report. Amount is
// signed: positive long, negative short, zero flat.
type PositionInfo struct {
	Symbol        string
	Amount        decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Leverage      int
}

// Flat reports whether the venue considers the position closed.
func (p *PositionInfo) Flat() bool { return p.Amount.Sign() == 0 }

// SymbolMeta carries the trading rules for one market.
type SymbolMeta struct {
	Symbol      string
	StepSize    decimal.Decimal
	TickSize    decimal.Decimal
	MinNotional decimal.Decimal
	MaxLeverage int
}

// Exchange is what the engine requires of a venue adapter.
type Exchange interface {
	// LoadMarkets fetches trading rules for all configured symbols.
	// Must be called before any precision-dependent operation.
	LoadMarkets(ctx context.Context) error
	Market(symbol string) (SymbolMeta, error)

	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)

	FetchAvailableBalance(ctx context.Context) (decimal.Decimal, error)
	FetchPositions(ctx context.Context, symbol string) ([]PositionInfo, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol string, mode MarginMode) error
	SetOneWayMode(ctx context.Context) error

	MarketOrder(ctx context.Context, symbol string, side Side, quantity decimal.Decimal, reduceOnly bool) (*OrderResult, error)
	StopMarketOrder(ctx context.Context, symbol string, side Side, quantity, stopPrice decimal.Decimal, reduceOnly bool) (*OrderResult, error)

	FetchOrder(ctx context.Context, symbol, orderID string) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
}
