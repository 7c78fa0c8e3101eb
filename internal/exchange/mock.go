package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/perp_sentinel/internal/models"
)

// Mock is a hand-written in-memory Exchange for tests. Behavior is
// configured through exported fields; per-method error injection goes
// through Fail.
type Mock struct {
	mu sync.Mutex

	Prices   map[string]decimal.Decimal
	Candles  map[string][]models.Candle // keyed by symbol+"/"+interval
	Balance  decimal.Decimal
	Pos      map[string][]PositionInfo
	Markets  map[string]SymbolMeta
	Orders   map[string]*OrderResult
	Fail     map[string]error // method name -> error to return
	Canceled []string
	Leverage map[string]int

	nextOrderID int64
	FillMarket  bool // when true, market orders report FILLED immediately
	MarketFill  decimal.Decimal
	callLog     []string
}

// Ensure Mock implements Exchange at compile time.
var _ Exchange = (*Mock)(nil)

// NewMock returns a Mock with empty tables and immediate market fills.
func NewMock() *Mock {
	return &Mock{
		Prices:      make(map[string]decimal.Decimal),
		Candles:     make(map[string][]models.Candle),
		Pos:         make(map[string][]PositionInfo),
		Markets:     make(map[string]SymbolMeta),
		Orders:      make(map[string]*OrderResult),
		Fail:        make(map[string]error),
		Leverage:    make(map[string]int),
		nextOrderID: 1000,
		FillMarket:  true,
	}
}

// Calls returns the ordered method call log.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.callLog))
	copy(out, m.callLog)
	return out
}

func (m *Mock) record(name string) error {
	m.callLog = append(m.callLog, name)
	if err, ok := m.Fail[name]; ok {
		return err
	}
	return nil
}

func (m *Mock) LoadMarkets(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("LoadMarkets")
}

func (m *Mock) Market(symbol string) (SymbolMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.Markets[venueSymbol(symbol)]
	if !ok {
		return SymbolMeta{}, &Error{Kind: KindUnknownSymbol, Msg: "market not loaded: " + symbol}
	}
	return meta, nil
}

func (m *Mock) FetchPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("FetchPrice"); err != nil {
		return decimal.Zero, err
	}
	p, ok := m.Prices[symbol]
	if !ok {
		return decimal.Zero, &Error{Kind: KindUnknownSymbol, Msg: "no price for " + symbol}
	}
	return p, nil
}

func (m *Mock) FetchOHLCV(_ context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("FetchOHLCV"); err != nil {
		return nil, err
	}
	candles := m.Candles[symbol+"/"+interval]
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]models.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

func (m *Mock) FetchAvailableBalance(_ context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("FetchAvailableBalance"); err != nil {
		return decimal.Zero, err
	}
	return m.Balance, nil
}

func (m *Mock) FetchPositions(_ context.Context, symbol string) ([]PositionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("FetchPositions"); err != nil {
		return nil, err
	}
	out := make([]PositionInfo, len(m.Pos[symbol]))
	copy(out, m.Pos[symbol])
	return out, nil
}

func (m *Mock) SetLeverage(_ context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("SetLeverage"); err != nil {
		return err
	}
	m.Leverage[symbol] = leverage
	return nil
}

func (m *Mock) SetMarginMode(_ context.Context, _ string, _ MarginMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("SetMarginMode")
}

func (m *Mock) SetOneWayMode(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("SetOneWayMode")
}

func (m *Mock) MarketOrder(_ context.Context, symbol string, side Side, quantity decimal.Decimal, reduceOnly bool) (*OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("MarketOrder"); err != nil {
		return nil, err
	}

	status := StatusNew
	exec := decimal.Zero
	avg := decimal.Zero
	if m.FillMarket {
		status = StatusFilled
		exec = quantity
		avg = m.MarketFill
		if avg.IsZero() {
			avg = m.Prices[symbol]
		}
	}
	res := &OrderResult{
		OrderID:     m.issueID(),
		Symbol:      venueSymbol(symbol),
		Side:        side,
		Type:        OrderTypeMarket,
		Status:      status,
		Quantity:    quantity,
		ExecutedQty: exec,
		AvgPrice:    avg,
		ReduceOnly:  reduceOnly,
		UpdateTime:  time.Now(),
	}
	m.Orders[res.OrderID] = res
	return cloneOrder(res), nil
}

func (m *Mock) StopMarketOrder(_ context.Context, symbol string, side Side, quantity, stopPrice decimal.Decimal, reduceOnly bool) (*OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("StopMarketOrder"); err != nil {
		return nil, err
	}
	res := &OrderResult{
		OrderID:    m.issueID(),
		Symbol:     venueSymbol(symbol),
		Side:       side,
		Type:       OrderTypeStopMarket,
		Status:     StatusNew,
		Quantity:   quantity,
		StopPrice:  stopPrice,
		ReduceOnly: reduceOnly,
		UpdateTime: time.Now(),
	}
	m.Orders[res.OrderID] = res
	return cloneOrder(res), nil
}

func (m *Mock) FetchOrder(_ context.Context, _ string, orderID string) (*OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("FetchOrder"); err != nil {
		return nil, err
	}
	res, ok := m.Orders[orderID]
	if !ok {
		return nil, &Error{Kind: KindUnknownOrder, Code: codeOrderDoesNotExist, Msg: "unknown order " + orderID}
	}
	return cloneOrder(res), nil
}

func (m *Mock) CancelOrder(_ context.Context, _ string, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CancelOrder"); err != nil {
		return err
	}
	res, ok := m.Orders[orderID]
	if !ok {
		return &Error{Kind: KindUnknownOrder, Code: codeUnknownOrder, Msg: "unknown order " + orderID}
	}
	if !res.Closed() {
		res.Status = StatusCanceled
	}
	m.Canceled = append(m.Canceled, orderID)
	return nil
}

func (m *Mock) CancelAllOrders(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CancelAllOrders"); err != nil {
		return err
	}
	vs := venueSymbol(symbol)
	for id, res := range m.Orders {
		if res.Symbol == vs && !res.Closed() {
			res.Status = StatusCanceled
			m.Canceled = append(m.Canceled, id)
		}
	}
	return nil
}

// SetOrderStatus mutates a stored order, for scripting fills in tests.
func (m *Mock) SetOrderStatus(orderID, status string, avgPrice decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.Orders[orderID]
	if !ok {
		return fmt.Errorf("mock: unknown order %s", orderID)
	}
	res.Status = status
	if status == StatusFilled {
		res.ExecutedQty = res.Quantity
		res.AvgPrice = avgPrice
	}
	return nil
}

func (m *Mock) issueID() string {
	m.nextOrderID++
	return strconv.FormatInt(m.nextOrderID, 10)
}

func cloneOrder(o *OrderResult) *OrderResult {
	c := *o
	return &c
}
