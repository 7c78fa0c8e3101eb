package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/perp_sentinel/internal/models"
)

const (
	defaultBaseURL = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"

	recvWindowMS = 5000
)

// Venue error codes the client branches on.
const (
	codeUnknownOrder       = -2011
	codeOrderDoesNotExist  = -2013
	codeMarginInsufficient = -2019
	codeNoNeedChangeMargin = -4046
	codeNoNeedChangeSide   = -4059
)

// BinanceClient is the USDT-margined perpetual futures REST adapter.
type BinanceClient struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	apiSecret string

	mu      sync.RWMutex
	markets map[string]SymbolMeta

	now func() time.Time
}

// Ensure BinanceClient implements Exchange at compile time.
var _ Exchange = (*BinanceClient)(nil)

// NewBinanceClient creates a futures REST client. testnet selects the
// paper-trading endpoint.
func NewBinanceClient(apiKey, apiSecret string, testnet bool) *BinanceClient {
	return NewBinanceClientWithBaseURL(apiKey, apiSecret, "", testnet)
}

// NewBinanceClientWithBaseURL allows overriding the endpoint (tests,
// proxies). An empty baseURL selects the default for the mode.
func NewBinanceClientWithBaseURL(apiKey, apiSecret, baseURL string, testnet bool) *BinanceClient {
	if baseURL == "" {
		if testnet {
			baseURL = testnetBaseURL
		} else {
			baseURL = defaultBaseURL
		}
	}
	return &BinanceClient{
		client:    &http.Client{Timeout: 15 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		markets:   make(map[string]SymbolMeta),
		now:       time.Now,
	}
}

// WithHTTPClient overrides the HTTP client (tests, custom transport).
func (b *BinanceClient) WithHTTPClient(c *http.Client) *BinanceClient {
	if c != nil {
		b.client = c
	}
	return b
}

// venueSymbol converts "BTC/USDT" to the venue's "BTCUSDT" form.
func venueSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

type apiErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// classify maps an HTTP failure onto the typed error vocabulary.
func classify(status int, body []byte) *Error {
	var eb apiErrorBody
	_ = json.Unmarshal(body, &eb)

	kind := KindOther
	switch {
	case status == http.StatusTooManyRequests || status == 418:
		kind = KindRateLimit
	case eb.Code == codeMarginInsufficient:
		kind = KindInsufficientBalance
	case eb.Code == codeUnknownOrder || eb.Code == codeOrderDoesNotExist:
		kind = KindUnknownOrder
	case status >= 400 && status < 500:
		kind = KindInvalidOrder
	case status >= 500:
		kind = KindNetwork
	}

	msg := eb.Msg
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	return &Error{Kind: kind, HTTPStatus: status, Code: eb.Code, Msg: msg}
}

// doRequest performs one call. signed requests get timestamp and
// HMAC-SHA256 signature appended.
func (b *BinanceClient) doRequest(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.Itoa(recvWindowMS))
		mac := hmac.New(sha256.New, []byte(b.apiSecret))
		mac.Write([]byte(params.Encode()))
		params.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	}

	reqURL := b.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, netError("build request", err)
	}
	if b.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, netError(method+" "+path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, netError("read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp.StatusCode, body)
	}
	return body, nil
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Status  string `json:"status"`
		Filters []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
			TickSize   string `json:"tickSize"`
			Notional   string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// LoadMarkets fetches trading rules for every listed market.
func (b *BinanceClient) LoadMarkets(ctx context.Context) error {
	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}

	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("load markets: decode: %w", err)
	}

	markets := make(map[string]SymbolMeta, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		meta := SymbolMeta{Symbol: s.Symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				meta.StepSize, _ = decimal.NewFromString(f.StepSize)
			case "PRICE_FILTER":
				meta.TickSize, _ = decimal.NewFromString(f.TickSize)
			case "MIN_NOTIONAL":
				meta.MinNotional, _ = decimal.NewFromString(f.Notional)
			}
		}
		markets[s.Symbol] = meta
	}

	b.mu.Lock()
	b.markets = markets
	b.mu.Unlock()
	return nil
}

// Market returns the trading rules for one symbol.
func (b *BinanceClient) Market(symbol string) (SymbolMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	meta, ok := b.markets[venueSymbol(symbol)]
	if !ok {
		return SymbolMeta{}, &Error{Kind: KindUnknownSymbol, Msg: "market not loaded: " + symbol}
	}
	return meta, nil
}

// FetchPrice returns the latest mark-adjacent trade price.
func (b *BinanceClient) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{"symbol": {venueSymbol(symbol)}}
	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/ticker/price", params, false)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch price %s: %w", symbol, err)
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("fetch price %s: decode: %w", symbol, err)
	}
	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch price %s: parse %q: %w", symbol, resp.Price, err)
	}
	return price, nil
}

// FetchOHLCV returns up to limit klines, oldest first. The last bar is
// marked unclosed when its close time is still in the future.
func (b *BinanceClient) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	params := url.Values{
		"symbol":   {venueSymbol(symbol)},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/klines", params, false)
	if err != nil {
		return nil, fmt.Errorf("fetch ohlcv %s %s: %w", symbol, interval, err)
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("fetch ohlcv %s: decode: %w", symbol, err)
	}

	nowMS := b.now().UnixMilli()
	candles := make([]models.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		var openTime, closeTime int64
		var o, h, l, c, v string
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}
		if err := json.Unmarshal(row[6], &closeTime); err != nil {
			continue
		}
		for i, dst := range []*string{&o, &h, &l, &c, &v} {
			if err := json.Unmarshal(row[i+1], dst); err != nil {
				return nil, fmt.Errorf("fetch ohlcv %s: malformed kline row: %w", symbol, err)
			}
		}
		candles = append(candles, models.Candle{
			OpenTime: time.UnixMilli(openTime),
			Open:     parseFloat(o),
			High:     parseFloat(h),
			Low:      parseFloat(l),
			Close:    parseFloat(c),
			Volume:   parseFloat(v),
			Closed:   closeTime < nowMS,
		})
	}
	return candles, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// FetchAvailableBalance returns the free USDT margin balance.
func (b *BinanceClient) FetchAvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v2/balance", nil, true)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch balance: %w", err)
	}

	var rows []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return decimal.Zero, fmt.Errorf("fetch balance: decode: %w", err)
	}
	for _, r := range rows {
		if r.Asset == "USDT" {
			bal, err := decimal.NewFromString(r.AvailableBalance)
			if err != nil {
				return decimal.Zero, fmt.Errorf("fetch balance: parse %q: %w", r.AvailableBalance, err)
			}
			return bal, nil
		}
	}
	return decimal.Zero, nil
}

// FetchPositions returns the venue's position rows for one symbol.
func (b *BinanceClient) FetchPositions(ctx context.Context, symbol string) ([]PositionInfo, error) {
	params := url.Values{"symbol": {venueSymbol(symbol)}}
	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true)
	if err != nil {
		return nil, fmt.Errorf("fetch positions %s: %w", symbol, err)
	}

	var rows []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Leverage         string `json:"leverage"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("fetch positions %s: decode: %w", symbol, err)
	}

	out := make([]PositionInfo, 0, len(rows))
	for _, r := range rows {
		amt, _ := decimal.NewFromString(r.PositionAmt)
		entry, _ := decimal.NewFromString(r.EntryPrice)
		pnl, _ := decimal.NewFromString(r.UnRealizedProfit)
		lev, _ := strconv.Atoi(r.Leverage)
		out = append(out, PositionInfo{
			Symbol:        r.Symbol,
			Amount:        amt,
			EntryPrice:    entry,
			UnrealizedPnL: pnl,
			Leverage:      lev,
		})
	}
	return out, nil
}

// SetLeverage sets the leverage multiple for a symbol.
func (b *BinanceClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{
		"symbol":   {venueSymbol(symbol)},
		"leverage": {strconv.Itoa(leverage)},
	}
	if _, err := b.doRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params, true); err != nil {
		return fmt.Errorf("set leverage %s=%d: %w", symbol, leverage, err)
	}
	return nil
}

// SetMarginMode switches the symbol's margin mode. The venue's "no need
// to change" rejection is treated as success.
func (b *BinanceClient) SetMarginMode(ctx context.Context, symbol string, mode MarginMode) error {
	params := url.Values{
		"symbol":     {venueSymbol(symbol)},
		"marginType": {string(mode)},
	}
	_, err := b.doRequest(ctx, http.MethodPost, "/fapi/v1/marginType", params, true)
	if err != nil && !hasCode(err, codeNoNeedChangeMargin) {
		return fmt.Errorf("set margin mode %s=%s: %w", symbol, mode, err)
	}
	return nil
}

// SetOneWayMode disables hedge mode account-wide. The venue's "no need
// to change" rejection is treated as success.
func (b *BinanceClient) SetOneWayMode(ctx context.Context) error {
	params := url.Values{"dualSidePosition": {"false"}}
	_, err := b.doRequest(ctx, http.MethodPost, "/fapi/v1/positionSide/dual", params, true)
	if err != nil && !hasCode(err, codeNoNeedChangeSide) {
		return fmt.Errorf("set one-way mode: %w", err)
	}
	return nil
}

func hasCode(err error, code int) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	AvgPrice    string `json:"avgPrice"`
	StopPrice   string `json:"stopPrice"`
	ReduceOnly  bool   `json:"reduceOnly"`
	UpdateTime  int64  `json:"updateTime"`
}

func (r *orderResponse) toResult() *OrderResult {
	qty, _ := decimal.NewFromString(r.OrigQty)
	exec, _ := decimal.NewFromString(r.ExecutedQty)
	avg, _ := decimal.NewFromString(r.AvgPrice)
	stop, _ := decimal.NewFromString(r.StopPrice)
	return &OrderResult{
		OrderID:     strconv.FormatInt(r.OrderID, 10),
		Symbol:      r.Symbol,
		Side:        Side(r.Side),
		Type:        r.Type,
		Status:      r.Status,
		Quantity:    qty,
		ExecutedQty: exec,
		AvgPrice:    avg,
		StopPrice:   stop,
		ReduceOnly:  r.ReduceOnly,
		UpdateTime:  time.UnixMilli(r.UpdateTime),
	}
}

func (b *BinanceClient) placeOrder(ctx context.Context, params url.Values) (*OrderResult, error) {
	body, err := b.doRequest(ctx, http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	return resp.toResult(), nil
}

// MarketOrder places a market order.
func (b *BinanceClient) MarketOrder(ctx context.Context, symbol string, side Side, quantity decimal.Decimal, reduceOnly bool) (*OrderResult, error) {
	params := url.Values{
		"symbol":   {venueSymbol(symbol)},
		"side":     {string(side)},
		"type":     {OrderTypeMarket},
		"quantity": {quantity.String()},
	}
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}
	res, err := b.placeOrder(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("market order %s %s %s: %w", side, quantity, symbol, err)
	}
	return res, nil
}

// StopMarketOrder places a stop-market order triggered at stopPrice.
func (b *BinanceClient) StopMarketOrder(ctx context.Context, symbol string, side Side, quantity, stopPrice decimal.Decimal, reduceOnly bool) (*OrderResult, error) {
	params := url.Values{
		"symbol":    {venueSymbol(symbol)},
		"side":      {string(side)},
		"type":      {OrderTypeStopMarket},
		"quantity":  {quantity.String()},
		"stopPrice": {stopPrice.String()},
	}
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}
	res, err := b.placeOrder(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("stop order %s %s %s @ %s: %w", side, quantity, symbol, stopPrice, err)
	}
	return res, nil
}

// FetchOrder queries one order by venue id.
func (b *BinanceClient) FetchOrder(ctx context.Context, symbol, orderID string) (*OrderResult, error) {
	params := url.Values{
		"symbol":  {venueSymbol(symbol)},
		"orderId": {orderID},
	}
	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, fmt.Errorf("fetch order %s/%s: %w", symbol, orderID, err)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("fetch order %s/%s: decode: %w", symbol, orderID, err)
	}
	return resp.toResult(), nil
}

// CancelOrder cancels one order by venue id.
func (b *BinanceClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{
		"symbol":  {venueSymbol(symbol)},
		"orderId": {orderID},
	}
	if _, err := b.doRequest(ctx, http.MethodDelete, "/fapi/v1/order", params, true); err != nil {
		return fmt.Errorf("cancel order %s/%s: %w", symbol, orderID, err)
	}
	return nil
}

// CancelAllOrders cancels every open order on the symbol.
func (b *BinanceClient) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{"symbol": {venueSymbol(symbol)}}
	if _, err := b.doRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, true); err != nil {
		return fmt.Errorf("cancel all orders %s: %w", symbol, err)
	}
	return nil
}
