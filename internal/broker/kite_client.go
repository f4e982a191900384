package broker

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// KiteClient is the Kite Connect (Zerodha) adapter.
type KiteClient struct {
	apiKey      string
	accessToken string
	baseURL     string
	httpClient  *http.Client
	limiter     *RateLimiter

	// Kite's historical endpoint is keyed by numeric instrument token.
	instrumentTokens map[string]int64
}

// NewKiteClient creates a Kite adapter. The status map is validated here so
// a missing vendor status mapping fails at startup.
func NewKiteClient(apiKey, accessToken, baseURL string) (*KiteClient, error) {
	if err := validateStatusMap("kite", kiteStatuses, kiteStatusMap); err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = "https://api.kite.trade"
	}
	return &KiteClient{
		apiKey:           apiKey,
		accessToken:      accessToken,
		baseURL:          baseURL,
		httpClient:       &http.Client{Timeout: 10 * time.Second},
		limiter:          NewRateLimiter(3, 180),
		instrumentTokens: make(map[string]int64),
	}, nil
}

// SetInstrumentTokens installs the ticker -> instrument token map used by
// the historical candles endpoint. Loaded once from the instrument dump.
func (c *KiteClient) SetInstrumentTokens(tokens map[string]int64) {
	for k, v := range tokens {
		c.instrumentTokens[k] = v
	}
}

// LoadInstruments downloads the NSE instrument dump and builds the
// tradingsymbol -> instrument token map. The dump is CSV, not the usual JSON
// envelope, so it bypasses do(). Called once at startup.
func (c *KiteClient) LoadInstruments(ctx context.Context) error {
	if err := c.limiter.Acquire(ctx, PriorityLow); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/instruments/NSE", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", c.apiKey, c.accessToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kite instruments: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kite instruments: HTTP %d", resp.StatusCode)
	}

	tokens, err := parseKiteInstruments(resp.Body)
	if err != nil {
		return fmt.Errorf("kite instruments: %w", err)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("kite instruments: dump contained no NSE equities")
	}
	c.SetInstrumentTokens(tokens)
	return nil
}

// parseKiteInstruments reads the CSV dump. Columns are located by header name
// so a reordered dump keeps working; only equity rows are kept.
func parseKiteInstruments(r io.Reader) (map[string]int64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	tokenIdx, ok := col["instrument_token"]
	if !ok {
		return nil, fmt.Errorf("missing instrument_token column")
	}
	symbolIdx, ok := col["tradingsymbol"]
	if !ok {
		return nil, fmt.Errorf("missing tradingsymbol column")
	}
	typeIdx, hasType := col["instrument_type"]

	tokens := make(map[string]int64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		if tokenIdx >= len(record) || symbolIdx >= len(record) {
			continue
		}
		if hasType && typeIdx < len(record) && record[typeIdx] != "EQ" {
			continue
		}
		token, err := strconv.ParseInt(record[tokenIdx], 10, 64)
		if err != nil {
			continue
		}
		tokens[record[symbolIdx]] = token
	}
	return tokens, nil
}

// kiteEnvelope is the common Kite response wrapper.
type kiteEnvelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

func (c *KiteClient) do(ctx context.Context, method, path string, form url.Values, priority RequestPriority) (json.RawMessage, error) {
	if err := c.limiter.Acquire(ctx, priority); err != nil {
		return nil, err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", c.apiKey, c.accessToken))
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kite %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kite %s %s: reading response: %w", method, path, err)
	}

	var env kiteEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("kite %s %s: invalid response: %w", method, path, err)
	}
	if resp.StatusCode != http.StatusOK || env.Status != "success" {
		return nil, fmt.Errorf("kite %s %s: %s (%s)", method, path, env.Message, env.ErrorType)
	}
	return env.Data, nil
}

type kitePosition struct {
	TradingSymbol string  `json:"tradingsymbol"`
	Exchange      string  `json:"exchange"`
	Product       string  `json:"product"`
	Quantity      int64   `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
	PnL           float64 `json:"pnl"`
}

// GetPositions returns net positions for the day.
func (c *KiteClient) GetPositions(ctx context.Context) ([]Position, error) {
	data, err := c.do(ctx, http.MethodGet, "/portfolio/positions", nil, PriorityHigh)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Net []kitePosition `json:"net"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("kite positions: %w", err)
	}

	positions := make([]Position, 0, len(payload.Net))
	for _, p := range payload.Net {
		positions = append(positions, Position{
			Ticker:       p.TradingSymbol,
			Exchange:     p.Exchange,
			Product:      Product(p.Product),
			Quantity:     p.Quantity,
			AveragePrice: p.AveragePrice,
			LastPrice:    p.LastPrice,
			PnL:          p.PnL,
		})
	}
	return positions, nil
}

// GetHoldings returns delivery holdings.
func (c *KiteClient) GetHoldings(ctx context.Context) ([]Holding, error) {
	data, err := c.do(ctx, http.MethodGet, "/portfolio/holdings", nil, PriorityHigh)
	if err != nil {
		return nil, err
	}

	var payload []struct {
		TradingSymbol string  `json:"tradingsymbol"`
		Exchange      string  `json:"exchange"`
		Quantity      int64   `json:"quantity"`
		AveragePrice  float64 `json:"average_price"`
		LastPrice     float64 `json:"last_price"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("kite holdings: %w", err)
	}

	holdings := make([]Holding, 0, len(payload))
	for _, h := range payload {
		holdings = append(holdings, Holding{
			Ticker:       h.TradingSymbol,
			Exchange:     h.Exchange,
			Quantity:     h.Quantity,
			AveragePrice: h.AveragePrice,
			LastPrice:    h.LastPrice,
		})
	}
	return holdings, nil
}

// GetQuote fetches the full quote for one ticker.
func (c *KiteClient) GetQuote(ctx context.Context, ticker string) (*Quote, error) {
	key := "NSE:" + ticker
	data, err := c.do(ctx, http.MethodGet, "/quote?i="+url.QueryEscape(key), nil, PriorityNormal)
	if err != nil {
		return nil, err
	}

	var payload map[string]struct {
		LastPrice     float64 `json:"last_price"`
		Volume        int64   `json:"volume"`
		LastTradeTime string  `json:"last_trade_time"`
		OHLC          struct {
			Open  float64 `json:"open"`
			High  float64 `json:"high"`
			Low   float64 `json:"low"`
			Close float64 `json:"close"`
		} `json:"ohlc"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("kite quote %s: %w", ticker, err)
	}

	q, ok := payload[key]
	if !ok {
		return nil, fmt.Errorf("kite quote: no data for %s", ticker)
	}

	ltt, _ := time.Parse("2006-01-02 15:04:05", q.LastTradeTime)
	return &Quote{
		Ticker:        ticker,
		LastPrice:     q.LastPrice,
		Open:          q.OHLC.Open,
		High:          q.OHLC.High,
		Low:           q.OHLC.Low,
		Close:         q.OHLC.Close,
		Volume:        q.Volume,
		LastTradeTime: ltt,
	}, nil
}

// GetHistoricalCandles fetches the most recent OHLC candles for a ticker.
func (c *KiteClient) GetHistoricalCandles(ctx context.Context, ticker, interval string, limit int) ([]Candle, error) {
	token, ok := c.instrumentTokens[ticker]
	if !ok {
		return nil, fmt.Errorf("kite historical: no instrument token for %s", ticker)
	}

	to := time.Now()
	from := to.Add(-time.Duration(limit) * intervalDuration(interval))
	path := fmt.Sprintf("/instruments/historical/%d/%s?from=%s&to=%s",
		token, interval,
		url.QueryEscape(from.Format("2006-01-02 15:04:05")),
		url.QueryEscape(to.Format("2006-01-02 15:04:05")))

	data, err := c.do(ctx, http.MethodGet, path, nil, PriorityNormal)
	if err != nil {
		return nil, err
	}

	// Candles arrive as [timestamp, open, high, low, close, volume] arrays.
	var payload struct {
		Candles [][]interface{} `json:"candles"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("kite historical %s: %w", ticker, err)
	}

	candles := make([]Candle, 0, len(payload.Candles))
	for _, raw := range payload.Candles {
		if len(raw) < 6 {
			continue
		}
		ts, _ := raw[0].(string)
		parsed, _ := time.Parse(time.RFC3339, ts)
		candles = append(candles, Candle{
			Timestamp: parsed,
			Open:      asFloat(raw[1]),
			High:      asFloat(raw[2]),
			Low:       asFloat(raw[3]),
			Close:     asFloat(raw[4]),
			Volume:    int64(asFloat(raw[5])),
		})
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// PlaceOrder submits a regular order and returns the broker order id.
func (c *KiteClient) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	form := url.Values{}
	form.Set("tradingsymbol", req.Ticker)
	form.Set("exchange", orDefault(req.Exchange, "NSE"))
	form.Set("transaction_type", string(req.TransactionType))
	form.Set("quantity", strconv.FormatInt(req.Quantity, 10))
	form.Set("product", string(req.Product))
	form.Set("validity", "DAY")
	if req.Price > 0 {
		form.Set("order_type", "LIMIT")
		form.Set("price", strconv.FormatFloat(req.Price, 'f', 2, 64))
	} else {
		form.Set("order_type", "MARKET")
	}
	if req.Tag != "" {
		form.Set("tag", req.Tag)
	}

	data, err := c.do(ctx, http.MethodPost, "/orders/regular", form, PriorityCritical)
	if err != nil {
		return "", err
	}

	var payload struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("kite place order: %w", err)
	}
	return payload.OrderID, nil
}

// CancelOrder cancels a pending regular order.
func (c *KiteClient) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/orders/regular/"+orderID, nil, PriorityCritical)
	return err
}

type kiteOrder struct {
	OrderID         string  `json:"order_id"`
	TradingSymbol   string  `json:"tradingsymbol"`
	TransactionType string  `json:"transaction_type"`
	Status          string  `json:"status"`
	Quantity        int64   `json:"quantity"`
	FilledQuantity  int64   `json:"filled_quantity"`
	Price           float64 `json:"price"`
	AveragePrice    float64 `json:"average_price"`
	Tag             string  `json:"tag"`
	StatusMessage   string  `json:"status_message"`
	OrderTimestamp  string  `json:"order_timestamp"`
}

func (c *KiteClient) normalizeOrder(o kiteOrder) (Order, error) {
	status, err := mapStatus("kite", kiteStatusMap, o.Status)
	if err != nil {
		return Order{}, err
	}
	placedAt, _ := time.Parse("2006-01-02 15:04:05", o.OrderTimestamp)
	return Order{
		OrderID:         o.OrderID,
		Ticker:          o.TradingSymbol,
		TransactionType: TransactionType(o.TransactionType),
		Status:          status,
		VendorStatus:    o.Status,
		Quantity:        o.Quantity,
		FilledQuantity:  o.FilledQuantity,
		Price:           o.Price,
		AveragePrice:    o.AveragePrice,
		Tag:             o.Tag,
		PlacedAt:        placedAt,
		StatusMessage:   o.StatusMessage,
	}, nil
}

// GetOrders returns the day's order book.
func (c *KiteClient) GetOrders(ctx context.Context) ([]Order, error) {
	data, err := c.do(ctx, http.MethodGet, "/orders", nil, PriorityHigh)
	if err != nil {
		return nil, err
	}

	var payload []kiteOrder
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("kite orders: %w", err)
	}

	orders := make([]Order, 0, len(payload))
	for _, o := range payload {
		normalized, err := c.normalizeOrder(o)
		if err != nil {
			return nil, err
		}
		orders = append(orders, normalized)
	}
	return orders, nil
}

// GetOrder returns the latest state of one order.
func (c *KiteClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	data, err := c.do(ctx, http.MethodGet, "/orders/"+orderID, nil, PriorityHigh)
	if err != nil {
		return nil, err
	}

	// Kite returns the order's full state history; the last entry is current.
	var payload []kiteOrder
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("kite order %s: %w", orderID, err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("kite order %s: not found", orderID)
	}

	normalized, err := c.normalizeOrder(payload[len(payload)-1])
	if err != nil {
		return nil, err
	}
	return &normalized, nil
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "minute":
		return time.Minute
	case "3minute":
		return 3 * time.Minute
	case "5minute":
		return 5 * time.Minute
	case "15minute":
		return 15 * time.Minute
	case "60minute":
		return time.Hour
	case "day":
		return 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
