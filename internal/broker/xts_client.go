package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// XTSClient is the XTS Connect (Symphony Fintech) adapter. XTS keys
// everything by numeric exchangeInstrumentID and reports its own status
// vocabulary; this adapter resolves instrument IDs both ways and reshapes
// responses into the same Order/Position forms the Kite adapter produces.
type XTSClient struct {
	appKey     string
	secretKey  string
	token      string
	clientID   string
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter

	instrumentIDs map[string]int64 // ticker -> exchangeInstrumentID
	tickers       map[int64]string // exchangeInstrumentID -> ticker
}

// NewXTSClient creates an XTS adapter and validates the status map.
func NewXTSClient(appKey, secretKey, clientID, baseURL string) (*XTSClient, error) {
	if err := validateStatusMap("xts", xtsStatuses, xtsStatusMap); err != nil {
		return nil, err
	}
	return &XTSClient{
		appKey:        appKey,
		secretKey:     secretKey,
		clientID:      clientID,
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		limiter:       NewRateLimiter(5, 250),
		instrumentIDs: make(map[string]int64),
		tickers:       make(map[int64]string),
	}, nil
}

// SetInstruments installs the ticker <-> exchangeInstrumentID mapping.
func (c *XTSClient) SetInstruments(ids map[string]int64) {
	for ticker, id := range ids {
		c.instrumentIDs[ticker] = id
		c.tickers[id] = ticker
	}
}

// LoadInstruments downloads the NSECM contract master and builds the
// ticker <-> exchangeInstrumentID maps. Called once at startup, after Login.
func (c *XTSClient) LoadInstruments(ctx context.Context) error {
	body := map[string]interface{}{
		"exchangeSegmentList": []string{"NSECM"},
	}
	result, err := c.do(ctx, http.MethodPost, "/apimarketdata/instruments/master", body, PriorityLow)
	if err != nil {
		return fmt.Errorf("xts instruments: %w", err)
	}

	// The master arrives as one giant string of pipe-delimited rows.
	var dump string
	if err := json.Unmarshal(result, &dump); err != nil {
		return fmt.Errorf("xts instruments: %w", err)
	}

	ids := parseXTSMaster(dump)
	if len(ids) == 0 {
		return fmt.Errorf("xts instruments: master contained no NSE equities")
	}
	c.SetInstruments(ids)
	return nil
}

// parseXTSMaster extracts the EQ-series rows from the contract master. Row
// shape: ExchangeSegment|ExchangeInstrumentID|InstrumentType|Name|Description|Series|...
func parseXTSMaster(dump string) map[string]int64 {
	ids := make(map[string]int64)
	for _, row := range strings.Split(dump, "\n") {
		fields := strings.Split(row, "|")
		if len(fields) < 6 {
			continue
		}
		if fields[5] != "EQ" {
			continue
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		ids[fields[3]] = id
	}
	return ids
}

// xtsEnvelope is the common XTS response wrapper.
type xtsEnvelope struct {
	Type        string          `json:"type"`
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// Login opens an interactive session and stores the bearer token.
func (c *XTSClient) Login(ctx context.Context) error {
	body := map[string]string{
		"appKey":    c.appKey,
		"secretKey": c.secretKey,
		"source":    "WebAPI",
	}
	result, err := c.do(ctx, http.MethodPost, "/interactive/user/session", body, PriorityCritical)
	if err != nil {
		return fmt.Errorf("xts login: %w", err)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return fmt.Errorf("xts login: %w", err)
	}
	c.token = payload.Token
	return nil
}

func (c *XTSClient) do(ctx context.Context, method, path string, body interface{}, priority RequestPriority) (json.RawMessage, error) {
	if err := c.limiter.Acquire(ctx, priority); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("xts %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("xts %s %s: reading response: %w", method, path, err)
	}

	var env xtsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("xts %s %s: invalid response: %w", method, path, err)
	}
	if resp.StatusCode != http.StatusOK || env.Type != "success" {
		return nil, fmt.Errorf("xts %s %s: %s (code %s)", method, path, env.Description, env.Code)
	}
	return env.Result, nil
}

// GetPositions returns net-wise positions mapped onto tickers.
func (c *XTSClient) GetPositions(ctx context.Context) ([]Position, error) {
	result, err := c.do(ctx, http.MethodGet, "/interactive/portfolio/positions?dayOrNet=NetWise", nil, PriorityHigh)
	if err != nil {
		return nil, err
	}

	var payload struct {
		PositionList []struct {
			ExchangeInstrumentID int64  `json:"ExchangeInstrumentId"`
			TradingSymbol        string `json:"TradingSymbol"`
			ProductType          string `json:"ProductType"`
			Quantity             string `json:"Quantity"`
			BuyAveragePrice      string `json:"BuyAveragePrice"`
			SellAveragePrice     string `json:"SellAveragePrice"`
			RealizedProfitLoss   string `json:"RealizedProfitLoss"`
		} `json:"positionList"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("xts positions: %w", err)
	}

	positions := make([]Position, 0, len(payload.PositionList))
	for _, p := range payload.PositionList {
		qty, _ := strconv.ParseInt(p.Quantity, 10, 64)
		avg, _ := strconv.ParseFloat(p.BuyAveragePrice, 64)
		if qty < 0 {
			avg, _ = strconv.ParseFloat(p.SellAveragePrice, 64)
		}
		pnl, _ := strconv.ParseFloat(p.RealizedProfitLoss, 64)

		ticker := p.TradingSymbol
		if t, ok := c.tickers[p.ExchangeInstrumentID]; ok {
			ticker = t
		}
		positions = append(positions, Position{
			Ticker:       ticker,
			Exchange:     "NSE",
			Product:      xtsProduct(p.ProductType),
			Quantity:     qty,
			AveragePrice: avg,
			PnL:          pnl,
		})
	}
	return positions, nil
}

// GetHoldings returns delivery holdings.
func (c *XTSClient) GetHoldings(ctx context.Context) ([]Holding, error) {
	result, err := c.do(ctx, http.MethodGet, "/interactive/portfolio/holdings", nil, PriorityHigh)
	if err != nil {
		return nil, err
	}

	var payload struct {
		RMSHoldings struct {
			Holdings map[string]struct {
				ExchangeInstrumentID int64   `json:"ExchangeNSEInstrumentId"`
				HoldingQuantity      int64   `json:"HoldingQuantity"`
				BuyAvgPrice          float64 `json:"BuyAvgPrice"`
			} `json:"Holdings"`
		} `json:"RMSHoldings"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("xts holdings: %w", err)
	}

	holdings := make([]Holding, 0, len(payload.RMSHoldings.Holdings))
	for isin, h := range payload.RMSHoldings.Holdings {
		ticker := isin
		if t, ok := c.tickers[h.ExchangeInstrumentID]; ok {
			ticker = t
		}
		holdings = append(holdings, Holding{
			Ticker:       ticker,
			Exchange:     "NSE",
			Quantity:     h.HoldingQuantity,
			AveragePrice: h.BuyAvgPrice,
		})
	}
	return holdings, nil
}

// GetQuote fetches a touchline quote by instrument ID.
func (c *XTSClient) GetQuote(ctx context.Context, ticker string) (*Quote, error) {
	id, ok := c.instrumentIDs[ticker]
	if !ok {
		return nil, fmt.Errorf("xts quote: no instrument id for %s", ticker)
	}

	body := map[string]interface{}{
		"instruments": []map[string]interface{}{
			{"exchangeSegment": 1, "exchangeInstrumentID": id},
		},
		"xtsMessageCode": 1501, // Touchline
		"publishFormat":  "JSON",
	}
	result, err := c.do(ctx, http.MethodPost, "/apimarketdata/instruments/quotes", body, PriorityNormal)
	if err != nil {
		return nil, err
	}

	var payload struct {
		ListQuotes []string `json:"listQuotes"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("xts quote %s: %w", ticker, err)
	}
	if len(payload.ListQuotes) == 0 {
		return nil, fmt.Errorf("xts quote: no data for %s", ticker)
	}

	var tl struct {
		Touchline struct {
			LastTradedPrice float64 `json:"LastTradedPrice"`
			Open            float64 `json:"Open"`
			High            float64 `json:"High"`
			Low             float64 `json:"Low"`
			Close           float64 `json:"Close"`
			TotalTradedQty  int64   `json:"TotalTradedQuantity"`
			LastTradedTime  int64   `json:"LastTradedTime"`
		} `json:"Touchline"`
	}
	if err := json.Unmarshal([]byte(payload.ListQuotes[0]), &tl); err != nil {
		return nil, fmt.Errorf("xts quote %s: %w", ticker, err)
	}

	return &Quote{
		Ticker:        ticker,
		LastPrice:     tl.Touchline.LastTradedPrice,
		Open:          tl.Touchline.Open,
		High:          tl.Touchline.High,
		Low:           tl.Touchline.Low,
		Close:         tl.Touchline.Close,
		Volume:        tl.Touchline.TotalTradedQty,
		LastTradeTime: time.Unix(tl.Touchline.LastTradedTime, 0),
	}, nil
}

// GetHistoricalCandles fetches compressed OHLC data.
func (c *XTSClient) GetHistoricalCandles(ctx context.Context, ticker, interval string, limit int) ([]Candle, error) {
	id, ok := c.instrumentIDs[ticker]
	if !ok {
		return nil, fmt.Errorf("xts historical: no instrument id for %s", ticker)
	}

	to := time.Now()
	from := to.Add(-time.Duration(limit) * intervalDuration(interval))
	path := fmt.Sprintf("/apimarketdata/instruments/ohlc?exchangeSegment=1&exchangeInstrumentID=%d&startTime=%s&endTime=%s&compressionValue=%d",
		id, from.Format("Jan 02 2006 150405"), to.Format("Jan 02 2006 150405"),
		int(intervalDuration(interval).Seconds()))

	result, err := c.do(ctx, http.MethodGet, path, nil, PriorityNormal)
	if err != nil {
		return nil, err
	}

	// dataReponse is pipe-separated rows: epoch|open|high|low|close|volume|oi
	var payload struct {
		DataResponse string `json:"dataReponse"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("xts historical %s: %w", ticker, err)
	}

	candles := parseXTSOHLC(payload.DataResponse)
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// PlaceOrder submits an order keyed by instrument ID.
func (c *XTSClient) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	id, ok := c.instrumentIDs[req.Ticker]
	if !ok {
		return "", fmt.Errorf("xts place order: no instrument id for %s", req.Ticker)
	}

	orderType := "MARKET"
	if req.Price > 0 {
		orderType = "LIMIT"
	}
	body := map[string]interface{}{
		"exchangeSegment":       "NSECM",
		"exchangeInstrumentID":  id,
		"productType":           string(req.Product),
		"orderType":             orderType,
		"orderSide":             string(req.TransactionType),
		"timeInForce":           "DAY",
		"disclosedQuantity":     0,
		"orderQuantity":         req.Quantity,
		"limitPrice":            req.Price,
		"stopPrice":             0,
		"orderUniqueIdentifier": req.Tag,
		"clientID":              c.clientID,
	}

	result, err := c.do(ctx, http.MethodPost, "/interactive/orders", body, PriorityCritical)
	if err != nil {
		return "", err
	}

	var payload struct {
		AppOrderID int64 `json:"AppOrderID"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return "", fmt.Errorf("xts place order: %w", err)
	}
	return strconv.FormatInt(payload.AppOrderID, 10), nil
}

// CancelOrder cancels a pending order.
func (c *XTSClient) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/interactive/orders?appOrderID="+orderID, nil, PriorityCritical)
	return err
}

type xtsOrder struct {
	AppOrderID              int64   `json:"AppOrderID"`
	ExchangeInstrumentID    int64   `json:"ExchangeInstrumentID"`
	TradingSymbol           string  `json:"TradingSymbol"`
	OrderSide               string  `json:"OrderSide"`
	OrderStatus             string  `json:"OrderStatus"`
	OrderQuantity           int64   `json:"OrderQuantity"`
	CumulativeQuantity      int64   `json:"CumulativeQuantity"`
	OrderPrice              float64 `json:"OrderPrice"`
	OrderAverageTradedPrice string  `json:"OrderAverageTradedPrice"`
	OrderUniqueIdentifier   string  `json:"OrderUniqueIdentifier"`
	OrderGeneratedDateTime  string  `json:"OrderGeneratedDateTime"`
	CancelRejectReason      string  `json:"CancelRejectReason"`
}

func (c *XTSClient) normalizeOrder(o xtsOrder) (Order, error) {
	status, err := mapStatus("xts", xtsStatusMap, o.OrderStatus)
	if err != nil {
		return Order{}, err
	}

	ticker := o.TradingSymbol
	if t, ok := c.tickers[o.ExchangeInstrumentID]; ok {
		ticker = t
	}
	avg, _ := strconv.ParseFloat(o.OrderAverageTradedPrice, 64)
	placedAt, _ := time.Parse("02-01-2006 15:04:05", o.OrderGeneratedDateTime)

	return Order{
		OrderID:         strconv.FormatInt(o.AppOrderID, 10),
		Ticker:          ticker,
		TransactionType: TransactionType(o.OrderSide),
		Status:          status,
		VendorStatus:    o.OrderStatus,
		Quantity:        o.OrderQuantity,
		FilledQuantity:  o.CumulativeQuantity,
		Price:           o.OrderPrice,
		AveragePrice:    avg,
		Tag:             o.OrderUniqueIdentifier,
		PlacedAt:        placedAt,
		StatusMessage:   o.CancelRejectReason,
	}, nil
}

// GetOrders returns the day's order book.
func (c *XTSClient) GetOrders(ctx context.Context) ([]Order, error) {
	result, err := c.do(ctx, http.MethodGet, "/interactive/orders", nil, PriorityHigh)
	if err != nil {
		return nil, err
	}

	var payload []xtsOrder
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("xts orders: %w", err)
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
func (c *XTSClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	result, err := c.do(ctx, http.MethodGet, "/interactive/orders?appOrderID="+orderID, nil, PriorityHigh)
	if err != nil {
		return nil, err
	}

	var payload []xtsOrder
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("xts order %s: %w", orderID, err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("xts order %s: not found", orderID)
	}

	normalized, err := c.normalizeOrder(payload[len(payload)-1])
	if err != nil {
		return nil, err
	}
	return &normalized, nil
}

func xtsProduct(p string) Product {
	switch p {
	case "MIS":
		return ProductMIS
	case "NRML":
		return ProductNRML
	default:
		return ProductCNC
	}
}

// parseXTSOHLC decodes the pipe/comma packed OHLC payload.
func parseXTSOHLC(data string) []Candle {
	var candles []Candle
	for _, row := range splitNonEmpty(data, ",") {
		fields := splitNonEmpty(row, "|")
		if len(fields) < 6 {
			continue
		}
		epoch, _ := strconv.ParseInt(fields[0], 10, 64)
		open, _ := strconv.ParseFloat(fields[1], 64)
		high, _ := strconv.ParseFloat(fields[2], 64)
		low, _ := strconv.ParseFloat(fields[3], 64)
		closePx, _ := strconv.ParseFloat(fields[4], 64)
		volume, _ := strconv.ParseInt(fields[5], 10, 64)
		candles = append(candles, Candle{
			Timestamp: time.Unix(epoch, 0),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    volume,
		})
	}
	return candles
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
