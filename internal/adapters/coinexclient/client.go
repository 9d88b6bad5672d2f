// Package coinexclient adapts the CoinEx spot REST API (v2) to ports.MarketGateway.
//
// CoinEx has no maintained Go SDK, so this adapter speaks the REST protocol
// directly: GET for market data, signed POST for trading. Request signing is
// HMAC-SHA256 over the sorted key=value parameter string, sent alongside the
// X-COINEX-KEY header.
package coinexclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"tradingx/internal/domain"
	"tradingx/internal/ports"
)

const defaultBaseURL = "https://api.coinex.com/v2"

// Client implements the ports.MarketGateway interface against the CoinEx v2 API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	interval   string
	logger     ports.Logger
	now        func() time.Time
}

// Config holds configuration specific to the CoinEx client adapter.
type Config struct {
	BaseURL        string        // Defaults to the production v2 API
	CandleInterval string        // Kline interval, defaults to "1min"
	RequestTimeout time.Duration // Per-request timeout, defaults to 10s
	HTTPClient     *http.Client  // Optional, for testing
	Logger         ports.Logger
}

// New creates a new CoinEx client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for CoinEx client")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	interval := cfg.CandleInterval
	if interval == "" {
		interval = "1min"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	cfg.Logger.Info(context.Background(), "CoinEx client configured", map[string]interface{}{"baseURL": baseURL, "interval": interval})

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		interval:   interval,
		logger:     cfg.Logger,
		now:        time.Now,
	}, nil
}

// apiResponse is the envelope every CoinEx v2 endpoint returns.
type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// sign computes the CoinEx v2 request signature: HMAC-SHA256 over the
// parameters sorted by key and joined as key=value&key=value.
func sign(secret string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

// get performs an unauthenticated GET request and unwraps the envelope.
func (c *Client) get(ctx context.Context, endpoint string, params map[string]string, out interface{}) error {
	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, endpoint, out)
}

// post performs a signed POST request on behalf of the credential owner.
func (c *Client) post(ctx context.Context, endpoint string, creds ports.Credentials, params map[string]string, out interface{}) error {
	if creds.APIKey == "" || creds.APISecret == "" {
		return ports.ErrMissingCredentials
	}

	params["timestamp"] = strconv.FormatInt(c.now().UnixMilli(), 10)
	params["signature"] = sign(creds.APISecret, params)

	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal request for %s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-COINEX-KEY", creds.APIKey)

	return c.do(req, endpoint, out)
}

func (c *Client) do(req *http.Request, endpoint string, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w: %w", endpoint, ports.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s returned undecodable response: %w: %w", endpoint, ports.ErrMalformedMarketData, err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("%s returned code %d (%s): %w", endpoint, envelope.Code, envelope.Message, mapAPICode(envelope.Code))
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("%s returned unexpected data shape: %w: %w", endpoint, ports.ErrMalformedMarketData, err)
		}
	}
	return nil
}

// mapAPICode translates CoinEx business error codes into standardized ports errors.
func mapAPICode(code int) error {
	switch code {
	case 3008, 4001: // service busy / unavailable
		return ports.ErrExchangeUnavailable
	case 4213: // rate limited
		return ports.ErrRateLimited
	case 4125, 4126: // signature / key errors
		return ports.ErrAuthenticationFailed
	case 3109, 4215: // insufficient balance
		return ports.ErrInsufficientFunds
	default:
		return ports.ErrUnknown
	}
}

// ListInstruments returns all spot market symbols.
func (c *Client) ListInstruments(ctx context.Context) ([]string, error) {
	op := "ListInstruments"
	var markets []struct {
		Market string `json:"market"`
	}
	if err := c.get(ctx, "/market/list", nil, &markets); err != nil {
		c.logger.Error(ctx, err, op+" failed")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	symbols := make([]string, 0, len(markets))
	for _, m := range markets {
		if m.Market != "" {
			symbols = append(symbols, m.Market)
		}
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"count": len(symbols)})
	return symbols, nil
}

// GetCandles retrieves the most recent candles for a symbol, oldest first.
// CoinEx returns klines as arrays of [timestamp, open, close, high, low, volume].
func (c *Client) GetCandles(ctx context.Context, symbol string, limit int) ([]*domain.Candle, error) {
	op := "GetCandles"
	var data struct {
		Klines [][]json.Number `json:"klines"`
	}
	params := map[string]string{
		"market":   symbol,
		"limit":    strconv.Itoa(limit),
		"interval": c.interval,
	}
	if err := c.get(ctx, "/market/kline", params, &data); err != nil {
		c.logger.Error(ctx, err, op+" failed", map[string]interface{}{"symbol": symbol})
		return nil, fmt.Errorf("%s %s: %w", op, symbol, err)
	}

	candles := make([]*domain.Candle, 0, len(data.Klines))
	for _, k := range data.Klines {
		candle, err := translateKline(k, symbol)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w: %w", op, symbol, ports.ErrMalformedMarketData, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// GetLastPrice retrieves the last traded price for a symbol.
func (c *Client) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetLastPrice"
	var data struct {
		Ticker struct {
			Last json.Number `json:"last"`
		} `json:"ticker"`
	}
	if err := c.get(ctx, "/market/ticker", map[string]string{"market": symbol}, &data); err != nil {
		c.logger.Error(ctx, err, op+" failed", map[string]interface{}{"symbol": symbol})
		return 0, fmt.Errorf("%s %s: %w", op, symbol, err)
	}

	price, err := data.Ticker.Last.Float64()
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("%s %s: bad last price '%s': %w", op, symbol, data.Ticker.Last, ports.ErrMalformedMarketData)
	}
	return price, nil
}

// PlaceMarketOrder places a spot market order on behalf of the credential owner.
func (c *Client) PlaceMarketOrder(ctx context.Context, creds ports.Credentials, symbol string, side domain.OrderSide, quantity string, clientOrderID string) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder"
	var order struct {
		OrderID      json.Number `json:"order_id"`
		ClientID     string      `json:"client_id"`
		Market       string      `json:"market"`
		FilledAmount json.Number `json:"filled_amount"`
		FilledValue  json.Number `json:"filled_value"`
		CreatedAt    json.Number `json:"created_at"`
	}
	params := map[string]string{
		"market":    symbol,
		"side":      strings.ToLower(string(side)),
		"amount":    quantity,
		"client_id": clientOrderID,
	}
	if err := c.post(ctx, "/order/market", creds, params, &order); err != nil {
		c.logger.Error(ctx, err, op+" failed", map[string]interface{}{"symbol": symbol, "side": side, "quantity": quantity})
		return nil, fmt.Errorf("%s %s: %w: %w", op, symbol, ports.ErrOrderPlacementFailed, err)
	}

	execQty, _ := order.FilledAmount.Float64()
	filledValue, _ := order.FilledValue.Float64()
	var avgPrice float64
	if execQty > 0 && filledValue > 0 {
		avgPrice = filledValue / execQty
	}
	createdAtMs, _ := order.CreatedAt.Int64()
	timestamp := c.now()
	if createdAtMs > 0 {
		timestamp = time.UnixMilli(createdAtMs)
	}

	resp := &ports.OrderResponse{
		OrderID:       order.OrderID.String(),
		ClientOrderID: order.ClientID,
		Symbol:        symbol,
		Side:          side,
		AvgPrice:      avgPrice,
		ExecutedQty:   execQty,
		Timestamp:     timestamp,
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "side": side, "quantity": quantity,
		"orderID": resp.OrderID, "avgPrice": resp.AvgPrice, "executedQty": resp.ExecutedQty})
	return resp, nil
}

// GetAccountBalance retrieves the credential owner's available balance for an asset.
func (c *Client) GetAccountBalance(ctx context.Context, creds ports.Credentials, asset string) (float64, error) {
	op := "GetAccountBalance"
	var data struct {
		Balances map[string]struct {
			Available json.Number `json:"available"`
		} `json:"balances"`
	}
	if err := c.post(ctx, "/balance/query", creds, map[string]string{}, &data); err != nil {
		c.logger.Error(ctx, err, op+" failed", map[string]interface{}{"asset": asset})
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	bal, ok := data.Balances[asset]
	if !ok {
		return 0, nil
	}
	available, err := bal.Available.Float64()
	if err != nil {
		return 0, fmt.Errorf("%s: bad balance '%s' for asset %s: %w", op, bal.Available, asset, ports.ErrMalformedMarketData)
	}
	return available, nil
}

// translateKline converts a [timestamp, open, close, high, low, volume] array.
func translateKline(k []json.Number, symbol string) (*domain.Candle, error) {
	if len(k) < 6 {
		return nil, fmt.Errorf("kline has %d fields, want 6", len(k))
	}
	ts, err := k[0].Int64()
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp '%s': %w", k[0], err)
	}
	open, err := k[1].Float64()
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", k[1], err)
	}
	cls, err := k[2].Float64()
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", k[2], err)
	}
	high, err := k[3].Float64()
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", k[3], err)
	}
	low, err := k[4].Float64()
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", k[4], err)
	}
	vol, err := k[5].Float64()
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", k[5], err)
	}

	return &domain.Candle{
		OpenTime: time.UnixMilli(ts),
		Symbol:   symbol,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    cls,
		Volume:   vol,
	}, nil
}
