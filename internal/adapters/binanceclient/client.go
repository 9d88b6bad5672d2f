// Package binanceclient adapts the Binance spot REST API to ports.MarketGateway.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradingx/internal/domain"
	"tradingx/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"
)

// Client implements the ports.MarketGateway interface using the go-binance
// library. Market-data calls go through a shared unauthenticated client;
// trading calls build a client from the acting user's credentials.
type Client struct {
	publicClient *binance.Client
	baseURL      string
	logger       ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance spot client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}

	baseURL := baseURLProduction
	if cfg.UseTestnet {
		baseURL = baseURLTestnet
	}

	// No keys: the shared client only serves public endpoints.
	publicClient := binance.NewClient("", "")
	publicClient.BaseURL = baseURL
	cfg.Logger.Info(context.Background(), "Binance spot client configured", map[string]interface{}{"baseURL": baseURL, "testnet": cfg.UseTestnet})

	return &Client{
		publicClient: publicClient,
		baseURL:      baseURL,
		logger:       cfg.Logger,
	}, nil
}

// userClient builds an authenticated client for the credential owner.
func (c *Client) userClient(creds ports.Credentials) *binance.Client {
	client := binance.NewClient(creds.APIKey, creds.APISecret)
	client.BaseURL = c.baseURL
	return client
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1112, -1115, -1116, -1117, -1121, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2014, -2015: // API-key format invalid / invalid key, IP, or permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -3005, -2019: // Insufficient balance
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeUnavailable, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.publicClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// ListInstruments returns all spot symbols currently open for trading.
func (c *Client) ListInstruments(ctx context.Context) ([]string, error) {
	op := "ListInstruments"
	info, err := c.publicClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || !s.IsSpotTradingAllowed {
			continue
		}
		symbols = append(symbols, s.Symbol)
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"count": len(symbols)})
	return symbols, nil
}

// GetCandles retrieves the most recent closed 1-minute candles for a symbol, oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol string, limit int) ([]*domain.Candle, error) {
	op := "GetCandles"
	binanceKlines, err := c.publicClient.NewKlinesService().
		Symbol(symbol).
		Interval("1m").
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	candles := make([]*domain.Candle, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		candle, err := translateKline(bk, symbol)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("%w: %w", ports.ErrMalformedMarketData, err), op)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// GetLastPrice retrieves the last traded price for a symbol.
func (c *Client) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetLastPrice"
	prices, err := c.publicClient.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(prices) == 0 {
		err := fmt.Errorf("no price data returned for symbol %s: %w", symbol, ports.ErrMalformedMarketData)
		return 0, c.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", prices[0].Price, ports.ErrMalformedMarketData)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// PlaceMarketOrder places a spot market order on behalf of the credential owner.
func (c *Client) PlaceMarketOrder(ctx context.Context, creds ports.Credentials, symbol string, side domain.OrderSide, quantity string, clientOrderID string) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder"
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, fmt.Errorf("%s failed: %w", op, ports.ErrMissingCredentials)
	}

	order, err := c.userClient(creds).NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeMarket).
		Quantity(quantity).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "side": side, "quantity": quantity,
		"orderID": resp.OrderID, "avgPrice": resp.AvgPrice, "executedQty": resp.ExecutedQty})
	return resp, nil
}

// GetAccountBalance retrieves the credential owner's free balance for an asset (e.g. "USDT").
func (c *Client) GetAccountBalance(ctx context.Context, creds ports.Credentials, asset string) (float64, error) {
	op := "GetAccountBalance"
	if creds.APIKey == "" || creds.APISecret == "" {
		return 0, fmt.Errorf("%s failed: %w", op, ports.ErrMissingCredentials)
	}

	account, err := c.userClient(creds).NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	for _, bal := range account.Balances {
		if bal.Asset == asset {
			balance, err := strconv.ParseFloat(bal.Free, 64)
			if err != nil {
				parseErr := fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.Free, asset, err)
				return 0, c.handleError(ctx, parseErr, op)
			}
			return balance, nil
		}
	}

	// An asset absent from the account listing simply has no balance.
	return 0, nil
}

// --- Translation Helpers ---

func translateOrderResponse(order *binance.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	quoteQty, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)

	// Spot market orders report fills, not an average price. Derive it from
	// the cumulative quote amount when possible.
	var avgPrice float64
	if execQty > 0 && quoteQty > 0 {
		avgPrice = quoteQty / execQty
	} else if len(order.Fills) > 0 {
		avgPrice, _ = strconv.ParseFloat(order.Fills[0].Price, 64)
	}

	return &ports.OrderResponse{
		OrderID:       strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          domain.OrderSide(order.Side),
		AvgPrice:      avgPrice,
		ExecutedQty:   execQty,
		Timestamp:     time.UnixMilli(order.TransactTime),
	}
}

func translateKline(bk *binance.Kline, symbol string) (*domain.Candle, error) {
	if bk == nil {
		return nil, errors.New("received nil kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Candle{
		OpenTime: time.UnixMilli(bk.OpenTime),
		Symbol:   symbol,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    cls,
		Volume:   vol,
	}, nil
}
