package ports

import (
	"context"
	"time"

	"tradingx/internal/domain"
)

// Credentials are a user's exchange API keys, resolved by the user store at
// lifecycle start. Never persisted in plain text.
type Credentials struct {
	APIKey    string
	APISecret string
}

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       string    // Exchange's order ID
	ClientOrderID string    // Caller-supplied order ID, for idempotency and log correlation
	Symbol        string    // Symbol for the order
	Side          domain.OrderSide
	AvgPrice      float64   // Average filled price (0 if the exchange did not report fills)
	ExecutedQty   float64   // Quantity filled
	Timestamp     time.Time // Time the order response was generated
}

// Filled reports whether the exchange confirmed any fill for the order.
func (o *OrderResponse) Filled() bool {
	return o != nil && o.ExecutedQty > 0
}

// MarketGateway defines the capability surface the trading pipeline needs from
// an exchange. Market-data calls are unauthenticated; trading calls carry the
// acting user's credentials. Implementations wrap transport failures with the
// sentinel errors in this package.
type MarketGateway interface {
	// ListInstruments returns all spot instrument symbols tradable on the exchange.
	ListInstruments(ctx context.Context) ([]string, error)

	// GetCandles retrieves the most recent closed candles for a symbol, oldest first.
	GetCandles(ctx context.Context, symbol string, limit int) ([]*domain.Candle, error)

	// GetLastPrice retrieves the last traded price for a symbol.
	GetLastPrice(ctx context.Context, symbol string) (float64, error)

	// PlaceMarketOrder places a spot market order on behalf of the credential owner.
	// Quantity is the pre-formatted base-asset amount.
	PlaceMarketOrder(ctx context.Context, creds Credentials, symbol string, side domain.OrderSide, quantity string, clientOrderID string) (*OrderResponse, error)

	// GetAccountBalance retrieves the credential owner's free balance for an asset.
	GetAccountBalance(ctx context.Context, creds Credentials, asset string) (float64, error)
}
