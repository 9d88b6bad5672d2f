package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// TradeResult indicates which condition closed a position.
type TradeResult string

const (
	ResultTakeProfit TradeResult = "take_profit"
	ResultStopLoss   TradeResult = "stop_loss"
	// ResultCanceled marks positions closed at market because the lifecycle
	// was canceled (user disabled trading or shutdown) rather than by a trigger.
	ResultCanceled TradeResult = "canceled"
)

// UserStatus represents a user's trading eligibility flag.
type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusInactive UserStatus = "inactive"
)
