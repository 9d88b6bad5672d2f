package domain

import "time"

// TradeOutcome is the append-only record emitted when a position closes.
type TradeOutcome struct {
	ID         int64       // Unique identifier (assigned by the ledger)
	UserID     int64       // Owner of the closed position
	Symbol     string      // Instrument traded
	EntryPrice float64     // Confirmed entry fill price
	ExitPrice  float64     // Confirmed exit fill price
	Quantity   float64     // Base-asset quantity traded
	Result     TradeResult // Which condition closed the position
	PNL        float64     // Realized quote-currency profit: (exit - entry) * quantity
	ClosedAt   time.Time   // Timestamp of the confirmed exit fill
}

// IsWin reports whether the trade closed on its take-profit trigger.
func (t *TradeOutcome) IsWin() bool {
	return t.Result == ResultTakeProfit
}

// UserStats aggregates a user's outcome records.
type UserStats struct {
	TradeCount int
	Wins       int
	Losses     int
	WinRate    float64 // Percentage of trades that hit take-profit
	TotalPNL   float64
}
