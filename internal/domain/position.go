package domain

import "time"

// Position represents an open spot holding being monitored by one lifecycle.
// A position exists only in memory between a confirmed entry fill and a
// confirmed exit fill; at most one exists per user at any instant.
type Position struct {
	UserID            int64     // Owner of the position
	Symbol            string    // Instrument held
	EntryPrice        float64   // Confirmed entry fill price
	Quantity          float64   // Base-asset quantity held
	TakeProfitTrigger float64   // Price at or above which the position must be exited
	StopLossTrigger   float64   // Price at or below which the position must be exited
	OpenedAt          time.Time // Timestamp of the confirmed entry fill
}

// UnrealizedPNL returns the quote-currency profit at the given price.
func (p *Position) UnrealizedPNL(price float64) float64 {
	return (price - p.EntryPrice) * p.Quantity
}
