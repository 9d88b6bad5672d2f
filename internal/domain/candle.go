package domain

import "time"

// Candle represents a single OHLCV candlestick.
type Candle struct {
	OpenTime time.Time // Start time of the interval
	Symbol   string    // Trading symbol
	Open     float64   // Opening price
	High     float64   // Highest price
	Low      float64   // Lowest price
	Close    float64   // Closing price
	Volume   float64   // Base-asset volume traded in the interval
}

// Body returns the absolute size of the candle body.
func (c *Candle) Body() float64 {
	body := c.Close - c.Open
	if body < 0 {
		body = -body
	}
	return body
}

// Range returns the full high-to-low span of the candle.
func (c *Candle) Range() float64 {
	return c.High - c.Low
}

// IsBullish reports whether the candle closed above its open.
func (c *Candle) IsBullish() bool {
	return c.Close > c.Open
}

// IsValid checks the basic shape invariants produced by a well-behaved feed.
func (c *Candle) IsValid() bool {
	return c.Open > 0 && c.Close > 0 && c.High >= c.Low
}
