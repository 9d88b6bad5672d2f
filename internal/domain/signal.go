package domain

// Signal is a breakout candidate produced by the detector for one instrument.
// It lives for a single scan cycle and is never persisted.
type Signal struct {
	Symbol     string  // Instrument the signal was detected on
	Strength   float64 // Ranking score (>= 0); not a probability
	EntryPrice float64 // Close of the triggering candle

	// Exit bands. Both edges are carried to support partial exits later;
	// the lifecycle currently fires on TakeProfitLow and StopLossHigh.
	TakeProfitLow  float64
	TakeProfitHigh float64
	StopLossLow    float64
	StopLossHigh   float64
}

// TakeProfitTrigger returns the price level that mandates a take-profit exit.
func (s *Signal) TakeProfitTrigger() float64 {
	return s.TakeProfitLow
}

// StopLossTrigger returns the price level that mandates a stop-loss exit.
func (s *Signal) StopLossTrigger() float64 {
	return s.StopLossHigh
}
