// Package breakout implements the candle breakout detector used by the
// market scanner. Detection is a pure function over a short candle window.
package breakout

import (
	"fmt"

	"tradingx/internal/domain"
)

const (
	bodyWeight   = 0.6
	volumeWeight = 0.4
	// volumeScoreCap keeps a single outlier-volume candle from dominating
	// the composite score.
	volumeScoreCap = 2.0
)

// Config holds the breakout detection thresholds and exit bands.
type Config struct {
	MinVolume         float64 // Volume floor filtering illiquid noise
	MinBodyRatio      float64 // Minimum body/range ratio filtering indecisive candles
	StrengthThreshold float64 // Minimum composite strength to emit a signal

	// Exit bands as fractions of the entry price.
	TakeProfitMin float64
	TakeProfitMax float64
	StopLossMin   float64
	StopLossMax   float64
}

// Detector scores the most recent closed candle of a window for a bullish
// breakout. It holds no state; Detect is deterministic and side-effect-free.
type Detector struct {
	cfg Config
}

// New creates a Detector, validating the configured thresholds.
func New(cfg Config) (*Detector, error) {
	if cfg.MinVolume <= 0 {
		return nil, fmt.Errorf("MinVolume must be positive")
	}
	if cfg.MinBodyRatio <= 0 || cfg.MinBodyRatio > 1 {
		return nil, fmt.Errorf("MinBodyRatio must be in (0, 1]")
	}
	if cfg.StrengthThreshold < 0 {
		return nil, fmt.Errorf("StrengthThreshold cannot be negative")
	}
	if cfg.TakeProfitMin <= 0 || cfg.TakeProfitMax < cfg.TakeProfitMin {
		return nil, fmt.Errorf("take-profit band must be positive with min <= max")
	}
	if cfg.StopLossMin <= 0 || cfg.StopLossMax < cfg.StopLossMin || cfg.StopLossMax >= 1 {
		return nil, fmt.Errorf("stop-loss band must be in (0, 1) with min <= max")
	}
	return &Detector{cfg: cfg}, nil
}

// MinWindowSize returns the minimum number of candles Detect needs.
func (d *Detector) MinWindowSize() int {
	return 2
}

// Detect analyses the window (ordered oldest first) and returns a signal for
// the most recent candle, or nil when no breakout is present. Malformed
// candles are rejected, not reported as errors.
func (d *Detector) Detect(symbol string, candles []*domain.Candle) *domain.Signal {
	if len(candles) < d.MinWindowSize() {
		return nil
	}

	last := candles[len(candles)-1]
	if !last.IsValid() {
		return nil
	}

	rng := last.Range()
	if rng == 0 {
		return nil
	}
	bodyStrength := last.Body() / rng

	if last.Volume < d.cfg.MinVolume {
		return nil
	}
	if bodyStrength < d.cfg.MinBodyRatio {
		return nil
	}
	// Long-only strategy.
	if !last.IsBullish() {
		return nil
	}

	volumeScore := last.Volume / d.cfg.MinVolume
	if volumeScore > volumeScoreCap {
		volumeScore = volumeScoreCap
	}
	strength := bodyWeight*bodyStrength + volumeWeight*volumeScore
	if strength < d.cfg.StrengthThreshold {
		return nil
	}

	entry := last.Close
	return &domain.Signal{
		Symbol:         symbol,
		Strength:       strength,
		EntryPrice:     entry,
		TakeProfitLow:  entry * (1 + d.cfg.TakeProfitMin),
		TakeProfitHigh: entry * (1 + d.cfg.TakeProfitMax),
		StopLossLow:    entry * (1 - d.cfg.StopLossMax),
		StopLossHigh:   entry * (1 - d.cfg.StopLossMin),
	}
}
