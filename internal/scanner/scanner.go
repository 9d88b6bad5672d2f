// Package scanner enumerates eligible instruments and ranks breakout candidates.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tradingx/internal/domain"
	"tradingx/internal/ports"
)

// Config holds market scanning parameters.
type Config struct {
	QuoteAsset    string // Only instruments quoted in this asset are scanned
	CandleWindow  int    // Candles fetched per instrument
	MaxCandidates int    // Top-N signals kept per scan
}

// Scanner performs one market-wide pass: list instruments, detect signals,
// rank by strength.
type Scanner struct {
	cfg      Config
	gateway  ports.MarketGateway
	detector ports.SignalDetector
	logger   ports.Logger
}

// New creates a Scanner instance.
func New(cfg Config, gateway ports.MarketGateway, detector ports.SignalDetector, logger ports.Logger) (*Scanner, error) {
	if gateway == nil || detector == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for scanner")
	}
	if cfg.QuoteAsset == "" {
		return nil, fmt.Errorf("QuoteAsset must be set")
	}
	if cfg.CandleWindow < detector.MinWindowSize() {
		return nil, fmt.Errorf("CandleWindow (%d) below detector minimum (%d)", cfg.CandleWindow, detector.MinWindowSize())
	}
	if cfg.MaxCandidates <= 0 {
		return nil, fmt.Errorf("MaxCandidates must be positive")
	}
	return &Scanner{cfg: cfg, gateway: gateway, detector: detector, logger: logger}, nil
}

// Scan runs one market-wide pass and returns candidates ordered best-first.
// An empty result means no opportunity this cycle, not a failure. Only the
// instrument-list call failing aborts the scan; per-instrument data errors
// are logged and skipped.
func (s *Scanner) Scan(ctx context.Context) ([]*domain.Signal, error) {
	symbols, err := s.gateway.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}

	var signals []*domain.Signal
	scanned := 0
	for _, symbol := range symbols {
		if !strings.HasSuffix(symbol, s.cfg.QuoteAsset) {
			continue
		}
		scanned++

		candles, err := s.gateway.GetCandles(ctx, symbol, s.cfg.CandleWindow)
		if err != nil {
			// Partial data availability is expected; never abort the scan
			// for one instrument.
			s.logger.Debug(ctx, "Skipping instrument: candle fetch failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			continue
		}
		if len(candles) < s.detector.MinWindowSize() {
			s.logger.Debug(ctx, "Skipping instrument: window too short", map[string]interface{}{"symbol": symbol, "candles": len(candles)})
			continue
		}

		if sig := s.detector.Detect(symbol, candles); sig != nil {
			signals = append(signals, sig)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Strength > signals[j].Strength
	})
	if len(signals) > s.cfg.MaxCandidates {
		signals = signals[:s.cfg.MaxCandidates]
	}

	s.logger.Info(ctx, "Market scan complete", map[string]interface{}{
		"instruments": scanned,
		"candidates":  len(signals),
	})
	return signals, nil
}
