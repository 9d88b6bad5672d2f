// Command scan runs one market-wide breakout pass and prints the ranked
// candidates. Useful for tuning detection thresholds without trading.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"tradingx/config"
	"tradingx/internal/adapters/binanceclient"
	"tradingx/internal/adapters/coinexclient"
	"tradingx/internal/adapters/logger"
	"tradingx/internal/ports"
	"tradingx/internal/scanner"
	"tradingx/internal/strategy/breakout"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	// 3. Initialize Exchange Gateway (market-data endpoints only)
	var gateway ports.MarketGateway
	switch cfg.Exchange {
	case "binance":
		gateway, err = binanceclient.New(binanceclient.Config{
			UseTestnet: cfg.IsTestnet,
			Logger:     appLogger,
		})
	default:
		gateway, err = coinexclient.New(coinexclient.Config{
			CandleInterval: cfg.CandleInterval,
			Logger:         appLogger,
		})
	}
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize exchange gateway")
		log.Fatalf("FATAL: Failed to initialize exchange gateway: %v", err)
	}

	// 4. Initialize Detector and Scanner
	detector, err := breakout.New(breakout.Config{
		MinVolume:         cfg.MinVolume,
		MinBodyRatio:      cfg.MinBodyRatio,
		StrengthThreshold: cfg.StrengthThreshold,
		TakeProfitMin:     cfg.TakeProfitMin,
		TakeProfitMax:     cfg.TakeProfitMax,
		StopLossMin:       cfg.StopLossMin,
		StopLossMax:       cfg.StopLossMax,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize breakout detector: %v", err)
	}
	marketScanner, err := scanner.New(scanner.Config{
		QuoteAsset:    cfg.QuoteAsset,
		CandleWindow:  cfg.CandleWindow,
		MaxCandidates: cfg.MaxCandidates,
	}, gateway, detector, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize market scanner: %v", err)
	}

	// 5. Run one pass
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	started := time.Now()
	signals, err := marketScanner.Scan(ctx)
	if err != nil {
		appLogger.Error(ctx, err, "Market scan failed")
		log.Fatalf("Market scan failed: %v", err)
	}

	fmt.Printf("Scanned %s market on %s in %s: %d candidate(s)\n",
		cfg.QuoteAsset, cfg.Exchange, time.Since(started).Round(time.Millisecond), len(signals))
	for i, sig := range signals {
		fmt.Printf("%2d. %-12s strength=%.4f entry=%.8g tp=[%.8g, %.8g] sl=[%.8g, %.8g]\n",
			i+1, sig.Symbol, sig.Strength, sig.EntryPrice,
			sig.TakeProfitLow, sig.TakeProfitHigh, sig.StopLossLow, sig.StopLossHigh)
	}
}
