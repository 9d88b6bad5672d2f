package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"tradingx/config"
	"tradingx/internal/adapters/binanceclient"
	"tradingx/internal/adapters/coinexclient"
	"tradingx/internal/adapters/logger"
	"tradingx/internal/adapters/sqlite"
	"tradingx/internal/app"
	"tradingx/internal/crypto"
	"tradingx/internal/domain"
	"tradingx/internal/engine"
	"tradingx/internal/ports"
	"tradingx/internal/retry"
	"tradingx/internal/scanner"
	"tradingx/internal/scheduler"
	"tradingx/internal/strategy/breakout"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize credential encryption and repository (Database Adapter)
	encryptor, err := crypto.NewEncryptorFromHex(cfg.EncryptionKey)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Invalid encryption key")
		log.Fatalf("FATAL: Invalid encryption key: %v", err)
	}
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath:    cfg.DBPath,
		Encryptor: encryptor,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize Exchange Gateway
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
	appLogger.Info(context.Background(), "Exchange gateway initialized", map[string]interface{}{"exchange": cfg.Exchange})

	// 5. Initialize Signal Detector
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
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize breakout detector")
		log.Fatalf("FATAL: Failed to initialize breakout detector: %v", err)
	}

	// 6. Initialize Market Scanner
	marketScanner, err := scanner.New(scanner.Config{
		QuoteAsset:    cfg.QuoteAsset,
		CandleWindow:  cfg.CandleWindow,
		MaxCandidates: cfg.MaxCandidates,
	}, gateway, detector, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize market scanner")
		log.Fatalf("FATAL: Failed to initialize market scanner: %v", err)
	}

	// 7. Initialize Lifecycle Engine
	lifecycleEngine, err := engine.New(engine.Config{
		QuoteAsset:        cfg.QuoteAsset,
		PollInterval:      cfg.PollInterval,
		MinCapital:        cfg.MinCapital,
		QuantityPrecision: cfg.QuantityPrecision,
		EntryRetry: retry.Policy{
			MaxAttempts: cfg.EntryMaxAttempts,
			Min:         cfg.RetryMinBackoff,
			Max:         cfg.RetryMaxBackoff,
			Jitter:      true,
		},
		PollRetry: retry.Policy{
			Min:    cfg.RetryMinBackoff,
			Max:    cfg.RetryMaxBackoff,
			Jitter: true,
		},
		ExitRetry: retry.Policy{
			Min:    cfg.RetryMinBackoff,
			Max:    cfg.RetryMaxBackoff,
			Jitter: true,
		},
		ExitAlertThreshold: cfg.ExitAlertThreshold,
	}, gateway, repo, repo, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize lifecycle engine")
		log.Fatalf("FATAL: Failed to initialize lifecycle engine: %v", err)
	}

	// 8. Initialize User Scheduler
	sched, err := scheduler.New(scheduler.Config{
		TickInterval: cfg.TickInterval,
		MinCapital:   cfg.MinCapital,
	}, repo, marketScanner, func(ctx context.Context, userID int64, sig *domain.Signal) {
		lifecycleEngine.Run(ctx, userID, sig)
	}, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize scheduler")
		log.Fatalf("FATAL: Failed to initialize scheduler: %v", err)
	}

	// 9. Initialize Application Service
	tradingService, err := app.NewService(repo, repo, sched, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}

	// 10. Start the Service
	if err := tradingService.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Trading service exited with error")
		log.Fatalf("FATAL: Trading service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
