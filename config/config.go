package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Exchange selection
	Exchange  string // "binance" or "coinex"
	IsTestnet bool   // Binance testnet toggle

	// Market universe
	QuoteAsset     string // Only instruments quoted in this asset are eligible
	CandleInterval string // Kline interval used for detection (e.g. "1min")

	// Breakout detection thresholds
	MinVolume         float64 // Volume floor filtering illiquid candles
	MinBodyRatio      float64 // Minimum body/range ratio
	StrengthThreshold float64 // Minimum composite strength to emit a signal
	CandleWindow      int     // Candles fetched per instrument for detection

	// Exit bands (fractions of entry price)
	TakeProfitMin float64
	TakeProfitMax float64
	StopLossMin   float64
	StopLossMax   float64

	// Scanner
	MaxCandidates int // Top-N signals kept per scan

	// Scheduler / lifecycle
	TickInterval       time.Duration // Scheduler period
	PollInterval       time.Duration // Price poll period while monitoring
	MinCapital         float64       // Quote-currency floor below which sizing aborts
	QuantityPrecision  int32         // Lot precision for order quantities
	EntryMaxAttempts   int           // Retry budget for the entry order
	ExitAlertThreshold int           // Exit attempts before alert-level logging
	RetryMinBackoff    time.Duration
	RetryMaxBackoff    time.Duration

	// Persistence
	DBPath        string
	EncryptionKey string // 32-byte key (hex) for credential encryption at rest

	// Logging
	LogLevel string
	LogFile  string // Optional rotating log file; empty disables file output
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.Exchange = strings.ToLower(getEnv("EXCHANGE", "coinex"))
	if cfg.Exchange != "binance" && cfg.Exchange != "coinex" {
		errs = append(errs, fmt.Sprintf("EXCHANGE must be 'binance' or 'coinex', got %q", cfg.Exchange))
	}
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	cfg.QuoteAsset = getEnv("QUOTE_ASSET", "USDT")
	if cfg.QuoteAsset == "" {
		errs = append(errs, "QUOTE_ASSET must be set")
	}
	cfg.CandleInterval = getEnv("CANDLE_INTERVAL", "1min")

	cfg.MinVolume = getEnvAsFloat("BREAKOUT_MIN_VOLUME", 15000)
	if cfg.MinVolume <= 0 {
		errs = append(errs, "BREAKOUT_MIN_VOLUME must be positive")
	}
	cfg.MinBodyRatio = getEnvAsFloat("BREAKOUT_CANDLE_BODY", 0.60)
	if cfg.MinBodyRatio <= 0 || cfg.MinBodyRatio > 1 {
		errs = append(errs, "BREAKOUT_CANDLE_BODY must be in (0, 1]")
	}
	cfg.StrengthThreshold = getEnvAsFloat("BREAKOUT_STRENGTH_THRESHOLD", 0.75)
	if cfg.StrengthThreshold < 0 {
		errs = append(errs, "BREAKOUT_STRENGTH_THRESHOLD cannot be negative")
	}
	cfg.CandleWindow = getEnvAsInt("CANDLE_WINDOW", 5)
	if cfg.CandleWindow < 2 {
		errs = append(errs, "CANDLE_WINDOW must be at least 2")
	}

	cfg.TakeProfitMin = getEnvAsFloat("TP_MIN", 0.03)
	cfg.TakeProfitMax = getEnvAsFloat("TP_MAX", 0.08)
	cfg.StopLossMin = getEnvAsFloat("SL_MIN", 0.008)
	cfg.StopLossMax = getEnvAsFloat("SL_MAX", 0.018)
	if cfg.TakeProfitMin <= 0 || cfg.TakeProfitMax <= 0 || cfg.TakeProfitMin > cfg.TakeProfitMax {
		errs = append(errs, "TP_MIN and TP_MAX must be positive with TP_MIN <= TP_MAX")
	}
	if cfg.StopLossMin <= 0 || cfg.StopLossMax >= 1 || cfg.StopLossMin > cfg.StopLossMax {
		errs = append(errs, "SL_MIN and SL_MAX must be in (0, 1) with SL_MIN <= SL_MAX")
	}

	cfg.MaxCandidates = getEnvAsInt("MAX_ACTIVE_PAIRS", 5)
	if cfg.MaxCandidates <= 0 {
		errs = append(errs, "MAX_ACTIVE_PAIRS must be positive")
	}

	tickSeconds := getEnvAsInt("TICK_INTERVAL_SECONDS", 60)
	if tickSeconds <= 0 {
		errs = append(errs, "TICK_INTERVAL_SECONDS must be positive")
	}
	cfg.TickInterval = time.Duration(tickSeconds) * time.Second

	pollSeconds := getEnvAsInt("POLL_INTERVAL_SECONDS", 2)
	if pollSeconds <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	cfg.MinCapital = getEnvAsFloat("MIN_CAPITAL", 5.0)
	if cfg.MinCapital < 0 {
		errs = append(errs, "MIN_CAPITAL cannot be negative")
	}
	cfg.QuantityPrecision = int32(getEnvAsInt("QUANTITY_PRECISION", 6))
	if cfg.QuantityPrecision < 0 {
		errs = append(errs, "QUANTITY_PRECISION cannot be negative")
	}
	cfg.EntryMaxAttempts = getEnvAsInt("ENTRY_MAX_ATTEMPTS", 3)
	if cfg.EntryMaxAttempts <= 0 {
		errs = append(errs, "ENTRY_MAX_ATTEMPTS must be positive")
	}
	cfg.ExitAlertThreshold = getEnvAsInt("EXIT_ALERT_THRESHOLD", 10)
	if cfg.ExitAlertThreshold <= 0 {
		errs = append(errs, "EXIT_ALERT_THRESHOLD must be positive")
	}
	cfg.RetryMinBackoff = time.Duration(getEnvAsInt("RETRY_MIN_BACKOFF_MS", 500)) * time.Millisecond
	cfg.RetryMaxBackoff = time.Duration(getEnvAsInt("RETRY_MAX_BACKOFF_MS", 10000)) * time.Millisecond
	if cfg.RetryMinBackoff <= 0 || cfg.RetryMaxBackoff < cfg.RetryMinBackoff {
		errs = append(errs, "retry backoff bounds must be positive with min <= max")
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/tradingx.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	cfg.EncryptionKey = getEnv("ENCRYPTION_KEY", "")
	if cfg.EncryptionKey == "" {
		errs = append(errs, "ENCRYPTION_KEY must be set (64 hex chars)")
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFile = getEnv("LOG_FILE", "")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
