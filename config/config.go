package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"tradecore/internal/adapters/logger" // Import the logger package for LogLevel
	"tradecore/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Mode: live, paper, or backtest. Validated by the orchestrator.
	Mode string

	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Instruments to trade, parsed from SYMBOLS ("BTCUSDT:BTC:USDT,...").
	Instruments []domain.Instrument

	// Risk policy file (YAML), hot-reloadable.
	RiskPolicyPath string

	// Strategy Parameters
	Strategies        []string // enabled strategies, from STRATEGIES ("momentum,meanreversion,grid")
	MomentumWindow    int
	MomentumThreshold float64
	MeanRevWindow     int
	MeanRevZScore     float64
	GridLevels        int
	GridSpacing       float64
	OrderQuantity     decimal.Decimal

	// Simulation
	FeeRate      decimal.Decimal
	PaperLatency time.Duration
	InitialAsset string
	InitialCash  decimal.Decimal
	BacktestCSV  string
	FillModel    string // next-price or touch

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel

	// Connection Settings
	StreamInterval       string
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	ReconcileInterval    time.Duration
	StatusInterval       time.Duration
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	cfg.Mode = getEnv("MODE", "paper")

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	// Keys are only mandatory when real orders leave the process.
	if cfg.Mode == "live" {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set in live mode")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set in live mode")
		}
	}

	// Instruments
	cfg.Instruments, err = parseInstruments(getEnv("SYMBOLS", "BTCUSDT:BTC:USDT"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SYMBOLS: %v", err))
	}

	// Risk policy
	cfg.RiskPolicyPath = getEnv("RISK_POLICY_PATH", "./config/risk.yaml")
	if cfg.RiskPolicyPath == "" {
		errs = append(errs, "RISK_POLICY_PATH must be set")
	}

	// Strategy parameters
	cfg.Strategies, err = parseStrategies(getEnv("STRATEGIES", "momentum"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STRATEGIES: %v", err))
	}
	cfg.MomentumWindow = getEnvAsInt("MOMENTUM_WINDOW", 20)
	if cfg.MomentumWindow <= 0 {
		errs = append(errs, "MOMENTUM_WINDOW must be positive")
	}
	cfg.MomentumThreshold = getEnvAsFloat("MOMENTUM_THRESHOLD", 0.005)
	if cfg.MomentumThreshold <= 0 {
		errs = append(errs, "MOMENTUM_THRESHOLD must be positive")
	}
	cfg.MeanRevWindow = getEnvAsInt("MEANREV_WINDOW", 20)
	if cfg.MeanRevWindow <= 1 {
		errs = append(errs, "MEANREV_WINDOW must be greater than 1")
	}
	cfg.MeanRevZScore = getEnvAsFloat("MEANREV_ZSCORE", 1.5)
	if cfg.MeanRevZScore <= 0 {
		errs = append(errs, "MEANREV_ZSCORE must be positive")
	}
	cfg.GridLevels = getEnvAsInt("GRID_LEVELS", 5)
	if cfg.GridLevels <= 0 {
		errs = append(errs, "GRID_LEVELS must be positive")
	}
	cfg.GridSpacing = getEnvAsFloat("GRID_SPACING", 0.01)
	if cfg.GridSpacing <= 0 {
		errs = append(errs, "GRID_SPACING must be positive")
	}
	cfg.OrderQuantity, err = getEnvAsDecimal("ORDER_QUANTITY", "0.01")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ORDER_QUANTITY: %v", err))
	} else if !cfg.OrderQuantity.IsPositive() {
		errs = append(errs, "ORDER_QUANTITY must be positive")
	}

	// Simulation settings
	cfg.FeeRate, err = getEnvAsDecimal("FEE_RATE", "0.001")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FEE_RATE: %v", err))
	} else if cfg.FeeRate.IsNegative() {
		errs = append(errs, "FEE_RATE cannot be negative")
	}

	paperLatencyMs := getEnvAsInt("PAPER_LATENCY_MS", 50)
	if paperLatencyMs < 0 {
		errs = append(errs, "PAPER_LATENCY_MS cannot be negative")
	}
	cfg.PaperLatency = time.Duration(paperLatencyMs) * time.Millisecond

	cfg.InitialAsset = getEnv("INITIAL_CASH_ASSET", "USDT")
	cfg.InitialCash, err = getEnvAsDecimal("INITIAL_CASH", "10000")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_CASH: %v", err))
	} else if cfg.InitialCash.IsNegative() {
		errs = append(errs, "INITIAL_CASH cannot be negative")
	}

	cfg.BacktestCSV = getEnv("BACKTEST_CSV", "")
	if cfg.Mode == "backtest" && cfg.BacktestCSV == "" {
		errs = append(errs, "BACKTEST_CSV must be set in backtest mode")
	}
	cfg.FillModel = getEnv("FILL_MODEL", "next-price")
	if cfg.FillModel != "next-price" && cfg.FillModel != "touch" {
		errs = append(errs, fmt.Sprintf("FILL_MODEL must be next-price or touch, got %q", cfg.FillModel))
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/tradecore.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Connection Settings
	cfg.StreamInterval = getEnv("STREAM_INTERVAL", "1m")

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	reconcileSeconds := getEnvAsInt("RECONCILE_INTERVAL_SECONDS", 15)
	if reconcileSeconds < 0 {
		errs = append(errs, "RECONCILE_INTERVAL_SECONDS cannot be negative")
	}
	cfg.ReconcileInterval = time.Duration(reconcileSeconds) * time.Second

	statusSeconds := getEnvAsInt("STATUS_INTERVAL_SECONDS", 60)
	if statusSeconds < 0 {
		errs = append(errs, "STATUS_INTERVAL_SECONDS cannot be negative")
	}
	cfg.StatusInterval = time.Duration(statusSeconds) * time.Second

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// parseInstruments parses "SYMBOL:BASE:QUOTE" triples separated by commas.
func parseInstruments(raw string) ([]domain.Instrument, error) {
	parts := strings.Split(raw, ",")
	instruments := make([]domain.Instrument, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 || fields[0] == "" || fields[1] == "" || fields[2] == "" {
			return nil, fmt.Errorf("instrument %q must be SYMBOL:BASE:QUOTE", part)
		}
		instruments = append(instruments, domain.Instrument{
			Symbol: fields[0],
			Base:   fields[1],
			Quote:  fields[2],
		})
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("no instruments configured")
	}
	return instruments, nil
}

// parseStrategies splits a comma-separated strategy list and rejects unknown
// or repeated names. Valid names: momentum, meanreversion, grid.
func parseStrategies(raw string) ([]string, error) {
	known := map[string]bool{"momentum": true, "meanreversion": true, "grid": true}
	seen := map[string]bool{}
	names := make([]string, 0, 3)
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if !known[name] {
			return nil, fmt.Errorf("unknown strategy %q", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("strategy %q listed twice", name)
		}
		seen[name] = true
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no strategies configured")
	}
	return names, nil
}

// Symbols returns the configured symbols in declaration order.
func (c *Config) Symbols() []string {
	out := make([]string, len(c.Instruments))
	for i, inst := range c.Instruments {
		out[i] = inst.Symbol
	}
	return out
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

func getEnvAsDecimal(key, defaultValue string) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
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
