// Command fetchdata downloads historical klines from Binance and writes them
// to a CSV file consumable by backtest mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"tradecore/config"
	"tradecore/internal/adapters/binanceclient"
	"tradecore/internal/adapters/logger"
	"tradecore/internal/utils"
)

func main() {
	symbol := flag.String("symbol", "BTCUSDT", "symbol to fetch")
	interval := flag.String("interval", "1m", "kline interval")
	days := flag.Int("days", 90, "how many days back from now")
	out := flag.String("out", "", "output CSV path (default data/<symbol>_<interval>_<range>.csv)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	client, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Instruments:          cfg.Instruments,
		StreamInterval:       cfg.StreamInterval,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	end := time.Now()
	start := end.AddDate(0, 0, -*days)

	fmt.Printf("Fetching klines for %s %s from %s to %s...\n", *symbol, *interval, start, end)
	klines, err := client.GetKlinesRange(ctx, *symbol, *interval, start, end)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching klines")
		log.Fatalf("Error fetching klines: %v", err)
	}
	appLogger.Info(ctx, "Fetched klines", map[string]interface{}{"count": len(klines)})

	filename := *out
	if filename == "" {
		filename = fmt.Sprintf("data/%s_%s_%s_to_%s.csv", *symbol, *interval, start.Format("20060102"), end.Format("20060102"))
	}
	if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": filename})
}
