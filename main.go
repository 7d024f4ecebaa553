package main

import (
	"context"
	"errors"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradecore/config"
	"tradecore/internal/adapters/backtest"
	"tradecore/internal/adapters/binanceclient"
	"tradecore/internal/adapters/logger"
	"tradecore/internal/adapters/paper"
	"tradecore/internal/adapters/sqlite"
	"tradecore/internal/app"
	"tradecore/internal/execution"
	"tradecore/internal/portfolio"
	"tradecore/internal/ports"
	"tradecore/internal/risk"
	"tradecore/internal/strategy"
	"tradecore/internal/strategy/strategies"
	"tradecore/internal/utils"

	"github.com/google/uuid"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "mode": cfg.Mode})

	mode, err := app.ParseMode(cfg.Mode)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Invalid mode")
		log.Fatalf("FATAL: Invalid mode: %v", err)
	}

	// 3. Risk policy and portfolio ledger
	limits, err := risk.LoadLimits(cfg.RiskPolicyPath)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to load risk policy")
		log.Fatalf("FATAL: Failed to load risk policy: %v", err)
	}
	ledger, err := portfolio.NewLedger(portfolio.Config{
		Instruments: cfg.Instruments,
		ResetPolicy: limits.Reset,
		Logger:      appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize ledger")
		log.Fatalf("FATAL: Failed to initialize ledger: %v", err)
	}
	riskEngine, err := risk.NewEngine(limits, ledger, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize risk engine")
		log.Fatalf("FATAL: Failed to initialize risk engine: %v", err)
	}

	// 4. Recorder (database adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()

	// 5. Strategies
	runtimeClock, simClock := buildClocks(mode)
	runtime, err := strategy.NewRuntime(runtimeClock, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize strategy runtime")
		log.Fatalf("FATAL: Failed to initialize strategy runtime: %v", err)
	}
	for _, name := range cfg.Strategies {
		strat, err := buildStrategy(name, cfg, appLogger)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize strategy")
			log.Fatalf("FATAL: Failed to initialize strategy %s: %v", name, err)
		}
		if err := runtime.Register(strat); err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to register strategy")
			log.Fatalf("FATAL: Failed to register strategy %s: %v", name, err)
		}
	}

	// 6. Mode-specific adapter, feed, retry policy, and order id source
	adapter, feed, retry, orderIDs, err := buildMode(ctx, cfg, mode, simClock, runtimeClock, ledger, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to build mode wiring")
		log.Fatalf("FATAL: Failed to build mode wiring: %v", err)
	}

	execEngine, err := execution.NewEngine(adapter, retry, runtimeClock, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize execution engine")
		log.Fatalf("FATAL: Failed to initialize execution engine: %v", err)
	}

	orchestrator, err := app.New(app.Config{
		Mode:              mode,
		Runtime:           runtime,
		Risk:              riskEngine,
		Exec:              execEngine,
		Ledger:            ledger,
		Feed:              feed,
		Adapter:           adapter,
		Recorder:          repo,
		Clock:             runtimeClock,
		Logger:            appLogger,
		OrderIDs:          orderIDs,
		SimClock:          simClock,
		ReconcileInterval: cfg.ReconcileInterval,
		StatusInterval:    cfg.StatusInterval,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize orchestrator")
		log.Fatalf("FATAL: Failed to initialize orchestrator: %v", err)
	}

	// 7. Run until interrupted (live/paper) or the dataset ends (backtest)
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGHUP reloads the risk policy without a restart.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			limits, err := risk.LoadLimits(cfg.RiskPolicyPath)
			if err != nil {
				appLogger.Error(runCtx, err, "Risk policy reload failed, keeping current limits")
				continue
			}
			if err := riskEngine.Reload(limits); err != nil {
				appLogger.Error(runCtx, err, "Risk policy reload rejected, keeping current limits")
				continue
			}
			appLogger.Info(runCtx, "Risk policy reloaded", map[string]interface{}{"path": cfg.RiskPolicyPath})
		}
	}()

	report, err := orchestrator.Run(runCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error(ctx, err, "Run exited with error")
		log.Fatalf("FATAL: Run exited with error: %v", err)
	}
	if report != nil {
		printReport(report)
	}
	appLogger.Info(ctx, "Application finished gracefully.")
}

func buildClocks(mode app.Mode) (ports.Clock, *backtest.SimClock) {
	if mode == app.ModeBacktest {
		sim := backtest.NewSimClock(time.Time{})
		return sim, sim
	}
	return ports.SystemClock{}, nil
}

// buildStrategy constructs one enabled strategy by its configured name.
func buildStrategy(name string, cfg *config.Config, appLogger ports.Logger) (ports.Strategy, error) {
	switch name {
	case "momentum":
		return strategies.NewMomentum(strategies.MomentumConfig{
			ID:        "momentum",
			Symbols:   cfg.Symbols(),
			Window:    cfg.MomentumWindow,
			Threshold: cfg.MomentumThreshold,
			Quantity:  cfg.OrderQuantity,
		}, appLogger)
	case "meanreversion":
		return strategies.NewMeanReversion(strategies.MeanReversionConfig{
			ID:       "meanreversion",
			Symbols:  cfg.Symbols(),
			Window:   cfg.MeanRevWindow,
			ZScore:   cfg.MeanRevZScore,
			Quantity: cfg.OrderQuantity,
		}, appLogger)
	case "grid":
		return strategies.NewGrid(strategies.GridConfig{
			ID:       "grid",
			Symbols:  cfg.Symbols(),
			Levels:   cfg.GridLevels,
			Spacing:  cfg.GridSpacing,
			Quantity: cfg.OrderQuantity,
		}, appLogger)
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// buildMode assembles the adapter/feed pair and order id source for one mode.
func buildMode(
	ctx context.Context,
	cfg *config.Config,
	mode app.Mode,
	simClock *backtest.SimClock,
	clock ports.Clock,
	ledger *portfolio.Ledger,
	appLogger ports.Logger,
) (ports.ExecutionAdapter, ports.MarketFeed, execution.RetryPolicy, func() string, error) {
	switch mode {
	case app.ModeLive:
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
			return nil, nil, execution.RetryPolicy{}, nil, err
		}
		if err := client.SetServerTime(ctx); err != nil {
			return nil, nil, execution.RetryPolicy{}, nil, err
		}
		balances, err := client.Balances(ctx)
		if err != nil {
			return nil, nil, execution.RetryPolicy{}, nil, err
		}
		for asset, amount := range balances {
			ledger.Deposit(asset, amount)
		}
		return client, client, execution.DefaultRetryPolicy(), uuid.NewString, nil

	case app.ModePaper:
		live, err := binanceclient.New(binanceclient.Config{
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
			return nil, nil, execution.RetryPolicy{}, nil, err
		}
		sim, err := paper.NewAdapter(paper.Config{
			Latency: cfg.PaperLatency,
			FeeRate: cfg.FeeRate,
			Clock:   clock,
			Logger:  appLogger,
		})
		if err != nil {
			return nil, nil, execution.RetryPolicy{}, nil, err
		}
		ledger.Deposit(cfg.InitialAsset, cfg.InitialCash)
		return sim, live, execution.DefaultRetryPolicy(), uuid.NewString, nil

	case app.ModeBacktest:
		klines, err := utils.ReadKlinesFromCSV(cfg.BacktestCSV)
		if err != nil {
			return nil, nil, execution.RetryPolicy{}, nil, err
		}
		feed, err := backtest.NewFeed(klines, appLogger)
		if err != nil {
			return nil, nil, execution.RetryPolicy{}, nil, err
		}
		var model backtest.FillModel = backtest.NextPriceModel{}
		if cfg.FillModel == "touch" {
			model = backtest.TouchModel{}
		}
		sim, err := backtest.NewAdapter(backtest.Config{
			Model:   model,
			FeeRate: cfg.FeeRate,
			Clock:   simClock,
			Logger:  appLogger,
		})
		if err != nil {
			return nil, nil, execution.RetryPolicy{}, nil, err
		}
		ledger.Deposit(cfg.InitialAsset, cfg.InitialCash)
		var seq int
		orderIDs := func() string {
			seq++
			return fmt.Sprintf("ord-%06d", seq)
		}
		return sim, feed, execution.NoRetry(), orderIDs, nil
	}
	return nil, nil, execution.RetryPolicy{}, nil, fmt.Errorf("unsupported mode %s", mode)
}

func printReport(report *app.BacktestReport) {
	fmt.Printf("events:        %d\n", report.Events)
	fmt.Printf("orders:        %d\n", report.Orders)
	fmt.Printf("trades:        %d (%d wins, %d losses)\n",
		report.Performance.Trades, report.Performance.Wins, report.Performance.Losses)
	fmt.Printf("win rate:      %.2f%%\n", report.Performance.WinRate*100)
	fmt.Printf("net pnl:       %s\n", report.Performance.NetPnL)
	fmt.Printf("avg win/loss:  %s / %s\n", report.Performance.AvgWin, report.Performance.AvgLoss)
	fmt.Printf("profit factor: %.2f\n", report.Performance.ProfitFactor)
	fmt.Printf("max drawdown:  %.2f%%\n", report.Performance.MaxDrawdown*100)
	fmt.Printf("sharpe:        %.3f\n", report.Performance.Sharpe)
	fmt.Printf("final equity:  %s\n", report.Final.Equity)
}
