package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"tradecore/internal/adapters/backtest"
	"tradecore/internal/domain"
	"tradecore/internal/execution"
	"tradecore/internal/portfolio"
	"tradecore/internal/risk"
	"tradecore/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}
func (nopLogger) Fatal(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// scriptedStrategy emits a fixed intent on selected event indexes, so a
// replayed dataset always produces the same intent stream.
type scriptedStrategy struct {
	id     string
	script map[int]domain.TradeIntent // event index -> intent
	seen   int
}

func (s *scriptedStrategy) ID() string                    { return s.id }
func (s *scriptedStrategy) Symbols() []string             { return []string{"BTCUSDT"} }
func (s *scriptedStrategy) OnStart(context.Context) error { return nil }
func (s *scriptedStrategy) OnStop(context.Context) error  { return nil }

func (s *scriptedStrategy) OnData(_ context.Context, _ domain.MarketEvent) ([]domain.TradeIntent, error) {
	idx := s.seen
	s.seen++
	if intent, ok := s.script[idx]; ok {
		return []domain.TradeIntent{intent}, nil
	}
	return nil, nil
}

func testKlines(prices []string) []domain.Kline {
	out := make([]domain.Kline, len(prices))
	for i, p := range prices {
		open := time.Date(2026, 3, 2, 0, i, 0, 0, time.UTC)
		out[i] = domain.Kline{
			OpenTime: open, CloseTime: open.Add(time.Minute),
			Symbol: "BTCUSDT", Interval: "1m",
			Open: d(p), High: d(p), Low: d(p), Close: d(p),
			Volume: d("10"), IsFinal: true,
		}
	}
	return out
}

func looseLimits() risk.Limits {
	return risk.Limits{
		MaxPositionExposure: d("1"),
		MaxOpenPositions:    5,
		DailyLossLimit:      d("0.5"),
		MaxDrawdown:         d("0.9"),
		FeeBuffer:           d("0.002"),
		Reset:               portfolio.ResetUTCDay,
	}
}

// runBacktest wires a full pipeline around the given klines and script and
// runs it to completion.
func runBacktest(t *testing.T, klines []domain.Kline, script map[int]domain.TradeIntent) (*BacktestReport, []string) {
	t.Helper()
	logger := nopLogger{}

	ledger, err := portfolio.NewLedger(portfolio.Config{
		Instruments: []domain.Instrument{{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"}},
		ResetPolicy: portfolio.ResetUTCDay,
		Logger:      logger,
	})
	require.NoError(t, err)
	ledger.Deposit("USDT", d("10000"))

	riskEngine, err := risk.NewEngine(looseLimits(), ledger, logger)
	require.NoError(t, err)

	clock := backtest.NewSimClock(klines[0].OpenTime)
	adapter, err := backtest.NewAdapter(backtest.Config{
		Model: backtest.NextPriceModel{}, FeeRate: d("0.001"), Clock: clock, Logger: logger,
	})
	require.NoError(t, err)

	feed, err := backtest.NewFeed(klines, logger)
	require.NoError(t, err)

	exec, err := execution.NewEngine(adapter, execution.NoRetry(), clock, logger)
	require.NoError(t, err)

	runtime, err := strategy.NewRuntime(clock, logger)
	require.NoError(t, err)
	require.NoError(t, runtime.Register(&scriptedStrategy{id: "scripted", script: script}))

	seq := 0
	orch, err := New(Config{
		Mode: ModeBacktest, Runtime: runtime, Risk: riskEngine, Exec: exec,
		Ledger: ledger, Feed: feed, Adapter: adapter, Clock: clock, Logger: logger,
		SimClock: clock,
		OrderIDs: func() string { seq++; return fmt.Sprintf("ord-%06d", seq) },
	})
	require.NoError(t, err)

	report, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	var ids []string
	for _, o := range exec.RecentOrders(0) {
		ids = append(ids, o.ID)
	}
	return report, ids
}

func roundTripScript() map[int]domain.TradeIntent {
	return map[int]domain.TradeIntent{
		1: {Symbol: "BTCUSDT", Side: domain.Buy, Quantity: d("0.1")},
		5: {Symbol: "BTCUSDT", Side: domain.Sell, Quantity: d("0.1")},
	}
}

func TestBacktest_RoundTripSettlesAndReports(t *testing.T) {
	prices := []string{"45000", "45000", "45000", "45400", "45600", "45800", "46000", "46000"}
	report, ids := runBacktest(t, testKlines(prices), roundTripScript())

	assert.Equal(t, 8, report.Events)
	assert.Equal(t, 2, report.Orders)
	assert.Equal(t, []string{"ord-000001", "ord-000002"}, ids)

	// Buy intent on event 1 fills on event 2 at 45000; sell on event 5 fills
	// on event 6 at 46000. Realized = (46000-45000)*0.1 = 100, fees = 4.50 +
	// 4.60, net = 90.90.
	assert.Empty(t, report.Final.Positions, "round trip leaves no open position")
	assert.True(t, report.Final.Equity.Equal(d("10090.9")), "equity %s", report.Final.Equity)
	assert.Equal(t, 1, report.Performance.Trades)
	assert.Equal(t, 1, report.Performance.Wins)
}

func TestBacktest_ReplayIsDeterministic(t *testing.T) {
	prices := []string{"45000", "44800", "45200", "45100", "45600", "45300", "46000", "45900",
		"46100", "45700"}
	script := roundTripScript()

	first, firstIDs := runBacktest(t, testKlines(prices), script)
	second, secondIDs := runBacktest(t, testKlines(prices), script)

	assert.Equal(t, firstIDs, secondIDs)
	assert.Equal(t, first.Events, second.Events)
	assert.Equal(t, first.Orders, second.Orders)
	assert.True(t, first.Final.Equity.Equal(second.Final.Equity))
	assert.True(t, first.Final.DailyPnL.Equal(second.Final.DailyPnL))
	assert.Equal(t, first.Performance, second.Performance)
}

func TestBacktest_DrainCancelsRestingOrdersAtFeedEnd(t *testing.T) {
	// A buy limit far below the tape never fills; the run must end with the
	// order canceled and the reservation released.
	script := map[int]domain.TradeIntent{
		1: {Symbol: "BTCUSDT", Side: domain.Buy, Quantity: d("0.1"), Limit: d("40000")},
	}
	prices := []string{"45000", "45000", "45100", "45200"}
	report, ids := runBacktest(t, testKlines(prices), script)

	require.Equal(t, []string{"ord-000001"}, ids)
	assert.Empty(t, report.Final.Positions)
	assert.True(t, report.Final.Equity.Equal(d("10000")), "reservation released on drain, equity %s", report.Final.Equity)
	for _, b := range report.Final.Balances {
		assert.True(t, b.Locked.IsZero(), "no funds left locked for %s", b.Asset)
	}
}

func TestBacktest_RiskRejectionProducesNoOrder(t *testing.T) {
	// Selling with no position is rejected by the oversell check, so no order
	// id is ever consumed.
	script := map[int]domain.TradeIntent{
		1: {Symbol: "BTCUSDT", Side: domain.Sell, Quantity: d("0.1")},
	}
	prices := []string{"45000", "45000", "45100"}
	report, ids := runBacktest(t, testKlines(prices), script)

	assert.Empty(t, ids)
	assert.Equal(t, 0, report.Orders)
	assert.True(t, report.Final.Equity.Equal(d("10000")))
}

func TestStatusViewAfterRun(t *testing.T) {
	prices := []string{"45000", "45000", "45000", "45400", "45600", "45800", "46000", "46000"}
	logger := nopLogger{}

	ledger, err := portfolio.NewLedger(portfolio.Config{
		Instruments: []domain.Instrument{{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"}},
		ResetPolicy: portfolio.ResetUTCDay,
		Logger:      logger,
	})
	require.NoError(t, err)
	ledger.Deposit("USDT", d("10000"))

	riskEngine, err := risk.NewEngine(looseLimits(), ledger, logger)
	require.NoError(t, err)

	klines := testKlines(prices)
	clock := backtest.NewSimClock(klines[0].OpenTime)
	adapter, err := backtest.NewAdapter(backtest.Config{FeeRate: d("0.001"), Clock: clock, Logger: logger})
	require.NoError(t, err)
	feed, err := backtest.NewFeed(klines, logger)
	require.NoError(t, err)
	exec, err := execution.NewEngine(adapter, execution.NoRetry(), clock, logger)
	require.NoError(t, err)
	runtime, err := strategy.NewRuntime(clock, logger)
	require.NoError(t, err)
	require.NoError(t, runtime.Register(&scriptedStrategy{id: "scripted", script: roundTripScript()}))

	seq := 0
	orch, err := New(Config{
		Mode: ModeBacktest, Runtime: runtime, Risk: riskEngine, Exec: exec,
		Ledger: ledger, Feed: feed, Adapter: adapter, Clock: clock, Logger: logger,
		SimClock: clock,
		OrderIDs: func() string { seq++; return fmt.Sprintf("ord-%06d", seq) },
	})
	require.NoError(t, err)
	_, err = orch.Run(context.Background())
	require.NoError(t, err)

	view := orch.Status()
	assert.Equal(t, ModeBacktest, view.Mode)
	assert.True(t, view.Portfolio.Equity.Equal(d("10090.9")))
	assert.Equal(t, domain.RiskNormal, view.RiskLevel)
	assert.Empty(t, view.OpenOrders)
	require.Len(t, view.Strategies, 1)
	assert.Equal(t, strategy.StateActive, view.Strategies[0].State)
	assert.Len(t, view.Recent, 2)
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"live", "paper", "backtest"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}
	_, err := ParseMode("replay")
	assert.Error(t, err)
}
