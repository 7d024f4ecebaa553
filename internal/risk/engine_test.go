package risk

import (
	"context"
	"testing"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/portfolio"

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

func testLimits() Limits {
	return Limits{
		MaxPositionExposure: d("0.05"),
		MaxOpenPositions:    5,
		DailyLossLimit:      d("0.02"),
		MaxDrawdown:         d("0.08"),
		FeeBuffer:           d("0.002"),
		Reset:               portfolio.ResetUTCDay,
	}
}

func newTestEngine(t *testing.T, equity string) (*Engine, *portfolio.Ledger) {
	t.Helper()
	ledger, err := portfolio.NewLedger(portfolio.Config{
		Instruments: []domain.Instrument{{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"}},
		Logger:      nopLogger{},
	})
	require.NoError(t, err)
	ledger.Deposit("USDT", d(equity))
	ledger.SetMark("BTCUSDT", d("45000"), time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	engine, err := NewEngine(testLimits(), ledger, nopLogger{})
	require.NoError(t, err)
	return engine, ledger
}

func buyIntent(qty string) domain.TradeIntent {
	return domain.TradeIntent{
		ID: "i1", StrategyID: "s1", Symbol: "BTCUSDT",
		Side: domain.Buy, Quantity: d(qty),
	}
}

func sellIntent(qty string) domain.TradeIntent {
	it := buyIntent(qty)
	it.Side = domain.Sell
	return it
}

func TestEvaluate_ExposureLimit(t *testing.T) {
	ctx := context.Background()

	// Equity 125000, limit 5%: 0.2 BTC at 45000 is 9000/125000 = 7.2%.
	engine, _ := newTestEngine(t, "125000")
	res := engine.Evaluate(ctx, buyIntent("0.2"), "o1")
	assert.False(t, res.Approved)
	assert.Equal(t, domain.ReasonExposureLimit, res.Reason)

	// 0.1 BTC is 4500/125000 = 3.6%.
	res = engine.Evaluate(ctx, buyIntent("0.1"), "o2")
	assert.True(t, res.Approved, res.Detail)
	assert.Equal(t, "o2", res.Spec.OrderID)
	assert.Equal(t, domain.Market, res.Spec.Type)
}

func TestEvaluate_DailyLossLimitHaltsNewRisk(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newTestEngine(t, "125000")

	// Drive daily PnL to -2600: -2600/125000 = -2.08% <= -2%.
	seedLoss(t, ledger, "2600")

	res := engine.Evaluate(ctx, buyIntent("0.01"), "o1")
	assert.False(t, res.Approved)
	assert.Equal(t, domain.ReasonDailyLossLimit, res.Reason)
}

func TestEvaluate_DrawdownHaltsNewRiskButAllowsClosing(t *testing.T) {
	ctx := context.Background()

	ledger, err := portfolio.NewLedger(portfolio.Config{
		Instruments: []domain.Instrument{{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"}},
		Logger:      nopLogger{},
	})
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Build an open position so a reducing sell exists, then mark the
	// portfolio down: peak 100000, equity 91000, drawdown 9% >= 8%.
	ledger.Deposit("USDT", d("55000"))
	ledger.SetMark("BTCUSDT", d("45000"), now)
	require.NoError(t, ledger.Reserve("seed", "USDT", d("45000")))
	require.NoError(t, ledger.ApplyFill(
		&domain.Order{ID: "seed", StrategyID: "s1", Symbol: "BTCUSDT", Side: domain.Buy, Quantity: d("1")},
		domain.Fill{ID: "seed-f", OrderID: "seed", Quantity: d("1"), Price: d("45000"), Timestamp: now}))
	ledger.Release("seed")

	ledger.SetMark("BTCUSDT", d("90000"), now.Add(time.Minute))  // peak 100000
	ledger.SetMark("BTCUSDT", d("81000"), now.Add(2*time.Minute)) // equity 91000
	require.True(t, ledger.Drawdown().Equal(d("0.09")), "drawdown %s", ledger.Drawdown())

	// Widen the exposure cap so the seeded 1 BTC position (about 89% of
	// equity) passes the exposure check and the drawdown check decides.
	limits := testLimits()
	limits.MaxPositionExposure = d("1")
	engine, err := NewEngine(limits, ledger, nopLogger{})
	require.NoError(t, err)

	res := engine.Evaluate(ctx, buyIntent("0.001"), "o1")
	assert.False(t, res.Approved)
	assert.Equal(t, domain.ReasonDrawdownLimit, res.Reason)

	// Reducing an existing long stays allowed under halt.
	res = engine.Evaluate(ctx, sellIntent("1"), "o2")
	assert.True(t, res.Approved, res.Detail)
}

func TestEvaluate_PositionCountLimit(t *testing.T) {
	ctx := context.Background()
	ledger, err := portfolio.NewLedger(portfolio.Config{
		Instruments: []domain.Instrument{
			{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"},
			{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT"},
		},
		Logger: nopLogger{},
	})
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger.Deposit("USDT", d("100000"))
	ledger.SetMark("BTCUSDT", d("45000"), now)
	ledger.SetMark("ETHUSDT", d("2000"), now)

	require.NoError(t, ledger.Reserve("seed", "USDT", d("2000")))
	require.NoError(t, ledger.ApplyFill(
		&domain.Order{ID: "seed", StrategyID: "s1", Symbol: "ETHUSDT", Side: domain.Buy, Quantity: d("1")},
		domain.Fill{ID: "seed-f", OrderID: "seed", Quantity: d("1"), Price: d("2000"), Timestamp: now}))
	ledger.Release("seed")

	limits := testLimits()
	limits.MaxOpenPositions = 1
	engine, err := NewEngine(limits, ledger, nopLogger{})
	require.NoError(t, err)

	// Opening a second symbol is blocked.
	res := engine.Evaluate(ctx, buyIntent("0.01"), "o1")
	assert.False(t, res.Approved)
	assert.Equal(t, domain.ReasonPositionLimit, res.Reason)

	// Adding to the already-open symbol is not a new position.
	add := domain.TradeIntent{ID: "i2", StrategyID: "s1", Symbol: "ETHUSDT", Side: domain.Buy, Quantity: d("0.5")}
	res = engine.Evaluate(ctx, add, "o2")
	assert.True(t, res.Approved, res.Detail)
}

func TestEvaluate_BalanceCheckReserves(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newTestEngine(t, "1000")

	// Widen the exposure cap so the balance check is the one under test.
	limits := testLimits()
	limits.MaxPositionExposure = d("1")
	require.NoError(t, engine.Reload(limits))

	// 0.02 BTC at 45000 needs 900 * 1.002 = 901.8; approved and locked.
	res := engine.Evaluate(ctx, buyIntent("0.02"), "o1")
	require.True(t, res.Approved, res.Detail)
	assert.True(t, ledger.LockedFor("o1").Equal(d("901.8")))
	assert.True(t, ledger.FreeBalance("USDT").Equal(d("98.2")))

	// The next identical intent can no longer afford the reserve.
	res = engine.Evaluate(ctx, buyIntent("0.02"), "o2")
	assert.False(t, res.Approved)
	assert.Equal(t, domain.ReasonInsufficientBalance, res.Reason)
}

func TestEvaluate_OversellRejected(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, "125000")

	// No BTC held: sells have nothing to reserve.
	res := engine.Evaluate(ctx, sellIntent("0.1"), "o1")
	assert.False(t, res.Approved)
	assert.Equal(t, domain.ReasonInsufficientBalance, res.Reason)
}

func TestEvaluate_ChecksRunInOrder(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newTestEngine(t, "125000")

	// Both exposure and balance would fail; exposure is checked first.
	seedLoss(t, ledger, "2600")
	res := engine.Evaluate(ctx, buyIntent("0.2"), "o1")
	assert.False(t, res.Approved)
	assert.Equal(t, domain.ReasonExposureLimit, res.Reason)
}

func TestEvaluate_LimitIntentUsesLimitPrice(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newTestEngine(t, "125000")

	it := buyIntent("0.1")
	it.Limit = d("44000")
	res := engine.Evaluate(ctx, it, "o1")
	require.True(t, res.Approved, res.Detail)
	assert.Equal(t, domain.Limit, res.Spec.Type)
	assert.True(t, res.Spec.Price.Equal(d("44000")))
	assert.True(t, ledger.LockedFor("o1").Equal(d("4408.8")), "locked %s", ledger.LockedFor("o1"))
}

// seedLoss realizes a 2600 quote loss through a buy-high sell-low round trip.
func seedLoss(t *testing.T, ledger *portfolio.Ledger, amount string) {
	t.Helper()
	require.Equal(t, "2600", amount)
	now := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	require.NoError(t, ledger.Reserve("loss-b", "USDT", d("22500")))
	require.NoError(t, ledger.ApplyFill(
		&domain.Order{ID: "loss-b", StrategyID: "s1", Symbol: "BTCUSDT", Side: domain.Buy, Quantity: d("0.5")},
		domain.Fill{ID: "loss-bf", OrderID: "loss-b", Quantity: d("0.5"), Price: d("45000"), Timestamp: now}))
	ledger.Release("loss-b")

	require.NoError(t, ledger.Reserve("loss-s", "BTC", d("0.5")))
	require.NoError(t, ledger.ApplyFill(
		&domain.Order{ID: "loss-s", StrategyID: "s1", Symbol: "BTCUSDT", Side: domain.Sell, Quantity: d("0.5")},
		domain.Fill{ID: "loss-sf", OrderID: "loss-s", Quantity: d("0.5"), Price: d("39800"), Timestamp: now}))
	ledger.Release("loss-s")

	require.True(t, ledger.DailyPnL().Equal(d("-2600")), "daily pnl %s", ledger.DailyPnL())
}

func TestLevel_TracksDrawdownProximity(t *testing.T) {
	ledger, err := portfolio.NewLedger(portfolio.Config{
		Instruments: []domain.Instrument{{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"}},
		Logger:      nopLogger{},
	})
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	ledger.Deposit("USDT", d("55000"))
	ledger.SetMark("BTCUSDT", d("45000"), now)
	require.NoError(t, ledger.Reserve("seed", "USDT", d("45000")))
	require.NoError(t, ledger.ApplyFill(
		&domain.Order{ID: "seed", StrategyID: "s1", Symbol: "BTCUSDT", Side: domain.Buy, Quantity: d("1")},
		domain.Fill{ID: "seed-f", OrderID: "seed", Quantity: d("1"), Price: d("45000"), Timestamp: now}))
	ledger.Release("seed")

	engine, err := NewEngine(testLimits(), ledger, nopLogger{})
	require.NoError(t, err)

	// Peak 100000. Limits: drawdown halt at 8%, elevated from 6%.
	ledger.SetMark("BTCUSDT", d("90000"), now.Add(time.Minute))
	assert.Equal(t, domain.RiskNormal, engine.Level())

	ledger.SetMark("BTCUSDT", d("83500"), now.Add(2*time.Minute)) // dd 6.5%
	assert.Equal(t, domain.RiskElevated, engine.Level())

	ledger.SetMark("BTCUSDT", d("81000"), now.Add(3*time.Minute)) // dd 9%
	assert.Equal(t, domain.RiskHalted, engine.Level())
}

func TestLevel_HaltsOnDailyLoss(t *testing.T) {
	engine, ledger := newTestEngine(t, "125000")
	assert.Equal(t, domain.RiskNormal, engine.Level())

	// -2600 against 122400 equity is a 2.12% daily loss, past the 2% halt.
	seedLoss(t, ledger, "2600")
	assert.Equal(t, domain.RiskHalted, engine.Level())
}
