package strategy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/ports"

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

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// fakeStrategy scripts OnData behavior and counts callbacks.
type fakeStrategy struct {
	id        string
	symbols   []string
	intents   []domain.TradeIntent
	dataErr   error
	panicMsg  string
	startErr  error
	starts    int
	stops     int
	dataCalls int
}

func (f *fakeStrategy) ID() string        { return f.id }
func (f *fakeStrategy) Symbols() []string { return f.symbols }

func (f *fakeStrategy) OnStart(context.Context) error {
	f.starts++
	return f.startErr
}

func (f *fakeStrategy) OnData(context.Context, domain.MarketEvent) ([]domain.TradeIntent, error) {
	f.dataCalls++
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.dataErr != nil {
		return nil, f.dataErr
	}
	return f.intents, nil
}

func (f *fakeStrategy) OnStop(context.Context) error {
	f.stops++
	return nil
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	r, err := NewRuntime(fixedClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}, nopLogger{})
	require.NoError(t, err)
	return r
}

func btcEvent() domain.MarketEvent {
	return domain.MarketEvent{
		Symbol:    "BTCUSDT",
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Price:     decimal.NewFromInt(45000),
		Kind:      domain.EventKline,
	}
}

func TestRuntime_RegisterRejectsDuplicateID(t *testing.T) {
	r := newTestRuntime(t)
	require.NoError(t, r.Register(&fakeStrategy{id: "a", symbols: []string{"BTCUSDT"}}))
	assert.Error(t, r.Register(&fakeStrategy{id: "a", symbols: []string{"BTCUSDT"}}))
	assert.Error(t, r.Register(&fakeStrategy{id: "", symbols: []string{"BTCUSDT"}}))
}

func TestRuntime_DispatchStampsIntentsInRegistrationOrder(t *testing.T) {
	r := newTestRuntime(t)
	first := &fakeStrategy{id: "first", symbols: []string{"BTCUSDT"},
		intents: []domain.TradeIntent{{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: decimal.NewFromFloat(0.1)}}}
	second := &fakeStrategy{id: "second", symbols: []string{"BTCUSDT"},
		intents: []domain.TradeIntent{{Symbol: "BTCUSDT", Side: domain.Sell, Quantity: decimal.NewFromFloat(0.2)}}}
	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))
	r.Start(context.Background())

	intents := r.Dispatch(context.Background(), btcEvent())
	require.Len(t, intents, 2)
	assert.Equal(t, "first-1", intents[0].ID)
	assert.Equal(t, "first", intents[0].StrategyID)
	assert.Equal(t, "second-2", intents[1].ID)
	assert.Equal(t, "second", intents[1].StrategyID)
	assert.False(t, intents[0].EmittedAt.IsZero())

	intents = r.Dispatch(context.Background(), btcEvent())
	require.Len(t, intents, 2)
	assert.Equal(t, "first-3", intents[0].ID, "sequence keeps counting across dispatches")
}

func TestRuntime_DispatchFiltersBySymbol(t *testing.T) {
	r := newTestRuntime(t)
	btc := &fakeStrategy{id: "btc", symbols: []string{"BTCUSDT"}}
	eth := &fakeStrategy{id: "eth", symbols: []string{"ETHUSDT"}}
	require.NoError(t, r.Register(btc))
	require.NoError(t, r.Register(eth))
	r.Start(context.Background())

	r.Dispatch(context.Background(), btcEvent())
	assert.Equal(t, 1, btc.dataCalls)
	assert.Equal(t, 0, eth.dataCalls)
}

func TestRuntime_ErroredStrategyIsIsolated(t *testing.T) {
	r := newTestRuntime(t)
	faulty := &fakeStrategy{id: "faulty", symbols: []string{"BTCUSDT"}, dataErr: errors.New("boom")}
	healthy := &fakeStrategy{id: "healthy", symbols: []string{"BTCUSDT"},
		intents: []domain.TradeIntent{{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: decimal.NewFromFloat(0.1)}}}
	require.NoError(t, r.Register(faulty))
	require.NoError(t, r.Register(healthy))
	r.Start(context.Background())

	intents := r.Dispatch(context.Background(), btcEvent())
	require.Len(t, intents, 1, "healthy strategy still dispatches in the same cycle")
	assert.Equal(t, "healthy", intents[0].StrategyID)

	r.Dispatch(context.Background(), btcEvent())
	assert.Equal(t, 1, faulty.dataCalls, "errored strategy receives no further events")
	assert.Equal(t, 2, healthy.dataCalls)

	statuses := r.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, StateErrored, statuses[0].State)
	assert.Equal(t, StateActive, statuses[1].State)
}

func TestRuntime_PanicIsCaughtAndErrors(t *testing.T) {
	r := newTestRuntime(t)
	panicky := &fakeStrategy{id: "panicky", symbols: []string{"BTCUSDT"}, panicMsg: "nil map write"}
	healthy := &fakeStrategy{id: "healthy", symbols: []string{"BTCUSDT"}}
	require.NoError(t, r.Register(panicky))
	require.NoError(t, r.Register(healthy))
	r.Start(context.Background())

	assert.NotPanics(t, func() { r.Dispatch(context.Background(), btcEvent()) })
	assert.Equal(t, 1, healthy.dataCalls)
	assert.Equal(t, StateErrored, r.Statuses()[0].State)
}

func TestRuntime_ResetClearsErroredState(t *testing.T) {
	r := newTestRuntime(t)
	s := &fakeStrategy{id: "s", symbols: []string{"BTCUSDT"}, dataErr: errors.New("boom")}
	require.NoError(t, r.Register(s))
	r.Start(context.Background())

	r.Dispatch(context.Background(), btcEvent())
	assert.Equal(t, StateErrored, r.Statuses()[0].State)

	s.dataErr = nil
	require.NoError(t, r.Reset("s"))
	r.Dispatch(context.Background(), btcEvent())
	assert.Equal(t, 2, s.dataCalls)
	assert.Equal(t, StateActive, r.Statuses()[0].State)
}

func TestRuntime_DisableFreezesWithoutLosingState(t *testing.T) {
	r := newTestRuntime(t)
	s := &fakeStrategy{id: "s", symbols: []string{"BTCUSDT"}}
	require.NoError(t, r.Register(s))
	r.Start(context.Background())

	require.NoError(t, r.Disable("s"))
	r.Dispatch(context.Background(), btcEvent())
	assert.Equal(t, 0, s.dataCalls)
	assert.Equal(t, StateDisabled, r.Statuses()[0].State)

	require.NoError(t, r.Enable("s"))
	r.Dispatch(context.Background(), btcEvent())
	assert.Equal(t, 1, s.dataCalls)
	assert.Equal(t, 1, s.starts, "re-enable does not restart the strategy")
}

func TestRuntime_EnableUnknownStrategy(t *testing.T) {
	r := newTestRuntime(t)
	assert.ErrorIs(t, r.Enable("ghost"), ports.ErrNotFound)
	assert.ErrorIs(t, r.Reset("ghost"), ports.ErrNotFound)
}

func TestRuntime_StartFailureErrorsOnlyThatStrategy(t *testing.T) {
	r := newTestRuntime(t)
	bad := &fakeStrategy{id: "bad", symbols: []string{"BTCUSDT"}, startErr: errors.New("no warmup data")}
	good := &fakeStrategy{id: "good", symbols: []string{"BTCUSDT"}}
	require.NoError(t, r.Register(bad))
	require.NoError(t, r.Register(good))
	r.Start(context.Background())

	r.Dispatch(context.Background(), btcEvent())
	assert.Equal(t, 0, bad.dataCalls)
	assert.Equal(t, 1, good.dataCalls)
	assert.Equal(t, StateErrored, r.Statuses()[0].State)
}

func TestRuntime_StopCallsOnStopOnce(t *testing.T) {
	r := newTestRuntime(t)
	s := &fakeStrategy{id: "s", symbols: []string{"BTCUSDT"}}
	require.NoError(t, r.Register(s))
	r.Start(context.Background())
	r.Stop(context.Background())
	r.Stop(context.Background())
	assert.Equal(t, 1, s.stops)

	r.Dispatch(context.Background(), btcEvent())
	assert.Equal(t, 0, s.dataCalls, "no dispatch after stop")
}

func TestRuntime_ManyStrategiesKeepStableOrder(t *testing.T) {
	r := newTestRuntime(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Register(&fakeStrategy{id: fmt.Sprintf("s%d", i), symbols: []string{"BTCUSDT"}}))
	}
	statuses := r.Statuses()
	require.Len(t, statuses, 5)
	for i, st := range statuses {
		assert.Equal(t, fmt.Sprintf("s%d", i), st.ID)
	}
}
