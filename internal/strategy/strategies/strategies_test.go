package strategies

import (
	"context"
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

// feed runs a price series through a strategy and returns the intents per
// event, nil for quiet events.
func feed(t *testing.T, s ports.Strategy, prices []float64) [][]domain.TradeIntent {
	t.Helper()
	require.NoError(t, s.OnStart(context.Background()))
	out := make([][]domain.TradeIntent, len(prices))
	for i, p := range prices {
		ev := domain.MarketEvent{
			Symbol:    "BTCUSDT",
			Timestamp: time.Date(2026, 3, 2, 0, i, 0, 0, time.UTC),
			Price:     decimal.NewFromFloat(p),
			Kind:      domain.EventKline,
		}
		intents, err := s.OnData(context.Background(), ev)
		require.NoError(t, err)
		out[i] = intents
	}
	require.NoError(t, s.OnStop(context.Background()))
	return out
}

func singleSignal(t *testing.T, intents [][]domain.TradeIntent, idx int, side domain.Side, signal string) {
	t.Helper()
	for i, batch := range intents {
		if i == idx {
			require.Len(t, batch, 1, "event %d", i)
			assert.Equal(t, side, batch[0].Side)
			assert.Equal(t, signal, batch[0].Metadata["signal"])
		} else {
			assert.Empty(t, batch, "event %d", i)
		}
	}
}

func TestMomentum_SignalsOnDeviationFromAverage(t *testing.T) {
	m, err := NewMomentum(MomentumConfig{
		ID: "m", Symbols: []string{"BTCUSDT"}, Window: 3,
		Threshold: 0.005, Quantity: decimal.NewFromFloat(0.01),
	}, nopLogger{})
	require.NoError(t, err)

	// Warmup stays quiet, the jump to 102 runs ~1.3% ahead of the average.
	intents := feed(t, m, []float64{100, 100, 100, 102})
	singleSignal(t, intents, 3, domain.Buy, "momentum-up")
}

func TestMomentum_SellsWhenPriceLagsAverage(t *testing.T) {
	m, err := NewMomentum(MomentumConfig{
		ID: "m", Symbols: []string{"BTCUSDT"}, Window: 3,
		Threshold: 0.005, Quantity: decimal.NewFromFloat(0.01),
	}, nopLogger{})
	require.NoError(t, err)

	intents := feed(t, m, []float64{100, 100, 100, 95})
	singleSignal(t, intents, 3, domain.Sell, "momentum-down")
	assert.Greater(t, intents[3][0].Confidence, 0.0)
}

func TestMomentum_ConfigValidation(t *testing.T) {
	base := MomentumConfig{ID: "m", Symbols: []string{"BTCUSDT"}, Window: 3,
		Threshold: 0.005, Quantity: decimal.NewFromFloat(0.01)}

	_, err := NewMomentum(base, nil)
	assert.Error(t, err)

	bad := base
	bad.Window = 1
	_, err = NewMomentum(bad, nopLogger{})
	assert.Error(t, err)

	bad = base
	bad.Quantity = decimal.Zero
	_, err = NewMomentum(bad, nopLogger{})
	assert.Error(t, err)
}

func TestMeanReversion_FadesStretchedPrices(t *testing.T) {
	m, err := NewMeanReversion(MeanReversionConfig{
		ID: "mr", Symbols: []string{"BTCUSDT"}, Window: 3,
		ZScore: 1.5, Quantity: decimal.NewFromFloat(0.01),
	}, nopLogger{})
	require.NoError(t, err)

	// 102 sits 1.32 deviation units above the average, below the trigger;
	// 104 sits 1.96 above and fades.
	intents := feed(t, m, []float64{100, 100, 100, 102, 104})
	singleSignal(t, intents, 4, domain.Sell, "revert-down")
}

func TestMeanReversion_BuysTheDip(t *testing.T) {
	m, err := NewMeanReversion(MeanReversionConfig{
		ID: "mr", Symbols: []string{"BTCUSDT"}, Window: 3,
		ZScore: 1.5, Quantity: decimal.NewFromFloat(0.01),
	}, nopLogger{})
	require.NoError(t, err)

	intents := feed(t, m, []float64{100, 100, 100, 98, 96})
	singleSignal(t, intents, 4, domain.Buy, "revert-up")
}

func TestGrid_TradesLevelCrossingsAndReanchors(t *testing.T) {
	g, err := NewGrid(GridConfig{
		ID: "g", Symbols: []string{"BTCUSDT"}, Levels: 2,
		Spacing: 0.01, Quantity: decimal.NewFromFloat(0.01),
	}, nopLogger{})
	require.NoError(t, err)

	// 100 anchors; 98.9 crosses the first buy level (99); the grid re-anchors
	// there, so 101 crosses the new sell level (99.889).
	intents := feed(t, g, []float64{100, 99.5, 98.9, 101})
	assert.Empty(t, intents[0])
	assert.Empty(t, intents[1])
	require.Len(t, intents[2], 1)
	assert.Equal(t, domain.Buy, intents[2][0].Side)
	assert.Equal(t, "grid-buy-1", intents[2][0].Metadata["signal"])
	require.Len(t, intents[3], 1)
	assert.Equal(t, domain.Sell, intents[3][0].Side)
	assert.Equal(t, "grid-sell-1", intents[3][0].Metadata["signal"])
}

func TestGrid_PerSymbolAnchors(t *testing.T) {
	g, err := NewGrid(GridConfig{
		ID: "g", Symbols: []string{"BTCUSDT", "ETHUSDT"}, Levels: 2,
		Spacing: 0.01, Quantity: decimal.NewFromFloat(0.01),
	}, nopLogger{})
	require.NoError(t, err)
	require.NoError(t, g.OnStart(context.Background()))

	ev := func(symbol string, price float64) domain.MarketEvent {
		return domain.MarketEvent{Symbol: symbol, Price: decimal.NewFromFloat(price), Kind: domain.EventKline}
	}

	_, err = g.OnData(context.Background(), ev("BTCUSDT", 100))
	require.NoError(t, err)
	_, err = g.OnData(context.Background(), ev("ETHUSDT", 50))
	require.NoError(t, err)

	// A drop on ETH must not trip BTC's grid.
	intents, err := g.OnData(context.Background(), ev("ETHUSDT", 49.4))
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, domain.Buy, intents[0].Side)

	intents, err = g.OnData(context.Background(), ev("BTCUSDT", 99.5))
	require.NoError(t, err)
	assert.Empty(t, intents)
}
