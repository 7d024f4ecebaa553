package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	avg, err := SMA([]float64{1, 2, 3, 4, 5}, 5)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, avg, 1e-9)

	avg, err = SMA([]float64{1, 2, 3, 4, 5}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, avg, 1e-9, "uses only the trailing period")

	_, err = SMA([]float64{1, 2}, 3)
	assert.Error(t, err)
	_, err = SMA([]float64{1, 2}, 0)
	assert.Error(t, err)
}

func TestEMA(t *testing.T) {
	// Seed SMA over [1,2,3] is 2; multiplier 0.5; folding 4 then 5 gives 4.
	ema, err := EMA([]float64{1, 2, 3, 4, 5}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, ema, 1e-9)

	_, err = EMA([]float64{1, 2}, 3)
	assert.Error(t, err)
}

func TestRSI(t *testing.T) {
	rsi, err := RSI([]float64{1, 2, 3, 4}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, rsi, 1e-9, "monotonic gains saturate")

	rsi, err = RSI([]float64{4, 3, 2, 1}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, rsi, 1e-9, "monotonic losses floor")

	rsi, err = RSI([]float64{5, 5, 5, 5}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, rsi, 1e-9, "flat series is neutral")

	_, err = RSI([]float64{1, 2, 3}, 3)
	assert.Error(t, err)
}
