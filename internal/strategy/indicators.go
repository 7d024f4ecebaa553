package strategy

import "fmt"

// Indicator helpers shared by the strategy variants. They operate on float64
// price series: indicator output feeds signal decisions, never accounting.

// SMA calculates the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, error) {
	if len(values) < period || period <= 0 {
		return 0, fmt.Errorf("not enough data (%d) for SMA period %d", len(values), period)
	}
	total := 0.0
	for i := len(values) - period; i < len(values); i++ {
		total += values[i]
	}
	return total / float64(period), nil
}

// EMA calculates the exponential moving average seeded with an SMA over the
// first period values.
func EMA(values []float64, period int) (float64, error) {
	if len(values) < period || period <= 0 {
		return 0, fmt.Errorf("not enough data (%d) for EMA period %d", len(values), period)
	}
	multiplier := 2.0 / float64(period+1)
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)
	for _, v := range values[period:] {
		ema = (v-ema)*multiplier + ema
	}
	return ema, nil
}

// RSI calculates the Relative Strength Index using Wilder's smoothing.
func RSI(values []float64, period int) (float64, error) {
	if len(values) <= period || period <= 0 {
		return 0, fmt.Errorf("not enough data (%d) for RSI period %d", len(values), period)
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain = (avgGain*float64(period-1) + change) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) - change) / float64(period)
		}
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil
		}
		return 100, nil
	}
	rs := avgGain / avgLoss
	rsi := 100 - (100 / (1 + rs))
	if rsi > 100 {
		rsi = 100
	} else if rsi < 0 {
		rsi = 0
	}
	return rsi, nil
}
