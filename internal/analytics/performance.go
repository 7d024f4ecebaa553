package analytics

import (
	"math"

	"github.com/shopspring/decimal"
)

// Report summarizes the performance of a completed run. PnL figures are
// decimal; ratio statistics are float64 since they feed comparisons, not
// accounting.
type Report struct {
	Trades       int
	Wins         int
	Losses       int
	WinRate      float64
	NetPnL       decimal.Decimal
	GrossProfit  decimal.Decimal
	GrossLoss    decimal.Decimal
	AvgWin       decimal.Decimal
	AvgLoss      decimal.Decimal
	ProfitFactor float64
	MaxDrawdown  float64
	Sharpe       float64
}

// Analyze computes performance statistics from per-trade realized PnL and the
// equity curve sampled after each event.
func Analyze(tradePnL []decimal.Decimal, equityCurve []decimal.Decimal) Report {
	r := Report{Trades: len(tradePnL)}

	for _, pnl := range tradePnL {
		r.NetPnL = r.NetPnL.Add(pnl)
		if pnl.IsPositive() {
			r.Wins++
			r.GrossProfit = r.GrossProfit.Add(pnl)
		} else if pnl.IsNegative() {
			r.Losses++
			r.GrossLoss = r.GrossLoss.Add(pnl.Neg())
		}
	}
	if r.Trades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.Trades)
	}
	if r.Wins > 0 {
		r.AvgWin = r.GrossProfit.Div(decimal.NewFromInt(int64(r.Wins)))
	}
	if r.Losses > 0 {
		r.AvgLoss = r.GrossLoss.Div(decimal.NewFromInt(int64(r.Losses)))
	}
	if r.GrossLoss.IsPositive() {
		r.ProfitFactor, _ = r.GrossProfit.Div(r.GrossLoss).Float64()
	} else if r.GrossProfit.IsPositive() {
		r.ProfitFactor = math.Inf(1)
	}

	r.MaxDrawdown = maxDrawdown(equityCurve)
	r.Sharpe = sharpe(equityCurve)
	return r
}

// maxDrawdown is the largest peak-to-trough equity decline as a fraction of
// the peak.
func maxDrawdown(curve []decimal.Decimal) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0]
	worst := decimal.Zero
	for _, eq := range curve {
		if eq.GreaterThan(peak) {
			peak = eq
		}
		if peak.IsPositive() {
			dd := peak.Sub(eq).Div(peak)
			if dd.GreaterThan(worst) {
				worst = dd
			}
		}
	}
	out, _ := worst.Float64()
	return out
}

// sharpe is the annualization-free Sharpe ratio of per-sample equity returns
// with a zero risk-free rate. Returns 0 when there is no variance to divide
// by.
func sharpe(curve []decimal.Decimal) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].Float64()
		cur, _ := curve[i].Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, cur/prev-1)
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, ret := range returns {
		mean += ret
	}
	mean /= float64(len(returns))

	var variance float64
	for _, ret := range returns {
		variance += (ret - mean) * (ret - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}
