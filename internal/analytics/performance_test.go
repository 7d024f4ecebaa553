package analytics

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func curve(values ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func TestAnalyze_TradeStatistics(t *testing.T) {
	pnl := []decimal.Decimal{
		decimal.NewFromInt(100),
		decimal.NewFromInt(-40),
		decimal.NewFromInt(60),
		decimal.Zero,
	}
	r := Analyze(pnl, nil)

	assert.Equal(t, 4, r.Trades)
	assert.Equal(t, 2, r.Wins)
	assert.Equal(t, 1, r.Losses)
	assert.InDelta(t, 0.5, r.WinRate, 1e-9, "breakeven trades count toward neither side")
	assert.True(t, r.NetPnL.Equal(decimal.NewFromInt(120)))
	assert.True(t, r.GrossProfit.Equal(decimal.NewFromInt(160)))
	assert.True(t, r.GrossLoss.Equal(decimal.NewFromInt(40)))
	assert.True(t, r.AvgWin.Equal(decimal.NewFromInt(80)))
	assert.True(t, r.AvgLoss.Equal(decimal.NewFromInt(40)))
	assert.InDelta(t, 4.0, r.ProfitFactor, 1e-9)
}

func TestAnalyze_ProfitFactorWithoutLosses(t *testing.T) {
	r := Analyze([]decimal.Decimal{decimal.NewFromInt(50)}, nil)
	assert.True(t, math.IsInf(r.ProfitFactor, 1))

	r = Analyze(nil, nil)
	assert.Zero(t, r.ProfitFactor)
	assert.Zero(t, r.Trades)
}

func TestAnalyze_MaxDrawdown(t *testing.T) {
	// Peak 120, trough 90: drawdown 25%. The later recovery does not
	// erase it.
	r := Analyze(nil, curve(100, 120, 90, 110, 115))
	assert.InDelta(t, 0.25, r.MaxDrawdown, 1e-9)

	r = Analyze(nil, curve(100, 105, 110))
	assert.Zero(t, r.MaxDrawdown, "monotonic equity has no drawdown")
}

func TestAnalyze_SharpeEdgeCases(t *testing.T) {
	assert.Zero(t, Analyze(nil, curve(100)).Sharpe)
	assert.Zero(t, Analyze(nil, curve(100, 110, 121)).Sharpe, "constant returns have no variance")

	r := Analyze(nil, curve(100, 110, 99, 120))
	assert.NotZero(t, r.Sharpe)
}
