package risk

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tradecore/internal/portfolio"
)

// Limits is an immutable snapshot of risk parameters. A snapshot is captured
// per evaluation; reloading between evaluations is fine, mid-evaluation never.
type Limits struct {
	// MaxPositionExposure caps a symbol's netted notional as a fraction of equity.
	MaxPositionExposure decimal.Decimal
	// MaxOpenPositions caps the number of symbols with open positions.
	MaxOpenPositions int
	// DailyLossLimit halts new risk when dailyPnL/equity falls to or below its negative.
	DailyLossLimit decimal.Decimal
	// MaxDrawdown halts new risk when (peak-equity)/peak reaches it.
	MaxDrawdown decimal.Decimal
	// FeeBuffer pads the balance check so fees never overdraw the reservation.
	FeeBuffer decimal.Decimal
	// Reset selects the daily PnL reset cadence.
	Reset portfolio.ResetPolicy
}

type limitsFile struct {
	MaxPositionExposure float64 `yaml:"max_position_exposure"`
	MaxOpenPositions    int     `yaml:"max_open_positions"`
	DailyLossLimit      float64 `yaml:"daily_loss_limit"`
	MaxDrawdown         float64 `yaml:"max_drawdown"`
	FeeBuffer           float64 `yaml:"fee_buffer"`
	Reset               string  `yaml:"reset"`
}

// LoadLimits reads a YAML risk policy file.
func LoadLimits(path string) (Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Limits{}, fmt.Errorf("failed to read risk policy %s: %w", path, err)
	}
	var f limitsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Limits{}, fmt.Errorf("failed to parse risk policy %s: %w", path, err)
	}
	lim := Limits{
		MaxPositionExposure: decimal.NewFromFloat(f.MaxPositionExposure),
		MaxOpenPositions:    f.MaxOpenPositions,
		DailyLossLimit:      decimal.NewFromFloat(f.DailyLossLimit),
		MaxDrawdown:         decimal.NewFromFloat(f.MaxDrawdown),
		FeeBuffer:           decimal.NewFromFloat(f.FeeBuffer),
		Reset:               portfolio.ResetPolicy(f.Reset),
	}
	if lim.Reset == "" {
		lim.Reset = portfolio.ResetUTCDay
	}
	return lim, lim.Validate()
}

// Validate rejects nonsensical limit values.
func (l Limits) Validate() error {
	if !l.MaxPositionExposure.IsPositive() || l.MaxPositionExposure.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("max_position_exposure must be in (0, 1], got %s", l.MaxPositionExposure)
	}
	if l.MaxOpenPositions <= 0 {
		return fmt.Errorf("max_open_positions must be positive, got %d", l.MaxOpenPositions)
	}
	if l.DailyLossLimit.IsNegative() {
		return fmt.Errorf("daily_loss_limit cannot be negative, got %s", l.DailyLossLimit)
	}
	if l.MaxDrawdown.IsNegative() || l.MaxDrawdown.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("max_drawdown must be in [0, 1], got %s", l.MaxDrawdown)
	}
	if l.FeeBuffer.IsNegative() {
		return fmt.Errorf("fee_buffer cannot be negative, got %s", l.FeeBuffer)
	}
	if l.Reset != portfolio.ResetUTCDay && l.Reset != portfolio.ResetSession {
		return fmt.Errorf("reset must be %q or %q, got %q", portfolio.ResetUTCDay, portfolio.ResetSession, l.Reset)
	}
	return nil
}
