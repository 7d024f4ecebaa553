package strategies

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
	"tradecore/internal/strategy"
)

// MeanReversionConfig parameterizes a mean-reversion strategy instance.
type MeanReversionConfig struct {
	ID       string
	Symbols  []string
	Window   int     // rolling average window, e.g. 20
	ZScore   float64 // deviation threshold in pseudo z-score units, e.g. 1.5
	Quantity decimal.Decimal
}

// MeanReversion fades deviations: it sells when price stretches above its
// rolling average and buys when it stretches below. The deviation unit is 1%
// of the average, which keeps the trigger scale-free across symbols.
type MeanReversion struct {
	cfg    MeanReversionConfig
	prices map[string][]float64
	logger ports.Logger
}

// NewMeanReversion creates a mean-reversion strategy.
func NewMeanReversion(cfg MeanReversionConfig, logger ports.Logger) (*MeanReversion, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for mean-reversion strategy")
	}
	if cfg.ID == "" || len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("mean-reversion strategy needs an id and at least one symbol")
	}
	if cfg.Window <= 1 || cfg.ZScore <= 0 || !cfg.Quantity.IsPositive() {
		return nil, fmt.Errorf("mean-reversion strategy needs window > 1, positive zscore and quantity")
	}
	return &MeanReversion{cfg: cfg, prices: make(map[string][]float64), logger: logger}, nil
}

func (m *MeanReversion) ID() string        { return m.cfg.ID }
func (m *MeanReversion) Symbols() []string { return m.cfg.Symbols }

func (m *MeanReversion) OnStart(ctx context.Context) error {
	m.logger.Info(ctx, "mean-reversion strategy starting", map[string]interface{}{"id": m.cfg.ID, "window": m.cfg.Window})
	return nil
}

func (m *MeanReversion) OnStop(ctx context.Context) error {
	m.logger.Info(ctx, "mean-reversion strategy stopping", map[string]interface{}{"id": m.cfg.ID})
	return nil
}

func (m *MeanReversion) OnData(ctx context.Context, event domain.MarketEvent) ([]domain.TradeIntent, error) {
	history := appendWindow(m.prices[event.Symbol], event.Price.InexactFloat64(), m.cfg.Window)
	m.prices[event.Symbol] = history
	if len(history) < m.cfg.Window {
		return nil, nil
	}

	avg, err := strategy.SMA(history, m.cfg.Window)
	if err != nil {
		return nil, err
	}
	deviation := avg * 0.01
	if deviation <= 0 {
		return nil, nil
	}
	price := history[len(history)-1]
	z := (price - avg) / deviation

	switch {
	case z > m.cfg.ZScore:
		return []domain.TradeIntent{{
			Symbol:     event.Symbol,
			Side:       domain.Sell,
			Quantity:   m.cfg.Quantity,
			Confidence: z,
			Metadata:   map[string]string{"signal": "revert-down"},
		}}, nil
	case z < -m.cfg.ZScore:
		return []domain.TradeIntent{{
			Symbol:     event.Symbol,
			Side:       domain.Buy,
			Quantity:   m.cfg.Quantity,
			Confidence: -z,
			Metadata:   map[string]string{"signal": "revert-up"},
		}}, nil
	}
	return nil, nil
}
