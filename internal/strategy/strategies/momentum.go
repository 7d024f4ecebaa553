package strategies

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
	"tradecore/internal/strategy"
)

// MomentumConfig parameterizes a momentum strategy instance.
type MomentumConfig struct {
	ID        string
	Symbols   []string
	Window    int             // rolling average window, e.g. 5
	Threshold float64         // relative deviation that triggers, e.g. 0.002
	Quantity  decimal.Decimal // fixed order size
}

// Momentum buys when price runs ahead of its rolling average and sells when
// it lags behind. Intent confidence carries the observed deviation.
type Momentum struct {
	cfg    MomentumConfig
	prices map[string][]float64
	logger ports.Logger
}

// NewMomentum creates a momentum strategy.
func NewMomentum(cfg MomentumConfig, logger ports.Logger) (*Momentum, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for momentum strategy")
	}
	if cfg.ID == "" || len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("momentum strategy needs an id and at least one symbol")
	}
	if cfg.Window <= 1 || cfg.Threshold <= 0 || !cfg.Quantity.IsPositive() {
		return nil, fmt.Errorf("momentum strategy needs window > 1, positive threshold and quantity")
	}
	return &Momentum{cfg: cfg, prices: make(map[string][]float64), logger: logger}, nil
}

func (m *Momentum) ID() string        { return m.cfg.ID }
func (m *Momentum) Symbols() []string { return m.cfg.Symbols }

func (m *Momentum) OnStart(ctx context.Context) error {
	m.logger.Info(ctx, "momentum strategy starting", map[string]interface{}{"id": m.cfg.ID, "window": m.cfg.Window})
	return nil
}

func (m *Momentum) OnStop(ctx context.Context) error {
	m.logger.Info(ctx, "momentum strategy stopping", map[string]interface{}{"id": m.cfg.ID})
	return nil
}

func (m *Momentum) OnData(ctx context.Context, event domain.MarketEvent) ([]domain.TradeIntent, error) {
	history := appendWindow(m.prices[event.Symbol], event.Price.InexactFloat64(), m.cfg.Window)
	m.prices[event.Symbol] = history
	if len(history) < m.cfg.Window {
		return nil, nil
	}

	avg, err := strategy.SMA(history, m.cfg.Window)
	if err != nil {
		return nil, err
	}
	if avg == 0 {
		return nil, nil
	}
	price := history[len(history)-1]
	delta := (price - avg) / avg

	switch {
	case delta > m.cfg.Threshold:
		return []domain.TradeIntent{{
			Symbol:     event.Symbol,
			Side:       domain.Buy,
			Quantity:   m.cfg.Quantity,
			Confidence: delta,
			Metadata:   map[string]string{"signal": "momentum-up"},
		}}, nil
	case delta < -m.cfg.Threshold:
		return []domain.TradeIntent{{
			Symbol:     event.Symbol,
			Side:       domain.Sell,
			Quantity:   m.cfg.Quantity,
			Confidence: -delta,
			Metadata:   map[string]string{"signal": "momentum-down"},
		}}, nil
	}
	return nil, nil
}

// appendWindow keeps the most recent window values.
func appendWindow(history []float64, value float64, window int) []float64 {
	history = append(history, value)
	if len(history) > window {
		history = history[len(history)-window:]
	}
	return history
}
