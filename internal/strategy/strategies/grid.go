package strategies

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// GridConfig parameterizes a grid strategy instance.
type GridConfig struct {
	ID       string
	Symbols  []string
	Levels   int     // grid levels on each side of the anchor, e.g. 5
	Spacing  float64 // fractional distance between levels, e.g. 0.01
	Quantity decimal.Decimal
}

// Grid places an anchor at the first observed price and trades when price
// crosses a grid level: buy below the anchor, sell above. Crossing re-anchors
// the grid at the traded price.
type Grid struct {
	cfg     GridConfig
	anchors map[string]float64
	logger  ports.Logger
}

// NewGrid creates a grid strategy.
func NewGrid(cfg GridConfig, logger ports.Logger) (*Grid, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for grid strategy")
	}
	if cfg.ID == "" || len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("grid strategy needs an id and at least one symbol")
	}
	if cfg.Levels <= 0 || cfg.Spacing <= 0 || !cfg.Quantity.IsPositive() {
		return nil, fmt.Errorf("grid strategy needs positive levels, spacing and quantity")
	}
	return &Grid{cfg: cfg, anchors: make(map[string]float64), logger: logger}, nil
}

func (g *Grid) ID() string        { return g.cfg.ID }
func (g *Grid) Symbols() []string { return g.cfg.Symbols }

func (g *Grid) OnStart(ctx context.Context) error {
	g.logger.Info(ctx, "grid strategy starting", map[string]interface{}{
		"id": g.cfg.ID, "levels": g.cfg.Levels, "spacing": g.cfg.Spacing})
	return nil
}

func (g *Grid) OnStop(ctx context.Context) error {
	g.logger.Info(ctx, "grid strategy stopping", map[string]interface{}{"id": g.cfg.ID})
	return nil
}

func (g *Grid) OnData(ctx context.Context, event domain.MarketEvent) ([]domain.TradeIntent, error) {
	price := event.Price.InexactFloat64()
	anchor, ok := g.anchors[event.Symbol]
	if !ok {
		g.anchors[event.Symbol] = price
		return nil, nil
	}

	for level := 1; level <= g.cfg.Levels; level++ {
		buyLevel := anchor * (1 - g.cfg.Spacing*float64(level))
		sellLevel := anchor * (1 + g.cfg.Spacing*float64(level))
		if price <= buyLevel {
			g.anchors[event.Symbol] = price
			return []domain.TradeIntent{{
				Symbol:   event.Symbol,
				Side:     domain.Buy,
				Quantity: g.cfg.Quantity,
				Metadata: map[string]string{"signal": fmt.Sprintf("grid-buy-%d", level)},
			}}, nil
		}
		if price >= sellLevel {
			g.anchors[event.Symbol] = price
			return []domain.TradeIntent{{
				Symbol:   event.Symbol,
				Side:     domain.Sell,
				Quantity: g.cfg.Quantity,
				Metadata: map[string]string{"signal": fmt.Sprintf("grid-sell-%d", level)},
			}}, nil
		}
	}
	return nil, nil
}
