package ports

import (
	"context"

	"tradecore/internal/domain"
)

// Strategy is the capability interface every strategy variant implements.
// Dispatch is by interface, not by inheritance: the runtime never inspects
// the concrete type.
type Strategy interface {
	// ID uniquely identifies the strategy instance within a runtime.
	ID() string

	// Symbols lists the symbols this strategy subscribes to.
	Symbols() []string

	// OnStart is called once before the first event is delivered.
	OnStart(ctx context.Context) error

	// OnData consumes one market event and returns zero or more trade
	// intents. An error isolates the strategy (marked errored) without
	// affecting other strategies or the pipeline.
	OnData(ctx context.Context, event domain.MarketEvent) ([]domain.TradeIntent, error)

	// OnStop is called once when the runtime shuts down.
	OnStop(ctx context.Context) error
}
