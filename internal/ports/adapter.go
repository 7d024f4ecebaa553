package ports

import (
	"context"
	"time"

	"tradecore/internal/domain"

	"github.com/shopspring/decimal"
)

// PlacementAck is the adapter's acknowledgment of an accepted order.
type PlacementAck struct {
	OrderID   string
	Status    domain.OrderStatus
	Timestamp time.Time
}

// StatusReport is the adapter's view of an order, returned by QueryStatus.
// The adapter is the source of truth for filled quantity and price; the core
// remains the source of truth for the intended quantity.
type StatusReport struct {
	OrderID        string
	Status         domain.OrderStatus
	FilledQuantity decimal.Decimal
	AvgFillPrice   decimal.Decimal
	Timestamp      time.Time
}

// ExecutionAdapter abstracts order routing for live, paper, and backtest
// modes. Calls may be asynchronous; fills are delivered either out of band
// through the registered fill handler, or discovered by polling QueryStatus.
// Adapters must support at least one of the two; the core supports both.
type ExecutionAdapter interface {
	// Place submits an order. A nil error means the order was accepted and
	// is at least SUBMITTED; fills may arrive later.
	Place(ctx context.Context, spec domain.OrderSpec) (*PlacementAck, error)

	// Cancel requests cancellation of a non-terminal order. Best-effort in
	// live mode: a fill may race the cancel and win.
	Cancel(ctx context.Context, orderID string) error

	// QueryStatus returns the adapter's current view of the order.
	QueryStatus(ctx context.Context, orderID string) (*StatusReport, error)

	// SetFillHandler registers the callback for pushed fills. Must be called
	// before the first Place.
	SetFillHandler(handler func(domain.Fill))
}

// MarketObserver is implemented by adapters that need to see the market data
// stream themselves (the paper simulator to mark fills, the backtest
// simulator to trigger its fill model). Wired at construction, never probed
// at runtime.
type MarketObserver interface {
	OnMarketEvent(event domain.MarketEvent)
}
