package ports

import (
	"context"

	"tradecore/internal/domain"
)

// ChangeRecorder durably records order, fill, and position changes emitted by
// the core. Recording is fire-and-forget from the core's perspective: a
// recorder failure is logged by the caller and never blocks or alters a
// trading decision.
type ChangeRecorder interface {
	RecordOrder(ctx context.Context, order *domain.Order) error
	RecordFill(ctx context.Context, fill domain.Fill) error
	RecordPosition(ctx context.Context, pos *domain.Position) error
}

// OrderHistoryReader exposes recorded orders for external reporting.
type OrderHistoryReader interface {
	RecentOrders(ctx context.Context, limit int) ([]*domain.Order, error)
}
