package ports

import (
	"context"

	"tradecore/internal/domain"
)

// MarketFeed supplies a normalized sequence of market events, time-ordered
// within each symbol. Cross-symbol ordering is feed-defined. A finite feed
// (backtest replay) closes the channel when exhausted; live feeds close only
// on unrecoverable failure or context cancellation.
type MarketFeed interface {
	Events(ctx context.Context) (<-chan domain.MarketEvent, error)
}
