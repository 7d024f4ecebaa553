package backtest

import (
	"context"
	"fmt"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// Feed replays a fixed sequence of klines as market events. The channel is
// closed after the last event, which is how the orchestrator detects the end
// of a run.
type Feed struct {
	klines []domain.Kline
	logger ports.Logger
}

// NewFeed builds a replay feed over the given klines. Klines must already be
// sorted by open time; events are emitted at kline close.
func NewFeed(klines []domain.Kline, logger ports.Logger) (*Feed, error) {
	if len(klines) == 0 {
		return nil, fmt.Errorf("backtest feed: no klines")
	}
	for i := 1; i < len(klines); i++ {
		if klines[i].OpenTime.Before(klines[i-1].OpenTime) {
			return nil, fmt.Errorf("backtest feed: klines out of order at index %d", i)
		}
	}
	return &Feed{klines: klines, logger: logger}, nil
}

// Events returns a channel that yields one event per kline and then closes.
func (f *Feed) Events(ctx context.Context) (<-chan domain.MarketEvent, error) {
	out := make(chan domain.MarketEvent)
	go func() {
		defer close(out)
		for _, k := range f.klines {
			select {
			case out <- k.Event():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Len reports how many events the feed will emit.
func (f *Feed) Len() int {
	return len(f.klines)
}
