package backtest

import (
	"context"
	"fmt"

	"tradecore/internal/domain"
	"tradecore/internal/ports"

	"github.com/shopspring/decimal"
)

// FillModel decides whether a resting order fills against a market event and
// at what price. Models must be pure functions of the order and the event so
// replays stay reproducible.
type FillModel interface {
	// TryFill returns the fill price and true if the order fills on this
	// event. Fills are always for the full remaining quantity.
	TryFill(spec domain.OrderSpec, event domain.MarketEvent) (decimal.Decimal, bool)
}

// NextPriceModel fills market orders at the next event's price and limit
// orders at the event price once it crosses the limit. This is the
// conservative default: a marketable limit never fills better than the tape.
type NextPriceModel struct{}

func (NextPriceModel) TryFill(spec domain.OrderSpec, event domain.MarketEvent) (decimal.Decimal, bool) {
	if spec.Type == domain.Market {
		return event.Price, true
	}
	if spec.Side == domain.Buy && event.Price.LessThanOrEqual(spec.Price) {
		return event.Price, true
	}
	if spec.Side == domain.Sell && event.Price.GreaterThanOrEqual(spec.Price) {
		return event.Price, true
	}
	return decimal.Zero, false
}

// TouchModel fills limit orders at their limit price as soon as the tape
// touches it, which is the optimistic fill assumption. Market orders behave
// as in NextPriceModel.
type TouchModel struct{}

func (TouchModel) TryFill(spec domain.OrderSpec, event domain.MarketEvent) (decimal.Decimal, bool) {
	if spec.Type == domain.Market {
		return event.Price, true
	}
	if spec.Side == domain.Buy && event.Price.LessThanOrEqual(spec.Price) {
		return spec.Price, true
	}
	if spec.Side == domain.Sell && event.Price.GreaterThanOrEqual(spec.Price) {
		return spec.Price, true
	}
	return decimal.Zero, false
}

type bookEntry struct {
	spec      domain.OrderSpec
	status    domain.OrderStatus
	filledQty decimal.Decimal
	avgPrice  decimal.Decimal
}

// Adapter is the simulated exchange used by backtests. It keeps a book of
// resting orders and matches them against replayed market events. The whole
// backtest runs on a single goroutine, so the adapter holds no locks; fills
// are delivered synchronously from OnMarketEvent in placement order.
type Adapter struct {
	model   FillModel
	feeRate decimal.Decimal
	clock   *SimClock
	logger  ports.Logger

	handler func(domain.Fill)
	book    map[string]*bookEntry
	resting []string
	fillSeq int
}

// Config carries the backtest adapter settings.
type Config struct {
	Model   FillModel
	FeeRate decimal.Decimal
	Clock   *SimClock
	Logger  ports.Logger
}

// NewAdapter builds the simulator. A nil model defaults to NextPriceModel.
func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("backtest adapter: clock is required")
	}
	if cfg.FeeRate.IsNegative() {
		return nil, fmt.Errorf("backtest adapter: negative fee rate %s", cfg.FeeRate)
	}
	model := cfg.Model
	if model == nil {
		model = NextPriceModel{}
	}
	return &Adapter{
		model:   model,
		feeRate: cfg.FeeRate,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		book:    make(map[string]*bookEntry),
	}, nil
}

// SetFillHandler registers the fill callback.
func (a *Adapter) SetFillHandler(handler func(domain.Fill)) {
	a.handler = handler
}

// Place rests the order on the simulated book. It never fills on placement;
// the earliest possible fill is the next market event, which keeps look-ahead
// out of the simulation.
func (a *Adapter) Place(_ context.Context, spec domain.OrderSpec) (*ports.PlacementAck, error) {
	if _, ok := a.book[spec.OrderID]; ok {
		return nil, ports.ErrDuplicateOrder
	}
	a.book[spec.OrderID] = &bookEntry{spec: spec, status: domain.StatusSubmitted}
	a.resting = append(a.resting, spec.OrderID)
	return &ports.PlacementAck{
		OrderID:   spec.OrderID,
		Status:    domain.StatusSubmitted,
		Timestamp: a.clock.Now(),
	}, nil
}

// Cancel removes a resting order. Cancels in a backtest never race fills: an
// order is either resting or terminal.
func (a *Adapter) Cancel(_ context.Context, orderID string) error {
	entry, ok := a.book[orderID]
	if !ok {
		return ports.ErrOrderNotFound
	}
	if entry.status.IsTerminal() {
		return ports.ErrOrderTerminal
	}
	entry.status = domain.StatusCanceled
	return nil
}

// QueryStatus reports the simulator's view of the order.
func (a *Adapter) QueryStatus(_ context.Context, orderID string) (*ports.StatusReport, error) {
	entry, ok := a.book[orderID]
	if !ok {
		return nil, ports.ErrOrderNotFound
	}
	return &ports.StatusReport{
		OrderID:        orderID,
		Status:         entry.status,
		FilledQuantity: entry.filledQty,
		AvgFillPrice:   entry.avgPrice,
		Timestamp:      a.clock.Now(),
	}, nil
}

// OnMarketEvent matches resting orders for the event's symbol against the
// fill model. Orders are scanned in placement order so two identical runs
// produce identical fill sequences.
func (a *Adapter) OnMarketEvent(event domain.MarketEvent) {
	remaining := a.resting[:0]
	for _, id := range a.resting {
		entry := a.book[id]
		if entry.status.IsTerminal() {
			continue
		}
		if entry.spec.Symbol != event.Symbol {
			remaining = append(remaining, id)
			continue
		}
		price, ok := a.model.TryFill(entry.spec, event)
		if !ok {
			remaining = append(remaining, id)
			continue
		}
		a.fill(entry, price)
	}
	a.resting = remaining
}

func (a *Adapter) fill(entry *bookEntry, price decimal.Decimal) {
	qty := entry.spec.Quantity.Sub(entry.filledQty)
	fee := a.feeRate.Mul(qty).Mul(price)
	a.fillSeq++
	f := domain.Fill{
		ID:        fmt.Sprintf("bt-%d", a.fillSeq),
		OrderID:   entry.spec.OrderID,
		Quantity:  qty,
		Price:     price,
		Fee:       fee,
		Timestamp: a.clock.Now(),
	}
	entry.avgPrice = price
	entry.filledQty = entry.spec.Quantity
	entry.status = domain.StatusFilled
	if a.handler != nil {
		a.handler(f)
	}
}

// OpenOrderIDs lists non-terminal orders, in placement order. The run-end
// drain cancels through the execution engine; this is a book inspection
// hook for verifying what is still resting.
func (a *Adapter) OpenOrderIDs() []string {
	ids := make([]string, 0, len(a.resting))
	for _, id := range a.resting {
		if !a.book[id].status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids
}
