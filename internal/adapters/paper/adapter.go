package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type bookEntry struct {
	spec      domain.OrderSpec
	status    domain.OrderStatus
	filledQty decimal.Decimal
	avgPrice  decimal.Decimal
	timer     *time.Timer
}

// Adapter simulates an exchange against live market data. Orders fill at the
// last observed mark after a configurable latency, which exercises the same
// asynchronous fill path the live adapter uses.
type Adapter struct {
	latency time.Duration
	feeRate decimal.Decimal
	clock   ports.Clock
	logger  ports.Logger

	mu      sync.Mutex
	handler func(domain.Fill)
	book    map[string]*bookEntry
	marks   map[string]decimal.Decimal
}

// Config carries the paper adapter settings.
type Config struct {
	// Latency is the delay between placement and simulated fill.
	Latency time.Duration
	FeeRate decimal.Decimal
	Clock   ports.Clock
	Logger  ports.Logger
}

// NewAdapter builds the paper simulator.
func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("paper adapter: clock is required")
	}
	if cfg.Latency < 0 {
		return nil, fmt.Errorf("paper adapter: negative latency %s", cfg.Latency)
	}
	if cfg.FeeRate.IsNegative() {
		return nil, fmt.Errorf("paper adapter: negative fee rate %s", cfg.FeeRate)
	}
	return &Adapter{
		latency: cfg.Latency,
		feeRate: cfg.FeeRate,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		book:    make(map[string]*bookEntry),
		marks:   make(map[string]decimal.Decimal),
	}, nil
}

// SetFillHandler registers the fill callback.
func (a *Adapter) SetFillHandler(handler func(domain.Fill)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = handler
}

// OnMarketEvent records the latest mark for the event's symbol and fills any
// marketable resting limit orders.
func (a *Adapter) OnMarketEvent(event domain.MarketEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.marks[event.Symbol] = event.Price
	for _, entry := range a.book {
		if entry.status.IsTerminal() || entry.timer != nil {
			continue
		}
		if entry.spec.Symbol != event.Symbol || entry.spec.Type != domain.Limit {
			continue
		}
		if marketable(entry.spec, event.Price) {
			a.scheduleFillLocked(entry, event.Price)
		}
	}
}

func marketable(spec domain.OrderSpec, price decimal.Decimal) bool {
	if spec.Side == domain.Buy {
		return price.LessThanOrEqual(spec.Price)
	}
	return price.GreaterThanOrEqual(spec.Price)
}

// Place accepts the order and schedules its fill. Market orders need a known
// mark for the symbol; limit orders may rest until the price crosses.
func (a *Adapter) Place(_ context.Context, spec domain.OrderSpec) (*ports.PlacementAck, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.book[spec.OrderID]; ok {
		return nil, ports.ErrDuplicateOrder
	}
	mark, haveMark := a.marks[spec.Symbol]
	if spec.Type == domain.Market && !haveMark {
		return nil, fmt.Errorf("paper adapter: no mark for %s: %w", spec.Symbol, ports.ErrInvalidSymbol)
	}
	entry := &bookEntry{spec: spec, status: domain.StatusSubmitted}
	a.book[spec.OrderID] = entry
	if spec.Type == domain.Market {
		a.scheduleFillLocked(entry, mark)
	} else if haveMark && marketable(spec, mark) {
		a.scheduleFillLocked(entry, mark)
	}
	return &ports.PlacementAck{
		OrderID:   spec.OrderID,
		Status:    domain.StatusSubmitted,
		Timestamp: a.clock.Now(),
	}, nil
}

func (a *Adapter) scheduleFillLocked(entry *bookEntry, price decimal.Decimal) {
	entry.timer = time.AfterFunc(a.latency, func() {
		a.fill(entry.spec.OrderID, price)
	})
}

func (a *Adapter) fill(orderID string, price decimal.Decimal) {
	a.mu.Lock()
	entry, ok := a.book[orderID]
	if !ok || entry.status.IsTerminal() {
		a.mu.Unlock()
		return
	}
	qty := entry.spec.Quantity.Sub(entry.filledQty)
	fee := a.feeRate.Mul(qty).Mul(price)
	f := domain.Fill{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Quantity:  qty,
		Price:     price,
		Fee:       fee,
		Timestamp: a.clock.Now(),
	}
	entry.avgPrice = price
	entry.filledQty = entry.spec.Quantity
	entry.status = domain.StatusFilled
	handler := a.handler
	a.mu.Unlock()
	if handler != nil {
		handler(f)
	}
}

// Cancel marks a non-terminal order canceled and stops its pending fill. The
// timer may already have fired; in that case the fill wins, matching live
// exchange behavior.
func (a *Adapter) Cancel(_ context.Context, orderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.book[orderID]
	if !ok {
		return ports.ErrOrderNotFound
	}
	if entry.status.IsTerminal() {
		return ports.ErrOrderTerminal
	}
	if entry.timer != nil && !entry.timer.Stop() {
		// Fill callback is already running; let it win.
		return nil
	}
	entry.status = domain.StatusCanceled
	return nil
}

// QueryStatus reports the simulator's view of the order.
func (a *Adapter) QueryStatus(_ context.Context, orderID string) (*ports.StatusReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
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
