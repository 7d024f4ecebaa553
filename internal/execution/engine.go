package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// Update is a state change produced by the engine for the coordinator to
// apply downstream (ledger, recorder). Fill is nil for status-only changes.
type Update struct {
	Order *domain.Order
	Fill  *domain.Fill
}

// Engine drives the order state machine against a pluggable execution
// adapter. Transient placement errors retry with bounded backoff; permanent
// errors reject the order immediately. Fills are deduplicated by fill id and
// ignored after a terminal state, so late adapter callbacks are harmless.
type Engine struct {
	mu        sync.Mutex
	adapter   ports.ExecutionAdapter
	retry     RetryPolicy
	clock     ports.Clock
	logger    ports.Logger
	orders    map[string]*domain.Order
	history   []string // order ids in submission order
	seenFills map[string]struct{}
	reconSeq  map[string]int
}

// NewEngine creates an execution engine for one adapter.
func NewEngine(adapter ports.ExecutionAdapter, retry RetryPolicy, clock ports.Clock, logger ports.Logger) (*Engine, error) {
	if adapter == nil || clock == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for execution engine")
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &Engine{
		adapter:   adapter,
		retry:     retry,
		clock:     clock,
		logger:    logger,
		orders:    make(map[string]*domain.Order),
		seenFills: make(map[string]struct{}),
		reconSeq:  make(map[string]int),
	}, nil
}

// Submit creates the order and places it through the adapter, retrying
// transient errors up to the policy's attempt bound while preserving the
// original order id. A returned error means the order is REJECTED and the
// caller must release the risk reservation.
func (e *Engine) Submit(ctx context.Context, spec domain.OrderSpec) (*domain.Order, error) {
	e.mu.Lock()
	if _, exists := e.orders[spec.OrderID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("submit order %s: %w", spec.OrderID, ports.ErrDuplicateOrder)
	}
	order := domain.NewOrder(spec, e.clock.Now())
	e.orders[order.ID] = order
	e.history = append(e.history, order.ID)
	e.mu.Unlock()

	b := e.retry.backoff()
	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		ack, err := e.adapter.Place(ctx, spec)
		if err == nil {
			e.mu.Lock()
			e.transitionLocked(order, domain.StatusSubmitted)
			cp := *order
			e.mu.Unlock()
			if ack != nil {
				e.logger.Debug(ctx, "order placed", map[string]interface{}{
					"orderID": order.ID, "adapterStatus": string(ack.Status)})
			}
			return &cp, nil
		}
		lastErr = err
		if !ports.IsTransient(err) {
			break
		}
		if attempt == e.retry.MaxAttempts {
			break
		}
		delay := b.Duration()
		e.logger.Warn(ctx, "transient placement error, backing off", map[string]interface{}{
			"orderID": order.ID, "attempt": attempt, "delay": delay.String(), "error": err.Error()})
		select {
		case <-ctx.Done():
			lastErr = fmt.Errorf("%w: %v", ports.ErrContextCanceled, ctx.Err())
			attempt = e.retry.MaxAttempts
		case <-time.After(delay):
		}
	}

	e.mu.Lock()
	e.transitionLocked(order, domain.StatusRejected)
	cp := *order
	e.mu.Unlock()
	return &cp, fmt.Errorf("place order %s: %w", order.ID, lastErr)
}

// ApplyFill folds an adapter-reported fill into its order. The second return
// is the fill actually applied, which may be clamped when the adapter reports
// more than the remaining quantity (an integrity event: local state stays the
// source of truth for intended quantity). ok is false when the fill was a
// duplicate, arrived after a terminal state, or referenced an unknown order.
func (e *Engine) ApplyFill(fill domain.Fill) (*domain.Order, domain.Fill, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyFillLocked(fill)
}

func (e *Engine) applyFillLocked(fill domain.Fill) (*domain.Order, domain.Fill, bool) {
	ctx := context.Background()
	order, ok := e.orders[fill.OrderID]
	if !ok {
		e.logger.Warn(ctx, "fill for unknown order dropped", map[string]interface{}{"fillID": fill.ID, "orderID": fill.OrderID})
		return nil, fill, false
	}
	if _, dup := e.seenFills[fill.ID]; dup {
		e.logger.Debug(ctx, "duplicate fill ignored", map[string]interface{}{"fillID": fill.ID, "orderID": fill.OrderID})
		return nil, fill, false
	}
	e.seenFills[fill.ID] = struct{}{}
	if order.Status.IsTerminal() {
		e.logger.Debug(ctx, "late fill after terminal state ignored", map[string]interface{}{
			"fillID": fill.ID, "orderID": fill.OrderID, "status": string(order.Status)})
		return nil, fill, false
	}
	if !fill.Quantity.IsPositive() {
		e.logger.Warn(ctx, "non-positive fill quantity dropped", map[string]interface{}{"fillID": fill.ID})
		return nil, fill, false
	}

	if remaining := order.Remaining(); fill.Quantity.GreaterThan(remaining) {
		e.logger.Error(ctx, ports.ErrInvalidRequest, "fill exceeds remaining quantity, clamping to intended quantity",
			map[string]interface{}{"fillID": fill.ID, "orderID": fill.OrderID,
				"fillQty": fill.Quantity.String(), "remaining": remaining.String()})
		if !remaining.IsPositive() {
			return nil, fill, false
		}
		fill.Quantity = remaining
	}

	order.RecordFill(fill)
	if order.FilledQuantity.Equal(order.Quantity) {
		e.transitionLocked(order, domain.StatusFilled)
	} else {
		e.transitionLocked(order, domain.StatusPartiallyFilled)
	}
	cp := *order
	return &cp, fill, true
}

// Cancel requests cancellation of a non-terminal order. In live mode a fill
// can race the cancel; if the adapter reports the order gone the local state
// is left for reconciliation to settle.
func (e *Engine) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	e.mu.Lock()
	order, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("cancel order %s: %w", orderID, ports.ErrOrderNotFound)
	}
	if order.Status.IsTerminal() {
		cp := *order
		e.mu.Unlock()
		return &cp, fmt.Errorf("cancel order %s: %w", orderID, ports.ErrOrderTerminal)
	}
	e.mu.Unlock()

	if err := e.adapter.Cancel(ctx, orderID); err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			e.logger.Warn(ctx, "cancel target not found on adapter, awaiting reconciliation",
				map[string]interface{}{"orderID": orderID})
			e.mu.Lock()
			cp := *order
			e.mu.Unlock()
			return &cp, nil
		}
		return nil, fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	e.mu.Lock()
	e.transitionLocked(order, domain.StatusCanceled)
	cp := *order
	e.mu.Unlock()
	return &cp, nil
}

// CancelOpen cancels every non-terminal order, used when a backtest drains
// in-flight orders at feed exhaustion. Returns the orders that reached a
// terminal state so their reservations can be released.
func (e *Engine) CancelOpen(ctx context.Context) []*domain.Order {
	var canceled []*domain.Order
	for _, id := range e.openOrderIDs() {
		order, err := e.Cancel(ctx, id)
		if err != nil {
			e.logger.Warn(ctx, "drain cancel failed", map[string]interface{}{"orderID": id, "error": err.Error()})
			continue
		}
		if order != nil && order.Status.IsTerminal() {
			canceled = append(canceled, order)
		}
	}
	return canceled
}

// Reconcile polls the adapter for every open order and trusts it as the
// source of truth for fill quantity and price. Quantity growth is converted
// into a synthetic fill and run through the normal dedup path; terminal
// statuses the adapter reached on its own are adopted locally.
func (e *Engine) Reconcile(ctx context.Context) []Update {
	var updates []Update
	for _, id := range e.openOrderIDs() {
		report, err := e.adapter.QueryStatus(ctx, id)
		if err != nil {
			e.logger.Warn(ctx, "status query failed", map[string]interface{}{"orderID": id, "error": err.Error()})
			continue
		}

		e.mu.Lock()
		order := e.orders[id]
		if order == nil || order.Status.IsTerminal() {
			e.mu.Unlock()
			continue
		}
		if report.FilledQuantity.GreaterThan(order.FilledQuantity) {
			delta := report.FilledQuantity.Sub(order.FilledQuantity)
			price := report.AvgFillPrice
			if prev := order.FilledQuantity; prev.IsPositive() && report.AvgFillPrice.IsPositive() {
				// Back out the marginal price of the unseen quantity.
				price = report.AvgFillPrice.Mul(report.FilledQuantity).
					Sub(order.AvgFillPrice.Mul(prev)).Div(delta)
			}
			e.reconSeq[id]++
			synth := domain.Fill{
				ID:        fmt.Sprintf("recon-%s-%d", id, e.reconSeq[id]),
				OrderID:   id,
				Quantity:  delta,
				Price:     price,
				Timestamp: e.clock.Now(),
			}
			if updated, applied, ok := e.applyFillLocked(synth); ok {
				updates = append(updates, Update{Order: updated, Fill: &applied})
			}
		}
		if report.Status.IsTerminal() && !order.Status.IsTerminal() {
			e.transitionLocked(order, report.Status)
			cp := *order
			updates = append(updates, Update{Order: &cp})
		}
		e.mu.Unlock()
	}
	return updates
}

// Order returns a copy of the order.
func (e *Engine) Order(orderID string) (*domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[orderID]
	if !ok {
		return nil, false
	}
	cp := *order
	return &cp, true
}

// OpenOrders returns copies of all non-terminal orders.
func (e *Engine) OpenOrders() []*domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var open []*domain.Order
	for _, id := range e.history {
		if o := e.orders[id]; o != nil && !o.Status.IsTerminal() {
			cp := *o
			open = append(open, &cp)
		}
	}
	return open
}

// RecentOrders returns copies of the most recent orders, newest last.
func (e *Engine) RecentOrders(limit int) []*domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := 0
	if limit > 0 && len(e.history) > limit {
		start = len(e.history) - limit
	}
	out := make([]*domain.Order, 0, len(e.history)-start)
	for _, id := range e.history[start:] {
		cp := *e.orders[id]
		out = append(out, &cp)
	}
	return out
}

func (e *Engine) openOrderIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for _, id := range e.history {
		if o := e.orders[id]; o != nil && !o.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// transitionLocked applies a monotonic status change. Illegal transitions
// (anything out of a terminal state, or a skipped stage) are logged as
// critical integrity events and refused rather than applied.
func (e *Engine) transitionLocked(order *domain.Order, next domain.OrderStatus) {
	if order.Status == next {
		return
	}
	if !order.Status.CanTransition(next) {
		e.logger.Error(context.Background(), ports.ErrOrderTerminal, "illegal order state transition refused",
			map[string]interface{}{"orderID": order.ID, "from": string(order.Status), "to": string(next)})
		return
	}
	order.Status = next
	order.UpdatedAt = e.clock.Now()
}
