package app

import (
	"context"
	"fmt"
	"time"

	"tradecore/internal/adapters/backtest"
	"tradecore/internal/analytics"
	"tradecore/internal/domain"
	"tradecore/internal/execution"
	"tradecore/internal/portfolio"
	"tradecore/internal/ports"
	"tradecore/internal/risk"
	"tradecore/internal/strategy"

	"github.com/shopspring/decimal"
)

// Mode selects how the orchestrator sources market data and routes orders.
type Mode string

const (
	ModeLive     Mode = "live"
	ModePaper    Mode = "paper"
	ModeBacktest Mode = "backtest"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLive, ModePaper, ModeBacktest:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q (want live, paper, or backtest): %w", s, ports.ErrConfigurationError)
	}
}

// Config wires the orchestrator. The strategy runtime, risk engine, execution
// engine, and ledger are built by the caller; the orchestrator owns only the
// event loop connecting them.
type Config struct {
	Mode     Mode
	Runtime  *strategy.Runtime
	Risk     *risk.Engine
	Exec     *execution.Engine
	Ledger   *portfolio.Ledger
	Feed     ports.MarketFeed
	Adapter  ports.ExecutionAdapter
	Recorder ports.ChangeRecorder // optional
	Clock    ports.Clock
	Logger   ports.Logger

	// OrderIDs mints order ids. Live and paper use random UUIDs; backtests
	// use a sequential counter so two runs over the same data produce
	// identical order streams.
	OrderIDs func() string

	// SimClock is required in backtest mode; the orchestrator advances it to
	// each event's timestamp before processing.
	SimClock *backtest.SimClock

	// ReconcileInterval is how often live mode polls the adapter for order
	// state it missed. Zero disables polling.
	ReconcileInterval time.Duration

	// StatusInterval is how often live and paper mode log a portfolio and
	// strategy summary. Zero disables the periodic log; Status stays callable.
	StatusInterval time.Duration
}

// BacktestReport is returned by a completed backtest run.
type BacktestReport struct {
	Events      int
	Orders      int
	Performance analytics.Report
	Final       portfolio.Snapshot
}

// Orchestrator runs the decision pipeline for one mode. All evaluation,
// reservation, and fill application happens on the single Run goroutine, so
// risk checks never race balance mutations.
type Orchestrator struct {
	cfg       Config
	fills     chan domain.Fill
	pending   []domain.Fill // backtest fill queue, drained synchronously
	lastSeen  map[string]time.Time
	eventCnt  int
	orderCnt  int
	tradePnL  []decimal.Decimal
	equityLog []decimal.Decimal
	realized  decimal.Decimal
}

// New creates an orchestrator and registers the fill handler on the adapter.
func New(cfg Config) (*Orchestrator, error) {
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.Runtime == nil || cfg.Risk == nil || cfg.Exec == nil || cfg.Ledger == nil ||
		cfg.Feed == nil || cfg.Adapter == nil || cfg.Clock == nil || cfg.Logger == nil || cfg.OrderIDs == nil {
		return nil, fmt.Errorf("missing required dependencies for orchestrator: %w", ports.ErrConfigurationError)
	}
	if cfg.Mode == ModeBacktest && cfg.SimClock == nil {
		return nil, fmt.Errorf("backtest mode requires a simulated clock: %w", ports.ErrConfigurationError)
	}

	o := &Orchestrator{
		cfg:      cfg,
		lastSeen: make(map[string]time.Time),
	}
	if cfg.Mode == ModeBacktest {
		cfg.Adapter.SetFillHandler(func(f domain.Fill) {
			o.pending = append(o.pending, f)
		})
	} else {
		o.fills = make(chan domain.Fill, 256)
		cfg.Adapter.SetFillHandler(func(f domain.Fill) {
			o.fills <- f
		})
	}
	return o, nil
}

// Run starts the strategies and drives the event loop until the context is
// canceled or, in backtest mode, the feed is exhausted. The report is non-nil
// only for backtests.
func (o *Orchestrator) Run(ctx context.Context) (*BacktestReport, error) {
	o.cfg.Runtime.Start(ctx)
	defer o.cfg.Runtime.Stop(context.Background())

	events, err := o.cfg.Feed.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting market feed: %w", err)
	}

	if o.cfg.Mode == ModeBacktest {
		return o.runBacktest(ctx, events)
	}
	return nil, o.runLoop(ctx, events)
}

// runLoop is the live and paper event loop. Market events, fills, and
// reconciliation all funnel through this one goroutine.
func (o *Orchestrator) runLoop(ctx context.Context, events <-chan domain.MarketEvent) error {
	var reconcileCh <-chan time.Time
	if o.cfg.ReconcileInterval > 0 {
		ticker := time.NewTicker(o.cfg.ReconcileInterval)
		defer ticker.Stop()
		reconcileCh = ticker.C
	}
	var statusCh <-chan time.Time
	if o.cfg.StatusInterval > 0 {
		ticker := time.NewTicker(o.cfg.StatusInterval)
		defer ticker.Stop()
		statusCh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			o.drain(context.Background())
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				o.cfg.Logger.Error(ctx, ports.ErrFeedClosed, "market feed closed, shutting down")
				o.drain(context.Background())
				return ports.ErrFeedClosed
			}
			o.processEvent(ctx, ev)
		case f := <-o.fills:
			o.processFill(ctx, f)
		case <-reconcileCh:
			for _, u := range o.cfg.Exec.Reconcile(ctx) {
				o.applyUpdate(ctx, u)
			}
		case <-statusCh:
			o.logStatus(ctx)
		}
	}
}

func (o *Orchestrator) logStatus(ctx context.Context) {
	view := o.Status()
	errored := 0
	for _, s := range view.Strategies {
		if s.State == strategy.StateErrored {
			errored++
		}
	}
	o.cfg.Logger.Info(ctx, "status", map[string]interface{}{
		"mode":       string(view.Mode),
		"equity":     view.Portfolio.Equity.String(),
		"dailyPnL":   view.Portfolio.DailyPnL.String(),
		"drawdown":   view.Portfolio.Drawdown.String(),
		"riskLevel":  string(view.RiskLevel),
		"positions":  len(view.Portfolio.Positions),
		"openOrders": len(view.OpenOrders),
		"strategies": len(view.Strategies),
		"errored":    errored,
	})
}

// runBacktest drives the replay loop fully synchronously: advance the clock,
// match resting orders, settle their fills, then dispatch strategies. Market
// orders therefore fill at the event after the one that triggered them.
func (o *Orchestrator) runBacktest(ctx context.Context, events <-chan domain.MarketEvent) (*BacktestReport, error) {
	for ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o.cfg.SimClock.Advance(ev.Timestamp)
		o.processEvent(ctx, ev)
		o.drainPending(ctx)
		o.equityLog = append(o.equityLog, o.cfg.Ledger.Equity())
	}

	// Feed exhausted: cancel whatever is still resting and settle.
	o.drain(ctx)
	o.drainPending(ctx)

	return &BacktestReport{
		Events:      o.eventCnt,
		Orders:      o.orderCnt,
		Performance: analytics.Analyze(o.tradePnL, o.equityLog),
		Final:       o.cfg.Ledger.Snapshot(),
	}, nil
}

// processEvent updates marks, lets simulators match, and turns strategy
// intents into orders.
func (o *Orchestrator) processEvent(ctx context.Context, ev domain.MarketEvent) {
	if last, ok := o.lastSeen[ev.Symbol]; ok && ev.Timestamp.Before(last) {
		o.cfg.Logger.Warn(ctx, "out-of-order market event dropped", map[string]interface{}{
			"symbol": ev.Symbol, "timestamp": ev.Timestamp, "lastSeen": last})
		return
	}
	o.lastSeen[ev.Symbol] = ev.Timestamp
	o.eventCnt++

	o.cfg.Ledger.SetMark(ev.Symbol, ev.Price, ev.Timestamp)
	if obs, ok := o.cfg.Adapter.(ports.MarketObserver); ok {
		obs.OnMarketEvent(ev)
	}

	for _, intent := range o.cfg.Runtime.Dispatch(ctx, ev) {
		o.processIntent(ctx, intent)
	}
}

func (o *Orchestrator) processIntent(ctx context.Context, intent domain.TradeIntent) {
	if err := intent.Validate(); err != nil {
		o.cfg.Logger.Warn(ctx, "invalid trade intent dropped", map[string]interface{}{
			"intentID": intent.ID, "strategyID": intent.StrategyID, "error": err.Error()})
		return
	}

	orderID := o.cfg.OrderIDs()
	result := o.cfg.Risk.Evaluate(ctx, intent, orderID)
	if !result.Approved {
		o.cfg.Logger.Info(ctx, "intent rejected by risk", map[string]interface{}{
			"intentID": intent.ID, "strategyID": intent.StrategyID,
			"reason": string(result.Reason), "detail": result.Detail})
		return
	}

	order, err := o.cfg.Exec.Submit(ctx, result.Spec)
	if err != nil {
		o.cfg.Logger.Error(ctx, err, "order submission failed, releasing reservation", map[string]interface{}{
			"orderID": orderID})
		o.cfg.Ledger.Release(orderID)
	} else {
		o.orderCnt++
	}
	if order != nil {
		o.recordOrder(ctx, order)
	}
}

// processFill settles one adapter fill: order state, then ledger, then
// reservation release on terminal.
func (o *Orchestrator) processFill(ctx context.Context, f domain.Fill) {
	order, applied, ok := o.cfg.Exec.ApplyFill(f)
	if !ok {
		return
	}
	o.settleFill(ctx, order, applied)
}

func (o *Orchestrator) applyUpdate(ctx context.Context, u execution.Update) {
	if u.Fill != nil {
		o.settleFill(ctx, u.Order, *u.Fill)
		return
	}
	if u.Order.Status.IsTerminal() {
		o.cfg.Ledger.Release(u.Order.ID)
	}
	o.recordOrder(ctx, u.Order)
}

func (o *Orchestrator) settleFill(ctx context.Context, order *domain.Order, fill domain.Fill) {
	if err := o.cfg.Ledger.ApplyFill(order, fill); err != nil {
		o.cfg.Logger.Error(ctx, err, "ledger rejected fill", map[string]interface{}{
			"fillID": fill.ID, "orderID": order.ID})
		return
	}
	if order.Status.IsTerminal() {
		o.cfg.Ledger.Release(order.ID)
	}

	if o.cfg.Mode == ModeBacktest {
		if realized := o.cfg.Ledger.RealizedPnL(); !realized.Equal(o.realized) {
			o.tradePnL = append(o.tradePnL, realized.Sub(o.realized))
			o.realized = realized
		}
	}

	o.recordOrder(ctx, order)
	if o.cfg.Recorder != nil {
		if err := o.cfg.Recorder.RecordFill(ctx, fill); err != nil {
			o.cfg.Logger.Warn(ctx, "fill record failed", map[string]interface{}{"fillID": fill.ID, "error": err.Error()})
		}
		pos, ok := o.cfg.Ledger.Position(order.Symbol, order.StrategyID)
		if !ok {
			pos = domain.Position{Symbol: order.Symbol, StrategyID: order.StrategyID}
		}
		if err := o.cfg.Recorder.RecordPosition(ctx, &pos); err != nil {
			o.cfg.Logger.Warn(ctx, "position record failed", map[string]interface{}{
				"symbol": order.Symbol, "strategyID": order.StrategyID, "error": err.Error()})
		}
	}
}

// drainPending settles queued backtest fills. Settling a fill never enqueues
// another, but the loop re-checks in case a fill model ever does.
func (o *Orchestrator) drainPending(ctx context.Context) {
	for len(o.pending) > 0 {
		queue := o.pending
		o.pending = nil
		for _, f := range queue {
			o.processFill(ctx, f)
		}
	}
}

// drain cancels every open order and releases its reservation. Called on
// shutdown and at backtest feed exhaustion.
func (o *Orchestrator) drain(ctx context.Context) {
	for _, order := range o.cfg.Exec.CancelOpen(ctx) {
		o.cfg.Ledger.Release(order.ID)
		o.recordOrder(ctx, order)
	}
}

func (o *Orchestrator) recordOrder(ctx context.Context, order *domain.Order) {
	if o.cfg.Recorder == nil {
		return
	}
	if err := o.cfg.Recorder.RecordOrder(ctx, order); err != nil {
		o.cfg.Logger.Warn(ctx, "order record failed", map[string]interface{}{
			"orderID": order.ID, "error": err.Error()})
	}
}
