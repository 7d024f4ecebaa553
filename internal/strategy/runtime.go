package strategy

import (
	"context"
	"fmt"
	"sync"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// State describes a strategy's dispatch eligibility.
type State string

const (
	StateActive   State = "active"
	StateDisabled State = "disabled"
	StateErrored  State = "errored"
)

// Status is a read-only view of one registered strategy.
type Status struct {
	ID    string
	State State
}

type entry struct {
	strategy ports.Strategy
	enabled  bool
	errored  bool
	started  bool
	symbols  map[string]struct{}
}

// Runtime dispatches market events to registered strategies in registration
// order. A disabled strategy receives no events but keeps its internal state,
// so re-enabling resumes where it left off. A callback error or panic is
// caught at this boundary: the strategy is marked errored and skipped until
// explicitly reset, and no other strategy or the pipeline is affected.
type Runtime struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*entry
	seq     uint64
	clock   ports.Clock
	logger  ports.Logger
}

// NewRuntime creates an empty strategy runtime.
func NewRuntime(clock ports.Clock, logger ports.Logger) (*Runtime, error) {
	if clock == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for strategy runtime")
	}
	return &Runtime{entries: make(map[string]*entry), clock: clock, logger: logger}, nil
}

// Register adds a strategy, enabled by default. Ids must be unique.
func (r *Runtime) Register(s ports.Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.ID()
	if id == "" {
		return fmt.Errorf("strategy id must not be empty")
	}
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("strategy %s already registered", id)
	}
	symbols := make(map[string]struct{})
	for _, sym := range s.Symbols() {
		symbols[sym] = struct{}{}
	}
	r.entries[id] = &entry{strategy: s, enabled: true, symbols: symbols}
	r.order = append(r.order, id)
	return nil
}

// Start calls OnStart for every enabled strategy. A failing start errores
// only the strategy concerned.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		ent := r.entries[id]
		if !ent.enabled || ent.started {
			continue
		}
		if err := r.guard(ctx, id, func() error { return ent.strategy.OnStart(ctx) }); err != nil {
			ent.errored = true
			continue
		}
		ent.started = true
	}
}

// Stop calls OnStop for every started strategy.
func (r *Runtime) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		ent := r.entries[id]
		if !ent.started {
			continue
		}
		_ = r.guard(ctx, id, func() error { return ent.strategy.OnStop(ctx) })
		ent.started = false
	}
}

// Dispatch delivers one event to every eligible strategy subscribed to its
// symbol, in registration order, and stamps the collected intents with
// sequential ids so replays are reproducible.
func (r *Runtime) Dispatch(ctx context.Context, event domain.MarketEvent) []domain.TradeIntent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var intents []domain.TradeIntent
	for _, id := range r.order {
		ent := r.entries[id]
		if !ent.enabled || ent.errored || !ent.started {
			continue
		}
		if _, subscribed := ent.symbols[event.Symbol]; !subscribed {
			continue
		}
		var out []domain.TradeIntent
		err := r.guard(ctx, id, func() error {
			var cbErr error
			out, cbErr = ent.strategy.OnData(ctx, event)
			return cbErr
		})
		if err != nil {
			ent.errored = true
			continue
		}
		for _, intent := range out {
			r.seq++
			intent.ID = fmt.Sprintf("%s-%d", id, r.seq)
			intent.StrategyID = id
			if intent.EmittedAt.IsZero() {
				intent.EmittedAt = r.clock.Now()
			}
			intents = append(intents, intent)
		}
	}
	return intents
}

// guard runs a strategy callback, converting panics into errors so a faulty
// strategy cannot take down the pipeline.
func (r *Runtime) guard(ctx context.Context, id string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("strategy %s panicked: %v", id, rec)
		}
		if err != nil {
			r.logger.Error(ctx, err, "strategy callback failed, strategy errored until reset",
				map[string]interface{}{"strategyID": id})
		}
	}()
	return fn()
}

// Enable resumes event delivery to a strategy. Its frozen state picks up
// where it stopped.
func (r *Runtime) Enable(id string) error {
	return r.setEnabled(id, true)
}

// Disable freezes a strategy: no events, state kept.
func (r *Runtime) Disable(id string) error {
	return r.setEnabled(id, false)
}

func (r *Runtime) setEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("strategy %s not registered: %w", id, ports.ErrNotFound)
	}
	ent.enabled = enabled
	return nil
}

// Reset clears a strategy's errored flag so it receives events again.
func (r *Runtime) Reset(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("strategy %s not registered: %w", id, ports.ErrNotFound)
	}
	ent.errored = false
	return nil
}

// Statuses reports every strategy's state in registration order.
func (r *Runtime) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.order))
	for _, id := range r.order {
		ent := r.entries[id]
		state := StateActive
		switch {
		case ent.errored:
			state = StateErrored
		case !ent.enabled:
			state = StateDisabled
		}
		out = append(out, Status{ID: id, State: state})
	}
	return out
}
