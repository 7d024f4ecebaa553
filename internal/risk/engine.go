package risk

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/portfolio"
	"tradecore/internal/ports"
)

// Result is the outcome of a risk evaluation. A rejection is a normal value
// with a typed reason; Evaluate never returns an error for a failed check.
type Result struct {
	Approved bool
	Reason   domain.RejectReason
	Detail   string
	Spec     domain.OrderSpec
}

func rejected(reason domain.RejectReason, format string, args ...interface{}) Result {
	return Result{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Engine validates trade intents against the limits and reserves balance on
// approval. It must be driven from the serialized coordinator path so that
// the free-balance read in the balance check and the reservation are atomic
// with respect to fill application.
type Engine struct {
	mu     sync.RWMutex
	limits Limits
	ledger *portfolio.Ledger
	logger ports.Logger
}

// NewEngine creates a risk engine bound to one portfolio ledger.
func NewEngine(limits Limits, ledger *portfolio.Ledger, logger ports.Logger) (*Engine, error) {
	if ledger == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for risk engine")
	}
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk limits: %w", err)
	}
	return &Engine{limits: limits, ledger: ledger, logger: logger}, nil
}

// Reload swaps the limits between evaluations. An in-flight evaluation keeps
// the snapshot it started with.
func (e *Engine) Reload(limits Limits) error {
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("invalid risk limits: %w", err)
	}
	e.mu.Lock()
	e.limits = limits
	e.mu.Unlock()
	return nil
}

// Limits returns the current limits snapshot.
func (e *Engine) Limits() Limits {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.limits
}

// elevatedFraction is how close to a halt limit the portfolio may drift
// before the reported risk level moves from normal to elevated.
var elevatedFraction = decimal.RequireFromString("0.75")

// Level summarises the portfolio's proximity to the configured halt limits
// for reporting. Halted mirrors the Evaluate halt checks: a new-risk intent
// arriving now would be rejected on daily loss or drawdown.
func (e *Engine) Level() domain.RiskLevel {
	limits := e.Limits()

	equity := e.ledger.Equity()
	if !equity.IsPositive() {
		return domain.RiskHalted
	}

	level := domain.RiskNormal
	if limits.DailyLossLimit.IsPositive() {
		loss := e.ledger.DailyPnL().Div(equity).Neg()
		if loss.GreaterThanOrEqual(limits.DailyLossLimit) {
			return domain.RiskHalted
		}
		if loss.GreaterThanOrEqual(limits.DailyLossLimit.Mul(elevatedFraction)) {
			level = domain.RiskElevated
		}
	}
	if limits.MaxDrawdown.IsPositive() {
		dd := e.ledger.Drawdown()
		if dd.GreaterThanOrEqual(limits.MaxDrawdown) {
			return domain.RiskHalted
		}
		if dd.GreaterThanOrEqual(limits.MaxDrawdown.Mul(elevatedFraction)) {
			level = domain.RiskElevated
		}
	}
	return level
}

// Evaluate runs the check pipeline in fixed order, first failing check wins:
// position count, exposure, daily loss, drawdown, balance. On approval the
// required balance is locked under orderID and the order spec is returned.
func (e *Engine) Evaluate(ctx context.Context, intent domain.TradeIntent, orderID string) Result {
	limits := e.Limits()

	inst, ok := e.ledger.Instrument(intent.Symbol)
	if !ok {
		return rejected(domain.ReasonValidation, "unknown symbol %s", intent.Symbol)
	}
	refPrice := intent.Limit
	if !refPrice.IsPositive() {
		mark, ok := e.ledger.Mark(intent.Symbol)
		if !ok {
			return rejected(domain.ReasonValidation, "no reference price for %s yet", intent.Symbol)
		}
		refPrice = mark
	}

	equity := e.ledger.Equity()
	if !equity.IsPositive() {
		return rejected(domain.ReasonInsufficientBalance, "portfolio equity is not positive (%s)", equity)
	}

	netQty := e.ledger.NetQuantity(intent.Symbol)
	// A sell that only reduces an existing long is risk-reducing; it bypasses
	// the daily-loss and drawdown halts so positions can always be unwound.
	riskReducing := intent.Side == domain.Sell && netQty.IsPositive()

	// 1. Position count: only opening a position on a new symbol counts.
	if intent.Side == domain.Buy && netQty.IsZero() &&
		e.ledger.OpenSymbolCount() >= limits.MaxOpenPositions {
		return rejected(domain.ReasonPositionLimit, "open symbol positions at limit (%d)", limits.MaxOpenPositions)
	}

	// 2. Exposure: projected netted notional against equity. Same-direction
	// intents are additive; opposite direction nets down to full close.
	projected := netQty.Add(intent.Quantity)
	if intent.Side == domain.Sell {
		projected = netQty.Sub(intent.Quantity)
	}
	exposure := projected.Abs().Mul(refPrice).Div(equity)
	if exposure.GreaterThan(limits.MaxPositionExposure) {
		return rejected(domain.ReasonExposureLimit, "exposure %s exceeds limit %s for %s",
			exposure.StringFixed(4), limits.MaxPositionExposure, intent.Symbol)
	}

	// 3. Daily loss: halts new risk only.
	if !riskReducing && limits.DailyLossLimit.IsPositive() {
		ratio := e.ledger.DailyPnL().Div(equity)
		if ratio.LessThanOrEqual(limits.DailyLossLimit.Neg()) {
			return rejected(domain.ReasonDailyLossLimit, "daily pnl ratio %s at or below -%s",
				ratio.StringFixed(4), limits.DailyLossLimit)
		}
	}

	// 4. Drawdown: halts new risk only.
	if !riskReducing && limits.MaxDrawdown.IsPositive() {
		if dd := e.ledger.Drawdown(); dd.GreaterThanOrEqual(limits.MaxDrawdown) {
			return rejected(domain.ReasonDrawdownLimit, "drawdown %s at or above limit %s",
				dd.StringFixed(4), limits.MaxDrawdown)
		}
	}

	// 5. Balance, with fee buffer on buys, then reserve.
	var reserveAsset string
	var reserveAmount decimal.Decimal
	if intent.Side == domain.Buy {
		reserveAsset = inst.Quote
		one := decimal.NewFromInt(1)
		reserveAmount = intent.Quantity.Mul(refPrice).Mul(one.Add(limits.FeeBuffer))
	} else {
		reserveAsset = inst.Base
		reserveAmount = intent.Quantity
	}
	if free := e.ledger.FreeBalance(reserveAsset); free.LessThan(reserveAmount) {
		return rejected(domain.ReasonInsufficientBalance, "need %s %s, free %s",
			reserveAmount, reserveAsset, free)
	}
	if err := e.ledger.Reserve(orderID, reserveAsset, reserveAmount); err != nil {
		// The free-balance read above makes this unreachable on the serialized
		// path; surfacing it as a rejection keeps the contract error-free.
		e.logger.Error(ctx, err, "reservation failed after balance check", map[string]interface{}{"orderID": orderID})
		return rejected(domain.ReasonInsufficientBalance, "reservation failed: %v", err)
	}

	orderType := domain.Market
	if intent.IsLimit() {
		orderType = domain.Limit
	}
	return Result{
		Approved: true,
		Spec: domain.OrderSpec{
			OrderID:    orderID,
			IntentID:   intent.ID,
			StrategyID: intent.StrategyID,
			Symbol:     intent.Symbol,
			Side:       intent.Side,
			Type:       orderType,
			Quantity:   intent.Quantity,
			Price:      intent.Limit,
		},
	}
}
