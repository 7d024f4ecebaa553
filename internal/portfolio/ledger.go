package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/ports"

	"github.com/shopspring/decimal"
)

// ResetPolicy controls when the daily PnL counter clears.
type ResetPolicy string

const (
	// ResetUTCDay clears daily PnL when the UTC calendar day changes.
	ResetUTCDay ResetPolicy = "utc-day"
	// ResetSession never clears automatically; the operator calls ResetDay.
	ResetSession ResetPolicy = "session"
)

// Config holds ledger construction parameters.
type Config struct {
	Instruments []domain.Instrument
	ResetPolicy ResetPolicy
	Logger      ports.Logger
}

type assetBalance struct {
	free   decimal.Decimal
	locked decimal.Decimal
}

type reservation struct {
	asset     string
	remaining decimal.Decimal
}

// Ledger is the system of record for balances and positions. It has a single
// logical writer (the coordinating task); snapshots are immutable copies so
// readers never observe torn state. Every mutation validates balance
// non-negativity; a violation is logged as a critical integrity event and the
// balance is forcibly reconciled rather than left corrupt.
type Ledger struct {
	mu sync.RWMutex

	instruments map[string]domain.Instrument // by symbol
	baseSymbol  map[string]string            // base asset -> symbol (for valuation)
	quoteAssets map[string]struct{}

	balances     map[string]*assetBalance
	reservations map[string]*reservation // by order id
	positions    map[string]*domain.Position
	marks        map[string]decimal.Decimal
	strategyPnL  map[string]decimal.Decimal

	dailyPnL   decimal.Decimal
	peakEquity decimal.Decimal
	currentDay time.Time
	policy     ResetPolicy

	logger ports.Logger
}

// NewLedger creates an empty ledger for the given instrument set.
func NewLedger(cfg Config) (*Ledger, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for the ledger")
	}
	if len(cfg.Instruments) == 0 {
		return nil, fmt.Errorf("at least one instrument is required")
	}
	policy := cfg.ResetPolicy
	if policy == "" {
		policy = ResetUTCDay
	}
	l := &Ledger{
		instruments:  make(map[string]domain.Instrument, len(cfg.Instruments)),
		baseSymbol:   make(map[string]string, len(cfg.Instruments)),
		quoteAssets:  make(map[string]struct{}),
		balances:     make(map[string]*assetBalance),
		reservations: make(map[string]*reservation),
		positions:    make(map[string]*domain.Position),
		marks:        make(map[string]decimal.Decimal),
		strategyPnL:  make(map[string]decimal.Decimal),
		policy:       policy,
		logger:       cfg.Logger,
	}
	for _, inst := range cfg.Instruments {
		if inst.Symbol == "" || inst.Base == "" || inst.Quote == "" {
			return nil, fmt.Errorf("instrument %+v is incomplete", inst)
		}
		l.instruments[inst.Symbol] = inst
		l.baseSymbol[inst.Base] = inst.Symbol
		l.quoteAssets[inst.Quote] = struct{}{}
	}
	return l, nil
}

// Instrument returns the instrument definition for a symbol.
func (l *Ledger) Instrument(symbol string) (domain.Instrument, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	inst, ok := l.instruments[symbol]
	return inst, ok
}

// Deposit credits free balance. Used to seed starting cash.
func (l *Ledger) Deposit(asset string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance(asset).free = l.balance(asset).free.Add(amount)
	eq := l.equityLocked()
	if eq.GreaterThan(l.peakEquity) {
		l.peakEquity = eq
	}
}

// SetMark records the latest reference price for a symbol, refreshes open
// position valuations, rolls the trading day if the reset policy says so, and
// advances the peak equity watermark.
func (l *Ledger) SetMark(symbol string, price decimal.Decimal, ts time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollDayLocked(ts)
	l.marks[symbol] = price
	for _, pos := range l.positions {
		if pos.Symbol == symbol {
			pos.CurrentPrice = price
			pos.UpdatedAt = ts
		}
	}
	eq := l.equityLocked()
	if eq.GreaterThan(l.peakEquity) {
		l.peakEquity = eq
	}
}

// Mark returns the last recorded price for a symbol.
func (l *Ledger) Mark(symbol string) (decimal.Decimal, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.marks[symbol]
	return p, ok
}

// FreeBalance returns the unreserved balance of an asset.
func (l *Ledger) FreeBalance(asset string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[asset]; ok {
		return b.free
	}
	return decimal.Zero
}

// Equity values every asset at its current mark: quote assets at par, base
// assets at the last price of their symbol (entry price before the first
// mark). Equity moves with marks and with fee/realized-PnL entries; nothing
// else mutates it.
func (l *Ledger) Equity() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.equityLocked()
}

func (l *Ledger) equityLocked() decimal.Decimal {
	total := decimal.Zero
	for asset, bal := range l.balances {
		amount := bal.free.Add(bal.locked)
		if amount.IsZero() {
			continue
		}
		if _, ok := l.quoteAssets[asset]; ok {
			total = total.Add(amount)
			continue
		}
		symbol, ok := l.baseSymbol[asset]
		if !ok {
			continue
		}
		price, ok := l.marks[symbol]
		if !ok {
			price = l.avgEntryLocked(symbol)
		}
		total = total.Add(amount.Mul(price))
	}
	return total
}

func (l *Ledger) avgEntryLocked(symbol string) decimal.Decimal {
	qty, notional := decimal.Zero, decimal.Zero
	for _, pos := range l.positions {
		if pos.Symbol == symbol {
			qty = qty.Add(pos.Quantity)
			notional = notional.Add(pos.EntryPrice.Mul(pos.Quantity))
		}
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return notional.Div(qty)
}

// NetQuantity is the symbol's position quantity netted across strategies.
func (l *Ledger) NetQuantity(symbol string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.netQuantityLocked(symbol)
}

func (l *Ledger) netQuantityLocked(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range l.positions {
		if pos.Symbol == symbol {
			total = total.Add(pos.Quantity)
		}
	}
	return total
}

// Position returns a copy of the open position for one symbol and strategy.
func (l *Ledger) Position(symbol, strategyID string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[positionKey(symbol, strategyID)]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// RealizedPnL is the total realized PnL across all strategies since start,
// gross of fees. It never resets with the daily counter.
func (l *Ledger) RealizedPnL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, pnl := range l.strategyPnL {
		total = total.Add(pnl)
	}
	return total
}

// OpenSymbolCount counts symbols with a non-zero net position.
func (l *Ledger) OpenSymbolCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, pos := range l.positions {
		seen[pos.Symbol] = struct{}{}
	}
	return len(seen)
}

// DailyPnL is realized PnL net of fees since the last day roll.
func (l *Ledger) DailyPnL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dailyPnL
}

// Drawdown is the fractional decline of equity from its historical peak.
func (l *Ledger) Drawdown() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.drawdownLocked()
}

func (l *Ledger) drawdownLocked() decimal.Decimal {
	if !l.peakEquity.IsPositive() {
		return decimal.Zero
	}
	return l.peakEquity.Sub(l.equityLocked()).Div(l.peakEquity)
}

// Reserve locks balance for an approved order. The risk engine calls this
// inside the serialized evaluate path so free-balance reads never race fills.
func (l *Ledger) Reserve(orderID, asset string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.reservations[orderID]; exists {
		return fmt.Errorf("reservation for order %s already exists: %w", orderID, ports.ErrDuplicateOrder)
	}
	bal := l.balance(asset)
	if bal.free.LessThan(amount) {
		return fmt.Errorf("reserve %s %s: free balance %s: %w", amount, asset, bal.free, ports.ErrInsufficientFunds)
	}
	bal.free = bal.free.Sub(amount)
	bal.locked = bal.locked.Add(amount)
	l.reservations[orderID] = &reservation{asset: asset, remaining: amount}
	return nil
}

// Release returns an order's remaining reservation to free balance. Called on
// cancel, reject, expire, and after the last fill (where it clears any fee
// buffer residue so a filled order leaves zero residual lock).
func (l *Ledger) Release(orderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.reservations[orderID]
	if !ok {
		return
	}
	if res.remaining.IsPositive() {
		bal := l.balance(res.asset)
		bal.locked = bal.locked.Sub(res.remaining)
		bal.free = bal.free.Add(res.remaining)
		l.validateLocked(res.asset)
	}
	delete(l.reservations, orderID)
}

// LockedFor reports the remaining reservation held for an order.
func (l *Ledger) LockedFor(orderID string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if res, ok := l.reservations[orderID]; ok {
		return res.remaining
	}
	return decimal.Zero
}

// ApplyFill is the only mutator of portfolio state after order submission.
// It converts reserved balance into the realized balance change, updates the
// position (weighted average entry on adds, realized PnL on reductions), and
// folds realized PnL and fees into equity and daily PnL.
func (l *Ledger) ApplyFill(order *domain.Order, fill domain.Fill) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	inst, ok := l.instruments[order.Symbol]
	if !ok {
		return fmt.Errorf("fill %s for unknown symbol %s: %w", fill.ID, order.Symbol, ports.ErrInvalidSymbol)
	}
	l.rollDayLocked(fill.Timestamp)

	switch order.Side {
	case domain.Buy:
		l.applyBuyLocked(order, fill, inst)
	case domain.Sell:
		l.applySellLocked(order, fill, inst)
	default:
		return fmt.Errorf("fill %s: invalid order side %q: %w", fill.ID, order.Side, ports.ErrInvalidRequest)
	}

	eq := l.equityLocked()
	if eq.GreaterThan(l.peakEquity) {
		l.peakEquity = eq
	}
	return nil
}

func (l *Ledger) applyBuyLocked(order *domain.Order, fill domain.Fill, inst domain.Instrument) {
	cost := fill.Quantity.Mul(fill.Price).Add(fill.Fee)
	l.consumeReservationLocked(order.ID, inst.Quote, cost)

	base := l.balance(inst.Base)
	base.free = base.free.Add(fill.Quantity)

	pos := l.positionFor(order.Symbol, order.StrategyID)
	if pos == nil {
		pos = &domain.Position{
			Symbol:     order.Symbol,
			StrategyID: order.StrategyID,
			Side:       domain.Buy,
			Quantity:   fill.Quantity,
			EntryPrice: fill.Price,
			OpenedAt:   fill.Timestamp,
		}
		l.positions[positionKey(order.Symbol, order.StrategyID)] = pos
	} else {
		// Weighted average entry across adds.
		totalQty := pos.Quantity.Add(fill.Quantity)
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Quantity).
			Add(fill.Price.Mul(fill.Quantity)).Div(totalQty)
		pos.Quantity = totalQty
	}
	if mark, ok := l.marks[order.Symbol]; ok {
		pos.CurrentPrice = mark
	} else {
		pos.CurrentPrice = fill.Price
	}
	pos.UpdatedAt = fill.Timestamp

	l.dailyPnL = l.dailyPnL.Sub(fill.Fee)
}

func (l *Ledger) applySellLocked(order *domain.Order, fill domain.Fill, inst domain.Instrument) {
	l.consumeReservationLocked(order.ID, inst.Base, fill.Quantity)

	proceeds := fill.Quantity.Mul(fill.Price).Sub(fill.Fee)
	quote := l.balance(inst.Quote)
	quote.free = quote.free.Add(proceeds)
	l.validateLocked(inst.Quote)

	realized := decimal.Zero
	pos := l.positionFor(order.Symbol, order.StrategyID)
	if pos != nil {
		closeQty := decimal.Min(fill.Quantity, pos.Quantity)
		realized = fill.Price.Sub(pos.EntryPrice).Mul(closeQty)
		pos.Quantity = pos.Quantity.Sub(closeQty)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		pos.UpdatedAt = fill.Timestamp
		if pos.Quantity.IsZero() {
			// A zero-quantity position leaves the open set entirely.
			delete(l.positions, positionKey(order.Symbol, order.StrategyID))
		}
	} else {
		l.logger.Warn(context.Background(), "sell fill without a tracked position",
			map[string]interface{}{"orderID": order.ID, "symbol": order.Symbol, "strategy": order.StrategyID})
	}

	l.dailyPnL = l.dailyPnL.Add(realized).Sub(fill.Fee)
	l.strategyPnL[order.StrategyID] = l.strategyPnL[order.StrategyID].Add(realized).Sub(fill.Fee)
}

// consumeReservationLocked burns reserved balance for a fill. If the fill
// costs more than what remains reserved (adapter reported a worse price than
// the reservation buffer covered) the difference is reconciled from free
// balance and logged as an integrity event: the adapter is the source of
// truth for fill quantity and price.
func (l *Ledger) consumeReservationLocked(orderID, asset string, amount decimal.Decimal) {
	bal := l.balance(asset)
	res := l.reservations[orderID]

	covered := amount
	if res == nil {
		covered = decimal.Zero
	} else if res.remaining.LessThan(amount) {
		covered = res.remaining
	}
	if res != nil {
		res.remaining = res.remaining.Sub(covered)
	}
	bal.locked = bal.locked.Sub(covered)

	if shortfall := amount.Sub(covered); shortfall.IsPositive() {
		l.logger.Error(context.Background(), ports.ErrInsufficientFunds,
			"fill cost exceeded reservation, reconciling from free balance",
			map[string]interface{}{"orderID": orderID, "asset": asset, "shortfall": shortfall.String()})
		bal.free = bal.free.Sub(shortfall)
	}
	l.validateLocked(asset)
}

// validateLocked enforces balance non-negativity after a mutation. A negative
// balance is a critical integrity event; the value is clamped so corruption
// cannot propagate into later evaluations.
func (l *Ledger) validateLocked(asset string) {
	bal := l.balance(asset)
	if bal.free.IsNegative() {
		l.logger.Error(context.Background(), ports.ErrInsufficientFunds, "free balance went negative, clamping",
			map[string]interface{}{"asset": asset, "free": bal.free.String()})
		bal.free = decimal.Zero
	}
	if bal.locked.IsNegative() {
		l.logger.Error(context.Background(), ports.ErrInsufficientFunds, "locked balance went negative, clamping",
			map[string]interface{}{"asset": asset, "locked": bal.locked.String()})
		bal.locked = decimal.Zero
	}
}

func (l *Ledger) rollDayLocked(ts time.Time) {
	if l.policy != ResetUTCDay {
		return
	}
	day := ts.UTC().Truncate(24 * time.Hour)
	if l.currentDay.IsZero() {
		l.currentDay = day
		return
	}
	if day.After(l.currentDay) {
		l.currentDay = day
		l.dailyPnL = decimal.Zero
	}
}

// ResetDay clears the daily PnL counter. Used by the session reset policy.
func (l *Ledger) ResetDay() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dailyPnL = decimal.Zero
}

func (l *Ledger) balance(asset string) *assetBalance {
	b, ok := l.balances[asset]
	if !ok {
		b = &assetBalance{}
		l.balances[asset] = b
	}
	return b
}

func (l *Ledger) positionFor(symbol, strategyID string) *domain.Position {
	return l.positions[positionKey(symbol, strategyID)]
}

func positionKey(symbol, strategyID string) string {
	return symbol + "/" + strategyID
}
