package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open holding for one symbol and one strategy. It is owned
// exclusively by the portfolio ledger and mutated only on fill application or
// price refresh. A position whose quantity reaches zero is removed from the
// open set, never kept around empty.
type Position struct {
	Symbol       string
	StrategyID   string
	Side         Side
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	CurrentPrice decimal.Decimal
	RealizedPnL  decimal.Decimal
	OpenedAt     time.Time
	UpdatedAt    time.Time
}

// UnrealizedPnL is (current - entry) * quantity * sign(side). It is derived,
// never folded into equity by itself.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	if p.CurrentPrice.IsZero() {
		return decimal.Zero
	}
	pnl := p.CurrentPrice.Sub(p.EntryPrice).Mul(p.Quantity)
	if p.Side == Sell {
		return pnl.Neg()
	}
	return pnl
}

// Notional is the position's market value at the current price, falling back
// to the entry price before the first mark arrives.
func (p *Position) Notional() decimal.Decimal {
	price := p.CurrentPrice
	if price.IsZero() {
		price = p.EntryPrice
	}
	return price.Mul(p.Quantity)
}
