package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeIntent is a strategy's request to buy or sell. It has not passed risk
// validation yet; the risk engine consumes each intent exactly once.
type TradeIntent struct {
	ID         string
	StrategyID string
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	Limit      decimal.Decimal // zero means market
	Confidence float64
	Metadata   map[string]string
	EmittedAt  time.Time
}

// IsLimit reports whether the intent carries a limit price.
func (t TradeIntent) IsLimit() bool {
	return t.Limit.IsPositive()
}

// Validate performs local sanity checks. Malformed intents are rejected here
// and never reach the risk engine.
func (t TradeIntent) Validate() error {
	if t.StrategyID == "" {
		return fmt.Errorf("intent %s: missing strategy id", t.ID)
	}
	if t.Symbol == "" {
		return fmt.Errorf("intent %s: missing symbol", t.ID)
	}
	if t.Side != Buy && t.Side != Sell {
		return fmt.Errorf("intent %s: invalid side %q", t.ID, t.Side)
	}
	if !t.Quantity.IsPositive() {
		return fmt.Errorf("intent %s: quantity must be positive, got %s", t.ID, t.Quantity)
	}
	if t.Limit.IsNegative() {
		return fmt.Errorf("intent %s: limit price cannot be negative, got %s", t.ID, t.Limit)
	}
	return nil
}
