package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketEvent is a single normalized price/volume observation. Events are
// immutable once emitted and ordered by timestamp within a symbol; ordering
// across symbols is whatever the feed delivers.
type MarketEvent struct {
	Symbol    string
	Timestamp time.Time
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Kind      EventKind
}

// Instrument describes a tradable symbol and its asset pair. The quote asset
// is what buys are paid in, the base asset is what is bought.
type Instrument struct {
	Symbol string
	Base   string
	Quote  string
}
