package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kline is a single candlestick, used for historical datasets and backtest
// replay. OHLCV fields are decimal so replays reproduce accounting exactly.
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Symbol    string
	Interval  string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	IsFinal   bool
}

// Event converts the kline into the market event emitted at its close.
func (k *Kline) Event() MarketEvent {
	return MarketEvent{
		Symbol:    k.Symbol,
		Timestamp: k.CloseTime,
		Price:     k.Close,
		Volume:    k.Volume,
		Kind:      EventKline,
	}
}
