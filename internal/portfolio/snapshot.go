package portfolio

import (
	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
)

// AssetBalance is a read-only balance row.
type AssetBalance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total is free plus locked.
func (b AssetBalance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// Snapshot is an immutable copy of portfolio state for external readers.
type Snapshot struct {
	Balances      []AssetBalance
	Positions     []domain.Position
	Equity        decimal.Decimal
	DailyPnL      decimal.Decimal
	UnrealizedPnL decimal.Decimal
	PeakEquity    decimal.Decimal
	Drawdown      decimal.Decimal
	StrategyPnL   map[string]decimal.Decimal
}

// Snapshot copies the current state. Safe for concurrent use with the writer.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := Snapshot{
		Equity:      l.equityLocked(),
		DailyPnL:    l.dailyPnL,
		PeakEquity:  l.peakEquity,
		Drawdown:    l.drawdownLocked(),
		StrategyPnL: make(map[string]decimal.Decimal, len(l.strategyPnL)),
	}
	for asset, bal := range l.balances {
		snap.Balances = append(snap.Balances, AssetBalance{Asset: asset, Free: bal.free, Locked: bal.locked})
	}
	for _, pos := range l.positions {
		cp := *pos
		snap.Positions = append(snap.Positions, cp)
		snap.UnrealizedPnL = snap.UnrealizedPnL.Add(pos.UnrealizedPnL())
	}
	for id, pnl := range l.strategyPnL {
		snap.StrategyPnL[id] = pnl
	}
	return snap
}
