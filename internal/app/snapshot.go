package app

import (
	"tradecore/internal/domain"
	"tradecore/internal/portfolio"
	"tradecore/internal/strategy"
)

// StatusView is a read-only snapshot of the whole system for reporting. It is
// assembled from copies; callers can hold it as long as they like.
type StatusView struct {
	Mode       Mode
	Portfolio  portfolio.Snapshot
	RiskLevel  domain.RiskLevel
	Strategies []strategy.Status
	OpenOrders []*domain.Order
	Recent     []*domain.Order
}

// Status assembles the current view. Safe to call from any goroutine.
func (o *Orchestrator) Status() StatusView {
	return StatusView{
		Mode:       o.cfg.Mode,
		Portfolio:  o.cfg.Ledger.Snapshot(),
		RiskLevel:  o.cfg.Risk.Level(),
		Strategies: o.cfg.Runtime.Statuses(),
		OpenOrders: o.cfg.Exec.OpenOrders(),
		Recent:     o.cfg.Exec.RecentOrders(20),
	}
}
