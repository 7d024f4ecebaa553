package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSpec is a risk-approved instruction handed to the execution engine.
// The order id is assigned before evaluation so the balance reservation and
// the eventual order share one key.
type OrderSpec struct {
	OrderID    string
	IntentID   string
	StrategyID string
	Symbol     string
	Side       Side
	Type       OrderType
	Quantity   decimal.Decimal
	Price      decimal.Decimal // limit price; zero for market orders
}

// Order is a live instruction with its own lifecycle. FilledQuantity never
// exceeds Quantity; equality is required for StatusFilled.
type Order struct {
	ID             string
	IntentID       string
	StrategyID     string
	Symbol         string
	Side           Side
	Type           OrderType
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	FilledQuantity decimal.Decimal
	AvgFillPrice   decimal.Decimal
	Status         OrderStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewOrder builds a NEW order from an approved spec.
func NewOrder(spec OrderSpec, now time.Time) *Order {
	return &Order{
		ID:         spec.OrderID,
		IntentID:   spec.IntentID,
		StrategyID: spec.StrategyID,
		Symbol:     spec.Symbol,
		Side:       spec.Side,
		Type:       spec.Type,
		Quantity:   spec.Quantity,
		Price:      spec.Price,
		Status:     StatusNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// RecordFill folds a fill into the order's filled quantity and quantity-weighted
// average price. The caller is responsible for dedup and overfill checks.
func (o *Order) RecordFill(f Fill) {
	prevNotional := o.AvgFillPrice.Mul(o.FilledQuantity)
	o.FilledQuantity = o.FilledQuantity.Add(f.Quantity)
	if o.FilledQuantity.IsPositive() {
		o.AvgFillPrice = prevNotional.Add(f.Price.Mul(f.Quantity)).Div(o.FilledQuantity)
	}
	o.UpdatedAt = f.Timestamp
}

// Fill is a partial or complete execution of an order. Several fills may
// compose one order; the fill id is the dedup key for late or duplicated
// adapter callbacks.
type Fill struct {
	ID        string
	OrderID   string
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Fee       decimal.Decimal // charged in the quote asset
	Timestamp time.Time
}
