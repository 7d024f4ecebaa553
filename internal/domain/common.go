package domain

// Side represents the direction of an intent, order, or position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// OrderStatus represents a stage of the order lifecycle.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status accepts no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
// Terminal states absorb: no transition out of them is ever legal.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusNew:
		return next == StatusSubmitted || next == StatusRejected || next == StatusCanceled
	case StatusSubmitted, StatusPartiallyFilled:
		switch next {
		case StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
			return true
		}
	}
	return false
}

// EventKind classifies a market event.
type EventKind string

const (
	EventTrade      EventKind = "trade"
	EventKline      EventKind = "kline"
	EventBookUpdate EventKind = "book_update"
)

// RejectReason is the typed outcome of a failed risk evaluation. Rejections
// are normal return values, surfaced for observability, never errors.
type RejectReason string

const (
	ReasonNone                RejectReason = ""
	ReasonValidation          RejectReason = "Validation"
	ReasonPositionLimit       RejectReason = "PositionLimit"
	ReasonExposureLimit       RejectReason = "ExposureLimit"
	ReasonDailyLossLimit      RejectReason = "DailyLossLimit"
	ReasonDrawdownLimit       RejectReason = "DrawdownLimit"
	ReasonInsufficientBalance RejectReason = "InsufficientBalance"
)

// RiskLevel summarises how close the portfolio is to its limits, for reporting.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "normal"
	RiskElevated RiskLevel = "elevated"
	RiskHalted   RiskLevel = "halted"
)
