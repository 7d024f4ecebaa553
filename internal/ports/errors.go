package ports

import "errors"

// Standard application-level errors. Adapters wrap underlying infrastructure
// errors with these sentinels so the core can classify without knowing the
// exchange or storage engine behind them.
var (
	// General
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Execution adapter
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed")
	ErrInsufficientFunds    = errors.New("insufficient funds on the exchange")
	ErrInvalidSymbol        = errors.New("unknown or untradable symbol")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrOrderTerminal        = errors.New("order already in a terminal state")
	ErrDuplicateOrder       = errors.New("order id already exists")

	// Market feed
	ErrFeedClosed       = errors.New("market feed closed")
	ErrOutOfOrderEvent  = errors.New("event timestamp older than last seen for symbol")
	ErrFeedContractGone = errors.New("market feed violated its delivery contract")

	// Persistence
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)

// IsTransient reports whether an execution error is worth retrying with
// backoff. Everything else is treated as permanent: the order transitions to
// REJECTED and the balance reservation is released.
func IsTransient(err error) bool {
	switch {
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrConnectionFailed),
		errors.Is(err, ErrExchangeUnavailable):
		return true
	default:
		return false
	}
}
