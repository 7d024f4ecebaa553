package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	// Spot REST weight budget is 1200/min; stay well under it.
	restRequestsPerSecond = 10
	restBurst             = 20
)

// Client routes orders to Binance spot and streams kline market data. It
// implements ports.ExecutionAdapter and ports.MarketFeed. Orders are keyed by
// our own order id, passed to the exchange as the client order id, so the
// exchange and the core always agree on identity.
type Client struct {
	api                  *binance.Client
	logger               ports.Logger
	limiter              *rate.Limiter
	reconnectDelay       time.Duration
	maxReconnectAttempts int
	interval             string
	instruments          map[string]domain.Instrument

	mu      sync.Mutex
	handler func(domain.Fill)
	symbols map[string]string // order id -> symbol, needed by cancel and status calls
}

// Config holds configuration specific to the Binance adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Instruments          []domain.Instrument
	StreamInterval       string // kline interval for the market feed, e.g. "1m"
	Logger               ports.Logger
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// New creates a new Binance adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if len(cfg.Instruments) == 0 {
		return nil, fmt.Errorf("at least one instrument is required: %w", ports.ErrConfigurationError)
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	interval := cfg.StreamInterval
	if interval == "" {
		interval = "1m"
	}

	instruments := make(map[string]domain.Instrument, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		instruments[inst.Symbol] = inst
	}

	return &Client{
		api:                  client,
		logger:               cfg.Logger,
		limiter:              rate.NewLimiter(rate.Limit(restRequestsPerSecond), restBurst),
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
		interval:             interval,
		instruments:          instruments,
		symbols:              make(map[string]string),
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117:
			mappedErr = ports.ErrInvalidRequest
		case -1121: // Invalid symbol
			mappedErr = ports.ErrInvalidSymbol
		case -2010: // New order rejected
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
				mappedErr = ports.ErrInsufficientFunds
			} else {
				mappedErr = ports.ErrOrderPlacementFailed
			}
		case -2011: // Cancel rejected: unknown order
			mappedErr = ports.ErrOrderNotFound
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API key invalid or lacks permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -3005: // Insufficient balance
			mappedErr = ports.ErrInsufficientFunds
		default:
			if apiErr.Code <= -1000 && apiErr.Code >= -1008 {
				mappedErr = ports.ErrExchangeUnavailable
			} else {
				mappedErr = ports.ErrUnknown
			}
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// SetFillHandler registers the fill callback.
func (c *Client) SetFillHandler(handler func(domain.Fill)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Place submits the order with our order id as the exchange client order id.
// Fills returned inline by the REST response (market orders usually fill
// immediately) are delivered through the fill handler; later fills are
// discovered by QueryStatus polling.
func (c *Client) Place(ctx context.Context, spec domain.OrderSpec) (*ports.PlacementAck, error) {
	op := "Place"
	if _, ok := c.instruments[spec.Symbol]; !ok {
		return nil, fmt.Errorf("%s: %s: %w", op, spec.Symbol, ports.ErrInvalidSymbol)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	svc := c.api.NewCreateOrderService().
		Symbol(spec.Symbol).
		Side(translateSide(spec.Side)).
		NewClientOrderID(spec.OrderID).
		Quantity(spec.Quantity.String())
	if spec.Type == domain.Limit {
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(spec.Price.String())
	} else {
		svc = svc.Type(binance.OrderTypeMarket)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	c.mu.Lock()
	c.symbols[spec.OrderID] = spec.Symbol
	handler := c.handler
	c.mu.Unlock()

	status := translateStatus(resp.Status)
	ack := &ports.PlacementAck{
		OrderID:   spec.OrderID,
		Status:    status,
		Timestamp: time.UnixMilli(resp.TransactTime),
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": spec.Symbol, "side": spec.Side, "quantity": spec.Quantity.String(),
		"orderID": spec.OrderID, "exchangeOrderID": resp.OrderID, "status": resp.Status,
	})

	if handler != nil && len(resp.Fills) > 0 {
		fills, err := c.translateFills(spec, resp.Fills, time.UnixMilli(resp.TransactTime))
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		// Delivered off the request path so the caller records the
		// placement before the first fill arrives.
		go func() {
			for _, f := range fills {
				handler(f)
			}
		}()
	}
	return ack, nil
}

// Cancel cancels an open order by our order id.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	op := "Cancel"
	symbol, err := c.symbolFor(orderID)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	_, err = c.api.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(orderID).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	return nil
}

// QueryStatus returns the exchange's current view of the order.
func (c *Client) QueryStatus(ctx context.Context, orderID string) (*ports.StatusReport, error) {
	op := "QueryStatus"
	symbol, err := c.symbolFor(orderID)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	order, err := c.api.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	executed, err := decimal.NewFromString(order.ExecutedQuantity)
	if err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("parsing executed quantity %q: %w", order.ExecutedQuantity, err), op)
	}
	quoteQty, err := decimal.NewFromString(order.CummulativeQuoteQuantity)
	if err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("parsing quote quantity %q: %w", order.CummulativeQuoteQuantity, err), op)
	}
	avgPrice := decimal.Zero
	if executed.IsPositive() {
		avgPrice = quoteQty.Div(executed)
	}
	return &ports.StatusReport{
		OrderID:        orderID,
		Status:         translateStatus(order.Status),
		FilledQuantity: executed,
		AvgFillPrice:   avgPrice,
		Timestamp:      time.UnixMilli(order.UpdateTime),
	}, nil
}

func (c *Client) symbolFor(orderID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	symbol, ok := c.symbols[orderID]
	if !ok {
		return "", fmt.Errorf("order %s: %w", orderID, ports.ErrOrderNotFound)
	}
	return symbol, nil
}

// translateFills converts the inline fills of a create-order response. The
// commission is normalized into the quote asset using the fill price so that
// accounting stays in one currency per instrument.
func (c *Client) translateFills(spec domain.OrderSpec, fills []*binance.Fill, ts time.Time) ([]domain.Fill, error) {
	inst := c.instruments[spec.Symbol]
	out := make([]domain.Fill, 0, len(fills))
	for _, f := range fills {
		price, err := decimal.NewFromString(f.Price)
		if err != nil {
			return nil, fmt.Errorf("parsing fill price %q: %w", f.Price, err)
		}
		qty, err := decimal.NewFromString(f.Quantity)
		if err != nil {
			return nil, fmt.Errorf("parsing fill quantity %q: %w", f.Quantity, err)
		}
		fee, err := decimal.NewFromString(f.Commission)
		if err != nil {
			return nil, fmt.Errorf("parsing fill commission %q: %w", f.Commission, err)
		}
		if f.CommissionAsset == inst.Base {
			fee = fee.Mul(price)
		}
		out = append(out, domain.Fill{
			ID:        fmt.Sprintf("%s-%d", spec.Symbol, f.TradeID),
			OrderID:   spec.OrderID,
			Quantity:  qty,
			Price:     price,
			Fee:       fee,
			Timestamp: ts,
		})
	}
	return out, nil
}

// Events streams closed klines for all configured instruments as market
// events. Each symbol runs its own WebSocket with a reconnect loop; the
// returned channel closes once the context is done and every stream has
// stopped.
func (c *Client) Events(ctx context.Context) (<-chan domain.MarketEvent, error) {
	out := make(chan domain.MarketEvent)
	var wg sync.WaitGroup
	for symbol := range c.instruments {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			c.streamSymbol(ctx, symbol, out)
		}(symbol)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (c *Client) streamSymbol(ctx context.Context, symbol string, out chan<- domain.MarketEvent) {
	op := "StreamKlines"
	bo := &backoff.Backoff{
		Min:    c.reconnectDelay,
		Max:    c.reconnectDelay * 64,
		Factor: 2,
		Jitter: true,
	}

	handler := func(event *binance.WsKlineEvent) {
		if event == nil || !event.Kline.IsFinal {
			return
		}
		kline, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(ctx, err, op+": failed to translate WebSocket kline event")
			return
		}
		select {
		case out <- kline.Event():
		case <-ctx.Done():
		}
	}
	errHandler := func(err error) {
		c.logger.Warn(ctx, op+": WebSocket error reported", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.logger.Info(ctx, op+": connecting", map[string]interface{}{"symbol": symbol, "interval": c.interval, "attempt": attempt + 1})
		doneCh, stopCh, err := binance.WsKlineServe(symbol, c.interval, handler, errHandler)
		if err != nil {
			c.handleError(ctx, err, op+" connection attempt")
			attempt++
			if attempt >= c.maxReconnectAttempts {
				c.logger.Error(ctx, err, op+": max reconnection attempts exceeded, giving up", map[string]interface{}{"symbol": symbol, "maxAttempts": c.maxReconnectAttempts})
				return
			}
			select {
			case <-time.After(bo.Duration()):
				continue
			case <-ctx.Done():
				return
			}
		}

		c.logger.Info(ctx, op+": connected", map[string]interface{}{"symbol": symbol, "interval": c.interval})
		attempt = 0
		bo.Reset()

		select {
		case <-doneCh:
			c.logger.Warn(ctx, op+": connection closed, reconnecting", map[string]interface{}{"symbol": symbol})
		case <-ctx.Done():
			select {
			case stopCh <- struct{}{}:
			default:
			}
			return
		}
	}
}

// Balances returns spot account balances per asset, free plus locked. Used to
// seed the ledger on startup.
func (c *Client) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	op := "Balances"
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	account, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make(map[string]decimal.Decimal, len(account.Balances))
	for _, bal := range account.Balances {
		free, err := decimal.NewFromString(bal.Free)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("parsing balance %q for %s: %w", bal.Free, bal.Asset, err), op)
		}
		locked, err := decimal.NewFromString(bal.Locked)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("parsing locked balance %q for %s: %w", bal.Locked, bal.Asset, err), op)
		}
		total := free.Add(locked)
		if total.IsPositive() {
			out[bal.Asset] = total
		}
	}
	return out, nil
}

// Ping checks connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.api.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// SetServerTime synchronizes the client's clock offset with the exchange.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	if _, err := c.api.NewSetServerTimeService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetKlinesRange fetches all klines for a symbol/interval between start and
// end time, paging through the REST limit.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Kline, error) {
	op := "GetKlinesRange"
	var allKlines []domain.Kline
	const maxLimit = 1000
	from := start

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		klines, err := c.api.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxLimit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, bk := range klines {
			dk, err := translateRestKline(bk, symbol, interval)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
			}
			allKlines = append(allKlines, dk)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime)
		if from.After(end) || len(klines) < maxLimit {
			break
		}
	}
	return allKlines, nil
}

// --- Translation helpers ---

func translateSide(side domain.Side) binance.SideType {
	if side == domain.Buy {
		return binance.SideTypeBuy
	}
	return binance.SideTypeSell
}

func translateStatus(status binance.OrderStatusType) domain.OrderStatus {
	switch status {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePendingCancel:
		return domain.StatusSubmitted
	case binance.OrderStatusTypePartiallyFilled:
		return domain.StatusPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return domain.StatusFilled
	case binance.OrderStatusTypeCanceled:
		return domain.StatusCanceled
	case binance.OrderStatusTypeRejected:
		return domain.StatusRejected
	case binance.OrderStatusTypeExpired:
		return domain.StatusExpired
	default:
		return domain.StatusSubmitted
	}
}

func translateWsKline(event *binance.WsKlineEvent) (*domain.Kline, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return nil, fmt.Errorf("parsing open price %q: %w", k.Open, err)
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return nil, fmt.Errorf("parsing high price %q: %w", k.High, err)
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return nil, fmt.Errorf("parsing low price %q: %w", k.Low, err)
	}
	cls, err := decimal.NewFromString(k.Close)
	if err != nil {
		return nil, fmt.Errorf("parsing close price %q: %w", k.Close, err)
	}
	vol, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return nil, fmt.Errorf("parsing volume %q: %w", k.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(k.StartTime),
		CloseTime: time.UnixMilli(k.EndTime),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   k.IsFinal,
	}, nil
}

func translateRestKline(bk *binance.Kline, symbol, interval string) (domain.Kline, error) {
	if bk == nil {
		return domain.Kline{}, errors.New("received nil historical kline")
	}
	open, err := decimal.NewFromString(bk.Open)
	if err != nil {
		return domain.Kline{}, fmt.Errorf("parsing open price %q: %w", bk.Open, err)
	}
	high, err := decimal.NewFromString(bk.High)
	if err != nil {
		return domain.Kline{}, fmt.Errorf("parsing high price %q: %w", bk.High, err)
	}
	low, err := decimal.NewFromString(bk.Low)
	if err != nil {
		return domain.Kline{}, fmt.Errorf("parsing low price %q: %w", bk.Low, err)
	}
	cls, err := decimal.NewFromString(bk.Close)
	if err != nil {
		return domain.Kline{}, fmt.Errorf("parsing close price %q: %w", bk.Close, err)
	}
	vol, err := decimal.NewFromString(bk.Volume)
	if err != nil {
		return domain.Kline{}, fmt.Errorf("parsing volume %q: %w", bk.Volume, err)
	}

	return domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   true,
	}, nil
}
