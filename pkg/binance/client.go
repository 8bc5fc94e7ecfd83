package binance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"venuewire/internal/circuitbreaker"
	"venuewire/internal/keyring"
	"venuewire/internal/ratelimit"
	"venuewire/internal/rest"
	"venuewire/internal/ws"
	"venuewire/pkg/core"
)

// Client is the spot API entry point. It owns one REST executor and
// one WebSocket API connection sharing a single rate limiter, so both
// transports draw from the same venue budgets. Endpoints with a WS
// method prefer the socket when it is live and fall back to REST.
// Safe for concurrent use.
type Client struct {
	config  *core.Config
	limiter *ratelimit.Limiter
	breaker *circuitbreaker.Breaker
	rest    *rest.Executor
	conn    *ws.Conn
	ring    *keyring.Ring
	logger  zerolog.Logger
}

// Option customizes a Client during construction.
type Option func(*Client)

// WithLogger sets the logger for the client and every component under it.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithKeyring installs a credential pool. The active key is rotated
// automatically when the venue rejects it or bans its IP allocation.
func WithKeyring(ring *keyring.Ring) Option {
	return func(c *Client) { c.ring = ring }
}

// WithBreaker overrides the transport failure breaker thresholds.
func WithBreaker(config circuitbreaker.Config) Option {
	return func(c *Client) { c.breaker = circuitbreaker.New(config) }
}

// New creates a Client for the given configuration. NewConfig and
// NewTestnetConfig supply the venue origins.
func New(config *core.Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	c := &Client{
		config: config,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			FailThreshold:    5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		}),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.ring != nil {
		if _, ok := c.ring.Current(); !ok {
			return nil, fmt.Errorf("keyring has no usable credentials")
		}
		c.ring.SetLogger(c.logger)
	}

	c.limiter = ratelimit.New(config.RateLimits)
	c.limiter.SetLogger(c.logger)

	executor, err := rest.NewExecutor(config, c.limiter, c.breaker)
	if err != nil {
		return nil, err
	}
	executor.SetLogger(c.logger)
	c.rest = executor

	c.conn = ws.NewConn(config, c.limiter)
	c.conn.SetLogger(c.logger)

	// With a keyring, both transports fetch the active pair through its
	// mutex rather than sharing a mutable Credentials value.
	if c.ring != nil {
		c.rest.SetCredentialSource(c.ring.Current)
		c.conn.SetCredentialSource(c.ring.Current)
	}

	return c, nil
}

// NewConfig returns a Config pointed at the production spot API.
func NewConfig() *core.Config {
	return core.DefaultConfig(BaseURL, WSURL)
}

// NewTestnetConfig returns a Config pointed at the spot testnet.
func NewTestnetConfig() *core.Config {
	return core.DefaultConfig(TestnetBaseURL, TestnetWSURL)
}

// Connect brings up the WebSocket API connection. REST endpoints work
// without it; calling Connect just lets eligible requests use the
// socket and enables stream subscriptions.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Conn exposes the WebSocket connection for stream subscriptions.
func (c *Client) Conn() *ws.Conn {
	return c.conn
}

// Close shuts down both transports.
func (c *Client) Close() error {
	wsErr := c.conn.Close()
	restErr := c.rest.Close()
	return errors.Join(wsErr, restErr)
}

// do routes a spec to the best live transport and funnels failures
// into the keyring.
func (c *Client) do(ctx context.Context, spec *core.RequestSpec) ([]byte, error) {
	if spec.WSMethod != "" && c.conn.IsConnected() {
		data, err := c.conn.Call(ctx, spec)
		switch {
		case err == nil:
			return data, nil
		case errors.Is(err, core.ErrNotConnected),
			core.IsConnectionLost(err),
			core.IsTimeout(err):
			c.logger.Debug().Err(err).Str("method", spec.WSMethod).Msg("ws call failed, falling back to rest")
		default:
			c.noteFailure(err)
			return nil, err
		}
	}

	resp, err := c.rest.Execute(ctx, spec)
	if err != nil {
		c.noteFailure(err)
		// Partial results still carry a usable body.
		if resp != nil {
			return resp.Body, err
		}
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) noteFailure(err error) {
	if c.ring == nil {
		return
	}
	c.ring.OnError(err)
}

func (c *Client) call(ctx context.Context, spec *core.RequestSpec, v any) error {
	data, err := c.do(ctx, spec)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", spec.Path, err)
	}
	return nil
}

// Ping checks connectivity to the venue.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, Ping(), nil)
}

// ServerTime returns the venue clock. Callers compare it with local
// time to keep signed request timestamps inside the recv window.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var out ServerTimeResponse
	if err := c.call(ctx, ServerTime(), &out); err != nil {
		return time.Time{}, err
	}
	return out.Time(), nil
}

// ExchangeInfo returns trading rules and the venue's current rate
// limit budgets.
func (c *Client) ExchangeInfo(ctx context.Context) (*ExchangeInfoResponse, error) {
	var out ExchangeInfoResponse
	if err := c.call(ctx, ExchangeInfo(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Depth returns an order book snapshot. limit <= 0 uses the venue default.
func (c *Client) Depth(ctx context.Context, symbol string, limit int) (*DepthResponse, error) {
	var out DepthResponse
	if err := c.call(ctx, Depth(symbol, limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecentTrades returns the latest public trades for a symbol.
func (c *Client) RecentTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	var out []Trade
	if err := c.call(ctx, RecentTrades(symbol, limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Klines returns parsed candlesticks for a symbol and interval.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	var raw [][]any
	if err := c.call(ctx, Klines(symbol, interval, limit), &raw); err != nil {
		return nil, err
	}
	return ParseKlines(raw)
}

// HistoricalTrades returns older public trades starting at fromID.
// fromID <= 0 returns the most recent trades.
func (c *Client) HistoricalTrades(ctx context.Context, symbol string, fromID int64) ([]Trade, error) {
	var out []Trade
	if err := c.call(ctx, HistoricalTrades(symbol, fromID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AggTrades returns compressed public trades for a symbol.
func (c *Client) AggTrades(ctx context.Context, symbol string, limit int) ([]AggTrade, error) {
	var out []AggTrade
	if err := c.call(ctx, AggTrades(symbol, limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ticker24h returns rolling 24 hour statistics for a symbol.
func (c *Client) Ticker24h(ctx context.Context, symbol string) (*Ticker, error) {
	var out Ticker
	if err := c.call(ctx, Ticker24h(symbol), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TickerPrice returns the latest price for a symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (*TickerPriceResponse, error) {
	var out TickerPriceResponse
	if err := c.call(ctx, TickerPrice(symbol), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BookTicker returns the best bid and ask for a symbol.
func (c *Client) BookTicker(ctx context.Context, symbol string) (*BookTickerResponse, error) {
	var out BookTickerResponse
	if err := c.call(ctx, BookTicker(symbol), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AvgPrice returns the current average price for a symbol.
func (c *Client) AvgPrice(ctx context.Context, symbol string) (*AvgPriceResponse, error) {
	var out AvgPriceResponse
	if err := c.call(ctx, AvgPrice(symbol), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Account returns the account snapshot with balances.
func (c *Client) Account(ctx context.Context) (*AccountResponse, error) {
	var out AccountResponse
	if err := c.call(ctx, Account(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MyTrades returns the account's fills on a symbol.
func (c *Client) MyTrades(ctx context.Context, symbol string) ([]MyTrade, error) {
	var out []MyTrade
	if err := c.call(ctx, MyTrades(symbol), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PlaceOrder submits an order and returns the venue's acknowledgement.
func (c *Client) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	spec := NewOrder()
	req.Apply(spec)

	var out Order
	if err := c.call(ctx, spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TestOrder validates an order without reaching the matching engine.
func (c *Client) TestOrder(ctx context.Context, req *OrderRequest) error {
	spec := TestOrder()
	req.Apply(spec)
	return c.call(ctx, spec, nil)
}

// QueryOrder returns the current state of one order. Exactly one of
// orderID or clientOrderID must identify it.
func (c *Client) QueryOrder(ctx context.Context, symbol string, orderID int64, clientOrderID string) (*Order, error) {
	spec := QueryOrder(symbol)
	if orderID > 0 {
		spec.SetParam("orderId", orderID)
	}
	if clientOrderID != "" {
		spec.SetParam("origClientOrderId", clientOrderID)
	}

	var out Order
	if err := c.call(ctx, spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder cancels one order.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64, clientOrderID string) (*Order, error) {
	spec := CancelOrder(symbol)
	if orderID > 0 {
		spec.SetParam("orderId", orderID)
	}
	if clientOrderID != "" {
		spec.SetParam("origClientOrderId", clientOrderID)
	}

	var out Order
	if err := c.call(ctx, spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenOrders returns the account's open orders. An empty symbol
// queries every symbol at a much higher weight.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	var out []Order
	if err := c.call(ctx, OpenOrders(symbol), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelOpenOrders cancels everything open on a symbol. When the venue
// reports a partial cancellation the successfully cancelled orders are
// returned alongside the error.
func (c *Client) CancelOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	data, err := c.do(ctx, CancelOpenOrders(symbol))
	if err != nil && !core.IsType(err, core.ErrorTypePartial) {
		return nil, err
	}

	var out []Order
	if len(data) > 0 {
		if decodeErr := sonic.Unmarshal(data, &out); decodeErr != nil {
			return nil, errors.Join(err, fmt.Errorf("decode cancellations: %w", decodeErr))
		}
	}
	return out, err
}

// AllOrders returns the account's order history on a symbol.
func (c *Client) AllOrders(ctx context.Context, symbol string) ([]Order, error) {
	var out []Order
	if err := c.call(ctx, AllOrders(symbol), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PlaceOCO submits a one-cancels-the-other order list.
func (c *Client) PlaceOCO(ctx context.Context, req *OCORequest) (*OrderListResponse, error) {
	spec := NewOCO()
	req.Apply(spec)

	var out OrderListResponse
	if err := c.call(ctx, spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOCO cancels an order list by its list id.
func (c *Client) CancelOCO(ctx context.Context, symbol string, orderListID int64) (*OrderListResponse, error) {
	spec := CancelOCO(symbol)
	if orderListID > 0 {
		spec.SetParam("orderListId", orderListID)
	}

	var out OrderListResponse
	if err := c.call(ctx, spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryOCO returns the state of one order list. Exactly one of
// orderListID or clientOrderID must identify it.
func (c *Client) QueryOCO(ctx context.Context, orderListID int64, clientOrderID string) (*OrderListResponse, error) {
	spec := QueryOCO()
	if orderListID > 0 {
		spec.SetParam("orderListId", orderListID)
	}
	if clientOrderID != "" {
		spec.SetParam("origClientOrderId", clientOrderID)
	}

	var out OrderListResponse
	if err := c.call(ctx, spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenOCO returns the account's open order lists.
func (c *Client) OpenOCO(ctx context.Context) ([]OrderListResponse, error) {
	var out []OrderListResponse
	if err := c.call(ctx, OpenOCO(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OrderRateLimits returns the venue's view of the account's order
// count usage, one report per order-rate budget.
func (c *Client) OrderRateLimits(ctx context.Context) ([]core.RateLimit, error) {
	var out []core.RateLimit
	if err := c.call(ctx, RateLimitOrders(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RateLimitUsage returns the limiter's view of the venue budgets.
func (c *Client) RateLimitUsage() []core.RateLimit {
	return c.limiter.Usage()
}
