package binance

import (
	"net/http"

	"venuewire/pkg/core"
)

// Production and testnet origins for the spot API.
const (
	BaseURL        = "https://api.binance.com"
	TestnetBaseURL = "https://testnet.binance.vision"

	WSURL        = "wss://ws-api.binance.com:443/ws-api/v3"
	TestnetWSURL = "wss://ws-api.testnet.binance.vision/ws-api/v3"
)

// Endpoint constructors. Each returns a fresh spec carrying the venue's
// documented weight and security class, so callers never hand-maintain
// those per call site. Specs with a WS method can travel over either
// transport.

// Ping builds a connectivity test request.
func Ping() *core.RequestSpec {
	return core.NewRequestSpec(http.MethodGet, "/api/v3/ping").
		SetWSMethod("ping")
}

// ServerTime builds a server clock request.
func ServerTime() *core.RequestSpec {
	return core.NewRequestSpec(http.MethodGet, "/api/v3/time").
		SetWSMethod("time")
}

// ExchangeInfo builds a trading rules and rate limit request.
func ExchangeInfo() *core.RequestSpec {
	return core.NewRequestSpec(http.MethodGet, "/api/v3/exchangeInfo").
		SetWSMethod("exchangeInfo").
		SetWeight(20)
}

// Depth builds an order book request. Weight scales with the level count.
func Depth(symbol string, limit int) *core.RequestSpec {
	spec := core.NewRequestSpec(http.MethodGet, "/api/v3/depth").
		SetWSMethod("depth").
		SetParam("symbol", symbol).
		SetWeight(depthWeight(limit))
	if limit > 0 {
		spec.SetParam("limit", limit)
	}
	return spec
}

func depthWeight(limit int) int {
	switch {
	case limit <= 0 || limit <= 100:
		return 5
	case limit <= 500:
		return 25
	case limit <= 1000:
		return 50
	default:
		return 250
	}
}

// RecentTrades builds a recent public trades request.
func RecentTrades(symbol string, limit int) *core.RequestSpec {
	spec := core.NewRequestSpec(http.MethodGet, "/api/v3/trades").
		SetWSMethod("trades.recent").
		SetParam("symbol", symbol).
		SetWeight(10)
	if limit > 0 {
		spec.SetParam("limit", limit)
	}
	return spec
}

// Klines builds a candlestick request for the given interval.
func Klines(symbol, interval string, limit int) *core.RequestSpec {
	spec := core.NewRequestSpec(http.MethodGet, "/api/v3/klines").
		SetWSMethod("klines").
		SetParam("symbol", symbol).
		SetParam("interval", interval).
		SetWeight(2)
	if limit > 0 {
		spec.SetParam("limit", limit)
	}
	return spec
}

// HistoricalTrades builds an older public trades request. Unlike
// RecentTrades it needs an API key, but no signature.
func HistoricalTrades(symbol string, fromID int64) *core.RequestSpec {
	spec := core.NewRequestSpec(http.MethodGet, "/api/v3/historicalTrades").
		SetWSMethod("trades.historical").
		SetParam("symbol", symbol).
		SetSecurity(core.SecurityMarketData).
		SetWeight(25)
	if fromID > 0 {
		spec.SetParam("fromId", fromID)
	}
	return spec
}

// AggTrades builds a compressed trades request. Trades filled at the
// same time, price, and side arrive aggregated into one entry.
func AggTrades(symbol string, limit int) *core.RequestSpec {
	spec := core.NewRequestSpec(http.MethodGet, "/api/v3/aggTrades").
		SetWSMethod("trades.aggregate").
		SetParam("symbol", symbol).
		SetWeight(2)
	if limit > 0 {
		spec.SetParam("limit", limit)
	}
	return spec
}

// Ticker24h builds a rolling 24 hour statistics request for one symbol.
func Ticker24h(symbol string) *core.RequestSpec {
	return core.NewRequestSpec(http.MethodGet, "/api/v3/ticker/24hr").
		SetWSMethod("ticker.24hr").
		SetParam("symbol", symbol).
		SetWeight(2)
}

// TickerPrice builds a latest price request for one symbol.
func TickerPrice(symbol string) *core.RequestSpec {
	return core.NewRequestSpec(http.MethodGet, "/api/v3/ticker/price").
		SetWSMethod("ticker.price").
		SetParam("symbol", symbol).
		SetWeight(2)
}

// BookTicker builds a best bid/ask request for one symbol.
func BookTicker(symbol string) *core.RequestSpec {
	return core.NewRequestSpec(http.MethodGet, "/api/v3/ticker/bookTicker").
		SetWSMethod("ticker.book").
		SetParam("symbol", symbol).
		SetWeight(2)
}

// AvgPrice builds a current average price request for one symbol.
func AvgPrice(symbol string) *core.RequestSpec {
	return core.NewRequestSpec(http.MethodGet, "/api/v3/avgPrice").
		SetWSMethod("avgPrice").
		SetParam("symbol", symbol).
		SetWeight(2)
}

// Account builds an account information request.
func Account() *core.RequestSpec {
	return core.NewRequestSpec(http.MethodGet, "/api/v3/account").
		SetWSMethod("account.status").
		SetSecurity(core.SecurityUserData).
		SetWeight(20)
}

// MyTrades builds a request for the account's trades on one symbol.
func MyTrades(symbol string) *core.RequestSpec {
	return core.NewRequestSpec(http.MethodGet, "/api/v3/myTrades").
		SetWSMethod("myTrades").
		SetParam("symbol", symbol).
		SetSecurity(core.SecurityUserData).
		SetWeight(20)
}

// NewOrder builds an order placement request. Order parameters are
// attached by the caller.
func NewOrder() *core.RequestSpec {
	return core.NewRequestSpec(http.MethodPost, "/api/v3/order").
		SetWSMethod("order.place").
		SetSecurity(core.SecurityTrade).
		SetLimitType(core.LimitOrders)
}

// TestOrder builds an order validation request that never reaches the
// matching engine.
func TestOrder() *core.RequestSpec {
	return core.NewRequestSpec(http.MethodPost, "/api/v3/order/test").
		SetWSMethod("order.test").
		SetSecurity(core.SecurityTrade)
}

// QueryOrder builds an order status request.
func QueryOrder(symbol string) *core.RequestSpec {
	return core.NewRequestSpec(http.MethodGet, "/api/v3/order").
		SetWSMethod("order.status").
		SetParam("symbol", symbol).
		SetSecurity(core.SecurityUserData).
		SetWeight(4)
}

// CancelOrder builds an order cancellation request.
func CancelOrder(symbol string) *core.RequestSpec {
	return core.NewRequestSpec(http.MethodDelete, "/api/v3/order").
		SetWSMethod("order.cancel").
		SetParam("symbol", symbol).
		SetSecurity(core.SecurityTrade)
}

// OpenOrders builds a request for the account's open orders. Leaving
// symbol empty queries every symbol at a much higher weight.
func OpenOrders(symbol string) *core.RequestSpec {
	spec := core.NewRequestSpec(http.MethodGet, "/api/v3/openOrders").
		SetWSMethod("openOrders.status").
		SetSecurity(core.SecurityUserData).
		SetWeight(6)
	if symbol != "" {
		spec.SetParam("symbol", symbol)
	} else {
		spec.SetWeight(80)
	}
	return spec
}

// CancelOpenOrders builds a request cancelling all open orders on a
// symbol. The venue answers 409 when only part of the set cancels.
func CancelOpenOrders(symbol string) *core.RequestSpec {
	return core.NewRequestSpec(http.MethodDelete, "/api/v3/openOrders").
		SetWSMethod("openOrders.cancelAll").
		SetParam("symbol", symbol).
		SetSecurity(core.SecurityTrade)
}

// AllOrders builds a request for the account's order history on a symbol.
func AllOrders(symbol string) *core.RequestSpec {
	return core.NewRequestSpec(http.MethodGet, "/api/v3/allOrders").
		SetWSMethod("allOrders").
		SetParam("symbol", symbol).
		SetSecurity(core.SecurityUserData).
		SetWeight(20)
}

// NewOCO builds a one-cancels-the-other order list placement request.
func NewOCO() *core.RequestSpec {
	return core.NewRequestSpec(http.MethodPost, "/api/v3/orderList/oco").
		SetWSMethod("orderList.place.oco").
		SetSecurity(core.SecurityTrade).
		SetLimitType(core.LimitOrders)
}

// CancelOCO builds an order list cancellation request.
func CancelOCO(symbol string) *core.RequestSpec {
	return core.NewRequestSpec(http.MethodDelete, "/api/v3/orderList").
		SetWSMethod("orderList.cancel").
		SetParam("symbol", symbol).
		SetSecurity(core.SecurityTrade)
}

// QueryOCO builds an order list status request. The caller identifies
// the list by orderListId or origClientOrderId.
func QueryOCO() *core.RequestSpec {
	return core.NewRequestSpec(http.MethodGet, "/api/v3/orderList").
		SetWSMethod("orderList.status").
		SetSecurity(core.SecurityUserData).
		SetWeight(4)
}

// OpenOCO builds a request for the account's open order lists.
func OpenOCO() *core.RequestSpec {
	return core.NewRequestSpec(http.MethodGet, "/api/v3/openOrderList").
		SetWSMethod("openOrderLists.status").
		SetSecurity(core.SecurityUserData).
		SetWeight(6)
}

// RateLimitOrders builds a request for the account's current order
// count usage against each order-rate budget.
func RateLimitOrders() *core.RequestSpec {
	return core.NewRequestSpec(http.MethodGet, "/api/v3/rateLimit/order").
		SetWSMethod("account.rateLimits.orders").
		SetSecurity(core.SecurityUserData).
		SetWeight(40)
}

// UserStreamStart builds a listen key creation request.
func UserStreamStart() *core.RequestSpec {
	return core.NewRequestSpec(http.MethodPost, "/api/v3/userDataStream").
		SetWSMethod("userDataStream.start").
		SetSecurity(core.SecurityUserStream).
		SetWeight(2)
}

// UserStreamKeepAlive builds a listen key keepalive request.
func UserStreamKeepAlive(listenKey string) *core.RequestSpec {
	return core.NewRequestSpec(http.MethodPut, "/api/v3/userDataStream").
		SetWSMethod("userDataStream.ping").
		SetParam("listenKey", listenKey).
		SetSecurity(core.SecurityUserStream).
		SetWeight(2)
}

// UserStreamClose builds a listen key close request.
func UserStreamClose(listenKey string) *core.RequestSpec {
	return core.NewRequestSpec(http.MethodDelete, "/api/v3/userDataStream").
		SetWSMethod("userDataStream.stop").
		SetParam("listenKey", listenKey).
		SetSecurity(core.SecurityUserStream).
		SetWeight(2)
}
