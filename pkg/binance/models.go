package binance

import (
	"fmt"
	"time"

	"github.com/cockroachdb/apd/v3"

	"venuewire/pkg/core"
)

// ServerTimeResponse carries the venue clock reading.
type ServerTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

// Time returns the server clock as a time.Time.
func (r *ServerTimeResponse) Time() time.Time {
	return time.UnixMilli(r.ServerTime)
}

// ExchangeInfoResponse carries trading rules and the venue's current
// rate limit budgets.
type ExchangeInfoResponse struct {
	Timezone   string           `json:"timezone"`
	ServerTime int64            `json:"serverTime"`
	RateLimits []core.RateLimit `json:"rateLimits"`
	Symbols    []SymbolInfo     `json:"symbols"`
}

// SymbolInfo describes one tradable symbol.
type SymbolInfo struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

// Ticker is the 24 hour rolling statistics for one symbol.
type Ticker struct {
	Symbol             string      `json:"symbol"`
	PriceChange        apd.Decimal `json:"priceChange"`
	PriceChangePercent apd.Decimal `json:"priceChangePercent"`
	LastPrice          apd.Decimal `json:"lastPrice"`
	BidPrice           apd.Decimal `json:"bidPrice"`
	AskPrice           apd.Decimal `json:"askPrice"`
	HighPrice          apd.Decimal `json:"highPrice"`
	LowPrice           apd.Decimal `json:"lowPrice"`
	Volume             apd.Decimal `json:"volume"`
	QuoteVolume        apd.Decimal `json:"quoteVolume"`
	OpenTime           int64       `json:"openTime"`
	CloseTime          int64       `json:"closeTime"`
}

// BookTickerResponse is the best bid and ask for one symbol.
type BookTickerResponse struct {
	Symbol   string      `json:"symbol"`
	BidPrice apd.Decimal `json:"bidPrice"`
	BidQty   apd.Decimal `json:"bidQty"`
	AskPrice apd.Decimal `json:"askPrice"`
	AskQty   apd.Decimal `json:"askQty"`
}

// AvgPriceResponse is the current average price over a trailing window.
type AvgPriceResponse struct {
	Mins  int         `json:"mins"`
	Price apd.Decimal `json:"price"`
}

// TickerPriceResponse is the latest price for one symbol.
type TickerPriceResponse struct {
	Symbol string      `json:"symbol"`
	Price  apd.Decimal `json:"price"`
}

// DepthResponse is the raw order book snapshot. Levels arrive as
// [price, quantity] string pairs.
type DepthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// BookLevel is one parsed price level.
type BookLevel struct {
	Price    apd.Decimal
	Quantity apd.Decimal
}

// ParsedBids converts the raw bid levels to decimals.
func (d *DepthResponse) ParsedBids() ([]BookLevel, error) {
	return parseLevels(d.Bids)
}

// ParsedAsks converts the raw ask levels to decimals.
func (d *DepthResponse) ParsedAsks() ([]BookLevel, error) {
	return parseLevels(d.Asks)
}

func parseLevels(raw [][]string) ([]BookLevel, error) {
	levels := make([]BookLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		var lvl BookLevel
		if err := parseDecimal(&lvl.Price, pair[0]); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		if err := parseDecimal(&lvl.Quantity, pair[1]); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		levels = append(levels, lvl)
	}
	return levels, nil
}

// Trade is one public trade.
type Trade struct {
	ID           int64       `json:"id"`
	Price        apd.Decimal `json:"price"`
	Qty          apd.Decimal `json:"qty"`
	QuoteQty     apd.Decimal `json:"quoteQty"`
	Time         int64       `json:"time"`
	IsBuyerMaker bool        `json:"isBuyerMaker"`
}

// AggTrade is one compressed trade: fills at the same time, price, and
// side aggregated into a single entry.
type AggTrade struct {
	ID           int64       `json:"a"`
	Price        apd.Decimal `json:"p"`
	Qty          apd.Decimal `json:"q"`
	FirstTradeID int64       `json:"f"`
	LastTradeID  int64       `json:"l"`
	Time         int64       `json:"T"`
	IsBuyerMaker bool        `json:"m"`
}

// MyTrade is one of the account's own fills.
type MyTrade struct {
	ID              int64       `json:"id"`
	OrderID         int64       `json:"orderId"`
	Symbol          string      `json:"symbol"`
	Price           apd.Decimal `json:"price"`
	Qty             apd.Decimal `json:"qty"`
	QuoteQty        apd.Decimal `json:"quoteQty"`
	Commission      apd.Decimal `json:"commission"`
	CommissionAsset string      `json:"commissionAsset"`
	Time            int64       `json:"time"`
	IsBuyer         bool        `json:"isBuyer"`
	IsMaker         bool        `json:"isMaker"`
}

// Kline is one parsed candlestick. The venue serializes klines as
// positional arrays, so the type carries its own parser.
type Kline struct {
	OpenTime    time.Time
	Open        apd.Decimal
	High        apd.Decimal
	Low         apd.Decimal
	Close       apd.Decimal
	Volume      apd.Decimal
	CloseTime   time.Time
	QuoteVolume apd.Decimal
	NumTrades   int64
}

// ParseKlines converts the venue's positional kline arrays.
func ParseKlines(raw [][]any) ([]Kline, error) {
	klines := make([]Kline, 0, len(raw))
	for i, row := range raw {
		k, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKline(row []any) (Kline, error) {
	var k Kline
	if len(row) < 9 {
		return k, fmt.Errorf("insufficient kline elements: %d", len(row))
	}

	if openTime, ok := row[0].(float64); ok {
		k.OpenTime = time.UnixMilli(int64(openTime))
	}
	for i, dest := range []*apd.Decimal{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume} {
		if err := parseDecimalFromAny(dest, row[i+1]); err != nil {
			return k, fmt.Errorf("element %d: %w", i+1, err)
		}
	}
	if closeTime, ok := row[6].(float64); ok {
		k.CloseTime = time.UnixMilli(int64(closeTime))
	}
	if err := parseDecimalFromAny(&k.QuoteVolume, row[7]); err != nil {
		return k, fmt.Errorf("element 7: %w", err)
	}
	if numTrades, ok := row[8].(float64); ok {
		k.NumTrades = int64(numTrades)
	}
	return k, nil
}

// Balance is one asset balance.
type Balance struct {
	Asset  string      `json:"asset"`
	Free   apd.Decimal `json:"free"`
	Locked apd.Decimal `json:"locked"`
}

// AccountResponse is the account information snapshot.
type AccountResponse struct {
	MakerCommission int64     `json:"makerCommission"`
	TakerCommission int64     `json:"takerCommission"`
	CanTrade        bool      `json:"canTrade"`
	CanWithdraw     bool      `json:"canWithdraw"`
	CanDeposit      bool      `json:"canDeposit"`
	UpdateTime      int64     `json:"updateTime"`
	Balances        []Balance `json:"balances"`
}

// Order is the venue's order representation, returned by placement,
// query, and cancellation.
type Order struct {
	Symbol              string      `json:"symbol"`
	OrderID             int64       `json:"orderId"`
	OrderListID         int64       `json:"orderListId"`
	ClientOrderID       string      `json:"clientOrderId"`
	OrigClientOrderID   string      `json:"origClientOrderId,omitempty"`
	Price               apd.Decimal `json:"price"`
	OrigQty             apd.Decimal `json:"origQty"`
	ExecutedQty         apd.Decimal `json:"executedQty"`
	CummulativeQuoteQty apd.Decimal `json:"cummulativeQuoteQty"`
	Status              string      `json:"status"`
	TimeInForce         string      `json:"timeInForce"`
	Type                string      `json:"type"`
	Side                string      `json:"side"`
	StopPrice           apd.Decimal `json:"stopPrice,omitempty"`
	TransactTime        int64       `json:"transactTime,omitempty"`
	Time                int64       `json:"time,omitempty"`
	UpdateTime          int64       `json:"updateTime,omitempty"`
}

// RemainingQty returns the unfilled quantity.
func (o *Order) RemainingQty() (apd.Decimal, error) {
	var remaining apd.Decimal
	if _, err := apd.BaseContext.Sub(&remaining, &o.OrigQty, &o.ExecutedQty); err != nil {
		return remaining, fmt.Errorf("calculate remaining: %w", err)
	}
	return remaining, nil
}

// OrderListResponse is an OCO order list, returned by placement and
// cancellation.
type OrderListResponse struct {
	OrderListID       int64   `json:"orderListId"`
	ContingencyType   string  `json:"contingencyType"`
	ListStatusType    string  `json:"listStatusType"`
	ListOrderStatus   string  `json:"listOrderStatus"`
	ListClientOrderID string  `json:"listClientOrderId"`
	TransactionTime   int64   `json:"transactionTime"`
	Symbol            string  `json:"symbol"`
	Orders            []Order `json:"orders"`
	OrderReports      []Order `json:"orderReports"`
}

// ListenKeyResponse carries a user data stream listen key.
type ListenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// OrderRequest holds the caller-supplied order parameters. Quantities
// and prices are decimals so no precision is lost between the caller
// and the wire.
type OrderRequest struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      *apd.Decimal
	QuoteQty      *apd.Decimal
	Price         *apd.Decimal
	StopPrice     *apd.Decimal
	TimeInForce   string
	ClientOrderID string
}

// Apply attaches the order parameters to a spec in the venue's
// documented field order.
func (r *OrderRequest) Apply(spec *core.RequestSpec) {
	spec.SetParam("symbol", r.Symbol)
	spec.SetParam("side", r.Side)
	spec.SetParam("type", r.Type)
	if r.TimeInForce != "" {
		spec.SetParam("timeInForce", r.TimeInForce)
	}
	if r.Quantity != nil {
		spec.SetParam("quantity", r.Quantity.String())
	}
	if r.QuoteQty != nil {
		spec.SetParam("quoteOrderQty", r.QuoteQty.String())
	}
	if r.Price != nil {
		spec.SetParam("price", r.Price.String())
	}
	if r.StopPrice != nil {
		spec.SetParam("stopPrice", r.StopPrice.String())
	}
	if r.ClientOrderID != "" {
		spec.SetParam("newClientOrderId", r.ClientOrderID)
	}
}

// OCORequest holds the parameters of a one-cancels-the-other list.
type OCORequest struct {
	Symbol         string
	Side           string
	Quantity       *apd.Decimal
	Price          *apd.Decimal
	StopPrice      *apd.Decimal
	StopLimitPrice *apd.Decimal
	ListClientID   string
}

// Apply attaches the OCO parameters to a spec.
func (r *OCORequest) Apply(spec *core.RequestSpec) {
	spec.SetParam("symbol", r.Symbol)
	spec.SetParam("side", r.Side)
	if r.Quantity != nil {
		spec.SetParam("quantity", r.Quantity.String())
	}
	if r.Price != nil {
		spec.SetParam("price", r.Price.String())
	}
	if r.StopPrice != nil {
		spec.SetParam("stopPrice", r.StopPrice.String())
	}
	if r.StopLimitPrice != nil {
		spec.SetParam("stopLimitPrice", r.StopLimitPrice.String())
		spec.SetParam("stopLimitTimeInForce", "GTC")
	}
	if r.ListClientID != "" {
		spec.SetParam("listClientOrderId", r.ListClientID)
	}
}

func parseDecimal(dest *apd.Decimal, s string) error {
	if s == "" {
		*dest = apd.Decimal{}
		return nil
	}
	if _, _, err := apd.BaseContext.SetString(dest, s); err != nil {
		return fmt.Errorf("set decimal from string: %w", err)
	}
	return nil
}

func parseDecimalFromAny(dest *apd.Decimal, val any) error {
	switch v := val.(type) {
	case string:
		return parseDecimal(dest, v)
	case float64:
		_, _, err := apd.BaseContext.SetString(dest, fmt.Sprintf("%v", v))
		return err
	default:
		return fmt.Errorf("unsupported type for decimal: %T", val)
	}
}
