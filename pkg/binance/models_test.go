package binance

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecimal(t *testing.T, s string) *apd.Decimal {
	t.Helper()
	d, _, err := apd.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestTicker_DecodesDecimalFields(t *testing.T) {
	raw := `{"symbol":"BTCUSDT","priceChange":"-94.99999800","lastPrice":"4593.56",
		"bidPrice":"4593.10","askPrice":"4593.90","highPrice":"4700.00","lowPrice":"4450.00",
		"volume":"12345.67890123","openTime":1700000000000,"closeTime":1700086400000}`

	var tick Ticker
	require.NoError(t, sonic.Unmarshal([]byte(raw), &tick))

	assert.Equal(t, "-94.99999800", tick.PriceChange.String())
	assert.Equal(t, "4593.56", tick.LastPrice.String())
	assert.Equal(t, "12345.67890123", tick.Volume.String(), "no float precision loss")
}

func TestParseKlines_RejectsShortRow(t *testing.T) {
	_, err := ParseKlines([][]any{{float64(1700000000000), "100.0"}})
	assert.ErrorContains(t, err, "insufficient kline elements")
}

func TestParseKlines_RejectsBadDecimal(t *testing.T) {
	_, err := ParseKlines([][]any{{
		float64(1700000000000), "not-a-number", "1", "1", "1", "1", float64(1700000059999), "1", float64(0),
	}})
	assert.Error(t, err)
}

func TestDepthResponse_SkipsMalformedLevels(t *testing.T) {
	d := &DepthResponse{Bids: [][]string{{"50000.00"}, {"49999.00", "2.0"}}}

	bids, err := d.ParsedBids()
	require.NoError(t, err)
	require.Len(t, bids, 1, "pairs missing a quantity are dropped")
	assert.Equal(t, "49999.00", bids[0].Price.String())
}

func TestOrderRequest_AppliesParamsInDocumentedOrder(t *testing.T) {
	req := &OrderRequest{
		Symbol:      "BTCUSDT",
		Side:        "SELL",
		Type:        "LIMIT",
		Quantity:    mustDecimal(t, "0.25"),
		Price:       mustDecimal(t, "61000.50"),
		TimeInForce: "IOC",
	}

	spec := NewOrder()
	req.Apply(spec)

	assert.Equal(t,
		"symbol=BTCUSDT&side=SELL&type=LIMIT&timeInForce=IOC&quantity=0.25&price=61000.50",
		spec.Params.Encode())
}

func TestOrder_RemainingQty(t *testing.T) {
	o := &Order{OrigQty: *mustDecimal(t, "3.000"), ExecutedQty: *mustDecimal(t, "1.250")}

	remaining, err := o.RemainingQty()
	require.NoError(t, err)
	assert.Equal(t, "1.750", remaining.String())
}

func TestParseDecimal_EmptyIsZero(t *testing.T) {
	var d apd.Decimal
	require.NoError(t, parseDecimal(&d, ""))
	assert.True(t, d.IsZero())
}

func TestParseDecimalFromAny_UnsupportedType(t *testing.T) {
	var d apd.Decimal
	assert.Error(t, parseDecimalFromAny(&d, []int{1}))
}

func TestDepthWeight_Tiers(t *testing.T) {
	assert.Equal(t, 5, depthWeight(0))
	assert.Equal(t, 5, depthWeight(100))
	assert.Equal(t, 25, depthWeight(500))
	assert.Equal(t, 50, depthWeight(1000))
	assert.Equal(t, 250, depthWeight(5000))
}
