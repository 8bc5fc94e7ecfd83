package core

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamList_SetKeepsOrder(t *testing.T) {
	var p ParamList
	p = p.Set("symbol", "BTCUSDT")
	p = p.Set("side", "BUY")
	p = p.Set("quantity", "1.5")

	assert.Equal(t, "symbol=BTCUSDT&side=BUY&quantity=1.5", p.Encode())

	// Replacing a value must not move the key.
	p = p.Set("side", "SELL")
	assert.Equal(t, "symbol=BTCUSDT&side=SELL&quantity=1.5", p.Encode())
}

func TestParamList_EncodeEscapes(t *testing.T) {
	var p ParamList
	p = p.Set("note", "a b&c=d")

	assert.Equal(t, "note=a+b%26c%3Dd", p.Encode())
}

func TestParamList_GetAndHas(t *testing.T) {
	p := ParamList{}.Set("symbol", "BTCUSDT")

	v, ok := p.Get("symbol")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", v)

	_, ok = p.Get("missing")
	assert.False(t, ok)
	assert.False(t, p.Has("missing"))
}

func TestParamList_CloneIsIndependent(t *testing.T) {
	orig := ParamList{}.Set("symbol", "BTCUSDT")
	clone := orig.Clone().Set("symbol", "ETHUSDT")

	v, _ := orig.Get("symbol")
	assert.Equal(t, "BTCUSDT", v)
	v, _ = clone.Get("symbol")
	assert.Equal(t, "ETHUSDT", v)
}

func TestFormatParam(t *testing.T) {
	assert.Equal(t, "text", FormatParam("text"))
	assert.Equal(t, "42", FormatParam(42))
	assert.Equal(t, "1700000000000", FormatParam(int64(1700000000000)))
	assert.Equal(t, "1.5", FormatParam(1.5))
	assert.Equal(t, "true", FormatParam(true))
	assert.Equal(t, "TRADE", FormatParam(SecurityTrade))
}

func TestRequestSpec_Builders(t *testing.T) {
	spec := NewRequestSpec(http.MethodPost, "/api/v3/order").
		SetWSMethod("order.place").
		SetParam("symbol", "BTCUSDT").
		SetWeight(1).
		SetLimitType(LimitOrders).
		SetSecurity(SecurityTrade)

	assert.Equal(t, "order.place", spec.WSMethod)
	assert.Equal(t, LimitOrders, spec.LimitType)
	assert.True(t, spec.RequiresSignature())
}

func TestRequestSpec_CloneIsDeep(t *testing.T) {
	spec := NewRequestSpec(http.MethodGet, "/api/v3/depth").SetParam("symbol", "BTCUSDT")

	clone := spec.Clone().SetParam("symbol", "ETHUSDT")

	v, _ := spec.Params.Get("symbol")
	assert.Equal(t, "BTCUSDT", v, "clone mutations must not leak into the template")
	v, _ = clone.Params.Get("symbol")
	assert.Equal(t, "ETHUSDT", v)
}
