package ws

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuewire/internal/correlate"
	"venuewire/internal/ratelimit"
	"venuewire/pkg/core"
)

func testConn() *Conn {
	cfg := core.DefaultConfig("http://localhost", "ws://127.0.0.1:1/ws")
	cfg.RequestTimeout = time.Second
	cfg.ReconnectMaxAttempts = 1
	cfg.ReconnectBaseWait = time.Millisecond
	cfg.ReconnectMaxWait = 2 * time.Millisecond
	return NewConn(cfg, ratelimit.New(cfg.RateLimits))
}

func TestConn_StartsDisconnected(t *testing.T) {
	c := testConn()

	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.IsConnected())
	assert.Empty(t, c.Subscriptions())
}

func TestConn_CallRequiresConnection(t *testing.T) {
	c := testConn()

	spec := core.NewRequestSpec("", "").SetWSMethod("ping")
	_, err := c.Call(context.Background(), spec)
	assert.ErrorIs(t, err, core.ErrNotConnected)
}

func TestConn_CallAfterClose(t *testing.T) {
	c := testConn()
	require.NoError(t, c.Close())

	spec := core.NewRequestSpec("", "").SetWSMethod("ping")
	_, err := c.Call(context.Background(), spec)
	assert.ErrorIs(t, err, core.ErrConnClosed)
	assert.Equal(t, StateClosed, c.State())
}

func TestConn_SubscribeRequiresConnection(t *testing.T) {
	c := testConn()

	err := c.Subscribe(context.Background(), "btcusdt@trade", func([]byte) {})
	assert.ErrorIs(t, err, core.ErrNotConnected)
	assert.Empty(t, c.Subscriptions(), "failed subscribe must not leave a handler behind")
}

func TestHandleFrame_ResolvesOutOfOrder(t *testing.T) {
	c := testConn()

	w5, err := c.table.Register("5", time.Second)
	require.NoError(t, err)
	w6, err := c.table.Register("6", time.Second)
	require.NoError(t, err)

	c.handleFrame([]byte(`{"id":"6","status":200,"result":{"v":6}}`))
	c.handleFrame([]byte(`{"id":"5","status":200,"result":{"v":5}}`))

	assert.JSONEq(t, `{"v":6}`, string((<-w6.Done()).Payload))
	assert.JSONEq(t, `{"v":5}`, string((<-w5.Done()).Payload))
	assert.Equal(t, 0, c.PendingCalls())
}

func TestHandleFrame_UnknownIDDiscarded(t *testing.T) {
	c := testConn()

	c.handleFrame([]byte(`{"id":"999","status":200,"result":{}}`))
	c.handleFrame([]byte(`not json at all`))
	assert.Equal(t, 0, c.PendingCalls())
}

func TestHandleFrame_ErrorStatusFailsWaiter(t *testing.T) {
	c := testConn()

	w, err := c.table.Register("1", time.Second)
	require.NoError(t, err)

	c.handleFrame([]byte(`{"id":"1","status":400,"error":{"code":-1102,"msg":"Mandatory parameter 'symbol' was not sent."}}`))

	res := <-w.Done()
	var apiErr *core.APIError
	require.ErrorAs(t, res.Err, &apiErr)
	assert.Equal(t, core.ErrorTypeClientRequest, apiErr.Type)
	assert.Equal(t, -1102, apiErr.Code)
	assert.Equal(t, 400, apiErr.StatusCode)
}

func TestHandleFrame_ThrottleFeedsLimiter(t *testing.T) {
	c := testConn()

	w, err := c.table.Register("1", time.Second)
	require.NoError(t, err)

	c.handleFrame([]byte(`{"id":"1","status":429,"error":{"code":-1003,"msg":"Too many requests."}}`))

	res := <-w.Done()
	assert.True(t, core.IsRateLimit(res.Err))

	d := c.limiter.Reserve(1, core.LimitRequestWeight)
	assert.Equal(t, ratelimit.ActionWait, d.Action, "429 over WS must cool the shared limiter")
}

func TestHandleFrame_BanFeedsLimiter(t *testing.T) {
	c := testConn()

	w, err := c.table.Register("1", time.Second)
	require.NoError(t, err)

	c.handleFrame([]byte(`{"id":"1","status":418,"error":{"code":-1003,"msg":"Way too many requests; IP banned."}}`))

	res := <-w.Done()
	assert.True(t, core.IsBanned(res.Err))

	_, banned := c.limiter.BannedUntil()
	assert.True(t, banned)
}

func TestHandleFrame_BanHonorsReportedRetryAfter(t *testing.T) {
	c := testConn()

	w, err := c.table.Register("1", time.Second)
	require.NoError(t, err)

	lift := time.Now().Add(90 * time.Second).UnixMilli()
	c.handleFrame(fmt.Appendf(nil,
		`{"id":"1","status":418,"error":{"code":-1003,"msg":"Way too many requests; IP banned.","data":{"retryAfter":%d}}}`, lift))

	res := <-w.Done()
	var apiErr *core.APIError
	require.ErrorAs(t, res.Err, &apiErr)
	assert.InDelta(t, 90, time.Until(apiErr.RetryAfter).Seconds(), 5)

	until, banned := c.limiter.BannedUntil()
	require.True(t, banned)
	assert.InDelta(t, 90, time.Until(until).Seconds(), 5, "ban lifts when the venue says, not after a default window")
}

func TestHandleFrame_ThrottleHonorsReportedRetryAfter(t *testing.T) {
	c := testConn()

	w, err := c.table.Register("1", time.Second)
	require.NoError(t, err)

	lift := time.Now().Add(3 * time.Minute).UnixMilli()
	c.handleFrame(fmt.Appendf(nil,
		`{"id":"1","status":429,"error":{"code":-1003,"msg":"Too many requests.","data":{"retryAfter":%d}}}`, lift))
	<-w.Done()

	d := c.limiter.Reserve(1, core.LimitRequestWeight)
	require.Equal(t, ratelimit.ActionWait, d.Action)
	assert.InDelta(t, 180, time.Until(d.Until).Seconds(), 5)
}

func TestHandleFrame_SyncsReportedUsage(t *testing.T) {
	c := testConn()

	w, err := c.table.Register("1", time.Second)
	require.NoError(t, err)

	c.handleFrame([]byte(`{"id":"1","status":200,"result":{},
		"rateLimits":[{"rateLimitType":"REQUEST_WEIGHT","interval":"MINUTE","intervalNum":1,"limit":1200,"count":321}]}`))
	<-w.Done()

	for _, rep := range c.limiter.Usage() {
		if rep.Type == core.LimitRequestWeight && rep.Interval == core.IntervalMinute {
			assert.Equal(t, 321, rep.Count)
			return
		}
	}
	t.Fatal("minute weight bucket not found")
}

func TestHandleFrame_StreamDispatch(t *testing.T) {
	c := testConn()

	var got []byte
	c.mu.Lock()
	c.handlers["btcusdt@trade"] = func(data []byte) { got = data }
	c.mu.Unlock()

	c.handleFrame([]byte(`{"stream":"btcusdt@trade","data":{"p":"50000.00"}}`))
	assert.JSONEq(t, `{"p":"50000.00"}`, string(got))

	// Payloads for streams without handlers are dropped quietly.
	c.handleFrame([]byte(`{"stream":"ethusdt@trade","data":{}}`))
}

func TestHandleFrame_StreamAckWithoutStatusResolves(t *testing.T) {
	c := testConn()

	w, err := c.table.Register("1", time.Second)
	require.NoError(t, err)

	c.handleFrame([]byte(`{"result":null,"id":"1"}`))

	res := <-w.Done()
	assert.NoError(t, res.Err)
}

func TestHandleDisconnect_FailsAllPending(t *testing.T) {
	c := testConn()
	t.Cleanup(func() { _ = c.Close() })

	waiters := make([]*correlate.Waiter, 0, 3)
	for _, id := range []string{"1", "2", "3"} {
		w, err := c.table.Register(id, time.Minute)
		require.NoError(t, err)
		waiters = append(waiters, w)
	}

	c.state.Store(StateConnected)
	c.handleDisconnect(assert.AnError)

	for _, w := range waiters {
		res := <-w.Done()
		assert.True(t, core.IsConnectionLost(res.Err))
	}
	assert.Equal(t, 0, c.PendingCalls())
}

func TestMarkConnected_ResetsReconnectAttempts(t *testing.T) {
	c := testConn()

	c.mu.Lock()
	c.reconnectAttempts = c.config.ReconnectMaxAttempts
	c.mu.Unlock()

	c.markConnected()

	assert.Equal(t, StateConnected, c.State())
	c.mu.RLock()
	attempts := c.reconnectAttempts
	connected := c.connectedCh
	c.mu.RUnlock()
	assert.Equal(t, 0, attempts, "a fresh connection starts the next backoff sequence from the base delay")

	select {
	case <-connected:
	default:
		t.Fatal("connected channel must be closed")
	}
}

func TestConn_PastMaxAge(t *testing.T) {
	c := testConn()

	c.state.Store(StateConnected)
	c.connectedAt = time.Now()
	assert.False(t, c.pastMaxAge(), "fresh connection is not recycled")

	c.connectedAt = time.Now().Add(-c.config.MaxConnAge - time.Second)
	assert.True(t, c.pastMaxAge())

	c.state.Store(StateDisconnected)
	assert.False(t, c.pastMaxAge(), "only live connections age out")
}

func TestReconnectLoop_SingleFlight(t *testing.T) {
	c := testConn()

	// Only the goroutine winning the disconnected->reconnecting swap
	// runs the loop; anyone else returns immediately.
	c.state.Store(StateConnected)
	c.reconnectLoop()
	assert.Equal(t, StateConnected, c.State())
}

func TestReconnectBackoff_GrowsAndCaps(t *testing.T) {
	c := testConn()
	c.config.ReconnectBaseWait = time.Second
	c.config.ReconnectMaxWait = 8 * time.Second

	for attempt, base := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
		5: 8 * time.Second,
	} {
		wait := c.reconnectBackoff(attempt)
		assert.GreaterOrEqual(t, wait, base, "attempt %d", attempt)
		assert.LessOrEqual(t, wait, base+base/5, "attempt %d jitter bound", attempt)
	}
}

func TestCallParams_SignedCall(t *testing.T) {
	c := testConn()
	c.config.Credentials = &core.Credentials{APIKey: "test-key", SecretKey: "test-secret"}

	spec := core.NewRequestSpec("", "").
		SetWSMethod("order.place").
		SetSecurity(core.SecurityTrade).
		SetParam("symbol", "BTCUSDT")

	params, err := c.callParams(spec)
	require.NoError(t, err)
	assert.True(t, params.Has("apiKey"))
	assert.True(t, params.Has("timestamp"))
	assert.True(t, params.Has("recvWindow"))
	assert.True(t, params.Has("signature"))
}

func TestCallParams_APIKeyOnlyCall(t *testing.T) {
	c := testConn()
	c.config.Credentials = &core.Credentials{APIKey: "test-key", SecretKey: "test-secret"}

	spec := core.NewRequestSpec("", "").
		SetWSMethod("userDataStream.start").
		SetSecurity(core.SecurityUserStream)

	params, err := c.callParams(spec)
	require.NoError(t, err)
	assert.True(t, params.Has("apiKey"))
	assert.False(t, params.Has("signature"), "user stream calls carry the key but are not signed")
}

func TestCallParams_UsesCredentialSource(t *testing.T) {
	c := testConn()
	c.SetCredentialSource(func() (core.Credentials, bool) {
		return core.Credentials{APIKey: "ring-key", SecretKey: "ring-secret"}, true
	})

	spec := core.NewRequestSpec("", "").
		SetWSMethod("userDataStream.start").
		SetSecurity(core.SecurityUserStream)

	params, err := c.callParams(spec)
	require.NoError(t, err)
	key, ok := params.Get("apiKey")
	require.True(t, ok)
	assert.Equal(t, "ring-key", key)
}

func TestCallParams_MissingCredentials(t *testing.T) {
	c := testConn()

	spec := core.NewRequestSpec("", "").SetWSMethod("account.status").SetSecurity(core.SecurityUserData)
	_, err := c.callParams(spec)
	assert.ErrorIs(t, err, core.ErrNoCredentials)
}
