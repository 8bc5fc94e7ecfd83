// Package ws maintains the multiplexed WebSocket API connection: a
// request/response channel correlated by id, market stream delivery,
// keepalive, and automatic reconnection with backoff.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"

	"venuewire/internal/correlate"
	"venuewire/internal/ratelimit"
	"venuewire/internal/sign"
	"venuewire/pkg/core"
)

const expireSweepInterval = time.Second

// callFrame is an outbound API request. Params is an object keyed by
// parameter name; signed calls carry apiKey, timestamp and signature
// inside it.
type callFrame struct {
	ID     string            `json:"id"`
	Method string            `json:"method"`
	Params map[string]string `json:"params,omitempty"`
}

// streamFrame is an outbound stream management request; params is the
// list of stream names.
type streamFrame struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// envelope is any inbound frame. API responses carry an id; stream
// payloads carry a stream name. The two never overlap.
type envelope struct {
	ID         string           `json:"id"`
	Status     int              `json:"status"`
	Result     json.RawMessage  `json:"result"`
	Error      *frameError      `json:"error"`
	RateLimits []core.RateLimit `json:"rateLimits"`
	Stream     string           `json:"stream"`
	Data       json.RawMessage  `json:"data"`
}

type frameError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		// RetryAfter is the epoch millisecond timestamp when a ban or
		// cooldown lifts, attached to -1003 rejections.
		RetryAfter int64 `json:"retryAfter"`
	} `json:"data"`
}

// StreamHandler consumes one raw stream payload. Handlers run on the
// read loop and must not block.
type StreamHandler func(data []byte)

// Conn is one WebSocket API connection. A single Conn multiplexes
// concurrent calls and stream subscriptions; ids are issued from a
// process-wide monotonic counter so retries never collide with live
// requests. Safe for concurrent use.
type Conn struct {
	config  *core.Config
	limiter *ratelimit.Limiter
	table   *correlate.Table
	state   *State
	handler *eventHandler
	logger  zerolog.Logger

	nextID atomic.Uint64

	mu                sync.RWMutex
	socket            *gws.Conn
	handlers          map[string]StreamHandler
	connectedCh       chan struct{}
	connectedAt       time.Time
	reconnectAttempts int
	onReconnect       func()

	writeMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	loopOnce sync.Once

	creds func() (core.Credentials, bool)
	now   func() time.Time
}

type eventHandler struct {
	gws.BuiltinEventHandler
	conn *Conn
}

// NewConn creates a connection against config.WSURL sharing the given
// rate limiter with the REST path. Call Connect to go live.
func NewConn(config *core.Config, limiter *ratelimit.Limiter) *Conn {
	c := &Conn{
		config:      config,
		limiter:     limiter,
		table:       correlate.NewTable(),
		state:       &State{},
		handlers:    make(map[string]StreamHandler),
		connectedCh: make(chan struct{}),
		stopCh:      make(chan struct{}),
		logger:      zerolog.Nop(),
		now:         time.Now,
	}
	c.creds = func() (core.Credentials, bool) {
		if config.Credentials == nil {
			return core.Credentials{}, false
		}
		return *config.Credentials, true
	}
	c.state.Store(StateDisconnected)
	c.handler = &eventHandler{conn: c}
	return c
}

// SetCredentialSource replaces the default config-backed credential
// lookup, letting a rotating keyring feed signed calls.
func (c *Conn) SetCredentialSource(fn func() (core.Credentials, bool)) {
	c.creds = fn
}

// SetLogger configures the logger for the connection.
func (c *Conn) SetLogger(logger zerolog.Logger) {
	c.logger = logger
	c.table.SetLogger(logger)
}

// SetOnReconnect registers a hook invoked after every successful
// reconnect, once stream subscriptions have been replayed. Used for
// session re-establishment such as listen key renewal.
func (c *Conn) SetOnReconnect(fn func()) {
	c.mu.Lock()
	c.onReconnect = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	return c.state.Load()
}

// IsConnected reports whether the connection is live and accepting calls.
func (c *Conn) IsConnected() bool {
	return c.state.Load() == StateConnected
}

// Connect dials the venue and blocks until the connection is open, the
// context expires, or the connection is closed. Background keepalive,
// age, and expiry loops start on the first successful call.
func (c *Conn) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(StateDisconnected, StateConnecting) {
		current := c.state.Load()
		if current == StateConnected {
			return nil
		}
		if current == StateClosing || current == StateClosed {
			return core.ErrConnClosed
		}
		return fmt.Errorf("invalid state for connect: %s", current)
	}

	if err := c.dial(ctx); err != nil {
		c.state.Store(StateDisconnected)
		return err
	}

	c.loopOnce.Do(func() {
		for _, loop := range []func(){c.keepaliveLoop, c.expiryLoop, c.ageLoop} {
			loop := loop
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				loop()
			}()
		}
	})
	return nil
}

// dial opens the socket and waits for OnOpen. The caller owns the
// state transition on failure.
func (c *Conn) dial(ctx context.Context) error {
	socket, _, err := gws.NewClient(c.handler, &gws.ClientOption{
		Addr: c.config.WSURL,
	})
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	c.mu.Lock()
	c.socket = socket
	connected := c.connectedCh
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		socket.ReadLoop()
	}()

	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		_ = socket.NetConn().Close()
		return ctx.Err()
	case <-c.stopCh:
		_ = socket.NetConn().Close()
		return core.ErrConnClosed
	}
}

// Close shuts the connection down permanently. Pending calls fail with
// a connection-closed error; a closed Conn cannot be reused.
func (c *Conn) Close() error {
	prev := c.state.Load()
	if prev == StateClosing || prev == StateClosed {
		return nil
	}
	c.state.Store(StateClosing)

	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()
	if socket != nil {
		_ = socket.NetConn().Close()
	}

	c.table.FailAll(core.NewAPIError(core.ErrorTypeConnectionClosed, 0, "connection closed"))
	c.wg.Wait()
	c.state.Store(StateClosed)
	return nil
}

// Call sends one API request and blocks until the correlated response
// arrives or the request deadline passes. The raw result payload is
// returned; unmarshaling is the caller's concern.
func (c *Conn) Call(ctx context.Context, spec *core.RequestSpec) ([]byte, error) {
	switch c.state.Load() {
	case StateConnected:
	case StateClosing, StateClosed:
		return nil, core.ErrConnClosed
	default:
		return nil, core.ErrNotConnected
	}

	// The WS path never queues behind the limiter: a throttled call is
	// surfaced immediately so the caller can fall back or wait.
	switch d := c.limiter.Reserve(spec.Weight, spec.LimitType); d.Action {
	case ratelimit.ActionBanned:
		return nil, core.NewAPIError(core.ErrorTypeIPBan, 0, "sends suppressed by ban window").WithRetryAfter(d.Until)
	case ratelimit.ActionWait:
		return nil, core.NewAPIError(core.ErrorTypeRateLimit, 0, "local rate budget exhausted").WithRetryAfter(d.Until)
	}

	params, err := c.callParams(spec)
	if err != nil {
		return nil, err
	}

	id := strconv.FormatUint(c.nextID.Add(1), 10)
	w, err := c.table.Register(id, c.config.RequestTimeout)
	if err != nil {
		return nil, err
	}

	frame := callFrame{ID: id, Method: spec.WSMethod}
	if len(params) > 0 {
		frame.Params = params.Map()
	}
	if err := c.writeJSON(frame); err != nil {
		c.table.Fail(id, err)
		<-w.Done()
		return nil, err
	}

	select {
	case res := <-w.Done():
		return res.Payload, res.Err
	case <-ctx.Done():
		c.table.Fail(id, ctx.Err())
		<-w.Done()
		return nil, ctx.Err()
	case <-c.stopCh:
		return nil, core.ErrConnClosed
	}
}

func (c *Conn) callParams(spec *core.RequestSpec) (core.ParamList, error) {
	if !spec.RequiresSignature() && !spec.Security.RequiresAPIKey() {
		return spec.Params, nil
	}

	creds, ok := c.creds()
	if !ok {
		return nil, core.ErrNoCredentials
	}

	if spec.RequiresSignature() {
		params := spec.Params
		if c.config.RecvWindow > 0 && !params.Has("recvWindow") {
			params = params.Clone().Set("recvWindow", c.config.RecvWindow)
		}
		return sign.WS(params, creds, c.now())
	}
	return spec.Params.Clone().Set("apiKey", creds.APIKey), nil
}

// Subscribe registers a handler for the named stream and asks the venue
// to start delivering it. The handler survives reconnects; the
// subscription is replayed automatically.
func (c *Conn) Subscribe(ctx context.Context, stream string, handler StreamHandler) error {
	c.mu.Lock()
	c.handlers[stream] = handler
	c.mu.Unlock()

	if err := c.sendStreamRequest(ctx, "SUBSCRIBE", []string{stream}); err != nil {
		c.mu.Lock()
		delete(c.handlers, stream)
		c.mu.Unlock()
		return err
	}
	c.logger.Debug().Str("stream", stream).Msg("subscribed")
	return nil
}

// Unsubscribe stops delivery of the named stream and drops its handler.
func (c *Conn) Unsubscribe(ctx context.Context, stream string) error {
	c.mu.Lock()
	delete(c.handlers, stream)
	c.mu.Unlock()

	if err := c.sendStreamRequest(ctx, "UNSUBSCRIBE", []string{stream}); err != nil {
		return err
	}
	c.logger.Debug().Str("stream", stream).Msg("unsubscribed")
	return nil
}

// Subscriptions returns the streams with registered handlers.
func (c *Conn) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	streams := make([]string, 0, len(c.handlers))
	for s := range c.handlers {
		streams = append(streams, s)
	}
	return streams
}

func (c *Conn) sendStreamRequest(ctx context.Context, method string, streams []string) error {
	if c.state.Load() != StateConnected {
		return core.ErrNotConnected
	}

	id := strconv.FormatUint(c.nextID.Add(1), 10)
	w, err := c.table.Register(id, c.config.RequestTimeout)
	if err != nil {
		return err
	}

	if err := c.writeJSON(streamFrame{ID: id, Method: method, Params: streams}); err != nil {
		c.table.Fail(id, err)
		<-w.Done()
		return err
	}

	select {
	case res := <-w.Done():
		return res.Err
	case <-ctx.Done():
		c.table.Fail(id, ctx.Err())
		<-w.Done()
		return ctx.Err()
	}
}

// PendingCalls returns the number of requests awaiting responses.
func (c *Conn) PendingCalls() int {
	return c.table.Len()
}

func (c *Conn) writeJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.mu.RLock()
	socket := c.socket
	live := c.state.Load() == StateConnected
	c.mu.RUnlock()
	if socket == nil || !live {
		return core.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return socket.WriteMessage(gws.OpcodeText, data)
}

// handleFrame routes one inbound frame: stream payloads go to their
// handler, API responses resolve or fail their waiter. Frames for
// unknown ids (late responses after a timeout or drop) are logged and
// discarded.
func (c *Conn) handleFrame(data []byte) {
	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		c.logger.Warn().Err(err).Msg("undecodable frame discarded")
		return
	}

	if env.Stream != "" {
		c.mu.RLock()
		handler := c.handlers[env.Stream]
		c.mu.RUnlock()
		if handler == nil {
			c.logger.Debug().Str("stream", env.Stream).Msg("payload for unknown stream discarded")
			return
		}
		handler(env.Data)
		return
	}

	if env.ID == "" {
		return
	}

	if len(env.RateLimits) > 0 {
		c.limiter.SyncUsage(env.RateLimits)
	}

	// Stream management acks carry no status field at all.
	ok := (env.Status >= 200 && env.Status < 300) || (env.Status == 0 && env.Error == nil)
	if ok {
		if !c.table.Resolve(env.ID, env.Result) {
			c.logger.Warn().Str("id", env.ID).Msg("response for unknown id discarded")
		}
		return
	}

	apiErr := c.classifyFrameError(env)
	if !c.table.Fail(env.ID, apiErr) {
		c.logger.Warn().Str("id", env.ID).Msg("error for unknown id discarded")
	}
}

func (c *Conn) classifyFrameError(env envelope) *core.APIError {
	msg := "request rejected"
	code := 0
	var until time.Time
	var retryAfter time.Duration
	if env.Error != nil {
		msg = env.Error.Msg
		code = env.Error.Code
		if ms := env.Error.Data.RetryAfter; ms > 0 {
			until = time.UnixMilli(ms)
			retryAfter = until.Sub(c.now())
		}
	}

	var t core.ErrorType
	switch {
	case env.Status == 418:
		t = core.ErrorTypeIPBan
		c.limiter.RecordRejection(env.Status, retryAfter)
	case env.Status == 429:
		t = core.ErrorTypeRateLimit
		c.limiter.RecordRejection(env.Status, retryAfter)
	case env.Status == 403:
		t = core.ErrorTypeForbidden
	case env.Status == 401:
		t = core.ErrorTypeInvalidCredentials
	case env.Status >= 500:
		t = core.ErrorTypeServer
	default:
		t = core.ErrorTypeClientRequest
	}

	apiErr := core.NewAPIError(t, env.Status, msg).WithCode(code)
	if !until.IsZero() {
		apiErr.WithRetryAfter(until)
	}
	return apiErr
}

// handleDisconnect reacts to the transport dropping: every pending call
// fails immediately and, unless the close was deliberate, a single
// reconnect loop takes over.
func (c *Conn) handleDisconnect(err error) {
	select {
	case <-c.stopCh:
		c.table.FailAll(core.NewAPIError(core.ErrorTypeConnectionClosed, 0, "connection closed"))
		return
	default:
	}

	c.state.Store(StateDisconnected)

	c.mu.Lock()
	c.connectedCh = make(chan struct{})
	c.mu.Unlock()

	failed := c.table.FailAll(core.NewAPIError(core.ErrorTypeConnectionLost, 0, "transport dropped"))
	c.logger.Warn().Err(err).Int("failed_calls", failed).Msg("websocket disconnected")

	go c.reconnectLoop()
}

// reconnectLoop is single-flight: only the goroutine that wins the
// Disconnected->Reconnecting swap runs it.
func (c *Conn) reconnectLoop() {
	if !c.state.CompareAndSwap(StateDisconnected, StateReconnecting) {
		return
	}

	for {
		c.mu.Lock()
		c.reconnectAttempts++
		attempt := c.reconnectAttempts
		c.mu.Unlock()

		if attempt > c.config.ReconnectMaxAttempts {
			c.logger.Error().Int("attempts", attempt-1).Msg("reconnect attempts exhausted, giving up")
			c.state.Store(StateDisconnected)
			return
		}

		wait := c.reconnectBackoff(attempt)
		c.logger.Info().Dur("wait", wait).Int("attempt", attempt).Msg("reconnecting")

		select {
		case <-time.After(wait):
		case <-c.stopCh:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
		err := c.dial(ctx)
		cancel()
		if err != nil {
			c.logger.Error().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}

		c.afterReconnect()
		return
	}
}

func (c *Conn) afterReconnect() {
	c.mu.Lock()
	streams := make([]string, 0, len(c.handlers))
	for s := range c.handlers {
		streams = append(streams, s)
	}
	hook := c.onReconnect
	c.mu.Unlock()

	if len(streams) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
		if err := c.sendStreamRequest(ctx, "SUBSCRIBE", streams); err != nil {
			c.logger.Error().Err(err).Strs("streams", streams).Msg("resubscribe failed")
		}
		cancel()
	}
	if hook != nil {
		hook()
	}
	c.logger.Info().Int("streams", len(streams)).Msg("reconnected")
}

// reconnectBackoff returns the wait before attempt n (1-based): base
// doubled per attempt, capped, with up to 20% jitter so a fleet does
// not thunder back in lockstep.
func (c *Conn) reconnectBackoff(attempt int) time.Duration {
	wait := min(c.config.ReconnectBaseWait*time.Duration(1<<uint(attempt-1)), c.config.ReconnectMaxWait)
	jitter := time.Duration(rand.Float64() * 0.2 * float64(wait))
	return wait + jitter
}

// keepaliveLoop pings on the configured cadence. The venue's pong (or
// its own ping) extends the read deadline; a silent peer trips the
// deadline and the read loop surfaces the drop.
func (c *Conn) keepaliveLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.RLock()
			socket := c.socket
			live := c.state.Load() == StateConnected
			c.mu.RUnlock()
			if !live || socket == nil {
				continue
			}
			c.writeMu.Lock()
			err := socket.WritePing(nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn().Err(err).Msg("keepalive ping failed")
			}
		case <-c.stopCh:
			return
		}
	}
}

// expiryLoop sweeps the correlation table so calls whose responses
// never arrive fail at their deadline rather than hanging.
func (c *Conn) expiryLoop() {
	ticker := time.NewTicker(expireSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.table.ExpireOverdue(c.now()); n > 0 {
				c.logger.Warn().Int("expired", n).Msg("calls timed out awaiting responses")
			}
		case <-c.stopCh:
			return
		}
	}
}

// ageLoop recycles the connection before the venue's 24 hour session
// cap severs it server-side at an arbitrary moment.
func (c *Conn) ageLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.RLock()
			socket := c.socket
			c.mu.RUnlock()
			if socket == nil || !c.pastMaxAge() {
				continue
			}
			c.logger.Info().Msg("recycling connection before session cap")
			_ = socket.NetConn().Close()
		case <-c.stopCh:
			return
		}
	}
}

// pastMaxAge reports whether the live connection has outlasted the
// configured session cap and must be recycled.
func (c *Conn) pastMaxAge() bool {
	if c.state.Load() != StateConnected {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Sub(c.connectedAt) >= c.config.MaxConnAge
}

// markConnected records a live transport. The reconnect attempt
// counter resets here, on every successful open, so a connection
// re-established manually after an exhausted reconnect loop starts the
// next backoff sequence from the base delay.
func (c *Conn) markConnected() {
	c.state.Store(StateConnected)

	c.mu.Lock()
	c.connectedAt = c.now()
	c.reconnectAttempts = 0
	select {
	case <-c.connectedCh:
	default:
		close(c.connectedCh)
	}
	c.mu.Unlock()

	c.logger.Info().Str("url", c.config.WSURL).Msg("websocket connected")
}

func (h *eventHandler) OnOpen(socket *gws.Conn) {
	h.conn.markConnected()
	_ = socket.SetDeadline(time.Now().Add(h.conn.config.PingInterval + h.conn.config.PongWait))
}

func (h *eventHandler) OnClose(socket *gws.Conn, err error) {
	h.conn.handleDisconnect(err)
}

func (h *eventHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.conn.config.PingInterval + h.conn.config.PongWait))
	_ = socket.WritePong(nil)
}

func (h *eventHandler) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.conn.config.PingInterval + h.conn.config.PongWait))
}

func (h *eventHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	data := message.Bytes()
	if len(data) == 0 {
		return
	}
	h.conn.handleFrame(data)
}
