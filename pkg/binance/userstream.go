package binance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"venuewire/pkg/core"
)

// Listen keys expire 60 minutes after the last keepalive; pinging at
// half that keeps a healthy margin.
const keepAliveInterval = 30 * time.Minute

// UserStream manages the account event stream: it owns the listen key
// lifecycle (create, keepalive, close) and delivers raw account events
// to the handler. The subscription survives reconnects.
type UserStream struct {
	client  *Client
	handler func(event []byte)
	logger  zerolog.Logger

	mu        sync.Mutex
	listenKey string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// UserStream creates an account event stream delivering to handler.
// Call Start to begin receiving.
func (c *Client) UserStream(handler func(event []byte)) *UserStream {
	return &UserStream{
		client:  c,
		handler: handler,
		logger:  c.logger,
		stopCh:  make(chan struct{}),
	}
}

// ListenKey returns the active listen key, empty before Start.
func (u *UserStream) ListenKey() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.listenKey
}

// Start obtains a listen key, subscribes to the account stream, and
// launches the keepalive loop. The WebSocket connection must be live.
func (u *UserStream) Start(ctx context.Context) error {
	key, err := u.acquireKey(ctx)
	if err != nil {
		return err
	}

	if err := u.client.conn.Subscribe(ctx, key, u.handler); err != nil {
		return err
	}

	u.client.conn.SetOnReconnect(func() {
		// Resubscription is replayed by the connection; the key itself
		// may have lapsed while we were down.
		ctx, cancel := context.WithTimeout(context.Background(), u.client.config.RequestTimeout)
		defer cancel()
		if err := u.keepAlive(ctx); err != nil {
			u.logger.Warn().Err(err).Msg("listen key refresh after reconnect failed")
		}
	})

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.keepAliveLoop()
	}()
	u.logger.Info().Msg("user data stream started")
	return nil
}

// Stop unsubscribes, closes the listen key, and halts the keepalive loop.
func (u *UserStream) Stop(ctx context.Context) error {
	u.stopOnce.Do(func() { close(u.stopCh) })
	u.wg.Wait()

	u.mu.Lock()
	key := u.listenKey
	u.listenKey = ""
	u.mu.Unlock()
	if key == "" {
		return nil
	}

	if err := u.client.conn.Unsubscribe(ctx, key); err != nil {
		u.logger.Warn().Err(err).Msg("unsubscribe user stream failed")
	}
	return u.client.call(ctx, UserStreamClose(key), nil)
}

func (u *UserStream) acquireKey(ctx context.Context) (string, error) {
	var out ListenKeyResponse
	if err := u.client.call(ctx, UserStreamStart(), &out); err != nil {
		return "", err
	}

	u.mu.Lock()
	u.listenKey = out.ListenKey
	u.mu.Unlock()
	return out.ListenKey, nil
}

func (u *UserStream) keepAlive(ctx context.Context) error {
	u.mu.Lock()
	key := u.listenKey
	u.mu.Unlock()
	if key == "" {
		return nil
	}

	err := u.client.call(ctx, UserStreamKeepAlive(key), nil)
	if err == nil {
		return nil
	}

	// An expired key cannot be revived; the venue wants a fresh one,
	// resubscribed under its new name.
	if core.IsType(err, core.ErrorTypeClientRequest) {
		u.logger.Warn().Err(err).Msg("listen key expired, acquiring a new one")
		return u.rotateKey(ctx, key)
	}
	return err
}

func (u *UserStream) rotateKey(ctx context.Context, oldKey string) error {
	if err := u.client.conn.Unsubscribe(ctx, oldKey); err != nil {
		u.logger.Debug().Err(err).Msg("unsubscribe stale listen key failed")
	}

	key, err := u.acquireKey(ctx)
	if err != nil {
		return err
	}
	return u.client.conn.Subscribe(ctx, key, u.handler)
}

func (u *UserStream) keepAliveLoop() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), u.client.config.RequestTimeout)
			if err := u.keepAlive(ctx); err != nil {
				u.logger.Error().Err(err).Msg("listen key keepalive failed")
			}
			cancel()
		case <-u.stopCh:
			return
		}
	}
}
