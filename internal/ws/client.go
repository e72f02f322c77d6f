package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const maxReconnectDelay = 30 * time.Second

// Handler receives every frame read from the connection.
type Handler func(typ websocket.MessageType, data []byte)

// Client is a reconnecting websocket reader. Subscription frames are
// replayed at the start of every session.
type Client struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	subs []any
}

func New(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	return &Client{url: url, reconnectDelay: reconnectDelay, pingInterval: pingInterval, log: log}
}

// Connect dials unless a connection is already open.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.dial(ctx)
	return err
}

// Subscribe records sub for replay and sends it on the open connection, if any.
func (c *Client) Subscribe(ctx context.Context, sub any) error {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return send(ctx, conn, sub)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run keeps a session open until ctx ends. A failed session is retried
// after a delay that doubles up to maxReconnectDelay and resets once a
// session delivers a frame.
func (c *Client) Run(ctx context.Context, handler Handler) error {
	delay := c.reconnectDelay
	for {
		delivered, err := c.session(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.drop()
		c.logSessionEnd(err)
		if delivered {
			delay = c.reconnectDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "shutdown")
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

// session replays subscriptions and reads until the connection fails.
func (c *Client) session(ctx context.Context, handler Handler) (bool, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	subs := append([]any(nil), c.subs...)
	c.mu.Unlock()
	for _, sub := range subs {
		if err := send(ctx, conn, sub); err != nil {
			return false, err
		}
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	if c.pingInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.keepAlive(sessionCtx, conn)
		}()
	}
	defer wg.Wait()

	delivered := false
	for {
		typ, data, err := conn.Read(sessionCtx)
		if err != nil {
			return delivered, err
		}
		delivered = true
		if handler != nil {
			handler(typ, data)
		}
	}
}

func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, c.pingInterval)
		err := conn.Ping(pingCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Debug("ws ping failed", zap.String("url", c.url), zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) drop() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusGoingAway, "reconnect")
	}
}

func (c *Client) logSessionEnd(err error) {
	var closeErr websocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		c.log.Info("ws session closed by peer",
			zap.String("url", c.url),
			zap.Int("status", int(closeErr.Code)),
			zap.String("reason", closeErr.Reason),
		)
	default:
		c.log.Warn("ws session failed", zap.String("url", c.url), zap.Error(err))
	}
}

func send(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
