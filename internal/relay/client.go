package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/codedrop/internal/dns"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
)

// WSClient talks to a relay server over a websocket.
type WSClient struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	outgoing chan *Frame
	done     chan struct{}
	once     sync.Once

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan *Frame
	subs    map[uint64]*queue
}

var _ Client = (*WSClient)(nil)

// Dial connects to the relay server at serverURL.
func Dial(ctx context.Context, serverURL string, logger *slog.Logger) (*WSClient, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		ip, err := dns.Lookup(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}

		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	c := &WSClient{
		conn:     conn,
		logger:   logger.With("component", "relay"),
		outgoing: make(chan *Frame, 16),
		done:     make(chan struct{}),
		pending:  make(map[uint64]chan *Frame),
		subs:     make(map[uint64]*queue),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

func (c *WSClient) Set(ctx context.Context, path string, value any) error {
	raw, err := Encode(value)
	if err != nil {
		return err
	}
	_, err = c.request(ctx, &Frame{Op: OpSet, Path: path, Value: raw})
	return err
}

func (c *WSClient) Push(ctx context.Context, path string, value any) (string, error) {
	raw, err := Encode(value)
	if err != nil {
		return "", err
	}
	ack, err := c.request(ctx, &Frame{Op: OpPush, Path: path, Value: raw})
	if err != nil {
		return "", err
	}
	return ack.Key, nil
}

func (c *WSClient) Remove(ctx context.Context, path string) error {
	_, err := c.request(ctx, &Frame{Op: OpRemove, Path: path})
	return err
}

func (c *WSClient) WatchValue(ctx context.Context, path string) (*Subscription, error) {
	return c.watch(ctx, OpWatchValue, path)
}

func (c *WSClient) WatchChildAdded(ctx context.Context, path string) (*Subscription, error) {
	return c.watch(ctx, OpWatchChild, path)
}

// Close shuts the connection down and ends every subscription.
func (c *WSClient) Close() error {
	c.shutdown()
	return nil
}

func (c *WSClient) watch(ctx context.Context, op Op, path string) (*Subscription, error) {
	c.mu.Lock()
	c.nextID++
	sub := c.nextID
	q := newQueue(func() { c.unwatch(sub) })
	c.subs[sub] = q
	c.mu.Unlock()

	if _, err := c.request(ctx, &Frame{Op: op, Path: path, Sub: sub}); err != nil {
		q.close()
		return nil, err
	}

	context.AfterFunc(ctx, q.close)
	return q.subscription(), nil
}

func (c *WSClient) unwatch(sub uint64) {
	c.mu.Lock()
	_, ok := c.subs[sub]
	delete(c.subs, sub)
	c.mu.Unlock()

	if !ok {
		return
	}
	select {
	case c.outgoing <- &Frame{Op: OpUnwatch, Sub: sub}:
	case <-c.done:
	}
}

func (c *WSClient) request(ctx context.Context, f *Frame) (*Frame, error) {
	reply := make(chan *Frame, 1)

	c.mu.Lock()
	c.nextID++
	f.ID = c.nextID
	c.pending[f.ID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}()

	select {
	case c.outgoing <- f:
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case ack := <-reply:
		if ack.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrRemote, ack.Error)
		}
		return ack, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *WSClient) readPump() {
	defer c.shutdown()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("relay connection lost", "err", err)
			}
			return
		}

		f, err := decodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed relay frame", "err", err)
			continue
		}

		switch f.Op {
		case OpAck:
			c.mu.Lock()
			reply := c.pending[f.ID]
			c.mu.Unlock()
			if reply != nil {
				reply <- f
			}
		case OpEvent, OpRemoved:
			c.mu.Lock()
			q := c.subs[f.Sub]
			c.mu.Unlock()
			if q != nil {
				q.push(f.event())
			}
		default:
			c.logger.Debug("ignoring relay frame", "op", f.Op)
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f := <-c.outgoing:
			data, err := encodeFrame(f)
			if err != nil {
				c.logger.Error("failed to encode relay frame", "err", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *WSClient) shutdown() {
	c.once.Do(func() {
		close(c.done)

		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[uint64]*queue)
		c.mu.Unlock()

		for _, q := range subs {
			q.close()
		}
	})
}
