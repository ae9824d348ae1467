package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/observability"
)

// ClientOptions tune one connection's pumps. Zero values take the defaults.
type ClientOptions struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBufferSize int
}

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 16 << 10
	defaultSendBufSize    = 256
)

func (o ClientOptions) withDefaults() ClientOptions {
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = defaultSendBufSize
	}
	return o
}

// bufPool pools bytes.Buffer for JSON encoding in writePump.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client is a gorilla/websocket connection registered in the hub.
// Lifecycle: NewClient -> hub.Register -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan Frame
	userID string
	opts   ClientOptions

	// done guards Send after Close.
	done   chan struct{}
	mu     sync.Mutex
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, opts ClientOptions) *Client {
	opts = opts.withDefaults()
	return &Client{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		send:   make(chan Frame, opts.SendBufferSize),
		userID: userID,
		opts:   opts,
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() string { return c.userID }

// Send enqueues f. A full buffer means the peer is not reading; the connection
// is closed and the user goes offline rather than stalling the sender.
func (c *Client) Send(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	case <-c.done:
		return false
	default:
		logger.Warnf("ws send buffer full, closing slow client user=%s", c.userID)
		observability.IncWSEviction("slow_consumer")
		c.Close()
		return false
	}
}

// Start launches the pumps. ctx controls their lifetime; cancel is kept for Close.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pumps have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		close(c.done)
		if cancel != nil {
			cancel()
			return
		}
		// Pumps not started yet: close the socket so they exit at once.
		c.conn.Close()
	})
}

// readPump reads frames until the connection fails or is closed, then unregisters.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		logger.Errorf("ws set read deadline user=%s: %v", c.userID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				logger.Errorf("ws read error user=%s: %v", c.userID, err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.hub.HandleFrame(ctx, c, raw)
	}
}

// writePump writes queued frames and pings. On ctx cancellation it sends a close
// frame and closes the socket, which unblocks readPump.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	pingPeriod := (c.opts.PongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.writeClose()
			return
		case <-ctx.Done():
			c.writeClose()
			return
		case f := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			if err := json.NewEncoder(buf).Encode(f); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error user=%s type=%s: %v", c.userID, f.FrameType(), err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for websocket text frames.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeClose() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		logger.Debugf("ws close message user=%s: %v", c.userID, err)
	}
}
