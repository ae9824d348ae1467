package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open duplex connection to the messaging server.
type Transport interface {
	// Read blocks for the next text frame. It fails once the connection is closed.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a Transport for the logged-in user.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// WebsocketDialer dials the server's /ws endpoint with gorilla/websocket and
// authenticates with a bearer token.
type WebsocketDialer struct {
	URL   string
	Token string
	// TokenInQuery sends the token as ?token= instead of an Authorization header,
	// for environments that cannot set headers on upgrade requests.
	TokenInQuery bool
	Dialer       *websocket.Dialer
	WriteWait    time.Duration
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	target, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("session.Dial parse url: %w", err)
	}
	header := http.Header{}
	if d.Token != "" {
		if d.TokenInQuery {
			q := target.Query()
			q.Set("token", d.Token)
			target.RawQuery = q.Encode()
		} else {
			header.Set("Authorization", "Bearer "+d.Token)
		}
	}
	conn, resp, err := dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("session.Dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("session.Dial: %w", err)
	}
	writeWait := d.WriteWait
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	return &wsTransport{conn: conn, writeWait: writeWait}, nil
}

type wsTransport struct {
	// gorilla allows one concurrent writer.
	mu        sync.Mutex
	conn      *websocket.Conn
	writeWait time.Duration
	closeOnce sync.Once
}

func (t *wsTransport) Read(_ context.Context) ([]byte, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	deadline := time.Now().Add(t.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal-closure frame and closes the socket.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.mu.Unlock()
		err = t.conn.Close()
	})
	return err
}
