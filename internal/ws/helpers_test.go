package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/journeyman/messaging/internal/storage/memory"
)

type fakeConn struct {
	id   string
	user string

	mu     sync.Mutex
	frames []Frame
	closed bool
	full   bool
}

var connSeq struct {
	sync.Mutex
	n int
}

func newFakeConn(user string) *fakeConn {
	connSeq.Lock()
	connSeq.n++
	id := fmt.Sprintf("conn-%d", connSeq.n)
	connSeq.Unlock()
	return &fakeConn{id: id, user: user}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.user }

func (c *fakeConn) Send(f Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.full {
		return false
	}
	c.frames = append(c.frames, f)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) all() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

func (c *fakeConn) of(t EventType) []Frame {
	var out []Frame
	for _, f := range c.all() {
		if f.FrameType() == t {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type pushCall struct {
	userID string
	body   string
	data   map[string]string
}

type fakePush struct {
	calls chan pushCall
}

func newFakePush() *fakePush { return &fakePush{calls: make(chan pushCall, 16)} }

func (p *fakePush) Notify(_ context.Context, userID, _, body string, data map[string]string) {
	p.calls <- pushCall{userID: userID, body: body, data: data}
}

type fakeEvents struct {
	mu   sync.Mutex
	keys []string
}

func (e *fakeEvents) Publish(_ context.Context, routingKey string, _ any) error {
	e.mu.Lock()
	e.keys = append(e.keys, routingKey)
	e.mu.Unlock()
	return nil
}

func (e *fakeEvents) has(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, k := range e.keys {
		if k == key {
			return true
		}
	}
	return false
}

func newTestHub(t *testing.T, opts Options, users ...string) (*Hub, *memory.Store) {
	t.Helper()
	store := memory.New()
	store.AddUsers(users...)
	return NewHub(store, store, opts), store
}

// connect registers a fake connection for user and clears frames produced by the registration.
func connect(t *testing.T, h *Hub, user string) *fakeConn {
	t.Helper()
	c := newFakeConn(user)
	require.NoError(t, h.Register(c))
	return c
}

func frameJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func waitPush(t *testing.T, p *fakePush) pushCall {
	t.Helper()
	select {
	case call := <-p.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("push notification not sent")
		return pushCall{}
	}
}
