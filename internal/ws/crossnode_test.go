package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeyman/messaging/internal/storage/memory"
)

// memBus is an in-process stand-in for the Redis channel.
type memBus struct {
	mu   sync.Mutex
	subs []func([]byte)
}

func (b *memBus) Publish(_ context.Context, payload []byte) error {
	b.mu.Lock()
	subs := append([]func([]byte){}, b.subs...)
	b.mu.Unlock()
	for _, s := range subs {
		s(payload)
	}
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, handle func([]byte)) error {
	b.mu.Lock()
	b.subs = append(b.subs, handle)
	b.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (b *memBus) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// startCluster runs one hub per instance id on a shared bus. The returned stop
// func shuts every hub down.
func startCluster(t *testing.T, store *memory.Store, opts Options, ids ...string) ([]*Hub, func()) {
	t.Helper()
	bus := &memBus{}
	hubs := make([]*Hub, 0, len(ids))
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, id := range ids {
		o := opts
		o.Relay = bus
		o.InstanceID = id
		h := NewHub(store, store, o)
		hubs = append(hubs, h)
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Run(ctx)
		}()
	}
	require.Eventually(t, func() bool { return bus.subscribers() == len(ids) }, time.Second, 5*time.Millisecond)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
	t.Cleanup(stop)
	return hubs, stop
}

func remoteStatuses(t *testing.T, c *fakeConn) []StatusFrame {
	t.Helper()
	var out []StatusFrame
	for _, f := range c.of(EventStatusUpdate) {
		var st StatusFrame
		switch v := f.(type) {
		case RawFrame:
			require.NoError(t, json.Unmarshal(v.Data, &st))
		case StatusFrame:
			st = v
		}
		out = append(out, st)
	}
	return out
}

func assertNoPush(t *testing.T, p *fakePush) {
	t.Helper()
	select {
	case call := <-p.calls:
		t.Fatalf("unexpected push: %+v", call)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelayDeliversAcrossInstances(t *testing.T) {
	store := memory.New()
	store.AddUsers("alice", "bob")
	hubs, stop := startCluster(t, store, Options{}, "a", "b")
	a, b := hubs[0], hubs[1]

	alice := connect(t, a, "alice")
	bob := connect(t, b, "bob")

	st := alice.of(EventStatusUpdate)
	require.Len(t, st, 1, "presence from the other instance arrives as a raw frame")
	var status StatusFrame
	require.NoError(t, json.Unmarshal(st[0].(RawFrame).Data, &status))
	assert.Equal(t, "bob", status.UserID)
	assert.True(t, status.Online)
	assert.True(t, a.IsOnline("bob"))
	assert.True(t, b.IsOnline("alice"))

	m, err := a.SendMessage(context.Background(), "alice", IncomingMessage{RecipientID: "bob", Content: "across"})
	require.NoError(t, err)

	got := bob.of(EventNewMessage)
	require.Len(t, got, 1)
	var frame MessageFrame
	require.NoError(t, json.Unmarshal(got[0].(RawFrame).Data, &frame))
	assert.Equal(t, m.ID, frame.Message.ID)
	assert.Equal(t, "across", frame.Message.Content)

	stop()
	assert.True(t, alice.isClosed())
	assert.True(t, bob.isClosed())
}

func TestRelayPushesWhenRecipientOfflineEverywhere(t *testing.T) {
	store := memory.New()
	store.AddUsers("alice", "bob")
	push := newFakePush()
	hubs, _ := startCluster(t, store, Options{Push: push}, "a", "b")
	a := hubs[0]
	connect(t, a, "alice")

	_, err := a.SendMessage(context.Background(), "alice", IncomingMessage{RecipientID: "bob", Content: "hi"})
	require.NoError(t, err)

	call := waitPush(t, push)
	assert.Equal(t, "bob", call.userID)
	assert.Equal(t, "hi", call.body)
}

func TestRelayDoesNotPushRecipientLiveOnOtherInstance(t *testing.T) {
	store := memory.New()
	store.AddUsers("alice", "bob")
	push := newFakePush()
	hubs, _ := startCluster(t, store, Options{Push: push}, "a", "b")
	a, b := hubs[0], hubs[1]
	connect(t, a, "alice")
	bob := connect(t, b, "bob")

	_, err := a.SendMessage(context.Background(), "alice", IncomingMessage{RecipientID: "bob", Content: "hi"})
	require.NoError(t, err)

	require.Len(t, bob.of(EventNewMessage), 1)
	assertNoPush(t, push)
}

func TestRelayPushesAfterRecipientLeavesOtherInstance(t *testing.T) {
	store := memory.New()
	store.AddUsers("alice", "bob")
	push := newFakePush()
	hubs, _ := startCluster(t, store, Options{Push: push}, "a", "b")
	a, b := hubs[0], hubs[1]
	connect(t, a, "alice")
	bob := connect(t, b, "bob")
	require.True(t, b.Unregister(bob))
	assert.False(t, a.IsOnline("bob"))

	_, err := a.SendMessage(context.Background(), "alice", IncomingMessage{RecipientID: "bob", Content: "later"})
	require.NoError(t, err)

	assert.Equal(t, "bob", waitPush(t, push).userID)
}

func TestRelayReconnectOnOtherInstanceIsNotATransition(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.AddUsers("alice", "bob")
	hubs, _ := startCluster(t, store, Options{}, "a", "b")
	a, b := hubs[0], hubs[1]

	bob := connect(t, a, "bob")
	alice1 := connect(t, a, "alice")
	bob.reset()

	alice2 := connect(t, b, "alice")
	assert.True(t, alice1.isClosed(), "the first instance drops its handle")
	assert.False(t, alice2.isClosed())
	assert.False(t, a.Unregister(alice1), "the evicted handle is already gone")
	assert.True(t, a.IsOnline("alice"))
	assert.True(t, b.IsOnline("alice"))
	assert.Empty(t, remoteStatuses(t, bob), "moving between instances is not a presence change")

	st, err := a.Presence(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, st.Online)
	seen, err := store.GetLastSeen(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, seen)

	require.True(t, b.Unregister(alice2))
	statuses := remoteStatuses(t, bob)
	require.Len(t, statuses, 1)
	assert.Equal(t, "alice", statuses[0].UserID)
	assert.False(t, statuses[0].Online)
	assert.False(t, a.IsOnline("alice"))
	seen, err = store.GetLastSeen(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, seen)
}

func TestRelayShutdownReleasesUsers(t *testing.T) {
	store := memory.New()
	store.AddUsers("alice")
	bus := &memBus{}
	a := NewHub(store, store, Options{Relay: bus, InstanceID: "a"})
	b := NewHub(store, store, Options{Relay: bus, InstanceID: "b"})

	ctxA, stopA := context.WithCancel(context.Background())
	ctxB, stopB := context.WithCancel(context.Background())
	defer stopB()
	doneA := make(chan struct{})
	go func() {
		defer close(doneA)
		a.Run(ctxA)
	}()
	go b.Run(ctxB)
	require.Eventually(t, func() bool { return bus.subscribers() == 2 }, time.Second, 5*time.Millisecond)

	connect(t, a, "alice")
	require.True(t, b.IsOnline("alice"))

	stopA()
	<-doneA
	assert.False(t, b.IsOnline("alice"))
}

func TestRawFrameMarshalsVerbatim(t *testing.T) {
	raw := RawFrame{Kind: EventTyping, Data: json.RawMessage(`{"type":"typing","user_id":"a","is_typing":true}`)}
	b, err := json.Marshal(raw)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw.Data), string(b))
	assert.Equal(t, EventTyping, raw.FrameType())
}
