package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transition struct {
	user   string
	online bool
}

type recordingListener struct {
	mu   sync.Mutex
	seen []transition
}

func (l *recordingListener) UserOnline(userID string, _ time.Time) {
	l.mu.Lock()
	l.seen = append(l.seen, transition{userID, true})
	l.mu.Unlock()
}

func (l *recordingListener) UserOffline(userID string, _ time.Time) {
	l.mu.Lock()
	l.seen = append(l.seen, transition{userID, false})
	l.mu.Unlock()
}

func (l *recordingListener) transitions() []transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]transition(nil), l.seen...)
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	l := &recordingListener{}
	r := NewRegistry(10, l)
	c := newFakeConn("alice")

	require.NoError(t, r.Register(c))
	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.True(t, r.IsOnline("alice"))
	assert.False(t, r.IsOnline("bob"))
	assert.Equal(t, []transition{{"alice", true}}, l.transitions())
}

func TestRegistryReplaceClosesOldWithoutTransition(t *testing.T) {
	l := &recordingListener{}
	r := NewRegistry(10, l)
	first := newFakeConn("alice")
	second := newFakeConn("alice")

	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))

	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())
	got, _ := r.Lookup("alice")
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, []transition{{"alice", true}}, l.transitions(), "replacement must not re-announce presence")
}

func TestRegistryStaleUnregisterIsNoop(t *testing.T) {
	l := &recordingListener{}
	r := NewRegistry(10, l)
	first := newFakeConn("alice")
	second := newFakeConn("alice")
	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))

	assert.False(t, r.Unregister(first))
	assert.True(t, r.IsOnline("alice"))

	assert.True(t, r.Unregister(second))
	assert.False(t, r.IsOnline("alice"))
	assert.False(t, r.Unregister(second))
	assert.Equal(t, []transition{{"alice", true}, {"alice", false}}, l.transitions())
}

func TestRegistryConnectionLimit(t *testing.T) {
	r := NewRegistry(1, nil)
	require.NoError(t, r.Register(newFakeConn("alice")))
	assert.ErrorIs(t, r.Register(newFakeConn("bob")), ErrConnectionLimit)
	// A replacement does not count against the limit.
	assert.NoError(t, r.Register(newFakeConn("alice")))
}

func TestRegistryConcurrentChurnKeepsTransitionsAlternating(t *testing.T) {
	l := &recordingListener{}
	r := NewRegistry(100, l)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newFakeConn("alice")
			if r.Register(c) == nil {
				r.Unregister(c)
			}
		}()
	}
	wg.Wait()

	assert.False(t, r.IsOnline("alice"))
	seen := l.transitions()
	require.NotEmpty(t, seen)
	for i, tr := range seen {
		assert.Equal(t, i%2 == 0, tr.online, "transition %d out of order", i)
	}
	assert.False(t, seen[len(seen)-1].online)
	assert.Zero(t, r.userLocks.size())
}

func TestRegistryCloseAll(t *testing.T) {
	l := &recordingListener{}
	r := NewRegistry(10, l)
	a, b := newFakeConn("alice"), newFakeConn("bob")
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	closed := r.CloseAll()
	assert.Len(t, closed, 2)
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Zero(t, r.Count())
	assert.False(t, r.Unregister(a))
	assert.Len(t, l.transitions(), 2)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	assert.Equal(t, 1, k.size())

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("a")
		close(acquired)
		u()
	}()
	select {
	case <-acquired:
		t.Fatal("second Lock must wait")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}
