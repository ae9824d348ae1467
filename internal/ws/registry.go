package ws

import (
	"sync"
	"time"

	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/observability"
)

// Conn is one live duplex connection owned by a single authenticated user.
type Conn interface {
	ID() string
	UserID() string
	// Send queues f for delivery without blocking. It reports false when the
	// connection is closed or too slow to keep up.
	Send(f Frame) bool
	// Close terminates the connection. Safe to call more than once.
	Close()
}

// TransitionListener is told when a user goes from no connection to one (online)
// and back (offline). It is called while the user's registry lock is held, so
// transitions for one user are observed in order.
type TransitionListener interface {
	UserOnline(userID string, at time.Time)
	UserOffline(userID string, at time.Time)
}

// Registry keeps at most one live connection per user.
type Registry struct {
	userLocks *keyedMutex

	mu       sync.RWMutex
	conns    map[string]Conn
	maxConns int

	listener TransitionListener
	now      func() time.Time
}

func NewRegistry(maxConns int, listener TransitionListener) *Registry {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Registry{
		userLocks: newKeyedMutex(),
		conns:     make(map[string]Conn),
		maxConns:  maxConns,
		listener:  listener,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register makes c the user's live connection. An existing connection of the
// same user is closed and replaced; replacement is not a presence transition.
func (r *Registry) Register(c Conn) error {
	userID := c.UserID()
	unlock := r.userLocks.Lock(userID)
	defer unlock()

	r.mu.Lock()
	old, had := r.conns[userID]
	if !had && len(r.conns) >= r.maxConns {
		r.mu.Unlock()
		logger.Warnf("ws connection limit reached (%d), rejecting user=%s", r.maxConns, userID)
		observability.IncWSEviction("limit")
		return ErrConnectionLimit
	}
	r.conns[userID] = c
	total := len(r.conns)
	r.mu.Unlock()
	observability.SetWSActive(total)

	if had {
		if old != c {
			logger.Infof("ws replacing connection user=%s old=%s new=%s", userID, old.ID(), c.ID())
			observability.IncWSEviction("replaced")
			old.Close()
		}
		return nil
	}
	if r.listener != nil {
		r.listener.UserOnline(userID, r.now())
	}
	return nil
}

// Unregister removes c only if it is still the user's live connection, so a stale
// handle left over from a replacement never removes its successor. It reports
// whether c was removed.
func (r *Registry) Unregister(c Conn) bool {
	userID := c.UserID()
	unlock := r.userLocks.Lock(userID)
	defer unlock()

	r.mu.Lock()
	cur, ok := r.conns[userID]
	if !ok || cur != c {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, userID)
	total := len(r.conns)
	r.mu.Unlock()
	observability.SetWSActive(total)

	if r.listener != nil {
		r.listener.UserOffline(userID, r.now())
	}
	return true
}

// Evict closes the user's connection without a presence transition. Used when
// the user has connected to another instance. It reports whether there was one.
func (r *Registry) Evict(userID string) bool {
	unlock := r.userLocks.Lock(userID)
	defer unlock()

	r.mu.Lock()
	c, ok := r.conns[userID]
	if ok {
		delete(r.conns, userID)
	}
	total := len(r.conns)
	r.mu.Unlock()
	if !ok {
		return false
	}
	observability.SetWSActive(total)
	observability.IncWSEviction("moved")
	c.Close()
	return true
}

// Lookup returns the user's live connection.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	c, ok := r.conns[userID]
	r.mu.RUnlock()
	return c, ok
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the live connections at this instant, excluding exceptUserID.
func (r *Registry) Snapshot(exceptUserID string) []Conn {
	r.mu.RLock()
	out := make([]Conn, 0, len(r.conns))
	for uid, c := range r.conns {
		if uid == exceptUserID {
			continue
		}
		out = append(out, c)
	}
	r.mu.RUnlock()
	return out
}

// CloseAll drops every connection without presence events. Used on shutdown;
// the store's presence flags are reset at the next start.
func (r *Registry) CloseAll() []Conn {
	r.mu.Lock()
	all := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		all = append(all, c)
	}
	r.conns = make(map[string]Conn)
	r.mu.Unlock()
	observability.SetWSActive(0)

	for _, c := range all {
		c.Close()
	}
	return all
}
