// Package session is the client side of the messaging connection: it keeps one
// websocket open per logged-in user, reconnects after drops and mirrors presence,
// typing and incoming messages for UI code.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/model"
	"github.com/journeyman/messaging/internal/ws"
)

var (
	// ErrNotConnected is returned by send operations while no connection is open.
	ErrNotConnected = errors.New("session: not connected")
	// ErrClosed is returned after Logout.
	ErrClosed = errors.New("session: closed")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("session: already started")
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultTypingTimeout  = 2 * time.Second
	defaultDedupeSize     = 1024
	subscriberBuffer      = 64
)

type Config struct {
	// UserID is the logged-in user; it is marked online locally once connected.
	UserID string
	// ReconnectDelay is the fixed pause before redialing after a drop.
	ReconnectDelay time.Duration
	// TypingTimeout clears a peer's typing flag when no "stopped" signal arrives.
	TypingTimeout time.Duration
	// DedupeSize bounds how many message ids are remembered for duplicate detection.
	DedupeSize int
}

// Event is one server frame delivered to subscribers. Exactly one payload
// field is set, matching Type.
type Event struct {
	Type     ws.EventType
	Message  *model.Message
	Typing   *ws.TypingFrame
	Reaction *ws.ReactionFrame
	Receipt  *ws.ReadReceiptFrame
	Status   *ws.StatusFrame
	Error    *ws.ErrorFrame
	// Expired marks a typing event synthesized by the local timeout.
	Expired bool
}

type subscriber struct {
	ch    chan Event
	types map[ws.EventType]struct{}
}

func (s *subscriber) wants(t ws.EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type peerPresence struct {
	online   bool
	lastSeen time.Time
	// updated is the timestamp of the last applied status_update.
	updated time.Time
}

// Manager owns the user's single connection.
type Manager struct {
	cfg    Config
	dialer Dialer

	mu        sync.Mutex
	state     State
	transport Transport
	started   bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}

	presence map[string]*peerPresence
	typing   map[string]*time.Timer
	seen     *idSet

	subMu  sync.RWMutex
	subs   map[int]*subscriber
	nextID int
}

func New(dialer Dialer, cfg Config) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = DefaultTypingTimeout
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = defaultDedupeSize
	}
	return &Manager{
		cfg:      cfg,
		dialer:   dialer,
		done:     make(chan struct{}),
		presence: make(map[string]*peerPresence),
		typing:   make(map[string]*time.Timer),
		seen:     newIDSet(cfg.DedupeSize),
		subs:     make(map[int]*subscriber),
	}
}

// Start opens the connection in the background and keeps it open until Logout
// or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
	return nil
}

// Logout closes the connection deliberately; no reconnect follows.
func (m *Manager) Logout() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	started := m.started
	cancel := m.cancel
	t := m.transport
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		_ = t.Close()
	}
	if started {
		<-m.done
	}

	m.mu.Lock()
	for peer, timer := range m.typing {
		timer.Stop()
		delete(m.typing, peer)
	}
	m.mu.Unlock()

	m.subMu.Lock()
	for id, s := range m.subs {
		close(s.ch)
		delete(m.subs, id)
	}
	m.subMu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	logger.Debugf("session user=%s state=%s", m.cfg.UserID, s)
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	for {
		m.setState(Connecting)
		t, err := m.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warnf("session dial user=%s: %v (retry in %v)", m.cfg.UserID, err, m.cfg.ReconnectDelay)
			}
		} else if m.attach(t) {
			m.readLoop(ctx, t)
			m.detach(t)
		} else {
			_ = t.Close()
		}
		m.setState(Disconnected)

		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(m.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// attach installs t as the live transport unless Logout raced with the dial.
func (m *Manager) attach(t Transport) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.transport = t
	m.state = Connected
	if m.cfg.UserID != "" {
		m.presenceFor(m.cfg.UserID).online = true
	}
	m.mu.Unlock()
	logger.Infof("session user=%s connected", m.cfg.UserID)
	return true
}

// detach drops t. Mirrored presence and typing flags go stale without a
// connection, so every user reads as offline and not typing until fresh frames
// or SeedPresence arrive. Last-seen times are kept.
func (m *Manager) detach(t Transport) {
	_ = t.Close()
	m.mu.Lock()
	if m.transport == t {
		m.transport = nil
	}
	for _, p := range m.presence {
		p.online = false
	}
	for peer, timer := range m.typing {
		timer.Stop()
		delete(m.typing, peer)
	}
	m.mu.Unlock()
}

func (m *Manager) readLoop(ctx context.Context, t Transport) {
	for {
		data, err := t.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warnf("session read user=%s: %v", m.cfg.UserID, err)
			}
			return
		}
		m.handle(data)
	}
}

type envelope struct {
	Type ws.EventType `json:"type"`
}

func (m *Manager) handle(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warnf("session decode user=%s: %v", m.cfg.UserID, err)
		return
	}
	ev := Event{Type: env.Type}
	var err error
	switch env.Type {
	case ws.EventNewMessage, ws.EventMessageSent:
		var f ws.MessageFrame
		if err = json.Unmarshal(data, &f); err == nil {
			if f.Message == nil || !m.seen.add(string(env.Type)+":"+f.Message.ID) {
				return
			}
			ev.Message = f.Message
			if env.Type == ws.EventNewMessage {
				m.clearTyping(f.Message.SenderID)
			}
		}
	case ws.EventTyping:
		var f ws.TypingFrame
		if err = json.Unmarshal(data, &f); err == nil {
			ev.Typing = &f
			m.applyTyping(f.UserID, f.IsTyping)
		}
	case ws.EventReaction:
		var f ws.ReactionFrame
		if err = json.Unmarshal(data, &f); err == nil {
			ev.Reaction = &f
		}
	case ws.EventReadReceipt:
		var f ws.ReadReceiptFrame
		if err = json.Unmarshal(data, &f); err == nil {
			ev.Receipt = &f
		}
	case ws.EventStatusUpdate:
		var f ws.StatusFrame
		if err = json.Unmarshal(data, &f); err == nil {
			if !m.applyStatus(f) {
				return
			}
			ev.Status = &f
		}
	case ws.EventError:
		var f ws.ErrorFrame
		if err = json.Unmarshal(data, &f); err == nil {
			ev.Error = &f
			logger.Warnf("session server error user=%s code=%s: %s", m.cfg.UserID, f.Code, f.Error)
		}
	default:
		logger.Debugf("session ignoring frame type=%q", env.Type)
		return
	}
	if err != nil {
		logger.Warnf("session decode %s user=%s: %v", env.Type, m.cfg.UserID, err)
		return
	}
	m.publish(ev)
}

func (m *Manager) presenceFor(userID string) *peerPresence {
	p, ok := m.presence[userID]
	if !ok {
		p = &peerPresence{}
		m.presence[userID] = p
	}
	return p
}

// applyStatus merges a status_update; it reports false for a stale frame.
func (m *Manager) applyStatus(f ws.StatusFrame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.presenceFor(f.UserID)
	if !f.Timestamp.IsZero() && f.Timestamp.Before(p.updated) {
		return false
	}
	p.online = f.Online
	p.updated = f.Timestamp
	if !f.Online {
		p.lastSeen = f.Timestamp
	}
	return true
}

func (m *Manager) applyTyping(peer string, isTyping bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.typing[peer]; ok {
		t.Stop()
		delete(m.typing, peer)
	}
	if !isTyping || m.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(m.cfg.TypingTimeout, func() {
		m.mu.Lock()
		if m.typing[peer] != timer {
			m.mu.Unlock()
			return
		}
		delete(m.typing, peer)
		m.mu.Unlock()
		m.publish(Event{Type: ws.EventTyping, Typing: &ws.TypingFrame{Type: ws.EventTyping, UserID: peer}, Expired: true})
	})
	m.typing[peer] = timer
}

func (m *Manager) clearTyping(peer string) {
	m.mu.Lock()
	if t, ok := m.typing[peer]; ok {
		t.Stop()
		delete(m.typing, peer)
	}
	m.mu.Unlock()
}

// IsOnline answers from the locally mirrored presence set. It is false for
// everyone while disconnected; call SeedPresence after a reconnect to refill it
// for peers that will not send a fresh status_update.
func (m *Manager) IsOnline(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presence[userID]
	return ok && p.online
}

// LastSeen returns the offline timestamp of the last status_update seen for userID.
func (m *Manager) LastSeen(userID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presence[userID]
	if !ok || p.lastSeen.IsZero() {
		return time.Time{}, false
	}
	return p.lastSeen, true
}

// SeedPresence merges presence fetched over REST, e.g. when a conversation opens.
// Live status_update frames newer than at still win.
func (m *Manager) SeedPresence(st model.Presence, at time.Time) {
	f := ws.StatusFrame{Type: ws.EventStatusUpdate, UserID: st.UserID, Online: st.Online, Timestamp: at}
	if !st.Online && st.LastSeen != nil {
		f.Timestamp = *st.LastSeen
	}
	m.applyStatus(f)
}

func (m *Manager) IsTyping(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.typing[userID]
	return ok
}

// Subscribe returns a channel of events of the given types (all types when none
// are given) and a func that ends the subscription. Slow subscribers miss events
// rather than blocking the connection.
func (m *Manager) Subscribe(types ...ws.EventType) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if len(types) > 0 {
		s.types = make(map[ws.EventType]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = s
	m.subMu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(s.ch)
			}
			m.subMu.Unlock()
		})
	}
}

func (m *Manager) publish(ev Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for _, s := range m.subs {
		if !s.wants(ev.Type) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			logger.Warnf("session subscriber full, dropping %s", ev.Type)
		}
	}
}

// SendMessage sends a chat message. The server echoes it back as message_sent.
func (m *Manager) SendMessage(ctx context.Context, msg ws.IncomingMessage) error {
	msg.Type = ws.EventMessage
	return m.send(ctx, msg)
}

// SendText is SendMessage for a plain text message.
func (m *Manager) SendText(ctx context.Context, recipientID, content string) error {
	return m.SendMessage(ctx, ws.IncomingMessage{RecipientID: recipientID, Content: content, MessageType: model.MessageTypeText})
}

func (m *Manager) SendTyping(ctx context.Context, recipientID string, isTyping bool) error {
	return m.send(ctx, ws.IncomingMessage{Type: ws.EventTyping, RecipientID: recipientID, IsTyping: &isTyping})
}

func (m *Manager) SendReaction(ctx context.Context, messageID, emoji string) error {
	return m.send(ctx, ws.IncomingMessage{Type: ws.EventReaction, MessageID: messageID, Emoji: emoji})
}

// MarkRead reports that the user has read the conversation with senderID.
func (m *Manager) MarkRead(ctx context.Context, conversationID, senderID string) error {
	return m.send(ctx, ws.IncomingMessage{Type: ws.EventRead, ConversationID: conversationID, SenderID: senderID})
}

func (m *Manager) send(ctx context.Context, msg ws.IncomingMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("session.send encode: %w", err)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	t := m.transport
	connected := m.state == Connected
	m.mu.Unlock()
	if t == nil || !connected {
		return ErrNotConnected
	}
	if err := t.Write(ctx, data); err != nil {
		return fmt.Errorf("session.send %s: %w", msg.Type, err)
	}
	return nil
}
