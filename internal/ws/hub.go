package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/journeyman/messaging/internal/events"
	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/model"
	"github.com/journeyman/messaging/internal/observability"
	"github.com/journeyman/messaging/internal/storage"
)

// PushNotifier alerts a user who has no live connection. nil disables push.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// EventPublisher emits domain events to collaborators. nil disables events.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Relay moves encoded frames between server instances. nil means single instance.
type Relay interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context, handle func(payload []byte)) error
}

type Options struct {
	MaxConnections   int
	MaxContentLength int
	PresenceScope    PresenceScope
	Push             PushNotifier
	Events           EventPublisher
	Relay            Relay
	// InstanceID tags relayed frames so an instance ignores its own publishes.
	InstanceID string
}

const (
	defaultMaxContentLength = 4000
	sideEffectTimeout       = 5 * time.Second
)

// Hub ties the connection registry to the message, typing, reaction and read-receipt
// handlers. All inbound frames go through HandleFrame.
type Hub struct {
	reg       *Registry
	presence  *Presence
	convLocks *keyedMutex

	msgs  storage.MessageStore
	users storage.UserStore

	push   PushNotifier
	events EventPublisher
	relay  Relay

	// remote maps users connected to another instance to that instance's id.
	remoteMu sync.Mutex
	remote   map[string]string

	instanceID       string
	maxContentLength int
	now              func() time.Time
	newID            func() string
}

func NewHub(msgs storage.MessageStore, users storage.UserStore, opts Options) *Hub {
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = defaultMaxContentLength
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	if opts.PresenceScope == "" {
		opts.PresenceScope = ScopeAll
	}
	h := &Hub{
		convLocks:        newKeyedMutex(),
		msgs:             msgs,
		users:            users,
		push:             opts.Push,
		events:           opts.Events,
		relay:            opts.Relay,
		remote:           make(map[string]string),
		instanceID:       opts.InstanceID,
		maxContentLength: opts.MaxContentLength,
		now:              func() time.Time { return time.Now().UTC() },
		newID:            newMessageID,
	}
	h.presence = &Presence{hub: h, scope: opts.PresenceScope}
	h.reg = NewRegistry(opts.MaxConnections, h.presence)
	return h
}

// newMessageID returns "msg_" followed by 12 hex characters.
func newMessageID() string {
	id := uuid.New()
	const hex = "0123456789abcdef"
	out := make([]byte, 0, 16)
	out = append(out, "msg_"...)
	for _, b := range id[:6] {
		out = append(out, hex[b>>4], hex[b&0x0f])
	}
	return string(out)
}

func (h *Hub) Register(c Conn) error { return h.reg.Register(c) }

func (h *Hub) Unregister(c Conn) bool { return h.reg.Unregister(c) }

// IsOnline reports whether the user has a live connection on this or, as far as
// the relay has told us, another instance.
func (h *Hub) IsOnline(userID string) bool {
	return h.reg.IsOnline(userID) || h.remoteOwner(userID) != ""
}

// Presence returns the user's online flag and last-seen time.
func (h *Hub) Presence(ctx context.Context, userID string) (model.Presence, error) {
	return h.presence.State(ctx, userID)
}

// Run serves the cross-instance relay and closes every connection when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	relayDone := make(chan struct{})
	if h.relay != nil {
		go func() {
			defer close(relayDone)
			for {
				err := h.relay.Subscribe(ctx, h.handleRemote)
				if ctx.Err() != nil {
					return
				}
				logger.Errorf("ws relay subscribe: %v (retry in 2s)", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
				}
			}
		}()
	} else {
		close(relayDone)
	}

	<-ctx.Done()
	h.shutdown()
	<-relayDone
}

type waiter interface{ Wait() }

func (h *Hub) shutdown() {
	closed := h.reg.CloseAll()
	for _, c := range closed {
		if w, ok := c.(waiter); ok {
			w.Wait()
		}
	}
	if h.relay != nil && len(closed) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		for _, c := range closed {
			h.publishControl(ctx, kindRelease, c.UserID())
		}
		cancel()
	}
	logger.Infof("ws hub closed %d connections", len(closed))
}

// HandleFrame decodes one inbound frame from c and dispatches it. Failures are
// reported to c as an error frame; the connection stays open.
func (h *Hub) HandleFrame(ctx context.Context, c Conn, raw []byte) {
	var in IncomingMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		h.reject(c, validationError("malformed frame"))
		return
	}
	observability.IncWSFrame("in", string(in.Type))

	var err error
	switch in.Type {
	case EventMessage:
		var m *model.Message
		m, err = h.SendMessage(ctx, c.UserID(), in)
		if err == nil {
			c.Send(messageSentFrame(m))
		}
	case EventTyping:
		isTyping := true
		if in.IsTyping != nil {
			isTyping = *in.IsTyping
		}
		err = h.SendTyping(ctx, c.UserID(), in.RecipientID, isTyping)
	case EventReaction:
		_, err = h.AddReaction(ctx, c.UserID(), in.MessageID, in.Emoji)
	case EventRead:
		_, err = h.MarkRead(ctx, c.UserID(), in.ConversationID, in.SenderID)
	default:
		err = validationError("unknown frame type %q", in.Type)
	}
	if err != nil {
		h.reject(c, err)
	}
}

func (h *Hub) reject(c Conn, err error) {
	frame := frameErrorFor(err)
	if frame.Code == CodeInternal {
		logger.Errorf("ws frame user=%s: %v", c.UserID(), err)
	} else {
		logger.Debugf("ws frame rejected user=%s: %v", c.UserID(), err)
	}
	c.Send(frame)
}

type delivery int

const (
	notDelivered delivery = iota
	deliveredLive
	deliveredRelayed
)

func (d delivery) String() string {
	switch d {
	case deliveredLive:
		return "live"
	case deliveredRelayed:
		return "relayed"
	}
	return "stored"
}

// deliver pushes f to userID's live connection here, or through the relay when
// the user is not connected to this instance. A relayed frame only counts as
// delivered when another instance has claimed the user; the publish itself is
// fire-and-forget.
func (h *Hub) deliver(ctx context.Context, userID string, f Frame) delivery {
	if c, ok := h.reg.Lookup(userID); ok {
		if c.Send(f) {
			observability.IncWSFrame("out", string(f.FrameType()))
			return deliveredLive
		}
		return notDelivered
	}
	if h.relay == nil {
		return notDelivered
	}
	owned := h.remoteOwner(userID) != ""
	if !h.publishRemote(ctx, envelope{To: []string{userID}}, f) || !owned {
		return notDelivered
	}
	return deliveredRelayed
}

func (h *Hub) publishEvent(ctx context.Context, routingKey string, data any) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(ctx, routingKey, events.Wrap(routingKey, data)); err != nil {
		logger.Errorf("ws publish event %s: %v", routingKey, err)
	}
}

// afterDelivery runs slow collaborator calls off the frame-handling goroutine.
func (h *Hub) afterDelivery(fn func(ctx context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}
