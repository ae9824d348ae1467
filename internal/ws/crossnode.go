package ws

import (
	"context"
	"encoding/json"

	"github.com/journeyman/messaging/internal/logger"
)

// Control kinds carry cluster presence instead of a client frame. An instance
// claims a user when the user connects to it and releases the user when the
// last connection goes away.
const (
	kindClaim   EventType = "relay.claim"
	kindRelease EventType = "relay.release"
)

// envelope is the relay wire format. Either To lists the target users or
// Broadcast addresses every connection except Except. Control envelopes set
// User and carry no frame.
type envelope struct {
	Origin    string          `json:"origin"`
	To        []string        `json:"to,omitempty"`
	Broadcast bool            `json:"broadcast,omitempty"`
	Except    string          `json:"except,omitempty"`
	User      string          `json:"user,omitempty"`
	Kind      EventType       `json:"kind"`
	Frame     json.RawMessage `json:"frame,omitempty"`
}

// publishRemote sends f to the other instances. It reports whether the publish succeeded.
func (h *Hub) publishRemote(ctx context.Context, env envelope, f Frame) bool {
	if h.relay == nil {
		return false
	}
	data, err := json.Marshal(f)
	if err != nil {
		logger.Errorf("ws relay encode %s: %v", f.FrameType(), err)
		return false
	}
	env.Origin = h.instanceID
	env.Kind = f.FrameType()
	env.Frame = data
	payload, err := json.Marshal(env)
	if err != nil {
		logger.Errorf("ws relay encode envelope: %v", err)
		return false
	}
	if err := h.relay.Publish(ctx, payload); err != nil {
		logger.Errorf("ws relay publish %s: %v", f.FrameType(), err)
		return false
	}
	return true
}

// publishControl announces a claim or release of userID to the other instances.
func (h *Hub) publishControl(ctx context.Context, kind EventType, userID string) {
	if h.relay == nil {
		return
	}
	payload, err := json.Marshal(envelope{Origin: h.instanceID, User: userID, Kind: kind})
	if err != nil {
		logger.Errorf("ws relay encode %s: %v", kind, err)
		return
	}
	if err := h.relay.Publish(ctx, payload); err != nil {
		logger.Errorf("ws relay publish %s user=%s: %v", kind, userID, err)
	}
}

// remoteOwner returns the instance that last claimed userID, or "".
func (h *Hub) remoteOwner(userID string) string {
	h.remoteMu.Lock()
	defer h.remoteMu.Unlock()
	return h.remote[userID]
}

// forgetRemote drops any remote claim on userID and reports whether there was one.
func (h *Hub) forgetRemote(userID string) bool {
	h.remoteMu.Lock()
	defer h.remoteMu.Unlock()
	_, ok := h.remote[userID]
	delete(h.remote, userID)
	return ok
}

// handleRemote applies an envelope published by another instance: control
// envelopes update cluster presence, frames go to local connections.
func (h *Hub) handleRemote(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logger.Errorf("ws relay decode: %v", err)
		return
	}
	if env.Origin == h.instanceID {
		return
	}
	switch env.Kind {
	case kindClaim:
		h.remoteMu.Lock()
		h.remote[env.User] = env.Origin
		h.remoteMu.Unlock()
		if h.reg.Evict(env.User) {
			logger.Infof("ws user=%s moved to instance %s, local connection closed", env.User, env.Origin)
		}
		return
	case kindRelease:
		h.remoteMu.Lock()
		if h.remote[env.User] == env.Origin {
			delete(h.remote, env.User)
		}
		h.remoteMu.Unlock()
		return
	}
	frame := RawFrame{Kind: env.Kind, Data: env.Frame}
	if env.Broadcast {
		for _, c := range h.reg.Snapshot(env.Except) {
			c.Send(frame)
		}
		return
	}
	for _, userID := range env.To {
		if userID == env.Except {
			continue
		}
		if c, ok := h.reg.Lookup(userID); ok {
			c.Send(frame)
		}
	}
}
