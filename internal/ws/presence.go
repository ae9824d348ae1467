package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/journeyman/messaging/internal/events"
	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/model"
	"github.com/journeyman/messaging/internal/observability"
	"github.com/journeyman/messaging/internal/storage"
)

// PresenceScope selects who receives status_update frames.
type PresenceScope string

const (
	// ScopeAll notifies every connected user.
	ScopeAll PresenceScope = "all"
	// ScopePartners notifies only users that share a conversation with the subject.
	ScopePartners PresenceScope = "partners"
)

// ParsePresenceScope falls back to ScopeAll for unknown values.
func ParsePresenceScope(s string) PresenceScope {
	if PresenceScope(s) == ScopePartners {
		return ScopePartners
	}
	return ScopeAll
}

const presenceStoreTimeout = 5 * time.Second

// Presence turns registry transitions into persisted presence state and
// status_update fan-out. Delivery is best-effort: peers that are offline or
// whose buffers are full miss the event and catch up via REST.
type Presence struct {
	hub   *Hub
	scope PresenceScope
}

// UserOnline claims the user across instances. A user that was live on another
// instance has moved here, which is not a transition.
func (p *Presence) UserOnline(userID string, at time.Time) {
	h := p.hub
	elsewhere := h.forgetRemote(userID)
	ctx, cancel := context.WithTimeout(context.Background(), presenceStoreTimeout)
	h.publishControl(ctx, kindClaim, userID)
	cancel()
	if elsewhere {
		logger.Infof("ws user=%s moved from another instance", userID)
		return
	}
	p.transition(userID, true, at)
}

// UserOffline is a transition only when no other instance holds the user.
func (p *Presence) UserOffline(userID string, at time.Time) {
	h := p.hub
	if owner := h.remoteOwner(userID); owner != "" {
		logger.Debugf("ws user=%s still live on instance %s", userID, owner)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceStoreTimeout)
	h.publishControl(ctx, kindRelease, userID)
	cancel()
	p.transition(userID, false, at)
}

func (p *Presence) transition(userID string, online bool, at time.Time) {
	defer logger.DeferLogDuration("ws.presence", time.Now())()
	h := p.hub
	ctx, cancel := context.WithTimeout(context.Background(), presenceStoreTimeout)
	defer cancel()

	if err := h.users.SetPresence(ctx, userID, online, at); err != nil {
		logger.Errorf("ws presence persist user=%s online=%t: %v", userID, online, err)
	}
	observability.IncPresenceTransition(online)

	frame := statusFrame(userID, online, at)
	switch p.scope {
	case ScopePartners:
		partners, err := h.msgs.ConversationPartners(ctx, userID)
		if err != nil {
			logger.Errorf("ws presence partners user=%s: %v", userID, err)
			return
		}
		for _, peer := range partners {
			if c, ok := h.reg.Lookup(peer); ok {
				c.Send(frame)
			}
		}
		h.publishRemote(ctx, envelope{To: partners, Except: userID}, frame)
	default:
		for _, c := range h.reg.Snapshot(userID) {
			c.Send(frame)
		}
		h.publishRemote(ctx, envelope{Broadcast: true, Except: userID}, frame)
	}

	h.publishEvent(ctx, events.RoutingPresenceChanged, events.PresenceChanged{UserID: userID, Online: online, At: at})
}

// State reports the user's presence. Online comes from cluster presence,
// last_seen from the store and is only filled in while offline.
func (p *Presence) State(ctx context.Context, userID string) (model.Presence, error) {
	st := model.Presence{UserID: userID, Online: p.hub.IsOnline(userID)}
	if st.Online {
		return st, nil
	}
	lastSeen, err := p.hub.users.GetLastSeen(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return st, err
		}
		return st, fmt.Errorf("ws.Presence.State: %w", err)
	}
	st.LastSeen = lastSeen
	return st, nil
}
