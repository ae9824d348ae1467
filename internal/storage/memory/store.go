// Package memory is an in-process implementation of the storage contracts,
// used by tests and by `api -memory` where no PostgreSQL is available.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/journeyman/messaging/internal/model"
	"github.com/journeyman/messaging/internal/storage"
)

type conversation struct {
	id           string
	participants [2]string
	messageIDs   []string
	unread       map[string]int
	updatedAt    time.Time
}

type user struct {
	online   bool
	lastSeen *time.Time
}

type Store struct {
	mu            sync.RWMutex
	messages      map[string]*model.Message
	conversations map[string]*conversation
	users         map[string]*user
	// openDirectory makes every user id valid; used in -memory dev mode.
	openDirectory bool
}

type Option func(*Store)

// WithOpenDirectory treats any non-empty user id as an existing user.
func WithOpenDirectory() Option {
	return func(s *Store) { s.openDirectory = true }
}

func New(opts ...Option) *Store {
	s := &Store{
		messages:      make(map[string]*model.Message),
		conversations: make(map[string]*conversation),
		users:         make(map[string]*user),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddUsers registers user ids in the directory.
func (s *Store) AddUsers(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.users[id]; !ok {
			s.users[id] = &user{}
		}
	}
}

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[m.ConversationID]
	if !ok {
		conv = &conversation{
			id:           m.ConversationID,
			participants: [2]string{m.SenderID, m.RecipientID},
			unread:       make(map[string]int, 2),
		}
		s.conversations[m.ConversationID] = conv
	}
	stored := m.Clone()
	s.messages[m.ID] = stored
	conv.messageIDs = append(conv.messageIDs, m.ID)
	conv.unread[m.RecipientID]++
	conv.updatedAt = m.CreatedAt
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *Store) AppendReaction(ctx context.Context, messageID string, r model.Reaction) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	m.Reactions = append(m.Reactions, r)
	return m.Clone(), nil
}

func (s *Store) MarkConversationRead(ctx context.Context, conversationID, readerID, senderID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, id := range conv.messageIDs {
		m := s.messages[id]
		if m.RecipientID != readerID || m.Read {
			continue
		}
		if senderID != "" && m.SenderID != senderID {
			continue
		}
		readAt := at
		m.Read = true
		m.ReadAt = &readAt
		n++
	}
	conv.unread[readerID] = 0
	return n, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return []model.Message{}, nil
	}
	ids := conv.messageIDs
	if offset >= len(ids) {
		return []model.Message{}, nil
	}
	ids = ids[offset:]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.messages[id].Clone())
	}
	return out, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ConversationSummary, 0, 8)
	for _, conv := range s.conversations {
		other, ok := otherParticipant(conv, userID)
		if !ok {
			continue
		}
		sum := model.ConversationSummary{
			ConversationID: conv.id,
			OtherUserID:    other,
			UnreadCount:    conv.unread[userID],
			UpdatedAt:      conv.updatedAt,
		}
		if n := len(conv.messageIDs); n > 0 {
			sum.LastMessage = s.messages[conv.messageIDs[n-1]].Clone()
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return 0, nil
	}
	return conv.unread[userID], nil
}

func (s *Store) ConversationPartners(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	partners := make([]string, 0, 8)
	for _, conv := range s.conversations {
		if other, ok := otherParticipant(conv, userID); ok {
			partners = append(partners, other)
		}
	}
	sort.Strings(partners)
	return partners, nil
}

func otherParticipant(conv *conversation, userID string) (string, bool) {
	switch userID {
	case conv.participants[0]:
		return conv.participants[1], true
	case conv.participants[1]:
		return conv.participants[0], true
	}
	return "", false
}

func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.openDirectory {
		return true, nil
	}
	_, ok := s.users[userID]
	return ok, nil
}

func (s *Store) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		u = &user{}
		s.users[userID] = u
	}
	u.online = online
	if !online {
		t := at
		u.lastSeen = &t
	}
	return nil
}

func (s *Store) GetLastSeen(ctx context.Context, userID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		if s.openDirectory {
			return nil, nil
		}
		return nil, storage.ErrNotFound
	}
	if u.lastSeen == nil {
		return nil, nil
	}
	t := *u.lastSeen
	return &t, nil
}

func (s *Store) ResetPresence(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		u.online = false
	}
	return nil
}

var (
	_ storage.MessageStore = (*Store)(nil)
	_ storage.UserStore    = (*Store)(nil)
)
