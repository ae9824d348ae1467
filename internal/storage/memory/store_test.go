package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeyman/messaging/internal/model"
	"github.com/journeyman/messaging/internal/storage"
)

func newMessage(id, from, to string, at time.Time) *model.Message {
	return &model.Message{
		ID:             id,
		ConversationID: model.ConversationID(from, to),
		SenderID:       from,
		RecipientID:    to,
		Content:        "hi " + id,
		MessageType:    model.MessageTypeText,
		Reactions:      []model.Reaction{},
		CreatedAt:      at,
	}
}

func TestCreateMessageSingleConversationPerPair(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddUsers("alice", "bob")
	now := time.Now().UTC()

	require.NoError(t, s.CreateMessage(ctx, newMessage("m1", "alice", "bob", now)))
	require.NoError(t, s.CreateMessage(ctx, newMessage("m2", "bob", "alice", now.Add(time.Second))))

	convs, err := s.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "bob", convs[0].OtherUserID)
	assert.Equal(t, "m2", convs[0].LastMessage.ID)
	assert.Equal(t, 1, convs[0].UnreadCount)

	msgs, err := s.ListMessages(ctx, model.ConversationID("bob", "alice"), 50, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestMarkConversationReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	conv := model.ConversationID("alice", "bob")
	require.NoError(t, s.CreateMessage(ctx, newMessage("m1", "alice", "bob", now)))
	require.NoError(t, s.CreateMessage(ctx, newMessage("m2", "alice", "bob", now)))
	require.NoError(t, s.CreateMessage(ctx, newMessage("m3", "bob", "alice", now)))

	first := now.Add(time.Minute)
	n, err := s.MarkConversationRead(ctx, conv, "bob", "alice", first)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.MarkConversationRead(ctx, conv, "bob", "alice", first.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	msgs, err := s.ListMessages(ctx, conv, 0, 0)
	require.NoError(t, err)
	for _, m := range msgs {
		if m.RecipientID == "bob" {
			assert.True(t, m.Read)
			require.NotNil(t, m.ReadAt)
			assert.True(t, m.ReadAt.Equal(first), "read_at must not move on a second read")
		} else {
			assert.False(t, m.Read)
		}
	}

	unread, err := s.UnreadCount(ctx, conv, "bob")
	require.NoError(t, err)
	assert.Zero(t, unread)
	unread, err = s.UnreadCount(ctx, conv, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestAppendReactionKeepsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateMessage(ctx, newMessage("m1", "alice", "bob", time.Now())))

	for i := 0; i < 2; i++ {
		_, err := s.AppendReaction(ctx, "m1", model.Reaction{UserID: "bob", Emoji: "🔥"})
		require.NoError(t, err)
	}
	m, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, m.Reactions, 2)

	_, err = s.AppendReaction(ctx, "missing", model.Reaction{UserID: "bob", Emoji: "🔥"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetMessageReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateMessage(ctx, newMessage("m1", "alice", "bob", time.Now())))

	m, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	m.Reactions = append(m.Reactions, model.Reaction{UserID: "x", Emoji: "x"})

	again, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, again.Reactions)
}

func TestPresenceAndDirectory(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddUsers("alice")

	ok, err := s.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.UserExists(ctx, "mallory")
	require.NoError(t, err)
	assert.False(t, ok)

	seen, err := s.GetLastSeen(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, seen)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.SetPresence(ctx, "alice", true, at.Add(-time.Hour)))
	require.NoError(t, s.SetPresence(ctx, "alice", false, at))
	seen, err = s.GetLastSeen(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.True(t, seen.Equal(at))

	open := New(WithOpenDirectory())
	ok, err = open.UserExists(ctx, "anyone")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = open.UserExists(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConversationPartners(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	require.NoError(t, s.CreateMessage(ctx, newMessage("m1", "alice", "bob", now)))
	require.NoError(t, s.CreateMessage(ctx, newMessage("m2", "carol", "alice", now)))
	require.NoError(t, s.CreateMessage(ctx, newMessage("m3", "bob", "carol", now)))

	partners, err := s.ConversationPartners(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, partners)
}
