package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeyman/messaging/internal/model"
)

func TestMarkReadPushesReceiptToSender(t *testing.T) {
	ev := &fakeEvents{}
	h, store := newTestHub(t, Options{Events: ev}, "alice", "bob")
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	ctx := context.Background()
	conv := model.ConversationID("alice", "bob")

	for _, text := range []string{"one", "two"} {
		_, err := h.SendMessage(ctx, "alice", IncomingMessage{RecipientID: "bob", Content: text})
		require.NoError(t, err)
	}

	h.HandleFrame(ctx, bob, frameJSON(t, map[string]string{"type": "read", "conversation_id": conv, "sender_id": "alice"}))

	receipts := alice.of(EventReadReceipt)
	require.Len(t, receipts, 1)
	rr := receipts[0].(ReadReceiptFrame)
	assert.Equal(t, conv, rr.ConversationID)
	assert.Equal(t, "bob", rr.ReadBy)
	assert.False(t, rr.ReadAt.IsZero())

	unread, err := store.UnreadCount(ctx, conv, "bob")
	require.NoError(t, err)
	assert.Zero(t, unread)

	msgs, err := store.ListMessages(ctx, conv, 0, 0)
	require.NoError(t, err)
	for _, m := range msgs {
		assert.True(t, m.Read)
		require.NotNil(t, m.ReadAt)
		assert.True(t, m.ReadAt.Equal(rr.ReadAt))
	}
	assert.Eventually(t, func() bool { return ev.has("message.read") }, time.Second, 5*time.Millisecond)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	h, store := newTestHub(t, Options{}, "alice", "bob")
	alice := connect(t, h, "alice")
	ctx := context.Background()
	conv := model.ConversationID("alice", "bob")

	_, err := h.SendMessage(ctx, "alice", IncomingMessage{RecipientID: "bob", Content: "hi"})
	require.NoError(t, err)

	first, err := h.MarkRead(ctx, "bob", conv, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.Marked)
	assert.Equal(t, "alice", first.SenderID)

	second, err := h.MarkRead(ctx, "bob", "", "alice")
	require.NoError(t, err)
	assert.Zero(t, second.Marked)
	assert.Len(t, alice.of(EventReadReceipt), 1, "a no-op read sends no second receipt")

	msgs, err := store.ListMessages(ctx, conv, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].ReadAt.Equal(first.ReadAt))
}

func TestMarkReadWithSenderOffline(t *testing.T) {
	h, store := newTestHub(t, Options{}, "alice", "bob")
	ctx := context.Background()
	_, err := h.SendMessage(ctx, "alice", IncomingMessage{RecipientID: "bob", Content: "hi"})
	require.NoError(t, err)

	res, err := h.MarkRead(ctx, "bob", "", "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Marked)

	n, err := store.UnreadCount(ctx, res.ConversationID, "bob")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMarkReadValidation(t *testing.T) {
	h, _ := newTestHub(t, Options{}, "alice", "bob")
	ctx := context.Background()

	_, err := h.MarkRead(ctx, "bob", "", "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.MarkRead(ctx, "bob", "", "bob")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.MarkRead(ctx, "bob", "conv_alice_carol", "alice")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.MarkRead(ctx, "bob", "conv_alice_carol", "")
	assert.ErrorIs(t, err, ErrValidation, "not a participant")
}

func TestOtherFromConversationID(t *testing.T) {
	cases := []struct {
		reader, conv, want string
		ok                 bool
	}{
		{"alice", "conv_alice_bob", "bob", true},
		{"bob", "conv_alice_bob", "alice", true},
		{"user_1", "conv_user~u1_user~u2", "user_2", true},
		{"user_2", "conv_user~u1_user~u2", "user_1", true},
		{"user_1", "conv_user_1_user_2", "", false},
		{"alice", "conv_alice_alice", "", false},
		{"carol", "conv_alice_bob", "", false},
		{"alice", "alice_bob", "", false},
	}
	for _, tc := range cases {
		got, ok := otherFromConversationID(tc.reader, tc.conv)
		assert.Equal(t, tc.ok, ok, tc.conv)
		assert.Equal(t, tc.want, got, tc.conv)
	}
}

func TestUnreadCountRequiresParticipant(t *testing.T) {
	h, _ := newTestHub(t, Options{}, "alice", "bob")
	ctx := context.Background()
	_, err := h.SendMessage(ctx, "alice", IncomingMessage{RecipientID: "bob", Content: "hi"})
	require.NoError(t, err)

	n, err := h.UnreadCount(ctx, "bob", "conv_alice_bob")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = h.UnreadCount(ctx, "carol", "conv_alice_bob")
	assert.ErrorIs(t, err, ErrValidation)
}
