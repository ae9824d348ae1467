package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/model"
	"github.com/journeyman/messaging/internal/storage"
)

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.recipient_id, m.content, m.message_type,
	m.media_url, m.gif_data, m.read, m.read_at, m.created_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.Content, &m.MessageType,
		&m.MediaURL, &m.GifData, &m.Read, &m.ReadAt, &m.CreatedAt)
}

// CreateMessage inserts the message, upserts the conversation row and bumps the
// recipient's unread counter in a single transaction.
func (r *MessageRepository) CreateMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	userA, userB := m.SenderID, m.RecipientID
	if userB < userA {
		userA, userB = userB, userA
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO conversations (id, user_a, user_b, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at`,
		m.ConversationID, userA, userB, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("msgRepo.Create conversation: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, message_type, media_url, gif_data, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9)`,
		m.ID, m.ConversationID, m.SenderID, m.RecipientID, m.Content, m.MessageType, m.MediaURL, nullJSON(m.GifData), m.CreatedAt,
	); err != nil {
		return fmt.Errorf("msgRepo.Create message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO conversation_unread (conversation_id, user_id, unread_count)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (conversation_id, user_id) DO UPDATE SET unread_count = conversation_unread.unread_count + 1`,
		m.ConversationID, m.RecipientID,
	); err != nil {
		return fmt.Errorf("msgRepo.Create unread: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Create commit: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetMessage", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, id), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetMessage: %w", err)
	}
	reactions, err := r.reactionsFor(ctx, []string{m.ID})
	if err != nil {
		return nil, err
	}
	m.Reactions = orEmpty(reactions[m.ID])
	return m, nil
}

// AppendReaction inserts a reaction row. Rows are never updated or deleted, so the
// list only grows and identical reactions from the same user are kept.
func (r *MessageRepository) AppendReaction(ctx context.Context, messageID string, rc model.Reaction) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.AppendReaction", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
		 SELECT $1, $2, $3, $4 WHERE EXISTS (SELECT 1 FROM messages WHERE id = $1)`,
		messageID, rc.UserID, rc.Emoji, rc.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.AppendReaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, storage.ErrNotFound
	}
	return r.GetMessage(ctx, messageID)
}

func (r *MessageRepository) MarkConversationRead(ctx context.Context, conversationID, readerID, senderID string, at time.Time) (int64, error) {
	defer logger.DeferLogDuration("msg.MarkConversationRead", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkConversationRead begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE messages SET read = true, read_at = $4
		 WHERE conversation_id = $1 AND recipient_id = $2 AND read = false
		   AND ($3 = '' OR sender_id = $3)`,
		conversationID, readerID, senderID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkConversationRead update: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE conversation_unread SET unread_count = 0
		 WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, readerID,
	); err != nil {
		return 0, fmt.Errorf("msgRepo.MarkConversationRead unread: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("msgRepo.MarkConversationRead commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m
		 WHERE m.conversation_id = $1
		 ORDER BY m.seq ASC
		 LIMIT NULLIF($2::int, 0) OFFSET $3`, conversationID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListMessages query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 32)
	ids := make([]string, 0, 32)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListMessages scan: %w", err)
		}
		messages = append(messages, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListMessages rows: %w", err)
	}

	reactions, err := r.reactionsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].Reactions = orEmpty(reactions[messages[i].ID])
	}
	return messages, nil
}

func (r *MessageRepository) ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("msg.ListConversations", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id,
		        CASE WHEN c.user_a = $1 THEN c.user_b ELSE c.user_a END,
		        COALESCE(cu.unread_count, 0),
		        c.updated_at,
		        lm.id
		 FROM conversations c
		 LEFT JOIN conversation_unread cu ON cu.conversation_id = c.id AND cu.user_id = $1
		 LEFT JOIN LATERAL (
		     SELECT id FROM messages WHERE conversation_id = c.id ORDER BY seq DESC LIMIT 1
		 ) lm ON true
		 WHERE c.user_a = $1 OR c.user_b = $1
		 ORDER BY c.updated_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListConversations query: %w", err)
	}
	defer rows.Close()

	out := make([]model.ConversationSummary, 0, 16)
	lastIDs := make([]*string, 0, 16)
	for rows.Next() {
		var s model.ConversationSummary
		var lastID *string
		if err := rows.Scan(&s.ConversationID, &s.OtherUserID, &s.UnreadCount, &s.UpdatedAt, &lastID); err != nil {
			return nil, fmt.Errorf("msgRepo.ListConversations scan: %w", err)
		}
		out = append(out, s)
		lastIDs = append(lastIDs, lastID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListConversations rows: %w", err)
	}

	for i, id := range lastIDs {
		if id == nil {
			continue
		}
		m, err := r.GetMessage(ctx, *id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		out[i].LastMessage = m
	}
	return out, nil
}

func (r *MessageRepository) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	defer logger.DeferLogDuration("msg.UnreadCount", time.Now())()
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT unread_count FROM conversation_unread WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("msgRepo.UnreadCount: %w", err)
	}
	return n, nil
}

func (r *MessageRepository) ConversationPartners(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("msg.ConversationPartners", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT CASE WHEN user_a = $1 THEN user_b ELSE user_a END AS partner
		 FROM conversations
		 WHERE user_a = $1 OR user_b = $1
		 ORDER BY partner`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ConversationPartners query: %w", err)
	}
	defer rows.Close()

	partners := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("msgRepo.ConversationPartners scan: %w", err)
		}
		partners = append(partners, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ConversationPartners rows: %w", err)
	}
	return partners, nil
}

func (r *MessageRepository) reactionsFor(ctx context.Context, messageIDs []string) (map[string][]model.Reaction, error) {
	out := make(map[string][]model.Reaction, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, user_id, emoji, created_at
		 FROM message_reactions
		 WHERE message_id = ANY($1)
		 ORDER BY id`, messageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.reactions query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var messageID string
		var rc model.Reaction
		if err := rows.Scan(&messageID, &rc.UserID, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.reactions scan: %w", err)
		}
		out[messageID] = append(out[messageID], rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.reactions rows: %w", err)
	}
	return out, nil
}

func orEmpty(r []model.Reaction) []model.Reaction {
	if r == nil {
		return []model.Reaction{}
	}
	return r
}

// nullJSON stores an absent gif payload as SQL NULL rather than an empty jsonb value.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

var _ storage.MessageStore = (*MessageRepository)(nil)
