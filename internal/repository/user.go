package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/storage"
)

// UserRepository reads and updates the presence columns of the user directory.
// Profiles themselves are owned by the profile service.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) UserExists(ctx context.Context, userID string) (bool, error) {
	defer logger.DeferLogDuration("user.Exists", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("userRepo.UserExists: %w", err)
	}
	return exists, nil
}

// SetPresence updates is_online. last_seen_at is written only on the transition to offline.
func (r *UserRepository) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	defer logger.DeferLogDuration("user.SetPresence", time.Now())()
	var err error
	if online {
		_, err = r.pool.Exec(ctx, `UPDATE users SET is_online = true WHERE id = $1`, userID)
	} else {
		_, err = r.pool.Exec(ctx, `UPDATE users SET is_online = false, last_seen_at = $2 WHERE id = $1`, userID, at)
	}
	if err != nil {
		return fmt.Errorf("userRepo.SetPresence: %w", err)
	}
	return nil
}

func (r *UserRepository) GetLastSeen(ctx context.Context, userID string) (*time.Time, error) {
	defer logger.DeferLogDuration("user.GetLastSeen", time.Now())()
	var lastSeen *time.Time
	err := r.pool.QueryRow(ctx, `SELECT last_seen_at FROM users WHERE id = $1`, userID).Scan(&lastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetLastSeen: %w", err)
	}
	return lastSeen, nil
}

func (r *UserRepository) ResetPresence(ctx context.Context) error {
	defer logger.DeferLogDuration("user.ResetPresence", time.Now())()
	if _, err := r.pool.Exec(ctx, `UPDATE users SET is_online = false WHERE is_online`); err != nil {
		return fmt.Errorf("userRepo.ResetPresence: %w", err)
	}
	return nil
}

// EnsureUsers inserts missing directory rows. Used to seed development databases.
func (r *UserRepository) EnsureUsers(ctx context.Context, ids ...string) error {
	defer logger.DeferLogDuration("user.EnsureUsers", time.Now())()
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO users (id) SELECT unnest($1::text[]) ON CONFLICT (id) DO NOTHING`, ids)
	if err != nil {
		return fmt.Errorf("userRepo.EnsureUsers: %w", err)
	}
	return nil
}

var _ storage.UserStore = (*UserRepository)(nil)
