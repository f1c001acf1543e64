package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"classbook/internal/models"
)

func (s *store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	var chatID sql.NullInt64
	query := `SELECT id, name, telegram_chat_id, created_at, updated_at FROM users WHERE id = ?`
	err := s.q.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Name, &chatID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	u.TelegramChatID = chatID.Int64
	return &u, nil
}

// UpsertUser stores the members known to the notifier. Ids come from the
// identity provider, so they are written as given.
func (s *store) UpsertUser(ctx context.Context, user *models.User) error {
	var chatID sql.NullInt64
	if user.TelegramChatID != 0 {
		chatID = sql.NullInt64{Int64: user.TelegramChatID, Valid: true}
	}

	now := utc(time.Now())
	query := `INSERT INTO users (id, name, telegram_chat_id, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                telegram_chat_id = excluded.telegram_chat_id,
                updated_at = excluded.updated_at`
	if _, err := s.q.ExecContext(ctx, query, user.ID, user.Name, chatID, now, now); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	return nil
}
