package store

import (
	"context"
	"fmt"
	"time"

	"timesheet/models"
)

func (q *Queries) CreateAPISession(ctx context.Context, tokenHash string, userID int64, createdAt time.Time) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO api_sessions (token_hash, user_id, created_at) VALUES (?, ?, ?)`,
		tokenHash, userID, createdAt)
	if err != nil {
		return fmt.Errorf("insert api session: %w", err)
	}
	return nil
}

// GetAPISessionUser resolves a stored token hash to its user.
func (q *Queries) GetAPISessionUser(ctx context.Context, tokenHash string) (*models.User, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.password_hash, u.created_at
		FROM api_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = ?`, tokenHash)
	return scanUser(row)
}

func (q *Queries) DeleteAPISession(ctx context.Context, tokenHash string) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM api_sessions WHERE token_hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("delete api session: %w", err)
	}
	return nil
}
