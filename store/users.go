package store

import (
	"context"
	"fmt"
	"time"

	"timesheet/models"
)

const userColumns = `id, username, password_hash, created_at`

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, noRows(err)
	}
	return &u, nil
}

// CreateUser inserts a user. A taken username yields ErrConflict and no row.
func (q *Queries) CreateUser(ctx context.Context, username, passwordHash string, createdAt time.Time) (*models.User, error) {
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &models.User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: createdAt}, nil
}

func (q *Queries) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}
