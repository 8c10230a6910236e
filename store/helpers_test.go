package store

import "context"

func (q *Queries) countUsersByUsername(ctx context.Context, username string) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&n)
	return n, err
}

func (q *Queries) countArchivesForProject(ctx context.Context, projectID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM archives WHERE project_id = ?`, projectID).Scan(&n)
	return n, err
}
