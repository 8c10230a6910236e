package store

import (
	"context"
	"fmt"
	"time"

	"timesheet/models"
)

// CreateArchive records the completion of a project. A project is archived
// at most once; a second archive yields ErrConflict.
func (q *Queries) CreateArchive(ctx context.Context, projectID int64, completed time.Time) (*models.Archive, error) {
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO archives (project_id, completed_date) VALUES (?, ?)`, projectID, completed)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert archive: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert archive: %w", err)
	}
	return &models.Archive{ID: id, ProjectID: projectID, CompletedDate: completed}, nil
}

// ListArchivesByOwner joins archives with their projects, restricted to the
// owner's projects, newest completion first.
func (q *Queries) ListArchivesByOwner(ctx context.Context, userID int64) ([]models.ArchivedProject, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT a.id, a.project_id, a.completed_date, p.name, p.start_date
		FROM archives a
		JOIN projects p ON p.id = a.project_id
		WHERE p.user_id = ?
		ORDER BY a.completed_date DESC, a.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query archives: %w", err)
	}
	defer rows.Close()

	var archives []models.ArchivedProject
	for rows.Next() {
		var a models.ArchivedProject
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.CompletedDate, &a.ProjectName, &a.StartDate); err != nil {
			return nil, fmt.Errorf("scan archive: %w", err)
		}
		archives = append(archives, a)
	}
	return archives, rows.Err()
}

// DeleteOwnerData removes the owner's archives, timesheets and projects.
// Run it inside WithTx so a failure leaves nothing half-deleted.
func (q *Queries) DeleteOwnerData(ctx context.Context, userID int64) error {
	stmts := []struct {
		what  string
		query string
		args  []any
	}{
		{"archives", `DELETE FROM archives WHERE project_id IN (SELECT id FROM projects WHERE user_id = ?)`, []any{userID}},
		{"timesheets", `DELETE FROM timesheets WHERE user_id = ? OR project_id IN (SELECT id FROM projects WHERE user_id = ?)`, []any{userID, userID}},
		{"projects", `DELETE FROM projects WHERE user_id = ?`, []any{userID}},
	}
	for _, st := range stmts {
		if _, err := q.q.ExecContext(ctx, st.query, st.args...); err != nil {
			return fmt.Errorf("delete %s: %w", st.what, err)
		}
	}
	return nil
}
