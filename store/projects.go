package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"timesheet/models"
)

const projectColumns = `id, name, status, start_date, end_date, user_id`

func scanProject(row scanner) (*models.Project, error) {
	var (
		p   models.Project
		end sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Status, &p.StartDate, &end, &p.UserID); err != nil {
		return nil, noRows(err)
	}
	if end.Valid {
		p.EndDate = &end.Time
	}
	return &p, nil
}

// CreateProject inserts an ongoing project. Names are unique across all
// users; a duplicate yields ErrConflict.
func (q *Queries) CreateProject(ctx context.Context, name string, userID int64, start time.Time) (*models.Project, error) {
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO projects (name, status, start_date, user_id) VALUES (?, ?, ?, ?)`,
		name, string(models.StatusOngoing), start, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return &models.Project{ID: id, Name: name, Status: models.StatusOngoing, StartDate: start, UserID: userID}, nil
}

func (q *Queries) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

func (q *Queries) ListProjectsByOwner(ctx context.Context, userID int64) ([]models.Project, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = ? ORDER BY start_date DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// MarkProjectCompleted moves an ongoing project to completed. It returns
// ErrConflict when the project is not ongoing anymore (or does not exist).
func (q *Queries) MarkProjectCompleted(ctx context.Context, id int64, end time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE projects SET status = ?, end_date = ? WHERE id = ? AND status = ?`,
		string(models.StatusCompleted), end, id, string(models.StatusOngoing))
	if err != nil {
		return fmt.Errorf("complete project: %w", err)
	}
	return expectOneRow(res)
}
