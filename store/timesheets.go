package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"timesheet/models"
)

func scanTimeSheet(row scanner, withProjectName bool) (*models.TimeSheet, error) {
	var (
		t    models.TimeSheet
		out  sql.NullTime
		note sql.NullString
	)
	dest := []any{&t.ID, &t.ProjectID, &t.UserID, &t.ClockIn, &out, &note, &t.ClockedIn}
	if withProjectName {
		dest = append(dest, &t.ProjectName)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, noRows(err)
	}
	if out.Valid {
		t.ClockOut = &out.Time
	}
	t.Note = note.String
	return &t, nil
}

// CreateTimeSheet opens a new interval starting at clockIn.
func (q *Queries) CreateTimeSheet(ctx context.Context, projectID, userID int64, clockIn time.Time) (*models.TimeSheet, error) {
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO timesheets (project_id, user_id, clock_in, clocked_in) VALUES (?, ?, ?, 1)`,
		projectID, userID, clockIn)
	if err != nil {
		return nil, fmt.Errorf("insert timesheet: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert timesheet: %w", err)
	}
	return &models.TimeSheet{ID: id, ProjectID: projectID, UserID: userID, ClockIn: clockIn, ClockedIn: true}, nil
}

func (q *Queries) GetTimeSheet(ctx context.Context, id int64) (*models.TimeSheet, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT id, project_id, user_id, clock_in, clock_out, note, clocked_in FROM timesheets WHERE id = ?`, id)
	return scanTimeSheet(row, false)
}

// CloseTimeSheet sets the clock-out time and note of an open interval.
// Closed intervals are terminal: closing one again yields ErrConflict.
func (q *Queries) CloseTimeSheet(ctx context.Context, id int64, clockOut time.Time, note string) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE timesheets SET clock_out = ?, note = ?, clocked_in = 0 WHERE id = ? AND clocked_in = 1`,
		clockOut, nullString(note), id)
	if err != nil {
		return fmt.Errorf("close timesheet: %w", err)
	}
	return expectOneRow(res)
}

func (q *Queries) ListTimeSheetsByOwner(ctx context.Context, userID int64) ([]models.TimeSheet, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT t.id, t.project_id, t.user_id, t.clock_in, t.clock_out, t.note, t.clocked_in, p.name
		FROM timesheets t
		JOIN projects p ON p.id = t.project_id
		WHERE t.user_id = ?
		ORDER BY t.clock_in DESC, t.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query timesheets: %w", err)
	}
	defer rows.Close()

	var sheets []models.TimeSheet
	for rows.Next() {
		t, err := scanTimeSheet(rows, true)
		if err != nil {
			return nil, fmt.Errorf("scan timesheet: %w", err)
		}
		sheets = append(sheets, *t)
	}
	return sheets, rows.Err()
}
