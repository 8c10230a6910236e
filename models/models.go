package models

import "time"

type ProjectStatus string

const (
	StatusOngoing   ProjectStatus = "ongoing"
	StatusCompleted ProjectStatus = "completed"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Project struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Status    ProjectStatus `json:"status"`
	StartDate time.Time     `json:"start_date"`
	EndDate   *time.Time    `json:"end_date,omitempty"`
	UserID    int64         `json:"user_id"`
}

func (p Project) Completed() bool {
	return p.Status == StatusCompleted
}

// TimeSheet is one clock-in/clock-out interval. ProjectName is filled by
// listing queries only.
type TimeSheet struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"project_id"`
	ProjectName string     `json:"project_name,omitempty"`
	UserID      int64      `json:"user_id"`
	ClockIn     time.Time  `json:"clock_in"`
	ClockOut    *time.Time `json:"clock_out,omitempty"`
	Note        string     `json:"note,omitempty"`
	ClockedIn   bool       `json:"clocked_in"`
}

// Duration returns the worked time, measured up to now for open intervals.
func (t TimeSheet) Duration(now time.Time) time.Duration {
	if t.ClockOut != nil {
		return t.ClockOut.Sub(t.ClockIn)
	}
	return now.Sub(t.ClockIn)
}

type Archive struct {
	ID            int64     `json:"id"`
	ProjectID     int64     `json:"project_id"`
	CompletedDate time.Time `json:"completed_date"`
}

// ArchivedProject is an archive row joined with its project.
type ArchivedProject struct {
	Archive
	ProjectName string    `json:"project_name"`
	StartDate   time.Time `json:"start_date"`
}
