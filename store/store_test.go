package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timesheet/db"
	"timesheet/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn, nil))
	t.Cleanup(func() { conn.Close() })
	return New(conn)
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func createUser(t *testing.T, s *Store, name string) *models.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), name, "hash-"+name, t0)
	require.NoError(t, err)
	return u
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	u := createUser(t, s, "alice")
	assert.Greater(t, u.ID, int64(0))

	_, err := s.CreateUser(ctx, "alice", "other", t0)
	assert.ErrorIs(t, err, ErrConflict)

	n, err := s.countUsersByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetUser(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "alice")

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)
	assert.Equal(t, "hash-alice", byName.PasswordHash)
	assert.True(t, t0.Equal(byName.CreatedAt))

	byID, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)

	_, err = s.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetUserByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProjects(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	alice := createUser(t, s, "alice")
	bob := createUser(t, s, "bob")

	p, err := s.CreateProject(ctx, "Website", alice.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOngoing, p.Status)

	_, err = s.CreateProject(ctx, "Website", bob.ID, t0)
	assert.ErrorIs(t, err, ErrConflict, "project names are globally unique")

	_, err = s.CreateProject(ctx, "Backend", bob.ID, t0.Add(time.Hour))
	require.NoError(t, err)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Website", got.Name)
	assert.Nil(t, got.EndDate)
	assert.Equal(t, alice.ID, got.UserID)

	list, err := s.ListProjectsByOwner(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)
}

func TestMarkProjectCompleted(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	alice := createUser(t, s, "alice")
	p, err := s.CreateProject(ctx, "Website", alice.ID, t0)
	require.NoError(t, err)

	end := t0.Add(48 * time.Hour)
	require.NoError(t, s.MarkProjectCompleted(ctx, p.ID, end))

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.EndDate)
	assert.True(t, end.Equal(*got.EndDate))

	assert.ErrorIs(t, s.MarkProjectCompleted(ctx, p.ID, end), ErrConflict)
}

func TestTimeSheets(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	alice := createUser(t, s, "alice")
	p, err := s.CreateProject(ctx, "Website", alice.ID, t0)
	require.NoError(t, err)

	ts, err := s.CreateTimeSheet(ctx, p.ID, alice.ID, t0)
	require.NoError(t, err)

	open, err := s.GetTimeSheet(ctx, ts.ID)
	require.NoError(t, err)
	assert.True(t, open.ClockedIn)
	assert.Nil(t, open.ClockOut)
	assert.Empty(t, open.Note)

	out := t0.Add(90 * time.Minute)
	require.NoError(t, s.CloseTimeSheet(ctx, ts.ID, out, "done"))

	closed, err := s.GetTimeSheet(ctx, ts.ID)
	require.NoError(t, err)
	assert.False(t, closed.ClockedIn)
	require.NotNil(t, closed.ClockOut)
	assert.True(t, out.Equal(*closed.ClockOut))
	assert.Equal(t, "done", closed.Note)
	assert.Equal(t, 90*time.Minute, closed.Duration(time.Now()))

	assert.ErrorIs(t, s.CloseTimeSheet(ctx, ts.ID, out, "again"), ErrConflict)

	list, err := s.ListTimeSheetsByOwner(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Website", list[0].ProjectName)

	_, err = s.GetTimeSheet(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchives(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	alice := createUser(t, s, "alice")
	bob := createUser(t, s, "bob")

	pa, err := s.CreateProject(ctx, "Website", alice.ID, t0)
	require.NoError(t, err)
	pb, err := s.CreateProject(ctx, "Backend", bob.ID, t0)
	require.NoError(t, err)

	done := t0.Add(24 * time.Hour)
	a, err := s.CreateArchive(ctx, pa.ID, done)
	require.NoError(t, err)
	_, err = s.CreateArchive(ctx, pb.ID, done)
	require.NoError(t, err)

	_, err = s.CreateArchive(ctx, pa.ID, done)
	assert.ErrorIs(t, err, ErrConflict)

	n, err := s.countArchivesForProject(ctx, pa.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := s.ListArchivesByOwner(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, "Website", list[0].ProjectName)
	assert.True(t, done.Equal(list[0].CompletedDate))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	alice := createUser(t, s, "alice")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(q *Queries) error {
		if _, err := q.CreateProject(ctx, "Website", alice.ID, t0); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	list, err := s.ListProjectsByOwner(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	alice := createUser(t, s, "alice")

	assert.Panics(t, func() {
		_ = s.WithTx(ctx, func(q *Queries) error {
			_, _ = q.CreateProject(ctx, "Website", alice.ID, t0)
			panic("boom")
		})
	})

	list, err := s.ListProjectsByOwner(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteOwnerData_LeavesOtherUsersAlone(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	alice := createUser(t, s, "alice")
	bob := createUser(t, s, "bob")

	pa, err := s.CreateProject(ctx, "Website", alice.ID, t0)
	require.NoError(t, err)
	_, err = s.CreateTimeSheet(ctx, pa.ID, alice.ID, t0)
	require.NoError(t, err)
	_, err = s.CreateArchive(ctx, pa.ID, t0)
	require.NoError(t, err)

	pb, err := s.CreateProject(ctx, "Backend", bob.ID, t0)
	require.NoError(t, err)
	_, err = s.CreateTimeSheet(ctx, pb.ID, bob.ID, t0)
	require.NoError(t, err)

	require.NoError(t, s.WithTx(ctx, func(q *Queries) error {
		return q.DeleteOwnerData(ctx, alice.ID)
	}))

	projects, err := s.ListProjectsByOwner(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, projects)
	sheets, err := s.ListTimeSheetsByOwner(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, sheets)
	archives, err := s.ListArchivesByOwner(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, archives)

	projects, err = s.ListProjectsByOwner(ctx, bob.ID)
	require.NoError(t, err)
	assert.Len(t, projects, 1)
	sheets, err = s.ListTimeSheetsByOwner(ctx, bob.ID)
	require.NoError(t, err)
	assert.Len(t, sheets, 1)
}

func TestAPISessions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	alice := createUser(t, s, "alice")

	require.NoError(t, s.CreateAPISession(ctx, "hash-1", alice.ID, t0))

	u, err := s.GetAPISessionUser(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, u.ID)

	require.NoError(t, s.DeleteAPISession(ctx, "hash-1"))
	_, err = s.GetAPISessionUser(ctx, "hash-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
