package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"timesheet/clock"
	"timesheet/crypto"
	"timesheet/metrics"
	"timesheet/models"
	"timesheet/store"
)

const apiTokenBytes = 32

// Service implements the timesheet operations. Every mutation runs in one
// transaction and checks that the touched records belong to the caller.
type Service struct {
	store     *store.Store
	hasher    crypto.PasswordHasher
	clock     clock.Clock
	validator *validator.Validate
	dummyHash string
}

func New(st *store.Store, hasher crypto.PasswordHasher, clk clock.Clock) (*Service, error) {
	// Compared against when the username is unknown, so both login
	// failures cost one bcrypt comparison.
	dummy, err := hasher.Hash("timesheet-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &Service{
		store:     st,
		hasher:    hasher,
		clock:     clk,
		validator: newValidator(),
		dummyHash: dummy,
	}, nil
}

type Dashboard struct {
	Projects   []models.Project   `json:"projects"`
	TimeSheets []models.TimeSheet `json:"timesheets"`
}

func (s *Service) Register(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if err := s.validateCredentials(username, password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, username, hash, s.clock.Now())
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, err
	}
	metrics.RegistrationsTotal.Inc()
	return user, nil
}

func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	target := s.dummyHash
	if user != nil {
		target = user.PasswordHash
	}
	match := s.hasher.Compare(target, password) == nil

	if user == nil || !match {
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}
	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	return user, nil
}

func (s *Service) User(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return user, err
}

func (s *Service) Dashboard(ctx context.Context, userID int64) (*Dashboard, error) {
	projects, err := s.store.ListProjectsByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	sheets, err := s.store.ListTimeSheetsByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Dashboard{Projects: projects, TimeSheets: sheets}, nil
}

func (s *Service) CreateProject(ctx context.Context, userID int64, name string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if err := s.validate(projectInput{Name: name}); err != nil {
		return nil, err
	}

	project, err := s.store.CreateProject(ctx, name, userID, s.clock.Now())
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrProjectNameTaken
	}
	if err != nil {
		return nil, err
	}
	metrics.ProjectsCreatedTotal.Inc()
	return project, nil
}

// ownedProject loads a project and hides it unless userID owns it.
func ownedProject(ctx context.Context, q *store.Queries, userID, projectID int64) (*models.Project, error) {
	project, err := q.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if project.UserID != userID {
		return nil, ErrNotFound
	}
	return project, nil
}

func (s *Service) ClockIn(ctx context.Context, userID, projectID int64) (*models.TimeSheet, error) {
	var sheet *models.TimeSheet
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		project, err := ownedProject(ctx, q, userID, projectID)
		if err != nil {
			return err
		}
		if project.Completed() {
			return ErrProjectCompleted
		}
		sheet, err = q.CreateTimeSheet(ctx, project.ID, userID, s.clock.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.ClockEventsTotal.WithLabelValues("clock_in").Inc()
	return sheet, nil
}

func (s *Service) ClockOut(ctx context.Context, userID, timesheetID int64, note string) (*models.TimeSheet, error) {
	note = strings.TrimSpace(note)
	if err := s.validate(clockOutInput{Note: note}); err != nil {
		return nil, err
	}

	var sheet *models.TimeSheet
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		current, err := q.GetTimeSheet(ctx, timesheetID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if current.UserID != userID {
			return ErrNotFound
		}
		if !current.ClockedIn {
			return ErrAlreadyClockedOut
		}

		if err := q.CloseTimeSheet(ctx, current.ID, s.clock.Now(), note); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrAlreadyClockedOut
			}
			return err
		}
		sheet, err = q.GetTimeSheet(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.ClockEventsTotal.WithLabelValues("clock_out").Inc()
	return sheet, nil
}

// CompleteProject moves an ongoing project to completed and records its
// archive with the same timestamp. A project completes at most once.
func (s *Service) CompleteProject(ctx context.Context, userID, projectID int64) (*models.Archive, error) {
	var archive *models.Archive
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		project, err := ownedProject(ctx, q, userID, projectID)
		if err != nil {
			return err
		}
		if project.Completed() {
			return ErrAlreadyCompleted
		}

		now := s.clock.Now()
		if err := q.MarkProjectCompleted(ctx, project.ID, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrAlreadyCompleted
			}
			return err
		}
		archive, err = q.CreateArchive(ctx, project.ID, now)
		if errors.Is(err, store.ErrConflict) {
			return ErrAlreadyCompleted
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.ProjectsCompletedTotal.Inc()
	return archive, nil
}

func (s *Service) Archives(ctx context.Context, userID int64) ([]models.ArchivedProject, error) {
	return s.store.ListArchivesByOwner(ctx, userID)
}

// ClearData deletes the caller's archives, timesheets and projects. Other
// users' records are never touched.
func (s *Service) ClearData(ctx context.Context, userID int64) error {
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		return q.DeleteOwnerData(ctx, userID)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrClearFailed, err)
	}
	return nil
}

// IssueAPIToken creates an opaque token for the JSON API. Only its hash is
// stored.
func (s *Service) IssueAPIToken(ctx context.Context, userID int64) (string, error) {
	token := crypto.GenerateToken(apiTokenBytes)
	if err := s.store.CreateAPISession(ctx, crypto.HashToken(token), userID, s.clock.Now()); err != nil {
		return "", err
	}
	return token, nil
}

func (s *Service) UserForAPIToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.GetAPISessionUser(ctx, crypto.HashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	return user, err
}

func (s *Service) RevokeAPIToken(ctx context.Context, token string) error {
	return s.store.DeleteAPISession(ctx, crypto.HashToken(token))
}

// Now exposes the service clock so views compute open durations
// consistently with stored timestamps.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
