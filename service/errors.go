package service

import (
	"errors"
	"fmt"
)

var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrNotFound covers both missing records and records owned by someone
	// else so callers cannot probe for existence.
	ErrNotFound          = errors.New("not found or unauthorized")
	ErrProjectNameTaken  = errors.New("project name already exists")
	ErrProjectCompleted  = errors.New("project is not ongoing")
	ErrAlreadyCompleted  = errors.New("project already completed")
	ErrAlreadyClockedOut = errors.New("timesheet already clocked out")
	ErrClearFailed       = errors.New("failed to clear data")
)

type ValidationError struct {
	Field string
	Tag   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: failed %q", e.Field, e.Tag)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
