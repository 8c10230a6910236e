package service

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// bcrypt refuses passwords longer than 72 bytes.
const PasswordMaxBytes = 72

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

type credentialsInput struct {
	Username string `validate:"required,min=3,max=150,username"`
	Password string `validate:"required,min=3"`
}

type projectInput struct {
	Name string `validate:"required,max=200"`
}

type clockOutInput struct {
	Note string `validate:"max=500"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRegex.MatchString(fl.Field().String())
	})
	return v
}

// validate runs the struct rules and reports the first failing field.
func (s *Service) validate(input any) error {
	err := s.validator.Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &ValidationError{Field: strings.ToLower(verrs[0].Field()), Tag: verrs[0].Tag()}
	}
	return err
}

func (s *Service) validateCredentials(username, password string) error {
	if err := s.validate(credentialsInput{Username: username, Password: password}); err != nil {
		return err
	}
	if len(password) > PasswordMaxBytes {
		return &ValidationError{Field: "password", Tag: "max"}
	}
	return nil
}
