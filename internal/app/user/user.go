/*
Package user contains the registered account model and the account service
used by the register, login and me endpoints.
*/
package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"meetline/internal/pkg/errs"
	"meetline/internal/pkg/randx"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the shortest accepted account password.
	MinPasswordLength = 8

	// MaxNameLength bounds display names.
	MaxNameLength = 64
)

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ErrNotFound is returned by stores when no account matches.
var ErrNotFound = errors.New("user not found")

// ErrDuplicateEmail is returned by stores when the email is already registered.
var ErrDuplicateEmail = errors.New("email already registered")

// Store persists accounts.
type Store interface {
	CreateUser(ctx context.Context, u User) error
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

// Service implements account registration and password login.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService returns a Service backed by store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Register creates a new account. The email is normalized to lower case.
func (s *Service) Register(ctx context.Context, name, email, password string) (User, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)

	switch {
	case name == "":
		return User{}, errs.NewError(errs.ErrMissingField, "name")
	case email == "":
		return User{}, errs.NewError(errs.ErrMissingField, "email")
	case password == "":
		return User{}, errs.NewError(errs.ErrMissingField, "password")
	}

	if len(name) > MaxNameLength {
		return User{}, errs.NewError(errs.ErrInvalidParams)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return User{}, errs.NewError(errs.ErrInvalidEmail)
	}
	if len(password) < MinPasswordLength {
		return User{}, errs.NewError(errs.ErrInvalidPassword)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, errs.NewError(errs.ErrUnknown, fmt.Errorf("hash password: %w", err))
	}

	u := User{
		ID:           randx.UserID(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}

	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return User{}, errs.NewError(errs.ErrUserAlreadyExists)
		}
		return User{}, errs.NewError(errs.ErrUnknown, err)
	}

	return u, nil
}

// Login checks email and password. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return User{}, errs.NewError(errs.ErrMissingField, "email")
	}
	if password == "" {
		return User{}, errs.NewError(errs.ErrMissingField, "password")
	}

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, errs.NewError(errs.ErrInvalidCredentials)
		}
		return User{}, errs.NewError(errs.ErrUnknown, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, errs.NewError(errs.ErrInvalidCredentials)
	}

	return u, nil
}

// Get returns the account with id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	u, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, errs.NewError(errs.ErrUserNotFound)
		}
		return User{}, errs.NewError(errs.ErrUnknown, err)
	}
	return u, nil
}

// Exists reports whether the subject still has an account.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.store.GetUserByID(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
