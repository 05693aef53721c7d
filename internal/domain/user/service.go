package user

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/bcrypt"
)

// Validation errors returned by Register before any store access.
var (
	ErrUsernameRequired = errors.New("username is required")
	ErrPasswordRequired = errors.New("password is required")
)

// RegisterRequest holds the input for creating a new account. Role is
// deliberately absent: registration always produces a customer, whatever the
// client submitted.
type RegisterRequest struct {
	Username string
	Password string
	FullName string
	Email    string
}

// Service implements registration and credential verification on top of a
// Repository.
type Service struct {
	users Repository
}

// NewService creates a user Service backed by the given repository.
func NewService(users Repository) *Service {
	return &Service{users: users}
}

// Register creates a new customer account. The username must be unused
// (case-sensitive, as stored) and the password is stored as a bcrypt hash.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if strings.TrimSpace(req.Username) == "" {
		return nil, ErrUsernameRequired
	}
	if req.Password == "" {
		return nil, ErrPasswordRequired
	}

	exists, err := s.users.UsernameExists(ctx, req.Username)
	if err != nil {
		return nil, errors.Wrap(err, "check username")
	}
	if exists {
		return nil, ErrDuplicateUsername
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	u := &User{
		Username:     req.Username,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Email:        req.Email,
		Role:         RoleCustomer,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		// The store enforces uniqueness too; a concurrent registration with
		// the same name loses here rather than at the pre-check.
		return nil, errors.Wrap(err, "create user")
	}

	return u, nil
}

// Authenticate verifies a username/password pair. Unknown usernames and
// wrong passwords both yield ErrInvalidCredential so the response gives no
// account-existence oracle.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, errors.Wrap(err, "find user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}

	return u, nil
}

// Get returns the account with the given ID.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.users.FindByID(ctx, id)
}
