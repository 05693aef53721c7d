package user

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Sentinel errors for identity lookups and registration.
var (
	ErrNotFound          = errors.New("user not found")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
)

// Role is the coarse-grained authorization tag attached to a user.
type Role string

const (
	RoleCustomer Role = "Customer"
	RoleAdmin    Role = "Admin"
)

// User represents a registered account. PasswordHash is a bcrypt hash; the
// plaintext secret is never stored.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	FullName     string
	Email        string
	Role         Role
	CreatedAt    time.Time
}

// Repository defines the identity store contract. Username uniqueness is
// enforced both by UsernameExists pre-checks and by the store itself on
// Create.
type Repository interface {
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, u *User) error
	List(ctx context.Context) ([]User, error)
}
