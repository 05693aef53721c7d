package repository

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lilystore/toystore/internal/domain/user"
)

const (
	userColumns = `id, username, password_hash, full_name, email, role, created_at`

	getUserByIDSQL       = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	getUserByUsernameSQL = `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	usernameExistsSQL    = `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`
	listUsernamesSQL     = `SELECT username FROM users`
	listUsersSQL         = `SELECT ` + userColumns + ` FROM users ORDER BY id`

	createUserSQL = `INSERT INTO users (username, password_hash, full_name, email, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint breach.
const uniqueViolation = "23505"

// Sizing for the username bloom filter. The filter only has to outlive one
// process; it is rebuilt from the table on startup via WarmUsernameFilter.
const (
	usernameFilterCapacity = 1_000_000
	usernameFilterFPR      = 0.01
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL, with a
// bloom filter in front of availability checks: a negative filter answer
// means the username was definitely never seen, so the DB round trip is
// skipped. Positive answers always fall through to the table, and Create
// relies on the unique constraint as the final arbiter.
type UserRepository struct {
	pool *pgxpool.Pool

	mu   sync.RWMutex
	seen *bloom.BloomFilter
	warm bool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{
		pool: pool,
		seen: bloom.NewWithEstimates(usernameFilterCapacity, usernameFilterFPR),
	}
}

// WarmUsernameFilter seeds the bloom filter from the users table. Until it
// runs, UsernameExists always consults the database.
func (r *UserRepository) WarmUsernameFilter(ctx context.Context) error {
	rows, err := r.pool.Query(ctx, listUsernamesSQL)
	if err != nil {
		return errors.Wrap(err, "warm username filter")
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return errors.Wrap(err, "warm username filter")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		r.seen.AddString(name)
	}
	r.warm = true
	return nil
}

// FindByID returns the user with the given ID.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*user.User, error) {
	return r.findOne(ctx, getUserByIDSQL, id)
}

// FindByUsername returns the user with the given username (exact match).
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*user.User, error) {
	return r.findOne(ctx, getUserByUsernameSQL, username)
}

func (r *UserRepository) findOne(ctx context.Context, sql string, arg any) (*user.User, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrap(err, "find user")
	}

	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, errors.Wrap(err, "find user")
	}
	return &u, nil
}

// UsernameExists reports whether the username is taken.
func (r *UserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	r.mu.RLock()
	warm, maybe := r.warm, r.seen.TestString(username)
	r.mu.RUnlock()
	if warm && !maybe {
		return false, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, usernameExistsSQL, username).Scan(&exists); err != nil {
		return false, errors.Wrapf(err, "check username %q", username)
	}
	return exists, nil
}

// Create inserts a new user and assigns its ID. A unique-constraint breach
// maps to user.ErrDuplicateUsername.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	err := r.pool.QueryRow(ctx, createUserSQL,
		u.Username, u.PasswordHash, u.FullName, u.Email, string(u.Role), u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return user.ErrDuplicateUsername
		}
		return errors.Wrapf(err, "create user %q", u.Username)
	}

	r.mu.Lock()
	r.seen.AddString(u.Username)
	r.mu.Unlock()
	return nil
}

// List returns all users in ID order.
func (r *UserRepository) List(ctx context.Context) ([]user.User, error) {
	rows, err := r.pool.Query(ctx, listUsersSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return pgx.CollectRows(rows, scanUser)
}

func scanUser(row pgx.CollectableRow) (user.User, error) {
	var (
		u    user.User
		role string
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FullName, &u.Email, &role, &u.CreatedAt)
	u.Role = user.Role(role)
	return u, err
}
