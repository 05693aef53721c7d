package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lilystore/toystore/internal/domain/auth"
	"github.com/lilystore/toystore/internal/domain/user"
)

const (
	insertSessionSQL = `INSERT INTO sessions (token_hash, user_id, role, expires_at)
		VALUES ($1, $2, $3, $4)`

	getSessionSQL = `SELECT token_hash, user_id, role, expires_at
		FROM sessions WHERE token_hash = $1 AND expires_at > NOW()`

	deleteSessionSQL = `DELETE FROM sessions WHERE token_hash = $1`

	purgeSessionsSQL = `DELETE FROM sessions WHERE expires_at <= NOW()`
)

var _ auth.TokenRepository = (*SessionRepository)(nil)

// SessionRepository stores issued session tokens by their HMAC-SHA256 hash.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a SessionRepository that uses the given pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Insert stores a new session token.
func (r *SessionRepository) Insert(ctx context.Context, t *auth.Token) error {
	_, err := r.pool.Exec(ctx, insertSessionSQL,
		t.TokenHash, t.UserID, string(t.Role), t.ExpiresAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert session")
	}
	return nil
}

// FindByHash returns the live session with the given token hash.
func (r *SessionRepository) FindByHash(ctx context.Context, hash string) (*auth.Token, error) {
	var (
		t    auth.Token
		role string
	)
	err := r.pool.QueryRow(ctx, getSessionSQL, hash).Scan(
		&t.TokenHash, &t.UserID, &role, &t.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUnauthenticated
		}
		return nil, errors.Wrap(err, "find session")
	}
	t.Role = user.Role(role)
	return &t, nil
}

// DeleteByHash revokes a session token. Deleting an unknown hash is a no-op.
func (r *SessionRepository) DeleteByHash(ctx context.Context, hash string) error {
	if _, err := r.pool.Exec(ctx, deleteSessionSQL, hash); err != nil {
		return errors.Wrap(err, "delete session")
	}
	return nil
}

// PurgeExpired removes expired session rows and returns how many were
// deleted. Called periodically from the app lifecycle.
func (r *SessionRepository) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, purgeSessionsSQL)
	if err != nil {
		return 0, errors.Wrap(err, "purge sessions")
	}
	return tag.RowsAffected(), nil
}
