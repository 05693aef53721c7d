package auth

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/lilystore/toystore/internal/domain/user"
)

// Sentinel errors for authorization checks.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrUnauthorized    = errors.New("admin access required")
)

// Session is the pre-authenticated identity of the current caller. The core
// never performs a login itself; the transport layer resolves whatever
// credential it accepts (bearer token, cookie) into a Session and passes it
// explicitly into every call.
type Session struct {
	UserID int64
	Role   user.Role
}

// Anonymous reports whether the session carries no authenticated user.
func (s Session) Anonymous() bool {
	return s.UserID == 0
}

// IsAdmin is the authorization predicate used before privileged mutations.
func (s Session) IsAdmin() bool {
	return s.Role == user.RoleAdmin
}

// Token is a stored session credential. Only the HMAC-SHA256 hash of the
// opaque token value is persisted.
type Token struct {
	TokenHash string
	UserID    int64
	Role      user.Role
	ExpiresAt time.Time
}

// TokenRepository persists issued session tokens.
type TokenRepository interface {
	Insert(ctx context.Context, t *Token) error
	// FindByHash returns the token matching the given hash, ignoring expired
	// rows. Implementations return ErrUnauthenticated when no live token
	// matches.
	FindByHash(ctx context.Context, hash string) (*Token, error)
	DeleteByHash(ctx context.Context, hash string) error
}
