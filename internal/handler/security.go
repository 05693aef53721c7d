package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lilystore/toystore/internal/domain/auth"
	"github.com/lilystore/toystore/internal/domain/user"
)

// sessionKey is the context key under which the resolved session is stored.
type sessionKey struct{}

// SessionFromContext returns the caller's session. The zero Session means
// anonymous.
func SessionFromContext(ctx context.Context) auth.Session {
	if s, ok := ctx.Value(sessionKey{}).(auth.Session); ok {
		return s
	}
	return auth.Session{}
}

// SessionManager issues and resolves opaque bearer tokens. Only the
// HMAC-SHA256 of a token (keyed with a server-side pepper) is stored, so a
// leaked sessions table cannot be replayed.
type SessionManager struct {
	tokens auth.TokenRepository
	pepper []byte
	ttl    time.Duration
}

// NewSessionManager creates a SessionManager over the given token store.
func NewSessionManager(tokens auth.TokenRepository, pepper []byte, ttl time.Duration) *SessionManager {
	return &SessionManager{
		tokens: tokens,
		pepper: pepper,
		ttl:    ttl,
	}
}

// Issue creates a session for an authenticated user and returns the opaque
// token handed to the client.
func (m *SessionManager) Issue(ctx context.Context, u *user.User) (string, error) {
	token := uuid.New().String()
	t := &auth.Token{
		TokenHash: m.hash(token),
		UserID:    u.ID,
		Role:      u.Role,
		ExpiresAt: time.Now().UTC().Add(m.ttl),
	}
	if err := m.tokens.Insert(ctx, t); err != nil {
		return "", err
	}
	return token, nil
}

// Revoke invalidates the given token. Unknown tokens revoke silently.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	return m.tokens.DeleteByHash(ctx, m.hash(token))
}

// Resolve maps a bearer token onto its session.
func (m *SessionManager) Resolve(ctx context.Context, token string) (auth.Session, error) {
	t, err := m.tokens.FindByHash(ctx, m.hash(token))
	if err != nil {
		return auth.Session{}, err
	}
	return auth.Session{UserID: t.UserID, Role: t.Role}, nil
}

// Middleware resolves an Authorization bearer token into the request
// context. Requests without a token proceed anonymously; the domain layer
// decides which calls demand authentication.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := m.Resolve(r.Context(), token)
		if err != nil {
			// An invalid or expired token is an explicit failure, not an
			// anonymous request.
			writeError(w, r, auth.ErrUnauthenticated)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *SessionManager) hash(token string) string {
	mac := hmac.New(sha256.New, m.pepper)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
