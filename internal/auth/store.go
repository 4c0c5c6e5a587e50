package auth

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned by stores for unknown or expired tokens.
var ErrSessionNotFound = errors.New("session not found")

// Session binds an opaque token to a user until ExpiresAt.
type Session struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at t.
func (s Session) Expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// SessionStore persists sessions. Save fails when the token already exists.
type SessionStore interface {
	Save(ctx context.Context, session Session) error
	Lookup(ctx context.Context, token string) (Session, error)
	Delete(ctx context.Context, token string) error
	DeleteUser(ctx context.Context, userID string) error
}
