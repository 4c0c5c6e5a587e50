package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"lexchat/internal/apperr"
)

const defaultSessionTTL = 7 * 24 * time.Hour

// Options configures token lifetime and the cookie names used by the middleware.
type Options struct {
	TTL            time.Duration
	CookieName     string
	CSRFCookieName string
	CSRFHeaderName string
	SecureCookies  bool
}

// Service issues, validates, and revokes user session tokens.
type Service struct {
	store          SessionStore
	tokenTTL       time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
	secure         bool
	now            func() time.Time
}

// NewService constructs an auth service over store.
func NewService(store SessionStore, opts Options) *Service {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	cookie := opts.CookieName
	if cookie == "" {
		cookie = "session_id"
	}
	csrfCookie := opts.CSRFCookieName
	if csrfCookie == "" {
		csrfCookie = "csrf_token"
	}
	csrfHeader := opts.CSRFHeaderName
	if csrfHeader == "" {
		csrfHeader = "X-CSRF-Token"
	}
	return &Service{
		store:          store,
		tokenTTL:       ttl,
		cookieName:     cookie,
		headerName:     "Authorization",
		csrfCookieName: csrfCookie,
		csrfHeaderName: csrfHeader,
		secure:         opts.SecureCookies,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// IssueToken mints a new random token for the user and persists it.
func (s *Service) IssueToken(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id required", apperr.ErrValidation)
	}
	now := s.now()
	var lastErr error
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", fmt.Errorf("%w: %w", apperr.ErrInternal, err)
		}
		lastErr = s.store.Save(ctx, Session{
			Token:     token,
			UserID:    userID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.tokenTTL),
		})
		if lastErr == nil {
			return token, nil
		}
	}
	return "", fmt.Errorf("%w: could not issue token: %w", apperr.ErrInternal, lastErr)
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// ValidateToken verifies the token exists and has not expired, returning the user id.
func (s *Service) ValidateToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: token required", apperr.ErrUnauthorized)
	}
	session, err := s.store.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return "", fmt.Errorf("%w: invalid or expired token", apperr.ErrUnauthorized)
		}
		return "", fmt.Errorf("%w: %w", apperr.ErrInternal, err)
	}
	if session.Expired(s.now()) {
		_ = s.store.Delete(ctx, token)
		return "", fmt.Errorf("%w: invalid or expired token", apperr.ErrUnauthorized)
	}
	return session.UserID, nil
}

// RevokeToken deletes a single token. Unknown tokens are ignored.
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.Delete(ctx, token); err != nil {
		return fmt.Errorf("%w: revoke token: %w", apperr.ErrInternal, err)
	}
	return nil
}

// RevokeUserTokens removes all tokens belonging to the user.
func (s *Service) RevokeUserTokens(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: revoke user tokens: %w", apperr.ErrInternal, err)
	}
	return nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// AuthCookieName returns the cookie name storing session tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// SecureCookies reports whether cookies should carry the Secure flag.
func (s *Service) SecureCookies() bool {
	return s.secure
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
