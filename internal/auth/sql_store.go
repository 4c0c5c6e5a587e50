package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lexchat/internal/storage"
)

// SQLStore keeps sessions in the user_sessions table.
type SQLStore struct {
	db *storage.DB
}

// NewSQLStore builds a store over a migrated database.
func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Save(ctx context.Context, session Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		session.Token, session.UserID, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Lookup returns the live session for token. Expired rows are removed on sight.
func (s *SQLStore) Lookup(ctx context.Context, token string) (Session, error) {
	session := Session{Token: token}
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, created_at, expires_at FROM user_sessions WHERE token = ?`, token,
	).Scan(&session.UserID, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		if isNoRows(err) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("lookup session: %w", err)
	}
	if session.Expired(time.Now().UTC()) {
		_ = s.Delete(ctx, token)
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (s *SQLStore) Delete(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

// PurgeExpired deletes every expired session and reports how many were removed.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StartSweeper purges expired sessions every interval until ctx is done.
func (s *SQLStore) StartSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	go s.sweepLoop(ctx, interval, logger)
}

func (s *SQLStore) sweepLoop(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purge expired sessions", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged expired sessions", "count", n)
			}
		}
	}
}
