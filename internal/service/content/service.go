// Package content persists users, chats, messages, files and AI usage.
package content

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lexchat/internal/apperr"
	"lexchat/internal/storage"
)

const (
	maxNameLength  = 255
	maxTitleLength = 500
	minPasswordLen = 8
)

// Options tunes a Service.
type Options struct {
	Logger *slog.Logger
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Service handles persistence of every user-owned entity.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
	cost   int
}

// NewService builds a content service over db.
func NewService(db *storage.DB, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, logger: logger.With("component", "content"), cost: opts.BcryptCost}
}

// DB exposes the underlying handle for components sharing the schema.
func (s *Service) DB() *storage.DB {
	return s.db
}

// now returns the current time at the precision every supported driver keeps.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func notFound(what string) error {
	return fmt.Errorf("%w: %s", apperr.ErrNotFound, what)
}

func internal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", apperr.ErrInternal, op, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperr.ErrValidation, fmt.Sprintf(format, args...))
}

// expectAffected maps a zero-row update or delete to ErrNotFound.
func expectAffected(res sql.Result, what string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return internal("rows affected", err)
	}
	if affected == 0 {
		return notFound(what)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key")
}

func pageBounds(limit, offset, def int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
