package content

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"lexchat/internal/apperr"
	"lexchat/internal/models"
)

const userColumns = `id, name, email, password_hash, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", invalid("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("invalid email address")
	}
	return email, nil
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", invalid("name must be at most %d characters", maxNameLength)
	}
	return name, nil
}

// RegisterUser creates an active user with a bcrypt password hash.
func (s *Service) RegisterUser(ctx context.Context, name, email, password string) (*models.User, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	email, err = normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(password) < minPasswordLen {
		return nil, invalid("password must be at least %d characters", minPasswordLen)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, email).Scan(&exists); err != nil {
		return nil, internal("check email", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: email already registered", apperr.ErrConflict)
	}

	cost := s.cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		// bcrypt rejects passwords over 72 bytes
		return nil, invalid("password: %v", err)
	}

	ts := now()
	user := &models.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     true,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.IsActive, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: email already registered", apperr.ErrConflict)
		}
		return nil, internal("create user", err)
	}
	return user, nil
}

// Authenticate validates credentials and returns the active user.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	badCredentials := fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, badCredentials
	}
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, badCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, badCredentials
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: account is disabled", apperr.ErrUnauthorized)
	}
	return user, nil
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("user")
		}
		return nil, internal("get user", err)
	}
	return user, nil
}

// GetUserByEmail loads a user by normalized email.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("user")
		}
		return nil, internal("get user by email", err)
	}
	return user, nil
}

// UpdateUserName renames a user.
func (s *Service) UpdateUserName(ctx context.Context, id, name string) (*models.User, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET name = ?, updated_at = ? WHERE id = ?`, name, now(), id)
	if err != nil {
		return nil, internal("update user", err)
	}
	if err := expectAffected(res, "user"); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// SetUserActive enables or disables a user. Disabled users cannot authenticate.
func (s *Service) SetUserActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`, active, now(), id)
	if err != nil {
		return internal("set user active", err)
	}
	return expectAffected(res, "user")
}

// DeleteUser removes a user. Chats, messages, files and sessions cascade.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return internal("delete user", err)
	}
	return expectAffected(res, "user")
}
